package main

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/mattn/go-isatty"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

var titleCaser = cases.Title(language.English)

// displayLabel turns snake_case identifiers from the API into human labels,
// e.g. "running_preprocess" becomes "Running Preprocess".
func displayLabel(value string) string {
	value = strings.TrimSpace(value)
	if value == "" {
		return "-"
	}
	label := titleCaser.String(strings.ReplaceAll(value, "_", " "))
	return strings.ReplaceAll(label, "Gpu", "GPU")
}

func formatTime(t *time.Time) string {
	if t == nil || t.IsZero() {
		return "-"
	}
	return t.Local().Format("2006-01-02 15:04:05")
}

func shouldColorize(writer io.Writer) bool {
	file, ok := writer.(*os.File)
	if !ok {
		return false
	}
	fd := file.Fd()
	return isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
}

const (
	ansiReset  = "\x1b[0m"
	ansiRed    = "\x1b[31m"
	ansiGreen  = "\x1b[32m"
	ansiYellow = "\x1b[33m"
)

// colorizeStatus wraps terminal statuses in ANSI color when writing to a TTY.
func colorizeStatus(status string, colorize bool) string {
	label := displayLabel(status)
	if !colorize {
		return label
	}
	switch status {
	case "succeeded":
		return ansiGreen + label + ansiReset
	case "failed":
		return ansiRed + label + ansiReset
	case "timed_out":
		return ansiYellow + label + ansiReset
	default:
		return label
	}
}
