package main

import (
	"bytes"
	"strings"
	"testing"
	"time"
)

func TestDisplayLabel(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"running_preprocess", "Running Preprocess"},
		{"running_gpu", "Running GPU"},
		{"gpu", "GPU"},
		{"timed_out", "Timed Out"},
		{"cost_optimized", "Cost Optimized"},
		{"", "-"},
		{"  ", "-"},
	}
	for _, tc := range cases {
		if got := displayLabel(tc.in); got != tc.want {
			t.Fatalf("displayLabel(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestColorizeStatus(t *testing.T) {
	if got := colorizeStatus("succeeded", false); got != "Succeeded" {
		t.Fatalf("plain status = %q", got)
	}
	got := colorizeStatus("failed", true)
	if !strings.Contains(got, "Failed") || !strings.HasPrefix(got, ansiRed) {
		t.Fatalf("colorized status = %q", got)
	}
	// Non-terminal statuses are never colored.
	if got := colorizeStatus("running_gpu", true); got != "Running GPU" {
		t.Fatalf("running status = %q", got)
	}
}

func TestFormatTime(t *testing.T) {
	if got := formatTime(nil); got != "-" {
		t.Fatalf("formatTime(nil) = %q", got)
	}
	zero := time.Time{}
	if got := formatTime(&zero); got != "-" {
		t.Fatalf("formatTime(zero) = %q", got)
	}
	at := time.Date(2026, 3, 14, 9, 30, 0, 0, time.UTC)
	if got := formatTime(&at); got == "-" {
		t.Fatalf("formatTime = %q", got)
	}
}

func TestShouldColorizeNonFile(t *testing.T) {
	if shouldColorize(&bytes.Buffer{}) {
		t.Fatal("buffer writer reported as terminal")
	}
}

func TestRenderTable(t *testing.T) {
	out := renderTable(
		[]string{"Execution", "Status"},
		[][]string{
			{"exec-1", "Succeeded"},
			{"exec-2"},
		},
		[]columnAlignment{alignLeft, alignLeft},
	)
	if !strings.Contains(out, "exec-1") || !strings.Contains(out, "Succeeded") {
		t.Fatalf("table missing cells:\n%s", out)
	}
	if !strings.Contains(out, "exec-2") {
		t.Fatalf("short row dropped:\n%s", out)
	}
	if renderTable(nil, nil, nil) != "" {
		t.Fatal("empty table should render to empty string")
	}
}
