// Package preflight verifies the daemon's runtime requirements before work
// is accepted: volume and data directory access, and the availability of
// the configured stage commands.
package preflight

import (
	"fmt"
	"os"
	"os/exec"
	"strings"

	"golang.org/x/sys/unix"

	"conveyor/internal/config"
)

// Result captures one check's outcome.
type Result struct {
	Name   string
	Passed bool
	Detail string
}

// CheckDirectoryAccess verifies that the directory exists and is
// readable/writable.
func CheckDirectoryAccess(name, path string) Result {
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Result{Name: name, Detail: fmt.Sprintf("%s (error: does not exist)", path)}
		}
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: stat: %v)", path, err)}
	}
	if !info.IsDir() {
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: is not a directory)", path)}
	}
	if err := unix.Access(path, unix.R_OK|unix.W_OK|unix.X_OK); err != nil {
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: insufficient permissions: %v)", path, err)}
	}
	return Result{Name: name, Passed: true, Detail: fmt.Sprintf("%s (read/write ok)", path)}
}

// CheckStageCommand verifies the worker executable resolves on PATH or as an
// absolute path. The command splits on whitespace like the runner does; only
// the first field is the executable.
func CheckStageCommand(role, command string) Result {
	name := fmt.Sprintf("stage %s", role)
	fields := strings.Fields(command)
	if len(fields) == 0 {
		return Result{Name: name, Detail: "command not configured"}
	}
	resolved, err := exec.LookPath(fields[0])
	if err != nil {
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: %v)", fields[0], err)}
	}
	return Result{Name: name, Passed: true, Detail: resolved}
}

// Run evaluates every check for the given config.
func Run(cfg *config.Config) []Result {
	results := []Result{
		CheckDirectoryAccess("volume root", cfg.Paths.VolumeRoot),
		CheckDirectoryAccess("data directory", cfg.Paths.DataDir),
	}
	for _, entry := range []struct {
		role    string
		command string
	}{
		{"preprocess", cfg.Pipeline.Preprocess.Command},
		{"gpu", cfg.Pipeline.GPU.Command},
		{"postprocess", cfg.Pipeline.Postprocess.Command},
	} {
		results = append(results, CheckStageCommand(entry.role, entry.command))
	}
	return results
}

// AllPassed reports whether every result passed.
func AllPassed(results []Result) bool {
	for _, result := range results {
		if !result.Passed {
			return false
		}
	}
	return true
}
