package config

import (
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/pelletier/go-toml/v2"
)

//go:embed sample_config.toml
var sampleConfig string

// Paths contains directory and bind address configuration.
type Paths struct {
	VolumeRoot string `toml:"volume_root"`
	LogDir     string `toml:"log_dir"`
	DataDir    string `toml:"data_dir"`
	APIBind    string `toml:"api_bind"`
	APIToken   string `toml:"api_token"`
}

// Stage describes one pipeline stage: the worker command, its resource
// class and requirements, and its retry/timeout bounds.
type Stage struct {
	Command               string `toml:"command"`
	Class                 string `toml:"class"`
	CPUUnits              int    `toml:"cpu_units"`
	MemoryMiB             int    `toml:"memory_mib"`
	MaxAttempts           int    `toml:"max_attempts"`
	AttemptTimeoutSeconds int    `toml:"attempt_timeout_seconds"`
	Priority              int    `toml:"priority"`
}

// Pipeline groups the three stage specs in execution order.
type Pipeline struct {
	Preprocess  Stage `toml:"preprocess"`
	GPU         Stage `toml:"gpu"`
	Postprocess Stage `toml:"postprocess"`
}

// Pool bounds one resource class. AllocationStrategy and PricingClass are
// declarative attributes surfaced in status output; the in-process pool has
// no spot market to consult.
type Pool struct {
	CapacityUnits      int    `toml:"capacity_units"`
	AllocationStrategy string `toml:"allocation_strategy"`
	PricingClass       string `toml:"pricing_class"`
}

// Pools holds the independent capacity bounds per resource class.
type Pools struct {
	Light       Pool `toml:"light"`
	Accelerated Pool `toml:"accelerated"`
}

// Backoff configures the retry delay policy.
type Backoff struct {
	BaseSeconds int     `toml:"base_seconds"`
	Rate        float64 `toml:"rate"`
}

// Workflow contains execution-level settings.
type Workflow struct {
	ExecutionTimeoutHours int `toml:"execution_timeout_hours"`
}

// Logging controls log verbosity and output format.
type Logging struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
}

// Config is the root configuration document.
type Config struct {
	Paths    Paths    `toml:"paths"`
	Pipeline Pipeline `toml:"pipeline"`
	Pools    Pools    `toml:"pools"`
	Backoff  Backoff  `toml:"backoff"`
	Workflow Workflow `toml:"workflow"`
	Logging  Logging  `toml:"logging"`
}

// DefaultConfigPath returns the expected config file location.
func DefaultConfigPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolve home directory: %w", err)
	}
	return filepath.Join(home, ".config", "conveyor", "config.toml"), nil
}

// Load reads configuration from path (or the default location when path is
// empty), applies defaults and normalization, and reports whether a config
// file was actually found.
func Load(path string) (*Config, string, bool, error) {
	resolved := strings.TrimSpace(path)
	if resolved == "" {
		defaultPath, err := DefaultConfigPath()
		if err != nil {
			return nil, "", false, err
		}
		resolved = defaultPath
	} else {
		expanded, err := ExpandPath(resolved)
		if err != nil {
			return nil, "", false, err
		}
		resolved = expanded
	}

	cfg := Default()
	found := true
	data, err := os.ReadFile(resolved)
	switch {
	case err == nil:
		if err := toml.Unmarshal(data, &cfg); err != nil {
			return nil, resolved, true, fmt.Errorf("parse config %s: %w", resolved, err)
		}
	case errors.Is(err, fs.ErrNotExist):
		found = false
	default:
		return nil, resolved, false, fmt.Errorf("read config %s: %w", resolved, err)
	}

	if err := cfg.normalize(); err != nil {
		return nil, resolved, found, err
	}
	return &cfg, resolved, found, nil
}

// EnsureDirectories creates the directories the daemon needs at runtime.
func (c *Config) EnsureDirectories() error {
	for _, dir := range []string{c.Paths.VolumeRoot, c.Paths.LogDir, c.Paths.DataDir} {
		if strings.TrimSpace(dir) == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory %s: %w", dir, err)
		}
	}
	return nil
}

// StageFor returns the stage spec for a role name (preprocess|gpu|postprocess).
func (c *Config) StageFor(role string) (Stage, bool) {
	switch role {
	case "preprocess":
		return c.Pipeline.Preprocess, true
	case "gpu":
		return c.Pipeline.GPU, true
	case "postprocess":
		return c.Pipeline.Postprocess, true
	default:
		return Stage{}, false
	}
}

// WriteSample writes the embedded sample configuration to path, refusing to
// overwrite an existing file.
func WriteSample(path string) error {
	expanded, err := ExpandPath(path)
	if err != nil {
		return err
	}
	if _, err := os.Stat(expanded); err == nil {
		return fmt.Errorf("config file already exists at %s", expanded)
	} else if !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("stat %s: %w", expanded, err)
	}
	if err := os.MkdirAll(filepath.Dir(expanded), 0o755); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}
	if err := os.WriteFile(expanded, []byte(sampleConfig), 0o644); err != nil {
		return fmt.Errorf("write sample config: %w", err)
	}
	return nil
}

// ExpandPath resolves a leading tilde against the user's home directory and
// cleans the result.
func ExpandPath(path string) (string, error) {
	trimmed := strings.TrimSpace(path)
	if trimmed == "" {
		return "", nil
	}
	if trimmed == "~" || strings.HasPrefix(trimmed, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		if trimmed == "~" {
			return home, nil
		}
		return filepath.Join(home, trimmed[2:]), nil
	}
	return filepath.Clean(trimmed), nil
}
