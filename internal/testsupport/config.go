// Package testsupport provides builders shared by conveyor's tests: temp-dir
// configs, store openers, and a scripted stage runner.
package testsupport

import (
	"path/filepath"
	"testing"

	"conveyor/internal/config"
)

// ConfigOption allows callers to customize the generated test configuration.
type ConfigOption func(*config.Config)

// NewConfig produces a config seeded with unique temp directories per test.
// Retries are kept at the default three attempts but with zero-cost timeouts
// left alone; tests that care override via options.
func NewConfig(t testing.TB, opts ...ConfigOption) *config.Config {
	t.Helper()

	base := t.TempDir()
	cfg := config.Default()
	cfg.Paths.VolumeRoot = filepath.Join(base, "volume")
	cfg.Paths.LogDir = filepath.Join(base, "logs")
	cfg.Paths.DataDir = filepath.Join(base, "data")
	cfg.Paths.APIBind = "127.0.0.1:0"
	cfg.Pipeline.Preprocess.Command = "conveyor-test-preprocess"
	cfg.Pipeline.GPU.Command = "conveyor-test-gpu"
	cfg.Pipeline.Postprocess.Command = "conveyor-test-postprocess"

	for _, opt := range opts {
		opt(&cfg)
	}
	return &cfg
}

// WithMaxAttempts sets the retry bound on every stage.
func WithMaxAttempts(attempts int) ConfigOption {
	return func(cfg *config.Config) {
		cfg.Pipeline.Preprocess.MaxAttempts = attempts
		cfg.Pipeline.GPU.MaxAttempts = attempts
		cfg.Pipeline.Postprocess.MaxAttempts = attempts
	}
}

// WithExecutionTimeoutHours overrides the execution-level deadline.
func WithExecutionTimeoutHours(hours int) ConfigOption {
	return func(cfg *config.Config) {
		cfg.Workflow.ExecutionTimeoutHours = hours
	}
}

// WithCapacity overrides the pool capacity bounds.
func WithCapacity(light, accelerated int) ConfigOption {
	return func(cfg *config.Config) {
		cfg.Pools.Light.CapacityUnits = light
		cfg.Pools.Accelerated.CapacityUnits = accelerated
	}
}
