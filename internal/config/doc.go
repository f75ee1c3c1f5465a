// Package config loads, normalizes, and validates conveyor's TOML
// configuration: storage paths, pipeline stage specs, compute pool bounds,
// backoff policy, and daemon settings.
package config
