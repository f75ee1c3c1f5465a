// Package logging wraps log/slog with the construction, attribute, and
// context helpers used across conveyor. All components log through a
// *slog.Logger built here so that field names stay consistent and tests can
// substitute a no-op logger.
package logging
