// Package main hosts the conveyor CLI entrypoint and command graph.
//
// The Cobra-based command tree translates terminal invocations into HTTP
// calls against the daemon's API: triggering pipeline executions, listing
// and inspecting execution history, checking daemon status, and scaffolding
// configuration. It centralizes configuration resolution and API address
// discovery so subcommands can focus on user experience instead of wiring.
//
// Keep this package lean: add new functionality by extending the internal
// packages first, then surface it through dedicated commands or flags here.
package main
