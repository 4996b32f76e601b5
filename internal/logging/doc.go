// Package logging assembles structured slog loggers and formatting helpers used
// across the nutrilog daemon and CLI.
//
// It owns the console/JSON handlers, centralizes level and output plumbing,
// and exposes context-aware helpers so scheduler and executor code can tag log
// lines with job IDs, attempt numbers, and correlation IDs. The package also
// provides a no-op logger for tests and wiring code that cannot fail.
package logging
