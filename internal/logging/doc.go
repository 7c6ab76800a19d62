// Package logging assembles structured slog loggers and formatting helpers used
// across courier.
//
// It owns the console and JSON handlers, centralizes level and output
// plumbing, and exposes context-aware helpers so pipeline code can tag log
// lines with record IDs, stages, and correlation IDs. The daemon logger fans
// out to the console and a JSON log file. A no-op logger is provided for tests
// and wiring code that cannot fail.
package logging
