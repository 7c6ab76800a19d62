// Package api defines wire-format types and converters for the HTTP API and
// the CLI. It translates store and workflow models into transport-friendly
// DTOs so consumers never couple to internal types.
//
// # Key Types
//
// FileRecord: a discovered file with its pipeline status and outcome.
//
// Upload: one send of a file, with its parts, the reassembly hint and
// optional presigned object links.
//
// WorkflowStatus: lane depths, record counts, component health and the last
// file handled.
//
// DaemonStatus: aggregated runtime information served by GET /api/status.
//
// # Services
//
// FileService wraps a Store and an optional Presigner and returns DTOs. The
// daemon serves it over HTTP; the CLI uses it directly when the daemon is not
// running.
//
// Client calls the daemon's HTTP API with an optional bearer token.
//
// # Design Notes
//
// DTOs use camelCase JSON tags. Statuses are lowercase strings. Timestamps
// use RFC3339 with milliseconds, durations are milliseconds and rates are
// bytes per second.
package api
