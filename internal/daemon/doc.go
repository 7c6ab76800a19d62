// Package daemon coordinates the long-running courier process.
//
// It wires the store, the workflow manager, the folder scanner and the HTTP
// API into a single lifecycle with flock-based locking to prevent multiple
// instances. The API serves status, record listing, lookup by file-id with
// part details, retry of failed records, Prometheus metrics and a health
// probe. Routes under /api require the bearer token when paths.api_token is
// set.
//
// Keep orchestration logic here: pipeline stages live in their own packages
// while the daemon focuses on startup, shutdown, and high level coordination.
package daemon
