// Package main hosts the courier CLI entrypoint and command graph.
//
// The Cobra-based command tree runs the daemon in the foreground, inspects
// file records and uploads, re-arms failed files, manages the dedup index,
// fetches sent files back from the stream and scaffolds configuration.
// Record queries go through the daemon HTTP API when it answers and fall back
// to the SQLite store otherwise, so the CLI stays useful while the daemon is
// down.
//
// Keep this package lean: add new functionality by extending the internal
// packages first, then surface it through dedicated commands or flags here.
package main
