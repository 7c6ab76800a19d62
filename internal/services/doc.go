// Package services defines shared utilities consumed by the pipeline stages
// and external integrations.
//
// Key responsibilities:
//   - Context helpers that stamp record IDs, stage names, and correlation
//     identifiers for logging and tracing.
//   - Structured error markers plus the Wrap helper that translate failures
//     into consistent record statuses (failed vs blocked).
//   - Retry-after hints that transports attach to transient errors.
//
// Transport and forward clients live in subpackages (natsbus, s3) so the
// pipeline core only depends on the interfaces it declares.
package services
