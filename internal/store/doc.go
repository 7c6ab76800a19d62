// Package store persists courier state in SQLite.
//
// Four tables back the pipeline: file_records (one row per watched path and
// its lifecycle status), uploads (one row per dispatch, whose id is the
// public file-id), upload_parts (per transport unit outcome) and
// dedup_entries (digests already delivered). Schema changes are goose
// migrations embedded from the migrations package.
//
// Writes retry on SQLITE_BUSY with a short exponential backoff so concurrent
// pipeline workers and CLI commands can share the database.
package store
