// Package workflow moves discovered files through the upload pipeline.
//
// The Manager runs two independent lanes. The process lane pops the smallest
// pending candidate and, for that one record, hashes it, consults the dedup
// index under the digest lock, allocates a file-id, builds the archive,
// splits it and records the planned parts. The resulting transport units go
// onto the dispatch queue, where the dispatch lane sends them smallest first
// under the dispatcher's shared rate limit.
//
// A file is finalized when its last unit completes: on success its digest is
// recorded and its archive removed; on failure the record is marked failed
// (or blocked, for configuration problems) and the scanner offers it again
// later. Units of a file whose earlier part failed are not sent; each is
// reported as aborted instead. The digest lock taken in the process lane is
// held until finalization so identical files discovered together are sent
// once.
//
// Stop cancels both lanes, waits for in-flight sends, and rolls unfinished
// files back to pending so the next run picks them up again.
package workflow
