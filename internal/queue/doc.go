// Package queue provides the in-memory priority queues that feed the
// workflow lanes.
//
// Items are ordered smallest first by a size key, with insertion order
// breaking ties, so small files and small parts are never stuck behind large
// ones. Push never blocks. Pop blocks until an item arrives, the queue is
// closed, or the caller's context ends.
package queue
