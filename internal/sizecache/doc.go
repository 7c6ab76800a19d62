// Package sizecache keeps a JSON file of watched paths with their last seen
// size, modification time and digest.
//
// The cache answers two questions without touching the source file: how big a
// candidate is (for smallest-first ordering) and whether its digest is still
// valid (same size and modification time). It is disabled unless
// processing.cache_enabled is set; a Cache with an empty path is a no-op.
//
// # Storage
//
// Entries are written as an indented JSON array sorted by size ascending, via
// a temp file and rename, at processing.size_cache_path (default
// ~/.cache/courier/size_cache.json).
package sizecache
