package sizecache

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"courier/internal/logging"
)

// Entry is the cached view of one watched file.
type Entry struct {
	Path      string    `json:"path"`
	Size      int64     `json:"size"`
	ModTime   time.Time `json:"mod_time"`
	Digest    string    `json:"digest,omitempty"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Matches reports whether the entry still describes a file with the given
// size and modification time.
func (e Entry) Matches(size int64, modTime time.Time) bool {
	return e.Size == size && e.ModTime.Equal(modTime)
}

// Cache provides thread-safe access to the size cache.
type Cache struct {
	path    string
	logger  *slog.Logger
	mu      sync.RWMutex
	entries map[string]Entry // keyed by absolute path
	dirty   bool
}

// NewCache creates a cache backed by path. An empty path yields a disabled
// cache where every operation is a no-op. The file is created lazily.
func NewCache(path string, logger *slog.Logger) *Cache {
	if logger == nil {
		logger = logging.NewNop()
	}
	logger = logging.NewComponentLogger(logger, "sizecache")

	c := &Cache{
		path:    path,
		logger:  logger,
		entries: make(map[string]Entry),
	}
	if path == "" {
		return c
	}

	if err := c.load(); err != nil {
		logger.Warn("failed to load size cache",
			logging.String(logging.FieldEventType, "sizecache_load_failed"),
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "delete the cache file if it is corrupt"),
			logging.String(logging.FieldImpact, "sizes and digests will be recomputed from disk"))
	}
	return c
}

// Enabled reports whether the cache is backed by a file.
func (c *Cache) Enabled() bool {
	return c != nil && c.path != ""
}

// Lookup returns the entry for path if present.
func (c *Cache) Lookup(path string) (Entry, bool) {
	path = strings.TrimSpace(path)
	if path == "" || !c.Enabled() {
		return Entry{}, false
	}

	c.mu.RLock()
	defer c.mu.RUnlock()

	entry, found := c.entries[path]
	return entry, found
}

// SizeOf returns the cached size of path.
func (c *Cache) SizeOf(path string) (int64, bool) {
	entry, ok := c.Lookup(path)
	if !ok {
		return 0, false
	}
	return entry.Size, true
}

// Store adds or replaces an entry and persists the cache.
func (c *Cache) Store(entry Entry) error {
	if err := c.Put(entry); err != nil {
		return err
	}
	return c.Flush()
}

// Put updates an entry in memory only. A later Flush persists it. A digest
// recorded for the same size and modification time is preserved when entry
// carries none.
func (c *Cache) Put(entry Entry) error {
	entry.Path = strings.TrimSpace(entry.Path)
	if entry.Path == "" {
		return errors.New("path cannot be empty")
	}
	if !c.Enabled() {
		return nil
	}
	if entry.UpdatedAt.IsZero() {
		entry.UpdatedAt = time.Now().UTC()
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if prev, ok := c.entries[entry.Path]; ok {
		if entry.Digest == "" && prev.Matches(entry.Size, entry.ModTime) {
			entry.Digest = prev.Digest
		}
		if prev == entry {
			return nil
		}
	}
	c.entries[entry.Path] = entry
	c.dirty = true
	return nil
}

// Remove deletes the entry for path and persists the change.
func (c *Cache) Remove(path string) error {
	path = strings.TrimSpace(path)
	if path == "" {
		return errors.New("path cannot be empty")
	}
	if !c.Enabled() {
		return nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.entries[path]; !exists {
		return fmt.Errorf("path %q not found in cache", path)
	}
	delete(c.entries, path)
	if err := c.save(); err != nil {
		return fmt.Errorf("persist cache: %w", err)
	}
	c.logger.Debug("removed path from size cache", logging.String(logging.FieldPath, path))
	return nil
}

// Prune drops every entry for which keep returns false and reports how many
// were removed. Changes are held until Flush.
func (c *Cache) Prune(keep func(Entry) bool) int {
	if !c.Enabled() || keep == nil {
		return 0
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	removed := 0
	for path, entry := range c.entries {
		if !keep(entry) {
			delete(c.entries, path)
			removed++
		}
	}
	if removed > 0 {
		c.dirty = true
	}
	return removed
}

// List returns all entries sorted by size ascending, then path.
func (c *Cache) List() []Entry {
	if !c.Enabled() {
		return nil
	}

	c.mu.RLock()
	defer c.mu.RUnlock()

	return c.sortedLocked()
}

// Clear removes all entries and persists the empty cache.
func (c *Cache) Clear() error {
	if !c.Enabled() {
		return nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.entries = make(map[string]Entry)
	if err := c.save(); err != nil {
		return fmt.Errorf("persist cache: %w", err)
	}
	c.logger.Debug("cleared size cache")
	return nil
}

// Count returns the number of entries.
func (c *Cache) Count() int {
	if !c.Enabled() {
		return 0
	}

	c.mu.RLock()
	defer c.mu.RUnlock()

	return len(c.entries)
}

// Flush persists pending changes made with Put or Prune.
func (c *Cache) Flush() error {
	if !c.Enabled() {
		return nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.dirty {
		return nil
	}
	if err := c.save(); err != nil {
		return fmt.Errorf("persist cache: %w", err)
	}
	return nil
}

func (c *Cache) sortedLocked() []Entry {
	entries := make([]Entry, 0, len(c.entries))
	for _, entry := range c.entries {
		entries = append(entries, entry)
	}
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].Size != entries[j].Size {
			return entries[i].Size < entries[j].Size
		}
		return entries[i].Path < entries[j].Path
	})
	return entries
}

// load reads the cache from disk into memory.
func (c *Cache) load() error {
	data, err := os.ReadFile(c.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("read cache file: %w", err)
	}
	if len(data) == 0 {
		return nil
	}

	var entries []Entry
	if err := json.Unmarshal(data, &entries); err != nil {
		return fmt.Errorf("parse cache file: %w", err)
	}

	c.entries = make(map[string]Entry, len(entries))
	for _, entry := range entries {
		if strings.TrimSpace(entry.Path) != "" {
			c.entries[entry.Path] = entry
		}
	}

	c.logger.Debug("loaded size cache",
		logging.Int("entry_count", len(c.entries)),
		logging.String(logging.FieldPath, c.path))
	return nil
}

// save writes the cache to disk atomically. Callers hold c.mu.
func (c *Cache) save() error {
	data, err := json.MarshalIndent(c.sortedLocked(), "", "  ")
	if err != nil {
		return fmt.Errorf("marshal cache: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(c.path), 0o755); err != nil {
		return fmt.Errorf("create cache directory: %w", err)
	}

	tmpPath := c.path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0o644); err != nil {
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := os.Rename(tmpPath, c.path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("rename temp file: %w", err)
	}
	c.dirty = false
	return nil
}
