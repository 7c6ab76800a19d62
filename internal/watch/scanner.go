// Package watch scans the configured folders for files to relay.
package watch

import (
	"context"
	"errors"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"courier/internal/config"
	"courier/internal/logging"
	"courier/internal/sizecache"
	"courier/internal/store"
)

// Candidate is a file offered to the pipeline.
type Candidate struct {
	RecordID int64
	Path     string
	Size     int64
	ModTime  time.Time
	Status   store.Status
}

// Sink accepts candidates. Offer reports whether the candidate was queued;
// a sink may refuse records it already holds.
type Sink interface {
	Offer(ctx context.Context, candidate Candidate) bool
}

// RecordStore registers discovered files.
type RecordStore interface {
	Discover(ctx context.Context, path string, size int64, modTime time.Time) (*store.FileRecord, bool, error)
}

// Result summarizes one scan.
type Result struct {
	Seen     int
	Offered  int
	Filtered int
	Errors   int
	Pruned   int
}

// Scanner walks the watch folders on an interval.
type Scanner struct {
	folders  []string
	interval time.Duration
	exclude  []string
	allow    func(string) bool
	store    RecordStore
	cache    *sizecache.Cache
	sink     Sink
	logger   *slog.Logger
}

// New builds a Scanner from cfg. cache may be disabled but not nil.
func New(cfg *config.Config, st RecordStore, cache *sizecache.Cache, sink Sink, logger *slog.Logger) *Scanner {
	if logger == nil {
		logger = logging.NewNop()
	}
	if cache == nil {
		cache = sizecache.NewCache("", logger)
	}
	return &Scanner{
		folders:  append([]string(nil), cfg.Watch.Folders...),
		interval: cfg.ScanInterval(),
		exclude:  []string{cfg.Paths.WorkDir, cfg.Paths.DataDir, cfg.Paths.LogDir},
		allow:    cfg.AllowsExtension,
		store:    st,
		cache:    cache,
		sink:     sink,
		logger:   logging.NewComponentLogger(logger, "scanner"),
	}
}

// Run scans immediately and then every interval until ctx is done.
func (s *Scanner) Run(ctx context.Context) error {
	interval := s.interval
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		if _, err := s.Scan(ctx); err != nil && ctx.Err() == nil {
			s.logger.Warn("scan failed",
				logging.Error(err),
				logging.String(logging.FieldEventType, "scan_failed"),
				logging.String(logging.FieldImpact, "new files are picked up on the next scan"),
			)
		}
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

// Scan walks every folder once.
func (s *Scanner) Scan(ctx context.Context) (Result, error) {
	var res Result
	seen := make(map[string]struct{})
	for _, folder := range s.folders {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		if err := s.scanFolder(ctx, folder, seen, &res); err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return res, err
			}
			res.Errors++
			s.logger.Warn("watch folder unreadable",
				logging.String(logging.FieldPath, folder),
				logging.Error(err),
				logging.String(logging.FieldEventType, "watch_folder_unreadable"),
			)
		}
	}

	res.Pruned = s.cache.Prune(func(e sizecache.Entry) bool {
		_, ok := seen[e.Path]
		return ok
	})
	if err := s.cache.Flush(); err != nil {
		s.logger.Warn("size cache flush failed", logging.Error(err))
	}

	s.logger.Debug("scan complete",
		logging.Int("seen", res.Seen),
		logging.Int("offered", res.Offered),
		logging.Int("filtered", res.Filtered),
		logging.Int("errors", res.Errors),
	)
	return res, nil
}

func (s *Scanner) scanFolder(ctx context.Context, folder string, seen map[string]struct{}, res *Result) error {
	return filepath.WalkDir(folder, func(path string, d fs.DirEntry, walkErr error) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		if walkErr != nil {
			if path == folder {
				return walkErr
			}
			res.Errors++
			s.logger.Debug("skipping unreadable entry", logging.String(logging.FieldPath, path), logging.Error(walkErr))
			if d != nil && d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if d.IsDir() {
			if path != folder && s.excluded(path) {
				return filepath.SkipDir
			}
			return nil
		}
		if !d.Type().IsRegular() {
			return nil
		}
		if !s.allow(path) {
			res.Filtered++
			return nil
		}
		info, err := d.Info()
		if err != nil {
			// Removed between listing and stat.
			res.Errors++
			return nil
		}
		res.Seen++
		seen[path] = struct{}{}
		if s.consider(ctx, path, info) {
			res.Offered++
		}
		return nil
	})
}

func (s *Scanner) consider(ctx context.Context, path string, info os.FileInfo) bool {
	modTime := info.ModTime().UTC()
	if err := s.cache.Put(sizecache.Entry{Path: path, Size: info.Size(), ModTime: modTime}); err != nil {
		s.logger.Debug("size cache update failed", logging.String(logging.FieldPath, path), logging.Error(err))
	}

	rec, changed, err := s.store.Discover(ctx, path, info.Size(), modTime)
	if err != nil {
		s.logger.Warn("record discovery failed",
			logging.String(logging.FieldPath, path),
			logging.Error(err),
			logging.String(logging.FieldEventType, "discover_failed"),
		)
		return false
	}
	if changed && rec.Status == store.StatusPending {
		s.logger.Debug("file changed", logging.String(logging.FieldPath, path), logging.Bytes("size", info.Size()))
	}
	switch rec.Status {
	case store.StatusPending, store.StatusFailed:
	default:
		return false
	}
	return s.sink.Offer(ctx, Candidate{
		RecordID: rec.ID,
		Path:     path,
		Size:     info.Size(),
		ModTime:  modTime,
		Status:   rec.Status,
	})
}

func (s *Scanner) excluded(dir string) bool {
	for _, ex := range s.exclude {
		if ex == "" {
			continue
		}
		if dir == ex || strings.HasPrefix(dir, ex+string(filepath.Separator)) {
			return true
		}
	}
	return false
}
