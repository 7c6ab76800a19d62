// Package staging maintains the work directory holding archives in flight.
//
// Each archive lives in its own directory under paths.work_dir. A directory
// left behind by a crashed run is removed once it is older than
// workflow.stale_work_hours.
package staging

import (
	"context"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"courier/internal/logging"
)

// CleanStaleResult contains the outcome of a stale directory cleanup operation.
type CleanStaleResult struct {
	Removed []string
	Errors  []CleanupError
}

// CleanupError pairs a directory path with its cleanup error.
type CleanupError struct {
	Path  string
	Error error
}

// CleanStale removes work directories older than maxAge. Directories named in
// keep are never removed.
func CleanStale(ctx context.Context, workDir string, maxAge time.Duration, keep map[string]struct{}, logger *slog.Logger) CleanStaleResult {
	result := CleanStaleResult{}

	workDir = strings.TrimSpace(workDir)
	if workDir == "" {
		return result
	}

	entries, err := os.ReadDir(workDir)
	if err != nil {
		if !os.IsNotExist(err) {
			result.Errors = append(result.Errors, CleanupError{Path: workDir, Error: err})
		}
		return result
	}

	cutoff := time.Now().Add(-maxAge)

	for _, entry := range entries {
		if err := ctx.Err(); err != nil {
			return result
		}
		if !entry.IsDir() {
			continue
		}
		if _, ok := keep[entry.Name()]; ok {
			continue
		}

		dirPath := filepath.Join(workDir, entry.Name())
		info, err := entry.Info()
		if err != nil {
			result.Errors = append(result.Errors, CleanupError{Path: dirPath, Error: err})
			continue
		}

		if info.ModTime().Before(cutoff) {
			if err := os.RemoveAll(dirPath); err != nil {
				result.Errors = append(result.Errors, CleanupError{Path: dirPath, Error: err})
				if logger != nil {
					logger.Warn("failed to remove stale work directory",
						logging.String(logging.FieldPath, dirPath),
						logging.Error(err),
						logging.String(logging.FieldEventType, "work_cleanup_failed"),
						logging.String(logging.FieldErrorHint, "check paths.work_dir permissions"),
						logging.String(logging.FieldImpact, "disk space not reclaimed"),
					)
				}
			} else {
				result.Removed = append(result.Removed, dirPath)
				if logger != nil {
					logger.Info("removed stale work directory",
						logging.String(logging.FieldPath, dirPath),
						logging.Duration("age", time.Since(info.ModTime())),
						logging.String(logging.FieldEventType, "work_cleanup"),
					)
				}
			}
		}
	}

	return result
}

// ListDirectories returns the archive directories under workDir with their
// total size.
func ListDirectories(workDir string) ([]DirInfo, error) {
	workDir = strings.TrimSpace(workDir)
	if workDir == "" {
		return nil, nil
	}

	entries, err := os.ReadDir(workDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	var dirs []DirInfo
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		dirPath := filepath.Join(workDir, entry.Name())
		size, _ := dirSize(dirPath)

		dirs = append(dirs, DirInfo{
			Name:    entry.Name(),
			Path:    dirPath,
			ModTime: info.ModTime(),
			Size:    size,
		})
	}

	return dirs, nil
}

// DirInfo describes one archive directory.
type DirInfo struct {
	Name    string
	Path    string
	ModTime time.Time
	Size    int64
}

// Usage returns the number of archive directories and their combined size.
func Usage(workDir string) (int, int64, error) {
	dirs, err := ListDirectories(workDir)
	if err != nil {
		return 0, 0, err
	}
	var total int64
	for _, dir := range dirs {
		total += dir.Size
	}
	return len(dirs), total, nil
}

func dirSize(path string) (int64, error) {
	var size int64
	err := filepath.WalkDir(path, func(_ string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil // best effort
		}
		if d.Type().IsRegular() {
			if info, infoErr := d.Info(); infoErr == nil {
				size += info.Size()
			}
		}
		return nil
	})
	return size, err
}
