package staging

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"courier/internal/logging"
)

func makeDir(t *testing.T, path string, age time.Duration) {
	t.Helper()
	if err := os.MkdirAll(path, 0o755); err != nil {
		t.Fatalf("create %s: %v", path, err)
	}
	if age > 0 {
		old := time.Now().Add(-age)
		if err := os.Chtimes(path, old, old); err != nil {
			t.Fatalf("set time on %s: %v", path, err)
		}
	}
}

func TestCleanStaleInvalidPaths(t *testing.T) {
	for _, dir := range []string{"", "   ", "/nonexistent/path/12345"} {
		result := CleanStale(context.Background(), dir, time.Hour, nil, logging.NewNop())
		if len(result.Removed) != 0 || len(result.Errors) != 0 {
			t.Errorf("expected empty result for path %q", dir)
		}
	}
}

func TestCleanStaleRemovesOldDirectories(t *testing.T) {
	workDir := t.TempDir()
	oldDir := filepath.Join(workDir, "0b7c6a1e-old")
	recentDir := filepath.Join(workDir, "5f0e2d9a-recent")
	keptDir := filepath.Join(workDir, "active")
	makeDir(t, oldDir, 2*time.Hour)
	makeDir(t, recentDir, 0)
	makeDir(t, keptDir, 3*time.Hour)

	result := CleanStale(context.Background(), workDir, time.Hour, map[string]struct{}{"active": {}}, logging.NewNop())
	if len(result.Removed) != 1 || result.Removed[0] != oldDir {
		t.Fatalf("expected only %s removed, got %v", oldDir, result.Removed)
	}
	if _, err := os.Stat(oldDir); !os.IsNotExist(err) {
		t.Error("old directory should have been removed")
	}
	for _, dir := range []string{recentDir, keptDir} {
		if _, err := os.Stat(dir); err != nil {
			t.Errorf("%s should still exist", dir)
		}
	}
}

func TestCleanStaleIgnoresFiles(t *testing.T) {
	workDir := t.TempDir()
	oldFile := filepath.Join(workDir, "stray.tar")
	if err := os.WriteFile(oldFile, []byte("test"), 0o644); err != nil {
		t.Fatalf("create file: %v", err)
	}
	oldTime := time.Now().Add(-2 * time.Hour)
	if err := os.Chtimes(oldFile, oldTime, oldTime); err != nil {
		t.Fatalf("set old time: %v", err)
	}

	result := CleanStale(context.Background(), workDir, time.Hour, nil, logging.NewNop())
	if len(result.Removed) != 0 {
		t.Errorf("expected no removals for files, got %d", len(result.Removed))
	}
	if _, err := os.Stat(oldFile); err != nil {
		t.Error("file should not have been removed")
	}
}

func TestListDirectoriesInvalidPaths(t *testing.T) {
	for _, path := range []string{"", "/nonexistent/path/12345"} {
		dirs, err := ListDirectories(path)
		if err != nil {
			t.Fatalf("unexpected error for %q: %v", path, err)
		}
		if dirs != nil {
			t.Errorf("expected nil for path %q, got %v", path, dirs)
		}
	}
}

func TestListDirectoriesAndUsage(t *testing.T) {
	workDir := t.TempDir()
	dir1 := filepath.Join(workDir, "archive-1")
	makeDir(t, dir1, 0)
	makeDir(t, filepath.Join(workDir, "archive-2"), 0)
	if err := os.WriteFile(filepath.Join(workDir, "not-a-dir.txt"), []byte("test"), 0o644); err != nil {
		t.Fatalf("create file: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir1, "movie.tar.zst"), []byte("12345"), 0o644); err != nil {
		t.Fatalf("create inner file: %v", err)
	}

	dirs, err := ListDirectories(workDir)
	if err != nil {
		t.Fatalf("ListDirectories: %v", err)
	}
	if len(dirs) != 2 {
		t.Fatalf("expected 2 directories, got %d", len(dirs))
	}
	for _, d := range dirs {
		if d.Name == "archive-1" && (d.Size != 5 || d.Path != dir1 || d.ModTime.IsZero()) {
			t.Errorf("unexpected info for archive-1: %+v", d)
		}
	}

	count, total, err := Usage(workDir)
	if err != nil || count != 2 || total != 5 {
		t.Fatalf("Usage = %d, %d, %v", count, total, err)
	}
}
