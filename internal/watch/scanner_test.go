package watch_test

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"courier/internal/config"
	"courier/internal/sizecache"
	"courier/internal/store"
	"courier/internal/testsupport"
	"courier/internal/watch"
)

type recordingSink struct {
	mu         sync.Mutex
	candidates []watch.Candidate
}

func (r *recordingSink) Offer(_ context.Context, c watch.Candidate) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.candidates = append(r.candidates, c)
	return true
}

func (r *recordingSink) paths() map[string]watch.Candidate {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[string]watch.Candidate, len(r.candidates))
	for _, c := range r.candidates {
		out[c.Path] = c
	}
	return out
}

func (r *recordingSink) reset() {
	r.mu.Lock()
	r.candidates = nil
	r.mu.Unlock()
}

func TestScanOffersNewFilesAndAppliesFilter(t *testing.T) {
	cfg := testsupport.NewConfig(t, testsupport.WithConfig(func(c *config.Config) {
		c.Watch.AllowedExtensions = []string{".MKV", "txt"}
	}))
	st := testsupport.MustOpenStore(t, cfg)
	inbox := testsupport.InboxDir(cfg)

	testsupport.WriteFile(t, filepath.Join(inbox, "a.mkv"), 10)
	testsupport.WriteFile(t, filepath.Join(inbox, "nested", "b.TXT"), 20)
	testsupport.WriteFile(t, filepath.Join(inbox, "c.jpg"), 30)

	sink := &recordingSink{}
	scanner := watch.New(cfg, st, sizecache.NewCache("", nil), sink, nil)
	res, err := scanner.Scan(context.Background())
	if err != nil {
		t.Fatalf("Scan: %v", err)
	}
	if res.Seen != 2 || res.Offered != 2 || res.Filtered != 1 {
		t.Fatalf("unexpected result %+v", res)
	}
	got := sink.paths()
	if _, ok := got[filepath.Join(inbox, "a.mkv")]; !ok {
		t.Fatalf("a.mkv not offered: %v", got)
	}
	if c, ok := got[filepath.Join(inbox, "nested", "b.TXT")]; !ok || c.Size != 20 || c.RecordID == 0 {
		t.Fatalf("nested file not offered correctly: %+v", c)
	}
}

func TestScanSkipsTerminalRecordsUntilChanged(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	st := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()
	path := filepath.Join(testsupport.InboxDir(cfg), "movie.bin")
	testsupport.WriteFile(t, path, 100)

	sink := &recordingSink{}
	scanner := watch.New(cfg, st, sizecache.NewCache("", nil), sink, nil)
	if _, err := scanner.Scan(ctx); err != nil {
		t.Fatalf("Scan: %v", err)
	}
	cand := sink.paths()[path]
	if err := st.SetStatus(ctx, cand.RecordID, store.StatusSent, ""); err != nil {
		t.Fatalf("SetStatus: %v", err)
	}

	sink.reset()
	res, err := scanner.Scan(ctx)
	if err != nil {
		t.Fatalf("Scan: %v", err)
	}
	if res.Offered != 0 {
		t.Fatalf("sent record should not be offered again: %+v", res)
	}

	testsupport.WriteFile(t, path, 150)
	future := time.Now().Add(time.Minute)
	if err := os.Chtimes(path, future, future); err != nil {
		t.Fatalf("chtimes: %v", err)
	}
	res, err = scanner.Scan(ctx)
	if err != nil {
		t.Fatalf("Scan: %v", err)
	}
	if res.Offered != 1 || sink.paths()[path].Status != store.StatusPending {
		t.Fatalf("changed file should be re-offered as pending: %+v", res)
	}
}

func TestScanRetriesFailedRecords(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	st := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()
	path := filepath.Join(testsupport.InboxDir(cfg), "flaky.bin")
	testsupport.WriteFile(t, path, 10)
	rec := testsupport.Discover(t, st, path)
	if err := st.SetStatus(ctx, rec.ID, store.StatusFailed, "upload error"); err != nil {
		t.Fatalf("SetStatus: %v", err)
	}
	blockedPath := filepath.Join(testsupport.InboxDir(cfg), "blocked.bin")
	testsupport.WriteFile(t, blockedPath, 10)
	blocked := testsupport.Discover(t, st, blockedPath)
	if err := st.SetStatus(ctx, blocked.ID, store.StatusBlocked, "encryption error"); err != nil {
		t.Fatalf("SetStatus: %v", err)
	}

	sink := &recordingSink{}
	if _, err := watch.New(cfg, st, sizecache.NewCache("", nil), sink, nil).Scan(ctx); err != nil {
		t.Fatalf("Scan: %v", err)
	}
	got := sink.paths()
	if c, ok := got[path]; !ok || c.Status != store.StatusFailed {
		t.Fatalf("failed record should be retried: %+v", got)
	}
	if _, ok := got[blockedPath]; ok {
		t.Fatal("blocked record must wait for a configuration fix")
	}
}

func TestScanExcludesWorkDirAndRefreshesCache(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	inbox := testsupport.InboxDir(cfg)
	cfg.Paths.WorkDir = filepath.Join(inbox, ".work")
	st := testsupport.MustOpenStore(t, cfg)

	keep := filepath.Join(inbox, "keep.bin")
	gone := filepath.Join(inbox, "gone.bin")
	testsupport.WriteFile(t, keep, 64)
	testsupport.WriteFile(t, gone, 32)
	testsupport.WriteFile(t, filepath.Join(cfg.Paths.WorkDir, "x", "archive.tar"), 16)

	cache := sizecache.NewCache(cfg.Processing.SizeCachePath, nil)
	sink := &recordingSink{}
	scanner := watch.New(cfg, st, cache, sink, nil)
	res, err := scanner.Scan(context.Background())
	if err != nil {
		t.Fatalf("Scan: %v", err)
	}
	if res.Seen != 2 {
		t.Fatalf("work dir should be skipped, saw %d files", res.Seen)
	}
	if size, ok := cache.SizeOf(keep); !ok || size != 64 {
		t.Fatalf("expected cached size 64, got %d %v", size, ok)
	}

	if err := os.Remove(gone); err != nil {
		t.Fatalf("remove: %v", err)
	}
	res, err = scanner.Scan(context.Background())
	if err != nil {
		t.Fatalf("Scan: %v", err)
	}
	if res.Pruned != 1 {
		t.Fatalf("expected vanished file to be pruned, got %+v", res)
	}
	if _, ok := cache.SizeOf(gone); ok {
		t.Fatal("vanished file still cached")
	}

	reloaded := sizecache.NewCache(cfg.Processing.SizeCachePath, nil)
	if reloaded.Count() != 1 {
		t.Fatalf("expected persisted cache with 1 entry, got %d", reloaded.Count())
	}
}

func TestScanReportsMissingFolder(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	cfg.Watch.Folders = append(cfg.Watch.Folders, filepath.Join(testsupport.BaseDir(cfg), "missing"))
	st := testsupport.MustOpenStore(t, cfg)

	res, err := watch.New(cfg, st, nil, &recordingSink{}, nil).Scan(context.Background())
	if err != nil {
		t.Fatalf("a missing folder must not abort the scan: %v", err)
	}
	if res.Errors != 1 {
		t.Fatalf("expected one folder error, got %+v", res)
	}
}
