package store_test

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"courier/internal/store"
	"courier/internal/testsupport"
)

func TestOpenAppliesMigrationsAndReopens(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	st := testsupport.MustOpenStore(t, cfg)
	if err := st.Ping(context.Background()); err != nil {
		t.Fatalf("ping: %v", err)
	}
	if st.Path() != cfg.DatabasePath() {
		t.Fatalf("unexpected path %q", st.Path())
	}

	again, err := store.Open(cfg)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	again.Close()
}

func TestDiscoverTracksChanges(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	st := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()

	path := filepath.Join(testsupport.InboxDir(cfg), "a.bin")
	mod := time.Date(2026, 1, 2, 3, 4, 5, 6, time.UTC)

	rec, changed, err := st.Discover(ctx, path, 100, mod)
	if err != nil {
		t.Fatalf("Discover: %v", err)
	}
	if !changed || rec.Status != store.StatusPending || rec.Size != 100 {
		t.Fatalf("unexpected first discovery: changed=%v %+v", changed, rec)
	}

	rec.Digest = "abc"
	rec.Status = store.StatusSent
	rec.FileID = 7
	if err := st.UpdateRecord(ctx, rec); err != nil {
		t.Fatalf("UpdateRecord: %v", err)
	}

	same, changed, err := st.Discover(ctx, path, 100, mod)
	if err != nil {
		t.Fatalf("Discover unchanged: %v", err)
	}
	if changed || same.Status != store.StatusSent || same.Digest != "abc" {
		t.Fatalf("unchanged file should keep state: changed=%v %+v", changed, same)
	}

	moved, changed, err := st.Discover(ctx, path, 101, mod)
	if err != nil {
		t.Fatalf("Discover changed: %v", err)
	}
	if !changed || moved.Status != store.StatusPending || moved.Digest != "" {
		t.Fatalf("changed file should be re-armed with digest cleared: changed=%v %+v", changed, moved)
	}
	if moved.ID != rec.ID {
		t.Fatalf("expected same record id, got %d want %d", moved.ID, rec.ID)
	}
}

func TestUpdateRecordRefusesStaleSnapshot(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	st := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()

	path := filepath.Join(testsupport.InboxDir(cfg), "edited.bin")
	mod := time.Date(2026, 3, 4, 5, 6, 7, 8, time.UTC)
	snapshot, _, err := st.Discover(ctx, path, 100, mod)
	if err != nil {
		t.Fatalf("Discover: %v", err)
	}

	// The file is edited while a pipeline still holds the old snapshot.
	if _, changed, err := st.Discover(ctx, path, 250, mod.Add(time.Second)); err != nil || !changed {
		t.Fatalf("Discover edited: changed=%v err=%v", changed, err)
	}

	snapshot.Digest = "old-digest"
	snapshot.Status = store.StatusSent
	snapshot.FileID = 3
	err = st.UpdateRecord(ctx, snapshot)
	if !errors.Is(err, store.ErrRecordChanged) {
		t.Fatalf("expected ErrRecordChanged, got %v", err)
	}

	got, changed, err := st.Discover(ctx, path, 250, mod.Add(time.Second))
	if err != nil {
		t.Fatalf("Discover again: %v", err)
	}
	if changed || got.Status != store.StatusPending || got.Digest != "" || got.FileID != 0 {
		t.Fatalf("edited file should stay pending for re-upload: changed=%v %+v", changed, got)
	}
}

func TestUploadIDsAreMonotonic(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	st := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()

	first, err := st.CreateUpload(ctx, store.UploadSpec{Name: "a", SourcePath: "/a", Digest: "d1"})
	if err != nil {
		t.Fatalf("CreateUpload: %v", err)
	}
	second, err := st.CreateUpload(ctx, store.UploadSpec{Name: "b", SourcePath: "/b", Digest: "d2", Compression: "fast"})
	if err != nil {
		t.Fatalf("CreateUpload: %v", err)
	}
	if second.ID <= first.ID {
		t.Fatalf("expected increasing ids, got %d then %d", first.ID, second.ID)
	}
	if first.Compression != "none" || second.Compression != "fast" {
		t.Fatalf("unexpected compression: %q %q", first.Compression, second.Compression)
	}
	if first.Status != store.UploadPending {
		t.Fatalf("unexpected status %q", first.Status)
	}

	// Reopening must not reuse ids.
	st.Close()
	reopened := testsupport.MustOpenStore(t, cfg)
	third, err := reopened.CreateUpload(ctx, store.UploadSpec{Name: "c", SourcePath: "/c", Digest: "d3"})
	if err != nil {
		t.Fatalf("CreateUpload after reopen: %v", err)
	}
	if third.ID <= second.ID {
		t.Fatalf("expected id after restart to exceed %d, got %d", second.ID, third.ID)
	}
}

func TestPartsRoundTrip(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	st := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()

	up, err := st.CreateUpload(ctx, store.UploadSpec{Name: "big.bin", SourcePath: "/big.bin", Digest: "d"})
	if err != nil {
		t.Fatalf("CreateUpload: %v", err)
	}
	parts := []store.PartRecord{
		{Index: 1, Count: 3, Name: "big.bin.001", Size: 50, Offset: 0},
		{Index: 2, Count: 3, Name: "big.bin.002", Size: 50, Offset: 50},
		{Index: 3, Count: 3, Name: "big.bin.003", Size: 20, Offset: 100},
	}
	if err := st.AddParts(ctx, up.ID, parts); err != nil {
		t.Fatalf("AddParts: %v", err)
	}

	now := time.Now()
	sent := &store.PartRecord{UploadID: up.ID, Index: 2, Status: store.PartSent, Stream: "COURIER", Sequence: 42, Attempts: 2, SentAt: &now}
	if err := st.UpdatePart(ctx, sent); err != nil {
		t.Fatalf("UpdatePart: %v", err)
	}

	got, err := st.Parts(ctx, up.ID)
	if err != nil {
		t.Fatalf("Parts: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("expected 3 parts, got %d", len(got))
	}
	if got[0].Status != store.PartPending || got[2].Offset != 100 || got[2].Size != 20 {
		t.Fatalf("unexpected parts: %+v %+v", got[0], got[2])
	}
	if got[1].Status != store.PartSent || got[1].Sequence != 42 || got[1].Attempts != 2 || got[1].SentAt == nil {
		t.Fatalf("unexpected updated part: %+v", got[1])
	}

	up.ArchiveSize = 120
	up.PartCount = 3
	up.Status = store.UploadSent
	up.ForwardStatus = "ok"
	up.CompletedAt = &now
	if err := st.FinishUpload(ctx, up); err != nil {
		t.Fatalf("FinishUpload: %v", err)
	}
	loaded, err := st.GetUpload(ctx, up.ID)
	if err != nil || loaded == nil {
		t.Fatalf("GetUpload: %v %v", loaded, err)
	}
	if loaded.ArchiveSize != 120 || loaded.Status != store.UploadSent || loaded.CompletedAt == nil {
		t.Fatalf("unexpected upload: %+v", loaded)
	}
	missing, err := st.GetUpload(ctx, up.ID+100)
	if err != nil || missing != nil {
		t.Fatalf("expected nil for missing upload, got %v %v", missing, err)
	}
}

func TestRecordDigestIsIdempotent(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	st := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()

	if _, ok, err := st.LookupDigest(ctx, "d"); err != nil || ok {
		t.Fatalf("expected miss, got ok=%v err=%v", ok, err)
	}

	var wg sync.WaitGroup
	for i := int64(1); i <= 8; i++ {
		wg.Add(1)
		go func(fileID int64) {
			defer wg.Done()
			if err := st.RecordDigest(ctx, "d", fileID, 10); err != nil {
				t.Errorf("RecordDigest: %v", err)
			}
		}(i)
	}
	wg.Wait()

	entry, ok, err := st.LookupDigest(ctx, "d")
	if err != nil || !ok {
		t.Fatalf("expected hit, got ok=%v err=%v", ok, err)
	}
	if entry.FileID < 1 || entry.FileID > 8 {
		t.Fatalf("unexpected file id %d", entry.FileID)
	}
	entries, err := st.ListDedup(ctx)
	if err != nil || len(entries) != 1 {
		t.Fatalf("expected exactly one entry, got %d (%v)", len(entries), err)
	}

	removed, err := st.ForgetDigest(ctx, "d")
	if err != nil || !removed {
		t.Fatalf("ForgetDigest: %v %v", removed, err)
	}
	if _, ok, _ := st.LookupDigest(ctx, "d"); ok {
		t.Fatal("expected entry to be forgotten")
	}
}

func TestMaintenance(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	st := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()

	statuses := []store.Status{store.StatusHashing, store.StatusDispatching, store.StatusFailed, store.StatusBlocked, store.StatusSent}
	ids := make([]int64, len(statuses))
	for i, status := range statuses {
		rec, _, err := st.Discover(ctx, filepath.Join("/watch", string(status)), int64(i+1), time.Unix(int64(i), 0))
		if err != nil {
			t.Fatalf("Discover: %v", err)
		}
		if err := st.SetStatus(ctx, rec.ID, status, "x"); err != nil {
			t.Fatalf("SetStatus: %v", err)
		}
		ids[i] = rec.ID
	}

	reset, err := st.ResetInFlight(ctx)
	if err != nil {
		t.Fatalf("ResetInFlight: %v", err)
	}
	if reset != 2 {
		t.Fatalf("expected 2 reset records, got %d", reset)
	}

	retried, err := st.RetryFailed(ctx, ids[2])
	if err != nil || retried != 1 {
		t.Fatalf("RetryFailed by id: %d %v", retried, err)
	}
	blocked, err := st.GetRecord(ctx, ids[3])
	if err != nil || blocked.Status != store.StatusBlocked {
		t.Fatalf("blocked record should be untouched: %+v %v", blocked, err)
	}

	stats, err := st.Stats(ctx)
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}
	if stats.Records[store.StatusPending] != 3 || stats.Records[store.StatusSent] != 1 {
		t.Fatalf("unexpected stats: %+v", stats.Records)
	}

	cleared, err := st.ClearRecords(ctx, store.StatusSent)
	if err != nil || cleared != 1 {
		t.Fatalf("ClearRecords: %d %v", cleared, err)
	}
	remaining, err := st.ListRecords(ctx)
	if err != nil || len(remaining) != 4 {
		t.Fatalf("expected 4 remaining records, got %d (%v)", len(remaining), err)
	}
}
