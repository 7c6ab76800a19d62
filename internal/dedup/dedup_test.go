package dedup_test

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"courier/internal/dedup"
	"courier/internal/hasher"
	"courier/internal/testsupport"
)

// Two pipelines racing on the same digest must produce exactly one send.
func TestConcurrentIdenticalDigestsSendOnce(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	st := testsupport.MustOpenStore(t, cfg)
	index := dedup.New(st, nil)
	ctx := context.Background()
	digest := hasher.Digest("0123456789abcdef0123456789abcdef0123456789abcdef0123456789abcdef")

	var sends, duplicates int32
	var wg sync.WaitGroup
	for i := 0; i < 6; i++ {
		wg.Add(1)
		go func(fileID int64) {
			defer wg.Done()
			release, err := index.Acquire(ctx, digest)
			if err != nil {
				t.Errorf("Acquire: %v", err)
				return
			}
			defer release()

			if _, ok, err := index.Lookup(ctx, digest); err != nil {
				t.Errorf("Lookup: %v", err)
				return
			} else if ok {
				atomic.AddInt32(&duplicates, 1)
				return
			}
			time.Sleep(5 * time.Millisecond)
			atomic.AddInt32(&sends, 1)
			if err := index.Record(ctx, digest, fileID, 10); err != nil {
				t.Errorf("Record: %v", err)
			}
		}(int64(i + 1))
	}
	wg.Wait()

	if sends != 1 || duplicates != 5 {
		t.Fatalf("expected 1 send and 5 duplicates, got %d and %d", sends, duplicates)
	}
	if index.Pending() != 0 {
		t.Fatalf("expected no pending locks, got %d", index.Pending())
	}
}

func TestForgetAllowsResend(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	st := testsupport.MustOpenStore(t, cfg)
	index := dedup.New(st, nil)
	ctx := context.Background()

	if err := index.Record(ctx, "d", 1, 1); err != nil {
		t.Fatalf("Record: %v", err)
	}
	if err := index.Record(ctx, "d", 2, 1); err != nil {
		t.Fatalf("second Record should be a no-op: %v", err)
	}
	entry, ok, err := index.Lookup(ctx, "d")
	if err != nil || !ok || entry.FileID != 1 {
		t.Fatalf("expected first file id to win, got %+v ok=%v err=%v", entry, ok, err)
	}

	removed, err := index.Forget(ctx, "d")
	if err != nil || !removed {
		t.Fatalf("Forget: %v %v", removed, err)
	}
	if _, ok, _ := index.Lookup(ctx, "d"); ok {
		t.Fatal("expected digest to be forgotten")
	}
}
