package api_test

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"courier/internal/api"
	"courier/internal/reporter"
	"courier/internal/store"
	"courier/internal/testsupport"
)

type fakePresigner struct {
	keys []string
}

func (f *fakePresigner) Key(fileID int64, name string) string {
	return fmt.Sprintf("courier/%d/%s", fileID, name)
}

func (f *fakePresigner) PresignGet(_ context.Context, key string, ttl time.Duration) (string, error) {
	f.keys = append(f.keys, key)
	return "https://objects.example/" + key + "?ttl=" + ttl.String(), nil
}

// seedUpload stores a sent two-part upload whose first part was forwarded.
func seedUpload(t *testing.T, st *store.Store, dir string) (*store.FileRecord, *store.Upload) {
	t.Helper()
	ctx := context.Background()

	path := filepath.Join(dir, "report.pdf")
	testsupport.WriteFile(t, path, 2048)
	rec := testsupport.Discover(t, st, path)

	up, err := st.CreateUpload(ctx, store.UploadSpec{
		RecordID:    rec.ID,
		Name:        "report.pdf",
		SourcePath:  path,
		Digest:      "abc123",
		Compression: "fast",
	})
	if err != nil {
		t.Fatalf("CreateUpload: %v", err)
	}
	if err := st.AddParts(ctx, up.ID, []store.PartRecord{
		{Index: 1, Count: 2, Name: "report.pdf.tar.zst.001", Size: 1024},
		{Index: 2, Count: 2, Name: "report.pdf.tar.zst.002", Size: 512, Offset: 1024},
	}); err != nil {
		t.Fatalf("AddParts: %v", err)
	}
	sent := time.Now().UTC()
	for _, part := range []store.PartRecord{
		{UploadID: up.ID, Index: 1, Status: store.PartSent, Stream: "COURIER", Sequence: 7, Attempts: 1, ForwardStatus: reporter.ForwardOK, SentAt: &sent},
		{UploadID: up.ID, Index: 2, Status: store.PartSent, Stream: "COURIER", Sequence: 8, Attempts: 2, ForwardStatus: reporter.ForwardSkipped, SentAt: &sent},
	} {
		if err := st.UpdatePart(ctx, &part); err != nil {
			t.Fatalf("UpdatePart: %v", err)
		}
	}
	up.ArchiveName = "report.pdf.tar.zst"
	up.ArchiveSize = 1536
	up.PartCount = 2
	up.Status = store.UploadSent
	up.CompletedAt = &sent
	if err := st.FinishUpload(ctx, up); err != nil {
		t.Fatalf("FinishUpload: %v", err)
	}

	rec.Status = store.StatusSent
	rec.FileID = up.ID
	if err := st.UpdateRecord(ctx, rec); err != nil {
		t.Fatalf("UpdateRecord: %v", err)
	}
	return rec, up
}

func TestFileServiceDescribeWithLinks(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	st := testsupport.MustOpenStore(t, cfg)
	rec, up := seedUpload(t, st, testsupport.InboxDir(cfg))

	presigner := &fakePresigner{}
	svc := api.NewFileService(st, presigner)
	resp, err := svc.Describe(context.Background(), up.ID)
	if err != nil {
		t.Fatalf("Describe: %v", err)
	}
	if resp == nil {
		t.Fatal("expected upload")
	}
	if resp.Upload.FileID != up.ID || resp.Upload.PartCount != 2 {
		t.Fatalf("unexpected upload: %+v", resp.Upload)
	}
	if !strings.Contains(resp.Upload.ReassemblyHint, "cat report.pdf.tar.zst.001 report.pdf.tar.zst.002 > report.pdf.tar.zst") {
		t.Fatalf("unexpected hint %q", resp.Upload.ReassemblyHint)
	}
	if len(resp.Upload.Parts) != 2 {
		t.Fatalf("expected 2 parts, got %d", len(resp.Upload.Parts))
	}
	if resp.Upload.Parts[0].Link == "" {
		t.Fatal("forwarded part should carry a link")
	}
	if resp.Upload.Parts[1].Link != "" {
		t.Fatalf("skipped part should not carry a link, got %q", resp.Upload.Parts[1].Link)
	}
	if len(presigner.keys) != 1 || presigner.keys[0] != fmt.Sprintf("courier/%d/report.pdf.tar.zst.001", up.ID) {
		t.Fatalf("unexpected presigned keys %v", presigner.keys)
	}
	if resp.Record == nil || resp.Record.ID != rec.ID || resp.Record.Status != string(store.StatusSent) {
		t.Fatalf("unexpected record %+v", resp.Record)
	}
}

func TestFileServiceDescribeUnknownID(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	st := testsupport.MustOpenStore(t, cfg)

	resp, err := api.NewFileService(st, nil).Describe(context.Background(), 42)
	if err != nil {
		t.Fatalf("Describe: %v", err)
	}
	if resp != nil {
		t.Fatalf("expected nil for unknown file-id, got %+v", resp)
	}
}

func TestFileServiceListRetryClear(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	st := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()
	inbox := testsupport.InboxDir(cfg)

	var ids []int64
	for i := range 3 {
		path := filepath.Join(inbox, fmt.Sprintf("f%d.bin", i))
		testsupport.WriteFile(t, path, 64)
		ids = append(ids, testsupport.Discover(t, st, path).ID)
	}
	if err := st.SetStatus(ctx, ids[0], store.StatusFailed, "boom"); err != nil {
		t.Fatalf("SetStatus: %v", err)
	}
	if err := st.SetStatus(ctx, ids[1], store.StatusBlocked, "no password"); err != nil {
		t.Fatalf("SetStatus: %v", err)
	}

	svc := api.NewFileService(st, nil)
	failed, err := svc.List(ctx, store.StatusFailed)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(failed) != 1 || failed[0].ErrorMessage != "boom" {
		t.Fatalf("unexpected failed list %+v", failed)
	}

	count, err := svc.Retry(ctx, ids[1])
	if err != nil {
		t.Fatalf("Retry: %v", err)
	}
	if count != 1 {
		t.Fatalf("expected 1 retried, got %d", count)
	}

	cleared, err := svc.Clear(ctx, store.StatusFailed)
	if err != nil {
		t.Fatalf("Clear: %v", err)
	}
	if cleared != 1 {
		t.Fatalf("expected 1 cleared, got %d", cleared)
	}
	all, err := svc.List(ctx)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(all) != 2 {
		t.Fatalf("expected 2 remaining records, got %d", len(all))
	}
	for _, rec := range all {
		if rec.Status != string(store.StatusPending) {
			t.Fatalf("expected pending, got %+v", rec)
		}
	}
}

func TestFileServiceDedup(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	st := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()

	if err := st.RecordDigest(ctx, "feedface", 3, 100); err != nil {
		t.Fatalf("RecordDigest: %v", err)
	}
	svc := api.NewFileService(st, nil)
	entries, err := svc.Dedup(ctx)
	if err != nil {
		t.Fatalf("Dedup: %v", err)
	}
	if len(entries) != 1 || entries[0].FileID != 3 || entries[0].FirstSeen == "" {
		t.Fatalf("unexpected entries %+v", entries)
	}
	forgot, err := svc.Forget(ctx, "feedface")
	if err != nil || !forgot {
		t.Fatalf("Forget = %v, %v", forgot, err)
	}
	forgot, err = svc.Forget(ctx, "feedface")
	if err != nil || forgot {
		t.Fatalf("second Forget = %v, %v", forgot, err)
	}
}
