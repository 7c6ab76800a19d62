package main

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"courier/internal/api"
	"courier/internal/config"
	"courier/internal/reporter"
	"courier/internal/store"
	"courier/internal/testsupport"
)

// seedUpload stores a sent two-part upload for a file in the inbox.
func seedUpload(t *testing.T, env *cliTestEnv) (*store.FileRecord, *store.Upload) {
	t.Helper()
	ctx := context.Background()
	path := filepath.Join(testsupport.InboxDir(env.cfg), "report.pdf")
	testsupport.WriteFile(t, path, 2048)
	rec := testsupport.Discover(t, env.store, path)

	up, err := env.store.CreateUpload(ctx, store.UploadSpec{
		RecordID:    rec.ID,
		Name:        "report.pdf",
		SourcePath:  path,
		Digest:      "d1g3st",
		Compression: config.CompressionFast,
	})
	if err != nil {
		t.Fatalf("CreateUpload: %v", err)
	}
	if err := env.store.AddParts(ctx, up.ID, []store.PartRecord{
		{Index: 1, Count: 2, Name: "report.pdf.tar.zst.001", Size: 1024},
		{Index: 2, Count: 2, Name: "report.pdf.tar.zst.002", Size: 512, Offset: 1024},
	}); err != nil {
		t.Fatalf("AddParts: %v", err)
	}
	sent := time.Now().UTC()
	for _, part := range []store.PartRecord{
		{UploadID: up.ID, Index: 1, Status: store.PartSent, Stream: "COURIER", Sequence: 11, Attempts: 1, ForwardStatus: reporter.ForwardSkipped, SentAt: &sent},
		{UploadID: up.ID, Index: 2, Status: store.PartSent, Stream: "COURIER", Sequence: 12, Attempts: 1, ForwardStatus: reporter.ForwardSkipped, SentAt: &sent},
	} {
		if err := env.store.UpdatePart(ctx, &part); err != nil {
			t.Fatalf("UpdatePart: %v", err)
		}
	}
	up.ArchiveName = "report.pdf.tar.zst"
	up.ArchiveSize = 1536
	up.PartCount = 2
	up.Status = store.UploadSent
	up.CompletedAt = &sent
	if err := env.store.FinishUpload(ctx, up); err != nil {
		t.Fatalf("FinishUpload: %v", err)
	}
	rec.Status = store.StatusSent
	rec.Digest = "d1g3st"
	rec.FileID = up.ID
	if err := env.store.UpdateRecord(ctx, rec); err != nil {
		t.Fatalf("UpdateRecord: %v", err)
	}
	return rec, up
}

func TestFilesListFromStore(t *testing.T) {
	env := setupCLITestEnv(t)
	seedUpload(t, env)
	pending := filepath.Join(testsupport.InboxDir(env.cfg), "queued.bin")
	testsupport.WriteFile(t, pending, 10)
	testsupport.Discover(t, env.store, pending)

	out, _, err := runCLI(t, []string{"files", "list"}, env.configPath)
	if err != nil {
		t.Fatalf("files list: %v", err)
	}
	requireContains(t, out, "report.pdf")
	requireContains(t, out, "queued.bin")
	requireContains(t, out, "sent")

	out, _, err = runCLI(t, []string{"files", "list", "--status", "pending", "--format", "json"}, env.configPath)
	if err != nil {
		t.Fatalf("files list json: %v", err)
	}
	var resp api.FileListResponse
	if err := json.Unmarshal([]byte(out), &resp); err != nil {
		t.Fatalf("decode json output: %v\n%s", err, out)
	}
	if len(resp.Files) != 1 || filepath.Base(resp.Files[0].Path) != "queued.bin" {
		t.Fatalf("unexpected filtered files %+v", resp.Files)
	}

	if _, _, err := runCLI(t, []string{"files", "list", "--status", "lost"}, env.configPath); err == nil {
		t.Fatal("expected unknown status to fail")
	}
}

func TestFilesShowRendersPartsAndHint(t *testing.T) {
	env := setupCLITestEnv(t)
	_, up := seedUpload(t, env)
	id := strings.TrimSpace(formatID(up.ID))

	out, _, err := runCLI(t, []string{"files", "show", id}, env.configPath)
	if err != nil {
		t.Fatalf("files show: %v", err)
	}
	requireContains(t, out, "report.pdf.tar.zst.001")
	requireContains(t, out, "report.pdf.tar.zst.002")
	requireContains(t, out, "1/2")
	requireContains(t, out, "cat report.pdf.tar.zst.001 report.pdf.tar.zst.002 > report.pdf.tar.zst")
	requireNotContains(t, out, "Links:")

	out, _, err = runCLI(t, []string{"files", "show", id, "--format", "yaml"}, env.configPath)
	if err != nil {
		t.Fatalf("files show yaml: %v", err)
	}
	requireContains(t, out, "archiveName: report.pdf.tar.zst")
	requireContains(t, out, "partCount: 2")

	if _, _, err := runCLI(t, []string{"files", "show", "999"}, env.configPath); err == nil || !strings.Contains(err.Error(), "not found") {
		t.Fatalf("expected not found error, got %v", err)
	}
	if _, _, err := runCLI(t, []string{"files", "show", "abc"}, env.configPath); err == nil {
		t.Fatal("expected invalid id error")
	}
	if _, _, err := runCLI(t, []string{"files", "show", id, "--format", "xml"}, env.configPath); err == nil {
		t.Fatal("expected unknown format error")
	}
}

func TestFilesRetryUnblockAndClear(t *testing.T) {
	env := setupCLITestEnv(t)
	ctx := context.Background()
	seedUpload(t, env)

	var failed []*store.FileRecord
	for _, name := range []string{"a.bin", "b.bin"} {
		path := filepath.Join(testsupport.InboxDir(env.cfg), name)
		testsupport.WriteFile(t, path, 5)
		rec := testsupport.Discover(t, env.store, path)
		if err := env.store.SetStatus(ctx, rec.ID, store.StatusFailed, "upload error"); err != nil {
			t.Fatalf("SetStatus: %v", err)
		}
		failed = append(failed, rec)
	}
	blockedPath := filepath.Join(testsupport.InboxDir(env.cfg), "c.bin")
	testsupport.WriteFile(t, blockedPath, 5)
	blocked := testsupport.Discover(t, env.store, blockedPath)
	if err := env.store.SetStatus(ctx, blocked.ID, store.StatusBlocked, "password missing"); err != nil {
		t.Fatalf("SetStatus: %v", err)
	}

	out, _, err := runCLI(t, []string{"files", "retry", formatID(failed[0].ID)}, env.configPath)
	if err != nil {
		t.Fatalf("files retry: %v", err)
	}
	requireContains(t, out, "Re-armed 1 record(s)")
	requireContains(t, out, "Daemon not reachable")

	out, _, err = runCLI(t, []string{"files", "unblock"}, env.configPath)
	if err != nil {
		t.Fatalf("files unblock: %v", err)
	}
	requireContains(t, out, "Unblocked 1 record(s)")

	out, _, err = runCLI(t, []string{"files", "clear", "--failed"}, env.configPath)
	if err != nil {
		t.Fatalf("files clear --failed: %v", err)
	}
	requireContains(t, out, "Cleared 1 record(s) (failed)")

	out, _, err = runCLI(t, []string{"files", "clear"}, env.configPath)
	if err != nil {
		t.Fatalf("files clear: %v", err)
	}
	requireContains(t, out, "Cleared 1 record(s) (finished)")

	recs, err := env.store.ListRecords(ctx)
	if err != nil {
		t.Fatalf("ListRecords: %v", err)
	}
	if len(recs) != 2 {
		t.Fatalf("expected the two re-armed records to remain, got %d", len(recs))
	}
	for _, rec := range recs {
		if rec.Status != store.StatusPending {
			t.Fatalf("unexpected remaining record %+v", rec)
		}
	}

	if _, _, err := runCLI(t, []string{"files", "clear", "--failed", "--all"}, env.configPath); err == nil {
		t.Fatal("expected conflicting flags to fail")
	}
	out, _, err = runCLI(t, []string{"files", "retry"}, env.configPath)
	if err != nil {
		t.Fatalf("files retry all: %v", err)
	}
	requireContains(t, out, "No failed records matched")
}

func TestFilesUploads(t *testing.T) {
	env := setupCLITestEnv(t)
	seedUpload(t, env)

	out, _, err := runCLI(t, []string{"files", "uploads"}, env.configPath)
	if err != nil {
		t.Fatalf("files uploads: %v", err)
	}
	requireContains(t, out, "report.pdf")
	requireContains(t, out, "sent")
}

func TestFilesListUsesDaemonWhenReachable(t *testing.T) {
	var sawToken, sawFiles atomic.Bool
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") == "Bearer t0ken" {
			sawToken.Store(true)
		}
		w.Header().Set("Content-Type", "application/json")
		switch r.URL.Path {
		case "/api/status":
			_ = json.NewEncoder(w).Encode(api.DaemonStatus{Running: true, PID: 4242})
		case "/api/files":
			sawFiles.Store(true)
			_ = json.NewEncoder(w).Encode(api.FileListResponse{Files: []api.FileRecord{
				{ID: 77, Path: "/remote/from-daemon.iso", Size: 1 << 20, Status: "dispatching"},
			}})
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	env := setupCLITestEnv(t, testsupport.WithConfig(func(c *config.Config) {
		c.Paths.APIBind = strings.TrimPrefix(srv.URL, "http://")
		c.Paths.APIToken = "t0ken"
	}))

	out, _, err := runCLI(t, []string{"files", "list"}, env.configPath)
	if err != nil {
		t.Fatalf("files list: %v", err)
	}
	requireContains(t, out, "from-daemon.iso")
	requireContains(t, out, "dispatching")
	if !sawFiles.Load() || !sawToken.Load() {
		t.Fatalf("expected an authenticated daemon query (files=%v token=%v)", sawFiles.Load(), sawToken.Load())
	}

	out, _, err = runCLI(t, []string{"status"}, env.configPath)
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	requireContains(t, out, "running (pid 4242)")
}
