package fileaccess_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"courier/internal/api"
	"courier/internal/fileaccess"
	"courier/internal/store"
	"courier/internal/testsupport"
)

func TestOpenWithFallbackUsesStoreWhenDaemonDown(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	path := filepath.Join(testsupport.InboxDir(cfg), "a.bin")
	testsupport.WriteFile(t, path, 32)
	seed := testsupport.MustOpenStore(t, cfg)
	testsupport.Discover(t, seed, path)

	session, err := fileaccess.OpenWithFallback(context.Background(),
		func(context.Context) (*api.Client, error) { return nil, api.ErrUnavailable },
		func() (*store.Store, error) { return store.Open(cfg) },
		nil,
	)
	if err != nil {
		t.Fatalf("OpenWithFallback: %v", err)
	}
	defer session.Close()

	if session.Access.Remote() {
		t.Fatal("expected store-backed access")
	}
	files, err := session.Access.List(context.Background(), []string{"pending"})
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(files) != 1 || files[0].Path != path {
		t.Fatalf("unexpected files %+v", files)
	}
	if _, err := session.Access.List(context.Background(), []string{"bogus"}); err == nil {
		t.Fatal("expected error for unknown status")
	}
}

func TestOpenWithFallbackPrefersDaemon(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_ = json.NewEncoder(w).Encode(api.FileListResponse{Files: []api.FileRecord{{ID: 1}, {ID: 2}}})
	}))
	defer srv.Close()

	opened := false
	session, err := fileaccess.OpenWithFallback(context.Background(),
		func(context.Context) (*api.Client, error) { return api.NewClient(srv.URL, "", srv.Client()), nil },
		func() (*store.Store, error) { opened = true; return nil, errors.New("unexpected") },
		nil,
	)
	if err != nil {
		t.Fatalf("OpenWithFallback: %v", err)
	}
	defer session.Close()
	if opened {
		t.Fatal("store should not be opened when the daemon answers")
	}
	if !session.Access.Remote() {
		t.Fatal("expected daemon-backed access")
	}
	files, err := session.Access.List(context.Background(), nil)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(files) != 2 {
		t.Fatalf("expected 2 files, got %d", len(files))
	}
}

func TestParseStatuses(t *testing.T) {
	got, err := fileaccess.ParseStatuses([]string{" Sent ", "", "failed"})
	if err != nil {
		t.Fatalf("ParseStatuses: %v", err)
	}
	if len(got) != 2 || got[0] != store.StatusSent || got[1] != store.StatusFailed {
		t.Fatalf("unexpected statuses %v", got)
	}
}
