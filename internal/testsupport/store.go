package testsupport

import (
	"context"
	"os"
	"testing"

	"courier/internal/config"
	"courier/internal/store"
)

// MustOpenStore opens a store.Store for tests and registers cleanup.
func MustOpenStore(t testing.TB, cfg *config.Config) *store.Store {
	t.Helper()

	st, err := store.Open(cfg)
	if err != nil {
		t.Fatalf("store.Open: %v", err)
	}
	t.Cleanup(func() {
		st.Close()
	})
	return st
}

// Discover registers an existing file with the store.
func Discover(t testing.TB, st *store.Store, path string) *store.FileRecord {
	t.Helper()

	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("stat %s: %v", path, err)
	}
	rec, _, err := st.Discover(context.Background(), path, info.Size(), info.ModTime())
	if err != nil {
		t.Fatalf("store.Discover: %v", err)
	}
	return rec
}
