package main

import (
	"context"
	"testing"
)

func TestDedupListAndForget(t *testing.T) {
	env := setupCLITestEnv(t)
	digest := "9f86d081884c7d659a2feaa0c55ad015a3bf4f1b2b0b822cd15d6c15b0f00a08"
	if err := env.store.RecordDigest(context.Background(), digest, 3, 4096); err != nil {
		t.Fatalf("RecordDigest: %v", err)
	}

	out, _, err := runCLI(t, []string{"dedup", "list"}, env.configPath)
	if err != nil {
		t.Fatalf("dedup list: %v", err)
	}
	requireContains(t, out, digest)
	requireContains(t, out, "4.0 KiB")

	out, _, err = runCLI(t, []string{"dedup", "forget", digest}, env.configPath)
	if err != nil {
		t.Fatalf("dedup forget: %v", err)
	}
	requireContains(t, out, "Forgot digest 9f86d081884c")

	out, _, err = runCLI(t, []string{"dedup", "forget", digest}, env.configPath)
	if err != nil {
		t.Fatalf("dedup forget again: %v", err)
	}
	requireContains(t, out, "was not in the index")

	out, _, err = runCLI(t, []string{"dedup", "list"}, env.configPath)
	if err != nil {
		t.Fatalf("dedup list: %v", err)
	}
	requireContains(t, out, "Dedup index is empty")

	if _, found, err := env.store.LookupDigest(context.Background(), digest); err != nil || found {
		t.Fatalf("expected digest to be gone, found=%v err=%v", found, err)
	}
}
