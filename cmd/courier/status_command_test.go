package main

import (
	"encoding/json"
	"path/filepath"
	"testing"

	"courier/internal/testsupport"
)

func TestStatusOfflineShowsStoreCounts(t *testing.T) {
	env := setupCLITestEnv(t)
	path := filepath.Join(testsupport.InboxDir(env.cfg), "waiting.bin")
	testsupport.WriteFile(t, path, 16)
	testsupport.Discover(t, env.store, path)

	out, _, err := runCLI(t, []string{"status"}, env.configPath)
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	requireContains(t, out, "not running")
	requireContains(t, out, env.cfg.DatabasePath())
	requireContains(t, out, "pending")
	requireNotContains(t, out, "Process queue")
	requireContains(t, out, "Staged archives: 0 (0 B)")

	out, _, err = runCLI(t, []string{"status", "--format", "json"}, env.configPath)
	if err != nil {
		t.Fatalf("status json: %v", err)
	}
	var payload statusPayload
	if err := json.Unmarshal([]byte(out), &payload); err != nil {
		t.Fatalf("decode: %v\n%s", err, out)
	}
	if payload.Daemon.Running || payload.Daemon.Workflow.Records["pending"] != 1 || payload.Staging.Archives != 0 {
		t.Fatalf("unexpected status %+v", payload.Daemon)
	}
}

func TestStatusPreflightListsChecks(t *testing.T) {
	env := setupCLITestEnv(t)

	out, _, err := runCLI(t, []string{"status", "--preflight"}, env.configPath)
	if err != nil {
		t.Fatalf("status --preflight: %v", err)
	}
	requireContains(t, out, "== Preflight ==")
	requireContains(t, out, "Work directory")
	requireContains(t, out, "Watch folder")
}
