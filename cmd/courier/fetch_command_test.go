package main

import (
	"context"
	"strconv"
	"strings"
	"testing"

	"courier/internal/config"
	"courier/internal/store"
	"courier/internal/testsupport"
)

func TestFetchValidatesArguments(t *testing.T) {
	env := setupCLITestEnv(t)

	if _, _, err := runCLI(t, []string{"fetch"}, env.configPath); err == nil {
		t.Fatal("expected missing file-id to fail")
	}
	if _, _, err := runCLI(t, []string{"fetch", "0"}, env.configPath); err == nil || !strings.Contains(err.Error(), "invalid id") {
		t.Fatalf("expected invalid id error, got %v", err)
	}
}

func TestFetchReportsUnreachableTransport(t *testing.T) {
	env := setupCLITestEnv(t, testsupport.WithConfig(func(c *config.Config) {
		c.Transport.NATSURL = "nats://127.0.0.1:1"
		c.Transport.ConnectTimeout = 1
	}))

	_, up := seedUpload(t, env)

	_, _, err := runCLI(t, []string{"fetch", strconv.FormatInt(up.ID, 10), "--out", t.TempDir()}, env.configPath)
	if err == nil || !strings.Contains(err.Error(), "connect transport") {
		t.Fatalf("expected transport error, got %v", err)
	}
}

func TestFetchRequiresKnownUpload(t *testing.T) {
	env := setupCLITestEnv(t, testsupport.WithConfig(func(c *config.Config) {
		c.Transport.NATSURL = "nats://127.0.0.1:1"
		c.Transport.ConnectTimeout = 1
	}))

	_, _, err := runCLI(t, []string{"fetch", "404", "--out", t.TempDir()}, env.configPath)
	if err == nil || !strings.Contains(err.Error(), "file 404 not found") {
		t.Fatalf("expected lookup error, got %v", err)
	}

	ctx := context.Background()
	up, err := env.store.CreateUpload(ctx, store.UploadSpec{Name: "pending.bin", SourcePath: "/inbox/pending.bin", Digest: "d"})
	if err != nil {
		t.Fatalf("CreateUpload: %v", err)
	}
	_, _, err = runCLI(t, []string{"fetch", strconv.FormatInt(up.ID, 10), "--out", t.TempDir()}, env.configPath)
	if err == nil || !strings.Contains(err.Error(), "no recorded parts") {
		t.Fatalf("expected missing parts error, got %v", err)
	}
}
