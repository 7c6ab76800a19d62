package services_test

import (
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"courier/internal/services"
	"courier/internal/store"
)

func TestWrapIncludesContext(t *testing.T) {
	base := errors.New("boom")
	err := services.Wrap(services.ErrCompression, "process", "zstd", "write failed", base)
	if !errors.Is(err, services.ErrCompression) {
		t.Fatalf("expected marker to be retained, got %v", err)
	}
	if !errors.Is(err, base) {
		t.Fatalf("expected wrapped error to contain base error, got %v", err)
	}
	msg := err.Error()
	for _, fragment := range []string{"compression error", "process", "zstd", "write failed", "boom"} {
		if !strings.Contains(msg, fragment) {
			t.Fatalf("expected %q in error string %q", fragment, msg)
		}
	}
}

func TestHashErrorIsIOError(t *testing.T) {
	err := services.Wrap(services.ErrHash, "hash", "read", "short read", errors.New("eof"))
	if !errors.Is(err, services.ErrIO) {
		t.Fatal("expected hash error to match ErrIO")
	}
	if kind := services.Kind(err); kind != "hash" {
		t.Fatalf("expected hash kind, got %q", kind)
	}
	if kind := services.Kind(services.Wrap(services.ErrIO, "scan", "stat", "", nil)); kind != "io" {
		t.Fatalf("expected io kind, got %q", kind)
	}
}

func TestFailureStatusMapping(t *testing.T) {
	encErr := services.Wrap(services.ErrEncryption, "process", "age", "bad password", nil)
	if status := services.FailureStatus(encErr); status != store.StatusBlocked {
		t.Fatalf("expected blocked for encryption error, got %s", status)
	}

	uploadErr := services.Wrap(services.ErrUpload, "dispatch", "send", "exhausted", errors.New("timeout"))
	if status := services.FailureStatus(uploadErr); status != store.StatusFailed {
		t.Fatalf("expected failed for upload error, got %s", status)
	}

	if status := services.FailureStatus(nil); status != store.StatusFailed {
		t.Fatalf("expected failed for nil error, got %s", status)
	}
}

func TestDetails(t *testing.T) {
	cause := errors.New("disk full")
	err := fmt.Errorf("outer: %w", services.Wrap(services.ErrSplit, "split", "open part", "cannot read", cause))
	details := services.Details(err)
	if details.Kind != "split" || details.Stage != "split" || details.Operation != "open part" {
		t.Fatalf("unexpected details: %+v", details)
	}
	if details.Message != "cannot read" || details.Cause != cause {
		t.Fatalf("unexpected message/cause: %+v", details)
	}
	if details.Hint == "" {
		t.Fatal("expected hint")
	}
	if (services.Details(nil) != services.ErrorDetails{}) {
		t.Fatal("expected empty details for nil")
	}
}

func TestRetryAfter(t *testing.T) {
	base := services.Wrap(services.ErrTransient, "dispatch", "send", "rate limited", nil)
	err := services.WithRetryAfter(base, 3*time.Second)
	delay, ok := services.RetryAfter(fmt.Errorf("send: %w", err))
	if !ok || delay != 3*time.Second {
		t.Fatalf("unexpected retry-after: %v %v", delay, ok)
	}
	if !errors.Is(err, services.ErrTransient) {
		t.Fatal("expected hint wrapper to preserve marker")
	}
	if _, ok := services.RetryAfter(base); ok {
		t.Fatal("expected no hint on plain error")
	}
	if services.WithRetryAfter(nil, time.Second) != nil {
		t.Fatal("expected nil passthrough")
	}
}
