package hasher_test

import (
	"context"
	"errors"
	"io"
	"path/filepath"
	"strings"
	"testing"

	"courier/internal/hasher"
	"courier/internal/services"
	"courier/internal/testsupport"
)

func TestSumIsStable(t *testing.T) {
	dir := t.TempDir()
	a := filepath.Join(dir, "a.bin")
	b := filepath.Join(dir, "b.bin")
	testsupport.WritePattern(t, a, 3*hasher.BlockSize+17)
	testsupport.WritePattern(t, b, 3*hasher.BlockSize+17)

	ctx := context.Background()
	first, err := hasher.Sum(ctx, a)
	if err != nil {
		t.Fatalf("Sum: %v", err)
	}
	second, err := hasher.Sum(ctx, a)
	if err != nil {
		t.Fatalf("Sum: %v", err)
	}
	copyDigest, err := hasher.Sum(ctx, b)
	if err != nil {
		t.Fatalf("Sum: %v", err)
	}
	if first != second || first != copyDigest {
		t.Fatalf("expected identical digests, got %s %s %s", first, second, copyDigest)
	}
	if len(first) != 64 || strings.ToLower(string(first)) != string(first) {
		t.Fatalf("expected 64 lowercase hex chars, got %q", first)
	}
}

func TestSumKnownValue(t *testing.T) {
	digest, n, err := hasher.SumReader(context.Background(), strings.NewReader("abc"))
	if err != nil {
		t.Fatalf("SumReader: %v", err)
	}
	if n != 3 {
		t.Fatalf("expected 3 bytes, got %d", n)
	}
	const want = "ba7816bf8f01cfea414140de5dae2223b00361a396177a9cb410ff61f20015ad"
	if string(digest) != want {
		t.Fatalf("digest = %s, want %s", digest, want)
	}
	if digest.Short() != want[:12] {
		t.Fatalf("short = %s", digest.Short())
	}
}

func TestSumMissingFileIsHashAndIOError(t *testing.T) {
	_, err := hasher.Sum(context.Background(), filepath.Join(t.TempDir(), "missing"))
	if err == nil {
		t.Fatal("expected error")
	}
	if !errors.Is(err, services.ErrHash) || !errors.Is(err, services.ErrIO) {
		t.Fatalf("expected hash error wrapping io error, got %v", err)
	}
}

type failingReader struct{}

func (failingReader) Read([]byte) (int, error) { return 0, io.ErrUnexpectedEOF }

func TestSumReaderReadFailure(t *testing.T) {
	_, _, err := hasher.SumReader(context.Background(), failingReader{})
	if !errors.Is(err, services.ErrHash) {
		t.Fatalf("expected hash error, got %v", err)
	}
}

func TestSumReaderHonoursCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, _, err := hasher.SumReader(ctx, strings.NewReader("data"))
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestWriterMatchesSumReader(t *testing.T) {
	var sb strings.Builder
	w := hasher.NewWriter(&sb)
	if _, err := io.WriteString(w, "hello courier"); err != nil {
		t.Fatalf("write: %v", err)
	}
	want, _, _ := hasher.SumReader(context.Background(), strings.NewReader("hello courier"))
	if w.Digest() != want || w.Written() != int64(len("hello courier")) {
		t.Fatalf("writer digest %s (%d bytes), want %s", w.Digest(), w.Written(), want)
	}
	if sb.String() != "hello courier" {
		t.Fatalf("writer did not pass bytes through: %q", sb.String())
	}
}
