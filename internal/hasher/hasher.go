// Package hasher computes content digests of source files.
//
// A digest is the lowercase hex SHA-256 of the file bytes, computed in fixed
// 64 KiB blocks so memory stays flat regardless of file size. Identical bytes
// always give identical digests; the dedup index relies on that.
package hasher

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"hash"
	"io"
	"os"

	"courier/internal/services"
)

// BlockSize is the read size used while hashing.
const BlockSize = 64 * 1024

// Digest is a lowercase hex SHA-256 value.
type Digest string

// String returns the hex form.
func (d Digest) String() string { return string(d) }

// Short returns the first 12 characters, for logs.
func (d Digest) Short() string {
	if len(d) <= 12 {
		return string(d)
	}
	return string(d[:12])
}

// Sum hashes the file at path.
func Sum(ctx context.Context, path string) (Digest, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", services.Wrap(services.ErrHash, "hash", "open source", "Unable to open file for hashing", err)
	}
	defer f.Close()

	digest, _, err := SumReader(ctx, f)
	return digest, err
}

// SumReader hashes r to EOF and returns the digest with the byte count.
// Cancellation is checked between blocks.
func SumReader(ctx context.Context, r io.Reader) (Digest, int64, error) {
	h := sha256.New()
	buf := make([]byte, BlockSize)
	var total int64
	for {
		if err := ctx.Err(); err != nil {
			return "", total, err
		}
		n, err := r.Read(buf)
		if n > 0 {
			h.Write(buf[:n])
			total += int64(n)
		}
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return "", total, services.Wrap(services.ErrHash, "hash", "read source", fmt.Sprintf("Read failed after %d bytes", total), err)
		}
	}
	return Digest(hex.EncodeToString(h.Sum(nil))), total, nil
}

// Writer hashes bytes as they are written through it.
type Writer struct {
	w io.Writer
	h hash.Hash
	n int64
}

// NewWriter wraps w so that everything written is also hashed.
func NewWriter(w io.Writer) *Writer {
	return &Writer{w: w, h: sha256.New()}
}

func (w *Writer) Write(p []byte) (int, error) {
	n, err := w.w.Write(p)
	w.h.Write(p[:n])
	w.n += int64(n)
	return n, err
}

// Digest returns the digest of bytes written so far.
func (w *Writer) Digest() Digest {
	return Digest(hex.EncodeToString(w.h.Sum(nil)))
}

// Written returns the number of bytes written.
func (w *Writer) Written() int64 {
	return w.n
}
