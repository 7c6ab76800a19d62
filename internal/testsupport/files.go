package testsupport

import (
	"math/rand/v2"
	"os"
	"path/filepath"
	"testing"
)

// WriteFile fills the target path with the requested number of bytes using a
// simple repeating pattern. A size <= 0 writes a single byte.
func WriteFile(t testing.TB, path string, size int64) {
	t.Helper()
	writeFill(t, path, size, func(buf []byte, _ int64) {
		for i := range buf {
			buf[i] = 0x42
		}
	})
}

// WritePattern writes size bytes whose value depends on their offset, so
// misplaced or reordered ranges are detectable after a round trip.
func WritePattern(t testing.TB, path string, size int64) {
	t.Helper()
	writeFill(t, path, size, func(buf []byte, offset int64) {
		for i := range buf {
			pos := offset + int64(i)
			buf[i] = byte(pos*31 + pos/251)
		}
	})
}

// WriteRandom writes size seeded pseudo-random bytes. The content does not
// compress, so packed archives stay about as large as the source.
func WriteRandom(t testing.TB, path string, size int64, seed uint64) {
	t.Helper()
	rng := rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
	writeFill(t, path, size, func(buf []byte, _ int64) {
		for i := range buf {
			buf[i] = byte(rng.Uint32())
		}
	})
}

func writeFill(t testing.TB, path string, size int64, fill func([]byte, int64)) {
	t.Helper()

	if size <= 0 {
		size = 1
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir for %s: %v", path, err)
	}
	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("create %s: %v", path, err)
	}
	defer f.Close()

	const chunkSize = 32 * 1024
	buf := make([]byte, chunkSize)
	var offset int64
	for offset < size {
		toWrite := int64(chunkSize)
		if size-offset < toWrite {
			toWrite = size - offset
		}
		fill(buf[:toWrite], offset)
		if _, err := f.Write(buf[:toWrite]); err != nil {
			t.Fatalf("write %s: %v", path, err)
		}
		offset += toWrite
	}
}
