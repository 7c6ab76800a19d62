package splitter_test

import (
	"bytes"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"courier/internal/services"
	"courier/internal/splitter"
	"courier/internal/testsupport"
)

func writeArchive(t *testing.T, name string, size int64) splitter.Source {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	testsupport.WritePattern(t, path, size)
	return splitter.Source{Name: name, Path: path, Size: size, Digest: "d"}
}

func TestSplitPartCounts(t *testing.T) {
	const p = 1000
	cases := []struct {
		size  int64
		count int
	}{
		{size: 1, count: 1},
		{size: p - 1, count: 1},
		{size: p, count: 1},
		{size: p + 1, count: 2},
		{size: 2 * p, count: 2},
		{size: 2*p + 1, count: 3},
		{size: 10*p - 7, count: 10},
	}
	for _, tc := range cases {
		src := writeArchive(t, "a.bin", tc.size)
		parts, err := splitter.Split(src, p)
		if err != nil {
			t.Fatalf("Split(%d): %v", tc.size, err)
		}
		if len(parts) != tc.count {
			t.Fatalf("Split(%d): expected %d parts, got %d", tc.size, tc.count, len(parts))
		}
		var sum int64
		for i, part := range parts {
			if part.Index != i+1 || part.Count != tc.count {
				t.Fatalf("Split(%d): part %d has index %d count %d", tc.size, i, part.Index, part.Count)
			}
			if part.Size > p || part.Size <= 0 {
				t.Fatalf("Split(%d): part %d has size %d", tc.size, i, part.Size)
			}
			if i < len(parts)-1 && part.Size != p {
				t.Fatalf("Split(%d): non-final part %d has size %d", tc.size, i, part.Size)
			}
			sum += part.Size
		}
		if sum != tc.size {
			t.Fatalf("Split(%d): parts sum to %d", tc.size, sum)
		}
	}
}

func TestSplitNamesAndLabels(t *testing.T) {
	const kib = 1024
	src := writeArchive(t, "video.mkv.tar.zst", 120*kib)
	parts, err := splitter.Split(src, 50*kib)
	if err != nil {
		t.Fatalf("Split: %v", err)
	}
	wantSizes := []int64{50 * kib, 50 * kib, 20 * kib}
	wantNames := []string{"video.mkv.tar.zst.001", "video.mkv.tar.zst.002", "video.mkv.tar.zst.003"}
	wantLabels := []string{"1/3", "2/3", "3/3"}
	for i, part := range parts {
		if part.Size != wantSizes[i] || part.Name != wantNames[i] || part.Label() != wantLabels[i] {
			t.Fatalf("part %d = %+v (label %s)", i, part, part.Label())
		}
	}
	if parts[1].Caption() != "Part 2 of 3 of video.mkv.tar.zst" {
		t.Fatalf("unexpected caption %q", parts[1].Caption())
	}

	single, err := splitter.Split(writeArchive(t, "small.txt", 10), 50*kib)
	if err != nil {
		t.Fatalf("Split: %v", err)
	}
	if len(single) != 1 || single[0].Name != "small.txt" || !single[0].Single() {
		t.Fatalf("unexpected single part %+v", single)
	}
}

func TestReassembleRestoresArchive(t *testing.T) {
	src := writeArchive(t, "blob.bin", 7*4096+11)
	parts, err := splitter.Split(src, 4096)
	if err != nil {
		t.Fatalf("Split: %v", err)
	}

	// Shuffle to prove ordering is by index.
	shuffled := []splitter.Part{parts[3], parts[0], parts[7], parts[1], parts[6], parts[2], parts[5], parts[4]}
	var buf bytes.Buffer
	n, err := splitter.ReassembleParts(&buf, shuffled)
	if err != nil {
		t.Fatalf("ReassembleParts: %v", err)
	}
	want, _ := os.ReadFile(src.Path)
	if n != int64(len(want)) || !bytes.Equal(buf.Bytes(), want) {
		t.Fatal("reassembled bytes differ from the archive")
	}

	readers := make([]io.Reader, 0, len(parts))
	for _, part := range parts {
		data, err := part.ReadAll()
		if err != nil {
			t.Fatalf("ReadAll: %v", err)
		}
		readers = append(readers, bytes.NewReader(data))
	}
	buf.Reset()
	if _, err := splitter.Reassemble(&buf, readers...); err != nil {
		t.Fatalf("Reassemble: %v", err)
	}
	if !bytes.Equal(buf.Bytes(), want) {
		t.Fatal("reassembled bytes differ from the archive")
	}
}

func TestSplitErrors(t *testing.T) {
	src := writeArchive(t, "a.bin", 10)
	if _, err := splitter.Split(src, 0); !errors.Is(err, services.ErrSplit) {
		t.Fatalf("expected split error for zero part size, got %v", err)
	}
	missing := splitter.Source{Name: "gone", Path: filepath.Join(t.TempDir(), "gone")}
	if _, err := splitter.Split(missing, 10); !errors.Is(err, services.ErrSplit) {
		t.Fatalf("expected split error for missing archive, got %v", err)
	}
}

func TestReassemblyHint(t *testing.T) {
	if hint := splitter.ReassemblyHint("a.zip", 1); hint != "" {
		t.Fatalf("expected no hint for a single part, got %q", hint)
	}
	hint := splitter.ReassemblyHint("a.zip", 3)
	if !strings.Contains(hint, "cat a.zip.001 a.zip.002 a.zip.003 > a.zip") {
		t.Fatalf("unexpected hint %q", hint)
	}
}
