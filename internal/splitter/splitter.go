// Package splitter cuts an archive into transport units no larger than the
// configured part size.
//
// Parts are described by offset and length only. Each Part opens its own
// section of the archive on demand, so no archive is ever held in memory and
// parts can be dispatched out of order by different workers.
package splitter

import (
	"fmt"
	"io"
	"os"
	"sort"
	"strings"

	"courier/internal/services"
)

// Source describes an archive on disk.
type Source struct {
	Name   string
	Path   string
	Size   int64
	Digest string
}

// Part is one transport unit of an archive. Index is 1-based.
type Part struct {
	Index         int
	Count         int
	Offset        int64
	Size          int64
	Name          string
	ArchiveName   string
	ArchiveDigest string

	path string
}

// Label renders "index/count".
func (p Part) Label() string {
	return fmt.Sprintf("%d/%d", p.Index, p.Count)
}

// Caption is the human readable description sent alongside a part.
func (p Part) Caption() string {
	if p.Count <= 1 {
		return p.ArchiveName
	}
	return fmt.Sprintf("Part %d of %d of %s", p.Index, p.Count, p.ArchiveName)
}

// Single reports whether the archive fits in one part.
func (p Part) Single() bool {
	return p.Count <= 1
}

// Open returns a reader over exactly this part's bytes.
func (p Part) Open() (io.ReadCloser, error) {
	f, err := os.Open(p.path)
	if err != nil {
		return nil, services.Wrap(services.ErrSplit, "split", "open part", fmt.Sprintf("Unable to open %s", p.Name), err)
	}
	return &sectionReadCloser{SectionReader: io.NewSectionReader(f, p.Offset, p.Size), f: f}, nil
}

// ReadAll loads the part into memory. Parts are bounded by the part size.
func (p Part) ReadAll() ([]byte, error) {
	rc, err := p.Open()
	if err != nil {
		return nil, err
	}
	defer rc.Close()

	buf := make([]byte, p.Size)
	if _, err := io.ReadFull(rc, buf); err != nil {
		return nil, services.Wrap(services.ErrSplit, "split", "read part", fmt.Sprintf("Short read on %s", p.Name), err)
	}
	return buf, nil
}

type sectionReadCloser struct {
	*io.SectionReader
	f *os.File
}

func (s *sectionReadCloser) Close() error {
	return s.f.Close()
}

// PartName returns the name of part index of count for archive.
func PartName(archive string, index, count int) string {
	if count <= 1 {
		return archive
	}
	return fmt.Sprintf("%s.%03d", archive, index)
}

// Split plans the parts of src. An archive at or below maxPartSize yields a
// single part carrying the archive's own name; larger archives yield
// ceil(size/maxPartSize) parts named <archive>.<NNN>, all full except the last.
func Split(src Source, maxPartSize int64) ([]Part, error) {
	if maxPartSize <= 0 {
		return nil, services.Wrap(services.ErrSplit, "split", "validate", fmt.Sprintf("Invalid part size %d", maxPartSize), nil)
	}
	info, err := os.Stat(src.Path)
	if err != nil {
		return nil, services.Wrap(services.ErrSplit, "split", "stat archive", "Archive is not readable", err)
	}
	if !info.Mode().IsRegular() {
		return nil, services.Wrap(services.ErrSplit, "split", "stat archive", "Archive is not a regular file", nil)
	}
	size := info.Size()
	if src.Size > 0 && src.Size != size {
		return nil, services.Wrap(services.ErrSplit, "split", "stat archive",
			fmt.Sprintf("Archive size changed (%d != %d)", size, src.Size), nil)
	}

	count := 1
	if size > maxPartSize {
		count = int((size + maxPartSize - 1) / maxPartSize)
	}
	parts := make([]Part, 0, count)
	for i := 0; i < count; i++ {
		offset := int64(i) * maxPartSize
		length := maxPartSize
		if remaining := size - offset; remaining < length {
			length = remaining
		}
		parts = append(parts, Part{
			Index:         i + 1,
			Count:         count,
			Offset:        offset,
			Size:          length,
			Name:          PartName(src.Name, i+1, count),
			ArchiveName:   src.Name,
			ArchiveDigest: src.Digest,
			path:          src.Path,
		})
	}
	return parts, nil
}

// Reassemble writes readers to w in the given order.
func Reassemble(w io.Writer, readers ...io.Reader) (int64, error) {
	var total int64
	for i, r := range readers {
		n, err := io.Copy(w, r)
		total += n
		if err != nil {
			return total, services.Wrap(services.ErrSplit, "reassemble", "copy part", fmt.Sprintf("Part %d failed after %d bytes", i+1, n), err)
		}
	}
	return total, nil
}

// ReassembleParts concatenates parts in index order.
func ReassembleParts(w io.Writer, parts []Part) (int64, error) {
	ordered := append([]Part(nil), parts...)
	sort.Slice(ordered, func(i, j int) bool { return ordered[i].Index < ordered[j].Index })

	var total int64
	for _, part := range ordered {
		rc, err := part.Open()
		if err != nil {
			return total, err
		}
		n, err := Reassemble(w, rc)
		rc.Close()
		total += n
		if err != nil {
			return total, err
		}
	}
	return total, nil
}

// ReassemblyHint explains how a recipient joins the parts of archive.
func ReassemblyHint(archive string, count int) string {
	if count <= 1 {
		return ""
	}
	names := make([]string, 0, count)
	for i := 1; i <= count; i++ {
		names = append(names, PartName(archive, i, count))
	}
	var b strings.Builder
	fmt.Fprintf(&b, "%s was sent in %d parts. Join them in order to restore it:\n", archive, count)
	if count <= 5 {
		fmt.Fprintf(&b, "  cat %s > %s", strings.Join(names, " "), archive)
	} else {
		fmt.Fprintf(&b, "  cat %s.* > %s", archive, archive)
	}
	return b.String()
}
