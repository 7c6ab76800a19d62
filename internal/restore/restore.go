// Package restore rebuilds a sent file from the units read back off the
// stream.
//
// Units are concatenated in index order, the result is checked against the
// archive digest carried in the unit headers, and packed archives are then
// unpacked with the processor. Passthrough units are the source file itself
// and are written out under their original name.
package restore

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"

	"courier/internal/dispatcher"
	"courier/internal/hasher"
	"courier/internal/logging"
	"courier/internal/processor"
	"courier/internal/services"
	"courier/internal/splitter"
)

// Options configures Restore.
type Options struct {
	OutDir   string
	Password string
	// KeepArchive leaves the joined archive next to the extracted files.
	KeepArchive bool
	Logger      *slog.Logger
}

// Result describes what Restore wrote.
type Result struct {
	FileID  int64
	Archive string
	Bytes   int64
	Digest  hasher.Digest
	Packed  bool
	Files   []string
}

// Restore joins msgs and writes the recovered files under opts.OutDir.
func Restore(ctx context.Context, msgs []dispatcher.Message, opts Options) (*Result, error) {
	ordered, err := order(msgs)
	if err != nil {
		return nil, err
	}
	first := ordered[0]
	logger := opts.Logger
	if logger == nil {
		logger = logging.NewNop()
	}
	logger = logger.With(
		logging.Int64("file_id", first.FileID),
		logging.String("archive", first.Archive),
	)

	if err := os.MkdirAll(opts.OutDir, 0o755); err != nil {
		return nil, services.Wrap(services.ErrIO, "restore", "create destination", "Unable to create output directory", err)
	}

	archiveName := filepath.Base(filepath.Clean("/" + first.Archive))
	tmp, err := os.CreateTemp(opts.OutDir, ".courier-restore-*")
	if err != nil {
		return nil, services.Wrap(services.ErrIO, "restore", "create temp", "Unable to create temporary archive", err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	readers := make([]io.Reader, 0, len(ordered))
	for _, msg := range ordered {
		readers = append(readers, bytes.NewReader(msg.Data))
	}
	hw := hasher.NewWriter(tmp)
	written, err := splitter.Reassemble(hw, readers...)
	if closeErr := tmp.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		return nil, err
	}

	result := &Result{
		FileID:  first.FileID,
		Archive: archiveName,
		Bytes:   written,
		Digest:  hw.Digest(),
		Packed:  packed(first, archiveName),
	}
	if first.ArchiveDigest != "" && string(result.Digest) != first.ArchiveDigest {
		return nil, services.Wrap(services.ErrSplit, "restore", "verify archive",
			fmt.Sprintf("Archive digest mismatch (got %s, want %s)", result.Digest.Short(), hasher.Digest(first.ArchiveDigest).Short()), nil)
	}
	logger.Debug("archive joined",
		logging.Int("parts", len(ordered)),
		logging.Bytes("bytes", written),
	)

	if !result.Packed {
		target := filepath.Join(opts.OutDir, archiveName)
		if err := os.Rename(tmpPath, target); err != nil {
			return nil, services.Wrap(services.ErrIO, "restore", "write file", "Unable to move restored file into place", err)
		}
		result.Files = []string{target}
		return result, nil
	}

	if opts.KeepArchive {
		target := filepath.Join(opts.OutDir, archiveName)
		if err := os.Rename(tmpPath, target); err != nil {
			return nil, services.Wrap(services.ErrIO, "restore", "keep archive", "Unable to move archive into place", err)
		}
		tmpPath = target
	}
	f, err := os.Open(tmpPath)
	if err != nil {
		return nil, services.Wrap(services.ErrIO, "restore", "open archive", "Unable to reopen joined archive", err)
	}
	defer f.Close()
	files, err := processor.Unpack(ctx, f, opts.Password, opts.OutDir)
	if err != nil {
		return nil, err
	}
	result.Files = files
	logger.Info("file restored", logging.Int("files", len(files)))
	return result, nil
}

// packed reports whether the joined bytes are a processor archive. A
// passthrough archive is the source file, so both digests agree.
func packed(msg dispatcher.Message, archiveName string) bool {
	if msg.ArchiveDigest != "" && msg.Digest != "" {
		return msg.ArchiveDigest != msg.Digest
	}
	return processor.IsPacked(archiveName)
}

// order sorts msgs by index and checks they form one complete set.
func order(msgs []dispatcher.Message) ([]dispatcher.Message, error) {
	if len(msgs) == 0 {
		return nil, services.Wrap(services.ErrNotFound, "restore", "validate", "No parts to restore", nil)
	}
	ordered := append([]dispatcher.Message(nil), msgs...)
	sort.Slice(ordered, func(i, j int) bool { return ordered[i].Index < ordered[j].Index })

	first := ordered[0]
	if name := filepath.Base(filepath.Clean("/" + first.Archive)); name == "/" || name == "." {
		return nil, services.Wrap(services.ErrSplit, "restore", "validate", "Parts carry no archive name", nil)
	}
	count := first.Count
	if count < 1 {
		count = 1
	}
	if len(ordered) != count {
		return nil, services.Wrap(services.ErrSplit, "restore", "validate",
			fmt.Sprintf("Have %d of %d parts", len(ordered), count), nil)
	}
	for i, msg := range ordered {
		if msg.Index != i+1 {
			return nil, services.Wrap(services.ErrSplit, "restore", "validate",
				fmt.Sprintf("Part %d is missing", i+1), nil)
		}
		if msg.FileID != first.FileID || msg.ArchiveDigest != first.ArchiveDigest {
			return nil, services.Wrap(services.ErrSplit, "restore", "validate",
				fmt.Sprintf("Part %d belongs to a different file", msg.Index), nil)
		}
	}
	return ordered, nil
}
