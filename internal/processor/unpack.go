package processor

import (
	"archive/tar"
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"

	"filippo.io/age"
	"github.com/klauspost/compress/zstd"

	"courier/internal/hasher"
	"courier/internal/services"
)

var (
	ageMagic  = []byte("age-encryption.org/")
	zstdMagic = []byte{0x28, 0xb5, 0x2f, 0xfd}
)

// Unpack reverses Process for a packed archive read from r, extracting its
// members into destDir and verifying them against the manifest. Layers are
// detected from the stream itself. A wrong password fails before anything is
// written.
func Unpack(ctx context.Context, r io.Reader, password, destDir string) ([]string, error) {
	br := bufio.NewReader(r)
	u := &unpacker{}

	if hasPrefix(br, ageMagic) {
		if password == "" {
			return nil, services.Wrap(services.ErrEncryption, "unpack", "decrypt", "Archive is encrypted and no password was given", nil)
		}
		identity, err := age.NewScryptIdentity(password)
		if err != nil {
			return nil, services.Wrap(services.ErrEncryption, "unpack", "decrypt", "Invalid password", err)
		}
		plain, err := age.Decrypt(br, identity)
		if err != nil {
			return nil, services.Wrap(services.ErrEncryption, "unpack", "decrypt", "Unable to decrypt archive (wrong password?)", err)
		}
		u.decrypt = &decryptReader{r: plain}
		br = bufio.NewReader(u.decrypt)
	}

	var src io.Reader = br
	if hasPrefix(br, zstdMagic) {
		decoder, err := zstd.NewReader(br)
		if err != nil {
			return nil, services.Wrap(services.ErrCompression, "unpack", "decompress", "Unable to open zstd stream", err)
		}
		defer decoder.Close()
		src = decoder
	}

	if err := os.MkdirAll(destDir, 0o755); err != nil {
		return nil, services.Wrap(services.ErrIO, "unpack", "create destination", "Unable to create output directory", err)
	}

	return u.extract(ctx, tar.NewReader(src), destDir)
}

func (u *unpacker) extract(ctx context.Context, tr *tar.Reader, destDir string) ([]string, error) {
	var (
		written  []string
		digests  = make(map[string]ManifestEntry)
		manifest *Manifest
	)
	for {
		if err := ctx.Err(); err != nil {
			return written, err
		}
		header, err := tr.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return written, u.readError(err, "read tar header")
		}
		if header.Typeflag != tar.TypeReg {
			continue
		}
		name := filepath.Base(filepath.Clean("/" + header.Name))
		if name == "/" || name == "." {
			continue
		}

		if name == ManifestName {
			data, err := io.ReadAll(io.LimitReader(tr, 1<<20))
			if err != nil {
				return written, u.readError(err, "read manifest")
			}
			if manifest, err = parseManifest(data); err != nil {
				return written, services.Wrap(services.ErrCompression, "unpack", "parse manifest", "Archive manifest is corrupt", err)
			}
			continue
		}

		target := filepath.Join(destDir, name)
		entry, err := u.extractMember(tr, target, header)
		if err != nil {
			return written, err
		}
		written = append(written, target)
		digests[name] = entry
	}

	if manifest != nil {
		if err := verifyManifest(manifest, digests); err != nil {
			return written, err
		}
	}
	return written, nil
}

func (u *unpacker) extractMember(tr *tar.Reader, target string, header *tar.Header) (ManifestEntry, error) {
	mode := os.FileMode(header.Mode).Perm()
	if mode == 0 {
		mode = 0o644
	}
	out, err := os.OpenFile(target, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, mode)
	if err != nil {
		return ManifestEntry{}, services.Wrap(services.ErrIO, "unpack", "create file", fmt.Sprintf("Unable to create %s", target), err)
	}
	digestWriter := hasher.NewWriter(out)
	n, copyErr := io.Copy(digestWriter, tr)
	closeErr := out.Close()
	if copyErr != nil {
		os.Remove(target)
		return ManifestEntry{}, u.readError(copyErr, "extract "+header.Name)
	}
	if closeErr != nil {
		return ManifestEntry{}, services.Wrap(services.ErrIO, "unpack", "close file", fmt.Sprintf("Unable to write %s", target), closeErr)
	}
	if !header.ModTime.IsZero() {
		_ = os.Chtimes(target, header.ModTime, header.ModTime)
	}
	return ManifestEntry{Name: filepath.Base(target), Size: n, SHA256: string(digestWriter.Digest())}, nil
}

func verifyManifest(m *Manifest, got map[string]ManifestEntry) error {
	for _, want := range m.Files {
		entry, ok := got[want.Name]
		if !ok {
			return services.Wrap(services.ErrCompression, "unpack", "verify manifest", fmt.Sprintf("Archive is missing %s", want.Name), nil)
		}
		if entry.Size != want.Size || !strings.EqualFold(entry.SHA256, want.SHA256) {
			return services.Wrap(services.ErrCompression, "unpack", "verify manifest", fmt.Sprintf("%s does not match its manifest digest", want.Name), nil)
		}
	}
	return nil
}

// unpacker carries the layers detected for one stream.
type unpacker struct {
	decrypt *decryptReader
}

// decryptReader records whether the age layer failed. age reports tampering
// or truncation from Read, and zstd may surface that error from a background
// goroutine, so the flag is atomic.
type decryptReader struct {
	r      io.Reader
	failed atomic.Bool
}

func (d *decryptReader) Read(p []byte) (int, error) {
	n, err := d.r.Read(p)
	if err != nil && !errors.Is(err, io.EOF) {
		d.failed.Store(true)
	}
	return n, err
}

// readError classifies a failure while reading the decoded stream.
func (u *unpacker) readError(err error, op string) error {
	var pathErr *os.PathError
	if errors.As(err, &pathErr) {
		return services.Wrap(services.ErrIO, "unpack", op, "Write failed", err)
	}
	if u.decrypt != nil && u.decrypt.failed.Load() {
		return services.Wrap(services.ErrEncryption, "unpack", op, "Encrypted payload failed authentication", err)
	}
	return services.Wrap(services.ErrCompression, "unpack", op, "Archive stream is corrupt", err)
}

func hasPrefix(br *bufio.Reader, magic []byte) bool {
	head, _ := br.Peek(len(magic))
	return bytes.Equal(head, magic)
}
