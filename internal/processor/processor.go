package processor

import (
	"archive/tar"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"filippo.io/age"
	"github.com/google/uuid"
	"github.com/klauspost/compress/zstd"

	"courier/internal/config"
	"courier/internal/hasher"
	"courier/internal/logging"
	"courier/internal/preflight"
	"courier/internal/services"
)

// Options configures a Processor.
type Options struct {
	Compression      string
	Encrypt          bool
	Password         string
	WorkDir          string
	ScryptWorkFactor int
	Logger           *slog.Logger
}

// OptionsFromConfig maps the processing section onto Options.
func OptionsFromConfig(cfg *config.Config, logger *slog.Logger) Options {
	return Options{
		Compression:      cfg.Processing.CompressionLevel,
		Encrypt:          cfg.Processing.EncryptionEnabled,
		Password:         cfg.Processing.Password,
		WorkDir:          cfg.Paths.WorkDir,
		ScryptWorkFactor: cfg.Processing.ScryptWorkFactor,
		Logger:           logger,
	}
}

// Input names the files that make up one archive.
type Input struct {
	Name   string
	Paths  []string
	Digest hasher.Digest // source digest, reused by passthrough when set
}

// Archive is the processed artifact handed to the splitter.
type Archive struct {
	Name        string
	Path        string
	Size        int64
	Digest      hasher.Digest
	Compression string
	Encrypted   bool
	// Owned archives live in the work dir and are deleted by Remove.
	Owned bool
	Files []ManifestEntry

	dir string
}

// Remove deletes an owned archive and its private directory.
func (a *Archive) Remove() error {
	if a == nil || !a.Owned || a.dir == "" {
		return nil
	}
	if err := os.RemoveAll(a.dir); err != nil {
		return fmt.Errorf("remove archive dir: %w", err)
	}
	return nil
}

// DirName is the name of the archive's directory under the work dir, or ""
// for passthrough archives.
func (a *Archive) DirName() string {
	if a == nil || a.dir == "" {
		return ""
	}
	return filepath.Base(a.dir)
}

// Processor produces archives using the strategy chosen at construction.
type Processor struct {
	opts      Options
	level     zstd.EncoderLevel
	recipient *age.ScryptRecipient
	logger    *slog.Logger
}

// New validates opts and selects the processing strategy.
func New(opts Options) (*Processor, error) {
	opts.Compression = strings.ToLower(strings.TrimSpace(opts.Compression))
	if opts.Compression == "" {
		opts.Compression = config.CompressionNone
	}
	p := &Processor{opts: opts, logger: opts.Logger}
	if p.logger == nil {
		p.logger = logging.NewNop()
	}
	p.logger = logging.NewComponentLogger(p.logger, "processor")

	switch opts.Compression {
	case config.CompressionNone:
	case config.CompressionFast:
		p.level = zstd.SpeedFastest
	case config.CompressionDefault:
		p.level = zstd.SpeedBestCompression
	default:
		return nil, services.Wrap(services.ErrConfiguration, "process", "select strategy",
			fmt.Sprintf("Unknown compression level %q", opts.Compression), nil)
	}

	if opts.Encrypt {
		if opts.Password == "" {
			return nil, services.Wrap(services.ErrConfiguration, "process", "select strategy",
				"Encryption enabled without a password", nil)
		}
		recipient, err := age.NewScryptRecipient(opts.Password)
		if err != nil {
			return nil, services.Wrap(services.ErrEncryption, "process", "create recipient", "Invalid encryption password", err)
		}
		if opts.ScryptWorkFactor > 0 {
			recipient.SetWorkFactor(opts.ScryptWorkFactor)
		}
		p.recipient = recipient
	}
	if !p.Passthrough() && strings.TrimSpace(opts.WorkDir) == "" {
		return nil, services.Wrap(services.ErrConfiguration, "process", "select strategy", "Work directory is required", nil)
	}
	return p, nil
}

// Passthrough reports whether single files are sent unmodified.
func (p *Processor) Passthrough() bool {
	return p.opts.Compression == config.CompressionNone && !p.opts.Encrypt
}

// Strategy names the selected strategy for logs and status output.
func (p *Processor) Strategy() string {
	if p.Passthrough() {
		return "passthrough"
	}
	return "pack"
}

// Encrypted reports whether archives are encrypted.
func (p *Processor) Encrypted() bool {
	return p.opts.Encrypt
}

// Compression returns the configured compression level.
func (p *Processor) Compression() string {
	return p.opts.Compression
}

// Extension returns the suffix appended to packed archive names.
func (p *Processor) Extension() string {
	return ArchiveExtension(p.opts.Compression != config.CompressionNone, p.opts.Encrypt)
}

// ArchiveExtension returns the packed archive suffix for a layer combination.
func ArchiveExtension(compressed, encrypted bool) string {
	ext := ".tar"
	if compressed {
		ext += ".zst"
	}
	if encrypted {
		ext += ".age"
	}
	return ext
}

// IsPacked reports whether name carries a packed archive suffix.
func IsPacked(name string) bool {
	lower := strings.ToLower(name)
	for _, ext := range []string{".tar", ".tar.zst", ".tar.age", ".tar.zst.age"} {
		if strings.HasSuffix(lower, ext) {
			return true
		}
	}
	return false
}

// Process builds the archive for in.
func (p *Processor) Process(ctx context.Context, in Input) (*Archive, error) {
	if len(in.Paths) == 0 {
		return nil, services.Wrap(services.ErrIO, "process", "validate input", "No source files", nil)
	}
	if in.Name == "" {
		in.Name = filepath.Base(in.Paths[0])
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if p.Passthrough() && len(in.Paths) == 1 {
		return p.passthrough(ctx, in)
	}
	return p.pack(ctx, in)
}

func (p *Processor) passthrough(ctx context.Context, in Input) (*Archive, error) {
	path := in.Paths[0]
	info, err := os.Stat(path)
	if err != nil {
		return nil, services.Wrap(services.ErrIO, "process", "stat source", "Source file is not readable", err)
	}
	digest := in.Digest
	if digest == "" {
		if digest, err = hasher.Sum(ctx, path); err != nil {
			return nil, err
		}
	}
	return &Archive{
		Name:        in.Name,
		Path:        path,
		Size:        info.Size(),
		Digest:      digest,
		Compression: config.CompressionNone,
		Files:       []ManifestEntry{{Name: in.Name, Size: info.Size(), SHA256: string(digest)}},
	}, nil
}

func (p *Processor) pack(ctx context.Context, in Input) (arch *Archive, err error) {
	var total int64
	for _, path := range in.Paths {
		info, statErr := os.Stat(path)
		if statErr != nil {
			return nil, services.Wrap(services.ErrIO, "process", "stat source", "Source file is not readable", statErr)
		}
		if !info.Mode().IsRegular() {
			return nil, services.Wrap(services.ErrIO, "process", "stat source", fmt.Sprintf("%s is not a regular file", path), nil)
		}
		total += info.Size()
	}

	if err := os.MkdirAll(p.opts.WorkDir, 0o755); err != nil {
		return nil, services.Wrap(services.ErrIO, "process", "create work dir", "Unable to create work directory", err)
	}
	if free, statErr := preflight.FreeBytes(p.opts.WorkDir); statErr == nil && free < uint64(total) {
		return nil, services.Wrap(services.ErrIO, "process", "check free space",
			fmt.Sprintf("Work directory has %d bytes free, need %d", free, total), nil)
	}

	dir := filepath.Join(p.opts.WorkDir, uuid.NewString())
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, services.Wrap(services.ErrIO, "process", "create archive dir", "Unable to create archive directory", err)
	}
	defer func() {
		if err != nil {
			os.RemoveAll(dir)
		}
	}()

	name := in.Name + p.Extension()
	path := filepath.Join(dir, name)
	file, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o600)
	if err != nil {
		return nil, services.Wrap(services.ErrIO, "process", "create archive", "Unable to create archive file", err)
	}
	defer func() {
		if file != nil {
			file.Close()
		}
	}()

	digestWriter := hasher.NewWriter(file)
	var sink io.Writer = digestWriter

	var encryptor io.WriteCloser
	if p.recipient != nil {
		encryptor, err = age.Encrypt(sink, p.recipient)
		if err != nil {
			return nil, services.Wrap(services.ErrEncryption, "process", "start encryption", "Unable to start age stream", err)
		}
		sink = encryptor
	}

	var encoder *zstd.Encoder
	if p.opts.Compression != config.CompressionNone {
		encoder, err = zstd.NewWriter(sink, zstd.WithEncoderLevel(p.level), zstd.WithEncoderConcurrency(1))
		if err != nil {
			return nil, services.Wrap(services.ErrCompression, "process", "start compression", "Unable to start zstd stream", err)
		}
		sink = encoder
		defer func() {
			if err != nil {
				encoder.Close()
			}
		}()
	}

	manifest := &Manifest{
		Version:     manifestVersion,
		CreatedAt:   time.Now().UTC().Truncate(time.Second),
		Compression: p.opts.Compression,
		Encrypted:   p.recipient != nil,
	}
	tw := tar.NewWriter(sink)
	used := make(map[string]int)
	for _, src := range in.Paths {
		entry, addErr := addFile(ctx, tw, src, memberName(filepath.Base(src), used))
		if addErr != nil {
			return nil, addErr
		}
		manifest.Files = append(manifest.Files, entry)
	}

	manifestBytes, err := manifest.marshal()
	if err != nil {
		return nil, services.Wrap(services.ErrCompression, "process", "marshal manifest", "Unable to encode manifest", err)
	}
	if err := writeMember(tw, ManifestName, manifestBytes, manifest.CreatedAt); err != nil {
		return nil, err
	}

	if err := tw.Close(); err != nil {
		return nil, services.Wrap(services.ErrCompression, "process", "close tar", "Unable to finish tar stream", err)
	}
	if encoder != nil {
		if err := encoder.Close(); err != nil {
			return nil, services.Wrap(services.ErrCompression, "process", "close zstd", "Unable to finish zstd stream", err)
		}
	}
	if encryptor != nil {
		if err := encryptor.Close(); err != nil {
			return nil, services.Wrap(services.ErrEncryption, "process", "close age", "Unable to finish age stream", err)
		}
	}
	if err := file.Sync(); err != nil {
		return nil, services.Wrap(services.ErrIO, "process", "sync archive", "Unable to flush archive", err)
	}
	closeErr := file.Close()
	file = nil
	if closeErr != nil {
		return nil, services.Wrap(services.ErrIO, "process", "close archive", "Unable to close archive", closeErr)
	}

	info, err := os.Stat(path)
	if err != nil {
		return nil, services.Wrap(services.ErrIO, "process", "stat archive", "Archive vanished after write", err)
	}

	p.logger.Debug("archive written",
		logging.String(logging.FieldPath, path),
		logging.Bytes("source_size", total),
		logging.Bytes("archive_size", info.Size()),
		logging.String("strategy", p.Strategy()))

	return &Archive{
		Name:        name,
		Path:        path,
		Size:        info.Size(),
		Digest:      digestWriter.Digest(),
		Compression: p.opts.Compression,
		Encrypted:   p.recipient != nil,
		Owned:       true,
		Files:       manifest.Files,
		dir:         dir,
	}, nil
}

func memberName(base string, used map[string]int) string {
	used[base]++
	if n := used[base]; n > 1 {
		return fmt.Sprintf("%d-%s", n, base)
	}
	return base
}

func addFile(ctx context.Context, tw *tar.Writer, src, name string) (ManifestEntry, error) {
	f, err := os.Open(src)
	if err != nil {
		return ManifestEntry{}, services.Wrap(services.ErrIO, "process", "open source", "Source file is not readable", err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return ManifestEntry{}, services.Wrap(services.ErrIO, "process", "stat source", "Source file is not readable", err)
	}
	header := &tar.Header{
		Name:     name,
		Mode:     int64(info.Mode().Perm()),
		Size:     info.Size(),
		ModTime:  info.ModTime(),
		Typeflag: tar.TypeReg,
		Format:   tar.FormatPAX,
	}
	if err := tw.WriteHeader(header); err != nil {
		return ManifestEntry{}, services.Wrap(services.ErrCompression, "process", "write tar header", fmt.Sprintf("Unable to add %s", name), err)
	}

	digestWriter := hasher.NewWriter(tw)
	n, err := io.Copy(digestWriter, &sourceReader{ctx: ctx, r: f})
	if err != nil {
		if errors.Is(err, services.ErrIO) || ctx.Err() != nil {
			return ManifestEntry{}, err
		}
		return ManifestEntry{}, services.Wrap(services.ErrCompression, "process", "write tar body", fmt.Sprintf("Unable to add %s", name), err)
	}
	if n != info.Size() {
		return ManifestEntry{}, services.Wrap(services.ErrIO, "process", "read source",
			fmt.Sprintf("%s changed size while packing (%d != %d)", name, n, info.Size()), nil)
	}
	return ManifestEntry{Name: name, Size: n, SHA256: string(digestWriter.Digest())}, nil
}

func writeMember(tw *tar.Writer, name string, data []byte, modTime time.Time) error {
	header := &tar.Header{
		Name:     name,
		Mode:     0o644,
		Size:     int64(len(data)),
		ModTime:  modTime,
		Typeflag: tar.TypeReg,
	}
	if err := tw.WriteHeader(header); err != nil {
		return services.Wrap(services.ErrCompression, "process", "write tar header", fmt.Sprintf("Unable to add %s", name), err)
	}
	if _, err := tw.Write(data); err != nil {
		return services.Wrap(services.ErrCompression, "process", "write tar body", fmt.Sprintf("Unable to add %s", name), err)
	}
	return nil
}

// sourceReader tags read failures as io errors and stops on cancellation.
type sourceReader struct {
	ctx context.Context
	r   io.Reader
}

func (s *sourceReader) Read(p []byte) (int, error) {
	if err := s.ctx.Err(); err != nil {
		return 0, err
	}
	n, err := s.r.Read(p)
	if err != nil && !errors.Is(err, io.EOF) {
		return n, services.Wrap(services.ErrIO, "process", "read source", "Source read failed", err)
	}
	return n, err
}
