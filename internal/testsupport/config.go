package testsupport

import (
	"os"
	"path/filepath"
	"testing"

	"courier/internal/config"
)

// ConfigOption allows callers to customize the generated test configuration.
type ConfigOption func(*configBuilder)

type configBuilder struct {
	t       testing.TB
	baseDir string
	cfg     *config.Config
}

// NewConfig produces a normalized config seeded with unique temp directories
// per test. A single watch folder "<base>/inbox" is created. Options run before
// normalization, so they may set raw values.
func NewConfig(t testing.TB, opts ...ConfigOption) *config.Config {
	t.Helper()

	base := t.TempDir()
	cfgVal := config.Default()
	cfgVal.Paths.DataDir = filepath.Join(base, "data")
	cfgVal.Paths.WorkDir = filepath.Join(base, "work")
	cfgVal.Paths.LogDir = filepath.Join(base, "logs")
	cfgVal.Paths.APIBind = "127.0.0.1:0"
	cfgVal.Processing.SizeCachePath = filepath.Join(base, "cache", "size_cache.json")
	cfgVal.Watch.Folders = []string{filepath.Join(base, "inbox")}
	cfgVal.Processing.ScryptWorkFactor = 10
	cfgVal.Retry.BaseDelayMS = 1
	cfgVal.Retry.MaxDelayMS = 5
	cfgVal.RateLimit.Requests = 1000
	cfgVal.RateLimit.IntervalSeconds = 1
	cfgVal.RateLimit.Burst = 1000

	builder := &configBuilder{
		t:       t,
		baseDir: base,
		cfg:     &cfgVal,
	}
	for _, opt := range opts {
		opt(builder)
	}

	if err := builder.cfg.Normalize(); err != nil {
		t.Fatalf("normalize test config: %v", err)
	}
	for _, dir := range builder.cfg.Watch.Folders {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			t.Fatalf("mkdir watch folder: %v", err)
		}
	}
	if err := builder.cfg.EnsureDirectories(); err != nil {
		t.Fatalf("ensure directories: %v", err)
	}
	return builder.cfg
}

// WithMaxPartSize sets processing.max_part_size.
func WithMaxPartSize(size string) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Processing.MaxPartSize = size
	}
}

// WithCompression sets processing.compression_level.
func WithCompression(level string) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Processing.CompressionLevel = level
	}
}

// WithEncryption enables encryption with password.
func WithEncryption(password string) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Processing.EncryptionEnabled = true
		b.cfg.Processing.Password = password
	}
}

// WithSizeCache toggles processing.cache_enabled.
func WithSizeCache(enabled bool) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Processing.CacheEnabled = enabled
	}
}

// WithConfig applies an arbitrary mutation.
func WithConfig(fn func(*config.Config)) ConfigOption {
	return func(b *configBuilder) {
		fn(b.cfg)
	}
}

// BaseDir returns the root temp directory backing the generated config.
func BaseDir(cfg *config.Config) string {
	return filepath.Dir(cfg.Paths.DataDir)
}

// InboxDir returns the first watch folder.
func InboxDir(cfg *config.Config) string {
	return cfg.Watch.Folders[0]
}
