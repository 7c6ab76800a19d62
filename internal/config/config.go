package config

import (
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/pelletier/go-toml/v2"
)

//go:embed sample_config.toml
var sampleConfig string

// Paths contains directory and bind address configuration.
type Paths struct {
	DataDir  string `toml:"data_dir"`
	WorkDir  string `toml:"work_dir"`
	LogDir   string `toml:"log_dir"`
	APIBind  string `toml:"api_bind"`
	APIToken string `toml:"api_token"`
}

// Watch lists the folders scanned for candidate files.
type Watch struct {
	Folders           []string `toml:"folders"`
	ScanInterval      int      `toml:"scan_interval"`
	AllowedExtensions []string `toml:"allowed_extensions"`
}

// Processing controls hashing, packing, encryption and splitting.
type Processing struct {
	CompressionLevel  string `toml:"compression_level"`
	EncryptionEnabled bool   `toml:"encryption_enabled"`
	Password          string `toml:"password"`
	ScryptWorkFactor  int    `toml:"scrypt_work_factor"`
	CacheEnabled      bool   `toml:"cache_enabled"`
	SizeCachePath     string `toml:"size_cache_path"`
	MaxPartSize       string `toml:"max_part_size"`

	maxPartBytes int64
}

// MaxPartBytes returns max_part_size parsed into bytes. Only valid after Load
// or Normalize.
func (p Processing) MaxPartBytes() int64 {
	return p.maxPartBytes
}

// Transport configures the JetStream destination units are published to.
type Transport struct {
	NATSURL         string `toml:"nats_url"`
	Stream          string `toml:"stream"`
	Subject         string `toml:"subject"`
	ConnectTimeout  int    `toml:"connect_timeout"`
	CredentialsFile string `toml:"credentials_file"`
	SendTimeout     int    `toml:"send_timeout"`
}

// RateLimit bounds outbound requests: Requests per IntervalSeconds, shared by
// every dispatch attempt and forward.
type RateLimit struct {
	Requests        int `toml:"requests"`
	IntervalSeconds int `toml:"interval_seconds"`
	Burst           int `toml:"burst"`
}

// Retry configures exponential backoff for transient transport failures.
type Retry struct {
	MaxAttempts int     `toml:"max_attempts"`
	BaseDelayMS int     `toml:"base_delay_ms"`
	Multiplier  float64 `toml:"multiplier"`
	MaxDelayMS  int     `toml:"max_delay_ms"`
}

// ForwardS3 holds object storage settings for the s3 forward kind.
type ForwardS3 struct {
	Endpoint       string `toml:"endpoint"`
	Region         string `toml:"region"`
	Bucket         string `toml:"bucket"`
	Prefix         string `toml:"prefix"`
	AccessKey      string `toml:"access_key"`
	SecretKey      string `toml:"secret_key"`
	ForcePathStyle bool   `toml:"force_path_style"`
}

// Forward configures the optional secondary destination.
type Forward struct {
	Kind    string    `toml:"kind"`
	Subject string    `toml:"subject"`
	S3      ForwardS3 `toml:"s3"`
}

// Reporter configures where per-unit events are sent.
type Reporter struct {
	URL            string `toml:"url"`
	NATSSubject    string `toml:"nats_subject"`
	TimeoutSeconds int    `toml:"timeout_seconds"`
}

// Workflow contains worker counts and maintenance timings.
type Workflow struct {
	ProcessWorkers       int `toml:"process_workers"`
	DispatchWorkers      int `toml:"dispatch_workers"`
	StaleWorkHours       int `toml:"stale_work_hours"`
	ShutdownGraceSeconds int `toml:"shutdown_grace_seconds"`
}

// Logging contains configuration for log output.
type Logging struct {
	Format string `toml:"format"`
	Level  string `toml:"level"`
}

// Telemetry configures OTLP trace export. Tracing is disabled when the
// endpoint is empty.
type Telemetry struct {
	OTLPEndpoint string `toml:"otlp_endpoint"`
	ServiceName  string `toml:"service_name"`
}

// Config encapsulates all configuration values for courier.
//
// Configuration sections by subsystem:
//   - Paths: database, work and log directories plus the API bind address
//   - Watch: scanned folders and the extension filter
//   - Processing: compression, encryption, size cache and part size
//   - Transport: JetStream connection and subject
//   - RateLimit / Retry: outbound pacing and backoff
//   - Forward: optional secondary destination (nats or s3)
//   - Reporter: event sink
//   - Workflow: worker counts
//   - Logging / Telemetry: observability
type Config struct {
	Paths      Paths      `toml:"paths"`
	Watch      Watch      `toml:"watch"`
	Processing Processing `toml:"processing"`
	Transport  Transport  `toml:"transport"`
	RateLimit  RateLimit  `toml:"rate_limit"`
	Retry      Retry      `toml:"retry"`
	Forward    Forward    `toml:"forward"`
	Reporter   Reporter   `toml:"reporter"`
	Workflow   Workflow   `toml:"workflow"`
	Logging    Logging    `toml:"logging"`
	Telemetry  Telemetry  `toml:"telemetry"`
}

// DefaultConfigPath returns the absolute path to the default configuration file location.
func DefaultConfigPath() (string, error) {
	return expandPath("~/.config/courier/config.toml")
}

// Load locates, parses, and validates a configuration file. The returned config has all
// path fields expanded and normalized.
func Load(path string) (*Config, string, bool, error) {
	cfg := Default()

	resolvedPath, exists, err := resolveConfigPath(path)
	if err != nil {
		return nil, "", false, err
	}

	if exists {
		file, err := os.Open(resolvedPath)
		if err != nil {
			return nil, "", false, fmt.Errorf("open config: %w", err)
		}
		defer file.Close()

		decoder := toml.NewDecoder(file)
		if err := decoder.Decode(&cfg); err != nil {
			return nil, "", false, fmt.Errorf("parse config: %w", err)
		}
	}

	if err := cfg.Normalize(); err != nil {
		return nil, "", false, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, "", false, err
	}

	return &cfg, resolvedPath, exists, nil
}

func resolveConfigPath(path string) (string, bool, error) {
	if path != "" {
		expanded, err := expandPath(path)
		if err != nil {
			return "", false, err
		}
		_, err = os.Stat(expanded)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return expanded, false, nil
			}
			return "", false, fmt.Errorf("stat config: %w", err)
		}
		return expanded, true, nil
	}

	defaultPath, err := DefaultConfigPath()
	if err != nil {
		return "", false, err
	}

	projectPath, err := filepath.Abs("courier.toml")
	if err != nil {
		return "", false, err
	}

	if info, err := os.Stat(defaultPath); err == nil && !info.IsDir() {
		return defaultPath, true, nil
	}
	if info, err := os.Stat(projectPath); err == nil && !info.IsDir() {
		return projectPath, true, nil
	}

	return defaultPath, false, nil
}

// EnsureDirectories creates required directories for daemon operation.
func (c *Config) EnsureDirectories() error {
	for _, dir := range []string{c.Paths.DataDir, c.Paths.WorkDir, c.Paths.LogDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory %q: %w", dir, err)
		}
	}
	return nil
}

// DatabasePath returns the location of the SQLite store.
func (c *Config) DatabasePath() string {
	return filepath.Join(c.Paths.DataDir, "courier.db")
}

// LockPath returns the daemon single-instance lock file.
func (c *Config) LockPath() string {
	return filepath.Join(c.Paths.DataDir, "courier.lock")
}

// ScanInterval returns the watch folder scan period.
func (c *Config) ScanInterval() time.Duration {
	return time.Duration(c.Watch.ScanInterval) * time.Second
}

// RateInterval returns the window covered by rate_limit.requests.
func (c *Config) RateInterval() time.Duration {
	return time.Duration(c.RateLimit.IntervalSeconds) * time.Second
}

// ReporterTimeout returns the per-event request timeout.
func (c *Config) ReporterTimeout() time.Duration {
	return time.Duration(c.Reporter.TimeoutSeconds) * time.Second
}

// AllowsExtension reports whether path passes the configured extension filter.
// An empty filter admits every file.
func (c *Config) AllowsExtension(path string) bool {
	if len(c.Watch.AllowedExtensions) == 0 {
		return true
	}
	ext := strings.ToLower(filepath.Ext(path))
	for _, allowed := range c.Watch.AllowedExtensions {
		if ext == allowed {
			return true
		}
	}
	return false
}

func expandPath(pathValue string) (string, error) {
	if pathValue == "" {
		return pathValue, nil
	}
	if strings.HasPrefix(pathValue, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		if pathValue == "~" {
			pathValue = home
		} else if len(pathValue) > 1 && (pathValue[1] == '/' || pathValue[1] == '\\') {
			pathValue = filepath.Join(home, pathValue[2:])
		}
	}
	cleaned := filepath.Clean(pathValue)
	absolute, err := filepath.Abs(cleaned)
	if err != nil {
		return "", fmt.Errorf("resolve absolute path for %q: %w", cleaned, err)
	}
	return absolute, nil
}

// ExpandPath exposes the repository path expansion rules for other packages.
func ExpandPath(pathValue string) (string, error) {
	return expandPath(pathValue)
}

func parseByteSize(value string) (int64, error) {
	parsed, err := humanize.ParseBytes(strings.TrimSpace(value))
	if err != nil {
		return 0, err
	}
	if parsed > 1<<62 {
		return 0, fmt.Errorf("size %q too large", value)
	}
	return int64(parsed), nil
}

// CreateSample writes a sample configuration file to the specified location.
func CreateSample(path string) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create config directory: %w", err)
		}
	}

	if err := os.WriteFile(path, []byte(sampleConfig), 0o600); err != nil {
		return fmt.Errorf("write sample config: %w", err)
	}
	return nil
}
