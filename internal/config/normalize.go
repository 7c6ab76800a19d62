package config

import (
	"fmt"
	"os"
	"strings"
)

// Normalize expands paths, trims values and applies environment fallbacks.
// Load calls it; tests that build a Config by hand call it before Validate.
func (c *Config) Normalize() error {
	if err := c.normalizePaths(); err != nil {
		return err
	}
	if err := c.normalizeWatch(); err != nil {
		return err
	}
	if err := c.normalizeProcessing(); err != nil {
		return err
	}
	c.normalizeTransport()
	c.normalizeForward()
	c.normalizeReporter()
	c.normalizeLogging()
	c.normalizeTelemetry()
	return nil
}

func (c *Config) normalizePaths() error {
	var err error
	if c.Paths.DataDir, err = expandPath(c.Paths.DataDir); err != nil {
		return fmt.Errorf("paths.data_dir: %w", err)
	}
	if c.Paths.WorkDir, err = expandPath(c.Paths.WorkDir); err != nil {
		return fmt.Errorf("paths.work_dir: %w", err)
	}
	if c.Paths.LogDir, err = expandPath(c.Paths.LogDir); err != nil {
		return fmt.Errorf("paths.log_dir: %w", err)
	}
	c.Paths.APIBind = strings.TrimSpace(c.Paths.APIBind)
	switch strings.ToLower(c.Paths.APIBind) {
	case "":
		c.Paths.APIBind = defaultAPIBind
	case APIDisabled:
		c.Paths.APIBind = ""
	}
	c.Paths.APIToken = strings.TrimSpace(c.Paths.APIToken)
	if c.Paths.APIToken == "" {
		if value, ok := os.LookupEnv("COURIER_API_TOKEN"); ok {
			c.Paths.APIToken = strings.TrimSpace(value)
		}
	}
	return nil
}

func (c *Config) normalizeWatch() error {
	folders := make([]string, 0, len(c.Watch.Folders))
	seen := make(map[string]struct{}, len(c.Watch.Folders))
	for _, folder := range c.Watch.Folders {
		if strings.TrimSpace(folder) == "" {
			continue
		}
		expanded, err := expandPath(strings.TrimSpace(folder))
		if err != nil {
			return fmt.Errorf("watch.folders: %w", err)
		}
		if _, exists := seen[expanded]; exists {
			continue
		}
		seen[expanded] = struct{}{}
		folders = append(folders, expanded)
	}
	c.Watch.Folders = folders

	exts := make([]string, 0, len(c.Watch.AllowedExtensions))
	for _, ext := range c.Watch.AllowedExtensions {
		normalized := strings.ToLower(strings.TrimSpace(ext))
		if normalized == "" {
			continue
		}
		if !strings.HasPrefix(normalized, ".") {
			normalized = "." + normalized
		}
		exts = append(exts, normalized)
	}
	c.Watch.AllowedExtensions = exts
	if c.Watch.ScanInterval <= 0 {
		c.Watch.ScanInterval = defaultScanInterval
	}
	return nil
}

func (c *Config) normalizeProcessing() error {
	c.Processing.CompressionLevel = strings.ToLower(strings.TrimSpace(c.Processing.CompressionLevel))
	if c.Processing.CompressionLevel == "" {
		c.Processing.CompressionLevel = defaultCompressionLevel
	}
	if c.Processing.Password == "" {
		if value, ok := os.LookupEnv("COURIER_PASSWORD"); ok {
			c.Processing.Password = value
		}
	}
	if c.Processing.ScryptWorkFactor <= 0 {
		c.Processing.ScryptWorkFactor = defaultScryptWorkFactor
	}
	if strings.TrimSpace(c.Processing.SizeCachePath) == "" {
		c.Processing.SizeCachePath = defaultSizeCachePath
	}
	var err error
	if c.Processing.SizeCachePath, err = expandPath(c.Processing.SizeCachePath); err != nil {
		return fmt.Errorf("processing.size_cache_path: %w", err)
	}
	if strings.TrimSpace(c.Processing.MaxPartSize) == "" {
		c.Processing.MaxPartSize = defaultMaxPartSize
	}
	size, err := parseByteSize(c.Processing.MaxPartSize)
	if err != nil {
		return fmt.Errorf("processing.max_part_size: %w", err)
	}
	c.Processing.maxPartBytes = size
	return nil
}

// SetMaxPartBytes overrides the parsed part size. Tests use it to run the
// splitter with sizes humanize strings cannot express compactly.
func (c *Config) SetMaxPartBytes(size int64) {
	c.Processing.maxPartBytes = size
	c.Processing.MaxPartSize = fmt.Sprintf("%dB", size)
}

func (c *Config) normalizeTransport() {
	c.Transport.NATSURL = strings.TrimSpace(c.Transport.NATSURL)
	if value, ok := os.LookupEnv("NATS_URL"); ok && strings.TrimSpace(value) != "" {
		c.Transport.NATSURL = strings.TrimSpace(value)
	}
	if c.Transport.NATSURL == "" {
		c.Transport.NATSURL = defaultNATSURL
	}
	c.Transport.Stream = strings.TrimSpace(c.Transport.Stream)
	if c.Transport.Stream == "" {
		c.Transport.Stream = defaultStream
	}
	c.Transport.Subject = strings.TrimSpace(c.Transport.Subject)
	if c.Transport.Subject == "" {
		c.Transport.Subject = defaultSubject
	}
	if c.Transport.CredentialsFile != "" {
		if expanded, err := expandPath(c.Transport.CredentialsFile); err == nil {
			c.Transport.CredentialsFile = expanded
		}
	}
}

func (c *Config) normalizeForward() {
	c.Forward.Kind = strings.ToLower(strings.TrimSpace(c.Forward.Kind))
	c.Forward.Subject = strings.TrimSpace(c.Forward.Subject)
	s3 := &c.Forward.S3
	s3.Endpoint = strings.TrimSpace(s3.Endpoint)
	s3.Bucket = strings.TrimSpace(s3.Bucket)
	s3.Prefix = strings.Trim(strings.TrimSpace(s3.Prefix), "/")
	s3.Region = strings.TrimSpace(s3.Region)
	if s3.Region == "" {
		s3.Region = "us-east-1"
	}
	if s3.AccessKey == "" {
		if value, ok := os.LookupEnv("S3_ACCESS_KEY"); ok {
			s3.AccessKey = strings.TrimSpace(value)
		}
	}
	if s3.SecretKey == "" {
		if value, ok := os.LookupEnv("S3_SECRET_KEY"); ok {
			s3.SecretKey = strings.TrimSpace(value)
		}
	}
}

func (c *Config) normalizeReporter() {
	c.Reporter.URL = strings.TrimSpace(c.Reporter.URL)
	c.Reporter.NATSSubject = strings.TrimSpace(c.Reporter.NATSSubject)
	if c.Reporter.TimeoutSeconds <= 0 {
		c.Reporter.TimeoutSeconds = defaultReporterTimeout
	}
}

func (c *Config) normalizeLogging() {
	c.Logging.Format = strings.ToLower(strings.TrimSpace(c.Logging.Format))
	switch c.Logging.Format {
	case "", "console":
		c.Logging.Format = "console"
	case "json":
	default:
		c.Logging.Format = "console"
	}
	c.Logging.Level = strings.ToLower(strings.TrimSpace(c.Logging.Level))
	if c.Logging.Level == "" {
		c.Logging.Level = defaultLogLevel
	}
}

func (c *Config) normalizeTelemetry() {
	c.Telemetry.OTLPEndpoint = strings.TrimSpace(c.Telemetry.OTLPEndpoint)
	if c.Telemetry.OTLPEndpoint == "" {
		if value, ok := os.LookupEnv("OTEL_EXPORTER_OTLP_ENDPOINT"); ok {
			c.Telemetry.OTLPEndpoint = strings.TrimSpace(value)
		}
	}
	c.Telemetry.ServiceName = strings.TrimSpace(c.Telemetry.ServiceName)
	if c.Telemetry.ServiceName == "" {
		c.Telemetry.ServiceName = defaultServiceName
	}
}
