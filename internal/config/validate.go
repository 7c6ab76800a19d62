package config

import (
	"errors"
	"fmt"
	"strings"
)

// Validate ensures the configuration is usable.
func (c *Config) Validate() error {
	if err := c.validateWatch(); err != nil {
		return err
	}
	if err := c.validateProcessing(); err != nil {
		return err
	}
	if err := c.validateTransport(); err != nil {
		return err
	}
	if err := c.validateRateLimit(); err != nil {
		return err
	}
	if err := c.validateRetry(); err != nil {
		return err
	}
	if err := c.validateForward(); err != nil {
		return err
	}
	if err := c.validateWorkflow(); err != nil {
		return err
	}
	return nil
}

func (c *Config) validateWatch() error {
	if len(c.Watch.Folders) == 0 {
		defaultPath, err := DefaultConfigPath()
		if err != nil {
			defaultPath = "~/.config/courier/config.toml"
		}
		return fmt.Errorf("watch.folders must list at least one directory. Edit %s (create with 'courier config init')", defaultPath)
	}
	return nil
}

func (c *Config) validateProcessing() error {
	switch c.Processing.CompressionLevel {
	case CompressionNone, CompressionFast, CompressionDefault:
	default:
		return fmt.Errorf("processing.compression_level must be one of none, fast, default (got %q)", c.Processing.CompressionLevel)
	}
	if c.Processing.EncryptionEnabled && c.Processing.Password == "" {
		return errors.New("processing.password must be set when processing.encryption_enabled is true (or set COURIER_PASSWORD)")
	}
	if c.Processing.ScryptWorkFactor < 10 || c.Processing.ScryptWorkFactor > 30 {
		return errors.New("processing.scrypt_work_factor must be between 10 and 30")
	}
	if c.Processing.maxPartBytes <= 0 {
		return errors.New("processing.max_part_size must be positive")
	}
	return nil
}

func (c *Config) validateTransport() error {
	if c.Transport.NATSURL == "" {
		return errors.New("transport.nats_url must be set")
	}
	if strings.ContainsAny(c.Transport.Stream, " .*>") {
		return errors.New("transport.stream must not contain spaces, dots or wildcards")
	}
	if strings.ContainsAny(c.Transport.Subject, "*>") {
		return errors.New("transport.subject must be a literal subject")
	}
	return ensurePositiveMap(map[string]int{
		"transport.connect_timeout": c.Transport.ConnectTimeout,
		"transport.send_timeout":    c.Transport.SendTimeout,
	})
}

func (c *Config) validateRateLimit() error {
	return ensurePositiveMap(map[string]int{
		"rate_limit.requests":         c.RateLimit.Requests,
		"rate_limit.interval_seconds": c.RateLimit.IntervalSeconds,
		"rate_limit.burst":            c.RateLimit.Burst,
	})
}

func (c *Config) validateRetry() error {
	if err := ensurePositiveMap(map[string]int{
		"retry.max_attempts":  c.Retry.MaxAttempts,
		"retry.base_delay_ms": c.Retry.BaseDelayMS,
		"retry.max_delay_ms":  c.Retry.MaxDelayMS,
	}); err != nil {
		return err
	}
	if c.Retry.Multiplier < 1 {
		return errors.New("retry.multiplier must be >= 1")
	}
	if c.Retry.MaxDelayMS < c.Retry.BaseDelayMS {
		return errors.New("retry.max_delay_ms must be >= retry.base_delay_ms")
	}
	return nil
}

func (c *Config) validateForward() error {
	switch c.Forward.Kind {
	case ForwardKindNone:
		return nil
	case ForwardKindNATS:
		if c.Forward.Subject == "" {
			return errors.New("forward.subject must be set when forward.kind is nats")
		}
		if c.Forward.Subject == c.Transport.Subject || strings.HasPrefix(c.Forward.Subject, c.Transport.Subject+".") {
			return errors.New("forward.subject must not overlap transport.subject")
		}
		return nil
	case ForwardKindS3:
		if c.Forward.S3.Bucket == "" {
			return errors.New("forward.s3.bucket must be set when forward.kind is s3")
		}
		if (c.Forward.S3.AccessKey == "") != (c.Forward.S3.SecretKey == "") {
			return errors.New("forward.s3.access_key and forward.s3.secret_key must be set together")
		}
		return nil
	default:
		return fmt.Errorf("forward.kind must be empty, nats or s3 (got %q)", c.Forward.Kind)
	}
}

func (c *Config) validateWorkflow() error {
	return ensurePositiveMap(map[string]int{
		"workflow.process_workers":        c.Workflow.ProcessWorkers,
		"workflow.dispatch_workers":       c.Workflow.DispatchWorkers,
		"workflow.stale_work_hours":       c.Workflow.StaleWorkHours,
		"workflow.shutdown_grace_seconds": c.Workflow.ShutdownGraceSeconds,
		"reporter.timeout_seconds":        c.Reporter.TimeoutSeconds,
		"watch.scan_interval":             c.Watch.ScanInterval,
	})
}

func ensurePositiveMap(values map[string]int) error {
	for key, value := range values {
		if value <= 0 {
			return fmt.Errorf("%s must be positive", key)
		}
	}
	return nil
}
