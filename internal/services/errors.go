package services

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"courier/internal/store"
)

// Markers classify pipeline failures. ErrHash wraps ErrIO, so a hashing
// failure also matches errors.Is(err, ErrIO).
var (
	ErrIO            = errors.New("io error")
	ErrHash          = fmt.Errorf("hash error: %w", ErrIO)
	ErrCompression   = errors.New("compression error")
	ErrEncryption    = errors.New("encryption error")
	ErrSplit         = errors.New("split error")
	ErrUpload        = errors.New("upload error")
	ErrReport        = errors.New("report error")
	ErrConfiguration = errors.New("configuration error")
	ErrNotFound      = errors.New("not found")
	ErrTransient     = errors.New("transient failure")
)

// StageError carries the stage context Wrap attaches to a marker.
type StageError struct {
	Marker    error
	Stage     string
	Operation string
	Message   string
	Cause     error
}

func (e *StageError) Error() string {
	detail := buildDetail(e.Stage, e.Operation, e.Message)
	if e.Cause != nil {
		return fmt.Sprintf("%v: %s: %v", e.Marker, detail, e.Cause)
	}
	return fmt.Sprintf("%v: %s", e.Marker, detail)
}

func (e *StageError) Unwrap() []error {
	if e.Cause == nil {
		return []error{e.Marker}
	}
	return []error{e.Marker, e.Cause}
}

// Wrap builds an error message that includes stage context while tagging it with
// the provided marker for later status classification. The marker should be one
// of the exported sentinel errors above.
func Wrap(marker error, stage, operation, message string, err error) error {
	if marker == nil {
		marker = ErrTransient
	}
	return &StageError{
		Marker:    marker,
		Stage:     strings.TrimSpace(stage),
		Operation: strings.TrimSpace(operation),
		Message:   strings.TrimSpace(message),
		Cause:     err,
	}
}

// ErrorDetails is the structured view of a wrapped failure used for logging and
// event payloads.
type ErrorDetails struct {
	Kind      string
	Stage     string
	Operation string
	Message   string
	Hint      string
	Cause     error
}

// Details extracts the classification and context of err.
func Details(err error) ErrorDetails {
	if err == nil {
		return ErrorDetails{}
	}
	details := ErrorDetails{Kind: Kind(err), Message: err.Error()}
	var stageErr *StageError
	if errors.As(err, &stageErr) {
		details.Stage = stageErr.Stage
		details.Operation = stageErr.Operation
		if stageErr.Message != "" {
			details.Message = stageErr.Message
		}
		details.Cause = stageErr.Cause
	}
	details.Hint = hintFor(details.Kind)
	return details
}

// Kind names the most specific marker err carries.
func Kind(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrHash):
		return "hash"
	case errors.Is(err, ErrIO):
		return "io"
	case errors.Is(err, ErrCompression):
		return "compression"
	case errors.Is(err, ErrEncryption):
		return "encryption"
	case errors.Is(err, ErrSplit):
		return "split"
	case errors.Is(err, ErrUpload):
		return "upload"
	case errors.Is(err, ErrReport):
		return "report"
	case errors.Is(err, ErrConfiguration):
		return "configuration"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrTransient):
		return "transient"
	default:
		return "unknown"
	}
}

func hintFor(kind string) string {
	switch kind {
	case "io", "hash":
		return "file vanished or is unreadable; it is retried on the next scan"
	case "compression":
		return "archive build failed; check free space in paths.work_dir"
	case "encryption":
		return "check processing.password; the file stays blocked until the configuration is fixed"
	case "split":
		return "check free space and permissions in paths.work_dir"
	case "upload", "transient":
		return "check transport connectivity and rate_limit settings"
	case "configuration":
		return "fix the configuration and restart"
	default:
		return "check logs for details"
	}
}

// FailureStatus maps a stage error to the record status the workflow manager
// should persist after the stage fails.
func FailureStatus(err error) store.Status {
	switch {
	case errors.Is(err, ErrEncryption), errors.Is(err, ErrConfiguration):
		return store.StatusBlocked
	default:
		return store.StatusFailed
	}
}

type retryAfterError struct {
	err   error
	delay time.Duration
}

func (e *retryAfterError) Error() string { return e.err.Error() }

func (e *retryAfterError) Unwrap() error { return e.err }

// WithRetryAfter attaches a remote-supplied wait hint to a transient error.
func WithRetryAfter(err error, delay time.Duration) error {
	if err == nil || delay <= 0 {
		return err
	}
	return &retryAfterError{err: err, delay: delay}
}

// RetryAfter returns the wait hint attached by WithRetryAfter.
func RetryAfter(err error) (time.Duration, bool) {
	var hinted *retryAfterError
	if errors.As(err, &hinted) {
		return hinted.delay, true
	}
	return 0, false
}

func buildDetail(stage, operation, message string) string {
	parts := make([]string, 0, 3)
	if stage != "" {
		parts = append(parts, stage)
	}
	if operation != "" {
		parts = append(parts, operation)
	}
	if message != "" {
		parts = append(parts, message)
	}
	if len(parts) == 0 {
		return "service failure"
	}
	return strings.Join(parts, ": ")
}
