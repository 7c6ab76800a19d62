package main

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
)

func formatBytes(size int64) string {
	if size <= 0 {
		return "0 B"
	}
	return humanize.IBytes(uint64(size))
}

// formatRate renders a bytes-per-second rate.
func formatRate(rate float64) string {
	if rate <= 0 {
		return ""
	}
	return humanize.IBytes(uint64(rate)) + "/s"
}

func formatDurationMS(ms int64) string {
	if ms <= 0 {
		return ""
	}
	return (time.Duration(ms) * time.Millisecond).Round(time.Millisecond).String()
}

// formatWhen renders an API timestamp relative to now, falling back to the
// raw value when it does not parse.
func formatWhen(value string) string {
	value = strings.TrimSpace(value)
	if value == "" {
		return ""
	}
	parsed, err := time.Parse(time.RFC3339, value)
	if err != nil {
		return value
	}
	return humanize.Time(parsed)
}

func shortDigest(digest string) string {
	if len(digest) <= 12 {
		return digest
	}
	return digest[:12]
}

func displayName(path string) string {
	if path == "" {
		return ""
	}
	return filepath.Base(path)
}

func formatID(id int64) string {
	if id <= 0 {
		return ""
	}
	return fmt.Sprintf("%d", id)
}
