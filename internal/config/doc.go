// Package config loads, normalizes, and validates courier configuration data.
//
// It supplies repository defaults, expands user paths (including tilde
// shortcuts), reads TOML files, and honours environment fallbacks such as
// COURIER_PASSWORD. Byte sizes such as processing.max_part_size accept
// human-readable strings ("45MB", "1MiB").
//
// Always obtain settings through this package so downstream code receives
// sanitized paths and clear validation errors. Misconfiguration, such as
// encryption enabled without a password, fails Load before any scanning starts.
package config
