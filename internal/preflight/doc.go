// Package preflight provides readiness checks for the filesystem paths and
// services courier depends on.
//
// These checks run in two contexts:
//   - The daemon calls RunAll at startup and logs every failure as a warning.
//   - The CLI "courier status --preflight" command prints the same results.
//
// The processor also calls FreeBytes before writing an archive so a full disk
// is reported as an io error instead of a half-written file.
package preflight
