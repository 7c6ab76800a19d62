// Package processor turns a source file into the archive that gets split and
// dispatched.
//
// The strategy is chosen once from configuration:
//
//   - passthrough: no compression and no encryption. The source file is the
//     archive; nothing is copied and nothing is deleted afterwards.
//   - pack: a tar stream, optionally compressed with zstd, optionally
//     encrypted with an age scrypt (passphrase) recipient, written to a
//     private directory under paths.work_dir.
//
// Packed archives end with a YAML manifest entry listing every member with its
// size and SHA-256, which Unpack verifies on the way out.
package processor
