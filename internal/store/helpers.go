package store

import (
	"database/sql"
	"errors"
	"time"
)

type rowScanner interface{ Scan(dest ...any) error }

const recordColumns = "id, path, size, mod_time_ns, digest, status, encrypted, file_id, processing_ms, transfer_rate, error_message, discovered_at, updated_at"

func scanRecord(scanner rowScanner) (*FileRecord, error) {
	var (
		rec          FileRecord
		modTimeNS    int64
		digest       sql.NullString
		status       string
		encrypted    int
		fileID       sql.NullInt64
		processingMS int64
		errorMessage sql.NullString
		discovered   string
		updated      string
	)
	if err := scanner.Scan(
		&rec.ID,
		&rec.Path,
		&rec.Size,
		&modTimeNS,
		&digest,
		&status,
		&encrypted,
		&fileID,
		&processingMS,
		&rec.TransferRate,
		&errorMessage,
		&discovered,
		&updated,
	); err != nil {
		return nil, err
	}
	rec.ModTime = time.Unix(0, modTimeNS).UTC()
	rec.Digest = digest.String
	rec.Status = Status(status)
	rec.Encrypted = encrypted != 0
	rec.FileID = fileID.Int64
	rec.ProcessingTime = time.Duration(processingMS) * time.Millisecond
	rec.ErrorMessage = errorMessage.String
	rec.DiscoveredAt, _ = parseTimeString(discovered)
	rec.UpdatedAt, _ = parseTimeString(updated)
	return &rec, nil
}

const uploadColumns = "id, record_id, name, source_path, digest, archive_name, archive_size, archive_digest, part_count, encrypted, compression, status, forward_status, processing_ms, transfer_rate, error_message, created_at, completed_at"

func scanUpload(scanner rowScanner) (*Upload, error) {
	var (
		up            Upload
		recordID      sql.NullInt64
		archiveName   sql.NullString
		archiveDigest sql.NullString
		encrypted     int
		status        string
		forward       sql.NullString
		processingMS  int64
		errorMessage  sql.NullString
		created       string
		completed     sql.NullString
	)
	if err := scanner.Scan(
		&up.ID,
		&recordID,
		&up.Name,
		&up.SourcePath,
		&up.Digest,
		&archiveName,
		&up.ArchiveSize,
		&archiveDigest,
		&up.PartCount,
		&encrypted,
		&up.Compression,
		&status,
		&forward,
		&processingMS,
		&up.TransferRate,
		&errorMessage,
		&created,
		&completed,
	); err != nil {
		return nil, err
	}
	up.RecordID = recordID.Int64
	up.ArchiveName = archiveName.String
	up.ArchiveDigest = archiveDigest.String
	up.Encrypted = encrypted != 0
	up.Status = UploadStatus(status)
	up.ForwardStatus = forward.String
	up.ProcessingTime = time.Duration(processingMS) * time.Millisecond
	up.ErrorMessage = errorMessage.String
	up.CreatedAt, _ = parseTimeString(created)
	up.CompletedAt = parseNullableTime(completed)
	return &up, nil
}

const partColumns = "upload_id, part_index, part_count, name, size, offset_bytes, status, stream, sequence, attempts, forward_status, error_message, sent_at"

func scanPart(scanner rowScanner) (*PartRecord, error) {
	var (
		part         PartRecord
		status       string
		stream       sql.NullString
		sequence     int64
		forward      sql.NullString
		errorMessage sql.NullString
		sentAt       sql.NullString
	)
	if err := scanner.Scan(
		&part.UploadID,
		&part.Index,
		&part.Count,
		&part.Name,
		&part.Size,
		&part.Offset,
		&status,
		&stream,
		&sequence,
		&part.Attempts,
		&forward,
		&errorMessage,
		&sentAt,
	); err != nil {
		return nil, err
	}
	part.Status = PartStatus(status)
	part.Stream = stream.String
	part.Sequence = uint64(sequence)
	part.ForwardStatus = forward.String
	part.ErrorMessage = errorMessage.String
	part.SentAt = parseNullableTime(sentAt)
	return &part, nil
}

func nullableString(value string) any {
	if value == "" {
		return nil
	}
	return value
}

func nullableInt64(value int64) any {
	if value == 0 {
		return nil
	}
	return value
}

func nullableTime(value *time.Time) any {
	if value == nil {
		return nil
	}
	return value.UTC().Format(time.RFC3339Nano)
}

func boolToInt(value bool) int {
	if value {
		return 1
	}
	return 0
}

func formatTime(value time.Time) string {
	return value.UTC().Format(time.RFC3339Nano)
}

func parseNullableTime(value sql.NullString) *time.Time {
	if !value.Valid {
		return nil
	}
	parsed, err := parseTimeString(value.String)
	if err != nil {
		return nil
	}
	return &parsed
}

func parseTimeString(value string) (time.Time, error) {
	if value == "" {
		return time.Time{}, errors.New("empty")
	}
	if t, err := time.Parse(time.RFC3339Nano, value); err == nil {
		return t, nil
	}
	return time.Parse("2006-01-02 15:04:05", value)
}

func makePlaceholders(count int) string {
	if count <= 0 {
		return ""
	}
	placeholders := make([]byte, 0, count*2)
	for i := 0; i < count; i++ {
		if i > 0 {
			placeholders = append(placeholders, ',')
		}
		placeholders = append(placeholders, '?')
	}
	return string(placeholders)
}

func statusArgs(statuses []Status) []any {
	args := make([]any, len(statuses))
	for i, status := range statuses {
		args[i] = string(status)
	}
	return args
}
