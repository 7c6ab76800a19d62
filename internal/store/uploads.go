package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// CreateUpload allocates the next file-id for spec. IDs come from an
// AUTOINCREMENT key, so they only ever grow, across restarts and deletions.
func (s *Store) CreateUpload(ctx context.Context, spec UploadSpec) (*Upload, error) {
	compression := spec.Compression
	if compression == "" {
		compression = "none"
	}
	res, err := s.execWithRetry(
		ctx,
		`INSERT INTO uploads (record_id, name, source_path, digest, encrypted, compression, status, created_at)
         VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		nullableInt64(spec.RecordID),
		spec.Name,
		spec.SourcePath,
		spec.Digest,
		boolToInt(spec.Encrypted),
		compression,
		UploadPending,
		formatTime(time.Now()),
	)
	if err != nil {
		return nil, fmt.Errorf("insert upload: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("last insert id: %w", err)
	}
	return s.GetUpload(ctx, id)
}

// GetUpload fetches an upload by file-id. It returns nil when absent.
func (s *Store) GetUpload(ctx context.Context, id int64) (*Upload, error) {
	row := s.db.QueryRowContext(ensureContext(ctx), `SELECT `+uploadColumns+` FROM uploads WHERE id = ?`, id)
	up, err := scanUpload(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get upload: %w", err)
	}
	return up, nil
}

// ListUploads returns the most recent uploads first. A non-positive limit
// returns everything.
func (s *Store) ListUploads(ctx context.Context, limit int) ([]*Upload, error) {
	query := `SELECT ` + uploadColumns + ` FROM uploads ORDER BY id DESC`
	var args []any
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}
	rows, err := s.db.QueryContext(ensureContext(ctx), query, args...)
	if err != nil {
		return nil, fmt.Errorf("list uploads: %w", err)
	}
	defer rows.Close()

	var uploads []*Upload
	for rows.Next() {
		up, err := scanUpload(rows)
		if err != nil {
			return nil, err
		}
		uploads = append(uploads, up)
	}
	return uploads, rows.Err()
}

// FinishUpload persists archive details and the outcome of up.
func (s *Store) FinishUpload(ctx context.Context, up *Upload) error {
	if up == nil {
		return errors.New("upload is nil")
	}
	if err := s.execWithoutResultRetry(
		ctx,
		`UPDATE uploads
         SET archive_name = ?, archive_size = ?, archive_digest = ?, part_count = ?,
             status = ?, forward_status = ?, processing_ms = ?, transfer_rate = ?,
             error_message = ?, completed_at = ?
         WHERE id = ?`,
		nullableString(up.ArchiveName),
		up.ArchiveSize,
		nullableString(up.ArchiveDigest),
		up.PartCount,
		up.Status,
		nullableString(up.ForwardStatus),
		up.ProcessingTime.Milliseconds(),
		up.TransferRate,
		nullableString(up.ErrorMessage),
		nullableTime(up.CompletedAt),
		up.ID,
	); err != nil {
		return fmt.Errorf("update upload: %w", err)
	}
	return nil
}

// AddParts records the planned transport units of an upload in one transaction.
func (s *Store) AddParts(ctx context.Context, uploadID int64, parts []PartRecord) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		for _, part := range parts {
			status := part.Status
			if status == "" {
				status = PartPending
			}
			if _, err := tx.ExecContext(
				ctx,
				`INSERT INTO upload_parts (upload_id, part_index, part_count, name, size, offset_bytes, status)
                 VALUES (?, ?, ?, ?, ?, ?, ?)`,
				uploadID, part.Index, part.Count, part.Name, part.Size, part.Offset, status,
			); err != nil {
				return fmt.Errorf("insert part %d/%d: %w", part.Index, part.Count, err)
			}
		}
		return nil
	})
}

// UpdatePart persists the dispatch outcome of one part.
func (s *Store) UpdatePart(ctx context.Context, part *PartRecord) error {
	if part == nil {
		return errors.New("part is nil")
	}
	if err := s.execWithoutResultRetry(
		ctx,
		`UPDATE upload_parts
         SET status = ?, stream = ?, sequence = ?, attempts = ?, forward_status = ?,
             error_message = ?, sent_at = ?
         WHERE upload_id = ? AND part_index = ?`,
		part.Status,
		nullableString(part.Stream),
		int64(part.Sequence),
		part.Attempts,
		nullableString(part.ForwardStatus),
		nullableString(part.ErrorMessage),
		nullableTime(part.SentAt),
		part.UploadID,
		part.Index,
	); err != nil {
		return fmt.Errorf("update part: %w", err)
	}
	return nil
}

// Parts returns the parts of an upload in index order.
func (s *Store) Parts(ctx context.Context, uploadID int64) ([]*PartRecord, error) {
	rows, err := s.db.QueryContext(
		ensureContext(ctx),
		`SELECT `+partColumns+` FROM upload_parts WHERE upload_id = ? ORDER BY part_index`,
		uploadID,
	)
	if err != nil {
		return nil, fmt.Errorf("list parts: %w", err)
	}
	defer rows.Close()

	var parts []*PartRecord
	for rows.Next() {
		part, err := scanPart(rows)
		if err != nil {
			return nil, err
		}
		parts = append(parts, part)
	}
	return parts, rows.Err()
}
