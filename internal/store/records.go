package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// Discover registers path with its current size and modification time. A new
// path, or one whose size or modification time moved, is (re)armed as pending
// with its digest cleared; changed reports whether that happened.
func (s *Store) Discover(ctx context.Context, path string, size int64, modTime time.Time) (*FileRecord, bool, error) {
	existing, err := s.GetRecordByPath(ctx, path)
	if err != nil {
		return nil, false, err
	}
	modNS := modTime.UTC().UnixNano()
	if existing != nil && existing.Size == size && existing.ModTime.UnixNano() == modNS {
		return existing, false, nil
	}

	now := formatTime(time.Now())
	if err := s.execWithoutResultRetry(
		ctx,
		`INSERT INTO file_records (path, size, mod_time_ns, status, discovered_at, updated_at)
         VALUES (?, ?, ?, ?, ?, ?)
         ON CONFLICT(path) DO UPDATE SET
             digest = CASE WHEN size != excluded.size OR mod_time_ns != excluded.mod_time_ns THEN NULL ELSE digest END,
             status = CASE WHEN size != excluded.size OR mod_time_ns != excluded.mod_time_ns THEN excluded.status ELSE status END,
             error_message = CASE WHEN size != excluded.size OR mod_time_ns != excluded.mod_time_ns THEN NULL ELSE error_message END,
             size = excluded.size,
             mod_time_ns = excluded.mod_time_ns,
             updated_at = excluded.updated_at`,
		path, size, modNS, StatusPending, now, now,
	); err != nil {
		return nil, false, fmt.Errorf("discover %s: %w", path, err)
	}
	rec, err := s.GetRecordByPath(ctx, path)
	if err != nil {
		return nil, false, err
	}
	return rec, true, nil
}

// GetRecord fetches a record by identifier. It returns nil when absent.
func (s *Store) GetRecord(ctx context.Context, id int64) (*FileRecord, error) {
	row := s.db.QueryRowContext(ensureContext(ctx), `SELECT `+recordColumns+` FROM file_records WHERE id = ?`, id)
	rec, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get record: %w", err)
	}
	return rec, nil
}

// GetRecordByPath fetches a record by absolute path. It returns nil when absent.
func (s *Store) GetRecordByPath(ctx context.Context, path string) (*FileRecord, error) {
	row := s.db.QueryRowContext(ensureContext(ctx), `SELECT `+recordColumns+` FROM file_records WHERE path = ?`, path)
	rec, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get record by path: %w", err)
	}
	return rec, nil
}

// ErrRecordChanged reports that the file behind a record changed size or
// modification time after the record was loaded. The row already reflects the
// new file and was left untouched.
var ErrRecordChanged = errors.New("record changed since it was loaded")

// UpdateRecord persists the mutable fields of rec. The write only applies while
// the row still carries rec's size and modification time; otherwise it returns
// ErrRecordChanged.
func (s *Store) UpdateRecord(ctx context.Context, rec *FileRecord) error {
	if rec == nil {
		return errors.New("record is nil")
	}
	rec.UpdatedAt = time.Now().UTC()
	res, err := s.execWithRetry(
		ctx,
		`UPDATE file_records
         SET digest = ?, status = ?, encrypted = ?, file_id = ?, processing_ms = ?,
             transfer_rate = ?, error_message = ?, updated_at = ?
         WHERE id = ? AND size = ? AND mod_time_ns = ?`,
		nullableString(rec.Digest),
		rec.Status,
		boolToInt(rec.Encrypted),
		nullableInt64(rec.FileID),
		rec.ProcessingTime.Milliseconds(),
		rec.TransferRate,
		nullableString(rec.ErrorMessage),
		formatTime(rec.UpdatedAt),
		rec.ID,
		rec.Size,
		rec.ModTime.UTC().UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("update record: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("update record %d: %w", rec.ID, ErrRecordChanged)
	}
	return nil
}

// SetStatus moves a record to status, recording message as its error text.
func (s *Store) SetStatus(ctx context.Context, id int64, status Status, message string) error {
	if err := s.execWithoutResultRetry(
		ctx,
		`UPDATE file_records SET status = ?, error_message = ?, updated_at = ? WHERE id = ?`,
		status, nullableString(message), formatTime(time.Now()), id,
	); err != nil {
		return fmt.Errorf("set record status: %w", err)
	}
	return nil
}

// ListRecords returns records filtered by status set (or all records when no
// status is provided), oldest first.
func (s *Store) ListRecords(ctx context.Context, statuses ...Status) ([]*FileRecord, error) {
	ctx = ensureContext(ctx)
	query := `SELECT ` + recordColumns + ` FROM file_records`
	var args []any
	if len(statuses) > 0 {
		query += ` WHERE status IN (` + makePlaceholders(len(statuses)) + `)`
		args = statusArgs(statuses)
	}
	query += ` ORDER BY id`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list records: %w", err)
	}
	defer rows.Close()

	var records []*FileRecord
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

// RemoveRecord deletes the record for path, if any.
func (s *Store) RemoveRecord(ctx context.Context, path string) (bool, error) {
	res, err := s.execWithRetry(ctx, `DELETE FROM file_records WHERE path = ?`, path)
	if err != nil {
		return false, fmt.Errorf("delete record: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return affected > 0, nil
}
