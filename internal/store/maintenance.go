package store

import (
	"context"
	"fmt"
	"time"
)

// Stats returns record counts by status plus upload and dedup totals.
func (s *Store) Stats(ctx context.Context) (Stats, error) {
	ctx = ensureContext(ctx)
	rows, err := s.db.QueryContext(ctx, `SELECT status, COUNT(1) FROM file_records GROUP BY status`)
	if err != nil {
		return Stats{}, fmt.Errorf("record stats: %w", err)
	}
	defer rows.Close()

	stats := Stats{Records: make(map[Status]int)}
	for rows.Next() {
		var (
			status string
			count  int
		)
		if err := rows.Scan(&status, &count); err != nil {
			return Stats{}, err
		}
		stats.Records[Status(status)] = count
	}
	if err := rows.Err(); err != nil {
		return Stats{}, err
	}
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(1) FROM uploads`).Scan(&stats.Uploads); err != nil {
		return Stats{}, fmt.Errorf("upload stats: %w", err)
	}
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(1) FROM dedup_entries`).Scan(&stats.Dedup); err != nil {
		return Stats{}, fmt.Errorf("dedup stats: %w", err)
	}
	return stats, nil
}

// ResetInFlight returns records left mid-pipeline by a previous process to
// pending, and fails any upload that never completed.
func (s *Store) ResetInFlight(ctx context.Context) (int64, error) {
	now := formatTime(time.Now())
	args := append([]any{StatusPending, now}, statusArgs(inFlightStatuses)...)
	res, err := s.execWithRetry(
		ctx,
		`UPDATE file_records SET status = ?, updated_at = ? WHERE status IN (`+makePlaceholders(len(inFlightStatuses))+`)`,
		args...,
	)
	if err != nil {
		return 0, fmt.Errorf("reset in-flight records: %w", err)
	}
	if err := s.execWithoutResultRetry(
		ctx,
		`UPDATE uploads SET status = ?, error_message = ?, completed_at = ? WHERE status IN (?, ?)`,
		UploadFailed, "interrupted", now, UploadPending, UploadSending,
	); err != nil {
		return 0, fmt.Errorf("fail interrupted uploads: %w", err)
	}
	if err := s.execWithoutResultRetry(
		ctx,
		`UPDATE upload_parts SET status = ?, error_message = ? WHERE status = ?`,
		PartAborted, "interrupted", PartPending,
	); err != nil {
		return 0, fmt.Errorf("abort interrupted parts: %w", err)
	}
	return res.RowsAffected()
}

// ResetRecord returns one record to pending with its digest kept. The
// workflow uses it for files interrupted by shutdown.
func (s *Store) ResetRecord(ctx context.Context, id int64) error {
	return s.SetStatus(ctx, id, StatusPending, "")
}

// RetryFailed re-arms failed and blocked records. With ids, only those records
// are touched.
func (s *Store) RetryFailed(ctx context.Context, ids ...int64) (int64, error) {
	now := formatTime(time.Now())
	query := `UPDATE file_records SET status = ?, error_message = NULL, updated_at = ? WHERE status IN (?, ?)`
	args := []any{StatusPending, now, StatusFailed, StatusBlocked}
	if len(ids) > 0 {
		query += ` AND id IN (` + makePlaceholders(len(ids)) + `)`
		for _, id := range ids {
			args = append(args, id)
		}
	}
	res, err := s.execWithRetry(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("retry failed records: %w", err)
	}
	return res.RowsAffected()
}

// ClearRecords removes records by status, or every record when none is
// given. Uploads and dedup entries are kept.
func (s *Store) ClearRecords(ctx context.Context, statuses ...Status) (int64, error) {
	query := `DELETE FROM file_records`
	var args []any
	if len(statuses) > 0 {
		query += ` WHERE status IN (` + makePlaceholders(len(statuses)) + `)`
		args = statusArgs(statuses)
	}
	res, err := s.execWithRetry(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("clear records: %w", err)
	}
	return res.RowsAffected()
}

// ResetBlocked re-arms blocked records only. Blocked records usually wait on
// a configuration fix such as a missing password.
func (s *Store) ResetBlocked(ctx context.Context) (int64, error) {
	res, err := s.execWithRetry(
		ctx,
		`UPDATE file_records SET status = ?, error_message = NULL, updated_at = ? WHERE status = ?`,
		StatusPending, formatTime(time.Now()), StatusBlocked,
	)
	if err != nil {
		return 0, fmt.Errorf("reset blocked records: %w", err)
	}
	return res.RowsAffected()
}
