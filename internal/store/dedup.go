package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// LookupDigest reports whether content with digest has already been delivered.
func (s *Store) LookupDigest(ctx context.Context, digest string) (DedupEntry, bool, error) {
	var (
		entry     DedupEntry
		firstSeen string
	)
	err := s.db.QueryRowContext(
		ensureContext(ctx),
		`SELECT digest, file_id, size, first_seen FROM dedup_entries WHERE digest = ?`,
		digest,
	).Scan(&entry.Digest, &entry.FileID, &entry.Size, &firstSeen)
	if errors.Is(err, sql.ErrNoRows) {
		return DedupEntry{}, false, nil
	}
	if err != nil {
		return DedupEntry{}, false, fmt.Errorf("lookup digest: %w", err)
	}
	entry.FirstSeen, _ = parseTimeString(firstSeen)
	return entry, true, nil
}

// RecordDigest marks digest as delivered under fileID. Recording an existing
// digest keeps the first entry, so the call is idempotent.
func (s *Store) RecordDigest(ctx context.Context, digest string, fileID, size int64) error {
	if err := s.execWithoutResultRetry(
		ctx,
		`INSERT INTO dedup_entries (digest, file_id, size, first_seen) VALUES (?, ?, ?, ?)
         ON CONFLICT(digest) DO NOTHING`,
		digest, fileID, size, formatTime(time.Now()),
	); err != nil {
		return fmt.Errorf("record digest: %w", err)
	}
	return nil
}

// ForgetDigest removes a dedup entry so the content can be sent again.
func (s *Store) ForgetDigest(ctx context.Context, digest string) (bool, error) {
	res, err := s.execWithRetry(ctx, `DELETE FROM dedup_entries WHERE digest = ?`, digest)
	if err != nil {
		return false, fmt.Errorf("forget digest: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return affected > 0, nil
}

// ListDedup returns dedup entries oldest first.
func (s *Store) ListDedup(ctx context.Context) ([]DedupEntry, error) {
	rows, err := s.db.QueryContext(
		ensureContext(ctx),
		`SELECT digest, file_id, size, first_seen FROM dedup_entries ORDER BY first_seen, digest`,
	)
	if err != nil {
		return nil, fmt.Errorf("list dedup: %w", err)
	}
	defer rows.Close()

	var entries []DedupEntry
	for rows.Next() {
		var (
			entry     DedupEntry
			firstSeen string
		)
		if err := rows.Scan(&entry.Digest, &entry.FileID, &entry.Size, &firstSeen); err != nil {
			return nil, err
		}
		entry.FirstSeen, _ = parseTimeString(firstSeen)
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}
