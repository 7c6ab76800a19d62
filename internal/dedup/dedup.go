// Package dedup guards against sending the same content twice.
//
// The Index pairs the persistent digest table in the store with an in-process
// lock per digest. A pipeline holds the digest lock from the dedup check until
// its file is finalized, so two files with identical content discovered at the
// same time are sent once: the second waits, then sees the first's entry.
package dedup

import (
	"context"
	"fmt"
	"log/slog"

	"courier/internal/hasher"
	"courier/internal/keylock"
	"courier/internal/logging"
	"courier/internal/services"
	"courier/internal/store"
)

// Store is the subset of store.Store the index needs.
type Store interface {
	LookupDigest(ctx context.Context, digest string) (store.DedupEntry, bool, error)
	RecordDigest(ctx context.Context, digest string, fileID, size int64) error
	ForgetDigest(ctx context.Context, digest string) (bool, error)
}

// Index serializes dedup decisions per digest.
type Index struct {
	store  Store
	locks  *keylock.Locker
	logger *slog.Logger
}

// New builds an Index over st.
func New(st Store, logger *slog.Logger) *Index {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Index{
		store:  st,
		locks:  keylock.New(),
		logger: logging.NewComponentLogger(logger, "dedup"),
	}
}

// Acquire blocks until no other pipeline holds digest. The release func is
// idempotent.
func (i *Index) Acquire(ctx context.Context, digest hasher.Digest) (func(), error) {
	release, err := i.locks.Lock(ctx, string(digest))
	if err != nil {
		return nil, err
	}
	i.logger.Debug("digest lock acquired", logging.String(logging.FieldDigest, digest.Short()))
	return release, nil
}

// Lookup reports whether digest has already been delivered.
func (i *Index) Lookup(ctx context.Context, digest hasher.Digest) (store.DedupEntry, bool, error) {
	entry, ok, err := i.store.LookupDigest(ctx, string(digest))
	if err != nil {
		return store.DedupEntry{}, false, services.Wrap(services.ErrIO, "dedup", "lookup digest", "Dedup lookup failed", err)
	}
	return entry, ok, nil
}

// Record marks digest as delivered under fileID. Recording an existing
// digest is a no-op.
func (i *Index) Record(ctx context.Context, digest hasher.Digest, fileID, size int64) error {
	if err := i.store.RecordDigest(ctx, string(digest), fileID, size); err != nil {
		return services.Wrap(services.ErrIO, "dedup", "record digest", fmt.Sprintf("Failed to record file %d", fileID), err)
	}
	return nil
}

// Forget removes digest so identical content may be sent again.
func (i *Index) Forget(ctx context.Context, digest hasher.Digest) (bool, error) {
	removed, err := i.store.ForgetDigest(ctx, string(digest))
	if err != nil {
		return false, services.Wrap(services.ErrIO, "dedup", "forget digest", "Failed to forget digest", err)
	}
	return removed, nil
}

// Pending returns the number of digests currently locked or awaited.
func (i *Index) Pending() int {
	return i.locks.Held()
}
