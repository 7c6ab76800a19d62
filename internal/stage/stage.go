// Package stage names the per-file pipeline stages and carries their context.
package stage

import (
	"context"

	"courier/internal/services"
)

// Stage names, in the order they run for one file.
const (
	Hash     = "hash"
	Dedup    = "dedup"
	Allocate = "allocate"
	Process  = "process"
	Split    = "split"
	Record   = "record"
	Enqueue  = "enqueue"
	Dispatch = "dispatch"
	Finalize = "finalize"
)

// WithContext annotates ctx with the record, stage, lane and request id so
// loggers built from it carry them.
func WithContext(ctx context.Context, recordID int64, stageName, lane, requestID string) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	if recordID > 0 {
		ctx = services.WithRecordID(ctx, recordID)
	}
	ctx = services.WithStage(ctx, stageName)
	ctx = services.WithLane(ctx, lane)
	return services.WithRequestID(ctx, requestID)
}
