package workflow

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"courier/internal/dispatcher"
	"courier/internal/logging"
	"courier/internal/reporter"
	"courier/internal/stage"
	"courier/internal/store"
)

const (
	abortReason         = "aborted: earlier part failed"
	sourceChangedReason = "source changed during upload"
)

// dispatchUnit sends one unit, or aborts it when an earlier unit of the same
// file has failed, and finalizes the file after its last unit.
func (m *Manager) dispatchUnit(ctx context.Context, laneLogger *slog.Logger, job *unitJob) {
	run := job.run
	unit := job.unit
	logger, stageCtx := m.stageLogger(ctx, laneLogger, unit.RecordID, stage.Dispatch, laneDispatch)
	logger = logger.With(
		logging.Int64(logging.FieldFileID, unit.FileID),
		logging.String(logging.FieldPart, unit.Part.Label()),
	)

	run.mu.Lock()
	skip := run.failed
	run.mu.Unlock()

	var res dispatcher.Result
	if skip {
		res = m.dispatcher.Abort(stageCtx, unit, abortReason)
	} else {
		res = m.dispatcher.Dispatch(stageCtx, unit)
	}
	interrupted := !res.OK() && isCancellation(stageCtx, res.Err)

	m.recordPart(persistCtx(stageCtx), logger, unit, res, skip)

	run.mu.Lock()
	run.done++
	if res.OK() {
		run.bytes += unit.Part.Size
		run.sendTime += res.Elapsed
		run.forward = worseForward(run.forward, res.Forward)
	} else {
		if interrupted {
			run.interrupted = true
		}
		if !run.failed {
			run.failed = true
			run.firstErr = res.Err
		}
	}
	last := run.done == run.parts
	interruptedRun := run.interrupted
	run.mu.Unlock()

	if !last {
		return
	}
	if interruptedRun {
		// Stop rolls the file back once the lanes have drained.
		return
	}
	m.finalize(persistCtx(stageCtx), laneLogger, run)
}

func (m *Manager) recordPart(ctx context.Context, logger *slog.Logger, unit dispatcher.Unit, res dispatcher.Result, aborted bool) {
	part := &store.PartRecord{
		UploadID:      unit.FileID,
		Index:         unit.Part.Index,
		Count:         unit.Part.Count,
		Stream:        res.Receipt.Stream,
		Sequence:      res.Receipt.Sequence,
		Attempts:      res.Attempts,
		ForwardStatus: res.Forward,
	}
	switch {
	case res.OK():
		now := time.Now().UTC()
		part.Status = store.PartSent
		part.SentAt = &now
	case aborted:
		part.Status = store.PartAborted
		part.ErrorMessage = abortReason
	default:
		part.Status = store.PartFailed
		part.ErrorMessage = res.Err.Error()
	}
	if err := m.store.UpdatePart(ctx, part); err != nil {
		logger.Warn("persist part outcome failed", logging.Error(err))
	}
}

// finalize settles a file once every unit has a terminal outcome.
func (m *Manager) finalize(ctx context.Context, laneLogger *slog.Logger, run *fileRun) {
	logger, ctx := m.stageLogger(ctx, laneLogger, run.record.ID, stage.Finalize, laneDispatch)
	logger = logger.With(
		logging.Int64(logging.FieldFileID, run.upload.ID),
		logging.String(logging.FieldDigest, run.digest.Short()),
	)
	defer func() {
		m.mu.Lock()
		delete(m.runs, run.record.ID)
		delete(m.queued, run.record.ID)
		m.mu.Unlock()
	}()

	run.mu.Lock()
	failed := run.failed
	firstErr := run.firstErr
	bytes := run.bytes
	sendTime := run.sendTime
	forward := run.forward
	run.mu.Unlock()

	if failed {
		status := m.recordFailure(ctx, logger, run, firstErr)
		m.metrics.FileFinished(string(status))
		return
	}

	if sourceChanged(run.record) {
		m.rollback(ctx, logger, run, sourceChangedReason)
		return
	}

	var rate float64
	if sendTime > 0 {
		rate = float64(bytes) / sendTime.Seconds()
	}
	elapsed := time.Since(run.started)

	rec := run.record
	rec.Status = store.StatusSent
	rec.FileID = run.upload.ID
	rec.ProcessingTime = elapsed
	rec.TransferRate = rate
	rec.Encrypted = run.upload.Encrypted
	rec.ErrorMessage = ""
	if err := m.store.UpdateRecord(ctx, rec); err != nil {
		if errors.Is(err, store.ErrRecordChanged) {
			m.rollback(ctx, logger, run, sourceChangedReason)
			return
		}
		m.setLastError(err)
		logger.Error("persist record outcome failed", logging.Error(err))
	}

	if err := m.dedup.Record(ctx, run.digest, run.upload.ID, run.record.Size); err != nil {
		// The file was delivered; a lost dedup entry only risks a resend.
		logging.WarnWithContext(logger, "dedup entry not recorded", "dedup_record_failed",
			logging.Error(err),
			logging.String(logging.FieldImpact, "identical content may be sent again"),
		)
	}
	m.removeArchive(logger, run)
	run.releaseLock()

	now := time.Now().UTC()
	run.upload.Status = store.UploadSent
	run.upload.ForwardStatus = forward
	run.upload.ProcessingTime = elapsed
	run.upload.TransferRate = rate
	run.upload.CompletedAt = &now
	if err := m.store.FinishUpload(ctx, run.upload); err != nil {
		logger.Error("persist upload outcome failed", logging.Error(err))
	}
	m.setLastFile(rec)
	m.metrics.FileFinished(string(store.StatusSent))

	logger.Info("file sent",
		logging.String(logging.FieldPath, rec.Path),
		logging.Int("parts", run.parts),
		logging.Bytes("bytes", bytes),
		logging.Duration("processing_time", elapsed),
		logging.Float64("transfer_rate", rate),
		logging.String("forward", forward),
		logging.String(logging.FieldEventType, "file_sent"),
	)
}

// worseForward keeps the least favourable forward outcome across a file's
// units: failed beats skipped beats ok.
func worseForward(current, next string) string {
	rank := func(outcome string) int {
		switch {
		case strings.HasPrefix(outcome, "failed"):
			return 3
		case outcome == reporter.ForwardSkipped:
			return 2
		case outcome == reporter.ForwardOK:
			return 1
		default:
			return 0
		}
	}
	if rank(next) > rank(current) {
		return next
	}
	return current
}
