package workflow

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"courier/internal/dispatcher"
	"courier/internal/logging"
	"courier/internal/services"
	"courier/internal/splitter"
	"courier/internal/store"
)

// failFile ends a file that failed in the process lane. Failures caused by
// shutdown roll the file back instead.
func (m *Manager) failFile(ctx context.Context, logger *slog.Logger, run *fileRun, stageErr error) {
	if isCancellation(ctx, stageErr) {
		logger.Debug("file interrupted by shutdown")
		m.rollback(persistCtx(ctx), logger, run, "interrupted by shutdown")
		return
	}
	if errors.Is(stageErr, store.ErrRecordChanged) {
		m.rollback(persistCtx(ctx), logger, run, sourceChangedReason)
		return
	}
	ctx = persistCtx(ctx)
	if run.record != nil {
		m.dispatcher.Reject(ctx, dispatcher.Unit{
			RecordID:       run.record.ID,
			FileID:         run.record.FileID,
			Source:         filepath.Base(run.record.Path),
			SourcePath:     run.record.Path,
			Digest:         string(run.digest),
			Encrypted:      m.processor.Encrypted(),
			ProcessingTime: time.Since(run.started),
			Part:           splitter.Part{Name: filepath.Base(run.record.Path), Size: run.record.Size},
		}, stageErr)
	}
	status := m.recordFailure(ctx, logger, run, stageErr)
	m.metrics.FileFinished(string(status))
}

// recordFailure persists a failed outcome and frees the file's resources. It
// returns the status the record ended in.
func (m *Manager) recordFailure(ctx context.Context, logger *slog.Logger, run *fileRun, cause error) store.Status {
	details := services.Details(cause)
	status := services.FailureStatus(cause)
	message := details.Message
	if message == "" && cause != nil {
		message = cause.Error()
	}

	m.removeArchive(logger, run)
	run.releaseLock()

	if run.upload != nil {
		now := time.Now().UTC()
		run.upload.Status = store.UploadFailed
		run.upload.ErrorMessage = message
		run.upload.ProcessingTime = time.Since(run.started)
		run.upload.CompletedAt = &now
		if err := m.store.FinishUpload(ctx, run.upload); err != nil {
			logger.Error("persist upload failure failed", logging.Error(err))
		}
	}
	if run.record != nil {
		run.record.Status = status
		run.record.ErrorMessage = message
		run.record.ProcessingTime = time.Since(run.started)
		if err := m.store.UpdateRecord(ctx, run.record); err != nil {
			if errors.Is(err, store.ErrRecordChanged) {
				logger.Debug("file changed during upload; the new content is picked up on the next scan")
			} else {
				logger.Error("persist record failure failed", logging.Error(err))
			}
		}
		m.setLastFile(run.record)
	}
	m.setLastError(cause)

	attrs := []logging.Attr{
		logging.String("resolved_status", string(status)),
		logging.String(logging.FieldErrorKind, details.Kind),
		logging.String("error_stage", details.Stage),
		logging.String("error_operation", details.Operation),
		logging.String(logging.FieldErrorHint, details.Hint),
		logging.Alert("file_failure"),
		logging.String(logging.FieldEventType, "file_failed"),
	}
	if details.Cause != nil {
		attrs = append(attrs, logging.Error(details.Cause))
	} else {
		attrs = append(attrs, logging.Error(cause))
	}
	if status == store.StatusBlocked {
		attrs = append(attrs, logging.String(logging.FieldImpact, "file is not retried until the configuration is fixed"))
	} else {
		attrs = append(attrs, logging.String(logging.FieldImpact, "file is retried on a later scan"))
	}
	logger.Error(message, logging.Args(attrs...)...)
	return status
}

// rollback returns an unfinished file to pending so a later scan retries it.
func (m *Manager) rollback(ctx context.Context, logger *slog.Logger, run *fileRun, reason string) {
	if logger == nil {
		logger = m.logger
	}
	m.removeArchive(logger, run)
	run.releaseLock()
	if run.upload != nil {
		now := time.Now().UTC()
		run.upload.Status = store.UploadFailed
		run.upload.ErrorMessage = reason
		run.upload.CompletedAt = &now
		if err := m.store.FinishUpload(ctx, run.upload); err != nil {
			logger.Warn("persist interrupted upload failed", logging.Error(err))
		}
	}
	if run.record != nil {
		if err := m.store.ResetRecord(ctx, run.record.ID); err != nil {
			logger.Warn("reset interrupted record failed",
				logging.Int64(logging.FieldRecordID, run.record.ID),
				logging.Error(err),
			)
			return
		}
		logger.Info("file rolled back to pending",
			logging.String("file", run.label()),
			logging.String("reason", reason),
		)
	}
}

// sourceChanged reports whether the file on disk no longer matches the size
// and modification time the record was hashed at.
func sourceChanged(rec *store.FileRecord) bool {
	if rec == nil {
		return false
	}
	info, err := os.Stat(rec.Path)
	if err != nil {
		return true
	}
	return info.Size() != rec.Size || !info.ModTime().UTC().Equal(rec.ModTime)
}

func (m *Manager) removeArchive(logger *slog.Logger, run *fileRun) {
	if run.archive == nil {
		return
	}
	if err := run.archive.Remove(); err != nil {
		logging.WarnWithContext(logger, "archive cleanup failed", "archive_cleanup_failed",
			logging.String(logging.FieldPath, run.archive.Path),
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "remove the directory under paths.work_dir by hand"),
			logging.String(logging.FieldImpact, "disk space is held until the stale sweep"),
		)
	}
}

func (m *Manager) setLastError(err error) {
	if err == nil || errors.Is(err, context.Canceled) {
		return
	}
	m.mu.Lock()
	m.lastErr = err
	m.mu.Unlock()
}
