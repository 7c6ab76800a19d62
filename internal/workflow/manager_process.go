package workflow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"

	"courier/internal/dispatcher"
	"courier/internal/hasher"
	"courier/internal/logging"
	"courier/internal/processor"
	"courier/internal/services"
	"courier/internal/sizecache"
	"courier/internal/splitter"
	"courier/internal/stage"
	"courier/internal/store"
	"courier/internal/watch"
)

// fileRun is the state of one file between the process lane and its
// finalization.
type fileRun struct {
	record  *store.FileRecord
	upload  *store.Upload
	archive *processor.Archive
	digest  hasher.Digest
	release func()
	started time.Time
	parts   int

	mu          sync.Mutex
	done        int
	failed      bool
	interrupted bool
	firstErr    error
	bytes       int64
	sendTime    time.Duration
	forward     string
}

type unitJob struct {
	run  *fileRun
	unit dispatcher.Unit
}

// processFile runs the per-file stages up to enqueueing its units. Stages run
// strictly in order; a failure at any stage finalizes the file immediately.
func (m *Manager) processFile(ctx context.Context, laneLogger *slog.Logger, cand watch.Candidate) {
	run := &fileRun{started: time.Now()}
	handedOff := false
	defer func() {
		if !handedOff {
			m.unqueue(cand.RecordID)
		}
	}()

	logger, stageCtx := m.stageLogger(ctx, laneLogger, cand.RecordID, stage.Hash, laneProcess)
	rec, err := m.store.GetRecord(stageCtx, cand.RecordID)
	if err != nil {
		m.setLastError(err)
		logger.Error("load record failed", logging.Error(err), logging.String(logging.FieldEventType, "record_load_failed"))
		return
	}
	if rec == nil || rec.Status.IsTerminal() || rec.Status.IsInFlight() {
		logger.Debug("candidate no longer eligible")
		return
	}
	run.record = rec
	base := laneLogger.With(logging.String(logging.FieldPath, rec.Path))
	logger, stageCtx = m.stageLogger(ctx, base, rec.ID, stage.Hash, laneProcess)

	rec.Status = store.StatusHashing
	rec.ErrorMessage = ""
	if err := m.store.UpdateRecord(stageCtx, rec); err != nil {
		if errors.Is(err, store.ErrRecordChanged) {
			logger.Debug("file changed before hashing; waiting for the next scan")
			return
		}
		m.setLastError(err)
		logger.Error("mark hashing failed", logging.Error(err))
		return
	}

	digest, err := hasher.Sum(stageCtx, rec.Path)
	if err != nil {
		m.failFile(stageCtx, logger, run, err)
		return
	}
	run.digest = digest
	rec.Digest = string(digest)
	if err := m.store.UpdateRecord(stageCtx, rec); err != nil {
		m.failFile(stageCtx, logger, run, services.Wrap(services.ErrIO, stage.Hash, "save digest", "Failed to persist digest", err))
		return
	}
	m.rememberSize(logger, rec)
	base = base.With(logging.String(logging.FieldDigest, digest.Short()))

	logger, stageCtx = m.stageLogger(ctx, base, rec.ID, stage.Dedup, laneProcess)
	release, err := m.dedup.Acquire(stageCtx, digest)
	if err != nil {
		m.failFile(stageCtx, logger, run, err)
		return
	}
	run.release = release
	entry, seen, err := m.dedup.Lookup(stageCtx, digest)
	if err != nil {
		m.failFile(stageCtx, logger, run, err)
		return
	}
	if seen {
		m.markDuplicate(stageCtx, logger, run, entry)
		return
	}

	logger, stageCtx = m.stageLogger(ctx, base, rec.ID, stage.Allocate, laneProcess)
	upload, err := m.store.CreateUpload(stageCtx, store.UploadSpec{
		RecordID:    rec.ID,
		Name:        filepath.Base(rec.Path),
		SourcePath:  rec.Path,
		Digest:      string(digest),
		Encrypted:   m.processor.Encrypted(),
		Compression: m.processor.Compression(),
	})
	if err != nil {
		m.failFile(stageCtx, logger, run, services.Wrap(services.ErrIO, stage.Allocate, "create upload", "Failed to allocate file id", err))
		return
	}
	run.upload = upload
	rec.FileID = upload.ID
	rec.Status = store.StatusProcessing
	rec.ErrorMessage = ""
	if err := m.store.UpdateRecord(stageCtx, rec); err != nil {
		m.failFile(stageCtx, logger, run, services.Wrap(services.ErrIO, stage.Allocate, "save file id", "Failed to persist file id", err))
		return
	}
	base = base.With(logging.Int64(logging.FieldFileID, upload.ID))

	logger, stageCtx = m.stageLogger(ctx, base, rec.ID, stage.Process, laneProcess)
	archive, err := m.processor.Process(stageCtx, processor.Input{
		Name:   upload.Name,
		Paths:  []string{rec.Path},
		Digest: digest,
	})
	if err != nil {
		m.failFile(stageCtx, logger, run, err)
		return
	}
	run.archive = archive

	logger, stageCtx = m.stageLogger(ctx, base, rec.ID, stage.Split, laneProcess)
	parts, err := splitter.Split(splitter.Source{
		Name:   archive.Name,
		Path:   archive.Path,
		Size:   archive.Size,
		Digest: string(archive.Digest),
	}, m.cfg.Processing.MaxPartBytes())
	if err != nil {
		m.failFile(stageCtx, logger, run, err)
		return
	}
	run.parts = len(parts)

	logger, stageCtx = m.stageLogger(ctx, base, rec.ID, stage.Record, laneProcess)
	records := make([]store.PartRecord, 0, len(parts))
	for _, part := range parts {
		records = append(records, store.PartRecord{
			UploadID: upload.ID,
			Index:    part.Index,
			Count:    part.Count,
			Name:     part.Name,
			Size:     part.Size,
			Offset:   part.Offset,
			Status:   store.PartPending,
		})
	}
	if err := m.store.AddParts(stageCtx, upload.ID, records); err != nil {
		m.failFile(stageCtx, logger, run, services.Wrap(services.ErrIO, stage.Record, "add parts", "Failed to record parts", err))
		return
	}
	upload.ArchiveName = archive.Name
	upload.ArchiveSize = archive.Size
	upload.ArchiveDigest = string(archive.Digest)
	upload.PartCount = len(parts)
	upload.Encrypted = archive.Encrypted
	upload.Compression = archive.Compression
	upload.Status = store.UploadSending
	if err := m.store.FinishUpload(stageCtx, upload); err != nil {
		m.failFile(stageCtx, logger, run, services.Wrap(services.ErrIO, stage.Record, "save upload", "Failed to persist archive details", err))
		return
	}

	logger, stageCtx = m.stageLogger(ctx, base, rec.ID, stage.Enqueue, laneProcess)
	if err := stageCtx.Err(); err != nil {
		m.failFile(stageCtx, logger, run, err)
		return
	}
	rec.Status = store.StatusDispatching
	rec.Encrypted = archive.Encrypted
	if err := m.store.UpdateRecord(stageCtx, rec); err != nil {
		m.failFile(stageCtx, logger, run, services.Wrap(services.ErrIO, stage.Enqueue, "mark dispatching", "Failed to persist record", err))
		return
	}

	processing := time.Since(run.started)
	m.mu.Lock()
	m.runs[rec.ID] = run
	m.mu.Unlock()
	handedOff = true

	for _, part := range parts {
		m.units.Push(&unitJob{
			run: run,
			unit: dispatcher.Unit{
				RecordID:       rec.ID,
				FileID:         upload.ID,
				Source:         upload.Name,
				SourcePath:     rec.Path,
				Digest:         string(digest),
				Encrypted:      archive.Encrypted,
				ProcessingTime: processing,
				Part:           part,
			},
		}, part.Size)
	}
	m.metrics.SetQueueDepth(laneDispatch, m.units.Len())
	m.setLastFile(rec)
	logger.Info("file queued for dispatch",
		logging.String("archive", archive.Name),
		logging.Bytes("archive_size", archive.Size),
		logging.Int("parts", len(parts)),
		logging.Bool("encrypted", archive.Encrypted),
		logging.String("compression", archive.Compression),
		logging.Duration("processing_time", processing),
		logging.String(logging.FieldEventType, "file_queued"),
	)
}

func (m *Manager) markDuplicate(ctx context.Context, logger *slog.Logger, run *fileRun, entry store.DedupEntry) {
	rec := run.record
	rec.Status = store.StatusDuplicate
	rec.FileID = entry.FileID
	rec.ErrorMessage = ""
	rec.ProcessingTime = time.Since(run.started)
	if err := m.store.UpdateRecord(persistCtx(ctx), rec); err != nil {
		if errors.Is(err, store.ErrRecordChanged) {
			run.releaseLock()
			logger.Debug("file changed while checking for duplicates; waiting for the next scan")
			return
		}
		m.setLastError(err)
		logger.Error("mark duplicate failed", logging.Error(err))
	}
	run.releaseLock()
	m.metrics.FileFinished(string(store.StatusDuplicate))
	m.setLastFile(rec)
	logger.Info("duplicate content skipped",
		logging.Int64("existing_file_id", entry.FileID),
		logging.Time("first_seen", entry.FirstSeen),
		logging.String(logging.FieldEventType, "file_duplicate"),
	)
}

func (m *Manager) rememberSize(logger *slog.Logger, rec *store.FileRecord) {
	if !m.cache.Enabled() {
		return
	}
	if err := m.cache.Put(sizecache.Entry{
		Path:    rec.Path,
		Size:    rec.Size,
		ModTime: rec.ModTime,
		Digest:  rec.Digest,
	}); err != nil {
		logger.Debug("size cache update failed", logging.Error(err))
	}
}

// stageLogger annotates ctx with a fresh request id for stageName and returns
// a logger carrying it.
func (m *Manager) stageLogger(ctx context.Context, base *slog.Logger, recordID int64, stageName, lane string) (*slog.Logger, context.Context) {
	stageCtx := stage.WithContext(ctx, recordID, stageName, lane, uuid.NewString())
	if base == nil {
		base = m.logger
	}
	return logging.WithContext(stageCtx, base), stageCtx
}

func (r *fileRun) releaseLock() {
	if r.release != nil {
		r.release()
	}
}

func (r *fileRun) label() string {
	if r.record == nil {
		return "unknown"
	}
	return fmt.Sprintf("%s (record %d)", filepath.Base(r.record.Path), r.record.ID)
}
