package workflow

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"courier/internal/logging"
	"courier/internal/staging"
)

// janitorInterval is how often stale work directories are swept while running.
const janitorInterval = time.Hour

// Start resets records left mid-pipeline by a previous run, sweeps stale work
// directories, and starts both lanes.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	if m.running {
		m.mu.Unlock()
		return errors.New("workflow already running")
	}
	m.mu.Unlock()

	reset, err := m.store.ResetInFlight(ctx)
	if err != nil {
		return err
	}
	if reset > 0 {
		m.logger.Info("reset interrupted records", logging.Int64("count", reset))
	}
	m.sweep(ctx)

	m.mu.Lock()
	runCtx, cancel := context.WithCancel(ctx)
	m.cancel = cancel
	m.running = true
	processWorkers := max(m.cfg.Workflow.ProcessWorkers, 1)
	dispatchWorkers := max(m.cfg.Workflow.DispatchWorkers, 1)
	m.processWG.Add(processWorkers)
	m.dispatchWG.Add(dispatchWorkers)
	m.janitorWG.Add(1)
	m.mu.Unlock()

	for i := range processWorkers {
		go m.runProcessLane(runCtx, m.laneLogger(laneProcess, i))
	}
	for i := range dispatchWorkers {
		go m.runDispatchLane(runCtx, m.laneLogger(laneDispatch, i))
	}
	go m.runJanitor(runCtx)

	m.logger.Info("workflow started",
		logging.Int("process_workers", processWorkers),
		logging.Int("dispatch_workers", dispatchWorkers),
	)
	return nil
}

// Stop stops pulling work, waits for in-flight dispatches to end, and rolls
// unfinished files back to pending with their archives removed.
func (m *Manager) Stop() {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return
	}
	cancel := m.cancel
	m.running = false
	m.cancel = nil
	m.mu.Unlock()

	cancel()
	m.processWG.Wait()
	m.dispatchWG.Wait()
	m.janitorWG.Wait()

	dropped := len(m.candidates.Drain())
	units := len(m.units.Drain())

	m.mu.Lock()
	runs := make([]*fileRun, 0, len(m.runs))
	for _, run := range m.runs {
		runs = append(runs, run)
	}
	m.runs = make(map[int64]*fileRun)
	m.queued = make(map[int64]struct{})
	m.mu.Unlock()

	ctx := context.Background()
	for _, run := range runs {
		m.rollback(ctx, m.logger, run, "interrupted by shutdown")
	}
	m.metrics.SetQueueDepth(laneProcess, 0)
	m.metrics.SetQueueDepth(laneDispatch, 0)
	m.logger.Info("workflow stopped",
		logging.Int("dropped_candidates", dropped),
		logging.Int("dropped_units", units),
		logging.Int("rolled_back", len(runs)),
	)
}

func (m *Manager) runProcessLane(ctx context.Context, logger *slog.Logger) {
	defer m.processWG.Done()
	for {
		if ctx.Err() != nil {
			return
		}
		cand, err := m.candidates.Pop(ctx)
		if err != nil {
			return
		}
		m.metrics.SetQueueDepth(laneProcess, m.candidates.Len())
		if ctx.Err() != nil {
			// Still pending in the store; the next run offers it again.
			m.unqueue(cand.RecordID)
			return
		}
		m.processFile(ctx, logger, cand)
	}
}

func (m *Manager) runDispatchLane(ctx context.Context, logger *slog.Logger) {
	defer m.dispatchWG.Done()
	for {
		if ctx.Err() != nil {
			return
		}
		job, err := m.units.Pop(ctx)
		if err != nil {
			return
		}
		if ctx.Err() != nil {
			// Left for Stop, which rolls back the whole file.
			m.units.Push(job, job.unit.Part.Size)
			return
		}
		m.metrics.SetQueueDepth(laneDispatch, m.units.Len())
		m.dispatchUnit(ctx, logger, job)
	}
}

func (m *Manager) runJanitor(ctx context.Context) {
	defer m.janitorWG.Done()
	ticker := time.NewTicker(janitorInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.sweep(ctx)
		}
	}
}

// sweep removes work directories older than stale_work_hours that no active
// file owns.
func (m *Manager) sweep(ctx context.Context) {
	maxAge := time.Duration(m.cfg.Workflow.StaleWorkHours) * time.Hour
	if maxAge <= 0 {
		return
	}
	result := staging.CleanStale(ctx, m.cfg.Paths.WorkDir, maxAge, m.activeDirs(), m.logger)
	for _, failure := range result.Errors {
		logging.WarnWithContext(m.logger, "stale work cleanup failed", "work_cleanup_failed",
			logging.String(logging.FieldPath, failure.Path),
			logging.Error(failure.Error),
			logging.String(logging.FieldErrorHint, "check permissions on paths.work_dir"),
			logging.String(logging.FieldImpact, "disk space is not reclaimed"),
		)
	}
}

func (m *Manager) activeDirs() map[string]struct{} {
	m.mu.RLock()
	defer m.mu.RUnlock()
	keep := make(map[string]struct{}, len(m.runs))
	for _, run := range m.runs {
		if name := run.archive.DirName(); name != "" {
			keep[name] = struct{}{}
		}
	}
	return keep
}
