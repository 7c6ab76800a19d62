package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gofrs/flock"

	"courier/internal/api"
	"courier/internal/config"
	"courier/internal/logging"
	"courier/internal/metrics"
	"courier/internal/store"
	"courier/internal/watch"
	"courier/internal/workflow"
)

// Options are the components a Daemon coordinates. Scanner, Files and
// Metrics are optional.
type Options struct {
	Store    *store.Store
	Workflow *workflow.Manager
	Scanner  *watch.Scanner
	Files    *api.FileService
	Metrics  *metrics.Metrics
	Logger   *slog.Logger
}

// Daemon coordinates the background processing services and enforces
// single-instance execution.
type Daemon struct {
	cfg      *config.Config
	logger   *slog.Logger
	store    *store.Store
	workflow *workflow.Manager
	scanner  *watch.Scanner
	api      *apiServer

	lockPath string
	lock     *flock.Flock

	running   atomic.Bool
	cancel    context.CancelFunc
	scannerWG sync.WaitGroup
}

// Status represents daemon runtime information.
type Status struct {
	Running      bool
	PID          int
	Workflow     workflow.StatusSummary
	DatabasePath string
	LockFilePath string
	WorkDir      string
	Folders      []string
}

// New constructs a daemon with initialized dependencies.
func New(cfg *config.Config, opts Options) (*Daemon, error) {
	if cfg == nil || opts.Store == nil || opts.Workflow == nil {
		return nil, errors.New("daemon requires config, store, and workflow manager")
	}
	logger := opts.Logger
	if logger == nil {
		logger = logging.NewNop()
	}
	files := opts.Files
	if files == nil {
		files = api.NewFileService(opts.Store, nil)
	}

	lockPath := cfg.LockPath()
	d := &Daemon{
		cfg:      cfg,
		logger:   logging.NewComponentLogger(logger, "daemon"),
		store:    opts.Store,
		workflow: opts.Workflow,
		scanner:  opts.Scanner,
		lockPath: lockPath,
		lock:     flock.New(lockPath),
	}
	d.api = newAPIServer(cfg, d, files, opts.Metrics, logger)
	return d, nil
}

// Start acquires the daemon lock, then launches the workflow manager, the
// folder scanner and the API server.
func (d *Daemon) Start(ctx context.Context) error {
	if d.running.Load() {
		return errors.New("daemon already running")
	}

	ok, err := d.lock.TryLock()
	if err != nil {
		return fmt.Errorf("acquire lock: %w", err)
	}
	if !ok {
		return errors.New("another courier daemon instance is already running")
	}

	runCtx, cancel := context.WithCancel(ctx)
	if err := d.workflow.Start(runCtx); err != nil {
		cancel()
		_ = d.lock.Unlock()
		return fmt.Errorf("start workflow: %w", err)
	}
	if err := d.api.start(runCtx); err != nil {
		cancel()
		d.workflow.Stop()
		_ = d.lock.Unlock()
		return err
	}
	if d.scanner != nil {
		d.scannerWG.Add(1)
		go func() {
			defer d.scannerWG.Done()
			_ = d.scanner.Run(runCtx)
		}()
	}

	d.cancel = cancel
	d.running.Store(true)
	d.logger.Info("courier daemon started",
		logging.String("lock", d.lockPath),
		logging.String("api", d.api.address()),
		logging.Int("folders", len(d.cfg.Watch.Folders)),
	)
	return nil
}

// Stop stops scanning, drains the workflow and releases the daemon lock.
// Files still in flight are rolled back to pending. Stop gives up waiting
// after workflow.shutdown_grace_seconds.
func (d *Daemon) Stop() {
	if !d.running.Load() {
		return
	}

	if d.cancel != nil {
		d.cancel()
		d.cancel = nil
	}
	d.scannerWG.Wait()
	d.api.stop()

	done := make(chan struct{})
	go func() {
		d.workflow.Stop()
		close(done)
	}()
	grace := time.Duration(d.cfg.Workflow.ShutdownGraceSeconds) * time.Second
	if grace <= 0 {
		<-done
	} else {
		select {
		case <-done:
		case <-time.After(grace):
			logging.WarnWithContext(d.logger, "workflow did not stop within grace period", "shutdown_grace_exceeded",
				logging.Duration("grace", grace),
				logging.String(logging.FieldImpact, "unfinished files are reset to pending on the next start"),
			)
		}
	}

	if err := d.lock.Unlock(); err != nil {
		d.logger.Warn("failed to release daemon lock", logging.Error(err))
	}
	d.running.Store(false)
	d.logger.Info("courier daemon stopped")
}

// Close releases resources held by the daemon.
func (d *Daemon) Close() error {
	d.Stop()
	if d.store != nil {
		return d.store.Close()
	}
	return nil
}

// Addr returns the API listen address, or "" when the API is disabled or
// not started.
func (d *Daemon) Addr() string {
	return d.api.address()
}

// Status returns the current daemon status.
func (d *Daemon) Status(ctx context.Context) Status {
	return Status{
		Running:      d.running.Load(),
		PID:          os.Getpid(),
		Workflow:     d.workflow.Status(ctx),
		DatabasePath: d.store.Path(),
		LockFilePath: d.lockPath,
		WorkDir:      d.cfg.Paths.WorkDir,
		Folders:      append([]string(nil), d.cfg.Watch.Folders...),
	}
}
