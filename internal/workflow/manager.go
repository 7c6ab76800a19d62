package workflow

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"courier/internal/config"
	"courier/internal/dedup"
	"courier/internal/dispatcher"
	"courier/internal/logging"
	"courier/internal/metrics"
	"courier/internal/processor"
	"courier/internal/queue"
	"courier/internal/services"
	"courier/internal/sizecache"
	"courier/internal/stage"
	"courier/internal/store"
	"courier/internal/watch"
)

const (
	laneProcess  = "process"
	laneDispatch = "dispatch"
)

// Components are the collaborators a Manager drives. Cache, Metrics and
// Health are optional.
type Components struct {
	Store      *store.Store
	Dedup      *dedup.Index
	Processor  *processor.Processor
	Dispatcher *dispatcher.Dispatcher
	Cache      *sizecache.Cache
	Metrics    *metrics.Metrics
	Health     []stage.Checker
}

// Manager coordinates the process and dispatch lanes.
type Manager struct {
	cfg        *config.Config
	store      *store.Store
	dedup      *dedup.Index
	processor  *processor.Processor
	dispatcher *dispatcher.Dispatcher
	cache      *sizecache.Cache
	sizer      *queue.Sizer
	metrics    *metrics.Metrics
	health     []stage.Checker
	logger     *slog.Logger

	candidates *queue.Queue[watch.Candidate]
	units      *queue.Queue[*unitJob]

	mu         sync.RWMutex
	queued     map[int64]struct{}
	runs       map[int64]*fileRun
	running    bool
	cancel     context.CancelFunc
	processWG  sync.WaitGroup
	dispatchWG sync.WaitGroup
	janitorWG  sync.WaitGroup
	lastErr    error
	lastFile   *store.FileRecord
}

// NewManager constructs a workflow manager.
func NewManager(cfg *config.Config, c Components, logger *slog.Logger) (*Manager, error) {
	if cfg == nil {
		return nil, services.Wrap(services.ErrConfiguration, "workflow", "init", "Config is required", nil)
	}
	if c.Store == nil || c.Dedup == nil || c.Processor == nil || c.Dispatcher == nil {
		return nil, services.Wrap(services.ErrConfiguration, "workflow", "init",
			"Store, dedup index, processor and dispatcher are required", nil)
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	cache := c.Cache
	if cache == nil {
		cache = sizecache.NewCache("", logger)
	}
	return &Manager{
		cfg:        cfg,
		store:      c.Store,
		dedup:      c.Dedup,
		processor:  c.Processor,
		dispatcher: c.Dispatcher,
		cache:      cache,
		sizer:      queue.NewSizer(cache),
		metrics:    c.Metrics,
		health:     c.Health,
		logger:     logging.NewComponentLogger(logger, "workflow"),
		candidates: queue.New[watch.Candidate](),
		units:      queue.New[*unitJob](),
		queued:     make(map[int64]struct{}),
		runs:       make(map[int64]*fileRun),
	}, nil
}

// Offer queues a candidate for the process lane. A record that is already
// queued or in progress is ignored. Offer never blocks.
func (m *Manager) Offer(_ context.Context, c watch.Candidate) bool {
	m.mu.Lock()
	if _, ok := m.queued[c.RecordID]; ok {
		m.mu.Unlock()
		return false
	}
	m.queued[c.RecordID] = struct{}{}
	m.mu.Unlock()

	size, cached := m.sizer.Size(c.Path)
	if size == queue.UnknownSize && c.Size > 0 {
		size = c.Size
	}
	m.candidates.Push(c, size)
	m.metrics.SetQueueDepth(laneProcess, m.candidates.Len())
	m.logger.Debug("candidate queued",
		logging.Int64(logging.FieldRecordID, c.RecordID),
		logging.String(logging.FieldPath, c.Path),
		logging.Int64("priority_size", size),
		logging.Bool("size_cached", cached),
	)
	return true
}

func (m *Manager) unqueue(recordID int64) {
	m.mu.Lock()
	delete(m.queued, recordID)
	m.mu.Unlock()
}

// persistCtx detaches store writes from lane cancellation so a shutdown never
// leaves a half-written outcome behind.
func persistCtx(ctx context.Context) context.Context {
	return context.WithoutCancel(ctx)
}

func isCancellation(ctx context.Context, err error) bool {
	if err == nil {
		return false
	}
	return ctx.Err() != nil && (errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded))
}
