package workflow

import (
	"context"

	"courier/internal/logging"
	"courier/internal/stage"
	"courier/internal/store"
)

// StatusSummary represents lightweight workflow diagnostics.
type StatusSummary struct {
	Running        bool                    `json:"running"`
	ProcessQueue   int                     `json:"process_queue"`
	DispatchQueue  int                     `json:"dispatch_queue"`
	ActiveFiles    int                     `json:"active_files"`
	LockedDigests  int                     `json:"locked_digests"`
	LimiterWaiting int                     `json:"limiter_waiting"`
	LastError      string                  `json:"last_error,omitempty"`
	LastFile       *store.FileRecord       `json:"last_file,omitempty"`
	Records        map[store.Status]int    `json:"records"`
	Uploads        int                     `json:"uploads"`
	DedupEntries   int                     `json:"dedup_entries"`
	Health         map[string]stage.Health `json:"health"`
}

// Status returns the latest workflow information.
func (m *Manager) Status(ctx context.Context) StatusSummary {
	m.mu.RLock()
	summary := StatusSummary{
		Running:     m.running,
		ActiveFiles: len(m.runs),
	}
	if m.lastErr != nil {
		summary.LastError = m.lastErr.Error()
	}
	if m.lastFile != nil {
		copy := *m.lastFile
		summary.LastFile = &copy
	}
	m.mu.RUnlock()

	summary.ProcessQueue = m.candidates.Len()
	summary.DispatchQueue = m.units.Len()
	summary.LockedDigests = m.dedup.Pending()
	summary.LimiterWaiting = m.dispatcher.Waiting()

	stats, err := m.store.Stats(ctx)
	if err != nil {
		m.logger.Warn("failed to read store stats", logging.Error(err))
	} else {
		summary.Records = stats.Records
		summary.Uploads = stats.Uploads
		summary.DedupEntries = stats.Dedup
	}

	summary.Health = make(map[string]stage.Health, len(m.health)+1)
	storeHealth := stage.Healthy("store")
	if err := m.store.Ping(ctx); err != nil {
		storeHealth = stage.Unhealthy("store", err.Error())
	}
	summary.Health[storeHealth.Name] = storeHealth
	for _, checker := range m.health {
		if checker == nil {
			continue
		}
		h := checker.HealthCheck(ctx)
		summary.Health[h.Name] = h
	}
	return summary
}

// Ready reports whether every component is healthy.
func (s StatusSummary) Ready() bool {
	for _, h := range s.Health {
		if !h.Ready {
			return false
		}
	}
	return true
}

func (m *Manager) setLastFile(rec *store.FileRecord) {
	m.mu.Lock()
	if rec != nil {
		copy := *rec
		m.lastFile = &copy
	} else {
		m.lastFile = nil
	}
	m.mu.Unlock()
}
