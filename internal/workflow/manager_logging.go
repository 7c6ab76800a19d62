package workflow

import (
	"fmt"
	"log/slog"

	"courier/internal/logging"
)

func (m *Manager) laneLogger(lane string, worker int) *slog.Logger {
	if m.logger == nil {
		return logging.NewNop()
	}
	return m.logger.With(
		logging.String(logging.FieldComponent, fmt.Sprintf("workflow-%s-runner", lane)),
		logging.Int("worker", worker),
	)
}
