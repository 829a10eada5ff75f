package recovery

import (
	"context"
	"log/slog"

	"github.com/markdave123-py/Extracta/internal/core"
	"github.com/markdave123-py/Extracta/internal/metrics"
)

const defaultMaxRounds = 8

// Manager applies the first strategy that accepts the current error, feeding
// each new failure back through the list until one succeeds or none applies.
type Manager struct {
	strategies []Strategy
	reporter   *Reporter
	logger     *slog.Logger
	maxRounds  int
}

// NewManager keeps strategies in priority order. reporter may be nil.
func NewManager(reporter *Reporter, logger *slog.Logger, strategies ...Strategy) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		strategies: strategies,
		reporter:   reporter,
		logger:     logger.With("component", "recovery"),
		maxRounds:  defaultMaxRounds,
	}
}

// Strategies returns the names of the configured strategies in order.
func (m *Manager) Strategies() []string {
	out := make([]string, 0, len(m.strategies))
	for _, s := range m.strategies {
		out = append(out, s.Name())
	}
	return out
}

// Recover returns a result for a, or the last error when nothing recovers.
// Every error seen along the way is recorded with the reporter.
func (m *Manager) Recover(ctx context.Context, err error, a Attempt) ([]core.Element, error) {
	for round := 0; round < m.maxRounds && err != nil; round++ {
		m.record(err)
		s := m.pick(err)
		if s == nil {
			return nil, err
		}
		out, rerr := s.Recover(ctx, err, a)
		if rerr == nil {
			metrics.RetryAttempts.WithLabelValues(s.Name(), "recovered").Inc()
			return out, nil
		}
		metrics.RetryAttempts.WithLabelValues(s.Name(), "failed").Inc()
		m.logger.Debug("recovery strategy failed", "strategy", s.Name(), "source", a.Source.Label, "error", rerr)
		if rerr == err && ctx.Err() == nil && s.CanRecover(err) {
			// The strategy gave the error back unchanged and would accept it
			// again; stop instead of looping.
			return nil, err
		}
		err = rerr
	}
	if err != nil {
		m.record(err)
	}
	return nil, err
}

// Run executes a.Run and routes a failure through Recover.
func (m *Manager) Run(ctx context.Context, a Attempt) ([]core.Element, error) {
	out, err := a.Run(ctx)
	if err == nil {
		return out, nil
	}
	return m.Recover(ctx, err, a)
}

func (m *Manager) pick(err error) Strategy {
	for _, s := range m.strategies {
		if s.CanRecover(err) {
			return s
		}
	}
	return nil
}

func (m *Manager) record(err error) {
	if m.reporter != nil {
		m.reporter.Add(err)
	}
}
