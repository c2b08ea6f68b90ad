package health

import (
	"context"
	"sync"
	"time"

	"github.com/vietddude/filler/internal/core/checkpoint"
	"github.com/vietddude/filler/internal/indexing/engine"
)

// StatusProvider reports the state of one reader.
type StatusProvider interface {
	Status() engine.Status
}

// Pinger checks a backing service.
type Pinger interface {
	Health(ctx context.Context) error
}

// Thresholds decide when a reader is degraded or critical.
type Thresholds struct {
	DegradedFailures int           // consecutive failures (default: 1)
	CriticalFailures int           // consecutive failures (default: 10)
	StaleAfter       time.Duration // no block applied for this long is degraded; 0 disables
	CacheFor         time.Duration // reuse the last report for this long
}

// DefaultThresholds returns the thresholds used when none are configured.
func DefaultThresholds() Thresholds {
	return Thresholds{
		DegradedFailures: 1,
		CriticalFailures: 10,
		CacheFor:         time.Second,
	}
}

// Monitor aggregates health status from the readers and their dependencies.
type Monitor struct {
	readers      []StatusProvider
	dependencies map[string]Pinger
	thresholds   Thresholds
	now          func() time.Time

	mu         sync.Mutex
	lastCheck  time.Time
	lastReport *HealthReport
}

// NewMonitor creates a new health monitor.
func NewMonitor(thresholds Thresholds, readers ...StatusProvider) *Monitor {
	def := DefaultThresholds()
	if thresholds.DegradedFailures <= 0 {
		thresholds.DegradedFailures = def.DegradedFailures
	}
	if thresholds.CriticalFailures <= 0 {
		thresholds.CriticalFailures = def.CriticalFailures
	}
	return &Monitor{
		readers:      readers,
		dependencies: make(map[string]Pinger),
		thresholds:   thresholds,
		now:          time.Now,
	}
}

// AddDependency registers a service whose failure makes the system critical.
func (m *Monitor) AddDependency(name string, p Pinger) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.dependencies[name] = p
}

// CheckHealth builds a report for all readers and dependencies.
func (m *Monitor) CheckHealth(ctx context.Context) *HealthReport {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	if m.lastReport != nil && now.Sub(m.lastCheck) < m.thresholds.CacheFor {
		return m.lastReport
	}

	report := &HealthReport{
		SystemStatus: StatusHealthy,
		Readers:      make(map[string]ReaderHealth, len(m.readers)),
		Dependencies: make(map[string]string, len(m.dependencies)),
	}

	for _, r := range m.readers {
		h := m.evaluate(r.Status(), now)
		report.Readers[h.Reader] = h
		report.SystemStatus = worse(report.SystemStatus, h.Status)
	}

	for name, dep := range m.dependencies {
		if err := dep.Health(ctx); err != nil {
			report.Dependencies[name] = err.Error()
			report.SystemStatus = StatusCritical
			continue
		}
		report.Dependencies[name] = "ok"
	}

	m.lastCheck = now
	m.lastReport = report
	return report
}

func (m *Monitor) evaluate(s engine.Status, now time.Time) ReaderHealth {
	h := ReaderHealth{
		Reader:              s.Reader,
		Status:              StatusHealthy,
		State:               string(s.State),
		BlockNum:            s.BlockNum,
		BlockID:             s.BlockID,
		IrreversibleNum:     s.IrreversibleNum,
		WindowSize:          s.WindowSize,
		ConsecutiveFailures: s.ConsecutiveFailures,
		LastError:           s.LastError,
		BlocksPerSecond:     s.BlocksPerSecond,
		Forks:               s.Forks,
		Running:             s.Running,
	}
	if !s.LastAppliedAt.IsZero() {
		h.SinceLastBlock = now.Sub(s.LastAppliedAt)
	}

	t := m.thresholds
	switch {
	case s.State == checkpoint.StateError || s.ConsecutiveFailures >= t.CriticalFailures:
		h.Status = StatusCritical
	case s.ConsecutiveFailures >= t.DegradedFailures:
		h.Status = StatusDegraded
	case t.StaleAfter > 0 && !s.LastAppliedAt.IsZero() && h.SinceLastBlock > t.StaleAfter:
		h.Status = StatusDegraded
	}
	return h
}
