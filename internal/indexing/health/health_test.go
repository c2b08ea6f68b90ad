package health

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/vietddude/filler/internal/core/checkpoint"
	"github.com/vietddude/filler/internal/indexing/engine"
)

// =============================================================================
// Stubs
// =============================================================================

type stubReader struct {
	status engine.Status
}

func (s *stubReader) Status() engine.Status { return s.status }

type stubPinger struct {
	err error
}

func (s *stubPinger) Health(ctx context.Context) error { return s.err }

func reader(name string, failures int, state checkpoint.State) *stubReader {
	return &stubReader{status: engine.Status{
		Reader:              name,
		State:               state,
		BlockNum:            1000,
		ConsecutiveFailures: failures,
		Running:             true,
	}}
}

// =============================================================================
// Tests
// =============================================================================

func TestMonitor_Healthy(t *testing.T) {
	monitor := NewMonitor(Thresholds{}, reader("atomic", 0, checkpoint.StateCaughtUp))
	monitor.AddDependency("database", &stubPinger{})

	report := monitor.CheckHealth(context.Background())

	if report.SystemStatus != StatusHealthy {
		t.Errorf("expected healthy, got %s", report.SystemStatus)
	}
	if report.Readers["atomic"].BlockNum != 1000 {
		t.Errorf("expected block 1000, got %d", report.Readers["atomic"].BlockNum)
	}
	if report.Dependencies["database"] != "ok" {
		t.Errorf("expected database ok, got %q", report.Dependencies["database"])
	}
}

func TestMonitor_Degraded(t *testing.T) {
	monitor := NewMonitor(Thresholds{}, reader("atomic", 3, checkpoint.StateCaughtUp))

	report := monitor.CheckHealth(context.Background())

	if report.SystemStatus != StatusDegraded {
		t.Errorf("expected degraded, got %s", report.SystemStatus)
	}
}

func TestMonitor_Critical(t *testing.T) {
	tests := []struct {
		name   string
		reader *stubReader
	}{
		{"too many failures", reader("atomic", 10, checkpoint.StateCaughtUp)},
		{"halted", reader("atomic", 0, checkpoint.StateError)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			report := NewMonitor(Thresholds{}, tt.reader).CheckHealth(context.Background())
			if report.SystemStatus != StatusCritical {
				t.Errorf("expected critical, got %s", report.SystemStatus)
			}
		})
	}
}

func TestMonitor_WorstReaderWins(t *testing.T) {
	monitor := NewMonitor(Thresholds{},
		reader("a", 0, checkpoint.StateCaughtUp),
		reader("b", 2, checkpoint.StateApplying),
	)
	report := monitor.CheckHealth(context.Background())

	if report.SystemStatus != StatusDegraded {
		t.Errorf("expected degraded, got %s", report.SystemStatus)
	}
	if report.Readers["a"].Status != StatusHealthy {
		t.Errorf("expected reader a healthy, got %s", report.Readers["a"].Status)
	}
}

func TestMonitor_StaleReader(t *testing.T) {
	r := reader("atomic", 0, checkpoint.StateCaughtUp)
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	r.status.LastAppliedAt = now.Add(-5 * time.Minute)

	monitor := NewMonitor(Thresholds{StaleAfter: time.Minute}, r)
	monitor.now = func() time.Time { return now }

	report := monitor.CheckHealth(context.Background())
	if report.SystemStatus != StatusDegraded {
		t.Errorf("expected degraded, got %s", report.SystemStatus)
	}
	if report.Readers["atomic"].SinceLastBlock != 5*time.Minute {
		t.Errorf("expected 5m since last block, got %s", report.Readers["atomic"].SinceLastBlock)
	}
}

func TestMonitor_DependencyDown(t *testing.T) {
	monitor := NewMonitor(Thresholds{}, reader("atomic", 0, checkpoint.StateCaughtUp))
	monitor.AddDependency("redis", &stubPinger{err: errors.New("connection refused")})

	report := monitor.CheckHealth(context.Background())
	if report.SystemStatus != StatusCritical {
		t.Errorf("expected critical, got %s", report.SystemStatus)
	}
	if report.Dependencies["redis"] != "connection refused" {
		t.Errorf("unexpected dependency status %q", report.Dependencies["redis"])
	}
}

func TestMonitor_CachesReport(t *testing.T) {
	r := reader("atomic", 0, checkpoint.StateCaughtUp)
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	monitor := NewMonitor(Thresholds{CacheFor: 10 * time.Second}, r)
	monitor.now = func() time.Time { return now }
	monitor.CheckHealth(context.Background())

	r.status.ConsecutiveFailures = 20
	if got := monitor.CheckHealth(context.Background()).SystemStatus; got != StatusHealthy {
		t.Errorf("expected cached healthy, got %s", got)
	}

	now = now.Add(11 * time.Second)
	if got := monitor.CheckHealth(context.Background()).SystemStatus; got != StatusCritical {
		t.Errorf("expected critical after cache expiry, got %s", got)
	}
}

func TestServer_Endpoints(t *testing.T) {
	r := reader("atomic", 0, checkpoint.StateCaughtUp)
	monitor := NewMonitor(Thresholds{}, r)
	srv := httptest.NewServer(NewServer(monitor, 0).Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/health")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("expected 200, got %d", resp.StatusCode)
	}

	resp, err = http.Get(srv.URL + "/health/detailed")
	if err != nil {
		t.Fatal(err)
	}
	var report HealthReport
	if err := json.NewDecoder(resp.Body).Decode(&report); err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if report.Readers["atomic"].State != string(checkpoint.StateCaughtUp) {
		t.Errorf("unexpected state %q", report.Readers["atomic"].State)
	}

	resp, err = http.Get(srv.URL + "/metrics")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("expected 200 from /metrics, got %d", resp.StatusCode)
	}
}

func TestServer_CriticalReturns503(t *testing.T) {
	monitor := NewMonitor(Thresholds{}, reader("atomic", 0, checkpoint.StateError))
	srv := httptest.NewServer(NewServer(monitor, 0).Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/health")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Errorf("expected 503, got %d", resp.StatusCode)
	}
}
