package health

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

type fakeSource struct {
	name string
	last time.Time
}

func (f fakeSource) Name() string          { return f.name }
func (f fakeSource) LastSuccess() time.Time { return f.last }

func TestEvaluateHealthyWhenAllFresh(t *testing.T) {
	s := New(time.Minute, nil)
	s.Register(fakeSource{name: "rest", last: time.Now()})
	s.Register(fakeSource{name: "stream", last: time.Now()})

	status, _ := s.Evaluate()
	if status != StatusHealthy {
		t.Fatalf("expected HEALTHY, got %s", status)
	}
}

func TestEvaluateUnhealthyWhenAllStale(t *testing.T) {
	s := New(time.Minute, nil)
	old := time.Now().Add(-time.Hour)
	s.Register(fakeSource{name: "rest", last: old})
	s.Register(fakeSource{name: "stream", last: old})

	status, _ := s.Evaluate()
	if status != StatusUnhealthy {
		t.Fatalf("expected UNHEALTHY when all sources stale, got %s", status)
	}
}

func TestEvaluateDegradedWhenPartialOutage(t *testing.T) {
	s := New(time.Minute, nil)
	s.Register(fakeSource{name: "rest", last: time.Now()})
	s.Register(fakeSource{name: "stream", last: time.Now().Add(-time.Hour)})

	status, _ := s.Evaluate()
	if status != StatusDegraded {
		t.Fatalf("expected DEGRADED on partial outage, got %s", status)
	}
}

func TestEvaluateDegradedWhenModeFlagActive(t *testing.T) {
	s := New(time.Minute, func() bool { return true })
	s.Register(fakeSource{name: "rest", last: time.Now()})

	status, _ := s.Evaluate()
	if status != StatusDegraded {
		t.Fatalf("expected DEGRADED when degraded-mode flag active, got %s", status)
	}
}

func TestHandleHealthzReturns503WhenUnhealthy(t *testing.T) {
	s := New(time.Minute, nil)
	s.Register(fakeSource{name: "rest", last: time.Now().Add(-time.Hour)})

	mux := http.NewServeMux()
	s.RegisterHandlers(mux)

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", rec.Code)
	}
}
