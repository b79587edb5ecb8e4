package observability

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

func okProbe(name string, critical bool) Probe {
	return Probe{
		Name:     name,
		Check:    func(context.Context) error { return nil },
		Critical: critical,
	}
}

func failingProbe(name string, critical bool) Probe {
	return Probe{
		Name:     name,
		Check:    func(context.Context) error { return errors.New("unreachable") },
		Critical: critical,
	}
}

func TestHealthzAllProbesPassing(t *testing.T) {
	h := NewHealth()
	h.Register(okProbe("store", true))
	h.Register(okProbe("openai", false))

	rec := httptest.NewRecorder()
	h.HealthzHandler()(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusOK)
	}
	var report healthReport
	if err := json.Unmarshal(rec.Body.Bytes(), &report); err != nil {
		t.Fatalf("decode report: %v", err)
	}
	if report.Status != "ok" {
		t.Errorf("Status = %q, want ok", report.Status)
	}
	if len(report.Probes) != 2 {
		t.Errorf("Probes = %d, want 2", len(report.Probes))
	}
}

func TestHealthzCriticalFailure(t *testing.T) {
	h := NewHealth()
	h.Register(failingProbe("store", true))

	rec := httptest.NewRecorder()
	h.HealthzHandler()(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusServiceUnavailable)
	}
	var report healthReport
	if err := json.Unmarshal(rec.Body.Bytes(), &report); err != nil {
		t.Fatalf("decode report: %v", err)
	}
	if report.Status != "unavailable" {
		t.Errorf("Status = %q, want unavailable", report.Status)
	}
}

func TestHealthzNonCriticalFailureDegrades(t *testing.T) {
	h := NewHealth()
	h.Register(okProbe("store", true))
	h.Register(failingProbe("openai", false))

	rec := httptest.NewRecorder()
	h.HealthzHandler()(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusOK)
	}
	var report healthReport
	if err := json.Unmarshal(rec.Body.Bytes(), &report); err != nil {
		t.Fatalf("decode report: %v", err)
	}
	if report.Status != "degraded" {
		t.Errorf("Status = %q, want degraded", report.Status)
	}
}

func TestReadyzIgnoresNonCriticalProbes(t *testing.T) {
	h := NewHealth()
	h.Register(okProbe("store", true))
	h.Register(failingProbe("openai", false))

	rec := httptest.NewRecorder()
	h.ReadyzHandler()(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))

	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusOK)
	}
}

func TestReadyzCriticalFailure(t *testing.T) {
	h := NewHealth()
	h.Register(failingProbe("store", true))

	rec := httptest.NewRecorder()
	h.ReadyzHandler()(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))

	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusServiceUnavailable)
	}
}

func TestServerRoutes(t *testing.T) {
	h := NewHealth()
	h.Register(okProbe("store", true))
	srv := NewServer(0, h)

	for _, path := range []string{"/healthz", "/readyz", "/metrics"} {
		rec := httptest.NewRecorder()
		srv.httpServer.Handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
		if rec.Code != http.StatusOK {
			t.Errorf("%s status = %d, want %d", path, rec.Code, http.StatusOK)
		}
	}
}
