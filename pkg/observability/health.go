package observability

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"
)

// Probe is a single named health check. Critical probes gate readiness;
// non-critical probes only degrade the reported status.
type Probe struct {
	Name     string
	Check    func(context.Context) error
	Timeout  time.Duration
	Critical bool
}

// Health evaluates registered probes on demand and serves the results.
type Health struct {
	mu      sync.RWMutex
	probes  []Probe
	started time.Time
}

// NewHealth creates an empty health evaluator.
func NewHealth() *Health {
	return &Health{started: time.Now()}
}

// Register adds a probe. A zero timeout defaults to 5 seconds.
func (h *Health) Register(p Probe) {
	if p.Timeout == 0 {
		p.Timeout = 5 * time.Second
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	h.probes = append(h.probes, p)
}

type probeResult struct {
	Name     string `json:"name"`
	Status   string `json:"status"`
	Error    string `json:"error,omitempty"`
	Duration string `json:"duration"`
}

type healthReport struct {
	Status string        `json:"status"`
	Uptime string        `json:"uptime"`
	Probes []probeResult `json:"probes,omitempty"`
}

// run evaluates every probe under its own timeout. ready is false when any
// critical probe fails; degraded is true when any non-critical probe fails.
func (h *Health) run(ctx context.Context) (ready, degraded bool, results []probeResult) {
	h.mu.RLock()
	probes := make([]Probe, len(h.probes))
	copy(probes, h.probes)
	h.mu.RUnlock()

	ready = true
	for _, p := range probes {
		start := time.Now()
		pctx, cancel := context.WithTimeout(ctx, p.Timeout)
		err := p.Check(pctx)
		cancel()

		res := probeResult{
			Name:     p.Name,
			Status:   "ok",
			Duration: time.Since(start).String(),
		}
		if err != nil {
			res.Error = err.Error()
			if p.Critical {
				res.Status = "failed"
				ready = false
			} else {
				res.Status = "degraded"
				degraded = true
			}
		}
		results = append(results, res)
	}
	return ready, degraded, results
}

// HealthzHandler serves the full probe report. Failed critical probes answer
// 503, everything else 200.
func (h *Health) HealthzHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ready, degraded, results := h.run(r.Context())

		report := healthReport{
			Status: "ok",
			Uptime: time.Since(h.started).Round(time.Second).String(),
			Probes: results,
		}
		code := http.StatusOK
		switch {
		case !ready:
			report.Status = "unavailable"
			code = http.StatusServiceUnavailable
		case degraded:
			report.Status = "degraded"
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(code)
		_ = json.NewEncoder(w).Encode(report)
	}
}

// ReadyzHandler answers 200 while every critical probe passes, 503 otherwise.
func (h *Health) ReadyzHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ready, _, _ := h.run(r.Context())

		w.Header().Set("Content-Type", "application/json")
		if !ready {
			w.WriteHeader(http.StatusServiceUnavailable)
			_ = json.NewEncoder(w).Encode(map[string]string{"status": "not ready"})
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]string{"status": "ready"})
	}
}

// StoreProbe gates readiness on the session store's connectivity check.
func StoreProbe(check func(context.Context) error) Probe {
	return Probe{
		Name:     "store",
		Check:    check,
		Timeout:  5 * time.Second,
		Critical: true,
	}
}

// AdapterProbe reports a provider adapter's reachability without gating
// readiness; a flapping provider should not take lifecycle recording down.
func AdapterProbe(name string, check func(context.Context) error) Probe {
	return Probe{
		Name:     name,
		Check:    check,
		Timeout:  10 * time.Second,
		Critical: false,
	}
}
