package observability

import (
	"encoding/json"
	"net/http"
	"sort"
	"sync"
	"sync/atomic"
	"time"
)

// HealthChecker tracks liveness, readiness and the state of named
// dependencies (postgres, nats, recovery).
type HealthChecker struct {
	ready     atomic.Bool
	startTime time.Time

	mu   sync.RWMutex
	deps map[string]bool
}

func NewHealthChecker() *HealthChecker {
	return &HealthChecker{
		startTime: time.Now(),
		deps:      make(map[string]bool),
	}
}

// SetReady marks the service as ready to accept traffic.
func (h *HealthChecker) SetReady(ready bool) {
	h.ready.Store(ready)
}

func (h *HealthChecker) IsReady() bool {
	return h.ready.Load()
}

// SetDependency records whether a named dependency is healthy. Any
// unhealthy dependency makes readiness fail.
func (h *HealthChecker) SetDependency(name string, ok bool) {
	h.mu.Lock()
	h.deps[name] = ok
	h.mu.Unlock()
}

func (h *HealthChecker) dependencies() (map[string]string, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	names := make([]string, 0, len(h.deps))
	for n := range h.deps {
		names = append(names, n)
	}
	sort.Strings(names)

	out := make(map[string]string, len(names))
	healthy := true
	for _, n := range names {
		if h.deps[n] {
			out[n] = "ok"
		} else {
			out[n] = "down"
			healthy = false
		}
	}
	return out, healthy
}

// LivenessHandler returns 200 while the process is running.
func (h *HealthChecker) LivenessHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "alive",
		"uptime": time.Since(h.startTime).String(),
	})
}

// ReadinessHandler returns 200 once recovery is complete and every
// dependency is healthy, 503 otherwise.
func (h *HealthChecker) ReadinessHandler(w http.ResponseWriter, r *http.Request) {
	deps, healthy := h.dependencies()
	if h.ready.Load() && healthy {
		writeJSON(w, http.StatusOK, map[string]any{"status": "ready", "dependencies": deps})
		return
	}
	writeJSON(w, http.StatusServiceUnavailable, map[string]any{"status": "not_ready", "dependencies": deps})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}
