package handler

import (
	"context"
	"net/http"
	"time"
)

// PingFunc checks one backing store
type PingFunc func(ctx context.Context) error

// HealthHandler handles service health and readiness checks
type HealthHandler struct {
	checks    map[string]PingFunc
	startTime time.Time
	version   string
}

// NewHealthHandler creates a new health handler. checks maps a dependency
// name (mongodb, sql, redis) to its ping.
func NewHealthHandler(version string, checks map[string]PingFunc) *HealthHandler {
	return &HealthHandler{
		checks:    checks,
		startTime: time.Now(),
		version:   version,
	}
}

// HealthResponse represents the health check response
type HealthResponse struct {
	Status        string            `json:"status"`
	Version       string            `json:"version"`
	Timestamp     string            `json:"timestamp"`
	Dependencies  map[string]string `json:"dependencies"`
	UptimeSeconds int64             `json:"uptime_seconds"`
}

// ReadyResponse represents the readiness check response
type ReadyResponse struct {
	Ready        bool              `json:"ready"`
	Dependencies map[string]string `json:"dependencies"`
}

func (h *HealthHandler) ping(ctx context.Context) (map[string]string, bool) {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	statuses := make(map[string]string, len(h.checks))
	ok := true
	for name, ping := range h.checks {
		if err := ping(ctx); err != nil {
			statuses[name] = "disconnected"
			ok = false
			continue
		}
		statuses[name] = "connected"
	}
	return statuses, ok
}

// Health returns the service health status. It always answers 200 while
// the process is up.
func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	statuses, _ := h.ping(r.Context())

	writeJSON(w, http.StatusOK, HealthResponse{
		Status:        "healthy",
		Version:       h.version,
		Timestamp:     time.Now().UTC().Format(time.RFC3339),
		Dependencies:  statuses,
		UptimeSeconds: int64(time.Since(h.startTime).Seconds()),
	})
}

// Ready returns 503 until every dependency answers
func (h *HealthHandler) Ready(w http.ResponseWriter, r *http.Request) {
	statuses, ready := h.ping(r.Context())

	statusCode := http.StatusOK
	if !ready {
		statusCode = http.StatusServiceUnavailable
	}

	writeJSON(w, statusCode, ReadyResponse{
		Ready:        ready,
		Dependencies: statuses,
	})
}
