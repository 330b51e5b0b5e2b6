// Package health exposes liveness, readiness, and status probes.
package health

import (
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"

	"attestor/pkg/platform/httputil"
)

// Version is set at build time via ldflags.
var Version = "dev"

// CheckFunc probes one dependency. Nil means healthy.
type CheckFunc func() error

type namedCheck struct {
	name  string
	check CheckFunc
}

// Handler serves the health endpoints. Checks registered before startup
// feed the readiness probe; liveness never depends on them.
type Handler struct {
	startTime   time.Time
	environment string

	mu     sync.RWMutex
	checks []namedCheck
}

// New creates a health handler for the given environment label.
func New(environment string) *Handler {
	return &Handler{
		startTime:   time.Now(),
		environment: environment,
	}
}

// RegisterCheck adds a named dependency check to the readiness probe.
// Checks run in registration order.
func (h *Handler) RegisterCheck(name string, check CheckFunc) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.checks = append(h.checks, namedCheck{name: name, check: check})
}

// Register mounts the health routes.
func (h *Handler) Register(r chi.Router) {
	r.Get("/health", h.handleStatus)
	r.Get("/health/live", h.handleLiveness)
	r.Get("/health/ready", h.handleReadiness)
}

func (h *Handler) handleLiveness(w http.ResponseWriter, _ *http.Request) {
	httputil.WriteJSON(w, http.StatusOK, map[string]string{"status": "alive"})
}

// checkResult reports one dependency probe.
type checkResult struct {
	Name    string `json:"name"`
	Healthy bool   `json:"healthy"`
	Error   string `json:"error,omitempty"`
	TookMs  int64  `json:"took_ms"`
}

type readinessResponse struct {
	Status string        `json:"status"`
	Checks []checkResult `json:"checks,omitempty"`
}

func (h *Handler) handleReadiness(w http.ResponseWriter, _ *http.Request) {
	h.mu.RLock()
	checks := make([]namedCheck, len(h.checks))
	copy(checks, h.checks)
	h.mu.RUnlock()

	resp := readinessResponse{Status: "ready"}
	status := http.StatusOK
	for _, c := range checks {
		start := time.Now()
		err := c.check()
		result := checkResult{
			Name:    c.name,
			Healthy: err == nil,
			TookMs:  time.Since(start).Milliseconds(),
		}
		if err != nil {
			result.Error = err.Error()
			resp.Status = "not_ready"
			status = http.StatusServiceUnavailable
		}
		resp.Checks = append(resp.Checks, result)
	}
	httputil.WriteJSON(w, status, resp)
}

func (h *Handler) handleStatus(w http.ResponseWriter, _ *http.Request) {
	httputil.WriteJSON(w, http.StatusOK, map[string]any{
		"status":         "healthy",
		"version":        Version,
		"environment":    h.environment,
		"uptime_seconds": int64(time.Since(h.startTime).Seconds()),
		"timestamp":      time.Now().UTC().Format(time.RFC3339),
	})
}
