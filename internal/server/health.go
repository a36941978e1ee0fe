package server

import (
	"context"
	"net/http"
	"time"
)

// Check reports whether a dependency is usable.
type Check func(ctx context.Context) error

// HealthHandler serves GET /health. It answers 503 when any check fails.
type HealthHandler struct {
	checks map[string]Check
	now    func() time.Time
}

// NewHealthHandler creates a handler running checks on every request.
func NewHealthHandler(checks map[string]Check) *HealthHandler {
	return &HealthHandler{checks: checks, now: time.Now}
}

func (h *HealthHandler) Routes() []string {
	return []string{"GET /health"}
}

func (h *HealthHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	status := http.StatusOK
	body := map[string]any{"status": "ok", "time": h.now().UTC().Format(time.RFC3339)}
	failed := map[string]string{}
	for name, check := range h.checks {
		if err := check(ctx); err != nil {
			failed[name] = err.Error()
		}
	}
	if len(failed) > 0 {
		status = http.StatusServiceUnavailable
		body["status"] = "degraded"
		body["checks"] = failed
	}
	writeJSON(w, status, body)
}
