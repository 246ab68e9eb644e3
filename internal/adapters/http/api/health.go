package api

import (
	"net/http"
	"sort"
)

// HealthHandler handles health check requests.
type HealthHandler struct {
	checks map[string]func() bool
}

// NewHealthHandler creates a new health handler reporting checks.
func NewHealthHandler(checks map[string]func() bool) *HealthHandler {
	return &HealthHandler{checks: checks}
}

type healthResponse struct {
	Status string          `json:"status"`
	Checks map[string]bool `json:"checks,omitempty"`
}

// HandleHealth handles GET /healthz requests. The process is live whenever
// it answers; failing checks only downgrade the status to "degraded".
func (h *HealthHandler) HandleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.NotFound(w, r)
		return
	}
	resp := healthResponse{Status: "ok"}
	if len(h.checks) > 0 {
		names := make([]string, 0, len(h.checks))
		for name := range h.checks {
			names = append(names, name)
		}
		sort.Strings(names)
		resp.Checks = make(map[string]bool, len(names))
		for _, name := range names {
			ok := h.checks[name]()
			resp.Checks[name] = ok
			if !ok {
				resp.Status = "degraded"
			}
		}
	}
	writeJSON(w, http.StatusOK, resp)
}
