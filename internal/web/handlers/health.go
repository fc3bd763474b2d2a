package handlers

import (
	"context"
	"net/http"
	"sort"
	"time"

	"github.com/kozaktomas/cue/internal/database"
)

const healthTimeout = 5 * time.Second

// HealthResponse reports the server and store health.
type HealthResponse struct {
	Status  string            `json:"status"`
	Backend string            `json:"backend,omitempty"`
	Stores  map[string]string `json:"stores,omitempty"`
}

// HealthCheck pings every registered store. Any failure turns the status
// into "degraded" with a 503.
func HealthCheck(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), healthTimeout)
	defer cancel()

	pingers := database.Pingers()
	names := make([]string, 0, len(pingers))
	for name := range pingers {
		names = append(names, name)
	}
	sort.Strings(names)

	resp := HealthResponse{Status: "ok", Backend: database.BackendName()}
	if len(names) > 0 {
		resp.Stores = make(map[string]string, len(names))
	}
	for _, name := range names {
		if err := pingers[name].Ping(ctx); err != nil {
			resp.Stores[name] = err.Error()
			resp.Status = "degraded"
			continue
		}
		resp.Stores[name] = "ok"
	}

	status := http.StatusOK
	if resp.Status != "ok" {
		status = http.StatusServiceUnavailable
	}
	respondJSON(w, status, resp)
}
