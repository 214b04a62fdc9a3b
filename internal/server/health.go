package server

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/flemzord/relaybot/internal/gateway"
)

// HealthResponse is the JSON response for GET /health.
type HealthResponse struct {
	Status   string          `json:"status"` // "ok" or "degraded"
	Uptime   int64           `json:"uptime_seconds"`
	Backends map[string]bool `json:"backends,omitempty"`
}

// backendReport returns the availability of every registered kind.
func backendReport(gw *gateway.Gateway) map[string]bool {
	if gw == nil {
		return nil
	}
	kinds := gw.Kinds()
	out := make(map[string]bool, len(kinds))
	for _, k := range kinds {
		out[string(k)] = gw.Available(k) == nil
	}
	return out
}

// handleHealth returns an http.HandlerFunc for GET /health. The process is
// healthy while it serves requests; status is "degraded" when some back
// end is unavailable. It answers 503 only when none is available.
func (s *Server) handleHealth() http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		resp := HealthResponse{
			Status:   "ok",
			Uptime:   int64(time.Since(s.startedAt).Seconds()),
			Backends: backendReport(s.gateway),
		}

		available := 0
		for _, ok := range resp.Backends {
			if ok {
				available++
			}
		}
		if available < len(resp.Backends) {
			resp.Status = "degraded"
		}

		w.Header().Set("Content-Type", "application/json")
		if len(resp.Backends) > 0 && available == 0 {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
		_ = json.NewEncoder(w).Encode(resp)
	}
}
