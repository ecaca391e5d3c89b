package handlers

import (
	"encoding/json"
	"net/http"
)

// Health handles GET /healthz, a liveness probe.
func Health() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok\n"))
	}
}

// Ready handles GET /readyz. Not ready while draining or in maintenance
// mode, so load balancers stop routing new sessions here.
func Ready(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		type readyResp struct {
			OK          bool   `json:"ok"`
			Draining    bool   `json:"draining"`
			Maintenance bool   `json:"maintenance"`
			Reason      string `json:"reason,omitempty"`
		}

		draining := deps.Draining != nil && deps.Draining()
		tripped, reason, _ := deps.Engine.Breaker().Status()

		ok := !draining && !tripped
		status := http.StatusOK
		if !ok {
			status = http.StatusServiceUnavailable
		}
		w.Header().Set("Content-Type", "application/json; charset=utf-8")
		w.WriteHeader(status)
		_ = json.NewEncoder(w).Encode(readyResp{
			OK:          ok,
			Draining:    draining,
			Maintenance: tripped,
			Reason:      reason,
		})
	}
}
