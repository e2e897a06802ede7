package handlers

import (
	"net/http"
)

// HealthResponse represents the health check response.
type HealthResponse struct {
	Status          string `json:"status"`
	TiersAvailable  int    `json:"tiers_available"`
	TiersConfigured int    `json:"tiers_configured"`
}

// HealthCheck reports "healthy" while at least one tier accepts writes and
// "degraded" (503) otherwise.
func HealthCheck(svc Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		st := svc.Status()

		available := 0
		for _, tier := range st.Persist.Tiers {
			if tier.Available {
				available++
			}
		}

		resp := HealthResponse{
			Status:          "healthy",
			TiersAvailable:  available,
			TiersConfigured: len(st.Persist.Tiers),
		}
		status := http.StatusOK
		if available == 0 || st.Persist.Failing {
			resp.Status = "degraded"
			status = http.StatusServiceUnavailable
		}
		writeJSON(w, status, resp)
	}
}

// Status returns the combined store, persistence and engine status.
func Status(svc Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, svc.Status())
	}
}
