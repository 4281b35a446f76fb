package handlers

import (
	"net/http"

	"personalization-sync/internal/jobs"
)

// RunTokenRefresh runs the token refresh job and returns its summary.
// A run already in progress answers 409.
func (h *Handlers) RunTokenRefresh(w http.ResponseWriter, r *http.Request) {
	summary, err := h.jobs.RunTokenRefresh(r.Context(), "api")
	if err != nil {
		h.sendAppError(w, r, err, "Token refresh run failed")
		return
	}
	h.sendJSONResponse(w, summary)
}

func (h *Handlers) TokenRefreshStatus(w http.ResponseWriter, r *http.Request) {
	status, err := h.jobs.TokenRefreshStatus(r.Context())
	if err != nil {
		h.sendAppError(w, r, err, "Failed to check token refresh status")
		return
	}
	h.sendJSONResponse(w, jobStatusResponse{
		RefreshStatus: status,
		LastRun:       h.jobs.LastRun(r.Context(), "token-refresh"),
	})
}

func (h *Handlers) RunProfileRefresh(w http.ResponseWriter, r *http.Request) {
	summary, err := h.jobs.RunProfileRefresh(r.Context(), "api")
	if err != nil {
		h.sendAppError(w, r, err, "Profile refresh run failed")
		return
	}
	h.sendJSONResponse(w, summary)
}

func (h *Handlers) ProfileRefreshStatus(w http.ResponseWriter, r *http.Request) {
	status, err := h.jobs.ProfileRefreshStatus(r.Context())
	if err != nil {
		h.sendAppError(w, r, err, "Failed to check profile refresh status")
		return
	}
	h.sendJSONResponse(w, jobStatusResponse{
		RefreshStatus: status,
		LastRun:       h.jobs.LastRun(r.Context(), "profile-refresh"),
	})
}

type jobStatusResponse struct {
	*jobs.RefreshStatus
	LastRun *jobs.RunRecord `json:"last_run,omitempty"`
}
