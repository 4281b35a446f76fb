// Package handlers exposes the OAuth flow, extraction and batch jobs over a
// JSON API. Tokens never leave the service: responses carry record views and
// job summaries only.
package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"personalization-sync/internal/common/errors"
	"personalization-sync/internal/common/logging"
	"personalization-sync/internal/extraction"
	"personalization-sync/internal/jobs"
	"personalization-sync/internal/oauth2"
	"personalization-sync/internal/personalization"
)

// OAuthFlow starts and completes the authorization code flow
type OAuthFlow interface {
	InitiateOAuth(ctx context.Context, trainerID, courseID string) (*oauth2.AuthorizationRequest, error)
	HandleOAuthCallback(ctx context.Context, code, state, trainerID, courseID string) (*oauth2.TokenResult, error)
}

// Revoker disconnects an account
type Revoker interface {
	RevokeAccess(ctx context.Context, trainerID, courseID string) error
}

// Extractor pulls a profile into a record
type Extractor interface {
	ExtractAndStore(ctx context.Context, trainerID, courseID string) (*extraction.Result, error)
}

// JobRunner runs the batch jobs on demand
type JobRunner interface {
	RunTokenRefresh(ctx context.Context, trigger string) (*jobs.TokenRefreshSummary, error)
	RunProfileRefresh(ctx context.Context, trigger string) (*jobs.ProfileRefreshSummary, error)
	TokenRefreshStatus(ctx context.Context) (*jobs.RefreshStatus, error)
	ProfileRefreshStatus(ctx context.Context) (*jobs.RefreshStatus, error)
	LastRun(ctx context.Context, name string) *jobs.RunRecord
}

// HealthCheck checks one dependency
type HealthCheck func(ctx context.Context) error

// Dependencies are the collaborators the handlers call
type Dependencies struct {
	Store     personalization.Store
	OAuth     OAuthFlow
	Revoker   Revoker
	Extractor Extractor
	Jobs      JobRunner
	// Health checks by component name; "storage" is added from Store
	Health map[string]HealthCheck
}

type Handlers struct {
	store     personalization.Store
	oauth     OAuthFlow
	revoker   Revoker
	extractor Extractor
	jobs      JobRunner
	health    map[string]HealthCheck
	logger    logging.Logger
	now       func() time.Time
}

func New(deps Dependencies) *Handlers {
	health := make(map[string]HealthCheck, len(deps.Health)+1)
	for name, check := range deps.Health {
		health[name] = check
	}
	if deps.Store != nil {
		health["storage"] = deps.Store.Health
	}
	return &Handlers{
		store:     deps.Store,
		oauth:     deps.OAuth,
		revoker:   deps.Revoker,
		extractor: deps.Extractor,
		jobs:      deps.Jobs,
		health:    health,
		logger:    logging.GetGlobalLogger().WithFields(logging.Field{Key: "component", Value: "handlers"}),
		now:       time.Now,
	}
}

func (h *Handlers) sendJSONResponse(w http.ResponseWriter, data interface{}) {
	h.sendJSON(w, http.StatusOK, data)
}

func (h *Handlers) sendJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("Failed to encode response", err)
	}
}

// sendJSONError logs logMsg with err and answers with userMsg
func (h *Handlers) sendJSONError(w http.ResponseWriter, err error, logMsg, userMsg string, status int) {
	if status >= http.StatusInternalServerError {
		h.logger.Error(logMsg, err, logging.Field{Key: "status", Value: status})
	} else if err != nil {
		h.logger.Warn(logMsg, logging.Field{Key: "status", Value: status}, logging.Field{Key: "error", Value: err.Error()})
	}

	body := map[string]interface{}{"error": userMsg}
	if errType := errors.GetType(err); err != nil && errType != errors.ErrTypeInternal {
		body["type"] = errType
	}
	h.sendJSON(w, status, body)
}

// sendAppError maps err to a status and answers with its message. Internal
// errors never expose their message.
func (h *Handlers) sendAppError(w http.ResponseWriter, r *http.Request, err error, logMsg string) {
	status := statusFor(err)
	userMsg := errors.Message(err)
	if status == http.StatusInternalServerError {
		userMsg = "Internal server error"
	}
	h.sendJSONError(w, err, logMsg, userMsg, status)
}

func statusFor(err error) int {
	if jobs.IsJobRunning(err) {
		return http.StatusConflict
	}
	switch errors.GetType(err) {
	case errors.ErrTypeCSRF, errors.ErrTypeValidation:
		return http.StatusBadRequest
	case errors.ErrTypeNotFound:
		return http.StatusNotFound
	case errors.ErrTypeTokenExpired:
		return http.StatusUnauthorized
	case errors.ErrTypeRateLimit:
		return http.StatusTooManyRequests
	case errors.ErrTypeProviderHTTP, errors.ErrTypeConnection:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
