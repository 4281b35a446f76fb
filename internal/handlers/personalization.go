package handlers

import (
	"net/http"

	"github.com/gorilla/mux"
	"personalization-sync/internal/common/errors"
	"personalization-sync/internal/common/logging"
	"personalization-sync/internal/personalization"
)

func keyFromVars(r *http.Request) personalization.Key {
	vars := mux.Vars(r)
	return personalization.Key{TrainerID: vars["trainerID"], CourseID: vars["courseID"]}
}

// GetPersonalization returns the record view. Tokens and state are never
// part of it.
func (h *Handlers) GetPersonalization(w http.ResponseWriter, r *http.Request) {
	key := keyFromVars(r)
	record, err := h.store.Get(r.Context(), key)
	if err != nil {
		h.sendAppError(w, r, err, "Failed to load personalization")
		return
	}
	if record == nil {
		h.sendAppError(w, r, errors.NotFoundError("personalization record"), "Personalization not found")
		return
	}
	h.sendJSONResponse(w, record.View())
}

// AuthorizeLinkedIn starts the OAuth flow and returns the consent URL
func (h *Handlers) AuthorizeLinkedIn(w http.ResponseWriter, r *http.Request) {
	key := keyFromVars(r)
	req, err := h.oauth.InitiateOAuth(r.Context(), key.TrainerID, key.CourseID)
	if err != nil {
		h.sendAppError(w, r, err, "Failed to initiate LinkedIn OAuth")
		return
	}
	h.sendJSONResponse(w, req)
}

// LinkedInCallback completes the flow. It is unauthenticated; the stored
// state binds it to the session that started the flow. LinkedIn redirects
// with only code and state, so trainer_id and course_id are optional and the
// record is otherwise found by its state. After connecting, the
// profile is extracted right away; an extraction failure is reported but
// does not undo the connection.
func (h *Handlers) LinkedInCallback(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	if providerErr := q.Get("error"); providerErr != "" {
		msg := q.Get("error_description")
		if msg == "" {
			msg = providerErr
		}
		h.sendJSONError(w, nil, "LinkedIn authorization denied", "LinkedIn authorization failed: "+msg, http.StatusBadRequest)
		return
	}

	result, err := h.oauth.HandleOAuthCallback(r.Context(), q.Get("code"), q.Get("state"), q.Get("trainer_id"), q.Get("course_id"))
	if err != nil {
		h.sendAppError(w, r, err, "LinkedIn OAuth callback failed")
		return
	}
	trainerID, courseID := result.TrainerID, result.CourseID

	response := map[string]interface{}{
		"success":    true,
		"trainer_id": trainerID,
		"course_id":  courseID,
		"expires_in": result.ExpiresIn,
		"extracted":  false,
	}

	if h.extractor != nil {
		if _, err := h.extractor.ExtractAndStore(r.Context(), trainerID, courseID); err != nil {
			h.logger.Warn("Profile extraction after connect failed",
				logging.Field{Key: "trainer_id", Value: trainerID},
				logging.Field{Key: "course_id", Value: courseID},
				logging.Field{Key: "error", Value: err.Error()},
			)
			response["extraction_error"] = errors.Message(err)
		} else {
			response["extracted"] = true
		}
	}

	h.sendJSONResponse(w, response)
}

// DisconnectLinkedIn revokes and clears the stored tokens
func (h *Handlers) DisconnectLinkedIn(w http.ResponseWriter, r *http.Request) {
	key := keyFromVars(r)
	if err := h.revoker.RevokeAccess(r.Context(), key.TrainerID, key.CourseID); err != nil {
		h.sendAppError(w, r, err, "Failed to disconnect LinkedIn")
		return
	}
	h.sendJSONResponse(w, map[string]interface{}{"success": true})
}

// ExtractLinkedIn pulls the profile into the record now
func (h *Handlers) ExtractLinkedIn(w http.ResponseWriter, r *http.Request) {
	key := keyFromVars(r)
	result, err := h.extractor.ExtractAndStore(r.Context(), key.TrainerID, key.CourseID)
	if err != nil {
		h.sendAppError(w, r, err, "LinkedIn extraction failed")
		return
	}
	h.sendJSONResponse(w, map[string]interface{}{
		"success":      true,
		"profile":      result.Profile,
		"extracted_at": result.ExtractedAt,
	})
}
