package personalization

import "time"

// View is the API representation of a record. Token ciphertext and the OAuth
// state never leave the service.
type View struct {
	TrainerID          string                 `json:"trainer_id"`
	CourseID           string                 `json:"course_id"`
	CoachName          string                 `json:"coach_name"`
	Connected          bool                   `json:"connected"`
	TokenExpiresAt     *time.Time             `json:"token_expires_at,omitempty"`
	ExtractionStatus   Status                 `json:"extraction_status"`
	ExtractionError    *string                `json:"extraction_error,omitempty"`
	LinkedInProfileID  *string                `json:"linkedin_profile_id,omitempty"`
	ProfileURL         *string                `json:"linkedin_profile_url,omitempty"`
	TrainerInfo        map[string]interface{} `json:"trainer_info"`
	DataExtractedAt    *time.Time             `json:"linkedin_data_extracted_at,omitempty"`
	AutoRefreshEnabled bool                   `json:"auto_refresh_enabled"`
	LastRefreshedAt    *time.Time             `json:"last_refreshed_at,omitempty"`
	UpdatedAt          time.Time              `json:"updated_at"`
}

// View converts the record for API output
func (r *Record) View() View {
	c := r.Clone()
	return View{
		TrainerID:          c.TrainerID,
		CourseID:           c.CourseID,
		CoachName:          c.CoachName,
		Connected:          c.AccessToken != nil && *c.AccessToken != "",
		TokenExpiresAt:     c.TokenExpiresAt,
		ExtractionStatus:   c.ExtractionStatus,
		ExtractionError:    c.ExtractionError,
		LinkedInProfileID:  c.LinkedInProfileID,
		ProfileURL:         c.ProfileURL,
		TrainerInfo:        c.TrainerInfo,
		DataExtractedAt:    c.DataExtractedAt,
		AutoRefreshEnabled: c.AutoRefreshEnabled,
		LastRefreshedAt:    c.LastRefreshedAt,
		UpdatedAt:          c.UpdatedAt,
	}
}
