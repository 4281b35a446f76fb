// Package personalization holds the per-(trainer, course) record that links a
// trainer's LinkedIn account to a course, and the Store contract every
// persistence backend implements.
package personalization

import (
	"context"
	"fmt"
	"time"

	"personalization-sync/internal/common/errors"
)

// DefaultCoachName is used when a record is created by the OAuth flow
const DefaultCoachName = "AI Coach"

// Status is the extraction status of a record
type Status string

const (
	StatusPending      Status = "pending"
	StatusOAuthPending Status = "oauth_pending"
	StatusSuccess      Status = "success"
	StatusFailed       Status = "failed"
	StatusTokenExpired Status = "token_expired"
)

// Valid reports whether s is a known status
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusOAuthPending, StatusSuccess, StatusFailed, StatusTokenExpired:
		return true
	}
	return false
}

// Key identifies a record
type Key struct {
	TrainerID string
	CourseID  string
}

// Validate requires both parts of the key
func (k Key) Validate() error {
	if k.TrainerID == "" {
		return errors.ValidationError("trainer_id is required")
	}
	if k.CourseID == "" {
		return errors.ValidationError("course_id is required")
	}
	return nil
}

func (k Key) String() string {
	return fmt.Sprintf("%s/%s", k.TrainerID, k.CourseID)
}

// Record is one trainer's LinkedIn personalization for one course.
// AccessToken and RefreshToken only ever hold vault ciphertext.
type Record struct {
	TrainerID          string
	CourseID           string
	CoachName          string
	OAuthState         *string
	AccessToken        *string
	RefreshToken       *string
	TokenExpiresAt     *time.Time
	ExtractionStatus   Status
	ExtractionError    *string
	LinkedInProfileID  *string
	ProfileURL         *string
	TrainerInfo        map[string]interface{}
	DataExtractedAt    *time.Time
	AutoRefreshEnabled bool
	LastRefreshedAt    *time.Time
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

// NewRecord returns a record with the defaults a fresh row gets
func NewRecord(key Key, now time.Time) *Record {
	return &Record{
		TrainerID:          key.TrainerID,
		CourseID:           key.CourseID,
		CoachName:          DefaultCoachName,
		ExtractionStatus:   StatusPending,
		TrainerInfo:        map[string]interface{}{},
		AutoRefreshEnabled: true,
		CreatedAt:          now,
		UpdatedAt:          now,
	}
}

// Key returns the record's key
func (r *Record) Key() Key {
	return Key{TrainerID: r.TrainerID, CourseID: r.CourseID}
}

// HasTokens reports whether both an access and a refresh token are stored
func (r *Record) HasTokens() bool {
	return r.AccessToken != nil && *r.AccessToken != "" &&
		r.RefreshToken != nil && *r.RefreshToken != ""
}

// Clone returns a deep copy so stores never hand out shared state
func (r *Record) Clone() *Record {
	if r == nil {
		return nil
	}
	c := *r
	c.OAuthState = cloneString(r.OAuthState)
	c.AccessToken = cloneString(r.AccessToken)
	c.RefreshToken = cloneString(r.RefreshToken)
	c.TokenExpiresAt = cloneTime(r.TokenExpiresAt)
	c.ExtractionError = cloneString(r.ExtractionError)
	c.LinkedInProfileID = cloneString(r.LinkedInProfileID)
	c.ProfileURL = cloneString(r.ProfileURL)
	c.DataExtractedAt = cloneTime(r.DataExtractedAt)
	c.LastRefreshedAt = cloneTime(r.LastRefreshedAt)
	c.TrainerInfo = make(map[string]interface{}, len(r.TrainerInfo))
	for k, v := range r.TrainerInfo {
		c.TrainerInfo[k] = v
	}
	return &c
}

// Apply writes every set field of p into r and bumps UpdatedAt
func (r *Record) Apply(p Patch, now time.Time) {
	if p.CoachName != nil {
		r.CoachName = *p.CoachName
	}
	p.OAuthState.apply(&r.OAuthState)
	p.AccessToken.apply(&r.AccessToken)
	p.RefreshToken.apply(&r.RefreshToken)
	p.TokenExpiresAt.apply(&r.TokenExpiresAt)
	if p.ExtractionStatus != nil {
		r.ExtractionStatus = *p.ExtractionStatus
	}
	p.ExtractionError.apply(&r.ExtractionError)
	p.LinkedInProfileID.apply(&r.LinkedInProfileID)
	p.ProfileURL.apply(&r.ProfileURL)
	if p.TrainerInfo != nil {
		r.TrainerInfo = make(map[string]interface{}, len(p.TrainerInfo))
		for k, v := range p.TrainerInfo {
			r.TrainerInfo[k] = v
		}
	}
	p.DataExtractedAt.apply(&r.DataExtractedAt)
	if p.AutoRefreshEnabled != nil {
		r.AutoRefreshEnabled = *p.AutoRefreshEnabled
	}
	p.LastRefreshedAt.apply(&r.LastRefreshedAt)
	r.UpdatedAt = now
}

// Store is the persistence collaborator. Implementations must be safe for
// concurrent use.
type Store interface {
	// Get returns nil, nil when the record does not exist.
	Get(ctx context.Context, key Key) (*Record, error)
	// Upsert creates the record with defaults if needed, then applies p.
	Upsert(ctx context.Context, key Key, p Patch) (*Record, error)
	// Update applies p to an existing record and fails with a not_found
	// error when there is none.
	Update(ctx context.Context, key Key, p Patch) (*Record, error)
	// FindByState returns the record whose pending OAuth state is state, or
	// nil, nil when none is.
	FindByState(ctx context.Context, state string) (*Record, error)
	// ConsumeState clears the record's OAuth state only if it still equals
	// state, and reports whether this call cleared it. Of several concurrent
	// callers with the same state, at most one gets true.
	ConsumeState(ctx context.Context, key Key, state string) (bool, error)
	// ListConnected returns records holding both an access and a refresh token.
	ListConnected(ctx context.Context) ([]*Record, error)
	// ListAutoRefresh returns auto-refresh records holding an access token
	// whose status is not token_expired.
	ListAutoRefresh(ctx context.Context) ([]*Record, error)
	Health(ctx context.Context) error
	Close() error
}

// EligibleForAutoRefresh is the ListAutoRefresh predicate, shared by the
// in-memory store and the tests of SQL stores.
func EligibleForAutoRefresh(r *Record) bool {
	return r.AutoRefreshEnabled &&
		r.AccessToken != nil && *r.AccessToken != "" &&
		r.ExtractionStatus != StatusTokenExpired
}

func cloneString(s *string) *string {
	if s == nil {
		return nil
	}
	v := *s
	return &v
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}
