// Package extraction pulls a trainer's LinkedIn profile into their
// personalization record.
package extraction

import (
	"context"
	"time"

	"personalization-sync/internal/common/errors"
	"personalization-sync/internal/common/logging"
	"personalization-sync/internal/linkedin"
	"personalization-sync/internal/oauth2"
	"personalization-sync/internal/personalization"
)

// TokenSource yields a usable access token, refreshing it when needed
type TokenSource interface {
	GetAccessToken(ctx context.Context, trainerID, courseID string) (string, error)
	RefreshAccessToken(ctx context.Context, trainerID, courseID string) (*oauth2.RefreshResult, error)
}

// ProfileFetcher reads the member profile
type ProfileFetcher interface {
	GetProfile(ctx context.Context, accessToken string) (*linkedin.Profile, error)
}

// Result is the stored profile
type Result struct {
	Profile     *linkedin.Profile
	ExtractedAt time.Time
}

// Extractor runs the fetch, merge and persist steps
type Extractor struct {
	store   personalization.Store
	tokens  TokenSource
	fetcher ProfileFetcher
	now     func() time.Time
	logger  logging.Logger
}

// Option configures an Extractor
type Option func(*Extractor)

// WithClock overrides the time source
func WithClock(now func() time.Time) Option {
	return func(e *Extractor) {
		e.now = now
	}
}

// WithLogger sets the logger
func WithLogger(l logging.Logger) Option {
	return func(e *Extractor) {
		e.logger = l
	}
}

// NewExtractor creates an Extractor
func NewExtractor(store personalization.Store, tokens TokenSource, fetcher ProfileFetcher, opts ...Option) *Extractor {
	e := &Extractor{
		store:   store,
		tokens:  tokens,
		fetcher: fetcher,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.logger == nil {
		e.logger = logging.GetGlobalLogger().WithFields(logging.Field{Key: "component", Value: "extraction"})
	}
	return e
}

// ExtractAndStore fetches the profile and merges it into the record's trainer
// info, keeping keys it does not own. A failure at any step is written to the
// record before it is returned.
func (e *Extractor) ExtractAndStore(ctx context.Context, trainerID, courseID string) (*Result, error) {
	key := personalization.Key{TrainerID: trainerID, CourseID: courseID}
	if err := key.Validate(); err != nil {
		return nil, err
	}

	result, err := e.extract(ctx, key)
	if err != nil {
		e.markFailed(ctx, key, err)
		return nil, err
	}

	e.logger.Info("Extracted LinkedIn profile",
		logging.Field{Key: "trainer_id", Value: trainerID},
		logging.Field{Key: "course_id", Value: courseID},
		logging.Field{Key: "profile_id", Value: result.Profile.ProfileID},
	)
	return result, nil
}

func (e *Extractor) extract(ctx context.Context, key personalization.Key) (*Result, error) {
	accessToken, err := e.tokens.GetAccessToken(ctx, key.TrainerID, key.CourseID)
	if err != nil {
		return nil, err
	}

	profile, err := e.fetcher.GetProfile(ctx, accessToken)
	if errors.IsType(err, errors.ErrTypeTokenExpired) {
		// The token was revoked or expired early; refresh once and retry
		e.logger.Info("Access token rejected, refreshing and retrying",
			logging.Field{Key: "trainer_id", Value: key.TrainerID},
			logging.Field{Key: "course_id", Value: key.CourseID},
		)
		refreshed, refreshErr := e.tokens.RefreshAccessToken(ctx, key.TrainerID, key.CourseID)
		if refreshErr != nil {
			return nil, refreshErr
		}
		profile, err = e.fetcher.GetProfile(ctx, refreshed.AccessToken)
	}
	if err != nil {
		return nil, err
	}

	record, err := e.store.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	if record == nil {
		return nil, errors.NotFoundError("personalization record").WithContext("key", key.String())
	}

	now := e.now().UTC()
	info := personalization.MergeTrainerInfo(record.TrainerInfo, profileFields(profile, now))

	_, err = e.store.Update(ctx, key, personalization.Patch{
		TrainerInfo:       info,
		LinkedInProfileID: personalization.Set(profile.ProfileID),
		ExtractionStatus:  personalization.StatusPtr(personalization.StatusSuccess),
		ExtractionError:   personalization.Null[string](),
		DataExtractedAt:   personalization.Set(now),
		LastRefreshedAt:   personalization.Set(now),
	})
	if err != nil {
		return nil, errors.InternalError("failed to store extracted data", err)
	}

	return &Result{Profile: profile, ExtractedAt: now}, nil
}

// profileFields are the trainer info keys owned by extraction
func profileFields(p *linkedin.Profile, now time.Time) map[string]interface{} {
	return map[string]interface{}{
		"name":         p.Name,
		"headline":     stringOrNil(p.Headline),
		"photo_url":    stringOrNil(p.PhotoURL),
		"linkedin_id":  p.ProfileID,
		"extracted_at": now.Format(time.RFC3339),
	}
}

func stringOrNil(s *string) interface{} {
	if s == nil {
		return nil
	}
	return *s
}

// markFailed records the error as failed whatever its type, including a
// rejected refresh token. The error type is still returned to the caller.
func (e *Extractor) markFailed(ctx context.Context, key personalization.Key, cause error) {

	e.logger.Error("LinkedIn extraction failed", cause,
		logging.Field{Key: "trainer_id", Value: key.TrainerID},
		logging.Field{Key: "course_id", Value: key.CourseID},
	)
	if _, err := e.store.Update(ctx, key, personalization.FailedPatch(personalization.StatusFailed, errors.Message(cause))); err != nil {
		e.logger.Warn("Failed to record extraction failure",
			logging.Field{Key: "trainer_id", Value: key.TrainerID},
			logging.Field{Key: "course_id", Value: key.CourseID},
			logging.Field{Key: "error", Value: err.Error()},
		)
	}
}
