// Package jobs holds the batch work that keeps connected accounts usable:
// refreshing access tokens before they lapse and re-reading profiles that
// have gone stale. Both jobs are sequential so they stay inside the
// provider's call budget.
package jobs

import (
	"context"
	"time"

	"personalization-sync/internal/common/errors"
	"personalization-sync/internal/common/logging"
	"personalization-sync/internal/oauth2"
	"personalization-sync/internal/personalization"
)

// TokenRefreshWindow is how far ahead the batch job looks for expiring tokens
const TokenRefreshWindow = 24 * time.Hour

// Refresher renews one record's access token
type Refresher interface {
	RefreshAccessToken(ctx context.Context, trainerID, courseID string) (*oauth2.RefreshResult, error)
}

// RecordError is one failed record in a job summary
type RecordError struct {
	TrainerID string `json:"trainer_id"`
	CourseID  string `json:"course_id"`
	Error     string `json:"error"`
}

// TokenRefreshSummary reports one token refresh run
type TokenRefreshSummary struct {
	Processed int           `json:"processed"`
	Refreshed int           `json:"refreshed"`
	Failed    int           `json:"failed"`
	Expired   int           `json:"expired"`
	Errors    []RecordError `json:"errors"`
}

// RefreshStatus counts the records the next run would pick up
type RefreshStatus struct {
	NeedsRefresh bool `json:"needs_refresh"`
	Count        int  `json:"count"`
}

// TokenRefreshJob renews every connected token expiring within the window
type TokenRefreshJob struct {
	store     personalization.Store
	refresher Refresher
	window    time.Duration
	now       func() time.Time
	logger    logging.Logger
}

// NewTokenRefreshJob creates a TokenRefreshJob
func NewTokenRefreshJob(store personalization.Store, refresher Refresher, opts ...Option) *TokenRefreshJob {
	o := buildOptions("token_refresh_job", opts)
	return &TokenRefreshJob{
		store:     store,
		refresher: refresher,
		window:    TokenRefreshWindow,
		now:       o.now,
		logger:    o.logger,
	}
}

// Name identifies the job in schedules and locks
func (j *TokenRefreshJob) Name() string {
	return "token-refresh"
}

// due returns the connected records whose token expires within the window.
// Records without an expiry are left to on-demand refresh.
func (j *TokenRefreshJob) due(ctx context.Context) ([]*personalization.Record, error) {
	records, err := j.store.ListConnected(ctx)
	if err != nil {
		return nil, err
	}

	threshold := j.now().Add(j.window)
	due := make([]*personalization.Record, 0, len(records))
	for _, r := range records {
		if r.TokenExpiresAt != nil && !r.TokenExpiresAt.After(threshold) {
			due = append(due, r)
		}
	}
	return due, nil
}

// Run refreshes every due record in turn. A failing record never stops the
// run; only a failure to list records is returned.
func (j *TokenRefreshJob) Run(ctx context.Context) (*TokenRefreshSummary, error) {
	records, err := j.due(ctx)
	if err != nil {
		j.logger.Error("Failed to list connected records", err)
		return nil, errors.InternalError("failed to list records for token refresh", err)
	}

	summary := &TokenRefreshSummary{Errors: []RecordError{}}
	j.logger.Info("Token refresh run started", logging.Field{Key: "due", Value: len(records)})

	for _, r := range records {
		if ctx.Err() != nil {
			break
		}
		summary.Processed++

		_, err := j.refresher.RefreshAccessToken(ctx, r.TrainerID, r.CourseID)
		if err == nil {
			summary.Refreshed++
			continue
		}

		summary.Failed++
		summary.Errors = append(summary.Errors, RecordError{
			TrainerID: r.TrainerID,
			CourseID:  r.CourseID,
			Error:     errors.Message(err),
		})

		if errors.IsType(err, errors.ErrTypeTokenExpired) {
			summary.Expired++
			j.markExpired(ctx, r.Key())
		} else {
			j.logger.Warn("Token refresh failed",
				logging.Field{Key: "trainer_id", Value: r.TrainerID},
				logging.Field{Key: "course_id", Value: r.CourseID},
				logging.Field{Key: "error", Value: err.Error()},
			)
		}
	}

	j.logger.Info("Token refresh run finished",
		logging.Field{Key: "processed", Value: summary.Processed},
		logging.Field{Key: "refreshed", Value: summary.Refreshed},
		logging.Field{Key: "failed", Value: summary.Failed},
		logging.Field{Key: "expired", Value: summary.Expired},
	)
	return summary, nil
}

// CheckStatus reports how many records the next run would refresh
func (j *TokenRefreshJob) CheckStatus(ctx context.Context) (*RefreshStatus, error) {
	records, err := j.due(ctx)
	if err != nil {
		return nil, errors.InternalError("failed to list records for token refresh", err)
	}
	return &RefreshStatus{NeedsRefresh: len(records) > 0, Count: len(records)}, nil
}

// markExpired stores the same message the Manager does on a provider
// rejection, so a record reads the same whichever path expired it.
func (j *TokenRefreshJob) markExpired(ctx context.Context, key personalization.Key) {
	j.logger.Warn("Refresh token expired, trainer must reconnect",
		logging.Field{Key: "trainer_id", Value: key.TrainerID},
		logging.Field{Key: "course_id", Value: key.CourseID},
	)
	patch := personalization.FailedPatch(personalization.StatusTokenExpired, oauth2.RefreshExpiredMessage)
	if _, err := j.store.Update(ctx, key, patch); err != nil {
		j.logger.Error("Failed to mark token expired", err,
			logging.Field{Key: "trainer_id", Value: key.TrainerID},
			logging.Field{Key: "course_id", Value: key.CourseID},
		)
	}
}
