package jobs

import (
	"context"
	"time"

	"personalization-sync/internal/common/errors"
	"personalization-sync/internal/common/logging"
	"personalization-sync/internal/extraction"
	"personalization-sync/internal/personalization"
)

const (
	// ProfileStaleAfter is the age at which a profile is extracted again
	ProfileStaleAfter = 7 * 24 * time.Hour
	// DefaultProfilePause spaces extractions to respect the provider limits
	DefaultProfilePause = 2 * time.Second
)

// ProfileExtractor runs one extraction
type ProfileExtractor interface {
	ExtractAndStore(ctx context.Context, trainerID, courseID string) (*extraction.Result, error)
}

// ProfileRefreshSummary reports one profile refresh run
type ProfileRefreshSummary struct {
	Processed int           `json:"processed"`
	Refreshed int           `json:"refreshed"`
	Failed    int           `json:"failed"`
	Skipped   int           `json:"skipped"`
	Errors    []RecordError `json:"errors"`
}

// ProfileRefreshJob re-extracts auto-refresh profiles older than a week
type ProfileRefreshJob struct {
	store     personalization.Store
	extractor ProfileExtractor
	staleAge  time.Duration
	pause     time.Duration
	now       func() time.Time
	sleep     func(ctx context.Context, d time.Duration) error
	logger    logging.Logger
}

// NewProfileRefreshJob creates a ProfileRefreshJob
func NewProfileRefreshJob(store personalization.Store, extractor ProfileExtractor, opts ...Option) *ProfileRefreshJob {
	o := buildOptions("profile_refresh_job", opts)
	return &ProfileRefreshJob{
		store:     store,
		extractor: extractor,
		staleAge:  ProfileStaleAfter,
		pause:     o.pause,
		now:       o.now,
		sleep:     o.sleep,
		logger:    o.logger,
	}
}

// Name identifies the job in schedules and locks
func (j *ProfileRefreshJob) Name() string {
	return "profile-refresh"
}

func (j *ProfileRefreshJob) stale(r *personalization.Record, now time.Time) bool {
	return r.LastRefreshedAt == nil || now.Sub(*r.LastRefreshedAt) >= j.staleAge
}

// Run extracts every stale record, pausing between extractions. Fresh
// records are counted as skipped. The extractor records each failure on
// its record, so only a failure to list records is returned.
func (j *ProfileRefreshJob) Run(ctx context.Context) (*ProfileRefreshSummary, error) {
	records, err := j.store.ListAutoRefresh(ctx)
	if err != nil {
		j.logger.Error("Failed to list auto-refresh records", err)
		return nil, errors.InternalError("failed to list records for profile refresh", err)
	}

	summary := &ProfileRefreshSummary{Errors: []RecordError{}}
	now := j.now()
	extracted := 0

	for _, r := range records {
		if !j.stale(r, now) {
			summary.Skipped++
			continue
		}
		if extracted > 0 {
			if err := j.sleep(ctx, j.pause); err != nil {
				break
			}
		}
		extracted++
		summary.Processed++

		if _, err := j.extractor.ExtractAndStore(ctx, r.TrainerID, r.CourseID); err != nil {
			summary.Failed++
			summary.Errors = append(summary.Errors, RecordError{
				TrainerID: r.TrainerID,
				CourseID:  r.CourseID,
				Error:     errors.Message(err),
			})
			continue
		}
		summary.Refreshed++
	}

	j.logger.Info("Profile refresh run finished",
		logging.Field{Key: "processed", Value: summary.Processed},
		logging.Field{Key: "refreshed", Value: summary.Refreshed},
		logging.Field{Key: "failed", Value: summary.Failed},
		logging.Field{Key: "skipped", Value: summary.Skipped},
	)
	return summary, nil
}

// CheckStatus reports how many profiles the next run would extract
func (j *ProfileRefreshJob) CheckStatus(ctx context.Context) (*RefreshStatus, error) {
	records, err := j.store.ListAutoRefresh(ctx)
	if err != nil {
		return nil, errors.InternalError("failed to list records for profile refresh", err)
	}
	now := j.now()
	count := 0
	for _, r := range records {
		if j.stale(r, now) {
			count++
		}
	}
	return &RefreshStatus{NeedsRefresh: count > 0, Count: count}, nil
}
