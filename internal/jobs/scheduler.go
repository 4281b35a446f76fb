package jobs

import (
	"context"
	stderrors "errors"
	"fmt"
	"sync"
	"time"

	"github.com/lucsky/cuid"
	"github.com/robfig/cron/v3"
	"personalization-sync/internal/common/errors"
	"personalization-sync/internal/common/logging"
	"personalization-sync/internal/locks"
)

const (
	// JobLockTTL bounds how long a crashed instance can block a job
	JobLockTTL = 30 * time.Minute
	// ErrCodeJobRunning marks a run refused because the job is already running
	ErrCodeJobRunning = "job_running"

	lastRunTTL = 30 * 24 * time.Hour
)

// RunRecord describes the latest run of a job
type RunRecord struct {
	ID         string      `json:"id"`
	Job        string      `json:"job"`
	Trigger    string      `json:"trigger"`
	StartedAt  time.Time   `json:"started_at"`
	FinishedAt time.Time   `json:"finished_at"`
	Summary    interface{} `json:"summary,omitempty"`
	Error      string      `json:"error,omitempty"`
}

// RunStore persists the latest RunRecord per job so every instance can
// report it. *redis.Client satisfies it.
type RunStore interface {
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) error
	GetJSON(ctx context.Context, key string, dest interface{}) error
}

// Schedule is a pair of cron specs
type Schedule struct {
	TokenRefresh   string
	ProfileRefresh string
}

// Scheduler runs the batch jobs on cron schedules and on demand. Every run
// holds the job's lock, so runs never overlap within or across instances.
type Scheduler struct {
	tokenJob   *TokenRefreshJob
	profileJob *ProfileRefreshJob
	locker     locks.Manager
	runs       RunStore
	cron       *cron.Cron
	logger     logging.Logger
	now        func() time.Time

	mu   sync.RWMutex
	last map[string]*RunRecord
}

// SchedulerOption configures a Scheduler
type SchedulerOption func(*Scheduler)

// WithRunStore shares run records through store
func WithRunStore(store RunStore) SchedulerOption {
	return func(s *Scheduler) {
		s.runs = store
	}
}

// WithSchedulerClock overrides the time source of run records
func WithSchedulerClock(now func() time.Time) SchedulerOption {
	return func(s *Scheduler) {
		s.now = now
	}
}

// NewScheduler creates a Scheduler. A nil locker falls back to an
// in-process lock.
func NewScheduler(tokenJob *TokenRefreshJob, profileJob *ProfileRefreshJob, locker locks.Manager, opts ...SchedulerOption) *Scheduler {
	if locker == nil {
		locker = locks.NewLocalManager()
	}
	s := &Scheduler{
		tokenJob:   tokenJob,
		profileJob: profileJob,
		locker:     locker,
		logger:     logging.GetGlobalLogger().WithFields(logging.Field{Key: "component", Value: "scheduler"}),
		now:        time.Now,
		last:       make(map[string]*RunRecord),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start registers both jobs and starts the cron loop
func (s *Scheduler) Start(schedule Schedule) error {
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
	c := cron.New(cron.WithParser(parser), cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)))

	if _, err := c.AddFunc(schedule.TokenRefresh, func() {
		s.runScheduled(s.tokenJob.Name(), func(ctx context.Context) error {
			_, err := s.RunTokenRefresh(ctx, "schedule")
			return err
		})
	}); err != nil {
		return errors.ConfigurationError(fmt.Sprintf("invalid token refresh schedule: %v", err))
	}

	if _, err := c.AddFunc(schedule.ProfileRefresh, func() {
		s.runScheduled(s.profileJob.Name(), func(ctx context.Context) error {
			_, err := s.RunProfileRefresh(ctx, "schedule")
			return err
		})
	}); err != nil {
		return errors.ConfigurationError(fmt.Sprintf("invalid profile refresh schedule: %v", err))
	}

	s.cron = c
	c.Start()
	s.logger.Info("Scheduler started",
		logging.Field{Key: "token_refresh", Value: schedule.TokenRefresh},
		logging.Field{Key: "profile_refresh", Value: schedule.ProfileRefresh},
	)
	return nil
}

func (s *Scheduler) runScheduled(name string, run func(ctx context.Context) error) {
	ctx, cancel := context.WithTimeout(context.Background(), JobLockTTL)
	defer cancel()
	if err := run(ctx); err != nil {
		if IsJobRunning(err) {
			s.logger.Info("Skipping scheduled run, job is running elsewhere", logging.Field{Key: "job", Value: name})
			return
		}
		s.logger.Error("Scheduled job failed", err, logging.Field{Key: "job", Value: name})
	}
}

// Stop halts the cron loop and waits for a running job until ctx is done
func (s *Scheduler) Stop(ctx context.Context) {
	if s.cron == nil {
		return
	}
	done := s.cron.Stop()
	select {
	case <-done.Done():
	case <-ctx.Done():
		s.logger.Warn("Scheduler stopped before running job finished")
	}
}

// RunTokenRefresh runs the token refresh job under its lock
func (s *Scheduler) RunTokenRefresh(ctx context.Context, trigger string) (*TokenRefreshSummary, error) {
	return runLocked(ctx, s, s.tokenJob.Name(), trigger, s.tokenJob.Run)
}

// RunProfileRefresh runs the profile refresh job under its lock
func (s *Scheduler) RunProfileRefresh(ctx context.Context, trigger string) (*ProfileRefreshSummary, error) {
	return runLocked(ctx, s, s.profileJob.Name(), trigger, s.profileJob.Run)
}

// TokenRefreshStatus reports what the next token refresh run would do
func (s *Scheduler) TokenRefreshStatus(ctx context.Context) (*RefreshStatus, error) {
	return s.tokenJob.CheckStatus(ctx)
}

// ProfileRefreshStatus reports what the next profile refresh run would do
func (s *Scheduler) ProfileRefreshStatus(ctx context.Context) (*RefreshStatus, error) {
	return s.profileJob.CheckStatus(ctx)
}

func runLocked[T any](ctx context.Context, s *Scheduler, name, trigger string, run func(context.Context) (T, error)) (T, error) {
	var zero T

	lock, err := s.locker.AcquireLock(ctx, "job:"+name, JobLockTTL)
	if err != nil {
		if stderrors.Is(err, locks.ErrNotAcquired) {
			return zero, errors.ValidationError(fmt.Sprintf("job %s is already running", name)).WithCode(ErrCodeJobRunning)
		}
		return zero, err
	}
	defer lock.Release(context.Background())

	record := &RunRecord{
		ID:        cuid.New(),
		Job:       name,
		Trigger:   trigger,
		StartedAt: s.now().UTC(),
	}
	ctx = context.WithValue(ctx, logging.RunIDKey, record.ID)
	logger := s.logger.WithContext(ctx).WithFields(logging.Field{Key: "job", Value: name})
	logger.Info("Job run started", logging.Field{Key: "trigger", Value: trigger})

	summary, err := run(ctx)
	record.FinishedAt = s.now().UTC()
	if err != nil {
		record.Error = errors.Message(err)
	} else {
		record.Summary = summary
	}
	s.saveRun(ctx, record)

	logger.Info("Job run finished", logging.Field{Key: "duration", Value: record.FinishedAt.Sub(record.StartedAt).String()})
	return summary, err
}

// IsJobRunning reports whether err refused a run because the job holds its lock
func IsJobRunning(err error) bool {
	var appErr *errors.AppError
	return stderrors.As(err, &appErr) && appErr.Code == ErrCodeJobRunning
}

func runKey(name string) string {
	return "jobs:last_run:" + name
}

func (s *Scheduler) saveRun(ctx context.Context, record *RunRecord) {
	s.mu.Lock()
	s.last[record.Job] = record
	s.mu.Unlock()

	if s.runs == nil {
		return
	}
	if err := s.runs.Set(ctx, runKey(record.Job), record, lastRunTTL); err != nil {
		s.logger.Warn("Failed to store job run",
			logging.Field{Key: "job", Value: record.Job},
			logging.Field{Key: "error", Value: err.Error()},
		)
	}
}

// LastRun returns the latest run of the named job, preferring the shared
// store. It returns nil when the job has not run.
func (s *Scheduler) LastRun(ctx context.Context, name string) *RunRecord {
	if s.runs != nil {
		var record RunRecord
		if err := s.runs.GetJSON(ctx, runKey(name), &record); err == nil {
			return &record
		}
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.last[name]
}
