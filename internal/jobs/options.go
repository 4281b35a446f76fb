package jobs

import (
	"context"
	"time"

	"personalization-sync/internal/common/logging"
)

// Option configures a job
type Option func(*options)

type options struct {
	now    func() time.Time
	sleep  func(ctx context.Context, d time.Duration) error
	pause  time.Duration
	logger logging.Logger
}

// WithClock overrides the time source
func WithClock(now func() time.Time) Option {
	return func(o *options) {
		o.now = now
	}
}

// WithSleeper overrides how the profile job waits between records
func WithSleeper(sleep func(ctx context.Context, d time.Duration) error) Option {
	return func(o *options) {
		o.sleep = sleep
	}
}

// WithPause sets the delay between profile extractions
func WithPause(d time.Duration) Option {
	return func(o *options) {
		o.pause = d
	}
}

// WithLogger sets the logger
func WithLogger(l logging.Logger) Option {
	return func(o *options) {
		o.logger = l
	}
}

func buildOptions(component string, opts []Option) options {
	o := options{
		now:   time.Now,
		sleep: sleepContext,
		pause: DefaultProfilePause,
	}
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = logging.GetGlobalLogger().WithFields(logging.Field{Key: "component", Value: component})
	}
	return o
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
