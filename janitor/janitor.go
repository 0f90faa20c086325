// Package janitor runs the engine's periodic maintenance on a cron schedule:
// deactivating expired role assignments and purging administrative audit
// entries older than the retention period.
package janitor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/xraph/concierge"
)

// Sweeper is the maintenance surface of *concierge.Engine.
type Sweeper interface {
	ExpireAssignments(ctx context.Context) (int, error)
	PurgeAuditLog(ctx context.Context) (int64, error)
}

// Config holds the janitor schedules in robfig/cron syntax. An empty
// schedule disables that job.
type Config struct {
	ExpireSchedule string        `json:"expire_schedule" yaml:"expire_schedule" mapstructure:"expire_schedule"`
	PurgeSchedule  string        `json:"purge_schedule" yaml:"purge_schedule" mapstructure:"purge_schedule"`
	JobTimeout     time.Duration `json:"job_timeout" yaml:"job_timeout" mapstructure:"job_timeout"`
}

// DefaultConfig returns the default schedules.
func DefaultConfig() Config {
	return Config{
		ExpireSchedule: "@every 1m",
		PurgeSchedule:  "@daily",
		JobTimeout:     5 * time.Minute,
	}
}

// Option configures a Janitor.
type Option func(*Janitor)

// WithConfig replaces the default schedules.
func WithConfig(cfg Config) Option { return func(j *Janitor) { j.config = cfg } }

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option { return func(j *Janitor) { j.logger = l } }

// WithLocation sets the time zone schedules are interpreted in.
func WithLocation(loc *time.Location) Option { return func(j *Janitor) { j.location = loc } }

// Janitor schedules maintenance jobs against a Sweeper.
type Janitor struct {
	sweeper  Sweeper
	config   Config
	logger   *slog.Logger
	location *time.Location
	cron     *cron.Cron
}

// New creates a janitor and registers its jobs. The scheduler does not run
// until Start is called.
func New(s Sweeper, opts ...Option) (*Janitor, error) {
	if s == nil {
		return nil, errors.New("janitor: sweeper is required")
	}
	j := &Janitor{
		sweeper:  s,
		config:   DefaultConfig(),
		logger:   slog.Default(),
		location: time.UTC,
	}
	for _, opt := range opts {
		opt(j)
	}
	j.cron = cron.New(
		cron.WithLocation(j.location),
		cron.WithChain(cron.Recover(cron.DiscardLogger), cron.SkipIfStillRunning(cron.DiscardLogger)),
	)

	if j.config.ExpireSchedule != "" {
		if _, err := j.cron.AddFunc(j.config.ExpireSchedule, j.job("expire_assignments", j.expire)); err != nil {
			return nil, fmt.Errorf("janitor: schedule expire job: %w", err)
		}
	}
	if j.config.PurgeSchedule != "" {
		if _, err := j.cron.AddFunc(j.config.PurgeSchedule, j.job("purge_audit_log", j.purge)); err != nil {
			return nil, fmt.Errorf("janitor: schedule purge job: %w", err)
		}
	}
	return j, nil
}

// Jobs returns the number of scheduled jobs.
func (j *Janitor) Jobs() int { return len(j.cron.Entries()) }

// Start runs the scheduler in the background.
func (j *Janitor) Start() {
	j.cron.Start()
	j.logger.Info("janitor: started",
		slog.String("expire_schedule", j.config.ExpireSchedule),
		slog.String("purge_schedule", j.config.PurgeSchedule),
	)
}

// Stop halts the scheduler and waits for running jobs or ctx expiry.
func (j *Janitor) Stop(ctx context.Context) error {
	done := j.cron.Stop()
	select {
	case <-done.Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// RunOnce runs every configured job immediately, in order. Jobs act as the
// system actor.
func (j *Janitor) RunOnce(ctx context.Context) error {
	var errs []error
	if j.config.ExpireSchedule != "" {
		errs = append(errs, j.expire(ctx))
	}
	if j.config.PurgeSchedule != "" {
		errs = append(errs, j.purge(ctx))
	}
	return errors.Join(errs...)
}

func (j *Janitor) expire(ctx context.Context) error {
	n, err := j.sweeper.ExpireAssignments(concierge.WithSystemActor(ctx))
	if n > 0 {
		j.logger.Info("janitor: expired assignments", slog.Int("count", n))
	}
	return err
}

func (j *Janitor) purge(ctx context.Context) error {
	n, err := j.sweeper.PurgeAuditLog(concierge.WithSystemActor(ctx))
	if n > 0 {
		j.logger.Info("janitor: purged audit entries", slog.Int64("count", n))
	}
	return err
}

// job adapts a maintenance step to a cron func with its own timeout.
func (j *Janitor) job(name string, fn func(context.Context) error) func() {
	return func() {
		ctx := context.Background()
		if j.config.JobTimeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, j.config.JobTimeout)
			defer cancel()
		}
		if err := fn(ctx); err != nil {
			j.logger.Error("janitor: job failed",
				slog.String("job", name),
				slog.String("error", err.Error()),
			)
		}
	}
}
