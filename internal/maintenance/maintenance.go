// Package maintenance runs the periodic queue sweeps: retry of failed jobs,
// failing jobs stuck in sending, and purging of old finished jobs.
package maintenance

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"outreach/internal/domain"
)

type Service interface {
	RetrySweep(ctx context.Context) (domain.RetryResult, error)
	PurgeOld(ctx context.Context, retentionDays int) (int64, error)
	FailStale(ctx context.Context, olderThan time.Duration) (int64, error)
}

type Config struct {
	RetrySchedule string
	PurgeSchedule string
	StaleSchedule string

	RetentionDays  int
	SendingTimeout time.Duration

	// JobTimeout bounds a single sweep run.
	JobTimeout time.Duration
}

type Runner struct {
	svc  Service
	cfg  Config
	cron *cron.Cron
	base context.Context
	stop context.CancelFunc
}

// New registers the sweeps whose schedule is non-empty. Schedules use the
// standard 5-field cron syntax or descriptors like "@every 1m".
func New(svc Service, cfg Config) (*Runner, error) {
	if cfg.JobTimeout <= 0 {
		cfg.JobTimeout = time.Minute
	}
	base, stop := context.WithCancel(context.Background())
	r := &Runner{
		svc:  svc,
		cfg:  cfg,
		base: base,
		stop: stop,
		cron: cron.New(cron.WithChain(
			cron.Recover(slogLogger{}),
			cron.SkipIfStillRunning(slogLogger{}),
		)),
	}

	jobs := []struct {
		name, spec string
		run        func(context.Context) error
	}{
		{"retry_sweep", cfg.RetrySchedule, r.RetrySweep},
		{"stale_sweep", cfg.StaleSchedule, r.StaleSweep},
		{"purge", cfg.PurgeSchedule, r.Purge},
	}
	for _, j := range jobs {
		if j.spec == "" {
			continue
		}
		if j.name == "stale_sweep" && cfg.SendingTimeout <= 0 {
			continue
		}
		if _, err := r.cron.AddFunc(j.spec, r.wrap(j.name, j.run)); err != nil {
			stop()
			return nil, fmt.Errorf("%s schedule %q: %w", j.name, j.spec, err)
		}
	}
	return r, nil
}

func (r *Runner) Start() { r.cron.Start() }

// Stop prevents new runs and waits for running sweeps until ctx is done.
func (r *Runner) Stop(ctx context.Context) {
	done := r.cron.Stop()
	select {
	case <-done.Done():
	case <-ctx.Done():
	}
	r.stop()
}

func (r *Runner) wrap(name string, run func(context.Context) error) func() {
	return func() {
		ctx, cancel := context.WithTimeout(r.base, r.cfg.JobTimeout)
		defer cancel()
		if err := run(ctx); err != nil {
			slog.Error("maintenance job failed", "job", name, "err", err)
		}
	}
}

func (r *Runner) RetrySweep(ctx context.Context) error {
	res, err := r.svc.RetrySweep(ctx)
	if err != nil {
		return err
	}
	if res.Requeued > 0 || res.Exhausted > 0 {
		slog.Info("retry sweep", "requeued", res.Requeued, "exhausted", res.Exhausted)
	}
	return nil
}

func (r *Runner) StaleSweep(ctx context.Context) error {
	n, err := r.svc.FailStale(ctx, r.cfg.SendingTimeout)
	if err != nil {
		return err
	}
	if n > 0 {
		slog.Warn("failed stale sending jobs", "count", n, "older_than", r.cfg.SendingTimeout)
	}
	return nil
}

func (r *Runner) Purge(ctx context.Context) error {
	n, err := r.svc.PurgeOld(ctx, r.cfg.RetentionDays)
	if err != nil {
		return err
	}
	if n > 0 {
		slog.Info("purged old jobs", "deleted", n, "retention_days", r.cfg.RetentionDays)
	}
	return nil
}

// slogLogger adapts cron's logger to slog.
type slogLogger struct{}

func (slogLogger) Info(msg string, keysAndValues ...interface{}) {
	slog.Debug("cron: "+msg, keysAndValues...)
}

func (slogLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	slog.Error("cron: "+msg, append([]interface{}{"err", err}, keysAndValues...)...)
}
