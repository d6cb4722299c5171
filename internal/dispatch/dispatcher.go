// Package dispatch drains the queue store: it claims due jobs, hands them to
// a channel sender and records the outcome.
package dispatch

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/sony/gobreaker"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"outreach/internal/channel"
	"outreach/internal/domain"
	"outreach/internal/logging"
	"outreach/internal/observability"
	"outreach/internal/util"
)

const ReasonInvalidContact = "invalid_contact"

type Store interface {
	ClaimEligible(ctx context.Context, limit int, now time.Time) ([]domain.QueueMessage, error)
	MarkSent(ctx context.Context, id string, now time.Time) error
	MarkFailed(ctx context.Context, id, reason string, now time.Time) error
	// Release puts a claimed job back to pending without spending a retry.
	// scheduled_at moves to retryAt when that is later; zero keeps it.
	Release(ctx context.Context, id string, retryAt, now time.Time) error
}

// Outcome tells the dispatcher who finishes the job.
type Outcome int

const (
	// Delivered: the sender completed delivery; the dispatcher marks the job sent.
	Delivered Outcome = iota
	// Accepted: the job was handed off; a delivery report marks it later.
	Accepted
)

type Sender interface {
	Send(ctx context.Context, m domain.QueueMessage) (Outcome, error)
}

type Dispatcher struct {
	Store   Store
	Sender  Sender
	Limiter  *rate.Limiter
	Breakers *Breakers

	BatchSize    int
	Concurrency  int
	PollInterval time.Duration
	SendTimeout  time.Duration
	// ReleaseDelay pushes back jobs that were held by the limiter or an open
	// breaker. Defaults to 5s.
	ReleaseDelay time.Duration

	Now func() time.Time
}

func (d *Dispatcher) now() time.Time {
	if d.Now != nil {
		return d.Now()
	}
	return util.NowUTC()
}

// Run claims and dispatches batches until ctx is cancelled. It sleeps for
// PollInterval whenever a claim comes back empty or fails.
func (d *Dispatcher) Run(ctx context.Context) error {
	interval := d.PollInterval
	if interval <= 0 {
		interval = time.Second
	}
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		n, err := d.RunOnce(ctx)
		if err != nil && !errors.Is(err, context.Canceled) {
			slog.Error("dispatch batch failed", "err", err)
		}
		if n > 0 && err == nil {
			continue
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(interval):
		}
	}
}

// RunOnce claims one batch and waits for every job in it to be handled.
// It returns how many jobs were claimed.
func (d *Dispatcher) RunOnce(ctx context.Context) (int, error) {
	batch := d.BatchSize
	if batch <= 0 {
		batch = 50
	}
	jobs, err := d.Store.ClaimEligible(ctx, batch, d.now())
	if err != nil {
		return 0, err
	}
	if len(jobs) == 0 {
		return 0, nil
	}
	observability.Claimed.Add(float64(len(jobs)))

	var g errgroup.Group
	if d.Concurrency > 0 {
		g.SetLimit(d.Concurrency)
	}
	for _, m := range jobs {
		g.Go(func() error { return d.process(ctx, m) })
	}
	return len(jobs), g.Wait()
}

func (d *Dispatcher) process(ctx context.Context, m domain.QueueMessage) error {
	// outcome writes outlive ctx cancellation
	storeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()

	if !channel.Deliverable(m.Channel, m.Metadata[domain.MetaEmail], m.Metadata[domain.MetaPhone]) {
		observability.Dispatch.WithLabelValues(string(m.Channel), "invalid_contact").Inc()
		return d.fail(storeCtx, m, ReasonInvalidContact)
	}

	if d.Limiter != nil {
		waitCtx, cancelWait := context.WithTimeout(ctx, 2*time.Second)
		err := d.Limiter.Wait(waitCtx)
		cancelWait()
		if err != nil {
			// local protection, not a send attempt
			observability.Dispatch.WithLabelValues(string(m.Channel), "rate_limited_local").Inc()
			return d.release(storeCtx, m, d.releaseDelay())
		}
	}

	start := time.Now()
	outcome, err := d.executeWithBreaker(ctx, m)
	observability.SendLatency.WithLabelValues(string(m.Channel)).Observe(time.Since(start).Seconds())

	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		// do NOT mark failed; the breaker is provider protection
		observability.Dispatch.WithLabelValues(string(m.Channel), "cb_open").Inc()
		return d.release(storeCtx, m, d.releaseDelay())
	}
	if err != nil && ctx.Err() != nil {
		observability.Dispatch.WithLabelValues(string(m.Channel), "interrupted").Inc()
		return d.release(storeCtx, m, 0)
	}
	if err != nil {
		observability.Dispatch.WithLabelValues(string(m.Channel), "error").Inc()
		logging.Job(slog.Default(), m).Warn("send failed", "err", err)
		return d.fail(storeCtx, m, err.Error())
	}

	if outcome == Accepted {
		observability.Dispatch.WithLabelValues(string(m.Channel), "accepted").Inc()
		return nil
	}
	observability.Dispatch.WithLabelValues(string(m.Channel), "delivered").Inc()
	if err := d.Store.MarkSent(storeCtx, m.ID, d.now()); err != nil {
		return ignoreRaced(m.ID, err)
	}
	return nil
}

func (d *Dispatcher) releaseDelay() time.Duration {
	if d.ReleaseDelay > 0 {
		return d.ReleaseDelay
	}
	return 5 * time.Second
}

func (d *Dispatcher) release(ctx context.Context, m domain.QueueMessage, delay time.Duration) error {
	now := d.now()
	var retryAt time.Time
	if delay > 0 {
		retryAt = now.Add(delay)
	}
	if err := d.Store.Release(ctx, m.ID, retryAt, now); err != nil {
		return ignoreRaced(m.ID, err)
	}
	return nil
}

func (d *Dispatcher) fail(ctx context.Context, m domain.QueueMessage, reason string) error {
	if err := d.Store.MarkFailed(ctx, m.ID, reason, d.now()); err != nil {
		return ignoreRaced(m.ID, err)
	}
	return nil
}

// ignoreRaced drops transition errors caused by a concurrent cancel.
func ignoreRaced(id string, err error) error {
	if errors.Is(err, domain.ErrInvalidTransition) {
		slog.Info("job left sending before its outcome was recorded", "message_id", id, "err", err)
		return nil
	}
	return err
}

func (d *Dispatcher) executeWithBreaker(ctx context.Context, m domain.QueueMessage) (Outcome, error) {
	call := func() (any, error) {
		timeout := d.SendTimeout
		if timeout <= 0 {
			timeout = 10 * time.Second
		}
		reqCtx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()
		return d.Sender.Send(reqCtx, m)
	}

	if d.Breakers == nil {
		res, err := call()
		if err != nil {
			return Delivered, err
		}
		return res.(Outcome), nil
	}
	res, err := d.Breakers.For(m.Channel).Execute(call)
	if err != nil {
		return Delivered, err
	}
	return res.(Outcome), nil
}
