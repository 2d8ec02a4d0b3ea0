// Package worker executes queued job runs with bounded retry.
package worker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"

	"github.com/JakeFAU/pricealert/internal/catalog"
	"github.com/JakeFAU/pricealert/internal/metrics"
	"github.com/JakeFAU/pricealert/internal/policy/retry"
	"github.com/JakeFAU/pricealert/internal/queue"
	"github.com/JakeFAU/pricealert/internal/store"
)

// JobFunc is the body of a named job.
type JobFunc func(ctx context.Context) error

// Jobs maps job names to their bodies.
type Jobs map[string]JobFunc

// Sleeper waits between attempts; tests replace it to skip real backoff.
type Sleeper func(ctx context.Context, d time.Duration) error

// Worker consumes queue items and drives each run through its state machine.
type Worker struct {
	queue   queue.Queue
	runs    store.RunStore
	jobs    Jobs
	policy  retry.Policy
	clock   catalog.Clock
	sleep   Sleeper
	logger  *zap.Logger
	ops     *zap.Logger
	metrics *metrics.Recorder
}

// Options carries the optional collaborators of a Worker.
type Options struct {
	Logger  *zap.Logger
	Ops     *zap.Logger
	Metrics *metrics.Recorder
	Sleep   Sleeper
}

// New constructs a Worker.
func New(q queue.Queue, runs store.RunStore, jobs Jobs, policy retry.Policy, clock catalog.Clock, opts Options) *Worker {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	ops := opts.Ops
	if ops == nil {
		ops = logger.Named("ops")
	}
	sleep := opts.Sleep
	if sleep == nil {
		sleep = retry.Sleep
	}
	return &Worker{
		queue:   q,
		runs:    runs,
		jobs:    jobs,
		policy:  policy,
		clock:   clock,
		sleep:   sleep,
		logger:  logger.Named("worker"),
		ops:     ops,
		metrics: opts.Metrics,
	}
}

// Run blocks, consuming queue items until the context finishes.
func (w *Worker) Run(ctx context.Context) {
	for {
		item, err := w.queue.Dequeue(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, queue.ErrClosed) {
				return
			}
			w.logger.Error("queue dequeue failed", zap.Error(err))
			continue
		}
		w.logger.Debug("dequeued run", zap.Stringer("run_id", item.RunID), zap.String("job", item.Job))
		if err := w.Process(ctx, item); err != nil {
			w.logger.Debug("run finished with error", zap.Stringer("run_id", item.RunID), zap.Error(err))
		}
	}
}

// Process executes one run to a terminal state and returns the final error,
// wrapped with catalog.ErrTaskRetryExhausted when every attempt failed.
func (w *Worker) Process(ctx context.Context, item queue.Item) error {
	run, err := w.runs.GetRun(ctx, item.RunID)
	if errors.Is(err, store.ErrNotFound) {
		run = store.Run{
			ID:          item.RunID,
			Job:         item.Job,
			Trigger:     string(item.Trigger),
			State:       store.RunScheduled,
			ScheduledAt: w.clock.Now(),
			UpdatedAt:   w.clock.Now(),
		}
		err = w.runs.CreateRun(ctx, run)
	}
	if err != nil {
		w.logger.Error("load run failed", zap.Stringer("run_id", item.RunID), zap.Error(err))
		return err
	}

	job, ok := w.jobs[run.Job]
	if !ok {
		err := retry.Permanent(fmt.Errorf("unknown job %q", run.Job))
		if terr := w.transition(ctx, &run, store.RunRunning, nil); terr != nil {
			return terr
		}
		return w.exhaust(ctx, &run, err)
	}

	for {
		if err := w.transition(ctx, &run, store.RunRunning, nil); err != nil {
			return err
		}
		attemptErr := w.attempt(ctx, run, job)
		if attemptErr == nil {
			return w.transition(ctx, &run, store.RunSucceeded, nil)
		}
		if !w.policy.ShouldRetry(attemptErr, run.Attempts) {
			return w.exhaust(ctx, &run, attemptErr)
		}
		if err := w.transition(ctx, &run, store.RunRetrying, attemptErr); err != nil {
			return err
		}
		delay := w.policy.Backoff(run.Attempts)
		w.logger.Warn("job attempt failed, retrying",
			zap.String("job", run.Job),
			zap.Stringer("run_id", run.ID),
			zap.Int("attempt", run.Attempts),
			zap.Duration("backoff", delay),
			zap.Error(attemptErr),
		)
		if err := w.sleep(ctx, delay); err != nil {
			return w.exhaust(ctx, &run, fmt.Errorf("%w (retry wait: %v)", attemptErr, err))
		}
	}
}

func (w *Worker) attempt(ctx context.Context, run store.Run, job JobFunc) (err error) {
	ctx, span := otel.Tracer("pricealert/worker").Start(ctx, "job "+run.Job)
	span.SetAttributes(
		attribute.String("job.name", run.Job),
		attribute.String("job.run_id", run.ID.String()),
		attribute.Int("job.attempt", run.Attempts),
	)
	w.metrics.IncActiveWorkers()
	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("job %s panicked: %v", run.Job, r)
		}
		w.metrics.DecActiveWorkers()
		w.metrics.ObserveJobAttempt(run.Job, time.Since(start))
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()
	return job(ctx)
}

// exhaust marks the run permanently failed and reports it on the ops channel.
func (w *Worker) exhaust(ctx context.Context, run *store.Run, cause error) error {
	final := fmt.Errorf("%w: %s after %d attempts: %w", catalog.ErrTaskRetryExhausted, run.Job, run.Attempts, cause)
	if err := w.transition(ctx, run, store.RunFailedPermanently, cause); err != nil {
		w.logger.Error("persist failed run", zap.Stringer("run_id", run.ID), zap.Error(err))
	}
	w.ops.Error("job failed permanently",
		zap.String("job", run.Job),
		zap.Stringer("run_id", run.ID),
		zap.Int("attempts", run.Attempts),
		zap.Error(cause),
	)
	return final
}

func (w *Worker) transition(ctx context.Context, run *store.Run, to store.RunState, cause error) error {
	if err := run.Transition(to, w.clock.Now()); err != nil {
		return err
	}
	if cause != nil {
		run.LastError = cause.Error()
	}
	w.metrics.ObserveJobState(run.Job, string(to))
	// A cancelled parent must not stop the final state from being written.
	if err := w.runs.UpdateRun(context.WithoutCancel(ctx), *run); err != nil {
		return fmt.Errorf("update run %s: %w", run.ID, err)
	}
	return nil
}
