// Package scheduler fires the pipeline jobs on their wall-clock cadence and
// enqueues out-of-band runs.
package scheduler

import (
	"context"
	"fmt"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/JakeFAU/pricealert/internal/catalog"
	"github.com/JakeFAU/pricealert/internal/metrics"
	"github.com/JakeFAU/pricealert/internal/queue"
	"github.com/JakeFAU/pricealert/internal/store"
)

// Job names.
const (
	JobPriceRefresh         = "price_refresh"
	JobAlertEvaluation      = "alert_evaluation"
	JobNotificationDispatch = "notification_dispatch"
)

// Pipeline lists the jobs in upstream-to-downstream order.
var Pipeline = []string{JobPriceRefresh, JobAlertEvaluation, JobNotificationDispatch}

// DefaultHours are the daily firing hours of the price refresh job.
var DefaultHours = []int{9, 13, 17, 21}

// DefaultOffsets trail each job behind its upstream by ten minutes.
var DefaultOffsets = map[string]int{
	JobPriceRefresh:         0,
	JobAlertEvaluation:      10,
	JobNotificationDispatch: 20,
}

// Config describes the schedule.
type Config struct {
	Hours    []int
	Offsets  map[string]int
	Location *time.Location
}

func (c Config) withDefaults() Config {
	if len(c.Hours) == 0 {
		c.Hours = DefaultHours
	}
	offsets := make(map[string]int, len(DefaultOffsets))
	for job, m := range DefaultOffsets {
		offsets[job] = m
	}
	for job, m := range c.Offsets {
		offsets[job] = m
	}
	c.Offsets = offsets
	if c.Location == nil {
		c.Location = time.UTC
	}
	return c
}

// Entry is one cron line.
type Entry struct {
	Job  string
	Spec string
}

// Specs renders the cron entries for cfg in pipeline order.
func Specs(cfg Config) ([]Entry, error) {
	cfg = cfg.withDefaults()
	hours := slices.Clone(cfg.Hours)
	slices.Sort(hours)
	hours = slices.Compact(hours)
	parts := make([]string, 0, len(hours))
	for _, h := range hours {
		if h < 0 || h > 23 {
			return nil, fmt.Errorf("schedule hour %d out of range", h)
		}
		parts = append(parts, strconv.Itoa(h))
	}
	out := make([]Entry, 0, len(Pipeline))
	for _, job := range Pipeline {
		m := cfg.Offsets[job]
		if m < 0 || m > 59 {
			return nil, fmt.Errorf("offset %d for %s out of range", m, job)
		}
		out = append(out, Entry{Job: job, Spec: fmt.Sprintf("%d %s * * *", m, strings.Join(parts, ","))})
	}
	return out, nil
}

// Scheduler owns the cron and enqueues runs.
type Scheduler struct {
	cron     *cron.Cron
	entries  []Entry
	ids      map[string]cron.EntryID
	location *time.Location
	queue    queue.Queue
	runs     store.RunStore
	clock    catalog.Clock
	idgen    catalog.IDGenerator
	logger   *zap.Logger
	metrics  *metrics.Recorder
}

// New builds a scheduler; Start begins firing.
func New(cfg Config, q queue.Queue, runs store.RunStore, clock catalog.Clock, ids catalog.IDGenerator, logger *zap.Logger, rec *metrics.Recorder) (*Scheduler, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	cfg = cfg.withDefaults()
	entries, err := Specs(cfg)
	if err != nil {
		return nil, err
	}
	s := &Scheduler{
		entries:  entries,
		ids:      make(map[string]cron.EntryID, len(entries)),
		location: cfg.Location,
		queue:    q,
		runs:     runs,
		clock:    clock,
		idgen:    ids,
		logger:   logger.Named("scheduler"),
		metrics:  rec,
	}
	cl := cronLogger{logger: s.logger}
	s.cron = cron.New(
		cron.WithLocation(cfg.Location),
		cron.WithLogger(cl),
		cron.WithChain(cron.Recover(cl)),
	)
	for _, e := range entries {
		job := e.Job
		id, err := s.cron.AddFunc(e.Spec, func() { s.fire(job) })
		if err != nil {
			return nil, fmt.Errorf("schedule %s %q: %w", job, e.Spec, err)
		}
		s.ids[job] = id
	}
	return s, nil
}

// Entries returns the registered cron lines.
func (s *Scheduler) Entries() []Entry {
	return slices.Clone(s.entries)
}

// Next returns the next firing time of job after t.
func (s *Scheduler) Next(job string, t time.Time) (time.Time, bool) {
	id, ok := s.ids[job]
	if !ok {
		return time.Time{}, false
	}
	return s.cron.Entry(id).Schedule.Next(t.In(s.location)), true
}

// Start begins firing in the background.
func (s *Scheduler) Start() {
	s.cron.Start()
	s.logger.Info("scheduler started", zap.Int("entries", len(s.entries)))
}

// Stop halts firing and returns a context done when in-flight fires finish.
func (s *Scheduler) Stop() context.Context {
	return s.cron.Stop()
}

func (s *Scheduler) fire(job string) {
	if _, err := s.Enqueue(context.Background(), job, queue.TriggerSchedule); err != nil {
		s.logger.Error("scheduled enqueue failed", zap.String("job", job), zap.Error(err))
	}
}

// Enqueue records a scheduled run for job and queues it.
func (s *Scheduler) Enqueue(ctx context.Context, job string, trigger queue.Trigger) (store.Run, error) {
	if !slices.Contains(Pipeline, job) {
		return store.Run{}, catalog.Invalid("job", fmt.Sprintf("unknown job %q", job))
	}
	id, err := s.idgen.NewRawID()
	if err != nil {
		return store.Run{}, fmt.Errorf("new run id: %w", err)
	}
	now := s.clock.Now()
	run := store.Run{
		ID:          id,
		Job:         job,
		Trigger:     string(trigger),
		State:       store.RunScheduled,
		ScheduledAt: now,
		UpdatedAt:   now,
	}
	if err := s.runs.CreateRun(ctx, run); err != nil {
		return store.Run{}, fmt.Errorf("create run: %w", err)
	}
	if err := s.queue.Enqueue(ctx, queue.Item{RunID: id, Job: job, Trigger: trigger, EnqueuedAt: now}); err != nil {
		return run, fmt.Errorf("enqueue %s: %w", job, err)
	}
	s.metrics.ObserveJobState(job, string(store.RunScheduled))
	s.logger.Info("run scheduled", zap.String("job", job), zap.Stringer("run_id", id), zap.String("trigger", string(trigger)))
	return run, nil
}

// TriggerNow enqueues the whole pipeline out of band, in order.
func (s *Scheduler) TriggerNow(ctx context.Context) ([]store.Run, error) {
	out := make([]store.Run, 0, len(Pipeline))
	for _, job := range Pipeline {
		run, err := s.Enqueue(ctx, job, queue.TriggerManual)
		if err != nil {
			return out, err
		}
		out = append(out, run)
	}
	return out, nil
}

// cronLogger adapts zap to cron.Logger.
type cronLogger struct {
	logger *zap.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	l.logger.Sugar().Debugw(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.logger.Sugar().Errorw(msg, append(keysAndValues, "error", err)...)
}
