// Package notify batches pending notifications into per-user mails.
package notify

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/JakeFAU/pricealert/internal/catalog"
	"github.com/JakeFAU/pricealert/internal/metrics"
)

// DefaultGrace absorbs scheduler jitter against a window's nominal interval.
const DefaultGrace = 6 * time.Hour

// Frequencies lists the batching classes in dispatch order.
var Frequencies = []catalog.Frequency{
	catalog.FrequencyImmediately,
	catalog.FrequencyDaily,
	catalog.FrequencyWeekly,
}

// DefaultIntervals are the nominal window lengths.
var DefaultIntervals = map[catalog.Frequency]time.Duration{
	catalog.FrequencyImmediately: 0,
	catalog.FrequencyDaily:       24 * time.Hour,
	catalog.FrequencyWeekly:      7 * 24 * time.Hour,
}

// Store is the persistence surface dispatch needs.
type Store interface {
	catalog.NotificationStore
	catalog.WindowStore
}

// WeeklyReporter creates weekly report notifications for the given users.
type WeeklyReporter interface {
	WeeklyReport(ctx context.Context, userIDs []int64) (int, error)
}

// Config tunes dispatch.
type Config struct {
	Grace     time.Duration
	Intervals map[catalog.Frequency]time.Duration
}

// Stats summarizes one dispatch pass.
type Stats struct {
	WindowsRun     int
	WindowsSkipped int
	MailsSent      int
	MailsFailed    int
	Notifications  int
}

// Dispatcher sends batched notification mails.
type Dispatcher struct {
	store    Store
	reporter WeeklyReporter
	mailer   Mailer
	clock    catalog.Clock
	cfg      Config
	logger   *zap.Logger
	metrics  *metrics.Recorder
}

// NewDispatcher wires a dispatcher. reporter may be nil.
func NewDispatcher(store Store, reporter WeeklyReporter, mailer Mailer, clock catalog.Clock, cfg Config, logger *zap.Logger, rec *metrics.Recorder) *Dispatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Grace == 0 {
		cfg.Grace = DefaultGrace
	}
	intervals := make(map[catalog.Frequency]time.Duration, len(DefaultIntervals))
	for f, d := range DefaultIntervals {
		intervals[f] = d
	}
	for f, d := range cfg.Intervals {
		intervals[f] = d
	}
	cfg.Intervals = intervals
	return &Dispatcher{
		store:    store,
		reporter: reporter,
		mailer:   mailer,
		clock:    clock,
		cfg:      cfg,
		logger:   logger.Named("notify"),
		metrics:  rec,
	}
}

// Run processes every frequency window once. Per-user failures are logged
// and left pending for the next cycle.
func (d *Dispatcher) Run(ctx context.Context) (Stats, error) {
	var stats Stats
	for _, f := range Frequencies {
		if err := ctx.Err(); err != nil {
			return stats, err
		}
		ran, err := d.runWindow(ctx, f, &stats)
		if err != nil {
			return stats, fmt.Errorf("dispatch %s: %w", f, err)
		}
		if ran {
			stats.WindowsRun++
		} else {
			stats.WindowsSkipped++
		}
	}
	d.logger.Info("notification dispatch complete",
		zap.Int("windows_run", stats.WindowsRun),
		zap.Int("windows_skipped", stats.WindowsSkipped),
		zap.Int("mails_sent", stats.MailsSent),
		zap.Int("mails_failed", stats.MailsFailed),
	)
	return stats, nil
}

func (d *Dispatcher) window(ctx context.Context, f catalog.Frequency) (catalog.FrequencyWindow, error) {
	w, err := d.store.GetWindow(ctx, f)
	if errors.Is(err, catalog.ErrNotFound) {
		return catalog.FrequencyWindow{Frequency: f, Interval: d.cfg.Intervals[f]}, nil
	}
	if err != nil {
		return catalog.FrequencyWindow{}, fmt.Errorf("get window: %w", err)
	}
	return w, nil
}

// Due reports whether a window with the given last dispatch should run at now.
func Due(w catalog.FrequencyWindow, now time.Time, grace time.Duration) bool {
	if w.LastDispatch == nil {
		return true
	}
	return now.Sub(*w.LastDispatch) >= w.Interval-grace
}

func (d *Dispatcher) runWindow(ctx context.Context, f catalog.Frequency, stats *Stats) (bool, error) {
	w, err := d.window(ctx, f)
	if err != nil {
		return false, err
	}
	now := d.clock.Now()
	if !Due(w, now, d.cfg.Grace) {
		d.logger.Debug("window not due", zap.String("frequency", string(f)), zap.Timep("last_dispatch", w.LastDispatch))
		return false, nil
	}

	users, err := d.store.ListSubscribers(ctx, f)
	if err != nil {
		return false, fmt.Errorf("list subscribers: %w", err)
	}
	if f == catalog.FrequencyWeekly && d.reporter != nil && len(users) > 0 {
		ids := make([]int64, 0, len(users))
		for _, u := range users {
			ids = append(ids, u.UserID)
		}
		if _, err := d.reporter.WeeklyReport(ctx, ids); err != nil {
			d.logger.Error("weekly report failed", zap.Error(err))
		}
	}

	for _, u := range users {
		if err := d.sendUser(ctx, f, u, stats); err != nil {
			stats.MailsFailed++
			d.metrics.ObserveMail(string(f), false)
			d.logger.Error("mail dispatch failed",
				zap.Int64("user_id", u.UserID),
				zap.String("frequency", string(f)),
				zap.Error(err),
			)
		}
	}

	w.Interval = d.cfg.Intervals[f]
	w.LastDispatch = &now
	if err := d.store.SaveWindow(ctx, w); err != nil {
		return true, fmt.Errorf("save window: %w", err)
	}
	return true, nil
}

func (d *Dispatcher) sendUser(ctx context.Context, f catalog.Frequency, u catalog.UserSettings, stats *Stats) error {
	pending, err := d.store.ListUnsent(ctx, u.UserID)
	if err != nil {
		return fmt.Errorf("list unsent: %w", err)
	}
	if len(pending) == 0 {
		return nil
	}
	subject, body, err := Render(f, pending)
	if err != nil {
		return err
	}
	if err := d.mailer.Send(ctx, Message{To: u.Email, Subject: subject, Body: body}); err != nil {
		return err
	}
	ids := make([]uuid.UUID, 0, len(pending))
	for _, n := range pending {
		ids = append(ids, n.ID)
	}
	if err := d.store.MarkSent(ctx, ids, d.clock.Now()); err != nil {
		// The mail went out; a later cycle may resend these.
		return fmt.Errorf("mark sent: %w", err)
	}
	stats.MailsSent++
	stats.Notifications += len(pending)
	d.metrics.ObserveMail(string(f), true)
	return nil
}
