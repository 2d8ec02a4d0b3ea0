// Package app initializes and holds long-lived application services, acting
// as a dependency injection container for the commands.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.uber.org/zap"

	"github.com/JakeFAU/pricealert/internal/alert"
	"github.com/JakeFAU/pricealert/internal/api"
	"github.com/JakeFAU/pricealert/internal/catalog"
	"github.com/JakeFAU/pricealert/internal/clock/system"
	"github.com/JakeFAU/pricealert/internal/config"
	"github.com/JakeFAU/pricealert/internal/connector"
	"github.com/JakeFAU/pricealert/internal/connector/amazon"
	"github.com/JakeFAU/pricealert/internal/connector/rakuten"
	"github.com/JakeFAU/pricealert/internal/connector/registry"
	"github.com/JakeFAU/pricealert/internal/connector/yahoo"
	"github.com/JakeFAU/pricealert/internal/dispatcher"
	"github.com/JakeFAU/pricealert/internal/id/uuid"
	"github.com/JakeFAU/pricealert/internal/logging"
	"github.com/JakeFAU/pricealert/internal/metrics"
	"github.com/JakeFAU/pricealert/internal/notify"
	"github.com/JakeFAU/pricealert/internal/policy/ratelimit"
	"github.com/JakeFAU/pricealert/internal/policy/retry"
	"github.com/JakeFAU/pricealert/internal/queue"
	memqueue "github.com/JakeFAU/pricealert/internal/queue/memory"
	"github.com/JakeFAU/pricealert/internal/reconcile"
	"github.com/JakeFAU/pricealert/internal/refresh"
	"github.com/JakeFAU/pricealert/internal/scheduler"
	"github.com/JakeFAU/pricealert/internal/storage/memory"
	"github.com/JakeFAU/pricealert/internal/storage/postgres"
	"github.com/JakeFAU/pricealert/internal/store"
	"github.com/JakeFAU/pricealert/internal/telemetry"
	"github.com/JakeFAU/pricealert/internal/tracking"
	"github.com/JakeFAU/pricealert/internal/worker"
)

// App holds all the shared, long-lived services for the application.
type App struct {
	Config  config.Config
	Logger  *zap.Logger
	Metrics *metrics.Recorder

	registry   *prometheus.Registry
	tracer     *sdktrace.TracerProvider
	pool       *pgxpool.Pool
	catalog    catalog.Store
	runs       store.RunStore
	reader     api.CatalogReader
	connectors *registry.Registry
	tracking   *tracking.Service
	refresh    *refresh.Job
	alerts     *alert.Engine
	notifier   *notify.Dispatcher
	queue      *memqueue.Queue
	scheduler  *scheduler.Scheduler
	workers    []*worker.Worker
	dispatcher *dispatcher.Dispatcher
	server     *api.Server
}

// catalogBackend is a store that also serves the API's reads.
type catalogBackend interface {
	catalog.Store
	api.CatalogReader
}

// New builds every service from cfg. It fails fast if any critical service
// cannot be initialized.
func New(ctx context.Context, cfg config.Config, logger *zap.Logger) (*App, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	a := &App{Config: cfg, Logger: logger, registry: prometheus.NewRegistry()}
	a.registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	a.Metrics = metrics.New(a.registry)

	tp, err := telemetry.InitTracerProvider(ctx, cfg.Telemetry.ServiceName)
	if err != nil {
		return nil, fmt.Errorf("init tracing: %w", err)
	}
	a.tracer = tp

	if err := a.buildStores(ctx); err != nil {
		a.Close()
		return nil, err
	}

	clock := system.New()
	ids := uuid.New()

	a.connectors = registry.New(buildConnectors(cfg, logger, a.Metrics), registry.Options{
		Timeout: time.Duration(cfg.HTTP.CallTimeoutSeconds) * time.Second,
		Logger:  logger,
		Metrics: a.Metrics,
	})
	reconciler := reconcile.New(a.catalog, clock, ids, logger, a.Metrics)
	a.tracking = tracking.New(a.connectors, reconciler, a.catalog, logger)
	a.refresh = refresh.New(a.connectors, reconciler, a.catalog, a.catalog, logger)
	a.alerts = alert.New(a.catalog, clock, ids, logger, a.Metrics)
	a.notifier = notify.NewDispatcher(a.catalog, a.alerts, buildMailer(cfg.Notify, logger), clock, notify.Config{
		Grace:     cfg.Notify.Grace(),
		Intervals: windowIntervals(cfg.Notify),
	}, logger, a.Metrics)

	loc, err := cfg.Scheduler.Location()
	if err != nil {
		a.Close()
		return nil, err
	}
	a.queue = memqueue.NewQueue(cfg.Scheduler.QueueDepth)
	a.scheduler, err = scheduler.New(scheduler.Config{
		Hours:    cfg.Scheduler.Hours,
		Offsets:  cfg.Scheduler.Offsets,
		Location: loc,
	}, a.queue, a.runs, clock, ids, logger, a.Metrics)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("build scheduler: %w", err)
	}

	policy := retry.NewJobPolicy(
		cfg.Scheduler.MaxAttempts,
		time.Duration(cfg.Scheduler.BackoffBaseSeconds)*time.Second,
		time.Duration(cfg.Scheduler.BackoffMaxSeconds)*time.Second,
	)
	ops := logging.Ops(logger)
	runners := make([]dispatcher.Runner, 0, cfg.Scheduler.Workers)
	for i := 0; i < cfg.Scheduler.Workers; i++ {
		w := worker.New(a.queue, a.runs, a.Jobs(), policy, clock, worker.Options{
			Logger:  logger.With(zap.Int("worker", i)),
			Ops:     ops,
			Metrics: a.Metrics,
		})
		a.workers = append(a.workers, w)
		runners = append(runners, w)
	}
	a.dispatcher = dispatcher.New(a.queue, runners)

	a.server = api.NewServer(api.Options{
		Scheduler: a.scheduler,
		Runs:      a.runs,
		Registrar: a.tracking,
		Catalog:   a.reader,
		Ready:     a.Ready,
		Metrics:   a.Metrics,
		Logger:    logger,
		APIKey:    apiKey(cfg.Auth),
		Timeout:   time.Duration(cfg.Server.TimeoutSeconds) * time.Second,
	})
	return a, nil
}

func (a *App) buildStores(ctx context.Context) error {
	switch a.Config.Storage.Backend {
	case "postgres":
		pool, err := postgres.Connect(ctx, postgres.PoolConfig{
			DSN:             a.Config.DB.DSN,
			MaxConns:        a.Config.DB.MaxConns,
			MinConns:        a.Config.DB.MinConns,
			MaxConnLifetime: time.Duration(a.Config.DB.MaxConnLifetimeSeconds) * time.Second,
		})
		if err != nil {
			return err
		}
		a.pool = pool
		cs := postgres.NewCatalogStore(pool)
		a.catalog, a.reader = cs, cs
		a.runs = postgres.NewRunStore(pool)
		a.Logger.Info("using postgres storage")
	default:
		var cs catalogBackend = memory.NewCatalogStore()
		a.catalog, a.reader = cs, cs
		a.runs = memory.NewRunStore()
		a.Logger.Info("using in-memory storage; data is lost on exit")
	}
	return nil
}

func buildConnectors(cfg config.Config, logger *zap.Logger, rec *metrics.Recorder) []connector.Connector {
	limiter := ratelimit.New(ratelimit.Config{DefaultRPS: 1, DefaultBurst: 1, Observer: rec.ObserveRateLimitDelay})
	policy := retry.NewExponentialPolicy(
		cfg.HTTP.MaxRetries+1,
		time.Duration(cfg.HTTP.BackoffInitialMs)*time.Millisecond,
		time.Duration(cfg.HTTP.BackoffMaxMs)*time.Millisecond,
	)
	client := func(site catalog.SiteID, c config.ConnectorCommon) *connector.HTTPClient {
		limiter.Set(string(site), c.RatePerSecond, c.Burst)
		return connector.NewHTTPClient(connector.HTTPClientConfig{
			Site:    site,
			Timeout: c.Timeout(),
			Limiter: limiter,
			Retry:   policy,
			Logger:  logger,
			Metrics: rec,
		})
	}

	var out []connector.Connector
	if c := cfg.Connectors.Amazon; c.Enabled {
		out = append(out, amazon.New(amazon.Config{
			BaseURL:     c.BaseURL,
			AccessKey:   c.AccessKey,
			SecretKey:   c.SecretKey,
			PartnerTag:  c.PartnerTag,
			Region:      c.Region,
			Marketplace: c.Marketplace,
			MaxPages:    c.MaxPages,
		}, client(catalog.SiteAmazon, c.ConnectorCommon), logger))
	}
	if c := cfg.Connectors.Rakuten; c.Enabled {
		out = append(out, rakuten.New(rakuten.Config{
			BaseURL:       c.BaseURL,
			ApplicationID: c.ApplicationID,
			AffiliateID:   c.AffiliateID,
			MaxPages:      c.MaxPages,
		}, client(catalog.SiteRakuten, c.ConnectorCommon), logger))
	}
	if c := cfg.Connectors.Yahoo; c.Enabled {
		out = append(out, yahoo.New(yahoo.Config{
			BaseURL:     c.BaseURL,
			AppID:       c.AppID,
			AffiliateID: c.AffiliateID,
			MaxPages:    c.MaxPages,
		}, client(catalog.SiteYahoo, c.ConnectorCommon), logger))
	}
	if len(out) == 0 {
		logger.Warn("no marketplace connectors enabled")
	}
	return out
}

func buildMailer(cfg config.NotifyConfig, logger *zap.Logger) notify.Mailer {
	if cfg.Sender == "smtp" {
		return notify.NewSMTPMailer(notify.SMTPConfig{
			Host:     cfg.SMTP.Host,
			Port:     cfg.SMTP.Port,
			Username: cfg.SMTP.Username,
			Password: cfg.SMTP.Password,
			From:     cfg.SMTP.From,
			Timeout:  time.Duration(cfg.SMTP.TimeoutSeconds) * time.Second,
		})
	}
	return notify.NewLogMailer(logger)
}

func windowIntervals(cfg config.NotifyConfig) map[catalog.Frequency]time.Duration {
	out := make(map[catalog.Frequency]time.Duration)
	for f, d := range cfg.Intervals() {
		out[catalog.Frequency(f)] = d
	}
	return out
}

func apiKey(cfg config.AuthConfig) string {
	if !cfg.Enabled {
		return ""
	}
	return cfg.APIKey
}

// Jobs maps every scheduled job name to its body.
func (a *App) Jobs() worker.Jobs {
	return worker.Jobs{
		scheduler.JobPriceRefresh: func(ctx context.Context) error {
			_, err := a.refresh.Run(ctx)
			return err
		},
		scheduler.JobAlertEvaluation: func(ctx context.Context) error {
			_, err := a.alerts.Evaluate(ctx)
			return err
		},
		scheduler.JobNotificationDispatch: func(ctx context.Context) error {
			_, err := a.notifier.Run(ctx)
			return err
		},
	}
}

// GetLogger returns the application logger.
func (a *App) GetLogger() *zap.Logger {
	return a.Logger
}

// Addr is the HTTP listen address.
func (a *App) Addr() string {
	return fmt.Sprintf(":%d", a.Config.Server.Port)
}

// Handler returns the operational HTTP handler.
func (a *App) Handler() http.Handler {
	return a.server.Handler()
}

// Ready pings the database when one is configured.
func (a *App) Ready(ctx context.Context) error {
	if a.pool == nil {
		return nil
	}
	if err := a.pool.Ping(ctx); err != nil {
		return fmt.Errorf("ping postgres: %w", err)
	}
	return nil
}

// Migrate applies the schema to the configured database.
func (a *App) Migrate(ctx context.Context) error {
	if a.pool == nil {
		return errors.New("migrate requires storage.backend=postgres")
	}
	return postgres.Migrate(ctx, a.pool)
}

// Start launches the worker pool and, when enabled, the cron schedule.
func (a *App) Start(ctx context.Context) {
	go a.dispatcher.Run(ctx)
	if a.Config.Scheduler.Enabled {
		a.scheduler.Start()
	}
}

// RunJob runs one job synchronously through the retry state machine and
// returns the finished run. It pulls from the shared queue, so it is only
// meant for processes that never call Start.
func (a *App) RunJob(ctx context.Context, job string) (store.Run, error) {
	run, err := a.scheduler.Enqueue(ctx, job, queue.TriggerManual)
	if err != nil {
		return store.Run{}, err
	}
	item, err := a.queue.Dequeue(ctx)
	if err != nil {
		return run, fmt.Errorf("dequeue %s: %w", job, err)
	}
	procErr := a.workers[0].Process(ctx, item)
	finished, err := a.runs.GetRun(ctx, item.RunID)
	if err != nil {
		return run, errors.Join(procErr, err)
	}
	return finished, procErr
}

// Close gracefully shuts down all services in the container.
func (a *App) Close() {
	a.Logger.Info("shutting down application services")
	if a.scheduler != nil {
		<-a.scheduler.Stop().Done()
	}
	if a.queue != nil {
		a.queue.Close()
	}
	if a.tracer != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := a.tracer.Shutdown(ctx); err != nil {
			a.Logger.Warn("tracer shutdown failed", zap.Error(err))
		}
	}
	if a.pool != nil {
		a.pool.Close()
	}
}
