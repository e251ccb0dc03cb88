// Package app wires the stylequeue components together and runs the
// background workers alongside the HTTP API.
package app

import (
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/zulandar/stylequeue/internal/api"
	"github.com/zulandar/stylequeue/internal/config"
	"github.com/zulandar/stylequeue/internal/conversation"
	"github.com/zulandar/stylequeue/internal/db"
	"github.com/zulandar/stylequeue/internal/draft"
	"github.com/zulandar/stylequeue/internal/escalation"
	"github.com/zulandar/stylequeue/internal/events"
	"github.com/zulandar/stylequeue/internal/health"
	"github.com/zulandar/stylequeue/internal/metrics"
	"github.com/zulandar/stylequeue/internal/models"
	"github.com/zulandar/stylequeue/internal/notify"
	"github.com/zulandar/stylequeue/internal/profile"
	"github.com/zulandar/stylequeue/internal/queue"
	"github.com/zulandar/stylequeue/internal/transport"
	"gorm.io/gorm"
)

// App holds every wired component.
type App struct {
	Config    *config.Config
	Logger    zerolog.Logger
	DB        *gorm.DB
	Store     *conversation.Store
	Bus       *events.Bus
	Queue     *queue.Manager
	Drafts    *draft.Builder
	Metrics   *metrics.Aggregator
	Monitor   *escalation.Monitor
	Notifier  *notify.Notifier
	Health    *health.Checker
	Profiles  *profile.Store
	Transport *transport.Idempotent
	API       *api.Server

	ownsDB bool
}

// Option customizes New.
type Option func(*options)

type options struct {
	db        *gorm.DB
	transport transport.Transport
	sinks     []notify.Sink
	sinksSet  bool
	now       func() time.Time
	version   string
}

// WithDB uses an already open database instead of connecting from config.
// The caller keeps ownership of it.
func WithDB(gdb *gorm.DB) Option {
	return func(o *options) { o.db = gdb }
}

// WithTransport replaces the configured email transport.
func WithTransport(t transport.Transport) Option {
	return func(o *options) { o.transport = t }
}

// WithNotifySinks replaces the configured alert destinations.
func WithNotifySinks(sinks ...notify.Sink) Option {
	return func(o *options) {
		o.sinks = sinks
		o.sinksSet = true
	}
}

// WithClock injects the time source used by the store and monitor.
func WithClock(now func() time.Time) Option {
	return func(o *options) { o.now = now }
}

// WithVersion sets the version reported by the API.
func WithVersion(v string) Option {
	return func(o *options) { o.version = v }
}

// New connects to the database, migrates it, builds every component and
// rebuilds the queue index from the store.
func New(ctx context.Context, cfg *config.Config, logger zerolog.Logger, opts ...Option) (*App, error) {
	var o options
	for _, fn := range opts {
		fn(&o)
	}

	a := &App{Config: cfg, Logger: logger, DB: o.db}
	if a.DB == nil {
		gdb, err := db.Connect(cfg.Database)
		if err != nil {
			return nil, err
		}
		a.DB = gdb
		a.ownsDB = true
	}
	if err := db.AutoMigrate(a.DB); err != nil {
		a.Close()
		return nil, err
	}

	var storeOpts []conversation.Option
	if o.now != nil {
		storeOpts = append(storeOpts, conversation.WithClock(o.now))
	}
	a.Store = conversation.NewStore(a.DB, storeOpts...)
	a.Bus = events.NewBus(
		events.WithHistory(cfg.Events.History),
		events.WithClock(a.Store.Now),
		events.WithLogger(logger),
	)
	a.Profiles = profile.NewStore(a.DB)

	a.Queue = queue.NewManager(queue.Options{
		Store:          a.Store,
		Bus:            a.Bus,
		Profiles:       a.Profiles,
		Logger:         logger,
		OnTimeout:      queue.TimeoutPolicy(cfg.Escalation.OnTimeout),
		AutoRetriage:   cfg.Escalation.Retriage(),
		ProfileTimeout: cfg.Profile.Timeout,
	})
	if err := a.Queue.Rebuild(ctx); err != nil {
		a.Close()
		return nil, err
	}

	next := o.transport
	if next == nil {
		t, err := newTransport(cfg.Transport, logger)
		if err != nil {
			a.Close()
			return nil, err
		}
		next = t
	}
	a.Transport = transport.NewIdempotent(a.DB, next, cfg.Transport.Driver)
	a.Drafts = draft.NewBuilder(draft.Options{
		Store:     a.Store,
		Transport: a.Transport,
		Bus:       a.Bus,
		Logger:    logger,
	})

	agg, err := metrics.NewAggregator(cfg.Metrics.Window, cfg.Metrics.DedupeSize, logger)
	if err != nil {
		a.Close()
		return nil, err
	}
	a.Metrics = agg

	a.Monitor = escalation.NewMonitor(a.Queue, escalation.Config{
		Thresholds:   thresholds(cfg.Escalation.Thresholds),
		ClaimTimeout: cfg.Escalation.ClaimTimeout,
		Interval:     cfg.Escalation.Interval,
		Schedule:     cfg.Escalation.Schedule,
		Now:          a.Store.Now,
	}, logger)

	sinks := o.sinks
	if !o.sinksSet {
		if sinks, err = notify.FromConfig(cfg.Notify); err != nil {
			a.Close()
			return nil, err
		}
	}
	a.Notifier = notify.New(logger, sinks...)

	if sqlDB, err := a.DB.DB(); err == nil {
		a.Health = health.NewChecker(sqlDB)
	} else {
		a.Health = health.NewChecker(nil)
	}

	a.API, err = api.NewServer(api.Options{
		Store:            a.Store,
		Queue:            a.Queue,
		Drafts:           a.Drafts,
		Metrics:          a.Metrics,
		Bus:              a.Bus,
		Health:           a.Health,
		Logger:           logger,
		Version:          o.version,
		OperationTimeout: cfg.Server.OperationTimeout,
	})
	if err != nil {
		a.Close()
		return nil, err
	}
	return a, nil
}

func newTransport(cfg config.TransportConfig, logger zerolog.Logger) (transport.Transport, error) {
	switch cfg.Driver {
	case "", "log":
		return transport.NewLog(logger), nil
	case "sendgrid":
		return transport.NewSendGrid(cfg.SendGridAPIKey, cfg.FromEmail, cfg.FromName), nil
	default:
		return nil, fmt.Errorf("app: unknown transport driver %q", cfg.Driver)
	}
}

func thresholds(in map[string]time.Duration) map[models.Priority]time.Duration {
	out := make(map[models.Priority]time.Duration, len(in))
	for k, v := range in {
		out[models.Priority(k)] = v
	}
	return out
}

// StartWorkers launches the metrics fold, the notifier and the escalation
// monitor. They stop when ctx is done; the returned wait blocks until they have.
func (a *App) StartWorkers(ctx context.Context) (wait func()) {
	var wg sync.WaitGroup

	metricsSub := a.Bus.Subscribe(ctx, events.Filter{})
	wg.Add(1)
	go func() {
		defer wg.Done()
		a.Metrics.Run(ctx, metricsSub)
	}()

	if a.Notifier.Enabled() {
		notifySub := a.Bus.Subscribe(ctx, events.Filter{Types: []events.Type{events.TypeConversationUpdated}})
		wg.Add(1)
		go func() {
			defer wg.Done()
			a.Notifier.Run(ctx, notifySub)
		}()
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := a.Monitor.Run(ctx); err != nil {
			a.Logger.Error().Err(err).Msg("escalation monitor stopped")
		}
	}()

	return wg.Wait
}

// Serve runs the workers and the HTTP API until ctx is cancelled.
func (a *App) Serve(ctx context.Context, out io.Writer) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	wait := a.StartWorkers(ctx)
	a.Logger.Info().
		Int("port", a.Config.Server.Port).
		Int("pending", a.Queue.Len()).
		Bool("notify", a.Notifier.Enabled()).
		Msg("stylequeue starting")

	err := a.API.Start(ctx, a.Config.Server.Port, out)
	cancel()
	wait()
	return err
}

// Close releases the event bus and, when New opened it, the database.
func (a *App) Close() error {
	if a.Bus != nil {
		a.Bus.Close()
	}
	if a.ownsDB && a.DB != nil {
		return db.Close(a.DB)
	}
	return nil
}
