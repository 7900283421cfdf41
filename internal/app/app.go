// Package app builds the price tracker's long-lived services from
// configuration and runs them until shutdown.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	gcsclient "cloud.google.com/go/storage"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/JakeFAU/realtime-price-tracker/internal/api"
	"github.com/JakeFAU/realtime-price-tracker/internal/archive"
	"github.com/JakeFAU/realtime-price-tracker/internal/clock/system"
	"github.com/JakeFAU/realtime-price-tracker/internal/config"
	"github.com/JakeFAU/realtime-price-tracker/internal/dispatcher"
	"github.com/JakeFAU/realtime-price-tracker/internal/drift"
	collyfetcher "github.com/JakeFAU/realtime-price-tracker/internal/fetcher/colly"
	headlessfetcher "github.com/JakeFAU/realtime-price-tracker/internal/fetcher/headless"
	"github.com/JakeFAU/realtime-price-tracker/internal/hash/sha256"
	"github.com/JakeFAU/realtime-price-tracker/internal/headless/detector"
	"github.com/JakeFAU/realtime-price-tracker/internal/id/uuid"
	"github.com/JakeFAU/realtime-price-tracker/internal/lock"
	locallock "github.com/JakeFAU/realtime-price-tracker/internal/lock/local"
	redislock "github.com/JakeFAU/realtime-price-tracker/internal/lock/redis"
	"github.com/JakeFAU/realtime-price-tracker/internal/notify"
	"github.com/JakeFAU/realtime-price-tracker/internal/notify/email"
	"github.com/JakeFAU/realtime-price-tracker/internal/notify/push"
	"github.com/JakeFAU/realtime-price-tracker/internal/notify/sms"
	"github.com/JakeFAU/realtime-price-tracker/internal/notify/telegram"
	"github.com/JakeFAU/realtime-price-tracker/internal/platform"
	"github.com/JakeFAU/realtime-price-tracker/internal/policy/ratelimit"
	"github.com/JakeFAU/realtime-price-tracker/internal/progress"
	progresssinks "github.com/JakeFAU/realtime-price-tracker/internal/progress/sinks"
	queuememory "github.com/JakeFAU/realtime-price-tracker/internal/queue/memory"
	"github.com/JakeFAU/realtime-price-tracker/internal/retrain"
	retrainkafka "github.com/JakeFAU/realtime-price-tracker/internal/retrain/kafka"
	retrainpubsub "github.com/JakeFAU/realtime-price-tracker/internal/retrain/pubsub"
	"github.com/JakeFAU/realtime-price-tracker/internal/scheduler"
	"github.com/JakeFAU/realtime-price-tracker/internal/storage/clickhouse"
	gcsstorage "github.com/JakeFAU/realtime-price-tracker/internal/storage/gcs"
	localstorage "github.com/JakeFAU/realtime-price-tracker/internal/storage/local"
	memorystorage "github.com/JakeFAU/realtime-price-tracker/internal/storage/memory"
	pgstore "github.com/JakeFAU/realtime-price-tracker/internal/storage/postgres"
	sqlitestore "github.com/JakeFAU/realtime-price-tracker/internal/storage/sqlite"
	"github.com/JakeFAU/realtime-price-tracker/internal/tracker"
	"github.com/JakeFAU/realtime-price-tracker/internal/worker"
)

// Options overrides process-global collaborators, mainly for tests.
type Options struct {
	// Registerer receives the progress metrics; nil uses the default registry.
	Registerer prometheus.Registerer
	// Store replaces the configured storage backend.
	Store tracker.Store
	Clock tracker.Clock
}

type closer struct {
	name string
	fn   func(ctx context.Context) error
}

// App contains the application's dependencies.
type App struct {
	cfg    config.Config
	logger *zap.Logger
	clock  tracker.Clock

	store     tracker.Store
	queue     *queuememory.Queue
	worker    *worker.Worker
	dispatch  *dispatcher.Dispatcher
	scheduler *scheduler.Scheduler
	hub       *progress.Hub
	apiServer *api.Server
	channels  []tracker.Channel

	// closers run in reverse registration order.
	closers []closer
}

// Build creates the application's dependencies. On error everything built
// so far is released.
func Build(ctx context.Context, cfg config.Config, logger *zap.Logger, opts Options) (_ *App, err error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	clock := opts.Clock
	if clock == nil {
		clock = system.New()
	}
	a := &App{cfg: cfg, logger: logger, clock: clock}
	defer func() {
		if err != nil {
			_ = a.Close(context.WithoutCancel(ctx))
		}
	}()

	logger.Info("building application dependencies",
		zap.Int("port", cfg.Server.Port),
		zap.String("storage", cfg.Storage.Backend),
		zap.String("retrain", cfg.Retrain.Backend),
		zap.String("headless", cfg.Headless.Mode),
	)

	if opts.Store != nil {
		a.store = opts.Store
	} else if err := a.setupStore(ctx); err != nil {
		return nil, err
	}

	pageArchive, err := a.setupArchive(ctx)
	if err != nil {
		return nil, err
	}

	retrainer, err := a.setupRetrain(ctx)
	if err != nil {
		return nil, err
	}

	router, err := a.setupNotify()
	if err != nil {
		return nil, err
	}

	stream, err := a.setupProgress(ctx, opts.Registerer)
	if err != nil {
		return nil, err
	}

	resolver, err := a.setupResolver(pageArchive)
	if err != nil {
		return nil, err
	}

	a.worker, err = worker.New(worker.Deps{
		Store:     a.store,
		Resolver:  resolver,
		Analyzer:  drift.New(cfg.Analysis.Window, cfg.Analysis.DriftThreshold),
		Notifier:  router,
		Retrainer: retrainer,
		Events:    a.hub,
		Clock:     clock,
	}, worker.Config{RetrainTimeout: cfg.Analysis.RetrainTimeout}, logger.Named("worker"))
	if err != nil {
		return nil, fmt.Errorf("worker init failed: %w", err)
	}

	a.queue = queuememory.NewQueue(cfg.Dispatcher.QueueSize)
	a.dispatch, err = dispatcher.New(dispatcher.Deps{
		Queue:     a.queue,
		Processor: a.worker,
		Products:  a.store,
		Retrainer: retrainer,
		IDs:       uuid.New(),
		Clock:     clock,
		Events:    a.hub,
	}, dispatcher.Config{
		Workers: cfg.Dispatcher.Workers,
		Retry: tracker.RetryPolicy{
			MaxAttempts: cfg.Dispatcher.MaxAttempts,
			BaseDelay:   cfg.Dispatcher.RetryBackoff,
			Multiplier:  cfg.Dispatcher.BackoffMultiplier,
			MaxDelay:    cfg.Dispatcher.MaxBackoff,
		},
		SoftTimeout:    cfg.Dispatcher.SoftTimeout,
		HardTimeout:    cfg.Dispatcher.HardTimeout,
		ReleaseGrace:   cfg.Dispatcher.ReleaseGrace,
		RetrainTimeout: cfg.Retrain.Timeout,
	}, logger.Named("dispatcher"))
	if err != nil {
		return nil, fmt.Errorf("dispatcher init failed: %w", err)
	}

	if cfg.Scheduler.Enabled {
		if err := a.setupScheduler(ctx); err != nil {
			return nil, err
		}
	}

	apiOpts := api.Options{
		Products:      a.store,
		Ready:         a.ready,
		RetryAfter:    cfg.Dispatcher.RetryBackoff,
		HistoryWindow: cfg.Analysis.Window,
		Clock:         clock,
	}
	if cfg.Server.Auth.Enabled {
		apiOpts.APIKey = cfg.Server.Auth.APIKey
	}
	if stream != nil {
		apiOpts.Events = stream
	}
	a.apiServer = api.NewServer(a.dispatch, apiOpts, logger.Named("api"))

	logger.Info("application dependencies built", zap.Any("notify_channels", a.channels))
	return a, nil
}

func (a *App) onClose(name string, fn func(ctx context.Context) error) {
	a.closers = append(a.closers, closer{name: name, fn: fn})
}

type migrator interface {
	Migrate(ctx context.Context) error
}

type pinger interface {
	Ping(ctx context.Context) error
}

func (a *App) setupStore(ctx context.Context) error {
	switch a.cfg.Storage.Backend {
	case "postgres":
		pg := a.cfg.Storage.Postgres
		s, err := pgstore.New(ctx, pgstore.Config{
			DSN:             pg.DSN,
			MaxConns:        pg.MaxConns,
			MinConns:        pg.MinConns,
			MaxConnLifetime: pg.MaxConnLifetime,
		})
		if err != nil {
			return fmt.Errorf("postgres store init failed: %w", err)
		}
		a.store = s
		a.onClose("postgres", func(context.Context) error { return s.Close() })
	case "sqlite":
		s, err := sqlitestore.Open(ctx, a.cfg.Storage.SQLite.Path)
		if err != nil {
			return fmt.Errorf("sqlite store init failed: %w", err)
		}
		a.store = s
		a.onClose("sqlite", func(context.Context) error { return s.Close() })
	default:
		a.logger.Warn("using in-memory product store; data is lost on restart")
		a.store = memorystorage.NewStore()
	}
	if a.cfg.Storage.Migrate {
		if err := a.Migrate(ctx); err != nil {
			return err
		}
	}
	a.logger.Info("product store initialized", zap.String("backend", a.cfg.Storage.Backend))
	return nil
}

// Migrate applies the store's schema when the backend has one.
func (a *App) Migrate(ctx context.Context) error {
	m, ok := a.store.(migrator)
	if !ok {
		a.logger.Debug("store has no migrations", zap.String("backend", a.cfg.Storage.Backend))
		return nil
	}
	if err := m.Migrate(ctx); err != nil {
		return fmt.Errorf("migrate store: %w", err)
	}
	a.logger.Info("store migrations applied", zap.String("backend", a.cfg.Storage.Backend))
	return nil
}

func (a *App) setupArchive(ctx context.Context) (*archive.Archive, error) {
	var blobs tracker.BlobStore
	switch a.cfg.Archive.Backend {
	case "gcs":
		client, err := gcsclient.NewClient(ctx)
		if err != nil {
			return nil, fmt.Errorf("gcs client init failed: %w", err)
		}
		a.onClose("gcs", func(context.Context) error { return client.Close() })
		blobs, err = gcsstorage.New(client, gcsstorage.Config{Bucket: a.cfg.Archive.Bucket})
		if err != nil {
			return nil, fmt.Errorf("gcs blob store init failed: %w", err)
		}
	case "local":
		var err error
		blobs, err = localstorage.New(localstorage.Config{BaseDir: a.cfg.Archive.Dir})
		if err != nil {
			return nil, fmt.Errorf("local blob store init failed: %w", err)
		}
	default:
		a.logger.Info("page archive disabled")
		return nil, nil
	}
	arch, err := archive.New(blobs, sha256.New(), a.clock, a.cfg.Archive.Prefix)
	if err != nil {
		return nil, fmt.Errorf("page archive init failed: %w", err)
	}
	a.logger.Info("page archive initialized", zap.String("backend", a.cfg.Archive.Backend))
	return arch, nil
}

func (a *App) setupRetrain(ctx context.Context) (*retrain.Trigger, error) {
	rc := a.cfg.Retrain
	var pub retrain.Publisher
	switch rc.Backend {
	case "pubsub":
		p, err := retrainpubsub.Dial(ctx, rc.ProjectID, rc.Topic)
		if err != nil {
			return nil, fmt.Errorf("pubsub retrain publisher init failed: %w", err)
		}
		a.onClose("pubsub", func(context.Context) error { return p.Close() })
		pub = p
	case "kafka":
		p, err := retrainkafka.New(rc.Brokers, rc.Topic)
		if err != nil {
			return nil, fmt.Errorf("kafka retrain publisher init failed: %w", err)
		}
		a.onClose("kafka", func(context.Context) error { return p.Close() })
		pub = p
	default:
		pub = &retrain.LogPublisher{Logger: a.logger.Named("retrain")}
	}
	a.logger.Info("retrain publisher initialized", zap.String("backend", rc.Backend), zap.String("topic", rc.Topic))
	return retrain.NewTrigger(pub, a.logger.Named("retrain"))
}

func (a *App) setupNotify() (*notify.Router, error) {
	nc := a.cfg.Notify
	router := notify.NewRouter(a.logger.Named("notify"))
	if nc.Email.Host != "" {
		n, err := email.New(email.Config{
			Host:     nc.Email.Host,
			Port:     nc.Email.Port,
			Username: nc.Email.Username,
			Password: nc.Email.Password,
			Sender:   nc.Email.Sender,
			Timeout:  nc.Email.Timeout,
		})
		if err != nil {
			return nil, fmt.Errorf("email notifier init failed: %w", err)
		}
		router.Register(tracker.ChannelEmail, n)
	}
	if nc.SMS.Endpoint != "" {
		n, err := sms.New(sms.Config{
			Endpoint: nc.SMS.Endpoint,
			APIKey:   nc.SMS.APIKey,
			From:     nc.SMS.From,
			Timeout:  nc.SMS.Timeout,
		})
		if err != nil {
			return nil, fmt.Errorf("sms notifier init failed: %w", err)
		}
		router.Register(tracker.ChannelSMS, n)
	}
	switch {
	case nc.Push.Backend == "telegram" && nc.Push.TelegramToken != "":
		n, err := telegram.New(nc.Push.TelegramToken, nc.Push.Timeout)
		if err != nil {
			return nil, fmt.Errorf("telegram notifier init failed: %w", err)
		}
		router.Register(tracker.ChannelPush, n)
	case nc.Push.Backend == "webhook" && nc.Push.Endpoint != "":
		n, err := push.New(push.Config{
			Endpoint: nc.Push.Endpoint,
			Token:    nc.Push.Token,
			Timeout:  nc.Push.Timeout,
		})
		if err != nil {
			return nil, fmt.Errorf("push notifier init failed: %w", err)
		}
		router.Register(tracker.ChannelPush, n)
	}
	a.channels = router.Channels()
	if len(a.channels) == 0 {
		a.logger.Warn("no notification channels configured; alerts will be logged as undeliverable")
	}
	return router, nil
}

// setupProgress builds the event hub. The returned stream sink is nil when
// the websocket endpoint is disabled.
func (a *App) setupProgress(ctx context.Context, reg prometheus.Registerer) (*progresssinks.StreamSink, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	promSink, err := progresssinks.NewPrometheusSink(reg)
	if err != nil {
		return nil, fmt.Errorf("prometheus progress sink init failed: %w", err)
	}
	sinkList := []progress.Sink{
		progresssinks.NewLogSink(a.logger.Named("progress_log")),
		promSink,
	}

	var stream *progresssinks.StreamSink
	if a.cfg.Events.WebSocket {
		stream = progresssinks.NewStreamSink(progresssinks.StreamConfig{
			ClientBuffer: a.cfg.Events.StreamBuffer,
			WriteTimeout: a.cfg.Events.StreamWriteTTL,
			Logger:       a.logger.Named("progress_stream"),
		})
		sinkList = append(sinkList, stream)
	}

	if ch := a.cfg.Analytics.ClickHouse; ch.DSN != "" {
		conn, err := clickhouse.Dial(ctx, ch.DSN)
		if err != nil {
			return nil, fmt.Errorf("clickhouse connect failed: %w", err)
		}
		sink, err := clickhouse.NewSink(conn, ch.Table)
		if err != nil {
			_ = conn.Close()
			return nil, fmt.Errorf("clickhouse sink init failed: %w", err)
		}
		if err := sink.EnsureTable(ctx); err != nil {
			_ = conn.Close()
			return nil, fmt.Errorf("clickhouse table init failed: %w", err)
		}
		sinkList = append(sinkList, sink)
		a.logger.Info("analytics mirror enabled", zap.String("table", ch.Table))
	}

	hubCfg := progress.Config{
		BufferSize:     a.cfg.Events.Buffer,
		MaxBatchEvents: a.cfg.Events.Batch,
		MaxBatchWait:   a.cfg.Events.BatchWait,
		BaseContext:    context.WithoutCancel(ctx),
		Logger:         a.logger.Named("progress_hub"),
	}
	a.hub = progress.NewHub(hubCfg, sinkList...)
	a.onClose("progress hub", a.hub.Close)
	a.logger.Info("progress hub initialized",
		zap.Int("sinks", len(sinkList)),
		zap.Int("buffer_size", hubCfg.BufferSize),
		zap.Int("max_batch_events", hubCfg.MaxBatchEvents),
		zap.Duration("max_batch_wait", hubCfg.MaxBatchWait),
	)
	return stream, nil
}

func (a *App) setupResolver(pageArchive *archive.Archive) (*platform.Resolver, error) {
	sc := a.cfg.Scraper
	fetcher := collyfetcher.New(collyfetcher.Config{
		UserAgent:   sc.UserAgent,
		Timeout:     sc.RequestTimeout,
		MaxBodySize: sc.MaxBodyBytes,
	})
	a.onClose("colly fetcher", func(context.Context) error { fetcher.Close(); return nil })

	overrides := make(map[string]ratelimit.HostLimit, len(sc.PerHostOverrides))
	for _, o := range sc.PerHostOverrides {
		overrides[o.Host] = ratelimit.HostLimit{RPS: o.RPS, Burst: o.Burst}
	}
	limiter := ratelimit.New(ratelimit.Config{
		DefaultRPS:   sc.PerHostRPS,
		DefaultBurst: sc.PerHostBurst,
		Overrides:    overrides,
	})

	headers := platform.DefaultHeaders()
	if sc.AcceptLanguage != "" {
		headers.Set("Accept-Language", sc.AcceptLanguage)
	}

	settings := platform.Settings{
		Headless: platform.HeadlessMode(a.cfg.Headless.Mode),
		Proxy:    sc.Proxy,
		Headers:  headers,
		Fetcher:  fetcher,
		Promoter: detector.NewHeuristic(a.cfg.Headless.PromotionThreshold),
		Limiter:  limiter,
		Clock:    a.clock,
		Logger:   a.logger.Named("platform"),
	}
	if pageArchive != nil {
		settings.Archive = pageArchive
	}
	if settings.Headless != platform.HeadlessOff {
		hf, err := headlessfetcher.NewChromedp(headlessfetcher.Config{
			MaxParallel:       a.cfg.Headless.MaxParallel,
			UserAgent:         sc.UserAgent,
			NavigationTimeout: a.cfg.Headless.NavigationTimeout,
			SettleDelay:       a.cfg.Headless.SettleDelay,
		})
		if err != nil {
			a.logger.Warn("headless fetcher init failed; rendering disabled", zap.Error(err))
			settings.Headless = platform.HeadlessOff
		} else {
			settings.HeadlessFetcher = hf
			a.onClose("headless fetcher", func(context.Context) error { hf.Close(); return nil })
		}
	}
	resolver, err := platform.NewResolver(settings, platform.Builtin()...)
	if err != nil {
		return nil, fmt.Errorf("platform resolver init failed: %w", err)
	}
	return resolver, nil
}

func (a *App) setupScheduler(ctx context.Context) error {
	var locker lock.Locker
	switch a.cfg.Scheduler.Lock {
	case "redis":
		owner, _ := os.Hostname()
		rl, err := redislock.Dial(ctx, a.cfg.Redis.Addr, a.cfg.Redis.Password, a.cfg.Redis.DB, owner)
		if err != nil {
			return fmt.Errorf("redis lock init failed: %w", err)
		}
		a.onClose("redis", func(context.Context) error { return rl.Close() })
		locker = rl
	default:
		locker = locallock.New(a.clock)
	}
	sc := a.cfg.Scheduler
	var err error
	a.scheduler, err = scheduler.New(scheduler.Config{
		SweepInterval:   sc.SweepInterval,
		SweepOffset:     sc.SweepOffset,
		RetrainInterval: sc.RetrainInterval,
		RetrainOffset:   sc.RetrainOffset,
		RunOnStart:      sc.RunOnStart,
	}, a.dispatch, locker, a.clock, a.logger.Named("scheduler"))
	if err != nil {
		return fmt.Errorf("scheduler init failed: %w", err)
	}
	a.logger.Info("scheduler configured",
		zap.Duration("sweep_interval", sc.SweepInterval),
		zap.Duration("retrain_interval", sc.RetrainInterval),
		zap.Duration("retrain_offset", sc.RetrainOffset),
		zap.String("lock", sc.Lock),
	)
	return nil
}

func (a *App) ready(ctx context.Context) error {
	if p, ok := a.store.(pinger); ok {
		if err := p.Ping(ctx); err != nil {
			return fmt.Errorf("store: %w", err)
		}
	}
	return nil
}

// Handler exposes the HTTP surface.
func (a *App) Handler() http.Handler {
	return a.apiServer.Handler()
}

// Dispatcher exposes the inbound triggers.
func (a *App) Dispatcher() *dispatcher.Dispatcher {
	return a.dispatch
}

// Run serves HTTP, drains the queue and fires the scheduler until ctx is
// canceled or the process receives SIGINT/SIGTERM.
func (a *App) Run(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// The pool outlives ctx so in-flight checks can finish during shutdown.
	poolCtx, cancelPool := context.WithCancel(context.WithoutCancel(ctx))
	defer cancelPool()

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		a.dispatch.Run(poolCtx)
	}()
	if a.scheduler != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			a.scheduler.Run(ctx)
		}()
	}

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", a.cfg.Server.Port),
		Handler:           a.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	serveErr := make(chan error, 1)
	go func() {
		a.logger.Info("http server started", zap.Int("port", a.cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
			stop()
		}
	}()

	<-ctx.Done()
	a.logger.Info("shutdown initiated")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), a.cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.logger.Error("server shutdown error", zap.Error(err))
	}

	// Closing the queue stops new work; queued requests are dropped and
	// picked up again by the next sweep.
	a.queue.Close()
	drained := make(chan struct{})
	go func() {
		wg.Wait()
		close(drained)
	}()
	select {
	case <-drained:
	case <-shutdownCtx.Done():
		a.logger.Warn("in-flight checks did not finish before the shutdown deadline",
			zap.Int64("in_flight", a.dispatch.InFlight()))
		cancelPool()
		<-drained
	}

	closeErr := a.Close(shutdownCtx)
	select {
	case err := <-serveErr:
		return fmt.Errorf("http server: %w", err)
	default:
		return closeErr
	}
}

// CheckNow runs one check in the foreground, bypassing the queue and retry
// policy.
func (a *App) CheckNow(ctx context.Context, productID int64) (worker.Result, error) {
	id, err := uuid.New().NewID()
	if err != nil {
		return worker.Result{}, err
	}
	return a.worker.Process(ctx, tracker.CheckRequest{
		ID:          id,
		ProductID:   productID,
		RequestedAt: a.clock.Now(),
		Cause:       tracker.CauseManual,
	})
}

// Close releases everything Build acquired, newest first.
func (a *App) Close(ctx context.Context) error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		c := a.closers[i]
		if err := c.fn(ctx); err != nil {
			a.logger.Warn("close failed", zap.String("component", c.name), zap.Error(err))
			errs = append(errs, fmt.Errorf("close %s: %w", c.name, err))
		}
	}
	a.closers = nil
	if err := a.logger.Sync(); err != nil {
		a.logger.Debug("logger sync failed", zap.Error(err))
	}
	a.logger.Info("shutdown complete")
	return errors.Join(errs...)
}
