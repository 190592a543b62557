package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"agora/internal/api"
	"agora/internal/archive"
	"agora/internal/config"
	"agora/internal/database"
	"agora/internal/debate"
	"agora/internal/hub"
	"agora/internal/identity"
	"agora/internal/metrics"
	"agora/internal/moderation"
	"agora/internal/notify"
	"agora/internal/proposal"
	"agora/internal/ratelimit"
	"agora/internal/scheduler"
	"agora/internal/session"
	"agora/internal/websocket"
	pkgdatabase "agora/pkg/database"
)

// Application coordinates all system components
// Clean dependency injection pattern with proper initialization order
type Application struct {
	config     *config.Config
	logger     *slog.Logger
	dbManager  *database.Manager
	archive    archive.Store
	scheduler  *scheduler.TimerScheduler
	registry   *session.Registry
	pipeline   *proposal.Pipeline
	service    *debate.Service
	wsRegistry *websocket.Registry
	wsHandler  *websocket.Handler
	messageHub *hub.Hub
	limiter    *ratelimit.Limiter
	apiServer  *api.Server
	httpServer *http.Server

	mu       sync.Mutex
	listener net.Listener
	stop     chan struct{}
	wg       sync.WaitGroup
}

// NewApplication creates a new application instance with all components initialized
// Component initialization follows strict dependency order:
// Database → Archive → Moderation → Sessions → Proposals → Hub → API → HTTP
func NewApplication(cfg *config.Config, logger *slog.Logger) (*Application, error) {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	if logger == nil {
		logger = slog.Default()
	}

	// Validate configuration before component initialization
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	// STEP 1: Initialize database manager (foundation layer)
	if dir := filepath.Dir(cfg.Database.DatabasePath); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}
	dbManager, err := database.NewManager(&cfg.Database, database.WithLogger(logger))
	if err != nil {
		return nil, fmt.Errorf("failed to initialize database manager: %w", err)
	}

	// STEP 1.5: Apply database migrations to ensure schema is up to date
	migrationManager := pkgdatabase.NewMigrationManager(dbManager.GetDB(), cfg.Database.MigrationsPath)
	if err := migrationManager.ApplyMigrations(); err != nil {
		_ = dbManager.Close()
		return nil, fmt.Errorf("failed to apply database migrations: %w", err)
	}
	if err := pkgdatabase.NewSchemaValidator(dbManager.GetDB()).Validate(); err != nil {
		_ = dbManager.Close()
		return nil, fmt.Errorf("database schema invalid: %w", err)
	}
	logger.Info("database migrations applied", "path", cfg.Database.DatabasePath)

	// STEP 2: Archive for concluded sessions evicted from memory
	store, err := newArchive(cfg.Archive)
	if err != nil {
		_ = dbManager.Close()
		return nil, fmt.Errorf("failed to initialize archive: %w", err)
	}

	// STEP 3: Metrics registry with runtime collectors
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m := metrics.New(reg)

	// STEP 4: Moderation, WebSocket fan-out and session ownership
	sched := scheduler.NewTimerScheduler(logger)
	engine := moderation.NewEngine(moderation.Config{
		Denylist:     cfg.Moderation.Denylist,
		Triggers:     cfg.Moderation.Triggers,
		WarningLimit: cfg.Moderation.WarningLimit,
	}, moderation.WithMetrics(m), moderation.WithLogger(logger))

	wsRegistry := websocket.NewRegistry(logger)
	messageHub := hub.NewHub(wsRegistry, m, logger)
	notifier := notify.NewMulti(logger, notify.NewLogNotifier(logger), messageHub)

	registry := session.NewRegistry(sched, engine,
		session.WithStore(dbManager),
		session.WithArchive(store, cfg.Archive.Retention),
		session.WithListener(messageHub),
		session.WithMetrics(m),
		session.WithLogger(logger),
		session.WithQuorum(cfg.Moderation.Quorum),
		session.WithDelays(session.Delays{
			JoinNotice: cfg.Timing.JoinNoticeDelay,
			Summary:    cfg.Timing.SummaryDelay,
		}),
	)
	pipeline := proposal.NewPipeline(registry, sched,
		proposal.WithStore(dbManager),
		proposal.WithNotifier(notifier),
		proposal.WithMetrics(m),
		proposal.WithLogger(logger),
		proposal.WithDelays(cfg.Timing.ApprovalDelay, cfg.Timing.WelcomeDelay),
	)

	// STEP 5: Restore persisted state before serving
	ctx := context.Background()
	if err := registry.Load(ctx); err != nil {
		sched.Stop()
		_ = registry.Close(ctx)
		_ = pipeline.Close(ctx)
		_ = store.Close()
		_ = dbManager.Close()
		return nil, fmt.Errorf("failed to load sessions: %w", err)
	}
	if err := pipeline.Load(ctx); err != nil {
		sched.Stop()
		_ = registry.Close(ctx)
		_ = pipeline.Close(ctx)
		_ = store.Close()
		_ = dbManager.Close()
		return nil, fmt.Errorf("failed to load proposals: %w", err)
	}

	service := debate.NewService(debate.Config{
		Identity:      identity.ContextProvider{},
		Pipeline:      pipeline,
		Registry:      registry,
		Engine:        engine,
		Notifier:      notifier,
		Metrics:       m,
		Logger:        logger,
		AdvisoryDelay: cfg.Timing.AdvisoryDelay,
	})

	// STEP 6: WebSocket handler and API server
	limiter := ratelimit.New(cfg.WebSocket.RateLimit, cfg.WebSocket.RateWindow)
	wsHandler := websocket.NewHandler(wsRegistry, service, limiter, websocket.HandlerConfig{
		PingInterval:   cfg.WebSocket.PingInterval,
		ReadTimeout:    cfg.WebSocket.ReadTimeout,
		MaxFrameBytes:  cfg.WebSocket.MaxFrameBytes,
		AllowedOrigins: cfg.HTTP.AllowedOrigins,
	}, logger)

	apiCfg := api.Config{
		Debates:        service,
		Database:       dbManager,
		Connections:    wsRegistry,
		Sessions:       registry,
		Limiter:        limiter,
		WebSocket:      wsHandler,
		AllowedOrigins: cfg.HTTP.AllowedOrigins,
		Logger:         logger,
	}
	if cfg.Metrics.Enabled {
		apiCfg.Metrics = promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg})
		apiCfg.MetricsPath = cfg.Metrics.Path
	}
	apiServer := api.NewServer(apiCfg)

	// STEP 7: Setup HTTP server
	httpServer := &http.Server{
		Addr:         cfg.Addr(),
		Handler:      apiServer,
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
	}

	return &Application{
		config:     cfg,
		logger:     logger.With("component", "app"),
		dbManager:  dbManager,
		archive:    store,
		scheduler:  sched,
		registry:   registry,
		pipeline:   pipeline,
		service:    service,
		wsRegistry: wsRegistry,
		wsHandler:  wsHandler,
		messageHub: messageHub,
		limiter:    limiter,
		apiServer:  apiServer,
		httpServer: httpServer,
		stop:       make(chan struct{}),
	}, nil
}

func newArchive(cfg config.ArchiveConfig) (archive.Store, error) {
	storeType := archive.StoreType(cfg.Type)
	if storeType != archive.StoreTypeRedis {
		return archive.NewStore(storeType)
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping %s: %w", cfg.RedisAddr, err)
	}
	return archive.NewStore(archive.StoreTypeRedis,
		archive.WithRedisClient(client),
		archive.WithRedisTTL(cfg.RedisTTL),
	)
}

// Start begins application execution
// Startup coordination ensures all components ready before serving
// Hub starts first to handle messages, then HTTP server accepts connections
func (app *Application) Start(ctx context.Context) error {
	// STEP 1: Start message hub (background message processing)
	if err := app.messageHub.Start(ctx); err != nil {
		return fmt.Errorf("failed to start message hub: %w", err)
	}

	// STEP 2: Bind before returning so callers can use Addr immediately
	listener, err := net.Listen("tcp", app.httpServer.Addr)
	if err != nil {
		_ = app.messageHub.Stop()
		return fmt.Errorf("failed to listen on %s: %w", app.httpServer.Addr, err)
	}
	app.mu.Lock()
	app.listener = listener
	app.mu.Unlock()

	app.wg.Add(2)
	go func() {
		defer app.wg.Done()
		if err := app.httpServer.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			app.logger.Error("HTTP server error", "error", err)
		}
	}()
	go app.sweepLimiter()

	app.logger.Info("agora started", "addr", listener.Addr().String())
	return nil
}

// sweepLimiter drops rate-limit windows of idle participants
func (app *Application) sweepLimiter() {
	defer app.wg.Done()
	ticker := time.NewTicker(app.config.WebSocket.RateWindow)
	defer ticker.Stop()
	for {
		select {
		case <-app.stop:
			return
		case <-ticker.C:
			if n := app.limiter.Cleanup(); n > 0 {
				app.logger.Debug("rate limiter cleanup", "removed", n)
			}
		}
	}
}

// Stop gracefully shuts down the application
// Reverse dependency order: HTTP → WebSocket → Scheduler → Hub → Write queues → Database → Archive
func (app *Application) Stop(ctx context.Context) error {
	app.logger.Info("shutting down agora")
	var errs []error

	// STEP 1: Stop accepting new connections
	if err := app.httpServer.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("HTTP server shutdown: %w", err))
	}
	close(app.stop)

	// STEP 2: Hijacked WebSocket connections outlive Shutdown; close them and
	// wait for their read pumps so no frame reaches the registry afterwards
	if err := app.wsHandler.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("websocket shutdown: %w", err))
	}

	// STEP 3: Drop pending moderator messages; approvals are rescheduled on restart
	app.scheduler.Stop()

	// STEP 4: Stop message processing
	if err := app.messageHub.Stop(); err != nil && !errors.Is(err, hub.ErrHubNotRunning) {
		errs = append(errs, fmt.Errorf("message hub shutdown: %w", err))
	}
	app.wg.Wait()

	// STEP 5: Drain queued store writes, then close storage
	if err := app.pipeline.Close(ctx); err != nil {
		errs = append(errs, fmt.Errorf("proposal writes: %w", err))
	}
	if err := app.registry.Close(ctx); err != nil {
		errs = append(errs, fmt.Errorf("session writes: %w", err))
	}
	if err := app.dbManager.Close(); err != nil {
		errs = append(errs, fmt.Errorf("database shutdown: %w", err))
	}
	if err := app.archive.Close(); err != nil {
		errs = append(errs, fmt.Errorf("archive shutdown: %w", err))
	}

	app.logger.Info("agora shutdown complete")
	return errors.Join(errs...)
}

// Addr returns the bound listen address once started, else the configured one
func (app *Application) Addr() string {
	app.mu.Lock()
	defer app.mu.Unlock()
	if app.listener != nil {
		return app.listener.Addr().String()
	}
	return app.httpServer.Addr
}

// Handler exposes the routed HTTP handler
func (app *Application) Handler() http.Handler {
	return app.apiServer
}
