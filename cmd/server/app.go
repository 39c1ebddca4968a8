package main

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	goredis "github.com/redis/go-redis/v9"

	"github.com/phrazzld/paygate/internal/capability"
	"github.com/phrazzld/paygate/internal/config"
	"github.com/phrazzld/paygate/internal/cooldown"
	"github.com/phrazzld/paygate/internal/coord"
	"github.com/phrazzld/paygate/internal/metrics"
	"github.com/phrazzld/paygate/internal/nbasync"
	"github.com/phrazzld/paygate/internal/paygate"
	"github.com/phrazzld/paygate/internal/platform/gemini"
	"github.com/phrazzld/paygate/internal/platform/nsq"
	"github.com/phrazzld/paygate/internal/platform/postgres"
	"github.com/phrazzld/paygate/internal/platform/redis"
	"github.com/phrazzld/paygate/internal/platform/tracing"
	"github.com/phrazzld/paygate/internal/session"
	"github.com/phrazzld/paygate/internal/store"
	"github.com/phrazzld/paygate/internal/task"
	"github.com/phrazzld/paygate/internal/x402"
)

// application holds all the shared application dependencies to simplify management
// and ensure proper cleanup on shutdown.
type application struct {
	config *config.Config
	logger *slog.Logger

	// Infrastructure
	redis           *goredis.Client
	db              *sql.DB
	coord           coord.Store
	registry        *prometheus.Registry
	publisher       *nsq.IngestPublisher
	shutdownTracing func(context.Context) error

	// Stores; the Unavailable placeholders stand in when no database is set.
	matchups     store.MatchupReader
	conflicts    store.ConflictStore
	analysisLogs store.AnalysisLogStore

	// Queues and their collaborators
	taskQueue *task.Queue
	syncQueue *task.Queue
	canceller *task.Canceller
	triggers  *nbasync.Triggers
	scheduler *nbasync.Scheduler
	service   *capability.Service

	// Payment
	sessions *session.Manager
	gate     *paygate.Gate

	workers []*task.Worker
}

// newApplication creates a new application instance with all dependencies initialized.
// Nothing is started; Run starts the selected roles.
func newApplication(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*application, error) {
	app := &application{config: cfg, logger: logger}

	var err error
	app.shutdownTracing, err = tracing.Init(ctx, tracing.Config{
		Enabled:      cfg.Tracing.Enabled,
		ServiceName:  cfg.Tracing.ServiceName,
		OTLPEndpoint: cfg.Tracing.OTLPEndpoint,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize tracing: %w", err)
	}

	app.redis = redis.NewClient(cfg.Redis)
	if err := redis.Ping(ctx, app.redis); err != nil {
		app.cleanup()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}
	app.coord = coord.NewRedisStore(app.redis)
	logger.Info("redis connected", "addr", cfg.Redis.Addr)

	if err := app.setupStores(ctx); err != nil {
		app.cleanup()
		return nil, err
	}

	if err := app.setupQueues(ctx); err != nil {
		app.cleanup()
		return nil, err
	}

	if err := app.setupPayment(); err != nil {
		app.cleanup()
		return nil, err
	}

	if cfg.Metrics.Enabled {
		app.registry = prometheus.NewRegistry()
		app.registry.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
		metrics.MustRegister(app.registry)
	}

	logger.Info("application initialized")
	return app, nil
}

// setupStores opens the relational store and applies pending migrations.
// Without a database URL the dependent features answer 503.
func (app *application) setupStores(ctx context.Context) error {
	if app.config.Database.URL == "" {
		app.logger.Warn("database.url not set; conflicts, analysis logs and matchup reads are unavailable")
		app.matchups = postgres.UnavailableMatchups{}
		app.conflicts = postgres.UnavailableConflicts{}
		app.analysisLogs = postgres.UnavailableAnalysisLog{}
		return nil
	}

	db, err := postgres.Open(ctx, app.config.Database.URL)
	if err != nil {
		return err
	}
	app.db = db

	if err := postgres.Migrate(ctx, db, "up", app.logger); err != nil {
		return err
	}

	app.matchups = postgres.NewPostgresGameStore(db, app.logger)
	app.conflicts = postgres.NewPostgresConflictStore(db, app.logger)
	app.analysisLogs = postgres.NewPostgresAnalysisLogStore(db, app.logger)
	app.logger.Info("database connected")
	return nil
}

// taskQueueOptions configures the capability queue from the task section.
func taskQueueOptions(cfg *config.Config) task.QueueOptions {
	return task.QueueOptions{
		Prefix:            cfg.Redis.KeyPrefix,
		KeepCompleted:     cfg.Task.KeepCompleted,
		KeepFailed:        cfg.Task.KeepFailed,
		DefaultJobOptions: task.JobOptions{Attempts: cfg.Task.Attempts},
	}
}

// syncQueueOptions configures the sync queue from the sync section. Sync
// jobs retry with exponential backoff.
func syncQueueOptions(cfg *config.Config) task.QueueOptions {
	return task.QueueOptions{
		Prefix:        cfg.Redis.KeyPrefix,
		KeepCompleted: cfg.Sync.KeepCompleted,
		KeepFailed:    cfg.Sync.KeepFailed,
		DefaultJobOptions: task.JobOptions{
			Attempts: cfg.Sync.Attempts,
			Backoff:  task.Backoff{Type: task.BackoffExponential, Delay: cfg.Sync.Backoff},
		},
	}
}

// setupQueues builds both queues, the capability service, the manual
// triggers and the scheduler.
func (app *application) setupQueues(ctx context.Context) error {
	cfg := app.config

	app.taskQueue = task.NewQueue(app.redis, capability.QueueName, taskQueueOptions(cfg))
	app.syncQueue = task.NewQueue(app.redis, nbasync.QueueName, syncQueueOptions(cfg))
	app.canceller = task.NewCanceller(app.coord, cfg.Task.CancelTTL)

	var analyzer capability.Analyzer
	if cfg.LLM.GeminiAPIKey != "" {
		a, err := gemini.NewAnalyzer(ctx, gemini.Config{
			APIKey:     cfg.LLM.GeminiAPIKey,
			Model:      cfg.LLM.Model,
			MaxRetries: 2,
		}, app.logger)
		if err != nil {
			return fmt.Errorf("failed to initialize analyzer: %w", err)
		}
		analyzer = a
		app.logger.Info("gemini analyzer initialized", "model", cfg.LLM.Model)
	} else {
		app.logger.Warn("llm.gemini_api_key not set; matchup analysis is unavailable")
	}
	app.service = capability.NewService(app.matchups, analyzer)

	coordinator := cooldown.NewCoordinator(app.coord, app.syncQueue, cooldown.Config{
		Window:           cfg.Sync.Cooldown,
		FollowerAttempts: cfg.Sync.FollowerAttempts,
		FollowerDelay:    cfg.Sync.FollowerDelay,
	}, app.logger)
	app.triggers = nbasync.NewTriggers(app.syncQueue, coordinator, cfg.Sync.RangeMaxDays)

	scheduler, err := nbasync.NewScheduler(app.syncQueue, app.coord, cfg.Sync, app.logger)
	if err != nil {
		return fmt.Errorf("failed to configure sync scheduler: %w", err)
	}
	app.scheduler = scheduler

	if cfg.NSQ.NsqdAddr != "" {
		publisher, err := nsq.NewIngestPublisher(cfg.NSQ.NsqdAddr, cfg.NSQ.IngestTopic, app.logger)
		if err != nil {
			return fmt.Errorf("failed to create ingest publisher: %w", err)
		}
		app.publisher = publisher
		app.logger.Info("ingest publisher ready", "nsqd", cfg.NSQ.NsqdAddr, "topic", cfg.NSQ.IngestTopic)
	}

	return nil
}

// setupPayment builds the session manager and, when payments are enabled,
// the gate in front of the protected routes.
func (app *application) setupPayment() error {
	cfg := app.config

	sessionStore := app.coord
	if cfg.Session.Mode == session.ModePerRequest {
		sessionStore = coord.NewMemoryStore()
	}
	app.sessions = session.NewManager(sessionStore, session.Config{
		Mode:          cfg.Session.Mode,
		TTL:           cfg.Session.TTL,
		CookieName:    cfg.Session.CookieName,
		Secure:        cfg.Server.IsProduction(),
		SweepInterval: cfg.Session.SweepInterval,
	}, app.logger)

	if !cfg.X402.Enabled {
		app.logger.Warn("x402 disabled; protected routes are served without payment")
		return nil
	}

	var routeCfgs []x402.RouteConfig
	if cfg.X402.ProtectTasks {
		routeCfgs = append(routeCfgs, x402.RouteConfig{
			Method:      "POST",
			Path:        "/tasks",
			Price:       cfg.X402.Price,
			Description: cfg.X402.TaskDescription,
		})
	}
	routeCfgs = append(routeCfgs, x402.RouteConfig{
		Method:      "POST",
		Path:        "/nba/analysis",
		Price:       cfg.X402.EffectiveAnalysisPrice(),
		Description: cfg.X402.AnalysisDescription,
	})

	routes, err := x402.ResolveRoutes(routeCfgs, cfg.X402.Network, cfg.X402.PayTo, cfg.X402.MaxTimeoutSeconds)
	if err != nil {
		return fmt.Errorf("failed to resolve payment routes: %w", err)
	}

	facilitatorCfg := x402.FacilitatorConfig{
		URL:     cfg.X402.FacilitatorURL,
		Timeout: cfg.X402.FacilitatorTimeout,
	}
	if cfg.X402.CDPAPIKeyID != "" {
		auth, err := x402.NewCDPAuth(cfg.X402.CDPAPIKeyID, cfg.X402.CDPAPIKeySecret)
		if err != nil {
			return fmt.Errorf("failed to configure CDP auth: %w", err)
		}
		facilitatorCfg.Auth = auth
		if facilitatorCfg.URL == x402.DefaultFacilitatorURL {
			facilitatorCfg.URL = x402.CDPFacilitatorURL
		}
	}
	facilitator := x402.NewFacilitatorClient(facilitatorCfg)

	app.gate = paygate.New(paygate.Config{
		Routes:  routes,
		Origins: cfg.CORS.Origins,
		Debug:   cfg.X402.Debug || !cfg.Server.IsProduction(),
	}, app.sessions, x402.NewMiddleware(routes, facilitator, app.logger), app.logger)

	app.logger.Info("payment gate configured",
		"network", cfg.X402.Network,
		"facilitator", facilitatorCfg.URL,
		"routes", len(routes))
	return nil
}

// startWorkers starts one worker pool per queue.
func (app *application) startWorkers() error {
	cfg := app.config

	capabilityWorker := task.NewWorker(app.taskQueue,
		capability.NewProcessor(app.service, app.canceller),
		app.workerConfig(cfg.Task.WorkerCount),
		app.logger)

	// A literal nil keeps leaf jobs completing as skipped when NSQ is off.
	var ingestor nbasync.Ingestor
	if app.publisher != nil {
		ingestor = app.publisher
	}
	syncWorker := task.NewWorker(app.syncQueue,
		nbasync.NewProcessor(app.syncQueue, ingestor, cfg.Sync.RangeMaxDays, app.logger),
		app.workerConfig(cfg.Sync.WorkerCount),
		app.logger)

	var failures store.ConflictStore
	if app.db != nil {
		failures = app.conflicts
	}
	syncWorker.SetFailureHandler(nbasync.NewFailureRecorder(failures, app.logger))

	for _, w := range []*task.Worker{capabilityWorker, syncWorker} {
		if err := w.Start(); err != nil {
			app.stopWorkers()
			return fmt.Errorf("failed to start worker: %w", err)
		}
		app.workers = append(app.workers, w)
	}

	app.logger.Info("workers started",
		"capability_concurrency", cfg.Task.WorkerCount,
		"sync_concurrency", cfg.Sync.WorkerCount)
	return nil
}

func (app *application) workerConfig(concurrency int) task.WorkerConfig {
	return task.WorkerConfig{
		Concurrency:          concurrency,
		LockDuration:         app.config.Task.LockDuration,
		StalledCheckInterval: app.config.Task.StalledCheckInterval,
		PollTimeout:          app.config.Task.PollTimeout,
		PromoteInterval:      app.config.Task.PromoteInterval,
	}
}

func (app *application) stopWorkers() {
	for _, w := range app.workers {
		w.Stop()
	}
	app.workers = nil
}

// cleanup handles graceful shutdown of application resources.
func (app *application) cleanup() {
	app.stopWorkers()

	if app.publisher != nil {
		app.publisher.Close()
	}

	if app.db != nil {
		if err := app.db.Close(); err != nil {
			app.logger.Error("error closing database connection", "error", err)
		}
	}

	if app.redis != nil {
		if err := app.redis.Close(); err != nil {
			app.logger.Error("error closing redis client", "error", err)
		}
	}

	if app.shutdownTracing != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := app.shutdownTracing(ctx); err != nil {
			app.logger.Error("error flushing traces", "error", err)
		}
	}

	app.logger.Info("application shutdown completed")
}
