package bootstrap

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"vibe-backend/internal/analyses"
	"vibe-backend/internal/claims"
	"vibe-backend/internal/identity"
	"vibe-backend/internal/phrases"
	"vibe-backend/internal/queue"
	"vibe-backend/internal/records"
	"vibe-backend/internal/services/health"
	"vibe-backend/internal/shared/auth"
	"vibe-backend/internal/shared/background"
	"vibe-backend/internal/shared/cache"
	"vibe-backend/internal/shared/config"
	"vibe-backend/internal/shared/server"
	"vibe-backend/internal/shared/storage/db"
	"vibe-backend/internal/shared/telemetry"
	"vibe-backend/internal/stats"
)

const localCacheBytes = 32 << 20

// App holds shared dependencies.
type App struct {
	Config config.Config
	Router *gin.Engine
	DB     *sql.DB
	Cache  cache.Cache
	Queue  queue.Client
	Runner *background.Runner

	Records     records.Repo
	PhraseStore phrases.Store
	StatsView   stats.View

	Resolver   *identity.Resolver
	Stats      *stats.Aggregator
	Scheduler  *stats.Scheduler
	Dashboards *stats.Dashboards
	Snapshots  *phrases.Snapshots
	Applier    *phrases.Applier
	Phrases    *phrases.Aggregator
	Analyses   *analyses.Service
	Claims     *claims.Service
	Verifier   *auth.Verifier
	Health     *health.Service

	closers []func() error
}

// Build prepares every dependency and the router. The recompute schedule is
// created but not started.
func Build(ctx context.Context, cfg config.Config) (*App, error) {
	if strings.TrimSpace(cfg.Env) == "" {
		cfg.Env = "dev"
	}
	app := &App{
		Config: cfg,
		Runner: background.NewRunner(cfg.BackgroundTimeout),
		Health: health.NewService(cfg.RemoteTimeout),
	}

	sqlDB, err := buildDB(ctx, cfg)
	if err != nil {
		return nil, err
	}
	if sqlDB != nil {
		app.DB = sqlDB
		app.closers = append(app.closers, sqlDB.Close)
		app.Health.Register("database", sqlDB.PingContext)
	}

	app.Cache = buildCache(ctx, app)

	if err := buildServices(ctx, app); err != nil {
		_ = app.close()
		return nil, err
	}

	app.Router = server.NewRouter(server.RouterDeps{
		Config:   cfg,
		Verifier: app.Verifier,
		Health:   app.Health,
		Handlers: []server.RouteRegistrar{
			analyses.NewHandler(app.Analyses),
			claims.NewHandler(app.Claims),
			stats.NewHandler(app.Stats, app.Dashboards),
			phrases.NewHandler(app.Snapshots),
		},
	})
	return app, nil
}

func buildDB(ctx context.Context, cfg config.Config) (*sql.DB, error) {
	if strings.TrimSpace(cfg.DatabaseURL) == "" {
		if cfg.IsDevLike() {
			telemetry.Warn("bootstrap.memory_store", map[string]any{"reason": "DATABASE_URL empty"})
			return nil, nil
		}
		return nil, fmt.Errorf("%w: DATABASE_URL", config.ErrMissingSetting)
	}

	sqlDB, err := db.Connect(ctx, cfg.DatabaseURL, db.OptionsFromEnv(db.DefaultServerOptions()))
	if err != nil {
		if cfg.IsDevLike() {
			telemetry.Warn("bootstrap.memory_store", map[string]any{"reason": "connect failed", "error": err.Error()})
			return nil, nil
		}
		return nil, err
	}
	if cfg.IsDevLike() {
		if err := db.RunMigrations(ctx, sqlDB); err != nil {
			_ = sqlDB.Close()
			return nil, fmt.Errorf("run migrations: %w", err)
		}
	}
	return sqlDB, nil
}

// buildCache prefers Redis. The cache is best-effort, so any Redis problem
// falls back to an in-process cache instead of failing startup.
func buildCache(ctx context.Context, app *App) cache.Cache {
	if url := strings.TrimSpace(app.Config.RedisURL); url != "" {
		rc, err := cache.NewRedis(url, app.Config.RemoteTimeout)
		if err == nil {
			err = rc.Ping(ctx)
			if err == nil {
				app.closers = append(app.closers, rc.Close)
				app.Health.Register("cache", rc.Ping)
				return rc
			}
			_ = rc.Close()
		}
		telemetry.Warn("bootstrap.local_cache", map[string]any{"reason": "redis unavailable", "error": err.Error()})
	}
	lc, err := cache.NewLocal(localCacheBytes)
	if err != nil {
		telemetry.Warn("bootstrap.no_cache", map[string]any{"error": err.Error()})
		return nil
	}
	app.closers = append(app.closers, func() error { lc.Close(); return nil })
	return lc
}

func buildServices(ctx context.Context, app *App) error {
	cfg := app.Config
	if app.DB != nil {
		app.Records = &records.PGRepo{DB: app.DB, Timeout: cfg.RemoteTimeout}
		app.PhraseStore = &phrases.PGStore{DB: app.DB, Timeout: cfg.RemoteTimeout}
		app.StatsView = &stats.PGView{DB: app.DB, Timeout: cfg.RemoteTimeout}
	} else {
		memRecords := records.NewMemoryRepo()
		app.Records = memRecords
		app.PhraseStore = phrases.NewMemoryStore()
		app.StatsView = stats.NewMemoryView(memRecords)
	}

	verifier, err := auth.NewVerifier(cfg.JWTSecret)
	if err != nil {
		return err
	}
	app.Verifier = verifier

	app.Resolver = identity.NewResolver(app.Records, cfg.UsernameFallback)
	app.Stats = stats.NewAggregator(app.Cache, app.StatsView, cfg.StatsCacheTTL)
	scheduler, err := stats.NewScheduler(cfg.StatsRecomputeCron, app.Stats, 0)
	if err != nil {
		return err
	}
	app.Scheduler = scheduler
	app.Dashboards = stats.NewDashboards(app.Stats, app.Records, app.Cache, cfg.StatsDashboardTTL)

	app.Snapshots = phrases.NewSnapshots(app.PhraseStore, app.Cache, cfg.PhraseTopN, cfg.PhraseSnapshotTTL)
	app.Applier = &phrases.Applier{Store: app.PhraseStore, Snapshots: app.Snapshots}

	var sink phrases.Sink = app.Applier
	if strings.TrimSpace(cfg.PhraseQueueURL) != "" {
		client, err := queue.NewSQSClient(ctx, cfg.PhraseQueueURL, cfg.AWSRegion, cfg.RemoteTimeout)
		if err != nil {
			return err
		}
		app.Queue = client
		sink = phrases.NewQueueSink(client)
	}
	app.Phrases = phrases.NewAggregator(sink, app.Runner, cfg.PhraseBufferSize, cfg.PhraseFlushInterval)

	app.Analyses = analyses.NewService(app.Records, app.Resolver, app.Stats, app.Phrases, app.Runner)
	app.Claims = claims.NewService(app.Records, app.Resolver)

	if app.Analyses == nil || app.Claims == nil {
		return errors.New("failed to initialize services")
	}
	return nil
}

// Shutdown stops the schedule, drains the phrase buffer and background
// tasks, then releases connections.
func (a *App) Shutdown(ctx context.Context) error {
	if a.Scheduler != nil {
		a.Scheduler.Stop(ctx)
	}
	var errs []error
	if a.Phrases != nil {
		flushCtx, cancel := context.WithTimeout(ctx, a.drainTimeout())
		if err := a.Phrases.Flush(flushCtx); err != nil {
			errs = append(errs, fmt.Errorf("flush phrases: %w", err))
		}
		cancel()
	}
	if a.Runner != nil {
		if err := a.Runner.Wait(ctx); err != nil {
			errs = append(errs, fmt.Errorf("wait background tasks: %w", err))
		}
	}
	if err := a.close(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

func (a *App) drainTimeout() time.Duration {
	if a.Config.BackgroundTimeout > 0 {
		return a.Config.BackgroundTimeout
	}
	return 15 * time.Second
}

func (a *App) close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}
