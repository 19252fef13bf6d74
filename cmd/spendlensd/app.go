package main

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/spendlens/core/pkg/ai"
	"github.com/spendlens/core/pkg/aliases"
	"github.com/spendlens/core/pkg/blob"
	"github.com/spendlens/core/pkg/config"
	"github.com/spendlens/core/pkg/database"
	"github.com/spendlens/core/pkg/embeddings"
	"github.com/spendlens/core/pkg/learning"
	"github.com/spendlens/core/pkg/matching"
	"github.com/spendlens/core/pkg/metering"
	"github.com/spendlens/core/pkg/observability"
	"github.com/spendlens/core/pkg/ratelimit"
	"github.com/spendlens/core/pkg/refdata"
	"github.com/spendlens/core/pkg/statements"
	"github.com/spendlens/core/pkg/textcache"
	"github.com/spendlens/core/pkg/tiering"
)

// application bundles the wired subsystems the daemon runs.
type application struct {
	cfg    *config.Config
	tuning config.Tuning
	log    *slog.Logger

	db     *sql.DB
	driver string

	meter      *metering.Service
	resolver   *tiering.Resolver
	engine     *matching.Engine
	learner    *learning.Service
	statements *statements.Resolver
	blobs      blob.Store
	embeddings embeddings.Store

	obs   *observability.Provider
	redis *redis.Client
}

// openDatabase connects per the configured mode: Postgres when
// DATABASE_URL is set, embedded SQLite otherwise.
func openDatabase(ctx context.Context, cfg *config.Config) (*sql.DB, string, error) {
	driver, dsn := database.DriverPostgres, cfg.DatabaseURL
	if cfg.LiteMode() {
		driver, dsn = database.DriverSQLite, cfg.LitePath
	}
	db, err := database.Open(ctx, driver, dsn)
	if err != nil {
		return nil, "", err
	}
	return db, driver, nil
}

// newApplication wires every subsystem. Tier 2 exists only on
// Postgres; in lite mode the resolver skips straight from the caches
// to the model.
func newApplication(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*application, error) {
	tuning, err := config.LoadTuning(cfg.TuningProfile)
	if err != nil {
		return nil, err
	}

	db, driver, err := openDatabase(ctx, cfg)
	if err != nil {
		return nil, err
	}
	if err := database.Init(ctx, db, driver); err != nil {
		db.Close()
		return nil, err
	}
	if err := refdata.Seed(ctx, db, driver); err != nil {
		db.Close()
		return nil, err
	}

	app := &application{
		cfg:    cfg,
		tuning: tuning,
		log:    logger,
		db:     db,
		driver: driver,
	}

	var (
		cache      textcache.Store
		aliasStore aliases.Store
		meterStore metering.Store
		matchStore matching.Store
		fpStore    statements.Store
	)
	if driver == database.DriverPostgres {
		cache = textcache.NewPostgresStore(db)
		aliasStore = aliases.NewPostgresStore(db)
		meterStore = metering.NewPostgresStore(db)
		matchStore = matching.NewPostgresStore(db)
		fpStore = statements.NewPostgresStore(db)
	} else {
		cache = textcache.NewSQLiteStore(db)
		aliasStore = aliases.NewSQLiteStore(db)
		meterStore = metering.NewSQLiteStore(db)
		matchStore = matching.NewSQLiteStore(db)
		fpStore = statements.NewSQLiteStore(db)
	}

	app.meter = metering.NewService(meterStore, tuning)
	app.resolver = tiering.NewResolver(cache, aliasStore, app.meter, tuning)
	app.resolver.SetReferenceData(refdata.NewSQLSource(db))
	app.engine = matching.NewEngine(matchStore, aliasStore, tuning)
	app.learner = learning.NewService(aliasStore, tuning)
	app.engine.SetListener(app.learner)
	app.statements = statements.NewResolver(fpStore, app.meter)

	completer := ai.NewCompleter(ai.NewHTTPClient(cfg.AIServiceURL, cfg.AIModel, cfg.AIAPIKey), cfg.AIModel)
	app.resolver.SetAI(completer)
	app.statements.SetAI(completer)

	if driver == database.DriverPostgres {
		app.embeddings = embeddings.NewPostgresStore(db, cfg.EmbedDimensions)
		embedder := embeddings.NewHTTPEmbedder(cfg.EmbedServiceURL, cfg.EmbedModel, cfg.AIAPIKey)
		app.resolver.SetEmbeddings(app.embeddings, embedder)
		app.learner.SetEmbeddings(app.embeddings, embedder)
	}

	var limiter ratelimit.Limiter
	if cfg.RedisAddr != "" {
		app.redis = redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		limiter = ratelimit.NewRedisLimiter(app.redis, cfg.AIRatePerMin, cfg.AIRateBurst)
	} else {
		limiter = ratelimit.NewLocalLimiter(cfg.AIRatePerMin, cfg.AIRateBurst)
	}
	app.resolver.SetLimiter(limiter)

	app.blobs, err = blob.NewStore(ctx, cfg)
	if err != nil {
		app.Close(ctx)
		return nil, err
	}

	if cfg.OTLPEndpoint != "" {
		ocfg := observability.DefaultConfig()
		ocfg.OTLPEndpoint = cfg.OTLPEndpoint
		app.obs, err = observability.New(ctx, ocfg)
		if err != nil {
			app.Close(ctx)
			return nil, fmt.Errorf("observability: %w", err)
		}
		app.resolver.SetObservability(app.obs)
		app.engine.SetObservability(app.obs)
	}

	return app, nil
}

// Close releases held connections. Safe on partially built apps.
func (a *application) Close(ctx context.Context) {
	if a.obs != nil {
		if err := a.obs.Shutdown(ctx); err != nil {
			a.log.Warn("observability shutdown", "error", err)
		}
	}
	if a.redis != nil {
		_ = a.redis.Close()
	}
	if a.db != nil {
		_ = a.db.Close()
	}
}

// sweepLoop periodically purges unverified embeddings older than the
// retention window. Verified rows are never touched.
func (a *application) sweepLoop(ctx context.Context) {
	if a.embeddings == nil {
		return
	}

	ticker := time.NewTicker(a.cfg.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			cutoff := time.Now().UTC().AddDate(0, -a.tuning.EmbedRetentionMonths, 0)
			n, err := a.embeddings.PurgeStale(ctx, cutoff)
			if err != nil {
				a.log.Warn("embedding sweep failed", "error", err)
				continue
			}
			if n > 0 {
				a.log.Info("purged stale embeddings", "count", n, "cutoff", cutoff)
			}
		}
	}
}
