package di

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/wire"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"

	"github.com/sandeepkv93/product-catalog-backend/internal/app"
	"github.com/sandeepkv93/product-catalog-backend/internal/config"
	"github.com/sandeepkv93/product-catalog-backend/internal/database"
	"github.com/sandeepkv93/product-catalog-backend/internal/health"
	"github.com/sandeepkv93/product-catalog-backend/internal/http/handler"
	"github.com/sandeepkv93/product-catalog-backend/internal/http/middleware"
	"github.com/sandeepkv93/product-catalog-backend/internal/http/router"
	"github.com/sandeepkv93/product-catalog-backend/internal/observability"
	"github.com/sandeepkv93/product-catalog-backend/internal/repository"
	"github.com/sandeepkv93/product-catalog-backend/internal/service"
)

const (
	idempotencyCleanupInterval = 10 * time.Minute
	idempotencyCleanupBatch    = 500
	idempotencyRedisPrefix     = "idem"
)

var ConfigSet = wire.NewSet(config.Load)

var ObservabilitySet = wire.NewSet(
	provideObservabilityRuntime,
	provideAppLogger,
)

var RuntimeInfraSet = wire.NewSet(
	provideRuntimeDB,
	provideRedisClient,
	provideReadinessProbeRunner,
)

var RepositorySet = wire.NewSet(
	repository.NewProductRepository,
	wire.Bind(new(repository.ProductRepository), new(*repository.GormProductRepository)),
)

var ServiceSet = wire.NewSet(
	service.NewProductService,
	wire.Bind(new(service.ProductService), new(*service.ProductServiceImpl)),
	provideIdempotencyStore,
)

var HTTPSet = wire.NewSet(
	handler.NewProductHandler,
	provideRateLimiter,
	provideIdempotencyFactory,
	provideRouterDependencies,
	router.NewRouter,
	provideHTTPServer,
)

var AppSet = wire.NewSet(
	provideBackgroundTasks,
	provideApp,
)

func provideObservabilityRuntime(cfg *config.Config) (*observability.Runtime, error) {
	bootstrapLogger := observability.NewBootstrapLogger(cfg)
	return observability.InitRuntime(context.Background(), cfg, bootstrapLogger)
}

func provideAppLogger(cfg *config.Config, runtime *observability.Runtime) *slog.Logger {
	logger := observability.InitLogger(cfg, runtime.LoggerProvider)
	slog.SetDefault(logger)
	return logger
}

func provideRuntimeDB(cfg *config.Config, logger *slog.Logger) (*gorm.DB, error) {
	ctx := context.Background()
	start := time.Now()
	db, err := database.Open(cfg)
	if err != nil {
		observability.RecordDatabaseStartupEvent(ctx, "open", "error")
		return nil, err
	}
	observability.RecordDatabaseStartupEvent(ctx, "open", "success")
	observability.RecordDatabaseStartupDuration(ctx, "open", time.Since(start))

	if !cfg.DBAutoMigrate {
		logger.Info("database auto-migrate disabled", "driver", cfg.DBDriver)
		return db, nil
	}
	start = time.Now()
	if err := database.Migrate(ctx, db); err != nil {
		observability.RecordDatabaseStartupEvent(ctx, "migrate", "error")
		if sqlDB, dbErr := db.DB(); dbErr == nil {
			_ = sqlDB.Close()
		}
		return nil, err
	}
	observability.RecordDatabaseStartupEvent(ctx, "migrate", "success")
	observability.RecordDatabaseStartupDuration(ctx, "migrate", time.Since(start))
	logger.Info("database migrated", "driver", cfg.DBDriver)
	return db, nil
}

func provideRedisClient(cfg *config.Config, logger *slog.Logger) redis.UniversalClient {
	if !cfg.RedisRequired() {
		return nil
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	observability.InstrumentRedisClient(client, logger)
	return client
}

func provideReadinessProbeRunner(cfg *config.Config, db *gorm.DB, redisClient redis.UniversalClient) *health.ProbeRunner {
	return health.NewProbeRunner(
		cfg.ReadinessProbeTimeout,
		cfg.ServerStartGracePeriod,
		health.NewDBChecker(db),
		health.NewSchemaChecker(db),
		health.NewRedisChecker(redisClient),
	)
}

func provideIdempotencyStore(cfg *config.Config, db *gorm.DB, redisClient redis.UniversalClient) service.IdempotencyStore {
	if !cfg.IdempotencyEnabled {
		return nil
	}
	if cfg.IdempotencyBackend == config.IdempotencyBackendRedis && redisClient != nil {
		return service.NewRedisIdempotencyStore(redisClient, idempotencyRedisPrefix)
	}
	return service.NewDBIdempotencyStore(db)
}

func provideIdempotencyFactory(cfg *config.Config, store service.IdempotencyStore) router.IdempotencyMiddlewareFactory {
	if store == nil {
		return nil
	}
	return middleware.NewIdempotencyMiddleware(store, cfg.IdempotencyTTL).Middleware
}

func provideRateLimiter(cfg *config.Config, redisClient redis.UniversalClient) router.RateLimiterFunc {
	if !cfg.RateLimitEnabled {
		return nil
	}
	if cfg.RateLimitRedisEnabled && redisClient != nil {
		mode := middleware.FailClosed
		if cfg.RateLimitFailOpen {
			mode = middleware.FailOpen
		}
		return middleware.NewDistributedRateLimiter(
			middleware.NewRedisFixedWindowLimiter(redisClient, cfg.RateLimitRedisPrefix+":api"),
			cfg.RateLimitPerMin,
			time.Minute,
			mode,
			"api",
		).Middleware()
	}
	return middleware.NewRateLimiter(cfg.RateLimitPerMin, time.Minute).Middleware()
}

func provideRouterDependencies(
	productHandler *handler.ProductHandler,
	rateLimiter router.RateLimiterFunc,
	idempotency router.IdempotencyMiddlewareFactory,
	readiness *health.ProbeRunner,
	runtime *observability.Runtime,
	cfg *config.Config,
) router.Dependencies {
	var metricsHandler http.Handler
	if runtime != nil {
		metricsHandler = runtime.MetricsHandler
	}
	return router.Dependencies{
		ProductHandler: productHandler,
		CORSOrigins:    cfg.CORSAllowedOrigins,
		BodyLimitBytes: cfg.HTTPBodyLimitBytes,
		RequestTimeout: cfg.HTTPRequestTimeout,
		APIPrefix:      cfg.APIPrefix,
		RateLimiter:    rateLimiter,
		Idempotency:    idempotency,
		Readiness:      readiness,
		MetricsHandler: metricsHandler,
		EnableOTelHTTP: cfg.OTELMetricsEnabled || cfg.OTELTracingEnabled,
	}
}

func provideHTTPServer(cfg *config.Config, h http.Handler) *http.Server {
	writeTimeout := cfg.HTTPRequestTimeout + 5*time.Second
	return &http.Server{
		Addr:              ":" + cfg.HTTPPort,
		Handler:           h,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      writeTimeout,
		IdleTimeout:       60 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
	}
}

func provideBackgroundTasks(logger *slog.Logger, store service.IdempotencyStore) []app.BackgroundTask {
	dbStore, ok := store.(*service.DBIdempotencyStore)
	if !ok {
		return nil
	}
	return []app.BackgroundTask{
		func(ctx context.Context) {
			dbStore.RunCleanupLoop(ctx, idempotencyCleanupInterval, idempotencyCleanupBatch, logger)
		},
	}
}

func provideApp(
	cfg *config.Config,
	logger *slog.Logger,
	server *http.Server,
	runtime *observability.Runtime,
	db *gorm.DB,
	redisClient redis.UniversalClient,
	readiness *health.ProbeRunner,
	tasks []app.BackgroundTask,
) *app.App {
	return app.New(cfg, logger, server, runtime, db, redisClient, readiness, tasks...)
}
