package app

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"

	"github.com/sandeepkv93/product-catalog-backend/internal/config"
	"github.com/sandeepkv93/product-catalog-backend/internal/health"
	"github.com/sandeepkv93/product-catalog-backend/internal/observability"
)

// BackgroundTask runs until ctx is cancelled.
type BackgroundTask func(ctx context.Context)

type App struct {
	Config        *config.Config
	Logger        *slog.Logger
	Server        *http.Server
	Observability *observability.Runtime
	DB            *gorm.DB
	Redis         redis.UniversalClient
	Readiness     *health.ProbeRunner

	tasks      []BackgroundTask
	stopTasks  context.CancelFunc
	tasksGroup sync.WaitGroup
}

func New(
	cfg *config.Config,
	logger *slog.Logger,
	server *http.Server,
	runtime *observability.Runtime,
	db *gorm.DB,
	redisClient redis.UniversalClient,
	readiness *health.ProbeRunner,
	tasks ...BackgroundTask,
) *App {
	return &App{
		Config:        cfg,
		Logger:        logger,
		Server:        server,
		Observability: runtime,
		DB:            db,
		Redis:         redisClient,
		Readiness:     readiness,
		tasks:         tasks,
	}
}

// Run starts the background tasks and serves HTTP until ctx is done, then
// shuts everything down.
func (a *App) Run(ctx context.Context) error {
	taskCtx, cancel := context.WithCancel(context.Background())
	a.stopTasks = cancel
	for _, task := range a.tasks {
		if task == nil {
			continue
		}
		a.tasksGroup.Add(1)
		go func() {
			defer a.tasksGroup.Done()
			task(taskCtx)
		}()
	}

	serveErr := make(chan error, 1)
	go func() {
		a.Logger.Info("server starting", "addr", a.Server.Addr, "env", a.Config.Env)
		if err := a.Server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	var runErr error
	select {
	case <-ctx.Done():
		a.Logger.Info("shutdown signal received")
	case err, ok := <-serveErr:
		if ok {
			a.Logger.Error("http server failed", "error", err)
			runErr = err
		}
	}
	return errors.Join(runErr, a.Shutdown())
}

// Shutdown drains HTTP, stops background tasks, flushes telemetry and closes
// the stores, each bounded by its configured timeout.
func (a *App) Shutdown() error {
	totalTimeout := a.Config.ShutdownTimeout
	if totalTimeout <= 0 {
		totalTimeout = 20 * time.Second
	}
	totalCtx, totalCancel := context.WithTimeout(context.Background(), totalTimeout)
	defer totalCancel()

	var errs []error

	httpTimeout := a.Config.ShutdownHTTPDrainTimeout
	if httpTimeout <= 0 {
		httpTimeout = 15 * time.Second
	}
	httpCtx, httpCancel := context.WithTimeout(totalCtx, httpTimeout)
	if err := a.Server.Shutdown(httpCtx); err != nil {
		a.Logger.Error("failed to shutdown http server", "error", err)
		errs = append(errs, err)
	}
	httpCancel()

	if a.stopTasks != nil {
		a.stopTasks()
	}
	a.tasksGroup.Wait()

	if a.Observability != nil {
		obsTimeout := a.Config.ShutdownObservabilityTimeout
		if obsTimeout <= 0 {
			obsTimeout = 5 * time.Second
		}
		obsCtx, obsCancel := context.WithTimeout(totalCtx, obsTimeout)
		if err := a.Observability.Shutdown(obsCtx); err != nil {
			a.Logger.Error("failed to shutdown observability", "error", err)
			errs = append(errs, err)
		}
		obsCancel()
	}

	if a.Redis != nil {
		if err := a.Redis.Close(); err != nil {
			a.Logger.Error("failed to close redis client", "error", err)
			errs = append(errs, err)
		}
	}
	if a.DB != nil {
		if sqlDB, err := a.DB.DB(); err == nil {
			if err := sqlDB.Close(); err != nil {
				a.Logger.Error("failed to close database", "error", err)
				errs = append(errs, err)
			}
		}
	}

	a.Logger.Info("shutdown complete")
	return errors.Join(errs...)
}
