package main

import (
	"context"
	"database/sql"
	"os"
	"os/signal"
	"syscall"

	"github.com/go-redis/redis/v8"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/lodeworks/lode/pkg/config"
	"github.com/lodeworks/lode/pkg/engine"
	"github.com/lodeworks/lode/pkg/observability"
	"github.com/lodeworks/lode/pkg/rqlcache"
	"github.com/lodeworks/lode/pkg/server"
	"github.com/lodeworks/lode/pkg/sessions"
)

func main() {
	logger := observability.NewLogger(observability.InfoLevel, os.Stdout)

	cfg, err := config.LoadConfig()
	if err != nil {
		logger.WithError(err).Error("invalid configuration")
		os.Exit(1)
	}
	logger = observability.NewLogger(cfg.Observability.LogLevel, os.Stdout)

	registry := prometheus.NewRegistry()
	var metrics *observability.Metrics
	if cfg.Observability.MetricsEnabled {
		metrics = observability.NewMetrics(registry)
	}

	cache, err := rqlcache.New(cfg.Engine.StmtCacheSize)
	if err != nil {
		logger.WithError(err).Error("creating statement cache")
		os.Exit(1)
	}
	if metrics != nil {
		cache.WithMetrics(metrics)
	}

	var store sessions.Store
	var redisClient *redis.Client
	if cfg.Sessions.RedisAddr != "" {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.Sessions.RedisAddr,
			Password: cfg.Sessions.RedisPassword,
			DB:       cfg.Sessions.RedisDB,
		})
		store = sessions.NewRedisStore(redisClient, cfg.Sessions.KeyPrefix)
		logger.WithField("addr", cfg.Sessions.RedisAddr).Info("using redis session store")
	} else {
		store = sessions.NewMemoryStore()
		logger.Info("using in-memory session store")
	}

	e := engine.New().
		WithLogger(logger).
		WithCorsOrigin(cfg.Engine.CorsOrigin)
	if metrics != nil {
		e.WithMetrics(metrics)
	}
	for _, p := range cfg.Engine.ContainerPaths {
		if _, err := e.WithContainerPath(p); err != nil {
			logger.WithError(err).WithField("path", p).Error("invalid container path")
			os.Exit(1)
		}
	}

	builder := &config.Builder{Store: store, Cache: cache, MaxRows: cfg.Engine.MaxRows}
	defs, err := config.LoadDefinitions(cfg.Definitions)
	if err != nil {
		logger.WithError(err).Error("loading api definitions")
		os.Exit(1)
	}
	apis, err := builder.Build(defs)
	if err != nil {
		logger.WithError(err).Error("building apis")
		os.Exit(1)
	}
	e.ReplaceApis(apis)
	logger.WithField("apis", len(apis)).WithField("file", cfg.Definitions).Info("apis loaded")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if cfg.Engine.WatchDefs {
		watcher, err := config.NewWatcher(cfg.Definitions, builder, e, logger)
		if err != nil {
			logger.WithError(err).Error("starting definitions watcher")
			os.Exit(1)
		}
		go watcher.Run(ctx)

		hup := make(chan os.Signal, 1)
		signal.Notify(hup, syscall.SIGHUP)
		go func() {
			for range hup {
				logger.Info("SIGHUP received, reloading definitions")
				watcher.Reload()
			}
		}()
	}

	// readiness pings the first configured backend; a down database makes
	// the service unhealthy, a down redis only degrades it
	var healthDb *sql.DB
	if dbs := builder.Databases(); len(dbs) > 0 {
		healthDb = dbs[0].DB()
	}
	srv := server.New(e, logger, registry, cfg.Server).
		WithHealthChecker(observability.NewHealthChecker(healthDb, redisClient))

	if err := srv.ListenAndServe(ctx); err != nil {
		logger.WithError(err).Error("server exited")
		os.Exit(1)
	}
	logger.Info("shutdown complete")
}
