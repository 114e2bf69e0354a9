package main

import (
	"context"
	"errors"
	"net/http"
	"os"

	"github.com/go-redis/redis/v8"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/platinummonkey/chronicle/pkg/api"
	"github.com/platinummonkey/chronicle/pkg/archive"
	"github.com/platinummonkey/chronicle/pkg/audit"
	"github.com/platinummonkey/chronicle/pkg/chronicle"
	"github.com/platinummonkey/chronicle/pkg/config"
	"github.com/platinummonkey/chronicle/pkg/middleware"
	"github.com/platinummonkey/chronicle/pkg/observability"
	"github.com/platinummonkey/chronicle/pkg/retention"
	"github.com/platinummonkey/chronicle/pkg/storage"
	"github.com/platinummonkey/chronicle/pkg/storage/backend"
	"github.com/platinummonkey/chronicle/pkg/storage/redisstore"
)

// version is set at build time.
var version = "dev"

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		logrus.WithError(err).Fatal("Failed to load configuration")
	}

	logger := observability.NewLogger(cfg.Observability.LogLevel.String(), os.Stdout)
	logger.WithFields(logrus.Fields{
		"version": version,
		"storage": cfg.Storage.Type,
	}).Info("Starting chronicle server")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	policy, err := cfg.Audit.LoadPolicy()
	if err != nil {
		logger.WithError(err).Fatal("Failed to load audit policy")
	}

	otelCfg := cfg.Observability.OTel
	otelCfg.Attributes = observability.DeploymentAttributes(cfg.Storage.Type, policy.Enabled, auditedCollections(policy))
	providers, err := observability.InitOTel(ctx, otelCfg, logger)
	if err != nil {
		logger.WithError(err).Fatal("Failed to initialize OpenTelemetry")
	}
	otelMetrics, err := observability.NewOTelMetrics()
	if err != nil {
		logger.WithError(err).Fatal("Failed to create OpenTelemetry metrics")
	}

	registry := prometheus.NewRegistry()
	var metrics *observability.Metrics
	if cfg.Observability.MetricsEnabled {
		registry.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
		metrics = observability.NewMetrics(registry)
	}

	driver, err := backend.Open(ctx, cfg.Storage, logger, otelMetrics)
	if err != nil {
		logger.WithError(err).Fatal("Failed to open storage")
	}

	db, err := chronicle.New(driver, policy,
		chronicle.WithLogger(logger),
		chronicle.WithMetrics(metrics),
		chronicle.WithOTelMetrics(otelMetrics),
	)
	if err != nil {
		logger.WithError(err).Fatal("Failed to create database")
	}

	if cfg.Audit.WatchPolicy {
		go func() {
			defer observability.RecoverPanic(logger, "policy watcher")
			err := audit.WatchPolicyFile(ctx, cfg.Audit.PolicyFile, logger, func(p audit.Policy) {
				if err := db.SetPolicy(p); err != nil {
					logger.WithError(err).Warn("Rejected audit policy")
				}
			})
			if err != nil {
				logger.WithError(err).Error("Audit policy watcher stopped")
			}
		}()
	}

	health := observability.NewHealthChecker(version)
	health.Register("storage", db, true)

	var archiver *archive.Archiver
	if cfg.Archive.Enabled() {
		store, err := archive.NewS3Store(ctx, cfg.Archive.S3)
		if err != nil {
			logger.WithError(err).Fatal("Failed to open archive bucket")
		}
		health.Register("archive", store, false)
		archiver = archive.NewArchiver(store,
			archive.WithPrefix(cfg.Archive.Prefix),
			archive.WithLogger(logger),
			archive.WithMetrics(otelMetrics),
		)
		logger.WithField("bucket", store.Bucket()).Info("History archive enabled")
	}

	var scheduler *retention.Scheduler
	if cfg.Retention.Enabled {
		opts := []retention.Option{
			retention.WithLogger(logger),
			retention.WithMetrics(otelMetrics),
		}
		if cfg.Retention.Archive {
			opts = append(opts, retention.WithArchiver(archiver))
		}
		pruner, err := retention.NewPruner(db, retention.Config{
			MaxAge:      cfg.Retention.MaxAge,
			Collections: cfg.Retention.Collections,
			Concurrency: cfg.Retention.Concurrency,
		}, opts...)
		if err != nil {
			logger.WithError(err).Fatal("Failed to create retention pruner")
		}
		scheduler, err = retention.NewScheduler(pruner, cfg.Retention.Schedule, cfg.Retention.Timeout)
		if err != nil {
			logger.WithError(err).Fatal("Failed to schedule retention")
		}
		scheduler.Start()
		logger.WithFields(logrus.Fields{
			"schedule":    cfg.Retention.Schedule,
			"max_age":     cfg.Retention.MaxAge.String(),
			"collections": cfg.Retention.Collections,
		}).Info("History retention scheduled")
	}

	serverOpts := []api.Option{
		api.WithLogger(logger),
		api.WithHealthChecker(health),
	}
	if metrics != nil {
		serverOpts = append(serverOpts, api.WithMetrics(metrics, registry))
	}

	var redisClient *redis.Client
	if rl := cfg.Server.RateLimit; rl.Enabled {
		limitCfg := middleware.RateLimitConfig{
			RequestsPerWindow: rl.Requests,
			WindowDuration:    rl.Window,
			BurstSize:         rl.Burst,
		}
		if rl.RedisURL != "" {
			redisClient, err = redisstore.NewClient(ctx, storage.Config{RedisURL: rl.RedisURL})
			if err != nil {
				logger.WithError(err).Fatal("Failed to connect rate limit redis")
			}
			health.Register("ratelimit", observability.PingFunc(func(ctx context.Context) error {
				return redisClient.Ping(ctx).Err()
			}), false)
			serverOpts = append(serverOpts, api.WithRateLimit(middleware.NewRedisLimiter(redisClient, limitCfg, "chronicle:ratelimit")))
		} else {
			limiter := middleware.NewMemoryLimiter(limitCfg)
			limiter.StartCleanup(ctx)
			serverOpts = append(serverOpts, api.WithRateLimit(limiter))
		}
	}

	var handler http.Handler = api.NewServer(db, serverOpts...)
	if cfg.Observability.OTel.Enabled {
		handler = otelhttp.NewHandler(handler, "chronicle-api")
	}

	httpServer := &http.Server{
		Addr:         cfg.Server.Addr(),
		Handler:      handler,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	shutdown := observability.NewShutdownManager(logger, httpServer, cfg.Server.ShutdownTimeout)
	shutdown.Register(observability.PhaseStop, "policy-watcher", func(context.Context) error {
		cancel()
		return nil
	})
	if scheduler != nil {
		shutdown.Register(observability.PhaseStop, "retention", scheduler.Stop)
	}
	shutdown.Register(observability.PhaseClose, "storage", db.Close)
	if redisClient != nil {
		shutdown.Register(observability.PhaseClose, "ratelimit-redis", func(context.Context) error {
			return redisClient.Close()
		})
	}
	shutdown.Register(observability.PhaseFlush, "otel", func(ctx context.Context) error {
		return observability.ShutdownOTel(ctx, providers, logger)
	})

	serveCtx, stopServing := context.WithCancel(ctx)
	go func() {
		defer stopServing()
		logger.WithField("addr", httpServer.Addr).Info("HTTP server listening")
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.WithError(err).Error("HTTP server failed")
		}
	}()

	if err := shutdown.WaitForShutdown(serveCtx); err != nil {
		logger.WithError(err).Error("Shutdown finished with errors")
		os.Exit(1)
	}
	logger.Info("Chronicle server stopped")
}

// auditedCollections lists the collections the policy audits explicitly.
func auditedCollections(p audit.Policy) []string {
	var names []string
	for name, on := range p.Collections {
		if on {
			names = append(names, name)
		}
	}
	return names
}
