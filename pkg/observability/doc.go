// Package observability provides structured logging, Prometheus metrics,
// OpenTelemetry setup, health checks and graceful shutdown.
//
// # Structured Logging
//
// Loggers are logrus loggers with a JSON formatter:
//
//	logger := observability.NewLogger("debug", os.Stderr)
//	logger.WithField("collection", "users").Info("collection opened")
//
// FromContext returns an entry carrying the request ID and active trace:
//
//	observability.FromContext(ctx).Warn("history row rejected")
//
// # Prometheus Metrics
//
//	metrics := observability.NewMetrics(prometheus.DefaultRegisterer)
//	metrics.ObserveOperation("users", "update", start, err)
//	metrics.AddHistoryRows("users", 1)
//
// A nil *Metrics is valid and records nothing.
//
// # Health Checks
//
//	checker := observability.NewHealthChecker(version)
//	checker.Register("store", db, true)
//	checker.Register("archive", archiver, false)
//
// # OpenTelemetry
//
// Resources carry the storage type and audit policy of the process:
//
//	cfg.OTel.Attributes = observability.DeploymentAttributes("postgres", true, []string{"users"})
//	providers, err := observability.InitOTel(ctx, cfg.OTel, logger)
//
// # Graceful Shutdown
//
// Hooks run by phase after the HTTP server drains: background work stops,
// then storage closes, then telemetry flushes.
//
//	sm := observability.NewShutdownManager(logger, server, 30*time.Second)
//	sm.Register(observability.PhaseStop, "retention", scheduler.Stop)
//	sm.Register(observability.PhaseClose, "storage", db.Close)
//	sm.Register(observability.PhaseFlush, "otel", func(ctx context.Context) error {
//		return observability.ShutdownOTel(ctx, providers, logger)
//	})
//
// # Related Packages
//
//   - pkg/config: Observability configuration
//   - pkg/api: HTTP metrics middleware
package observability
