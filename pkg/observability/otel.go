package observability

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.24.0"
	"go.opentelemetry.io/otel/trace"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

// Resource attributes describing a chronicle deployment.
const (
	StorageTypeKey        = attribute.Key("chronicle.storage.type")
	AuditDefaultKey       = attribute.Key("chronicle.audit.default")
	AuditedCollectionsKey = attribute.Key("chronicle.audit.collections")
)

const exporterDialTimeout = 10 * time.Second

// OTelConfig configures trace and metric export over OTLP/gRPC.
type OTelConfig struct {
	Enabled        bool
	Endpoint       string
	ServiceName    string
	ServiceVersion string
	Insecure       bool
	// SampleRatio is the share of root traces kept. Zero and values of one or
	// more keep every trace.
	SampleRatio    float64
	ExportInterval time.Duration
	// Attributes are added to the service resource, see DeploymentAttributes.
	Attributes []attribute.KeyValue
}

// DefaultOTelConfig returns a disabled configuration for the chronicle service.
func DefaultOTelConfig() OTelConfig {
	return OTelConfig{
		Endpoint:       "localhost:4317",
		ServiceName:    "chronicle",
		ServiceVersion: "dev",
		Insecure:       true,
		SampleRatio:    1,
		ExportInterval: 10 * time.Second,
	}
}

// DeploymentAttributes tags telemetry with the storage backend and the audit
// policy the process runs with. audited lists the collections with an explicit
// policy override that enables auditing.
func DeploymentAttributes(storageType string, auditByDefault bool, audited []string) []attribute.KeyValue {
	names := slices.Clone(audited)
	slices.Sort(names)
	return []attribute.KeyValue{
		StorageTypeKey.String(storageType),
		AuditDefaultKey.Bool(auditByDefault),
		AuditedCollectionsKey.StringSlice(names),
	}
}

// OTelProviders holds the installed providers until ShutdownOTel flushes them.
type OTelProviders struct {
	TracerProvider *sdktrace.TracerProvider
	MeterProvider  *metric.MeterProvider
}

// InitOTel installs global OTLP tracer and meter providers. It returns nil
// providers when export is disabled; the no-op globals stay in place then.
func InitOTel(ctx context.Context, cfg OTelConfig, logger *logrus.Logger) (*OTelProviders, error) {
	if !cfg.Enabled {
		logger.Debug("OpenTelemetry export disabled")
		return nil, nil
	}

	res, err := newResource(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to describe service resource: %w", err)
	}

	var dial []grpc.DialOption
	if cfg.Insecure {
		dial = append(dial, grpc.WithTransportCredentials(insecure.NewCredentials()))
	}

	setupCtx, cancel := context.WithTimeout(ctx, exporterDialTimeout)
	defer cancel()

	spans, err := otlptracegrpc.New(setupCtx,
		otlptracegrpc.WithEndpoint(cfg.Endpoint),
		otlptracegrpc.WithDialOption(dial...),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create trace exporter: %w", err)
	}
	points, err := otlpmetricgrpc.New(setupCtx,
		otlpmetricgrpc.WithEndpoint(cfg.Endpoint),
		otlpmetricgrpc.WithDialOption(dial...),
	)
	if err != nil {
		_ = spans.Shutdown(ctx)
		return nil, fmt.Errorf("failed to create metric exporter: %w", err)
	}

	interval := cfg.ExportInterval
	if interval <= 0 {
		interval = DefaultOTelConfig().ExportInterval
	}
	providers := &OTelProviders{
		TracerProvider: sdktrace.NewTracerProvider(
			sdktrace.WithResource(res),
			sdktrace.WithBatcher(spans),
			sdktrace.WithSampler(Sampler(cfg.SampleRatio)),
		),
		MeterProvider: metric.NewMeterProvider(
			metric.WithResource(res),
			metric.WithReader(metric.NewPeriodicReader(points, metric.WithInterval(interval))),
		),
	}

	otel.SetTracerProvider(providers.TracerProvider)
	otel.SetMeterProvider(providers.MeterProvider)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	logger.WithFields(logrus.Fields{
		"endpoint":        cfg.Endpoint,
		"sample_ratio":    cfg.SampleRatio,
		"export_interval": interval.String(),
	}).Info("OpenTelemetry export enabled")
	return providers, nil
}

func newResource(ctx context.Context, cfg OTelConfig) (*resource.Resource, error) {
	attrs := append([]attribute.KeyValue{
		semconv.ServiceNameKey.String(cfg.ServiceName),
		semconv.ServiceVersionKey.String(cfg.ServiceVersion),
	}, cfg.Attributes...)
	return resource.New(ctx,
		resource.WithAttributes(attrs...),
		resource.WithFromEnv(),
		resource.WithHost(),
		resource.WithProcessRuntimeName(),
	)
}

// Sampler follows the parent's decision and samples root spans at ratio.
func Sampler(ratio float64) sdktrace.Sampler {
	if ratio <= 0 || ratio >= 1 {
		return sdktrace.ParentBased(sdktrace.AlwaysSample())
	}
	return sdktrace.ParentBased(sdktrace.TraceIDRatioBased(ratio))
}

// ShutdownOTel flushes and stops the providers installed by InitOTel.
func ShutdownOTel(ctx context.Context, providers *OTelProviders, logger *logrus.Logger) error {
	if providers == nil {
		return nil
	}

	var errs []error
	if providers.TracerProvider != nil {
		if err := providers.TracerProvider.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("traces: %w", err))
		}
	}
	if providers.MeterProvider != nil {
		if err := providers.MeterProvider.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("metrics: %w", err))
		}
	}
	if err := errors.Join(errs...); err != nil {
		logger.WithError(err).Error("Failed to flush telemetry")
		return fmt.Errorf("failed to flush telemetry: %w", err)
	}

	logger.Info("Telemetry flushed")
	return nil
}

// TraceFields returns the trace and span ids of the span in ctx as log
// fields. It is empty when no span is recording.
func TraceFields(ctx context.Context) logrus.Fields {
	span := trace.SpanFromContext(ctx)
	if !span.IsRecording() {
		return logrus.Fields{}
	}

	spanCtx := span.SpanContext()
	return logrus.Fields{
		"trace_id": spanCtx.TraceID().String(),
		"span_id":  spanCtx.SpanID().String(),
	}
}
