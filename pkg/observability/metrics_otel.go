package observability

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// OTelMetrics holds OpenTelemetry metric instruments for the background and
// wiring layers. Instruments come from the global meter provider, so they are
// no-ops until InitOTel installs an exporter.
type OTelMetrics struct {
	// Handle cache metrics
	cacheHitsTotal   metric.Int64Counter
	cacheMissesTotal metric.Int64Counter

	// Object storage metrics
	storageOperations metric.Int64Counter
	storageDuration   metric.Float64Histogram
	storageBytes      metric.Int64Histogram

	// Job metrics
	jobRuns     metric.Int64Counter
	jobDuration metric.Float64Histogram
}

// NewOTelMetrics creates a new OTel metrics instance
func NewOTelMetrics() (*OTelMetrics, error) {
	meter := otel.Meter("github.com/platinummonkey/chronicle")

	m := &OTelMetrics{}
	var err error

	m.cacheHitsTotal, err = meter.Int64Counter(
		"chronicle.cache.hits",
		metric.WithDescription("Total number of collection handle cache hits"),
		metric.WithUnit("{hit}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create cache hits counter: %w", err)
	}

	m.cacheMissesTotal, err = meter.Int64Counter(
		"chronicle.cache.misses",
		metric.WithDescription("Total number of collection handle cache misses"),
		metric.WithUnit("{miss}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create cache misses counter: %w", err)
	}

	m.storageOperations, err = meter.Int64Counter(
		"chronicle.object_storage.operations",
		metric.WithDescription("Total number of object storage operations"),
		metric.WithUnit("{operation}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create storage operations counter: %w", err)
	}

	m.storageDuration, err = meter.Float64Histogram(
		"chronicle.object_storage.duration",
		metric.WithDescription("Object storage operation duration in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create storage duration histogram: %w", err)
	}

	m.storageBytes, err = meter.Int64Histogram(
		"chronicle.object_storage.bytes",
		metric.WithDescription("Object size in bytes"),
		metric.WithUnit("By"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create storage bytes histogram: %w", err)
	}

	m.jobRuns, err = meter.Int64Counter(
		"chronicle.job.runs",
		metric.WithDescription("Total number of maintenance job runs"),
		metric.WithUnit("{run}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create job runs counter: %w", err)
	}

	m.jobDuration, err = meter.Float64Histogram(
		"chronicle.job.duration",
		metric.WithDescription("Maintenance job duration in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create job duration histogram: %w", err)
	}

	return m, nil
}

// RecordCacheHit records a cache hit
func (m *OTelMetrics) RecordCacheHit(ctx context.Context, cacheType string) {
	if m == nil {
		return
	}
	m.cacheHitsTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("cache.type", cacheType)))
}

// RecordCacheMiss records a cache miss
func (m *OTelMetrics) RecordCacheMiss(ctx context.Context, cacheType string) {
	if m == nil {
		return
	}
	m.cacheMissesTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("cache.type", cacheType)))
}

// RecordStorageOperation records an object storage operation
func (m *OTelMetrics) RecordStorageOperation(ctx context.Context, operation, storageType string, duration time.Duration, bytes int64, err error) {
	if m == nil {
		return
	}
	attrs := []attribute.KeyValue{
		attribute.String("storage.operation", operation),
		attribute.String("storage.type", storageType),
		attribute.Bool("error", err != nil),
	}

	m.storageOperations.Add(ctx, 1, metric.WithAttributes(attrs...))
	m.storageDuration.Record(ctx, duration.Seconds(), metric.WithAttributes(attrs...))
	if bytes > 0 {
		m.storageBytes.Record(ctx, bytes, metric.WithAttributes(attrs...))
	}
}

// RecordJob records one run of a maintenance job
func (m *OTelMetrics) RecordJob(ctx context.Context, job string, duration time.Duration, err error) {
	if m == nil {
		return
	}
	attrs := []attribute.KeyValue{
		attribute.String("job.name", job),
		attribute.Bool("error", err != nil),
	}
	m.jobRuns.Add(ctx, 1, metric.WithAttributes(attrs...))
	m.jobDuration.Record(ctx, duration.Seconds(), metric.WithAttributes(attrs...))
}
