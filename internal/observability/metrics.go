package observability

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// LoaderMetrics holds the metric instruments of the store and loader. A nil
// *LoaderMetrics is valid and records nothing.
type LoaderMetrics struct {
	executionDuration metric.Float64Histogram
	executions        metric.Int64Counter
	fetchDuration     metric.Float64Histogram
	fetches           metric.Int64Counter
	fetchRows         metric.Int64Histogram
	levelKeys         metric.Int64Histogram
	registryHits      metric.Int64Counter
	registryMisses    metric.Int64Counter
	fetchesSaved      metric.Int64Counter
	trackedEntries    metric.Int64UpDownCounter
}

// InitLoaderMetrics creates the instruments on the global meter provider.
func InitLoaderMetrics() (*LoaderMetrics, error) {
	return NewLoaderMetrics(otel.Meter("navload"))
}

// NewLoaderMetrics creates the instruments on meter.
func NewLoaderMetrics(meter metric.Meter) (*LoaderMetrics, error) {
	var m LoaderMetrics
	var err error

	if m.executionDuration, err = meter.Float64Histogram(
		"navload.execution.duration",
		metric.WithDescription("Duration of terminal loader executions in milliseconds"),
		metric.WithUnit("ms"),
	); err != nil {
		return nil, fmt.Errorf("failed to create execution duration histogram: %w", err)
	}
	if m.executions, err = meter.Int64Counter(
		"navload.executions.total",
		metric.WithDescription("Total number of terminal loader executions"),
	); err != nil {
		return nil, fmt.Errorf("failed to create execution counter: %w", err)
	}
	if m.fetchDuration, err = meter.Float64Histogram(
		"navload.fetch.duration",
		metric.WithDescription("Duration of store fetches in milliseconds"),
		metric.WithUnit("ms"),
	); err != nil {
		return nil, fmt.Errorf("failed to create fetch duration histogram: %w", err)
	}
	if m.fetches, err = meter.Int64Counter(
		"navload.fetches.total",
		metric.WithDescription("Total number of store fetches"),
	); err != nil {
		return nil, fmt.Errorf("failed to create fetch counter: %w", err)
	}
	if m.fetchRows, err = meter.Int64Histogram(
		"navload.fetch.rows",
		metric.WithDescription("Number of rows returned by a store fetch"),
	); err != nil {
		return nil, fmt.Errorf("failed to create fetch rows histogram: %w", err)
	}
	if m.levelKeys, err = meter.Int64Histogram(
		"navload.level.owner_keys",
		metric.WithDescription("Number of owner keys driving one navigation level"),
	); err != nil {
		return nil, fmt.Errorf("failed to create level keys histogram: %w", err)
	}
	if m.registryHits, err = meter.Int64Counter(
		"navload.registry.hits",
		metric.WithDescription("Navigation levels served from the loaded-navigation registry"),
	); err != nil {
		return nil, fmt.Errorf("failed to create registry hits counter: %w", err)
	}
	if m.registryMisses, err = meter.Int64Counter(
		"navload.registry.misses",
		metric.WithDescription("Navigation levels not found in the loaded-navigation registry"),
	); err != nil {
		return nil, fmt.Errorf("failed to create registry misses counter: %w", err)
	}
	if m.fetchesSaved, err = meter.Int64Counter(
		"navload.fetches.saved",
		metric.WithDescription("Fetches avoided by join combination or registry reuse"),
	); err != nil {
		return nil, fmt.Errorf("failed to create fetches saved counter: %w", err)
	}
	if m.trackedEntries, err = meter.Int64UpDownCounter(
		"navload.session.tracked",
		metric.WithDescription("Records attached to the identity-map session"),
	); err != nil {
		return nil, fmt.Errorf("failed to create tracked entries counter: %w", err)
	}
	return &m, nil
}

// RecordExecution records one terminal call.
func (m *LoaderMetrics) RecordExecution(ctx context.Context, terminal string, duration time.Duration, err error) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(
		attribute.String("terminal", terminal),
		attribute.Bool("has_error", err != nil),
	)
	m.executionDuration.Record(ctx, float64(duration.Milliseconds()), attrs)
	m.executions.Add(ctx, 1, attrs)
}

// RecordFetch records one store fetch.
func (m *LoaderMetrics) RecordFetch(ctx context.Context, entity string, rows int, duration time.Duration, err error) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(
		attribute.String("entity", entity),
		attribute.Bool("has_error", err != nil),
	)
	m.fetchDuration.Record(ctx, float64(duration.Milliseconds()), attrs)
	m.fetches.Add(ctx, 1, attrs)
	if err == nil {
		m.fetchRows.Record(ctx, int64(rows), metric.WithAttributes(attribute.String("entity", entity)))
	}
}

// RecordLevel records the owner batch size of a navigation level.
func (m *LoaderMetrics) RecordLevel(ctx context.Context, navigation, strategy string, ownerKeys int) {
	if m == nil {
		return
	}
	m.levelKeys.Record(ctx, int64(ownerKeys), metric.WithAttributes(
		attribute.String("navigation", navigation),
		attribute.String("strategy", strategy),
	))
}

// RecordRegistryLookup records a loaded-navigation registry hit or miss.
func (m *LoaderMetrics) RecordRegistryLookup(ctx context.Context, navigation string, hit bool) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(attribute.String("navigation", navigation))
	if hit {
		m.registryHits.Add(ctx, 1, attrs)
		return
	}
	m.registryMisses.Add(ctx, 1, attrs)
}

// RecordFetchesSaved records fetches avoided for a reason such as "join" or "registry".
func (m *LoaderMetrics) RecordFetchesSaved(ctx context.Context, count int64, reason string) {
	if m == nil || count <= 0 {
		return
	}
	m.fetchesSaved.Add(ctx, count, metric.WithAttributes(attribute.String("reason", reason)))
}

// RecordTracked adjusts the tracked-entry gauge.
func (m *LoaderMetrics) RecordTracked(ctx context.Context, delta int64) {
	if m == nil || delta == 0 {
		return
	}
	m.trackedEntries.Add(ctx, delta)
}
