// Package telemetry exposes governance metrics through the OpenTelemetry API.
// A nil *Metrics is valid and records nothing.
package telemetry

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
)

const meterName = "github.com/Mutual-Roots/Ford-Perfect"

// Metrics holds the instruments recorded by the gate, the controller and the store.
type Metrics struct {
	decisions     metric.Int64Counter
	pending       metric.Int64UpDownCounter
	transitions   metric.Int64Counter
	appendLatency metric.Float64Histogram
	storageFaults metric.Int64Counter
}

// NewMetrics creates every instrument on meter.
func NewMetrics(meter metric.Meter) (*Metrics, error) {
	var (
		m   Metrics
		err error
	)
	m.decisions, err = meter.Int64Counter("warden.decisions.total",
		metric.WithDescription("Terminal gate decisions committed"),
		metric.WithUnit("{decision}"),
	)
	if err != nil {
		return nil, fmt.Errorf("telemetry: decisions counter: %w", err)
	}
	m.pending, err = meter.Int64UpDownCounter("warden.approvals.pending",
		metric.WithDescription("Open pending approvals"),
		metric.WithUnit("{approval}"),
	)
	if err != nil {
		return nil, fmt.Errorf("telemetry: pending gauge: %w", err)
	}
	m.transitions, err = meter.Int64Counter("warden.state.transitions.total",
		metric.WithDescription("Operational state transitions applied"),
		metric.WithUnit("{transition}"),
	)
	if err != nil {
		return nil, fmt.Errorf("telemetry: transitions counter: %w", err)
	}
	m.appendLatency, err = meter.Float64Histogram("warden.audit.append.duration",
		metric.WithDescription("Audit append latency in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0),
	)
	if err != nil {
		return nil, fmt.Errorf("telemetry: append histogram: %w", err)
	}
	m.storageFaults, err = meter.Int64Counter("warden.audit.faults.total",
		metric.WithDescription("Audit writes that failed"),
		metric.WithUnit("{fault}"),
	)
	if err != nil {
		return nil, fmt.Errorf("telemetry: faults counter: %w", err)
	}
	return &m, nil
}

// Decision counts one committed gate decision.
func (m *Metrics) Decision(ctx context.Context, tier, decision string) {
	if m == nil {
		return
	}
	m.decisions.Add(ctx, 1, metric.WithAttributes(
		attribute.String("tier", tier),
		attribute.String("decision", decision),
	))
}

// PendingOpened increments the open approvals gauge.
func (m *Metrics) PendingOpened(ctx context.Context, tier string) {
	if m == nil {
		return
	}
	m.pending.Add(ctx, 1, metric.WithAttributes(attribute.String("tier", tier)))
}

// PendingClosed decrements the open approvals gauge.
func (m *Metrics) PendingClosed(ctx context.Context, tier string) {
	if m == nil {
		return
	}
	m.pending.Add(ctx, -1, metric.WithAttributes(attribute.String("tier", tier)))
}

// Transition counts one applied state transition.
func (m *Metrics) Transition(ctx context.Context, from, to string) {
	if m == nil {
		return
	}
	m.transitions.Add(ctx, 1, metric.WithAttributes(
		attribute.String("from", from),
		attribute.String("to", to),
	))
}

// AppendLatency records how long one audit append took.
func (m *Metrics) AppendLatency(ctx context.Context, d time.Duration) {
	if m == nil {
		return
	}
	m.appendLatency.Record(ctx, d.Seconds())
}

// StorageFault counts one failed audit write.
func (m *Metrics) StorageFault(ctx context.Context, component string) {
	if m == nil {
		return
	}
	m.storageFaults.Add(ctx, 1, metric.WithAttributes(attribute.String("component", component)))
}

// Setup builds Metrics. With an empty endpoint instruments are backed by a
// noop provider; otherwise they are exported over OTLP/gRPC.
// The returned shutdown func flushes the exporter.
func Setup(ctx context.Context, endpoint, version string) (*Metrics, func(context.Context) error, error) {
	if endpoint == "" {
		m, err := NewMetrics(noop.NewMeterProvider().Meter(meterName))
		return m, func(context.Context) error { return nil }, err
	}

	exporter, err := otlpmetricgrpc.New(ctx,
		otlpmetricgrpc.WithEndpoint(endpoint),
		otlpmetricgrpc.WithInsecure(),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("telemetry: create metric exporter: %w", err)
	}

	res := resource.NewSchemaless(
		attribute.String("service.name", "warden"),
		attribute.String("service.version", version),
	)
	provider := sdkmetric.NewMeterProvider(
		sdkmetric.WithResource(res),
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(exporter,
			sdkmetric.WithInterval(15*time.Second),
		)),
	)

	m, err := NewMetrics(provider.Meter(meterName, metric.WithInstrumentationVersion(version)))
	if err != nil {
		_ = provider.Shutdown(ctx)
		return nil, nil, err
	}
	return m, provider.Shutdown, nil
}
