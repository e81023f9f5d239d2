// internal/common/observability/telemetry.go
package observability

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/prometheus"
	otelmetric "go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/trace"
)

// Observability bundles the otel meter and tracer used by the processor.
type Observability struct {
	meterProvider *metric.MeterProvider
	tracer        trace.Tracer
	passCounter   otelmetric.Int64Counter
	jobDuration   otelmetric.Float64Histogram
}

// New wires an otel meter provider backed by the Prometheus exporter, so the
// otel instruments are served on the same /metrics endpoint as promauto ones.
func New(serviceName string) (*Observability, error) {
	exporter, err := prometheus.New()
	if err != nil {
		return nil, err
	}

	provider := metric.NewMeterProvider(metric.WithReader(exporter))
	otel.SetMeterProvider(provider)

	o := newWithMeter(serviceName, provider.Meter(serviceName))
	o.meterProvider = provider
	return o, nil
}

// NewNoop returns an Observability whose instruments discard everything.
func NewNoop() *Observability {
	return newWithMeter("noop", noop.NewMeterProvider().Meter("noop"))
}

func newWithMeter(serviceName string, meter otelmetric.Meter) *Observability {
	passCounter, _ := meter.Int64Counter(
		"notification.passes",
		otelmetric.WithDescription("Number of processing passes run"),
	)
	jobDuration, _ := meter.Float64Histogram(
		"notification.job.duration",
		otelmetric.WithDescription("Per-job processing duration"),
		otelmetric.WithUnit("ms"),
	)

	return &Observability{
		tracer:      otel.Tracer(serviceName),
		passCounter: passCounter,
		jobDuration: jobDuration,
	}
}

// StartSpan starts a span with the given attributes.
func (o *Observability) StartSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return o.tracer.Start(ctx, name, trace.WithAttributes(attrs...))
}

func (o *Observability) RecordPass(ctx context.Context, outcome string) {
	if o.passCounter != nil {
		o.passCounter.Add(ctx, 1, otelmetric.WithAttributes(
			attribute.String("outcome", outcome),
		))
	}
}

func (o *Observability) RecordJobDuration(ctx context.Context, duration time.Duration, outcome string) {
	if o.jobDuration != nil {
		o.jobDuration.Record(ctx, float64(duration.Milliseconds()), otelmetric.WithAttributes(
			attribute.String("outcome", outcome),
		))
	}
}

func (o *Observability) Shutdown(ctx context.Context) error {
	if o.meterProvider == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	return o.meterProvider.Shutdown(ctx)
}
