package qemu

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

// Metrics holds the metrics instruments for synthesis runs.
type Metrics struct {
	Duration    metric.Float64Histogram
	ErrorsTotal metric.Int64Counter
	tracer      trace.Tracer
}

// SynthMetrics is the global metrics instance for the qemu package.
// Set this via SetMetrics() during application initialization.
var SynthMetrics *Metrics

// SetMetrics sets the global metrics instance.
func SetMetrics(m *Metrics) {
	SynthMetrics = m
}

// NewMetrics creates synthesis metrics instruments.
// If meter is nil, returns nil (metrics disabled).
func NewMetrics(meter metric.Meter, tracer trace.Tracer) (*Metrics, error) {
	if meter == nil {
		return nil, nil
	}

	duration, err := meter.Float64Histogram(
		"qsynth_synthesis_duration_seconds",
		metric.WithDescription("Time to synthesize a QEMU command line"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	errorsTotal, err := meter.Int64Counter(
		"qsynth_synthesis_errors_total",
		metric.WithDescription("Total number of failed synthesis runs"),
	)
	if err != nil {
		return nil, err
	}

	return &Metrics{
		Duration:    duration,
		ErrorsTotal: errorsTotal,
		tracer:      tracer,
	}, nil
}

// RecordRun records the duration and outcome of one synthesis run.
func (m *Metrics) RecordRun(ctx context.Context, machine string, start time.Time, err error) {
	if m == nil {
		return
	}

	status := "success"
	if err != nil {
		status = "error"
		m.ErrorsTotal.Add(ctx, 1,
			metric.WithAttributes(attribute.String("kind", KindOf(err))))
	}

	m.Duration.Record(ctx, time.Since(start).Seconds(),
		metric.WithAttributes(
			attribute.String("machine", machine),
			attribute.String("status", status),
		))
}

// startSpan opens a span when tracing is configured.
func (m *Metrics) startSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	if m == nil || m.tracer == nil {
		return ctx, trace.SpanFromContext(context.Background())
	}
	return m.tracer.Start(ctx, name, trace.WithAttributes(attrs...))
}
