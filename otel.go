package credvault

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

const (
	instrumentationName = "github.com/skedia/credvault"
)

// otelInstrumentation holds OpenTelemetry instrumentation for the vault.
type otelInstrumentation struct {
	enabled bool

	// Tracing
	tracingEnabled bool
	tracer         trace.Tracer

	// Metrics
	metricsEnabled bool

	// Record operations
	addLatency    metric.Float64Histogram
	addCount      metric.Int64Counter
	addErrors     metric.Int64Counter
	updateLatency metric.Float64Histogram
	updateCount   metric.Int64Counter
	updateErrors  metric.Int64Counter
	deleteLatency metric.Float64Histogram
	deleteCount   metric.Int64Counter
	deleteErrors  metric.Int64Counter
	getLatency    metric.Float64Histogram
	getCount      metric.Int64Counter
	getErrors     metric.Int64Counter

	// Batch reconciliation
	batchLatency     metric.Float64Histogram
	batchCount       metric.Int64Counter
	batchErrors      metric.Int64Counter
	batchAdded       metric.Int64Counter
	batchReactivated metric.Int64Counter
	batchSkipped     metric.Int64Counter

	// Liveness sweeps
	sweepLatency metric.Float64Histogram
	sweepCount   metric.Int64Counter
	sweepErrors  metric.Int64Counter
	sweepRemoved metric.Int64Counter
}

// newOtelInstrumentation creates new OTel instrumentation from options.
func newOtelInstrumentation(opts *options) (*otelInstrumentation, error) {
	o := &otelInstrumentation{
		enabled:        opts.tracingEnabled || opts.metricsEnabled,
		tracingEnabled: opts.tracingEnabled,
		metricsEnabled: opts.metricsEnabled,
	}

	if !o.enabled {
		return o, nil
	}

	// Initialize tracer
	if opts.tracingEnabled {
		tp := opts.tracerProvider
		if tp == nil {
			tp = otel.GetTracerProvider()
		}
		o.tracer = tp.Tracer(instrumentationName)
	}

	// Initialize metrics
	if opts.metricsEnabled {
		mp := opts.meterProvider
		if mp == nil {
			mp = otel.GetMeterProvider()
		}
		if err := o.initMetrics(mp); err != nil {
			return nil, err
		}
	}

	return o, nil
}

// initMetrics initializes all metric instruments.
func (o *otelInstrumentation) initMetrics(mp metric.MeterProvider) error {
	meter := mp.Meter(instrumentationName)

	var err error

	// Add metrics
	o.addLatency, err = meter.Float64Histogram(
		"credvault.add.duration",
		metric.WithDescription("Duration of add operations"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return err
	}

	o.addCount, err = meter.Int64Counter(
		"credvault.add.count",
		metric.WithDescription("Number of records added"),
	)
	if err != nil {
		return err
	}

	o.addErrors, err = meter.Int64Counter(
		"credvault.add.errors",
		metric.WithDescription("Number of add errors"),
	)
	if err != nil {
		return err
	}

	// Update metrics
	o.updateLatency, err = meter.Float64Histogram(
		"credvault.update.duration",
		metric.WithDescription("Duration of update operations"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return err
	}

	o.updateCount, err = meter.Int64Counter(
		"credvault.update.count",
		metric.WithDescription("Number of update operations"),
	)
	if err != nil {
		return err
	}

	o.updateErrors, err = meter.Int64Counter(
		"credvault.update.errors",
		metric.WithDescription("Number of update errors"),
	)
	if err != nil {
		return err
	}

	// Delete metrics (soft and physical)
	o.deleteLatency, err = meter.Float64Histogram(
		"credvault.delete.duration",
		metric.WithDescription("Duration of delete operations"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return err
	}

	o.deleteCount, err = meter.Int64Counter(
		"credvault.delete.count",
		metric.WithDescription("Number of delete operations"),
	)
	if err != nil {
		return err
	}

	o.deleteErrors, err = meter.Int64Counter(
		"credvault.delete.errors",
		metric.WithDescription("Number of delete errors"),
	)
	if err != nil {
		return err
	}

	// Get metrics
	o.getLatency, err = meter.Float64Histogram(
		"credvault.get.duration",
		metric.WithDescription("Duration of get operations"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return err
	}

	o.getCount, err = meter.Int64Counter(
		"credvault.get.count",
		metric.WithDescription("Number of get operations"),
	)
	if err != nil {
		return err
	}

	o.getErrors, err = meter.Int64Counter(
		"credvault.get.errors",
		metric.WithDescription("Number of get errors"),
	)
	if err != nil {
		return err
	}

	// Batch metrics
	o.batchLatency, err = meter.Float64Histogram(
		"credvault.batch.duration",
		metric.WithDescription("Duration of batch reconciliation"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return err
	}

	o.batchCount, err = meter.Int64Counter(
		"credvault.batch.count",
		metric.WithDescription("Number of batch reconciliations"),
	)
	if err != nil {
		return err
	}

	o.batchErrors, err = meter.Int64Counter(
		"credvault.batch.errors",
		metric.WithDescription("Number of batch reconciliation errors"),
	)
	if err != nil {
		return err
	}

	o.batchAdded, err = meter.Int64Counter(
		"credvault.batch.added",
		metric.WithDescription("Records added by batch reconciliation"),
	)
	if err != nil {
		return err
	}

	o.batchReactivated, err = meter.Int64Counter(
		"credvault.batch.reactivated",
		metric.WithDescription("Records reactivated by batch reconciliation"),
	)
	if err != nil {
		return err
	}

	o.batchSkipped, err = meter.Int64Counter(
		"credvault.batch.skipped",
		metric.WithDescription("Records skipped by batch reconciliation"),
	)
	if err != nil {
		return err
	}

	// Sweep metrics
	o.sweepLatency, err = meter.Float64Histogram(
		"credvault.sweep.duration",
		metric.WithDescription("Duration of liveness sweeps"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return err
	}

	o.sweepCount, err = meter.Int64Counter(
		"credvault.sweep.count",
		metric.WithDescription("Number of liveness sweeps"),
	)
	if err != nil {
		return err
	}

	o.sweepErrors, err = meter.Int64Counter(
		"credvault.sweep.errors",
		metric.WithDescription("Number of transient probe errors"),
	)
	if err != nil {
		return err
	}

	o.sweepRemoved, err = meter.Int64Counter(
		"credvault.sweep.removed",
		metric.WithDescription("Records retired by liveness sweeps"),
	)
	if err != nil {
		return err
	}

	return nil
}

// startSpan starts a new span if tracing is enabled.
// The returned func records the outcome and ends the span.
func (o *otelInstrumentation) startSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, func(error)) {
	if !o.tracingEnabled || o.tracer == nil {
		return ctx, func(error) {}
	}
	ctx, span := o.tracer.Start(ctx, name,
		trace.WithAttributes(attrs...),
		trace.WithSpanKind(trace.SpanKindInternal),
	)
	return ctx, func(err error) {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		} else {
			span.SetStatus(codes.Ok, "")
		}
		span.End()
	}
}

// recordAdd records add operation metrics.
func (o *otelInstrumentation) recordAdd(ctx context.Context, duration time.Duration, reactivated bool, err error) {
	if !o.metricsEnabled {
		return
	}

	attrs := metric.WithAttributes(
		attribute.Bool("reactivated", reactivated),
	)

	o.addLatency.Record(ctx, duration.Seconds(), attrs)
	o.addCount.Add(ctx, 1, attrs)
	if err != nil {
		o.addErrors.Add(ctx, 1, attrs)
	}
}

// recordUpdate records update operation metrics.
func (o *otelInstrumentation) recordUpdate(ctx context.Context, duration time.Duration, err error) {
	if !o.metricsEnabled {
		return
	}

	o.updateLatency.Record(ctx, duration.Seconds())
	o.updateCount.Add(ctx, 1)
	if err != nil {
		o.updateErrors.Add(ctx, 1)
	}
}

// recordDelete records delete operation metrics.
func (o *otelInstrumentation) recordDelete(ctx context.Context, duration time.Duration, permanent bool, err error) {
	if !o.metricsEnabled {
		return
	}

	attrs := metric.WithAttributes(
		attribute.Bool("permanent", permanent),
	)

	o.deleteLatency.Record(ctx, duration.Seconds(), attrs)
	o.deleteCount.Add(ctx, 1, attrs)
	if err != nil {
		o.deleteErrors.Add(ctx, 1, attrs)
	}
}

// recordGet records get operation metrics.
func (o *otelInstrumentation) recordGet(ctx context.Context, duration time.Duration, err error) {
	if !o.metricsEnabled {
		return
	}

	o.getLatency.Record(ctx, duration.Seconds())
	o.getCount.Add(ctx, 1)
	if err != nil {
		o.getErrors.Add(ctx, 1)
	}
}

// recordBatch records batch reconciliation metrics.
func (o *otelInstrumentation) recordBatch(ctx context.Context, duration time.Duration, added, reactivated, skipped int, err error) {
	if !o.metricsEnabled {
		return
	}

	o.batchLatency.Record(ctx, duration.Seconds())
	o.batchCount.Add(ctx, 1)
	o.batchAdded.Add(ctx, int64(added))
	o.batchReactivated.Add(ctx, int64(reactivated))
	o.batchSkipped.Add(ctx, int64(skipped))
	if err != nil {
		o.batchErrors.Add(ctx, 1)
	}
}

// recordSweep records liveness sweep metrics.
func (o *otelInstrumentation) recordSweep(ctx context.Context, duration time.Duration, checked, removed, probeErrors int) {
	if !o.metricsEnabled {
		return
	}

	attrs := metric.WithAttributes(
		attribute.Int("checked", checked),
	)

	o.sweepLatency.Record(ctx, duration.Seconds(), attrs)
	o.sweepCount.Add(ctx, 1, attrs)
	o.sweepRemoved.Add(ctx, int64(removed), attrs)
	o.sweepErrors.Add(ctx, int64(probeErrors), attrs)
}
