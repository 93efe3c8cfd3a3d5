package store

import (
	"context"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

const instrumentationName = "bloglytics/internal/store"

// queryMetrics holds the OpenTelemetry instruments for rollup queries.
type queryMetrics struct {
	count    metric.Int64Counter
	duration metric.Float64Histogram
	errors   metric.Int64Counter
}

type observer struct {
	logger        *slog.Logger
	tracer        trace.Tracer
	metrics       *queryMetrics
	system        string
	slowThreshold time.Duration
}

// StatsOption configures a StatsStore.
type StatsOption func(*observer)

func WithLogger(logger *slog.Logger) StatsOption {
	return func(o *observer) { o.logger = logger }
}

func WithTracer(tracer trace.Tracer) StatsOption {
	return func(o *observer) { o.tracer = tracer }
}

func WithMeter(meter metric.Meter) StatsOption {
	return func(o *observer) { o.metrics = initMetrics(meter) }
}

func WithSlowQueryThreshold(d time.Duration) StatsOption {
	return func(o *observer) { o.slowThreshold = d }
}

func newObserver(system string, opts ...StatsOption) *observer {
	o := &observer{
		tracer:        otel.Tracer(instrumentationName),
		metrics:       initMetrics(otel.Meter(instrumentationName)),
		system:        system,
		slowThreshold: 200 * time.Millisecond,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

func initMetrics(meter metric.Meter) *queryMetrics {
	count, _ := meter.Int64Counter("bloglytics.stats.query.count",
		metric.WithDescription("Number of statistics queries executed"),
		metric.WithUnit("{query}"),
	)
	duration, _ := meter.Float64Histogram("bloglytics.stats.query.duration",
		metric.WithDescription("Statistics query duration in milliseconds"),
		metric.WithUnit("ms"),
		metric.WithExplicitBucketBoundaries(1, 5, 10, 25, 50, 100, 250, 500, 1000),
	)
	errs, _ := meter.Int64Counter("bloglytics.stats.query.errors",
		metric.WithDescription("Number of failed statistics queries"),
		metric.WithUnit("{error}"),
	)
	return &queryMetrics{count: count, duration: duration, errors: errs}
}

// observe wraps fn with a span, metrics and slow/failed query logging.
func (o *observer) observe(ctx context.Context, op string, fn func(context.Context) error) error {
	ctx, span := o.tracer.Start(ctx, "stats."+op,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("db.system", o.system),
			attribute.String("db.operation", op),
		),
	)
	defer span.End()

	start := time.Now()
	err := fn(ctx)
	elapsed := time.Since(start)

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}

	if o.metrics != nil {
		attrs := metric.WithAttributes(
			attribute.String("db.operation", op),
			attribute.String("db.system", o.system),
		)
		o.metrics.count.Add(ctx, 1, attrs)
		o.metrics.duration.Record(ctx, float64(elapsed.Milliseconds()), attrs)
		if err != nil {
			o.metrics.errors.Add(ctx, 1, attrs)
		}
	}

	if o.logger != nil {
		switch {
		case err != nil:
			o.logger.ErrorContext(ctx, "stats query failed", "op", op, "duration", elapsed, "err", err)
		case elapsed > o.slowThreshold:
			o.logger.WarnContext(ctx, "slow stats query", "op", op, "duration", elapsed)
		}
	}
	return err
}
