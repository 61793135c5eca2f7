package blogcore

import (
	"context"
	"log/slog"
	"os"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/trace"
)

const (
	tracerName = "github.com/hypergopher/blogcore"
	meterName  = "github.com/hypergopher/blogcore"
)

// Metrics holds the OpenTelemetry metric instruments
type Metrics struct {
	PostsCreated  metric.Int64Counter
	PostsUpdated  metric.Int64Counter
	PostsDeleted  metric.Int64Counter
	OperationErrs metric.Int64Counter
}

// initMetrics creates all metric instruments. An instrument the meter refuses is
// logged and replaced with a no-op counter so the blog keeps working without it.
func initMetrics(meter metric.Meter, logger *slog.Logger) *Metrics {
	return &Metrics{
		PostsCreated:  newCounter(meter, logger, "blogcore.posts.created", "Total number of posts created", "{post}"),
		PostsUpdated:  newCounter(meter, logger, "blogcore.posts.updated", "Total number of posts updated", "{post}"),
		PostsDeleted:  newCounter(meter, logger, "blogcore.posts.deleted", "Total number of posts deleted", "{post}"),
		OperationErrs: newCounter(meter, logger, "blogcore.operation.errors", "Total number of failed blog operations", "{error}"),
	}
}

func newCounter(meter metric.Meter, logger *slog.Logger, name, description, unit string) metric.Int64Counter {
	counter, err := meter.Int64Counter(name,
		metric.WithDescription(description),
		metric.WithUnit(unit),
	)
	if err != nil || counter == nil {
		logger.Warn("failed to create metric instrument", slog.String("name", name), slog.Any("error", err))
		return noop.Int64Counter{}
	}
	return counter
}

func defaultLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr,
		&slog.HandlerOptions{
			AddSource: false,
			Level:     slog.LevelInfo,
		}))
}

// startSpan starts a span for a blog operation
func (b *Blog) startSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return b.tracer.Start(ctx, "blogcore."+name, trace.WithAttributes(attrs...))
}

// endSpan records err on the span and the error counter, then ends the span
func (b *Blog) endSpan(ctx context.Context, span trace.Span, operation string, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		b.metrics.OperationErrs.Add(ctx, 1, metric.WithAttributes(attribute.String("operation", operation)))
	}
	span.End()
}

func defaultTracer() trace.Tracer {
	return otel.Tracer(tracerName)
}

func defaultMeter() metric.Meter {
	return otel.Meter(meterName)
}
