package worker

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/wippyai/isolate-runtime/resource"
)

const instrumentationName = "github.com/wippyai/isolate-runtime/worker"

// telemetry holds the host's tracer and counters. Instruments come from the
// global providers, so they are no-ops until the application installs an
// SDK. It observes the host's worker table: inserts count as created
// workers and every insert or drop moves the active gauge.
type telemetry struct {
	tracer     trace.Tracer
	created    metric.Int64Counter
	terminated metric.Int64Counter
	events     metric.Int64Counter
	active     metric.Int64UpDownCounter
}

func newTelemetry() *telemetry {
	meter := otel.Meter(instrumentationName)
	return &telemetry{
		tracer:     otel.Tracer(instrumentationName),
		created:    counter(meter, "isolate.worker.created", "Workers created"),
		terminated: counter(meter, "isolate.worker.terminated", "Workers terminated by their host"),
		events:     counter(meter, "isolate.worker.events", "Worker events delivered to hosts"),
		active:     upDownCounter(meter, "isolate.worker.active", "Workers registered with a host"),
	}
}

func upDownCounter(meter metric.Meter, name, desc string) metric.Int64UpDownCounter {
	c, err := meter.Int64UpDownCounter(name, metric.WithDescription(desc))
	if err != nil {
		Logger().Warn("create counter", zap.String("name", name), zap.Error(err))
		return noop.Int64UpDownCounter{}
	}
	return c
}

// OnResourceEvent implements resource.Observer for the worker table.
func (t *telemetry) OnResourceEvent(e resource.Event) {
	ctx := context.Background()
	switch e.Type {
	case resource.EventCreated:
		t.created.Add(ctx, 1)
		t.active.Add(ctx, 1)
	case resource.EventDropped:
		t.active.Add(ctx, -1)
	}
	Logger().Debug("worker table", zap.Stringer("event", e.Type), zap.Uint32("id", uint32(e.Handle)))
}

func counter(meter metric.Meter, name, desc string) metric.Int64Counter {
	c, err := meter.Int64Counter(name, metric.WithDescription(desc))
	if err != nil {
		Logger().Warn("create counter", zap.String("name", name), zap.Error(err))
		return noop.Int64Counter{}
	}
	return c
}

func (t *telemetry) start(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return t.tracer.Start(ctx, name, trace.WithAttributes(attrs...))
}

func (t *telemetry) event(ctx context.Context, ev Event) {
	t.events.Add(ctx, 1, metric.WithAttributes(attribute.String("event.type", ev.Type.String())))
}

func fail(span trace.Span, err error) {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}
