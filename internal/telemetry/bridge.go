// Package telemetry reports consumer activity through OpenTelemetry.
package telemetry

import (
	"context"
	"fmt"
	"sync/atomic"

	"order-consumer/internal/queue"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	metricnoop "go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
	tracenoop "go.opentelemetry.io/otel/trace/noop"
)

const instrumentationName = "order-consumer/internal/telemetry"

// Bridge implements consumer.Observer and consumer.Tracer.
type Bridge struct {
	tracer     trace.Tracer
	propagator propagation.TextMapPropagator

	received     metric.Int64Counter
	processed    metric.Int64Counter
	failed       metric.Int64Counter
	pollFailures metric.Int64Counter

	circuit atomic.Int64
}

func New(tp trace.TracerProvider, mp metric.MeterProvider, propagator propagation.TextMapPropagator) (*Bridge, error) {
	if propagator == nil {
		propagator = propagation.TraceContext{}
	}
	b := &Bridge{
		tracer:     tp.Tracer(instrumentationName),
		propagator: propagator,
	}

	meter := mp.Meter(instrumentationName)
	var err error
	if b.received, err = meter.Int64Counter("orders.messages.received",
		metric.WithDescription("Messages returned by queue receive calls.")); err != nil {
		return nil, fmt.Errorf("create received counter: %w", err)
	}
	if b.processed, err = meter.Int64Counter("orders.messages.processed",
		metric.WithDescription("Messages handled and acknowledged.")); err != nil {
		return nil, fmt.Errorf("create processed counter: %w", err)
	}
	if b.failed, err = meter.Int64Counter("orders.messages.failed",
		metric.WithDescription("Messages left on the queue for redelivery after a handler or acknowledge error.")); err != nil {
		return nil, fmt.Errorf("create failed counter: %w", err)
	}
	if b.pollFailures, err = meter.Int64Counter("orders.poll.failures",
		metric.WithDescription("Failed queue receive calls.")); err != nil {
		return nil, fmt.Errorf("create poll failure counter: %w", err)
	}
	if _, err = meter.Int64ObservableGauge("orders.circuit.state",
		metric.WithDescription("Circuit breaker state: 0 closed, 1 open."),
		metric.WithInt64Callback(func(_ context.Context, o metric.Int64Observer) error {
			o.Observe(b.circuit.Load())
			return nil
		})); err != nil {
		return nil, fmt.Errorf("create circuit gauge: %w", err)
	}
	return b, nil
}

// NewNoop returns a bridge that records nothing.
func NewNoop() *Bridge {
	b, err := New(tracenoop.NewTracerProvider(), metricnoop.NewMeterProvider(), propagation.TraceContext{})
	if err != nil {
		panic(err)
	}
	return b
}

// StartMessage continues the producer's trace when the message carries W3C
// trace context attributes.
func (b *Bridge) StartMessage(ctx context.Context, msg queue.Message) (context.Context, func(error)) {
	if len(msg.Attributes) > 0 {
		ctx = b.propagator.Extract(ctx, propagation.MapCarrier(msg.Attributes))
	}
	ctx, span := b.tracer.Start(ctx, "orders process",
		trace.WithSpanKind(trace.SpanKindConsumer),
		trace.WithAttributes(
			attribute.String("messaging.operation.type", "process"),
			attribute.String("messaging.message.id", msg.ID),
			attribute.Int("messaging.message.delivery_count", msg.ReceiveCount),
		),
	)
	return ctx, func(err error) {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}
}

func (b *Bridge) PollSucceeded(received int) {
	if received > 0 {
		b.received.Add(context.Background(), int64(received))
	}
}

func (b *Bridge) PollFailed(error, int) {
	b.pollFailures.Add(context.Background(), 1)
}

func (b *Bridge) CircuitChanged(open bool) {
	if open {
		b.circuit.Store(1)
		return
	}
	b.circuit.Store(0)
}

func (b *Bridge) MessageProcessed(queue.Message) {
	b.processed.Add(context.Background(), 1)
}

func (b *Bridge) MessageFailed(queue.Message, error) {
	b.failed.Add(context.Background(), 1)
}
