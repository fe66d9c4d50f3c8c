package consumer

import (
	"context"

	"order-consumer/internal/queue"
)

// Observer receives lifecycle events from the consumer. Poll and circuit events
// come from the poll loop; message events come from concurrent workers, so
// implementations must be safe for concurrent use.
type Observer interface {
	PollSucceeded(received int)
	PollFailed(err error, consecutiveFailures int)
	CircuitChanged(open bool)
	MessageProcessed(msg queue.Message)
	MessageFailed(msg queue.Message, err error)
}

// NopObserver can be embedded to implement only part of Observer.
type NopObserver struct{}

func (NopObserver) PollSucceeded(int)                  {}
func (NopObserver) PollFailed(error, int)              {}
func (NopObserver) CircuitChanged(bool)                {}
func (NopObserver) MessageProcessed(queue.Message)     {}
func (NopObserver) MessageFailed(queue.Message, error) {}

type observers []Observer

func (o observers) PollSucceeded(received int) {
	for _, ob := range o {
		ob.PollSucceeded(received)
	}
}

func (o observers) PollFailed(err error, consecutiveFailures int) {
	for _, ob := range o {
		ob.PollFailed(err, consecutiveFailures)
	}
}

func (o observers) CircuitChanged(open bool) {
	for _, ob := range o {
		ob.CircuitChanged(open)
	}
}

func (o observers) MessageProcessed(msg queue.Message) {
	for _, ob := range o {
		ob.MessageProcessed(msg)
	}
}

func (o observers) MessageFailed(msg queue.Message, err error) {
	for _, ob := range o {
		ob.MessageFailed(msg, err)
	}
}

// Tracer opens a unit of work for one message. The returned function ends it
// with the processing result.
type Tracer interface {
	StartMessage(ctx context.Context, msg queue.Message) (context.Context, func(err error))
}

type nopTracer struct{}

func (nopTracer) StartMessage(ctx context.Context, _ queue.Message) (context.Context, func(error)) {
	return ctx, func(error) {}
}
