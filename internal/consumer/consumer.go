// Package consumer drains an at-least-once queue into a handler.
//
// A single poll loop receives batches, dispatches each batch with bounded
// concurrency and acknowledges only the messages the handler accepted. Messages
// that fail stay on the queue and become visible again once their visibility
// timeout elapses. Repeated receive failures open a circuit breaker that delays
// the next receive with capped exponential backoff.
package consumer

import (
	"context"
	"errors"
	"fmt"
	"time"

	"order-consumer/internal/queue"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

const (
	defaultFailureThreshold = 5
	defaultBackoffBase      = time.Second
	defaultBackoffMax       = 60 * time.Second
	deleteTimeout           = 10 * time.Second
)

// Handler processes one message. A nil error acknowledges the message.
type Handler interface {
	Handle(ctx context.Context, msg queue.Message) error
}

type HandlerFunc func(ctx context.Context, msg queue.Message) error

func (f HandlerFunc) Handle(ctx context.Context, msg queue.Message) error {
	return f(ctx, msg)
}

type Options struct {
	// Concurrency caps in-flight handler calls. It should match the database
	// pool size.
	Concurrency      int
	FailureThreshold int
	BackoffBase      time.Duration
	BackoffMax       time.Duration
	// WaitTime is the long-poll wait of each receive call.
	WaitTime  time.Duration
	Observers []Observer
	Tracer    Tracer
}

type Consumer struct {
	queue       queue.Queue
	handler     Handler
	logger      zerolog.Logger
	concurrency int
	waitTime    time.Duration
	breaker     *breaker
	observers   observers
	tracer      Tracer
	sleep       func(ctx context.Context, d time.Duration) error
}

func New(q queue.Queue, h Handler, logger zerolog.Logger, opts Options) *Consumer {
	if opts.Concurrency < 1 {
		opts.Concurrency = 1
	}
	if opts.FailureThreshold < 1 {
		opts.FailureThreshold = defaultFailureThreshold
	}
	if opts.BackoffBase <= 0 {
		opts.BackoffBase = defaultBackoffBase
	}
	if opts.BackoffMax < opts.BackoffBase {
		opts.BackoffMax = max(defaultBackoffMax, opts.BackoffBase)
	}
	if opts.WaitTime <= 0 {
		opts.WaitTime = queue.DefaultWaitTime
	}
	if opts.Tracer == nil {
		opts.Tracer = nopTracer{}
	}

	return &Consumer{
		queue:       q,
		handler:     h,
		logger:      logger.With().Str("component", "consumer").Logger(),
		concurrency: opts.Concurrency,
		waitTime:    opts.WaitTime,
		breaker:     newBreaker(opts.FailureThreshold, opts.BackoffBase, opts.BackoffMax),
		observers:   observers(opts.Observers),
		tracer:      opts.Tracer,
		sleep:       sleepContext,
	}
}

// CircuitOpen reports whether receive calls are currently being backed off.
func (c *Consumer) CircuitOpen() bool {
	return c.breaker.isOpen()
}

// Run polls until ctx is cancelled. Cancellation is observed between iterations;
// a batch that is already dispatched runs to completion first. Run only returns
// nil: queue and message errors are handled inside the loop.
func (c *Consumer) Run(ctx context.Context) error {
	c.logger.Info().
		Int("concurrency", c.concurrency).
		Int("batch_size", queue.ClampBatch(c.concurrency)).
		Int("failure_threshold", c.breaker.threshold).
		Msg("Starting order consumer")

	for {
		select {
		case <-ctx.Done():
			c.logger.Info().Msg("Shutting down order consumer")
			return nil
		default:
		}

		if delay := c.breaker.backoff(); delay > 0 {
			c.logger.Debug().Dur("backoff", delay).Int("consecutive_failures", c.breaker.failures).Msg("Circuit open, delaying next poll")
			if err := c.sleep(ctx, delay); err != nil {
				continue
			}
		}

		c.poll(ctx)
	}
}

func (c *Consumer) poll(ctx context.Context) {
	msgs, err := c.queue.Receive(ctx, queue.ClampBatch(c.concurrency), c.waitTime)
	if err != nil {
		if ctx.Err() != nil {
			// Shutdown interrupted the long poll.
			return
		}
		failures, tripped := c.breaker.recordFailure()
		c.logger.Error().Err(err).Int("consecutive_failures", failures).Msg("Error receiving from order queue")
		if tripped {
			c.logger.Warn().
				Int("consecutive_failures", failures).
				Dur("backoff", c.breaker.backoff()).
				Msg("Circuit breaker opened; backing off queue polling")
			c.observers.CircuitChanged(true)
		}
		c.observers.PollFailed(err, failures)
		return
	}

	if c.breaker.recordSuccess() {
		c.logger.Info().Msg("Circuit breaker closed; order queue reachable again")
		c.observers.CircuitChanged(false)
	}
	c.observers.PollSucceeded(len(msgs))

	if len(msgs) == 0 {
		return
	}
	c.logger.Debug().Int("count", len(msgs)).Msg("Received order messages")
	c.dispatch(ctx, msgs)
}

// dispatch processes msgs with at most c.concurrency handlers in flight and
// returns once all of them finished. Work runs on a context that ignores
// cancellation so a shutdown does not abort inserts halfway.
func (c *Consumer) dispatch(ctx context.Context, msgs []queue.Message) {
	workCtx := context.WithoutCancel(ctx)

	var g errgroup.Group
	g.SetLimit(c.concurrency)
	for _, msg := range msgs {
		g.Go(func() error {
			c.process(workCtx, msg)
			return nil
		})
	}
	_ = g.Wait()
}

func (c *Consumer) process(ctx context.Context, msg queue.Message) {
	logger := c.logger.With().
		Str("msg_id", msg.ID).
		Int("receive_count", msg.ReceiveCount).
		Logger()

	ctx, end := c.tracer.StartMessage(ctx, msg)
	err := c.handle(ctx, msg)
	end(err)

	if err != nil {
		logger.Error().Err(err).Msg("Failed to process order message; leaving it for redelivery")
		c.observers.MessageFailed(msg, err)
		return
	}

	delCtx, cancel := context.WithTimeout(ctx, deleteTimeout)
	defer cancel()
	if err := c.queue.Delete(delCtx, msg.ReceiptHandle); err != nil {
		if !errors.Is(err, queue.ErrReceiptHandleInvalid) {
			// The message comes back and is handled again, so it is not counted
			// as processed this time.
			logger.Error().Err(err).Msg("Error deleting order message; it will be redelivered")
			c.observers.MessageFailed(msg, fmt.Errorf("acknowledge: %w", err))
			return
		}
		logger.Warn().Err(err).Msg("Receipt handle expired before acknowledgement; message may be redelivered")
	}
	c.observers.MessageProcessed(msg)
}

// handle turns a handler panic into an error so sibling messages keep going.
func (c *Consumer) handle(ctx context.Context, msg queue.Message) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic while handling message: %v", r)
		}
	}()
	return c.handler.Handle(ctx, msg)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
