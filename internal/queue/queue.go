// Package queue defines the narrow queue contract the consumer polls against and
// the Amazon SQS implementation of it.
package queue

import (
	"context"
	"errors"
	"time"
)

const (
	// MaxBatchSize is the largest batch a single receive call may return.
	MaxBatchSize = 10
	// DefaultWaitTime is the server-side long-poll wait for a receive call.
	DefaultWaitTime = 20 * time.Second

	AttrTraceParent = "traceparent"
	AttrTraceState  = "tracestate"
)

// ErrReceiptHandleInvalid is returned by Delete when the handle expired or the
// message was already deleted.
var ErrReceiptHandleInvalid = errors.New("receipt handle is no longer valid")

// Message is a received, not yet acknowledged queue message.
type Message struct {
	ID            string
	ReceiptHandle string
	Body          []byte
	Attributes    map[string]string
	ReceiveCount  int
}

// Queue is the receive/acknowledge side of an at-least-once queue.
type Queue interface {
	Receive(ctx context.Context, maxMessages int, wait time.Duration) ([]Message, error)
	Delete(ctx context.Context, receiptHandle string) error
}

// Sender places messages on a queue. Only the enqueue tool uses it.
type Sender interface {
	Send(ctx context.Context, body []byte, attributes map[string]string) (string, error)
}

// ClampBatch bounds a requested batch size to [1, MaxBatchSize].
func ClampBatch(n int) int {
	if n < 1 {
		return 1
	}
	if n > MaxBatchSize {
		return MaxBatchSize
	}
	return n
}
