package consumer

import (
	"sync/atomic"
	"time"
)

// breaker counts consecutive queue-access failures. Only the poll loop writes
// to it; the open flag is atomic so health checks can read it concurrently.
type breaker struct {
	threshold int
	baseDelay time.Duration
	maxDelay  time.Duration

	failures int
	open     atomic.Bool
}

func newBreaker(threshold int, baseDelay, maxDelay time.Duration) *breaker {
	return &breaker{threshold: threshold, baseDelay: baseDelay, maxDelay: maxDelay}
}

// recordFailure reports the new failure count and whether this failure tripped
// the breaker. Failures past the threshold keep it open without tripping again.
func (b *breaker) recordFailure() (failures int, tripped bool) {
	b.failures++
	if b.failures == b.threshold {
		b.open.Store(true)
		return b.failures, true
	}
	return b.failures, false
}

// recordSuccess resets the count and reports whether the breaker was open.
func (b *breaker) recordSuccess() (recovered bool) {
	b.failures = 0
	return b.open.Swap(false)
}

// backoff is min(base·2^(failures−threshold), max) while open and zero while closed.
func (b *breaker) backoff() time.Duration {
	if !b.open.Load() {
		return 0
	}
	delay := b.baseDelay
	for i := b.threshold; i < b.failures; i++ {
		delay *= 2
		if delay >= b.maxDelay {
			return b.maxDelay
		}
	}
	if delay > b.maxDelay {
		return b.maxDelay
	}
	return delay
}

func (b *breaker) isOpen() bool {
	return b.open.Load()
}
