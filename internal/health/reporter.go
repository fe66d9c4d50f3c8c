// Package health tracks consumer liveness. A consumer is healthy when it polled
// the queue recently and its circuit breaker is closed; process uptime alone
// says nothing about whether orders are flowing.
package health

import (
	"encoding/json"
	"net/http"
	"sync/atomic"
	"time"

	"order-consumer/internal/consumer"
	"order-consumer/internal/queue"

	"github.com/rs/zerolog"
)

const (
	DefaultStaleness = 120 * time.Second

	CircuitClosed = "closed"
	CircuitOpen   = "open"
)

type Snapshot struct {
	Healthy        bool      `json:"healthy"`
	CircuitState   string    `json:"circuitState"`
	LastPoll       time.Time `json:"lastSuccessfulPoll"`
	TotalProcessed uint64    `json:"totalProcessed"`
	TotalFailed    uint64    `json:"totalFailed"`
}

// Reporter is a consumer.Observer that keeps the counters behind Snapshot.
type Reporter struct {
	consumer.NopObserver

	staleness time.Duration
	now       func() time.Time
	logger    zerolog.Logger

	lastPoll  atomic.Int64 // unix nanos
	processed atomic.Uint64
	failed    atomic.Uint64
	open      atomic.Bool
}

// NewReporter returns a reporter whose staleness window starts now, so a
// consumer that never completes a poll turns unhealthy after staleness.
func NewReporter(staleness time.Duration, logger zerolog.Logger) *Reporter {
	if staleness <= 0 {
		staleness = DefaultStaleness
	}
	r := &Reporter{
		staleness: staleness,
		now:       time.Now,
		logger:    logger.With().Str("component", "health").Logger(),
	}
	r.lastPoll.Store(r.now().UnixNano())
	return r
}

func (r *Reporter) PollSucceeded(int) {
	r.lastPoll.Store(r.now().UnixNano())
}

func (r *Reporter) CircuitChanged(open bool) {
	r.open.Store(open)
}

func (r *Reporter) MessageProcessed(queue.Message) {
	r.processed.Add(1)
}

func (r *Reporter) MessageFailed(queue.Message, error) {
	r.failed.Add(1)
}

func (r *Reporter) Snapshot() Snapshot {
	last := time.Unix(0, r.lastPoll.Load()).UTC()
	open := r.open.Load()

	state := CircuitClosed
	if open {
		state = CircuitOpen
	}
	return Snapshot{
		Healthy:        r.now().Sub(last) < r.staleness && !open,
		CircuitState:   state,
		LastPoll:       last,
		TotalProcessed: r.processed.Load(),
		TotalFailed:    r.failed.Load(),
	}
}

// Handler serves the snapshot as JSON with 200 when healthy and 503 otherwise.
func (r *Reporter) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, _ *http.Request) {
		snap := r.Snapshot()
		status := http.StatusOK
		if !snap.Healthy {
			status = http.StatusServiceUnavailable
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		if err := json.NewEncoder(w).Encode(snap); err != nil {
			r.logger.Error().Err(err).Msg("Failed to encode health snapshot")
		}
	})
	return mux
}
