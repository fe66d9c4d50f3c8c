package health

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"order-consumer/internal/queue"

	"github.com/rs/zerolog"
)

type fakeClock struct{ t time.Time }

func (c *fakeClock) now() time.Time          { return c.t }
func (c *fakeClock) advance(d time.Duration) { c.t = c.t.Add(d) }

func newTestReporter(staleness time.Duration) (*Reporter, *fakeClock) {
	clock := &fakeClock{t: time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)}
	r := NewReporter(staleness, zerolog.Nop())
	r.now = clock.now
	r.lastPoll.Store(clock.t.UnixNano())
	return r, clock
}

func TestHealthyWithinStaleness(t *testing.T) {
	r, clock := newTestReporter(DefaultStaleness)

	clock.advance(10 * time.Second)
	r.PollSucceeded(0)
	clock.advance(119 * time.Second)

	snap := r.Snapshot()
	if !snap.Healthy {
		t.Fatalf("expected healthy snapshot, got %+v", snap)
	}
	if snap.CircuitState != CircuitClosed {
		t.Fatalf("circuit state = %q", snap.CircuitState)
	}
}

func TestUnhealthyWhenPollIsStale(t *testing.T) {
	r, clock := newTestReporter(DefaultStaleness)
	r.PollSucceeded(3)

	clock.advance(121 * time.Second)

	if r.Snapshot().Healthy {
		t.Fatal("expected unhealthy after 121s without a successful poll")
	}
}

func TestUnhealthyBeforeFirstPollOnceStale(t *testing.T) {
	r, clock := newTestReporter(30 * time.Second)
	if !r.Snapshot().Healthy {
		t.Fatal("fresh reporter should start healthy")
	}
	clock.advance(31 * time.Second)
	if r.Snapshot().Healthy {
		t.Fatal("reporter that never saw a poll should turn unhealthy")
	}
}

func TestUnhealthyWhileCircuitOpen(t *testing.T) {
	r, _ := newTestReporter(DefaultStaleness)
	r.PollSucceeded(0)
	r.CircuitChanged(true)

	snap := r.Snapshot()
	if snap.Healthy || snap.CircuitState != CircuitOpen {
		t.Fatalf("expected unhealthy open snapshot, got %+v", snap)
	}

	r.CircuitChanged(false)
	if !r.Snapshot().Healthy {
		t.Fatal("expected healthy after circuit closed")
	}
}

func TestCountersAreMonotonic(t *testing.T) {
	r, _ := newTestReporter(DefaultStaleness)
	for i := 0; i < 5; i++ {
		r.MessageProcessed(queue.Message{})
	}
	r.MessageFailed(queue.Message{}, errors.New("boom"))

	snap := r.Snapshot()
	if snap.TotalProcessed != 5 || snap.TotalFailed != 1 {
		t.Fatalf("unexpected counters %+v", snap)
	}
}

func TestHandler(t *testing.T) {
	r, clock := newTestReporter(DefaultStaleness)
	r.MessageProcessed(queue.Message{})
	h := r.Handler()

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
		t.Fatalf("content type = %q", ct)
	}
	var body Snapshot
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if !body.Healthy || body.TotalProcessed != 1 || body.CircuitState != CircuitClosed {
		t.Fatalf("unexpected body %+v", body)
	}

	clock.advance(5 * time.Minute)
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503", rec.Code)
	}

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/health", nil))
	if rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("POST status = %d, want 405", rec.Code)
	}
}
