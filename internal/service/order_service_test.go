package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"order-consumer/internal/consumer"
	"order-consumer/internal/model"
	"order-consumer/internal/queue"

	"github.com/rs/zerolog"
)

var testLimits = Limits{MaxQuantity: 100, MinTotalPrice: 0.01, MaxTotalPrice: 10000}

type fakeOrderRepo struct {
	mu     sync.Mutex
	orders []model.Order
	err    error
	nextID int64
}

func (r *fakeOrderRepo) Create(_ context.Context, o *model.Order) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return 0, r.err
	}
	r.nextID++
	o.ID = r.nextID
	o.CreatedAt = time.Now().UTC()
	r.orders = append(r.orders, *o)
	return o.ID, nil
}

func TestDecodeValidation(t *testing.T) {
	svc := NewOrderService(&fakeOrderRepo{}, testLimits, zerolog.Nop())

	tests := []struct {
		name      string
		body      string
		wantField string
	}{
		{name: "valid", body: `{"userId":1,"productId":5,"productName":"Widget","quantity":3,"totalPrice":29.97}`},
		{name: "valid without optional fields", body: `{"userId":1,"productId":null,"productName":"Widget","quantity":1,"totalPrice":1}`},
		{name: "quantity at maximum", body: `{"userId":1,"productName":"Widget","quantity":100,"totalPrice":10}`},
		{name: "quantity above maximum", body: `{"userId":1,"productName":"Widget","quantity":101,"totalPrice":10}`, wantField: "quantity"},
		{name: "missing userId", body: `{"productName":"Widget","quantity":1,"totalPrice":1}`, wantField: "userId"},
		{name: "zero userId", body: `{"userId":0,"productName":"Widget","quantity":1,"totalPrice":1}`, wantField: "userId"},
		{name: "negative userId", body: `{"userId":-4,"productName":"Widget","quantity":1,"totalPrice":1}`, wantField: "userId"},
		{name: "fractional userId", body: `{"userId":1.5,"productName":"Widget","quantity":1,"totalPrice":1}`, wantField: "userId"},
		{name: "missing productName", body: `{"userId":1,"quantity":1,"totalPrice":1}`, wantField: "productName"},
		{name: "empty productName", body: `{"userId":1,"productName":"","quantity":1,"totalPrice":1}`, wantField: "productName"},
		{name: "missing quantity", body: `{"userId":1,"productName":"Widget","totalPrice":1}`, wantField: "quantity"},
		{name: "zero quantity", body: `{"userId":1,"productName":"Widget","quantity":0,"totalPrice":1}`, wantField: "quantity"},
		{name: "missing totalPrice", body: `{"userId":1,"productName":"Widget","quantity":1}`, wantField: "totalPrice"},
		{name: "totalPrice below minimum", body: `{"userId":1,"productName":"Widget","quantity":1,"totalPrice":0}`, wantField: "totalPrice"},
		{name: "totalPrice above maximum", body: `{"userId":1,"productName":"Widget","quantity":1,"totalPrice":10000.01}`, wantField: "totalPrice"},
		{name: "string totalPrice", body: `{"userId":1,"productName":"Widget","quantity":1,"totalPrice":"12"}`, wantField: "totalPrice"},
		{name: "missing reported before range", body: `{"userId":0,"productName":"Widget","quantity":500}`, wantField: "totalPrice"},
		{name: "quantity reported before productName", body: `{"userId":1,"productName":"","quantity":500,"totalPrice":1}`, wantField: "quantity"},
		{name: "totalPrice reported before productName", body: `{"userId":1,"productName":"","quantity":1,"totalPrice":0}`, wantField: "totalPrice"},
		{name: "userId reported before quantity", body: `{"userId":0,"productName":"Widget","quantity":500,"totalPrice":1}`, wantField: "userId"},
		{name: "missing fields in rank order", body: `{"userId":1}`, wantField: "quantity"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.Decode([]byte(tt.body))
			if tt.wantField == "" {
				if err != nil {
					t.Fatalf("expected valid payload, got %v", err)
				}
				return
			}
			var verr *ValidationError
			if !errors.As(err, &verr) {
				t.Fatalf("expected ValidationError, got %v", err)
			}
			if verr.Field != tt.wantField {
				t.Fatalf("error field = %q, want %q (%v)", verr.Field, tt.wantField, err)
			}
			if !errors.Is(err, ErrInvalidOrder) {
				t.Fatalf("expected error to match ErrInvalidOrder: %v", err)
			}
		})
	}
}

func TestDecodeMalformedJSON(t *testing.T) {
	svc := NewOrderService(&fakeOrderRepo{}, testLimits, zerolog.Nop())
	if _, err := svc.Decode([]byte(`{"userId":`)); !errors.Is(err, ErrInvalidOrder) {
		t.Fatalf("expected ErrInvalidOrder, got %v", err)
	}
}

func TestHandleDoesNotInsertInvalidOrders(t *testing.T) {
	repo := &fakeOrderRepo{}
	svc := NewOrderService(repo, testLimits, zerolog.Nop())

	msg := queue.Message{ID: "m-1", Body: []byte(`{"userId":1,"productName":"Widget","quantity":101,"totalPrice":10}`)}
	if err := svc.Handle(context.Background(), msg); err == nil {
		t.Fatal("expected validation error")
	}
	if len(repo.orders) != 0 {
		t.Fatalf("no row should be inserted, got %d", len(repo.orders))
	}
}

func TestHandlePropagatesInsertErrors(t *testing.T) {
	fk := errors.New("violates foreign key constraint")
	svc := NewOrderService(&fakeOrderRepo{err: fk}, testLimits, zerolog.Nop())

	msg := queue.Message{ID: "m-1", Body: []byte(`{"userId":404,"productName":"Widget","quantity":1,"totalPrice":10}`)}
	if err := svc.Handle(context.Background(), msg); !errors.Is(err, fk) {
		t.Fatalf("expected insert error, got %v", err)
	}
}

// memoryQueue hands out its messages once and records deletions.
type memoryQueue struct {
	mu      sync.Mutex
	pending []queue.Message
	deleted map[string]int
	cancel  context.CancelFunc
}

func (q *memoryQueue) Receive(ctx context.Context, maxMessages int, _ time.Duration) ([]queue.Message, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.pending) == 0 {
		q.cancel()
		return nil, ctx.Err()
	}
	n := min(maxMessages, len(q.pending))
	batch := q.pending[:n]
	q.pending = q.pending[n:]
	return batch, nil
}

func (q *memoryQueue) Delete(_ context.Context, receiptHandle string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.deleted[receiptHandle]++
	return nil
}

func runPipeline(t *testing.T, repo *fakeOrderRepo, msgs ...queue.Message) *memoryQueue {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	q := &memoryQueue{pending: msgs, deleted: map[string]int{}, cancel: cancel}
	svc := NewOrderService(repo, testLimits, zerolog.Nop())
	c := consumer.New(q, svc, zerolog.Nop(), consumer.Options{Concurrency: 2})
	if err := c.Run(ctx); err != nil {
		t.Fatalf("Run returned error: %v", err)
	}
	return q
}

func TestOrderRoundTrip(t *testing.T) {
	repo := &fakeOrderRepo{}
	msg := queue.Message{
		ID:            "m-1",
		ReceiptHandle: "rh-1",
		Body:          []byte(`{"userId":1,"productId":5,"productName":"Widget","quantity":3,"totalPrice":29.97}`),
	}

	q := runPipeline(t, repo, msg)

	if len(repo.orders) != 1 {
		t.Fatalf("expected exactly one order row, got %d", len(repo.orders))
	}
	o := repo.orders[0]
	if o.UserID != 1 || o.ProductID == nil || *o.ProductID != 5 || o.ProductName != "Widget" ||
		o.Quantity != 3 || o.TotalPrice != 29.97 || o.SKU != nil {
		t.Fatalf("unexpected order row %+v", o)
	}
	if o.Status != model.OrderStatusCompleted {
		t.Fatalf("status = %q, want %q", o.Status, model.OrderStatusCompleted)
	}
	if o.CreatedAt.IsZero() {
		t.Fatal("expected server-assigned creation timestamp")
	}
	if q.deleted["rh-1"] != 1 {
		t.Fatalf("message should be deleted once, got %d", q.deleted["rh-1"])
	}
}

func TestQuantityBoundaryThroughPipeline(t *testing.T) {
	repo := &fakeOrderRepo{}
	atMax := queue.Message{ID: "ok", ReceiptHandle: "rh-ok", Body: []byte(`{"userId":1,"productName":"Widget","quantity":100,"totalPrice":10}`)}
	overMax := queue.Message{ID: "over", ReceiptHandle: "rh-over", Body: []byte(`{"userId":1,"productName":"Widget","quantity":101,"totalPrice":10}`)}

	q := runPipeline(t, repo, atMax, overMax)

	if len(repo.orders) != 1 || repo.orders[0].Quantity != 100 {
		t.Fatalf("expected only the quantity=max order to be stored, got %+v", repo.orders)
	}
	if q.deleted["rh-ok"] != 1 {
		t.Fatal("order at maximum quantity should be acknowledged")
	}
	if q.deleted["rh-over"] != 0 {
		t.Fatal("order above maximum quantity must stay on the queue")
	}
}
