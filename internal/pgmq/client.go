package pgmq

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"order-consumer/internal/queue"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

const pollIntervalMs = 250

// DB is satisfied by *pgxpool.Pool.
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Client wraps a Postgres pool for operations on a single pgmq queue.
// Receipt handles are message ids; headers carry message attributes.
type Client struct {
	db                DB
	queue             string
	visibilityTimeout time.Duration
}

// New returns a new PGMQ client for queue. Read messages stay invisible for
// visibilityTimeout unless deleted.
func New(db DB, queueName string, visibilityTimeout time.Duration) *Client {
	return &Client{db: db, queue: queueName, visibilityTimeout: visibilityTimeout}
}

// Create makes the queue if it does not exist yet.
func (c *Client) Create(ctx context.Context) error {
	if _, err := c.db.Exec(ctx, "SELECT pgmq.create($1)", c.queue); err != nil {
		return fmt.Errorf("pgmq create failed: %w", err)
	}
	return nil
}

// Send pushes a JSON payload with string headers into the queue.
func (c *Client) Send(ctx context.Context, payload []byte, attributes map[string]string) (string, error) {
	headers, err := json.Marshal(attributes)
	if err != nil {
		return "", fmt.Errorf("pgmq headers marshal failed: %w", err)
	}
	var id int64
	query := "SELECT pgmq.send($1, $2::jsonb, $3::jsonb, 0)"
	if err := c.db.QueryRow(ctx, query, c.queue, string(payload), string(headers)).Scan(&id); err != nil {
		return "", fmt.Errorf("pgmq send failed: %w", err)
	}
	return strconv.FormatInt(id, 10), nil
}

// Receive reads up to maxMessages from the queue, blocking up to wait.
func (c *Client) Receive(ctx context.Context, maxMessages int, wait time.Duration) ([]queue.Message, error) {
	query := "SELECT msg_id, read_ct, message, headers FROM pgmq.read_with_poll($1, $2, $3, $4, $5)"
	rows, err := c.db.Query(ctx, query,
		c.queue,
		int(c.visibilityTimeout/time.Second),
		queue.ClampBatch(maxMessages),
		int(wait/time.Second),
		pollIntervalMs,
	)
	if err != nil {
		return nil, fmt.Errorf("pgmq read_with_poll failed: %w", err)
	}
	defer rows.Close()

	var msgs []queue.Message
	for rows.Next() {
		var (
			id      int64
			readCt  int
			data    []byte
			headers []byte
		)
		if err := rows.Scan(&id, &readCt, &data, &headers); err != nil {
			return nil, fmt.Errorf("pgmq read scan failed: %w", err)
		}
		handle := strconv.FormatInt(id, 10)
		msgs = append(msgs, queue.Message{
			ID:            handle,
			ReceiptHandle: handle,
			Body:          data,
			Attributes:    decodeHeaders(headers),
			ReceiveCount:  readCt,
		})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("pgmq read rows error: %w", err)
	}
	return msgs, nil
}

// Delete removes a message by id. Deleting an unknown id reports
// queue.ErrReceiptHandleInvalid.
func (c *Client) Delete(ctx context.Context, receiptHandle string) error {
	id, err := strconv.ParseInt(receiptHandle, 10, 64)
	if err != nil {
		return fmt.Errorf("%w: %q", queue.ErrReceiptHandleInvalid, receiptHandle)
	}
	var deleted bool
	if err := c.db.QueryRow(ctx, "SELECT pgmq.delete($1, $2::bigint)", c.queue, id).Scan(&deleted); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return fmt.Errorf("%w: %d", queue.ErrReceiptHandleInvalid, id)
		}
		return fmt.Errorf("pgmq delete failed: %w", err)
	}
	if !deleted {
		return fmt.Errorf("%w: %d", queue.ErrReceiptHandleInvalid, id)
	}
	return nil
}

func decodeHeaders(raw []byte) map[string]string {
	if len(raw) == 0 {
		return nil
	}
	var generic map[string]any
	if err := json.Unmarshal(raw, &generic); err != nil {
		return nil
	}
	attrs := make(map[string]string, len(generic))
	for k, v := range generic {
		switch val := v.(type) {
		case string:
			attrs[k] = val
		case nil:
		default:
			attrs[k] = fmt.Sprint(val)
		}
	}
	return attrs
}
