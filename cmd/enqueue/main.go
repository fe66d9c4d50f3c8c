// Command enqueue publishes sample orders for local development.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"math/rand/v2"
	"os/signal"
	"syscall"

	"order-consumer/internal/bootstrap"
	"order-consumer/internal/config"
	"order-consumer/internal/logger"
	"order-consumer/internal/model"
	"order-consumer/internal/pgmq"
	"order-consumer/internal/queue"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
)

func main() {
	count := flag.Int("n", 1, "Number of orders to publish")
	userID := flag.Int64("user", 1, "User id placed on every order")
	product := flag.String("product", "Widget", "Product name")
	maxQty := flag.Int("max-quantity", 5, "Upper bound for the random quantity")
	create := flag.Bool("create", false, "Create the pgmq queue before publishing")
	flag.Parse()

	_ = godotenv.Load()

	cfg, err := config.LoadProducer()
	if err != nil {
		log := logger.New("development", "info")
		log.Fatal().Msgf("Error loading config: %v", err)
	}
	log := logger.New(cfg.Environment, cfg.LogLevel)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	var pool *pgxpool.Pool
	if cfg.QueueBackend == config.QueueBackendPGMQ {
		pool, err = bootstrap.Database(ctx, cfg, log)
		if err != nil {
			log.Fatal().Msgf("Failed to initialize database: %v", err)
		}
		defer pool.Close()
	}

	q, closeQueue, err := bootstrap.Queue(ctx, cfg, pool)
	if err != nil {
		log.Fatal().Msgf("Failed to initialize queue: %v", err)
	}
	defer closeQueue()

	if *create {
		pq, ok := q.(*pgmq.Client)
		if !ok {
			log.Fatal().Msg("-create is only supported with QUEUE_BACKEND=pgmq")
		}
		if err := pq.Create(ctx); err != nil {
			log.Fatal().Msgf("Failed to create queue: %v", err)
		}
		log.Info().Str("queue", cfg.PGMQQueueName).Msg("Queue ready")
	}

	for i := 0; i < *count; i++ {
		body, attrs, err := sampleOrder(*userID, *product, *maxQty)
		if err != nil {
			log.Fatal().Msgf("Failed to build order: %v", err)
		}
		id, err := q.Send(ctx, body, attrs)
		if err != nil {
			log.Fatal().Msgf("Failed to publish order %d: %v", i+1, err)
		}
		log.Info().Str("msg_id", id).Str("traceparent", attrs[queue.AttrTraceParent]).Msg("Order published")
	}
}

// sampleOrder builds a payload the way the API does, with a fresh correlation
// id and a sampled W3C traceparent.
func sampleOrder(userID int64, product string, maxQty int) ([]byte, map[string]string, error) {
	qty := 1 + rand.IntN(max(maxQty, 1))
	price := float64(qty) * 9.99
	msg := model.OrderMessage{
		UserID:        &userID,
		ProductName:   &product,
		Quantity:      &qty,
		TotalPrice:    &price,
		CorrelationID: uuid.NewString(),
	}
	body, err := json.Marshal(msg)
	if err != nil {
		return nil, nil, err
	}

	traceID := uuid.New()
	spanID := uuid.New()
	attrs := map[string]string{
		queue.AttrTraceParent: fmt.Sprintf("00-%x-%x-01", traceID[:], spanID[:8]),
	}
	return body, attrs, nil
}
