// Package bootstrap builds the long-lived clients shared by the binaries.
package bootstrap

import (
	"context"
	"fmt"

	"order-consumer/internal/awsutil"
	"order-consumer/internal/config"
	"order-consumer/internal/database"
	"order-consumer/internal/pgmq"
	"order-consumer/internal/pubsub"
	"order-consumer/internal/queue"
	"order-consumer/internal/secrets"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
)

// QueueClient is what the binaries need from a queue backend.
type QueueClient interface {
	queue.Queue
	queue.Sender
}

// SecretStore picks the credential source named by SECRET_BACKEND. The returned
// close func releases any client the store holds.
func SecretStore(ctx context.Context, cfg *config.Config) (secrets.Store, func(), error) {
	switch cfg.SecretBackend {
	case config.SecretBackendAWS:
		awsCfg, err := awsutil.LoadConfig(ctx, cfg)
		if err != nil {
			return nil, nil, err
		}
		client := awsutil.NewSecretsManagerClient(awsCfg, cfg.AWSEndpointURL)
		return secrets.NewAWSStore(client), func() {}, nil
	case config.SecretBackendGCP:
		store, client, err := secrets.NewGCPStore(ctx, cfg.GCPProjectID)
		if err != nil {
			return nil, nil, err
		}
		return store, func() { _ = client.Close() }, nil
	case config.SecretBackendEnv:
		return secrets.NewStaticStore(secrets.Credentials{
			Username: cfg.DBUser,
			Password: cfg.DBPassword,
			Host:     cfg.DBHost,
			Port:     secrets.Port(cfg.DBPort),
			DBName:   cfg.DBName,
		}), func() {}, nil
	}
	return nil, nil, fmt.Errorf("unknown secret backend %q", cfg.SecretBackend)
}

// Database resolves credentials and opens the pool sized for the consumer.
func Database(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (*pgxpool.Pool, error) {
	store, closeStore, err := SecretStore(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create secret store: %w", err)
	}
	defer closeStore()

	creds, err := secrets.NewResolver(store, logger).Resolve(ctx, cfg.DBSecretID)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve database credentials: %w", err)
	}

	pool, err := database.Open(ctx, creds, database.PoolOptions{
		MaxConns: int32(cfg.PoolSize()),
		SSLMode:  cfg.SSLMode(),
		// Production sits behind a transaction pooler.
		SimpleProtocol: cfg.IsProduction(),
	})
	if err != nil {
		return nil, err
	}
	logger.Info().
		Str("host", creds.Host).
		Str("database", creds.DBName).
		Int("pool_size", cfg.PoolSize()).
		Msg("Database connection established")
	return pool, nil
}

// Queue returns the backend named by QUEUE_BACKEND. The pgmq backend runs on
// pool, which may be nil otherwise. The returned close func releases any
// client the backend holds.
func Queue(ctx context.Context, cfg *config.Config, pool *pgxpool.Pool) (QueueClient, func(), error) {
	switch cfg.QueueBackend {
	case config.QueueBackendSQS:
		awsCfg, err := awsutil.LoadConfig(ctx, cfg)
		if err != nil {
			return nil, nil, err
		}
		return queue.NewSQS(awsutil.NewSQSClient(awsCfg, cfg.AWSEndpointURL), cfg.QueueURL), func() {}, nil
	case config.QueueBackendPGMQ:
		if pool == nil {
			return nil, nil, fmt.Errorf("the %s queue backend needs a database pool", cfg.QueueBackend)
		}
		return pgmq.New(pool, cfg.PGMQQueueName, cfg.PGMQVisibilityTimeout()), func() {}, nil
	case config.QueueBackendPubSub:
		pub, err := pubsub.NewPublisher(ctx, cfg)
		if err != nil {
			return nil, nil, err
		}
		sub, err := pubsub.NewSubscriberClient(ctx)
		if err != nil {
			_ = pub.Close()
			return nil, nil, err
		}
		q := pubsub.NewQueue(sub, pub, cfg.GCPProjectID, cfg.PubSubSubscription, cfg.PubSubTopic)
		return q, func() {
			_ = sub.Close()
			_ = pub.Close()
		}, nil
	}
	return nil, nil, fmt.Errorf("unknown queue backend %q", cfg.QueueBackend)
}
