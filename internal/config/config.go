package config

import (
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"
)

const (
	QueueBackendSQS    = "sqs"
	QueueBackendPGMQ   = "pgmq"
	QueueBackendPubSub = "pubsub"

	SecretBackendAWS = "aws"
	SecretBackendGCP = "gcp"
	SecretBackendEnv = "env"

	defaultPoolSize           = 5
	defaultProductionPoolSize = 20
)

type Config struct {
	Environment string `envconfig:"ENV" default:"development"`
	LogLevel    string `envconfig:"LOG_LEVEL" default:"info"`
	HealthPort  string `envconfig:"HEALTH_PORT" default:"8081"`

	// Queue settings
	QueueBackend             string `envconfig:"QUEUE_BACKEND" default:"sqs"`
	QueueURL                 string `envconfig:"QUEUE_URL"`
	PGMQQueueName            string `envconfig:"PGMQ_QUEUE_NAME" default:"orders"`
	PGMQVisibilityTimeoutSec int    `envconfig:"PGMQ_VISIBILITY_TIMEOUT_SEC" default:"30"`
	// Pub/Sub uses GCP_PROJECT_ID. The subscription's ack deadline acts as the
	// visibility timeout.
	PubSubSubscription string `envconfig:"PUBSUB_SUBSCRIPTION"`
	PubSubTopic        string `envconfig:"PUBSUB_TOPIC"`

	// AWS settings. Static keys are only needed against LocalStack.
	AWSRegion          string `envconfig:"AWS_REGION" default:"us-east-1"`
	AWSEndpointURL     string `envconfig:"AWS_ENDPOINT_URL"`
	AWSAccessKeyID     string `envconfig:"AWS_ACCESS_KEY_ID"`
	AWSSecretAccessKey string `envconfig:"AWS_SECRET_ACCESS_KEY"`

	// Database credentials source
	SecretBackend string `envconfig:"SECRET_BACKEND" default:"aws"`
	DBSecretID    string `envconfig:"DB_SECRET_ID"`
	GCPProjectID  string `envconfig:"GCP_PROJECT_ID"`

	// Used by the env secret backend only
	DBHost     string `envconfig:"DB_HOST" default:"localhost"`
	DBPort     int    `envconfig:"DB_PORT" default:"5432"`
	DBUser     string `envconfig:"DB_USER"`
	DBPassword string `envconfig:"DB_PASSWORD"`
	DBName     string `envconfig:"DB_NAME"`

	DBSSLMode  string `envconfig:"DB_SSLMODE"`
	DBPoolSize int    `envconfig:"DB_POOL_SIZE"`

	// Consumer settings
	ConsumerConcurrency     int `envconfig:"CONSUMER_CONCURRENCY"`
	CircuitFailureThreshold int `envconfig:"CIRCUIT_FAILURE_THRESHOLD" default:"5"`
	CircuitBackoffBaseSec   int `envconfig:"CIRCUIT_BACKOFF_BASE_SEC" default:"1"`
	CircuitBackoffMaxSec    int `envconfig:"CIRCUIT_BACKOFF_MAX_SEC" default:"60"`
	HealthStalenessSec      int `envconfig:"HEALTH_STALENESS_SEC" default:"120"`

	// Order validation limits
	OrderMaxQuantity   int     `envconfig:"ORDER_MAX_QUANTITY" default:"1000"`
	OrderMinTotalPrice float64 `envconfig:"ORDER_MIN_TOTAL_PRICE" default:"0.01"`
	OrderMaxTotalPrice float64 `envconfig:"ORDER_MAX_TOTAL_PRICE" default:"1000000"`
}

func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// LoadProducer loads the settings needed to publish orders. Database
// credentials are only checked when the queue itself lives in Postgres.
func LoadProducer() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, err
	}
	if err := cfg.validateQueue(true); err != nil {
		return nil, err
	}
	if cfg.QueueBackend == QueueBackendPGMQ {
		if err := cfg.validateSecrets(); err != nil {
			return nil, err
		}
	}
	return &cfg, nil
}

// Validate checks the backend selections and the keys each of them needs.
func (c *Config) Validate() error {
	if err := c.validateQueue(false); err != nil {
		return err
	}
	if err := c.validateSecrets(); err != nil {
		return err
	}

	if c.CircuitFailureThreshold < 1 {
		return fmt.Errorf("CIRCUIT_FAILURE_THRESHOLD must be at least 1")
	}
	if c.OrderMaxQuantity < 1 {
		return fmt.Errorf("ORDER_MAX_QUANTITY must be at least 1")
	}
	if c.OrderMinTotalPrice > c.OrderMaxTotalPrice {
		return fmt.Errorf("ORDER_MIN_TOTAL_PRICE must not exceed ORDER_MAX_TOTAL_PRICE")
	}
	return nil
}

func (c *Config) validateQueue(producer bool) error {
	switch c.QueueBackend {
	case QueueBackendSQS:
		if c.QueueURL == "" {
			return fmt.Errorf("QUEUE_URL is required for the %s queue backend", c.QueueBackend)
		}
	case QueueBackendPGMQ:
		if c.PGMQQueueName == "" {
			return fmt.Errorf("PGMQ_QUEUE_NAME is required for the %s queue backend", c.QueueBackend)
		}
	case QueueBackendPubSub:
		if c.GCPProjectID == "" {
			return fmt.Errorf("GCP_PROJECT_ID is required for the %s queue backend", c.QueueBackend)
		}
		if producer && c.PubSubTopic == "" {
			return fmt.Errorf("PUBSUB_TOPIC is required to publish to the %s queue backend", c.QueueBackend)
		}
		if !producer && c.PubSubSubscription == "" {
			return fmt.Errorf("PUBSUB_SUBSCRIPTION is required for the %s queue backend", c.QueueBackend)
		}
	default:
		return fmt.Errorf("unknown QUEUE_BACKEND %q", c.QueueBackend)
	}
	return nil
}

func (c *Config) validateSecrets() error {
	switch c.SecretBackend {
	case SecretBackendAWS:
		if c.DBSecretID == "" {
			return fmt.Errorf("DB_SECRET_ID is required for the %s secret backend", c.SecretBackend)
		}
	case SecretBackendGCP:
		if c.DBSecretID == "" || c.GCPProjectID == "" {
			return fmt.Errorf("DB_SECRET_ID and GCP_PROJECT_ID are required for the %s secret backend", c.SecretBackend)
		}
	case SecretBackendEnv:
		if c.DBUser == "" || c.DBName == "" {
			return fmt.Errorf("DB_USER and DB_NAME are required for the %s secret backend", c.SecretBackend)
		}
	default:
		return fmt.Errorf("unknown SECRET_BACKEND %q", c.SecretBackend)
	}
	return nil
}

func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}

// PoolSize returns DB_POOL_SIZE, or the environment default when it is unset.
func (c *Config) PoolSize() int {
	if c.DBPoolSize > 0 {
		return c.DBPoolSize
	}
	if c.IsProduction() {
		return defaultProductionPoolSize
	}
	return defaultPoolSize
}

// Concurrency defaults to the pool size so in-flight orders never wait on a connection.
func (c *Config) Concurrency() int {
	if c.ConsumerConcurrency > 0 {
		return c.ConsumerConcurrency
	}
	return c.PoolSize()
}

// SSLMode mirrors the API's behaviour: plaintext for local development only.
func (c *Config) SSLMode() string {
	if c.DBSSLMode != "" {
		return c.DBSSLMode
	}
	if c.Environment == "development" {
		return "disable"
	}
	return "require"
}

func (c *Config) CircuitBackoffBase() time.Duration {
	return time.Duration(c.CircuitBackoffBaseSec) * time.Second
}

func (c *Config) CircuitBackoffMax() time.Duration {
	return time.Duration(c.CircuitBackoffMaxSec) * time.Second
}

func (c *Config) HealthStaleness() time.Duration {
	return time.Duration(c.HealthStalenessSec) * time.Second
}

func (c *Config) PGMQVisibilityTimeout() time.Duration {
	return time.Duration(c.PGMQVisibilityTimeoutSec) * time.Second
}
