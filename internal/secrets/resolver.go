// Package secrets resolves database credentials from a secret store, waiting out
// the window where provisioning has not written the secret yet.
package secrets

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

var (
	ErrSecretNotFound         = errors.New("secret not found")
	ErrSecretStoreUnavailable = errors.New("secret store unavailable")
)

const (
	defaultInitialDelay = time.Second
	defaultMultiplier   = 1.5
	defaultMaxDelay     = 10 * time.Second
	defaultMaxAttempts  = 30
)

// Store fetches a raw secret value. Implementations wrap ErrSecretNotFound when
// the secret does not exist and ErrSecretStoreUnavailable for anything else.
type Store interface {
	GetSecretValue(ctx context.Context, secretID string) ([]byte, error)
}

// Credentials is the JSON document stored under the database secret.
type Credentials struct {
	Username string `json:"username"`
	Password string `json:"password"`
	Host     string `json:"host"`
	Port     Port   `json:"port"`
	DBName   string `json:"dbname"`
}

// Port accepts both 5432 and "5432".
type Port int

func (p *Port) UnmarshalJSON(b []byte) error {
	s := strings.Trim(string(b), `"`)
	if s == "" || s == "null" {
		*p = 0
		return nil
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return fmt.Errorf("invalid port %s: %w", string(b), err)
	}
	*p = Port(n)
	return nil
}

// Resolver retries ErrSecretNotFound with capped exponential backoff.
type Resolver struct {
	store        Store
	logger       zerolog.Logger
	initialDelay time.Duration
	multiplier   float64
	maxDelay     time.Duration
	maxAttempts  int
	sleep        func(ctx context.Context, d time.Duration) error
}

func NewResolver(store Store, logger zerolog.Logger) *Resolver {
	return &Resolver{
		store:        store,
		logger:       logger.With().Str("component", "secrets").Logger(),
		initialDelay: defaultInitialDelay,
		multiplier:   defaultMultiplier,
		maxDelay:     defaultMaxDelay,
		maxAttempts:  defaultMaxAttempts,
		sleep:        sleepContext,
	}
}

// Resolve fetches and decodes the credentials stored under secretID.
func (r *Resolver) Resolve(ctx context.Context, secretID string) (*Credentials, error) {
	delay := r.initialDelay
	var lastErr error
	for attempt := 1; attempt <= r.maxAttempts; attempt++ {
		raw, err := r.store.GetSecretValue(ctx, secretID)
		if err == nil {
			return decodeCredentials(raw)
		}
		if !errors.Is(err, ErrSecretNotFound) {
			return nil, err
		}
		lastErr = err
		if attempt == r.maxAttempts {
			break
		}

		r.logger.Warn().
			Str("secret_id", secretID).
			Int("attempt", attempt).
			Dur("retry_in", delay).
			Msg("Database secret not found yet, waiting for provisioning")
		if err := r.sleep(ctx, delay); err != nil {
			return nil, err
		}
		delay = time.Duration(float64(delay) * r.multiplier)
		if delay > r.maxDelay {
			delay = r.maxDelay
		}
	}
	return nil, fmt.Errorf("secret %s still missing after %d attempts: %w", secretID, r.maxAttempts, lastErr)
}

func decodeCredentials(raw []byte) (*Credentials, error) {
	var creds Credentials
	if err := json.Unmarshal(raw, &creds); err != nil {
		return nil, fmt.Errorf("failed to decode database secret: %w", err)
	}
	if creds.Host == "" || creds.Username == "" || creds.DBName == "" {
		return nil, errors.New("database secret is missing host, username or dbname")
	}
	if creds.Port == 0 {
		creds.Port = 5432
	}
	return &creds, nil
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
