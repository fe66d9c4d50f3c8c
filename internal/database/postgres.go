// Package database builds the bounded Postgres pool and the transaction helpers
// used on top of it.
package database

import (
	"context"
	"fmt"
	"net"
	"net/url"
	"strconv"
	"time"

	"order-consumer/internal/secrets"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type PoolOptions struct {
	MaxConns        int32
	SSLMode         string
	MaxConnIdleTime time.Duration
	// SimpleProtocol is required behind transaction poolers such as pgbouncer.
	SimpleProtocol bool
}

// DSN builds a postgres:// URL from resolved credentials.
func DSN(creds *secrets.Credentials, sslMode string) string {
	u := url.URL{
		Scheme: "postgres",
		User:   url.UserPassword(creds.Username, creds.Password),
		Host:   net.JoinHostPort(creds.Host, strconv.Itoa(int(creds.Port))),
		Path:   "/" + creds.DBName,
	}
	if sslMode != "" {
		q := u.Query()
		q.Set("sslmode", sslMode)
		u.RawQuery = q.Encode()
	}
	return u.String()
}

// Open creates the pool and pings it so an unreachable database fails startup.
func Open(ctx context.Context, creds *secrets.Credentials, opts PoolOptions) (*pgxpool.Pool, error) {
	poolCfg, err := pgxpool.ParseConfig(DSN(creds, opts.SSLMode))
	if err != nil {
		return nil, fmt.Errorf("error parsing database config: %w", err)
	}
	if opts.MaxConns > 0 {
		poolCfg.MaxConns = opts.MaxConns
	}
	if opts.MaxConnIdleTime > 0 {
		poolCfg.MaxConnIdleTime = opts.MaxConnIdleTime
	}
	if opts.SimpleProtocol {
		poolCfg.ConnConfig.DefaultQueryExecMode = pgx.QueryExecModeSimpleProtocol
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("error connecting to database: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("error pinging database: %w", err)
	}

	return pool, nil
}
