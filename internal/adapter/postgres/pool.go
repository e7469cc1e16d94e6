package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

const (
	// Audit writes are single-row inserts; a small pool is plenty.
	poolMaxConns        = 4
	poolMaxConnIdleTime = 5 * time.Minute
	pingTimeout         = 10 * time.Second
)

// NewPool opens the pool backing the audit store and checks the server
// answers before returning.
func NewPool(ctx context.Context, databaseURL string) (*pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("parsing audit database URL: %w", err)
	}
	cfg.ConnConfig.RuntimeParams["application_name"] = "auditsql"
	if cfg.MaxConns > poolMaxConns {
		cfg.MaxConns = poolMaxConns
	}
	cfg.MaxConnIdleTime = poolMaxConnIdleTime

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("creating audit pool: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pinging audit database (%s timeout): %w", pingTimeout, err)
	}

	return pool, nil
}
