package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// queryConns is the pool headroom for short-lived queries: marker checks and
// writes, catalog reads, admin API requests.
const queryConns = 8

// Connections a scheduler node holds for its whole life: the catalog watch
// (LISTEN) and the election lease (session advisory lock).
const (
	WatchConns    = 1
	ElectorConns  = 1
	SchedulerPins = WatchConns + ElectorConns
)

// NewPool connects to postgres. pinned is the number of connections the caller
// will hold indefinitely; they are added on top of the query headroom so a
// long-lived LISTEN or lock never starves marker writes.
func NewPool(ctx context.Context, databaseURL string, pinned int) (*pgxpool.Pool, error) {
	cfg, err := poolConfig(databaseURL, pinned)
	if err != nil {
		return nil, err
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping coordination store: %w", err)
	}

	return pool, nil
}

func poolConfig(databaseURL string, pinned int) (*pgxpool.Config, error) {
	cfg, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse db config: %w", err)
	}
	if pinned < 0 {
		pinned = 0
	}

	cfg.MaxConns = int32(pinned + queryConns)
	cfg.MinConns = int32(pinned + 1)
	// Lifetime only applies on release; pinned connections are never released.
	cfg.MaxConnLifetime = time.Hour
	cfg.MaxConnIdleTime = 30 * time.Minute
	cfg.HealthCheckPeriod = 30 * time.Second
	cfg.ConnConfig.ConnectTimeout = 5 * time.Second

	return cfg, nil
}
