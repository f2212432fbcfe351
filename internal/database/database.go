// Package database provides pool management for the Postgres-backed
// notification store and the LISTEN/NOTIFY change listener.
package database

import (
	"context"
	"fmt"
	"sync"

	"github.com/aman1117/notifyd/internal/config"
	"github.com/jackc/pgx/v5/pgxpool"
)

var (
	pool     *pgxpool.Pool
	initOnce sync.Once
)

// Init initializes the shared connection pool with the provided
// configuration. Both the notification store and the change listener pull
// connections from this pool; the listener additionally acquires a
// dedicated connection it holds for the life of a LISTEN session.
func Init(ctx context.Context, cfg *config.DatabaseConfig) (*pgxpool.Pool, error) {
	var initErr error

	initOnce.Do(func() {
		poolCfg, err := pgxpool.ParseConfig(cfg.URL)
		if err != nil {
			initErr = fmt.Errorf("parsing database url: %w", err)
			return
		}

		poolCfg.MaxConns = cfg.MaxConns
		poolCfg.MinConns = cfg.MinConns
		poolCfg.MaxConnLifetime = cfg.ConnMaxLifetime
		poolCfg.MaxConnIdleTime = cfg.ConnMaxIdleTime

		pool, initErr = pgxpool.NewWithConfig(ctx, poolCfg)
		if initErr != nil {
			return
		}

		if initErr = pool.Ping(ctx); initErr != nil {
			pool.Close()
			pool = nil
		}
	})

	return pool, initErr
}

// Get returns the shared connection pool.
func Get() *pgxpool.Pool {
	return pool
}

// Close releases the connection pool.
func Close() {
	if pool != nil {
		pool.Close()
	}
}
