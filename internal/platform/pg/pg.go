// Package pg opens the shared *sql.DB every lib/pq-backed store in this
// module depends on; transaction scoping itself lives in pkg/tx so
// stores can join an in-flight transaction without importing this
// package.
package pg

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	_ "github.com/lib/pq"
)

// Config controls pool sizing for the shared connection pool.
type Config struct {
	DSN             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// DefaultConfig fills in the pool-sizing defaults used when the
// environment doesn't override them.
func DefaultConfig(dsn string) Config {
	return Config{
		DSN:             dsn,
		MaxOpenConns:    25,
		MaxIdleConns:    10,
		ConnMaxLifetime: 30 * time.Minute,
	}
}

// Open opens a *sql.DB against the `lib/pq` driver and verifies
// connectivity with a ping, failing closed rather than returning a pool
// that silently can't connect.
func Open(ctx context.Context, cfg Config) (*sql.DB, error) {
	return open(ctx, "postgres", cfg)
}

// OpenPGX opens a *sql.DB against the pgx/v5 stdlib driver. internal/risk
// exercises pgx directly rather than lib/pq, so it gets its own pool
// opened under the "pgx" driver name rather than sharing the lib/pq
// pool the other stores use.
func OpenPGX(ctx context.Context, cfg Config) (*sql.DB, error) {
	return open(ctx, "pgx", cfg)
}

func open(ctx context.Context, driver string, cfg Config) (*sql.DB, error) {
	db, err := sql.Open(driver, cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("open postgres (%s): %w", driver, err)
	}
	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping postgres (%s): %w", driver, err)
	}
	return db, nil
}
