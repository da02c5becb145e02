// Package database provides the PostgreSQL client and migration runner for
// the aria_data and aria_engine schemas.
package database

import (
	"context"
	stdsql "database/sql"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	_ "github.com/jackc/pgx/v5/stdlib" // pgx driver for database/sql (migrations, health)
)

// Client owns the pgx connection pool used by all services plus a
// database/sql handle reserved for migrations and pool statistics.
type Client struct {
	pool *pgxpool.Pool
	db   *stdsql.DB
	cfg  Config
}

// Pool returns the pgx pool for queries.
func (c *Client) Pool() *pgxpool.Pool { return c.pool }

// DB returns the database/sql handle for health checks.
func (c *Client) DB() *stdsql.DB { return c.db }

// DSN returns the connection string, used by the LISTEN connection for
// embedding events.
func (c *Client) DSN() string { return c.cfg.DSN() }

// NewClient connects, applies pending migrations and returns a ready client.
// Connection failures and migration failures are distinguishable via
// errors.Is(err, ErrMigrationFailed) so main can pick the right exit code.
func NewClient(ctx context.Context, cfg Config) (*Client, error) {
	dsn := cfg.DSN()

	db, err := stdsql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	db.SetConnMaxIdleTime(cfg.ConnMaxIdleTime)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	if err := runMigrations(db, cfg); err != nil {
		_ = db.Close()
		return nil, err
	}

	poolCfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to parse pool config: %w", err)
	}
	poolCfg.MaxConns = int32(cfg.MaxOpenConns)

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	return &Client{pool: pool, db: db, cfg: cfg}, nil
}

// NewClientFromPool wraps an existing pool (useful for testing).
func NewClientFromPool(pool *pgxpool.Pool, db *stdsql.DB, cfg Config) *Client {
	return &Client{pool: pool, db: db, cfg: cfg}
}

// Close releases the pool and the database/sql handle.
func (c *Client) Close() error {
	c.pool.Close()
	return c.db.Close()
}
