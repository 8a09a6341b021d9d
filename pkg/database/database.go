// Package database provides the pgx connection pool used by the event store.
package database

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/deskhive/deskhive/pkg/config"
	"github.com/deskhive/deskhive/pkg/logger"
)

const (
	defaultMaxConnLifetime = 30 * time.Minute
	defaultMaxConnIdleTime = 5 * time.Minute
	defaultHealthCheck     = 30 * time.Second
	pingTimeout            = 5 * time.Second
)

// DB wraps pgxpool.Pool with pool sizing from config and a verified startup
// connection.
type DB struct {
	pool *pgxpool.Pool
	log  logger.Logger
}

// NewPool parses the database URL, applies pool settings, and verifies
// connectivity with a short ping before returning.
func NewPool(ctx context.Context, cfg *config.Config, log logger.Logger) (*DB, error) {
	pc, err := pgxpool.ParseConfig(cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("database: parse url: %w", err)
	}

	minConns := cfg.DBMinConns
	maxConns := cfg.DBMaxConns
	if maxConns <= 0 {
		maxConns = 20
	}
	if minConns < 0 || minConns > maxConns {
		minConns = 2
	}
	pc.MinConns = int32(minConns)
	pc.MaxConns = int32(maxConns)
	pc.MaxConnLifetime = defaultMaxConnLifetime
	pc.MaxConnIdleTime = defaultMaxConnIdleTime
	pc.HealthCheckPeriod = defaultHealthCheck

	pool, err := pgxpool.NewWithConfig(ctx, pc)
	if err != nil {
		return nil, fmt.Errorf("database: create pool: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("database: ping: %w", err)
	}

	log.Info("database: pool ready", "min_conns", minConns, "max_conns", maxConns)
	return &DB{pool: pool, log: log}, nil
}

// Ping checks database connectivity.
func (db *DB) Ping(ctx context.Context) error {
	if err := db.pool.Ping(ctx); err != nil {
		return fmt.Errorf("database: ping: %w", err)
	}
	return nil
}

// Pool returns the underlying pgxpool.Pool for direct query use.
func (db *DB) Pool() *pgxpool.Pool {
	return db.pool
}

// WithTx runs fn inside a transaction, committing on nil and rolling back on
// error or panic.
func (db *DB) WithTx(ctx context.Context, fn func(pgx.Tx) error) error {
	tx, err := db.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("database: begin tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("database: commit tx: %w", err)
	}
	return nil
}

// Close shuts down the pool. Safe to call once during shutdown.
func (db *DB) Close() {
	db.pool.Close()
}
