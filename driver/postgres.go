// Package driver connects the storefront to Postgres, Redis, NATS and Firebase.
package driver

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresPool is the part of *pgxpool.Pool the repositories and TransactionManager use.
type PostgresPool interface {
	DBTX
	BeginTx(ctx context.Context, txOptions pgx.TxOptions) (pgx.Tx, error)
	Close()
}

// DBTX is satisfied by both the pool and a pgx.Tx.
type DBTX interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Conn returns tx when a transaction is in flight, the pool otherwise.
func Conn(pool PostgresPool, tx pgx.Tx) DBTX {
	if tx != nil {
		return tx
	}
	return pool
}

// DB holds the driver connection pool
type DB struct {
	Pool PostgresPool
}

const (
	defaultMaxConns        = 10
	defaultMaxConnLifetime = 5 * time.Minute
)

// PoolOptions sizes the pool. Zero values fall back to 10 connections living 5 minutes.
type PoolOptions struct {
	MaxConns        int32
	MaxConnLifetime time.Duration
}

// ConnectSQL opens a pool for dsn and acquires one connection to check the server is reachable.
func ConnectSQL(ctx context.Context, dsn string, opts PoolOptions) (*DB, error) {
	config, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to parse database url: %w", err)
	}

	config.MaxConns = defaultMaxConns
	if opts.MaxConns > 0 {
		config.MaxConns = opts.MaxConns
	}
	config.MaxConnLifetime = defaultMaxConnLifetime
	if opts.MaxConnLifetime > 0 {
		config.MaxConnLifetime = opts.MaxConnLifetime
	}

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("failed to create pool: %w", err)
	}

	if err = ping(ctx, pool); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to reach postgres: %w", err)
	}

	return &DB{Pool: pool}, nil
}

// ping acquires and releases a connection from the pool
func ping(ctx context.Context, p *pgxpool.Pool) error {
	conn, err := p.Acquire(ctx)
	if err != nil {
		return err
	}
	defer conn.Release()
	return nil
}
