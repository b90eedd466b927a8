package driver

import (
	"context"
	"fmt"
)

// schema is applied idempotently at startup.
var schema = []string{
	`CREATE TABLE IF NOT EXISTS cart_snapshots (
		device_id  TEXT PRIMARY KEY,
		payload    JSONB NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE TABLE IF NOT EXISTS products (
		id          TEXT PRIMARY KEY,
		name        TEXT NOT NULL,
		description TEXT NOT NULL DEFAULT '',
		price       NUMERIC(12,2) NOT NULL CHECK (price >= 0),
		image       TEXT NOT NULL DEFAULT '',
		category    TEXT NOT NULL,
		subcategory TEXT NOT NULL,
		rating      DOUBLE PRECISION NOT NULL DEFAULT 0,
		stock       INTEGER NOT NULL DEFAULT 0 CHECK (stock >= 0),
		created_at  TIMESTAMPTZ NOT NULL DEFAULT now(),
		updated_at  TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE INDEX IF NOT EXISTS products_category_idx ON products (category, subcategory)`,
	`CREATE TABLE IF NOT EXISTS orders (
		id                TEXT PRIMARY KEY,
		device_id         TEXT NOT NULL,
		customer_id       TEXT NOT NULL,
		email             TEXT NOT NULL,
		status            TEXT NOT NULL,
		currency          TEXT NOT NULL,
		total             NUMERIC(12,2) NOT NULL,
		amount_minor      BIGINT NOT NULL,
		payment_intent_id TEXT UNIQUE,
		shipping          JSONB NOT NULL,
		items             JSONB NOT NULL,
		created_at        TIMESTAMPTZ NOT NULL DEFAULT now(),
		updated_at        TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE INDEX IF NOT EXISTS orders_customer_idx ON orders (customer_id, created_at DESC)`,
	`CREATE TABLE IF NOT EXISTS events (
		id         TEXT PRIMARY KEY,
		type       TEXT NOT NULL,
		processed  BOOLEAN NOT NULL DEFAULT false,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
}

// Migrate creates the storefront tables if they do not exist.
func Migrate(ctx context.Context, conn DBTX) error {
	for _, stmt := range schema {
		if _, err := conn.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("failed to apply schema: %w", err)
		}
	}
	return nil
}
