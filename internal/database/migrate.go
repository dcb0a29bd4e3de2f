package database

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
)

// Schema is the full DDL for the order and coupon store. Every statement is
// idempotent so Migrate can run on each start.
const Schema = `
	CREATE TABLE IF NOT EXISTS coupons (
		code         TEXT PRIMARY KEY,
		discount     NUMERIC(5,4) NOT NULL CHECK (discount >= 0 AND discount < 1),
		max_uses     INTEGER CHECK (max_uses IS NULL OR max_uses >= 0),
		uses         INTEGER NOT NULL DEFAULT 0 CHECK (uses >= 0),
		min_quantity INTEGER NOT NULL DEFAULT 0,
		max_quantity INTEGER,
		active       BOOLEAN NOT NULL DEFAULT TRUE,
		valid_until  TIMESTAMPTZ,
		created_by   TEXT NOT NULL DEFAULT '',
		created_at   TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		CHECK (max_uses IS NULL OR uses <= max_uses)
	);

	CREATE TABLE IF NOT EXISTS orders (
		id                 UUID PRIMARY KEY,
		buyer_id           TEXT NOT NULL,
		target_account     TEXT NOT NULL,
		target_account_id  BIGINT NOT NULL DEFAULT 0,
		quantity           INTEGER NOT NULL CHECK (quantity > 0),
		unit_price         NUMERIC(12,6) NOT NULL,
		coupon_code        TEXT REFERENCES coupons(code),
		discount           NUMERIC(5,4) NOT NULL DEFAULT 0,
		total              NUMERIC(12,2) NOT NULL CHECK (total >= 0),
		currency           CHAR(3) NOT NULL,
		deliverable_price  INTEGER NOT NULL,
		payment_reference  TEXT UNIQUE,
		pix_code           TEXT,
		payment_created_at TIMESTAMPTZ,
		payment_expires_at TIMESTAMPTZ,
		deliverable_id     BIGINT,
		deliverable_url    TEXT,
		state              TEXT NOT NULL,
		failure_reason     TEXT,
		refund_reason      TEXT,
		created_at         TIMESTAMPTZ NOT NULL,
		updated_at         TIMESTAMPTZ NOT NULL,
		paid_at            TIMESTAMPTZ,
		delivered_at       TIMESTAMPTZ,
		delivered_by       TEXT,
		refunded_at        TIMESTAMPTZ
	);

	CREATE INDEX IF NOT EXISTS idx_orders_buyer_id ON orders(buyer_id, created_at DESC);
	CREATE INDEX IF NOT EXISTS idx_orders_state ON orders(state);

	CREATE TABLE IF NOT EXISTS order_transitions (
		id         BIGSERIAL PRIMARY KEY,
		order_id   UUID NOT NULL REFERENCES orders(id),
		from_state TEXT NOT NULL,
		to_state   TEXT NOT NULL,
		actor      TEXT NOT NULL,
		reason     TEXT,
		at         TIMESTAMPTZ NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_order_transitions_order_id ON order_transitions(order_id, id);
`

// Migrate applies Schema.
func Migrate(ctx context.Context, pool *pgxpool.Pool, logger zerolog.Logger) error {
	if _, err := pool.Exec(ctx, Schema); err != nil {
		logger.Error().Err(err).Msg("failed to apply schema")
		return fmt.Errorf("failed to apply schema: %w", err)
	}

	logger.Info().Msg("database schema is up to date")
	return nil
}
