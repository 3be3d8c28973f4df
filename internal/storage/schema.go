package storage

import (
	"context"
	"fmt"
)

var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS payments (
        payment_id     TEXT PRIMARY KEY,
        tx_hash        TEXT UNIQUE,
        recipient      TEXT NOT NULL,
        amount         NUMERIC(38, 18) NOT NULL,
        stablecoin     TEXT NOT NULL,
        token_address  TEXT NOT NULL,
        status         TEXT NOT NULL,
        confirmations  BIGINT NOT NULL DEFAULT 0,
        block_number   BIGINT,
        description    TEXT NOT NULL DEFAULT '',
        created_at     TIMESTAMPTZ NOT NULL,
        completed_at   TIMESTAMPTZ,
        error          TEXT,
        gas_used       BIGINT NOT NULL DEFAULT 0,
        revision       BIGINT NOT NULL DEFAULT 0,
        updated_at     TIMESTAMPTZ NOT NULL DEFAULT now()
    );`,
	`ALTER TABLE payments ADD COLUMN IF NOT EXISTS gas_used BIGINT NOT NULL DEFAULT 0;`,
	`ALTER TABLE payments ADD COLUMN IF NOT EXISTS revision BIGINT NOT NULL DEFAULT 0;`,
	`CREATE INDEX IF NOT EXISTS payments_status_idx ON payments (status);`,
	`CREATE TABLE IF NOT EXISTS price_quotes (
        id             BIGSERIAL PRIMARY KEY,
        symbol         TEXT NOT NULL,
        price_usd      NUMERIC(38, 18) NOT NULL,
        market_cap_usd NUMERIC(38, 2),
        change_24h     NUMERIC(38, 18) NOT NULL DEFAULT 0,
        fetched_at     TIMESTAMPTZ NOT NULL,
        created_at     TIMESTAMPTZ NOT NULL DEFAULT now(),
        UNIQUE (symbol, fetched_at)
    );`,
	`CREATE INDEX IF NOT EXISTS price_quotes_fetched_idx ON price_quotes (fetched_at);`,
}

// EnsureSchema creates the payments and price_quotes tables when missing.
func (s *Store) EnsureSchema(ctx context.Context) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}
	for _, stmt := range schemaStatements {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("ensure schema: %w", err)
		}
	}
	return nil
}
