package postgres

import (
	"context"
	"fmt"
)

// migrations run in order inside one transaction. Statements are
// idempotent so Migrate can run at every startup.
var migrations = []string{
	`CREATE TABLE IF NOT EXISTS quota_accounts (
		id         TEXT PRIMARY KEY,
		balance    BIGINT NOT NULL DEFAULT 0 CHECK (balance >= 0),
		created_at TIMESTAMPTZ NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS quota_transactions (
		id            TEXT PRIMARY KEY,
		account_id    TEXT NOT NULL REFERENCES quota_accounts(id),
		amount        BIGINT NOT NULL,
		balance_after BIGINT NOT NULL CHECK (balance_after >= 0),
		kind          TEXT NOT NULL,
		order_id      TEXT,
		project_id    TEXT,
		description   TEXT NOT NULL DEFAULT '',
		metadata      JSONB NOT NULL DEFAULT '{}',
		refunded_by   TEXT,
		created_at    TIMESTAMPTZ NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS quota_transactions_account_idx
		ON quota_transactions (account_id, created_at DESC, id DESC)`,
	`CREATE TABLE IF NOT EXISTS quota_orders (
		id             TEXT PRIMARY KEY,
		account_id     TEXT NOT NULL REFERENCES quota_accounts(id),
		number         TEXT NOT NULL,
		package_key    TEXT NOT NULL,
		amount         BIGINT NOT NULL,
		currency       TEXT NOT NULL,
		quota_amount   BIGINT NOT NULL,
		status         TEXT NOT NULL,
		payment_method TEXT NOT NULL DEFAULT '',
		payment_ref    TEXT NOT NULL DEFAULT '',
		paid_at        TIMESTAMPTZ,
		created_at     TIMESTAMPTZ NOT NULL,
		updated_at     TIMESTAMPTZ NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS quota_orders_account_idx
		ON quota_orders (account_id, created_at DESC, id DESC)`,
}

// Migrate creates the schema if it does not exist yet.
func (s *Store) Migrate(ctx context.Context) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("postgres: begin migration: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck // rollback after commit is a no-op

	for i, stmt := range migrations {
		if _, err := tx.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("postgres: migration %d: %w", i, err)
		}
	}
	return tx.Commit(ctx)
}
