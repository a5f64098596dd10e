package store

import (
	"context"
	"fmt"
	"log"

	"github.com/jackc/pgx/v5/pgxpool"
)

// schemaStatements create the ledger tables when they do not exist yet.
// Balance and transaction shape rules are duplicated as CHECK constraints so a
// buggy writer cannot persist an impossible row.
var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS users (
		id UUID PRIMARY KEY,
		name TEXT NOT NULL DEFAULT '',
		email TEXT NOT NULL DEFAULT ''
	)`,
	`CREATE TABLE IF NOT EXISTS accounts (
		id UUID PRIMARY KEY,
		account_number TEXT NOT NULL,
		user_id UUID NOT NULL,
		account_type TEXT NOT NULL,
		balance BIGINT NOT NULL DEFAULT 0,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		CONSTRAINT accounts_account_number_key UNIQUE (account_number),
		CONSTRAINT accounts_balance_non_negative CHECK (balance >= 0)
	)`,
	`CREATE INDEX IF NOT EXISTS idx_accounts_user_id ON accounts (user_id)`,
	`CREATE TABLE IF NOT EXISTS transactions (
		seq BIGSERIAL UNIQUE,
		id UUID PRIMARY KEY,
		from_account_id UUID REFERENCES accounts (id),
		to_account_id UUID NOT NULL REFERENCES accounts (id),
		amount BIGINT NOT NULL,
		type TEXT NOT NULL,
		description TEXT,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		CONSTRAINT transactions_amount_positive CHECK (amount > 0),
		CONSTRAINT transactions_type_valid CHECK (type IN ('deposit', 'transfer')),
		CONSTRAINT transactions_shape_valid CHECK (
			(type = 'deposit' AND from_account_id IS NULL)
			OR (type = 'transfer' AND from_account_id IS NOT NULL AND from_account_id <> to_account_id)
		)
	)`,
	`CREATE INDEX IF NOT EXISTS idx_transactions_from_account ON transactions (from_account_id, created_at DESC)`,
	`CREATE INDEX IF NOT EXISTS idx_transactions_to_account ON transactions (to_account_id, created_at DESC)`,
}

// EnsureSchema applies the ledger schema. Every statement is idempotent.
func EnsureSchema(ctx context.Context, db *pgxpool.Pool) error {
	for i, stmt := range schemaStatements {
		if _, err := db.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("apply schema statement %d: %w", i+1, err)
		}
	}
	log.Printf("level=info component=store msg=\"ledger schema ensured\" statements=%d", len(schemaStatements))
	return nil
}
