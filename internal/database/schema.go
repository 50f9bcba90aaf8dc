package database

import (
	"database/sql"
	"fmt"
)

// schemaStatements creates the wallet tables. users is owned by the account
// service; it is created here only so a fresh database is usable on its own.
var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS users (
		id             TEXT PRIMARY KEY,
		email          TEXT NOT NULL UNIQUE,
		first_name     TEXT NOT NULL DEFAULT '',
		email_verified BOOLEAN NOT NULL DEFAULT FALSE,
		nin_verified   BOOLEAN NOT NULL DEFAULT FALSE,
		status         TEXT NOT NULL DEFAULT 'ACTIVE'
	)`,
	`CREATE TABLE IF NOT EXISTS ledger_entries (
		seq            BIGSERIAL,
		id             TEXT PRIMARY KEY,
		user_id        TEXT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
		direction      TEXT NOT NULL CHECK (direction IN ('CREDIT', 'DEBIT')),
		amount         NUMERIC(20,2) NOT NULL CHECK (amount > 0),
		balance_after  NUMERIC(20,2) NOT NULL,
		category       TEXT NOT NULL,
		description    TEXT NOT NULL DEFAULT '',
		reference_id   TEXT,
		counterpart_id TEXT,
		status         TEXT NOT NULL CHECK (status IN ('PENDING', 'COMPLETED', 'FAILED')),
		metadata       JSONB,
		created_at     TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE INDEX IF NOT EXISTS idx_ledger_entries_user_seq ON ledger_entries (user_id, seq)`,
	`CREATE INDEX IF NOT EXISTS idx_ledger_entries_reference ON ledger_entries (user_id, reference_id)`,
	`CREATE TABLE IF NOT EXISTS bank_accounts (
		id                      TEXT PRIMARY KEY,
		user_id                 TEXT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
		account_number          TEXT NOT NULL,
		account_name            TEXT NOT NULL,
		bank_code               TEXT NOT NULL,
		bank_name               TEXT NOT NULL,
		is_verified             BOOLEAN NOT NULL DEFAULT FALSE,
		is_default              BOOLEAN NOT NULL DEFAULT FALSE,
		gateway_recipient_token TEXT UNIQUE,
		created_at              TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at              TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		UNIQUE (user_id, account_number, bank_code)
	)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS idx_bank_accounts_one_default ON bank_accounts (user_id) WHERE is_default`,
	`CREATE TABLE IF NOT EXISTS withdrawal_otps (
		id         TEXT PRIMARY KEY,
		user_id    TEXT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
		code_hash  TEXT NOT NULL,
		amount     NUMERIC(20,2) NOT NULL,
		expires_at TIMESTAMPTZ NOT NULL,
		used       BOOLEAN NOT NULL DEFAULT FALSE,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE INDEX IF NOT EXISTS idx_withdrawal_otps_lookup ON withdrawal_otps (user_id, code_hash) WHERE NOT used`,
	`CREATE TABLE IF NOT EXISTS notifications (
		id          TEXT PRIMARY KEY,
		receiver_id TEXT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
		type        TEXT NOT NULL,
		title       TEXT NOT NULL,
		message     TEXT NOT NULL,
		data        JSONB,
		created_at  TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
}

// EnsureSchema applies the wallet schema idempotently.
func EnsureSchema(db *sql.DB) error {
	for i, stmt := range schemaStatements {
		if _, err := db.Exec(stmt); err != nil {
			return fmt.Errorf("schema statement %d: %w", i, err)
		}
	}
	return nil
}
