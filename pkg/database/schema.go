package database

import (
	"context"
	"fmt"
)

// LedgerStateTable holds every ledger key. Values are opaque to the database.
const LedgerStateTable = "ledger_state"

const createLedgerStateTable = `
		CREATE TABLE IF NOT EXISTS ledger_state (
			key TEXT PRIMARY KEY,
			value BYTEA NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);`

// CreateSchema creates the schema used by the postgres ledger store
func (db *DB) CreateSchema(ctx context.Context) error {
	db.logger.WithComponent("database").Info("Creating ledger schema...")

	if _, err := db.ExecContext(ctx, createLedgerStateTable); err != nil {
		return fmt.Errorf("failed to create %s table: %w", LedgerStateTable, err)
	}

	db.logger.WithComponent("database").Info("Ledger schema ready")
	return nil
}
