package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// advisoryLockKey is the pg_advisory_xact_lock key every writer takes, which
// serializes read-write transactions across all service replicas. Writers run
// at READ COMMITTED: the snapshot of a SERIALIZABLE transaction would be taken
// by the lock statement itself, before the lock is granted.
const advisoryLockKey int64 = 0x6c6564676572

const (
	queryAdvisoryLock = `SELECT pg_advisory_xact_lock($1)`
	queryGetState     = `SELECT value FROM ledger_state WHERE key = $1`
	queryPutState     = `INSERT INTO ledger_state (key, value, updated_at) VALUES ($1, $2, NOW()) ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value, updated_at = NOW()`
	queryDeleteState  = `DELETE FROM ledger_state WHERE key = $1`
)

// PostgresStore keeps ledger state in the ledger_state table
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a store on an open database
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

type postgresTx struct {
	ctx context.Context
	tx  *sql.Tx
}

func (t *postgresTx) Get(key string) ([]byte, error) {
	var value []byte
	err := t.tx.QueryRowContext(t.ctx, queryGetState, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return value, nil
}

func (t *postgresTx) Put(key string, value []byte) error {
	_, err := t.tx.ExecContext(t.ctx, queryPutState, key, value)
	return err
}

func (t *postgresTx) Delete(key string) error {
	_, err := t.tx.ExecContext(t.ctx, queryDeleteState, key)
	return err
}

// Update implements Store
func (s *PostgresStore) Update(ctx context.Context, fn func(tx Tx) error) error {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		return fmt.Errorf("failed to begin ledger transaction: %w", err)
	}

	if _, err := tx.ExecContext(ctx, queryAdvisoryLock, advisoryLockKey); err != nil {
		tx.Rollback()
		return fmt.Errorf("failed to acquire ledger lock: %w", err)
	}

	if err := fn(&postgresTx{ctx: ctx, tx: tx}); err != nil {
		tx.Rollback()
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit ledger transaction: %w", err)
	}
	return nil
}

// View implements Store
func (s *PostgresStore) View(ctx context.Context, fn func(r Reader) error) error {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelRepeatableRead, ReadOnly: true})
	if err != nil {
		return fmt.Errorf("failed to begin ledger snapshot: %w", err)
	}
	defer tx.Rollback()

	return fn(&postgresTx{ctx: ctx, tx: tx})
}

// Ping reports whether the database is reachable
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}
