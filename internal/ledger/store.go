// Package ledger is the transactional key-value store the access ledger runs
// on. Every Update is all-or-nothing and updates are strictly serialized.
package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
)

// ErrStoreClosed is returned by backends once they have been closed.
var ErrStoreClosed = errors.New("ledger store closed")

// Reader gives read access to ledger state. Get returns nil, nil for a
// missing key.
type Reader interface {
	Get(key string) ([]byte, error)
}

// Tx is a read-write view of the ledger inside one transaction. Reads see the
// transaction's own writes.
type Tx interface {
	Reader
	Put(key string, value []byte) error
	Delete(key string) error
}

// Store runs transactions against the ledger.
type Store interface {
	// Update runs fn in a serialized read-write transaction. If fn returns an
	// error nothing it wrote is kept and the error is returned unchanged.
	Update(ctx context.Context, fn func(tx Tx) error) error
	// View runs fn against a consistent read-only snapshot.
	View(ctx context.Context, fn func(r Reader) error) error
}

// GetJSON loads key into v. It reports false if the key does not exist.
func GetJSON(r Reader, key string, v interface{}) (bool, error) {
	data, err := r.Get(key)
	if err != nil {
		return false, fmt.Errorf("failed to read %q from ledger: %w", key, err)
	}
	if data == nil {
		return false, nil
	}
	if err := json.Unmarshal(data, v); err != nil {
		return false, fmt.Errorf("failed to decode %q: %w", key, err)
	}
	return true, nil
}

// PutJSON stores v under key.
func PutJSON(tx Tx, key string, v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to encode %q: %w", key, err)
	}
	if err := tx.Put(key, data); err != nil {
		return fmt.Errorf("failed to write %q to ledger: %w", key, err)
	}
	return nil
}

// Exists reports whether key holds a value.
func Exists(r Reader, key string) (bool, error) {
	data, err := r.Get(key)
	if err != nil {
		return false, fmt.Errorf("failed to read %q from ledger: %w", key, err)
	}
	return data != nil, nil
}
