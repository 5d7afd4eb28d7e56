package ledger

import (
	"context"
	"sync"
)

// MemoryStore is an in-process Store. A single mutex serializes every
// transaction, and staged writes are applied only when fn succeeds.
type MemoryStore struct {
	mu     sync.Mutex
	state  map[string][]byte
	closed bool
}

// NewMemoryStore creates an empty in-memory store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{state: make(map[string][]byte)}
}

type memoryReader struct {
	state map[string][]byte
}

func (r memoryReader) Get(key string) ([]byte, error) {
	return cloneBytes(r.state[key]), nil
}

// Update implements Store
func (s *MemoryStore) Update(ctx context.Context, fn func(tx Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrStoreClosed
	}

	tx := newOverlay(memoryReader{state: s.state})
	if err := fn(tx); err != nil {
		return err
	}

	return tx.flush(
		func(key string, value []byte) error {
			s.state[key] = value
			return nil
		},
		func(key string) error {
			delete(s.state, key)
			return nil
		},
	)
}

// View implements Store
func (s *MemoryStore) View(ctx context.Context, fn func(r Reader) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrStoreClosed
	}

	return fn(memoryReader{state: s.state})
}

// Len returns the number of keys held
func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.state)
}

// Ping reports whether the store is usable
func (s *MemoryStore) Ping(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrStoreClosed
	}
	return nil
}

// Close releases the store
func (s *MemoryStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}
