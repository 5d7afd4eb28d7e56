//go:build integration

package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	_ "github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

const integrationSchema = `
	CREATE TABLE IF NOT EXISTS ledger_state (
		key TEXT PRIMARY KEY,
		value BYTEA NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	);`

// startPostgres runs a PostgreSQL container for the duration of the test
func startPostgres(t *testing.T) *sql.DB {
	ctx := context.Background()

	req := testcontainers.ContainerRequest{
		Image:        "postgres:15",
		ExposedPorts: []string{"5432/tcp"},
		Env: map[string]string{
			"POSTGRES_DB":       "consent_ledger_test",
			"POSTGRES_USER":     "test",
			"POSTGRES_PASSWORD": "testpass",
		},
		WaitingFor: wait.ForListeningPort("5432/tcp").WithStartupTimeout(60 * time.Second),
	}

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	require.NoError(t, err)
	t.Cleanup(func() { container.Terminate(ctx) })

	host, err := container.Host(ctx)
	require.NoError(t, err)
	port, err := container.MappedPort(ctx, "5432")
	require.NoError(t, err)

	dsn := fmt.Sprintf("postgres://test:testpass@%s:%s/consent_ledger_test?sslmode=disable", host, port.Port())
	db, err := sql.Open("postgres", dsn)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	for i := 0; i < 30; i++ {
		if err = db.PingContext(ctx); err == nil {
			break
		}
		time.Sleep(time.Second)
	}
	require.NoError(t, err)

	_, err = db.ExecContext(ctx, integrationSchema)
	require.NoError(t, err)
	return db
}

func TestPostgresStore_Integration(t *testing.T) {
	store := NewPostgresStore(startPostgres(t))
	ctx := context.Background()

	require.NoError(t, store.Update(ctx, func(tx Tx) error {
		require.NoError(t, tx.Put("k", []byte("v1")))
		v, err := tx.Get("k")
		require.NoError(t, err)
		assert.Equal(t, []byte("v1"), v)
		return tx.Put("k", []byte("v2"))
	}))

	err := store.Update(ctx, func(tx Tx) error {
		require.NoError(t, tx.Delete("k"))
		return errors.New("abort")
	})
	require.Error(t, err)

	require.NoError(t, store.View(ctx, func(r Reader) error {
		v, err := r.Get("k")
		require.NoError(t, err)
		assert.Equal(t, []byte("v2"), v)
		return nil
	}))
}

func TestPostgresStore_IntegrationSerializedSequence(t *testing.T) {
	store := NewPostgresStore(startPostgres(t))
	ctx := context.Background()

	const workers = 8
	const perWorker = 5

	var (
		mu  sync.Mutex
		ids = make(map[uint64]bool)
		wg  sync.WaitGroup
	)
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < perWorker; i++ {
				var id uint64
				err := store.Update(ctx, func(tx Tx) error {
					var err error
					id, err = NextSequence(tx, SequenceAuditLog)
					return err
				})
				if !assert.NoError(t, err) {
					return
				}
				mu.Lock()
				ids[id] = true
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	require.Len(t, ids, workers*perWorker)
	for id := uint64(1); id <= workers*perWorker; id++ {
		assert.True(t, ids[id], "missing id %d", id)
	}
}
