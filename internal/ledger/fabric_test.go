package ledger

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/medrex/consent-ledger/internal/ledger/fabrictest"
)

func TestFabricStore_ReadYourWrites(t *testing.T) {
	stub := fabrictest.NewStub(time.Unix(100, 0))
	store := NewFabricStore(stub)

	err := store.Update(context.Background(), func(tx Tx) error {
		id, err := NextSequence(tx, SequenceCertificate)
		require.NoError(t, err)
		assert.Equal(t, uint64(1), id)

		// the stub only sees writes after the function returns
		assert.Empty(t, stub.State)

		id, err = NextSequence(tx, SequenceCertificate)
		require.NoError(t, err)
		assert.Equal(t, uint64(2), id)
		return nil
	})
	require.NoError(t, err)

	assert.Equal(t, []byte("3"), stub.State[Key(NamespaceSequence, SequenceCertificate)])
	assert.Equal(t, 1, stub.Puts)
}

func TestFabricStore_ErrorLeavesStubUntouched(t *testing.T) {
	stub := fabrictest.NewStub(time.Unix(100, 0))
	stub.State["existing"] = []byte("v")
	store := NewFabricStore(stub)

	boom := errors.New("boom")
	err := store.Update(context.Background(), func(tx Tx) error {
		require.NoError(t, tx.Put("new", []byte("x")))
		require.NoError(t, tx.Delete("existing"))
		return boom
	})
	assert.Same(t, boom, err)
	assert.Equal(t, []string{"existing"}, stub.Keys())
	assert.Equal(t, 0, stub.Puts)
}

func TestFabricStore_Delete(t *testing.T) {
	stub := fabrictest.NewStub(time.Unix(100, 0))
	stub.State["gone"] = []byte("v")
	store := NewFabricStore(stub)

	require.NoError(t, store.Update(context.Background(), func(tx Tx) error {
		return tx.Delete("gone")
	}))
	assert.Empty(t, stub.State)

	require.NoError(t, store.View(context.Background(), func(r Reader) error {
		v, err := r.Get("gone")
		require.NoError(t, err)
		assert.Nil(t, v)
		return nil
	}))
}

func TestFabricStore_PutFailure(t *testing.T) {
	stub := fabrictest.NewStub(time.Unix(100, 0))
	stub.PutErr = errors.New("endorsement failure")
	store := NewFabricStore(stub)

	err := store.Update(context.Background(), func(tx Tx) error {
		return tx.Put("k", []byte("v"))
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to put state")
}
