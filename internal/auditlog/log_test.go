package auditlog

import (
	"context"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/medrex/consent-ledger/internal/ledger"
	"github.com/medrex/consent-ledger/pkg/logger"
	"github.com/medrex/consent-ledger/pkg/types"
)

const writer types.Principal = "controller"

func setupLog(t *testing.T) (*Log, *ledger.MemoryStore, *types.ManualClock) {
	t.Helper()
	clock := types.NewManualClock(10)
	return New(writer, clock, logger.Discard()), ledger.NewMemoryStore(), clock
}

func appendEntry(t *testing.T, l *Log, store ledger.Store, patient, accessor types.Principal, action string) uint64 {
	t.Helper()
	var id uint64
	require.NoError(t, store.Update(context.Background(), func(tx ledger.Tx) error {
		var err error
		id, err = l.Append(tx, writer, patient, accessor, action)
		return err
	}))
	return id
}

func TestAppend_AssignsGapFreeIDs(t *testing.T) {
	l, store, clock := setupLog(t)

	for want := uint64(1); want <= 5; want++ {
		clock.Advance(10 + want)
		got := appendEntry(t, l, store, "alice", "alice", types.ActionSelfAccess)
		assert.Equal(t, want, got)
	}

	require.NoError(t, store.View(context.Background(), func(r ledger.Reader) error {
		count, err := l.Count(r)
		require.NoError(t, err)
		assert.Equal(t, uint64(5), count)

		entry, err := l.Get(r, 3)
		require.NoError(t, err)
		assert.Equal(t, uint64(3), entry.ID)
		assert.Equal(t, types.Principal("alice"), entry.Patient)
		assert.Equal(t, uint64(13), entry.Height)
		return nil
	}))
}

func TestAppend_RejectsOtherCallers(t *testing.T) {
	l, store, _ := setupLog(t)

	err := store.Update(context.Background(), func(tx ledger.Tx) error {
		_, err := l.Append(tx, "mallory", "alice", "mallory", types.ActionSelfAccess)
		return err
	})
	assert.ErrorIs(t, err, types.ErrUnauthorized)

	require.NoError(t, store.View(context.Background(), func(r ledger.Reader) error {
		count, err := l.Count(r)
		require.NoError(t, err)
		assert.Zero(t, count)
		return nil
	}))
}

func TestAppend_ValidatesAction(t *testing.T) {
	l, store, _ := setupLog(t)

	for _, action := range []string{"", strings.Repeat("a", types.MaxActionLength+1)} {
		err := store.Update(context.Background(), func(tx ledger.Tx) error {
			_, err := l.Append(tx, writer, "alice", "alice", action)
			return err
		})
		assert.ErrorIs(t, err, types.ErrInvalidInput)
	}

	id := appendEntry(t, l, store, "alice", "alice", strings.Repeat("a", types.MaxActionLength))
	assert.Equal(t, uint64(1), id)
}

func TestAppend_RolledBackEntryLeavesNoGap(t *testing.T) {
	l, store, _ := setupLog(t)
	appendEntry(t, l, store, "alice", "alice", "first")

	err := store.Update(context.Background(), func(tx ledger.Tx) error {
		if _, err := l.Append(tx, writer, "alice", "alice", "aborted"); err != nil {
			return err
		}
		return fmt.Errorf("outer operation failed")
	})
	require.Error(t, err)

	assert.Equal(t, uint64(2), appendEntry(t, l, store, "alice", "alice", "second"))
}

func TestAppend_Timestamp(t *testing.T) {
	l, store, clock := setupLog(t)

	appendEntry(t, l, store, "alice", "alice", "no-wall")
	clock.SetWall(1700000000)
	appendEntry(t, l, store, "alice", "alice", "wall")

	require.NoError(t, store.View(context.Background(), func(r ledger.Reader) error {
		first, err := l.Get(r, 1)
		require.NoError(t, err)
		assert.Zero(t, first.Timestamp)

		second, err := l.Get(r, 2)
		require.NoError(t, err)
		assert.Equal(t, uint64(1700000000), second.Timestamp)
		return nil
	}))
}

func TestGet_NotFound(t *testing.T) {
	l, store, _ := setupLog(t)
	appendEntry(t, l, store, "alice", "alice", "a")

	require.NoError(t, store.View(context.Background(), func(r ledger.Reader) error {
		_, err := l.Get(r, 0)
		assert.ErrorIs(t, err, types.ErrNotFound)
		_, err = l.Get(r, 2)
		assert.ErrorIs(t, err, types.ErrNotFound)
		return nil
	}))
}

func TestGetBatch(t *testing.T) {
	l, store, _ := setupLog(t)
	for i := 0; i < 3; i++ {
		appendEntry(t, l, store, "alice", "bob", "a")
	}

	require.NoError(t, store.View(context.Background(), func(r ledger.Reader) error {
		entries, err := l.GetBatch(r, []uint64{3, 99, 1, 0})
		require.NoError(t, err)
		require.Len(t, entries, 2)
		assert.Equal(t, uint64(3), entries[0].ID)
		assert.Equal(t, uint64(1), entries[1].ID)

		entries, err = l.GetBatch(r, nil)
		require.NoError(t, err)
		assert.Empty(t, entries)

		_, err = l.GetBatch(r, make([]uint64, MaxBatch+1))
		assert.ErrorIs(t, err, types.ErrInvalidInput)
		return nil
	}))
}

func TestPages(t *testing.T) {
	l, store, _ := setupLog(t)

	// ids 1..25, even ids about alice, odd ids about bob; accessor alternates
	for i := 1; i <= 25; i++ {
		patient := types.Principal("bob")
		accessor := types.Principal("carol")
		if i%2 == 0 {
			patient = "alice"
			accessor = "dave"
		}
		appendEntry(t, l, store, patient, accessor, "read")
	}

	require.NoError(t, store.View(context.Background(), func(r ledger.Reader) error {
		page0, err := l.GetPatientPage(r, "alice", 0)
		require.NoError(t, err)
		assert.Equal(t, []uint64{2, 4, 6, 8, 10}, ids(page0))

		page2, err := l.GetPatientPage(r, "bob", 2)
		require.NoError(t, err)
		assert.Equal(t, []uint64{21, 23, 25}, ids(page2))

		page3, err := l.GetPatientPage(r, "bob", 3)
		require.NoError(t, err)
		assert.Empty(t, page3)

		accessor, err := l.GetAccessorPage(r, "dave", 1)
		require.NoError(t, err)
		assert.Equal(t, []uint64{12, 14, 16, 18, 20}, ids(accessor))

		for _, e := range accessor {
			assert.Equal(t, types.Principal("dave"), e.Accessor)
		}
		return nil
	}))
}

func TestPages_FullPageCapped(t *testing.T) {
	l, store, _ := setupLog(t)
	for i := 0; i < 12; i++ {
		appendEntry(t, l, store, "alice", "alice", "read")
	}

	require.NoError(t, store.View(context.Background(), func(r ledger.Reader) error {
		page0, err := l.GetPatientPage(r, "alice", 0)
		require.NoError(t, err)
		assert.Len(t, page0, PageSize)

		page1, err := l.GetPatientPage(r, "alice", 1)
		require.NoError(t, err)
		assert.Equal(t, []uint64{11, 12}, ids(page1))
		return nil
	}))
}

func TestPages_EmptyLog(t *testing.T) {
	l, store, _ := setupLog(t)

	require.NoError(t, store.View(context.Background(), func(r ledger.Reader) error {
		entries, err := l.GetPatientPage(r, "alice", 0)
		require.NoError(t, err)
		assert.Empty(t, entries)

		entries, err = l.GetAccessorPage(r, "alice", ^uint64(0))
		require.NoError(t, err)
		assert.Empty(t, entries)
		return nil
	}))
}

func TestVerify_DetectsTampering(t *testing.T) {
	l, store, _ := setupLog(t)
	for i := 0; i < 3; i++ {
		appendEntry(t, l, store, "alice", "bob", "read")
	}

	require.NoError(t, store.View(context.Background(), func(r ledger.Reader) error {
		for id := uint64(1); id <= 3; id++ {
			ok, err := l.Verify(r, id)
			require.NoError(t, err)
			assert.True(t, ok, "entry %d", id)
		}
		return nil
	}))

	// rewrite entry 2 behind the log's back
	require.NoError(t, store.Update(context.Background(), func(tx ledger.Tx) error {
		var entry types.AuditLogEntry
		_, err := ledger.GetJSON(tx, ledger.IDKey(ledger.NamespaceAudit, 2), &entry)
		require.NoError(t, err)
		entry.Accessor = "mallory"
		return ledger.PutJSON(tx, ledger.IDKey(ledger.NamespaceAudit, 2), &entry)
	}))

	require.NoError(t, store.View(context.Background(), func(r ledger.Reader) error {
		ok, err := l.Verify(r, 2)
		require.NoError(t, err)
		assert.False(t, ok)

		ok, err = l.Verify(r, 3)
		require.NoError(t, err)
		assert.True(t, ok, "entry 3 chains on the stored digest of entry 2")
		return nil
	}))
}

func TestDigest_ChainsPrevious(t *testing.T) {
	entry := &types.AuditLogEntry{ID: 1, Patient: "alice", Accessor: "alice", Action: "read", Height: 5}

	a, err := Digest("", entry)
	require.NoError(t, err)
	b, err := Digest("abc", entry)
	require.NoError(t, err)

	assert.Len(t, a, 64)
	assert.NotEqual(t, a, b)

	again, err := Digest("", entry)
	require.NoError(t, err)
	assert.Equal(t, a, again)
}

func ids(entries []*types.AuditLogEntry) []uint64 {
	out := make([]uint64, 0, len(entries))
	for _, e := range entries {
		out = append(out, e.ID)
	}
	return out
}
