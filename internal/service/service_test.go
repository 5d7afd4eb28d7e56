package service

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/medrex/consent-ledger/internal/ledger"
	"github.com/medrex/consent-ledger/pkg/config"
	"github.com/medrex/consent-ledger/pkg/logger"
	"github.com/medrex/consent-ledger/pkg/monitoring"
	"github.com/medrex/consent-ledger/pkg/types"
)

const (
	admin  types.Principal = "admin"
	writer types.Principal = "writer"
)

func newService(t *testing.T) *Service {
	t.Helper()
	svc, err := New(ledger.NewMemoryStore(), Options{
		Administrator: admin,
		AuditWriter:   writer,
		Clock:         types.NewManualClock(1),
	})
	require.NoError(t, err)
	return svc
}

func TestNew_Validation(t *testing.T) {
	store := ledger.NewMemoryStore()

	_, err := New(store, Options{AuditWriter: writer})
	assert.Error(t, err)

	_, err = New(store, Options{Administrator: admin})
	assert.Error(t, err)

	_, err = New(store, Options{Administrator: admin, AuditWriter: admin})
	assert.Error(t, err)

	svc, err := New(store, Options{Administrator: admin, AuditWriter: writer})
	require.NoError(t, err)
	assert.Equal(t, writer, svc.Writer())
}

func TestService_SharesOneAuditLog(t *testing.T) {
	svc := newService(t)
	ctx := context.Background()

	require.NoError(t, svc.Register(ctx, "alice", "Alice", "h1", "carol"))
	require.NoError(t, svc.ActivateEmergency(ctx, "carol", "alice", "er"))

	id, err := svc.AuditAppend(ctx, writer, "alice", "lab", "external-read")
	require.NoError(t, err)
	assert.Equal(t, uint64(3), id)

	_, err = svc.AuditAppend(ctx, admin, "alice", "lab", "external-read")
	assert.ErrorIs(t, err, types.ErrUnauthorized)

	count, err := svc.AuditCount(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(3), count)

	first, err := svc.FindFirstLog(ctx, "alice", "carol", types.ActionActivateEmergency)
	require.NoError(t, err)
	assert.Equal(t, uint64(2), first)

	ok, err := svc.AuditVerify(ctx, 3)
	require.NoError(t, err)
	assert.True(t, ok)

	page, err := svc.AuditPatientPage(ctx, "alice", 0)
	require.NoError(t, err)
	assert.Len(t, page, 3)
}

func TestOpenBackend_Memory(t *testing.T) {
	health := monitoring.NewHealthManager("test")
	cfg := &config.Config{Ledger: config.LedgerConfig{Backend: config.BackendMemory}}

	backend, err := OpenBackend(context.Background(), cfg, logger.Discard(), health)
	require.NoError(t, err)

	report := health.CheckHealth(context.Background())
	assert.Equal(t, monitoring.HealthStatusHealthy, report.Status)

	require.NoError(t, backend.Close())
	report = health.CheckHealth(context.Background())
	assert.Equal(t, monitoring.HealthStatusUnhealthy, report.Status)
}

func TestOpenBackend_Unknown(t *testing.T) {
	cfg := &config.Config{Ledger: config.LedgerConfig{Backend: "etcd"}}

	_, err := OpenBackend(context.Background(), cfg, logger.Discard(), nil)
	assert.Error(t, err)
}
