package access

import (
	"context"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/medrex/consent-ledger/internal/auditlog"
	"github.com/medrex/consent-ledger/internal/emergency"
	"github.com/medrex/consent-ledger/internal/ledger"
	"github.com/medrex/consent-ledger/pkg/logger"
	"github.com/medrex/consent-ledger/pkg/monitoring"
	"github.com/medrex/consent-ledger/pkg/types"
)

const (
	writer types.Principal = "consent-ledger.controller"
	admin  types.Principal = "admin"
	alice  types.Principal = "alice"
	bob    types.Principal = "bob"
	carol  types.Principal = "carol"
	dave   types.Principal = "dave"
)

type fixture struct {
	store      *ledger.MemoryStore
	clock      *types.ManualClock
	audit      *auditlog.Log
	override   *emergency.Override
	controller *Controller
	metrics    *monitoring.MetricsCollector
}

func setup(t *testing.T) *fixture {
	t.Helper()
	return setupWithSelf(t, writer)
}

// setupWithSelf builds a controller that appends to the audit log as self
func setupWithSelf(t *testing.T, self types.Principal) *fixture {
	t.Helper()

	store := ledger.NewMemoryStore()
	clock := types.NewManualClock(50)
	log := logger.Discard()
	metrics := monitoring.NewMetricsCollector("access-test")
	patients := NewPatients()
	audit := auditlog.New(writer, clock, log)
	override := emergency.NewOverride(store, patients, audit, clock, self, admin, log, metrics)
	controller := NewController(store, patients, audit, override, clock,
		Config{Self: self, Administrator: admin}, log, metrics)

	return &fixture{
		store:      store,
		clock:      clock,
		audit:      audit,
		override:   override,
		controller: controller,
		metrics:    metrics,
	}
}

func (f *fixture) register(t *testing.T, patient, contact types.Principal) {
	t.Helper()
	require.NoError(t, f.controller.Register(context.Background(), patient, "Name of "+patient.String(), "h1", contact))
}

func (f *fixture) auditCount(t *testing.T) uint64 {
	t.Helper()
	var count uint64
	require.NoError(t, f.store.View(context.Background(), func(r ledger.Reader) error {
		var err error
		count, err = f.audit.Count(r)
		return err
	}))
	return count
}

func (f *fixture) entry(t *testing.T, id uint64) *types.AuditLogEntry {
	t.Helper()
	var entry *types.AuditLogEntry
	require.NoError(t, f.store.View(context.Background(), func(r ledger.Reader) error {
		var err error
		entry, err = f.audit.Get(r, id)
		return err
	}))
	return entry
}

func TestRegister(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	require.NoError(t, f.controller.Register(ctx, alice, "Alice", "h1", ""))

	record, err := f.controller.ReadRecord(ctx, alice, alice)
	require.NoError(t, err)
	assert.Equal(t, "Alice", record.Name)
	assert.Equal(t, "h1", record.RecordHash)
	assert.Equal(t, uint64(50), record.CreatedAt)
	assert.False(t, record.HasEmergencyContact())

	entry := f.entry(t, 1)
	assert.Equal(t, types.ActionPatientRegistration, entry.Action)
	assert.Equal(t, alice, entry.Patient)
	assert.Equal(t, alice, entry.Accessor)

	err = f.controller.Register(ctx, alice, "Alice again", "h2", "")
	assert.ErrorIs(t, err, types.ErrAlreadyExists)
}

func TestRegister_Validation(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	tests := []struct {
		name       string
		caller     types.Principal
		nameField  string
		recordHash string
	}{
		{"empty name", alice, "", "h1"},
		{"empty hash", alice, "Alice", ""},
		{"long name", alice, strings.Repeat("n", types.MaxNameLength+1), "h1"},
		{"long hash", alice, "Alice", strings.Repeat("h", types.MaxRecordHashLength+1)},
		{"no caller", "", "Alice", "h1"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := f.controller.Register(ctx, tt.caller, tt.nameField, tt.recordHash, "")
			assert.ErrorIs(t, err, types.ErrInvalidInput)
		})
	}
	assert.Zero(t, f.auditCount(t))
}

// Scenario: register, grant, expired provider update, revoke.
func TestGrantLifecycleScenario(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	require.NoError(t, f.controller.Register(ctx, alice, "Alice", "h1", ""))
	assert.Equal(t, uint64(1), f.auditCount(t))

	certID, err := f.controller.GrantAccess(ctx, alice, bob, types.AccessReadWrite, 100, "proof")
	require.NoError(t, err)
	assert.Equal(t, uint64(1), certID)
	assert.Equal(t, uint64(2), f.auditCount(t))

	level, err := f.controller.CheckAccess(ctx, alice, bob)
	require.NoError(t, err)
	assert.Equal(t, types.AccessReadWrite, level)

	require.NoError(t, f.controller.RevokeAccess(ctx, alice, alice, bob))
	assert.Equal(t, uint64(3), f.auditCount(t))

	level, err = f.controller.CheckAccess(ctx, alice, bob)
	require.NoError(t, err)
	assert.Equal(t, types.AccessNone, level)

	// a fresh grant expires at 100; at height 150 the provider update fails
	_, err = f.controller.GrantAccess(ctx, alice, bob, types.AccessReadWrite, 100, "proof")
	require.NoError(t, err)
	f.clock.Advance(150)

	err = f.controller.ProviderUpdateRecord(ctx, bob, alice, "h2")
	assert.ErrorIs(t, err, types.ErrExpiredAccess)

	level, err = f.controller.CheckAccess(ctx, alice, bob)
	require.NoError(t, err)
	assert.Equal(t, types.AccessNone, level)
}

func TestGrantAccess_Validation(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	f.register(t, alice, "")

	tests := []struct {
		name     string
		provider types.Principal
		level    types.AccessLevel
		expires  uint64
		proof    string
	}{
		{"self grant", alice, types.AccessRead, 100, "p"},
		{"no provider", "", types.AccessRead, 100, "p"},
		{"level zero", bob, types.AccessNone, 100, "p"},
		{"level four", bob, types.AccessLevel(4), 100, "p"},
		{"expiry now", bob, types.AccessRead, 50, "p"},
		{"expiry past", bob, types.AccessRead, 10, "p"},
		{"empty proof", bob, types.AccessRead, 100, ""},
		{"long proof", bob, types.AccessRead, 100, strings.Repeat("p", types.MaxConsentProofLength+1)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.controller.GrantAccess(ctx, alice, tt.provider, tt.level, tt.expires, tt.proof)
			assert.ErrorIs(t, err, types.ErrInvalidInput)
		})
	}

	_, err := f.controller.GrantAccess(ctx, carol, bob, types.AccessRead, 100, "p")
	assert.ErrorIs(t, err, types.ErrNotFound)

	// only the registration was audited
	assert.Equal(t, uint64(1), f.auditCount(t))
}

func TestGrantAccess_IssuesCertificate(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	f.register(t, alice, "")
	f.register(t, carol, "")

	first, err := f.controller.GrantAccess(ctx, alice, bob, types.AccessRead, 100, "p1")
	require.NoError(t, err)
	second, err := f.controller.GrantAccess(ctx, carol, bob, types.AccessAdmin, 200, "p2")
	require.NoError(t, err)
	assert.Equal(t, uint64(1), first)
	assert.Equal(t, uint64(2), second)

	owner, err := f.controller.CertificateOwner(ctx, second)
	require.NoError(t, err)
	assert.Equal(t, bob, owner)

	info, err := f.controller.Certificate(ctx, second)
	require.NoError(t, err)
	assert.Equal(t, &types.CertificateInfo{ID: 2, Patient: carol, Provider: bob, Level: types.AccessAdmin, ExpiresAt: 200}, info)

	grant, err := f.controller.Grant(ctx, alice, bob)
	require.NoError(t, err)
	assert.Equal(t, uint64(50), grant.GrantedAt)
	assert.Equal(t, "p1", grant.ConsentProof)
	assert.Equal(t, first, grant.CertificateID)

	entry := f.entry(t, 3)
	assert.Equal(t, types.ActionGrantAccess, entry.Action)
	assert.Equal(t, alice, entry.Patient)
	assert.Equal(t, alice, entry.Accessor)
}

func TestGrantAccess_RegrantOverwrites(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	f.register(t, alice, "")

	first, err := f.controller.GrantAccess(ctx, alice, bob, types.AccessRead, 100, "p1")
	require.NoError(t, err)
	second, err := f.controller.GrantAccess(ctx, alice, bob, types.AccessAdmin, 300, "p2")
	require.NoError(t, err)
	assert.Equal(t, first+1, second)

	grant, err := f.controller.Grant(ctx, alice, bob)
	require.NoError(t, err)
	assert.Equal(t, types.AccessAdmin, grant.Level)
	assert.Equal(t, second, grant.CertificateID)

	// the first certificate dangles: still held, metadata gone
	owner, err := f.controller.CertificateOwner(ctx, first)
	require.NoError(t, err)
	assert.Equal(t, bob, owner)
	_, err = f.controller.Certificate(ctx, first)
	assert.ErrorIs(t, err, types.ErrNotFound)
}

func TestRevokeAccess(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	f.register(t, alice, "")

	certID, err := f.controller.GrantAccess(ctx, alice, bob, types.AccessRead, 100, "p")
	require.NoError(t, err)

	assert.ErrorIs(t, f.controller.RevokeAccess(ctx, alice, alice, alice), types.ErrInvalidInput)
	assert.ErrorIs(t, f.controller.RevokeAccess(ctx, carol, alice, bob), types.ErrUnauthorized)
	assert.ErrorIs(t, f.controller.RevokeAccess(ctx, bob, alice, bob), types.ErrUnauthorized)
	assert.ErrorIs(t, f.controller.RevokeAccess(ctx, alice, alice, carol), types.ErrNotFound)

	require.NoError(t, f.controller.RevokeAccess(ctx, admin, alice, bob))

	_, err = f.controller.Grant(ctx, alice, bob)
	assert.ErrorIs(t, err, types.ErrNotFound)
	_, err = f.controller.CertificateOwner(ctx, certID)
	assert.ErrorIs(t, err, types.ErrNotFound, "certificate burned")
	_, err = f.controller.Certificate(ctx, certID)
	assert.ErrorIs(t, err, types.ErrNotFound)

	entry := f.entry(t, f.auditCount(t))
	assert.Equal(t, types.ActionRevokeAccess, entry.Action)
	assert.Equal(t, alice, entry.Patient)
	assert.Equal(t, admin, entry.Accessor)

	assert.ErrorIs(t, f.controller.RevokeAccess(ctx, alice, alice, bob), types.ErrNotFound)
}

func TestRevokeAccess_TransferredCertificateSurvives(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	f.register(t, alice, "")

	certID, err := f.controller.GrantAccess(ctx, alice, bob, types.AccessRead, 100, "p")
	require.NoError(t, err)
	require.NoError(t, f.controller.TransferCertificate(ctx, bob, certID, carol))

	require.NoError(t, f.controller.RevokeAccess(ctx, alice, alice, bob))

	owner, err := f.controller.CertificateOwner(ctx, certID)
	require.NoError(t, err)
	assert.Equal(t, carol, owner)
	_, err = f.controller.Certificate(ctx, certID)
	assert.ErrorIs(t, err, types.ErrNotFound)

	level, err := f.controller.CheckAccess(ctx, alice, bob)
	require.NoError(t, err)
	assert.Equal(t, types.AccessNone, level)
}

func TestTransferCertificate(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	f.register(t, alice, "")

	certID, err := f.controller.GrantAccess(ctx, alice, bob, types.AccessRead, 100, "p")
	require.NoError(t, err)

	assert.ErrorIs(t, f.controller.TransferCertificate(ctx, carol, certID, dave), types.ErrUnauthorized)
	assert.ErrorIs(t, f.controller.TransferCertificate(ctx, bob, 99, dave), types.ErrNotFound)
	assert.ErrorIs(t, f.controller.TransferCertificate(ctx, bob, certID, bob), types.ErrInvalidInput)
	assert.ErrorIs(t, f.controller.TransferCertificate(ctx, bob, certID, ""), types.ErrInvalidInput)

	require.NoError(t, f.controller.TransferCertificate(ctx, bob, certID, dave))

	entry := f.entry(t, f.auditCount(t))
	assert.Equal(t, types.ActionTransferCertificate, entry.Action)
	assert.Equal(t, alice, entry.Patient)
	assert.Equal(t, bob, entry.Accessor)
}

func TestCheckAccess_Expiry(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	f.register(t, alice, "")

	_, err := f.controller.GrantAccess(ctx, alice, bob, types.AccessAdmin, 60, "p")
	require.NoError(t, err)

	f.clock.Advance(59)
	level, err := f.controller.CheckAccess(ctx, alice, bob)
	require.NoError(t, err)
	assert.Equal(t, types.AccessAdmin, level)

	f.clock.Advance(60)
	level, err = f.controller.CheckAccess(ctx, alice, bob)
	require.NoError(t, err)
	assert.Equal(t, types.AccessNone, level)

	// unknown pairs never fail
	level, err = f.controller.CheckAccess(ctx, "nobody", "nobody-else")
	require.NoError(t, err)
	assert.Equal(t, types.AccessNone, level)
}

func TestCheckAccess_EmergencyOverride(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	f.register(t, alice, carol)

	require.NoError(t, f.override.Activate(ctx, carol, alice, "unconscious"))

	level, err := f.controller.CheckAccess(ctx, alice, dave)
	require.NoError(t, err)
	assert.Equal(t, types.AccessAdmin, level)

	record, err := f.controller.ReadRecord(ctx, dave, alice)
	require.NoError(t, err)
	assert.Equal(t, alice, record.Patient)
	assert.Equal(t, types.ActionEmergencyRead, f.entry(t, f.auditCount(t)).Action)

	require.NoError(t, f.override.Deactivate(ctx, alice, alice))
	level, err = f.controller.CheckAccess(ctx, alice, dave)
	require.NoError(t, err)
	assert.Equal(t, types.AccessNone, level)
}

func TestReadRecord(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	f.register(t, alice, "")

	_, err := f.controller.GrantAccess(ctx, alice, bob, types.AccessRead, 100, "p")
	require.NoError(t, err)

	_, err = f.controller.ReadRecord(ctx, bob, carol)
	assert.ErrorIs(t, err, types.ErrNotFound)

	_, err = f.controller.ReadRecord(ctx, dave, alice)
	assert.ErrorIs(t, err, types.ErrUnauthorized)

	before := f.auditCount(t)
	record, err := f.controller.ReadRecord(ctx, bob, alice)
	require.NoError(t, err)
	assert.Equal(t, "h1", record.RecordHash)

	entry := f.entry(t, before+1)
	assert.Equal(t, types.ActionProviderRead, entry.Action)
	assert.Equal(t, alice, entry.Patient)
	assert.Equal(t, bob, entry.Accessor)

	_, err = f.controller.ReadRecord(ctx, alice, alice)
	require.NoError(t, err)
	assert.Equal(t, types.ActionSelfAccess, f.entry(t, before+2).Action)

	f.clock.Advance(100)
	_, err = f.controller.ReadRecord(ctx, bob, alice)
	assert.ErrorIs(t, err, types.ErrExpiredAccess)

	// failed reads are not audited
	assert.Equal(t, before+2, f.auditCount(t))
}

func TestUpdateRecordHash(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	assert.ErrorIs(t, f.controller.UpdateRecordHash(ctx, alice, "h2"), types.ErrNotFound)
	f.register(t, alice, "")

	assert.ErrorIs(t, f.controller.UpdateRecordHash(ctx, alice, ""), types.ErrInvalidInput)
	require.NoError(t, f.controller.UpdateRecordHash(ctx, alice, "h2"))

	record, err := f.controller.ReadRecord(ctx, alice, alice)
	require.NoError(t, err)
	assert.Equal(t, "h2", record.RecordHash)
	assert.Equal(t, types.ActionUpdateRecordHash, f.entry(t, 2).Action)
}

func TestProviderUpdateRecord(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	f.register(t, alice, "")
	f.register(t, carol, "")

	_, err := f.controller.GrantAccess(ctx, alice, bob, types.AccessRead, 100, "p")
	require.NoError(t, err)
	_, err = f.controller.GrantAccess(ctx, carol, bob, types.AccessReadWrite, 100, "p")
	require.NoError(t, err)

	assert.ErrorIs(t, f.controller.ProviderUpdateRecord(ctx, bob, alice, ""), types.ErrInvalidInput)
	assert.ErrorIs(t, f.controller.ProviderUpdateRecord(ctx, alice, alice, "h2"), types.ErrInvalidInput)
	assert.ErrorIs(t, f.controller.ProviderUpdateRecord(ctx, bob, dave, "h2"), types.ErrNotFound)
	assert.ErrorIs(t, f.controller.ProviderUpdateRecord(ctx, dave, alice, "h2"), types.ErrUnauthorized)
	assert.ErrorIs(t, f.controller.ProviderUpdateRecord(ctx, bob, alice, "h2"), types.ErrUnauthorized, "read-only grant")

	require.NoError(t, f.controller.ProviderUpdateRecord(ctx, bob, carol, "h2"))
	record, err := f.controller.ReadRecord(ctx, carol, carol)
	require.NoError(t, err)
	assert.Equal(t, "h2", record.RecordHash)

	entry := f.entry(t, 5)
	assert.Equal(t, types.ActionProviderUpdateRecord, entry.Action)
	assert.Equal(t, carol, entry.Patient)
	assert.Equal(t, bob, entry.Accessor)

	// expiry is checked before level
	f.clock.Advance(100)
	assert.ErrorIs(t, f.controller.ProviderUpdateRecord(ctx, bob, alice, "h3"), types.ErrExpiredAccess)
}

func TestUpdateEmergencyContact(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	assert.ErrorIs(t, f.controller.UpdateEmergencyContact(ctx, alice, carol), types.ErrNotFound)

	f.register(t, alice, "")
	require.NoError(t, f.controller.UpdateEmergencyContact(ctx, alice, carol))

	record, err := f.controller.ReadRecord(ctx, alice, alice)
	require.NoError(t, err)
	assert.Equal(t, carol, record.EmergencyContact)
	assert.Equal(t, types.ActionUpdateEmergencyContact, f.entry(t, 2).Action)

	require.NoError(t, f.controller.UpdateEmergencyContact(ctx, alice, ""))
	record, err = f.controller.ReadRecord(ctx, alice, alice)
	require.NoError(t, err)
	assert.False(t, record.HasEmergencyContact())
}

func TestAuditRejection_RollsBackOperation(t *testing.T) {
	// the controller appends as an identity the log does not accept
	f := setupWithSelf(t, "impostor")
	ctx := context.Background()

	err := f.controller.Register(ctx, alice, "Alice", "h1", "")
	assert.ErrorIs(t, err, types.ErrUnauthorized)
	assert.Zero(t, f.store.Len(), "nothing was written")

	_, err = f.controller.ReadRecord(ctx, alice, alice)
	assert.ErrorIs(t, err, types.ErrNotFound)
}

type mockAuditSink struct {
	mock.Mock
}

func (m *mockAuditSink) Append(tx ledger.Tx, caller, patient, accessor types.Principal, action string) (uint64, error) {
	args := m.Called(caller, patient, accessor, action)
	return args.Get(0).(uint64), args.Error(1)
}

func TestAuditFailure_RollsBackGrant(t *testing.T) {
	store := ledger.NewMemoryStore()
	clock := types.NewManualClock(50)
	patients := NewPatients()
	log := logger.Discard()

	sink := &mockAuditSink{}
	sink.On("Append", writer, alice, alice, types.ActionPatientRegistration).Return(uint64(1), nil)
	sink.On("Append", writer, alice, alice, types.ActionGrantAccess).
		Return(uint64(0), types.NewAuditFailedError("sink unavailable", nil))

	audit := auditlog.New(writer, clock, log)
	override := emergency.NewOverride(store, patients, audit, clock, writer, admin, log, nil)
	controller := NewController(store, patients, sink, override, clock, Config{Self: writer, Administrator: admin}, log, nil)
	ctx := context.Background()

	require.NoError(t, controller.Register(ctx, alice, "Alice", "h1", ""))

	_, err := controller.GrantAccess(ctx, alice, bob, types.AccessRead, 100, "p")
	assert.ErrorIs(t, err, types.ErrAuditFailed)

	_, err = controller.Grant(ctx, alice, bob)
	assert.ErrorIs(t, err, types.ErrNotFound)
	_, err = controller.CertificateOwner(ctx, 1)
	assert.ErrorIs(t, err, types.ErrNotFound)

	// the certificate sequence was rolled back too
	require.NoError(t, store.View(ctx, func(r ledger.Reader) error {
		next, err := ledger.PeekSequence(r, ledger.SequenceCertificate)
		require.NoError(t, err)
		assert.Equal(t, uint64(1), next)
		return nil
	}))
	sink.AssertExpectations(t)
}

func TestAuditIDsMatchSuccessfulOperations(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	grant := func() error {
		_, err := f.controller.GrantAccess(ctx, alice, bob, types.AccessRead, 100, "p")
		return err
	}
	read := func(caller types.Principal) func() error {
		return func() error {
			_, err := f.controller.ReadRecord(ctx, caller, alice)
			return err
		}
	}

	ops := []func() error{
		func() error { return f.controller.Register(ctx, alice, "Alice", "h1", carol) },
		func() error { return f.controller.Register(ctx, alice, "Alice", "h1", "") }, // fails
		grant,
		read(dave), // fails
		read(bob),
		func() error { return f.override.Activate(ctx, carol, alice, "er") },
	}

	var succeeded uint64
	for _, op := range ops {
		if op() == nil {
			succeeded++
			assert.Equal(t, succeeded, f.auditCount(t))
		}
	}
	assert.Equal(t, uint64(4), succeeded)
}

func TestMetrics(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	f.register(t, alice, "")
	_ = f.controller.Register(ctx, alice, "Alice", "h1", "")

	decisions := f.metrics.Decisions()
	assert.Equal(t, float64(1), testutil.ToFloat64(decisions.WithLabelValues(OpRegister, monitoring.OutcomeAllowed, "access-test")))
	assert.Equal(t, float64(1), testutil.ToFloat64(decisions.WithLabelValues(OpRegister, monitoring.OutcomeDenied, "access-test")))
	assert.Equal(t, float64(1), testutil.ToFloat64(f.metrics.AuditEntries().WithLabelValues(types.ActionPatientRegistration, "access-test")))
}
