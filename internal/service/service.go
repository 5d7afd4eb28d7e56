// Package service wires the access controller, emergency override, audit log
// and audit query projection over one ledger store.
package service

import (
	"context"
	"fmt"
	"time"

	"github.com/medrex/consent-ledger/internal/access"
	"github.com/medrex/consent-ledger/internal/auditlog"
	"github.com/medrex/consent-ledger/internal/auditquery"
	"github.com/medrex/consent-ledger/internal/emergency"
	"github.com/medrex/consent-ledger/internal/ledger"
	"github.com/medrex/consent-ledger/pkg/logger"
	"github.com/medrex/consent-ledger/pkg/monitoring"
	"github.com/medrex/consent-ledger/pkg/types"
)

const opAuditAppend = "audit_append"

// Options configures a Service
type Options struct {
	// Administrator may revoke grants and toggle emergencies for any patient.
	Administrator types.Principal
	// AuditWriter is the only principal allowed to append to the audit log.
	// The controller and the override append with this identity.
	AuditWriter types.Principal
	Clock       types.Clock
	Logger      *logger.Logger
	Metrics     *monitoring.MetricsCollector
}

// Service is the consent ledger over a single store
type Service struct {
	*access.Controller

	store     ledger.Store
	audit     *auditlog.Log
	override  *emergency.Override
	query     *auditquery.Service
	logger    *logger.Logger
	metrics   *monitoring.MetricsCollector
	writer    types.Principal
	startedAt time.Time
}

// New creates the service
func New(store ledger.Store, opts Options) (*Service, error) {
	if opts.Administrator.IsZero() {
		return nil, fmt.Errorf("administrator principal is required")
	}
	if opts.AuditWriter.IsZero() {
		return nil, fmt.Errorf("audit writer principal is required")
	}
	if opts.AuditWriter == opts.Administrator {
		return nil, fmt.Errorf("audit writer must differ from the administrator")
	}
	if opts.Clock == nil {
		opts.Clock = types.SystemClock{}
	}
	if opts.Logger == nil {
		opts.Logger = logger.Discard()
	}

	patients := access.NewPatients()
	audit := auditlog.New(opts.AuditWriter, opts.Clock, opts.Logger)
	override := emergency.NewOverride(
		store, patients, audit, opts.Clock,
		opts.AuditWriter, opts.Administrator,
		opts.Logger, opts.Metrics,
	)
	controller := access.NewController(
		store, patients, audit, override, opts.Clock,
		access.Config{Self: opts.AuditWriter, Administrator: opts.Administrator},
		opts.Logger, opts.Metrics,
	)

	return &Service{
		Controller: controller,
		store:      store,
		audit:      audit,
		override:   override,
		query:      auditquery.NewService(store, audit),
		logger:     opts.Logger,
		metrics:    opts.Metrics,
		writer:     opts.AuditWriter,
		startedAt:  time.Now(),
	}, nil
}

// Emergency returns the emergency override
func (s *Service) Emergency() *emergency.Override {
	return s.override
}

// Query returns the audit query projection
func (s *Service) Query() *auditquery.Service {
	return s.query
}

// Writer returns the audit writer principal
func (s *Service) Writer() types.Principal {
	return s.writer
}

// ActivateEmergency activates the emergency override for patient
func (s *Service) ActivateEmergency(ctx context.Context, caller, patient types.Principal, reason string) error {
	return s.override.Activate(ctx, caller, patient, reason)
}

// DeactivateEmergency deactivates the emergency override for patient
func (s *Service) DeactivateEmergency(ctx context.Context, caller, patient types.Principal) error {
	return s.override.Deactivate(ctx, caller, patient)
}

// EmergencyRead reads patient's record under an active emergency
func (s *Service) EmergencyRead(ctx context.Context, caller, patient types.Principal) (*types.PatientRecord, error) {
	return s.override.EmergencyRead(ctx, caller, patient)
}

// EmergencyStatus returns the stored emergency status for patient
func (s *Service) EmergencyStatus(ctx context.Context, patient types.Principal) (*types.EmergencyStatus, error) {
	return s.override.Status(ctx, patient)
}

// AuditAppend appends an entry on behalf of caller, which must be the audit
// writer.
func (s *Service) AuditAppend(ctx context.Context, caller, patient, accessor types.Principal, action string) (uint64, error) {
	start := time.Now()

	var id uint64
	err := s.store.Update(ctx, func(tx ledger.Tx) error {
		var err error
		id, err = s.audit.Append(tx, caller, patient, accessor, action)
		return err
	})
	s.metrics.RecordDecision(opAuditAppend, err, time.Since(start))
	if err != nil {
		return 0, err
	}

	s.metrics.RecordAuditEntry(action)
	s.logger.Audit(id, patient.String(), accessor.String(), action)
	return id, nil
}

// AuditCount returns the number of audit entries
func (s *Service) AuditCount(ctx context.Context) (uint64, error) {
	var count uint64
	err := s.store.View(ctx, func(r ledger.Reader) error {
		var err error
		count, err = s.audit.Count(r)
		return err
	})
	return count, err
}

// AuditGet returns audit entry id
func (s *Service) AuditGet(ctx context.Context, id uint64) (*types.AuditLogEntry, error) {
	var entry *types.AuditLogEntry
	err := s.store.View(ctx, func(r ledger.Reader) error {
		var err error
		entry, err = s.audit.Get(r, id)
		return err
	})
	return entry, err
}

// AuditBatch returns the entries among ids that exist
func (s *Service) AuditBatch(ctx context.Context, ids []uint64) ([]*types.AuditLogEntry, error) {
	var entries []*types.AuditLogEntry
	err := s.store.View(ctx, func(r ledger.Reader) error {
		var err error
		entries, err = s.audit.GetBatch(r, ids)
		return err
	})
	return entries, err
}

// AuditPatientPage returns page of the entries about patient
func (s *Service) AuditPatientPage(ctx context.Context, patient types.Principal, page uint64) ([]*types.AuditLogEntry, error) {
	var entries []*types.AuditLogEntry
	err := s.store.View(ctx, func(r ledger.Reader) error {
		var err error
		entries, err = s.audit.GetPatientPage(r, patient, page)
		return err
	})
	return entries, err
}

// AuditAccessorPage returns page of the entries made by accessor
func (s *Service) AuditAccessorPage(ctx context.Context, accessor types.Principal, page uint64) ([]*types.AuditLogEntry, error) {
	var entries []*types.AuditLogEntry
	err := s.store.View(ctx, func(r ledger.Reader) error {
		var err error
		entries, err = s.audit.GetAccessorPage(r, accessor, page)
		return err
	})
	return entries, err
}

// AuditVerify checks the digest chain at entry id
func (s *Service) AuditVerify(ctx context.Context, id uint64) (bool, error) {
	var ok bool
	err := s.store.View(ctx, func(r ledger.Reader) error {
		var err error
		ok, err = s.audit.Verify(r, id)
		return err
	})
	return ok, err
}

// FindFirstLog returns the first audit id matching all three fields, or 0
func (s *Service) FindFirstLog(ctx context.Context, patient, accessor types.Principal, action string) (uint64, error) {
	return s.query.FindFirst(ctx, patient, accessor, action)
}

// GetPatientLogs returns up to 20 entries about patient from (offset, offset+limit]
func (s *Service) GetPatientLogs(ctx context.Context, patient types.Principal, limit, offset uint64) ([]*types.AuditLogEntry, error) {
	return s.query.GetPatientLogs(ctx, patient, limit, offset)
}

// Uptime returns how long the service has been running
func (s *Service) Uptime() time.Duration {
	return time.Since(s.startedAt)
}
