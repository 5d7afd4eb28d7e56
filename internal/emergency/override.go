// Package emergency implements the per-patient emergency override. While the
// override is active every caller has full access to the patient's record.
package emergency

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/medrex/consent-ledger/internal/ledger"
	"github.com/medrex/consent-ledger/pkg/logger"
	"github.com/medrex/consent-ledger/pkg/monitoring"
	"github.com/medrex/consent-ledger/pkg/types"
)

const (
	OpActivate      = "activate_emergency"
	OpDeactivate    = "deactivate_emergency"
	OpEmergencyRead = "emergency_read"
)

// PatientDirectory loads patient records
type PatientDirectory interface {
	Load(r ledger.Reader, patient types.Principal) (*types.PatientRecord, error)
}

// AuditSink is the capability of appending to the audit log
type AuditSink interface {
	Append(tx ledger.Tx, caller, patient, accessor types.Principal, action string) (uint64, error)
}

// Override manages emergency status records
type Override struct {
	store         ledger.Store
	patients      PatientDirectory
	audit         AuditSink
	clock         types.Clock
	self          types.Principal
	administrator types.Principal
	logger        *logger.Logger
	metrics       *monitoring.MetricsCollector
}

// NewOverride creates the emergency override. self is the identity used for
// audit appends.
func NewOverride(
	store ledger.Store,
	patients PatientDirectory,
	audit AuditSink,
	clock types.Clock,
	self, administrator types.Principal,
	log *logger.Logger,
	metrics *monitoring.MetricsCollector,
) *Override {
	return &Override{
		store:         store,
		patients:      patients,
		audit:         audit,
		clock:         clock,
		self:          self,
		administrator: administrator,
		logger:        log,
		metrics:       metrics,
	}
}

func statusKey(patient types.Principal) string {
	return ledger.Key(ledger.NamespaceEmergency, patient.String())
}

func loadStatus(r ledger.Reader, patient types.Principal) (*types.EmergencyStatus, error) {
	var status types.EmergencyStatus
	found, err := ledger.GetJSON(r, statusKey(patient), &status)
	if err != nil || !found {
		return nil, err
	}
	return &status, nil
}

func (o *Override) commit(ctx context.Context, operation string, caller, patient types.Principal, action string, fn func(tx ledger.Tx) error) error {
	start := time.Now()

	err := o.store.Update(ctx, func(tx ledger.Tx) error {
		if err := fn(tx); err != nil {
			return err
		}
		_, err := o.audit.Append(tx, o.self, patient, caller, action)
		return err
	})

	o.metrics.RecordDecision(operation, err, time.Since(start))
	if err == nil {
		o.metrics.RecordAuditEntry(action)
	}

	fields := logrus.Fields{"component": "emergency"}
	if err != nil {
		fields["error"] = err.Error()
	}
	if monitoring.Outcome(err) == monitoring.OutcomeError {
		o.logger.WithFields(fields).WithField("operation", operation).Error("Emergency operation failed")
		return err
	}
	o.logger.Decision(operation, caller.String(), patient.String(), err == nil, fields)
	return err
}

// Activate turns the override on for patient. The caller must be the
// administrator or the patient's registered emergency contact.
func (o *Override) Activate(ctx context.Context, caller, patient types.Principal, reason string) error {
	if len(reason) > types.MaxReasonLength {
		return types.NewValidationError(fmt.Sprintf("reason exceeds %d bytes", types.MaxReasonLength))
	}

	err := o.commit(ctx, OpActivate, caller, patient, types.ActionActivateEmergency, func(tx ledger.Tx) error {
		record, err := o.patients.Load(tx, patient)
		if err != nil {
			return err
		}

		if caller != o.administrator {
			if !record.HasEmergencyContact() || record.EmergencyContact != caller {
				return types.NewUnauthorizedError("caller is neither an administrator nor the emergency contact")
			}
		}

		status := &types.EmergencyStatus{
			Patient:     patient,
			Active:      true,
			ActivatedBy: caller,
			ActivatedAt: o.clock.Height(),
			Reason:      reason,
		}
		return ledger.PutJSON(tx, statusKey(patient), status)
	})
	if err != nil {
		return err
	}

	o.logger.Security("emergency_activated", caller.String(), map[string]interface{}{
		"patient": patient.String(),
		"reason":  reason,
	})
	return nil
}

// Deactivate turns the override off. The caller must be the patient or the
// administrator.
func (o *Override) Deactivate(ctx context.Context, caller, patient types.Principal) error {
	if caller != patient && caller != o.administrator {
		err := types.NewUnauthorizedError("only the patient or an administrator may deactivate")
		o.metrics.RecordDecision(OpDeactivate, err, 0)
		o.logger.Decision(OpDeactivate, caller.String(), patient.String(), false, logrus.Fields{"error": err.Error()})
		return err
	}

	return o.commit(ctx, OpDeactivate, caller, patient, types.ActionDeactivateEmergency, func(tx ledger.Tx) error {
		status, err := loadStatus(tx, patient)
		if err != nil {
			return err
		}
		if status == nil || !status.Active {
			return types.NewNotFoundError(fmt.Sprintf("no active emergency for %s", patient))
		}

		if err := tx.Delete(statusKey(patient)); err != nil {
			return fmt.Errorf("failed to clear emergency status: %w", err)
		}
		return nil
	})
}

// EmergencyRead returns the patient's record to any caller while the override
// is active.
func (o *Override) EmergencyRead(ctx context.Context, caller, patient types.Principal) (*types.PatientRecord, error) {
	var record *types.PatientRecord
	err := o.commit(ctx, OpEmergencyRead, caller, patient, types.ActionEmergencyAccess, func(tx ledger.Tx) error {
		var err error
		record, err = o.patients.Load(tx, patient)
		if err != nil {
			return err
		}

		active, err := o.IsActive(tx, patient)
		if err != nil {
			return err
		}
		if !active {
			return types.NewEmergencyInactiveError(fmt.Sprintf("no active emergency for %s", patient))
		}
		return nil
	})
	o.logger.RecordAccess(caller.String(), patient.String(), OpEmergencyRead, err == nil)
	if err != nil {
		return nil, err
	}
	return record, nil
}

// IsActive reports whether the override is active for patient
func (o *Override) IsActive(r ledger.Reader, patient types.Principal) (bool, error) {
	status, err := loadStatus(r, patient)
	if err != nil {
		return false, err
	}
	return status != nil && status.Active, nil
}

// Status returns the stored emergency status of patient
func (o *Override) Status(ctx context.Context, patient types.Principal) (*types.EmergencyStatus, error) {
	var status *types.EmergencyStatus
	err := o.store.View(ctx, func(r ledger.Reader) error {
		var err error
		status, err = loadStatus(r, patient)
		if err != nil {
			return err
		}
		if status == nil {
			return types.NewNotFoundError(fmt.Sprintf("no emergency status for %s", patient))
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return status, nil
}
