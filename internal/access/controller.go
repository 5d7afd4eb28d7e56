// Package access owns patient records and the per-(patient, provider) access
// grants, each backed by a unique access certificate.
//
// Every state change and every sensitive read appends to the audit log inside
// the same ledger transaction; if the append fails the whole operation is
// rolled back.
package access

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

// Operation names used for logs and metrics
const (
	OpRegister               = "register"
	OpUpdateEmergencyContact = "update_emergency_contact"
	OpUpdateRecordHash       = "update_record_hash"
	OpProviderUpdateRecord   = "provider_update_record"
	OpGrantAccess            = "grant_access"
	OpRevokeAccess           = "revoke_access"
	OpCheckAccess            = "check_access"
	OpReadRecord             = "read_record"
	OpTransferCertificate    = "transfer_certificate"
)

// AuditSink is the capability of appending to the audit log
type AuditSink interface {
	Append(tx ledger.Tx, caller, patient, accessor types.Principal, action string) (uint64, error)
}

// EmergencyStatus reports whether the emergency override is active
type EmergencyStatus interface {
	IsActive(r ledger.Reader, patient types.Principal) (bool, error)
}

// Config holds the principals the controller is configured with
type Config struct {
	// Self is the identity the controller appends to the audit log with.
	Self types.Principal
	// Administrator may revoke any grant.
	Administrator types.Principal
}

// Controller is the access-control state machine
type Controller struct {
	store        ledger.Store
	patients     *Patients
	certificates *Certificates
	audit        AuditSink
	emergency    EmergencyStatus
	clock        types.Clock
	config       Config
	logger       *logger.Logger
	metrics      *monitoring.MetricsCollector
}

// NewController creates a new access controller
func NewController(
	store ledger.Store,
	patients *Patients,
	audit AuditSink,
	emergency EmergencyStatus,
	clock types.Clock,
	config Config,
	log *logger.Logger,
	metrics *monitoring.MetricsCollector,
) *Controller {
	return &Controller{
		store:        store,
		patients:     patients,
		certificates: NewCertificates(),
		audit:        audit,
		emergency:    emergency,
		clock:        clock,
		config:       config,
		logger:       log,
		metrics:      metrics,
	}
}

// commit runs fn in one ledger transaction and records the decision. fn
// returns the audit action it appended.
func (c *Controller) commit(ctx context.Context, operation string, caller, patient types.Principal, fn func(tx ledger.Tx) (string, error)) error {
	start := time.Now()

	var action string
	err := c.store.Update(ctx, func(tx ledger.Tx) error {
		var err error
		action, err = fn(tx)
		return err
	})

	c.observe(operation, caller, patient, err, start)
	if err == nil {
		c.metrics.RecordAuditEntry(action)
	}
	return err
}

func (c *Controller) observe(operation string, caller, patient types.Principal, err error, start time.Time) {
	c.metrics.RecordDecision(operation, err, time.Since(start))

	fields := logrus.Fields{"component": "access"}
	if err != nil {
		fields["error"] = err.Error()
		if monitoring.Outcome(err) == monitoring.OutcomeError {
			c.logger.WithFields(fields).WithField("operation", operation).Error("Access operation failed")
			return
		}
	}
	c.logger.Decision(operation, caller.String(), patient.String(), err == nil, fields)
}

// appendAudit appends as the controller's own identity
func (c *Controller) appendAudit(tx ledger.Tx, patient, accessor types.Principal, action string) error {
	_, err := c.audit.Append(tx, c.config.Self, patient, accessor, action)
	return err
}

// Register creates the caller's patient record
func (c *Controller) Register(ctx context.Context, caller types.Principal, name, recordHash string, emergencyContact types.Principal) error {
	if err := validatePrincipal("caller", caller); err != nil {
		return err
	}
	if err := ValidateText("name", name, types.MaxNameLength); err != nil {
		return err
	}
	if err := ValidateText("record hash", recordHash, types.MaxRecordHashLength); err != nil {
		return err
	}

	return c.commit(ctx, OpRegister, caller, caller, func(tx ledger.Tx) (string, error) {
		exists, err := c.patients.Exists(tx, caller)
		if err != nil {
			return "", err
		}
		if exists {
			return "", types.NewAlreadyExistsError(fmt.Sprintf("patient %s is already registered", caller))
		}

		record := &types.PatientRecord{
			Patient:          caller,
			Name:             name,
			CreatedAt:        c.clock.Height(),
			RecordHash:       recordHash,
			EmergencyContact: emergencyContact,
		}
		if err := c.patients.Save(tx, record); err != nil {
			return "", err
		}

		return types.ActionPatientRegistration, c.appendAudit(tx, caller, caller, types.ActionPatientRegistration)
	})
}

// UpdateEmergencyContact replaces (or clears, with a zero principal) the
// caller's emergency contact
func (c *Controller) UpdateEmergencyContact(ctx context.Context, caller, contact types.Principal) error {
	return c.commit(ctx, OpUpdateEmergencyContact, caller, caller, func(tx ledger.Tx) (string, error) {
		record, err := c.patients.Load(tx, caller)
		if err != nil {
			return "", err
		}

		record.EmergencyContact = contact
		if err := c.patients.Save(tx, record); err != nil {
			return "", err
		}

		return types.ActionUpdateEmergencyContact, c.appendAudit(tx, caller, caller, types.ActionUpdateEmergencyContact)
	})
}

// UpdateRecordHash points the caller's own record at new content
func (c *Controller) UpdateRecordHash(ctx context.Context, caller types.Principal, newHash string) error {
	if err := ValidateText("record hash", newHash, types.MaxRecordHashLength); err != nil {
		return err
	}

	return c.commit(ctx, OpUpdateRecordHash, caller, caller, func(tx ledger.Tx) (string, error) {
		record, err := c.patients.Load(tx, caller)
		if err != nil {
			return "", err
		}

		record.RecordHash = newHash
		if err := c.patients.Save(tx, record); err != nil {
			return "", err
		}

		return types.ActionUpdateRecordHash, c.appendAudit(tx, caller, caller, types.ActionUpdateRecordHash)
	})
}

// ProviderUpdateRecord lets a provider holding an unexpired ReadWrite or
// Admin grant update a patient's record hash
func (c *Controller) ProviderUpdateRecord(ctx context.Context, caller, patient types.Principal, newHash string) error {
	if err := ValidateText("record hash", newHash, types.MaxRecordHashLength); err != nil {
		return err
	}
	if caller == patient {
		return types.NewValidationError("patients update their own record with UpdateRecordHash")
	}

	return c.commit(ctx, OpProviderUpdateRecord, caller, patient, func(tx ledger.Tx) (string, error) {
		record, err := c.patients.Load(tx, patient)
		if err != nil {
			return "", err
		}

		grant, err := loadGrant(tx, patient, caller)
		if err != nil {
			return "", err
		}
		if grant == nil {
			return "", types.NewUnauthorizedError("no access grant for provider")
		}
		if grant.Expired(c.clock.Height()) {
			return "", types.NewExpiredAccessError(fmt.Sprintf("grant expired at height %d", grant.ExpiresAt))
		}
		if grant.Level < types.AccessReadWrite {
			return "", types.NewUnauthorizedError("grant does not allow writes")
		}

		record.RecordHash = newHash
		if err := c.patients.Save(tx, record); err != nil {
			return "", err
		}

		return types.ActionProviderUpdateRecord, c.appendAudit(tx, patient, caller, types.ActionProviderUpdateRecord)
	})
}

// GrantAccess delegates access to provider until expiresAt and returns the
// id of the certificate issued to the provider.
//
// An existing grant for the same provider is overwritten. The certificate
// issued for it loses its metadata but stays with its holder.
func (c *Controller) GrantAccess(ctx context.Context, caller, provider types.Principal, level types.AccessLevel, expiresAt uint64, consentProof string) (uint64, error) {
	if err := validatePrincipal("provider", provider); err != nil {
		return 0, err
	}
	if provider == caller {
		return 0, types.NewValidationError("patients cannot grant access to themselves")
	}
	if !level.Valid() {
		return 0, types.NewValidationError(fmt.Sprintf("invalid access level %d", level))
	}
	now := c.clock.Height()
	if expiresAt <= now {
		return 0, types.NewValidationError(fmt.Sprintf("expiry %d is not after current height %d", expiresAt, now))
	}
	if err := ValidateText("consent proof", consentProof, types.MaxConsentProofLength); err != nil {
		return 0, err
	}

	var certificateID uint64
	err := c.commit(ctx, OpGrantAccess, caller, caller, func(tx ledger.Tx) (string, error) {
		exists, err := c.patients.Exists(tx, caller)
		if err != nil {
			return "", err
		}
		if !exists {
			return "", types.NewNotFoundError(fmt.Sprintf("patient %s is not registered", caller))
		}

		previous, err := loadGrant(tx, caller, provider)
		if err != nil {
			return "", err
		}
		if previous != nil {
			if err := c.certificates.Forget(tx, previous.CertificateID); err != nil {
				return "", err
			}
		}

		id, err := ledger.NextSequence(tx, ledger.SequenceCertificate)
		if err != nil {
			return "", err
		}

		grant := &types.AccessGrant{
			Patient:       caller,
			Provider:      provider,
			GrantedAt:     now,
			ExpiresAt:     expiresAt,
			Level:         level,
			CertificateID: id,
			ConsentProof:  consentProof,
		}
		if err := saveGrant(tx, grant); err != nil {
			return "", err
		}

		info := &types.CertificateInfo{
			ID:        id,
			Patient:   caller,
			Provider:  provider,
			Level:     level,
			ExpiresAt: expiresAt,
		}
		if err := c.certificates.Issue(tx, info, provider); err != nil {
			return "", err
		}

		certificateID = id
		return types.ActionGrantAccess, c.appendAudit(tx, caller, caller, types.ActionGrantAccess)
	})
	if err != nil {
		return 0, err
	}
	return certificateID, nil
}

// RevokeAccess deletes the grant of provider on patient. The caller must be
// the patient or the administrator. The certificate is burned only if the
// provider still holds it; revocation succeeds either way.
func (c *Controller) RevokeAccess(ctx context.Context, caller, patient, provider types.Principal) error {
	if provider == patient {
		return types.NewValidationError("provider and patient must differ")
	}
	if caller != patient && caller != c.config.Administrator {
		err := types.NewUnauthorizedError("only the patient or an administrator may revoke")
		c.observe(OpRevokeAccess, caller, patient, err, time.Now())
		return err
	}

	return c.commit(ctx, OpRevokeAccess, caller, patient, func(tx ledger.Tx) (string, error) {
		grant, err := loadGrant(tx, patient, provider)
		if err != nil {
			return "", err
		}
		if grant == nil {
			return "", types.NewNotFoundError("no access grant for provider")
		}

		if err := deleteGrant(tx, patient, provider); err != nil {
			return "", err
		}

		burned, err := c.certificates.Retire(tx, grant.CertificateID, provider)
		if err != nil {
			return "", err
		}
		if !burned {
			c.logger.WithComponent("access").WithField("certificate_id", grant.CertificateID).
				Info("Certificate no longer held by provider; left in place")
		}

		return types.ActionRevokeAccess, c.appendAudit(tx, patient, caller, types.ActionRevokeAccess)
	})
}

// CheckAccess returns the access level provider currently has on patient.
// An active emergency yields Admin for everyone; expired grants yield none.
func (c *Controller) CheckAccess(ctx context.Context, patient, provider types.Principal) (types.AccessLevel, error) {
	level := types.AccessNone
	err := c.store.View(ctx, func(r ledger.Reader) error {
		active, err := c.emergency.IsActive(r, patient)
		if err != nil {
			return err
		}
		if active {
			level = types.AccessAdmin
			return nil
		}

		grant, err := loadGrant(r, patient, provider)
		if err != nil {
			return err
		}
		if grant != nil && !grant.Expired(c.clock.Height()) {
			level = grant.Level
		}
		return nil
	})
	if err != nil {
		c.metrics.RecordError(OpCheckAccess)
		return types.AccessNone, err
	}
	return level, nil
}

// ReadRecord returns patient's record to the patient, to anyone while the
// emergency override is active, or to a provider with an unexpired grant.
func (c *Controller) ReadRecord(ctx context.Context, caller, patient types.Principal) (*types.PatientRecord, error) {
	var record *types.PatientRecord
	err := c.commit(ctx, OpReadRecord, caller, patient, func(tx ledger.Tx) (string, error) {
		var err error
		record, err = c.patients.Load(tx, patient)
		if err != nil {
			return "", err
		}

		action, err := c.readAction(tx, caller, patient)
		if err != nil {
			return "", err
		}

		return action, c.appendAudit(tx, patient, caller, action)
	})
	c.logger.RecordAccess(caller.String(), patient.String(), OpReadRecord, err == nil)
	if err != nil {
		return nil, err
	}
	return record, nil
}

func (c *Controller) readAction(r ledger.Reader, caller, patient types.Principal) (string, error) {
	if caller == patient {
		return types.ActionSelfAccess, nil
	}

	active, err := c.emergency.IsActive(r, patient)
	if err != nil {
		return "", err
	}
	if active {
		return types.ActionEmergencyRead, nil
	}

	grant, err := loadGrant(r, patient, caller)
	if err != nil {
		return "", err
	}
	if grant == nil {
		return "", types.NewUnauthorizedError("no access grant for provider")
	}
	if grant.Expired(c.clock.Height()) {
		return "", types.NewExpiredAccessError(fmt.Sprintf("grant expired at height %d", grant.ExpiresAt))
	}
	return types.ActionProviderRead, nil
}

// TransferCertificate moves a certificate from its holder to recipient.
func (c *Controller) TransferCertificate(ctx context.Context, caller types.Principal, id uint64, recipient types.Principal) error {
	if err := validatePrincipal("recipient", recipient); err != nil {
		return err
	}
	if recipient == caller {
		return types.NewValidationError("recipient already holds the certificate")
	}

	var patient types.Principal
	return c.commit(ctx, OpTransferCertificate, caller, patient, func(tx ledger.Tx) (string, error) {
		owner, found, err := c.certificates.Owner(tx, id)
		if err != nil {
			return "", err
		}
		if !found {
			return "", types.NewNotFoundError(fmt.Sprintf("certificate %d does not exist", id))
		}
		if owner != caller {
			return "", types.NewUnauthorizedError("only the holder may transfer a certificate")
		}

		if err := c.certificates.Transfer(tx, id, recipient); err != nil {
			return "", err
		}

		// Dangling certificates (grant overwritten) have no metadata left.
		info, found, err := c.certificates.Info(tx, id)
		if err != nil {
			return "", err
		}
		if found {
			patient = info.Patient
		}

		return types.ActionTransferCertificate, c.appendAudit(tx, patient, caller, types.ActionTransferCertificate)
	})
}

// Grant returns the stored grant of provider on patient
func (c *Controller) Grant(ctx context.Context, patient, provider types.Principal) (*types.AccessGrant, error) {
	var grant *types.AccessGrant
	err := c.store.View(ctx, func(r ledger.Reader) error {
		var err error
		grant, err = loadGrant(r, patient, provider)
		return err
	})
	if err != nil {
		return nil, err
	}
	if grant == nil {
		return nil, types.NewNotFoundError("no access grant for provider")
	}
	return grant, nil
}

// Certificate returns the metadata of certificate id
func (c *Controller) Certificate(ctx context.Context, id uint64) (*types.CertificateInfo, error) {
	var info *types.CertificateInfo
	err := c.store.View(ctx, func(r ledger.Reader) error {
		var found bool
		var err error
		info, found, err = c.certificates.Info(r, id)
		if err != nil {
			return err
		}
		if !found {
			return types.NewNotFoundError(fmt.Sprintf("certificate %d has no metadata", id))
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return info, nil
}

// CertificateOwner returns the current holder of certificate id
func (c *Controller) CertificateOwner(ctx context.Context, id uint64) (types.Principal, error) {
	var owner types.Principal
	err := c.store.View(ctx, func(r ledger.Reader) error {
		var found bool
		var err error
		owner, found, err = c.certificates.Owner(r, id)
		if err != nil {
			return err
		}
		if !found {
			return types.NewNotFoundError(fmt.Sprintf("certificate %d does not exist", id))
		}
		return nil
	})
	if err != nil {
		return "", err
	}
	return owner, nil
}
