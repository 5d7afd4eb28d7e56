// Package contract exposes the consent ledger as Hyperledger Fabric chaincode.
//
// Each invocation builds the ledger components over the invocation's stub.
// The caller principal is the client identity ID and the clock is the
// transaction timestamp in unix seconds.
package contract

import (
	"context"
	"fmt"

	"github.com/hyperledger/fabric-contract-api-go/contractapi"

	"github.com/medrex/consent-ledger/internal/ledger"
	"github.com/medrex/consent-ledger/internal/service"
	"github.com/medrex/consent-ledger/pkg/logger"
	"github.com/medrex/consent-ledger/pkg/types"
)

// DefaultAuditWriter is the identity the chaincode appends audit entries
// with. No client certificate can carry this ID.
const DefaultAuditWriter = "consent-ledger.chaincode"

// LedgerConfig is stored once by InitLedger
type LedgerConfig struct {
	Administrator string `json:"administrator"`
	AuditWriter   string `json:"audit_writer"`
}

// SmartContract provides the consent ledger operations
type SmartContract struct {
	contractapi.Contract

	logger *logger.Logger
}

// NewSmartContract creates the chaincode contract
func NewSmartContract(log *logger.Logger) *SmartContract {
	if log == nil {
		log = logger.Discard()
	}
	sc := &SmartContract{logger: log}
	sc.Name = "consent"
	return sc
}

func configKey() string {
	return ledger.Key(ledger.NamespaceConfig)
}

// InitLedger stores the administrator principal. It can run only once.
func (s *SmartContract) InitLedger(ctx contractapi.TransactionContextInterface, administrator string) error {
	if administrator == "" {
		return types.NewValidationError("administrator is required")
	}
	if administrator == DefaultAuditWriter {
		return types.NewValidationError("administrator must differ from the audit writer")
	}

	store := ledger.NewFabricStore(ctx.GetStub())
	return store.Update(context.Background(), func(tx ledger.Tx) error {
		exists, err := ledger.Exists(tx, configKey())
		if err != nil {
			return err
		}
		if exists {
			return types.NewAlreadyExistsError("ledger is already initialized")
		}

		s.logger.WithComponent("contract").WithField("administrator", administrator).Info("Initializing consent ledger")
		return ledger.PutJSON(tx, configKey(), &LedgerConfig{
			Administrator: administrator,
			AuditWriter:   DefaultAuditWriter,
		})
	})
}

// invocation is the per-transaction view of the ledger
type invocation struct {
	svc    *service.Service
	caller types.Principal
}

func (s *SmartContract) begin(ctx contractapi.TransactionContextInterface) (*invocation, error) {
	stub := ctx.GetStub()
	store := ledger.NewFabricStore(stub)

	var cfg LedgerConfig
	err := store.View(context.Background(), func(r ledger.Reader) error {
		found, err := ledger.GetJSON(r, configKey(), &cfg)
		if err != nil {
			return err
		}
		if !found {
			return types.NewNotFoundError("ledger is not initialized")
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	caller, err := s.getCallerIdentity(ctx)
	if err != nil {
		return nil, err
	}

	ts, err := stub.GetTxTimestamp()
	if err != nil {
		return nil, fmt.Errorf("failed to get transaction timestamp: %w", err)
	}
	seconds := uint64(0)
	if ts.GetSeconds() > 0 {
		seconds = uint64(ts.GetSeconds())
	}

	svc, err := service.New(store, service.Options{
		Administrator: types.Principal(cfg.Administrator),
		AuditWriter:   types.Principal(cfg.AuditWriter),
		Clock:         types.FixedClock{At: seconds, Wall: seconds, HasWall: ts != nil},
		Logger:        s.logger,
	})
	if err != nil {
		return nil, err
	}

	return &invocation{svc: svc, caller: caller}, nil
}

// getCallerIdentity gets the identity of the transaction caller
func (s *SmartContract) getCallerIdentity(ctx contractapi.TransactionContextInterface) (types.Principal, error) {
	id, err := ctx.GetClientIdentity().GetID()
	if err != nil {
		return "", fmt.Errorf("failed to get client ID: %w", err)
	}
	if id == "" {
		return "", types.NewUnauthorizedError("client identity is empty")
	}
	return types.Principal(id), nil
}

// RegisterPatient registers the caller as a patient
func (s *SmartContract) RegisterPatient(ctx contractapi.TransactionContextInterface, name, recordHash, emergencyContact string) error {
	inv, err := s.begin(ctx)
	if err != nil {
		return err
	}
	return inv.svc.Register(context.Background(), inv.caller, name, recordHash, types.Principal(emergencyContact))
}

// UpdateEmergencyContact replaces the caller's emergency contact. An empty
// contact clears it.
func (s *SmartContract) UpdateEmergencyContact(ctx contractapi.TransactionContextInterface, contact string) error {
	inv, err := s.begin(ctx)
	if err != nil {
		return err
	}
	return inv.svc.UpdateEmergencyContact(context.Background(), inv.caller, types.Principal(contact))
}

// UpdateRecordHash updates the caller's own record hash
func (s *SmartContract) UpdateRecordHash(ctx contractapi.TransactionContextInterface, newHash string) error {
	inv, err := s.begin(ctx)
	if err != nil {
		return err
	}
	return inv.svc.UpdateRecordHash(context.Background(), inv.caller, newHash)
}

// ProviderUpdateRecord updates a patient's record hash under a write grant
func (s *SmartContract) ProviderUpdateRecord(ctx contractapi.TransactionContextInterface, patient, newHash string) error {
	inv, err := s.begin(ctx)
	if err != nil {
		return err
	}
	return inv.svc.ProviderUpdateRecord(context.Background(), inv.caller, types.Principal(patient), newHash)
}

// GrantAccess grants provider access to the caller's record and returns the
// certificate id
func (s *SmartContract) GrantAccess(ctx contractapi.TransactionContextInterface, provider string, level uint8, expiresAt uint64, consentProof string) (uint64, error) {
	inv, err := s.begin(ctx)
	if err != nil {
		return 0, err
	}
	return inv.svc.GrantAccess(context.Background(), inv.caller, types.Principal(provider), types.AccessLevel(level), expiresAt, consentProof)
}

// RevokeAccess revokes the grant of provider on patient
func (s *SmartContract) RevokeAccess(ctx contractapi.TransactionContextInterface, patient, provider string) error {
	inv, err := s.begin(ctx)
	if err != nil {
		return err
	}
	return inv.svc.RevokeAccess(context.Background(), inv.caller, types.Principal(patient), types.Principal(provider))
}

// CheckAccess returns the access level of provider on patient
func (s *SmartContract) CheckAccess(ctx contractapi.TransactionContextInterface, patient, provider string) (uint8, error) {
	inv, err := s.begin(ctx)
	if err != nil {
		return 0, err
	}
	level, err := inv.svc.CheckAccess(context.Background(), types.Principal(patient), types.Principal(provider))
	return uint8(level), err
}

// ReadRecord returns patient's record if the caller may see it
func (s *SmartContract) ReadRecord(ctx contractapi.TransactionContextInterface, patient string) (*types.PatientRecord, error) {
	inv, err := s.begin(ctx)
	if err != nil {
		return nil, err
	}
	return inv.svc.ReadRecord(context.Background(), inv.caller, types.Principal(patient))
}

// TransferCertificate moves a certificate held by the caller to recipient
func (s *SmartContract) TransferCertificate(ctx contractapi.TransactionContextInterface, id uint64, recipient string) error {
	inv, err := s.begin(ctx)
	if err != nil {
		return err
	}
	return inv.svc.TransferCertificate(context.Background(), inv.caller, id, types.Principal(recipient))
}

// CertificateOwner returns the holder of certificate id
func (s *SmartContract) CertificateOwner(ctx contractapi.TransactionContextInterface, id uint64) (string, error) {
	inv, err := s.begin(ctx)
	if err != nil {
		return "", err
	}
	owner, err := inv.svc.CertificateOwner(context.Background(), id)
	return owner.String(), err
}

// GetCertificate returns the metadata of certificate id
func (s *SmartContract) GetCertificate(ctx contractapi.TransactionContextInterface, id uint64) (*types.CertificateInfo, error) {
	inv, err := s.begin(ctx)
	if err != nil {
		return nil, err
	}
	return inv.svc.Certificate(context.Background(), id)
}

// GetGrant returns the grant of provider on patient
func (s *SmartContract) GetGrant(ctx contractapi.TransactionContextInterface, patient, provider string) (*types.AccessGrant, error) {
	inv, err := s.begin(ctx)
	if err != nil {
		return nil, err
	}
	return inv.svc.Grant(context.Background(), types.Principal(patient), types.Principal(provider))
}

// ActivateEmergency activates the emergency override for patient
func (s *SmartContract) ActivateEmergency(ctx contractapi.TransactionContextInterface, patient, reason string) error {
	inv, err := s.begin(ctx)
	if err != nil {
		return err
	}
	return inv.svc.ActivateEmergency(context.Background(), inv.caller, types.Principal(patient), reason)
}

// DeactivateEmergency deactivates the emergency override for patient
func (s *SmartContract) DeactivateEmergency(ctx contractapi.TransactionContextInterface, patient string) error {
	inv, err := s.begin(ctx)
	if err != nil {
		return err
	}
	return inv.svc.DeactivateEmergency(context.Background(), inv.caller, types.Principal(patient))
}

// EmergencyRead reads patient's record under an active emergency
func (s *SmartContract) EmergencyRead(ctx contractapi.TransactionContextInterface, patient string) (*types.PatientRecord, error) {
	inv, err := s.begin(ctx)
	if err != nil {
		return nil, err
	}
	return inv.svc.EmergencyRead(context.Background(), inv.caller, types.Principal(patient))
}

// GetEmergencyStatus returns the emergency status of patient
func (s *SmartContract) GetEmergencyStatus(ctx contractapi.TransactionContextInterface, patient string) (*types.EmergencyStatus, error) {
	inv, err := s.begin(ctx)
	if err != nil {
		return nil, err
	}
	return inv.svc.EmergencyStatus(context.Background(), types.Principal(patient))
}

// AuditAppend appends an audit entry. Only the audit writer may call it.
func (s *SmartContract) AuditAppend(ctx contractapi.TransactionContextInterface, patient, accessor, action string) (uint64, error) {
	inv, err := s.begin(ctx)
	if err != nil {
		return 0, err
	}
	return inv.svc.AuditAppend(context.Background(), inv.caller, types.Principal(patient), types.Principal(accessor), action)
}

// AuditGet returns audit entry id
func (s *SmartContract) AuditGet(ctx contractapi.TransactionContextInterface, id uint64) (*types.AuditLogEntry, error) {
	inv, err := s.begin(ctx)
	if err != nil {
		return nil, err
	}
	return inv.svc.AuditGet(context.Background(), id)
}

// AuditCount returns the number of audit entries
func (s *SmartContract) AuditCount(ctx contractapi.TransactionContextInterface) (uint64, error) {
	inv, err := s.begin(ctx)
	if err != nil {
		return 0, err
	}
	return inv.svc.AuditCount(context.Background())
}

// AuditBatch returns the entries among ids that exist
func (s *SmartContract) AuditBatch(ctx contractapi.TransactionContextInterface, ids []uint64) ([]*types.AuditLogEntry, error) {
	inv, err := s.begin(ctx)
	if err != nil {
		return nil, err
	}
	return inv.svc.AuditBatch(context.Background(), ids)
}

// AuditPatientPage returns a page of entries about patient
func (s *SmartContract) AuditPatientPage(ctx contractapi.TransactionContextInterface, patient string, page uint64) ([]*types.AuditLogEntry, error) {
	inv, err := s.begin(ctx)
	if err != nil {
		return nil, err
	}
	return inv.svc.AuditPatientPage(context.Background(), types.Principal(patient), page)
}

// AuditAccessorPage returns a page of entries made by accessor
func (s *SmartContract) AuditAccessorPage(ctx contractapi.TransactionContextInterface, accessor string, page uint64) ([]*types.AuditLogEntry, error) {
	inv, err := s.begin(ctx)
	if err != nil {
		return nil, err
	}
	return inv.svc.AuditAccessorPage(context.Background(), types.Principal(accessor), page)
}

// VerifyAuditEntry checks the digest chain at entry id
func (s *SmartContract) VerifyAuditEntry(ctx contractapi.TransactionContextInterface, id uint64) (bool, error) {
	inv, err := s.begin(ctx)
	if err != nil {
		return false, err
	}
	return inv.svc.AuditVerify(context.Background(), id)
}

// FindFirstLog returns the first audit id matching all three fields, or 0
func (s *SmartContract) FindFirstLog(ctx contractapi.TransactionContextInterface, patient, accessor, action string) (uint64, error) {
	inv, err := s.begin(ctx)
	if err != nil {
		return 0, err
	}
	return inv.svc.FindFirstLog(context.Background(), types.Principal(patient), types.Principal(accessor), action)
}

// GetPatientLogs returns up to 20 entries about patient from (offset, offset+limit]
func (s *SmartContract) GetPatientLogs(ctx contractapi.TransactionContextInterface, patient string, limit, offset uint64) ([]*types.AuditLogEntry, error) {
	inv, err := s.begin(ctx)
	if err != nil {
		return nil, err
	}
	return inv.svc.GetPatientLogs(context.Background(), types.Principal(patient), limit, offset)
}
