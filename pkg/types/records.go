package types

// Field bounds, in bytes.
const (
	MaxNameLength         = 64
	MaxRecordHashLength   = 64
	MaxConsentProofLength = 64
	MaxReasonLength       = 256
	MaxActionLength       = 64
)

// AccessLevel is the level carried by an access grant. Zero means no access.
type AccessLevel uint8

const (
	AccessNone      AccessLevel = 0
	AccessRead      AccessLevel = 1
	AccessReadWrite AccessLevel = 2
	AccessAdmin     AccessLevel = 3
)

// Valid reports whether the level may be granted.
func (l AccessLevel) Valid() bool {
	return l >= AccessRead && l <= AccessAdmin
}

func (l AccessLevel) String() string {
	switch l {
	case AccessNone:
		return "none"
	case AccessRead:
		return "read"
	case AccessReadWrite:
		return "read_write"
	case AccessAdmin:
		return "admin"
	default:
		return "unknown"
	}
}

// PatientRecord is the on-ledger pointer to a patient's off-chain record
type PatientRecord struct {
	Patient          Principal `json:"patient"`
	Name             string    `json:"name"`
	CreatedAt        uint64    `json:"created_at"`
	RecordHash       string    `json:"record_hash"`
	EmergencyContact Principal `json:"emergency_contact,omitempty"`
}

// HasEmergencyContact reports whether an emergency contact is registered
func (r *PatientRecord) HasEmergencyContact() bool {
	return !r.EmergencyContact.IsZero()
}

// AccessGrant is the live delegation from a patient to a provider
type AccessGrant struct {
	Patient       Principal   `json:"patient"`
	Provider      Principal   `json:"provider"`
	GrantedAt     uint64      `json:"granted_at"`
	ExpiresAt     uint64      `json:"expires_at"`
	Level         AccessLevel `json:"access_level"`
	CertificateID uint64      `json:"certificate_id"`
	ConsentProof  string      `json:"consent_proof"`
}

// Expired reports whether the grant is past expiry at height.
func (g *AccessGrant) Expired(height uint64) bool {
	return height >= g.ExpiresAt
}

// CertificateInfo is the metadata stored alongside an issued access certificate
type CertificateInfo struct {
	ID        uint64      `json:"id"`
	Patient   Principal   `json:"patient"`
	Provider  Principal   `json:"provider"`
	Level     AccessLevel `json:"access_level"`
	ExpiresAt uint64      `json:"expires_at"`
}

// EmergencyStatus is the emergency override overlay for one patient
type EmergencyStatus struct {
	Patient     Principal `json:"patient"`
	Active      bool      `json:"active"`
	ActivatedBy Principal `json:"activated_by"`
	ActivatedAt uint64    `json:"activated_at"`
	Reason      string    `json:"reason"`
}

// AuditLogEntry is an immutable audit log entry
type AuditLogEntry struct {
	ID        uint64    `json:"id"`
	Patient   Principal `json:"patient"`
	Accessor  Principal `json:"accessor"`
	Action    string    `json:"action"`
	Timestamp uint64    `json:"timestamp"`
	Height    uint64    `json:"height"`
	Digest    string    `json:"digest"`
}

// Audit actions
const (
	ActionPatientRegistration    = "patient-registration"
	ActionUpdateEmergencyContact = "update-emergency-contact"
	ActionUpdateRecordHash       = "update-record-hash"
	ActionProviderUpdateRecord   = "provider-update-record"
	ActionGrantAccess            = "grant-access"
	ActionRevokeAccess           = "revoke-access"
	ActionTransferCertificate    = "transfer-certificate"
	ActionSelfAccess             = "self-access"
	ActionProviderRead           = "provider-read"
	ActionEmergencyRead          = "emergency-read"
	ActionActivateEmergency      = "activate-emergency"
	ActionDeactivateEmergency    = "deactivate-emergency"
	ActionEmergencyAccess        = "emergency-access"
)
