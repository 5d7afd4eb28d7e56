package httpapi

import (
	"context"
	"net/http"
	"strconv"
	"strings"

	"github.com/gorilla/mux"

	"github.com/medrex/consent-ledger/pkg/logger"
	"github.com/medrex/consent-ledger/pkg/types"
)

// AuditAPI is the audit read surface
type AuditAPI interface {
	AuditCount(ctx context.Context) (uint64, error)
	AuditGet(ctx context.Context, id uint64) (*types.AuditLogEntry, error)
	AuditBatch(ctx context.Context, ids []uint64) ([]*types.AuditLogEntry, error)
	AuditPatientPage(ctx context.Context, patient types.Principal, page uint64) ([]*types.AuditLogEntry, error)
	AuditAccessorPage(ctx context.Context, accessor types.Principal, page uint64) ([]*types.AuditLogEntry, error)
	AuditVerify(ctx context.Context, id uint64) (bool, error)
	FindFirstLog(ctx context.Context, patient, accessor types.Principal, action string) (uint64, error)
	GetPatientLogs(ctx context.Context, patient types.Principal, limit, offset uint64) ([]*types.AuditLogEntry, error)
}

// LedgerAPI is the full operation surface served over HTTP
type LedgerAPI interface {
	AuditAPI

	Register(ctx context.Context, caller types.Principal, name, recordHash string, emergencyContact types.Principal) error
	UpdateEmergencyContact(ctx context.Context, caller, contact types.Principal) error
	UpdateRecordHash(ctx context.Context, caller types.Principal, newHash string) error
	ProviderUpdateRecord(ctx context.Context, caller, patient types.Principal, newHash string) error
	GrantAccess(ctx context.Context, caller, provider types.Principal, level types.AccessLevel, expiresAt uint64, consentProof string) (uint64, error)
	RevokeAccess(ctx context.Context, caller, patient, provider types.Principal) error
	CheckAccess(ctx context.Context, patient, provider types.Principal) (types.AccessLevel, error)
	ReadRecord(ctx context.Context, caller, patient types.Principal) (*types.PatientRecord, error)
	TransferCertificate(ctx context.Context, caller types.Principal, id uint64, recipient types.Principal) error
	Grant(ctx context.Context, patient, provider types.Principal) (*types.AccessGrant, error)
	Certificate(ctx context.Context, id uint64) (*types.CertificateInfo, error)
	CertificateOwner(ctx context.Context, id uint64) (types.Principal, error)

	ActivateEmergency(ctx context.Context, caller, patient types.Principal, reason string) error
	DeactivateEmergency(ctx context.Context, caller, patient types.Principal) error
	EmergencyRead(ctx context.Context, caller, patient types.Principal) (*types.PatientRecord, error)
	EmergencyStatus(ctx context.Context, patient types.Principal) (*types.EmergencyStatus, error)

	AuditAppend(ctx context.Context, caller, patient, accessor types.Principal, action string) (uint64, error)
}

// Request bodies

type registerRequest struct {
	Name             string `json:"name"`
	RecordHash       string `json:"record_hash"`
	EmergencyContact string `json:"emergency_contact"`
}

type contactRequest struct {
	Contact string `json:"contact"`
}

type recordHashRequest struct {
	RecordHash string `json:"record_hash"`
}

type grantRequest struct {
	Provider     string `json:"provider"`
	Level        uint8  `json:"level"`
	ExpiresAt    uint64 `json:"expires_at"`
	ConsentProof string `json:"consent_proof"`
}

type transferRequest struct {
	Recipient string `json:"recipient"`
}

type emergencyRequest struct {
	Reason string `json:"reason"`
}

type appendRequest struct {
	Patient  string `json:"patient"`
	Accessor string `json:"accessor"`
	Action   string `json:"action"`
}

// AuditHandlers serves the audit read surface
type AuditHandlers struct {
	api    AuditAPI
	logger *logger.Logger
}

// NewAuditHandlers creates audit handlers
func NewAuditHandlers(api AuditAPI, log *logger.Logger) *AuditHandlers {
	return &AuditHandlers{api: api, logger: log}
}

// RegisterRoutes registers the read-only audit routes
func (h *AuditHandlers) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/audit/count", h.Count).Methods(http.MethodGet)
	router.HandleFunc("/audit/entries", h.Batch).Methods(http.MethodGet)
	router.HandleFunc("/audit/entries/{id:[0-9]+}", h.Get).Methods(http.MethodGet)
	router.HandleFunc("/audit/entries/{id:[0-9]+}/verify", h.Verify).Methods(http.MethodGet)
	router.HandleFunc("/audit/patients/{patient}", h.PatientPage).Methods(http.MethodGet)
	router.HandleFunc("/audit/patients/{patient}/logs", h.PatientLogs).Methods(http.MethodGet)
	router.HandleFunc("/audit/accessors/{accessor}", h.AccessorPage).Methods(http.MethodGet)
	router.HandleFunc("/audit/search", h.FindFirst).Methods(http.MethodGet)
}

// Count handles GET /audit/count
func (h *AuditHandlers) Count(w http.ResponseWriter, r *http.Request) {
	count, err := h.api.AuditCount(r.Context())
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, h.logger, http.StatusOK, map[string]uint64{"count": count})
}

// Get handles GET /audit/entries/{id}
func (h *AuditHandlers) Get(w http.ResponseWriter, r *http.Request) {
	id, err := pathUint(r, "id")
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	entry, err := h.api.AuditGet(r.Context(), id)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, h.logger, http.StatusOK, entry)
}

// Batch handles GET /audit/entries?ids=1,2,3
func (h *AuditHandlers) Batch(w http.ResponseWriter, r *http.Request) {
	var ids []uint64
	if raw := r.URL.Query().Get("ids"); raw != "" {
		for _, part := range strings.Split(raw, ",") {
			id, err := strconv.ParseUint(strings.TrimSpace(part), 10, 64)
			if err != nil {
				writeError(w, h.logger, types.NewValidationError("invalid ids"))
				return
			}
			ids = append(ids, id)
		}
	}

	entries, err := h.api.AuditBatch(r.Context(), ids)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, h.logger, http.StatusOK, entries)
}

// Verify handles GET /audit/entries/{id}/verify
func (h *AuditHandlers) Verify(w http.ResponseWriter, r *http.Request) {
	id, err := pathUint(r, "id")
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	ok, err := h.api.AuditVerify(r.Context(), id)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, h.logger, http.StatusOK, map[string]interface{}{"id": id, "valid": ok})
}

// PatientPage handles GET /audit/patients/{patient}?page=N
func (h *AuditHandlers) PatientPage(w http.ResponseWriter, r *http.Request) {
	patient, err := pathPrincipal(r, "patient")
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	page, err := queryUint(r, "page", 0)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	entries, err := h.api.AuditPatientPage(r.Context(), patient, page)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, h.logger, http.StatusOK, entries)
}

// AccessorPage handles GET /audit/accessors/{accessor}?page=N
func (h *AuditHandlers) AccessorPage(w http.ResponseWriter, r *http.Request) {
	accessor, err := pathPrincipal(r, "accessor")
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	page, err := queryUint(r, "page", 0)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	entries, err := h.api.AuditAccessorPage(r.Context(), accessor, page)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, h.logger, http.StatusOK, entries)
}

// PatientLogs handles GET /audit/patients/{patient}/logs?limit=L&offset=O
func (h *AuditHandlers) PatientLogs(w http.ResponseWriter, r *http.Request) {
	patient, err := pathPrincipal(r, "patient")
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	limit, err := queryUint(r, "limit", 20)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	offset, err := queryUint(r, "offset", 0)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	entries, err := h.api.GetPatientLogs(r.Context(), patient, limit, offset)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, h.logger, http.StatusOK, entries)
}

// FindFirst handles GET /audit/search?patient=P&accessor=A&action=X
func (h *AuditHandlers) FindFirst(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	id, err := h.api.FindFirstLog(r.Context(), types.Principal(q.Get("patient")), types.Principal(q.Get("accessor")), q.Get("action"))
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, h.logger, http.StatusOK, map[string]uint64{"log_id": id})
}

// Handlers serves the full ledger surface
type Handlers struct {
	*AuditHandlers

	api LedgerAPI
}

// NewHandlers creates the full set of handlers
func NewHandlers(api LedgerAPI, log *logger.Logger) *Handlers {
	return &Handlers{
		AuditHandlers: NewAuditHandlers(api, log),
		api:           api,
	}
}

// RegisterRoutes registers every ledger route
func (h *Handlers) RegisterRoutes(router *mux.Router) {
	h.AuditHandlers.RegisterRoutes(router)
	router.HandleFunc("/audit/entries", h.Append).Methods(http.MethodPost)

	router.HandleFunc("/patients", h.Register).Methods(http.MethodPost)
	router.HandleFunc("/patients/me/emergency-contact", h.UpdateEmergencyContact).Methods(http.MethodPut)
	router.HandleFunc("/patients/me/record-hash", h.UpdateRecordHash).Methods(http.MethodPut)
	router.HandleFunc("/patients/{patient}", h.ReadRecord).Methods(http.MethodGet)
	router.HandleFunc("/patients/{patient}/record-hash", h.ProviderUpdateRecord).Methods(http.MethodPut)

	router.HandleFunc("/grants", h.GrantAccess).Methods(http.MethodPost)
	router.HandleFunc("/patients/{patient}/grants/{provider}", h.GetGrant).Methods(http.MethodGet)
	router.HandleFunc("/patients/{patient}/grants/{provider}", h.RevokeAccess).Methods(http.MethodDelete)
	router.HandleFunc("/patients/{patient}/access/{provider}", h.CheckAccess).Methods(http.MethodGet)

	router.HandleFunc("/certificates/{id:[0-9]+}", h.GetCertificate).Methods(http.MethodGet)
	router.HandleFunc("/certificates/{id:[0-9]+}/owner", h.GetCertificateOwner).Methods(http.MethodGet)
	router.HandleFunc("/certificates/{id:[0-9]+}/transfer", h.TransferCertificate).Methods(http.MethodPost)

	router.HandleFunc("/patients/{patient}/emergency", h.ActivateEmergency).Methods(http.MethodPost)
	router.HandleFunc("/patients/{patient}/emergency", h.DeactivateEmergency).Methods(http.MethodDelete)
	router.HandleFunc("/patients/{patient}/emergency", h.GetEmergencyStatus).Methods(http.MethodGet)
	router.HandleFunc("/patients/{patient}/emergency/record", h.EmergencyRead).Methods(http.MethodGet)
}

// caller returns the authenticated principal or writes a 401
func (h *Handlers) caller(w http.ResponseWriter, r *http.Request) (types.Principal, bool) {
	p, ok := PrincipalFrom(r.Context())
	if !ok {
		writeUnauthenticated(w, h.logger, "caller principal not found in request")
		return "", false
	}
	return p, true
}

// Register handles POST /patients
func (h *Handlers) Register(w http.ResponseWriter, r *http.Request) {
	caller, ok := h.caller(w, r)
	if !ok {
		return
	}
	var req registerRequest
	if err := decode(r, &req); err != nil {
		writeError(w, h.logger, err)
		return
	}
	err := h.api.Register(r.Context(), caller, req.Name, req.RecordHash, types.Principal(req.EmergencyContact))
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, h.logger, http.StatusCreated, map[string]string{"patient": caller.String()})
}

// UpdateEmergencyContact handles PUT /patients/me/emergency-contact
func (h *Handlers) UpdateEmergencyContact(w http.ResponseWriter, r *http.Request) {
	caller, ok := h.caller(w, r)
	if !ok {
		return
	}
	var req contactRequest
	if err := decode(r, &req); err != nil {
		writeError(w, h.logger, err)
		return
	}
	if err := h.api.UpdateEmergencyContact(r.Context(), caller, types.Principal(req.Contact)); err != nil {
		writeError(w, h.logger, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// UpdateRecordHash handles PUT /patients/me/record-hash
func (h *Handlers) UpdateRecordHash(w http.ResponseWriter, r *http.Request) {
	caller, ok := h.caller(w, r)
	if !ok {
		return
	}
	var req recordHashRequest
	if err := decode(r, &req); err != nil {
		writeError(w, h.logger, err)
		return
	}
	if err := h.api.UpdateRecordHash(r.Context(), caller, req.RecordHash); err != nil {
		writeError(w, h.logger, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ProviderUpdateRecord handles PUT /patients/{patient}/record-hash
func (h *Handlers) ProviderUpdateRecord(w http.ResponseWriter, r *http.Request) {
	caller, ok := h.caller(w, r)
	if !ok {
		return
	}
	patient, err := pathPrincipal(r, "patient")
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	var req recordHashRequest
	if err := decode(r, &req); err != nil {
		writeError(w, h.logger, err)
		return
	}
	if err := h.api.ProviderUpdateRecord(r.Context(), caller, patient, req.RecordHash); err != nil {
		writeError(w, h.logger, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ReadRecord handles GET /patients/{patient}
func (h *Handlers) ReadRecord(w http.ResponseWriter, r *http.Request) {
	caller, ok := h.caller(w, r)
	if !ok {
		return
	}
	patient, err := pathPrincipal(r, "patient")
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	record, err := h.api.ReadRecord(r.Context(), caller, patient)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, h.logger, http.StatusOK, record)
}

// GrantAccess handles POST /grants
func (h *Handlers) GrantAccess(w http.ResponseWriter, r *http.Request) {
	caller, ok := h.caller(w, r)
	if !ok {
		return
	}
	var req grantRequest
	if err := decode(r, &req); err != nil {
		writeError(w, h.logger, err)
		return
	}
	id, err := h.api.GrantAccess(r.Context(), caller, types.Principal(req.Provider), types.AccessLevel(req.Level), req.ExpiresAt, req.ConsentProof)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, h.logger, http.StatusCreated, map[string]uint64{"certificate_id": id})
}

// GetGrant handles GET /patients/{patient}/grants/{provider}
func (h *Handlers) GetGrant(w http.ResponseWriter, r *http.Request) {
	patient, provider, ok := h.pair(w, r)
	if !ok {
		return
	}
	grant, err := h.api.Grant(r.Context(), patient, provider)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, h.logger, http.StatusOK, grant)
}

// RevokeAccess handles DELETE /patients/{patient}/grants/{provider}
func (h *Handlers) RevokeAccess(w http.ResponseWriter, r *http.Request) {
	caller, ok := h.caller(w, r)
	if !ok {
		return
	}
	patient, provider, ok := h.pair(w, r)
	if !ok {
		return
	}
	if err := h.api.RevokeAccess(r.Context(), caller, patient, provider); err != nil {
		writeError(w, h.logger, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// CheckAccess handles GET /patients/{patient}/access/{provider}
func (h *Handlers) CheckAccess(w http.ResponseWriter, r *http.Request) {
	patient, provider, ok := h.pair(w, r)
	if !ok {
		return
	}
	level, err := h.api.CheckAccess(r.Context(), patient, provider)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, h.logger, http.StatusOK, map[string]interface{}{
		"level": uint8(level),
		"name":  level.String(),
	})
}

func (h *Handlers) pair(w http.ResponseWriter, r *http.Request) (types.Principal, types.Principal, bool) {
	patient, err := pathPrincipal(r, "patient")
	if err != nil {
		writeError(w, h.logger, err)
		return "", "", false
	}
	provider, err := pathPrincipal(r, "provider")
	if err != nil {
		writeError(w, h.logger, err)
		return "", "", false
	}
	return patient, provider, true
}

// GetCertificate handles GET /certificates/{id}
func (h *Handlers) GetCertificate(w http.ResponseWriter, r *http.Request) {
	id, err := pathUint(r, "id")
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	info, err := h.api.Certificate(r.Context(), id)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, h.logger, http.StatusOK, info)
}

// GetCertificateOwner handles GET /certificates/{id}/owner
func (h *Handlers) GetCertificateOwner(w http.ResponseWriter, r *http.Request) {
	id, err := pathUint(r, "id")
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	owner, err := h.api.CertificateOwner(r.Context(), id)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, h.logger, http.StatusOK, map[string]interface{}{"id": id, "owner": owner})
}

// TransferCertificate handles POST /certificates/{id}/transfer
func (h *Handlers) TransferCertificate(w http.ResponseWriter, r *http.Request) {
	caller, ok := h.caller(w, r)
	if !ok {
		return
	}
	id, err := pathUint(r, "id")
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	var req transferRequest
	if err := decode(r, &req); err != nil {
		writeError(w, h.logger, err)
		return
	}
	if err := h.api.TransferCertificate(r.Context(), caller, id, types.Principal(req.Recipient)); err != nil {
		writeError(w, h.logger, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ActivateEmergency handles POST /patients/{patient}/emergency
func (h *Handlers) ActivateEmergency(w http.ResponseWriter, r *http.Request) {
	caller, ok := h.caller(w, r)
	if !ok {
		return
	}
	patient, err := pathPrincipal(r, "patient")
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	var req emergencyRequest
	if err := decode(r, &req); err != nil {
		writeError(w, h.logger, err)
		return
	}
	if err := h.api.ActivateEmergency(r.Context(), caller, patient, req.Reason); err != nil {
		writeError(w, h.logger, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// DeactivateEmergency handles DELETE /patients/{patient}/emergency
func (h *Handlers) DeactivateEmergency(w http.ResponseWriter, r *http.Request) {
	caller, ok := h.caller(w, r)
	if !ok {
		return
	}
	patient, err := pathPrincipal(r, "patient")
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	if err := h.api.DeactivateEmergency(r.Context(), caller, patient); err != nil {
		writeError(w, h.logger, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// GetEmergencyStatus handles GET /patients/{patient}/emergency
func (h *Handlers) GetEmergencyStatus(w http.ResponseWriter, r *http.Request) {
	patient, err := pathPrincipal(r, "patient")
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	status, err := h.api.EmergencyStatus(r.Context(), patient)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, h.logger, http.StatusOK, status)
}

// EmergencyRead handles GET /patients/{patient}/emergency/record
func (h *Handlers) EmergencyRead(w http.ResponseWriter, r *http.Request) {
	caller, ok := h.caller(w, r)
	if !ok {
		return
	}
	patient, err := pathPrincipal(r, "patient")
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	record, err := h.api.EmergencyRead(r.Context(), caller, patient)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, h.logger, http.StatusOK, record)
}

// Append handles POST /audit/entries. Only the audit writer may append.
func (h *Handlers) Append(w http.ResponseWriter, r *http.Request) {
	caller, ok := h.caller(w, r)
	if !ok {
		return
	}
	var req appendRequest
	if err := decode(r, &req); err != nil {
		writeError(w, h.logger, err)
		return
	}
	id, err := h.api.AuditAppend(r.Context(), caller, types.Principal(req.Patient), types.Principal(req.Accessor), req.Action)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, h.logger, http.StatusCreated, map[string]uint64{"log_id": id})
}
