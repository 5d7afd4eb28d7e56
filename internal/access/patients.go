package access

import (
	"fmt"

	"github.com/medrex/consent-ledger/internal/ledger"
	"github.com/medrex/consent-ledger/pkg/types"
)

// Patients is the repository of patient records
type Patients struct{}

// NewPatients creates the patient repository
func NewPatients() *Patients {
	return &Patients{}
}

func patientKey(patient types.Principal) string {
	return ledger.Key(ledger.NamespacePatient, patient.String())
}

// Load returns the record for patient, or a NotFound error
func (p *Patients) Load(r ledger.Reader, patient types.Principal) (*types.PatientRecord, error) {
	var record types.PatientRecord
	found, err := ledger.GetJSON(r, patientKey(patient), &record)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, types.NewNotFoundError(fmt.Sprintf("patient %s is not registered", patient))
	}
	return &record, nil
}

// Exists reports whether patient is registered
func (p *Patients) Exists(r ledger.Reader, patient types.Principal) (bool, error) {
	return ledger.Exists(r, patientKey(patient))
}

// Save writes record
func (p *Patients) Save(tx ledger.Tx, record *types.PatientRecord) error {
	return ledger.PutJSON(tx, patientKey(record.Patient), record)
}
