package access

import (
	"fmt"

	"github.com/medrex/consent-ledger/internal/ledger"
	"github.com/medrex/consent-ledger/pkg/types"
)

func grantKey(patient, provider types.Principal) string {
	return ledger.Key(ledger.NamespaceGrant, patient.String(), provider.String())
}

// loadGrant returns nil, nil when no grant exists for the pair
func loadGrant(r ledger.Reader, patient, provider types.Principal) (*types.AccessGrant, error) {
	var grant types.AccessGrant
	found, err := ledger.GetJSON(r, grantKey(patient, provider), &grant)
	if err != nil || !found {
		return nil, err
	}
	return &grant, nil
}

func saveGrant(tx ledger.Tx, grant *types.AccessGrant) error {
	return ledger.PutJSON(tx, grantKey(grant.Patient, grant.Provider), grant)
}

func deleteGrant(tx ledger.Tx, patient, provider types.Principal) error {
	if err := tx.Delete(grantKey(patient, provider)); err != nil {
		return fmt.Errorf("failed to delete grant: %w", err)
	}
	return nil
}
