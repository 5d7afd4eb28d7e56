package access

import (
	"fmt"

	"github.com/medrex/consent-ledger/internal/ledger"
	"github.com/medrex/consent-ledger/pkg/types"
)

// Certificates is the registry of access certificates. Ownership and
// metadata are stored under separate keys: metadata goes away on revoke even
// when the certificate has changed hands and cannot be burned.
type Certificates struct{}

// NewCertificates creates the certificate registry
func NewCertificates() *Certificates {
	return &Certificates{}
}

func ownerKey(id uint64) string {
	return ledger.IDKey(ledger.NamespaceCertOwner, id)
}

func infoKey(id uint64) string {
	return ledger.IDKey(ledger.NamespaceCertificate, id)
}

// Issue mints certificate info.ID to owner and stores its metadata
func (c *Certificates) Issue(tx ledger.Tx, info *types.CertificateInfo, owner types.Principal) error {
	exists, err := ledger.Exists(tx, ownerKey(info.ID))
	if err != nil {
		return err
	}
	if exists {
		return fmt.Errorf("certificate %d already issued", info.ID)
	}
	if err := tx.Put(ownerKey(info.ID), []byte(owner)); err != nil {
		return fmt.Errorf("failed to mint certificate %d: %w", info.ID, err)
	}
	return ledger.PutJSON(tx, infoKey(info.ID), info)
}

// Owner returns the current holder of certificate id
func (c *Certificates) Owner(r ledger.Reader, id uint64) (types.Principal, bool, error) {
	data, err := r.Get(ownerKey(id))
	if err != nil {
		return "", false, fmt.Errorf("failed to read certificate owner: %w", err)
	}
	if data == nil {
		return "", false, nil
	}
	return types.Principal(data), true, nil
}

// Info returns the metadata of certificate id
func (c *Certificates) Info(r ledger.Reader, id uint64) (*types.CertificateInfo, bool, error) {
	var info types.CertificateInfo
	found, err := ledger.GetJSON(r, infoKey(id), &info)
	if err != nil || !found {
		return nil, found, err
	}
	return &info, true, nil
}

// Transfer moves certificate id to recipient
func (c *Certificates) Transfer(tx ledger.Tx, id uint64, recipient types.Principal) error {
	if err := tx.Put(ownerKey(id), []byte(recipient)); err != nil {
		return fmt.Errorf("failed to transfer certificate %d: %w", id, err)
	}
	return nil
}

// Retire removes the metadata of certificate id and burns it if holder still
// owns it. It reports whether the certificate was burned.
func (c *Certificates) Retire(tx ledger.Tx, id uint64, holder types.Principal) (bool, error) {
	if err := tx.Delete(infoKey(id)); err != nil {
		return false, fmt.Errorf("failed to delete certificate metadata: %w", err)
	}

	owner, found, err := c.Owner(tx, id)
	if err != nil {
		return false, err
	}
	if !found || owner != holder {
		return false, nil
	}

	if err := tx.Delete(ownerKey(id)); err != nil {
		return false, fmt.Errorf("failed to burn certificate %d: %w", id, err)
	}
	return true, nil
}

// Forget deletes the metadata of certificate id and leaves ownership alone
func (c *Certificates) Forget(tx ledger.Tx, id uint64) error {
	if err := tx.Delete(infoKey(id)); err != nil {
		return fmt.Errorf("failed to delete certificate metadata: %w", err)
	}
	return nil
}
