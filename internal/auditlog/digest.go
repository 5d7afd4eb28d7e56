package auditlog

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"

	"github.com/medrex/consent-ledger/pkg/types"
)

// digestInput is the canonical form hashed for an entry. The digest field
// itself is excluded.
type digestInput struct {
	Previous  string          `json:"previous"`
	ID        uint64          `json:"id"`
	Patient   types.Principal `json:"patient"`
	Accessor  types.Principal `json:"accessor"`
	Action    string          `json:"action"`
	Timestamp uint64          `json:"timestamp"`
	Height    uint64          `json:"height"`
}

// Digest chains entry onto the digest of the entry before it.
func Digest(previous string, entry *types.AuditLogEntry) (string, error) {
	data, err := json.Marshal(digestInput{
		Previous:  previous,
		ID:        entry.ID,
		Patient:   entry.Patient,
		Accessor:  entry.Accessor,
		Action:    entry.Action,
		Timestamp: entry.Timestamp,
		Height:    entry.Height,
	})
	if err != nil {
		return "", err
	}

	hash := sha256.Sum256(data)
	return hex.EncodeToString(hash[:]), nil
}
