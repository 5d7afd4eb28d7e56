package ledger

import (
	"fmt"
	"strconv"
)

// Sequence names
const (
	SequenceCertificate = "certificate"
	SequenceAuditLog    = "audit-log"
)

// PeekSequence returns the next value the sequence would hand out. A sequence
// that was never used starts at 1.
func PeekSequence(r Reader, name string) (uint64, error) {
	data, err := r.Get(Key(NamespaceSequence, name))
	if err != nil {
		return 0, fmt.Errorf("failed to read sequence %s: %w", name, err)
	}
	if data == nil {
		return 1, nil
	}
	next, err := strconv.ParseUint(string(data), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("corrupt sequence %s: %w", name, err)
	}
	return next, nil
}

// NextSequence allocates the next value of the sequence inside tx. The
// increment is only durable if tx commits, so ids never have gaps.
func NextSequence(tx Tx, name string) (uint64, error) {
	next, err := PeekSequence(tx, name)
	if err != nil {
		return 0, err
	}
	if err := tx.Put(Key(NamespaceSequence, name), []byte(strconv.FormatUint(next+1, 10))); err != nil {
		return 0, fmt.Errorf("failed to advance sequence %s: %w", name, err)
	}
	return next, nil
}
