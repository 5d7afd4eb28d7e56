// Package auditlog is the append-only audit trail of every access decision.
// Entries are numbered by a gap-free sequence and chained by digest.
package auditlog

import (
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/medrex/consent-ledger/internal/ledger"
	"github.com/medrex/consent-ledger/pkg/logger"
	"github.com/medrex/consent-ledger/pkg/types"
)

const (
	// PageSize bounds every page and batch read.
	PageSize = 10
	// MaxBatch is the largest id list GetBatch accepts.
	MaxBatch = 10
)

// Log appends to and reads the audit trail. Only the writer principal given
// at construction may append.
type Log struct {
	writer types.Principal
	clock  types.Clock
	logger *logger.Logger
}

// New creates an audit log that accepts appends from writer only
func New(writer types.Principal, clock types.Clock, log *logger.Logger) *Log {
	return &Log{
		writer: writer,
		clock:  clock,
		logger: log,
	}
}

// Writer returns the only principal allowed to append
func (l *Log) Writer() types.Principal {
	return l.writer
}

// Append writes a new entry inside tx and returns its id.
func (l *Log) Append(tx ledger.Tx, caller, patient, accessor types.Principal, action string) (uint64, error) {
	if caller != l.writer {
		l.logger.Security("audit_append_rejected", caller.String(), map[string]interface{}{
			"patient": patient.String(),
			"action":  action,
		})
		return 0, types.NewUnauthorizedError("caller is not the audit writer")
	}
	if action == "" || len(action) > types.MaxActionLength {
		return 0, types.NewValidationError(fmt.Sprintf("action must be 1-%d bytes", types.MaxActionLength))
	}

	id, err := ledger.NextSequence(tx, ledger.SequenceAuditLog)
	if err != nil {
		return 0, types.NewAuditFailedError("failed to allocate audit id", err)
	}

	prev, err := tx.Get(ledger.Key(ledger.NamespaceAuditHead))
	if err != nil {
		return 0, types.NewAuditFailedError("failed to read audit chain head", err)
	}

	timestamp, ok := l.clock.Timestamp()
	if !ok {
		timestamp = 0
	}

	entry := types.AuditLogEntry{
		ID:        id,
		Patient:   patient,
		Accessor:  accessor,
		Action:    action,
		Timestamp: timestamp,
		Height:    l.clock.Height(),
	}
	entry.Digest, err = Digest(string(prev), &entry)
	if err != nil {
		return 0, types.NewAuditFailedError("failed to compute audit digest", err)
	}

	if err := ledger.PutJSON(tx, ledger.IDKey(ledger.NamespaceAudit, id), &entry); err != nil {
		return 0, types.NewAuditFailedError("failed to persist audit entry", err)
	}
	if err := tx.Put(ledger.Key(ledger.NamespaceAuditHead), []byte(entry.Digest)); err != nil {
		return 0, types.NewAuditFailedError("failed to advance audit chain head", err)
	}

	l.logger.WithComponent("auditlog").WithFields(logrus.Fields{
		"log_id":   id,
		"patient":  patient.String(),
		"accessor": accessor.String(),
		"action":   action,
	}).Debug("Audit entry staged")

	return id, nil
}

// Count returns the number of entries ever written
func (l *Log) Count(r ledger.Reader) (uint64, error) {
	next, err := ledger.PeekSequence(r, ledger.SequenceAuditLog)
	if err != nil {
		return 0, err
	}
	return next - 1, nil
}

// Get returns the entry with the given id
func (l *Log) Get(r ledger.Reader, id uint64) (*types.AuditLogEntry, error) {
	entry, err := l.lookup(r, id)
	if err != nil {
		return nil, err
	}
	if entry == nil {
		return nil, types.NewNotFoundError(fmt.Sprintf("audit entry %d does not exist", id))
	}
	return entry, nil
}

// lookup returns nil, nil for an unknown id
func (l *Log) lookup(r ledger.Reader, id uint64) (*types.AuditLogEntry, error) {
	if id == 0 {
		return nil, nil
	}
	var entry types.AuditLogEntry
	found, err := ledger.GetJSON(r, ledger.IDKey(ledger.NamespaceAudit, id), &entry)
	if err != nil || !found {
		return nil, err
	}
	return &entry, nil
}

// GetBatch returns the entries for ids, silently skipping unknown ids
func (l *Log) GetBatch(r ledger.Reader, ids []uint64) ([]*types.AuditLogEntry, error) {
	if len(ids) > MaxBatch {
		return nil, types.NewValidationError(fmt.Sprintf("at most %d ids per batch", MaxBatch))
	}

	entries := make([]*types.AuditLogEntry, 0, len(ids))
	for _, id := range ids {
		entry, err := l.lookup(r, id)
		if err != nil {
			return nil, err
		}
		if entry != nil {
			entries = append(entries, entry)
		}
	}
	return entries, nil
}

// GetPatientPage returns the entries about patient in page
func (l *Log) GetPatientPage(r ledger.Reader, patient types.Principal, page uint64) ([]*types.AuditLogEntry, error) {
	return l.page(r, page, func(e *types.AuditLogEntry) bool { return e.Patient == patient })
}

// GetAccessorPage returns the entries made by accessor in page
func (l *Log) GetAccessorPage(r ledger.Reader, accessor types.Principal, page uint64) ([]*types.AuditLogEntry, error) {
	return l.page(r, page, func(e *types.AuditLogEntry) bool { return e.Accessor == accessor })
}

// page scans ids [1+10p, 10+10p] clipped to [1, count].
func (l *Log) page(r ledger.Reader, page uint64, match func(*types.AuditLogEntry) bool) ([]*types.AuditLogEntry, error) {
	count, err := l.Count(r)
	if err != nil {
		return nil, err
	}

	entries := make([]*types.AuditLogEntry, 0, PageSize)
	if count == 0 || page > (count-1)/PageSize {
		return entries, nil
	}

	first := page*PageSize + 1
	last := first + PageSize - 1
	if last > count {
		last = count
	}

	for id := first; id <= last && len(entries) < PageSize; id++ {
		entry, err := l.lookup(r, id)
		if err != nil {
			return nil, err
		}
		if entry != nil && match(entry) {
			entries = append(entries, entry)
		}
	}
	return entries, nil
}

// Verify recomputes the digest of entry id from its predecessor and reports
// whether the stored digest still matches.
func (l *Log) Verify(r ledger.Reader, id uint64) (bool, error) {
	entry, err := l.Get(r, id)
	if err != nil {
		return false, err
	}

	prev := ""
	if id > 1 {
		before, err := l.Get(r, id-1)
		if err != nil {
			if errors.Is(err, types.ErrNotFound) {
				return false, nil
			}
			return false, err
		}
		prev = before.Digest
	}

	expected, err := Digest(prev, entry)
	if err != nil {
		return false, err
	}
	return expected == entry.Digest, nil
}
