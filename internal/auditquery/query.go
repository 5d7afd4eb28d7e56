// Package auditquery is the read-only projection over the audit log. It never
// writes and only needs Count and Get from the log.
package auditquery

import (
	"context"

	"github.com/medrex/consent-ledger/internal/ledger"
	"github.com/medrex/consent-ledger/pkg/types"
)

// MaxPatientLogs caps GetPatientLogs results.
const MaxPatientLogs = 20

// LogReader is the read interface of the audit log
type LogReader interface {
	Count(r ledger.Reader) (uint64, error)
	Get(r ledger.Reader, id uint64) (*types.AuditLogEntry, error)
}

// Service answers audit queries from snapshots of the store
type Service struct {
	store ledger.Store
	log   LogReader
}

// NewService creates a query service
func NewService(store ledger.Store, log LogReader) *Service {
	return &Service{store: store, log: log}
}

// FindFirst returns the lowest id whose entry matches all three fields, or 0.
func (s *Service) FindFirst(ctx context.Context, patient, accessor types.Principal, action string) (uint64, error) {
	var found uint64
	err := s.store.View(ctx, func(r ledger.Reader) error {
		count, err := s.log.Count(r)
		if err != nil {
			return err
		}

		for id := uint64(1); id <= count; id++ {
			entry, err := s.log.Get(r, id)
			if err != nil {
				return err
			}
			if entry.Patient == patient && entry.Accessor == accessor && entry.Action == action {
				found = id
				return nil
			}
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return found, nil
}

// GetPatientLogs scans ids in (offset, offset+limit] and returns at most
// MaxPatientLogs entries about patient, in ascending id order. An offset
// past the end of the log is treated as 0.
func (s *Service) GetPatientLogs(ctx context.Context, patient types.Principal, limit, offset uint64) ([]*types.AuditLogEntry, error) {
	entries := make([]*types.AuditLogEntry, 0, MaxPatientLogs)
	err := s.store.View(ctx, func(r ledger.Reader) error {
		count, err := s.log.Count(r)
		if err != nil {
			return err
		}
		if offset > count {
			offset = 0
		}

		last := count
		if limit < count-offset {
			last = offset + limit
		}

		for id := offset + 1; id <= last && len(entries) < MaxPatientLogs; id++ {
			entry, err := s.log.Get(r, id)
			if err != nil {
				return err
			}
			if entry.Patient == patient {
				entries = append(entries, entry)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return entries, nil
}
