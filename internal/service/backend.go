package service

import (
	"context"
	"fmt"
	"time"

	"github.com/medrex/consent-ledger/internal/ledger"
	"github.com/medrex/consent-ledger/pkg/config"
	"github.com/medrex/consent-ledger/pkg/database"
	"github.com/medrex/consent-ledger/pkg/logger"
	"github.com/medrex/consent-ledger/pkg/monitoring"
)

// Backend is an opened ledger store and its cleanup
type Backend struct {
	Store ledger.Store
	close func() error
}

// Close releases the backend
func (b *Backend) Close() error {
	if b.close == nil {
		return nil
	}
	return b.close()
}

// OpenBackend opens the store selected by cfg.Ledger.Backend and registers
// its health check
func OpenBackend(ctx context.Context, cfg *config.Config, log *logger.Logger, health *monitoring.HealthManager) (*Backend, error) {
	switch cfg.Ledger.Backend {
	case config.BackendMemory:
		store := ledger.NewMemoryStore()
		if health != nil {
			health.Register("ledger", store.Ping)
		}
		log.WithComponent("service").Warn("Using in-memory ledger store; state is lost on restart")
		return &Backend{Store: store, close: store.Close}, nil

	case config.BackendPostgres:
		db, err := database.NewConnection(&cfg.Database, log)
		if err != nil {
			return nil, err
		}

		schemaCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
		defer cancel()
		if err := db.CreateSchema(schemaCtx); err != nil {
			db.Close()
			return nil, err
		}

		if health != nil {
			health.Register("database", db.Health)
		}
		return &Backend{Store: ledger.NewPostgresStore(db.DB), close: db.Close}, nil

	default:
		return nil, fmt.Errorf("unknown ledger backend: %s", cfg.Ledger.Backend)
	}
}
