package storage

import (
	"log/slog"
	"path/filepath"

	"github.com/eleven-am/researchflow/internal/domain"
	"github.com/eleven-am/researchflow/internal/ports"
)

// Open builds the flow store selected by cfg.Driver.
func Open(cfg domain.StorageConfig, logger *slog.Logger) (ports.FlowStore, error) {
	switch cfg.Driver {
	case domain.StoreDriverBadger, "":
		return OpenBadger(filepath.Join(cfg.DataDir, "flows"), logger)
	case domain.StoreDriverSQLite:
		return OpenSQLite(filepath.Join(cfg.DataDir, "researchflow.db"), logger)
	case domain.StoreDriverMemory:
		return NewMemoryStore(), nil
	default:
		return nil, domain.NewValidationError("unknown store driver %q", cfg.Driver)
	}
}
