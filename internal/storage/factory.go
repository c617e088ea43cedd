// internal/storage/factory.go
package storage

import (
	"fmt"

	"github.com/streetpano/measuresync/internal/cache"
	"github.com/streetpano/measuresync/internal/config"
	"github.com/streetpano/measuresync/internal/logging"
	"github.com/streetpano/measuresync/internal/storage/memory"
	"github.com/streetpano/measuresync/internal/storage/postgres"
	sqlitestorage "github.com/streetpano/measuresync/internal/storage/sqlite"
)

// NewBackend creates a storage backend based on configuration
func NewBackend(cfg config.StorageConfig, targetCache *cache.TargetCache, logManager *logging.SlogManager) (Backend, error) {
	switch cfg.Type {
	case "postgres":
		return postgres.New(postgres.Dependencies{TargetCache: targetCache, LogManager: logManager}), nil
	case "sqlite":
		return sqlitestorage.New(sqlitestorage.Config{
			Path:         cfg.SQLite.Path,
			DumpPath:     cfg.SQLite.DumpPath,
			DumpInterval: cfg.SQLite.DumpInterval,
		}, targetCache, logManager)
	case "memory", "":
		return memory.New(), nil
	default:
		return nil, fmt.Errorf("unknown storage type: %s", cfg.Type)
	}
}
