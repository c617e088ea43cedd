// Package postgres implements the storage.Backend interface on PostgreSQL.
// It connects with the db.* settings and delegates to the GORM backend.
package postgres

import (
	"fmt"

	"github.com/streetpano/measuresync/internal/cache"
	"github.com/streetpano/measuresync/internal/database"
	"github.com/streetpano/measuresync/internal/logging"
	gormstorage "github.com/streetpano/measuresync/internal/storage/gorm"

	"gorm.io/gorm"
)

// Dependencies holds all dependencies for the postgres storage backend.
type Dependencies struct {
	DB          *gorm.DB
	TargetCache *cache.TargetCache
	LogManager  *logging.SlogManager
}

// Backend implements storage.Backend using GORM/PostgreSQL.
type Backend struct {
	*gormstorage.Backend
	deps Dependencies
}

// New creates a new postgres storage backend. The connection is opened in Init.
func New(deps Dependencies) *Backend {
	if deps.LogManager == nil {
		deps.LogManager = logging.NewSlogManager()
	}
	return &Backend{deps: deps}
}

// Init connects (unless a DB was injected via Dependencies), validates the
// connection and migrates the schema.
func (b *Backend) Init() error {
	if b.deps.DB == nil {
		db, err := database.GetPostgresDB()
		if err != nil {
			return fmt.Errorf("failed to connect to postgres: %w", err)
		}
		sqlDB, err := db.DB()
		if err != nil {
			return fmt.Errorf("failed to access sql interface: %w", err)
		}
		if err = sqlDB.Ping(); err != nil {
			return fmt.Errorf("failed to validate connection: %w", err)
		}
		sqlDB.SetMaxOpenConns(10)
		b.deps.DB = db
	}

	b.Backend = gormstorage.New(gormstorage.Dependencies{
		DB:          b.deps.DB,
		TargetCache: b.deps.TargetCache,
		LogManager:  b.deps.LogManager,
	})
	if err := b.Backend.Init(); err != nil {
		return fmt.Errorf("failed to setup DB: %w", err)
	}
	b.deps.LogManager.WriteLog("postgres:Init", "Database setup complete", "INFO")
	return nil
}

// Close closes the connection if Init succeeded.
func (b *Backend) Close() error {
	if b.Backend == nil {
		return nil
	}
	return b.Backend.Close()
}
