// Package gormstorage implements measurement write-back over GORM. The
// sqlite and postgres backends wrap it and only differ in how they connect.
package gormstorage

import (
	"context"
	"errors"
	"fmt"

	"github.com/streetpano/measuresync/internal/cache"
	"github.com/streetpano/measuresync/internal/database"
	"github.com/streetpano/measuresync/internal/logging"
	"github.com/streetpano/measuresync/internal/model"
	"github.com/streetpano/measuresync/internal/model/convert"
	"github.com/streetpano/measuresync/pkg/core"

	"gorm.io/gorm"
)

// Dependencies holds all dependencies for the GORM storage backend.
type Dependencies struct {
	DB          *gorm.DB
	TargetCache *cache.TargetCache
	LogManager  *logging.SlogManager
}

// Backend implements storage.Backend on a GORM connection.
type Backend struct {
	deps Dependencies
}

// New creates a new GORM storage backend.
func New(deps Dependencies) *Backend {
	if deps.TargetCache == nil {
		deps.TargetCache = cache.NewTargetCache()
	}
	if deps.LogManager == nil {
		deps.LogManager = logging.NewSlogManager()
	}
	return &Backend{deps: deps}
}

// DB returns the underlying connection.
func (b *Backend) DB() *gorm.DB {
	return b.deps.DB
}

// Init migrates the schema.
func (b *Backend) Init() error {
	if b.deps.DB == nil {
		return fmt.Errorf("no database connection")
	}
	b.deps.LogManager.WriteLog("gorm:Init", "Migrating schema", "INFO")
	return database.Migrate(b.deps.DB)
}

// Close releases the connection pool.
func (b *Backend) Close() error {
	if b.deps.DB == nil {
		return nil
	}
	sqlDB, err := b.deps.DB.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// SaveMeasurement upserts the row for rec.Target.
func (b *Backend) SaveMeasurement(ctx context.Context, rec *core.MeasurementRecord) error {
	row, err := convert.MeasurementToGorm(*rec)
	if err != nil {
		return err
	}

	db := b.deps.DB.WithContext(ctx)
	if id, ok := b.lookupID(db, rec.Target); ok {
		row.ID = id
	}

	if row.ID != 0 {
		err = db.Omit("created_at").Save(&row).Error
	} else {
		err = db.Create(&row).Error
	}
	if err != nil {
		return fmt.Errorf("failed to save measurement for %s: %w", rec.Target, err)
	}

	rec.ID = row.ID
	rec.UpdatedAt = row.UpdatedAt
	b.deps.TargetCache.Set(rec.Target, row.ID)
	b.deps.LogManager.WriteLog("gorm:SaveMeasurement", fmt.Sprintf("Saved measurement %d for %s", row.ID, rec.Target), "DEBUG")
	return nil
}

// LoadMeasurement returns the record stored for target.
func (b *Backend) LoadMeasurement(ctx context.Context, target core.TargetBinding) (*core.MeasurementRecord, error) {
	var row model.Measurement
	db := b.deps.DB.WithContext(ctx)

	var err error
	if id, ok := b.deps.TargetCache.Get(target); ok {
		err = db.First(&row, id).Error
	} else {
		err = db.Where("layer = ? AND feature_id = ?", target.Layer, target.FeatureID).First(&row).Error
	}
	if errors.Is(err, gorm.ErrRecordNotFound) {
		b.deps.TargetCache.Delete(target)
		return nil, core.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load measurement for %s: %w", target, err)
	}

	rec, err := convert.MeasurementToCore(row)
	if err != nil {
		return nil, err
	}
	b.deps.TargetCache.Set(target, row.ID)
	return &rec, nil
}

// DeleteMeasurement removes the row for target.
func (b *Backend) DeleteMeasurement(ctx context.Context, target core.TargetBinding) error {
	err := b.deps.DB.WithContext(ctx).Unscoped().
		Where("layer = ? AND feature_id = ?", target.Layer, target.FeatureID).
		Delete(&model.Measurement{}).Error
	if err != nil {
		return fmt.Errorf("failed to delete measurement for %s: %w", target, err)
	}
	b.deps.TargetCache.Delete(target)
	return nil
}

// ListMeasurements returns every stored measurement ordered by id.
func (b *Backend) ListMeasurements(ctx context.Context) ([]core.MeasurementRecord, error) {
	var rows []model.Measurement
	if err := b.deps.DB.WithContext(ctx).Order("id").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("failed to list measurements: %w", err)
	}

	out := make([]core.MeasurementRecord, 0, len(rows))
	for _, row := range rows {
		rec, err := convert.MeasurementToCore(row)
		if err != nil {
			b.deps.LogManager.WriteLog("gorm:ListMeasurements", fmt.Sprintf("Skipping measurement %d: %v", row.ID, err), "WARN")
			continue
		}
		out = append(out, rec)
	}
	return out, nil
}

func (b *Backend) lookupID(db *gorm.DB, target core.TargetBinding) (uint, bool) {
	if id, ok := b.deps.TargetCache.Get(target); ok {
		return id, true
	}
	var row model.Measurement
	err := db.Select("id").Where("layer = ? AND feature_id = ?", target.Layer, target.FeatureID).First(&row).Error
	if err != nil {
		return 0, false
	}
	return row.ID, true
}
