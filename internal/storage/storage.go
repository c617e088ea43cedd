// internal/storage/storage.go
package storage

import (
	"context"

	"github.com/streetpano/measuresync/pkg/core"
)

// Backend is the interface all storage implementations must satisfy.
// Measurements are keyed by their target feature.
type Backend interface {
	// Lifecycle
	Init() error
	Close() error

	// SaveMeasurement inserts or replaces the measurement for rec.Target and
	// assigns rec.ID.
	SaveMeasurement(ctx context.Context, rec *core.MeasurementRecord) error
	// LoadMeasurement returns core.ErrNotFound when nothing is stored.
	LoadMeasurement(ctx context.Context, target core.TargetBinding) (*core.MeasurementRecord, error)
	DeleteMeasurement(ctx context.Context, target core.TargetBinding) error
	ListMeasurements(ctx context.Context) ([]core.MeasurementRecord, error)
}
