// internal/storage/memory/memory.go
package memory

import (
	"cmp"
	"context"
	"slices"
	"sync"
	"time"

	"github.com/streetpano/measuresync/pkg/core"
)

// Backend keeps measurements in memory. Nothing survives a restart.
type Backend struct {
	records map[core.TargetBinding]core.MeasurementRecord

	idCounter uint
	mu        sync.RWMutex
}

// New creates a new memory backend
func New() *Backend {
	return &Backend{
		records: make(map[core.TargetBinding]core.MeasurementRecord),
	}
}

// Init initializes the backend
func (b *Backend) Init() error {
	return nil
}

// Close cleans up resources
func (b *Backend) Close() error {
	return nil
}

// SaveMeasurement stores a deep copy of rec, reusing the id of an existing
// record for the same target.
func (b *Backend) SaveMeasurement(ctx context.Context, rec *core.MeasurementRecord) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if existing, ok := b.records[rec.Target]; ok {
		rec.ID = existing.ID
	} else {
		b.idCounter++
		rec.ID = b.idCounter
	}
	rec.UpdatedAt = time.Now()
	b.records[rec.Target] = clone(*rec)
	return nil
}

// LoadMeasurement returns a copy of the record stored for target.
func (b *Backend) LoadMeasurement(ctx context.Context, target core.TargetBinding) (*core.MeasurementRecord, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	rec, ok := b.records[target]
	if !ok {
		return nil, core.ErrNotFound
	}
	out := clone(rec)
	return &out, nil
}

// DeleteMeasurement removes the record for target. Deleting a missing record is not an error.
func (b *Backend) DeleteMeasurement(ctx context.Context, target core.TargetBinding) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.records, target)
	return nil
}

// ListMeasurements returns all records ordered by id.
func (b *Backend) ListMeasurements(ctx context.Context) ([]core.MeasurementRecord, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	out := make([]core.MeasurementRecord, 0, len(b.records))
	for _, rec := range b.records {
		out = append(out, clone(rec))
	}
	slices.SortFunc(out, func(a, b core.MeasurementRecord) int { return cmp.Compare(a.ID, b.ID) })
	return out, nil
}

func clone(rec core.MeasurementRecord) core.MeasurementRecord {
	out := rec
	out.Points = make([]core.PointRecord, len(rec.Points))
	for i, p := range rec.Points {
		if p.Coordinate != nil {
			c := *p.Coordinate
			out.Points[i].Coordinate = &c
		}
		out.Points[i].Observations = slices.Clone(p.Observations)
	}
	return out
}
