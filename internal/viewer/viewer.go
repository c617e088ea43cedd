// Package viewer describes the panoramic viewer API consumed by the
// reconciliation engine.
package viewer

import (
	"context"
	"sync"

	"github.com/streetpano/measuresync/pkg/core"
)

// Viewer is the panoramic viewer side of a measurement.
type Viewer interface {
	// SetActiveMeasurement pushes the authoritative geometry and per-point
	// metadata to the viewer.
	SetActiveMeasurement(ctx context.Context, fc core.FeatureCollection) error
	// StartMeasurementMode asks the viewer to begin creating a measurement.
	StartMeasurementMode(ctx context.Context, kind core.GeometryKind) error
	// StopMeasurementMode leaves any creation mode.
	StopMeasurementMode(ctx context.Context) error
	// OpenImage shows imageID looking at the given coordinate (viewer SRS).
	OpenImage(ctx context.Context, imageID string, at core.Coordinate) error
}

// Call is one call recorded by Recording.
type Call struct {
	Method     string
	Collection core.FeatureCollection
	Kind       core.GeometryKind
	ImageID    string
	At         core.Coordinate
}

// Recording is a Viewer that remembers every call. An optional Echo hook
// lets a caller answer SetActiveMeasurement with a feature collection event,
// as a live viewer would.
type Recording struct {
	mu    sync.Mutex
	calls []Call

	Echo func(ctx context.Context, fc core.FeatureCollection)
	Err  error
}

func (r *Recording) record(c Call) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, c)
	return r.Err
}

func (r *Recording) SetActiveMeasurement(ctx context.Context, fc core.FeatureCollection) error {
	if err := r.record(Call{Method: "SetActiveMeasurement", Collection: fc}); err != nil {
		return err
	}
	if r.Echo != nil {
		r.Echo(ctx, fc)
	}
	return nil
}

func (r *Recording) StartMeasurementMode(ctx context.Context, kind core.GeometryKind) error {
	return r.record(Call{Method: "StartMeasurementMode", Kind: kind})
}

func (r *Recording) StopMeasurementMode(ctx context.Context) error {
	return r.record(Call{Method: "StopMeasurementMode"})
}

func (r *Recording) OpenImage(ctx context.Context, imageID string, at core.Coordinate) error {
	return r.record(Call{Method: "OpenImage", ImageID: imageID, At: at})
}

// Calls returns a copy of the recorded calls.
func (r *Recording) Calls() []Call {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Call(nil), r.calls...)
}

// Count returns how many times method was called.
func (r *Recording) Count(method string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, c := range r.calls {
		if c.Method == method {
			n++
		}
	}
	return n
}

// Last returns the most recent call to method.
func (r *Recording) Last(method string) (Call, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := len(r.calls) - 1; i >= 0; i-- {
		if r.calls[i].Method == method {
			return r.calls[i], true
		}
	}
	return Call{}, false
}
