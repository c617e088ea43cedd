// Package host describes the map application's sketch edit surface and
// provides an in-memory implementation of it.
package host

import (
	"context"

	geom "github.com/peterstace/simplefeatures/geom"
	"github.com/streetpano/measuresync/pkg/core"
)

// Sketch is the host's in-progress edit geometry.
type Sketch interface {
	// Geometry returns the current sketch geometry.
	Geometry(ctx context.Context) (geom.Geometry, error)
	// SetGeometry replaces the sketch geometry. The resulting geometry-changed
	// event carries origin so the writer can recognise its own echo.
	SetGeometry(ctx context.Context, g geom.Geometry, origin core.Origin) error
	// ClearSketch empties the sketch and leaves any exclusive edit mode.
	ClearSketch(ctx context.Context) error
}
