package measurement

import (
	"context"

	"github.com/streetpano/measuresync/internal/viewer"
	"github.com/streetpano/measuresync/pkg/core"
	"gonum.org/v1/gonum/spatial/r3"
)

// Observation is one panoramic image's view of a measurement point.
type Observation struct {
	imageID    string
	coordinate core.Coordinate // map SRS
	direction  r3.Vec
	thumbnail  string
	source     core.ObservationDetail // as the viewer reported it
	viewer     viewer.Viewer
	disposed   bool
}

func newObservation(detail core.ObservationDetail, mapCoordinate core.Coordinate) *Observation {
	o := &Observation{imageID: detail.ImageID}
	o.Update(detail, mapCoordinate)
	return o
}

// ImageID identifies the source image. It is the observation key inside a point.
func (o *Observation) ImageID() string { return o.imageID }

// Coordinate is the observed position in the map SRS.
func (o *Observation) Coordinate() core.Coordinate { return o.coordinate }

// Direction is the viewing direction from the image towards the point.
func (o *Observation) Direction() r3.Vec { return o.direction }

// Thumbnail is the match reference shown next to the observation.
func (o *Observation) Thumbnail() string { return o.thumbnail }

// Detail returns the observation in the form the viewer reported it.
func (o *Observation) Detail() core.ObservationDetail { return o.source }

// Bound reports whether an image viewer is currently showing this observation.
func (o *Observation) Bound() bool { return o.viewer != nil }

// Update replaces the observation data and reports whether anything changed.
func (o *Observation) Update(detail core.ObservationDetail, mapCoordinate core.Coordinate) bool {
	if o.disposed {
		return false
	}
	changed := o.coordinate != mapCoordinate ||
		o.direction != detail.Direction ||
		o.thumbnail != detail.Thumbnail
	o.coordinate = mapCoordinate
	o.direction = detail.Direction
	o.thumbnail = detail.Thumbnail
	o.source = detail
	return changed
}

// IndicatorEnd returns the far end of the line drawn from the observed
// position along the viewing direction. Without a direction the indicator
// collapses onto the coordinate.
func (o *Observation) IndicatorEnd(length float64) core.Coordinate {
	if r3.Norm(o.direction) == 0 {
		return o.coordinate
	}
	step := r3.Scale(length, r3.Unit(o.direction))
	end := r3.Add(r3.Vec{X: o.coordinate.X, Y: o.coordinate.Y, Z: o.coordinate.Z}, step)
	return core.Coordinate{X: end.X, Y: end.Y, Z: end.Z, HasZ: o.coordinate.HasZ}
}

func (o *Observation) bind(ctx context.Context, v viewer.Viewer, at core.Coordinate) error {
	if err := v.OpenImage(ctx, o.imageID, at); err != nil {
		return err
	}
	o.viewer = v
	return nil
}

// Dispose releases the viewer binding. Calling it again has no effect.
func (o *Observation) Dispose() {
	if o.disposed {
		return
	}
	o.disposed = true
	o.viewer = nil
}

// IsDisposed reports whether Dispose was called.
func (o *Observation) IsDisposed() bool { return o.disposed }
