// pkg/core/feature.go
package core

import "gonum.org/v1/gonum/spatial/r3"

// ObservationDetail is one image's view of a measurement point as reported
// by the panoramic viewer.
type ObservationDetail struct {
	ImageID    string
	Coordinate Coordinate
	Direction  r3.Vec
	Thumbnail  string
}

// RemotePoint is one vertex of a viewer feature. Coordinate is nil until the
// viewer has enough observations to place the point.
type RemotePoint struct {
	Coordinate   *Coordinate
	Observations []ObservationDetail
}

// RemoteFeature is one measurement as the viewer sees it, in the viewer SRS.
type RemoteFeature struct {
	MeasurementID string
	Kind          GeometryKind
	SRS           int
	Points        []RemotePoint
}

// Coordinates returns the known coordinates in order, skipping points that
// have not been placed yet.
func (f RemoteFeature) Coordinates() []Coordinate {
	out := make([]Coordinate, 0, len(f.Points))
	for _, p := range f.Points {
		if p.Coordinate != nil {
			out = append(out, *p.Coordinate)
		}
	}
	return out
}

// FeatureCollection is the payload of a viewer feature-collection-changed event.
type FeatureCollection struct {
	Features []RemoteFeature
}

// Empty reports whether the viewer has no measurement at all.
func (fc FeatureCollection) Empty() bool {
	return len(fc.Features) == 0
}
