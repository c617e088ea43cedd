// pkg/core/record.go
package core

import (
	"errors"
	"time"
)

// ErrNotFound is returned when no measurement is stored for a target
var ErrNotFound = errors.New("measurement not found")

// PointRecord is the persisted form of a measurement point.
type PointRecord struct {
	Coordinate   *Coordinate
	Observations []ObservationDetail
}

// MeasurementRecord is a measurement written back to its target feature.
type MeasurementRecord struct {
	ID        uint
	Target    TargetBinding
	RemoteID  string
	Kind      GeometryKind
	SRS       int
	Points    []PointRecord
	UpdatedAt time.Time
}

// Coordinates returns the placed point coordinates in order.
func (r MeasurementRecord) Coordinates() []Coordinate {
	out := make([]Coordinate, 0, len(r.Points))
	for _, p := range r.Points {
		if p.Coordinate != nil {
			out = append(out, *p.Coordinate)
		}
	}
	return out
}

// Feature converts the record into a viewer feature in the record SRS.
func (r MeasurementRecord) Feature() RemoteFeature {
	f := RemoteFeature{
		MeasurementID: r.RemoteID,
		Kind:          r.Kind,
		SRS:           r.SRS,
		Points:        make([]RemotePoint, len(r.Points)),
	}
	for i, p := range r.Points {
		f.Points[i] = RemotePoint{Coordinate: p.Coordinate, Observations: p.Observations}
	}
	return f
}
