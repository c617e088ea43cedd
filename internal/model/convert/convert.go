// Package convert provides functions to convert between GORM models and core records
package convert

import (
	"encoding/json"
	"fmt"

	geom "github.com/peterstace/simplefeatures/geom"
	"github.com/streetpano/measuresync/internal/geo"
	"github.com/streetpano/measuresync/internal/model"
	"github.com/streetpano/measuresync/pkg/core"
	"gonum.org/v1/gonum/spatial/r3"
)

// MeasurementToGorm converts a core.MeasurementRecord to a GORM Measurement.
// The placed vertices are also stored as WKB for GIS consumers.
func MeasurementToGorm(rec core.MeasurementRecord) (model.Measurement, error) {
	points := make([]model.Point, len(rec.Points))
	for i, p := range rec.Points {
		if p.Coordinate != nil {
			c := coordinateToGorm(*p.Coordinate)
			points[i].Coordinate = &c
		}
		for _, o := range p.Observations {
			points[i].Observations = append(points[i].Observations, model.Observation{
				ImageID:    o.ImageID,
				Coordinate: coordinateToGorm(o.Coordinate),
				Direction:  [3]float64{o.Direction.X, o.Direction.Y, o.Direction.Z},
				Thumbnail:  o.Thumbnail,
			})
		}
	}
	raw, err := json.Marshal(points)
	if err != nil {
		return model.Measurement{}, fmt.Errorf("failed to marshal points: %w", err)
	}

	m := model.Measurement{
		Layer:     rec.Target.Layer,
		FeatureID: rec.Target.FeatureID,
		RemoteID:  rec.RemoteID,
		Kind:      rec.Kind.String(),
		SRS:       rec.SRS,
		Points:    raw,
	}
	m.ID = rec.ID

	if rec.Kind.Valid() {
		g, err := geo.FromCoordinates(rec.Kind, rec.Coordinates())
		if err != nil {
			return model.Measurement{}, err
		}
		m.Shape = g.AsBinary()
	}
	return m, nil
}

// MeasurementToCore converts a GORM Measurement to a core.MeasurementRecord.
func MeasurementToCore(m model.Measurement) (core.MeasurementRecord, error) {
	kind, err := core.ParseGeometryKind(m.Kind)
	if err != nil {
		return core.MeasurementRecord{}, err
	}

	var points []model.Point
	if len(m.Points) > 0 {
		if err := json.Unmarshal(m.Points, &points); err != nil {
			return core.MeasurementRecord{}, fmt.Errorf("failed to unmarshal points: %w", err)
		}
	}

	rec := core.MeasurementRecord{
		ID:        m.ID,
		Target:    core.TargetBinding{Layer: m.Layer, FeatureID: m.FeatureID},
		RemoteID:  m.RemoteID,
		Kind:      kind,
		SRS:       m.SRS,
		Points:    make([]core.PointRecord, len(points)),
		UpdatedAt: m.UpdatedAt,
	}
	for i, p := range points {
		if p.Coordinate != nil {
			c := coordinateToCore(*p.Coordinate)
			rec.Points[i].Coordinate = &c
		}
		for _, o := range p.Observations {
			rec.Points[i].Observations = append(rec.Points[i].Observations, core.ObservationDetail{
				ImageID:    o.ImageID,
				Coordinate: coordinateToCore(o.Coordinate),
				Direction:  r3.Vec{X: o.Direction[0], Y: o.Direction[1], Z: o.Direction[2]},
				Thumbnail:  o.Thumbnail,
			})
		}
	}
	return rec, nil
}

// Shape decodes the stored WKB geometry.
func Shape(m model.Measurement) (geom.Geometry, error) {
	if len(m.Shape) == 0 {
		return geom.Geometry{}, nil
	}
	return geom.UnmarshalWKB(m.Shape)
}

func coordinateToGorm(c core.Coordinate) model.Coordinate {
	out := model.Coordinate{X: c.X, Y: c.Y}
	if c.HasZ {
		z := c.Z
		out.Z = &z
	}
	return out
}

func coordinateToCore(c model.Coordinate) core.Coordinate {
	if c.Z == nil {
		return core.XY(c.X, c.Y)
	}
	return core.XYZ(c.X, c.Y, *c.Z)
}
