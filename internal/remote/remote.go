// Package remote converts viewer feature collections between GeoJSON and
// the core model.
//
// A measurement is one GeoJSON feature. The feature id is the viewer's
// measurement id, the geometry holds the placed vertices in the viewer SRS and
// the properties carry what GeoJSON cannot: the kind, the SRS, per point
// heights and observations, and which points are not placed yet.
//
//	{"type":"Feature","id":"m-1",
//	 "geometry":{"type":"LineString","coordinates":[[4.1,52.3],[4.2,52.3]]},
//	 "properties":{"kind":"linestring","srs":4326,"points":[
//	   {"placed":true,"z":1.2,"observations":[{"imageId":"a","coordinate":[4.1,52.3,1.2],"direction":[0,1,0]}]},
//	   {"placed":false},
//	   {"placed":true}]}}
package remote

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
	"github.com/streetpano/measuresync/internal/geo"
	"github.com/streetpano/measuresync/pkg/core"
	"gonum.org/v1/gonum/spatial/r3"
)

var (
	// ErrUnsupportedGeometry is returned for GeoJSON geometries a measurement cannot hold
	ErrUnsupportedGeometry = errors.New("unsupported geometry")
	// ErrMalformed is returned when geometry and point properties disagree
	ErrMalformed = errors.New("malformed feature")
)

type pointProps struct {
	Placed       bool               `json:"placed"`
	Z            *float64           `json:"z,omitempty"`
	Observations []observationProps `json:"observations,omitempty"`
}

type observationProps struct {
	ImageID    string     `json:"imageId"`
	Coordinate []float64  `json:"coordinate"`
	Direction  [3]float64 `json:"direction"`
	Thumbnail  string     `json:"thumbnail,omitempty"`
}

// Decode parses a GeoJSON FeatureCollection.
func Decode(data []byte) (core.FeatureCollection, error) {
	fc, err := geojson.UnmarshalFeatureCollection(data)
	if err != nil {
		return core.FeatureCollection{}, fmt.Errorf("failed to parse feature collection: %w", err)
	}
	return FromGeoJSON(fc)
}

// Encode renders fc as a GeoJSON FeatureCollection.
func Encode(fc core.FeatureCollection) ([]byte, error) {
	return ToGeoJSON(fc).MarshalJSON()
}

// FromGeoJSON converts every feature of fc. Polygon rings lose their closing vertex.
func FromGeoJSON(fc *geojson.FeatureCollection) (core.FeatureCollection, error) {
	out := core.FeatureCollection{Features: make([]core.RemoteFeature, 0, len(fc.Features))}
	for i, f := range fc.Features {
		rf, err := FeatureFromGeoJSON(f)
		if err != nil {
			return core.FeatureCollection{}, fmt.Errorf("feature %d: %w", i, err)
		}
		out.Features = append(out.Features, rf)
	}
	return out, nil
}

// FeatureFromGeoJSON converts one feature.
func FeatureFromGeoJSON(f *geojson.Feature) (core.RemoteFeature, error) {
	kind, coords, err := geometryCoordinates(f.Geometry)
	if err != nil {
		return core.RemoteFeature{}, err
	}
	if k := f.Properties.MustString("kind", ""); k != "" {
		parsed, err := core.ParseGeometryKind(k)
		if err != nil {
			return core.RemoteFeature{}, err
		}
		if kind.Valid() && parsed != kind {
			return core.RemoteFeature{}, fmt.Errorf("%w: kind %s but geometry %s", ErrMalformed, parsed, kind)
		}
		kind = parsed
	}

	rf := core.RemoteFeature{
		MeasurementID: featureID(f),
		Kind:          kind,
		SRS:           f.Properties.MustInt("srs", 0),
	}

	props, err := pointProperties(f.Properties)
	if err != nil {
		return core.RemoteFeature{}, err
	}
	if props == nil {
		for _, c := range coords {
			rf.Points = append(rf.Points, core.RemotePoint{Coordinate: &c})
		}
		return rf, nil
	}

	next := 0
	for _, pp := range props {
		rp := core.RemotePoint{}
		if pp.Placed {
			if next >= len(coords) {
				return core.RemoteFeature{}, fmt.Errorf("%w: %d placed points, %d coordinates", ErrMalformed, next+1, len(coords))
			}
			c := coords[next]
			next++
			if pp.Z != nil {
				c = core.XYZ(c.X, c.Y, *pp.Z)
			}
			rp.Coordinate = &c
		}
		for _, op := range pp.Observations {
			d, err := observationDetail(op)
			if err != nil {
				return core.RemoteFeature{}, err
			}
			rp.Observations = append(rp.Observations, d)
		}
		rf.Points = append(rf.Points, rp)
	}
	if next != len(coords) {
		return core.RemoteFeature{}, fmt.Errorf("%w: %d placed points, %d coordinates", ErrMalformed, next, len(coords))
	}
	return rf, nil
}

// ToGeoJSON converts fc. Features without placed points get a null
// geometry. Decode accepts both null and an empty GeometryCollection.
func ToGeoJSON(fc core.FeatureCollection) *geojson.FeatureCollection {
	out := geojson.NewFeatureCollection()
	for _, f := range fc.Features {
		out.Append(FeatureToGeoJSON(f))
	}
	return out
}

// FeatureToGeoJSON converts one feature.
func FeatureToGeoJSON(f core.RemoteFeature) *geojson.Feature {
	coords := f.Coordinates()
	gf := geojson.NewFeature(orbGeometry(f.Kind, coords))
	if f.MeasurementID != "" {
		gf.ID = f.MeasurementID
	}
	gf.Properties["kind"] = f.Kind.String()
	if f.SRS != 0 {
		gf.Properties["srs"] = f.SRS
	}

	points := make([]pointProps, len(f.Points))
	for i, p := range f.Points {
		pp := pointProps{Placed: p.Coordinate != nil}
		if p.Coordinate != nil && p.Coordinate.HasZ {
			z := p.Coordinate.Z
			pp.Z = &z
		}
		for _, d := range p.Observations {
			pp.Observations = append(pp.Observations, observationProperties(d))
		}
		points[i] = pp
	}
	gf.Properties["points"] = points
	return gf
}

func orbGeometry(kind core.GeometryKind, coords []core.Coordinate) orb.Geometry {
	if len(coords) == 0 {
		return nil
	}
	switch kind {
	case core.KindPoint:
		return orb.Point{coords[0].X, coords[0].Y}
	case core.KindPolygon:
		ring := make(orb.Ring, 0, len(coords)+1)
		for _, c := range geo.CloseRing(coords) {
			ring = append(ring, orb.Point{c.X, c.Y})
		}
		return orb.Polygon{ring}
	default:
		ls := make(orb.LineString, 0, len(coords))
		for _, c := range coords {
			ls = append(ls, orb.Point{c.X, c.Y})
		}
		return ls
	}
}

func geometryCoordinates(g orb.Geometry) (core.GeometryKind, []core.Coordinate, error) {
	switch g := g.(type) {
	case nil:
		return core.KindUnknown, nil, nil
	case orb.Collection:
		if len(g) > 0 {
			return core.KindUnknown, nil, fmt.Errorf("%w: non-empty GeometryCollection", ErrUnsupportedGeometry)
		}
		return core.KindUnknown, nil, nil
	case orb.Point:
		return core.KindPoint, []core.Coordinate{core.XY(g[0], g[1])}, nil
	case orb.LineString:
		return core.KindLineString, pointsToCoordinates(g), nil
	case orb.Polygon:
		if len(g) == 0 {
			return core.KindPolygon, nil, nil
		}
		return core.KindPolygon, geo.OpenRing(pointsToCoordinates(g[0]), core.DefaultTolerance), nil
	default:
		return core.KindUnknown, nil, fmt.Errorf("%w: %s", ErrUnsupportedGeometry, g.GeoJSONType())
	}
}

func pointsToCoordinates(pts []orb.Point) []core.Coordinate {
	out := make([]core.Coordinate, len(pts))
	for i, p := range pts {
		out[i] = core.XY(p[0], p[1])
	}
	return out
}

func featureID(f *geojson.Feature) string {
	switch id := f.ID.(type) {
	case nil:
		return f.Properties.MustString("measurementId", "")
	case string:
		return id
	case float64:
		return fmt.Sprintf("%.0f", id)
	default:
		return fmt.Sprint(id)
	}
}

// pointProperties reads the "points" property. Decoded GeoJSON holds it as
// generic maps, so it goes through JSON once more.
func pointProperties(p geojson.Properties) ([]pointProps, error) {
	raw, ok := p["points"]
	if !ok || raw == nil {
		return nil, nil
	}
	if pts, ok := raw.([]pointProps); ok {
		return pts, nil
	}
	data, err := json.Marshal(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: points: %v", ErrMalformed, err)
	}
	var out []pointProps
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("%w: points: %v", ErrMalformed, err)
	}
	return out, nil
}

func observationDetail(op observationProps) (core.ObservationDetail, error) {
	d := core.ObservationDetail{
		ImageID:   op.ImageID,
		Direction: r3.Vec{X: op.Direction[0], Y: op.Direction[1], Z: op.Direction[2]},
		Thumbnail: op.Thumbnail,
	}
	switch len(op.Coordinate) {
	case 0:
	case 2:
		d.Coordinate = core.XY(op.Coordinate[0], op.Coordinate[1])
	case 3:
		d.Coordinate = core.XYZ(op.Coordinate[0], op.Coordinate[1], op.Coordinate[2])
	default:
		return d, fmt.Errorf("%w: observation %s has %d coordinate values", ErrMalformed, op.ImageID, len(op.Coordinate))
	}
	if d.ImageID == "" {
		return d, fmt.Errorf("%w: observation without image id", ErrMalformed)
	}
	return d, nil
}

func observationProperties(d core.ObservationDetail) observationProps {
	op := observationProps{
		ImageID:    d.ImageID,
		Coordinate: []float64{d.Coordinate.X, d.Coordinate.Y},
		Direction:  [3]float64{d.Direction.X, d.Direction.Y, d.Direction.Z},
		Thumbnail:  d.Thumbnail,
	}
	if d.Coordinate.HasZ {
		op.Coordinate = append(op.Coordinate, d.Coordinate.Z)
	}
	return op
}
