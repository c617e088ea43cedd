package geo

import (
	"errors"
	"fmt"

	"github.com/streetpano/measuresync/pkg/core"
	geom "github.com/peterstace/simplefeatures/geom"
)

// SKETCH GEOMETRY
// The host edit surface speaks simplefeatures geometries. Measurements speak
// ordered coordinate lists. Polygons are handled as their exterior ring only,
// and the closing vertex is stripped on the way in and re-added on the way out.

// ErrUnsupportedGeometry is returned for geometry types a measurement cannot hold
var ErrUnsupportedGeometry = errors.New("unsupported geometry type")

// KindOf maps a simplefeatures geometry type to a measurement kind.
func KindOf(g geom.Geometry) core.GeometryKind {
	switch g.Type() {
	case geom.TypePoint:
		return core.KindPoint
	case geom.TypeLineString:
		return core.KindLineString
	case geom.TypePolygon:
		return core.KindPolygon
	default:
		return core.KindUnknown
	}
}

// ToCoordinates flattens a sketch geometry into its vertex list. An empty
// geometry of a supported type yields no coordinates and no error.
func ToCoordinates(g geom.Geometry, tol float64) (core.GeometryKind, []core.Coordinate, error) {
	kind := KindOf(g)
	switch kind {
	case core.KindPoint:
		c, ok := g.MustAsPoint().Coordinates()
		if !ok {
			return kind, nil, nil
		}
		return kind, []core.Coordinate{fromGeom(c)}, nil
	case core.KindLineString:
		return kind, sequenceToCoordinates(g.MustAsLineString().Coordinates()), nil
	case core.KindPolygon:
		poly := g.MustAsPolygon()
		if poly.IsEmpty() {
			return kind, nil, nil
		}
		ring := sequenceToCoordinates(poly.ExteriorRing().Coordinates())
		return kind, OpenRing(ring, tol), nil
	default:
		if g.IsEmpty() {
			return core.KindUnknown, nil, nil
		}
		return core.KindUnknown, nil, fmt.Errorf("%w: %s", ErrUnsupportedGeometry, g.Type())
	}
}

// FromCoordinates builds the sketch geometry for a measurement. Z is kept
// only when every vertex has one.
func FromCoordinates(kind core.GeometryKind, coords []core.Coordinate) (geom.Geometry, error) {
	ct := geom.DimXY
	if len(coords) > 0 && allHaveZ(coords) {
		ct = geom.DimXYZ
	}

	switch kind {
	case core.KindPoint:
		if len(coords) == 0 {
			return geom.NewEmptyPoint(ct).AsGeometry(), nil
		}
		return geom.NewPoint(toGeom(coords[0], ct)).AsGeometry(), nil
	case core.KindLineString:
		return geom.NewLineString(toSequence(coords, ct)).AsGeometry(), nil
	case core.KindPolygon:
		if len(coords) == 0 {
			return geom.Polygon{}.AsGeometry(), nil
		}
		ring := geom.NewLineString(toSequence(CloseRing(coords), ct))
		return geom.NewPolygon([]geom.LineString{ring}).AsGeometry(), nil
	default:
		return geom.Geometry{}, fmt.Errorf("%w: %s", ErrUnsupportedGeometry, kind)
	}
}

// OpenRing drops the closing vertex of a ring if it repeats the first one.
func OpenRing(coords []core.Coordinate, tol float64) []core.Coordinate {
	n := len(coords)
	if n > 1 && coords[0].Near(coords[n-1], tol, false) {
		return coords[:n-1]
	}
	return coords
}

// CloseRing appends a copy of the first vertex unless the ring is already closed.
func CloseRing(coords []core.Coordinate) []core.Coordinate {
	n := len(coords)
	if n == 0 {
		return coords
	}
	if n > 1 && coords[0] == coords[n-1] {
		return coords
	}
	out := make([]core.Coordinate, n, n+1)
	copy(out, coords)
	return append(out, coords[0])
}

func allHaveZ(coords []core.Coordinate) bool {
	for _, c := range coords {
		if !c.HasZ {
			return false
		}
	}
	return true
}

func sequenceToCoordinates(seq geom.Sequence) []core.Coordinate {
	out := make([]core.Coordinate, seq.Length())
	for i := range out {
		out[i] = fromGeom(seq.Get(i))
	}
	return out
}

func toSequence(coords []core.Coordinate, ct geom.CoordinatesType) geom.Sequence {
	stride := 2
	if ct == geom.DimXYZ {
		stride = 3
	}
	flat := make([]float64, 0, len(coords)*stride)
	for _, c := range coords {
		flat = append(flat, c.X, c.Y)
		if stride == 3 {
			flat = append(flat, c.Z)
		}
	}
	return geom.NewSequence(flat, ct)
}

func fromGeom(c geom.Coordinates) core.Coordinate {
	return core.Coordinate{
		X:    c.X,
		Y:    c.Y,
		Z:    c.Z,
		HasZ: c.Type.Is3D(),
	}
}

func toGeom(c core.Coordinate, ct geom.CoordinatesType) geom.Coordinates {
	return geom.Coordinates{
		XY:   geom.XY{X: c.X, Y: c.Y},
		Z:    c.Z,
		Type: ct,
	}
}
