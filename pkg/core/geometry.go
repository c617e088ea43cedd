// pkg/core/geometry.go
package core

import (
	"fmt"
	"strings"
)

// GeometryKind is the shape of a measurement. It is fixed once the first
// point of a measurement arrives.
type GeometryKind int

const (
	KindUnknown GeometryKind = iota
	KindPoint
	KindLineString
	KindPolygon
)

// Unbounded is returned by MaxPoints for kinds without a vertex limit.
const Unbounded = -1

// MaxPoints is the maximum number of measurement points the kind can hold.
func (k GeometryKind) MaxPoints() int {
	switch k {
	case KindPoint:
		return 1
	case KindLineString, KindPolygon:
		return Unbounded
	default:
		return 0
	}
}

// ClosesRing reports whether emitted geometries repeat the first vertex as the last.
func (k GeometryKind) ClosesRing() bool {
	switch k {
	case KindPolygon:
		return true
	case KindPoint, KindLineString, KindUnknown:
		return false
	default:
		return false
	}
}

// Valid reports whether k is one of the concrete kinds.
func (k GeometryKind) Valid() bool {
	switch k {
	case KindPoint, KindLineString, KindPolygon:
		return true
	default:
		return false
	}
}

func (k GeometryKind) String() string {
	switch k {
	case KindPoint:
		return "point"
	case KindLineString:
		return "linestring"
	case KindPolygon:
		return "polygon"
	default:
		return "unknown"
	}
}

// ParseGeometryKind accepts the names produced by String, case-insensitively,
// plus the GeoJSON type names.
func ParseGeometryKind(s string) (GeometryKind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "point":
		return KindPoint, nil
	case "linestring", "line":
		return KindLineString, nil
	case "polygon":
		return KindPolygon, nil
	default:
		return KindUnknown, fmt.Errorf("unknown geometry kind %q", s)
	}
}

// TargetBinding ties a measurement to a persisted map feature.
type TargetBinding struct {
	Layer     string
	FeatureID int64
}

// IsZero reports whether the binding is unset.
func (t TargetBinding) IsZero() bool {
	return t.Layer == "" && t.FeatureID == 0
}

func (t TargetBinding) String() string {
	if t.IsZero() {
		return "<none>"
	}
	return fmt.Sprintf("%s/%d", t.Layer, t.FeatureID)
}
