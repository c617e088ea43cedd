// pkg/core/coordinate.go
package core

import (
	"fmt"
	"math"
)

// DefaultTolerance is the X/Y distance in map units below which two
// coordinates are treated as the same vertex.
const DefaultTolerance = 0.01

// Coordinate is a vertex position. Z is only meaningful when HasZ is set.
type Coordinate struct {
	X    float64
	Y    float64
	Z    float64
	HasZ bool
}

// XY builds a 2D coordinate.
func XY(x, y float64) Coordinate {
	return Coordinate{X: x, Y: y}
}

// XYZ builds a 3D coordinate.
func XYZ(x, y, z float64) Coordinate {
	return Coordinate{X: x, Y: y, Z: z, HasZ: true}
}

// DistanceXY is the planar Euclidean distance to o.
func (c Coordinate) DistanceXY(o Coordinate) float64 {
	return math.Hypot(c.X-o.X, c.Y-o.Y)
}

// Near reports whether o is within tol of c in X/Y and, when includeZ is
// set and both sides carry a Z value, also in Z.
func (c Coordinate) Near(o Coordinate, tol float64, includeZ bool) bool {
	if c.DistanceXY(o) >= tol {
		return false
	}
	if includeZ && c.HasZ && o.HasZ {
		return math.Abs(c.Z-o.Z) < tol
	}
	return true
}

// Translate returns c moved by dz along the Z axis. A coordinate without Z
// gains one.
func (c Coordinate) Translate(dz float64) Coordinate {
	c.Z += dz
	c.HasZ = true
	return c
}

func (c Coordinate) String() string {
	if c.HasZ {
		return fmt.Sprintf("(%g %g %g)", c.X, c.Y, c.Z)
	}
	return fmt.Sprintf("(%g %g)", c.X, c.Y)
}

// CoordinatesNear compares two sequences pairwise with Near.
func CoordinatesNear(a, b []Coordinate, tol float64, includeZ bool) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if !a[i].Near(b[i], tol, includeZ) {
			return false
		}
	}
	return true
}
