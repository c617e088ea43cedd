// pkg/core/sketch.go
package core

import geom "github.com/peterstace/simplefeatures/geom"

// Origin tags a sketch write so the resulting geometry-changed event can be
// told apart from a user edit.
type Origin int

const (
	OriginUser Origin = iota
	OriginRemote
)

func (o Origin) String() string {
	if o == OriginRemote {
		return "remote"
	}
	return "user"
}

// SketchEvent is a geometry-changed notification from the host edit surface.
type SketchEvent struct {
	Geometry geom.Geometry
	Origin   Origin
}
