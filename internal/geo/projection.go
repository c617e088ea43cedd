package geo

import (
	"errors"
	"fmt"
	"math"
	"sync"

	"github.com/streetpano/measuresync/pkg/core"
	"github.com/wroge/wgs84"
)

// ErrProjection is returned when a coordinate cannot be transformed
var ErrProjection = errors.New("projection failed")

// Projector moves coordinates between spatial references identified by EPSG code.
type Projector interface {
	Project(c core.Coordinate, fromSRS, toSRS int) (core.Coordinate, error)
}

type transformFunc func(a, b, c float64) (float64, float64, float64)

// EPSGProjector projects through the wgs84 EPSG repository. Transform
// functions are cached per SRS pair.
type EPSGProjector struct {
	mu    sync.Mutex
	funcs map[[2]int]transformFunc
}

// NewEPSGProjector creates a projector with an empty transform cache.
func NewEPSGProjector() *EPSGProjector {
	return &EPSGProjector{
		funcs: make(map[[2]int]transformFunc),
	}
}

// Project transforms c. Z passes through the transform only when present,
// so 2D coordinates stay 2D.
func (p *EPSGProjector) Project(c core.Coordinate, fromSRS, toSRS int) (core.Coordinate, error) {
	if fromSRS == toSRS || fromSRS == 0 || toSRS == 0 {
		return c, nil
	}

	f := p.transform(fromSRS, toSRS)
	x, y, z := f(c.X, c.Y, c.Z)
	if math.IsNaN(x) || math.IsNaN(y) || math.IsInf(x, 0) || math.IsInf(y, 0) {
		return c, fmt.Errorf("%w: %s from EPSG:%d to EPSG:%d", ErrProjection, c, fromSRS, toSRS)
	}

	out := core.Coordinate{X: x, Y: y, HasZ: c.HasZ}
	if c.HasZ {
		out.Z = z
	}
	return out, nil
}

func (p *EPSGProjector) transform(fromSRS, toSRS int) transformFunc {
	key := [2]int{fromSRS, toSRS}

	p.mu.Lock()
	defer p.mu.Unlock()
	if f, ok := p.funcs[key]; ok {
		return f
	}
	f := transformFunc(wgs84.EPSG().Transform(fromSRS, toSRS))
	p.funcs[key] = f
	return f
}

// ProjectAll projects every coordinate, stopping at the first failure.
func ProjectAll(p Projector, coords []core.Coordinate, fromSRS, toSRS int) ([]core.Coordinate, error) {
	out := make([]core.Coordinate, len(coords))
	for i, c := range coords {
		pc, err := p.Project(c, fromSRS, toSRS)
		if err != nil {
			return nil, err
		}
		out[i] = pc
	}
	return out, nil
}
