package measurement

import (
	"github.com/streetpano/measuresync/pkg/core"
)

// Point is one vertex of a measurement. Its id survives reordering; its
// index is recomputed whenever the owning measurement changes shape.
type Point struct {
	id        int
	index     int
	coord     *core.Coordinate
	prev      *core.Coordinate
	open      bool
	tolerance float64

	observations []*Observation
	byImage      map[string]*Observation

	updating bool
	disposed bool
	onChange func(*Point)
}

func newPoint(id, index int, tolerance float64, onChange func(*Point)) *Point {
	return &Point{
		id:        id,
		index:     index,
		tolerance: tolerance,
		byImage:   make(map[string]*Observation),
		onChange:  onChange,
	}
}

// ID is stable for the lifetime of the point.
func (p *Point) ID() int { return p.id }

// Index is the current vertex position inside the measurement.
func (p *Point) Index() int { return p.index }

// Coordinate returns the map coordinate, or false if the point has not been placed.
func (p *Point) Coordinate() (core.Coordinate, bool) {
	if p.coord == nil {
		return core.Coordinate{}, false
	}
	return *p.coord, true
}

// PreviousCoordinate returns the coordinate held before the last change.
func (p *Point) PreviousCoordinate() (core.Coordinate, bool) {
	if p.prev == nil {
		return core.Coordinate{}, false
	}
	return *p.prev, true
}

// Update sets the coordinate and index. A nil coordinate leaves the point
// unplaced. Updates triggered from inside the change notification are
// dropped. It reports whether anything changed.
func (p *Point) Update(c *core.Coordinate, index int) bool {
	if p.updating || p.disposed {
		return false
	}
	p.updating = true
	defer func() { p.updating = false }()

	changed := false
	if !sameCoordinate(p.coord, c) {
		if p.coord != nil {
			old := *p.coord
			p.prev = &old
		}
		if c != nil {
			v := *c
			p.coord = &v
		} else {
			p.coord = nil
		}
		changed = true
	}
	if p.index != index {
		p.index = index
		changed = true
	}

	if changed && p.onChange != nil {
		p.onChange(p)
	}
	return changed
}

func sameCoordinate(a, b *core.Coordinate) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

// IsSameAs reports whether c is within tolerance of the point in X/Y and,
// when includeZ is set and both carry Z, in Z. An unplaced point matches nothing.
func (p *Point) IsSameAs(c core.Coordinate, includeZ bool) bool {
	if p.coord == nil {
		return false
	}
	return p.coord.Near(c, p.tolerance, includeZ)
}

// IsCreated is false for a point without coordinate and without
// observations. Such a point must not be rendered.
func (p *Point) IsCreated() bool {
	return p.coord != nil || len(p.observations) > 0
}

// AddOrUpdateObservation upserts the observation for detail.ImageID and
// reports whether anything changed.
func (p *Point) AddOrUpdateObservation(detail core.ObservationDetail, mapCoordinate core.Coordinate) bool {
	if p.disposed {
		return false
	}
	if o, ok := p.byImage[detail.ImageID]; ok {
		return o.Update(detail, mapCoordinate)
	}
	o := newObservation(detail, mapCoordinate)
	p.observations = append(p.observations, o)
	p.byImage[detail.ImageID] = o
	return true
}

// RemoveObservationsNotIn disposes every observation whose image id is not
// in keep and returns how many were removed.
func (p *Point) RemoveObservationsNotIn(keep map[string]struct{}) int {
	kept := p.observations[:0]
	removed := 0
	for _, o := range p.observations {
		if _, ok := keep[o.imageID]; ok {
			kept = append(kept, o)
			continue
		}
		o.Dispose()
		delete(p.byImage, o.imageID)
		removed++
	}
	for i := len(kept); i < len(p.observations); i++ {
		p.observations[i] = nil
	}
	p.observations = kept
	return removed
}

// RemoveObservation disposes the observation for imageID.
func (p *Point) RemoveObservation(imageID string) bool {
	if _, ok := p.byImage[imageID]; !ok {
		return false
	}
	keep := make(map[string]struct{}, len(p.byImage))
	for id := range p.byImage {
		if id != imageID {
			keep[id] = struct{}{}
		}
	}
	return p.RemoveObservationsNotIn(keep) == 1
}

// Observation returns the observation for imageID.
func (p *Point) Observation(imageID string) (*Observation, bool) {
	o, ok := p.byImage[imageID]
	return o, ok
}

// Observations returns the observations in arrival order.
func (p *Point) Observations() []*Observation {
	return append([]*Observation(nil), p.observations...)
}

func (p *Point) sharesObservation(details []core.ObservationDetail) bool {
	for _, d := range details {
		if _, ok := p.byImage[d.ImageID]; ok {
			return true
		}
	}
	return false
}

func (p *Point) details() []core.ObservationDetail {
	out := make([]core.ObservationDetail, len(p.observations))
	for i, o := range p.observations {
		out[i] = o.source
	}
	return out
}

// Open marks the point as the one being edited in the GUI.
func (p *Point) Open() { p.open = true }

// Close clears the editing mark.
func (p *Point) Close() { p.open = false }

// IsOpen reports whether the point is being edited.
func (p *Point) IsOpen() bool { return p.open }

// Dispose releases every observation. Calling it again has no effect.
func (p *Point) Dispose() {
	if p.disposed {
		return
	}
	p.disposed = true
	for _, o := range p.observations {
		o.Dispose()
	}
	p.observations = nil
	p.byImage = map[string]*Observation{}
	p.onChange = nil
	p.open = false
}

// IsDisposed reports whether Dispose was called.
func (p *Point) IsDisposed() bool { return p.disposed }
