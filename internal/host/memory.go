package host

import (
	"context"
	"sync"

	geom "github.com/peterstace/simplefeatures/geom"
	"github.com/streetpano/measuresync/internal/queue"
	"github.com/streetpano/measuresync/pkg/core"
)

// Write is one recorded SetGeometry call.
type Write struct {
	Geometry geom.Geometry
	Origin   core.Origin
}

// MemorySketch is a Sketch held in memory. Change handlers run synchronously
// inside SetGeometry and Edit, the way a host fires its geometry-changed
// callback before returning to the writer.
type MemorySketch struct {
	mu       sync.Mutex
	geometry geom.Geometry
	editing  bool
	handlers []func(context.Context, core.SketchEvent)
	writes   *queue.Queue[Write]
	clears   int
}

// NewMemorySketch creates an empty sketch.
func NewMemorySketch() *MemorySketch {
	return &MemorySketch{
		writes: queue.New[Write](),
	}
}

// OnChange registers a geometry-changed handler.
func (s *MemorySketch) OnChange(h func(context.Context, core.SketchEvent)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handlers = append(s.handlers, h)
}

// Geometry returns the current sketch geometry.
func (s *MemorySketch) Geometry(ctx context.Context) (geom.Geometry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.geometry, nil
}

// SetGeometry stores g, records the write and fires the change handlers.
func (s *MemorySketch) SetGeometry(ctx context.Context, g geom.Geometry, origin core.Origin) error {
	s.mu.Lock()
	s.geometry = g
	s.editing = true
	s.writes.Push(Write{Geometry: g, Origin: origin})
	s.mu.Unlock()

	s.fire(ctx, core.SketchEvent{Geometry: g, Origin: origin})
	return nil
}

// Edit simulates a user edit of the sketch.
func (s *MemorySketch) Edit(ctx context.Context, g geom.Geometry) {
	s.mu.Lock()
	s.geometry = g
	s.editing = true
	s.mu.Unlock()

	s.fire(ctx, core.SketchEvent{Geometry: g, Origin: core.OriginUser})
}

// ClearSketch empties the sketch without firing a change event.
func (s *MemorySketch) ClearSketch(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.geometry = geom.Geometry{}
	s.editing = false
	s.clears++
	return nil
}

// Editing reports whether a sketch is in progress.
func (s *MemorySketch) Editing() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.editing
}

// Writes returns how many SetGeometry calls were made.
func (s *MemorySketch) Writes() int {
	return s.writes.Len()
}

// Clears returns how many times the sketch was cleared.
func (s *MemorySketch) Clears() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.clears
}

// DrainWrites returns the recorded writes in order and forgets them.
func (s *MemorySketch) DrainWrites() []Write {
	return s.writes.Drain()
}

func (s *MemorySketch) fire(ctx context.Context, ev core.SketchEvent) {
	s.mu.Lock()
	handlers := append([]func(context.Context, core.SketchEvent){}, s.handlers...)
	s.mu.Unlock()

	for _, h := range handlers {
		h(ctx, ev)
	}
}
