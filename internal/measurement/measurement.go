// Package measurement keeps a panoramic viewer measurement and the host's
// sketch geometry in agreement while both are being edited.
package measurement

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"

	"github.com/google/uuid"
	geom "github.com/peterstace/simplefeatures/geom"
	"github.com/streetpano/measuresync/internal/config"
	"github.com/streetpano/measuresync/internal/geo"
	"github.com/streetpano/measuresync/internal/heights"
	"github.com/streetpano/measuresync/internal/host"
	"github.com/streetpano/measuresync/internal/telemetry"
	"github.com/streetpano/measuresync/internal/viewer"
	"github.com/streetpano/measuresync/pkg/core"
)

var (
	// ErrStructuralMismatch is returned when a side reports a geometry kind
	// different from the measurement's. The measurement is disposed.
	ErrStructuralMismatch = errors.New("geometry kind changed")
	// ErrDisposed is returned by operations on a disposed measurement
	ErrDisposed = errors.New("measurement disposed")
	// ErrPointLimit is returned when a point kind measurement already has its point
	ErrPointLimit = errors.New("point limit reached")
	// ErrNoSuchPoint is returned for an index outside the measurement
	ErrNoSuchPoint = errors.New("no such point")
	// ErrNoSuchObservation is returned for an unknown image id
	ErrNoSuchObservation = errors.New("no such observation")
	// ErrNoViewer is returned when an operation needs the viewer and none is connected
	ErrNoViewer = errors.New("no viewer connected")
)

// Dependencies are the collaborators a measurement talks to.
type Dependencies struct {
	Sketch    host.Sketch
	Viewer    viewer.Viewer
	Projector geo.Projector
	Heights   heights.Service
	Recorder  telemetry.Recorder
	Logger    *slog.Logger
	Config    config.SyncConfig
	// LocalPending reports user sketch edits that reached the host but were
	// not reconciled yet, e.g. because they wait on a queue. Nil means edits
	// are delivered synchronously.
	LocalPending func() bool
}

func (d Dependencies) withDefaults() Dependencies {
	if d.Projector == nil {
		d.Projector = geo.NewEPSGProjector()
	}
	if d.Heights == nil {
		d.Heights = heights.None{}
	}
	if d.Recorder == nil {
		d.Recorder = telemetry.Nop{}
	}
	if d.Logger == nil {
		d.Logger = slog.Default()
	}
	if d.Config.Tolerance <= 0 {
		d.Config.Tolerance = core.DefaultTolerance
	}
	return d
}

// Listener is told about model changes. Calls happen on the goroutine that
// drives the measurement.
type Listener interface {
	PointChanged(m *Measurement, p *Point)
	PointRemoved(m *Measurement, p *Point)
	Disposed(m *Measurement)
}

type state int

const (
	stateIdle state = iota
	stateReconciling
)

func (s state) String() string {
	if s == stateReconciling {
		return "reconciling"
	}
	return "idle"
}

// maxDrain bounds how many deferred passes run back to back after a pass.
const maxDrain = 8

// pushRecord remembers the last geometry sent to the viewer until the viewer
// reports it back. superseded holds the states the viewer may still report
// before it applies the push: the model before the local edit and earlier
// unconfirmed pushes.
type pushRecord struct {
	coords     []*core.Coordinate // map SRS, per point
	superseded [][]*core.Coordinate
	staleSeen  int
}

// Measurement is one geometry edited from both the viewer and the map sketch.
type Measurement struct {
	key      string
	remoteID string
	kind     core.GeometryKind
	target   core.TargetBinding

	points      []*Point
	nextPointID int
	current     int

	state         state
	dirty         bool
	pendingRemote *core.RemoteFeature
	awaiting      *pushRecord
	open          bool
	disposed      bool

	deps      Dependencies
	log       *slog.Logger
	listeners []Listener
}

// New creates an empty measurement. kind may be KindUnknown, in which case
// the first reconciliation fixes it.
func New(deps Dependencies, kind core.GeometryKind, target core.TargetBinding) *Measurement {
	deps = deps.withDefaults()
	key := uuid.NewString()
	return &Measurement{
		key:     key,
		kind:    kind,
		target:  target,
		current: -1,
		deps:    deps,
		log:     deps.Logger.With("measurement", key),
	}
}

// FromRecord rebuilds a persisted measurement. Observation coordinates are
// projected from the record's viewer data into the map SRS.
func FromRecord(deps Dependencies, rec core.MeasurementRecord) *Measurement {
	m := New(deps, rec.Kind, rec.Target)
	m.remoteID = rec.RemoteID
	for i, pr := range rec.Points {
		p := m.newPoint(i)
		var c *core.Coordinate
		if pr.Coordinate != nil {
			pc, err := m.deps.Projector.Project(*pr.Coordinate, rec.SRS, m.deps.Config.MapSRS)
			if err != nil {
				m.log.Warn("Failed to project stored point", "index", i, "error", err)
			} else {
				c = &pc
			}
		}
		p.Update(c, i)
		m.refreshObservations(p, pr.Observations, m.deps.Config.ViewerSRS)
		m.points = append(m.points, p)
	}
	return m
}

// AddListener registers l for change notifications.
func (m *Measurement) AddListener(l Listener) {
	m.listeners = append(m.listeners, l)
}

// Key is the local surrogate key.
func (m *Measurement) Key() string { return m.key }

// RemoteID is the viewer's id, empty until the viewer has reported the measurement.
func (m *Measurement) RemoteID() string { return m.remoteID }

// Kind is the geometry kind, KindUnknown until the first point arrives.
func (m *Measurement) Kind() core.GeometryKind { return m.kind }

// Target is the persisted feature binding, if any.
func (m *Measurement) Target() core.TargetBinding { return m.target }

// SetTarget binds the measurement to a persisted feature.
func (m *Measurement) SetTarget(t core.TargetBinding) { m.target = t }

// IsOpen reports whether the measurement owns the host sketch.
func (m *Measurement) IsOpen() bool { return m.open }

// IsDisposed reports whether Dispose was called.
func (m *Measurement) IsDisposed() bool { return m.disposed }

// Reconciling reports whether a reconciliation pass is running.
func (m *Measurement) Reconciling() bool { return m.state == stateReconciling }

// Dirty reports whether a local edit is waiting for the running pass.
func (m *Measurement) Dirty() bool { return m.dirty }

// Len returns the number of points, placed or not.
func (m *Measurement) Len() int { return len(m.points) }

// Points returns the points in index order.
func (m *Measurement) Points() []*Point {
	return append([]*Point(nil), m.points...)
}

// Point returns the point at index.
func (m *Measurement) Point(index int) (*Point, bool) {
	if index < 0 || index >= len(m.points) {
		return nil, false
	}
	return m.points[index], true
}

// Coordinates returns the coordinates of placed points in index order.
func (m *Measurement) Coordinates() []core.Coordinate {
	out := make([]core.Coordinate, 0, len(m.points))
	for _, p := range m.points {
		if p.coord != nil {
			out = append(out, *p.coord)
		}
	}
	return out
}

// Open gives the measurement the host sketch. A measurement that already
// has placed points writes them to the sketch.
func (m *Measurement) Open(ctx context.Context) error {
	if m.disposed {
		return ErrDisposed
	}
	m.open = true
	coords := m.Coordinates()
	if len(coords) == 0 || !m.kind.Valid() {
		return nil
	}
	return m.writeSketch(ctx, coords)
}

// Close releases the host sketch. A point measurement without a target only
// exists while being placed and is disposed.
func (m *Measurement) Close() {
	if m.disposed {
		return
	}
	m.open = false
	for _, p := range m.points {
		p.Close()
	}
	m.current = -1
	if m.kind == core.KindPoint && m.target.IsZero() {
		m.Dispose()
	}
}

// AddPoint inserts an unplaced point at index and renumbers the rest.
func (m *Measurement) AddPoint(index int) (*Point, error) {
	if m.disposed {
		return nil, ErrDisposed
	}
	if limit := m.kind.MaxPoints(); limit != core.Unbounded && len(m.points) >= limit && m.kind.Valid() {
		return nil, ErrPointLimit
	}
	index = max(0, min(index, len(m.points)))
	p := m.newPoint(index)
	m.points = append(m.points, nil)
	copy(m.points[index+1:], m.points[index:])
	m.points[index] = p
	m.renumber()
	return p, nil
}

// RemovePoint disposes the point at index and renumbers the rest.
func (m *Measurement) RemovePoint(index int) error {
	if m.disposed {
		return ErrDisposed
	}
	if index < 0 || index >= len(m.points) {
		return fmt.Errorf("%w: %d", ErrNoSuchPoint, index)
	}
	p := m.points[index]
	m.points = append(m.points[:index], m.points[index+1:]...)
	m.disposePoint(p)
	m.renumber()
	return nil
}

func (m *Measurement) newPoint(index int) *Point {
	id := m.nextPointID
	m.nextPointID++
	return newPoint(id, index, m.deps.Config.Tolerance, m.pointChanged)
}

func (m *Measurement) pointChanged(p *Point) {
	for _, l := range m.listeners {
		l.PointChanged(m, p)
	}
}

func (m *Measurement) disposePoint(p *Point) {
	if p.open {
		m.current = -1
	}
	p.Dispose()
	for _, l := range m.listeners {
		l.PointRemoved(m, p)
	}
}

func (m *Measurement) renumber() {
	for i, p := range m.points {
		p.Update(p.coord, i)
	}
	if m.current >= len(m.points) {
		m.current = -1
	}
}

// ToCoordinateList flattens a host geometry into map coordinates. Vertices
// without a usable Z get the terrain height plus the target layer's offset.
func (m *Measurement) ToCoordinateList(ctx context.Context, g geom.Geometry) (core.GeometryKind, []core.Coordinate, error) {
	kind, coords, err := geo.ToCoordinates(g, m.deps.Config.Tolerance)
	if err != nil {
		return kind, nil, err
	}
	for i := range coords {
		coords[i] = m.addElevationOffset(ctx, coords[i])
	}
	return kind, coords, nil
}

func (m *Measurement) addElevationOffset(ctx context.Context, c core.Coordinate) core.Coordinate {
	if c.HasZ && math.Abs(c.Z) >= m.deps.Config.ElevationEpsilon {
		return c
	}
	h, ok, err := m.deps.Heights.ElevationAt(ctx, c.X, c.Y)
	if err != nil {
		m.log.Debug("Elevation lookup failed", "at", c.String(), "error", err)
		return c
	}
	if !ok {
		return c
	}
	c.Z = h
	c.HasZ = true
	return c.Translate(m.deps.Config.ZOffset(m.target.Layer))
}

// OpenPoint marks the point at index as the one being edited.
func (m *Measurement) OpenPoint(index int) (*Point, error) {
	p, ok := m.Point(index)
	if !ok {
		return nil, fmt.Errorf("%w: %d", ErrNoSuchPoint, index)
	}
	if cur, ok := m.Point(m.current); ok {
		cur.Close()
	}
	p.Open()
	m.current = index
	return p, nil
}

// CurrentPoint returns the point being edited.
func (m *Measurement) CurrentPoint() (*Point, bool) {
	return m.Point(m.current)
}

// NextPoint opens the point after the current one. At the last point it
// stays put and returns false.
func (m *Measurement) NextPoint() (*Point, bool) {
	if m.current+1 >= len(m.points) {
		return m.CurrentPoint()
	}
	p, err := m.OpenPoint(m.current + 1)
	return p, err == nil
}

// PreviousPoint opens the point before the current one.
func (m *Measurement) PreviousPoint() (*Point, bool) {
	if m.current <= 0 {
		return m.CurrentPoint()
	}
	p, err := m.OpenPoint(m.current - 1)
	return p, err == nil
}

// LookAtObservation opens the observation's image in the viewer, looking at
// the point.
func (m *Measurement) LookAtObservation(ctx context.Context, index int, imageID string) error {
	if m.disposed {
		return ErrDisposed
	}
	if m.deps.Viewer == nil {
		return ErrNoViewer
	}
	p, ok := m.Point(index)
	if !ok {
		return fmt.Errorf("%w: %d", ErrNoSuchPoint, index)
	}
	o, ok := p.Observation(imageID)
	if !ok {
		return fmt.Errorf("%w: %s", ErrNoSuchObservation, imageID)
	}

	target := o.Coordinate()
	if c, ok := p.Coordinate(); ok {
		target = c
	}
	at, err := m.deps.Projector.Project(target, m.deps.Config.MapSRS, m.deps.Config.ViewerSRS)
	if err != nil {
		return err
	}
	return o.bind(ctx, m.deps.Viewer, at)
}

// RemoveObservation drops one observation and tells the viewer.
func (m *Measurement) RemoveObservation(ctx context.Context, index int, imageID string) error {
	if m.disposed {
		return ErrDisposed
	}
	p, ok := m.Point(index)
	if !ok {
		return fmt.Errorf("%w: %d", ErrNoSuchPoint, index)
	}
	if !p.RemoveObservation(imageID) {
		return fmt.Errorf("%w: %s", ErrNoSuchObservation, imageID)
	}
	m.pointChanged(p)
	return m.pushRemote(ctx, nil)
}

// Record snapshots the measurement for storage. Point coordinates are in
// the map SRS, observations as the viewer reported them.
func (m *Measurement) Record() core.MeasurementRecord {
	rec := core.MeasurementRecord{
		Target:   m.target,
		RemoteID: m.remoteID,
		Kind:     m.kind,
		SRS:      m.deps.Config.MapSRS,
		Points:   make([]core.PointRecord, len(m.points)),
	}
	for i, p := range m.points {
		var c *core.Coordinate
		if p.coord != nil {
			v := *p.coord
			c = &v
		}
		rec.Points[i] = core.PointRecord{Coordinate: c, Observations: p.details()}
	}
	return rec
}

// Dispose releases every point and notifies listeners. Calling it again has
// no effect. A pass that resumes afterwards stops at its next check.
func (m *Measurement) Dispose() {
	if m.disposed {
		return
	}
	m.disposed = true
	m.open = false
	m.dirty = false
	m.pendingRemote = nil
	m.awaiting = nil
	for _, p := range m.points {
		p.Dispose()
	}
	m.points = nil
	m.current = -1
	m.log.Debug("Measurement disposed")
	for _, l := range m.listeners {
		l.Disposed(m)
	}
}
