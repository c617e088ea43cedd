package measurement

import (
	"context"
	"fmt"
	"time"

	geom "github.com/peterstace/simplefeatures/geom"
	"github.com/streetpano/measuresync/internal/diff"
	"github.com/streetpano/measuresync/internal/geo"
	"github.com/streetpano/measuresync/internal/telemetry"
	"github.com/streetpano/measuresync/pkg/core"
)

// RECONCILIATION
// A measurement is either idle or running one pass. Events arriving during a
// pass are not processed inline: a remote feature is parked as pendingRemote,
// a local edit sets dirty. When the pass ends, drain replays them, remote
// first, so a local edit always has the last word over an older remote state.
//
// Writes to the host sketch are tagged OriginRemote and ignored when they come
// back. Pushes to the viewer are remembered in awaiting until the viewer
// reports the same geometry. A remote event that still shows a state the push
// replaced is stale for up to StaleEchoLimit events. Any other geometry is a
// new viewer edit and is applied.

// remotePoint is a viewer point after projection into the map SRS. coord is
// nil when the viewer has no position yet or the projection failed.
type remotePoint struct {
	coord        *core.Coordinate
	observations []core.ObservationDetail
	srs          int
}

// ReconcileFromRemote applies a viewer feature to the model and, when the
// measurement owns the sketch, writes the result to the host.
func (m *Measurement) ReconcileFromRemote(ctx context.Context, f core.RemoteFeature) error {
	if m.disposed {
		return ErrDisposed
	}
	if m.state == stateReconciling {
		m.pendingRemote = &f
		m.deps.Recorder.Deferred(ctx, telemetry.FromRemote)
		m.log.Debug("Remote update deferred", "points", len(f.Points))
		return nil
	}

	err := m.reconcileRemote(ctx, f)
	m.drain(ctx)
	return err
}

// ReconcileFromLocal applies a sketch edit to the model and pushes the
// result to the viewer. Echoes of this package's own sketch writes are ignored.
func (m *Measurement) ReconcileFromLocal(ctx context.Context, ev core.SketchEvent) error {
	if m.disposed {
		return ErrDisposed
	}
	if ev.Origin == core.OriginRemote {
		m.deps.Recorder.EchoSuppressed(ctx, telemetry.FromLocal)
		return nil
	}
	if m.state == stateReconciling {
		m.dirty = true
		m.deps.Recorder.Deferred(ctx, telemetry.FromLocal)
		m.log.Debug("Local update deferred")
		return nil
	}

	err := m.reconcileLocal(ctx, ev.Geometry)
	m.drain(ctx)
	return err
}

func (m *Measurement) drain(ctx context.Context) {
	for i := 0; i < maxDrain; i++ {
		if m.disposed {
			return
		}
		switch {
		case m.pendingRemote != nil:
			f := *m.pendingRemote
			m.pendingRemote = nil
			if err := m.reconcileRemote(ctx, f); err != nil {
				m.log.Warn("Deferred remote update failed", "error", err)
			}
		case m.dirty:
			m.dirty = false
			g, err := m.deps.Sketch.Geometry(ctx)
			if err != nil {
				m.log.Warn("Failed to read sketch geometry", "error", err)
				return
			}
			if err := m.reconcileLocal(ctx, g); err != nil {
				m.log.Warn("Deferred local update failed", "error", err)
			}
		default:
			return
		}
	}
	if m.pendingRemote != nil || m.dirty {
		m.log.Warn("Reconciliation did not settle", "passes", maxDrain)
	}
}

func (m *Measurement) checkKind(ctx context.Context, kind core.GeometryKind) error {
	if !kind.Valid() {
		return nil
	}
	if !m.kind.Valid() {
		m.kind = kind
		return nil
	}
	if kind == m.kind {
		return nil
	}
	m.deps.Recorder.StructuralMismatch(ctx)
	m.log.Warn("Geometry kind changed, disposing measurement", "kind", m.kind.String(), "reported", kind.String())
	err := fmt.Errorf("%w: measurement is %s, got %s", ErrStructuralMismatch, m.kind, kind)
	m.Dispose()
	return err
}

func (m *Measurement) reconcileRemote(ctx context.Context, f core.RemoteFeature) error {
	start := time.Now()
	if err := m.checkKind(ctx, f.Kind); err != nil {
		return err
	}
	if f.MeasurementID != "" {
		m.remoteID = f.MeasurementID
	}
	if len(f.Points) == 0 && len(m.points) > 0 {
		m.log.Debug("Remote geometry emptied")
		m.Dispose()
		return nil
	}

	m.state = stateReconciling
	defer func() { m.state = stateIdle }()

	remote := m.projectRemote(f)
	stale := m.checkAwaiting(ctx, remote)

	script := diff.Compute(len(m.points), len(remote), func(o, n int) bool {
		return m.matchRemote(o, n, remote[n])
	})

	stats := telemetry.Stats{Direction: telemetry.FromRemote, Kind: m.kind}
	if stale {
		for _, op := range script {
			if op.Kind == diff.Keep {
				m.refreshObservations(m.points[op.Old], remote[op.New].observations, remote[op.New].srs)
				stats.Kept++
			}
		}
		stats.Duration = time.Since(start)
		m.deps.Recorder.Reconciled(ctx, stats)
		return nil
	}

	m.applyRemote(script, remote, &stats)

	if m.open && m.kind.Valid() {
		pushed, err := m.syncSketch(ctx)
		if err != nil {
			m.log.Warn("Failed to write sketch", "error", err)
		}
		stats.Pushed = pushed
	}

	stats.Duration = time.Since(start)
	m.deps.Recorder.Reconciled(ctx, stats)
	return nil
}

func (m *Measurement) projectRemote(f core.RemoteFeature) []remotePoint {
	srs := f.SRS
	if srs == 0 {
		srs = m.deps.Config.ViewerSRS
	}

	out := make([]remotePoint, 0, len(f.Points))
	for i, rp := range f.Points {
		p := remotePoint{observations: rp.Observations, srs: srs}
		if rp.Coordinate != nil {
			c, err := m.deps.Projector.Project(*rp.Coordinate, srs, m.deps.Config.MapSRS)
			if err != nil {
				m.log.Warn("Skipping point, projection failed", "index", i, "error", err)
			} else {
				p.coord = &c
			}
		}
		out = append(out, p)
	}

	if m.kind.ClosesRing() && len(out) > 1 {
		first, last := out[0].coord, out[len(out)-1].coord
		if first != nil && last != nil && first.Near(*last, m.deps.Config.Tolerance, false) {
			out = out[:len(out)-1]
		}
	}
	if limit := m.kind.MaxPoints(); limit != core.Unbounded && len(out) > limit {
		out = out[:limit]
	}
	return out
}

// checkAwaiting compares a remote event with the outstanding viewer push.
// It reports true when the event predates the push.
func (m *Measurement) checkAwaiting(ctx context.Context, remote []remotePoint) bool {
	if m.awaiting == nil {
		return false
	}
	tol, includeZ := m.deps.Config.Tolerance, m.deps.Config.CompareZ
	if sameState(m.awaiting.coords, remote, tol, includeZ) {
		m.awaiting = nil
		m.deps.Recorder.EchoSuppressed(ctx, telemetry.FromRemote)
		return false
	}
	if !m.awaiting.predates(remote, tol, includeZ) {
		m.log.Debug("Remote edit on top of unconfirmed push")
		m.awaiting = nil
		return false
	}
	if m.awaiting.staleSeen < m.deps.Config.StaleEchoLimit {
		m.awaiting.staleSeen++
		m.log.Debug("Stale remote update", "seen", m.awaiting.staleSeen)
		return true
	}
	m.log.Debug("Viewer never confirmed push, accepting remote state")
	m.awaiting = nil
	return false
}

func (r *pushRecord) predates(remote []remotePoint, tol float64, includeZ bool) bool {
	for _, state := range r.superseded {
		if sameState(state, remote, tol, includeZ) {
			return true
		}
	}
	return false
}

// sameState compares a remembered model state with a remote event. Points
// without a position on the model side match anything.
func sameState(coords []*core.Coordinate, remote []remotePoint, tol float64, includeZ bool) bool {
	if len(coords) != len(remote) {
		return false
	}
	for i, c := range coords {
		if c == nil {
			continue
		}
		if remote[i].coord == nil || !c.Near(*remote[i].coord, tol, includeZ) {
			return false
		}
	}
	return true
}

// matchRemote pairs model point o with remote point n. Placed points match
// on position. Where either side has no position, shared observations or an
// unchanged index decide.
func (m *Measurement) matchRemote(o, n int, rp remotePoint) bool {
	p := m.points[o]
	if p.coord != nil && rp.coord != nil {
		return p.IsSameAs(*rp.coord, m.deps.Config.CompareZ)
	}
	return p.sharesObservation(rp.observations) || o == n
}

func (m *Measurement) applyRemote(script diff.Script, remote []remotePoint, stats *telemetry.Stats) {
	next := make([]*Point, 0, len(remote))
	coords := make([]*core.Coordinate, 0, len(remote))

	for _, op := range script {
		switch op.Kind {
		case diff.Keep:
			p, rp := m.points[op.Old], remote[op.New]
			c := p.coord
			if c == nil {
				c = rp.coord
			}
			m.refreshObservations(p, rp.observations, rp.srs)
			next, coords = append(next, p), append(coords, c)
			stats.Kept++
		case diff.Move:
			p, rp := m.points[op.Old], remote[op.New]
			c := rp.coord
			if c == nil {
				c = p.coord
			}
			m.refreshObservations(p, rp.observations, rp.srs)
			next, coords = append(next, p), append(coords, c)
			stats.Moved++
		case diff.Insert:
			rp := remote[op.New]
			p := m.newPoint(op.New)
			m.refreshObservations(p, rp.observations, rp.srs)
			next, coords = append(next, p), append(coords, rp.coord)
			stats.Inserted++
		case diff.Remove:
			m.disposePoint(m.points[op.Old])
			stats.Removed++
		}
	}

	m.place(next, coords)
}

// place installs the new point order and updates coordinates and indices in
// ascending order.
func (m *Measurement) place(next []*Point, coords []*core.Coordinate) {
	m.points = next
	for i, p := range next {
		p.Update(coords[i], i)
	}
	if m.current >= len(m.points) {
		m.current = -1
	}
}

func (m *Measurement) refreshObservations(p *Point, details []core.ObservationDetail, srs int) {
	keep := make(map[string]struct{}, len(details))
	changed := false
	for _, d := range details {
		keep[d.ImageID] = struct{}{}
		c, err := m.deps.Projector.Project(d.Coordinate, srs, m.deps.Config.MapSRS)
		if err != nil {
			m.log.Debug("Skipping observation, projection failed", "image", d.ImageID, "error", err)
			continue
		}
		if p.AddOrUpdateObservation(d, c) {
			changed = true
		}
	}
	if p.RemoveObservationsNotIn(keep) > 0 {
		changed = true
	}
	if changed {
		m.pointChanged(p)
	}
}

// syncSketch writes the model to the host unless the host already shows it
// or a local edit is pending.
func (m *Measurement) syncSketch(ctx context.Context) (bool, error) {
	if m.dirty {
		m.log.Debug("Local edit pending, leaving sketch alone")
		return false, nil
	}
	if m.deps.LocalPending != nil && m.deps.LocalPending() {
		// The sketch holds a user edit the model has not seen. Take it from
		// the sketch once this pass ends instead of writing over it.
		m.dirty = true
		m.log.Debug("User edit queued, reading sketch after the pass")
		return false, nil
	}
	g, err := m.deps.Sketch.Geometry(ctx)
	if err != nil {
		return false, err
	}
	if m.disposed || m.dirty {
		return false, nil
	}

	model := m.Coordinates()
	kind, local, err := geo.ToCoordinates(g, m.deps.Config.Tolerance)
	if err == nil && (kind == m.kind || len(local) == 0) &&
		core.CoordinatesNear(local, model, m.deps.Config.Tolerance, m.deps.Config.CompareZ) {
		return false, nil
	}
	return true, m.writeSketch(ctx, model)
}

func (m *Measurement) writeSketch(ctx context.Context, coords []core.Coordinate) error {
	g, err := geo.FromCoordinates(m.kind, coords)
	if err != nil {
		return err
	}
	return m.deps.Sketch.SetGeometry(ctx, g, core.OriginRemote)
}

func (m *Measurement) reconcileLocal(ctx context.Context, g geom.Geometry) error {
	start := time.Now()
	m.state = stateReconciling
	defer func() { m.state = stateIdle }()

	kind, local, err := m.ToCoordinateList(ctx, g)
	if err != nil {
		return err
	}
	if m.disposed {
		return ErrDisposed
	}
	if err := m.checkKind(ctx, kind); err != nil {
		return err
	}
	if limit := m.kind.MaxPoints(); limit != core.Unbounded && len(local) > limit {
		local = local[:limit]
	}

	// Only placed points are visible in the sketch. Unplaced ones travel with
	// the placed point that follows them.
	var placed []*Point
	before := make(map[int][]*Point)
	var pending []*Point
	for _, p := range m.points {
		if p.coord == nil {
			pending = append(pending, p)
			continue
		}
		before[len(placed)] = pending
		pending = nil
		placed = append(placed, p)
	}

	script := diff.Compute(len(placed), len(local), func(o, n int) bool {
		return placed[o].IsSameAs(local[n], m.deps.Config.CompareZ)
	})

	stats := telemetry.Stats{Direction: telemetry.FromLocal, Kind: m.kind}
	if !script.Changed() {
		stats.Kept = len(script)
		stats.Duration = time.Since(start)
		m.deps.Recorder.Reconciled(ctx, stats)
		return nil
	}

	prior := m.snapshot()
	next := make([]*Point, 0, len(m.points)+script.Count(diff.Insert))
	coords := make([]*core.Coordinate, 0, cap(next))
	carry := func(ps []*Point) {
		for _, p := range ps {
			next, coords = append(next, p), append(coords, nil)
		}
	}
	for _, op := range script {
		switch op.Kind {
		case diff.Keep:
			carry(before[op.Old])
			p := placed[op.Old]
			next, coords = append(next, p), append(coords, p.coord)
			stats.Kept++
		case diff.Move:
			carry(before[op.Old])
			c := local[op.New]
			next, coords = append(next, placed[op.Old]), append(coords, &c)
			stats.Moved++
		case diff.Insert:
			c := local[op.New]
			next, coords = append(next, m.newPoint(len(next))), append(coords, &c)
			stats.Inserted++
		case diff.Remove:
			carry(before[op.Old])
			m.disposePoint(placed[op.Old])
			stats.Removed++
		}
	}
	carry(pending)
	m.place(next, coords)

	if err := m.pushRemote(ctx, prior); err != nil {
		m.log.Warn("Failed to push measurement to viewer", "error", err)
	} else {
		stats.Pushed = true
	}
	stats.Duration = time.Since(start)
	m.deps.Recorder.Reconciled(ctx, stats)
	return nil
}

// Feature renders the model as a viewer feature in the viewer SRS.
func (m *Measurement) Feature() core.RemoteFeature {
	srs := m.deps.Config.ViewerSRS
	f := core.RemoteFeature{
		MeasurementID: m.remoteID,
		Kind:          m.kind,
		SRS:           srs,
		Points:        make([]core.RemotePoint, 0, len(m.points)),
	}
	for i, p := range m.points {
		rp := core.RemotePoint{Observations: p.details()}
		if p.coord != nil {
			c, err := m.deps.Projector.Project(*p.coord, m.deps.Config.MapSRS, srs)
			if err != nil {
				m.log.Warn("Failed to project point for viewer", "index", i, "error", err)
			} else {
				rp.Coordinate = &c
			}
		}
		f.Points = append(f.Points, rp)
	}
	return f
}

// pushRemote sends the model to the viewer as a single batched call. The
// push is recorded before the call so a synchronous echo is recognised.
// before is the model state the push replaces, nil if the geometry did not
// change.
func (m *Measurement) pushRemote(ctx context.Context, before []*core.Coordinate) error {
	if m.deps.Viewer == nil {
		return nil
	}
	rec := &pushRecord{coords: m.snapshot()}
	if prev := m.awaiting; prev != nil {
		rec.superseded = append(rec.superseded, prev.superseded...)
		rec.superseded = append(rec.superseded, prev.coords)
	}
	if before != nil {
		rec.superseded = append(rec.superseded, before)
	}
	m.awaiting = rec

	fc := core.FeatureCollection{Features: []core.RemoteFeature{m.Feature()}}
	return m.deps.Viewer.SetActiveMeasurement(ctx, fc)
}

// Publish pushes the current model to the viewer, as after a local edit.
func (m *Measurement) Publish(ctx context.Context) error {
	if m.disposed {
		return ErrDisposed
	}
	return m.pushRemote(ctx, nil)
}

// snapshot copies the current point positions, nil for unplaced points.
func (m *Measurement) snapshot() []*core.Coordinate {
	out := make([]*core.Coordinate, len(m.points))
	for i, p := range m.points {
		if p.coord != nil {
			v := *p.coord
			out[i] = &v
		}
	}
	return out
}
