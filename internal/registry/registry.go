// Package registry tracks the measurements of one document session and
// routes viewer and sketch events to them.
//
// The list follows a single-active policy: at most one measurement is tracked
// in steady state. It is open and usually also bound to the host sketch.
// A viewer feature with an unknown id retires the tracked measurement and
// takes its place.
//
// A List is not safe for concurrent use. It is driven from one goroutine,
// the serialized dispatcher lane.
package registry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/streetpano/measuresync/internal/geo"
	"github.com/streetpano/measuresync/internal/measurement"
	"github.com/streetpano/measuresync/internal/storage"
	"github.com/streetpano/measuresync/pkg/core"
)

var (
	// ErrKindNotAllowed is returned when a measurement of a disabled kind is started
	ErrKindNotAllowed = errors.New("geometry kind not allowed")
	// ErrNoStore is returned by OpenTarget when no storage backend is configured
	ErrNoStore = errors.New("no storage backend")
)

// Dependencies are shared by the list and every measurement it creates.
type Dependencies struct {
	Measurement measurement.Dependencies
	Store       storage.Backend // optional
	Logger      *slog.Logger
}

// hints describe the measurement the user asked for before the viewer has
// reported it.
type hints struct {
	kind   core.GeometryKind
	target core.TargetBinding
	set    bool
}

// List is the registry of measurements of one session.
type List struct {
	deps  Dependencies
	log   *slog.Logger
	order []string
	byKey map[string]*measurement.Measurement

	open       *measurement.Measurement
	sketch     *measurement.Measurement
	fromRemote bool
	hints      hints

	clearPending bool
}

// New creates an empty list.
func New(deps Dependencies) *List {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.Measurement.Logger == nil {
		deps.Measurement.Logger = deps.Logger
	}
	return &List{
		deps:  deps,
		log:   deps.Logger.With("component", "registry"),
		byKey: make(map[string]*measurement.Measurement),
	}
}

// Open returns the measurement being edited, or nil.
func (l *List) Open() *measurement.Measurement { return l.open }

// Sketch returns the measurement bound to the host sketch, or nil.
func (l *List) Sketch() *measurement.Measurement { return l.sketch }

// Get returns the measurement with the given key.
func (l *List) Get(key string) (*measurement.Measurement, bool) {
	m, ok := l.byKey[key]
	return m, ok
}

// Len returns the number of tracked measurements.
func (l *List) Len() int { return len(l.order) }

// All returns the tracked measurements in creation order.
func (l *List) All() []*measurement.Measurement {
	out := make([]*measurement.Measurement, 0, len(l.order))
	for _, k := range l.order {
		out = append(out, l.byKey[k])
	}
	return out
}

// FromRemote reports whether a viewer update is being applied.
func (l *List) FromRemote() bool { return l.fromRemote }

// OnRemoteFeatureCollectionChanged routes a viewer event. An empty collection
// disposes every measurement and clears the sketch.
func (l *List) OnRemoteFeatureCollectionChanged(ctx context.Context, fc core.FeatureCollection) error {
	l.fromRemote = true
	defer func() { l.fromRemote = false }()
	defer l.flush(ctx)

	if fc.Empty() {
		if l.Len() > 0 {
			l.log.Debug("Viewer reported no features")
		}
		l.disposeAll()
		l.clearPending = true
		return nil
	}

	f, m := l.resolve(ctx, fc)
	if m == nil {
		var err error
		if m, err = l.create(ctx, f.Kind, l.hints.target); err != nil {
			return err
		}
		l.hints = hints{}
	}

	err := m.ReconcileFromRemote(ctx, f)
	if errors.Is(err, measurement.ErrStructuralMismatch) {
		l.log.Warn("Measurement dropped", "remoteId", f.MeasurementID, "error", err)
		return nil
	}
	if err != nil {
		return fmt.Errorf("reconcile %s from viewer: %w", m.Key(), err)
	}

	if !m.IsDisposed() && (len(f.Points) == 0 || !f.Kind.Valid()) && l.Len() == 1 {
		l.closeMeasurement(ctx, m)
		l.clearPending = true
		if m.Len() == 0 {
			m.Dispose()
		}
	}
	return nil
}

// resolve finds the feature that belongs to the tracked measurement. When
// none does, the tracked measurements are retired and the first feature is
// returned for a new one. A measurement created from the sketch has no
// remote id yet and adopts the first feature.
func (l *List) resolve(ctx context.Context, fc core.FeatureCollection) (core.RemoteFeature, *measurement.Measurement) {
	for _, f := range fc.Features {
		for _, m := range l.All() {
			if f.MeasurementID != "" && m.RemoteID() == f.MeasurementID {
				return f, m
			}
		}
	}

	first := fc.Features[0]
	if len(l.order) == 1 {
		if m := l.byKey[l.order[0]]; m.RemoteID() == "" {
			return first, m
		}
	}
	for _, m := range l.All() {
		l.log.Debug("Retiring measurement", "measurement", m.Key(), "remoteId", m.RemoteID())
		l.retire(ctx, m)
	}
	return first, nil
}

// StartMeasurement closes the open measurement and asks the viewer to start
// creating a new one. Kinds outside sync.allowedKinds need a target. The
// measurement itself is created when the viewer reports it.
func (l *List) StartMeasurement(ctx context.Context, kind core.GeometryKind, target core.TargetBinding) error {
	if target.IsZero() && !l.deps.Measurement.Config.Allows(kind) {
		return fmt.Errorf("%w: %s", ErrKindNotAllowed, kind)
	}
	if err := l.CloseOpen(ctx); err != nil {
		l.log.Warn("Failed to save measurement", "error", err)
	}
	defer l.flush(ctx)

	l.hints = hints{kind: kind, target: target, set: true}
	if v := l.deps.Measurement.Viewer; v != nil {
		if err := v.StartMeasurementMode(ctx, kind); err != nil {
			return fmt.Errorf("start measurement mode: %w", err)
		}
	}
	return nil
}

// SketchModified routes a host sketch event. Without a sketch-bound
// measurement a user edit starts one.
func (l *List) SketchModified(ctx context.Context, ev core.SketchEvent, target core.TargetBinding) error {
	defer l.flush(ctx)

	if l.sketch == nil && l.open != nil {
		l.sketch = l.open
	}
	if l.sketch != nil {
		return l.sketch.ReconcileFromLocal(ctx, ev)
	}
	if ev.Origin == core.OriginRemote || l.fromRemote {
		return nil
	}
	if ev.Geometry.IsEmpty() {
		return nil
	}

	kind := geo.KindOf(ev.Geometry)
	if l.hints.set && target.IsZero() {
		target = l.hints.target
	}
	if !kind.Valid() || (target.IsZero() && !l.deps.Measurement.Config.Allows(kind)) {
		return fmt.Errorf("%w: %s", ErrKindNotAllowed, kind)
	}
	l.hints = hints{}

	for _, m := range l.All() {
		l.retire(ctx, m)
	}
	m, err := l.create(ctx, kind, target)
	if err != nil {
		return err
	}
	return m.ReconcileFromLocal(ctx, ev)
}

// SketchFinished unbinds the sketch. The measurement stays open for edits
// from the viewer.
func (l *List) SketchFinished() {
	l.sketch = nil
}

// CloseOpen closes the open measurement and writes it back to its target.
func (l *List) CloseOpen(ctx context.Context) error {
	m := l.open
	if m == nil {
		return nil
	}
	err := l.save(ctx, m)
	l.closeMeasurement(ctx, m)
	l.flush(ctx)
	return err
}

// OpenTarget loads the measurement stored for target, opens it and pushes it
// to both the sketch and the viewer.
func (l *List) OpenTarget(ctx context.Context, target core.TargetBinding) (*measurement.Measurement, error) {
	if l.deps.Store == nil {
		return nil, ErrNoStore
	}
	rec, err := l.deps.Store.LoadMeasurement(ctx, target)
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", target, err)
	}

	if err := l.CloseOpen(ctx); err != nil {
		l.log.Warn("Failed to save measurement", "error", err)
	}
	for _, m := range l.All() {
		l.retire(ctx, m)
	}

	m := measurement.FromRecord(l.deps.Measurement, *rec)
	l.register(m)
	if err := m.Open(ctx); err != nil {
		return nil, fmt.Errorf("open %s: %w", target, err)
	}
	l.open, l.sketch = m, m
	if err := m.Publish(ctx); err != nil {
		return m, fmt.Errorf("publish %s: %w", target, err)
	}
	return m, nil
}

// RemoveAllMeasurements disposes every measurement. Targeted measurements
// are written back first.
func (l *List) RemoveAllMeasurements(ctx context.Context) {
	for _, m := range l.All() {
		if err := l.save(ctx, m); err != nil {
			l.log.Warn("Failed to save measurement", "measurement", m.Key(), "error", err)
		}
	}
	l.disposeAll()
	l.hints = hints{}
	l.flush(ctx)
}

func (l *List) create(ctx context.Context, kind core.GeometryKind, target core.TargetBinding) (*measurement.Measurement, error) {
	if !kind.Valid() && l.hints.set {
		kind = l.hints.kind
	}
	if err := l.CloseOpen(ctx); err != nil {
		l.log.Warn("Failed to save measurement", "error", err)
	}

	m := measurement.New(l.deps.Measurement, kind, target)
	l.register(m)
	if err := m.Open(ctx); err != nil {
		return nil, fmt.Errorf("open measurement: %w", err)
	}
	l.open, l.sketch = m, m
	l.log.Info("Measurement created", "measurement", m.Key(), "kind", kind.String(), "target", target.String())
	return m, nil
}

func (l *List) register(m *measurement.Measurement) {
	m.AddListener(l)
	l.byKey[m.Key()] = m
	l.order = append(l.order, m.Key())
}

func (l *List) save(ctx context.Context, m *measurement.Measurement) error {
	if l.deps.Store == nil || m.Target().IsZero() || m.IsDisposed() || len(m.Coordinates()) == 0 {
		return nil
	}
	rec := m.Record()
	if err := l.deps.Store.SaveMeasurement(ctx, &rec); err != nil {
		return fmt.Errorf("save %s: %w", m.Target(), err)
	}
	l.log.Debug("Measurement saved", "measurement", m.Key(), "target", m.Target().String(), "id", rec.ID)
	return nil
}

func (l *List) closeMeasurement(ctx context.Context, m *measurement.Measurement) {
	if l.open == m {
		l.open = nil
	}
	if l.sketch == m {
		l.sketch = nil
		l.clearPending = true
	}
	m.Close()
}

// retire closes, saves and disposes m.
func (l *List) retire(ctx context.Context, m *measurement.Measurement) {
	if err := l.save(ctx, m); err != nil {
		l.log.Warn("Failed to save measurement", "measurement", m.Key(), "error", err)
	}
	m.Dispose()
}

func (l *List) disposeAll() {
	for _, m := range l.All() {
		m.Dispose()
	}
	l.open, l.sketch = nil, nil
}

// flush clears the host sketch if the measurement that owned it went away
// during the last operation.
func (l *List) flush(ctx context.Context) {
	if !l.clearPending {
		return
	}
	l.clearPending = false
	if l.sketch != nil {
		return
	}
	if s := l.deps.Measurement.Sketch; s != nil {
		if err := s.ClearSketch(ctx); err != nil {
			l.log.Warn("Failed to clear sketch", "error", err)
		}
	}
}

// PointChanged implements measurement.Listener.
func (l *List) PointChanged(*measurement.Measurement, *measurement.Point) {}

// PointRemoved implements measurement.Listener.
func (l *List) PointRemoved(m *measurement.Measurement, p *measurement.Point) {
	l.log.Debug("Point removed", "measurement", m.Key(), "point", p.ID())
}

// Disposed implements measurement.Listener. Disposed measurements leave the
// registry.
func (l *List) Disposed(m *measurement.Measurement) {
	if _, ok := l.byKey[m.Key()]; !ok {
		return
	}
	delete(l.byKey, m.Key())
	for i, k := range l.order {
		if k == m.Key() {
			l.order = append(l.order[:i], l.order[i+1:]...)
			break
		}
	}
	if l.open == m {
		l.open = nil
	}
	if l.sketch == m {
		l.sketch = nil
		l.clearPending = true
	}
}
