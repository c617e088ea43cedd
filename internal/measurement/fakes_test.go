package measurement

import (
	"context"
	"errors"
	"sync"
	"testing"

	geom "github.com/peterstace/simplefeatures/geom"
	"github.com/streetpano/measuresync/internal/config"
	"github.com/streetpano/measuresync/internal/geo"
	"github.com/streetpano/measuresync/internal/host"
	"github.com/streetpano/measuresync/internal/telemetry"
	"github.com/streetpano/measuresync/internal/viewer"
	"github.com/streetpano/measuresync/pkg/core"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/spatial/r3"
)

var (
	ptA = core.XY(0, 0)
	ptB = core.XY(10, 0)
	ptC = core.XY(20, 0)
	ptD = core.XY(20, 10)
)

var errNoProjection = errors.New("no projection")

// flatProjector leaves coordinates alone and fails for X == 999.
type flatProjector struct{}

func (flatProjector) Project(c core.Coordinate, _, _ int) (core.Coordinate, error) {
	if c.X == 999 {
		return c, errNoProjection
	}
	return c, nil
}

type fakeHeights struct {
	height float64
	failX  float64
}

func (f fakeHeights) ElevationAt(_ context.Context, x, _ float64) (float64, bool, error) {
	if x == f.failX {
		return 0, false, errors.New("height service down")
	}
	return f.height, true, nil
}

// hookSketch runs onRead once, at the next Geometry call, before returning
// the geometry. It stands in for an edit landing while a pass is suspended.
type hookSketch struct {
	*host.MemorySketch
	onRead func()
}

func (s *hookSketch) Geometry(ctx context.Context) (geom.Geometry, error) {
	if f := s.onRead; f != nil {
		s.onRead = nil
		f()
	}
	return s.MemorySketch.Geometry(ctx)
}

type countingRecorder struct {
	mu         sync.Mutex
	passes     []telemetry.Stats
	deferred   map[telemetry.Direction]int
	echoes     map[telemetry.Direction]int
	mismatches int
}

func newCountingRecorder() *countingRecorder {
	return &countingRecorder{
		deferred: map[telemetry.Direction]int{},
		echoes:   map[telemetry.Direction]int{},
	}
}

func (r *countingRecorder) Reconciled(_ context.Context, s telemetry.Stats) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.passes = append(r.passes, s)
}

func (r *countingRecorder) Deferred(_ context.Context, d telemetry.Direction) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.deferred[d]++
}

func (r *countingRecorder) EchoSuppressed(_ context.Context, d telemetry.Direction) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.echoes[d]++
}

func (r *countingRecorder) StructuralMismatch(context.Context) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.mismatches++
}

type recordingListener struct {
	changed  int
	removed  []*Point
	disposed int
}

func (l *recordingListener) PointChanged(*Measurement, *Point) { l.changed++ }

func (l *recordingListener) PointRemoved(_ *Measurement, p *Point) {
	l.removed = append(l.removed, p)
}

func (l *recordingListener) Disposed(*Measurement) { l.disposed++ }

func testConfig() config.SyncConfig {
	cfg := config.DefaultSyncConfig()
	cfg.MapSRS = 3857
	cfg.ViewerSRS = 3857
	return cfg
}

type harness struct {
	t        *testing.T
	ctx      context.Context
	sketch   *hookSketch
	viewer   *viewer.Recording
	recorder *countingRecorder
	m        *Measurement
	// queued holds user edits back from the measurement, as a busy event
	// queue would.
	queued bool
}

func newHarness(t *testing.T, kind core.GeometryKind) *harness {
	t.Helper()
	h := &harness{
		t:        t,
		ctx:      context.Background(),
		sketch:   &hookSketch{MemorySketch: host.NewMemorySketch()},
		viewer:   &viewer.Recording{},
		recorder: newCountingRecorder(),
	}
	h.m = New(Dependencies{
		Sketch:       h.sketch,
		Viewer:       h.viewer,
		Projector:    flatProjector{},
		Recorder:     h.recorder,
		Config:       testConfig(),
		LocalPending: func() bool { return h.queued },
	}, kind, core.TargetBinding{})
	h.sketch.OnChange(func(ctx context.Context, ev core.SketchEvent) {
		if ev.Origin == core.OriginUser && h.queued {
			return
		}
		_ = h.m.ReconcileFromLocal(ctx, ev)
	})
	require.NoError(t, h.m.Open(h.ctx))
	return h
}

// echo makes the viewer answer every push with the pushed feature.
func (h *harness) echo() {
	h.viewer.Echo = func(ctx context.Context, fc core.FeatureCollection) {
		_ = h.m.ReconcileFromRemote(ctx, fc.Features[0])
	}
}

func (h *harness) sketchCoords() []core.Coordinate {
	h.t.Helper()
	g, err := h.sketch.MemorySketch.Geometry(h.ctx)
	require.NoError(h.t, err)
	_, coords, err := geo.ToCoordinates(g, core.DefaultTolerance)
	require.NoError(h.t, err)
	return coords
}

func (h *harness) remote(f core.RemoteFeature) {
	h.t.Helper()
	require.NoError(h.t, h.m.ReconcileFromRemote(h.ctx, f))
}

func (h *harness) edit(kind core.GeometryKind, coords ...core.Coordinate) {
	h.t.Helper()
	g, err := geo.FromCoordinates(kind, coords)
	require.NoError(h.t, err)
	h.sketch.Edit(h.ctx, g)
}

func remote(kind core.GeometryKind, coords ...core.Coordinate) core.RemoteFeature {
	f := core.RemoteFeature{MeasurementID: "m-1", Kind: kind}
	for _, c := range coords {
		f.Points = append(f.Points, core.RemotePoint{Coordinate: &c})
	}
	return f
}

// observe returns a copy of f with extra observations on point idx.
func observe(f core.RemoteFeature, idx int, images ...string) core.RemoteFeature {
	pts := append([]core.RemotePoint(nil), f.Points...)
	p := pts[idx]
	obs := append([]core.ObservationDetail(nil), p.Observations...)
	for _, id := range images {
		d := core.ObservationDetail{ImageID: id, Direction: r3.Vec{X: 1}, Thumbnail: id + ".jpg"}
		if p.Coordinate != nil {
			d.Coordinate = *p.Coordinate
		}
		obs = append(obs, d)
	}
	p.Observations = obs
	pts[idx] = p
	f.Points = pts
	return f
}

func imageIDs(p *Point) []string {
	var out []string
	for _, o := range p.Observations() {
		out = append(out, o.ImageID())
	}
	return out
}
