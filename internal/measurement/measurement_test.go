package measurement

import (
	"context"
	"math/rand/v2"
	"testing"

	geom "github.com/peterstace/simplefeatures/geom"
	"github.com/streetpano/measuresync/internal/host"
	"github.com/streetpano/measuresync/internal/telemetry"
	"github.com/streetpano/measuresync/pkg/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRemoteCreatesSketch(t *testing.T) {
	h := newHarness(t, core.KindUnknown)

	h.remote(remote(core.KindLineString, ptA, ptB, ptC))

	assert.Equal(t, core.KindLineString, h.m.Kind())
	assert.Equal(t, "m-1", h.m.RemoteID())
	assert.Equal(t, []core.Coordinate{ptA, ptB, ptC}, h.sketchCoords())
	assert.Equal(t, 1, h.sketch.Writes())
	for i, p := range h.m.Points() {
		assert.Equal(t, i, p.Index())
	}
	assert.Equal(t, 1, h.recorder.echoes[telemetry.FromLocal], "sketch write echo must be ignored")
	assert.Zero(t, h.viewer.Count("SetActiveMeasurement"))
}

func TestRemoteInsertPreservesIdentity(t *testing.T) {
	h := newHarness(t, core.KindLineString)
	f := remote(core.KindLineString, ptA, ptB, ptC)
	f = observe(f, 0, "img-a")
	f = observe(f, 1, "img-b")
	f = observe(f, 2, "img-c")
	h.remote(f)
	before := h.m.Points()

	x := core.XY(5, 5)
	inserted := core.RemoteFeature{MeasurementID: "m-1", Kind: core.KindLineString, Points: []core.RemotePoint{
		f.Points[0], {Coordinate: &x}, f.Points[1], f.Points[2],
	}}
	h.remote(inserted)

	after := h.m.Points()
	require.Len(t, after, 4)
	assert.Same(t, before[0], after[0])
	assert.Same(t, before[1], after[2])
	assert.Same(t, before[2], after[3])
	assert.Equal(t, 2, after[2].Index())
	assert.Equal(t, 3, after[3].Index())
	assert.Equal(t, []string{"img-b"}, imageIDs(after[2]))
	assert.Equal(t, []string{"img-c"}, imageIDs(after[3]))
	assert.Equal(t, []core.Coordinate{ptA, x, ptB, ptC}, h.sketchCoords())
}

func TestRemoteRemoveDisposesOnlyThatPoint(t *testing.T) {
	h := newHarness(t, core.KindLineString)
	f := remote(core.KindLineString, ptA, ptB, ptC, ptD)
	for i, id := range []string{"img-a", "img-b", "img-c", "img-d"} {
		f = observe(f, i, id)
	}
	h.remote(f)
	before := h.m.Points()
	obsC, _ := before[2].Observation("img-c")
	obsD, _ := before[3].Observation("img-d")

	f.Points = append(f.Points[:2:2], f.Points[3])
	h.remote(f)

	after := h.m.Points()
	require.Len(t, after, 3)
	assert.Same(t, before[0], after[0])
	assert.Same(t, before[1], after[1])
	assert.Same(t, before[3], after[2])
	assert.True(t, before[2].IsDisposed())
	assert.True(t, obsC.IsDisposed())
	assert.False(t, obsD.IsDisposed())
	for i, p := range after {
		assert.Equal(t, i, p.Index())
		assert.False(t, p.IsDisposed())
	}
	assert.Equal(t, []core.Coordinate{ptA, ptB, ptD}, h.sketchCoords())
}

func TestRemoteJitterWithinToleranceKeepsModel(t *testing.T) {
	h := newHarness(t, core.KindLineString)
	h.remote(remote(core.KindLineString, ptA, ptB))

	h.remote(remote(core.KindLineString, ptA, core.XY(10.004, 0.003)))

	c, _ := h.m.Points()[1].Coordinate()
	assert.Equal(t, ptB, c)
	assert.Equal(t, 1, h.sketch.Writes())
}

func TestRemoteMovePreservesIdentity(t *testing.T) {
	h := newHarness(t, core.KindLineString)
	h.remote(remote(core.KindLineString, ptA, ptB, ptC))
	p1 := h.m.Points()[1]

	moved := core.XY(10, 40)
	h.remote(remote(core.KindLineString, ptA, moved, ptC))

	assert.Same(t, p1, h.m.Points()[1])
	c, _ := p1.Coordinate()
	prev, ok := p1.PreviousCoordinate()
	assert.Equal(t, moved, c)
	assert.True(t, ok)
	assert.Equal(t, ptB, prev)
	assert.Equal(t, 2, h.sketch.Writes())
	assert.Equal(t, []core.Coordinate{ptA, moved, ptC}, h.sketchCoords())
}

func TestRoundTripWritesSketchOnce(t *testing.T) {
	h := newHarness(t, core.KindLineString)
	h.echo()

	h.remote(remote(core.KindLineString, ptA, ptB, ptC))
	require.Equal(t, 1, h.sketch.Writes())

	x := core.XY(15, 5)
	h.edit(core.KindLineString, ptA, ptB, x, ptC)

	assert.Equal(t, 1, h.sketch.Writes())
	assert.Equal(t, 1, h.viewer.Count("SetActiveMeasurement"))
	assert.Equal(t, 1, h.recorder.echoes[telemetry.FromRemote])
	assert.Equal(t, []core.Coordinate{ptA, ptB, x, ptC}, h.m.Coordinates())
	assert.False(t, h.m.Reconciling())
}

func TestLocalEditIsFixedPoint(t *testing.T) {
	h := newHarness(t, core.KindLineString)
	h.remote(remote(core.KindLineString, ptA, ptB, ptC))

	h.edit(core.KindLineString, ptA, ptC)
	last, ok := h.viewer.Last("SetActiveMeasurement")
	require.True(t, ok)
	require.Len(t, last.Collection.Features, 1)
	pointsBefore := h.m.Points()
	writes := h.sketch.Writes()

	h.remote(last.Collection.Features[0])

	assert.Equal(t, pointsBefore, h.m.Points())
	assert.Equal(t, writes, h.sketch.Writes())
	assert.Equal(t, 1, h.viewer.Count("SetActiveMeasurement"))
	s := h.recorder.passes[len(h.recorder.passes)-1]
	assert.Equal(t, telemetry.FromRemote, s.Direction)
	assert.Zero(t, s.Inserted+s.Removed+s.Moved)
}

func TestLocalEchoIgnored(t *testing.T) {
	h := newHarness(t, core.KindLineString)
	h.remote(remote(core.KindLineString, ptA, ptB))

	g, err := h.sketch.MemorySketch.Geometry(h.ctx)
	require.NoError(t, err)
	require.NoError(t, h.m.ReconcileFromLocal(h.ctx, core.SketchEvent{Geometry: g, Origin: core.OriginRemote}))

	assert.Zero(t, h.viewer.Count("SetActiveMeasurement"))
}

func TestLocalInsertAndRemove(t *testing.T) {
	h := newHarness(t, core.KindLineString)
	f := remote(core.KindLineString, ptA, ptB, ptC)
	f = observe(f, 0, "img-a")
	f = observe(f, 2, "img-c")
	h.remote(f)
	before := h.m.Points()

	h.edit(core.KindLineString, ptA, ptC, ptD)

	after := h.m.Points()
	require.Len(t, after, 3)
	assert.Same(t, before[0], after[0])
	assert.Same(t, before[2], after[1])
	assert.True(t, before[1].IsDisposed())
	assert.Equal(t, []string{"img-c"}, imageIDs(after[1]))
	assert.Equal(t, []core.Coordinate{ptA, ptC, ptD}, h.m.Coordinates())

	last, ok := h.viewer.Last("SetActiveMeasurement")
	require.True(t, ok)
	pushed := last.Collection.Features[0]
	assert.Equal(t, []core.Coordinate{ptA, ptC, ptD}, pushed.Coordinates())
	assert.Equal(t, "img-c", pushed.Points[1].Observations[0].ImageID)
}

func TestUnplacedPointsKeepTheirPlace(t *testing.T) {
	h := newHarness(t, core.KindLineString)
	f := core.RemoteFeature{Kind: core.KindLineString, Points: []core.RemotePoint{
		{Coordinate: &ptA}, {}, {Coordinate: &ptC},
	}}
	f = observe(f, 1, "img-pending")
	h.remote(f)
	pending := h.m.Points()[1]
	require.True(t, pending.IsCreated())
	assert.Equal(t, []core.Coordinate{ptA, ptC}, h.sketchCoords())

	x := core.XY(5, 5)
	h.edit(core.KindLineString, ptA, x, ptC)

	pts := h.m.Points()
	require.Len(t, pts, 4)
	assert.Same(t, pending, pts[2])
	assert.Equal(t, 2, pending.Index())
	_, placed := pending.Coordinate()
	assert.False(t, placed)
	assert.Equal(t, []core.Coordinate{ptA, x, ptC}, h.m.Coordinates())
}

func TestInterleavedLocalMoveAndRemoteObservation(t *testing.T) {
	h := newHarness(t, core.KindLineString)
	f := observe(remote(core.KindLineString, ptA, ptB, ptC), 0, "img-1")
	h.remote(f)
	p0, p1 := h.m.Points()[0], h.m.Points()[1]
	require.Equal(t, 1, h.sketch.Writes())

	moved := core.XY(10, 30)
	h.sketch.onRead = func() {
		h.edit(core.KindLineString, ptA, moved, ptC)
	}
	h.remote(observe(f, 0, "img-2"))

	assert.Equal(t, []string{"img-1", "img-2"}, imageIDs(p0))
	assert.Same(t, p1, h.m.Points()[1])
	c, _ := p1.Coordinate()
	assert.Equal(t, moved, c)
	assert.Equal(t, []core.Coordinate{ptA, moved, ptC}, h.sketchCoords())
	assert.Equal(t, 1, h.sketch.Writes(), "sketch must not be overwritten with the old vertex")
	assert.Equal(t, 1, h.recorder.deferred[telemetry.FromLocal])

	last, ok := h.viewer.Last("SetActiveMeasurement")
	require.True(t, ok)
	pushed := last.Collection.Features[0]
	assert.Equal(t, []core.Coordinate{ptA, moved, ptC}, pushed.Coordinates())
	assert.Len(t, pushed.Points[0].Observations, 2)
	assert.False(t, h.m.Dirty())
}

func TestQueuedLocalMoveIsNotOverwritten(t *testing.T) {
	h := newHarness(t, core.KindLineString)
	f := remote(core.KindLineString, ptA, ptB, ptC)
	h.remote(f)
	p1 := h.m.Points()[1]
	require.Equal(t, 1, h.sketch.Writes())

	moved := core.XY(10, 30)
	h.queued = true
	h.edit(core.KindLineString, ptA, moved, ptC)
	h.remote(observe(f, 0, "img-1"))

	assert.Equal(t, []core.Coordinate{ptA, moved, ptC}, h.sketchCoords())
	assert.Equal(t, 1, h.sketch.Writes(), "sketch must keep the user's vertex")
	assert.Same(t, p1, h.m.Points()[1])
	assert.Equal(t, []core.Coordinate{ptA, moved, ptC}, h.m.Coordinates())
	assert.Equal(t, []string{"img-1"}, imageIDs(h.m.Points()[0]))
	assert.False(t, h.m.Dirty())

	last, ok := h.viewer.Last("SetActiveMeasurement")
	require.True(t, ok)
	pushed := last.Collection.Features[0]
	assert.Equal(t, []core.Coordinate{ptA, moved, ptC}, pushed.Coordinates())
	assert.Len(t, pushed.Points[0].Observations, 1)

	// The queued event arrives late and changes nothing.
	h.queued = false
	g, err := h.sketch.MemorySketch.Geometry(h.ctx)
	require.NoError(t, err)
	require.NoError(t, h.m.ReconcileFromLocal(h.ctx, core.SketchEvent{Geometry: g, Origin: core.OriginUser}))
	assert.Equal(t, 1, h.viewer.Count("SetActiveMeasurement"))
}

func TestStaleRemoteDoesNotRevertLocalMove(t *testing.T) {
	h := newHarness(t, core.KindLineString)
	f := observe(remote(core.KindLineString, ptA, ptB, ptC), 0, "img-1")
	h.remote(f)
	p0, p1 := h.m.Points()[0], h.m.Points()[1]

	moved := core.XY(10, 30)
	h.edit(core.KindLineString, ptA, moved, ptC)
	require.Equal(t, 1, h.viewer.Count("SetActiveMeasurement"))

	// The viewer has not seen the push yet.
	h.remote(observe(f, 0, "img-2"))

	assert.Equal(t, []string{"img-1", "img-2"}, imageIDs(p0))
	c, _ := p1.Coordinate()
	assert.Equal(t, moved, c)
	assert.Equal(t, 1, h.sketch.Writes())

	// Now it has.
	h.remote(observe(remote(core.KindLineString, ptA, moved, ptC), 0, "img-1", "img-2"))

	assert.Equal(t, []core.Coordinate{ptA, moved, ptC}, h.m.Coordinates())
	assert.Equal(t, 1, h.sketch.Writes())
	assert.Equal(t, 1, h.recorder.echoes[telemetry.FromRemote])
}

func TestRemoteEditOnTopOfPushIsApplied(t *testing.T) {
	h := newHarness(t, core.KindLineString)
	h.remote(remote(core.KindLineString, ptA, ptB, ptC))
	p1 := h.m.Points()[1]

	moved := core.XY(10, 30)
	h.edit(core.KindLineString, ptA, moved, ptC)
	require.Equal(t, 1, h.viewer.Count("SetActiveMeasurement"))

	// The viewer applied the push and the user added a vertex there.
	h.remote(remote(core.KindLineString, ptA, moved, ptC, ptD))

	assert.Equal(t, []core.Coordinate{ptA, moved, ptC, ptD}, h.m.Coordinates())
	assert.Equal(t, []core.Coordinate{ptA, moved, ptC, ptD}, h.sketchCoords())
	assert.Same(t, p1, h.m.Points()[1])
	assert.Equal(t, 2, h.sketch.Writes())

	// Later events are not held back by the confirmed push.
	h.remote(remote(core.KindLineString, ptA, moved, ptC))
	assert.Equal(t, []core.Coordinate{ptA, moved, ptC}, h.sketchCoords())
}

func TestEarlierPushIsStaleToo(t *testing.T) {
	h := newHarness(t, core.KindLineString)
	h.remote(remote(core.KindLineString, ptA, ptB))

	first, second := core.XY(10, 30), core.XY(10, 40)
	h.edit(core.KindLineString, ptA, first)
	h.edit(core.KindLineString, ptA, second)
	require.Equal(t, 2, h.viewer.Count("SetActiveMeasurement"))

	// The viewer catches up with the first push only.
	h.remote(remote(core.KindLineString, ptA, first))

	assert.Equal(t, []core.Coordinate{ptA, second}, h.m.Coordinates())
	assert.Equal(t, []core.Coordinate{ptA, second}, h.sketchCoords())
}

func TestStaleLimitLetsRemoteWin(t *testing.T) {
	h := newHarness(t, core.KindLineString)
	f := remote(core.KindLineString, ptA, ptB)
	h.remote(f)

	moved := core.XY(10, 30)
	h.edit(core.KindLineString, ptA, moved)

	for i := 0; i < testConfig().StaleEchoLimit; i++ {
		h.remote(f)
		c, _ := h.m.Points()[1].Coordinate()
		require.Equal(t, moved, c)
	}
	h.remote(f)

	c, _ := h.m.Points()[1].Coordinate()
	assert.Equal(t, ptB, c)
	assert.Equal(t, []core.Coordinate{ptA, ptB}, h.sketchCoords())
}

func TestReentrantRemoteIsReplayed(t *testing.T) {
	h := newHarness(t, core.KindLineString)
	second := remote(core.KindLineString, ptA, ptB, ptC, ptD)
	h.sketch.onRead = func() {
		require.NoError(t, h.m.ReconcileFromRemote(h.ctx, second))
	}

	h.remote(remote(core.KindLineString, ptA, ptB))

	assert.Equal(t, 1, h.recorder.deferred[telemetry.FromRemote])
	assert.Equal(t, []core.Coordinate{ptA, ptB, ptC, ptD}, h.m.Coordinates())
	assert.Equal(t, []core.Coordinate{ptA, ptB, ptC, ptD}, h.sketchCoords())
	assert.Equal(t, 2, h.sketch.Writes())
}

func TestPointScenario(t *testing.T) {
	h := newHarness(t, core.KindPoint)

	h.remote(remote(core.KindPoint, core.XYZ(10, 20, 0)))

	g, err := h.sketch.MemorySketch.Geometry(h.ctx)
	require.NoError(t, err)
	require.Equal(t, geom.TypePoint, g.Type())
	xyz, ok := g.MustAsPoint().Coordinates()
	require.True(t, ok)
	assert.Equal(t, geom.DimXYZ, xyz.Type)
	assert.Equal(t, 10.0, xyz.X)
	assert.Equal(t, 20.0, xyz.Y)
	assert.Equal(t, 0.0, xyz.Z)
	assert.Equal(t, 1, h.m.Len())

	h.remote(core.RemoteFeature{Kind: core.KindPoint})

	assert.True(t, h.m.IsDisposed())
	assert.Zero(t, h.m.Len())
}

func TestPointKindKeepsOnePoint(t *testing.T) {
	h := newHarness(t, core.KindPoint)

	h.remote(remote(core.KindPoint, ptA, ptB))
	assert.Equal(t, 1, h.m.Len())

	_, err := h.m.AddPoint(1)
	assert.ErrorIs(t, err, ErrPointLimit)
}

func TestPolygonScenario(t *testing.T) {
	h := newHarness(t, core.KindPolygon)
	f := remote(core.KindPolygon, ptA, ptB, ptC, ptD, ptA)
	for i, id := range []string{"a", "b", "c", "d"} {
		f = observe(f, i, id)
	}
	h.remote(f)
	require.Equal(t, 4, h.m.Len())
	before := h.m.Points()

	h.remote(remote(core.KindPolygon, ptA, ptB, ptD, ptA))

	g, err := h.sketch.MemorySketch.Geometry(h.ctx)
	require.NoError(t, err)
	ring := g.MustAsPolygon().ExteriorRing().Coordinates()
	require.Equal(t, 4, ring.Length())
	assert.Equal(t, ring.GetXY(0), ring.GetXY(3))
	assert.Equal(t, []core.Coordinate{ptA, ptB, ptD}, h.sketchCoords())

	after := h.m.Points()
	require.Len(t, after, 3)
	assert.True(t, before[2].IsDisposed())
	assert.Same(t, before[0], after[0])
	assert.Same(t, before[1], after[1])
	assert.Same(t, before[3], after[2])
	assert.Equal(t, 2, before[3].Index())
	assert.Empty(t, imageIDs(after[2]), "observations not reported again are dropped")
}

func TestStructuralMismatchDisposes(t *testing.T) {
	h := newHarness(t, core.KindLineString)
	l := &recordingListener{}
	h.m.AddListener(l)
	h.remote(remote(core.KindLineString, ptA, ptB))

	err := h.m.ReconcileFromRemote(h.ctx, remote(core.KindPolygon, ptA, ptB, ptC))

	assert.ErrorIs(t, err, ErrStructuralMismatch)
	assert.True(t, h.m.IsDisposed())
	assert.Equal(t, 1, l.disposed)
	assert.Equal(t, 1, h.recorder.mismatches)
	assert.ErrorIs(t, h.m.ReconcileFromRemote(h.ctx, remote(core.KindLineString, ptA)), ErrDisposed)
}

func TestProjectionFailureSkipsPoint(t *testing.T) {
	h := newHarness(t, core.KindLineString)
	h.remote(remote(core.KindLineString, ptA, ptB, ptC))

	moved := core.XY(0, 50)
	h.remote(remote(core.KindLineString, moved, core.XY(999, 0), ptC))

	coords := h.m.Coordinates()
	assert.Equal(t, []core.Coordinate{moved, ptB, ptC}, coords)
	assert.Equal(t, coords, h.sketchCoords())
}

func TestProjectionFailureOnNewPointLeavesItUnplaced(t *testing.T) {
	h := newHarness(t, core.KindLineString)

	h.remote(remote(core.KindLineString, ptA, core.XY(999, 1)))

	require.Equal(t, 2, h.m.Len())
	assert.False(t, h.m.Points()[1].IsCreated())
	assert.Equal(t, []core.Coordinate{ptA}, h.sketchCoords())
}

func TestClosedMeasurementLeavesSketchAlone(t *testing.T) {
	h := newHarness(t, core.KindLineString)
	h.m.Close()

	h.remote(remote(core.KindLineString, ptA, ptB))

	assert.Zero(t, h.sketch.Writes())
	assert.Equal(t, 2, h.m.Len())

	require.NoError(t, h.m.Open(h.ctx))
	assert.Equal(t, []core.Coordinate{ptA, ptB}, h.sketchCoords())
}

func TestCloseDisposesUntargetedPoint(t *testing.T) {
	h := newHarness(t, core.KindPoint)
	h.remote(remote(core.KindPoint, ptA))

	h.m.Close()

	assert.True(t, h.m.IsDisposed())
}

func TestCloseKeepsTargetedPointAndLines(t *testing.T) {
	targeted := New(Dependencies{Projector: flatProjector{}}, core.KindPoint, core.TargetBinding{Layer: "poles", FeatureID: 7})
	targeted.Close()
	assert.False(t, targeted.IsDisposed())

	line := New(Dependencies{Projector: flatProjector{}}, core.KindLineString, core.TargetBinding{})
	line.Close()
	assert.False(t, line.IsDisposed())
}

func TestToCoordinateListAddsElevation(t *testing.T) {
	cfg := testConfig()
	cfg.ZOffsets = map[string]float64{"roads": 1.5}
	m := New(Dependencies{
		Projector: flatProjector{},
		Heights:   fakeHeights{height: 5, failX: 3},
		Config:    cfg,
	}, core.KindLineString, core.TargetBinding{Layer: "Roads", FeatureID: 1})

	g := geom.NewLineString(geom.NewSequence([]float64{1, 1, 0, 2, 2, 12, 3, 3, 0.0001}, geom.DimXYZ)).AsGeometry()
	kind, coords, err := m.ToCoordinateList(context.Background(), g)

	require.NoError(t, err)
	assert.Equal(t, core.KindLineString, kind)
	assert.Equal(t, []core.Coordinate{
		core.XYZ(1, 1, 6.5),
		core.XYZ(2, 2, 12),
		core.XYZ(3, 3, 0.0001),
	}, coords)
}

func TestToCoordinateListWithoutZ(t *testing.T) {
	m := New(Dependencies{Projector: flatProjector{}, Heights: fakeHeights{height: 2}, Config: testConfig()}, core.KindPoint, core.TargetBinding{})

	_, coords, err := m.ToCoordinateList(context.Background(), geom.NewPoint(geom.Coordinates{XY: geom.XY{X: 4, Y: 5}, Type: geom.DimXY}).AsGeometry())

	require.NoError(t, err)
	assert.Equal(t, []core.Coordinate{core.XYZ(4, 5, 2)}, coords)
}

func TestAddAndRemovePointRenumber(t *testing.T) {
	h := newHarness(t, core.KindLineString)
	h.remote(remote(core.KindLineString, ptA, ptB))

	p, err := h.m.AddPoint(1)
	require.NoError(t, err)
	assert.Equal(t, 1, p.Index())
	assert.False(t, p.IsCreated())
	assert.Equal(t, 2, h.m.Points()[2].Index())

	require.NoError(t, h.m.RemovePoint(0))
	for i, q := range h.m.Points() {
		assert.Equal(t, i, q.Index())
	}
	assert.ErrorIs(t, h.m.RemovePoint(5), ErrNoSuchPoint)
}

func TestNavigation(t *testing.T) {
	h := newHarness(t, core.KindLineString)
	h.remote(remote(core.KindLineString, ptA, ptB, ptC))

	p, err := h.m.OpenPoint(0)
	require.NoError(t, err)
	assert.True(t, p.IsOpen())

	next, ok := h.m.NextPoint()
	require.True(t, ok)
	assert.Equal(t, 1, next.Index())
	assert.False(t, p.IsOpen())

	h.m.NextPoint()
	last, _ := h.m.NextPoint()
	assert.Equal(t, 2, last.Index())

	prev, ok := h.m.PreviousPoint()
	require.True(t, ok)
	assert.Equal(t, 1, prev.Index())

	_, err = h.m.OpenPoint(9)
	assert.ErrorIs(t, err, ErrNoSuchPoint)
}

func TestLookAtObservation(t *testing.T) {
	h := newHarness(t, core.KindLineString)
	h.remote(observe(remote(core.KindLineString, ptA, ptB), 1, "img-7"))

	require.NoError(t, h.m.LookAtObservation(h.ctx, 1, "img-7"))

	call, ok := h.viewer.Last("OpenImage")
	require.True(t, ok)
	assert.Equal(t, "img-7", call.ImageID)
	assert.Equal(t, ptB, call.At)
	o, _ := h.m.Points()[1].Observation("img-7")
	assert.True(t, o.Bound())

	assert.ErrorIs(t, h.m.LookAtObservation(h.ctx, 1, "nope"), ErrNoSuchObservation)
}

func TestLookAtObservationNeedsViewer(t *testing.T) {
	ctx := context.Background()
	m := New(Dependencies{
		Sketch:    host.NewMemorySketch(),
		Projector: flatProjector{},
		Config:    testConfig(),
	}, core.KindLineString, core.TargetBinding{})
	require.NoError(t, m.ReconcileFromRemote(ctx, observe(remote(core.KindLineString, ptA, ptB), 1, "img-7")))
	require.Equal(t, 2, m.Len())

	assert.ErrorIs(t, m.LookAtObservation(ctx, 1, "img-7"), ErrNoViewer)
	o, _ := m.Points()[1].Observation("img-7")
	assert.False(t, o.Bound())

	m.Dispose()
	assert.ErrorIs(t, m.LookAtObservation(ctx, 1, "img-7"), ErrDisposed)
}

func TestRemoveObservationPushesToViewer(t *testing.T) {
	h := newHarness(t, core.KindLineString)
	h.remote(observe(remote(core.KindLineString, ptA, ptB), 0, "img-1", "img-2"))
	o, _ := h.m.Points()[0].Observation("img-1")

	require.NoError(t, h.m.RemoveObservation(h.ctx, 0, "img-1"))

	assert.True(t, o.IsDisposed())
	assert.Equal(t, []string{"img-2"}, imageIDs(h.m.Points()[0]))
	last, ok := h.viewer.Last("SetActiveMeasurement")
	require.True(t, ok)
	assert.Len(t, last.Collection.Features[0].Points[0].Observations, 1)
	assert.ErrorIs(t, h.m.RemoveObservation(h.ctx, 0, "img-1"), ErrNoSuchObservation)
}

func TestRecordRoundTrip(t *testing.T) {
	h := newHarness(t, core.KindLineString)
	h.m.SetTarget(core.TargetBinding{Layer: "roads", FeatureID: 12})
	h.remote(observe(remote(core.KindLineString, ptA, ptB), 1, "img-1"))

	rec := h.m.Record()
	restored := FromRecord(Dependencies{Projector: flatProjector{}, Config: testConfig()}, rec)

	assert.Equal(t, core.TargetBinding{Layer: "roads", FeatureID: 12}, restored.Target())
	assert.Equal(t, "m-1", restored.RemoteID())
	assert.Equal(t, core.KindLineString, restored.Kind())
	assert.Equal(t, []core.Coordinate{ptA, ptB}, restored.Coordinates())
	assert.Equal(t, []string{"img-1"}, imageIDs(restored.Points()[1]))
	assert.NotEqual(t, h.m.Key(), restored.Key())
}

func TestDisposeIsIdempotent(t *testing.T) {
	h := newHarness(t, core.KindLineString)
	l := &recordingListener{}
	h.m.AddListener(l)
	h.remote(observe(remote(core.KindLineString, ptA, ptB), 0, "img-1"))
	p0 := h.m.Points()[0]
	o, _ := p0.Observation("img-1")

	h.m.Dispose()
	h.m.Dispose()

	assert.Equal(t, 1, l.disposed)
	assert.True(t, p0.IsDisposed())
	assert.True(t, o.IsDisposed())
	assert.ErrorIs(t, h.m.ReconcileFromLocal(h.ctx, core.SketchEvent{}), ErrDisposed)
}

func TestDisposeDuringPassStopsWriteBack(t *testing.T) {
	h := newHarness(t, core.KindLineString)
	h.sketch.onRead = func() { h.m.Dispose() }

	h.remote(remote(core.KindLineString, ptA, ptB))

	assert.True(t, h.m.IsDisposed())
	assert.Zero(t, h.sketch.Writes())
}

func TestListenerSeesRemovals(t *testing.T) {
	h := newHarness(t, core.KindLineString)
	l := &recordingListener{}
	h.m.AddListener(l)
	h.remote(remote(core.KindLineString, ptA, ptB, ptC))
	p1 := h.m.Points()[1]

	h.remote(remote(core.KindLineString, ptA, ptC))

	require.Len(t, l.removed, 1)
	assert.Same(t, p1, l.removed[0])
	assert.Positive(t, l.changed)
}

// Remote-only edit sequences: the sketch always ends up equal to the remote
// geometry and untouched vertices keep their point.
func TestRemoteEditSequences(t *testing.T) {
	for seed := uint64(1); seed <= 20; seed++ {
		rng := rand.New(rand.NewPCG(seed, 7))
		h := newHarness(t, core.KindLineString)

		next := 0.0
		fresh := func() core.Coordinate {
			next += 100
			return core.XY(next, float64(rng.IntN(1000)))
		}

		coords := []core.Coordinate{fresh(), fresh(), fresh()}
		ids := []int{-1, -1, -1}

		for step := 0; step < 30; step++ {
			switch op := rng.IntN(3); {
			case op == 0 || len(coords) < 2:
				k := rng.IntN(len(coords) + 1)
				coords = append(coords[:k], append([]core.Coordinate{fresh()}, coords[k:]...)...)
				ids = append(ids[:k], append([]int{-1}, ids[k:]...)...)
			case op == 1:
				k := rng.IntN(len(coords))
				coords = append(coords[:k], coords[k+1:]...)
				ids = append(ids[:k], ids[k+1:]...)
			default:
				k := rng.IntN(len(coords))
				coords[k] = fresh()
			}

			h.remote(remote(core.KindLineString, coords...))

			require.Equal(t, coords, h.sketchCoords(), "seed %d step %d", seed, step)
			pts := h.m.Points()
			require.Len(t, pts, len(coords))
			for i, p := range pts {
				if ids[i] >= 0 {
					require.Equal(t, ids[i], p.ID(), "seed %d step %d index %d", seed, step, i)
				}
				ids[i] = p.ID()
			}
		}
	}
}
