package main

import (
	"bytes"
	"context"
	"strings"
	"testing"

	geom "github.com/peterstace/simplefeatures/geom"
	"github.com/rs/zerolog"
	"github.com/streetpano/measuresync/internal/config"
	"github.com/streetpano/measuresync/internal/dispatcher"
	"github.com/streetpano/measuresync/internal/geo"
	"github.com/streetpano/measuresync/internal/host"
	"github.com/streetpano/measuresync/internal/logging"
	"github.com/streetpano/measuresync/internal/measurement"
	"github.com/streetpano/measuresync/internal/registry"
	"github.com/streetpano/measuresync/internal/session"
	"github.com/streetpano/measuresync/internal/storage/memory"
	"github.com/streetpano/measuresync/internal/viewer"
	"github.com/streetpano/measuresync/internal/worker"
	"github.com/streetpano/measuresync/pkg/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type flatProjector struct{}

func (flatProjector) Project(c core.Coordinate, _, _ int) (core.Coordinate, error) {
	return c, nil
}

type testEngine struct {
	*engine
	viewer *viewer.Recording
	store  *memory.Backend
}

func newTestEngine(t *testing.T) *testEngine {
	t.Helper()
	d, err := dispatcher.New(logging.NewDispatcherLogger(zerolog.Nop()))
	require.NoError(t, err)

	cfg := config.DefaultSyncConfig()
	cfg.ViewerSRS = cfg.MapSRS
	rec := &viewer.Recording{}
	store := memory.New()
	sketch := host.NewMemorySketch()
	deps := registry.Dependencies{
		Measurement: measurement.Dependencies{
			Sketch:    sketch,
			Viewer:    rec,
			Projector: flatProjector{},
			Config:    cfg,
		},
		Store: store,
	}

	e := newEngine(context.Background(), d, sketch, session.NewContext(), deps, logging.NewSlogManager())
	rec.Echo = echoer(e)
	require.NoError(t, e.begin("survey", cfg.MapSRS))
	return &testEngine{engine: e, viewer: rec, store: store}
}

func TestReplay_SketchEditRoundTrip(t *testing.T) {
	te := newTestEngine(t)
	script := strings.Join([]string{
		`# start a road measurement`,
		`{"command":":MEASUREMENT:START:","args":["linestring","roads","7"]}`,
		``,
		`{"edit":"LINESTRING(0 0,10 0)"}`,
	}, "\n")

	require.NoError(t, te.run(context.Background(), strings.NewReader(script)))
	te.d.Close()

	var out bytes.Buffer
	require.NoError(t, te.report(context.Background(), &out))

	report := out.String()
	assert.Contains(t, report, "document: survey")
	assert.Contains(t, report, "measurements: 1")
	assert.Contains(t, report, `target=roads/7 remote="replay-1"`)
	assert.Contains(t, report, "sketch: LINESTRING")
	assert.Equal(t, 1, te.viewer.Count("StartMeasurementMode"))
}

func TestReplay_PointsStepAndRemoteFeatures(t *testing.T) {
	te := newTestEngine(t)
	te.viewer.Echo = nil
	script := strings.Join([]string{
		`{"kind":"point","points":"[[5,6]]"}`,
		`{"features":{"type":"FeatureCollection","features":[]}}`,
	}, "\n")

	require.NoError(t, te.run(context.Background(), strings.NewReader(script)))
	te.d.Close()

	list := te.manager.Session().List()
	require.NotNil(t, list)
	assert.Zero(t, list.Len(), "an empty collection removes the measurement")
	assert.Equal(t, 1, te.viewer.Count("SetActiveMeasurement"))
}

func TestQueuedUserEditSurvivesRemoteUpdate(t *testing.T) {
	te := newTestEngine(t)
	te.viewer.Echo = nil
	ctx := context.Background()

	hold := make(chan struct{})
	held := make(chan struct{})
	te.d.Register(":TEST:HOLD:", func(dispatcher.Event) (any, error) {
		close(held)
		<-hold
		return nil, nil
	}, dispatcher.Lane(worker.SyncLane))

	_, err := te.d.Dispatch(dispatcher.Event{Command: worker.CmdMeasurementStart, Args: []string{"linestring", "roads", "7"}})
	require.NoError(t, err)
	first, err := geom.UnmarshalWKT("LINESTRING(0 0,10 0,20 0)")
	require.NoError(t, err)
	te.sketch.Edit(ctx, first)

	_, err = te.d.Dispatch(dispatcher.Event{Command: ":TEST:HOLD:"})
	require.NoError(t, err)
	<-held

	a, b, c := core.XY(0, 0), core.XY(10, 0), core.XY(20, 0)
	fc := core.FeatureCollection{Features: []core.RemoteFeature{{
		MeasurementID: "replay-1",
		Kind:          core.KindLineString,
		Points: []core.RemotePoint{
			{Coordinate: &a, Observations: []core.ObservationDetail{{ImageID: "img-1", Coordinate: a}}},
			{Coordinate: &b},
			{Coordinate: &c},
		},
	}}}
	_, err = te.d.Dispatch(dispatcher.Event{Command: worker.CmdRemoteFeatures, Payload: fc})
	require.NoError(t, err)

	moved, err := geom.UnmarshalWKT("LINESTRING(0 0,10 30,20 0)")
	require.NoError(t, err)
	te.sketch.Edit(ctx, moved)
	assert.True(t, te.manager.LocalEditsPending())

	close(hold)
	te.d.Close()

	want := []core.Coordinate{a, core.XY(10, 30), c}
	g, err := te.sketch.Geometry(ctx)
	require.NoError(t, err)
	_, got, err := geo.ToCoordinates(g, core.DefaultTolerance)
	require.NoError(t, err)
	assert.Equal(t, want, got)
	assert.Zero(t, te.sketch.Writes(), "sketch must keep the user's vertex")
	assert.False(t, te.manager.LocalEditsPending())

	list := te.manager.Session().List()
	require.NotNil(t, list)
	require.Equal(t, 1, list.Len())
	m := list.All()[0]
	assert.Equal(t, "replay-1", m.RemoteID())
	assert.Equal(t, want, m.Coordinates())
	assert.Len(t, m.Points()[0].Observations(), 1)

	last, ok := te.viewer.Last("SetActiveMeasurement")
	require.True(t, ok)
	pushed := last.Collection.Features[0]
	assert.Equal(t, want, pushed.Coordinates())
	assert.Len(t, pushed.Points[0].Observations, 1)
}

func TestReplay_Errors(t *testing.T) {
	tests := []struct {
		name   string
		script string
		want   string
	}{
		{name: "bad json", script: `{"command":`, want: "line 1"},
		{name: "empty step", script: `{}`, want: "empty step"},
		{name: "bad wkt", script: "\n" + `{"edit":"LINESTRING(0"}`, want: "line 2"},
		{name: "bad kind", script: `{"kind":"circle","points":"[[1,2]]"}`, want: "unknown geometry kind"},
		{name: "unknown command", script: `{"command":":NOPE:"}`, want: "unknown command"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			te := newTestEngine(t)
			defer te.d.Close()

			err := te.run(context.Background(), strings.NewReader(tt.script))

			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestIDAssigner(t *testing.T) {
	ids := &idAssigner{}
	fc := core.FeatureCollection{Features: []core.RemoteFeature{{MeasurementID: "known"}, {}}}

	first := ids.assign(fc)
	second := ids.assign(core.FeatureCollection{Features: []core.RemoteFeature{{}}})

	assert.Equal(t, "known", first.Features[0].MeasurementID)
	assert.Equal(t, "replay-1", first.Features[1].MeasurementID)
	assert.Equal(t, "replay-2", second.Features[0].MeasurementID)
	assert.Empty(t, fc.Features[1].MeasurementID, "the pushed collection is not modified")
}
