package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"github.com/streetpano/measuresync/internal/config"
	"github.com/streetpano/measuresync/internal/dispatcher"
	"github.com/streetpano/measuresync/internal/host"
	"github.com/streetpano/measuresync/internal/measurement"
	"github.com/streetpano/measuresync/internal/registry"
	"github.com/streetpano/measuresync/internal/viewer"
	"github.com/streetpano/measuresync/internal/worker"
	"github.com/streetpano/measuresync/pkg/core"
)

var (
	replayEcho     bool
	replayDocument string
)

var replayCmd = &cobra.Command{
	Use:   "replay <script.jsonl>",
	Short: "Drive the engine from a script and print the resulting state",
	Long: `Replay reads one JSON step per line and feeds it through the sync lane
with an in-memory sketch and a recording viewer. With --echo the viewer answers
every active-measurement push with a feature collection change, the way the
real viewer does.`,
	Args: cobra.ExactArgs(1),
	RunE: runReplay,
}

func init() {
	rootCmd.AddCommand(replayCmd)

	replayCmd.Flags().BoolVar(&replayEcho, "echo", true, "echo pushed measurements back as viewer changes")
	replayCmd.Flags().StringVar(&replayDocument, "document", "", "document name (defaults to the script name)")
}

func runReplay(cmd *cobra.Command, args []string) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.close()

	f, err := os.Open(args[0])
	if err != nil {
		return err
	}
	defer f.Close()

	d, err := a.newDispatcher()
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	doc := replayDocument
	if doc == "" {
		doc = strings.TrimSuffix(filepath.Base(args[0]), filepath.Ext(args[0]))
	}

	rec := &viewer.Recording{}
	sketch := host.NewMemorySketch()
	deps := registry.Dependencies{
		Measurement: measurement.Dependencies{
			Sketch:    sketch,
			Viewer:    rec,
			Projector: a.projector,
			Heights:   a.heights,
			Recorder:  a.recorder,
			Logger:    a.logger,
			Config:    config.GetSyncConfig(),
		},
		Store:  a.store,
		Logger: a.logger,
	}
	e := newEngine(ctx, d, sketch, a.session, deps, a.logManager)
	if replayEcho {
		rec.Echo = echoer(e)
	}

	if err := e.begin(doc, deps.Measurement.Config.MapSRS); err != nil {
		return err
	}
	runErr := e.run(ctx, f)
	d.Close()

	if err := e.report(ctx, cmd.OutOrStdout()); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "viewer: %d pushes, %d mode starts\n",
		rec.Count("SetActiveMeasurement"), rec.Count("StartMeasurementMode"))

	a.session.End(ctx)
	return runErr
}

// echoer plays the viewer's part: every pushed collection comes back as a
// change event, with ids assigned to features the viewer has not seen yet.
func echoer(e *engine) func(context.Context, core.FeatureCollection) {
	ids := &idAssigner{}
	return func(ctx context.Context, fc core.FeatureCollection) {
		// called from the lane while it pushes, so it must not wait on it
		e.dispatch(dispatcher.Event{Command: worker.CmdRemoteFeatures, Payload: ids.assign(fc), NoWait: true})
	}
}

type idAssigner struct {
	next int
}

// assign returns a copy of fc where features without an id get a fresh one.
func (a *idAssigner) assign(fc core.FeatureCollection) core.FeatureCollection {
	out := core.FeatureCollection{Features: make([]core.RemoteFeature, len(fc.Features))}
	for i, f := range fc.Features {
		if f.MeasurementID == "" {
			a.next++
			f.MeasurementID = fmt.Sprintf("replay-%d", a.next)
		}
		out.Features[i] = f
	}
	return out
}
