package main

import (
	"context"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"github.com/streetpano/measuresync/internal/config"
	"github.com/streetpano/measuresync/internal/dispatcher"
	"github.com/streetpano/measuresync/internal/host"
	"github.com/streetpano/measuresync/internal/measurement"
	"github.com/streetpano/measuresync/internal/monitor"
	"github.com/streetpano/measuresync/internal/registry"
	wsviewer "github.com/streetpano/measuresync/internal/viewer/websocket"
	"github.com/streetpano/measuresync/internal/worker"
	"github.com/streetpano/measuresync/pkg/core"
)

var (
	serveDocument   string
	serveAckTimeout time.Duration
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Connect to the viewer and apply sketch steps read from stdin",
	Long: `Serve connects to the panoramic viewer over WebSocket and keeps an
in-memory sketch in sync with it. Sketch edits and commands are read from
stdin in the replay script format until EOF or interrupt.`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().StringVar(&serveDocument, "document", "untitled", "document name for the session")
	serveCmd.Flags().DurationVar(&serveAckTimeout, "ack-timeout", 2*time.Second, "wait for the viewer to acknowledge measurement mode")
}

func runServe(cmd *cobra.Command, args []string) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	syncCfg := config.GetSyncConfig()
	viewerCfg := config.GetViewerConfig()
	client := wsviewer.New(wsviewer.Config{
		URL:        viewerCfg.URL,
		Secret:     viewerCfg.Secret,
		SRS:        syncCfg.ViewerSRS,
		AckTimeout: serveAckTimeout,
	}, a.logger)
	if err := client.Init(); err != nil {
		return err
	}
	defer client.Close()

	d, err := a.newDispatcher()
	if err != nil {
		return err
	}

	sketch := host.NewMemorySketch()
	deps := registry.Dependencies{
		Measurement: measurement.Dependencies{
			Sketch:    sketch,
			Viewer:    client,
			Projector: a.projector,
			Heights:   a.heights,
			Recorder:  a.recorder,
			Logger:    a.logger,
			Config:    syncCfg,
		},
		Store:  a.store,
		Logger: a.logger,
	}
	e := newEngine(ctx, d, sketch, a.session, deps, a.logManager)
	client.OnFeatureCollection(func(fc core.FeatureCollection) {
		e.dispatch(dispatcher.Event{Command: worker.CmdRemoteFeatures, Payload: fc})
	})

	if err := e.begin(serveDocument, syncCfg.MapSRS); err != nil {
		return err
	}

	mon := monitor.NewService(monitor.Dependencies{
		LogManager: a.logManager,
		Session:    a.session,
		Dispatcher: d,
		Lane:       worker.SyncLane,
		Reconnects: client.Reconnects,
		StatusPath: filepath.Join(viper.GetString("logsDir"), "status.json"),
	})
	if err := mon.Start(); err != nil {
		a.logger.Warn("Status monitor not started", "error", err)
	}
	defer mon.Stop()
	a.logger.Info("Serving", "viewer", viewerCfg.URL, "document", serveDocument)

	done := make(chan error, 1)
	go func() { done <- e.run(ctx, cmd.InOrStdin()) }()

	select {
	case err = <-done:
	case <-ctx.Done():
		a.logger.Info("Interrupted, shutting down")
	}

	if _, endErr := d.Dispatch(dispatcher.Event{Command: worker.CmdSessionEnd}); endErr != nil {
		a.logger.Warn("Failed to end session", "error", endErr)
	}
	d.Close()
	if err := e.report(context.Background(), cmd.OutOrStdout()); err != nil {
		return err
	}
	return err
}
