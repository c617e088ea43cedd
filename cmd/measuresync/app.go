package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/viper"
	"github.com/streetpano/measuresync/internal/cache"
	"github.com/streetpano/measuresync/internal/config"
	"github.com/streetpano/measuresync/internal/dispatcher"
	"github.com/streetpano/measuresync/internal/geo"
	"github.com/streetpano/measuresync/internal/heights"
	"github.com/streetpano/measuresync/internal/influx"
	"github.com/streetpano/measuresync/internal/logging"
	otelprovider "github.com/streetpano/measuresync/internal/otel"
	"github.com/streetpano/measuresync/internal/session"
	"github.com/streetpano/measuresync/internal/storage"
	"github.com/streetpano/measuresync/internal/telemetry"
)

const appName = "measuresync"

// app holds the process-wide services every command shares.
type app struct {
	start      time.Time
	logManager *logging.SlogManager
	logger     *slog.Logger
	zlog       zerolog.Logger
	otel       *otelprovider.Provider
	recorder   telemetry.Recorder
	store      storage.Backend
	projector  *geo.EPSGProjector
	heights    heights.Service
	session    *session.Context
	closers    []io.Closer
}

// newApp loads configuration and brings up logging, telemetry and storage.
func newApp() (*app, error) {
	if configDir != "" {
		if err := config.Load(configDir); err != nil {
			return nil, err
		}
	} else {
		config.UseDefaults()
	}
	if logLevel != "" {
		viper.Set("logLevel", logLevel)
	}

	a := &app{
		start:      time.Now(),
		logManager: logging.NewSlogManager(),
		projector:  geo.NewEPSGProjector(),
		session:    session.NewContext(),
		heights:    heights.None{},
	}

	if err := a.setupLogging(); err != nil {
		a.close()
		return nil, err
	}
	if err := a.setupTelemetry(); err != nil {
		a.close()
		return nil, err
	}

	store, err := storage.NewBackend(config.GetStorageConfig(), cache.NewTargetCache(), a.logManager)
	if err != nil {
		a.close()
		return nil, err
	}
	if err := store.Init(); err != nil {
		a.close()
		return nil, fmt.Errorf("failed to initialize storage backend: %w", err)
	}
	a.store = store
	a.logger.Info("Storage backend initialized", "type", config.GetStorageConfig().Type)

	if hc := config.GetHeightsConfig(); hc.URL != "" {
		a.heights = heights.New(hc.URL, config.GetSyncConfig().MapSRS, hc.Timeout)
	}

	return a, nil
}

func (a *app) setupLogging() error {
	logsDir := viper.GetString("logsDir")
	if err := os.MkdirAll(logsDir, 0o755); err != nil {
		return fmt.Errorf("failed to create logs dir: %w", err)
	}
	file, err := os.OpenFile(logging.LogFilePath(logsDir, appName, a.start), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("failed to open log file: %w", err)
	}
	a.closers = append(a.closers, file)

	otelCfg := config.GetOTelConfig()
	syncCfg := config.GetSyncConfig()
	var otelFile io.Writer
	if otelCfg.Enabled {
		f, err := os.OpenFile(logging.LogFilePath(logsDir, appName+".otel", a.start), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
		if err != nil {
			return fmt.Errorf("failed to open otel log file: %w", err)
		}
		a.closers = append(a.closers, f)
		otelFile = f
	}
	a.otel, err = otelprovider.New(otelprovider.Config{
		Enabled:      otelCfg.Enabled,
		ServiceName:  otelCfg.ServiceName,
		BatchTimeout: otelCfg.BatchTimeout,
		LogWriter:    otelFile,
		Endpoint:     otelCfg.Endpoint,
		Insecure:     otelCfg.Insecure,
		Attributes: map[string]string{
			"measuresync.map_srs":    strconv.Itoa(syncCfg.MapSRS),
			"measuresync.viewer_srs": strconv.Itoa(syncCfg.ViewerSRS),
		},
	})
	if err != nil {
		return fmt.Errorf("failed to set up OTel: %w", err)
	}

	level := viper.GetString("logLevel")
	var extra []slog.Handler
	if viper.GetBool("graylog.enabled") {
		h, closer, err := logging.GelfHandler(viper.GetString("graylog.address"), level)
		if err != nil {
			return err
		}
		a.closers = append(a.closers, closer)
		extra = append(extra, h)
	}

	a.logManager.SetContextProvider(func() []slog.Attr {
		if !a.session.Active() {
			return nil
		}
		return []slog.Attr{slog.String("document", a.session.Document())}
	})
	a.logManager.Setup(file, level, a.otel.LoggerProvider(), extra...)
	a.logger = a.logManager.Logger()

	zlevel, err := zerolog.ParseLevel(level)
	if err != nil {
		zlevel = zerolog.InfoLevel
	}
	a.zlog = zerolog.New(file).Level(zlevel).With().Timestamp().Str("app", appName).Logger()
	return nil
}

func (a *app) setupTelemetry() error {
	otelRec, err := telemetry.NewOTel()
	if err != nil {
		return err
	}
	recorders := telemetry.Multi{otelRec}

	if viper.GetBool("influx.enabled") {
		backup := filepath.Join(viper.GetString("logsDir"), appName+".influx.lp.gz")
		m := influx.NewManager(a.zlog, backup)
		if err := m.Connect(); err != nil {
			return fmt.Errorf("failed to connect to InfluxDB: %w", err)
		}
		a.closers = append(a.closers, m)
		recorders = append(recorders, m)
	}

	a.recorder = recorders
	return nil
}

// newDispatcher creates the event dispatcher, logging through zerolog.
func (a *app) newDispatcher() (*dispatcher.Dispatcher, error) {
	return dispatcher.New(logging.NewDispatcherLogger(a.zlog))
}

func (a *app) close() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if a.store != nil {
		if err := a.store.Close(); err != nil && a.logger != nil {
			a.logger.Warn("Failed to close storage backend", "error", err)
		}
	}
	if a.otel != nil {
		_ = a.logManager.Flush(ctx)
		_ = a.otel.Shutdown(ctx)
	}
	for i := len(a.closers) - 1; i >= 0; i-- {
		_ = a.closers[i].Close()
	}
}
