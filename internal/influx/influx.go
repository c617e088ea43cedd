// Package influx ships reconciliation telemetry to InfluxDB, or to a gzip
// line-protocol backup file when the server cannot be reached.
package influx

import (
	"compress/gzip"
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	influxdb2_api "github.com/influxdata/influxdb-client-go/v2/api"
	influxdb2_write "github.com/influxdata/influxdb-client-go/v2/api/write"
	"github.com/influxdata/influxdb-client-go/v2/domain"
	"github.com/rs/zerolog"
	"github.com/spf13/viper"
	"github.com/streetpano/measuresync/internal/telemetry"
)

// DefaultBucketName is the bucket reconciliation points are written to.
const DefaultBucketName = "reconciliation"

// Manager handles InfluxDB connections and writes. It implements
// telemetry.Recorder.
type Manager struct {
	Client       influxdb2.Client
	Writer       influxdb2_api.WriteAPI
	BackupWriter *gzip.Writer
	IsValid      bool
	BucketName   string
	Logger       zerolog.Logger
	BackupPath   string

	mu         sync.Mutex
	backupFile *os.File
}

var _ telemetry.Recorder = (*Manager)(nil)

// NewManager creates a new InfluxDB manager.
func NewManager(log zerolog.Logger, backupPath string) *Manager {
	return &Manager{
		IsValid:    false,
		BucketName: DefaultBucketName,
		Logger:     log,
		BackupPath: backupPath,
	}
}

// Connect establishes a connection to InfluxDB.
func (m *Manager) Connect() error {
	if !viper.GetBool("influx.enabled") {
		return errors.New("influx.enabled is false")
	}
	if b := viper.GetString("influx.bucket"); b != "" {
		m.BucketName = b
	}

	m.Client = influxdb2.NewClientWithOptions(
		fmt.Sprintf(
			"%s://%s:%s",
			viper.GetString("influx.protocol"),
			viper.GetString("influx.host"),
			viper.GetString("influx.port"),
		),
		viper.GetString("influx.token"),
		influxdb2.DefaultOptions().
			SetBatchSize(500).
			SetFlushInterval(1000),
	)

	// validate client connection health
	running, err := m.Client.Ping(context.Background())

	if err != nil || !running {
		m.IsValid = false
		if err := m.openBackup(); err != nil {
			return err
		}
		m.Logger.Warn().Str("backupPath", m.BackupPath).
			Msg("InfluxDB client failed to initialize, using backup writer")
		return nil
	}

	m.IsValid = true
	if err := m.setupOrganizationAndBucket(); err != nil {
		return err
	}
	m.CreateWriter()
	m.Logger.Info().Msg("InfluxDB client initialized")
	return nil
}

func (m *Manager) openBackup() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.BackupWriter != nil {
		return nil
	}
	file, err := os.OpenFile(m.BackupPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("error creating backup file: %w", err)
	}
	m.backupFile = file
	m.BackupWriter = gzip.NewWriter(file)
	return nil
}

func (m *Manager) setupOrganizationAndBucket() error {
	ctx := context.Background()
	orgName := viper.GetString("influx.org")

	// ensure org exists
	influxOrg, err := m.Client.OrganizationsAPI().FindOrganizationByName(ctx, orgName)
	if err != nil {
		m.Logger.Info().Str("org", orgName).Msg("Organization not found, creating")
		influxOrg, err = m.Client.OrganizationsAPI().CreateOrganizationWithName(ctx, orgName)
		if err != nil {
			m.Logger.Error().Err(err).Str("org", orgName).Msg("Error creating organization")
			return err
		}
	}

	// ensure bucket exists with 30 day retention
	if _, err = m.Client.BucketsAPI().FindBucketByName(ctx, m.BucketName); err != nil {
		m.Logger.Info().Str("bucket", m.BucketName).Msg("Bucket not found, creating")

		rule := domain.RetentionRuleTypeExpire
		_, err = m.Client.BucketsAPI().CreateBucketWithName(ctx, influxOrg, m.BucketName, domain.RetentionRule{
			Type:         &rule,
			EverySeconds: 60 * 60 * 24 * 30,
		})
		if err != nil {
			m.Logger.Error().Err(err).Str("bucket", m.BucketName).Msg("Error creating bucket")
			return err
		}
	}

	return nil
}

// CreateWriter creates the write API for the configured bucket.
func (m *Manager) CreateWriter() {
	orgName := viper.GetString("influx.org")
	m.Writer = m.Client.WriteAPI(orgName, m.BucketName)

	errorsCh := m.Writer.Errors()
	go func() {
		for writeErr := range errorsCh {
			m.Logger.Error().Err(writeErr).Str("bucket", m.BucketName).
				Msg("Error sending data to InfluxDB")
		}
	}()

	m.Logger.Debug().Str("bucket", m.BucketName).Msg("InfluxDB writer initialized")
}

// WritePoint writes a point to InfluxDB or backup file.
func (m *Manager) WritePoint(point *influxdb2_write.Point) error {
	if m.IsValid {
		if m.Writer == nil {
			return fmt.Errorf("influxDB bucket '%s' has no writer", m.BucketName)
		}
		m.Writer.WritePoint(point)
		return nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.BackupWriter == nil {
		return fmt.Errorf("influxDB client not initialized and backup writer not available")
	}

	lineProtocol := influxdb2_write.PointToLineProtocol(point, time.Nanosecond)
	if _, err := m.BackupWriter.Write([]byte(lineProtocol + "\n")); err != nil {
		return fmt.Errorf("error writing to InfluxDB backup file: %w", err)
	}
	return nil
}

// Close flushes pending points and closes the client and backup file.
func (m *Manager) Close() error {
	if m.Writer != nil {
		m.Writer.Flush()
	}
	if m.Client != nil {
		m.Client.Close()
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	var errs []error
	if m.BackupWriter != nil {
		errs = append(errs, m.BackupWriter.Close())
		m.BackupWriter = nil
	}
	if m.backupFile != nil {
		errs = append(errs, m.backupFile.Close())
		m.backupFile = nil
	}
	return errors.Join(errs...)
}

func (m *Manager) write(point *influxdb2_write.Point) {
	if err := m.WritePoint(point); err != nil {
		m.Logger.Debug().Err(err).Msg("Dropped telemetry point")
	}
}

// Reconciled implements telemetry.Recorder.
func (m *Manager) Reconciled(_ context.Context, s telemetry.Stats) {
	m.write(StatsPoint(s, time.Now()))
}

// Deferred implements telemetry.Recorder.
func (m *Manager) Deferred(_ context.Context, d telemetry.Direction) {
	m.write(EventPoint("deferred", d, time.Now()))
}

// EchoSuppressed implements telemetry.Recorder.
func (m *Manager) EchoSuppressed(_ context.Context, d telemetry.Direction) {
	m.write(EventPoint("echo_suppressed", d, time.Now()))
}

// StructuralMismatch implements telemetry.Recorder.
func (m *Manager) StructuralMismatch(_ context.Context) {
	m.write(EventPoint("structural_mismatch", telemetry.FromRemote, time.Now()))
}

// StatsPoint converts the outcome of one reconciliation pass into a point.
func StatsPoint(s telemetry.Stats, at time.Time) *influxdb2_write.Point {
	return influxdb2.NewPoint(
		"reconcile",
		map[string]string{
			"direction": string(s.Direction),
			"kind":      s.Kind.String(),
		},
		map[string]interface{}{
			"kept":        s.Kept,
			"moved":       s.Moved,
			"inserted":    s.Inserted,
			"removed":     s.Removed,
			"pushed":      s.Pushed,
			"duration_ms": float64(s.Duration) / float64(time.Millisecond),
		},
		at,
	)
}

// EventPoint records a single engine event.
func EventPoint(name string, d telemetry.Direction, at time.Time) *influxdb2_write.Point {
	return influxdb2.NewPoint(
		name,
		map[string]string{"direction": string(d)},
		map[string]interface{}{"count": 1},
		at,
	)
}
