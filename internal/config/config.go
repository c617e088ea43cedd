package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
	"github.com/streetpano/measuresync/pkg/core"
)

// FileName is the config file looked up in the config directory.
const FileName = "measuresync.cfg.json"

// SyncConfig holds the reconciliation settings
type SyncConfig struct {
	Tolerance        float64            `json:"tolerance" mapstructure:"tolerance"`
	ElevationEpsilon float64            `json:"elevationEpsilon" mapstructure:"elevationEpsilon"`
	CompareZ         bool               `json:"compareZ" mapstructure:"compareZ"`
	MapSRS           int                `json:"mapSRS" mapstructure:"mapSRS"`
	ViewerSRS        int                `json:"viewerSRS" mapstructure:"viewerSRS"`
	StaleEchoLimit   int                `json:"staleEchoLimit" mapstructure:"staleEchoLimit"`
	AllowedKinds     []string           `json:"allowedKinds" mapstructure:"allowedKinds"`
	ZOffsets         map[string]float64 `json:"zOffsets" mapstructure:"zOffsets"`
	IndicatorLength  float64            `json:"indicatorLength" mapstructure:"indicatorLength"`
}

// ZOffset returns the Z translation applied to elevations looked up for layer.
// The "default" entry is used for unknown layers.
func (c SyncConfig) ZOffset(layer string) float64 {
	if off, ok := c.ZOffsets[strings.ToLower(layer)]; ok {
		return off
	}
	return c.ZOffsets["default"]
}

// Allows reports whether new measurements of kind may be started without a target.
func (c SyncConfig) Allows(kind core.GeometryKind) bool {
	for _, k := range c.AllowedKinds {
		if parsed, err := core.ParseGeometryKind(k); err == nil && parsed == kind {
			return true
		}
	}
	return false
}

// DefaultSyncConfig is the configuration used when nothing is loaded.
func DefaultSyncConfig() SyncConfig {
	return SyncConfig{
		Tolerance:        core.DefaultTolerance,
		ElevationEpsilon: 0.001,
		MapSRS:           3857,
		ViewerSRS:        4326,
		StaleEchoLimit:   2,
		AllowedKinds:     []string{"point", "linestring", "polygon"},
		ZOffsets:         map[string]float64{},
		IndicatorLength:  2.5,
	}
}

// SQLiteConfig holds SQLite storage backend settings
type SQLiteConfig struct {
	Path         string        `json:"path" mapstructure:"path"`
	DumpPath     string        `json:"dumpPath" mapstructure:"dumpPath"`
	DumpInterval time.Duration `json:"dumpInterval" mapstructure:"dumpInterval"`
}

// StorageConfig selects and configures the write-back backend
type StorageConfig struct {
	Type   string       `json:"type" mapstructure:"type"`
	SQLite SQLiteConfig `json:"sqlite" mapstructure:"sqlite"`
}

// HeightsConfig points at the elevation service
type HeightsConfig struct {
	URL     string
	Timeout time.Duration
}

// ViewerConfig holds the panoramic viewer websocket settings
type ViewerConfig struct {
	URL    string
	Secret string
}

// OTelConfig holds OpenTelemetry settings
type OTelConfig struct {
	Enabled      bool
	ServiceName  string
	BatchTimeout time.Duration
	Endpoint     string
	Insecure     bool
}

// Load reads configuration from JSON file and sets default values.
// configDir is the directory containing the config file.
func Load(configDir string) error {
	setDefaults()

	viper.SetConfigName(FileName)
	viper.AddConfigPath(configDir)
	viper.SetConfigType("json")

	err := viper.ReadInConfig()
	if err != nil {
		return fmt.Errorf("error reading config file: %v", err)
	}

	return nil
}

func setDefaults() {
	def := DefaultSyncConfig()

	viper.SetDefault("logLevel", "info")
	viper.SetDefault("logsDir", "./measuresync-logs")

	viper.SetDefault("sync.tolerance", def.Tolerance)
	viper.SetDefault("sync.elevationEpsilon", def.ElevationEpsilon)
	viper.SetDefault("sync.compareZ", def.CompareZ)
	viper.SetDefault("sync.mapSRS", def.MapSRS)
	viper.SetDefault("sync.viewerSRS", def.ViewerSRS)
	viper.SetDefault("sync.staleEchoLimit", def.StaleEchoLimit)
	viper.SetDefault("sync.allowedKinds", def.AllowedKinds)
	viper.SetDefault("sync.zOffsets", map[string]float64{})
	viper.SetDefault("sync.indicatorLength", def.IndicatorLength)

	viper.SetDefault("heights.url", "")
	viper.SetDefault("heights.timeout", "5s")

	viper.SetDefault("viewer.url", "ws://localhost:8090/measure")
	viper.SetDefault("viewer.secret", "")

	viper.SetDefault("storage.type", "memory")
	viper.SetDefault("storage.sqlite.path", "./measurements.db")
	viper.SetDefault("storage.sqlite.dumpPath", "")
	viper.SetDefault("storage.sqlite.dumpInterval", "1m")

	viper.SetDefault("db.host", "localhost")
	viper.SetDefault("db.port", "5432")
	viper.SetDefault("db.username", "postgres")
	viper.SetDefault("db.password", "postgres")
	viper.SetDefault("db.database", "measurements")

	viper.SetDefault("influx.enabled", false)
	viper.SetDefault("influx.host", "localhost")
	viper.SetDefault("influx.port", "8086")
	viper.SetDefault("influx.protocol", "http")
	viper.SetDefault("influx.token", "")
	viper.SetDefault("influx.org", "measuresync")
	viper.SetDefault("influx.bucket", "reconciliation")

	viper.SetDefault("graylog.enabled", false)
	viper.SetDefault("graylog.address", "localhost:12201")

	viper.SetDefault("otel.enabled", false)
	viper.SetDefault("otel.serviceName", "measuresync")
	viper.SetDefault("otel.batchTimeout", "5s")
	viper.SetDefault("otel.endpoint", "")
	viper.SetDefault("otel.insecure", true)
}

// UseDefaults registers default values without reading a file.
func UseDefaults() {
	setDefaults()
}

// GetSyncConfig returns the reconciliation settings.
func GetSyncConfig() SyncConfig {
	cfg := SyncConfig{
		Tolerance:        viper.GetFloat64("sync.tolerance"),
		ElevationEpsilon: viper.GetFloat64("sync.elevationEpsilon"),
		CompareZ:         viper.GetBool("sync.compareZ"),
		MapSRS:           viper.GetInt("sync.mapSRS"),
		ViewerSRS:        viper.GetInt("sync.viewerSRS"),
		StaleEchoLimit:   viper.GetInt("sync.staleEchoLimit"),
		AllowedKinds:     viper.GetStringSlice("sync.allowedKinds"),
		IndicatorLength:  viper.GetFloat64("sync.indicatorLength"),
		ZOffsets:         map[string]float64{},
	}
	for layer, v := range viper.GetStringMap("sync.zOffsets") {
		cfg.ZOffsets[strings.ToLower(layer)] = toFloat(v)
	}
	if cfg.Tolerance <= 0 {
		cfg.Tolerance = core.DefaultTolerance
	}
	return cfg
}

func toFloat(v any) float64 {
	switch n := v.(type) {
	case float64:
		return n
	case float32:
		return float64(n)
	case int:
		return float64(n)
	case int64:
		return float64(n)
	default:
		return 0
	}
}

// GetStorageConfig returns the write-back backend settings.
func GetStorageConfig() StorageConfig {
	return StorageConfig{
		Type: viper.GetString("storage.type"),
		SQLite: SQLiteConfig{
			Path:         viper.GetString("storage.sqlite.path"),
			DumpPath:     viper.GetString("storage.sqlite.dumpPath"),
			DumpInterval: viper.GetDuration("storage.sqlite.dumpInterval"),
		},
	}
}

// GetHeightsConfig returns the elevation service settings.
func GetHeightsConfig() HeightsConfig {
	return HeightsConfig{
		URL:     viper.GetString("heights.url"),
		Timeout: viper.GetDuration("heights.timeout"),
	}
}

// GetViewerConfig returns the viewer transport settings.
func GetViewerConfig() ViewerConfig {
	return ViewerConfig{
		URL:    viper.GetString("viewer.url"),
		Secret: viper.GetString("viewer.secret"),
	}
}

// GetOTelConfig returns the OpenTelemetry settings.
func GetOTelConfig() OTelConfig {
	return OTelConfig{
		Enabled:      viper.GetBool("otel.enabled"),
		ServiceName:  viper.GetString("otel.serviceName"),
		BatchTimeout: viper.GetDuration("otel.batchTimeout"),
		Endpoint:     viper.GetString("otel.endpoint"),
		Insecure:     viper.GetBool("otel.insecure"),
	}
}

// GetString returns a string config value.
func GetString(key string) string {
	return viper.GetString(key)
}

// GetInt returns an int config value.
func GetInt(key string) int {
	return viper.GetInt(key)
}

// GetBool returns a bool config value.
func GetBool(key string) bool {
	return viper.GetBool(key)
}
