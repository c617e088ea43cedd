package sqlitestorage

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/streetpano/measuresync/internal/cache"
	"github.com/streetpano/measuresync/pkg/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFileBackendPersists(t *testing.T) {
	path := filepath.Join(t.TempDir(), "measurements.db")
	ctx := context.Background()
	c := core.XY(1, 2)
	rec := &core.MeasurementRecord{
		Target: core.TargetBinding{Layer: "roads", FeatureID: 4},
		Kind:   core.KindPoint,
		Points: []core.PointRecord{{Coordinate: &c}},
	}

	b, err := New(Config{Path: path}, cache.NewTargetCache(), nil)
	require.NoError(t, err)
	require.NoError(t, b.Init())
	require.NoError(t, b.SaveMeasurement(ctx, rec))
	require.NoError(t, b.Close())

	reopened, err := New(Config{Path: path}, cache.NewTargetCache(), nil)
	require.NoError(t, err)
	require.NoError(t, reopened.Init())
	defer reopened.Close()

	got, err := reopened.LoadMeasurement(ctx, rec.Target)
	require.NoError(t, err)
	assert.Equal(t, []core.Coordinate{c}, got.Coordinates())
}

func TestMemoryBackendDumpsOnClose(t *testing.T) {
	dump := filepath.Join(t.TempDir(), "dump.db")

	b, err := New(Config{DumpPath: dump}, nil, nil)
	require.NoError(t, err)
	require.NoError(t, b.Init())
	require.NoError(t, b.Close())

	_, err = os.Stat(dump)
	assert.NoError(t, err)
}

func TestCloseTwice(t *testing.T) {
	b, err := New(Config{Path: filepath.Join(t.TempDir(), "twice.db")}, cache.NewTargetCache(), nil)
	require.NoError(t, err)
	require.NoError(t, b.Init())

	require.NoError(t, b.Close())
	assert.NotPanics(t, func() { _ = b.Close() })
}
