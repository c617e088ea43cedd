package geo

import (
	"math"
	"testing"

	"github.com/streetpano/measuresync/pkg/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProject_SameSRSIsIdentity(t *testing.T) {
	p := NewEPSGProjector()
	c := core.XYZ(12.5, 55.1, 3)

	got, err := p.Project(c, 4326, 4326)

	require.NoError(t, err)
	assert.Equal(t, c, got)
}

func TestProject_4326To3857(t *testing.T) {
	p := NewEPSGProjector()

	origin, err := p.Project(core.XY(0, 0), 4326, 3857)
	require.NoError(t, err)
	assert.InDelta(t, 0, origin.X, 1e-6)
	assert.InDelta(t, 0, origin.Y, 1e-6)
	assert.False(t, origin.HasZ)

	west, err := p.Project(core.XY(-45, -30), 4326, 3857)
	require.NoError(t, err)
	assert.Less(t, west.X, 0.0)
	assert.Less(t, west.Y, 0.0)
	assert.InDelta(t, -5009377.085, west.X, 1)
}

func TestProject_RoundTrip(t *testing.T) {
	p := NewEPSGProjector()
	c := core.XY(10, 10)

	m, err := p.Project(c, 4326, 3857)
	require.NoError(t, err)
	back, err := p.Project(m, 3857, 4326)
	require.NoError(t, err)

	assert.InDelta(t, c.X, back.X, 1e-7)
	assert.InDelta(t, c.Y, back.Y, 1e-7)
}

type failingProjector struct{}

func (failingProjector) Project(c core.Coordinate, _, _ int) (core.Coordinate, error) {
	if math.Abs(c.X) > 100 {
		return c, ErrProjection
	}
	return c, nil
}

func TestProjectAll(t *testing.T) {
	out, err := ProjectAll(failingProjector{}, []core.Coordinate{core.XY(1, 1), core.XY(2, 2)}, 1, 2)
	require.NoError(t, err)
	assert.Len(t, out, 2)

	_, err = ProjectAll(failingProjector{}, []core.Coordinate{core.XY(1, 1), core.XY(200, 2)}, 1, 2)
	assert.ErrorIs(t, err, ErrProjection)
}
