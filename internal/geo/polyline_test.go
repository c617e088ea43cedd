package geo

import (
	"testing"

	"github.com/streetpano/measuresync/pkg/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseCoordinateList_Valid(t *testing.T) {
	coords, err := ParseCoordinateList("[[100.5,200.25],[300.75,400.5,12],[500,600]]")

	require.NoError(t, err)
	require.Len(t, coords, 3)
	assert.Equal(t, core.XY(100.5, 200.25), coords[0])
	assert.Equal(t, core.XYZ(300.75, 400.5, 12), coords[1])
	assert.Equal(t, 600.0, coords[2].Y)
}

func TestParseCoordinateList_Empty(t *testing.T) {
	coords, err := ParseCoordinateList("[]")
	require.NoError(t, err)
	assert.Empty(t, coords)
}

func TestParseCoordinateList_InvalidJSON(t *testing.T) {
	_, err := ParseCoordinateList("not valid json")
	require.Error(t, err)
}

func TestParseCoordinateList_WrongArity(t *testing.T) {
	_, err := ParseCoordinateList("[[100]]")
	require.Error(t, err)

	_, err = ParseCoordinateList("[[1,2,3,4]]")
	require.Error(t, err)
}
