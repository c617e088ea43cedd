package geo

import (
	"encoding/json"
	"fmt"

	"github.com/streetpano/measuresync/pkg/core"
)

// ParseCoordinateList parses a JSON array of coordinates.
// Input format: "[[x1,y1],[x2,y2,z2],...]"
func ParseCoordinateList(input string) ([]core.Coordinate, error) {
	var raw [][]float64
	if err := json.Unmarshal([]byte(input), &raw); err != nil {
		return nil, fmt.Errorf("failed to parse coordinate list JSON: %w", err)
	}

	coords := make([]core.Coordinate, len(raw))
	for i, c := range raw {
		switch len(c) {
		case 2:
			coords[i] = core.XY(c[0], c[1])
		case 3:
			coords[i] = core.XYZ(c[0], c[1], c[2])
		default:
			return nil, fmt.Errorf("coordinate %d has %d values, want 2 or 3", i, len(c))
		}
	}

	return coords, nil
}
