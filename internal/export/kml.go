// Package export writes stored measurements as KML for use outside the map
// application.
package export

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"

	"github.com/streetpano/measuresync/internal/geo"
	"github.com/streetpano/measuresync/internal/storage"
	"github.com/streetpano/measuresync/pkg/core"
	"github.com/twpayne/go-kml/v2"
)

// WGS84 is the spatial reference KML coordinates are written in.
const WGS84 = 4326

// ErrNothingToExport is returned when a measurement has no placed points
var ErrNothingToExport = errors.New("measurement has no placed points")

// Placemark converts rec into a KML placemark. Coordinates are projected
// from the record SRS to WGS84.
func Placemark(rec core.MeasurementRecord, proj geo.Projector) (kml.Element, error) {
	coords := rec.Coordinates()
	if len(coords) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrNothingToExport, rec.Target)
	}
	lonLat, err := geo.ProjectAll(proj, coords, rec.SRS, WGS84)
	if err != nil {
		return nil, err
	}

	geometry, err := geometryElement(rec.Kind, lonLat)
	if err != nil {
		return nil, err
	}

	return kml.Placemark(
		kml.Name(rec.Target.String()),
		kml.ExtendedData(
			kml.Data("layer", kml.Value(rec.Target.Layer)),
			kml.Data("featureId", kml.Value(strconv.FormatInt(rec.Target.FeatureID, 10))),
			kml.Data("measurementId", kml.Value(rec.RemoteID)),
			kml.Data("kind", kml.Value(rec.Kind.String())),
			kml.Data("observations", kml.Value(strconv.Itoa(observationCount(rec)))),
		),
		geometry,
	), nil
}

func geometryElement(kind core.GeometryKind, coords []core.Coordinate) (kml.Element, error) {
	switch kind {
	case core.KindPoint:
		return kml.Point(kml.Coordinates(kmlCoordinates(coords[:1])...)), nil
	case core.KindLineString:
		return kml.LineString(kml.Coordinates(kmlCoordinates(coords)...)), nil
	case core.KindPolygon:
		return kml.Polygon(
			kml.OuterBoundaryIs(
				kml.LinearRing(kml.Coordinates(kmlCoordinates(geo.CloseRing(coords))...)),
			),
		), nil
	default:
		return nil, fmt.Errorf("%w: %s", geo.ErrUnsupportedGeometry, kind)
	}
}

func kmlCoordinates(coords []core.Coordinate) []kml.Coordinate {
	out := make([]kml.Coordinate, len(coords))
	for i, c := range coords {
		out[i] = kml.Coordinate{Lon: c.X, Lat: c.Y, Alt: c.Z}
	}
	return out
}

func observationCount(rec core.MeasurementRecord) int {
	n := 0
	for _, p := range rec.Points {
		n += len(p.Observations)
	}
	return n
}

// Write renders recs as one KML document called name. Records without placed
// points are skipped.
func Write(w io.Writer, name string, recs []core.MeasurementRecord, proj geo.Projector) error {
	children := []kml.Element{kml.Name(name)}
	for _, rec := range recs {
		pm, err := Placemark(rec, proj)
		if errors.Is(err, ErrNothingToExport) {
			continue
		}
		if err != nil {
			return fmt.Errorf("export %s: %w", rec.Target, err)
		}
		children = append(children, pm)
	}
	return kml.KML(kml.Document(children...)).WriteIndent(w, "", "  ")
}

// Target writes the measurement stored for target.
func Target(ctx context.Context, w io.Writer, store storage.Backend, target core.TargetBinding, proj geo.Projector) error {
	rec, err := store.LoadMeasurement(ctx, target)
	if err != nil {
		return err
	}
	if len(rec.Coordinates()) == 0 {
		return fmt.Errorf("%w: %s", ErrNothingToExport, target)
	}
	return Write(w, target.String(), []core.MeasurementRecord{*rec}, proj)
}

// All writes every stored measurement.
func All(ctx context.Context, w io.Writer, store storage.Backend, name string, proj geo.Projector) error {
	recs, err := store.ListMeasurements(ctx)
	if err != nil {
		return fmt.Errorf("failed to list measurements: %w", err)
	}
	return Write(w, name, recs, proj)
}
