package geo

import (
	"errors"
	"testing"

	geom "github.com/peterstace/simplefeatures/geom"
	"github.com/streetpano/measuresync/pkg/core"
)

const tol = 0.01

func TestToCoordinates_LineString(t *testing.T) {
	g, err := geom.UnmarshalWKT("LINESTRING(0 0,10 0,20 5)")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	kind, coords, err := ToCoordinates(g, tol)

	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if kind != core.KindLineString {
		t.Errorf("expected linestring, got %s", kind)
	}
	if len(coords) != 3 {
		t.Fatalf("expected 3 coordinates, got %d", len(coords))
	}
	if coords[2] != core.XY(20, 5) {
		t.Errorf("unexpected last coordinate %s", coords[2])
	}
}

func TestToCoordinates_PointWithZ(t *testing.T) {
	g, err := geom.UnmarshalWKT("POINT Z(1 2 3)")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	kind, coords, err := ToCoordinates(g, tol)

	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if kind != core.KindPoint {
		t.Errorf("expected point, got %s", kind)
	}
	if len(coords) != 1 || coords[0] != core.XYZ(1, 2, 3) {
		t.Errorf("unexpected coordinates %v", coords)
	}
}

func TestToCoordinates_PolygonStripsClosure(t *testing.T) {
	g, err := geom.UnmarshalWKT("POLYGON((0 0,10 0,10 10,0 0))")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	kind, coords, err := ToCoordinates(g, tol)

	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if kind != core.KindPolygon {
		t.Errorf("expected polygon, got %s", kind)
	}
	if len(coords) != 3 {
		t.Errorf("expected closing vertex stripped, got %v", coords)
	}
}

func TestToCoordinates_Empty(t *testing.T) {
	for _, wkt := range []string{"POINT EMPTY", "LINESTRING EMPTY", "POLYGON EMPTY", "GEOMETRYCOLLECTION EMPTY"} {
		g, err := geom.UnmarshalWKT(wkt)
		if err != nil {
			t.Fatalf("%s: unexpected error: %v", wkt, err)
		}
		_, coords, err := ToCoordinates(g, tol)
		if err != nil {
			t.Errorf("%s: unexpected error: %v", wkt, err)
		}
		if len(coords) != 0 {
			t.Errorf("%s: expected no coordinates, got %v", wkt, coords)
		}
	}
}

func TestToCoordinates_Unsupported(t *testing.T) {
	g, err := geom.UnmarshalWKT("MULTIPOINT((1 1),(2 2))")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	_, _, err = ToCoordinates(g, tol)

	if !errors.Is(err, ErrUnsupportedGeometry) {
		t.Errorf("expected ErrUnsupportedGeometry, got %v", err)
	}
}

func TestFromCoordinates_PolygonCloses(t *testing.T) {
	g, err := FromCoordinates(core.KindPolygon, []core.Coordinate{core.XY(0, 0), core.XY(10, 0), core.XY(10, 10)})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if got := g.AsText(); got != "POLYGON((0 0,10 0,10 10,0 0))" {
		t.Errorf("unexpected WKT %s", got)
	}
}

func TestFromCoordinates_ZOnlyWhenAllHaveZ(t *testing.T) {
	mixed, err := FromCoordinates(core.KindLineString, []core.Coordinate{core.XYZ(0, 0, 1), core.XY(1, 1)})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if mixed.CoordinatesType() != geom.DimXY {
		t.Errorf("expected XY, got %s", mixed.CoordinatesType())
	}

	full, err := FromCoordinates(core.KindLineString, []core.Coordinate{core.XYZ(0, 0, 1), core.XYZ(1, 1, 2)})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if full.CoordinatesType() != geom.DimXYZ {
		t.Errorf("expected XYZ, got %s", full.CoordinatesType())
	}
}

func TestFromCoordinates_RoundTrip(t *testing.T) {
	in := []core.Coordinate{core.XY(1, 2), core.XY(3, 4), core.XY(5, 7)}
	for _, kind := range []core.GeometryKind{core.KindLineString, core.KindPolygon} {
		g, err := FromCoordinates(kind, in)
		if err != nil {
			t.Fatalf("%s: unexpected error: %v", kind, err)
		}
		gotKind, out, err := ToCoordinates(g, tol)
		if err != nil {
			t.Fatalf("%s: unexpected error: %v", kind, err)
		}
		if gotKind != kind || !core.CoordinatesNear(in, out, tol, true) {
			t.Errorf("%s: round trip gave %s %v", kind, gotKind, out)
		}
	}
}

func TestFromCoordinates_UnknownKind(t *testing.T) {
	_, err := FromCoordinates(core.KindUnknown, nil)
	if !errors.Is(err, ErrUnsupportedGeometry) {
		t.Errorf("expected ErrUnsupportedGeometry, got %v", err)
	}
}

func TestOpenAndCloseRing(t *testing.T) {
	ring := []core.Coordinate{core.XY(0, 0), core.XY(1, 0), core.XY(0, 0.001)}
	if got := OpenRing(ring, tol); len(got) != 2 {
		t.Errorf("expected near-closing vertex dropped, got %v", got)
	}

	closed := CloseRing([]core.Coordinate{core.XY(0, 0), core.XY(1, 0)})
	if len(closed) != 3 || closed[2] != core.XY(0, 0) {
		t.Errorf("unexpected closed ring %v", closed)
	}
	if again := CloseRing(closed); len(again) != 3 {
		t.Errorf("closing twice added a vertex: %v", again)
	}
}
