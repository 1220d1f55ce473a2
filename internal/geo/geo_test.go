package geo

import (
	"errors"
	"math"
	"strings"
	"testing"

	"github.com/OCAP2/fleetsim/pkg/core"
)

func near(a, b, tol float64) bool {
	return math.Abs(a-b) <= tol
}

func trail(coords ...float64) []core.HistoryPoint {
	out := make([]core.HistoryPoint, 0, len(coords)/2)
	for i := 0; i+1 < len(coords); i += 2 {
		out = append(out, core.HistoryPoint{
			ID:       uint64(i/2 + 1),
			Position: core.Position{Lat: coords[i], Lng: coords[i+1]},
		})
	}
	return out
}

func TestTo3857_Origin(t *testing.T) {
	x, y := To3857(core.Position{})
	if !near(x, 0, 1e-6) || !near(y, 0, 1e-6) {
		t.Errorf("expected origin, got %f,%f", x, y)
	}
}

func TestTo3857_AntiMeridian(t *testing.T) {
	x, _ := To3857(core.Position{Lat: 0, Lng: 180})
	if !near(x, 20037508.34, 0.01) {
		t.Errorf("expected x=20037508.34, got %f", x)
	}
}

func TestTo3857_RoundTrip(t *testing.T) {
	in := core.Position{Lat: 40.7128, Lng: -74.0060}
	x, y := To3857(in)
	out := From3857(x, y)

	if !near(in.Lat, out.Lat, 1e-9) || !near(in.Lng, out.Lng, 1e-9) {
		t.Errorf("round trip drifted: %+v -> %+v", in, out)
	}
}

func TestPoint3857(t *testing.T) {
	p := Point3857(core.Position{Lat: 40.7128, Lng: -74.0060})
	coords, ok := p.Coordinates()
	if !ok {
		t.Fatal("expected non-empty point")
	}
	x, y := To3857(core.Position{Lat: 40.7128, Lng: -74.0060})
	if coords.X != x || coords.Y != y {
		t.Errorf("expected %f,%f got %f,%f", x, y, coords.X, coords.Y)
	}
}

func TestTrailLineString(t *testing.T) {
	ls, err := TrailLineString(trail(40.7128, -74.006, 40.713, -74.0058, 40.7135, -74.0055))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	seq := ls.Coordinates()
	if seq.Length() != 3 {
		t.Fatalf("expected 3 points, got %d", seq.Length())
	}
	first := seq.GetXY(0)
	if first.X != -74.006 || first.Y != 40.7128 {
		t.Errorf("expected lng/lat order, got %+v", first)
	}

	raw, err := ls.MarshalJSON()
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if !strings.Contains(string(raw), `"LineString"`) {
		t.Errorf("expected GeoJSON LineString, got %s", raw)
	}
}

func TestTrailLineString_TooShort(t *testing.T) {
	for _, pts := range [][]core.HistoryPoint{nil, trail(1, 2)} {
		_, err := TrailLineString(pts)
		if !errors.Is(err, ErrShortTrail) {
			t.Errorf("expected ErrShortTrail, got %v", err)
		}
	}
}

func TestFenceOutline(t *testing.T) {
	g := core.GeoFence{ID: 1, Name: "Downtown Zone", Center: core.Position{Lat: 40.7128, Lng: -74.0060}, Radius: 500, Active: true}

	poly := FenceOutline(g, 32)
	ring := poly.ExteriorRing().Coordinates()

	if ring.Length() != 33 {
		t.Fatalf("expected closed ring of 33 points, got %d", ring.Length())
	}
	if ring.GetXY(0) != ring.GetXY(ring.Length()-1) {
		t.Error("ring is not closed")
	}

	for i := 0; i < ring.Length(); i++ {
		xy := ring.GetXY(i)
		d := Distance(g.Center, core.Position{Lat: xy.Y, Lng: xy.X})
		if !near(d, 500, 5) {
			t.Errorf("vertex %d is %.1fm from center, expected ~500m", i, d)
		}
	}
}

func TestFenceOutline_MinimumSegments(t *testing.T) {
	poly := FenceOutline(core.GeoFence{Radius: 100}, 1)
	if n := poly.ExteriorRing().Coordinates().Length(); n != 4 {
		t.Errorf("expected triangle ring of 4 points, got %d", n)
	}
}

func TestDistance(t *testing.T) {
	d := Distance(core.Position{Lat: 0, Lng: 0}, core.Position{Lat: 1, Lng: 0})
	if !near(d, 111194.93, 0.5) {
		t.Errorf("expected ~111195m for one degree, got %f", d)
	}
	if Distance(core.Position{Lat: 5, Lng: 5}, core.Position{Lat: 5, Lng: 5}) != 0 {
		t.Error("expected zero distance for identical points")
	}
}

func TestTrailLength(t *testing.T) {
	if TrailLength(nil) != 0 {
		t.Error("expected 0 for empty trail")
	}
	if TrailLength(trail(10, 10)) != 0 {
		t.Error("expected 0 for single point")
	}

	pts := trail(0, 0, 1, 0, 2, 0)
	got := TrailLength(pts)
	want := 2 * Distance(core.Position{}, core.Position{Lat: 1})
	if !near(got, want, 1e-6) {
		t.Errorf("expected %f, got %f", want, got)
	}
}
