package geo

import (
	"errors"
	"fmt"
	"math"

	"github.com/OCAP2/fleetsim/pkg/core"
	"github.com/golang/geo/s2"
	geom "github.com/peterstace/simplefeatures/geom"
	"github.com/wroge/wgs84"
)

// Positions are kept in WGS84 (4326) in memory and projected to web mercator (3857)
// for storage, because SQLite has no spatial awareness and planar meters are what
// map tiles consume.

const EarthRadiusMeters = 6371000.0

// ErrShortTrail is returned when a trail has fewer than two points.
var ErrShortTrail = errors.New("trail needs at least 2 points")

var (
	to3857   = wgs84.EPSG().Transform(4326, 3857)
	from3857 = wgs84.EPSG().Transform(3857, 4326)
)

// To3857 projects a position to web mercator meters.
func To3857(p core.Position) (x, y float64) {
	x, y, _ = to3857(p.Lng, p.Lat, 0)
	return x, y
}

// From3857 converts web mercator meters back to a position.
func From3857(x, y float64) core.Position {
	lng, lat, _ := from3857(x, y, 0)
	return core.Position{Lat: lat, Lng: lng}
}

// Point3857 returns the projected position as a geometry point.
func Point3857(p core.Position) geom.Point {
	x, y := To3857(p)
	return geom.NewPoint(geom.Coordinates{XY: geom.XY{X: x, Y: y}})
}

// TrailLineString builds a lng/lat LineString from a history trail, oldest first.
func TrailLineString(points []core.HistoryPoint) (geom.LineString, error) {
	if len(points) < 2 {
		return geom.LineString{}, fmt.Errorf("%w, got %d", ErrShortTrail, len(points))
	}

	flatCoords := make([]float64, 0, len(points)*2)
	for _, p := range points {
		flatCoords = append(flatCoords, p.Position.Lng, p.Position.Lat)
	}

	seq := geom.NewSequence(flatCoords, geom.DimXY)
	return geom.NewLineString(seq), nil
}

// FenceOutline approximates a geofence circle with a polygon of the given number
// of segments. The circle is laid out in web mercator, scaled for latitude, and
// projected back. It is for display only.
func FenceOutline(g core.GeoFence, segments int) geom.Polygon {
	if segments < 3 {
		segments = 3
	}

	cx, cy := To3857(g.Center)
	r := g.Radius / math.Cos(g.Center.Lat*math.Pi/180)

	flatCoords := make([]float64, 0, (segments+1)*2)
	for i := 0; i < segments; i++ {
		theta := 2 * math.Pi * float64(i) / float64(segments)
		p := From3857(cx+r*math.Cos(theta), cy+r*math.Sin(theta))
		flatCoords = append(flatCoords, p.Lng, p.Lat)
	}
	// close the ring
	flatCoords = append(flatCoords, flatCoords[0], flatCoords[1])

	ring := geom.NewLineString(geom.NewSequence(flatCoords, geom.DimXY))
	return geom.NewPolygon([]geom.LineString{ring})
}

// Distance returns the great-circle distance between two positions in meters.
func Distance(a, b core.Position) float64 {
	p1 := s2.LatLngFromDegrees(a.Lat, a.Lng)
	p2 := s2.LatLngFromDegrees(b.Lat, b.Lng)
	return p1.Distance(p2).Radians() * EarthRadiusMeters
}

// TrailLength sums the great-circle distance along a trail in meters.
func TrailLength(points []core.HistoryPoint) float64 {
	total := 0.0
	for i := 1; i < len(points); i++ {
		total += Distance(points[i-1].Position, points[i].Position)
	}
	return total
}
