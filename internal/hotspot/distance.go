package hotspot

import (
	"math"

	"github.com/golang/geo/s2"
)

// EarthRadiusMeters is the IUGG mean Earth radius.
const EarthRadiusMeters = 6371008.8

// HaversineMeters returns the great-circle distance between two points
// given in decimal degrees. s2.LatLng.Distance evaluates the haversine
// formula on the unit sphere.
func HaversineMeters(lat1, lon1, lat2, lon2 float64) float64 {
	a := s2.LatLngFromDegrees(lat1, lon1)
	b := s2.LatLngFromDegrees(lat2, lon2)
	return a.Distance(b).Radians() * EarthRadiusMeters
}

// projection is an equirectangular projection centred on a reference
// latitude. x grows east and y grows north, both in meters. Distortion is
// acceptable at the city scale grid cells are used for.
type projection struct {
	cosRef float64
}

func newProjection(refLatDeg float64) projection {
	return projection{cosRef: math.Cos(refLatDeg * math.Pi / 180)}
}

func (p projection) xy(lat, lon float64) (x, y float64) {
	x = EarthRadiusMeters * (lon * math.Pi / 180) * p.cosRef
	y = EarthRadiusMeters * (lat * math.Pi / 180)
	return x, y
}

func meanLatitude(points []Point) float64 {
	if len(points) == 0 {
		return 0
	}
	var sum float64
	for _, p := range points {
		sum += p.Latitude
	}
	return sum / float64(len(points))
}
