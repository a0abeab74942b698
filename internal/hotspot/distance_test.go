package hotspot

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestHaversineMeters(t *testing.T) {
	metersPerDegree := EarthRadiusMeters * math.Pi / 180

	assert.InDelta(t, 0, HaversineMeters(ottawaLat, ottawaLon, ottawaLat, ottawaLon), 1e-9)
	assert.InDelta(t, metersPerDegree, HaversineMeters(45, -75, 46, -75), 1e-6)
	assert.InDelta(t, metersPerDegree, HaversineMeters(0, 0, 0, 1), 1e-6, "equator degree of longitude")
	assert.InDelta(t, metersPerDegree*math.Cos(60*math.Pi/180), HaversineMeters(60, 10, 60, 11), 5, "parallel at 60N")

	// Downtown Ottawa to Montreal city hall is roughly 167 km.
	assert.InDelta(t, 167_000, HaversineMeters(ottawaLat, ottawaLon, 45.5088, -73.5540), 2_000)
}

func TestHaversineMeters_Symmetric(t *testing.T) {
	a := HaversineMeters(ottawaLat, ottawaLon, 45.43, -75.68)
	b := HaversineMeters(45.43, -75.68, ottawaLat, ottawaLon)
	assert.InDelta(t, a, b, 1e-9)
}

func TestHaversineMeters_Antimeridian(t *testing.T) {
	d := HaversineMeters(0, 179.9995, 0, -179.9995)
	assert.InDelta(t, 111.19, d, 0.1)
}

func TestProjection(t *testing.T) {
	proj := newProjection(45)
	x0, y0 := proj.xy(45, -75)
	x1, y1 := proj.xy(45.001, -74.999)

	assert.InDelta(t, 111.19, y1-y0, 0.01)
	assert.InDelta(t, 111.19*math.Cos(45*math.Pi/180), x1-x0, 0.01)
}

func TestMeanLatitude(t *testing.T) {
	assert.Equal(t, 0.0, meanLatitude(nil))
	assert.InDelta(t, 45.5, meanLatitude([]Point{{Latitude: 45}, {Latitude: 46}}), 1e-12)
}
