package hotspot

import (
	"context"
	"math"
	"math/rand/v2"
	"sync"
	"time"
)

const (
	ottawaLat = 45.4215
	ottawaLon = -75.6972
)

var baseTime = time.Date(2025, time.March, 14, 9, 30, 0, 0, time.UTC)

// offset returns the point dx meters east and dy meters north of lat/lon.
func offset(lat, lon, dx, dy float64) (float64, float64) {
	mPerDeg := EarthRadiusMeters * math.Pi / 180
	return lat + dy/mPerDeg, lon + dx/(mPerDeg*math.Cos(lat*math.Pi/180))
}

// blob builds n points of one category scattered deterministically within
// radius meters of lat/lon.
func blob(category string, lat, lon float64, n int, radius float64, at time.Time) []Point {
	points := make([]Point, 0, n)
	for i := 0; i < n; i++ {
		angle := float64(i) * 2.399963 // golden angle
		r := radius * math.Sqrt(float64(i)/float64(max(n, 1)))
		pl, pn := offset(lat, lon, r*math.Cos(angle), r*math.Sin(angle))
		points = append(points, Point{
			Category:   category,
			OccurredAt: at.Add(time.Duration(i) * time.Hour),
			Latitude:   pl,
			Longitude:  pn,
		})
	}
	return points
}

// newRand returns a seeded generator so property tests are reproducible.
func newRand() *rand.Rand {
	return rand.New(rand.NewPCG(20250314, 613))
}

// fakeSource serves points from memory and records calls.
type fakeSource struct {
	mu     sync.Mutex
	points []Point
	errs   map[string]error
	calls  []string
	delay  time.Duration

	inflight    int
	maxInflight int
}

func (f *fakeSource) Points(ctx context.Context, w Window, category string) ([]Point, error) {
	f.mu.Lock()
	f.calls = append(f.calls, category)
	err := f.errs[category]
	f.inflight++
	f.maxInflight = max(f.maxInflight, f.inflight)
	f.mu.Unlock()
	defer func() {
		f.mu.Lock()
		f.inflight--
		f.mu.Unlock()
	}()

	if f.delay > 0 {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(f.delay):
		}
	}
	if err != nil {
		return nil, err
	}

	var out []Point
	for _, p := range f.points {
		if category != "" && p.Category != category {
			continue
		}
		if !w.Contains(p.OccurredAt) {
			continue
		}
		out = append(out, p)
	}
	return out, nil
}

type observed struct {
	kind      string
	points    int
	rows      int
	failed    bool
	retryable bool
}

type recordingObserver struct {
	mu     sync.Mutex
	events []observed
}

func (r *recordingObserver) RunCompleted(kind string, points, rows int, _ time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, observed{kind: kind, points: points, rows: rows})
}

func (r *recordingObserver) RequestFailed(kind string, retryable bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, observed{kind: kind, failed: true, retryable: retryable})
}
