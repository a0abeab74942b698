// Package hotspot detects spatial concentrations of geocoded service
// requests. It provides a coarse grid aggregator, a DBSCAN cluster engine
// with a haversine metric, and an Engine that fans runs out per category
// and merges the results.
package hotspot

import (
	"math"
	"time"
)

// Point is a single geocoded, timestamped, categorized service request.
type Point struct {
	Category   string    `json:"category"`
	OccurredAt time.Time `json:"occurred_at"`
	Latitude   float64   `json:"lat"`
	Longitude  float64   `json:"lon"`
}

// validate reports a contract violation for points that should never have
// left the point source: missing category, missing timestamp, or
// non-finite / out-of-range coordinates.
func (p Point) validate(op string, idx int) error {
	switch {
	case p.Category == "":
		return NewContractViolation(op, "point %d has no category", idx)
	case p.OccurredAt.IsZero():
		return NewContractViolation(op, "point %d has no timestamp", idx)
	case math.IsNaN(p.Latitude) || math.IsInf(p.Latitude, 0) || p.Latitude < -90 || p.Latitude > 90:
		return NewContractViolation(op, "point %d has invalid latitude %v", idx, p.Latitude)
	case math.IsNaN(p.Longitude) || math.IsInf(p.Longitude, 0) || p.Longitude < -180 || p.Longitude > 180:
		return NewContractViolation(op, "point %d has invalid longitude %v", idx, p.Longitude)
	}
	return nil
}

func validatePoints(op string, points []Point) error {
	for i := range points {
		if err := points[i].validate(op, i); err != nil {
			return err
		}
	}
	return nil
}

// MonthOf truncates t to the first instant of its calendar month in UTC.
func MonthOf(t time.Time) time.Time {
	u := t.UTC()
	return time.Date(u.Year(), u.Month(), 1, 0, 0, 0, 0, time.UTC)
}
