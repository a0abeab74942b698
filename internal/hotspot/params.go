package hotspot

import (
	"errors"
	"math"
	"regexp"
	"strconv"
	"strings"
	"time"

	"golang.org/x/text/unicode/norm"
)

// Parameter bounds. Values outside [Min, Max] are clamped; unparsable
// values fall back to the default.
const (
	DefaultMinCount = 10
	MinMinCount     = 1
	MaxMinCount     = 10000

	DefaultGridSizeMeters = 250.0
	MinGridSizeMeters     = 50.0
	MaxGridSizeMeters     = 5000.0

	DefaultEpsilonMeters = 200.0
	MinEpsilonMeters     = 25.0
	MaxEpsilonMeters     = 2000.0

	DefaultMinPoints = 10
	MinMinPoints     = 3
	MaxMinPoints     = 200
)

// Window is a time filter. From is inclusive, To is exclusive; a nil side
// is unbounded.
type Window struct {
	From *time.Time `json:"from"`
	To   *time.Time `json:"to"`
}

// Contains reports whether t falls inside the window.
func (w Window) Contains(t time.Time) bool {
	if w.From != nil && t.Before(*w.From) {
		return false
	}
	if w.To != nil && !t.Before(*w.To) {
		return false
	}
	return true
}

// RawParams carries unparsed query values as they arrive from a request
// or command line. Empty strings mean "not provided".
type RawParams struct {
	From       string
	To         string
	Categories string
	MinCount   string
	GridSize   string
	Epsilon    string
	MinPoints  string
}

// Params is the validated, clamped parameter set for one hotspot call.
type Params struct {
	Window         Window
	Categories     []string
	MinCount       int
	GridSizeMeters float64
	EpsilonMeters  float64
	MinPoints      int
}

// DefaultParams returns the parameter set used when nothing is supplied.
func DefaultParams() Params {
	return Params{
		MinCount:       DefaultMinCount,
		GridSizeMeters: DefaultGridSizeMeters,
		EpsilonMeters:  DefaultEpsilonMeters,
		MinPoints:      DefaultMinPoints,
	}
}

// ParseParams turns raw values into Params. It never fails: malformed
// dates become open window sides and malformed numbers become defaults.
func ParseParams(raw RawParams) Params {
	p := Params{
		Window: Window{
			From: ParseTime(raw.From),
			To:   ParseTime(raw.To),
		},
		Categories:     ParseCategories(raw.Categories),
		MinCount:       DefaultMinCount,
		GridSizeMeters: DefaultGridSizeMeters,
		EpsilonMeters:  DefaultEpsilonMeters,
		MinPoints:      DefaultMinPoints,
	}
	if n, ok := ParseLeadingInt(raw.MinCount); ok {
		p.MinCount = n
	}
	if f, ok := parseLeadingFloat(raw.GridSize); ok {
		p.GridSizeMeters = f
	}
	if f, ok := parseLeadingFloat(raw.Epsilon); ok {
		p.EpsilonMeters = f
	}
	if n, ok := ParseLeadingInt(raw.MinPoints); ok {
		p.MinPoints = n
	}
	return p.Clamp()
}

// Clamp forces every numeric field into its bounds and normalizes the
// category list. It is idempotent.
func (p Params) Clamp() Params {
	p.MinCount = clampInt(p.MinCount, MinMinCount, MaxMinCount)
	p.GridSizeMeters = clampFloat(p.GridSizeMeters, DefaultGridSizeMeters, MinGridSizeMeters, MaxGridSizeMeters)
	p.EpsilonMeters = clampFloat(p.EpsilonMeters, DefaultEpsilonMeters, MinEpsilonMeters, MaxEpsilonMeters)
	p.MinPoints = clampInt(p.MinPoints, MinMinPoints, MaxMinPoints)
	p.Categories = normalizeCategories(p.Categories)
	return p
}

// ParseCategories splits a comma separated category filter. Segments are
// trimmed and NFC-normalized; empty segments and repeats are dropped. An
// empty result means "all categories" and is returned as nil.
func ParseCategories(s string) []string {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	return normalizeCategories(strings.Split(s, ","))
}

func normalizeCategories(in []string) []string {
	var out []string
	seen := make(map[string]bool, len(in))
	for _, c := range in {
		c = norm.NFC.String(strings.TrimSpace(c))
		if c == "" || seen[c] {
			continue
		}
		seen[c] = true
		out = append(out, c)
	}
	return out
}

var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05",
	"2006-01-02T15:04",
	"2006-01-02 15:04:05",
	"2006-01-02",
	"2006-01",
	"2006",
}

// ParseTime parses s in one of the accepted layouts, down to a bare year
// or year-month which start at the first of the period. Layouts without a
// zone are read as UTC. It returns nil for empty or unparsable input.
func ParseTime(s string) *time.Time {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	for _, layout := range timeLayouts {
		if t, err := time.ParseInLocation(layout, s, time.UTC); err == nil {
			u := t.UTC()
			return &u
		}
	}
	return nil
}

// parseLeadingInt reads an optional sign and the leading run of digits,
// ignoring anything after them ("12.9" and "12px" both give 12).
func ParseLeadingInt(s string) (int, bool) {
	s = strings.TrimSpace(s)
	end := 0
	if end < len(s) && (s[end] == '+' || s[end] == '-') {
		end++
	}
	start := end
	for end < len(s) && s[end] >= '0' && s[end] <= '9' {
		end++
	}
	if end == start {
		return 0, false
	}
	n, err := strconv.ParseInt(s[:end], 10, 64)
	if err != nil && !errors.Is(err, strconv.ErrRange) {
		return 0, false
	}
	// On overflow ParseInt saturates, which clamping then handles.
	return int(n), true
}

var leadingFloat = regexp.MustCompile(`^[+-]?(\d+\.?\d*|\.\d+)([eE][+-]?\d+)?`)

// parseLeadingFloat reads the longest numeric prefix of s. Non-finite
// results are rejected.
func parseLeadingFloat(s string) (float64, bool) {
	m := leadingFloat.FindString(strings.TrimSpace(s))
	if m == "" {
		return 0, false
	}
	f, err := strconv.ParseFloat(m, 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return f, true
}

func clampInt(v, lo, hi int) int {
	return max(lo, min(v, hi))
}

func clampFloat(v, def, lo, hi float64) float64 {
	if math.IsNaN(v) {
		return def
	}
	return math.Max(lo, math.Min(v, hi))
}
