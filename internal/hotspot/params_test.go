package hotspot

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseParams_Defaults(t *testing.T) {
	p := ParseParams(RawParams{})

	assert.Nil(t, p.Window.From)
	assert.Nil(t, p.Window.To)
	assert.Nil(t, p.Categories)
	assert.Equal(t, DefaultMinCount, p.MinCount)
	assert.Equal(t, DefaultGridSizeMeters, p.GridSizeMeters)
	assert.Equal(t, DefaultEpsilonMeters, p.EpsilonMeters)
	assert.Equal(t, DefaultMinPoints, p.MinPoints)
	assert.Equal(t, DefaultParams(), p)
}

func TestParseParams_Clamping(t *testing.T) {
	tests := []struct {
		name string
		raw  RawParams
		want Params
	}{
		{
			name: "below minimum",
			raw:  RawParams{MinCount: "0", GridSize: "1", Epsilon: "-5", MinPoints: "1"},
			want: Params{MinCount: 1, GridSizeMeters: 50, EpsilonMeters: 25, MinPoints: 3},
		},
		{
			name: "above maximum",
			raw:  RawParams{MinCount: "999999", GridSize: "1e9", Epsilon: "50000", MinPoints: "5000"},
			want: Params{MinCount: 10000, GridSizeMeters: 5000, EpsilonMeters: 2000, MinPoints: 200},
		},
		{
			name: "non-numeric falls back to defaults",
			raw:  RawParams{MinCount: "lots", GridSize: "wide", Epsilon: "NaN", MinPoints: ""},
			want: DefaultParams(),
		},
		{
			name: "lenient prefixes",
			raw:  RawParams{MinCount: "12.9", GridSize: "300m", Epsilon: " 150.5 ", MinPoints: "7 points"},
			want: Params{MinCount: 12, GridSizeMeters: 300, EpsilonMeters: 150.5, MinPoints: 7},
		},
		{
			name: "infinity is not finite",
			raw:  RawParams{GridSize: "Infinity", Epsilon: "1e999"},
			want: DefaultParams(),
		},
		{
			name: "integer overflow saturates then clamps",
			raw:  RawParams{MinCount: "99999999999999999999999", MinPoints: "-99999999999999999999999"},
			want: Params{MinCount: 10000, GridSizeMeters: 250, EpsilonMeters: 200, MinPoints: 3},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ParseParams(tt.raw)
			assert.Equal(t, tt.want.MinCount, got.MinCount)
			assert.Equal(t, tt.want.GridSizeMeters, got.GridSizeMeters)
			assert.Equal(t, tt.want.EpsilonMeters, got.EpsilonMeters)
			assert.Equal(t, tt.want.MinPoints, got.MinPoints)
		})
	}
}

func TestParseParams_AlwaysWithinBounds(t *testing.T) {
	inputs := []string{"", "-1", "0", "1", "3", "25", "49.99", "abc", "1e308", "-1e308", "NaN", "+Inf", "2147483648", "  42  "}
	for _, a := range inputs {
		for _, b := range inputs {
			p := ParseParams(RawParams{MinCount: a, GridSize: b, Epsilon: a, MinPoints: b})
			assert.GreaterOrEqual(t, p.MinCount, MinMinCount)
			assert.LessOrEqual(t, p.MinCount, MaxMinCount)
			assert.GreaterOrEqual(t, p.GridSizeMeters, MinGridSizeMeters)
			assert.LessOrEqual(t, p.GridSizeMeters, MaxGridSizeMeters)
			assert.GreaterOrEqual(t, p.EpsilonMeters, MinEpsilonMeters)
			assert.LessOrEqual(t, p.EpsilonMeters, MaxEpsilonMeters)
			assert.GreaterOrEqual(t, p.MinPoints, MinMinPoints)
			assert.LessOrEqual(t, p.MinPoints, MaxMinPoints)
		}
	}
}

func TestParseParams_Dates(t *testing.T) {
	p := ParseParams(RawParams{From: "2025-01-01", To: "not-a-date"})
	require.NotNil(t, p.Window.From)
	assert.Equal(t, time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC), *p.Window.From)
	assert.Nil(t, p.Window.To)
}

func TestParseTime_Layouts(t *testing.T) {
	want := time.Date(2025, 6, 2, 13, 45, 0, 0, time.UTC)

	for _, s := range []string{
		"2025-06-02T13:45:00Z",
		"2025-06-02T09:45:00-04:00",
		"2025-06-02T13:45:00.000Z",
		"2025-06-02T13:45:00",
		"2025-06-02T13:45",
		"2025-06-02 13:45:00",
	} {
		got := ParseTime(s)
		require.NotNil(t, got, s)
		assert.True(t, want.Equal(*got), s)
		assert.Equal(t, time.UTC, got.Location(), s)
	}

	assert.Nil(t, ParseTime(""))
	assert.Nil(t, ParseTime("   "))
	assert.Nil(t, ParseTime("06/02/2025"))
	assert.Nil(t, ParseTime("2025-13-40"))
}

func TestParseTime_YearAndMonth(t *testing.T) {
	got := ParseTime("2025-03")
	require.NotNil(t, got)
	assert.Equal(t, time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC), *got)

	got = ParseTime("2025")
	require.NotNil(t, got)
	assert.Equal(t, time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC), *got)

	assert.Nil(t, ParseTime("2025-00"))
	assert.Nil(t, ParseTime("25"))

	p := ParseParams(RawParams{From: "2025-01", To: "2026"})
	require.NotNil(t, p.Window.From)
	require.NotNil(t, p.Window.To)
	assert.Equal(t, time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC), *p.Window.From)
	assert.Equal(t, time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC), *p.Window.To)
}

func TestParseLeadingInt(t *testing.T) {
	for in, want := range map[string]int{"5": 5, "5.7": 5, " 12px": 12, "-3": -3, "+8": 8} {
		n, ok := ParseLeadingInt(in)
		assert.True(t, ok, in)
		assert.Equal(t, want, n, in)
	}
	for _, in := range []string{"", "abc", ".5", "-"} {
		_, ok := ParseLeadingInt(in)
		assert.False(t, ok, in)
	}
}

func TestParseCategories(t *testing.T) {
	tests := []struct {
		in   string
		want []string
	}{
		{"", nil},
		{" , ,, ", nil},
		{"Pothole", []string{"Pothole"}},
		{" Pothole , Graffiti ,", []string{"Pothole", "Graffiti"}},
		{"Graffiti,Pothole,Graffiti", []string{"Graffiti", "Pothole"}},
		// Decomposed "é" normalizes to the composed form.
		{"Nettoyage de rue\u0301", []string{"Nettoyage de ru\u00e9"}},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, ParseCategories(tt.in), tt.in)
	}
}

func TestParams_ClampIdempotent(t *testing.T) {
	p := Params{
		Categories:     []string{" a", "a", ""},
		MinCount:       -3,
		GridSizeMeters: 10,
		EpsilonMeters:  9000,
		MinPoints:      1000,
	}
	once := p.Clamp()
	assert.Equal(t, once, once.Clamp())
	assert.Equal(t, []string{"a"}, once.Categories)
}

func TestWindow_Contains(t *testing.T) {
	from := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	to := time.Date(2025, 2, 1, 0, 0, 0, 0, time.UTC)
	w := Window{From: &from, To: &to}

	assert.True(t, w.Contains(from), "from is inclusive")
	assert.False(t, w.Contains(to), "to is exclusive")
	assert.False(t, w.Contains(from.Add(-time.Second)))
	assert.True(t, w.Contains(to.Add(-time.Second)))
	assert.True(t, Window{}.Contains(time.Time{}))
}
