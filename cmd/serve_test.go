package main

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/hotspots/internal/hotspot"
	"github.com/sells-group/hotspots/internal/monitoring"
	"github.com/sells-group/hotspots/internal/resilience"
	"github.com/sells-group/hotspots/internal/source"
)

func serveTestRouter(t *testing.T) (http.Handler, *monitoring.Metrics) {
	t.Helper()
	path := useSQLiteConfig(t)
	seedSQLite(t, path)

	reader, err := openReader(context.Background())
	require.NoError(t, err)
	t.Cleanup(func() { reader.Close() }) //nolint:errcheck

	metrics := monitoring.NewMetrics()
	src := guardReader(reader, func(_, to resilience.CircuitState) { metrics.SetCircuitState(to) })
	return buildRouter(newEngine(src, hotspot.WithObserver(metrics)), src, metrics), metrics
}

func TestHealthEndpoint(t *testing.T) {
	h, _ := serveTestRouter(t)

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/health", nil))

	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Header().Get("Content-Type"), "application/json")

	var body map[string]bool
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	assert.True(t, body["ok"])
}

func TestHotspotsEndpoint_RecordsMetrics(t *testing.T) {
	h, metrics := serveTestRouter(t)

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/hotspots?type=Pothole&minPoints=5", nil))
	require.Equal(t, http.StatusOK, rr.Code)

	var body struct {
		Rows []hotspot.Cluster `json:"rows"`
	}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	require.Len(t, body.Rows, 1)
	assert.Equal(t, 12, body.Rows[0].Count)

	completed, failed := metrics.Totals()
	assert.Equal(t, int64(1), completed)
	assert.Zero(t, failed)

	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), `hotspots_runs_total{kind="dbscan"} 1`)
}

func TestAnalyticsEndpoint_SQLite(t *testing.T) {
	h, _ := serveTestRouter(t)

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/analytics/top-types?limit=1", nil))
	require.Equal(t, http.StatusOK, rr.Code)
	assert.JSONEq(t, `{"filters":{"from":null,"to":null,"limit":1},"rows":[{"type":"Pothole","count":15}]}`, rr.Body.String())
}

type downReader struct{ source.Reader }

func (downReader) Points(context.Context, hotspot.Window, string) ([]hotspot.Point, error) {
	return nil, resilience.NewTransientError(errors.New("connection refused"))
}

func TestGuardReader_BreakerReportsState(t *testing.T) {
	useSQLiteConfig(t)
	cfg.Circuit.FailureThreshold = 1

	var states []resilience.CircuitState
	src := guardReader(downReader{source.NewMemory(nil)}, func(_, to resilience.CircuitState) {
		states = append(states, to)
	})

	_, err := src.Points(context.Background(), hotspot.Window{}, "")
	require.Error(t, err)
	assert.Equal(t, []resilience.CircuitState{resilience.CircuitOpen}, states)
	assert.Equal(t, resilience.CircuitOpen, src.Breaker().State())

	// The engine reports an open circuit as retryable, which the API maps to 503.
	_, err = newEngine(src).Grid(context.Background(), hotspot.DefaultParams())
	require.Error(t, err)
	assert.True(t, hotspot.IsRetryable(err))
}

func TestOpenReader_CSV(t *testing.T) {
	useSQLiteConfig(t)
	cfg.Store.Driver = "csv"
	cfg.Store.DatabaseURL = writeExport(t)

	r, err := openReader(context.Background())
	require.NoError(t, err)
	defer r.Close() //nolint:errcheck

	points, err := r.Points(context.Background(), hotspot.Window{}, "Pothole")
	require.NoError(t, err)
	assert.Len(t, points, 2)
}

func TestOpenStore_RejectsCSV(t *testing.T) {
	useSQLiteConfig(t)
	cfg.Store.Driver = "csv"

	_, err := openStore(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported writable store driver")
}
