package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/sells-group/hotspots/internal/hotspot"
	"github.com/sells-group/hotspots/internal/source"
)

func init() {
	zap.ReplaceGlobals(zap.NewNop())
}

type fakeService struct {
	clusters []hotspot.Cluster
	cells    []hotspot.GridCell
	err      error

	gotParams hotspot.Params
	deadline  bool
}

func (f *fakeService) Clusters(ctx context.Context, p hotspot.Params) ([]hotspot.Cluster, error) {
	f.gotParams = p
	_, f.deadline = ctx.Deadline()
	return f.clusters, f.err
}

func (f *fakeService) Grid(ctx context.Context, p hotspot.Params) ([]hotspot.GridCell, error) {
	f.gotParams = p
	_, f.deadline = ctx.Deadline()
	return f.cells, f.err
}

type failingAnalytics struct{}

func (failingAnalytics) TopTypes(context.Context, hotspot.Window, int) ([]source.TypeCount, error) {
	return nil, errors.New("relation does not exist")
}

func (failingAnalytics) DateRange(context.Context) (source.DateRange, error) {
	return source.DateRange{}, errors.New("relation does not exist")
}

func (failingAnalytics) Coverage(context.Context) ([]source.Coverage, error) {
	return nil, errors.New("relation does not exist")
}

var jan = time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

func ptrTime(t time.Time) *time.Time { return &t }
func ptrFloat(f float64) *float64   { return &f }

func analyticsRecords() []source.Record {
	at := time.Date(2025, 1, 15, 9, 0, 0, 0, time.UTC)
	return []source.Record{
		{ID: "1", Category: "Pothole", RequestedAt: ptrTime(at), Latitude: ptrFloat(45.42), Longitude: ptrFloat(-75.69)},
		{ID: "2", Category: "Pothole", RequestedAt: ptrTime(at.Add(time.Hour))},
		{ID: "3", Category: "Graffiti", RequestedAt: ptrTime(at), Latitude: ptrFloat(45.41), Longitude: ptrFloat(-75.70)},
	}
}

func newTestRouter(svc HotspotService, opts Options) http.Handler {
	return NewRouter(svc, source.NewMemory(analyticsRecords()), opts)
}

func get(t *testing.T, h http.Handler, target string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, target, nil))
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body), rec.Body.String())
	return body
}

func TestHealth(t *testing.T) {
	rec := get(t, newTestRouter(&fakeService{}, Options{}), "/health")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"ok":true}`, rec.Body.String())
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
}

func TestIndex(t *testing.T) {
	rec := get(t, newTestRouter(&fakeService{}, Options{}), "/")
	assert.Equal(t, http.StatusOK, rec.Code)

	body := decode(t, rec)
	assert.NotEmpty(t, body["message"])
	assert.Contains(t, body["endpoints"], "/api/hotspots/grid")
}

func TestNotFound(t *testing.T) {
	rec := get(t, newTestRouter(&fakeService{}, Options{}), "/nope")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.JSONEq(t, `{"error":"not found"}`, rec.Body.String())
}

func TestRequestID(t *testing.T) {
	h := newTestRouter(&fakeService{}, Options{})

	rec := get(t, h, "/health")
	assert.Len(t, rec.Header().Get(requestIDHeader), 36)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set(requestIDHeader, "abc-123")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, "abc-123", rec.Header().Get(requestIDHeader))
}

func TestClusters_EchoesClampedFilters(t *testing.T) {
	pothole := "Pothole"
	svc := &fakeService{clusters: []hotspot.Cluster{
		{Category: &pothole, Month: jan, Latitude: 45.42, Longitude: -75.69, Count: 12},
	}}
	h := newTestRouter(svc, Options{})

	for _, path := range []string{"/api/hotspots", "/api/hotspots/dbscan"} {
		t.Run(path, func(t *testing.T) {
			rec := get(t, h, path+"?from=2025-01-01&type=Pothole,%20Pothole&eps=5&minPoints=abc")
			require.Equal(t, http.StatusOK, rec.Code)

			body := decode(t, rec)
			filters := body["filters"].(map[string]any)
			assert.Equal(t, "2025-01-01T00:00:00Z", filters["from"])
			assert.Nil(t, filters["to"])
			assert.Equal(t, "Pothole", filters["type"])
			assert.EqualValues(t, hotspot.MinEpsilonMeters, filters["eps"])
			assert.EqualValues(t, hotspot.DefaultMinPoints, filters["minPoints"])

			rows := body["rows"].([]any)
			require.Len(t, rows, 1)
			row := rows[0].(map[string]any)
			assert.Equal(t, "Pothole", row["category"])
			assert.EqualValues(t, 12, row["count"])
			assert.Equal(t, "2025-01-01T00:00:00Z", row["month"])

			assert.Equal(t, []string{"Pothole"}, svc.gotParams.Categories)
			assert.Equal(t, hotspot.MinEpsilonMeters, svc.gotParams.EpsilonMeters)
		})
	}
}

func TestClusters_PooledRowsHaveNullCategory(t *testing.T) {
	svc := &fakeService{clusters: []hotspot.Cluster{{Month: jan, Count: 3}}}
	rec := get(t, newTestRouter(svc, Options{}), "/api/hotspots/dbscan")
	require.Equal(t, http.StatusOK, rec.Code)

	body := decode(t, rec)
	assert.Nil(t, body["filters"].(map[string]any)["type"])
	row := body["rows"].([]any)[0].(map[string]any)
	assert.Contains(t, row, "category")
	assert.Nil(t, row["category"])
}

func TestGrid_EchoesClampedFilters(t *testing.T) {
	svc := &fakeService{cells: []hotspot.GridCell{
		{Category: "Graffiti", Month: jan, Latitude: 45.41, Longitude: -75.70, Count: 40, CellX: 3, CellY: 4},
	}}
	rec := get(t, newTestRouter(svc, Options{}), "/api/hotspots/grid?minCount=0&grid=99999&to=2025-03-01T00:00:00Z")
	require.Equal(t, http.StatusOK, rec.Code)

	body := decode(t, rec)
	filters := body["filters"].(map[string]any)
	assert.Nil(t, filters["from"])
	assert.Equal(t, "2025-03-01T00:00:00Z", filters["to"])
	assert.EqualValues(t, hotspot.MinMinCount, filters["minCount"])
	assert.EqualValues(t, hotspot.MaxGridSizeMeters, filters["grid"])

	row := body["rows"].([]any)[0].(map[string]any)
	assert.NotContains(t, row, "CellX")
	assert.EqualValues(t, 40, row["count"])
}

func TestHotspots_EmptyRowsIsArray(t *testing.T) {
	rec := get(t, newTestRouter(&fakeService{cells: []hotspot.GridCell{}}, Options{}), "/api/hotspots/grid")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []any{}, decode(t, rec)["rows"])
}

func TestHotspots_ErrorMapping(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
		retryAfter string
	}{
		{"retryable", context.DeadlineExceeded, http.StatusServiceUnavailable, "1"},
		{"contract violation", hotspot.NewContractViolation("grid", "point 0 has latitude NaN"), http.StatusInternalServerError, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newTestRouter(&fakeService{err: tt.err}, Options{})
			for _, path := range []string{"/api/hotspots/grid", "/api/hotspots/dbscan"} {
				rec := get(t, h, path)
				assert.Equal(t, tt.wantStatus, rec.Code, path)
				assert.Equal(t, tt.retryAfter, rec.Header().Get("Retry-After"), path)
				assert.JSONEq(t, `{"error":"could not compute hotspots"}`, rec.Body.String(), path)
			}
		})
	}
}

func TestHotspots_RequestTimeout(t *testing.T) {
	svc := &fakeService{}
	get(t, newTestRouter(svc, Options{RequestTimeout: time.Second}), "/api/hotspots/grid")
	assert.True(t, svc.deadline)

	svc = &fakeService{}
	get(t, newTestRouter(svc, Options{}), "/api/hotspots/grid")
	assert.False(t, svc.deadline)
}

func TestRateLimit(t *testing.T) {
	h := newTestRouter(&fakeService{}, Options{RateLimit: 0.001, RateBurst: 2})

	assert.Equal(t, http.StatusOK, get(t, h, "/api/hotspots/grid").Code)
	assert.Equal(t, http.StatusOK, get(t, h, "/api/hotspots/grid").Code)

	rec := get(t, h, "/api/hotspots/grid")
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "1", rec.Header().Get("Retry-After"))

	// Health checks are never throttled.
	assert.Equal(t, http.StatusOK, get(t, h, "/health").Code)
}

func TestCORS(t *testing.T) {
	h := newTestRouter(&fakeService{}, Options{AllowedOrigins: []string{"https://maps.example.org"}})

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set("Origin", "https://maps.example.org")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, "https://maps.example.org", rec.Header().Get("Access-Control-Allow-Origin"))

	req = httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set("Origin", "https://elsewhere.example.com")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestMetricsMount(t *testing.T) {
	rec := get(t, newTestRouter(&fakeService{}, Options{}), "/metrics")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	metrics := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("hotspots_runs_total 0\n"))
	})
	rec = get(t, newTestRouter(&fakeService{}, Options{Metrics: metrics}), "/metrics")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "hotspots_runs_total")
}

func TestRecoverer(t *testing.T) {
	rec := get(t, newTestRouter(panickingService{}, Options{}), "/api/hotspots/grid")
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

type panickingService struct{}

func (panickingService) Clusters(context.Context, hotspot.Params) ([]hotspot.Cluster, error) {
	panic("boom")
}

func (panickingService) Grid(context.Context, hotspot.Params) ([]hotspot.GridCell, error) {
	panic("boom")
}
