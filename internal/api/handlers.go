package api

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/sells-group/hotspots/internal/hotspot"
	"github.com/sells-group/hotspots/internal/source"
)

const (
	msgHotspotFailure   = "could not compute hotspots"
	msgAnalyticsFailure = "could not load analytics"
)

type errorBody struct {
	Error string `json:"error"`
}

type indexBody struct {
	Message   string   `json:"message"`
	Endpoints []string `json:"endpoints"`
}

type gridFilters struct {
	From     *string `json:"from"`
	To       *string `json:"to"`
	Type     *string `json:"type"`
	MinCount int     `json:"minCount"`
	Grid     float64 `json:"grid"`
}

type clusterFilters struct {
	From      *string `json:"from"`
	To        *string `json:"to"`
	Type      *string `json:"type"`
	Eps       float64 `json:"eps"`
	MinPoints int     `json:"minPoints"`
}

type topTypesFilters struct {
	From  *string `json:"from"`
	To    *string `json:"to"`
	Limit int     `json:"limit"`
}

type rowsBody[F, R any] struct {
	Filters F   `json:"filters"`
	Rows    []R `json:"rows"`
}

func (h *Handler) index(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, indexBody{
		Message:   "311 Hotspots API",
		Endpoints: endpoints,
	})
}

func (h *Handler) health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

// clusters handles GET /api/hotspots and /api/hotspots/dbscan.
func (h *Handler) clusters(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	params := hotspot.ParseParams(hotspot.RawParams{
		From:       q.Get("from"),
		To:         q.Get("to"),
		Categories: q.Get("type"),
		Epsilon:    q.Get("eps"),
		MinPoints:  q.Get("minPoints"),
	})

	rows, err := h.hotspots.Clusters(r.Context(), params)
	if err != nil {
		writeHotspotError(w, r, "dbscan", err)
		return
	}

	if wantsGeoJSON(r) {
		writeGeoJSON(w, clusterFeatures(rows))
		return
	}
	writeJSON(w, http.StatusOK, rowsBody[clusterFilters, hotspot.Cluster]{
		Filters: clusterFilters{
			From:      isoTime(params.Window.From),
			To:        isoTime(params.Window.To),
			Type:      categoryFilter(params.Categories),
			Eps:       params.EpsilonMeters,
			MinPoints: params.MinPoints,
		},
		Rows: nonNil(rows),
	})
}

// grid handles GET /api/hotspots/grid.
func (h *Handler) grid(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	params := hotspot.ParseParams(hotspot.RawParams{
		From:       q.Get("from"),
		To:         q.Get("to"),
		Categories: q.Get("type"),
		MinCount:   q.Get("minCount"),
		GridSize:   q.Get("grid"),
	})

	rows, err := h.hotspots.Grid(r.Context(), params)
	if err != nil {
		writeHotspotError(w, r, "grid", err)
		return
	}

	if wantsGeoJSON(r) {
		writeGeoJSON(w, gridFeatures(rows))
		return
	}
	writeJSON(w, http.StatusOK, rowsBody[gridFilters, hotspot.GridCell]{
		Filters: gridFilters{
			From:     isoTime(params.Window.From),
			To:       isoTime(params.Window.To),
			Type:     categoryFilter(params.Categories),
			MinCount: params.MinCount,
			Grid:     params.GridSizeMeters,
		},
		Rows: nonNil(rows),
	})
}

func (h *Handler) topTypes(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	win := hotspot.Window{
		From: hotspot.ParseTime(q.Get("from")),
		To:   hotspot.ParseTime(q.Get("to")),
	}
	limit := source.DefaultTopTypes
	if n, ok := hotspot.ParseLeadingInt(q.Get("limit")); ok {
		limit = n
	}
	limit = source.ClampLimit(limit)

	rows, err := h.analytics.TopTypes(r.Context(), win, limit)
	if err != nil {
		writeAnalyticsError(w, r, "top-types", err)
		return
	}
	writeJSON(w, http.StatusOK, rowsBody[topTypesFilters, source.TypeCount]{
		Filters: topTypesFilters{From: isoTime(win.From), To: isoTime(win.To), Limit: limit},
		Rows:    nonNil(rows),
	})
}

func (h *Handler) dateRange(w http.ResponseWriter, r *http.Request) {
	dr, err := h.analytics.DateRange(r.Context())
	if err != nil {
		writeAnalyticsError(w, r, "date-range", err)
		return
	}
	writeJSON(w, http.StatusOK, dr)
}

func (h *Handler) coverage(w http.ResponseWriter, r *http.Request) {
	rows, err := h.analytics.Coverage(r.Context())
	if err != nil {
		writeAnalyticsError(w, r, "type-location-coverage", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string][]source.Coverage{"rows": nonNil(rows)})
}

// writeHotspotError maps engine failures to 503 (retryable) or 500. The
// body is the same either way.
func writeHotspotError(w http.ResponseWriter, r *http.Request, kind string, err error) {
	fields := []zap.Field{
		zap.String("request_id", RequestIDFrom(r.Context())),
		zap.String("kind", kind),
		zap.Error(err),
	}
	if hotspot.IsRetryable(err) {
		zap.L().Warn("api: hotspot request failed", fields...)
		w.Header().Set("Retry-After", "1")
		writeJSON(w, http.StatusServiceUnavailable, errorBody{Error: msgHotspotFailure})
		return
	}
	zap.L().Error("api: hotspot request failed", fields...)
	writeJSON(w, http.StatusInternalServerError, errorBody{Error: msgHotspotFailure})
}

func writeAnalyticsError(w http.ResponseWriter, r *http.Request, query string, err error) {
	zap.L().Error("api: analytics query failed",
		zap.String("request_id", RequestIDFrom(r.Context())),
		zap.String("query", query),
		zap.Error(err),
	)
	writeJSON(w, http.StatusInternalServerError, errorBody{Error: msgAnalyticsFailure})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		zap.L().Warn("api: encode response", zap.Error(err))
	}
}

func isoTime(t *time.Time) *string {
	if t == nil {
		return nil
	}
	s := t.UTC().Format(time.RFC3339Nano)
	return &s
}

func categoryFilter(categories []string) *string {
	if len(categories) == 0 {
		return nil
	}
	s := strings.Join(categories, ",")
	return &s
}

// nonNil keeps empty results encoding as [] rather than null.
func nonNil[T any](rows []T) []T {
	if rows == nil {
		return []T{}
	}
	return rows
}
