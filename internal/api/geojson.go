package api

import (
	"net/http"

	"github.com/twpayne/go-geom"
	"github.com/twpayne/go-geom/encoding/geojson"
	"go.uber.org/zap"

	"github.com/sells-group/hotspots/internal/hotspot"
)

const monthLayout = "2006-01"

func wantsGeoJSON(r *http.Request) bool {
	return r.URL.Query().Get("format") == "geojson"
}

func clusterFeatures(rows []hotspot.Cluster) []*geojson.Feature {
	features := make([]*geojson.Feature, 0, len(rows))
	for _, c := range rows {
		var category any
		if c.Category != nil {
			category = *c.Category
		}
		features = append(features, pointFeature(c.Latitude, c.Longitude, map[string]any{
			"category": category,
			"month":    c.Month.Format(monthLayout),
			"count":    c.Count,
		}))
	}
	return features
}

func gridFeatures(rows []hotspot.GridCell) []*geojson.Feature {
	features := make([]*geojson.Feature, 0, len(rows))
	for _, c := range rows {
		features = append(features, pointFeature(c.Latitude, c.Longitude, map[string]any{
			"category": c.Category,
			"month":    c.Month.Format(monthLayout),
			"count":    c.Count,
		}))
	}
	return features
}

// pointFeature builds a GeoJSON point. GeoJSON orders coordinates lon, lat.
func pointFeature(lat, lon float64, props map[string]any) *geojson.Feature {
	return &geojson.Feature{
		Geometry:   geom.NewPointFlat(geom.XY, []float64{lon, lat}),
		Properties: props,
	}
}

func writeGeoJSON(w http.ResponseWriter, features []*geojson.Feature) {
	body, err := (&geojson.FeatureCollection{Features: features}).MarshalJSON()
	if err != nil {
		zap.L().Error("api: encode geojson", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, errorBody{Error: msgHotspotFailure})
		return
	}
	w.Header().Set("Content-Type", "application/geo+json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(body)
}
