package main

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/sells-group/hotspots/internal/config"
	"github.com/sells-group/hotspots/internal/source"
)

func init() {
	zap.ReplaceGlobals(zap.NewNop())
}

func TestRootCommand_HasSubcommands(t *testing.T) {
	names := make(map[string]bool)
	for _, c := range rootCmd.Commands() {
		names[c.Name()] = true
	}

	for _, name := range []string{"serve", "clusters", "grid", "migrate", "import"} {
		assert.True(t, names[name], "expected subcommand %q not found", name)
	}
}

func TestRootCommand_Metadata(t *testing.T) {
	assert.Equal(t, "hotspots", rootCmd.Use)
	assert.NotEmpty(t, rootCmd.Short)
	assert.NotEmpty(t, rootCmd.Long)
}

func TestServeCommand_Flags(t *testing.T) {
	flag := serveCmd.Flags().Lookup("port")
	require.NotNil(t, flag, "serve command should have --port flag")
	assert.Equal(t, "0", flag.DefValue)
}

func TestQueryCommands_Flags(t *testing.T) {
	for _, name := range []string{"from", "to", "type", "format", "eps", "min-points"} {
		assert.NotNil(t, clustersCmd.Flags().Lookup(name), "clusters should have --%s", name)
	}
	for _, name := range []string{"from", "to", "type", "format", "min-count", "grid"} {
		assert.NotNil(t, gridCmd.Flags().Lookup(name), "grid should have --%s", name)
	}
	assert.Equal(t, "200", clustersCmd.Flags().Lookup("eps").DefValue)
	assert.Equal(t, "250", gridCmd.Flags().Lookup("grid").DefValue)
}

func TestImportCommand_Flags(t *testing.T) {
	flag := importCmd.Flags().Lookup("url")
	require.NotNil(t, flag)
	assert.Equal(t, OttawaExportURL, flag.DefValue)
	assert.NotNil(t, importCmd.Flags().Lookup("file"))
	assert.Equal(t, "5000", importCmd.Flags().Lookup("batch-size").DefValue)
}

// useSQLiteConfig points the package config at a fresh SQLite file.
func useSQLiteConfig(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "hotspots.db")
	cfg = &config.Config{
		Store:   config.StoreConfig{Driver: "sqlite", DatabaseURL: path},
		Server:  config.ServerConfig{Port: 8080, RequestTimeoutSecs: 5, RateLimit: 100, RateBurst: 100},
		Hotspot: config.HotspotConfig{MaxConcurrentRuns: 2},
		Retry:   config.RetryConfig{MaxAttempts: 1},
		Circuit: config.CircuitConfig{FailureThreshold: 5, ResetTimeoutSecs: 30},
	}
	t.Cleanup(func() { cfg = nil })
	return path
}

func ptrTime(t time.Time) *time.Time { return &t }
func ptrFloat(f float64) *float64   { return &f }

// seedSQLite loads a tight blob of 12 potholes, 3 far outliers and 4
// graffiti reports into the store at path.
func seedSQLite(t *testing.T, path string) {
	t.Helper()
	ctx := context.Background()
	st, err := source.NewSQLite(path)
	require.NoError(t, err)
	defer st.Close() //nolint:errcheck
	require.NoError(t, st.Migrate(ctx))

	at := time.Date(2025, 3, 14, 10, 0, 0, 0, time.UTC)
	var records []source.Record
	add := func(id, category string, lat, lon float64) {
		records = append(records, source.Record{
			ID: id, Category: category, RequestedAt: ptrTime(at),
			Latitude: ptrFloat(lat), Longitude: ptrFloat(lon),
		})
	}
	for i := range 12 {
		add("p"+string(rune('a'+i)), "Pothole", 45.4215+float64(i%4)*0.0002, -75.6972+float64(i/4)*0.0002)
	}
	add("o1", "Pothole", 45.30, -75.90)
	add("o2", "Pothole", 45.50, -75.50)
	add("o3", "Pothole", 45.20, -75.60)
	for i := range 4 {
		add("g"+string(rune('a'+i)), "Graffiti", 45.4300+float64(i)*0.0001, -75.6800)
	}

	_, err = st.Upsert(ctx, records)
	require.NoError(t, err)
}
