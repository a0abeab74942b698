package main

import (
	"context"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/hotspots/internal/db"
	"github.com/sells-group/hotspots/internal/hotspot"
	"github.com/sells-group/hotspots/internal/resilience"
	"github.com/sells-group/hotspots/internal/source"
)

// openStore opens the configured writable store.
func openStore(ctx context.Context) (source.Store, error) {
	switch cfg.Store.Driver {
	case "postgres":
		pool, err := db.Connect(ctx, cfg.Store.DatabaseURL, db.PoolConfig{
			MaxConns: cfg.Store.MaxConns,
			MinConns: cfg.Store.MinConns,
		})
		if err != nil {
			return nil, eris.Wrap(err, "open postgres store")
		}
		return source.NewPostgres(pool), nil
	case "sqlite":
		st, err := source.NewSQLite(cfg.Store.DatabaseURL)
		if err != nil {
			return nil, eris.Wrap(err, "open sqlite store")
		}
		return st, nil
	default:
		return nil, eris.Errorf("unsupported writable store driver: %s", cfg.Store.Driver)
	}
}

// openReader opens the configured store for reading. The csv driver loads
// an export into memory.
func openReader(ctx context.Context) (source.Reader, error) {
	if cfg.Store.Driver == "csv" {
		return source.OpenCSV(ctx, cfg.Store.DatabaseURL, source.OttawaColumns)
	}
	return openStore(ctx)
}

// guardReader wraps r with the configured retry policy and circuit
// breaker. onState, if set, observes breaker transitions.
func guardReader(r source.Reader, onState func(from, to resilience.CircuitState)) *source.Resilient {
	breakerCfg := resilience.FromCircuitSettings(cfg.Circuit.FailureThreshold, cfg.Circuit.ResetTimeoutSecs)
	breakerCfg.ShouldTrip = resilience.IsTransient
	breakerCfg.OnStateChange = func(from, to resilience.CircuitState) {
		zap.L().Warn("point store circuit changed",
			zap.Stringer("from", from),
			zap.Stringer("to", to),
		)
		if onState != nil {
			onState(from, to)
		}
	}

	retry := resilience.FromSettings(cfg.Retry.MaxAttempts, cfg.Retry.InitialBackoffMs, cfg.Retry.MaxBackoffMs)
	return source.NewResilient(r, retry, resilience.NewCircuitBreaker(breakerCfg))
}

func newEngine(src hotspot.PointSource, opts ...hotspot.Option) *hotspot.Engine {
	return hotspot.NewEngine(src, hotspot.Config{
		MaxConcurrentRuns:     cfg.Hotspot.MaxConcurrentRuns,
		IndexThreshold:        cfg.Hotspot.IndexThreshold,
		GridReferenceLatitude: cfg.Hotspot.GridReferenceLatitude,
	}, opts...)
}
