package monitoring

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// Snapshot holds a point-in-time view of service health. Counts cover the
// interval since the previous snapshot.
type Snapshot struct {
	Completed int64   `json:"completed"`
	Failed    int64   `json:"failed"`
	FailRate  float64 `json:"fail_rate"`
	StoreUp   bool    `json:"store_up"`
	StoreErr  string  `json:"store_error,omitempty"`

	IntervalSecs int       `json:"interval_secs"`
	CollectedAt  time.Time `json:"collected_at"`
}

// Pinger is the store health probe the collector needs.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Collector turns cumulative metric totals into interval snapshots.
type Collector struct {
	metrics *Metrics
	store   Pinger

	lastAt                  time.Time
	lastCompleted, lastFail int64
	nowFunc                 func() time.Time
}

// NewCollector creates a new snapshot collector.
func NewCollector(m *Metrics, store Pinger) *Collector {
	return &Collector{metrics: m, store: store, nowFunc: time.Now}
}

// Collect pings the store and diffs the metric totals against the last
// call. It is not safe for concurrent use; the Checker calls it from one
// goroutine.
func (c *Collector) Collect(ctx context.Context) *Snapshot {
	now := c.nowFunc().UTC()
	completed, failed := c.metrics.Totals()

	snap := &Snapshot{
		Completed:   completed - c.lastCompleted,
		Failed:      failed - c.lastFail,
		StoreUp:     true,
		CollectedAt: now,
	}
	if !c.lastAt.IsZero() {
		snap.IntervalSecs = int(now.Sub(c.lastAt).Seconds())
	}
	if finished := snap.Completed + snap.Failed; finished > 0 {
		snap.FailRate = float64(snap.Failed) / float64(finished)
	}

	if c.store != nil {
		if err := c.store.Ping(ctx); err != nil {
			snap.StoreUp = false
			snap.StoreErr = err.Error()
			zap.L().Warn("monitoring: store ping failed", zap.Error(err))
		}
	}
	c.metrics.SetStoreUp(snap.StoreUp)

	c.lastAt, c.lastCompleted, c.lastFail = now, completed, failed
	return snap
}
