package source

import (
	"context"

	"github.com/sells-group/hotspots/internal/hotspot"
	"github.com/sells-group/hotspots/internal/resilience"
)

// Resilient decorates a Reader with retry on transient failures and a
// circuit breaker shared by every read. While the circuit is open reads
// fail fast with resilience.ErrCircuitOpen.
type Resilient struct {
	Reader
	retry   resilience.RetryConfig
	breaker *resilience.CircuitBreaker
}

// NewResilient wraps r. A nil breaker disables circuit breaking.
func NewResilient(r Reader, retry resilience.RetryConfig, breaker *resilience.CircuitBreaker) *Resilient {
	if retry.OnRetry == nil {
		retry.OnRetry = resilience.RetryLogger("source", "read")
	}
	return &Resilient{Reader: r, retry: retry, breaker: breaker}
}

// Breaker returns the circuit breaker guarding reads, if any.
func (r *Resilient) Breaker() *resilience.CircuitBreaker {
	return r.breaker
}

func (r *Resilient) Points(ctx context.Context, w hotspot.Window, category string) ([]hotspot.Point, error) {
	return guarded(ctx, r, func(ctx context.Context) ([]hotspot.Point, error) {
		return r.Reader.Points(ctx, w, category)
	})
}

func (r *Resilient) TopTypes(ctx context.Context, w hotspot.Window, limit int) ([]TypeCount, error) {
	return guarded(ctx, r, func(ctx context.Context) ([]TypeCount, error) {
		return r.Reader.TopTypes(ctx, w, limit)
	})
}

func (r *Resilient) DateRange(ctx context.Context) (DateRange, error) {
	return guarded(ctx, r, r.Reader.DateRange)
}

func (r *Resilient) Coverage(ctx context.Context) ([]Coverage, error) {
	return guarded(ctx, r, r.Reader.Coverage)
}

// guarded runs fn under retry, with each attempt passing through the
// breaker so an opening circuit also ends the retry loop.
func guarded[T any](ctx context.Context, r *Resilient, fn func(context.Context) (T, error)) (T, error) {
	return resilience.DoVal(ctx, r.retry, func(ctx context.Context) (T, error) {
		if r.breaker == nil {
			return fn(ctx)
		}
		return resilience.ExecuteVal(ctx, r.breaker, fn)
	})
}
