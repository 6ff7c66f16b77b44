// README: Routing provider contract and the cache-first lookup used by dispatch.
package routing

import (
	"context"
	"errors"
	"time"

	"fooddash/internal/errs"
	"fooddash/internal/telemetry"
	"fooddash/internal/types"
)

// Provider returns the driving duration between two points.
type Provider interface {
	RouteDuration(ctx context.Context, from, to types.Point) (time.Duration, error)
}

var ErrUnavailable = errs.Gateway("routing", errors.New("route unavailable"))

// Cached wraps a Provider with a DurationCache. Lookups hit the cache first;
// provider results are written back, provider failures are not cached.
type Cached struct {
	provider Provider
	cache    DurationCache
	timeout  time.Duration
}

func NewCached(provider Provider, cache DurationCache, timeout time.Duration) *Cached {
	return &Cached{provider: provider, cache: cache, timeout: timeout}
}

func (c *Cached) RouteDuration(ctx context.Context, from, to types.Point) (time.Duration, error) {
	if c.cache != nil {
		if d, ok, err := c.cache.Get(ctx, from, to); err == nil && ok {
			telemetry.RoutingLookup(ctx, "cache")
			return d, nil
		}
	}

	callCtx := ctx
	if c.timeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}
	d, err := c.provider.RouteDuration(callCtx, from, to)
	if err != nil {
		telemetry.RoutingLookup(ctx, "error")
		return 0, err
	}
	telemetry.RoutingLookup(ctx, "provider")

	if c.cache != nil {
		_ = c.cache.Set(ctx, from, to, d)
	}
	return d, nil
}
