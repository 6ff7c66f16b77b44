// README: Dispatch engine ranks available drivers by distance and, optionally, by route duration.
package dispatch

import (
	"cmp"
	"context"
	"log/slog"
	"slices"
	"time"

	"golang.org/x/sync/errgroup"

	"fooddash/internal/errs"
	"fooddash/internal/geo"
	"fooddash/internal/modules/driver"
	"fooddash/internal/routing"
	"fooddash/internal/types"
)

// routeLookupConcurrency bounds parallel routing calls for one query.
const routeLookupConcurrency = 4

var ErrInvalidQuery = errs.Validation("dispatch query needs a valid origin, a positive radius and a positive limit")

// Source yields driver records that may be within radiusKm of origin.
// The engine re-checks availability and distance itself.
type Source interface {
	Available(ctx context.Context, origin types.Point, radiusKm float64) ([]driver.Driver, error)
}

type Query struct {
	Origin     types.Point
	RadiusKm   float64
	Limit      int
	UseRouting bool
}

type Candidate struct {
	Driver     driver.Driver
	DistanceKm float64
	// Duration is nil when routing was not requested or the lookup failed.
	Duration *time.Duration
}

type Engine struct {
	source Source
	router routing.Provider
	logger *slog.Logger
}

// NewEngine builds an engine; router may be nil, which disables route re-sorting.
func NewEngine(source Source, router routing.Provider, logger *slog.Logger) *Engine {
	return &Engine{source: source, router: router, logger: logger.With("component", "dispatch_engine")}
}

// FindNearbyAvailable returns up to q.Limit available drivers within q.RadiusKm of
// q.Origin, nearest first. With q.UseRouting the truncated list is re-ranked by
// route duration; drivers whose lookup failed follow, still in distance order.
func (e *Engine) FindNearbyAvailable(ctx context.Context, q Query) ([]Candidate, error) {
	if !q.Origin.Valid() || q.RadiusKm <= 0 || q.Limit <= 0 {
		return nil, ErrInvalidQuery
	}
	drivers, err := e.source.Available(ctx, q.Origin, q.RadiusKm)
	if err != nil {
		return nil, err
	}

	out := make([]Candidate, 0, len(drivers))
	for _, d := range drivers {
		if !d.Dispatchable() {
			continue
		}
		dist := geo.DistanceKm(q.Origin, *d.Location)
		if dist > q.RadiusKm {
			continue
		}
		out = append(out, Candidate{Driver: d, DistanceKm: dist})
	}
	geo.SortByDistance(out, func(c Candidate) float64 { return c.DistanceKm })
	if len(out) > q.Limit {
		out = out[:q.Limit]
	}

	if q.UseRouting && e.router != nil && len(out) > 0 {
		e.rankByDuration(ctx, q.Origin, out)
	}
	return out, nil
}

func (e *Engine) rankByDuration(ctx context.Context, origin types.Point, cands []Candidate) {
	var g errgroup.Group
	g.SetLimit(routeLookupConcurrency)
	for i := range cands {
		g.Go(func() error {
			d, err := e.router.RouteDuration(ctx, *cands[i].Driver.Location, origin)
			if err != nil {
				e.logger.DebugContext(ctx, "route lookup failed", "driver_id", cands[i].Driver.ID, "error", err)
				return nil
			}
			cands[i].Duration = &d
			return nil
		})
	}
	_ = g.Wait()

	slices.SortStableFunc(cands, func(a, b Candidate) int {
		switch {
		case a.Duration != nil && b.Duration != nil:
			return cmp.Compare(*a.Duration, *b.Duration)
		case a.Duration != nil:
			return -1
		case b.Duration != nil:
			return 1
		default:
			return 0
		}
	})
}

// StoreSource lists every available driver from the primary store.
type StoreSource struct {
	Store interface {
		ListAvailable(ctx context.Context) ([]driver.Driver, error)
	}
}

func (s StoreSource) Available(ctx context.Context, _ types.Point, _ float64) ([]driver.Driver, error) {
	return s.Store.ListAvailable(ctx)
}

// GeoSource narrows candidates with a GEO index before loading them from the store.
// If the index fails it falls back to Fallback.
type GeoSource struct {
	Index interface {
		Nearby(ctx context.Context, p types.Point, radiusKm float64) ([]types.ID, error)
	}
	Store interface {
		ListByIDs(ctx context.Context, ids []types.ID) ([]driver.Driver, error)
	}
	Fallback Source
	Logger   *slog.Logger
}

func (s GeoSource) Available(ctx context.Context, origin types.Point, radiusKm float64) ([]driver.Driver, error) {
	// Redis measures with a slightly larger earth radius; the engine makes the final radius check.
	ids, err := s.Index.Nearby(ctx, origin, radiusKm*1.01)
	if err != nil {
		if s.Logger != nil {
			s.Logger.WarnContext(ctx, "geo index unavailable, scanning store", "error", err)
		}
		return s.Fallback.Available(ctx, origin, radiusKm)
	}
	if len(ids) == 0 {
		return nil, nil
	}
	return s.Store.ListByIDs(ctx, ids)
}
