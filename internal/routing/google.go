package routing

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"googlemaps.github.io/maps"

	"fooddash/internal/errs"
	"fooddash/internal/types"
)

// Google resolves driving durations through the Google Maps Directions API.
type Google struct {
	client  *maps.Client
	timeout time.Duration
}

// NewGoogle creates a Directions-backed provider with the given API key.
func NewGoogle(apiKey string, timeout time.Duration) (*Google, error) {
	client, err := maps.NewClient(maps.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("failed to create maps client: %w", err)
	}
	return &Google{client: client, timeout: timeout}, nil
}

func (g *Google) RouteDuration(ctx context.Context, from, to types.Point) (time.Duration, error) {
	if g.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, g.timeout)
		defer cancel()
	}

	r := &maps.DirectionsRequest{
		Origin:      latLng(from),
		Destination: latLng(to),
		Mode:        maps.TravelModeDriving,
	}

	routes, _, err := g.client.Directions(ctx, r)
	if err != nil {
		return 0, errs.Gateway("routing.directions", err)
	}
	if len(routes) == 0 || len(routes[0].Legs) == 0 {
		return 0, ErrUnavailable
	}

	return routes[0].Legs[0].Duration, nil
}

func latLng(p types.Point) string {
	return strconv.FormatFloat(p.Lat, 'f', 6, 64) + "," + strconv.FormatFloat(p.Lng, 'f', 6, 64)
}
