package routing

import (
	"context"
	"sync"
	"time"

	"fooddash/internal/geo"
	"fooddash/internal/types"
)

// Fake is a deterministic Provider for tests and local runs. Unless a pair has
// an explicit duration, it derives one from haversine distance at SpeedKmh.
type Fake struct {
	SpeedKmh float64

	mu        sync.Mutex
	durations map[string]time.Duration
	failing   map[string]bool
	calls     int
}

func NewFake(speedKmh float64) *Fake {
	return &Fake{
		SpeedKmh:  speedKmh,
		durations: make(map[string]time.Duration),
		failing:   make(map[string]bool),
	}
}

// SetDuration pins the duration for the unordered pair (a, b).
func (f *Fake) SetDuration(a, b types.Point, d time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.durations[PairKey(a, b)] = d
}

// FailFor makes every lookup touching p fail with ErrUnavailable.
func (f *Fake) FailFor(p types.Point) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failing[pointKey(p)] = true
}

func (f *Fake) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func (f *Fake) RouteDuration(ctx context.Context, from, to types.Point) (time.Duration, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++

	if err := ctx.Err(); err != nil {
		return 0, err
	}
	if f.failing[pointKey(from)] || f.failing[pointKey(to)] {
		return 0, ErrUnavailable
	}
	if d, ok := f.durations[PairKey(from, to)]; ok {
		return d, nil
	}
	speed := f.SpeedKmh
	if speed <= 0 {
		speed = 30
	}
	hours := geo.DistanceKm(from, to) / speed
	return time.Duration(hours * float64(time.Hour)).Round(time.Second), nil
}
