// Package jobs runs the periodic background work of the API process on a
// robfig/cron scheduler with second-level specs.
//
// Available jobs:
//
//  1. redispatch: retries driver assignment for paid orders still without a driver
//  2. route_cache_sweep: drops expired entries from the in-memory route cache
//
// Expected business outcomes (nothing to do, no driver in range) are not logged as failures.
package jobs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"
)

// Func is one run of a job. The context is cancelled when the scheduler stops.
type Func func(ctx context.Context) error

// Scheduler owns the cron runner and the jobs registered on it.
type Scheduler struct {
	cron   *cron.Cron
	logger *slog.Logger
	ctx    context.Context
	cancel context.CancelFunc
}

func NewScheduler(logger *slog.Logger) *Scheduler {
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		cron:   cron.New(cron.WithSeconds(), cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger))),
		logger: logger.With("component", "scheduler"),
		ctx:    ctx,
		cancel: cancel,
	}
}

// Add registers fn under spec. Errors matching one of expected are not logged.
func (s *Scheduler) Add(name, spec string, fn Func, expected ...error) error {
	_, err := s.cron.AddFunc(spec, func() {
		start := time.Now()
		err := fn(s.ctx)
		if err == nil || s.ctx.Err() != nil {
			return
		}
		for _, e := range expected {
			if errors.Is(err, e) {
				return
			}
		}
		s.logger.ErrorContext(s.ctx, "job failed", "job", name, "error", err, "elapsed_ms", time.Since(start).Milliseconds())
	})
	if err != nil {
		return fmt.Errorf("schedule %s (%q): %w", name, spec, err)
	}
	s.logger.Info("job scheduled", "job", name, "spec", spec)
	return nil
}

func (s *Scheduler) Start() {
	s.cron.Start()
}

// Stop cancels running jobs and waits for them to return.
func (s *Scheduler) Stop() {
	s.cancel()
	<-s.cron.Stop().Done()
	s.logger.Info("scheduler stopped")
}

type Redispatcher interface {
	Redispatch(ctx context.Context, minAge time.Duration, batch int) (int, error)
}

const (
	redispatchMinAge = 30 * time.Second
	redispatchBatch  = 20
)

// Redispatch retries assignment for orders that have waited at least 30s.
func Redispatch(d Redispatcher, logger *slog.Logger) Func {
	logger = logger.With("component", "redispatch_job")
	return func(ctx context.Context) error {
		n, err := d.Redispatch(ctx, redispatchMinAge, redispatchBatch)
		if n > 0 {
			logger.InfoContext(ctx, "redispatch assigned drivers", "orders", n)
		}
		return err
	}
}

type Sweeper interface {
	Sweep() int
}

func SweepRouteCache(c Sweeper, logger *slog.Logger) Func {
	logger = logger.With("component", "route_cache_sweep")
	return func(ctx context.Context) error {
		if n := c.Sweep(); n > 0 {
			logger.DebugContext(ctx, "expired route durations dropped", "entries", n)
		}
		return nil
	}
}
