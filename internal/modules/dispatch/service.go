// README: Dispatch service assigns the best ranked driver to a confirmed order.
package dispatch

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"fooddash/internal/config"
	"fooddash/internal/errs"
	"fooddash/internal/events"
	"fooddash/internal/telemetry"
	"fooddash/internal/types"
)

var (
	ErrOrderNotFound     = errs.NotFound("order not found")
	ErrNotDispatchable   = errs.Conflict("order is not awaiting a driver")
	ErrDriverTaken       = errs.Conflict("driver is no longer available")
	ErrAlreadyAssigned   = errs.Conflict("order already has a driver")
	ErrNoDriverAvailable = errors.New("no driver available")
)

type Store interface {
	OrderInfo(ctx context.Context, orderID types.ID) (*OrderInfo, error)
	Claim(ctx context.Context, driverID, orderID types.ID) error
	AwaitingDriver(ctx context.Context, before time.Time, limit int) ([]types.ID, error)
}

type Publisher interface {
	Publish(ctx context.Context, e events.Event) error
}

// Unindexer drops a claimed driver from the position index; optional.
type Unindexer interface {
	Remove(ctx context.Context, id types.ID) error
}

type Assignment struct {
	OrderID    types.ID
	Candidate  Candidate
	AssignedAt time.Time
}

type Service struct {
	store  Store
	engine *Engine
	bus    Publisher
	index  Unindexer
	cfg    config.DispatchConfig
	logger *slog.Logger
	now    func() time.Time
}

func NewService(store Store, engine *Engine, bus Publisher, index Unindexer, cfg config.DispatchConfig, logger *slog.Logger) *Service {
	return &Service{
		store:  store,
		engine: engine,
		bus:    bus,
		index:  index,
		cfg:    cfg,
		logger: logger.With("component", "dispatch_service"),
		now:    time.Now,
	}
}

func dispatchable(status string) bool {
	switch status {
	case "confirmed", "preparing", "ready":
		return true
	}
	return false
}

// AssignOrder claims the best ranked driver near the order's delivery point and
// publishes DriverAssigned. ErrNoDriverAvailable is an expected outcome: the
// order stays confirmed without a driver. ErrAlreadyAssigned means another
// caller already dispatched the order.
func (s *Service) AssignOrder(ctx context.Context, orderID types.ID) (*Assignment, error) {
	info, err := s.store.OrderInfo(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if info.DriverID != nil {
		return nil, ErrAlreadyAssigned
	}
	if !dispatchable(info.Status) {
		return nil, ErrNotDispatchable
	}

	cands, err := s.engine.FindNearbyAvailable(ctx, Query{
		Origin:     info.Dropoff,
		RadiusKm:   s.cfg.RadiusKm,
		Limit:      s.cfg.Limit,
		UseRouting: s.cfg.UseRouting,
	})
	if err != nil {
		telemetry.DispatchOutcome(ctx, "error")
		return nil, err
	}

	for _, c := range cands {
		err := s.store.Claim(ctx, c.Driver.ID, orderID)
		switch {
		case errors.Is(err, ErrDriverTaken):
			s.logger.DebugContext(ctx, "candidate taken, trying next", "order_id", orderID, "driver_id", c.Driver.ID)
			continue
		case errors.Is(err, ErrAlreadyAssigned):
			telemetry.DispatchOutcome(ctx, "already_assigned")
			return nil, err
		case err != nil:
			telemetry.DispatchOutcome(ctx, "error")
			return nil, err
		}
		return s.assigned(ctx, orderID, c)
	}

	telemetry.DispatchOutcome(ctx, "no_driver")
	s.logger.WarnContext(ctx, "no driver available", "order_id", orderID, "candidates", len(cands), "radius_km", s.cfg.RadiusKm)
	return nil, ErrNoDriverAvailable
}

func (s *Service) assigned(ctx context.Context, orderID types.ID, c Candidate) (*Assignment, error) {
	telemetry.DispatchOutcome(ctx, "assigned")
	a := &Assignment{OrderID: orderID, Candidate: c, AssignedAt: s.now().UTC()}
	attrs := []any{"order_id", orderID, "driver_id", c.Driver.ID, "distance_km", c.DistanceKm}
	if c.Duration != nil {
		attrs = append(attrs, "route_duration", c.Duration.String())
	}
	s.logger.InfoContext(ctx, "driver assigned", attrs...)

	if s.index != nil {
		if err := s.index.Remove(ctx, c.Driver.ID); err != nil {
			s.logger.WarnContext(ctx, "driver geo index removal failed", "driver_id", c.Driver.ID, "error", err)
		}
	}

	d := c.Driver
	err := s.bus.Publish(ctx, events.DriverAssigned{
		OrderID:  orderID,
		DriverID: d.ID,
		DriverSnapshot: events.DriverSnapshot{
			DriverID: d.ID,
			UserID:   d.UserID,
			Name:     d.Name,
			Phone:    d.Phone,
			Email:    d.Email,
			Vehicle:  d.Vehicle,
			Location: *d.Location,
		},
		DistanceKm: c.DistanceKm,
	})
	return a, err
}

// Redispatch retries assignment for orders left without a driver for longer than minAge.
// It returns how many orders received a driver.
func (s *Service) Redispatch(ctx context.Context, minAge time.Duration, batch int) (int, error) {
	ids, err := s.store.AwaitingDriver(ctx, s.now().Add(-minAge), batch)
	if err != nil {
		return 0, err
	}
	assigned := 0
	for _, id := range ids {
		if ctx.Err() != nil {
			return assigned, ctx.Err()
		}
		a, err := s.AssignOrder(ctx, id)
		switch {
		case a != nil:
			assigned++
			if err != nil {
				s.logger.ErrorContext(ctx, "driver assigned but downstream step failed", "order_id", id, "error", err)
			}
		case errors.Is(err, ErrNoDriverAvailable), errors.Is(err, ErrAlreadyAssigned), errors.Is(err, ErrNotDispatchable):
		case err != nil:
			s.logger.ErrorContext(ctx, "redispatch failed", "order_id", id, "error", err)
		}
	}
	return assigned, nil
}
