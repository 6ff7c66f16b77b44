// README: Driver service handles availability toggles and location updates.
package driver

import (
	"context"
	"log/slog"
	"time"

	"fooddash/internal/errs"
	"fooddash/internal/types"
)

var (
	ErrNotFound        = errs.NotFound("driver not found")
	ErrDriverBusy      = errs.Conflict("driver has an undelivered order")
	ErrInvalidLocation = errs.Validation("latitude must be within [-90, 90] and longitude within [-180, 180]")
)

type Store interface {
	Get(ctx context.Context, id types.ID) (*Driver, error)
	GetByUser(ctx context.Context, userID types.ID) (*Driver, error)
	SetStatus(ctx context.Context, userID types.ID, status Status) (bool, error)
	UpdateLocation(ctx context.Context, userID types.ID, p types.Point, at time.Time) (bool, error)
}

// Index is a secondary position index; it may be nil.
type Index interface {
	Put(ctx context.Context, id types.ID, p types.Point) error
	Remove(ctx context.Context, id types.ID) error
}

type Service struct {
	store  Store
	index  Index
	logger *slog.Logger
	now    func() time.Time
}

func NewService(store Store, index Index, logger *slog.Logger) *Service {
	return &Service{
		store:  store,
		index:  index,
		logger: logger.With("component", "driver_service"),
		now:    time.Now,
	}
}

func (s *Service) Get(ctx context.Context, id types.ID) (*Driver, error) {
	return s.store.Get(ctx, id)
}

func (s *Service) GetByUser(ctx context.Context, userID types.ID) (*Driver, error) {
	return s.store.GetByUser(ctx, userID)
}

// SetAvailability toggles the caller between available and offline. This is
// also how a busy driver returns to the pool once their order is finished;
// drivers are never released automatically.
func (s *Service) SetAvailability(ctx context.Context, userID types.ID, available bool) (*Driver, error) {
	status := StatusOffline
	if available {
		status = StatusAvailable
	}
	ok, err := s.store.SetStatus(ctx, userID, status)
	if err != nil {
		return nil, err
	}
	d, err := s.store.GetByUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrDriverBusy
	}
	s.syncIndex(ctx, d)
	s.logger.InfoContext(ctx, "driver availability changed", "driver_id", d.ID, "status", d.Status)
	return d, nil
}

func (s *Service) UpdateLocation(ctx context.Context, userID types.ID, p types.Point) (*Driver, error) {
	if !p.Valid() {
		return nil, ErrInvalidLocation
	}
	ok, err := s.store.UpdateLocation(ctx, userID, p, s.now().UTC())
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrNotFound
	}
	d, err := s.store.GetByUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	s.syncIndex(ctx, d)
	return d, nil
}

func (s *Service) syncIndex(ctx context.Context, d *Driver) {
	if s.index == nil {
		return
	}
	var err error
	if d.Dispatchable() {
		err = s.index.Put(ctx, d.ID, *d.Location)
	} else {
		err = s.index.Remove(ctx, d.ID)
	}
	if err != nil {
		s.logger.WarnContext(ctx, "driver geo index update failed", "driver_id", d.ID, "error", err)
	}
}
