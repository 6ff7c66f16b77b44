// README: Transfer service records restaurant and driver payouts once an order is delivered.
package transfer

import (
	"context"
	"log/slog"
	"time"

	"fooddash/internal/errs"
	"fooddash/internal/types"
)

var (
	ErrOrderNotFound = errs.NotFound("order not found")
	ErrNotDelivered  = errs.Conflict("order has not been delivered")
)

type Store interface {
	Settlement(ctx context.Context, orderID types.ID) (*Settlement, error)
	Insert(ctx context.Context, ts []Transfer) (int, error)
	ForOrder(ctx context.Context, orderID types.ID) ([]Transfer, error)
}

type Service struct {
	store  Store
	logger *slog.Logger
	now    func() time.Time
}

func NewService(store Store, logger *slog.Logger) *Service {
	return &Service{
		store:  store,
		logger: logger.With("component", "transfer_service"),
		now:    time.Now,
	}
}

// RecordPayouts creates the pending transfers of a delivered order. Calling it
// again for the same order creates nothing new.
func (s *Service) RecordPayouts(ctx context.Context, orderID types.ID) ([]Transfer, error) {
	st, err := s.store.Settlement(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if st.Status != "delivered" {
		return nil, ErrNotDelivered
	}

	ts := Payouts(*st)
	now := s.now().UTC()
	for i := range ts {
		ts[i].ID = types.NewID()
		ts[i].CreatedAt = now
	}
	created, err := s.store.Insert(ctx, ts)
	if err != nil {
		return nil, err
	}
	if created > 0 {
		s.logger.InfoContext(ctx, "payouts recorded", "order_id", orderID, "created", created)
	}
	return s.store.ForOrder(ctx, orderID)
}

func (s *Service) ForOrder(ctx context.Context, orderID types.ID) ([]Transfer, error) {
	return s.store.ForOrder(ctx, orderID)
}
