// README: Payment service initializes gateway transactions and settles them on verification.
package payment

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"fooddash/internal/config"
	"fooddash/internal/errs"
	"fooddash/internal/events"
	"fooddash/internal/telemetry"
	"fooddash/internal/types"
)

var (
	ErrNotFound           = errs.NotFound("payment not found")
	ErrDuplicateReference = errs.Conflict("payment reference already exists")
	ErrInvalidAmount      = errs.Validation("payment amount must be positive")
	ErrMissingEmail       = errs.Validation("payer email is required")
)

const (
	verifyAttempts = 3
	verifyBackoff  = 200 * time.Millisecond
)

type Store interface {
	Create(ctx context.Context, p *Payment) error
	GetByReference(ctx context.Context, reference string) (*Payment, error)
	LatestForOrder(ctx context.Context, orderID types.ID) (*Payment, error)
	PendingForOrder(ctx context.Context, orderID types.ID) (*Payment, error)
	Complete(ctx context.Context, id types.ID, transactionID string, paidAt time.Time) (bool, error)
	Fail(ctx context.Context, id types.ID, reason string) (bool, error)
}

// Orders is the order-side effect of a settled payment.
type Orders interface {
	ConfirmPayment(ctx context.Context, orderID types.ID) error
	MarkPaymentFailed(ctx context.Context, orderID types.ID) error
}

type Publisher interface {
	Publish(ctx context.Context, e events.Event) error
}

type Service struct {
	store   Store
	gateway Gateway
	orders  Orders
	bus     Publisher
	cfg     config.PaymentConfig
	logger  *slog.Logger
	now     func() time.Time
}

func NewService(store Store, gateway Gateway, orders Orders, bus Publisher, cfg config.PaymentConfig, logger *slog.Logger) *Service {
	return &Service{
		store:   store,
		gateway: gateway,
		orders:  orders,
		bus:     bus,
		cfg:     cfg,
		logger:  logger.With("component", "payment_service"),
		now:     time.Now,
	}
}

type InitCommand struct {
	OrderID     types.ID
	UserID      types.ID
	OrderNumber string
	Email       string
	Amount      types.Money
}

func newReference() string {
	return "fd_" + strings.ReplaceAll(uuid.NewString(), "-", "")
}

// Initialize opens a gateway transaction for the order. An order that already
// has a pending payment gets that payment back instead of a second one.
func (s *Service) Initialize(ctx context.Context, cmd InitCommand) (*Payment, error) {
	if cmd.Amount.Amount <= 0 {
		return nil, ErrInvalidAmount
	}
	if cmd.Email == "" {
		return nil, ErrMissingEmail
	}
	existing, err := s.store.PendingForOrder(ctx, cmd.OrderID)
	switch {
	case err == nil:
		return existing, nil
	case !errors.Is(err, ErrNotFound):
		return nil, err
	}

	ref := newReference()
	res, err := s.gateway.Initialize(ctx, InitRequest{
		Reference:   ref,
		Email:       cmd.Email,
		Amount:      cmd.Amount.Amount,
		Currency:    cmd.Amount.Currency,
		CallbackURL: s.cfg.CallbackURL,
		Metadata:    map[string]string{"order_id": string(cmd.OrderID), "order_number": cmd.OrderNumber},
	})
	if err != nil {
		return nil, errs.Gateway("payment.initialize", err)
	}

	now := s.now().UTC()
	p := &Payment{
		ID:               types.NewID(),
		OrderID:          cmd.OrderID,
		UserID:           cmd.UserID,
		Reference:        ref,
		OrderNumber:      cmd.OrderNumber,
		Amount:           cmd.Amount.Amount,
		Currency:         cmd.Amount.Currency,
		Email:            cmd.Email,
		Status:           StatusPending,
		Provider:         s.gateway.Name(),
		AuthorizationURL: res.AuthorizationURL,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	if err := s.store.Create(ctx, p); err != nil {
		return nil, err
	}
	s.logger.InfoContext(ctx, "payment initialized", "order_id", p.OrderID, "reference", ref, "amount", p.Amount)
	return p, nil
}

// Verify settles a payment by reference. Settled payments are returned as-is,
// so repeated verification never publishes PaymentCompleted twice.
func (s *Service) Verify(ctx context.Context, reference string) (*Payment, error) {
	p, err := s.store.GetByReference(ctx, reference)
	if err != nil {
		return nil, err
	}
	if p.Status != StatusPending {
		return p, nil
	}

	res, err := s.verifyWithRetry(ctx, reference)
	if err != nil {
		return nil, errs.Gateway("payment.verify", err)
	}

	if !res.Succeeded() {
		return s.fail(ctx, p, fmt.Sprintf("gateway status %q: %s", res.Status, res.GatewayResponse))
	}
	if res.Amount != p.Amount {
		return s.fail(ctx, p, fmt.Sprintf("amount mismatch: expected %d, gateway reported %d", p.Amount, res.Amount))
	}
	return s.complete(ctx, p, res)
}

func (s *Service) verifyWithRetry(ctx context.Context, reference string) (*VerifyResult, error) {
	var lastErr error
	for attempt := 1; attempt <= verifyAttempts; attempt++ {
		res, err := s.gateway.Verify(ctx, reference)
		if err == nil {
			return res, nil
		}
		lastErr = err
		s.logger.WarnContext(ctx, "payment verify attempt failed", "reference", reference, "attempt", attempt, "error", err)
		if attempt == verifyAttempts {
			break
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(verifyBackoff * time.Duration(attempt)):
		}
	}
	return nil, lastErr
}

func (s *Service) complete(ctx context.Context, p *Payment, res *VerifyResult) (*Payment, error) {
	orderOpen := true
	if err := s.orders.ConfirmPayment(ctx, p.OrderID); err != nil {
		if !errs.IsKind(err, errs.KindConflict) {
			return nil, err
		}
		orderOpen = false
		s.logger.WarnContext(ctx, "payment captured for an order that can no longer be confirmed",
			"order_id", p.OrderID, "reference", p.Reference, "error", err)
	}

	paidAt := res.PaidAt
	if paidAt.IsZero() {
		paidAt = s.now().UTC()
	}
	won, err := s.store.Complete(ctx, p.ID, res.TransactionID, paidAt)
	if err != nil {
		return nil, err
	}
	if !won {
		return s.store.GetByReference(ctx, p.Reference)
	}

	txn := res.TransactionID
	p.Status, p.TransactionID, p.PaidAt, p.UpdatedAt = StatusCompleted, &txn, &paidAt, s.now().UTC()
	telemetry.PaymentCompleted(ctx)
	s.logger.InfoContext(ctx, "payment completed", "order_id", p.OrderID, "reference", p.Reference, "transaction_id", txn)

	if !orderOpen {
		return p, nil
	}
	if err := s.bus.Publish(ctx, events.PaymentCompleted{
		OrderID:       p.OrderID,
		PaymentID:     p.ID,
		UserID:        p.UserID,
		Amount:        types.NewMoney(p.Amount, p.Currency),
		TransactionID: txn,
		Snapshot: events.PaymentSnapshot{
			Reference:   p.Reference,
			OrderNumber: p.OrderNumber,
			Email:       p.Email,
			PaidAt:      paidAt,
		},
	}); err != nil {
		s.logger.ErrorContext(ctx, "payment completed but downstream step failed", "order_id", p.OrderID, "error", err)
	}
	return p, nil
}

func (s *Service) fail(ctx context.Context, p *Payment, reason string) (*Payment, error) {
	won, err := s.store.Fail(ctx, p.ID, reason)
	if err != nil {
		return nil, err
	}
	if !won {
		return s.store.GetByReference(ctx, p.Reference)
	}
	if err := s.orders.MarkPaymentFailed(ctx, p.OrderID); err != nil {
		s.logger.ErrorContext(ctx, "mark order payment failed", "order_id", p.OrderID, "error", err)
	}
	p.Status, p.FailureReason, p.UpdatedAt = StatusFailed, &reason, s.now().UTC()
	s.logger.WarnContext(ctx, "payment failed", "order_id", p.OrderID, "reference", p.Reference, "reason", reason)

	if err := s.bus.Publish(ctx, events.PaymentFailed{
		OrderID:   p.OrderID,
		PaymentID: p.ID,
		UserID:    p.UserID,
		Reason:    reason,
	}); err != nil {
		s.logger.ErrorContext(ctx, "publish payment failed", "order_id", p.OrderID, "error", err)
	}
	return p, nil
}

func (s *Service) LatestForOrder(ctx context.Context, orderID types.ID) (*Payment, error) {
	return s.store.LatestForOrder(ctx, orderID)
}
