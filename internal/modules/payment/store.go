// README: Payment store backed by Postgres; status changes are compare-and-set on pending.
package payment

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"fooddash/internal/types"
)

type PGStore struct {
	db *pgxpool.Pool
}

func NewStore(db *pgxpool.Pool) *PGStore {
	return &PGStore{db: db}
}

const paymentColumns = `
	id, order_id, user_id, reference, order_number, amount, currency, email, status, provider,
	authorization_url, transaction_id, failure_reason, created_at, updated_at, paid_at`

func scanPayment(row pgx.Row) (*Payment, error) {
	var p Payment
	err := row.Scan(
		&p.ID, &p.OrderID, &p.UserID, &p.Reference, &p.OrderNumber, &p.Amount, &p.Currency, &p.Email, &p.Status, &p.Provider,
		&p.AuthorizationURL, &p.TransactionID, &p.FailureReason, &p.CreatedAt, &p.UpdatedAt, &p.PaidAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (s *PGStore) Create(ctx context.Context, p *Payment) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO payments (
			id, order_id, user_id, reference, order_number, amount, currency, email, status, provider,
			authorization_url, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
		string(p.ID), string(p.OrderID), string(p.UserID), p.Reference, p.OrderNumber, p.Amount, p.Currency, p.Email,
		string(p.Status), p.Provider, p.AuthorizationURL, p.CreatedAt, p.UpdatedAt,
	)
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return ErrDuplicateReference
	}
	return err
}

func (s *PGStore) GetByReference(ctx context.Context, reference string) (*Payment, error) {
	return scanPayment(s.db.QueryRow(ctx, `SELECT `+paymentColumns+` FROM payments WHERE reference = $1`, reference))
}

func (s *PGStore) LatestForOrder(ctx context.Context, orderID types.ID) (*Payment, error) {
	return scanPayment(s.db.QueryRow(ctx, `
		SELECT `+paymentColumns+` FROM payments
		WHERE order_id = $1
		ORDER BY created_at DESC
		LIMIT 1`, string(orderID)))
}

func (s *PGStore) PendingForOrder(ctx context.Context, orderID types.ID) (*Payment, error) {
	return scanPayment(s.db.QueryRow(ctx, `
		SELECT `+paymentColumns+` FROM payments
		WHERE order_id = $1 AND status = 'pending'
		ORDER BY created_at DESC
		LIMIT 1`, string(orderID)))
}

// Complete moves a pending payment to completed; false means it was no longer pending.
func (s *PGStore) Complete(ctx context.Context, id types.ID, transactionID string, paidAt time.Time) (bool, error) {
	tag, err := s.db.Exec(ctx, `
		UPDATE payments
		SET status = 'completed', transaction_id = $1, paid_at = $2, updated_at = now()
		WHERE id = $3 AND status = 'pending'`, transactionID, paidAt, string(id))
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

// Fail moves a pending payment to failed; false means it was no longer pending.
func (s *PGStore) Fail(ctx context.Context, id types.ID, reason string) (bool, error) {
	tag, err := s.db.Exec(ctx, `
		UPDATE payments
		SET status = 'failed', failure_reason = $1, updated_at = now()
		WHERE id = $2 AND status = 'pending'`, reason, string(id))
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}
