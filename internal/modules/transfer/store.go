// README: Transfer store; inserts are idempotent per order and recipient type.
package transfer

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"fooddash/internal/types"
)

type PGStore struct {
	db *pgxpool.Pool
}

func NewStore(db *pgxpool.Pool) *PGStore {
	return &PGStore{db: db}
}

func (s *PGStore) Settlement(ctx context.Context, orderID types.ID) (*Settlement, error) {
	var (
		st       Settlement
		driverID *string
	)
	err := s.db.QueryRow(ctx, `
		SELECT id, status, restaurant_id, driver_id, subtotal, delivery_fee, tip, currency
		FROM orders WHERE id = $1`, string(orderID),
	).Scan(&st.OrderID, &st.Status, &st.RestaurantID, &driverID, &st.Subtotal, &st.DeliveryFee, &st.Tip, &st.Currency)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrOrderNotFound
	}
	if err != nil {
		return nil, err
	}
	if driverID != nil {
		id := types.ID(*driverID)
		st.DriverID = &id
	}
	return &st, nil
}

// Insert writes the transfers that do not exist yet and returns how many were new.
func (s *PGStore) Insert(ctx context.Context, ts []Transfer) (int, error) {
	batch := &pgx.Batch{}
	for _, t := range ts {
		batch.Queue(`
			INSERT INTO transfers (id, order_id, recipient_type, recipient_id, amount, currency, status, created_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
			ON CONFLICT ON CONSTRAINT transfers_order_recipient_key DO NOTHING`,
			string(t.ID), string(t.OrderID), string(t.RecipientType), string(t.RecipientID),
			t.Amount, t.Currency, string(t.Status), t.CreatedAt)
	}
	br := s.db.SendBatch(ctx, batch)
	defer br.Close()

	created := 0
	for range ts {
		tag, err := br.Exec()
		if err != nil {
			return created, err
		}
		created += int(tag.RowsAffected())
	}
	return created, nil
}

func (s *PGStore) ForOrder(ctx context.Context, orderID types.ID) ([]Transfer, error) {
	rows, err := s.db.Query(ctx, `
		SELECT id, order_id, recipient_type, recipient_id, amount, currency, status, created_at
		FROM transfers WHERE order_id = $1
		ORDER BY recipient_type DESC`, string(orderID))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Transfer
	for rows.Next() {
		var t Transfer
		if err := rows.Scan(&t.ID, &t.OrderID, &t.RecipientType, &t.RecipientID, &t.Amount, &t.Currency, &t.Status, &t.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}
