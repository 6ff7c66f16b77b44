// README: Dispatch store: the atomic driver claim and the queries behind redispatch.
package dispatch

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"fooddash/internal/types"
)

// OrderInfo is the slice of an order dispatch needs.
type OrderInfo struct {
	OrderID  types.ID
	Status   string
	DriverID *types.ID
	Dropoff  types.Point
}

type PGStore struct {
	db *pgxpool.Pool
}

func NewStore(db *pgxpool.Pool) *PGStore {
	return &PGStore{db: db}
}

func (s *PGStore) OrderInfo(ctx context.Context, orderID types.ID) (*OrderInfo, error) {
	var (
		info     OrderInfo
		driverID *string
	)
	err := s.db.QueryRow(ctx, `
		SELECT id, status, driver_id, delivery_lat, delivery_lng
		FROM orders
		WHERE id = $1`, string(orderID),
	).Scan(&info.OrderID, &info.Status, &driverID, &info.Dropoff.Lat, &info.Dropoff.Lng)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrOrderNotFound
	}
	if err != nil {
		return nil, err
	}
	if driverID != nil {
		id := types.ID(*driverID)
		info.DriverID = &id
	}
	return &info, nil
}

// Claim marks the driver busy and attaches them to the order in one transaction.
// The driver update only succeeds while the driver is still available, so two
// concurrent claims of one driver cannot both win.
func (s *PGStore) Claim(ctx context.Context, driverID, orderID types.ID) error {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	tag, err := tx.Exec(ctx, `
		UPDATE drivers SET status = 'busy', updated_at = now()
		WHERE id = $1 AND status = 'available'`, string(driverID))
	if err != nil {
		return err
	}
	if tag.RowsAffected() != 1 {
		return ErrDriverTaken
	}

	tag, err = tx.Exec(ctx, `
		UPDATE orders SET driver_id = $1, updated_at = now()
		WHERE id = $2 AND driver_id IS NULL AND status IN ('confirmed', 'preparing', 'ready')`,
		string(driverID), string(orderID))
	if err != nil {
		return err
	}
	if tag.RowsAffected() != 1 {
		return ErrAlreadyAssigned
	}
	return tx.Commit(ctx)
}

// AwaitingDriver lists paid, dispatchable orders without a driver that were
// created before the cutoff, oldest first.
func (s *PGStore) AwaitingDriver(ctx context.Context, before time.Time, limit int) ([]types.ID, error) {
	rows, err := s.db.Query(ctx, `
		SELECT id FROM orders
		WHERE driver_id IS NULL AND status IN ('confirmed', 'preparing', 'ready')
		  AND payment_status = 'completed'
		  AND created_at < $1
		ORDER BY created_at
		LIMIT $2`, before, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []types.ID
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, types.ID(id))
	}
	return ids, rows.Err()
}
