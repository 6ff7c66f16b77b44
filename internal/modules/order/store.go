// README: Order store backed by PostgreSQL; every mutation runs inside one pgx transaction.
package order

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"fooddash/internal/types"
)

type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type PGStore struct {
	db *pgxpool.Pool
}

func NewStore(db *pgxpool.Pool) *PGStore {
	return &PGStore{db: db}
}

func (s *PGStore) WithinTx(ctx context.Context, fn func(tx Tx) error) error {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if err := fn(&pgTx{tx: tx}); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

const orderColumns = `
	o.id, o.order_number, o.user_id, o.restaurant_id, o.driver_id, o.address_id,
	o.delivery_address, o.delivery_lat, o.delivery_lng,
	o.status, o.status_version,
	o.subtotal, o.delivery_fee, o.tax, o.discount, o.tip, o.total, o.currency,
	o.payment_method, o.payment_status, o.delivery_type, o.scheduled_for,
	o.estimated_delivery_minutes, o.notes, o.cancel_reason,
	o.created_at, o.updated_at, o.delivered_at,
	r.owner_id, d.user_id`

const orderFrom = `
	FROM orders o
	JOIN restaurants r ON r.id = o.restaurant_id
	LEFT JOIN drivers d ON d.id = o.driver_id`

func scanOrder(row pgx.Row) (*Order, error) {
	var (
		o          Order
		driverID   *string
		driverUser *string
	)
	err := row.Scan(
		&o.ID, &o.OrderNumber, &o.UserID, &o.RestaurantID, &driverID, &o.AddressID,
		&o.DeliveryAddress, &o.DeliveryPoint.Lat, &o.DeliveryPoint.Lng,
		&o.Status, &o.StatusVersion,
		&o.Amounts.Subtotal, &o.Amounts.DeliveryFee, &o.Amounts.Tax, &o.Amounts.Discount, &o.Amounts.Tip, &o.Amounts.Total, &o.Currency,
		&o.PaymentMethod, &o.PaymentStatus, &o.DeliveryType, &o.ScheduledFor,
		&o.EstimatedDeliveryMinutes, &o.Notes, &o.CancelReason,
		&o.CreatedAt, &o.UpdatedAt, &o.DeliveredAt,
		&o.Access.RestaurantOwnerID, &driverUser,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	o.DriverID = toIDPtr(driverID)
	o.Access.DriverUserID = toIDPtr(driverUser)
	return &o, nil
}

func getOrder(ctx context.Context, q querier, id types.ID, forUpdate bool) (*Order, error) {
	sql := `SELECT ` + orderColumns + orderFrom + ` WHERE o.id = $1`
	if forUpdate {
		sql += ` FOR UPDATE OF o`
	}
	return scanOrder(q.QueryRow(ctx, sql, string(id)))
}

func (s *PGStore) Get(ctx context.Context, id types.ID) (*Order, error) {
	return getOrder(ctx, s.db, id, false)
}

func (s *PGStore) Items(ctx context.Context, orderID types.ID) ([]Item, error) {
	rows, err := s.db.Query(ctx, `
		SELECT id, order_id, menu_item_id, name, quantity, unit_price, special_instructions
		FROM order_items
		WHERE order_id = $1
		ORDER BY position`, string(orderID))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []Item
	for rows.Next() {
		var it Item
		if err := rows.Scan(&it.ID, &it.OrderID, &it.MenuItemID, &it.Name, &it.Quantity, &it.UnitPrice, &it.SpecialInstructions); err != nil {
			return nil, err
		}
		items = append(items, it)
	}
	return items, rows.Err()
}

func (s *PGStore) Tracking(ctx context.Context, orderID types.ID) ([]Tracking, error) {
	rows, err := s.db.Query(ctx, `
		SELECT id, order_id, status, message, lat, lng, created_at
		FROM order_tracking
		WHERE order_id = $1
		ORDER BY id`, string(orderID))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Tracking
	for rows.Next() {
		var (
			t        Tracking
			lat, lng *float64
		)
		if err := rows.Scan(&t.ID, &t.OrderID, &t.Status, &t.Message, &lat, &lng, &t.CreatedAt); err != nil {
			return nil, err
		}
		if lat != nil && lng != nil {
			t.Location = &types.Point{Lat: *lat, Lng: *lng}
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func (s *PGStore) Contacts(ctx context.Context, orderID types.ID) (*Contacts, error) {
	var c Contacts
	err := s.db.QueryRow(ctx, `
		SELECT o.order_number,
		       u.id, u.name, u.email,
		       r.id, r.name, r.email
		FROM orders o
		JOIN users u ON u.id = o.user_id
		JOIN restaurants r ON r.id = o.restaurant_id
		WHERE o.id = $1`, string(orderID),
	).Scan(
		&c.OrderNumber,
		&c.Customer.ID, &c.Customer.Name, &c.Customer.Email,
		&c.Restaurant.ID, &c.Restaurant.Name, &c.Restaurant.Email,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}

type pgTx struct {
	tx pgx.Tx
}

func (t *pgTx) Restaurant(ctx context.Context, id types.ID) (*Restaurant, error) {
	var r Restaurant
	err := t.tx.QueryRow(ctx, `
		SELECT id, owner_id, name, email, is_active, delivery_fee, prep_minutes
		FROM restaurants
		WHERE id = $1`, string(id),
	).Scan(&r.ID, &r.OwnerID, &r.Name, &r.Email, &r.IsActive, &r.DeliveryFee, &r.PrepMinutes)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrRestaurantNotFound
	}
	if err != nil {
		return nil, err
	}
	return &r, nil
}

func (t *pgTx) Address(ctx context.Context, id types.ID) (*Address, error) {
	var a Address
	err := t.tx.QueryRow(ctx, `
		SELECT id, user_id, line, lat, lng
		FROM addresses
		WHERE id = $1`, string(id),
	).Scan(&a.ID, &a.UserID, &a.Line, &a.Point.Lat, &a.Point.Lng)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrAddressNotFound
	}
	if err != nil {
		return nil, err
	}
	return &a, nil
}

// MenuItems returns the requested items that belong to restaurantID, keyed by id.
// Items of other restaurants are simply absent from the result.
func (t *pgTx) MenuItems(ctx context.Context, restaurantID types.ID, ids []types.ID) (map[types.ID]MenuItem, error) {
	raw := make([]string, len(ids))
	for i, id := range ids {
		raw[i] = string(id)
	}
	rows, err := t.tx.Query(ctx, `
		SELECT id, restaurant_id, name, price, is_available
		FROM menu_items
		WHERE restaurant_id = $1 AND id = ANY($2)`, string(restaurantID), raw)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[types.ID]MenuItem, len(ids))
	for rows.Next() {
		var m MenuItem
		if err := rows.Scan(&m.ID, &m.RestaurantID, &m.Name, &m.Price, &m.IsAvailable); err != nil {
			return nil, err
		}
		out[m.ID] = m
	}
	return out, rows.Err()
}

func (t *pgTx) Customer(ctx context.Context, id types.ID) (*Customer, error) {
	var c Customer
	err := t.tx.QueryRow(ctx, `SELECT id, name, email FROM users WHERE id = $1`, string(id)).
		Scan(&c.ID, &c.Name, &c.Email)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrUserNotFound
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}

func (t *pgTx) InsertOrder(ctx context.Context, o *Order) error {
	_, err := t.tx.Exec(ctx, `
		INSERT INTO orders (
			id, order_number, user_id, restaurant_id, address_id,
			delivery_address, delivery_lat, delivery_lng,
			status, status_version,
			subtotal, delivery_fee, tax, discount, tip, total, currency,
			payment_method, payment_status, delivery_type, scheduled_for,
			estimated_delivery_minutes, notes, created_at, updated_at
		) VALUES (
			$1, $2, $3, $4, $5,
			$6, $7, $8,
			$9, $10,
			$11, $12, $13, $14, $15, $16, $17,
			$18, $19, $20, $21,
			$22, $23, $24, $25
		)`,
		string(o.ID), o.OrderNumber, string(o.UserID), string(o.RestaurantID), string(o.AddressID),
		o.DeliveryAddress, o.DeliveryPoint.Lat, o.DeliveryPoint.Lng,
		string(o.Status), o.StatusVersion,
		o.Amounts.Subtotal, o.Amounts.DeliveryFee, o.Amounts.Tax, o.Amounts.Discount, o.Amounts.Tip, o.Amounts.Total, o.Currency,
		o.PaymentMethod, string(o.PaymentStatus), string(o.DeliveryType), o.ScheduledFor,
		o.EstimatedDeliveryMinutes, o.Notes, o.CreatedAt, o.UpdatedAt,
	)
	if isUniqueViolation(err, "orders_order_number_key") {
		return ErrDuplicateNumber
	}
	return err
}

func (t *pgTx) InsertItems(ctx context.Context, items []Item) error {
	batch := &pgx.Batch{}
	for i, it := range items {
		batch.Queue(`
			INSERT INTO order_items (id, order_id, menu_item_id, name, quantity, unit_price, special_instructions, position)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
			string(it.ID), string(it.OrderID), string(it.MenuItemID), it.Name, it.Quantity, it.UnitPrice, it.SpecialInstructions, i,
		)
	}
	return t.tx.SendBatch(ctx, batch).Close()
}

func (t *pgTx) AppendTracking(ctx context.Context, tr *Tracking) error {
	var lat, lng *float64
	if tr.Location != nil {
		lat, lng = &tr.Location.Lat, &tr.Location.Lng
	}
	return t.tx.QueryRow(ctx, `
		INSERT INTO order_tracking (order_id, status, message, lat, lng, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id`,
		string(tr.OrderID), string(tr.Status), tr.Message, lat, lng, tr.CreatedAt,
	).Scan(&tr.ID)
}

func (t *pgTx) GetForUpdate(ctx context.Context, id types.ID) (*Order, error) {
	return getOrder(ctx, t.tx, id, true)
}

// UpdateStatus applies the transition only if status and version are unchanged.
func (t *pgTx) UpdateStatus(ctx context.Context, u StatusUpdate) (bool, error) {
	tag, err := t.tx.Exec(ctx, `
		UPDATE orders
		SET status = $1,
		    status_version = status_version + 1,
		    updated_at = $2,
		    delivered_at = CASE WHEN $1 = 'delivered' THEN $2 ELSE delivered_at END,
		    cancel_reason = COALESCE($3, cancel_reason)
		WHERE id = $4 AND status = $5 AND status_version = $6`,
		string(u.To), u.At, u.CancelReason, string(u.OrderID), string(u.From), u.Version,
	)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func (t *pgTx) SetPaymentStatus(ctx context.Context, id types.ID, status PaymentStatus) error {
	tag, err := t.tx.Exec(ctx, `UPDATE orders SET payment_status = $1, updated_at = now() WHERE id = $2`,
		string(status), string(id))
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("set payment status: %w", ErrNotFound)
	}
	return nil
}

func isUniqueViolation(err error, constraint string) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505" && (constraint == "" || pgErr.ConstraintName == constraint)
}

func toIDPtr(s *string) *types.ID {
	if s == nil {
		return nil
	}
	id := types.ID(*s)
	return &id
}
