package testutil

import (
	"context"
	"testing"

	"github.com/jackc/pgx/v5/pgxpool"

	"fooddash/internal/types"
)

// Seed inserts reference rows for database-backed tests.
type Seed struct {
	t  *testing.T
	db *pgxpool.Pool
}

func NewSeed(t *testing.T, db *pgxpool.Pool) *Seed {
	return &Seed{t: t, db: db}
}

func (s *Seed) exec(sql string, args ...any) {
	s.t.Helper()
	if _, err := s.db.Exec(context.Background(), sql, args...); err != nil {
		s.t.Fatalf("seed: %v", err)
	}
}

func (s *Seed) User(id, name, email string) types.ID {
	s.t.Helper()
	s.exec(`INSERT INTO users (id, name, email, phone) VALUES ($1, $2, $3, '+2348000000000')`, id, name, email)
	return types.ID(id)
}

func (s *Seed) Restaurant(id, ownerID string, deliveryFee int64, active bool) types.ID {
	s.t.Helper()
	s.exec(`INSERT INTO restaurants (id, owner_id, name, email, is_active, delivery_fee, lat, lng)
		VALUES ($1, $2, $3, $4, $5, $6, 6.5244, 3.3792)`,
		id, ownerID, "Restaurant "+id, id+"@restaurants.test", active, deliveryFee)
	return types.ID(id)
}

func (s *Seed) Address(id, userID string, p types.Point) types.ID {
	s.t.Helper()
	s.exec(`INSERT INTO addresses (id, user_id, line, lat, lng) VALUES ($1, $2, '12 Marina Road', $3, $4)`,
		id, userID, p.Lat, p.Lng)
	return types.ID(id)
}

func (s *Seed) MenuItem(id, restaurantID string, price int64) types.ID {
	s.t.Helper()
	s.exec(`INSERT INTO menu_items (id, restaurant_id, name, price) VALUES ($1, $2, $3, $4)`,
		id, restaurantID, "Item "+id, price)
	return types.ID(id)
}

// Driver inserts a user and its driver row; a nil location leaves coordinates unset.
func (s *Seed) Driver(id, status string, loc *types.Point) types.ID {
	s.t.Helper()
	userID := "u_" + id
	s.User(userID, "Driver "+id, id+"@drivers.test")
	var lat, lng *float64
	if loc != nil {
		lat, lng = &loc.Lat, &loc.Lng
	}
	s.exec(`INSERT INTO drivers (id, user_id, vehicle, status, lat, lng, location_updated_at)
		VALUES ($1, $2, 'motorbike', $3, $4, $5, now())`, id, userID, status, lat, lng)
	return types.ID(id)
}

// Scenario is a ready-to-order customer, restaurant and menu.
type Scenario struct {
	UserID       types.ID
	RestaurantID types.ID
	AddressID    types.ID
	ItemA        types.ID
	ItemB        types.ID
	Dropoff      types.Point
}

// OrderScenario seeds a restaurant with a 2.00 delivery fee and items priced 10.00 and 5.00.
func (s *Seed) OrderScenario() Scenario {
	s.t.Helper()
	dropoff := types.Point{Lat: 6.4281, Lng: 3.4219}
	user := s.User("u_customer", "Ada Customer", "ada@customers.test")
	owner := s.User("u_owner", "Ola Owner", "ola@owners.test")
	rest := s.Restaurant("r1", string(owner), 200, true)
	return Scenario{
		UserID:       user,
		RestaurantID: rest,
		AddressID:    s.Address("a1", string(user), dropoff),
		ItemA:        s.MenuItem("m_a", string(rest), 1000),
		ItemB:        s.MenuItem("m_b", string(rest), 500),
		Dropoff:      dropoff,
	}
}

// Order inserts an order for the scenario with a 25.00 subtotal, 2.00 fee,
// 2.00 tax and the given tip. A nil driver leaves the order unassigned.
func (s *Seed) Order(id string, sc Scenario, status string, driverID *types.ID, tip int64) types.ID {
	s.t.Helper()
	var driver *string
	if driverID != nil {
		d := string(*driverID)
		driver = &d
	}
	s.exec(`INSERT INTO orders (id, order_number, user_id, restaurant_id, driver_id, address_id, delivery_address,
			delivery_lat, delivery_lng, status, subtotal, delivery_fee, tax, tip, total, currency,
			payment_method, payment_status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, '12 Marina Road', $7, $8, $9, 2500, 200, 200, $10, $11, 'NGN',
			'card', 'completed', now(), now())`,
		id, "ORD-"+id, string(sc.UserID), string(sc.RestaurantID), driver, string(sc.AddressID),
		sc.Dropoff.Lat, sc.Dropoff.Lng, status, tip, 2900+tip)
	return types.ID(id)
}

// AssignDriver attaches an existing driver to an order.
func (s *Seed) AssignDriver(orderID, driverID types.ID) {
	s.t.Helper()
	s.exec(`UPDATE orders SET driver_id = $1 WHERE id = $2`, string(driverID), string(orderID))
}
