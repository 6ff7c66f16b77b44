package dispatch

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"fooddash/internal/modules/driver"
	"fooddash/internal/testutil"
	"fooddash/internal/types"
)

func insertConfirmedOrder(t *testing.T, db *pgxpool.Pool, sc testutil.Scenario, id string) types.ID {
	t.Helper()
	_, err := db.Exec(context.Background(), `
		INSERT INTO orders (id, order_number, user_id, restaurant_id, address_id, delivery_address,
			delivery_lat, delivery_lng, status, subtotal, delivery_fee, tax, total, currency,
			payment_method, payment_status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, '12 Marina Road', $6, $7, 'confirmed', 2500, 200, 200, 2900, 'NGN',
			'card', 'completed', now() - interval '10 minutes', now())`,
		id, "ORD-"+id, string(sc.UserID), string(sc.RestaurantID), string(sc.AddressID), sc.Dropoff.Lat, sc.Dropoff.Lng)
	if err != nil {
		t.Fatalf("insert order: %v", err)
	}
	return types.ID(id)
}

func TestPGClaimIsMutuallyExclusive(t *testing.T) {
	db := testutil.Postgres(t)
	seed := testutil.NewSeed(t, db)
	sc := seed.OrderScenario()
	near := types.Point{Lat: sc.Dropoff.Lat + 0.01, Lng: sc.Dropoff.Lng}
	seed.Driver("d1", "available", &near)

	const orders = 5
	ids := make([]types.ID, orders)
	for i := range ids {
		ids[i] = insertConfirmedOrder(t, db, sc, fmt.Sprintf("o%d", i))
	}

	store := NewStore(db)
	engine := NewEngine(StoreSource{Store: driver.NewStore(db)}, nil, discard())
	svc := NewService(store, engine, &recordingBus{}, nil, testDispatchConfig, discard())

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		winners []types.ID
	)
	for _, id := range ids {
		wg.Add(1)
		go func(id types.ID) {
			defer wg.Done()
			_, err := svc.AssignOrder(context.Background(), id)
			if err == nil {
				mu.Lock()
				winners = append(winners, id)
				mu.Unlock()
				return
			}
			if !errors.Is(err, ErrNoDriverAvailable) {
				t.Errorf("order %s: unexpected error: %v", id, err)
			}
		}(id)
	}
	wg.Wait()

	if len(winners) != 1 {
		t.Fatalf("expected exactly one assignment, got %d", len(winners))
	}
	var withDriver int
	if err := db.QueryRow(context.Background(), `SELECT count(*) FROM orders WHERE driver_id = 'd1'`).Scan(&withDriver); err != nil {
		t.Fatalf("count: %v", err)
	}
	if withDriver != 1 {
		t.Fatalf("driver attached to %d orders", withDriver)
	}
	var status string
	if err := db.QueryRow(context.Background(), `SELECT status FROM drivers WHERE id = 'd1'`).Scan(&status); err != nil {
		t.Fatalf("driver status: %v", err)
	}
	if status != "busy" {
		t.Fatalf("expected busy driver, got %s", status)
	}
}

func TestPGClaimRollsBackWhenOrderAlreadyAssigned(t *testing.T) {
	db := testutil.Postgres(t)
	seed := testutil.NewSeed(t, db)
	sc := seed.OrderScenario()
	p := types.Point{Lat: 6.52, Lng: 3.38}
	seed.Driver("d1", "available", &p)
	seed.Driver("d2", "available", &p)
	id := insertConfirmedOrder(t, db, sc, "o1")
	ctx := context.Background()

	store := NewStore(db)
	if err := store.Claim(ctx, "d1", id); err != nil {
		t.Fatalf("first claim: %v", err)
	}
	if err := store.Claim(ctx, "d2", id); !errors.Is(err, ErrAlreadyAssigned) {
		t.Fatalf("expected ErrAlreadyAssigned, got %v", err)
	}
	var status string
	if err := db.QueryRow(ctx, `SELECT status FROM drivers WHERE id = 'd2'`).Scan(&status); err != nil {
		t.Fatalf("driver status: %v", err)
	}
	if status != "available" {
		t.Fatalf("d2 should stay available after rollback, got %s", status)
	}
}

func TestPGOrderInfoAndAwaitingDriver(t *testing.T) {
	db := testutil.Postgres(t)
	sc := testutil.NewSeed(t, db).OrderScenario()
	id := insertConfirmedOrder(t, db, sc, "o1")
	ctx := context.Background()
	store := NewStore(db)

	info, err := store.OrderInfo(ctx, id)
	if err != nil {
		t.Fatalf("order info: %v", err)
	}
	if info.Dropoff != sc.Dropoff || info.DriverID != nil || info.Status != "confirmed" {
		t.Fatalf("unexpected info: %+v", info)
	}

	// Kitchen progress does not take an order off the dispatch queue.
	preparing := insertConfirmedOrder(t, db, sc, "o2")
	gone := insertConfirmedOrder(t, db, sc, "o3")
	if _, err := db.Exec(ctx, `UPDATE orders SET status = 'preparing' WHERE id = $1`, string(preparing)); err != nil {
		t.Fatalf("mark preparing: %v", err)
	}
	if _, err := db.Exec(ctx, `UPDATE orders SET status = 'cancelled' WHERE id = $1`, string(gone)); err != nil {
		t.Fatalf("mark cancelled: %v", err)
	}

	waiting, err := store.AwaitingDriver(ctx, time.Now(), 10)
	if err != nil {
		t.Fatalf("awaiting: %v", err)
	}
	if len(waiting) != 2 || waiting[0] != id || waiting[1] != preparing {
		t.Fatalf("unexpected awaiting list: %v", waiting)
	}
	waiting, err = store.AwaitingDriver(ctx, time.Now().Add(-time.Hour), 10)
	if err != nil {
		t.Fatalf("awaiting: %v", err)
	}
	if len(waiting) != 0 {
		t.Fatalf("cutoff not applied: %v", waiting)
	}

	if _, err := store.OrderInfo(ctx, "missing"); !errors.Is(err, ErrOrderNotFound) {
		t.Fatalf("expected ErrOrderNotFound, got %v", err)
	}
}
