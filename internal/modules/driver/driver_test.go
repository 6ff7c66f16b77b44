package driver

import (
	"context"
	"io"
	"log/slog"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fooddash/internal/testutil"
	"fooddash/internal/types"
)

type memStore struct {
	mu      sync.Mutex
	drivers map[types.ID]Driver
	// active marks drivers attached to an undelivered order.
	active map[types.ID]bool
}

func (m *memStore) byUser(userID types.ID) (Driver, bool) {
	for _, d := range m.drivers {
		if d.UserID == userID {
			return d, true
		}
	}
	return Driver{}, false
}

func (m *memStore) Get(_ context.Context, id types.ID) (*Driver, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.drivers[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &d, nil
}

func (m *memStore) GetByUser(_ context.Context, userID types.ID) (*Driver, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.byUser(userID)
	if !ok {
		return nil, ErrNotFound
	}
	return &d, nil
}

func (m *memStore) SetStatus(_ context.Context, userID types.ID, status Status) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.byUser(userID)
	if !ok || m.active[d.ID] {
		return false, nil
	}
	d.Status = status
	m.drivers[d.ID] = d
	return true, nil
}

func (m *memStore) UpdateLocation(_ context.Context, userID types.ID, p types.Point, at time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.byUser(userID)
	if !ok {
		return false, nil
	}
	d.Location, d.LocationUpdatedAt = &p, &at
	m.drivers[d.ID] = d
	return true, nil
}

type indexRecorder struct {
	positions map[types.ID]types.Point
}

func (r *indexRecorder) Put(_ context.Context, id types.ID, p types.Point) error {
	r.positions[id] = p
	return nil
}

func (r *indexRecorder) Remove(_ context.Context, id types.ID) error {
	delete(r.positions, id)
	return nil
}

func newTestService() (*Service, *memStore, *indexRecorder) {
	st := &memStore{
		drivers: map[types.ID]Driver{
			"d1": {ID: "d1", UserID: "u1", Name: "Tunde", Status: StatusOffline},
			"d2": {ID: "d2", UserID: "u2", Name: "Kemi", Status: StatusBusy, Location: &types.Point{Lat: 6.5, Lng: 3.4}},
		},
		active: map[types.ID]bool{"d2": true},
	}
	idx := &indexRecorder{positions: map[types.ID]types.Point{}}
	svc := NewService(st, idx, slog.New(slog.NewTextHandler(io.Discard, nil)))
	return svc, st, idx
}

func TestSetAvailability(t *testing.T) {
	svc, _, idx := newTestService()
	ctx := context.Background()

	d, err := svc.SetAvailability(ctx, "u1", true)
	require.NoError(t, err)
	assert.Equal(t, StatusAvailable, d.Status)
	assert.False(t, d.Dispatchable(), "no location yet")
	assert.Empty(t, idx.positions)

	_, err = svc.UpdateLocation(ctx, "u1", types.Point{Lat: 6.45, Lng: 3.39})
	require.NoError(t, err)
	assert.Contains(t, idx.positions, types.ID("d1"))

	d, err = svc.SetAvailability(ctx, "u1", false)
	require.NoError(t, err)
	assert.Equal(t, StatusOffline, d.Status)
	assert.NotContains(t, idx.positions, types.ID("d1"))
}

func TestSetAvailabilityBusyDriver(t *testing.T) {
	svc, st, idx := newTestService()
	ctx := context.Background()

	_, err := svc.SetAvailability(ctx, "u2", false)
	require.ErrorIs(t, err, ErrDriverBusy)
	assert.Equal(t, StatusBusy, st.drivers["d2"].Status)

	// Delivered: the driver frees themselves.
	st.active["d2"] = false
	d, err := svc.SetAvailability(ctx, "u2", true)
	require.NoError(t, err)
	assert.Equal(t, StatusAvailable, d.Status)
	assert.Contains(t, idx.positions, types.ID("d2"))
}

func TestSetAvailabilityUnknownUser(t *testing.T) {
	svc, _, _ := newTestService()
	_, err := svc.SetAvailability(context.Background(), "nobody", true)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestUpdateLocationValidates(t *testing.T) {
	svc, _, _ := newTestService()
	ctx := context.Background()

	_, err := svc.UpdateLocation(ctx, "u1", types.Point{Lat: 91, Lng: 0})
	assert.ErrorIs(t, err, ErrInvalidLocation)
	_, err = svc.UpdateLocation(ctx, "u1", types.Point{Lat: 0, Lng: -181})
	assert.ErrorIs(t, err, ErrInvalidLocation)
	_, err = svc.UpdateLocation(ctx, "nobody", types.Point{Lat: 1, Lng: 1})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestPGStore(t *testing.T) {
	db := testutil.Postgres(t)
	seed := testutil.NewSeed(t, db)
	ctx := context.Background()
	here := types.Point{Lat: 6.5, Lng: 3.4}
	seed.Driver("d_avail", "available", &here)
	seed.Driver("d_noloc", "available", nil)
	seed.Driver("d_busy", "busy", &here)

	st := NewStore(db)
	avail, err := st.ListAvailable(ctx)
	require.NoError(t, err)
	require.Len(t, avail, 1)
	assert.Equal(t, types.ID("d_avail"), avail[0].ID)
	assert.Equal(t, "Driver d_avail", avail[0].Name)

	// No undelivered order holds d_busy, so the driver may free themselves.
	ok, err := st.SetStatus(ctx, "u_d_busy", StatusAvailable)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = st.UpdateLocation(ctx, "u_d_noloc", types.Point{Lat: 6.6, Lng: 3.3}, time.Now())
	require.NoError(t, err)
	assert.True(t, ok)

	avail, err = st.ListAvailable(ctx)
	require.NoError(t, err)
	assert.Len(t, avail, 3)

	byIDs, err := st.ListByIDs(ctx, []types.ID{"d_busy", "missing"})
	require.NoError(t, err)
	require.Len(t, byIDs, 1)

	_, err = st.Get(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestPGSetStatusWaitsForInFlightClaim(t *testing.T) {
	db := testutil.Postgres(t)
	seed := testutil.NewSeed(t, db)
	ctx := context.Background()
	here := types.Point{Lat: 6.5, Lng: 3.4}
	sc := seed.OrderScenario()
	seed.Driver("d1", "available", &here)
	seed.Order("o1", sc, "confirmed", nil, 0)

	// Hold the driver row the way a dispatch claim does, without committing yet.
	claim, err := db.Begin(ctx)
	require.NoError(t, err)
	defer func() { _ = claim.Rollback(ctx) }()
	_, err = claim.Exec(ctx, `UPDATE drivers SET status = 'busy' WHERE id = 'd1' AND status = 'available'`)
	require.NoError(t, err)
	_, err = claim.Exec(ctx, `UPDATE orders SET driver_id = 'd1' WHERE id = 'o1'`)
	require.NoError(t, err)

	type result struct {
		ok  bool
		err error
	}
	done := make(chan result, 1)
	go func() {
		ok, err := NewStore(db).SetStatus(ctx, "u_d1", StatusOffline)
		done <- result{ok, err}
	}()

	select {
	case r := <-done:
		t.Fatalf("set status returned before the claim committed: %+v", r)
	case <-time.After(200 * time.Millisecond):
	}
	require.NoError(t, claim.Commit(ctx))

	select {
	case r := <-done:
		require.NoError(t, r.err)
		assert.False(t, r.ok, "driver holding an order must not be released")
	case <-time.After(5 * time.Second):
		t.Fatal("set status never returned")
	}

	var status string
	require.NoError(t, db.QueryRow(ctx, `SELECT status FROM drivers WHERE id = 'd1'`).Scan(&status))
	assert.Equal(t, "busy", status)
}

func TestGeoIndex(t *testing.T) {
	addr := os.Getenv("FOODDASH_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("FOODDASH_TEST_REDIS_ADDR not set; skipping integration test")
	}
	rdb := redis.NewClient(&redis.Options{Addr: addr})
	defer rdb.Close()
	ctx := context.Background()
	rdb.Del(ctx, driverGeoKey)

	g := NewGeoIndex(rdb)
	require.NoError(t, g.Put(ctx, "near", types.Point{Lat: 6.5000, Lng: 3.4000}))
	require.NoError(t, g.Put(ctx, "nearer", types.Point{Lat: 6.4990, Lng: 3.4000}))
	require.NoError(t, g.Put(ctx, "far", types.Point{Lat: 7.5, Lng: 4.4}))

	ids, err := g.Nearby(ctx, types.Point{Lat: 6.4985, Lng: 3.4}, 5)
	require.NoError(t, err)
	assert.Equal(t, []types.ID{"nearer", "near"}, ids)

	require.NoError(t, g.Remove(ctx, "nearer"))
	ids, err = g.Nearby(ctx, types.Point{Lat: 6.4985, Lng: 3.4}, 5)
	require.NoError(t, err)
	assert.Equal(t, []types.ID{"near"}, ids)
}
