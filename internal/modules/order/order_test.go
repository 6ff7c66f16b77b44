package order

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"regexp"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fooddash/internal/config"
	"fooddash/internal/errs"
	"fooddash/internal/events"
	"fooddash/internal/types"
)

// memState is the committed contents of memStore; WithinTx works on a copy.
type memState struct {
	restaurants map[types.ID]Restaurant
	addresses   map[types.ID]Address
	menu        map[types.ID]MenuItem
	customers   map[types.ID]Customer
	orders      map[types.ID]Order
	items       map[types.ID][]Item
	tracking    []Tracking
}

func (s memState) clone() memState {
	c := memState{
		restaurants: s.restaurants,
		addresses:   s.addresses,
		menu:        s.menu,
		customers:   s.customers,
		orders:      make(map[types.ID]Order, len(s.orders)),
		items:       make(map[types.ID][]Item, len(s.items)),
		tracking:    append([]Tracking(nil), s.tracking...),
	}
	for k, v := range s.orders {
		c.orders[k] = v
	}
	for k, v := range s.items {
		c.items[k] = append([]Item(nil), v...)
	}
	return c
}

type memStore struct {
	mu             sync.Mutex
	state          memState
	nextTrackingID int64
	duplicateFails int
}

func newMemStore() *memStore {
	return &memStore{state: memState{
		restaurants: map[types.ID]Restaurant{},
		addresses:   map[types.ID]Address{},
		menu:        map[types.ID]MenuItem{},
		customers:   map[types.ID]Customer{},
		orders:      map[types.ID]Order{},
		items:       map[types.ID][]Item{},
	}}
}

func (m *memStore) WithinTx(ctx context.Context, fn func(tx Tx) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	work := m.state.clone()
	if err := fn(&memTx{store: m, state: &work}); err != nil {
		return err
	}
	m.state = work
	return nil
}

func (m *memStore) Get(_ context.Context, id types.ID) (*Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.state.orders[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &o, nil
}

func (m *memStore) Items(_ context.Context, id types.ID) ([]Item, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Item(nil), m.state.items[id]...), nil
}

func (m *memStore) Tracking(_ context.Context, id types.ID) ([]Tracking, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Tracking
	for _, t := range m.state.tracking {
		if t.OrderID == id {
			out = append(out, t)
		}
	}
	return out, nil
}

func (m *memStore) Contacts(_ context.Context, id types.ID) (*Contacts, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.state.orders[id]
	if !ok {
		return nil, ErrNotFound
	}
	r := m.state.restaurants[o.RestaurantID]
	return &Contacts{
		OrderNumber: o.OrderNumber,
		Customer:    m.state.customers[o.UserID],
		Restaurant:  Customer{ID: r.ID, Name: r.Name, Email: r.Email},
	}, nil
}

type memTx struct {
	store *memStore
	state *memState
}

func (t *memTx) Restaurant(_ context.Context, id types.ID) (*Restaurant, error) {
	r, ok := t.state.restaurants[id]
	if !ok {
		return nil, ErrRestaurantNotFound
	}
	return &r, nil
}

func (t *memTx) Address(_ context.Context, id types.ID) (*Address, error) {
	a, ok := t.state.addresses[id]
	if !ok {
		return nil, ErrAddressNotFound
	}
	return &a, nil
}

func (t *memTx) MenuItems(_ context.Context, restaurantID types.ID, ids []types.ID) (map[types.ID]MenuItem, error) {
	out := map[types.ID]MenuItem{}
	for _, id := range ids {
		if mi, ok := t.state.menu[id]; ok && mi.RestaurantID == restaurantID {
			out[id] = mi
		}
	}
	return out, nil
}

func (t *memTx) Customer(_ context.Context, id types.ID) (*Customer, error) {
	c, ok := t.state.customers[id]
	if !ok {
		return nil, ErrUserNotFound
	}
	return &c, nil
}

func (t *memTx) InsertOrder(_ context.Context, o *Order) error {
	if t.store.duplicateFails > 0 {
		t.store.duplicateFails--
		return ErrDuplicateNumber
	}
	cp := *o
	cp.Items, cp.Tracking = nil, nil
	t.state.orders[o.ID] = cp
	return nil
}

func (t *memTx) InsertItems(_ context.Context, items []Item) error {
	for _, it := range items {
		t.state.items[it.OrderID] = append(t.state.items[it.OrderID], it)
	}
	return nil
}

func (t *memTx) AppendTracking(_ context.Context, tr *Tracking) error {
	t.store.nextTrackingID++
	tr.ID = t.store.nextTrackingID
	t.state.tracking = append(t.state.tracking, *tr)
	return nil
}

func (t *memTx) GetForUpdate(_ context.Context, id types.ID) (*Order, error) {
	o, ok := t.state.orders[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &o, nil
}

func (t *memTx) UpdateStatus(_ context.Context, u StatusUpdate) (bool, error) {
	o, ok := t.state.orders[u.OrderID]
	if !ok || o.Status != u.From || o.StatusVersion != u.Version {
		return false, nil
	}
	o.Status = u.To
	o.StatusVersion++
	o.UpdatedAt = u.At
	if u.To == StatusDelivered {
		at := u.At
		o.DeliveredAt = &at
	}
	if u.CancelReason != nil {
		o.CancelReason = u.CancelReason
	}
	t.state.orders[u.OrderID] = o
	return true, nil
}

func (t *memTx) SetPaymentStatus(_ context.Context, id types.ID, status PaymentStatus) error {
	o, ok := t.state.orders[id]
	if !ok {
		return ErrNotFound
	}
	o.PaymentStatus = status
	t.state.orders[id] = o
	return nil
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []events.Event
}

func (p *recordingPublisher) Publish(_ context.Context, e events.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, e)
	return nil
}

func (p *recordingPublisher) names() []events.Name {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]events.Name, len(p.events))
	for i, e := range p.events {
		out[i] = e.EventName()
	}
	return out
}

type fixture struct {
	store *memStore
	pub   *recordingPublisher
	svc   *Service
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	st := newMemStore()
	st.state.customers["u1"] = Customer{ID: "u1", Name: "Ada", Email: "ada@example.com"}
	st.state.customers["u2"] = Customer{ID: "u2", Name: "Bola", Email: "bola@example.com"}
	st.state.restaurants["r1"] = Restaurant{ID: "r1", OwnerID: "owner1", Name: "Suya Spot", Email: "suya@example.com", IsActive: true, DeliveryFee: 200, PrepMinutes: 20}
	st.state.restaurants["r2"] = Restaurant{ID: "r2", OwnerID: "owner2", Name: "Closed Kitchen", IsActive: false, DeliveryFee: 300}
	st.state.addresses["a1"] = Address{ID: "a1", UserID: "u1", Line: "12 Marina Road", Point: types.Point{Lat: 6.45, Lng: 3.39}}
	st.state.addresses["a2"] = Address{ID: "a2", UserID: "u2", Line: "3 Allen Avenue", Point: types.Point{Lat: 6.60, Lng: 3.35}}
	st.state.menu["m1"] = MenuItem{ID: "m1", RestaurantID: "r1", Name: "Jollof", Price: 1000, IsAvailable: true}
	st.state.menu["m2"] = MenuItem{ID: "m2", RestaurantID: "r1", Name: "Plantain", Price: 500, IsAvailable: true}
	st.state.menu["m3"] = MenuItem{ID: "m3", RestaurantID: "r1", Name: "Pepper Soup", Price: 800, IsAvailable: false}
	st.state.menu["x1"] = MenuItem{ID: "x1", RestaurantID: "r2", Name: "Elsewhere", Price: 100, IsAvailable: true}

	pub := &recordingPublisher{}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	svc := NewService(st, pub, config.OrderConfig{TaxRateBps: 800, Currency: "NGN"}, logger)
	return &fixture{store: st, pub: pub, svc: svc}
}

func (f *fixture) create(t *testing.T) *Order {
	t.Helper()
	o, err := f.svc.Create(context.Background(), CreateCommand{
		UserID:       "u1",
		RestaurantID: "r1",
		AddressID:    "a1",
		Items: []ItemRequest{
			{MenuItemID: "m1", Quantity: 2},
			{MenuItemID: "m2", Quantity: 1},
		},
	})
	require.NoError(t, err)
	return o
}

// assignDriver attaches a driver the way a dispatch claim does.
func (f *fixture) assignDriver(id types.ID) {
	driver := types.ID("d1")
	f.store.mu.Lock()
	defer f.store.mu.Unlock()
	stored := f.store.state.orders[id]
	stored.DriverID = &driver
	f.store.state.orders[id] = stored
}

func (f *fixture) trackingCount(t *testing.T, id types.ID) int {
	t.Helper()
	tr, err := f.store.Tracking(context.Background(), id)
	require.NoError(t, err)
	return len(tr)
}

func TestPriceWorkedExample(t *testing.T) {
	b, err := Price([]Line{{Quantity: 2, UnitPrice: 1000}, {Quantity: 1, UnitPrice: 500}}, 200, 0, 0, 800)
	require.NoError(t, err)
	assert.Equal(t, Breakdown{Subtotal: 2500, DeliveryFee: 200, Tax: 200, Total: 2900}, b)
}

func TestPriceTotalInvariant(t *testing.T) {
	for _, unit := range []int64{1, 99, 1000, 1234} {
		for qty := 1; qty <= 4; qty++ {
			for _, tip := range []int64{0, 150} {
				for _, discount := range []int64{0, 50} {
					b, err := Price([]Line{{Quantity: qty, UnitPrice: unit}}, 200, tip, discount, 800)
					require.NoError(t, err)
					if !b.Consistent() {
						t.Fatalf("inconsistent breakdown: %+v", b)
					}
					if b.Total != b.Subtotal+b.Tax+b.DeliveryFee-b.Discount+b.Tip {
						t.Fatalf("total mismatch: %+v", b)
					}
				}
			}
		}
	}
}

func TestPriceRoundsTaxHalfUp(t *testing.T) {
	// 8% of 19 minor units is 1.52, rounded to 2.
	b, err := Price([]Line{{Quantity: 1, UnitPrice: 19}}, 0, 0, 0, 800)
	require.NoError(t, err)
	assert.Equal(t, int64(2), b.Tax)
}

func TestPriceRejectsBadInput(t *testing.T) {
	cases := []struct {
		name string
		err  error
		run  func() error
	}{
		{"zero quantity", ErrInvalidQuantity, func() error {
			_, err := Price([]Line{{Quantity: 0, UnitPrice: 100}}, 0, 0, 0, 800)
			return err
		}},
		{"negative tip", ErrNegativeAmount, func() error {
			_, err := Price([]Line{{Quantity: 1, UnitPrice: 100}}, 0, -1, 0, 800)
			return err
		}},
		{"discount too large", ErrDiscountTooLarge, func() error {
			_, err := Price([]Line{{Quantity: 1, UnitPrice: 100}}, 0, 0, 1000, 800)
			return err
		}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.ErrorIs(t, tc.run(), tc.err)
		})
	}
}

func TestOrderNumberFormat(t *testing.T) {
	now := time.Date(2026, 3, 14, 9, 26, 53, 0, time.UTC)
	re := regexp.MustCompile(`^ORD-20260314092653-[A-HJ-NP-Z2-9]{6}$`)
	seen := map[string]bool{}
	for i := 0; i < 50; i++ {
		n := newOrderNumber(now)
		if !re.MatchString(n) {
			t.Fatalf("unexpected order number %q", n)
		}
		seen[n] = true
	}
	assert.Greater(t, len(seen), 45)
}

func TestTransitionTable(t *testing.T) {
	happy := []Status{StatusPending, StatusConfirmed, StatusPreparing, StatusReady, StatusPickedUp, StatusOutForDelivery, StatusDelivered}
	for i := 0; i < len(happy)-1; i++ {
		if !CanTransition(happy[i], happy[i+1]) {
			t.Fatalf("expected %s -> %s", happy[i], happy[i+1])
		}
	}
	for _, st := range happy {
		if CanTransition(StatusDelivered, st) || CanTransition(StatusCancelled, st) {
			t.Fatalf("terminal states must not transition (to %s)", st)
		}
	}
	assert.False(t, CanTransition(StatusPending, StatusPreparing))
	assert.False(t, CanTransition(StatusReady, StatusConfirmed))

	for i := 1; i < len(happy)-1; i++ {
		assert.True(t, CanAdvance(happy[i], happy[i+1]), happy[i])
	}
	assert.False(t, CanAdvance(StatusPending, StatusConfirmed))
	assert.False(t, CanAdvance(StatusConfirmed, StatusOutForDelivery))
	assert.False(t, CanAdvance(StatusReady, StatusOutForDelivery))

	for _, st := range happy {
		want := st == StatusPending || st == StatusConfirmed
		assert.Equal(t, want, CanCancel(st), st)
		assert.Equal(t, want, CanTransition(st, StatusCancelled), st)
	}
}

func TestCreateOrderComputesTotalsAndPublishes(t *testing.T) {
	f := newFixture(t)
	o := f.create(t)

	assert.Equal(t, StatusPending, o.Status)
	assert.Equal(t, Breakdown{Subtotal: 2500, DeliveryFee: 200, Tax: 200, Total: 2900}, o.Amounts)
	assert.Equal(t, PaymentPending, o.PaymentStatus)
	assert.Equal(t, 35, o.EstimatedDeliveryMinutes)
	assert.Equal(t, 1, f.trackingCount(t, o.ID))

	require.Equal(t, []events.Name{events.NameOrderCreated}, f.pub.names())
	ev := f.pub.events[0].(events.OrderCreated)
	assert.Equal(t, o.ID, ev.OrderID)
	assert.Equal(t, int64(2900), ev.TotalAmount.Amount)
	assert.Equal(t, "ada@example.com", ev.Snapshot.User.Email)
	assert.Equal(t, "Suya Spot", ev.Snapshot.Restaurant.Name)
	assert.Equal(t, o.OrderNumber, ev.Snapshot.OrderNumber)

	items, _ := f.store.Items(context.Background(), o.ID)
	require.Len(t, items, 2)
	assert.Equal(t, int64(1000), items[0].UnitPrice)
}

func TestCreateMergesRepeatedItems(t *testing.T) {
	f := newFixture(t)
	o, err := f.svc.Create(context.Background(), CreateCommand{
		UserID: "u1", RestaurantID: "r1", AddressID: "a1",
		Items: []ItemRequest{{MenuItemID: "m1", Quantity: 1}, {MenuItemID: "m2", Quantity: 1}, {MenuItemID: "m1", Quantity: 1}},
	})
	require.NoError(t, err)
	require.Len(t, o.Items, 2)
	assert.Equal(t, 2, o.Items[0].Quantity)
	assert.Equal(t, int64(2500), o.Amounts.Subtotal)
}

func TestCreateValidationOrder(t *testing.T) {
	cases := []struct {
		name string
		cmd  CreateCommand
		want error
	}{
		{
			name: "inactive restaurant reported before foreign address",
			cmd:  CreateCommand{UserID: "u1", RestaurantID: "r2", AddressID: "a2", Items: []ItemRequest{{MenuItemID: "zz", Quantity: 1}}},
			want: ErrRestaurantInactive,
		},
		{
			name: "unknown restaurant",
			cmd:  CreateCommand{UserID: "u1", RestaurantID: "nope", AddressID: "a1", Items: []ItemRequest{{MenuItemID: "m1", Quantity: 1}}},
			want: ErrRestaurantNotFound,
		},
		{
			name: "address of another user reported before foreign item",
			cmd:  CreateCommand{UserID: "u1", RestaurantID: "r1", AddressID: "a2", Items: []ItemRequest{{MenuItemID: "x1", Quantity: 1}}},
			want: ErrAddressNotFound,
		},
		{
			name: "item of another restaurant",
			cmd:  CreateCommand{UserID: "u1", RestaurantID: "r1", AddressID: "a1", Items: []ItemRequest{{MenuItemID: "m1", Quantity: 1}, {MenuItemID: "x1", Quantity: 1}}},
			want: ErrMenuItemNotFound,
		},
		{
			name: "unavailable item",
			cmd:  CreateCommand{UserID: "u1", RestaurantID: "r1", AddressID: "a1", Items: []ItemRequest{{MenuItemID: "m3", Quantity: 1}}},
			want: ErrMenuItemUnavailable,
		},
		{
			name: "no items",
			cmd:  CreateCommand{UserID: "u1", RestaurantID: "r1", AddressID: "a1"},
			want: ErrEmptyOrder,
		},
		{
			name: "zero quantity",
			cmd:  CreateCommand{UserID: "u1", RestaurantID: "r1", AddressID: "a1", Items: []ItemRequest{{MenuItemID: "m1"}}},
			want: ErrInvalidQuantity,
		},
		{
			name: "scheduled without time",
			cmd:  CreateCommand{UserID: "u1", RestaurantID: "r1", AddressID: "a1", DeliveryType: DeliveryScheduled, Items: []ItemRequest{{MenuItemID: "m1", Quantity: 1}}},
			want: ErrScheduleInPast,
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			f := newFixture(t)
			_, err := f.svc.Create(context.Background(), tc.cmd)
			require.ErrorIs(t, err, tc.want)
			assert.Empty(t, f.store.state.orders, "nothing persisted")
			assert.Empty(t, f.pub.names(), "nothing published")
		})
	}
}

func TestCreateValidationErrorsAreClassified(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.Create(context.Background(), CreateCommand{UserID: "u1", RestaurantID: "r2", AddressID: "a1", Items: []ItemRequest{{MenuItemID: "m1", Quantity: 1}}})
	assert.Equal(t, errs.KindValidation, errs.KindOf(err))

	_, err = f.svc.Create(context.Background(), CreateCommand{UserID: "u1", RestaurantID: "r1", AddressID: "a2", Items: []ItemRequest{{MenuItemID: "m1", Quantity: 1}}})
	assert.Equal(t, errs.KindNotFound, errs.KindOf(err))
}

func TestCreateRetriesOrderNumberCollision(t *testing.T) {
	f := newFixture(t)
	f.store.duplicateFails = 2
	o := f.create(t)
	assert.NotEmpty(t, o.OrderNumber)
	assert.Len(t, f.store.state.orders, 1)
	assert.Equal(t, 1, f.trackingCount(t, o.ID))
}

func TestCreateGivesUpAfterRepeatedCollisions(t *testing.T) {
	f := newFixture(t)
	f.store.duplicateFails = maxNumberAttempts
	_, err := f.svc.Create(context.Background(), CreateCommand{UserID: "u1", RestaurantID: "r1", AddressID: "a1", Items: []ItemRequest{{MenuItemID: "m1", Quantity: 1}}})
	assert.ErrorIs(t, err, ErrDuplicateNumber)
	assert.Empty(t, f.pub.names())
}

func TestTrackingCountMatchesTransitions(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	o := f.create(t)
	f.assignDriver(o.ID)

	path := []Status{StatusConfirmed, StatusPreparing, StatusReady, StatusPickedUp, StatusOutForDelivery, StatusDelivered}
	for i, st := range path {
		got, err := f.svc.Transition(ctx, TransitionCommand{OrderID: o.ID, To: st})
		require.NoError(t, err, st)
		assert.Equal(t, st, got.Status)
		assert.Equal(t, i+2, f.trackingCount(t, o.ID))
	}

	full, err := f.svc.Get(ctx, o.ID)
	require.NoError(t, err)
	require.Len(t, full.Tracking, len(path)+1)
	for i, st := range path {
		assert.Equal(t, st, full.Tracking[i+1].Status)
	}
	require.NotNil(t, full.DeliveredAt)
	assert.Contains(t, f.pub.names(), events.NameOrderDelivered)
}

func TestTransitionToSameStatusIsNoop(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	o := f.create(t)
	_, err := f.svc.Transition(ctx, TransitionCommand{OrderID: o.ID, To: StatusConfirmed})
	require.NoError(t, err)
	before := len(f.pub.names())

	got, err := f.svc.Transition(ctx, TransitionCommand{OrderID: o.ID, To: StatusConfirmed})
	require.NoError(t, err)
	assert.Equal(t, StatusConfirmed, got.Status)
	assert.Equal(t, 2, f.trackingCount(t, o.ID))
	assert.Len(t, f.pub.names(), before)
}

func TestTransitionRejectsSkips(t *testing.T) {
	f := newFixture(t)
	o := f.create(t)

	_, err := f.svc.Transition(context.Background(), TransitionCommand{OrderID: o.ID, To: StatusDelivered})
	require.ErrorIs(t, err, ErrInvalidTransition)
	assert.Equal(t, errs.KindConflict, errs.KindOf(err))
	assert.Equal(t, 1, f.trackingCount(t, o.ID))

	_, err = f.svc.Transition(context.Background(), TransitionCommand{OrderID: o.ID, To: "teleported"})
	assert.ErrorIs(t, err, ErrInvalidStatus)

	_, err = f.svc.Transition(context.Background(), TransitionCommand{OrderID: "missing", To: StatusConfirmed})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestTransitionRequiresDriverForDispatch(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	o := f.create(t)
	require.NoError(t, f.svc.ConfirmPayment(ctx, o.ID))

	_, err := f.svc.Transition(ctx, TransitionCommand{OrderID: o.ID, To: StatusOutForDelivery})
	require.ErrorIs(t, err, ErrNoDriver)
	assert.Equal(t, errs.KindConflict, errs.KindOf(err))
	_, err = f.svc.Transition(ctx, TransitionCommand{OrderID: o.ID, To: StatusDelivered})
	require.ErrorIs(t, err, ErrInvalidTransition)

	got, _ := f.store.Get(ctx, o.ID)
	assert.Equal(t, StatusConfirmed, got.Status)
	assert.Equal(t, 2, f.trackingCount(t, o.ID))

	for _, st := range []Status{StatusPreparing, StatusReady} {
		_, err = f.svc.Advance(ctx, TransitionCommand{OrderID: o.ID, To: st})
		require.NoError(t, err, st)
	}
	_, err = f.svc.Advance(ctx, TransitionCommand{OrderID: o.ID, To: StatusPickedUp})
	require.ErrorIs(t, err, ErrNoDriver)
	assert.Equal(t, 4, f.trackingCount(t, o.ID))

	f.assignDriver(o.ID)
	got, err = f.svc.Transition(ctx, TransitionCommand{OrderID: o.ID, To: StatusOutForDelivery})
	require.NoError(t, err)
	assert.Equal(t, StatusOutForDelivery, got.Status)
}

func TestAdvanceFollowsManualChainOnly(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	o := f.create(t)

	_, err := f.svc.Advance(ctx, TransitionCommand{OrderID: o.ID, To: StatusConfirmed})
	require.ErrorIs(t, err, ErrInvalidTransition, "confirmation comes from payment")

	require.NoError(t, f.svc.ConfirmPayment(ctx, o.ID))
	f.assignDriver(o.ID)
	_, err = f.svc.Advance(ctx, TransitionCommand{OrderID: o.ID, To: StatusOutForDelivery})
	require.ErrorIs(t, err, ErrInvalidTransition, "dispatch shortcut is saga-only")
	assert.Equal(t, 2, f.trackingCount(t, o.ID))

	path := []Status{StatusPreparing, StatusReady, StatusPickedUp, StatusOutForDelivery, StatusDelivered}
	for _, st := range path {
		got, err := f.svc.Advance(ctx, TransitionCommand{OrderID: o.ID, To: st})
		require.NoError(t, err, st)
		assert.Equal(t, st, got.Status)
	}
	assert.Equal(t, 2+len(path), f.trackingCount(t, o.ID))

	other := f.create(t)
	got, err := f.svc.Advance(ctx, TransitionCommand{OrderID: other.ID, To: StatusCancelled, Message: "kitchen closed"})
	require.NoError(t, err)
	assert.Equal(t, StatusCancelled, got.Status)
}

func TestTransitionRecordsLocation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	o := f.create(t)
	loc := &types.Point{Lat: 6.5, Lng: 3.4}
	_, err := f.svc.Transition(ctx, TransitionCommand{OrderID: o.ID, To: StatusConfirmed, Message: "paid", Location: loc})
	require.NoError(t, err)

	tr, _ := f.store.Tracking(ctx, o.ID)
	require.Len(t, tr, 2)
	assert.Equal(t, "paid", tr[1].Message)
	assert.Equal(t, loc, tr[1].Location)
}

func TestCancelGuard(t *testing.T) {
	ctx := context.Background()

	t.Run("pending", func(t *testing.T) {
		f := newFixture(t)
		o := f.create(t)
		got, err := f.svc.Cancel(ctx, CancelCommand{OrderID: o.ID, Reason: "changed my mind"})
		require.NoError(t, err)
		assert.Equal(t, StatusCancelled, got.Status)
		require.NotNil(t, got.CancelReason)
		assert.Equal(t, "changed my mind", *got.CancelReason)
		assert.Equal(t, 2, f.trackingCount(t, o.ID))
		assert.Contains(t, f.pub.names(), events.NameOrderCancelled)
	})

	t.Run("confirmed", func(t *testing.T) {
		f := newFixture(t)
		o := f.create(t)
		require.NoError(t, f.svc.Confirm(ctx, o.ID))
		_, err := f.svc.Cancel(ctx, CancelCommand{OrderID: o.ID})
		require.NoError(t, err)
	})

	for _, st := range []Status{StatusPreparing, StatusReady, StatusPickedUp, StatusOutForDelivery, StatusDelivered} {
		t.Run(string(st), func(t *testing.T) {
			f := newFixture(t)
			o := f.create(t)
			f.store.mu.Lock()
			stored := f.store.state.orders[o.ID]
			stored.Status = st
			f.store.state.orders[o.ID] = stored
			f.store.mu.Unlock()

			_, err := f.svc.Cancel(ctx, CancelCommand{OrderID: o.ID})
			require.ErrorIs(t, err, ErrCannotCancel)
			got, _ := f.store.Get(ctx, o.ID)
			assert.Equal(t, st, got.Status)
			assert.Equal(t, 1, f.trackingCount(t, o.ID))
		})
	}
}

func TestTransitionToCancelledUsesCancelGuard(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	o := f.create(t)
	for _, st := range []Status{StatusConfirmed, StatusPreparing} {
		_, err := f.svc.Transition(ctx, TransitionCommand{OrderID: o.ID, To: st})
		require.NoError(t, err)
	}
	_, err := f.svc.Transition(ctx, TransitionCommand{OrderID: o.ID, To: StatusCancelled})
	assert.ErrorIs(t, err, ErrCannotCancel)
}

func TestConfirmIsIdempotent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	o := f.create(t)

	require.NoError(t, f.svc.ConfirmPayment(ctx, o.ID))
	require.NoError(t, f.svc.Confirm(ctx, o.ID))
	require.NoError(t, f.svc.ConfirmPayment(ctx, o.ID))

	got, _ := f.store.Get(ctx, o.ID)
	assert.Equal(t, StatusConfirmed, got.Status)
	assert.Equal(t, PaymentCompleted, got.PaymentStatus)
	assert.Equal(t, 2, f.trackingCount(t, o.ID))

	f.assignDriver(o.ID)
	_, err := f.svc.Transition(ctx, TransitionCommand{OrderID: o.ID, To: StatusOutForDelivery})
	require.NoError(t, err)
	require.NoError(t, f.svc.Confirm(ctx, o.ID), "later statuses are left alone")
	got, _ = f.store.Get(ctx, o.ID)
	assert.Equal(t, StatusOutForDelivery, got.Status)
}

func TestConfirmCancelledOrderFails(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	o := f.create(t)
	_, err := f.svc.Cancel(ctx, CancelCommand{OrderID: o.ID})
	require.NoError(t, err)

	err = f.svc.Confirm(ctx, o.ID)
	assert.ErrorIs(t, err, ErrCannotConfirm)
}

func TestMarkPaymentFailedKeepsCompleted(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	o := f.create(t)

	require.NoError(t, f.svc.MarkPaymentFailed(ctx, o.ID))
	got, _ := f.store.Get(ctx, o.ID)
	assert.Equal(t, PaymentFailed, got.PaymentStatus)
	assert.Equal(t, StatusPending, got.Status)

	require.NoError(t, f.svc.ConfirmPayment(ctx, o.ID))
	require.NoError(t, f.svc.MarkPaymentFailed(ctx, o.ID))
	got, _ = f.store.Get(ctx, o.ID)
	assert.Equal(t, PaymentCompleted, got.PaymentStatus)
}

func TestContacts(t *testing.T) {
	f := newFixture(t)
	o := f.create(t)
	c, err := f.svc.Contacts(context.Background(), o.ID)
	require.NoError(t, err)
	assert.Equal(t, "ada@example.com", c.Customer.Email)
	assert.Equal(t, "suya@example.com", c.Restaurant.Email)

	_, err = f.svc.Contacts(context.Background(), "missing")
	assert.True(t, errors.Is(err, ErrNotFound))
}
