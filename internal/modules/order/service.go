// README: Order service implements the creation workflow and the status state machine.
package order

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"fooddash/internal/config"
	"fooddash/internal/errs"
	"fooddash/internal/events"
	"fooddash/internal/telemetry"
	"fooddash/internal/types"
)

// Store reads orders and opens the transaction used by every write.
type Store interface {
	WithinTx(ctx context.Context, fn func(tx Tx) error) error
	Get(ctx context.Context, id types.ID) (*Order, error)
	Items(ctx context.Context, orderID types.ID) ([]Item, error)
	Tracking(ctx context.Context, orderID types.ID) ([]Tracking, error)
	Contacts(ctx context.Context, orderID types.ID) (*Contacts, error)
}

// Tx is the unit of work for one order mutation.
type Tx interface {
	Restaurant(ctx context.Context, id types.ID) (*Restaurant, error)
	Address(ctx context.Context, id types.ID) (*Address, error)
	MenuItems(ctx context.Context, restaurantID types.ID, ids []types.ID) (map[types.ID]MenuItem, error)
	Customer(ctx context.Context, id types.ID) (*Customer, error)
	InsertOrder(ctx context.Context, o *Order) error
	InsertItems(ctx context.Context, items []Item) error
	AppendTracking(ctx context.Context, t *Tracking) error
	GetForUpdate(ctx context.Context, id types.ID) (*Order, error)
	UpdateStatus(ctx context.Context, u StatusUpdate) (bool, error)
	SetPaymentStatus(ctx context.Context, id types.ID, status PaymentStatus) error
}

type StatusUpdate struct {
	OrderID      types.ID
	From         Status
	To           Status
	Version      int
	At           time.Time
	CancelReason *string
}

type Publisher interface {
	Publish(ctx context.Context, e events.Event) error
}

var (
	ErrNotFound            = errs.NotFound("order not found")
	ErrRestaurantNotFound  = errs.NotFound("restaurant not found")
	ErrAddressNotFound     = errs.NotFound("delivery address not found")
	ErrMenuItemNotFound    = errs.NotFound("menu item not found")
	ErrUserNotFound        = errs.NotFound("user not found")
	ErrRestaurantInactive  = errs.Validation("restaurant is not accepting orders")
	ErrMenuItemUnavailable = errs.Validation("menu item is unavailable")
	ErrEmptyOrder          = errs.Validation("order must contain at least one item")
	ErrInvalidQuantity     = errs.Validation("quantity must be at least 1")
	ErrNegativeAmount      = errs.Validation("amounts must not be negative")
	ErrDiscountTooLarge    = errs.Validation("discount exceeds order amount")
	ErrBadRequest          = errs.Validation("missing required fields")
	ErrInvalidDeliveryType = errs.Validation("delivery type must be now or scheduled")
	ErrScheduleInPast      = errs.Validation("scheduled delivery must be in the future")
	ErrInvalidStatus       = errs.Validation("unknown order status")
	ErrInvalidTransition   = errs.Conflict("invalid status transition")
	ErrCannotCancel        = errs.Conflict("order can only be cancelled while pending or confirmed")
	ErrCannotConfirm       = errs.Conflict("cancelled order cannot be confirmed")
	ErrNoDriver            = errs.Conflict("order has no driver assigned")
	ErrConflict            = errs.Conflict("order state conflict")
	ErrDuplicateNumber     = errs.Conflict("order number already exists")
)

const (
	maxNumberAttempts = 3
	transitMinutes    = 15
)

type Service struct {
	store  Store
	bus    Publisher
	cfg    config.OrderConfig
	logger *slog.Logger
	now    func() time.Time
}

func NewService(store Store, bus Publisher, cfg config.OrderConfig, logger *slog.Logger) *Service {
	return &Service{
		store:  store,
		bus:    bus,
		cfg:    cfg,
		logger: logger.With("component", "order_service"),
		now:    time.Now,
	}
}

type ItemRequest struct {
	MenuItemID          types.ID
	Quantity            int
	SpecialInstructions string
}

type CreateCommand struct {
	UserID       types.ID
	RestaurantID types.ID
	AddressID    types.ID
	Items        []ItemRequest
	Tip          int64
	Discount     int64
	DeliveryType DeliveryType
	ScheduledFor *time.Time
	Notes        string
}

type TransitionCommand struct {
	OrderID  types.ID
	To       Status
	Message  string
	Location *types.Point
}

type CancelCommand struct {
	OrderID types.ID
	Reason  string
}

func (c *CreateCommand) validate(now time.Time) error {
	if c.UserID == "" || c.RestaurantID == "" || c.AddressID == "" {
		return ErrBadRequest
	}
	if len(c.Items) == 0 {
		return ErrEmptyOrder
	}
	for _, it := range c.Items {
		if it.MenuItemID == "" {
			return ErrBadRequest
		}
		if it.Quantity <= 0 {
			return ErrInvalidQuantity
		}
	}
	if c.Tip < 0 || c.Discount < 0 {
		return ErrNegativeAmount
	}
	switch c.DeliveryType {
	case "":
		c.DeliveryType = DeliveryNow
	case DeliveryNow:
	case DeliveryScheduled:
		if c.ScheduledFor == nil || !c.ScheduledFor.After(now) {
			return ErrScheduleInPast
		}
	default:
		return ErrInvalidDeliveryType
	}
	return nil
}

// mergeItems folds repeated menu items into one line, keeping first-seen order.
func mergeItems(in []ItemRequest) []ItemRequest {
	idx := make(map[types.ID]int, len(in))
	out := make([]ItemRequest, 0, len(in))
	for _, it := range in {
		if i, ok := idx[it.MenuItemID]; ok {
			out[i].Quantity += it.Quantity
			if out[i].SpecialInstructions == "" {
				out[i].SpecialInstructions = it.SpecialInstructions
			}
			continue
		}
		idx[it.MenuItemID] = len(out)
		out = append(out, it)
	}
	return out
}

// Create validates, prices and persists an order with its items and the
// initial pending tracking entry in one transaction, then publishes OrderCreated.
func (s *Service) Create(ctx context.Context, cmd CreateCommand) (*Order, error) {
	if err := cmd.validate(s.now()); err != nil {
		return nil, err
	}
	cmd.Items = mergeItems(cmd.Items)

	var (
		o    *Order
		snap events.OrderSnapshot
		err  error
	)
	for attempt := 0; attempt < maxNumberAttempts; attempt++ {
		o, snap, err = s.createOnce(ctx, cmd)
		if !errors.Is(err, ErrDuplicateNumber) {
			break
		}
		s.logger.WarnContext(ctx, "order number collision, retrying", "attempt", attempt+1)
	}
	if err != nil {
		return nil, err
	}

	telemetry.OrderCreated(ctx)
	s.logger.InfoContext(ctx, "order created",
		"order_id", o.ID, "order_number", o.OrderNumber, "user_id", o.UserID, "total", o.Amounts.Total)

	// Published strictly after commit. Saga failures are not the caller's failure.
	if err := s.bus.Publish(ctx, events.OrderCreated{
		OrderID:      o.ID,
		UserID:       o.UserID,
		RestaurantID: o.RestaurantID,
		TotalAmount:  types.NewMoney(o.Amounts.Total, o.Currency),
		Snapshot:     snap,
		OccurredAt:   o.CreatedAt,
	}); err != nil {
		s.logger.ErrorContext(ctx, "order created but downstream step failed", "order_id", o.ID, "error", err)
	}
	return o, nil
}

func (s *Service) createOnce(ctx context.Context, cmd CreateCommand) (*Order, events.OrderSnapshot, error) {
	var (
		o    *Order
		snap events.OrderSnapshot
	)
	err := s.store.WithinTx(ctx, func(tx Tx) error {
		r, err := tx.Restaurant(ctx, cmd.RestaurantID)
		if err != nil {
			return err
		}
		if !r.IsActive {
			return ErrRestaurantInactive
		}

		addr, err := tx.Address(ctx, cmd.AddressID)
		if err != nil {
			return err
		}
		if addr.UserID != cmd.UserID {
			return ErrAddressNotFound
		}

		ids := make([]types.ID, len(cmd.Items))
		for i, it := range cmd.Items {
			ids[i] = it.MenuItemID
		}
		menu, err := tx.MenuItems(ctx, r.ID, ids)
		if err != nil {
			return err
		}

		now := s.now().UTC()
		orderID := types.NewID()
		items := make([]Item, 0, len(cmd.Items))
		lines := make([]Line, 0, len(cmd.Items))
		for _, it := range cmd.Items {
			mi, ok := menu[it.MenuItemID]
			if !ok {
				return fmt.Errorf("%w: %s", ErrMenuItemNotFound, it.MenuItemID)
			}
			if !mi.IsAvailable {
				return fmt.Errorf("%w: %s", ErrMenuItemUnavailable, mi.Name)
			}
			lines = append(lines, Line{Quantity: it.Quantity, UnitPrice: mi.Price})
			items = append(items, Item{
				ID:                  types.NewID(),
				OrderID:             orderID,
				MenuItemID:          mi.ID,
				Name:                mi.Name,
				Quantity:            it.Quantity,
				UnitPrice:           mi.Price,
				SpecialInstructions: it.SpecialInstructions,
			})
		}

		amounts, err := Price(lines, r.DeliveryFee, cmd.Tip, cmd.Discount, s.cfg.TaxRateBps)
		if err != nil {
			return err
		}

		cust, err := tx.Customer(ctx, cmd.UserID)
		if err != nil {
			return err
		}

		o = &Order{
			ID:                       orderID,
			OrderNumber:              newOrderNumber(now),
			UserID:                   cmd.UserID,
			RestaurantID:             r.ID,
			AddressID:                addr.ID,
			DeliveryAddress:          addr.Line,
			DeliveryPoint:            addr.Point,
			Status:                   StatusPending,
			Amounts:                  amounts,
			Currency:                 s.cfg.Currency,
			PaymentMethod:            PaymentMethodCard,
			PaymentStatus:            PaymentPending,
			DeliveryType:             cmd.DeliveryType,
			ScheduledFor:             cmd.ScheduledFor,
			EstimatedDeliveryMinutes: r.PrepMinutes + transitMinutes,
			Notes:                    cmd.Notes,
			CreatedAt:                now,
			UpdatedAt:                now,
			Items:                    items,
			Access:                   Access{RestaurantOwnerID: r.OwnerID},
		}
		if err := tx.InsertOrder(ctx, o); err != nil {
			return err
		}
		if err := tx.InsertItems(ctx, items); err != nil {
			return err
		}
		initial := Tracking{OrderID: orderID, Status: StatusPending, Message: defaultMessage(StatusPending), CreatedAt: now}
		if err := tx.AppendTracking(ctx, &initial); err != nil {
			return err
		}
		o.Tracking = []Tracking{initial}

		money := func(v int64) types.Money { return types.NewMoney(v, s.cfg.Currency) }
		snap = events.OrderSnapshot{
			OrderNumber: o.OrderNumber,
			Restaurant:  events.Party{ID: r.ID, Name: r.Name, Email: r.Email},
			User:        events.Party{ID: cust.ID, Name: cust.Name, Email: cust.Email},
			Subtotal:    money(amounts.Subtotal),
			Tax:         money(amounts.Tax),
			DeliveryFee: money(amounts.DeliveryFee),
			Total:       money(amounts.Total),
		}
		return nil
	})
	if err != nil {
		return nil, events.OrderSnapshot{}, err
	}
	return o, snap, nil
}

// Get returns the order with its items and tracking history.
func (s *Service) Get(ctx context.Context, id types.ID) (*Order, error) {
	o, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if o.Items, err = s.store.Items(ctx, id); err != nil {
		return nil, err
	}
	if o.Tracking, err = s.store.Tracking(ctx, id); err != nil {
		return nil, err
	}
	return o, nil
}

func (s *Service) Contacts(ctx context.Context, id types.ID) (*Contacts, error) {
	return s.store.Contacts(ctx, id)
}

// Transition moves the order to cmd.To if the transition table allows it.
// It serves the saga, which owns confirmation and the dispatch shortcuts.
// Requesting the current status is a no-op and appends no tracking entry.
func (s *Service) Transition(ctx context.Context, cmd TransitionCommand) (*Order, error) {
	return s.transition(ctx, cmd, CanTransition)
}

// Advance is the staff-facing transition: only the forward chain in
// ManualTransitions, or a cancellation.
func (s *Service) Advance(ctx context.Context, cmd TransitionCommand) (*Order, error) {
	return s.transition(ctx, cmd, CanAdvance)
}

func (s *Service) transition(ctx context.Context, cmd TransitionCommand, can func(from, to Status) bool) (*Order, error) {
	if _, ok := ParseStatus(string(cmd.To)); !ok {
		return nil, ErrInvalidStatus
	}
	if cmd.To == StatusCancelled {
		return s.Cancel(ctx, CancelCommand{OrderID: cmd.OrderID, Reason: cmd.Message})
	}

	var (
		o       *Order
		from    Status
		changed bool
	)
	err := s.store.WithinTx(ctx, func(tx Tx) error {
		var err error
		if o, err = tx.GetForUpdate(ctx, cmd.OrderID); err != nil {
			return err
		}
		if o.Status == cmd.To {
			return nil
		}
		if !can(o.Status, cmd.To) {
			return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, o.Status, cmd.To)
		}
		if NeedsDriver(cmd.To) && o.DriverID == nil {
			return fmt.Errorf("%w: %s", ErrNoDriver, cmd.To)
		}
		from = o.Status
		changed = true
		return s.apply(ctx, tx, o, cmd.To, cmd.Message, cmd.Location, nil)
	})
	if err != nil {
		return nil, err
	}
	if changed {
		s.afterTransition(ctx, o, from, cmd.Message)
	}
	return o, nil
}

// Cancel is allowed only from pending or confirmed.
func (s *Service) Cancel(ctx context.Context, cmd CancelCommand) (*Order, error) {
	var (
		o    *Order
		from Status
	)
	reason := cmd.Reason
	if reason == "" {
		reason = "cancelled by customer"
	}
	err := s.store.WithinTx(ctx, func(tx Tx) error {
		var err error
		if o, err = tx.GetForUpdate(ctx, cmd.OrderID); err != nil {
			return err
		}
		if !CanCancel(o.Status) {
			return fmt.Errorf("%w (current: %s)", ErrCannotCancel, o.Status)
		}
		from = o.Status
		return s.apply(ctx, tx, o, StatusCancelled, reason, nil, &reason)
	})
	if err != nil {
		return nil, err
	}
	s.afterTransition(ctx, o, from, reason)
	return o, nil
}

// Confirm moves a pending order to confirmed. Orders already confirmed or
// further along are left untouched, so repeated calls are safe.
func (s *Service) Confirm(ctx context.Context, id types.ID) error {
	return s.confirm(ctx, id, false)
}

// ConfirmPayment records a completed payment on the order and confirms it.
func (s *Service) ConfirmPayment(ctx context.Context, id types.ID) error {
	return s.confirm(ctx, id, true)
}

func (s *Service) confirm(ctx context.Context, id types.ID, markPaid bool) error {
	var (
		o       *Order
		changed bool
	)
	err := s.store.WithinTx(ctx, func(tx Tx) error {
		var err error
		if o, err = tx.GetForUpdate(ctx, id); err != nil {
			return err
		}
		if o.Status == StatusCancelled {
			return ErrCannotConfirm
		}
		if markPaid && o.PaymentStatus != PaymentCompleted {
			if err := tx.SetPaymentStatus(ctx, id, PaymentCompleted); err != nil {
				return err
			}
			o.PaymentStatus = PaymentCompleted
		}
		if o.Status != StatusPending {
			return nil
		}
		changed = true
		return s.apply(ctx, tx, o, StatusConfirmed, "", nil, nil)
	})
	if err != nil {
		return err
	}
	if changed {
		s.afterTransition(ctx, o, StatusPending, "")
	}
	return nil
}

// MarkPaymentFailed flags the order's payment as failed; the order status is unchanged.
func (s *Service) MarkPaymentFailed(ctx context.Context, id types.ID) error {
	return s.store.WithinTx(ctx, func(tx Tx) error {
		o, err := tx.GetForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if o.PaymentStatus == PaymentCompleted {
			return nil
		}
		return tx.SetPaymentStatus(ctx, id, PaymentFailed)
	})
}

// apply persists one transition and its tracking entry inside tx and updates o in place.
func (s *Service) apply(ctx context.Context, tx Tx, o *Order, to Status, msg string, loc *types.Point, cancelReason *string) error {
	now := s.now().UTC()
	ok, err := tx.UpdateStatus(ctx, StatusUpdate{
		OrderID:      o.ID,
		From:         o.Status,
		To:           to,
		Version:      o.StatusVersion,
		At:           now,
		CancelReason: cancelReason,
	})
	if err != nil {
		return err
	}
	if !ok {
		return ErrConflict
	}
	if msg == "" {
		msg = defaultMessage(to)
	}
	if err := tx.AppendTracking(ctx, &Tracking{
		OrderID:   o.ID,
		Status:    to,
		Message:   msg,
		Location:  loc,
		CreatedAt: now,
	}); err != nil {
		return err
	}

	o.Status = to
	o.StatusVersion++
	o.UpdatedAt = now
	if to == StatusDelivered {
		o.DeliveredAt = &now
	}
	if cancelReason != nil {
		o.CancelReason = cancelReason
	}
	return nil
}

func (s *Service) afterTransition(ctx context.Context, o *Order, from Status, msg string) {
	s.logger.InfoContext(ctx, "order status changed", "order_id", o.ID, "from", from, "to", o.Status)

	evs := []events.Event{events.OrderStatusChanged{OrderID: o.ID, From: string(from), To: string(o.Status), Message: msg}}
	switch o.Status {
	case StatusDelivered:
		evs = append(evs, events.OrderDelivered{OrderID: o.ID, DeliveredAt: *o.DeliveredAt})
	case StatusCancelled:
		evs = append(evs, events.OrderCancelled{OrderID: o.ID, UserID: o.UserID, Reason: msg})
	}
	for _, e := range evs {
		if err := s.bus.Publish(ctx, e); err != nil {
			s.logger.ErrorContext(ctx, "publish after transition failed", "order_id", o.ID, "event", e.EventName(), "error", err)
		}
	}
}

func defaultMessage(st Status) string {
	switch st {
	case StatusPending:
		return "Order placed"
	case StatusConfirmed:
		return "Payment received, order confirmed"
	case StatusPreparing:
		return "Restaurant is preparing the order"
	case StatusReady:
		return "Order is ready for pickup"
	case StatusPickedUp:
		return "Driver picked up the order"
	case StatusOutForDelivery:
		return "Order is out for delivery"
	case StatusDelivered:
		return "Order delivered"
	case StatusCancelled:
		return "Order cancelled"
	}
	return string(st)
}
