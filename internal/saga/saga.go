// README: Saga wiring: registers every step of the fulfillment chain on the event bus.
package saga

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"fooddash/internal/events"
	"fooddash/internal/modules/dispatch"
	"fooddash/internal/modules/notify"
	"fooddash/internal/modules/order"
	"fooddash/internal/modules/payment"
	"fooddash/internal/modules/transfer"
	"fooddash/internal/types"
)

type Orders interface {
	Confirm(ctx context.Context, id types.ID) error
	Transition(ctx context.Context, cmd order.TransitionCommand) (*order.Order, error)
	Contacts(ctx context.Context, id types.ID) (*order.Contacts, error)
}

type Payments interface {
	Initialize(ctx context.Context, cmd payment.InitCommand) (*payment.Payment, error)
}

type Dispatcher interface {
	AssignOrder(ctx context.Context, orderID types.ID) (*dispatch.Assignment, error)
}

type Transfers interface {
	RecordPayouts(ctx context.Context, orderID types.ID) ([]transfer.Transfer, error)
}

type Deps struct {
	Bus        *events.Bus
	Orders     Orders
	Payments   Payments
	Dispatcher Dispatcher
	Transfers  Transfers
	Notifier   notify.Notifier
	// Relay mirrors every event to Kafka; nil disables it.
	Relay  *events.KafkaRelay
	Logger *slog.Logger
}

type steps struct {
	Deps
	logger *slog.Logger
}

// Register subscribes the chain:
//
//	OrderCreated     -> payment.initialize (fatal), notify.order_placed
//	PaymentCompleted -> order.confirm (fatal), dispatch.assign (fatal), notify.payment_confirmed
//	DriverAssigned   -> order.out_for_delivery (fatal), notify.driver_assigned
//	OrderDelivered   -> transfer.payouts
//	OrderCancelled   -> notify.order_cancelled
//
// Unmarked steps are best-effort.
func Register(d Deps) {
	s := &steps{Deps: d, logger: d.Logger.With("component", "saga")}
	b := d.Bus

	events.On(b, "payment.initialize", events.Fatal, s.initializePayment)
	events.On(b, "notify.order_placed", events.BestEffort, s.notifyOrderPlaced)

	events.On(b, "order.confirm", events.Fatal, s.confirmOrder)
	events.On(b, "dispatch.assign", events.Fatal, s.assignDriver)
	events.On(b, "notify.payment_confirmed", events.BestEffort, s.notifyPaymentConfirmed)

	events.On(b, "order.out_for_delivery", events.Fatal, s.markOutForDelivery)
	events.On(b, "notify.driver_assigned", events.BestEffort, s.notifyDriverAssigned)

	if d.Transfers != nil {
		events.On(b, "transfer.payouts", events.BestEffort, s.recordPayouts)
	}
	events.On(b, "notify.order_cancelled", events.BestEffort, s.notifyOrderCancelled)

	if d.Relay != nil {
		b.SubscribeAll(d.Relay.Listener())
	}
}

func (s *steps) initializePayment(ctx context.Context, e events.OrderCreated) error {
	p, err := s.Payments.Initialize(ctx, payment.InitCommand{
		OrderID:     e.OrderID,
		UserID:      e.UserID,
		OrderNumber: e.Snapshot.OrderNumber,
		Email:       e.Snapshot.User.Email,
		Amount:      e.TotalAmount,
	})
	if err != nil {
		return err
	}
	s.logger.InfoContext(ctx, "payment awaiting customer", "order_id", e.OrderID, "reference", p.Reference)
	return nil
}

func (s *steps) notifyOrderPlaced(ctx context.Context, e events.OrderCreated) error {
	snap := e.Snapshot
	data := notify.OrderPlaced{
		Name:        snap.User.Name,
		OrderNumber: snap.OrderNumber,
		Restaurant:  snap.Restaurant.Name,
		Subtotal:    snap.Subtotal,
		Tax:         snap.Tax,
		DeliveryFee: snap.DeliveryFee,
		Total:       snap.Total,
	}
	customer, err := notify.OrderPlacedEmail(snap.User.Email, data)
	if err != nil {
		return err
	}
	restaurant, err := notify.NewOrderEmail(snap.Restaurant.Email, data)
	if err != nil {
		return err
	}
	return s.send(ctx, customer, restaurant)
}

func (s *steps) confirmOrder(ctx context.Context, e events.PaymentCompleted) error {
	return s.Orders.Confirm(ctx, e.OrderID)
}

// assignDriver treats an empty neighbourhood as a normal outcome: the order
// stays confirmed and unassigned.
func (s *steps) assignDriver(ctx context.Context, e events.PaymentCompleted) error {
	_, err := s.Dispatcher.AssignOrder(ctx, e.OrderID)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, dispatch.ErrNoDriverAvailable):
		s.logger.WarnContext(ctx, "order left without a driver", "order_id", e.OrderID)
		return nil
	case errors.Is(err, dispatch.ErrAlreadyAssigned):
		return nil
	case errors.Is(err, dispatch.ErrNotDispatchable):
		s.logger.WarnContext(ctx, "paid order is no longer dispatchable", "order_id", e.OrderID)
		return nil
	}
	return err
}

func (s *steps) notifyPaymentConfirmed(ctx context.Context, e events.PaymentCompleted) error {
	c, err := s.Orders.Contacts(ctx, e.OrderID)
	if err != nil {
		return err
	}
	to := e.Snapshot.Email
	if to == "" {
		to = c.Customer.Email
	}
	msg, err := notify.PaymentConfirmedEmail(to, notify.PaymentConfirmed{
		Name:        c.Customer.Name,
		OrderNumber: c.OrderNumber,
		Reference:   e.Snapshot.Reference,
		Amount:      e.Amount,
	})
	if err != nil {
		return err
	}
	return s.send(ctx, msg)
}

func (s *steps) markOutForDelivery(ctx context.Context, e events.DriverAssigned) error {
	loc := e.DriverSnapshot.Location
	_, err := s.Orders.Transition(ctx, order.TransitionCommand{
		OrderID:  e.OrderID,
		To:       order.StatusOutForDelivery,
		Message:  fmt.Sprintf("%s is on the way", e.DriverSnapshot.Name),
		Location: &loc,
	})
	return err
}

func (s *steps) notifyDriverAssigned(ctx context.Context, e events.DriverAssigned) error {
	c, err := s.Orders.Contacts(ctx, e.OrderID)
	if err != nil {
		return err
	}
	d := e.DriverSnapshot
	data := notify.DriverAssigned{
		Name:        c.Customer.Name,
		OrderNumber: c.OrderNumber,
		Restaurant:  c.Restaurant.Name,
		DriverName:  d.Name,
		DriverPhone: d.Phone,
		Vehicle:     d.Vehicle,
		DistanceKm:  e.DistanceKm,
	}
	customer, err := notify.DriverAssignedCustomerEmail(c.Customer.Email, data)
	if err != nil {
		return err
	}
	restaurant, err := notify.DriverAssignedRestaurantEmail(c.Restaurant.Email, data)
	if err != nil {
		return err
	}
	msgs := []notify.Message{customer, restaurant}
	if d.Email != "" {
		driver, err := notify.DriverAssignedDriverEmail(d.Email, data)
		if err != nil {
			return err
		}
		msgs = append(msgs, driver)
	}
	return s.send(ctx, msgs...)
}

func (s *steps) recordPayouts(ctx context.Context, e events.OrderDelivered) error {
	_, err := s.Transfers.RecordPayouts(ctx, e.OrderID)
	return err
}

func (s *steps) notifyOrderCancelled(ctx context.Context, e events.OrderCancelled) error {
	c, err := s.Orders.Contacts(ctx, e.OrderID)
	if err != nil {
		return err
	}
	msg, err := notify.OrderCancelledEmail(c.Customer.Email, notify.OrderCancelled{
		Name:        c.Customer.Name,
		OrderNumber: c.OrderNumber,
		Reason:      e.Reason,
	})
	if err != nil {
		return err
	}
	return s.send(ctx, msg)
}

// send delivers every message and reports the failures together.
func (s *steps) send(ctx context.Context, msgs ...notify.Message) error {
	var errs []error
	for _, m := range msgs {
		if m.To == "" {
			continue
		}
		if err := s.Notifier.Send(ctx, m); err != nil {
			errs = append(errs, fmt.Errorf("send %q to %s: %w", m.Subject, m.To, err))
		}
	}
	return errors.Join(errs...)
}
