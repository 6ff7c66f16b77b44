// README: Typed step-chain events carried by the in-process bus.
package events

import (
	"time"

	"fooddash/internal/types"
)

type Name string

const (
	NameOrderCreated       Name = "order.created"
	NameOrderStatusChanged Name = "order.status_changed"
	NameOrderCancelled     Name = "order.cancelled"
	NameOrderDelivered     Name = "order.delivered"
	NamePaymentCompleted   Name = "payment.completed"
	NamePaymentFailed      Name = "payment.failed"
	NameDriverAssigned     Name = "driver.assigned"
)

// Event is anything the bus can carry. AggregateID is the order the event belongs to.
type Event interface {
	EventName() Name
	AggregateID() types.ID
}

type Party struct {
	ID    types.ID `json:"id"`
	Name  string   `json:"name"`
	Email string   `json:"email"`
}

// OrderSnapshot is what downstream listeners need without re-reading the order graph.
type OrderSnapshot struct {
	OrderNumber string      `json:"order_number"`
	Restaurant  Party       `json:"restaurant"`
	User        Party       `json:"user"`
	Subtotal    types.Money `json:"subtotal"`
	Tax         types.Money `json:"tax"`
	DeliveryFee types.Money `json:"delivery_fee"`
	Total       types.Money `json:"total"`
}

type OrderCreated struct {
	OrderID      types.ID      `json:"order_id"`
	UserID       types.ID      `json:"user_id"`
	RestaurantID types.ID      `json:"restaurant_id"`
	TotalAmount  types.Money   `json:"total_amount"`
	Snapshot     OrderSnapshot `json:"snapshot"`
	OccurredAt   time.Time     `json:"occurred_at"`
}

func (OrderCreated) EventName() Name         { return NameOrderCreated }
func (e OrderCreated) AggregateID() types.ID { return e.OrderID }

type PaymentSnapshot struct {
	Reference   string    `json:"reference"`
	OrderNumber string    `json:"order_number"`
	Email       string    `json:"email"`
	PaidAt      time.Time `json:"paid_at"`
}

type PaymentCompleted struct {
	OrderID       types.ID        `json:"order_id"`
	PaymentID     types.ID        `json:"payment_id"`
	UserID        types.ID        `json:"user_id"`
	Amount        types.Money     `json:"amount"`
	TransactionID string          `json:"transaction_id"`
	Snapshot      PaymentSnapshot `json:"snapshot"`
}

func (PaymentCompleted) EventName() Name         { return NamePaymentCompleted }
func (e PaymentCompleted) AggregateID() types.ID { return e.OrderID }

type PaymentFailed struct {
	OrderID   types.ID `json:"order_id"`
	PaymentID types.ID `json:"payment_id"`
	UserID    types.ID `json:"user_id"`
	Reason    string   `json:"reason"`
}

func (PaymentFailed) EventName() Name         { return NamePaymentFailed }
func (e PaymentFailed) AggregateID() types.ID { return e.OrderID }

type DriverSnapshot struct {
	DriverID types.ID    `json:"driver_id"`
	UserID   types.ID    `json:"user_id"`
	Name     string      `json:"name"`
	Phone    string      `json:"phone"`
	Email    string      `json:"email"`
	Vehicle  string      `json:"vehicle"`
	Location types.Point `json:"location"`
}

type DriverAssigned struct {
	OrderID        types.ID       `json:"order_id"`
	DriverID       types.ID       `json:"driver_id"`
	DriverSnapshot DriverSnapshot `json:"driver_snapshot"`
	DistanceKm     float64        `json:"distance_km"`
}

func (DriverAssigned) EventName() Name         { return NameDriverAssigned }
func (e DriverAssigned) AggregateID() types.ID { return e.OrderID }

type OrderCancelled struct {
	OrderID types.ID `json:"order_id"`
	UserID  types.ID `json:"user_id"`
	Reason  string   `json:"reason"`
}

func (OrderCancelled) EventName() Name         { return NameOrderCancelled }
func (e OrderCancelled) AggregateID() types.ID { return e.OrderID }

type OrderStatusChanged struct {
	OrderID types.ID `json:"order_id"`
	From    string   `json:"from"`
	To      string   `json:"to"`
	Message string   `json:"message,omitempty"`
}

func (OrderStatusChanged) EventName() Name         { return NameOrderStatusChanged }
func (e OrderStatusChanged) AggregateID() types.ID { return e.OrderID }

type OrderDelivered struct {
	OrderID     types.ID  `json:"order_id"`
	DeliveredAt time.Time `json:"delivered_at"`
}

func (OrderDelivered) EventName() Name         { return NameOrderDelivered }
func (e OrderDelivered) AggregateID() types.ID { return e.OrderID }
