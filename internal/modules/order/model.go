// README: Order aggregate, tracking log entries and status definitions.
package order

import (
	"time"

	"fooddash/internal/types"
)

type Status string

const (
	StatusPending        Status = "pending"
	StatusConfirmed      Status = "confirmed"
	StatusPreparing      Status = "preparing"
	StatusReady          Status = "ready"
	StatusPickedUp       Status = "picked_up"
	StatusOutForDelivery Status = "out_for_delivery"
	StatusDelivered      Status = "delivered"
	StatusCancelled      Status = "cancelled"
)

func ParseStatus(s string) (Status, bool) {
	st := Status(s)
	switch st {
	case StatusPending, StatusConfirmed, StatusPreparing, StatusReady,
		StatusPickedUp, StatusOutForDelivery, StatusDelivered, StatusCancelled:
		return st, true
	}
	return "", false
}

func (s Status) Terminal() bool {
	return s == StatusDelivered || s == StatusCancelled
}

type PaymentStatus string

const (
	PaymentPending   PaymentStatus = "pending"
	PaymentCompleted PaymentStatus = "completed"
	PaymentFailed    PaymentStatus = "failed"
)

type DeliveryType string

const (
	DeliveryNow       DeliveryType = "now"
	DeliveryScheduled DeliveryType = "scheduled"
)

const PaymentMethodCard = "card"

// Breakdown holds the monetary parts of an order in minor units.
// Total = Subtotal + DeliveryFee + Tax - Discount + Tip.
type Breakdown struct {
	Subtotal    int64 `json:"subtotal"`
	DeliveryFee int64 `json:"delivery_fee"`
	Tax         int64 `json:"tax"`
	Discount    int64 `json:"discount"`
	Tip         int64 `json:"tip"`
	Total       int64 `json:"total"`
}

type Order struct {
	ID                       types.ID      `json:"id"`
	OrderNumber              string        `json:"order_number"`
	UserID                   types.ID      `json:"user_id"`
	RestaurantID             types.ID      `json:"restaurant_id"`
	DriverID                 *types.ID     `json:"driver_id"`
	AddressID                types.ID      `json:"address_id"`
	DeliveryAddress          string        `json:"delivery_address"`
	DeliveryPoint            types.Point   `json:"delivery_point"`
	Status                   Status        `json:"status"`
	StatusVersion            int           `json:"-"`
	Amounts                  Breakdown     `json:"amounts"`
	Currency                 string        `json:"currency"`
	PaymentMethod            string        `json:"payment_method"`
	PaymentStatus            PaymentStatus `json:"payment_status"`
	DeliveryType             DeliveryType  `json:"delivery_type"`
	ScheduledFor             *time.Time    `json:"scheduled_for,omitempty"`
	EstimatedDeliveryMinutes int           `json:"estimated_delivery_minutes"`
	Notes                    string        `json:"notes,omitempty"`
	CancelReason             *string       `json:"cancel_reason,omitempty"`
	CreatedAt                time.Time     `json:"created_at"`
	UpdatedAt                time.Time     `json:"updated_at"`
	DeliveredAt              *time.Time    `json:"delivered_at,omitempty"`

	Items    []Item     `json:"items,omitempty"`
	Tracking []Tracking `json:"tracking,omitempty"`

	// Access holds the parties allowed to read or act on the order.
	Access Access `json:"-"`
}

type Access struct {
	RestaurantOwnerID types.ID
	DriverUserID      *types.ID
}

type Item struct {
	ID                  types.ID `json:"id"`
	OrderID             types.ID `json:"order_id"`
	MenuItemID          types.ID `json:"menu_item_id"`
	Name                string   `json:"name"`
	Quantity            int      `json:"quantity"`
	UnitPrice           int64    `json:"unit_price"`
	SpecialInstructions string   `json:"special_instructions,omitempty"`
}

// Tracking is one append-only entry of an order's status history.
type Tracking struct {
	ID        int64        `json:"id"`
	OrderID   types.ID     `json:"order_id"`
	Status    Status       `json:"status"`
	Message   string       `json:"message"`
	Location  *types.Point `json:"location,omitempty"`
	CreatedAt time.Time    `json:"created_at"`
}

// Restaurant, Address, MenuItem and Customer are the read-side views the
// creation workflow validates against.
type Restaurant struct {
	ID          types.ID
	OwnerID     types.ID
	Name        string
	Email       string
	IsActive    bool
	DeliveryFee int64
	PrepMinutes int
}

type Address struct {
	ID     types.ID
	UserID types.ID
	Line   string
	Point  types.Point
}

type MenuItem struct {
	ID           types.ID
	RestaurantID types.ID
	Name         string
	Price        int64
	IsAvailable  bool
}

type Customer struct {
	ID    types.ID
	Name  string
	Email string
}

// Contacts are the notification recipients of an order.
type Contacts struct {
	OrderNumber string
	Customer    Customer
	Restaurant  Customer
}

// AllowedTransitions represents the order state flow as code.
// out_for_delivery is reachable from every pre-pickup state once a driver is assigned.
var AllowedTransitions = map[Status][]Status{
	StatusPending:        {StatusConfirmed, StatusCancelled},
	StatusConfirmed:      {StatusPreparing, StatusOutForDelivery, StatusCancelled},
	StatusPreparing:      {StatusReady, StatusOutForDelivery},
	StatusReady:          {StatusPickedUp, StatusOutForDelivery},
	StatusPickedUp:       {StatusOutForDelivery},
	StatusOutForDelivery: {StatusDelivered},
}

// ManualTransitions is the subset staff may request directly: the kitchen and
// courier chain after confirmation. Confirmation and the dispatch shortcuts
// are driven by payment and driver assignment.
var ManualTransitions = map[Status][]Status{
	StatusConfirmed:      {StatusPreparing},
	StatusPreparing:      {StatusReady},
	StatusReady:          {StatusPickedUp},
	StatusPickedUp:       {StatusOutForDelivery},
	StatusOutForDelivery: {StatusDelivered},
}

func CanTransition(from, to Status) bool {
	return allowed(AllowedTransitions, from, to)
}

func CanAdvance(from, to Status) bool {
	return allowed(ManualTransitions, from, to)
}

func allowed(table map[Status][]Status, from, to Status) bool {
	for _, s := range table[from] {
		if s == to {
			return true
		}
	}
	return false
}

// NeedsDriver reports whether entering to requires an assigned driver.
func NeedsDriver(to Status) bool {
	return to == StatusPickedUp || to == StatusOutForDelivery
}

func CanCancel(from Status) bool {
	return from == StatusPending || from == StatusConfirmed
}
