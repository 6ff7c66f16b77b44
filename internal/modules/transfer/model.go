package transfer

import (
	"time"

	"fooddash/internal/types"
)

type RecipientType string

const (
	RecipientRestaurant RecipientType = "restaurant"
	RecipientDriver     RecipientType = "driver"
)

type Status string

const (
	StatusPending Status = "pending"
)

// Transfer is a payout owed to one party of a delivered order.
type Transfer struct {
	ID            types.ID      `json:"id"`
	OrderID       types.ID      `json:"order_id"`
	RecipientType RecipientType `json:"recipient_type"`
	RecipientID   types.ID      `json:"recipient_id"`
	Amount        int64         `json:"amount"`
	Currency      string        `json:"currency"`
	Status        Status        `json:"status"`
	CreatedAt     time.Time     `json:"created_at"`
}

// Settlement is the money split of a delivered order.
type Settlement struct {
	OrderID      types.ID
	Status       string
	RestaurantID types.ID
	DriverID     *types.ID
	Subtotal     int64
	DeliveryFee  int64
	Tip          int64
	Currency     string
}

// Payouts splits a settlement: the restaurant gets the subtotal and the driver
// gets the delivery fee plus tip. Orders delivered without a driver pay the
// restaurant only.
func Payouts(s Settlement) []Transfer {
	out := []Transfer{{
		OrderID:       s.OrderID,
		RecipientType: RecipientRestaurant,
		RecipientID:   s.RestaurantID,
		Amount:        s.Subtotal,
		Currency:      s.Currency,
		Status:        StatusPending,
	}}
	if s.DriverID != nil {
		out = append(out, Transfer{
			OrderID:       s.OrderID,
			RecipientType: RecipientDriver,
			RecipientID:   *s.DriverID,
			Amount:        s.DeliveryFee + s.Tip,
			Currency:      s.Currency,
			Status:        StatusPending,
		})
	}
	return out
}
