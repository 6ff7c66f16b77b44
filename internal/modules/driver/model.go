// README: Driver profile, availability state and last known position.
package driver

import (
	"time"

	"fooddash/internal/types"
)

type Status string

const (
	StatusOffline   Status = "offline"
	StatusAvailable Status = "available"
	StatusBusy      Status = "busy"
)

type Driver struct {
	ID                types.ID     `json:"id"`
	UserID            types.ID     `json:"user_id"`
	Name              string       `json:"name"`
	Phone             string       `json:"phone"`
	Email             string       `json:"email"`
	Vehicle           string       `json:"vehicle"`
	Status            Status       `json:"status"`
	Location          *types.Point `json:"location,omitempty"`
	LocationUpdatedAt *time.Time   `json:"location_updated_at,omitempty"`
}

// Dispatchable reports whether the driver may be offered an order.
func (d Driver) Dispatchable() bool {
	return d.Status == StatusAvailable && d.Location != nil
}
