// README: Payment attempts for an order and their gateway outcome.
package payment

import (
	"time"

	"fooddash/internal/types"
)

type Status string

const (
	StatusPending   Status = "pending"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

type Payment struct {
	ID               types.ID   `json:"id"`
	OrderID          types.ID   `json:"order_id"`
	UserID           types.ID   `json:"user_id"`
	Reference        string     `json:"reference"`
	OrderNumber      string     `json:"order_number"`
	Amount           int64      `json:"amount"`
	Currency         string     `json:"currency"`
	Email            string     `json:"email"`
	Status           Status     `json:"status"`
	Provider         string     `json:"provider"`
	AuthorizationURL string     `json:"authorization_url,omitempty"`
	TransactionID    *string    `json:"transaction_id,omitempty"`
	FailureReason    *string    `json:"failure_reason,omitempty"`
	CreatedAt        time.Time  `json:"created_at"`
	UpdatedAt        time.Time  `json:"updated_at"`
	PaidAt           *time.Time `json:"paid_at,omitempty"`
}
