// README: Payment verification callback.
package handlers

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"fooddash/internal/modules/payment"
)

type PaymentVerifier interface {
	Verify(ctx context.Context, reference string) (*payment.Payment, error)
}

type PaymentHandler struct {
	payment PaymentVerifier
}

func NewPaymentHandler(svc PaymentVerifier) *PaymentHandler {
	return &PaymentHandler{payment: svc}
}

type verifyResp struct {
	Reference string         `json:"reference"`
	OrderID   string         `json:"order_id"`
	Status    payment.Status `json:"status"`
	Message   string         `json:"message,omitempty"`
}

// Verify is called by the gateway redirect without a token, so it only
// reveals the settlement outcome.
func (h *PaymentHandler) Verify(c *gin.Context) {
	p, err := h.payment.Verify(c.Request.Context(), c.Param("reference"))
	if err != nil {
		writeServiceError(c, err)
		return
	}
	resp := verifyResp{Reference: p.Reference, OrderID: string(p.OrderID), Status: p.Status}
	if p.FailureReason != nil {
		resp.Message = *p.FailureReason
	}
	writeJSON(c, http.StatusOK, resp)
}
