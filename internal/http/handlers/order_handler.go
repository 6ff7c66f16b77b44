// README: Order handlers for create/get/cancel/status and the order's payment.
package handlers

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"fooddash/internal/http/middleware"
	"fooddash/internal/modules/order"
	"fooddash/internal/modules/payment"
	"fooddash/internal/types"
)

type OrderService interface {
	Create(ctx context.Context, cmd order.CreateCommand) (*order.Order, error)
	Get(ctx context.Context, id types.ID) (*order.Order, error)
	Cancel(ctx context.Context, cmd order.CancelCommand) (*order.Order, error)
	Advance(ctx context.Context, cmd order.TransitionCommand) (*order.Order, error)
}

type PaymentReader interface {
	LatestForOrder(ctx context.Context, orderID types.ID) (*payment.Payment, error)
}

type OrderHandler struct {
	order    OrderService
	payments PaymentReader
}

func NewOrderHandler(orders OrderService, payments PaymentReader) *OrderHandler {
	return &OrderHandler{order: orders, payments: payments}
}

type orderItemReq struct {
	MenuItemID          string `json:"menu_item_id" binding:"required"`
	Quantity            int    `json:"quantity" binding:"required,min=1"`
	SpecialInstructions string `json:"special_instructions"`
}

type createOrderReq struct {
	RestaurantID string         `json:"restaurant_id" binding:"required"`
	AddressID    string         `json:"address_id" binding:"required"`
	Items        []orderItemReq `json:"items" binding:"required,min=1,dive"`
	Tip          int64          `json:"tip" binding:"min=0"`
	DeliveryType string         `json:"delivery_type"`
	ScheduledFor *time.Time     `json:"scheduled_for"`
	Notes        string         `json:"notes"`
}

type paymentView struct {
	Reference        string         `json:"reference"`
	Status           payment.Status `json:"status"`
	AuthorizationURL string         `json:"authorization_url,omitempty"`
}

type createOrderResp struct {
	Order   *order.Order `json:"order"`
	Payment *paymentView `json:"payment,omitempty"`
}

func (h *OrderHandler) Create(c *gin.Context) {
	var req createOrderReq
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, "invalid request: "+err.Error())
		return
	}
	items := make([]order.ItemRequest, 0, len(req.Items))
	for _, it := range req.Items {
		items = append(items, order.ItemRequest{
			MenuItemID:          types.ID(it.MenuItemID),
			Quantity:            it.Quantity,
			SpecialInstructions: it.SpecialInstructions,
		})
	}
	o, err := h.order.Create(c.Request.Context(), order.CreateCommand{
		UserID:       types.ID(middleware.CallerUID(c)),
		RestaurantID: types.ID(req.RestaurantID),
		AddressID:    types.ID(req.AddressID),
		Items:        items,
		Tip:          req.Tip,
		DeliveryType: order.DeliveryType(req.DeliveryType),
		ScheduledFor: req.ScheduledFor,
		Notes:        req.Notes,
	})
	if err != nil {
		writeServiceError(c, err)
		return
	}

	resp := createOrderResp{Order: o}
	// The payment is opened by the order-created step; its absence is not the caller's failure.
	if p, err := h.payments.LatestForOrder(c.Request.Context(), o.ID); err == nil {
		resp.Payment = &paymentView{Reference: p.Reference, Status: p.Status, AuthorizationURL: p.AuthorizationURL}
	} else if !errors.Is(err, payment.ErrNotFound) {
		_ = c.Error(err)
	}
	writeJSON(c, http.StatusCreated, resp)
}

// canRead reports whether the caller is a party to the order.
func canRead(c *gin.Context, o *order.Order) bool {
	uid := types.ID(middleware.CallerUID(c))
	switch {
	case middleware.IsAdmin(c), o.UserID == uid, o.Access.RestaurantOwnerID == uid:
		return true
	case o.Access.DriverUserID != nil && *o.Access.DriverUserID == uid:
		return true
	}
	return false
}

func (h *OrderHandler) load(c *gin.Context) (*order.Order, bool) {
	o, err := h.order.Get(c.Request.Context(), types.ID(c.Param("id")))
	if err != nil {
		writeServiceError(c, err)
		return nil, false
	}
	return o, true
}

func (h *OrderHandler) Get(c *gin.Context) {
	o, ok := h.load(c)
	if !ok {
		return
	}
	if !canRead(c, o) {
		forbidden(c)
		return
	}
	writeJSON(c, http.StatusOK, o)
}

type cancelOrderReq struct {
	Reason string `json:"reason"`
}

func (h *OrderHandler) Cancel(c *gin.Context) {
	var req cancelOrderReq
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			writeError(c, http.StatusBadRequest, "invalid request: "+err.Error())
			return
		}
	}
	o, ok := h.load(c)
	if !ok {
		return
	}
	if o.UserID != types.ID(middleware.CallerUID(c)) && !middleware.IsAdmin(c) {
		forbidden(c)
		return
	}
	o, err := h.order.Cancel(c.Request.Context(), order.CancelCommand{OrderID: o.ID, Reason: req.Reason})
	if err != nil {
		writeServiceError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, o)
}

type updateStatusReq struct {
	Status  string `json:"status" binding:"required"`
	Message string `json:"message"`
}

// UpdateStatus is the restaurant-driven manual transition along the kitchen chain.
func (h *OrderHandler) UpdateStatus(c *gin.Context) {
	var req updateStatusReq
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, "invalid request: "+err.Error())
		return
	}
	o, ok := h.load(c)
	if !ok {
		return
	}
	if o.Access.RestaurantOwnerID != types.ID(middleware.CallerUID(c)) && !middleware.IsAdmin(c) {
		forbidden(c)
		return
	}
	o, err := h.order.Advance(c.Request.Context(), order.TransitionCommand{
		OrderID: o.ID,
		To:      order.Status(req.Status),
		Message: req.Message,
	})
	if err != nil {
		writeServiceError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, o)
}

func (h *OrderHandler) Payment(c *gin.Context) {
	o, ok := h.load(c)
	if !ok {
		return
	}
	if o.UserID != types.ID(middleware.CallerUID(c)) && !middleware.IsAdmin(c) {
		forbidden(c)
		return
	}
	p, err := h.payments.LatestForOrder(c.Request.Context(), o.ID)
	if err != nil {
		writeServiceError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, p)
}
