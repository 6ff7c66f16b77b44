// README: Driver self-service handlers: availability and location.
package handlers

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"fooddash/internal/http/middleware"
	"fooddash/internal/modules/driver"
	"fooddash/internal/types"
)

type DriverService interface {
	SetAvailability(ctx context.Context, userID types.ID, available bool) (*driver.Driver, error)
	UpdateLocation(ctx context.Context, userID types.ID, p types.Point) (*driver.Driver, error)
}

type DriverHandler struct {
	driver DriverService
}

func NewDriverHandler(svc DriverService) *DriverHandler {
	return &DriverHandler{driver: svc}
}

type availabilityReq struct {
	Status string `json:"status" binding:"required"`
}

// SetAvailability accepts "available" or "offline"; busy is set by dispatch only.
func (h *DriverHandler) SetAvailability(c *gin.Context) {
	var req availabilityReq
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, "invalid request: "+err.Error())
		return
	}
	var available bool
	switch driver.Status(req.Status) {
	case driver.StatusAvailable:
		available = true
	case driver.StatusOffline:
	default:
		writeError(c, http.StatusBadRequest, `status must be "available" or "offline"`)
		return
	}
	d, err := h.driver.SetAvailability(c.Request.Context(), types.ID(middleware.CallerUID(c)), available)
	if err != nil {
		writeServiceError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, d)
}

type locationReq struct {
	Lat *float64 `json:"lat" binding:"required"`
	Lng *float64 `json:"lng" binding:"required"`
}

func (h *DriverHandler) UpdateLocation(c *gin.Context) {
	var req locationReq
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, "invalid request: "+err.Error())
		return
	}
	d, err := h.driver.UpdateLocation(c.Request.Context(), types.ID(middleware.CallerUID(c)),
		types.Point{Lat: *req.Lat, Lng: *req.Lng})
	if err != nil {
		writeServiceError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, d)
}
