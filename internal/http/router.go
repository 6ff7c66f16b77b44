// README: HTTP router registration.
package http

import (
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"fooddash/internal/http/handlers"
	"fooddash/internal/http/middleware"
	"fooddash/internal/infra"
)

type RouterDeps struct {
	Orders   handlers.OrderService
	Payments interface {
		handlers.PaymentReader
		handlers.PaymentVerifier
	}
	Drivers  handlers.DriverService
	Verifier infra.TokenVerifier
	// Metrics serves /metrics; defaults to the Prometheus default registry.
	Metrics http.Handler
	Logger  *slog.Logger
}

func NewRouter(deps RouterDeps) *gin.Engine {
	r := gin.New()
	r.Use(middleware.Logging(deps.Logger), middleware.Recovery(deps.Logger))

	r.GET("/health", func(c *gin.Context) {
		c.String(http.StatusOK, "OK")
	})
	metrics := deps.Metrics
	if metrics == nil {
		metrics = promhttp.Handler()
	}
	r.GET("/metrics", gin.WrapH(metrics))

	paymentHandler := handlers.NewPaymentHandler(deps.Payments)
	r.GET("/payments/verify/:reference", paymentHandler.Verify)

	authed := r.Group("/", middleware.Auth(deps.Verifier))

	orderHandler := handlers.NewOrderHandler(deps.Orders, deps.Payments)
	authed.POST("/orders", orderHandler.Create)
	authed.GET("/orders/:id", orderHandler.Get)
	authed.GET("/orders/:id/payment", orderHandler.Payment)
	authed.DELETE("/orders/:id/cancel", orderHandler.Cancel)
	authed.PATCH("/orders/:id/status", orderHandler.UpdateStatus)

	driverHandler := handlers.NewDriverHandler(deps.Drivers)
	authed.PATCH("/drivers/me/availability", driverHandler.SetAvailability)
	authed.PATCH("/drivers/me/location", driverHandler.UpdateLocation)

	return r
}
