// README: Prometheus-backed meter provider and the domain counters recorded by the saga and dispatch code.
package telemetry

import (
	"context"
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/prometheus"
	otelmetric "go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
)

// Instruments are created against the global delegating meter, so they start
// reporting once InitMeterProvider installs the real provider.
var (
	meter = otel.Meter("fooddash")

	ordersCreated, _     = meter.Int64Counter("fooddash.orders.created", otelmetric.WithDescription("Orders committed by the creation workflow"))
	dispatchOutcomes, _  = meter.Int64Counter("fooddash.dispatch.outcomes", otelmetric.WithDescription("Driver assignment attempts by result"))
	sagaStepFailures, _  = meter.Int64Counter("fooddash.saga.step_failures", otelmetric.WithDescription("Failed saga listener invocations"))
	routingLookups, _    = meter.Int64Counter("fooddash.routing.lookups", otelmetric.WithDescription("Route duration lookups by source"))
	paymentsCompleted, _ = meter.Int64Counter("fooddash.payments.completed", otelmetric.WithDescription("Payments moved to completed"))
)

// InitMeterProvider initializes the Prometheus exporter and MeterProvider.
// It returns an http.Handler for the /metrics endpoint and a shutdown function.
func InitMeterProvider(serviceName, serviceVersion string) (http.Handler, func(context.Context) error, error) {
	exporter, err := prometheus.New()
	if err != nil {
		return nil, nil, err
	}

	mp := metric.NewMeterProvider(
		metric.WithReader(exporter),
		metric.WithResource(newResource(serviceName, serviceVersion)),
	)
	otel.SetMeterProvider(mp)

	return promhttp.Handler(), mp.Shutdown, nil
}

func newResource(serviceName, serviceVersion string) *resource.Resource {
	return resource.NewWithAttributes(
		semconv.SchemaURL,
		semconv.ServiceName(serviceName),
		semconv.ServiceVersion(serviceVersion),
	)
}

func OrderCreated(ctx context.Context) {
	ordersCreated.Add(ctx, 1)
}

// DispatchOutcome records one assignment attempt; result is assigned, no_driver, already_assigned or error.
func DispatchOutcome(ctx context.Context, result string) {
	dispatchOutcomes.Add(ctx, 1, otelmetric.WithAttributes(attribute.String("result", result)))
}

func SagaStepFailed(ctx context.Context, event, listener string) {
	sagaStepFailures.Add(ctx, 1, otelmetric.WithAttributes(
		attribute.String("event", event),
		attribute.String("listener", listener),
	))
}

// RoutingLookup records where a route duration came from: cache, provider or error.
func RoutingLookup(ctx context.Context, source string) {
	routingLookups.Add(ctx, 1, otelmetric.WithAttributes(attribute.String("source", source)))
}

func PaymentCompleted(ctx context.Context) {
	paymentsCompleted.Add(ctx, 1)
}
