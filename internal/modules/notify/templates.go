package notify

import (
	"bytes"
	"fmt"
	"html/template"

	"fooddash/internal/types"
)

var pages = template.Must(template.New("notify").Funcs(template.FuncMap{
	"money": func(m types.Money) string { return m.String() },
}).Parse(`
{{define "order_placed"}}<p>Hi {{.Name}},</p>
<p>We received order <strong>{{.OrderNumber}}</strong> from {{.Restaurant}}.</p>
<table>
<tr><td>Subtotal</td><td>{{money .Subtotal}}</td></tr>
<tr><td>Tax</td><td>{{money .Tax}}</td></tr>
<tr><td>Delivery fee</td><td>{{money .DeliveryFee}}</td></tr>
<tr><td><strong>Total</strong></td><td><strong>{{money .Total}}</strong></td></tr>
</table>
<p>Complete your payment to confirm it.</p>{{end}}

{{define "new_order"}}<p>New order <strong>{{.OrderNumber}}</strong> is waiting for payment.</p>
<p>Order total: {{money .Total}}</p>{{end}}

{{define "payment_confirmed"}}<p>Hi {{.Name}},</p>
<p>Your payment of {{money .Amount}} for order <strong>{{.OrderNumber}}</strong> was received.</p>
<p>Reference: {{.Reference}}</p>{{end}}

{{define "driver_assigned_customer"}}<p>Hi {{.Name}},</p>
<p>{{.DriverName}} is delivering order <strong>{{.OrderNumber}}</strong> on a {{.Vehicle}}.</p>
{{if .DriverPhone}}<p>Driver phone: {{.DriverPhone}}</p>{{end}}{{end}}

{{define "driver_assigned_restaurant"}}<p>{{.DriverName}} ({{.Vehicle}}) will collect order <strong>{{.OrderNumber}}</strong>.</p>{{end}}

{{define "driver_assigned_driver"}}<p>Hi {{.DriverName}},</p>
<p>You have been assigned order <strong>{{.OrderNumber}}</strong> from {{.Restaurant}}.</p>
<p>Distance to pickup: {{printf "%.1f" .DistanceKm}} km</p>{{end}}

{{define "order_cancelled"}}<p>Hi {{.Name}},</p>
<p>Order <strong>{{.OrderNumber}}</strong> was cancelled: {{.Reason}}</p>{{end}}
`))

type OrderPlaced struct {
	Name        string
	OrderNumber string
	Restaurant  string
	Subtotal    types.Money
	Tax         types.Money
	DeliveryFee types.Money
	Total       types.Money
}

type PaymentConfirmed struct {
	Name        string
	OrderNumber string
	Reference   string
	Amount      types.Money
}

type DriverAssigned struct {
	Name        string
	OrderNumber string
	Restaurant  string
	DriverName  string
	DriverPhone string
	Vehicle     string
	DistanceKm  float64
}

type OrderCancelled struct {
	Name        string
	OrderNumber string
	Reason      string
}

func render(name string, data any) (string, error) {
	var buf bytes.Buffer
	if err := pages.ExecuteTemplate(&buf, name, data); err != nil {
		return "", fmt.Errorf("render %s: %w", name, err)
	}
	return buf.String(), nil
}

func OrderPlacedEmail(to string, d OrderPlaced) (Message, error) {
	html, err := render("order_placed", d)
	return Message{To: to, Subject: "Order " + d.OrderNumber + " received", HTML: html}, err
}

func NewOrderEmail(to string, d OrderPlaced) (Message, error) {
	html, err := render("new_order", d)
	return Message{To: to, Subject: "New order " + d.OrderNumber, HTML: html}, err
}

func PaymentConfirmedEmail(to string, d PaymentConfirmed) (Message, error) {
	html, err := render("payment_confirmed", d)
	return Message{To: to, Subject: "Payment confirmed for " + d.OrderNumber, HTML: html}, err
}

func DriverAssignedCustomerEmail(to string, d DriverAssigned) (Message, error) {
	html, err := render("driver_assigned_customer", d)
	return Message{To: to, Subject: "Your order " + d.OrderNumber + " is on the way", HTML: html}, err
}

func DriverAssignedRestaurantEmail(to string, d DriverAssigned) (Message, error) {
	html, err := render("driver_assigned_restaurant", d)
	return Message{To: to, Subject: "Driver assigned to " + d.OrderNumber, HTML: html}, err
}

func DriverAssignedDriverEmail(to string, d DriverAssigned) (Message, error) {
	html, err := render("driver_assigned_driver", d)
	return Message{To: to, Subject: "New delivery " + d.OrderNumber, HTML: html}, err
}

func OrderCancelledEmail(to string, d OrderCancelled) (Message, error) {
	html, err := render("order_cancelled", d)
	return Message{To: to, Subject: "Order " + d.OrderNumber + " cancelled", HTML: html}, err
}
