package order

import (
	"crypto/rand"
	"fmt"
	"time"
)

// Line is one priced order line; UnitPrice is captured at order time.
type Line struct {
	Quantity  int
	UnitPrice int64
}

// Price computes the order breakdown. Tax is rounded half up on the subtotal.
func Price(lines []Line, deliveryFee, tip, discount, taxRateBps int64) (Breakdown, error) {
	if tip < 0 || discount < 0 || deliveryFee < 0 {
		return Breakdown{}, ErrNegativeAmount
	}
	var b Breakdown
	for _, l := range lines {
		if l.Quantity <= 0 {
			return Breakdown{}, ErrInvalidQuantity
		}
		b.Subtotal += l.UnitPrice * int64(l.Quantity)
	}
	b.Tax = taxOn(b.Subtotal, taxRateBps)
	b.DeliveryFee = deliveryFee
	b.Tip = tip
	if discount > b.Subtotal+b.Tax+b.DeliveryFee {
		return Breakdown{}, ErrDiscountTooLarge
	}
	b.Discount = discount
	b.Total = b.Subtotal + b.Tax + b.DeliveryFee - b.Discount + b.Tip
	return b, nil
}

func taxOn(subtotal, rateBps int64) int64 {
	return (subtotal*rateBps + 5000) / 10000
}

// Consistent reports whether the stored total matches its parts.
func (b Breakdown) Consistent() bool {
	return b.Total == b.Subtotal+b.DeliveryFee+b.Tax-b.Discount+b.Tip
}

const orderNumberAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"

// newOrderNumber returns ORD-<yyyymmddhhmmss>-<6 random chars>.
func newOrderNumber(now time.Time) string {
	var raw [6]byte
	_, _ = rand.Read(raw[:])
	suffix := make([]byte, len(raw))
	for i, b := range raw {
		suffix[i] = orderNumberAlphabet[int(b)%len(orderNumberAlphabet)]
	}
	return fmt.Sprintf("ORD-%s-%s", now.UTC().Format("20060102150405"), suffix)
}
