package orders

import (
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgtype"
	"github.com/shopspring/decimal"
)

var ErrInvariant = errors.New("order amount invariant violated")

// Pricing turns item lines into order totals. Tax is rounded to cents,
// shipping is a flat fee per order.
type Pricing struct {
	TaxRate      decimal.Decimal
	ShippingFlat decimal.Decimal
}

var DefaultPricing = Pricing{
	TaxRate:      decimal.RequireFromString("0.10"),
	ShippingFlat: decimal.RequireFromString("10.00"),
}

type Totals struct {
	Subtotal     decimal.Decimal
	TaxAmount    decimal.Decimal
	ShippingCost decimal.Decimal
	TotalAmount  decimal.Decimal
}

func LineTotal(unit decimal.Decimal, qty int) decimal.Decimal {
	return unit.Mul(decimal.NewFromInt(int64(qty)))
}

func (p Pricing) Quote(items []OrderItem) Totals {
	sub := decimal.Zero
	for _, it := range items {
		sub = sub.Add(it.TotalPrice)
	}
	tax := sub.Mul(p.TaxRate).Round(2)
	return Totals{
		Subtotal:     sub,
		TaxAmount:    tax,
		ShippingCost: p.ShippingFlat,
		TotalAmount:  sub.Add(tax).Add(p.ShippingFlat),
	}
}

// CheckTotals verifies total == subtotal + tax + shipping and, for each
// item, total_price == unit_price * quantity.
func CheckTotals(o Order, items []OrderItem) error {
	if !o.TotalAmount.Equal(o.Subtotal.Add(o.TaxAmount).Add(o.ShippingCost)) {
		return fmt.Errorf("%w: order %s total %s != %s + %s + %s", ErrInvariant,
			o.OrderNumber, o.TotalAmount, o.Subtotal, o.TaxAmount, o.ShippingCost)
	}
	for _, it := range items {
		if !it.TotalPrice.Equal(LineTotal(it.UnitPrice, it.Quantity)) {
			return fmt.Errorf("%w: item %s total %s != %s x %d", ErrInvariant,
				it.ID, it.TotalPrice, it.UnitPrice, it.Quantity)
		}
	}
	return nil
}

func toNumeric(d decimal.Decimal) pgtype.Numeric {
	return pgtype.Numeric{Int: d.Coefficient(), Exp: d.Exponent(), Valid: true}
}

func fromNumeric(n pgtype.Numeric) decimal.Decimal {
	if !n.Valid || n.Int == nil {
		return decimal.Zero
	}
	return decimal.NewFromBigInt(n.Int, n.Exp)
}
