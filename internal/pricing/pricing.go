// Package pricing holds the storefront's tax policy and order total arithmetic.
// Order creation, checkout session creation and the cart API all compute totals here.
package pricing

import "github.com/shopspring/decimal"

// CurrencyPlaces is the precision of USD amounts
const CurrencyPlaces = 2

// TaxRate is the flat sales tax applied to an order subtotal
var TaxRate = decimal.RequireFromString("0.08")

// Line is a priced quantity
type Line struct {
	UnitPrice decimal.Decimal
	Quantity  int
}

// Total returns unit price times quantity
func (l Line) Total() decimal.Decimal {
	return l.UnitPrice.Mul(decimal.NewFromInt(int64(l.Quantity))).Round(CurrencyPlaces)
}

type Totals struct {
	Subtotal decimal.Decimal
	Tax      decimal.Decimal
	Total    decimal.Decimal
}

// Compute sums the lines and applies TaxRate, rounding tax to cents.
func Compute(lines []Line) Totals {
	subtotal := decimal.Zero
	for _, l := range lines {
		subtotal = subtotal.Add(l.Total())
	}
	subtotal = subtotal.Round(CurrencyPlaces)
	tax := Tax(subtotal)

	return Totals{
		Subtotal: subtotal,
		Tax:      tax,
		Total:    subtotal.Add(tax),
	}
}

// Tax returns the rounded tax owed on subtotal
func Tax(subtotal decimal.Decimal) decimal.Decimal {
	return subtotal.Mul(TaxRate).Round(CurrencyPlaces)
}

// Matches reports whether a stored total equals the recomputed one at cent precision.
func (t Totals) Matches(stored decimal.Decimal) bool {
	return t.Total.Round(CurrencyPlaces).Equal(stored.Round(CurrencyPlaces))
}

// Format renders an amount the way payment processors expect, e.g. "108.00".
func Format(amount decimal.Decimal) string {
	return amount.StringFixed(CurrencyPlaces)
}
