package pricing

import (
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func TestComputeSingleLine(t *testing.T) {
	totals := Compute([]Line{{UnitPrice: decimal.RequireFromString("50.00"), Quantity: 2}})

	assert.Equal(t, "100.00", Format(totals.Subtotal))
	assert.Equal(t, "8.00", Format(totals.Tax))
	assert.Equal(t, "108.00", Format(totals.Total))
	assert.True(t, totals.Matches(decimal.RequireFromString("108")))
}

func TestComputeRoundsTax(t *testing.T) {
	totals := Compute([]Line{
		{UnitPrice: decimal.RequireFromString("19.99"), Quantity: 1},
		{UnitPrice: decimal.RequireFromString("0.07"), Quantity: 3},
	})

	// 20.20 * 0.08 = 1.616
	assert.Equal(t, "20.20", Format(totals.Subtotal))
	assert.Equal(t, "1.62", Format(totals.Tax))
	assert.Equal(t, "21.82", Format(totals.Total))
}

func TestComputeEmpty(t *testing.T) {
	totals := Compute(nil)
	assert.True(t, totals.Total.IsZero())
}

func TestMatchesRejectsDrift(t *testing.T) {
	totals := Compute([]Line{{UnitPrice: decimal.RequireFromString("10.00"), Quantity: 1}})
	assert.False(t, totals.Matches(decimal.RequireFromString("10.79")))
	assert.True(t, totals.Matches(decimal.RequireFromString("10.80")))
}

func TestTotalConsistencyProperty(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	properties.Property("total equals subtotal times 1.08 rounded to cents", prop.ForAll(
		func(cents []int64, qty int) bool {
			lines := make([]Line, 0, len(cents))
			for _, c := range cents {
				lines = append(lines, Line{UnitPrice: decimal.New(c, -CurrencyPlaces), Quantity: qty})
			}
			totals := Compute(lines)

			expected := totals.Subtotal.Mul(decimal.NewFromInt(1).Add(TaxRate)).Round(CurrencyPlaces)
			return totals.Total.Equal(expected) && !totals.Tax.IsNegative()
		},
		gen.SliceOf(gen.Int64Range(1, 10_000_000)),
		gen.IntRange(1, 50),
	))

	properties.Property("line total is unit price times quantity", prop.ForAll(
		func(c int64, qty int) bool {
			l := Line{UnitPrice: decimal.New(c, -CurrencyPlaces), Quantity: qty}
			return l.Total().Equal(decimal.New(c*int64(qty), -CurrencyPlaces))
		},
		gen.Int64Range(1, 10_000_000),
		gen.IntRange(1, 1000),
	))

	properties.TestingRun(t)
}
