// internal/guarantee/commission.go
package guarantee

import (
	"github.com/shopspring/decimal"
)

var hundred = decimal.NewFromInt(100)

// Commission returns amount * ratePercent / 100 rounded half away from zero to
// two decimal places.
func Commission(amount, ratePercent decimal.Decimal) decimal.Decimal {
	return amount.Mul(ratePercent).Div(hundred).Round(2)
}

// CommissionHolds reports whether the stored commission matches the amount
// and rate of g.
func CommissionHolds(g *Guarantee) bool {
	return g.CommissionAmount.Equal(Commission(g.Amount, g.CommissionRate))
}
