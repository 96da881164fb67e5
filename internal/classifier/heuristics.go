package classifier

import (
	"github.com/shopspring/decimal"
)

var (
	half    = decimal.RequireFromString("0.5")
	quarter = decimal.RequireFromString("0.25")
	cent    = decimal.RequireFromString("0.01")
	dime    = decimal.RequireFromString("0.1")
	ten     = decimal.NewFromInt(10)

	psychologicalSteps = []decimal.Decimal{
		decimal.NewFromInt(1000),
		decimal.NewFromInt(500),
		decimal.NewFromInt(100),
	}
	five = decimal.NewFromInt(5)
)

func fraction(d decimal.Decimal) decimal.Decimal {
	return d.Sub(d.Truncate(0))
}

func roundFraction(d decimal.Decimal) bool {
	f := fraction(d)
	return f.IsZero() || f.Equal(half) || f.Equal(quarter)
}

// RoundPrice is true when the price ends in .0, .5 or .25, or its integer
// part sits on a 1000, 500 or 100 boundary.
func RoundPrice(price decimal.Decimal) bool {
	if roundFraction(price) {
		return true
	}
	whole := price.Truncate(0)
	for _, step := range psychologicalSteps {
		if whole.Mod(step).IsZero() {
			return true
		}
	}
	return false
}

// RoundSize is true when the quantity ends in .0, .5 or .25, its integer part
// is at most 10, or its integer part is a multiple of 5.
func RoundSize(qty decimal.Decimal) bool {
	if roundFraction(qty) {
		return true
	}
	whole := qty.Truncate(0)
	return whole.LessThanOrEqual(ten) || whole.Mod(five).IsZero()
}

// IrregularSpacing is true when the gap between two neighbouring prices is
// wider than 0.01, not a whole number and not a multiple of 0.1.
func IrregularSpacing(a, b decimal.Decimal) bool {
	diff := b.Sub(a).Abs()
	return diff.GreaterThan(cent) &&
		!fraction(diff).IsZero() &&
		!diff.Mod(dime).IsZero()
}
