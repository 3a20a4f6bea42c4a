// Package money wraps shopspring/decimal with the rounding rules Spanish
// invoicing requires. All currency amounts are EUR with two decimal places;
// rounding is banker's (round-half-even) and is applied exactly once per
// derived amount, never re-applied to already-rounded values.
package money

import "github.com/shopspring/decimal"

// Zero is decimal zero.
var Zero = decimal.Zero

// FromString parses a decimal amount from its string form.
func FromString(s string) (decimal.Decimal, error) {
	return decimal.NewFromString(s)
}

// MustFromString parses a decimal amount, panicking on error. Test helper.
func MustFromString(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return d
}

// Round2 rounds to cents using banker's rounding.
func Round2(d decimal.Decimal) decimal.Decimal {
	return d.RoundBank(2)
}

// LineBase computes round2(quantity * unitPrice) less the discount percentage,
// rounding once at the end.
func LineBase(quantity, unitPrice, discountPct decimal.Decimal) decimal.Decimal {
	gross := quantity.Mul(unitPrice)
	if discountPct.IsPositive() {
		discount := gross.Mul(discountPct).Div(decimal.NewFromInt(100))
		gross = gross.Sub(discount)
	}
	return gross.RoundBank(2)
}

// TaxOn computes round2(base * ratePct/100).
func TaxOn(base, ratePct decimal.Decimal) decimal.Decimal {
	return base.Mul(ratePct).Div(decimal.NewFromInt(100)).RoundBank(2)
}

// Sum adds a slice of decimals without rounding.
func Sum(values []decimal.Decimal) decimal.Decimal {
	total := Zero
	for _, v := range values {
		total = total.Add(v)
	}
	return total
}

// Format renders an amount with exactly two decimal places, the form used in
// canonical chain serialization and the Facturae document.
func Format(d decimal.Decimal) string {
	return d.StringFixed(2)
}
