package pricing

import (
	"fmt"
	"math"

	"github.com/shopspring/decimal"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

// CurrencyPlaces is the number of decimal places kept for COP amounts.
const CurrencyPlaces = 0

const (
	// MaxAmountLength caps the textual length of an amount literal.
	MaxAmountLength = 32
	// MaxIntegerDigits caps the digits before the decimal point of an amount.
	MaxIntegerDigits = 15
	// MaxAmountScale caps the decimal places of a price or amount.
	MaxAmountScale = 6
	// MaxDiscountScale caps the decimal places of a discount percent.
	MaxDiscountScale = 4
)

var (
	hundred     = decimal.NewFromInt(100)
	displayLang = language.MustParse("es-CO")
)

// RoundCurrency rounds a non-negative amount to the smallest currency unit
// using round-half-up.
func RoundCurrency(amount decimal.Decimal) (decimal.Decimal, error) {
	if amount.IsNegative() {
		return decimal.Zero, fmt.Errorf("%w: %s is negative", ErrInvalidAmount, amount.String())
	}
	return amount.Round(CurrencyPlaces), nil
}

// AmountFromFloat converts a float coming from an untyped boundary.
func AmountFromFloat(f float64) (decimal.Decimal, error) {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return decimal.Zero, fmt.Errorf("%w: not finite", ErrInvalidAmount)
	}
	if f < 0 {
		return decimal.Zero, fmt.Errorf("%w: %v is negative", ErrInvalidAmount, f)
	}
	return decimal.NewFromFloat(f), nil
}

// ParseAmount parses a non-negative decimal string.
func ParseAmount(s string) (decimal.Decimal, error) {
	if len(s) > MaxAmountLength {
		return decimal.Zero, fmt.Errorf("%w: longer than %d characters", ErrInvalidAmount, MaxAmountLength)
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, fmt.Errorf("%w: %q", ErrInvalidAmount, s)
	}
	if d.IsNegative() {
		return decimal.Zero, fmt.Errorf("%w: %q is negative", ErrInvalidAmount, s)
	}
	if !WithinBounds(d, MaxAmountScale) {
		return decimal.Zero, fmt.Errorf("%w: %q is out of range", ErrInvalidAmount, s)
	}
	return d, nil
}

// WithinBounds reports whether d has at most MaxIntegerDigits integer digits
// and at most maxScale decimal places. It only inspects the exponent and the
// coefficient, so it is safe to call on values with extreme exponents.
func WithinBounds(d decimal.Decimal, maxScale int32) bool {
	exp := d.Exponent()
	if exp < -maxScale || exp > MaxIntegerDigits {
		return false
	}
	return d.NumDigits()+int(exp) <= MaxIntegerDigits
}

// FormatCurrency renders an amount for display only. The result is never
// parsed back into arithmetic state.
func FormatCurrency(amount decimal.Decimal) string {
	p := message.NewPrinter(displayLang)
	return p.Sprintf("$ %d", amount.Round(CurrencyPlaces).IntPart())
}

// lineSubtotal is quantity * unitPrice * (1 - discount/100), rounded.
func lineSubtotal(quantity int, unitPrice, discountPercent decimal.Decimal) decimal.Decimal {
	gross := unitPrice.Mul(decimal.NewFromInt(int64(quantity)))
	return gross.Mul(hundred.Sub(discountPercent)).Div(hundred).Round(CurrencyPlaces)
}
