package shared

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// ═══════════════════════════════════════════════════════════════════════════
// Identifiers
// ═══════════════════════════════════════════════════════════════════════════

// NewID returns a new ledger-owned identifier.
func NewID() string {
	return uuid.NewString()
}

// IsValidID reports whether id is a well-formed ledger identifier.
func IsValidID(id string) bool {
	_, err := uuid.Parse(id)
	return err == nil
}

// IsBlank reports whether s is empty after trimming.
func IsBlank(s string) bool {
	return strings.TrimSpace(s) == ""
}

// ═══════════════════════════════════════════════════════════════════════════
// Money
// ═══════════════════════════════════════════════════════════════════════════

// DefaultPrecision is the number of decimal places used for amounts.
const DefaultPrecision int32 = 2

var (
	// Hundred is the percentage base.
	Hundred = decimal.NewFromInt(100)
	// Zero is the zero amount.
	Zero = decimal.Zero
)

// Money carries the rounding rules of the ledger currency.
type Money struct {
	Currency string
	Places   int32
}

// DefaultMoney is MXN with two decimal places.
func DefaultMoney() Money {
	return Money{Currency: "MXN", Places: DefaultPrecision}
}

// Round rounds an amount to the currency precision.
func (m Money) Round(d decimal.Decimal) decimal.Decimal {
	return d.Round(m.Places)
}

// FitsScale reports whether d is representable with the currency precision.
// Trailing zeros are fine: 10.500 fits a two-place currency, 0.005 does not.
func (m Money) FitsScale(d decimal.Decimal) bool {
	return d.Equal(d.Round(m.Places))
}

// CheckScale records a "scale" violation on field when d has more decimal
// places than the currency allows.
func (m Money) CheckScale(v *Violations, field string, d decimal.Decimal) {
	v.Check(m.FitsScale(d), field, "scale",
		fmt.Sprintf("%s must have at most %d decimal places", field, m.Places))
}

// Percent returns amount × pct / 100 rounded to the currency precision.
func (m Money) Percent(amount, pct decimal.Decimal) decimal.Decimal {
	return m.Round(amount.Mul(pct).Div(Hundred))
}

// Format renders an amount with the currency precision.
func (m Money) Format(d decimal.Decimal) string {
	return d.StringFixed(m.Places)
}

// IsValidPercent reports whether pct is within [0, 100].
func IsValidPercent(pct decimal.Decimal) bool {
	return !pct.IsNegative() && pct.LessThanOrEqual(Hundred)
}

// MinDecimal returns the smaller of a and b.
func MinDecimal(a, b decimal.Decimal) decimal.Decimal {
	if a.LessThan(b) {
		return a
	}
	return b
}

// MaxDecimal returns the larger of a and b.
func MaxDecimal(a, b decimal.Decimal) decimal.Decimal {
	if a.GreaterThan(b) {
		return a
	}
	return b
}
