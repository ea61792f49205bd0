// Package core holds the ledger domain types shared by every other package:
// records, monetary values, query windows and the derived snapshot.
//
// This file contains the Money type. Amounts are exact decimals backed by
// shopspring/decimal; binary floating point is never used for money.
package core

import (
	"strings"

	"github.com/shopspring/decimal"
)

// Display ceiling: any magnitude at or above moneyBoundary is shown as
// ±moneyCeiling. This is a hard limit, not a rounding rule.
var (
	moneyBoundary = decimal.NewFromInt(1_000_000_000)
	moneyCeiling  = decimal.RequireFromString("999999999.99")
)

// Unit hints for large magnitudes, largest first.
const (
	UnitHundredMillion  = "hundred-million"
	UnitTenMillion      = "ten-million"
	UnitMillion         = "million"
	UnitHundredThousand = "hundred-thousand"
	UnitTenThousand     = "ten-thousand"
)

var unitThresholds = []struct {
	min  decimal.Decimal
	hint string
}{
	{decimal.NewFromInt(100_000_000), UnitHundredMillion},
	{decimal.NewFromInt(10_000_000), UnitTenMillion},
	{decimal.NewFromInt(1_000_000), UnitMillion},
	{decimal.NewFromInt(100_000), UnitHundredThousand},
	{decimal.NewFromInt(10_000), UnitTenThousand},
}

// Money is an exact decimal amount. The zero value is 0.
type Money struct {
	d decimal.Decimal
}

// Zero is the zero amount.
var Zero = Money{}

// ParseMoney converts a decimal string to Money.
//
// Invalid or non-numeric input yields zero instead of an error: callers on
// the aggregation path treat malformed amounts as 0 and keep going.
//
//	ParseMoney("12.34")  -> 12.34
//	ParseMoney(" 7 ")    -> 7
//	ParseMoney("abc")    -> 0
func ParseMoney(s string) Money {
	m, ok := TryParseMoney(s)
	if !ok {
		return Zero
	}
	return m
}

// TryParseMoney is ParseMoney with an explicit validity flag.
func TryParseMoney(s string) (Money, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return Zero, false
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return Zero, false
	}
	return Money{d: d}, true
}

// NewMoney returns a whole-unit amount.
func NewMoney(units int64) Money {
	return Money{d: decimal.NewFromInt(units)}
}

// MoneyFromCents returns cents/100.
func MoneyFromCents(cents int64) Money {
	return Money{d: decimal.New(cents, -2)}
}

// MoneyFromDecimal wraps an existing decimal.
func MoneyFromDecimal(d decimal.Decimal) Money {
	return Money{d: d}
}

// Decimal exposes the underlying decimal value.
func (m Money) Decimal() decimal.Decimal { return m.d }

func (m Money) Add(o Money) Money { return Money{d: m.d.Add(o.d)} }
func (m Money) Sub(o Money) Money { return Money{d: m.d.Sub(o.d)} }
func (m Money) Neg() Money        { return Money{d: m.d.Neg()} }
func (m Money) Abs() Money        { return Money{d: m.d.Abs()} }
func (m Money) Cmp(o Money) int   { return m.d.Cmp(o.d) }
func (m Money) Sign() int         { return m.d.Sign() }
func (m Money) IsZero() bool      { return m.d.IsZero() }
func (m Money) Equal(o Money) bool {
	return m.d.Equal(o.d)
}

// DivRound divides by n and rounds half-up to the given number of places.
// Dividing by zero returns zero.
func (m Money) DivRound(n int64, places int32) Money {
	if n == 0 {
		return Zero
	}
	return Money{d: m.d.DivRound(decimal.NewFromInt(n), places)}
}

// Sum adds every amount exactly.
func Sum(values ...Money) Money {
	total := decimal.Zero
	for _, v := range values {
		total = total.Add(v.d)
	}
	return Money{d: total}
}

// Clamp caps the magnitude at 999,999,999.99 once it reaches 1,000,000,000.
func (m Money) Clamp() Money {
	if m.d.Abs().GreaterThanOrEqual(moneyBoundary) {
		if m.d.Sign() < 0 {
			return Money{d: moneyCeiling.Neg()}
		}
		return Money{d: moneyCeiling}
	}
	return m
}

// display rounds to cents before clamping so a value just under the
// boundary cannot round up past the ceiling.
func (m Money) display() Money {
	return Money{d: m.d.Round(2)}.Clamp()
}

// Format renders the clamped amount with thousands separators and two
// fractional digits, e.g. "1,234.50".
func (m Money) Format() string {
	plain := m.Plain()
	neg := strings.HasPrefix(plain, "-")
	plain = strings.TrimPrefix(plain, "-")

	intPart, frac, _ := strings.Cut(plain, ".")
	out := groupThousands(intPart) + "." + frac
	if neg {
		return "-" + out
	}
	return out
}

// Plain renders the clamped amount with two fractional digits and no
// separators; this is the form fed back into the expression editor.
func (m Money) Plain() string {
	s := m.display().d.StringFixed(2)
	if s == "-0.00" {
		return "0.00"
	}
	return s
}

// UnitHint names the magnitude bucket of the clamped amount, or "" below
// ten thousand.
func (m Money) UnitHint() string {
	abs := m.display().d.Abs()
	for _, t := range unitThresholds {
		if abs.GreaterThanOrEqual(t.min) {
			return t.hint
		}
	}
	return ""
}

// String returns the exact, unrounded value.
func (m Money) String() string { return m.d.String() }

// MarshalJSON encodes the exact value as a JSON string.
func (m Money) MarshalJSON() ([]byte, error) {
	return []byte(`"` + m.d.String() + `"`), nil
}

// UnmarshalJSON accepts both "12.34" and 12.34.
func (m *Money) UnmarshalJSON(b []byte) error {
	return m.d.UnmarshalJSON(b)
}

func groupThousands(digits string) string {
	if len(digits) <= 3 {
		return digits
	}
	var b strings.Builder
	lead := len(digits) % 3
	if lead > 0 {
		b.WriteString(digits[:lead])
	}
	for i := lead; i < len(digits); i += 3 {
		if b.Len() > 0 {
			b.WriteByte(',')
		}
		b.WriteString(digits[i : i+3])
	}
	return b.String()
}
