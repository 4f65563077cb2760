// Package core provides money parsing and handling utilities.
//
// Amounts are stored as integer minor units (cents). Conversion to and from
// the decimal major-unit representation goes through shopspring/decimal so
// that no binary floating point is involved.
package core

import (
	"strings"

	"github.com/shopspring/decimal"
)

// Money is an amount in minor units.
type Money struct {
	Cents int64
}

var hundred = decimal.NewFromInt(100)

// ParseAmount converts a decimal string to minor units.
//
// It accepts both dot (12.34) and comma (12,34) decimal separators and
// rounds half away from zero on the third decimal place, i.e.
// round(amount*100). Signs, zero and malformed input are rejected.
//
// Examples:
//
//	ParseAmount("250.50") -> Money{25050}
//	ParseAmount("12,34")  -> Money{1234}
//	ParseAmount("1.005")  -> Money{101}
func ParseAmount(s string) (Money, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return Money{}, ErrInvalidAmount
	}
	s = strings.ReplaceAll(s, ",", ".")
	if strings.HasPrefix(s, "+") || strings.HasPrefix(s, "-") {
		return Money{}, ErrInvalidAmount
	}
	// decimal accepts exponents; amounts typed by people never carry one.
	if strings.ContainsAny(s, "eE") {
		return Money{}, ErrInvalidAmount
	}

	d, err := decimal.NewFromString(s)
	if err != nil {
		return Money{}, ErrInvalidAmount
	}
	return FromDecimal(d)
}

// FromDecimal converts a major-unit decimal to minor units.
func FromDecimal(d decimal.Decimal) (Money, error) {
	cents := d.Mul(hundred).Round(0)
	if !cents.IsPositive() {
		return Money{}, ErrInvalidAmount
	}
	// Guard against values that do not fit in int64.
	if cents.GreaterThan(decimal.NewFromInt(1<<63 - 1)) {
		return Money{}, ErrInvalidAmount
	}
	return Money{Cents: cents.IntPart()}, nil
}

// Validate reports whether m is a storable amount.
func (m Money) Validate() error {
	if m.Cents <= 0 {
		return ErrInvalidAmount
	}
	return nil
}

// Decimal returns the major-unit value.
func (m Money) Decimal() decimal.Decimal {
	return decimal.New(m.Cents, -2)
}

// String formats the major-unit value with exactly two fractional digits.
func (m Money) String() string {
	return m.Decimal().StringFixed(2)
}

// MarshalJSON encodes the amount as a JSON number such as 250.50.
func (m Money) MarshalJSON() ([]byte, error) {
	return []byte(m.String()), nil
}

// UnmarshalJSON accepts a JSON number or string in major units, with the
// same rules as ParseAmount.
func (m *Money) UnmarshalJSON(data []byte) error {
	parsed, err := ParseAmount(strings.Trim(string(data), `"`))
	if err != nil {
		return err
	}
	*m = parsed
	return nil
}

// Total is a sum of amounts. It is kept as a decimal so that adding any
// number of valid amounts cannot overflow.
type Total struct {
	d decimal.Decimal
}

// Add returns t plus m.
func (t Total) Add(m Money) Total {
	return Total{d: t.d.Add(decimal.NewFromInt(m.Cents))}
}

// Cmp compares t and o like decimal.Decimal.Cmp.
func (t Total) Cmp(o Total) int {
	return t.d.Cmp(o.d)
}

// Decimal returns the total in major units.
func (t Total) Decimal() decimal.Decimal {
	return t.d.Shift(-2)
}

// String formats the total in major units with two fractional digits.
func (t Total) String() string {
	return t.Decimal().StringFixed(2)
}

// MarshalJSON encodes the total as a JSON number such as 250.50.
func (t Total) MarshalJSON() ([]byte, error) {
	return []byte(t.String()), nil
}

// Sum totals the amounts of views.
func Sum(views []ExpenseView) Total {
	var total Total
	for _, v := range views {
		total = total.Add(v.Amount)
	}
	return total
}
