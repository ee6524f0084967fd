package core

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// ErrInvalidArgument is returned by every constructor in this package when an
// argument would produce a value that cannot be evaluated.
var ErrInvalidArgument = errors.New("invalid argument")

// basisPointsPerUnit is the number of basis points in a whole (1.0) fraction.
const basisPointsPerUnit = 10000

// Money is an immutable monetary amount held in integral minor units.
// Arithmetic never rounds except in Scale, and results may be negative.
type Money struct {
	amount int64
}

// Zero is the zero amount.
var Zero = Money{}

// NewMoney returns an amount of the given minor units.
func NewMoney(amount int64) Money {
	return Money{amount: amount}
}

// Amount returns the amount in minor units.
func (m Money) Amount() int64 {
	return m.amount
}

func (m Money) Add(other Money) Money {
	return Money{amount: m.amount + other.amount}
}

func (m Money) Subtract(other Money) Money {
	return Money{amount: m.amount - other.amount}
}

// Scale multiplies m by f, rounding half away from zero to the nearest minor
// unit. The product is split into whole and remainder parts so that no
// intermediate value exceeds the range of m itself.
func (m Money) Scale(f Fraction) Money {
	q := m.amount / basisPointsPerUnit
	r := m.amount % basisPointsPerUnit
	return Money{amount: q*f.bps + roundedQuotient(r*f.bps, basisPointsPerUnit)}
}

func (m Money) IsZero() bool {
	return m.amount == 0
}

func (m Money) IsNegative() bool {
	return m.amount < 0
}

// Cmp returns -1, 0 or +1 depending on whether m is less than, equal to or
// greater than other.
func (m Money) Cmp(other Money) int {
	switch {
	case m.amount < other.amount:
		return -1
	case m.amount > other.amount:
		return 1
	default:
		return 0
	}
}

func (m Money) String() string {
	return strconv.FormatInt(m.amount, 10)
}

func (m Money) MarshalJSON() ([]byte, error) {
	return []byte(strconv.FormatInt(m.amount, 10)), nil
}

func (m *Money) UnmarshalJSON(data []byte) error {
	var amount int64
	if err := json.Unmarshal(data, &amount); err != nil {
		return fmt.Errorf("money must be an integer amount of minor units: %w", err)
	}
	m.amount = amount
	return nil
}

func roundedQuotient(n, d int64) int64 {
	q := n / d
	r := n % d
	if r < 0 {
		r = -r
	}
	if 2*r >= d {
		if n < 0 {
			return q - 1
		}
		return q + 1
	}
	return q
}

// Fraction is an exact factor in the closed range [0, 1] held in basis points
// (1/10000).
type Fraction struct {
	bps int64
}

// NewFraction returns the fraction bps/10000.
func NewFraction(bps int64) (Fraction, error) {
	if bps < 0 || bps > basisPointsPerUnit {
		return Fraction{}, fmt.Errorf("fraction %d bps outside [0, %d]: %w", bps, basisPointsPerUnit, ErrInvalidArgument)
	}
	return Fraction{bps: bps}, nil
}

// ParseFraction parses a decimal literal such as "0.1", ".25" or "1" with at
// most four fractional digits. Parsing is textual so "0.1" is exactly 1000 bps.
func ParseFraction(s string) (Fraction, error) {
	literal := strings.TrimSpace(s)
	if literal == "" {
		return Fraction{}, fmt.Errorf("empty fraction: %w", ErrInvalidArgument)
	}
	if strings.HasPrefix(literal, "-") {
		return Fraction{}, fmt.Errorf("fraction %q is negative: %w", s, ErrInvalidArgument)
	}
	literal = strings.TrimPrefix(literal, "+")

	whole, frac, _ := strings.Cut(literal, ".")
	if whole == "" && frac == "" {
		return Fraction{}, fmt.Errorf("fraction %q has no digits: %w", s, ErrInvalidArgument)
	}
	if !allDigits(whole) || !allDigits(frac) {
		return Fraction{}, fmt.Errorf("fraction %q is not a decimal literal: %w", s, ErrInvalidArgument)
	}

	frac = strings.TrimRight(frac, "0")
	if len(frac) > 4 {
		return Fraction{}, fmt.Errorf("fraction %q has more than four decimal places: %w", s, ErrInvalidArgument)
	}

	whole = strings.TrimLeft(whole, "0")
	if len(whole) > 1 {
		return Fraction{}, fmt.Errorf("fraction %q greater than 1: %w", s, ErrInvalidArgument)
	}

	var bps int64
	if whole != "" {
		bps = int64(whole[0]-'0') * basisPointsPerUnit
	}
	if frac != "" {
		padded := frac + strings.Repeat("0", 4-len(frac))
		n, err := strconv.ParseInt(padded, 10, 64)
		if err != nil {
			return Fraction{}, fmt.Errorf("parse fraction %q: %w", s, ErrInvalidArgument)
		}
		bps += n
	}

	return NewFraction(bps)
}

// BasisPoints returns the fraction in 1/10000 units.
func (f Fraction) BasisPoints() int64 {
	return f.bps
}

// String formats the fraction as a minimal decimal literal ("0.1", "1").
func (f Fraction) String() string {
	whole := f.bps / basisPointsPerUnit
	frac := f.bps % basisPointsPerUnit
	if frac == 0 {
		return strconv.FormatInt(whole, 10)
	}
	digits := strings.TrimRight(fmt.Sprintf("%04d", frac), "0")
	return strconv.FormatInt(whole, 10) + "." + digits
}

func (f Fraction) MarshalJSON() ([]byte, error) {
	return json.Marshal(f.String())
}

// UnmarshalJSON accepts either a JSON number or a string holding a decimal
// literal. Numbers are parsed from their source text, never through float64.
func (f *Fraction) UnmarshalJSON(data []byte) error {
	var literal string
	if err := json.Unmarshal(data, &literal); err != nil {
		var number json.Number
		if err := json.Unmarshal(data, &number); err != nil {
			return fmt.Errorf("fraction must be a decimal number or string: %w", ErrInvalidArgument)
		}
		literal = number.String()
	}

	parsed, err := ParseFraction(literal)
	if err != nil {
		return err
	}
	*f = parsed
	return nil
}

func allDigits(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}
