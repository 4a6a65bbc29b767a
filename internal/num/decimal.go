package num

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/shopspring/decimal"
)

// MinPrecision is the minimum number of digits after the decimal point
// kept by a division that does not terminate; a quotient below 1 therefore
// keeps fewer than MinPrecision significant digits. Addition, subtraction,
// and multiplication are exact.
const MinPrecision = 50

// ErrInvalidQuantity is returned when a value cannot be represented as an
// exact finite decimal (NaN, infinity, or unparseable input).
var ErrInvalidQuantity = fmt.Errorf("invalid quantity")

func init() {
	// The division precision is process-global and configured exactly once.
	// No other code may lower it.
	if decimal.DivisionPrecision < MinPrecision {
		decimal.DivisionPrecision = MinPrecision
	}
}

// EnsurePrecision raises the global division precision if the requested
// precision exceeds the current setting. It never lowers it.
func EnsurePrecision(digits int) {
	if digits > decimal.DivisionPrecision {
		decimal.DivisionPrecision = digits
	}
}

// Decimal is an exact decimal value. The zero value is 0.
//
// Two Decimals are value-equal iff they represent the same number;
// Canonical() produces exactly one string form per value, so
// a.Canonical() == b.Canonical() ⇔ a.Equal(b).
type Decimal struct {
	d decimal.Decimal
}

// Zero is the zero value.
var Zero = Decimal{}

// FromInt builds a Decimal from an int64.
func FromInt(v int64) Decimal {
	return Decimal{decimal.NewFromInt(v)}
}

// FromString parses a decimal string. Scientific notation is accepted on
// input; the canonical output form never uses it. NaN, infinities, and
// malformed input return ErrInvalidQuantity.
func FromString(s string) (Decimal, error) {
	trimmed := strings.TrimSpace(s)
	switch strings.ToLower(strings.TrimPrefix(trimmed, "-")) {
	case "nan", "inf", "infinity", "+inf", "+infinity":
		return Zero, fmt.Errorf("%w: %q is not finite", ErrInvalidQuantity, s)
	}
	d, err := decimal.NewFromString(trimmed)
	if err != nil {
		return Zero, fmt.Errorf("%w: %v", ErrInvalidQuantity, err)
	}
	return Decimal{d}, nil
}

// MustParse parses a decimal string and panics on failure.
// For literals in code and tests.
func MustParse(s string) Decimal {
	d, err := FromString(s)
	if err != nil {
		panic(err)
	}
	return d
}

// FromBigRat converts an exact rational with the given decimal scale.
func FromBigRat(r *big.Rat, scale int32) Decimal {
	return Decimal{decimal.NewFromBigRat(r, scale)}
}

func (x Decimal) Add(y Decimal) Decimal { return Decimal{x.d.Add(y.d)} }
func (x Decimal) Sub(y Decimal) Decimal { return Decimal{x.d.Sub(y.d)} }
func (x Decimal) Mul(y Decimal) Decimal { return Decimal{x.d.Mul(y.d)} }
func (x Decimal) Neg() Decimal          { return Decimal{x.d.Neg()} }
func (x Decimal) Abs() Decimal          { return Decimal{x.d.Abs()} }

// Div divides with the process-global precision (at least 50 digits past
// the decimal point).
func (x Decimal) Div(y Decimal) Decimal { return Decimal{x.d.Div(y.d)} }

// Round rounds to places decimal places using banker's rounding
// (round half to even), the ledger-wide default mode.
func (x Decimal) Round(places int32) Decimal { return Decimal{x.d.RoundBank(places)} }

// Cmp returns -1, 0, or +1.
func (x Decimal) Cmp(y Decimal) int { return x.d.Cmp(y.d) }

// Equal reports value equality, independent of representation.
func (x Decimal) Equal(y Decimal) bool { return x.d.Equal(y.d) }

func (x Decimal) IsZero() bool     { return x.d.IsZero() }
func (x Decimal) IsNegative() bool { return x.d.IsNegative() }
func (x Decimal) IsPositive() bool { return x.d.IsPositive() }
func (x Decimal) Sign() int        { return x.d.Sign() }

// Canonical returns the single canonical string form of the value:
// no trailing zeros, no decimal point on integral values, a single
// leading '-' for negatives, never scientific notation.
func (x Decimal) Canonical() string {
	s := x.d.String()
	if strings.ContainsRune(s, '.') {
		s = strings.TrimRight(s, "0")
		s = strings.TrimRight(s, ".")
	}
	if s == "" || s == "-0" || s == "-" {
		return "0"
	}
	return s
}

// String is the canonical form.
func (x Decimal) String() string { return x.Canonical() }

// MarshalJSON encodes the canonical form as a JSON string.
func (x Decimal) MarshalJSON() ([]byte, error) {
	return []byte(`"` + x.Canonical() + `"`), nil
}

// UnmarshalJSON decodes a JSON string or bare number.
func (x *Decimal) UnmarshalJSON(data []byte) error {
	s := strings.Trim(string(data), `"`)
	d, err := FromString(s)
	if err != nil {
		return err
	}
	*x = d
	return nil
}

// Max returns the larger of x and y.
func Max(x, y Decimal) Decimal {
	if x.Cmp(y) >= 0 {
		return x
	}
	return y
}

// Sum adds values in argument order.
func Sum(values ...Decimal) Decimal {
	total := Zero
	for _, v := range values {
		total = total.Add(v)
	}
	return total
}
