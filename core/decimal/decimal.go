// Package decimal implements an unsigned fixed-point number with eighteen
// fractional digits backed by 256-bit atomics. All arithmetic is checked and
// truncates toward zero.
package decimal

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/holiman/uint256"
)

// Places is the number of fractional digits carried by a Decimal.
const Places = 18

var (
	// ErrOverflow reports an arithmetic result that does not fit in 256 bits.
	ErrOverflow = errors.New("decimal: arithmetic overflow")
	// ErrUnderflow reports a subtraction that would go below zero.
	ErrUnderflow = errors.New("decimal: arithmetic underflow")
	// ErrDivideByZero reports a ratio with a zero denominator.
	ErrDivideByZero = errors.New("decimal: division by zero")
	// ErrInvalidDecimal reports a malformed decimal string.
	ErrInvalidDecimal = errors.New("decimal: invalid decimal string")
)

var fractional = uint256.NewInt(1_000_000_000_000_000_000)

// Decimal is a non-negative fixed-point value. The zero value is 0.
type Decimal struct {
	atomics uint256.Int
}

// Zero returns 0.
func Zero() Decimal { return Decimal{} }

// One returns 1.
func One() Decimal {
	var d Decimal
	d.atomics.Set(fractional)
	return d
}

// FromUint64 returns the integer n as a Decimal.
func FromUint64(n uint64) Decimal {
	var d Decimal
	d.atomics.Mul(uint256.NewInt(n), fractional)
	return d
}

// FromAtomics builds a Decimal from its raw representation (value × 10^18).
func FromAtomics(atomics *uint256.Int) Decimal {
	var d Decimal
	if atomics != nil {
		d.atomics.Set(atomics)
	}
	return d
}

// FromRatio returns num/den truncated to eighteen fractional digits.
func FromRatio(num, den *uint256.Int) (Decimal, error) {
	if den == nil || den.IsZero() {
		return Decimal{}, ErrDivideByZero
	}
	if num == nil {
		return Decimal{}, nil
	}
	var d Decimal
	if _, overflow := d.atomics.MulDivOverflow(num, fractional, den); overflow {
		return Decimal{}, ErrOverflow
	}
	return d, nil
}

// MustParse is like Parse but panics on malformed input. Intended for
// constants and tests.
func MustParse(s string) Decimal {
	d, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return d
}

// Parse reads a plain decimal string such as "0.01", "1" or "12.500".
func Parse(s string) (Decimal, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return Decimal{}, fmt.Errorf("%w: empty", ErrInvalidDecimal)
	}
	whole, frac, hasDot := strings.Cut(s, ".")
	if whole == "" || (hasDot && frac == "") {
		return Decimal{}, fmt.Errorf("%w: %q", ErrInvalidDecimal, s)
	}
	if len(frac) > Places {
		return Decimal{}, fmt.Errorf("%w: more than %d fractional digits in %q", ErrInvalidDecimal, Places, s)
	}
	if !digitsOnly(whole) || !digitsOnly(frac) {
		return Decimal{}, fmt.Errorf("%w: %q", ErrInvalidDecimal, s)
	}
	intPart, err := uint256.FromDecimal(whole)
	if err != nil {
		return Decimal{}, fmt.Errorf("%w: %q", ErrInvalidDecimal, s)
	}
	var d Decimal
	if _, overflow := d.atomics.MulOverflow(intPart, fractional); overflow {
		return Decimal{}, ErrOverflow
	}
	if frac != "" {
		fracPart, err := uint256.FromDecimal(frac + strings.Repeat("0", Places-len(frac)))
		if err != nil {
			return Decimal{}, fmt.Errorf("%w: %q", ErrInvalidDecimal, s)
		}
		if _, overflow := d.atomics.AddOverflow(&d.atomics, fracPart); overflow {
			return Decimal{}, ErrOverflow
		}
	}
	return d, nil
}

func digitsOnly(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

// Atomics returns a copy of the raw representation.
func (d Decimal) Atomics() *uint256.Int {
	return new(uint256.Int).Set(&d.atomics)
}

// IsZero reports whether d is 0.
func (d Decimal) IsZero() bool { return d.atomics.IsZero() }

// Cmp compares d and o and returns -1, 0 or +1.
func (d Decimal) Cmp(o Decimal) int { return d.atomics.Cmp(&o.atomics) }

// Equal reports whether d and o hold the same value.
func (d Decimal) Equal(o Decimal) bool { return d.atomics.Eq(&o.atomics) }

// Add returns d+o.
func (d Decimal) Add(o Decimal) (Decimal, error) {
	var out Decimal
	if _, overflow := out.atomics.AddOverflow(&d.atomics, &o.atomics); overflow {
		return Decimal{}, ErrOverflow
	}
	return out, nil
}

// Sub returns d-o.
func (d Decimal) Sub(o Decimal) (Decimal, error) {
	var out Decimal
	if _, underflow := out.atomics.SubOverflow(&d.atomics, &o.atomics); underflow {
		return Decimal{}, ErrUnderflow
	}
	return out, nil
}

// Mul returns d×o truncated to eighteen fractional digits.
func (d Decimal) Mul(o Decimal) (Decimal, error) {
	var out Decimal
	if _, overflow := out.atomics.MulDivOverflow(&d.atomics, &o.atomics, fractional); overflow {
		return Decimal{}, ErrOverflow
	}
	return out, nil
}

// MulInt returns floor(amount × d) as an integer amount.
func (d Decimal) MulInt(amount *uint256.Int) (*uint256.Int, error) {
	if amount == nil {
		return new(uint256.Int), nil
	}
	out, overflow := new(uint256.Int).MulDivOverflow(amount, &d.atomics, fractional)
	if overflow {
		return nil, ErrOverflow
	}
	return out, nil
}

// String renders d in its shortest form without trailing zeros.
func (d Decimal) String() string {
	whole, frac := new(uint256.Int).DivMod(&d.atomics, fractional, new(uint256.Int))
	if frac.IsZero() {
		return whole.Dec()
	}
	digits := strings.TrimRight(fmt.Sprintf("%018d", frac.Uint64()), "0")
	return whole.Dec() + "." + digits
}

// MarshalText implements encoding.TextMarshaler.
func (d Decimal) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Decimal) UnmarshalText(text []byte) error {
	parsed, err := Parse(string(text))
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}

// MarshalJSON encodes d as a quoted decimal string.
func (d Decimal) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.String())
}

// UnmarshalJSON accepts a quoted decimal string.
func (d *Decimal) UnmarshalJSON(data []byte) error {
	var raw string
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidDecimal, err)
	}
	return d.UnmarshalText([]byte(raw))
}
