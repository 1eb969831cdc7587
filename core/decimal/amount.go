package decimal

import (
	"fmt"
	"strings"

	"github.com/holiman/uint256"
)

// ParseAmount reads a base-10 integer amount.
func ParseAmount(s string) (*uint256.Int, error) {
	trimmed := strings.TrimSpace(s)
	if trimmed == "" || !digitsOnly(trimmed) {
		return nil, fmt.Errorf("%w: amount %q", ErrInvalidDecimal, s)
	}
	amount, err := uint256.FromDecimal(trimmed)
	if err != nil {
		return nil, fmt.Errorf("%w: amount %q: %v", ErrInvalidDecimal, s, err)
	}
	return amount, nil
}

// CheckedAdd returns x+y or ErrOverflow.
func CheckedAdd(x, y *uint256.Int) (*uint256.Int, error) {
	out, overflow := new(uint256.Int).AddOverflow(orZero(x), orZero(y))
	if overflow {
		return nil, ErrOverflow
	}
	return out, nil
}

// CheckedSub returns x-y or ErrUnderflow.
func CheckedSub(x, y *uint256.Int) (*uint256.Int, error) {
	out, underflow := new(uint256.Int).SubOverflow(orZero(x), orZero(y))
	if underflow {
		return nil, ErrUnderflow
	}
	return out, nil
}

// MinAmount returns the smaller of x and y.
func MinAmount(x, y *uint256.Int) *uint256.Int {
	if orZero(x).Cmp(orZero(y)) <= 0 {
		return new(uint256.Int).Set(orZero(x))
	}
	return new(uint256.Int).Set(orZero(y))
}

// CloneAmount returns a copy of x, treating nil as zero.
func CloneAmount(x *uint256.Int) *uint256.Int {
	return new(uint256.Int).Set(orZero(x))
}

func orZero(x *uint256.Int) *uint256.Int {
	if x == nil {
		return new(uint256.Int)
	}
	return x
}
