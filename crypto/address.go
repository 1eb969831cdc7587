package crypto

import (
	"bytes"
	"errors"
	"fmt"
	"strings"

	"github.com/btcsuite/btcutil/bech32"
)

// DefaultPrefix is the human-readable part used by chain accounts.
const DefaultPrefix = "orai"

// ErrInvalidAddress is returned for strings that are not valid bech32 account
// or contract addresses.
var ErrInvalidAddress = errors.New("crypto: invalid address")

// Address is a bech32 encoded account or contract address. Accounts carry 20
// bytes, contracts 32.
type Address struct {
	prefix string
	bytes  []byte
}

func NewAddress(prefix string, b []byte) (Address, error) {
	if prefix == "" {
		return Address{}, fmt.Errorf("%w: empty prefix", ErrInvalidAddress)
	}
	if len(b) != 20 && len(b) != 32 {
		return Address{}, fmt.Errorf("%w: %d byte payload", ErrInvalidAddress, len(b))
	}
	return Address{prefix: prefix, bytes: append([]byte(nil), b...)}, nil
}

// MustNewAddress panics when the payload is not a valid address.
func MustNewAddress(prefix string, b []byte) Address {
	addr, err := NewAddress(prefix, b)
	if err != nil {
		panic(err)
	}
	return addr
}

func (a Address) String() string {
	if a.IsZero() {
		return ""
	}
	conv, err := bech32.ConvertBits(a.bytes, 8, 5, true)
	if err != nil {
		panic(err)
	}
	encoded, err := bech32.Encode(a.prefix, conv)
	if err != nil {
		panic(err)
	}
	return encoded
}

func (a Address) Bytes() []byte {
	return append([]byte(nil), a.bytes...)
}

// Prefix returns the human-readable prefix associated with the address.
func (a Address) Prefix() string {
	return a.prefix
}

// IsZero reports whether the address is unset.
func (a Address) IsZero() bool {
	return len(a.bytes) == 0
}

// Equal compares prefix and payload.
func (a Address) Equal(o Address) bool {
	return a.prefix == o.prefix && bytes.Equal(a.bytes, o.bytes)
}

func DecodeAddress(addrStr string) (Address, error) {
	trimmed := strings.TrimSpace(addrStr)
	if trimmed == "" {
		return Address{}, fmt.Errorf("%w: empty", ErrInvalidAddress)
	}
	prefix, decoded, err := bech32.Decode(trimmed)
	if err != nil {
		return Address{}, fmt.Errorf("%w: %v", ErrInvalidAddress, err)
	}
	conv, err := bech32.ConvertBits(decoded, 5, 8, false)
	if err != nil {
		return Address{}, fmt.Errorf("%w: converting bits: %v", ErrInvalidAddress, err)
	}
	return NewAddress(prefix, conv)
}

// MarshalText implements encoding.TextMarshaler.
func (a Address) MarshalText() ([]byte, error) {
	return []byte(a.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler. Empty input yields the
// zero address.
func (a *Address) UnmarshalText(text []byte) error {
	if len(bytes.TrimSpace(text)) == 0 {
		*a = Address{}
		return nil
	}
	decoded, err := DecodeAddress(string(text))
	if err != nil {
		return err
	}
	*a = decoded
	return nil
}
