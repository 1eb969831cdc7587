package crypto

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestAddressEncodeDecode(t *testing.T) {
	addr := MustNewAddress(DefaultPrefix, bytes.Repeat([]byte{1}, 20))
	require.Equal(t, "orai1qyqszqgpqyqszqgpqyqszqgpqyqszqgppqhav0", addr.String())

	decoded, err := DecodeAddress(addr.String())
	require.NoError(t, err)
	require.True(t, decoded.Equal(addr))
	require.Equal(t, DefaultPrefix, decoded.Prefix())
}

func TestContractAddressesAreAccepted(t *testing.T) {
	addr, err := DecodeAddress("orai1qurswpc8qurswpc8qurswpc8qurswpc8qurswpc8qurswpc8qursk7xm0a")
	require.NoError(t, err)
	require.Len(t, addr.Bytes(), 32)
}

func TestDecodeAddressRejectsGarbage(t *testing.T) {
	for _, in := range []string{"", "orai1invalid", "not-an-address"} {
		_, err := DecodeAddress(in)
		require.ErrorIs(t, err, ErrInvalidAddress, in)
	}
	_, err := NewAddress(DefaultPrefix, []byte{1, 2, 3})
	require.ErrorIs(t, err, ErrInvalidAddress)
}

func TestAddressText(t *testing.T) {
	var addr Address
	require.NoError(t, addr.UnmarshalText([]byte("orai1qvpsxqcrqvpsxqcrqvpsxqcrqvpsxqcr35sedc")))
	text, err := addr.MarshalText()
	require.NoError(t, err)
	require.Equal(t, "orai1qvpsxqcrqvpsxqcrqvpsxqcrqvpsxqcr35sedc", string(text))

	require.NoError(t, addr.UnmarshalText(nil))
	require.True(t, addr.IsZero())
}
