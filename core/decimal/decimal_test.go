package decimal

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/holiman/uint256"
	"github.com/stretchr/testify/require"
)

func TestParseAndString(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"0", "0"},
		{"1", "1"},
		{"0.01", "0.01"},
		{"12.500", "12.5"},
		{"0.000000000000000001", "0.000000000000000001"},
		{"1055.2", "1055.2"},
	}
	for _, tc := range cases {
		d, err := Parse(tc.in)
		require.NoError(t, err, tc.in)
		require.Equal(t, tc.want, d.String())
	}
}

func TestParseRejectsMalformed(t *testing.T) {
	for _, in := range []string{"", ".5", "1.", "-1", "1e3", "0.0000000000000000001", "abc"} {
		_, err := Parse(in)
		require.ErrorIs(t, err, ErrInvalidDecimal, in)
	}
}

func TestFromRatio(t *testing.T) {
	d, err := FromRatio(uint256.NewInt(3), uint256.NewInt(4))
	require.NoError(t, err)
	require.Equal(t, "0.75", d.String())

	d, err = FromRatio(uint256.NewInt(1), uint256.NewInt(3))
	require.NoError(t, err)
	require.Equal(t, "0.333333333333333333", d.String())

	_, err = FromRatio(uint256.NewInt(1), uint256.NewInt(0))
	require.ErrorIs(t, err, ErrDivideByZero)
}

func TestMulIntTruncates(t *testing.T) {
	rate := MustParse("0.01")
	got, err := rate.MulInt(uint256.NewInt(4_000_000_000))
	require.NoError(t, err)
	require.Equal(t, uint64(40_000_000), got.Uint64())

	third, err := FromRatio(uint256.NewInt(1), uint256.NewInt(3))
	require.NoError(t, err)
	got, err = third.MulInt(uint256.NewInt(10))
	require.NoError(t, err)
	require.Equal(t, uint64(3), got.Uint64())
}

func TestArithmetic(t *testing.T) {
	a := MustParse("1.25")
	b := MustParse("0.75")

	sum, err := a.Add(b)
	require.NoError(t, err)
	require.Equal(t, "2", sum.String())

	diff, err := a.Sub(b)
	require.NoError(t, err)
	require.Equal(t, "0.5", diff.String())

	_, err = b.Sub(a)
	require.ErrorIs(t, err, ErrUnderflow)

	prod, err := a.Mul(b)
	require.NoError(t, err)
	require.Equal(t, "0.9375", prod.String())
	require.Equal(t, 1, a.Cmp(b))
	require.True(t, One().Equal(FromUint64(1)))
}

func TestOverflowIsReported(t *testing.T) {
	max := new(uint256.Int).SetAllOne()
	huge := FromAtomics(max)
	_, err := huge.Add(One())
	require.ErrorIs(t, err, ErrOverflow)

	_, err = FromUint64(2).MulInt(max)
	require.True(t, errors.Is(err, ErrOverflow))

	_, err = CheckedAdd(max, uint256.NewInt(1))
	require.ErrorIs(t, err, ErrOverflow)
}

func TestJSONRoundTripUsesStrings(t *testing.T) {
	payload, err := json.Marshal(struct {
		Rate Decimal `json:"rate"`
	}{MustParse("0.24")})
	require.NoError(t, err)
	require.JSONEq(t, `{"rate":"0.24"}`, string(payload))

	var decoded struct {
		Rate Decimal `json:"rate"`
	}
	require.NoError(t, json.Unmarshal(payload, &decoded))
	require.Equal(t, "0.24", decoded.Rate.String())
}

func TestParseAmount(t *testing.T) {
	amount, err := ParseAmount("4000000000")
	require.NoError(t, err)
	require.Equal(t, uint64(4_000_000_000), amount.Uint64())

	_, err = ParseAmount("-5")
	require.Error(t, err)
	_, err = ParseAmount("0x10")
	require.Error(t, err)
}
