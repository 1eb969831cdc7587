package bidpool

import (
	"encoding/base64"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseAsset(t *testing.T) {
	native, err := ParseAsset("native:orai")
	require.NoError(t, err)
	require.Equal(t, NativeAsset("orai"), native)

	token, err := ParseAsset("token:" + testContract(7))
	require.NoError(t, err)
	require.Equal(t, AssetToken, token.Kind)
	require.False(t, token.Equal(native))

	for _, bad := range []string{"orai", "native:", "token:nope", "nft:1"} {
		_, err := ParseAsset(bad)
		require.ErrorIs(t, err, ErrInvalidAsset, bad)
	}
}

func TestNativePayloads(t *testing.T) {
	asset := NativeAsset("orai")
	send, err := asset.Transfer(testAddr(3).String(), amt(42)).Payload()
	require.NoError(t, err)
	require.JSONEq(t, `{"bank":{"send":{"to_address":"`+testAddr(3).String()+`","amount":[{"denom":"orai","amount":"42"}]}}}`, string(send))

	burn, err := asset.Burn(amt(7)).Payload()
	require.NoError(t, err)
	require.JSONEq(t, `{"bank":{"burn":{"amount":[{"denom":"orai","amount":"7"}]}}}`, string(burn))
}

func TestTokenPayloadWrapsExecuteMessage(t *testing.T) {
	contract := testContract(7)
	payload, err := TokenAsset(contract).Transfer(testAddr(4).String(), amt(1000)).Payload()
	require.NoError(t, err)

	var decoded struct {
		Wasm struct {
			Execute struct {
				ContractAddr string `json:"contract_addr"`
				Msg          string `json:"msg"`
			} `json:"execute"`
		} `json:"wasm"`
	}
	require.NoError(t, json.Unmarshal(payload, &decoded))
	require.Equal(t, contract, decoded.Wasm.Execute.ContractAddr)
	inner, err := base64.StdEncoding.DecodeString(decoded.Wasm.Execute.Msg)
	require.NoError(t, err)
	require.JSONEq(t, `{"transfer":{"recipient":"`+testAddr(4).String()+`","amount":"1000"}}`, string(inner))

	burn, err := TokenAsset(contract).Burn(amt(5)).Payload()
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(burn, &decoded))
	inner, err = base64.StdEncoding.DecodeString(decoded.Wasm.Execute.Msg)
	require.NoError(t, err)
	require.JSONEq(t, `{"burn":{"amount":"5"}}`, string(inner))
}

func TestInstructionKeyIsDeterministic(t *testing.T) {
	asset := NativeAsset("orai")
	a := asset.Transfer("x", amt(1)).tagged(ReasonReward, 2, 9)
	b := asset.Transfer("x", amt(1)).tagged(ReasonReward, 2, 9)
	c := asset.Transfer("x", amt(1)).tagged(ReasonRefund, 2, 9)
	require.Equal(t, a.Key(), b.Key())
	require.NotEqual(t, a.Key(), c.Key())
	require.Len(t, a.Key(), 66)
}

func TestKindOf(t *testing.T) {
	require.Equal(t, KindAuthorization, KindOf(ErrUnauthorized))
	require.Equal(t, KindNotFound, KindOf(ErrBidNotFound))
	require.Equal(t, KindValidation, KindOf(ErrRoundNotOpen))
	require.Equal(t, KindState, KindOf(ErrAlreadyInitialised))
	require.Equal(t, KindInternal, KindOf(errNilState))
	require.Equal(t, "validation", KindValidation.String())
}
