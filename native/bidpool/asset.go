package bidpool

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/holiman/uint256"

	"coharvest/core/decimal"
	addr "coharvest/crypto"
)

// AssetKind enumerates the closed set of asset variants.
type AssetKind uint8

const (
	AssetNative AssetKind = iota + 1
	AssetToken
)

func (k AssetKind) String() string {
	switch k {
	case AssetNative:
		return "native"
	case AssetToken:
		return "token"
	default:
		return "unknown"
	}
}

// AssetInfo identifies either a native denomination or a token contract.
type AssetInfo struct {
	Kind         AssetKind
	Denom        string
	ContractAddr string
}

func NativeAsset(denom string) AssetInfo {
	return AssetInfo{Kind: AssetNative, Denom: strings.TrimSpace(denom)}
}

func TokenAsset(contract string) AssetInfo {
	return AssetInfo{Kind: AssetToken, ContractAddr: strings.TrimSpace(contract)}
}

// ParseAsset accepts "native:<denom>" or "token:<contract>".
func ParseAsset(s string) (AssetInfo, error) {
	kind, id, ok := strings.Cut(strings.TrimSpace(s), ":")
	if !ok {
		return AssetInfo{}, fmt.Errorf("%w: %q", ErrInvalidAsset, s)
	}
	var asset AssetInfo
	switch kind {
	case "native":
		asset = NativeAsset(id)
	case "token":
		asset = TokenAsset(id)
	default:
		return AssetInfo{}, fmt.Errorf("%w: unknown kind %q", ErrInvalidAsset, kind)
	}
	return asset, asset.Validate()
}

func (a AssetInfo) Validate() error {
	switch a.Kind {
	case AssetNative:
		if a.Denom == "" {
			return fmt.Errorf("%w: native asset requires a denom", ErrInvalidAsset)
		}
	case AssetToken:
		if _, err := addr.DecodeAddress(a.ContractAddr); err != nil {
			return fmt.Errorf("%w: token contract: %v", ErrInvalidAsset, err)
		}
	default:
		return fmt.Errorf("%w: unknown asset kind %d", ErrInvalidAsset, a.Kind)
	}
	return nil
}

func (a AssetInfo) Equal(o AssetInfo) bool {
	if a.Kind != o.Kind {
		return false
	}
	if a.Kind == AssetNative {
		return a.Denom == o.Denom
	}
	return a.ContractAddr == o.ContractAddr
}

func (a AssetInfo) String() string {
	if a.Kind == AssetNative {
		return "native:" + a.Denom
	}
	if a.Kind == AssetToken {
		return "token:" + a.ContractAddr
	}
	return "unknown"
}

func (a AssetInfo) MarshalText() ([]byte, error) {
	return []byte(a.String()), nil
}

func (a *AssetInfo) UnmarshalText(text []byte) error {
	parsed, err := ParseAsset(string(text))
	if err != nil {
		return err
	}
	*a = parsed
	return nil
}

// Action is the value movement an instruction requests.
type Action uint8

const (
	ActionTransfer Action = iota + 1
	ActionBurn
)

func (a Action) String() string {
	if a == ActionBurn {
		return "burn"
	}
	return "transfer"
}

// Reason explains why an instruction was produced.
type Reason string

const (
	ReasonReward   Reason = "reward"
	ReasonRefund   Reason = "refund"
	ReasonBurn     Reason = "burn"
	ReasonLeftover Reason = "leftover"
)

// Instruction is a value movement for the surrounding system to execute. The
// engine never moves funds itself.
type Instruction struct {
	Asset     AssetInfo
	Action    Action
	Recipient string
	Amount    *uint256.Int
	Reason    Reason
	Round     uint64
	BidID     uint64
}

// Transfer builds a transfer of amount to recipient in this asset.
func (a AssetInfo) Transfer(recipient string, amount *uint256.Int) Instruction {
	return Instruction{Asset: a, Action: ActionTransfer, Recipient: recipient, Amount: decimal.CloneAmount(amount)}
}

// Burn builds a burn of amount in this asset.
func (a AssetInfo) Burn(amount *uint256.Int) Instruction {
	return Instruction{Asset: a, Action: ActionBurn, Amount: decimal.CloneAmount(amount)}
}

func (i Instruction) tagged(reason Reason, round, bidID uint64) Instruction {
	i.Reason = reason
	i.Round = round
	i.BidID = bidID
	return i
}

// Key is a deterministic idempotency key. Every instruction the engine emits
// is unique by (round, bid, reason).
func (i Instruction) Key() string {
	material := strings.Join([]string{
		strconv.FormatUint(i.Round, 10),
		strconv.FormatUint(i.BidID, 10),
		string(i.Reason),
		i.Action.String(),
		i.Asset.String(),
		i.Recipient,
	}, "|")
	return "0x" + fmt.Sprintf("%x", crypto.Keccak256([]byte(material)))
}

type coin struct {
	Denom  string `json:"denom"`
	Amount string `json:"amount"`
}

// Payload renders the chain message for the instruction.
func (i Instruction) Payload() ([]byte, error) {
	amount := decimal.CloneAmount(i.Amount).Dec()
	switch i.Asset.Kind {
	case AssetNative:
		coins := []coin{{Denom: i.Asset.Denom, Amount: amount}}
		if i.Action == ActionBurn {
			return json.Marshal(map[string]any{"bank": map[string]any{"burn": map[string]any{"amount": coins}}})
		}
		return json.Marshal(map[string]any{"bank": map[string]any{"send": map[string]any{
			"to_address": i.Recipient,
			"amount":     coins,
		}}})
	case AssetToken:
		var inner any
		if i.Action == ActionBurn {
			inner = map[string]any{"burn": map[string]string{"amount": amount}}
		} else {
			inner = map[string]any{"transfer": map[string]string{"recipient": i.Recipient, "amount": amount}}
		}
		msg, err := json.Marshal(inner)
		if err != nil {
			return nil, err
		}
		return json.Marshal(map[string]any{"wasm": map[string]any{"execute": map[string]any{
			"contract_addr": i.Asset.ContractAddr,
			"msg":           base64.StdEncoding.EncodeToString(msg),
			"funds":         []coin{},
		}}})
	default:
		return nil, fmt.Errorf("%w: unknown asset kind %d", ErrInvalidAsset, i.Asset.Kind)
	}
}
