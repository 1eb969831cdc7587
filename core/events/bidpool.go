package events

import (
	"strconv"

	"github.com/holiman/uint256"

	"coharvest/core/types"
)

const (
	// TypeBidPoolConfigUpdated is emitted whenever a new configuration
	// snapshot is stored.
	TypeBidPoolConfigUpdated = "bidpool.config.updated"
	// TypeBidPoolRoundCreated is emitted when a bidding round is opened for
	// scheduling.
	TypeBidPoolRoundCreated = "bidpool.round.created"
	// TypeBidPoolRoundUpdated is emitted when an operator edits a round that
	// has not been released.
	TypeBidPoolRoundUpdated = "bidpool.round.updated"
	// TypeBidPoolBidSubmitted is emitted for every accepted deposit.
	TypeBidPoolBidSubmitted = "bidpool.bid.submitted"
	// TypeBidPoolRoundFinalized is emitted once per round when the exchange
	// rate is fixed and slot ratios are frozen.
	TypeBidPoolRoundFinalized = "bidpool.round.finalized"
	// TypeBidPoolBidsDistributed is emitted for every settlement page that
	// settled at least one deposit.
	TypeBidPoolBidsDistributed = "bidpool.bids.distributed"
)

func amountString(v *uint256.Int) string {
	if v == nil {
		return "0"
	}
	return v.Dec()
}

func uintString(v uint64) string { return strconv.FormatUint(v, 10) }

type BidPoolConfigUpdated struct {
	Version     uint64
	Fingerprint string
	Owner       string
}

func (BidPoolConfigUpdated) EventType() string { return TypeBidPoolConfigUpdated }

func (e BidPoolConfigUpdated) Event() *types.Event {
	return &types.Event{
		Type: TypeBidPoolConfigUpdated,
		Attributes: map[string]string{
			"version":     uintString(e.Version),
			"fingerprint": e.Fingerprint,
			"owner":       e.Owner,
		},
	}
}

type BidPoolRoundCreated struct {
	Round             uint64
	Start             uint64
	End               uint64
	TotalDistribution *uint256.Int
	ConfigVersion     uint64
	FromTreasury      bool
}

func (BidPoolRoundCreated) EventType() string { return TypeBidPoolRoundCreated }

func (e BidPoolRoundCreated) Event() *types.Event {
	return &types.Event{
		Type: TypeBidPoolRoundCreated,
		Attributes: map[string]string{
			"round":             uintString(e.Round),
			"start":             uintString(e.Start),
			"end":               uintString(e.End),
			"totalDistribution": amountString(e.TotalDistribution),
			"configVersion":     uintString(e.ConfigVersion),
			"fromTreasury":      strconv.FormatBool(e.FromTreasury),
		},
	}
}

type BidPoolRoundUpdated struct {
	Round             uint64
	Start             uint64
	End               uint64
	TotalDistribution *uint256.Int
}

func (BidPoolRoundUpdated) EventType() string { return TypeBidPoolRoundUpdated }

func (e BidPoolRoundUpdated) Event() *types.Event {
	return &types.Event{
		Type: TypeBidPoolRoundUpdated,
		Attributes: map[string]string{
			"round":             uintString(e.Round),
			"start":             uintString(e.Start),
			"end":               uintString(e.End),
			"totalDistribution": amountString(e.TotalDistribution),
		},
	}
}

type BidPoolBidSubmitted struct {
	Round  uint64
	BidID  uint64
	Slot   uint8
	Bidder string
	Amount *uint256.Int
}

func (BidPoolBidSubmitted) EventType() string { return TypeBidPoolBidSubmitted }

func (e BidPoolBidSubmitted) Event() *types.Event {
	return &types.Event{
		Type: TypeBidPoolBidSubmitted,
		Attributes: map[string]string{
			"round":  uintString(e.Round),
			"bidId":  uintString(e.BidID),
			"slot":   strconv.Itoa(int(e.Slot)),
			"bidder": e.Bidder,
			"amount": amountString(e.Amount),
		},
	}
}

type BidPoolRoundFinalized struct {
	Round             uint64
	ExchangeRate      string
	TotalMatched      *uint256.Int
	ActualDistributed *uint256.Int
	Remaining         *uint256.Int
	BoundarySlot      uint8
}

func (BidPoolRoundFinalized) EventType() string { return TypeBidPoolRoundFinalized }

func (e BidPoolRoundFinalized) Event() *types.Event {
	return &types.Event{
		Type: TypeBidPoolRoundFinalized,
		Attributes: map[string]string{
			"round":             uintString(e.Round),
			"exchangeRate":      e.ExchangeRate,
			"totalMatched":      amountString(e.TotalMatched),
			"actualDistributed": amountString(e.ActualDistributed),
			"remaining":         amountString(e.Remaining),
			"boundarySlot":      strconv.Itoa(int(e.BoundarySlot)),
		},
	}
}

type BidPoolBidsDistributed struct {
	Round        uint64
	Settled      uint32
	LastID       uint64
	TotalSettled uint64
	FullySettled bool
}

func (BidPoolBidsDistributed) EventType() string { return TypeBidPoolBidsDistributed }

func (e BidPoolBidsDistributed) Event() *types.Event {
	return &types.Event{
		Type: TypeBidPoolBidsDistributed,
		Attributes: map[string]string{
			"round":        uintString(e.Round),
			"settled":      strconv.FormatUint(uint64(e.Settled), 10),
			"lastId":       uintString(e.LastID),
			"totalSettled": uintString(e.TotalSettled),
			"fullySettled": strconv.FormatBool(e.FullySettled),
		},
	}
}
