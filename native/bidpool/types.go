package bidpool

import (
	"encoding/hex"
	"fmt"

	"github.com/ethereum/go-ethereum/rlp"
	"github.com/holiman/uint256"
	"lukechampine.com/blake3"

	"coharvest/core/decimal"
	"coharvest/crypto"
)

// Config is an immutable snapshot of the auction parameters. Updates store a
// new snapshot with the next version.
type Config struct {
	Version            uint64
	Owner              crypto.Address
	Treasury           crypto.Address
	Underlying         AssetInfo
	Distribution       AssetInfo
	MaxSlot            uint8
	PremiumRatePerSlot decimal.Decimal
	MinDeposit         *uint256.Int
	// BiddingDuration is the window length in seconds used for rounds
	// created from the treasury.
	BiddingDuration uint64
}

// Validate checks the snapshot is usable by the engine.
func (c *Config) Validate() error {
	if c == nil {
		return fmt.Errorf("%w: nil config", ErrInvalidConfig)
	}
	if c.Owner.IsZero() {
		return fmt.Errorf("%w: owner required", ErrInvalidConfig)
	}
	if c.MaxSlot == 0 {
		return fmt.Errorf("%w: max slot must be positive", ErrInvalidConfig)
	}
	if err := c.Underlying.Validate(); err != nil {
		return fmt.Errorf("%w: underlying: %v", ErrInvalidConfig, err)
	}
	if err := c.Distribution.Validate(); err != nil {
		return fmt.Errorf("%w: distribution: %v", ErrInvalidConfig, err)
	}
	if c.MinDeposit == nil {
		return fmt.Errorf("%w: minimum deposit required", ErrInvalidConfig)
	}
	return nil
}

// TreasuryOrOwner is the recipient of unspent distribution budgets.
func (c *Config) TreasuryOrOwner() crypto.Address {
	if c.Treasury.IsZero() {
		return c.Owner
	}
	return c.Treasury
}

// Clone returns a deep copy of the config.
func (c *Config) Clone() *Config {
	if c == nil {
		return nil
	}
	clone := *c
	clone.MinDeposit = decimal.CloneAmount(c.MinDeposit)
	return &clone
}

// Fingerprint is the blake3 digest of the canonical encoding.
func (c *Config) Fingerprint() string {
	encoded, err := rlp.EncodeToBytes(newStoredConfig(c))
	if err != nil {
		return ""
	}
	sum := blake3.Sum256(encoded)
	return hex.EncodeToString(sum[:])
}

// ConfigUpdate carries optional replacements for config fields.
type ConfigUpdate struct {
	Owner              *crypto.Address
	Treasury           *crypto.Address
	Underlying         *AssetInfo
	Distribution       *AssetInfo
	MaxSlot            *uint8
	PremiumRatePerSlot *decimal.Decimal
	MinDeposit         *uint256.Int
	BiddingDuration    *uint64
}

func (u ConfigUpdate) apply(cfg *Config) *Config {
	next := cfg.Clone()
	next.Version = cfg.Version + 1
	if u.Owner != nil {
		next.Owner = *u.Owner
	}
	if u.Treasury != nil {
		next.Treasury = *u.Treasury
	}
	if u.Underlying != nil {
		next.Underlying = *u.Underlying
	}
	if u.Distribution != nil {
		next.Distribution = *u.Distribution
	}
	if u.MaxSlot != nil {
		next.MaxSlot = *u.MaxSlot
	}
	if u.PremiumRatePerSlot != nil {
		next.PremiumRatePerSlot = *u.PremiumRatePerSlot
	}
	if u.MinDeposit != nil {
		next.MinDeposit = decimal.CloneAmount(u.MinDeposit)
	}
	if u.BiddingDuration != nil {
		next.BiddingDuration = *u.BiddingDuration
	}
	return next
}

// Round tracks one bidding cycle.
type Round struct {
	ID              uint64
	Start           uint64
	End             uint64
	TotalBidAmount  *uint256.Int
	TotalBidMatched *uint256.Int
	BidCount        uint64
	ConfigVersion   uint64
}

func (r *Round) Clone() *Round {
	if r == nil {
		return nil
	}
	clone := *r
	clone.TotalBidAmount = decimal.CloneAmount(r.TotalBidAmount)
	clone.TotalBidMatched = decimal.CloneAmount(r.TotalBidMatched)
	return &clone
}

// IsOpen reports whether now falls inside the inclusive bidding window.
func (r *Round) IsOpen(now uint64) bool {
	return r.Start <= now && now <= r.End
}

// IsFinished reports whether the bidding window has closed.
func (r *Round) IsFinished(now uint64) bool {
	return r.End < now
}

// Distribution holds the budget and the outcome of finalisation.
type Distribution struct {
	TotalDistribution  *uint256.Int
	ExchangeRate       decimal.Decimal
	Released           bool
	ActualDistributed  *uint256.Int
	NumBidsDistributed uint64
}

func (d *Distribution) Clone() *Distribution {
	if d == nil {
		return nil
	}
	clone := *d
	clone.TotalDistribution = decimal.CloneAmount(d.TotalDistribution)
	clone.ActualDistributed = decimal.CloneAmount(d.ActualDistributed)
	return &clone
}

// SlotPool aggregates deposits for one (round, slot).
type SlotPool struct {
	Slot           uint8
	TotalBidAmount *uint256.Int
	PremiumRate    decimal.Decimal
	// IndexSnapshot is the fill ratio frozen at release.
	IndexSnapshot decimal.Decimal
	// ReceivedPerToken is the payout rate frozen at release.
	ReceivedPerToken decimal.Decimal
}

func (p *SlotPool) Clone() *SlotPool {
	if p == nil {
		return nil
	}
	clone := *p
	clone.TotalBidAmount = decimal.CloneAmount(p.TotalBidAmount)
	return &clone
}

// Bid is one deposit.
type Bid struct {
	ID             uint64
	Round          uint64
	Slot           uint8
	Bidder         crypto.Address
	Timestamp      uint64
	Amount         *uint256.Int
	AmountReceived *uint256.Int
	Residue        *uint256.Int
	Distributed    bool
}

func (b *Bid) Clone() *Bid {
	if b == nil {
		return nil
	}
	clone := *b
	clone.Amount = decimal.CloneAmount(b.Amount)
	clone.AmountReceived = decimal.CloneAmount(b.AmountReceived)
	clone.Residue = decimal.CloneAmount(b.Residue)
	return &clone
}

// RoundStatus is derived from the round window, the release flag and the
// settlement counter. It is never stored.
type RoundStatus uint8

const (
	StatusCreated RoundStatus = iota + 1
	StatusOpen
	StatusClosed
	StatusReleased
	StatusSettled
)

func (s RoundStatus) String() string {
	switch s {
	case StatusCreated:
		return "created"
	case StatusOpen:
		return "open"
	case StatusClosed:
		return "closed"
	case StatusReleased:
		return "released"
	case StatusSettled:
		return "settled"
	default:
		return "unknown"
	}
}

func statusOf(round *Round, dist *Distribution, now uint64) RoundStatus {
	switch {
	case dist.Released && dist.NumBidsDistributed >= round.BidCount:
		return StatusSettled
	case dist.Released:
		return StatusReleased
	case round.IsFinished(now):
		return StatusClosed
	case round.IsOpen(now):
		return StatusOpen
	default:
		return StatusCreated
	}
}

// RoundInfo is the query view of a round.
type RoundInfo struct {
	Round        *Round
	Distribution *Distribution
	Status       RoundStatus
}

// Order selects the direction of paged scans.
type Order uint8

const (
	OrderAscending Order = iota + 1
	OrderDescending
)

// Estimate is a what-if settlement projection.
type Estimate struct {
	Received *uint256.Int
	Residue  *uint256.Int
	// FillRatio and PayoutRate are the projected ratios for the slot.
	FillRatio  decimal.Decimal
	PayoutRate decimal.Decimal
}
