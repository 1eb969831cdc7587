package bidpool

import (
	"fmt"

	"github.com/holiman/uint256"

	"coharvest/core/decimal"
	"coharvest/crypto"
	"coharvest/storage"
)

type storedAsset struct {
	Kind uint8
	ID   string
}

func newStoredAsset(a AssetInfo) storedAsset {
	if a.Kind == AssetToken {
		return storedAsset{Kind: uint8(a.Kind), ID: a.ContractAddr}
	}
	return storedAsset{Kind: uint8(a.Kind), ID: a.Denom}
}

func (s storedAsset) asset() AssetInfo {
	if AssetKind(s.Kind) == AssetToken {
		return TokenAsset(s.ID)
	}
	return AssetInfo{Kind: AssetKind(s.Kind), Denom: s.ID}
}

type storedConfig struct {
	Version            uint64
	Owner              string
	Treasury           string
	Underlying         storedAsset
	Distribution       storedAsset
	MaxSlot            uint8
	PremiumRatePerSlot *uint256.Int
	MinDeposit         *uint256.Int
	BiddingDuration    uint64
}

func newStoredConfig(c *Config) *storedConfig {
	return &storedConfig{
		Version:            c.Version,
		Owner:              c.Owner.String(),
		Treasury:           c.Treasury.String(),
		Underlying:         newStoredAsset(c.Underlying),
		Distribution:       newStoredAsset(c.Distribution),
		MaxSlot:            c.MaxSlot,
		PremiumRatePerSlot: c.PremiumRatePerSlot.Atomics(),
		MinDeposit:         decimal.CloneAmount(c.MinDeposit),
		BiddingDuration:    c.BiddingDuration,
	}
}

func optionalAddress(s string) (crypto.Address, error) {
	if s == "" {
		return crypto.Address{}, nil
	}
	return crypto.DecodeAddress(s)
}

func (s *storedConfig) config() (*Config, error) {
	owner, err := optionalAddress(s.Owner)
	if err != nil {
		return nil, fmt.Errorf("bidpool: stored owner: %w", err)
	}
	treasury, err := optionalAddress(s.Treasury)
	if err != nil {
		return nil, fmt.Errorf("bidpool: stored treasury: %w", err)
	}
	return &Config{
		Version:            s.Version,
		Owner:              owner,
		Treasury:           treasury,
		Underlying:         s.Underlying.asset(),
		Distribution:       s.Distribution.asset(),
		MaxSlot:            s.MaxSlot,
		PremiumRatePerSlot: decimal.FromAtomics(s.PremiumRatePerSlot),
		MinDeposit:         decimal.CloneAmount(s.MinDeposit),
		BiddingDuration:    s.BiddingDuration,
	}, nil
}

type storedDistribution struct {
	TotalDistribution  *uint256.Int
	ExchangeRate       *uint256.Int
	Released           bool
	ActualDistributed  *uint256.Int
	NumBidsDistributed uint64
}

type storedPool struct {
	Slot             uint8
	TotalBidAmount   *uint256.Int
	PremiumRate      *uint256.Int
	IndexSnapshot    *uint256.Int
	ReceivedPerToken *uint256.Int
}

type storedBid struct {
	ID             uint64
	Round          uint64
	Slot           uint8
	Bidder         string
	Timestamp      uint64
	Amount         *uint256.Int
	AmountReceived *uint256.Int
	Residue        *uint256.Int
	Distributed    bool
}

// reader is the read side of the engine's persisted state.
type reader struct {
	kv storage.KVReader
}

// writer adds mutations; it is only ever built inside an update transaction.
type writer struct {
	reader
	kv storage.KVStore
}

func newWriter(kv storage.KVStore) writer {
	return writer{reader: reader{kv: kv}, kv: kv}
}

func (r reader) config() (*Config, error) {
	var stored storedConfig
	ok, err := r.kv.KVGet(keyConfig, &stored)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrNotInitialised
	}
	return stored.config()
}

// putConfig stores cfg as the current snapshot and keeps it addressable by
// version for the rounds created under it.
func (w writer) putConfig(cfg *Config) error {
	stored := newStoredConfig(cfg)
	if err := w.kv.KVPut(configVersionKey(cfg.Version), stored); err != nil {
		return err
	}
	return w.kv.KVPut(keyConfig, stored)
}

func (r reader) configAt(version uint64) (*Config, error) {
	var stored storedConfig
	ok, err := r.kv.KVGet(configVersionKey(version), &stored)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("bidpool: config version %d not stored", version)
	}
	return stored.config()
}

// roundConfig returns the snapshot a round was created under. Assets, slot
// range, premiums and the minimum deposit of a round never follow later
// config updates.
func (r reader) roundConfig(round *Round, current *Config) (*Config, error) {
	if round.ConfigVersion == current.Version {
		return current, nil
	}
	return r.configAt(round.ConfigVersion)
}

func (r reader) lastRoundID() (uint64, error) {
	var id uint64
	if _, err := r.kv.KVGet(keyLastRound, &id); err != nil {
		return 0, err
	}
	return id, nil
}

func (w writer) nextRoundID() (uint64, error) {
	last, err := w.lastRoundID()
	if err != nil {
		return 0, err
	}
	next := last + 1
	if err := w.kv.KVPut(keyLastRound, next); err != nil {
		return 0, err
	}
	return next, nil
}

func (r reader) round(id uint64) (*Round, error) {
	var round Round
	ok, err := r.kv.KVGet(roundKey(id), &round)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%w: %d", ErrRoundNotFound, id)
	}
	return &round, nil
}

func (w writer) putRound(round *Round) error {
	return w.kv.KVPut(roundKey(round.ID), round)
}

func (r reader) distribution(round uint64) (*Distribution, error) {
	var stored storedDistribution
	ok, err := r.kv.KVGet(distributionKey(round), &stored)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%w: %d", ErrRoundNotFound, round)
	}
	return &Distribution{
		TotalDistribution:  decimal.CloneAmount(stored.TotalDistribution),
		ExchangeRate:       decimal.FromAtomics(stored.ExchangeRate),
		Released:           stored.Released,
		ActualDistributed:  decimal.CloneAmount(stored.ActualDistributed),
		NumBidsDistributed: stored.NumBidsDistributed,
	}, nil
}

func (w writer) putDistribution(round uint64, d *Distribution) error {
	return w.kv.KVPut(distributionKey(round), &storedDistribution{
		TotalDistribution:  decimal.CloneAmount(d.TotalDistribution),
		ExchangeRate:       d.ExchangeRate.Atomics(),
		Released:           d.Released,
		ActualDistributed:  decimal.CloneAmount(d.ActualDistributed),
		NumBidsDistributed: d.NumBidsDistributed,
	})
}

func poolFromStored(s *storedPool) *SlotPool {
	return &SlotPool{
		Slot:             s.Slot,
		TotalBidAmount:   decimal.CloneAmount(s.TotalBidAmount),
		PremiumRate:      decimal.FromAtomics(s.PremiumRate),
		IndexSnapshot:    decimal.FromAtomics(s.IndexSnapshot),
		ReceivedPerToken: decimal.FromAtomics(s.ReceivedPerToken),
	}
}

func (r reader) pool(round uint64, slot uint8) (*SlotPool, bool, error) {
	var stored storedPool
	ok, err := r.kv.KVGet(poolKey(round, slot), &stored)
	if err != nil || !ok {
		return nil, false, err
	}
	return poolFromStored(&stored), true, nil
}

func (w writer) putPool(round uint64, p *SlotPool) error {
	return w.kv.KVPut(poolKey(round, p.Slot), &storedPool{
		Slot:             p.Slot,
		TotalBidAmount:   decimal.CloneAmount(p.TotalBidAmount),
		PremiumRate:      p.PremiumRate.Atomics(),
		IndexSnapshot:    p.IndexSnapshot.Atomics(),
		ReceivedPerToken: p.ReceivedPerToken.Atomics(),
	})
}

// storedSlots returns the slot numbers that have a persisted pool.
func (r reader) storedSlots(round uint64) ([]uint8, error) {
	var slots []uint8
	err := r.kv.KVScan(poolPrefix(round), nil, false, func(suffix []byte) (bool, error) {
		if len(suffix) == 1 {
			slots = append(slots, suffix[0])
		}
		return true, nil
	})
	return slots, err
}

func (r reader) bid(id uint64) (*Bid, error) {
	var stored storedBid
	ok, err := r.kv.KVGet(bidKey(id), &stored)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%w: %d", ErrBidNotFound, id)
	}
	bidder, err := crypto.DecodeAddress(stored.Bidder)
	if err != nil {
		return nil, fmt.Errorf("bidpool: stored bidder for bid %d: %w", id, err)
	}
	return &Bid{
		ID:             stored.ID,
		Round:          stored.Round,
		Slot:           stored.Slot,
		Bidder:         bidder,
		Timestamp:      stored.Timestamp,
		Amount:         decimal.CloneAmount(stored.Amount),
		AmountReceived: decimal.CloneAmount(stored.AmountReceived),
		Residue:        decimal.CloneAmount(stored.Residue),
		Distributed:    stored.Distributed,
	}, nil
}

func (w writer) putBid(b *Bid) error {
	return w.kv.KVPut(bidKey(b.ID), &storedBid{
		ID:             b.ID,
		Round:          b.Round,
		Slot:           b.Slot,
		Bidder:         b.Bidder.String(),
		Timestamp:      b.Timestamp,
		Amount:         decimal.CloneAmount(b.Amount),
		AmountReceived: decimal.CloneAmount(b.AmountReceived),
		Residue:        decimal.CloneAmount(b.Residue),
		Distributed:    b.Distributed,
	})
}
