package bidpool

import (
	"fmt"

	"github.com/holiman/uint256"

	"coharvest/core/decimal"
)

// premiumFor derives the premium rate of a slot from the per-slot increment.
func premiumFor(cfg *Config, slot uint8) (decimal.Decimal, error) {
	return cfg.PremiumRatePerSlot.Mul(decimal.FromUint64(uint64(slot)))
}

func checkSlot(cfg *Config, slot uint8) error {
	if slot == 0 || slot > cfg.MaxSlot {
		return fmt.Errorf("%w: slot %d not in 1..%d", ErrInvalidSlot, slot, cfg.MaxSlot)
	}
	return nil
}

func emptyPool(cfg *Config, slot uint8) (*SlotPool, error) {
	premium, err := premiumFor(cfg, slot)
	if err != nil {
		return nil, err
	}
	return &SlotPool{Slot: slot, TotalBidAmount: new(uint256.Int), PremiumRate: premium}, nil
}

// ensureSlot returns the stored pool for (round, slot) or a fresh one with
// zero totals. The slot must already be range checked.
func ensureSlot(r reader, cfg *Config, round uint64, slot uint8) (*SlotPool, error) {
	pool, ok, err := r.pool(round, slot)
	if err != nil {
		return nil, err
	}
	if ok {
		return pool, nil
	}
	return emptyPool(cfg, slot)
}

// recordDeposit adds amount to the slot and round running totals and persists
// both.
func recordDeposit(w writer, round *Round, pool *SlotPool, amount *uint256.Int) error {
	slotTotal, err := decimal.CheckedAdd(pool.TotalBidAmount, amount)
	if err != nil {
		return fmt.Errorf("bidpool: slot %d total: %w", pool.Slot, err)
	}
	roundTotal, err := decimal.CheckedAdd(round.TotalBidAmount, amount)
	if err != nil {
		return fmt.Errorf("bidpool: round %d total: %w", round.ID, err)
	}
	pool.TotalBidAmount = slotTotal
	round.TotalBidAmount = roundTotal
	if err := w.putPool(round.ID, pool); err != nil {
		return err
	}
	return w.putRound(round)
}

// loadPools returns every slot of a round in ascending order. Missing slots
// are synthesized with zero totals. Slots stored above the current MaxSlot
// (left behind by a config update) are still returned.
func loadPools(r reader, cfg *Config, round uint64) ([]*SlotPool, error) {
	stored, err := r.storedSlots(round)
	if err != nil {
		return nil, err
	}
	last := cfg.MaxSlot
	if n := len(stored); n > 0 && stored[n-1] > last {
		last = stored[n-1]
	}
	pools := make([]*SlotPool, 0, last)
	for slot := 1; slot <= int(last); slot++ {
		pool, err := ensureSlot(r, cfg, round, uint8(slot))
		if err != nil {
			return nil, err
		}
		pools = append(pools, pool)
	}
	return pools, nil
}
