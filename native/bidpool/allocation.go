package bidpool

import (
	"fmt"
	"sort"

	"github.com/holiman/uint256"

	"coharvest/core/decimal"
)

// AllocationResult summarises one pass of the allocation.
type AllocationResult struct {
	// TotalMatched is the underlying amount consumed across all slots.
	TotalMatched *uint256.Int
	// Remaining is the unspent distribution budget.
	Remaining *uint256.Int
	// Consumed is the distribution budget handed out.
	Consumed *uint256.Int
	// BoundarySlot is the first funded slot whose fill ratio is below one,
	// or zero when every visited slot was fully funded.
	BoundarySlot uint8
}

// Allocate rations budget across pools, lowest premium first, at the given
// exchange rate. It writes IndexSnapshot and ReceivedPerToken onto the pools
// and leaves every slot after the budget runs out at zero.
//
// For each slot with deposits:
//
//	desired = (amount × rate) × (1 + premium)
//	actual  = min(desired, remaining)
//	fill    = actual / desired
//	payout  = actual / amount
//
// Products truncate after each multiplication, in that order.
func Allocate(pools []*SlotPool, budget *uint256.Int, rate decimal.Decimal) (*AllocationResult, error) {
	ordered := make([]*SlotPool, len(pools))
	copy(ordered, pools)
	sort.SliceStable(ordered, func(i, j int) bool { return ordered[i].Slot < ordered[j].Slot })

	for _, pool := range ordered {
		pool.IndexSnapshot = decimal.Zero()
		pool.ReceivedPerToken = decimal.Zero()
	}

	remaining := decimal.CloneAmount(budget)
	matched := new(uint256.Int)
	var boundary uint8
	for _, pool := range ordered {
		amount := pool.TotalBidAmount
		if amount == nil || amount.IsZero() {
			continue
		}
		multiplier, err := decimal.One().Add(pool.PremiumRate)
		if err != nil {
			return nil, fmt.Errorf("bidpool: slot %d premium: %w", pool.Slot, err)
		}
		atRate, err := rate.MulInt(amount)
		if err != nil {
			return nil, fmt.Errorf("bidpool: slot %d amount at rate: %w", pool.Slot, err)
		}
		desired, err := multiplier.MulInt(atRate)
		if err != nil {
			return nil, fmt.Errorf("bidpool: slot %d desired: %w", pool.Slot, err)
		}
		actual := decimal.MinAmount(desired, remaining)

		fill := decimal.Zero()
		if !desired.IsZero() {
			if fill, err = decimal.FromRatio(actual, desired); err != nil {
				return nil, fmt.Errorf("bidpool: slot %d fill ratio: %w", pool.Slot, err)
			}
		}
		payout, err := decimal.FromRatio(actual, amount)
		if err != nil {
			return nil, fmt.Errorf("bidpool: slot %d payout rate: %w", pool.Slot, err)
		}
		pool.IndexSnapshot = fill
		pool.ReceivedPerToken = payout

		slotMatched, err := fill.MulInt(amount)
		if err != nil {
			return nil, fmt.Errorf("bidpool: slot %d matched: %w", pool.Slot, err)
		}
		if matched, err = decimal.CheckedAdd(matched, slotMatched); err != nil {
			return nil, fmt.Errorf("bidpool: total matched: %w", err)
		}
		if remaining, err = decimal.CheckedSub(remaining, actual); err != nil {
			return nil, fmt.Errorf("bidpool: remaining budget: %w", err)
		}
		if boundary == 0 && fill.Cmp(decimal.One()) < 0 {
			boundary = pool.Slot
		}
		if remaining.IsZero() {
			break
		}
	}

	consumed, err := decimal.CheckedSub(budget, remaining)
	if err != nil {
		return nil, err
	}
	return &AllocationResult{
		TotalMatched: matched,
		Remaining:    remaining,
		Consumed:     consumed,
		BoundarySlot: boundary,
	}, nil
}
