package bidpool

import (
	"fmt"

	"github.com/holiman/uint256"

	"coharvest/core/decimal"
)

// estimateFor runs the allocation over copies of the round's pools, after
// adding extra to the given slot, and projects the settlement of a deposit
// of amount in that slot.
func estimateFor(r reader, cfg *Config, round uint64, slot uint8, amount, extra *uint256.Int, rate decimal.Decimal) (*Estimate, error) {
	dist, err := r.distribution(round)
	if err != nil {
		return nil, err
	}
	pools, err := loadPools(r, cfg, round)
	if err != nil {
		return nil, err
	}
	var target *SlotPool
	for i, pool := range pools {
		pools[i] = pool.Clone()
		if pools[i].Slot == slot {
			target = pools[i]
		}
	}
	if target == nil {
		return nil, fmt.Errorf("%w: slot %d not in round %d", ErrInvalidSlot, slot, round)
	}
	if target.TotalBidAmount, err = decimal.CheckedAdd(target.TotalBidAmount, extra); err != nil {
		return nil, err
	}
	if _, err := Allocate(pools, dist.TotalDistribution, rate); err != nil {
		return nil, err
	}
	probe := &Bid{Amount: decimal.CloneAmount(amount)}
	if err := settleBid(probe, target); err != nil {
		return nil, err
	}
	return &Estimate{
		Received:   probe.AmountReceived,
		Residue:    probe.Residue,
		FillRatio:  target.IndexSnapshot,
		PayoutRate: target.ReceivedPerToken,
	}, nil
}
