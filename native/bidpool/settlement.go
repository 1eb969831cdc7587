package bidpool

import (
	"fmt"

	"coharvest/core/decimal"
)

// SettleResult reports one settlement page.
type SettleResult struct {
	Round uint64
	// Settled counts bids settled by this call; Skipped counts bids in the
	// page that were already settled.
	Settled uint32
	Skipped uint32
	// LastID is the last id visited and serves as the next cursor.
	LastID       uint64
	TotalSettled uint64
	FullySettled bool
	Instructions []Instruction
}

// settleBid applies the slot's frozen ratios to one bid.
func settleBid(bid *Bid, pool *SlotPool) error {
	received, err := pool.ReceivedPerToken.MulInt(bid.Amount)
	if err != nil {
		return fmt.Errorf("bidpool: bid %d amount received: %w", bid.ID, err)
	}
	unfilled, err := decimal.One().Sub(pool.IndexSnapshot)
	if err != nil {
		return fmt.Errorf("bidpool: bid %d unfilled ratio: %w", bid.ID, err)
	}
	residue, err := unfilled.MulInt(bid.Amount)
	if err != nil {
		return fmt.Errorf("bidpool: bid %d residue: %w", bid.ID, err)
	}
	bid.AmountReceived = received
	bid.Residue = residue
	bid.Distributed = true
	return nil
}

// settlePage walks one page of the round index and settles every bid not yet
// distributed.
func settlePage(w writer, cfg *Config, round *Round, dist *Distribution, page PageRequest) (*SettleResult, error) {
	if !dist.Released {
		return nil, fmt.Errorf("%w: round %d", ErrRoundNotReleased, round.ID)
	}
	page.Order = OrderAscending
	ids, err := listBidIDsByRound(w.reader, round.ID, page)
	if err != nil {
		return nil, err
	}
	pools, err := loadPools(w.reader, cfg, round.ID)
	if err != nil {
		return nil, err
	}
	bySlot := make(map[uint8]*SlotPool, len(pools))
	for _, pool := range pools {
		bySlot[pool.Slot] = pool
	}

	result := &SettleResult{Round: round.ID, LastID: page.StartAfter}
	for _, id := range ids {
		result.LastID = id
		bid, err := w.bid(id)
		if err != nil {
			return nil, err
		}
		if bid.Distributed {
			result.Skipped++
			continue
		}
		pool, ok := bySlot[bid.Slot]
		if !ok {
			return nil, fmt.Errorf("bidpool: bid %d references unknown slot %d", bid.ID, bid.Slot)
		}
		if err := settleBid(bid, pool); err != nil {
			return nil, err
		}
		if err := w.putBid(bid); err != nil {
			return nil, err
		}
		recipient := bid.Bidder.String()
		if !bid.AmountReceived.IsZero() {
			result.Instructions = append(result.Instructions,
				cfg.Distribution.Transfer(recipient, bid.AmountReceived).tagged(ReasonReward, round.ID, bid.ID))
		}
		if !bid.Residue.IsZero() {
			result.Instructions = append(result.Instructions,
				cfg.Underlying.Transfer(recipient, bid.Residue).tagged(ReasonRefund, round.ID, bid.ID))
		}
		dist.NumBidsDistributed++
		result.Settled++
	}
	if result.Settled > 0 {
		if err := w.putDistribution(round.ID, dist); err != nil {
			return nil, err
		}
		if err := w.stageInstructions(result.Instructions); err != nil {
			return nil, err
		}
	}
	result.TotalSettled = dist.NumBidsDistributed
	result.FullySettled = dist.NumBidsDistributed >= round.BidCount
	return result, nil
}
