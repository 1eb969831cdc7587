package bidpool

import (
	"context"

	"github.com/holiman/uint256"

	"coharvest/core/decimal"
	"coharvest/crypto"
)

// Config returns the current config snapshot.
func (e *Engine) Config(ctx context.Context) (*Config, error) {
	var out *Config
	err := e.view(ctx, func(_ reader, cfg *Config) error {
		out = cfg
		return nil
	})
	return out, err
}

// LastRoundID returns the id of the most recently created round, or zero.
func (e *Engine) LastRoundID(ctx context.Context) (uint64, error) {
	var id uint64
	err := e.view(ctx, func(r reader, _ *Config) error {
		var err error
		id, err = r.lastRoundID()
		return err
	})
	return id, err
}

// Round returns the round, its distribution info and derived status.
func (e *Engine) Round(ctx context.Context, id uint64) (*RoundInfo, error) {
	var info *RoundInfo
	err := e.view(ctx, func(r reader, _ *Config) error {
		round, err := r.round(id)
		if err != nil {
			return err
		}
		dist, err := r.distribution(id)
		if err != nil {
			return err
		}
		info = &RoundInfo{Round: round, Distribution: dist, Status: statusOf(round, dist, e.now())}
		return nil
	})
	return info, err
}

// Pool returns one slot aggregate. Slots without deposits are synthesized.
func (e *Engine) Pool(ctx context.Context, round uint64, slot uint8) (*SlotPool, error) {
	var pool *SlotPool
	err := e.view(ctx, func(r reader, cfg *Config) error {
		info, err := r.round(round)
		if err != nil {
			return err
		}
		rcfg, err := r.roundConfig(info, cfg)
		if err != nil {
			return err
		}
		if _, ok, err := r.pool(round, slot); err != nil {
			return err
		} else if !ok {
			if err := checkSlot(rcfg, slot); err != nil {
				return err
			}
		}
		pool, err = ensureSlot(r, rcfg, round, slot)
		return err
	})
	return pool, err
}

// Pools returns every slot aggregate of a round in ascending slot order.
func (e *Engine) Pools(ctx context.Context, round uint64) ([]*SlotPool, error) {
	var pools []*SlotPool
	err := e.view(ctx, func(r reader, cfg *Config) error {
		info, err := r.round(round)
		if err != nil {
			return err
		}
		rcfg, err := r.roundConfig(info, cfg)
		if err != nil {
			return err
		}
		pools, err = loadPools(r, rcfg, round)
		return err
	})
	return pools, err
}

// Bid returns a single deposit.
func (e *Engine) Bid(ctx context.Context, id uint64) (*Bid, error) {
	var bid *Bid
	err := e.view(ctx, func(r reader, _ *Config) error {
		var err error
		bid, err = r.bid(id)
		return err
	})
	return bid, err
}

// BidsByRound pages through the bid ids of a round.
func (e *Engine) BidsByRound(ctx context.Context, round uint64, page PageRequest) ([]uint64, error) {
	var ids []uint64
	err := e.view(ctx, func(r reader, _ *Config) error {
		var err error
		ids, err = listBidIDsByRound(r, round, page)
		return err
	})
	return ids, err
}

// BidIDsByUser returns the ids of the bidder's deposits in a round.
func (e *Engine) BidIDsByUser(ctx context.Context, round uint64, bidder crypto.Address) ([]uint64, error) {
	var ids []uint64
	err := e.view(ctx, func(r reader, _ *Config) error {
		var err error
		ids, err = listBidIDsByUser(r, round, bidder)
		return err
	})
	return ids, err
}

// BidsByUser returns the bidder's deposits in a round.
func (e *Engine) BidsByUser(ctx context.Context, round uint64, bidder crypto.Address) ([]*Bid, error) {
	var bids []*Bid
	err := e.view(ctx, func(r reader, _ *Config) error {
		ids, err := listBidIDsByUser(r, round, bidder)
		if err != nil {
			return err
		}
		bids = make([]*Bid, 0, len(ids))
		for _, id := range ids {
			bid, err := r.bid(id)
			if err != nil {
				return err
			}
			bids = append(bids, bid)
		}
		return nil
	})
	return bids, err
}

// CountBids returns the number of deposits recorded for a round.
func (e *Engine) CountBids(ctx context.Context, round uint64) (uint64, error) {
	var count uint64
	err := e.view(ctx, func(r reader, _ *Config) error {
		info, err := r.round(round)
		if err != nil {
			return err
		}
		count = info.BidCount
		return nil
	})
	return count, err
}

// EstimateForBid projects the settlement of an existing bid at rate without
// writing anything.
func (e *Engine) EstimateForBid(ctx context.Context, id uint64, rate decimal.Decimal) (*Estimate, error) {
	var estimate *Estimate
	err := e.view(ctx, func(r reader, cfg *Config) error {
		bid, err := r.bid(id)
		if err != nil {
			return err
		}
		info, err := r.round(bid.Round)
		if err != nil {
			return err
		}
		rcfg, err := r.roundConfig(info, cfg)
		if err != nil {
			return err
		}
		estimate, err = estimateFor(r, rcfg, bid.Round, bid.Slot, bid.Amount, nil, rate)
		return err
	})
	return estimate, err
}

// EstimateForAmount projects the settlement of a hypothetical extra deposit
// of amount into slot at rate.
func (e *Engine) EstimateForAmount(ctx context.Context, round uint64, slot uint8, amount *uint256.Int, rate decimal.Decimal) (*Estimate, error) {
	var estimate *Estimate
	err := e.view(ctx, func(r reader, cfg *Config) error {
		info, err := r.round(round)
		if err != nil {
			return err
		}
		rcfg, err := r.roundConfig(info, cfg)
		if err != nil {
			return err
		}
		if err := checkSlot(rcfg, slot); err != nil {
			return err
		}
		estimate, err = estimateFor(r, rcfg, round, slot, amount, amount, rate)
		return err
	})
	return estimate, err
}
