package bidpool

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/holiman/uint256"

	"coharvest/core/decimal"
	"coharvest/core/events"
	"coharvest/crypto"
	"coharvest/storage"
)

// Backend runs closures against persisted state. Update must be atomic: all
// writes of a closure that returns an error are discarded.
type Backend interface {
	Update(fn func(storage.KVStore) error) error
	View(fn func(storage.KVReader) error) error
}

// Engine executes bid pool operations. Calls are serialised and each one runs
// inside a single backend transaction; events are emitted only after the
// transaction commits.
type Engine struct {
	mu      sync.Mutex
	state   Backend
	emitter events.Emitter
	nowFn   func() int64
}

// NewEngine creates an engine bound to the given backend.
func NewEngine(state Backend) *Engine {
	return &Engine{
		state:   state,
		emitter: events.NoopEmitter{},
		nowFn:   func() int64 { return time.Now().Unix() },
	}
}

// SetEmitter configures the event emitter. A nil emitter discards events.
func (e *Engine) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		e.emitter = events.NoopEmitter{}
		return
	}
	e.emitter = emitter
}

// SetNowFunc overrides the clock used for window checks.
func (e *Engine) SetNowFunc(now func() int64) {
	if now == nil {
		e.nowFn = func() int64 { return time.Now().Unix() }
		return
	}
	e.nowFn = now
}

func (e *Engine) now() uint64 {
	ts := e.nowFn()
	if ts < 0 {
		return 0
	}
	return uint64(ts)
}

// update runs fn with the current config inside one transaction and emits the
// collected events once it commits.
func (e *Engine) update(ctx context.Context, fn func(w writer, cfg *Config) ([]events.Event, error)) error {
	if e == nil || e.state == nil {
		return errNilState
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	var emitted []events.Event
	err := e.state.Update(func(kv storage.KVStore) error {
		w := newWriter(kv)
		cfg, err := w.config()
		if err != nil {
			return err
		}
		emitted, err = fn(w, cfg)
		return err
	})
	if err != nil {
		return err
	}
	for _, evt := range emitted {
		e.emitter.Emit(evt)
	}
	return nil
}

func (e *Engine) view(ctx context.Context, fn func(r reader, cfg *Config) error) error {
	if e == nil || e.state == nil {
		return errNilState
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	return e.state.View(func(kv storage.KVReader) error {
		r := reader{kv: kv}
		cfg, err := r.config()
		if err != nil {
			return err
		}
		return fn(r, cfg)
	})
}

func requireOwner(cfg *Config, caller crypto.Address) error {
	if caller.IsZero() || !caller.Equal(cfg.Owner) {
		return ErrUnauthorized
	}
	return nil
}

func validWindow(start, end, now uint64) error {
	if start >= end || start < now {
		return fmt.Errorf("%w: start %d end %d now %d", ErrInvalidTimeRange, start, end, now)
	}
	return nil
}

// Init stores the first config snapshot. It fails once a config exists.
func (e *Engine) Init(ctx context.Context, cfg *Config) error {
	if e == nil || e.state == nil {
		return errNilState
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	snapshot := cfg.Clone()
	snapshot.Version = 1
	e.mu.Lock()
	defer e.mu.Unlock()
	err := e.state.Update(func(kv storage.KVStore) error {
		w := newWriter(kv)
		if _, err := w.config(); err == nil {
			return ErrAlreadyInitialised
		} else if !errors.Is(err, ErrNotInitialised) {
			return err
		}
		return w.putConfig(snapshot)
	})
	if err != nil {
		return err
	}
	e.emitter.Emit(events.BidPoolConfigUpdated{Version: 1, Fingerprint: snapshot.Fingerprint(), Owner: snapshot.Owner.String()})
	return nil
}

// UpdateConfig applies the update and stores the next config version.
func (e *Engine) UpdateConfig(ctx context.Context, caller crypto.Address, update ConfigUpdate) (*Config, error) {
	var next *Config
	err := e.update(ctx, func(w writer, cfg *Config) ([]events.Event, error) {
		if err := requireOwner(cfg, caller); err != nil {
			return nil, err
		}
		next = update.apply(cfg)
		if err := next.Validate(); err != nil {
			return nil, err
		}
		if err := w.putConfig(next); err != nil {
			return nil, err
		}
		return []events.Event{events.BidPoolConfigUpdated{
			Version:     next.Version,
			Fingerprint: next.Fingerprint(),
			Owner:       next.Owner.String(),
		}}, nil
	})
	if err != nil {
		return nil, err
	}
	return next, nil
}

func checkBudget(budget *uint256.Int) error {
	if budget == nil || budget.IsZero() {
		return fmt.Errorf("%w: distribution budget must be positive", ErrInvalidAmount)
	}
	return nil
}

func createRound(w writer, cfg *Config, budget *uint256.Int, start, end uint64) (*Round, error) {
	if err := checkBudget(budget); err != nil {
		return nil, err
	}
	id, err := w.nextRoundID()
	if err != nil {
		return nil, err
	}
	round := &Round{
		ID:              id,
		Start:           start,
		End:             end,
		TotalBidAmount:  new(uint256.Int),
		TotalBidMatched: new(uint256.Int),
		ConfigVersion:   cfg.Version,
	}
	if err := w.putRound(round); err != nil {
		return nil, err
	}
	dist := &Distribution{
		TotalDistribution: decimal.CloneAmount(budget),
		ActualDistributed: new(uint256.Int),
	}
	if err := w.putDistribution(id, dist); err != nil {
		return nil, err
	}
	return round, nil
}

// CreateRound opens a new round with budget distributed over [start, end].
func (e *Engine) CreateRound(ctx context.Context, caller crypto.Address, budget *uint256.Int, start, end uint64) (*Round, error) {
	var created *Round
	err := e.update(ctx, func(w writer, cfg *Config) ([]events.Event, error) {
		if err := requireOwner(cfg, caller); err != nil {
			return nil, err
		}
		if err := validWindow(start, end, e.now()); err != nil {
			return nil, err
		}
		round, err := createRound(w, cfg, budget, start, end)
		if err != nil {
			return nil, err
		}
		created = round
		return []events.Event{events.BidPoolRoundCreated{
			Round:             round.ID,
			Start:             start,
			End:               end,
			TotalDistribution: budget,
			ConfigVersion:     cfg.Version,
		}}, nil
	})
	if err != nil {
		return nil, err
	}
	return created, nil
}

// CreateRoundFromTreasury opens a round that starts now and lasts the
// configured bidding duration, funded by a treasury transfer of the
// distribution asset.
func (e *Engine) CreateRoundFromTreasury(ctx context.Context, caller crypto.Address, asset AssetInfo, amount *uint256.Int) (*Round, error) {
	var created *Round
	err := e.update(ctx, func(w writer, cfg *Config) ([]events.Event, error) {
		if cfg.Treasury.IsZero() || !caller.Equal(cfg.Treasury) {
			return nil, ErrUnauthorized
		}
		if !asset.Equal(cfg.Distribution) {
			return nil, fmt.Errorf("%w: expected %s, got %s", ErrInvalidAsset, cfg.Distribution, asset)
		}
		now := e.now()
		end := now + cfg.BiddingDuration
		if err := validWindow(now, end, now); err != nil {
			return nil, err
		}
		round, err := createRound(w, cfg, amount, now, end)
		if err != nil {
			return nil, err
		}
		created = round
		return []events.Event{events.BidPoolRoundCreated{
			Round:             round.ID,
			Start:             now,
			End:               end,
			TotalDistribution: amount,
			ConfigVersion:     cfg.Version,
			FromTreasury:      true,
		}}, nil
	})
	if err != nil {
		return nil, err
	}
	return created, nil
}

// RoundUpdate carries optional replacements for an unreleased round.
type RoundUpdate struct {
	Start             *uint64
	End               *uint64
	TotalDistribution *uint256.Int
}

// UpdateRound edits a round before release. The window may only change while
// the round has not opened.
func (e *Engine) UpdateRound(ctx context.Context, caller crypto.Address, id uint64, update RoundUpdate) (*RoundInfo, error) {
	var info *RoundInfo
	err := e.update(ctx, func(w writer, cfg *Config) ([]events.Event, error) {
		if err := requireOwner(cfg, caller); err != nil {
			return nil, err
		}
		if update.TotalDistribution != nil {
			if err := checkBudget(update.TotalDistribution); err != nil {
				return nil, err
			}
		}
		round, err := w.round(id)
		if err != nil {
			return nil, err
		}
		dist, err := w.distribution(id)
		if err != nil {
			return nil, err
		}
		if dist.Released {
			return nil, fmt.Errorf("%w: round %d has been finalized", ErrRoundReleased, id)
		}
		now := e.now()
		if update.Start != nil || update.End != nil {
			if round.Start <= now {
				return nil, fmt.Errorf("%w: round %d", ErrRoundStarted, id)
			}
			if update.Start != nil {
				round.Start = *update.Start
			}
			if update.End != nil {
				round.End = *update.End
			}
			if err := validWindow(round.Start, round.End, now); err != nil {
				return nil, err
			}
			if err := w.putRound(round); err != nil {
				return nil, err
			}
		}
		if update.TotalDistribution != nil {
			dist.TotalDistribution = decimal.CloneAmount(update.TotalDistribution)
			if err := w.putDistribution(id, dist); err != nil {
				return nil, err
			}
		}
		info = &RoundInfo{Round: round, Distribution: dist, Status: statusOf(round, dist, now)}
		return []events.Event{events.BidPoolRoundUpdated{
			Round:             id,
			Start:             round.Start,
			End:               round.End,
			TotalDistribution: dist.TotalDistribution,
		}}, nil
	})
	if err != nil {
		return nil, err
	}
	return info, nil
}

// BidRequest describes a deposit.
type BidRequest struct {
	Round  uint64
	Slot   uint8
	Bidder crypto.Address
	Asset  AssetInfo
	Amount *uint256.Int
}

// SubmitBid records a deposit into an open round and returns the stored bid.
func (e *Engine) SubmitBid(ctx context.Context, req BidRequest) (*Bid, error) {
	var placed *Bid
	err := e.update(ctx, func(w writer, cfg *Config) ([]events.Event, error) {
		if req.Bidder.IsZero() {
			return nil, fmt.Errorf("%w: bidder required", crypto.ErrInvalidAddress)
		}
		round, err := w.round(req.Round)
		if err != nil {
			return nil, err
		}
		rcfg, err := w.roundConfig(round, cfg)
		if err != nil {
			return nil, err
		}
		if !req.Asset.Equal(rcfg.Underlying) {
			return nil, fmt.Errorf("%w: expected %s, got %s", ErrInvalidAsset, rcfg.Underlying, req.Asset)
		}
		amount := decimal.CloneAmount(req.Amount)
		if amount.Lt(rcfg.MinDeposit) || amount.IsZero() {
			return nil, fmt.Errorf("%w: Minimum deposit is %s, got %s", ErrBelowMinimum, rcfg.MinDeposit.Dec(), amount.Dec())
		}
		if err := checkSlot(rcfg, req.Slot); err != nil {
			return nil, err
		}
		now := e.now()
		if !round.IsOpen(now) {
			return nil, fmt.Errorf("%w: round %d window [%d, %d], now %d", ErrRoundNotOpen, round.ID, round.Start, round.End, now)
		}
		pool, err := ensureSlot(w.reader, rcfg, round.ID, req.Slot)
		if err != nil {
			return nil, err
		}
		round.BidCount++
		if err := recordDeposit(w, round, pool, amount); err != nil {
			return nil, err
		}
		bid := &Bid{
			Round:          round.ID,
			Slot:           req.Slot,
			Bidder:         req.Bidder,
			Timestamp:      now,
			Amount:         amount,
			AmountReceived: new(uint256.Int),
			Residue:        decimal.CloneAmount(amount),
		}
		if _, err := appendBid(w, bid); err != nil {
			return nil, err
		}
		placed = bid
		return []events.Event{events.BidPoolBidSubmitted{
			Round:  round.ID,
			BidID:  bid.ID,
			Slot:   bid.Slot,
			Bidder: bid.Bidder.String(),
			Amount: amount,
		}}, nil
	})
	if err != nil {
		return nil, err
	}
	return placed, nil
}

// FinalizeResult reports the outcome of releasing a round.
type FinalizeResult struct {
	Round        *Round
	Distribution *Distribution
	Allocation   *AllocationResult
	Pools        []*SlotPool
	Instructions []Instruction
}

// FinalizeRound fixes the exchange rate of a closed round, freezes the slot
// ratios and emits the burn of matched deposits and the return of any unspent
// budget.
func (e *Engine) FinalizeRound(ctx context.Context, caller crypto.Address, id uint64, rate decimal.Decimal) (*FinalizeResult, error) {
	var result *FinalizeResult
	err := e.update(ctx, func(w writer, cfg *Config) ([]events.Event, error) {
		if err := requireOwner(cfg, caller); err != nil {
			return nil, err
		}
		round, err := w.round(id)
		if err != nil {
			return nil, err
		}
		if !round.IsFinished(e.now()) {
			return nil, fmt.Errorf("%w: round %d ends at %d", ErrRoundNotEnded, id, round.End)
		}
		dist, err := w.distribution(id)
		if err != nil {
			return nil, err
		}
		if dist.Released {
			return nil, fmt.Errorf("%w: round %d has been finalized", ErrRoundReleased, id)
		}
		rcfg, err := w.roundConfig(round, cfg)
		if err != nil {
			return nil, err
		}
		pools, err := loadPools(w.reader, rcfg, id)
		if err != nil {
			return nil, err
		}
		alloc, err := Allocate(pools, dist.TotalDistribution, rate)
		if err != nil {
			return nil, fmt.Errorf("bidpool: finalize round %d: %w", id, err)
		}
		for _, pool := range pools {
			if pool.TotalBidAmount.IsZero() {
				continue
			}
			if err := w.putPool(id, pool); err != nil {
				return nil, err
			}
		}
		dist.ExchangeRate = rate
		dist.Released = true
		dist.ActualDistributed = alloc.Consumed
		if err := w.putDistribution(id, dist); err != nil {
			return nil, err
		}
		round.TotalBidMatched = alloc.TotalMatched
		if err := w.putRound(round); err != nil {
			return nil, err
		}

		var instructions []Instruction
		if !alloc.TotalMatched.IsZero() {
			instructions = append(instructions, rcfg.Underlying.Burn(alloc.TotalMatched).tagged(ReasonBurn, id, 0))
		}
		if !alloc.Remaining.IsZero() {
			// The recipient follows the live config, the asset the round's snapshot.
			instructions = append(instructions,
				rcfg.Distribution.Transfer(cfg.TreasuryOrOwner().String(), alloc.Remaining).tagged(ReasonLeftover, id, 0))
		}
		if err := w.stageInstructions(instructions); err != nil {
			return nil, err
		}
		result = &FinalizeResult{Round: round, Distribution: dist, Allocation: alloc, Pools: pools, Instructions: instructions}
		return []events.Event{events.BidPoolRoundFinalized{
			Round:             id,
			ExchangeRate:      rate.String(),
			TotalMatched:      alloc.TotalMatched,
			ActualDistributed: alloc.Consumed,
			Remaining:         alloc.Remaining,
			BoundarySlot:      alloc.BoundarySlot,
		}}, nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// Distribute settles one page of a released round. Repeating a page settles
// nothing new.
func (e *Engine) Distribute(ctx context.Context, id uint64, page PageRequest) (*SettleResult, error) {
	var result *SettleResult
	err := e.update(ctx, func(w writer, cfg *Config) ([]events.Event, error) {
		round, err := w.round(id)
		if err != nil {
			return nil, err
		}
		dist, err := w.distribution(id)
		if err != nil {
			return nil, err
		}
		rcfg, err := w.roundConfig(round, cfg)
		if err != nil {
			return nil, err
		}
		result, err = settlePage(w, rcfg, round, dist, page)
		if err != nil {
			return nil, err
		}
		if result.Settled == 0 {
			return nil, nil
		}
		return []events.Event{events.BidPoolBidsDistributed{
			Round:        id,
			Settled:      result.Settled,
			LastID:       result.LastID,
			TotalSettled: result.TotalSettled,
			FullySettled: result.FullySettled,
		}}, nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}
