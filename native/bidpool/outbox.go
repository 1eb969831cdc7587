package bidpool

import (
	"context"
	"fmt"

	"github.com/holiman/uint256"

	"coharvest/core/decimal"
	"coharvest/core/events"
)

// Instructions produced by FinalizeRound and Distribute are staged in the
// same transaction as the ledger writes that caused them. They stay staged
// until the dispatcher confirms the hand-off with ReleaseInstructions.

type storedInstruction struct {
	Asset     storedAsset
	Action    uint8
	Recipient string
	Amount    *uint256.Int
	Reason    string
	Round     uint64
	BidID     uint64
}

func stagedKey(ins Instruction) []byte {
	return concat(prefixOutbox, be64(ins.Round), be64(ins.BidID), []byte(ins.Reason))
}

func (w writer) stageInstructions(instructions []Instruction) error {
	for _, ins := range instructions {
		err := w.kv.KVPut(stagedKey(ins), &storedInstruction{
			Asset:     newStoredAsset(ins.Asset),
			Action:    uint8(ins.Action),
			Recipient: ins.Recipient,
			Amount:    decimal.CloneAmount(ins.Amount),
			Reason:    string(ins.Reason),
			Round:     ins.Round,
			BidID:     ins.BidID,
		})
		if err != nil {
			return fmt.Errorf("bidpool: stage %s instruction for round %d: %w", ins.Reason, ins.Round, err)
		}
	}
	return nil
}

func (r reader) stagedInstructions(limit int) ([]Instruction, error) {
	var suffixes [][]byte
	err := r.kv.KVScan(prefixOutbox, nil, false, func(suffix []byte) (bool, error) {
		suffixes = append(suffixes, suffix)
		return len(suffixes) < limit, nil
	})
	if err != nil {
		return nil, err
	}
	out := make([]Instruction, 0, len(suffixes))
	for _, suffix := range suffixes {
		var stored storedInstruction
		ok, err := r.kv.KVGet(concat(prefixOutbox, suffix), &stored)
		if err != nil {
			return nil, err
		}
		if !ok {
			continue
		}
		out = append(out, Instruction{
			Asset:     stored.Asset.asset(),
			Action:    Action(stored.Action),
			Recipient: stored.Recipient,
			Amount:    decimal.CloneAmount(stored.Amount),
			Reason:    Reason(stored.Reason),
			Round:     stored.Round,
			BidID:     stored.BidID,
		})
	}
	return out, nil
}

// StagedInstructions lists instructions not yet released, ordered by round,
// bid and reason. The limit follows the paging bounds of the bid queries.
func (e *Engine) StagedInstructions(ctx context.Context, limit uint32) ([]Instruction, error) {
	var out []Instruction
	err := e.view(ctx, func(r reader, _ *Config) error {
		var err error
		out, err = r.stagedInstructions(PageRequest{Limit: limit}.limit())
		return err
	})
	return out, err
}

// ReleaseInstructions drops staged instructions once they have been handed
// off. Unknown instructions are ignored. It returns how many were staged.
func (e *Engine) ReleaseInstructions(ctx context.Context, instructions []Instruction) (int, error) {
	if len(instructions) == 0 {
		return 0, nil
	}
	released := 0
	err := e.update(ctx, func(w writer, _ *Config) ([]events.Event, error) {
		released = 0
		for _, ins := range instructions {
			key := stagedKey(ins)
			ok, err := w.kv.KVGet(key, nil)
			if err != nil {
				return nil, err
			}
			if !ok {
				continue
			}
			if err := w.kv.KVDelete(key); err != nil {
				return nil, err
			}
			released++
		}
		return nil, nil
	})
	if err != nil {
		return 0, err
	}
	return released, nil
}
