package outbox

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"coharvest/native/bidpool"
)

// Staging is the engine side of the hand-off: instructions committed with the
// ledger writes that produced them, waiting to be copied into the outbox.
type Staging interface {
	StagedInstructions(ctx context.Context, limit uint32) ([]bidpool.Instruction, error)
	ReleaseInstructions(ctx context.Context, instructions []bidpool.Instruction) (int, error)
}

// Enqueuer persists instructions for dispatch.
type Enqueuer interface {
	Enqueue(ctx context.Context, instructions []bidpool.Instruction) (int, error)
}

// Relay moves staged instructions into the outbox. An instruction is released
// from staging only after the outbox insert succeeded, and inserts are
// idempotent by key, so a crash between the two steps only causes a no-op
// re-insert.
type Relay struct {
	staging Staging
	store   Enqueuer
	logger  *slog.Logger
}

// NewRelay wires a relay between the engine staging area and the outbox.
func NewRelay(staging Staging, store Enqueuer, logger *slog.Logger) (*Relay, error) {
	if staging == nil {
		return nil, fmt.Errorf("outbox: staging required")
	}
	if store == nil {
		return nil, fmt.Errorf("outbox: store required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Relay{staging: staging, store: store, logger: logger}, nil
}

// Forward enqueues instructions and releases them from staging. It returns
// the number of new outbox rows.
func (r *Relay) Forward(ctx context.Context, instructions []bidpool.Instruction) (int, error) {
	if len(instructions) == 0 {
		return 0, nil
	}
	n, err := r.store.Enqueue(ctx, instructions)
	if err != nil {
		return n, err
	}
	if _, err := r.staging.ReleaseInstructions(ctx, instructions); err != nil {
		return n, fmt.Errorf("outbox: release staged instructions: %w", err)
	}
	return n, nil
}

// Drain forwards every staged instruction, one page at a time.
func (r *Relay) Drain(ctx context.Context) (int, error) {
	total := 0
	for {
		batch, err := r.staging.StagedInstructions(ctx, bidpool.MaxLimit)
		if err != nil {
			return total, fmt.Errorf("outbox: list staged instructions: %w", err)
		}
		if len(batch) == 0 {
			return total, nil
		}
		n, err := r.store.Enqueue(ctx, batch)
		total += n
		if err != nil {
			return total, err
		}
		released, err := r.staging.ReleaseInstructions(ctx, batch)
		if err != nil {
			return total, fmt.Errorf("outbox: release staged instructions: %w", err)
		}
		if released == 0 || len(batch) < bidpool.MaxLimit {
			return total, nil
		}
	}
}

// Run drains on every tick until ctx is cancelled.
func (r *Relay) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := r.Drain(ctx)
			if err != nil {
				r.logger.Error("outbox relay failed", "relayed", n, "error", err)
				continue
			}
			if n > 0 {
				r.logger.Info("outbox relay recovered instructions", "relayed", n)
			}
		}
	}
}
