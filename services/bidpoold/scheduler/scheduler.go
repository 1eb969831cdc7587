package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/holiman/uint256"
	"github.com/robfig/cron/v3"

	"coharvest/crypto"
	"coharvest/native/bidpool"
)

// RoundCreator is the subset of the engine the scheduler drives.
type RoundCreator interface {
	Config(ctx context.Context) (*bidpool.Config, error)
	CreateRoundFromTreasury(ctx context.Context, caller crypto.Address, asset bidpool.AssetInfo, amount *uint256.Int) (*bidpool.Round, error)
}

// Config wires a scheduler.
type Config struct {
	Engine RoundCreator
	// Schedule is a cron expression with a leading seconds field.
	Schedule string
	Budget   *uint256.Int
	Logger   *slog.Logger
	Timeout  time.Duration
}

// Scheduler opens a treasury funded round on every cron tick, acting as the
// configured treasury.
type Scheduler struct {
	cron    *cron.Cron
	engine  RoundCreator
	budget  *uint256.Int
	logger  *slog.Logger
	timeout time.Duration
}

// New validates the schedule and registers the job. The scheduler does not
// run until Start is called.
func New(cfg Config) (*Scheduler, error) {
	if cfg.Engine == nil {
		return nil, fmt.Errorf("scheduler: engine required")
	}
	if cfg.Budget == nil || cfg.Budget.IsZero() {
		return nil, fmt.Errorf("scheduler: budget must be positive")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	s := &Scheduler{
		cron:    cron.New(cron.WithSeconds()),
		engine:  cfg.Engine,
		budget:  new(uint256.Int).Set(cfg.Budget),
		logger:  logger,
		timeout: timeout,
	}
	if _, err := s.cron.AddFunc(cfg.Schedule, s.tick); err != nil {
		return nil, fmt.Errorf("scheduler: parse schedule %q: %w", cfg.Schedule, err)
	}
	return s, nil
}

// Start runs the cron loop in its own goroutine.
func (s *Scheduler) Start() {
	s.cron.Start()
	s.logger.Info("round scheduler started", "entries", len(s.cron.Entries()))
}

// Stop halts the loop. The returned context is done once a running job has
// finished.
func (s *Scheduler) Stop() context.Context {
	return s.cron.Stop()
}

func (s *Scheduler) tick() {
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()
	round, err := s.RunOnce(ctx)
	if err != nil {
		s.logger.Error("scheduled round failed", "error", err)
		return
	}
	s.logger.Info("scheduled round created",
		"round", round.ID,
		"start", round.Start,
		"end", round.End,
		"budget", s.budget.Dec())
}

// RunOnce creates one round from the treasury using the live config.
func (s *Scheduler) RunOnce(ctx context.Context) (*bidpool.Round, error) {
	cfg, err := s.engine.Config(ctx)
	if err != nil {
		return nil, err
	}
	if cfg.Treasury.IsZero() {
		return nil, fmt.Errorf("scheduler: %w: treasury not configured", bidpool.ErrUnauthorized)
	}
	return s.engine.CreateRoundFromTreasury(ctx, cfg.Treasury, cfg.Distribution, s.budget)
}
