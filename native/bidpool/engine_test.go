package bidpool

import (
	"bytes"
	"context"
	"testing"

	"github.com/holiman/uint256"
	"github.com/stretchr/testify/require"

	"coharvest/core/decimal"
	"coharvest/core/events"
	"coharvest/crypto"
	"coharvest/storage"
)

func testAddr(b byte) crypto.Address {
	return crypto.MustNewAddress(crypto.DefaultPrefix, bytes.Repeat([]byte{b}, 20))
}

func testContract(b byte) string {
	return crypto.MustNewAddress(crypto.DefaultPrefix, bytes.Repeat([]byte{b}, 32)).String()
}

var (
	owner    = testAddr(1)
	treasury = testAddr(2)
	stranger = testAddr(9)
)

type fixture struct {
	t      *testing.T
	ctx    context.Context
	engine *Engine
	store  *storage.Store
	clock  int64
	events []events.Event
	cfg    *Config
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	db, err := storage.NewMemDB()
	require.NoError(t, err)
	store := storage.NewStore(db)
	t.Cleanup(func() { store.Close() })

	f := &fixture{t: t, ctx: context.Background(), store: store, clock: 1_000}
	f.engine = NewEngine(store)
	f.engine.SetNowFunc(func() int64 { return f.clock })
	f.engine.SetEmitter(events.EmitterFunc(func(evt events.Event) { f.events = append(f.events, evt) }))
	f.cfg = &Config{
		Owner:              owner,
		Treasury:           treasury,
		Underlying:         TokenAsset(testContract(7)),
		Distribution:       TokenAsset(testContract(8)),
		MaxSlot:            25,
		PremiumRatePerSlot: decimal.MustParse("0.01"),
		MinDeposit:         uint256.NewInt(10_000),
		BiddingDuration:    3_600,
	}
	require.NoError(t, f.engine.Init(f.ctx, f.cfg))
	return f
}

func (f *fixture) createRound(budget uint64) *Round {
	f.t.Helper()
	round, err := f.engine.CreateRound(f.ctx, owner, amt(budget), uint64(f.clock), uint64(f.clock)+1_000)
	require.NoError(f.t, err)
	return round
}

func (f *fixture) bid(round uint64, slot uint8, bidder crypto.Address, amount uint64) *Bid {
	f.t.Helper()
	placed, err := f.engine.SubmitBid(f.ctx, BidRequest{
		Round:  round,
		Slot:   slot,
		Bidder: bidder,
		Asset:  f.cfg.Underlying,
		Amount: amt(amount),
	})
	require.NoError(f.t, err)
	return placed
}

func (f *fixture) fillSlots(round uint64, slots int) {
	f.t.Helper()
	for slot := 1; slot <= slots; slot++ {
		f.bid(round, uint8(slot), testAddr(byte(100+slot)), 4000*unit)
	}
}

func (f *fixture) eventTypes() []string {
	out := make([]string, 0, len(f.events))
	for _, evt := range f.events {
		out = append(out, evt.EventType())
	}
	return out
}

func TestInitRejectsSecondCall(t *testing.T) {
	f := newFixture(t)
	err := f.engine.Init(f.ctx, f.cfg)
	require.ErrorIs(t, err, ErrAlreadyInitialised)

	cfg, err := f.engine.Config(f.ctx)
	require.NoError(t, err)
	require.Equal(t, uint64(1), cfg.Version)
	require.NotEmpty(t, cfg.Fingerprint())
}

func TestEngineRequiresInit(t *testing.T) {
	db, err := storage.NewMemDB()
	require.NoError(t, err)
	engine := NewEngine(storage.NewStore(db))
	_, err = engine.LastRoundID(context.Background())
	require.ErrorIs(t, err, ErrNotInitialised)

	var nilEngine *Engine
	_, err = nilEngine.LastRoundID(context.Background())
	require.ErrorIs(t, err, errNilState)
}

func TestCreateRoundValidation(t *testing.T) {
	f := newFixture(t)
	_, err := f.engine.CreateRound(f.ctx, stranger, amt(1), 1_000, 2_000)
	require.ErrorIs(t, err, ErrUnauthorized)

	_, err = f.engine.CreateRound(f.ctx, owner, amt(1), 2_000, 2_000)
	require.ErrorIs(t, err, ErrInvalidTimeRange)

	_, err = f.engine.CreateRound(f.ctx, owner, amt(1), 999, 2_000)
	require.ErrorIs(t, err, ErrInvalidTimeRange)

	_, err = f.engine.CreateRound(f.ctx, owner, amt(0), 1_000, 2_000)
	require.ErrorIs(t, err, ErrInvalidAmount)
	_, err = f.engine.CreateRound(f.ctx, owner, nil, 1_000, 2_000)
	require.ErrorIs(t, err, ErrInvalidAmount)
	require.Equal(t, KindValidation, KindOf(err))

	first := f.createRound(1)
	second := f.createRound(1)
	require.Equal(t, uint64(1), first.ID)
	require.Equal(t, uint64(2), second.ID)

	last, err := f.engine.LastRoundID(f.ctx)
	require.NoError(t, err)
	require.Equal(t, uint64(2), last)

	info, err := f.engine.Round(f.ctx, 1)
	require.NoError(t, err)
	require.Equal(t, StatusOpen, info.Status)
	require.False(t, info.Distribution.Released)
	require.Equal(t, uint64(1), info.Round.ConfigVersion)

	_, err = f.engine.Round(f.ctx, 3)
	require.ErrorIs(t, err, ErrRoundNotFound)
}

func TestSubmitBidValidation(t *testing.T) {
	f := newFixture(t)
	round := f.createRound(1130 * unit)

	cases := []struct {
		name string
		req  BidRequest
		want error
	}{
		{"below minimum", BidRequest{Round: round.ID, Slot: 1, Bidder: testAddr(3), Asset: f.cfg.Underlying, Amount: amt(9_999)}, ErrBelowMinimum},
		{"slot zero", BidRequest{Round: round.ID, Slot: 0, Bidder: testAddr(3), Asset: f.cfg.Underlying, Amount: amt(10_000)}, ErrInvalidSlot},
		{"slot above max", BidRequest{Round: round.ID, Slot: 26, Bidder: testAddr(3), Asset: f.cfg.Underlying, Amount: amt(10_000)}, ErrInvalidSlot},
		{"wrong asset", BidRequest{Round: round.ID, Slot: 1, Bidder: testAddr(3), Asset: f.cfg.Distribution, Amount: amt(10_000)}, ErrInvalidAsset},
		{"unknown round", BidRequest{Round: 9, Slot: 1, Bidder: testAddr(3), Asset: f.cfg.Underlying, Amount: amt(10_000)}, ErrRoundNotFound},
		{"no bidder", BidRequest{Round: round.ID, Slot: 1, Asset: f.cfg.Underlying, Amount: amt(10_000)}, crypto.ErrInvalidAddress},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := f.engine.SubmitBid(f.ctx, tc.req)
			require.ErrorIs(t, err, tc.want)
		})
	}

	_, err := f.engine.SubmitBid(f.ctx, BidRequest{Round: round.ID, Slot: 1, Bidder: testAddr(3), Asset: f.cfg.Underlying, Amount: amt(9_999)})
	require.EqualError(t, err, "bidpool: deposit below minimum: Minimum deposit is 10000, got 9999")

	f.clock = int64(round.End) + 1
	_, err = f.engine.SubmitBid(f.ctx, BidRequest{Round: round.ID, Slot: 1, Bidder: testAddr(3), Asset: f.cfg.Underlying, Amount: amt(10_000)})
	require.ErrorIs(t, err, ErrRoundNotOpen)

	count, err := f.engine.CountBids(f.ctx, round.ID)
	require.NoError(t, err)
	require.Zero(t, count)
}

func TestSubmitBidAggregatesPools(t *testing.T) {
	f := newFixture(t)
	round := f.createRound(1130 * unit)
	alice, bob := testAddr(3), testAddr(4)

	first := f.bid(round.ID, 1, alice, 1000*unit)
	second := f.bid(round.ID, 1, bob, 3000*unit)
	third := f.bid(round.ID, 5, alice, 2000*unit)
	require.Equal(t, []uint64{1, 2, 3}, []uint64{first.ID, second.ID, third.ID})
	require.Equal(t, uint64(1000*unit), first.Residue.Uint64())
	require.True(t, first.AmountReceived.IsZero())

	pool, err := f.engine.Pool(f.ctx, round.ID, 1)
	require.NoError(t, err)
	require.Equal(t, uint64(4000*unit), pool.TotalBidAmount.Uint64())
	require.Equal(t, "0.01", pool.PremiumRate.String())

	empty, err := f.engine.Pool(f.ctx, round.ID, 7)
	require.NoError(t, err)
	require.True(t, empty.TotalBidAmount.IsZero())
	require.Equal(t, "0.07", empty.PremiumRate.String())

	_, err = f.engine.Pool(f.ctx, round.ID, 30)
	require.ErrorIs(t, err, ErrInvalidSlot)

	pools, err := f.engine.Pools(f.ctx, round.ID)
	require.NoError(t, err)
	require.Len(t, pools, 25)
	require.Equal(t, uint64(2000*unit), pools[4].TotalBidAmount.Uint64())

	info, err := f.engine.Round(f.ctx, round.ID)
	require.NoError(t, err)
	require.Equal(t, uint64(6000*unit), info.Round.TotalBidAmount.Uint64())
	require.Equal(t, uint64(3), info.Round.BidCount)

	ids, err := f.engine.BidIDsByUser(f.ctx, round.ID, alice)
	require.NoError(t, err)
	require.Equal(t, []uint64{1, 3}, ids)

	bids, err := f.engine.BidsByUser(f.ctx, round.ID, bob)
	require.NoError(t, err)
	require.Len(t, bids, 1)
	require.True(t, bids[0].Bidder.Equal(bob))

	got, err := f.engine.Bid(f.ctx, 2)
	require.NoError(t, err)
	require.Equal(t, uint8(1), got.Slot)
	require.Equal(t, uint64(f.clock), got.Timestamp)

	_, err = f.engine.Bid(f.ctx, 99)
	require.ErrorIs(t, err, ErrBidNotFound)
}

func TestBidIDsAreMonotonicAcrossRounds(t *testing.T) {
	f := newFixture(t)
	r1 := f.createRound(1)
	r2 := f.createRound(1)
	var ids []uint64
	for i := 0; i < 6; i++ {
		round := r1.ID
		if i%2 == 1 {
			round = r2.ID
		}
		ids = append(ids, f.bid(round, uint8(1+i), testAddr(byte(20+i)), 10_000).ID)
	}
	require.Equal(t, []uint64{1, 2, 3, 4, 5, 6}, ids)

	byRound, err := f.engine.BidsByRound(f.ctx, r2.ID, PageRequest{})
	require.NoError(t, err)
	require.Equal(t, []uint64{2, 4, 6}, byRound)
}

func TestBidsByRoundPaging(t *testing.T) {
	f := newFixture(t)
	round := f.createRound(1)
	for i := 0; i < 7; i++ {
		f.bid(round.ID, 1, testAddr(3), 10_000)
	}

	var all []uint64
	cursor := uint64(0)
	for {
		page, err := f.engine.BidsByRound(f.ctx, round.ID, PageRequest{StartAfter: cursor, Limit: 3, Order: OrderAscending})
		require.NoError(t, err)
		if len(page) == 0 {
			break
		}
		require.LessOrEqual(t, len(page), 3)
		all = append(all, page...)
		cursor = page[len(page)-1]
	}
	require.Equal(t, []uint64{1, 2, 3, 4, 5, 6, 7}, all)

	desc, err := f.engine.BidsByRound(f.ctx, round.ID, PageRequest{Limit: 3, Order: OrderDescending})
	require.NoError(t, err)
	require.Equal(t, []uint64{7, 6, 5}, desc)

	desc, err = f.engine.BidsByRound(f.ctx, round.ID, PageRequest{StartAfter: 5, Order: OrderDescending})
	require.NoError(t, err)
	require.Equal(t, []uint64{4, 3, 2, 1}, desc)

	require.Equal(t, DefaultLimit, PageRequest{}.limit())
	require.Equal(t, MaxLimit, PageRequest{Limit: 50_000}.limit())
}

func TestFinalizeRoundFullFill(t *testing.T) {
	f := newFixture(t)
	round := f.createRound(1130 * unit)
	f.fillSlots(round.ID, 25)

	_, err := f.engine.FinalizeRound(f.ctx, owner, round.ID, decimal.MustParse("0.01"))
	require.ErrorIs(t, err, ErrRoundNotEnded)

	f.clock = int64(round.End) + 1
	_, err = f.engine.FinalizeRound(f.ctx, stranger, round.ID, decimal.MustParse("0.01"))
	require.ErrorIs(t, err, ErrUnauthorized)

	res, err := f.engine.FinalizeRound(f.ctx, owner, round.ID, decimal.MustParse("0.01"))
	require.NoError(t, err)
	require.Equal(t, uint64(100000*unit), res.Allocation.TotalMatched.Uint64())
	require.True(t, res.Allocation.Remaining.IsZero())
	require.Len(t, res.Instructions, 1)
	require.Equal(t, ActionBurn, res.Instructions[0].Action)
	require.True(t, res.Instructions[0].Asset.Equal(f.cfg.Underlying))

	info, err := f.engine.Round(f.ctx, round.ID)
	require.NoError(t, err)
	require.True(t, info.Distribution.Released)
	require.Equal(t, "0.01", info.Distribution.ExchangeRate.String())
	require.Equal(t, uint64(1130*unit), info.Distribution.ActualDistributed.Uint64())
	require.Equal(t, uint64(100000*unit), info.Round.TotalBidMatched.Uint64())
	require.Equal(t, StatusReleased, info.Status)

	pools, err := f.engine.Pools(f.ctx, round.ID)
	require.NoError(t, err)
	for _, pool := range pools {
		require.Equal(t, "1", pool.IndexSnapshot.String())
	}

	_, err = f.engine.FinalizeRound(f.ctx, owner, round.ID, decimal.MustParse("0.02"))
	require.ErrorIs(t, err, ErrRoundReleased)
	require.Contains(t, err.Error(), "round 1 has been finalized")
	again, err := f.engine.Round(f.ctx, round.ID)
	require.NoError(t, err)
	require.Equal(t, info.Distribution, again.Distribution)
}

func TestFinalizeReturnsLeftoverToTreasury(t *testing.T) {
	f := newFixture(t)
	round := f.createRound(1200 * unit)
	f.fillSlots(round.ID, 25)
	f.clock = int64(round.End) + 1

	res, err := f.engine.FinalizeRound(f.ctx, owner, round.ID, decimal.MustParse("0.01"))
	require.NoError(t, err)
	require.Len(t, res.Instructions, 2)
	leftover := res.Instructions[1]
	require.Equal(t, ReasonLeftover, leftover.Reason)
	require.Equal(t, treasury.String(), leftover.Recipient)
	require.Equal(t, uint64(70*unit), leftover.Amount.Uint64())
	require.True(t, leftover.Asset.Equal(f.cfg.Distribution))
}

func TestFinalizeOverflowLeavesRoundUnreleased(t *testing.T) {
	f := newFixture(t)
	round := f.createRound(1130 * unit)
	huge, err := decimal.ParseAmount("1000000000000000000000000000000")
	require.NoError(t, err)
	_, err = f.engine.SubmitBid(f.ctx, BidRequest{Round: round.ID, Slot: 1, Bidder: testAddr(3), Asset: f.cfg.Underlying, Amount: huge})
	require.NoError(t, err)
	f.clock = int64(round.End) + 1
	f.events = nil

	_, err = f.engine.FinalizeRound(f.ctx, owner, round.ID, decimal.MustParse("100000000000000000000000000000000000000000000000000"))
	require.ErrorIs(t, err, decimal.ErrOverflow)
	require.Equal(t, KindArithmetic, KindOf(err))
	require.Empty(t, f.events)

	info, err := f.engine.Round(f.ctx, round.ID)
	require.NoError(t, err)
	require.False(t, info.Distribution.Released)

	_, err = f.engine.FinalizeRound(f.ctx, owner, round.ID, decimal.MustParse("0.01"))
	require.NoError(t, err)
}

func TestDistributeSettlesBoundaryRound(t *testing.T) {
	f := newFixture(t)
	f.createRound(1)
	round := f.createRound(1_055_200_000)
	f.fillSlots(round.ID, 25)

	_, err := f.engine.Distribute(f.ctx, round.ID, PageRequest{})
	require.ErrorIs(t, err, ErrRoundNotReleased)

	f.clock = int64(round.End) + 1
	fin, err := f.engine.FinalizeRound(f.ctx, owner, round.ID, decimal.MustParse("0.01"))
	require.NoError(t, err)
	require.Equal(t, uint64(94000*unit), fin.Allocation.TotalMatched.Uint64())
	require.Len(t, fin.Instructions, 1)

	res, err := f.engine.Distribute(f.ctx, round.ID, PageRequest{})
	require.NoError(t, err)
	require.Equal(t, uint32(25), res.Settled)
	require.Equal(t, uint64(25), res.TotalSettled)
	require.True(t, res.FullySettled)
	require.Equal(t, uint64(25), res.LastID)
	require.Len(t, res.Instructions, 26)

	slot1, err := f.engine.Bid(f.ctx, 1)
	require.NoError(t, err)
	require.True(t, slot1.Distributed)
	require.Equal(t, uint64(40_400_000), slot1.AmountReceived.Uint64())
	require.True(t, slot1.Residue.IsZero())

	boundary, err := f.engine.Bid(f.ctx, 24)
	require.NoError(t, err)
	require.Equal(t, uint64(24_800_000), boundary.AmountReceived.Uint64())
	require.Equal(t, uint64(2000*unit), boundary.Residue.Uint64())

	unfunded, err := f.engine.Bid(f.ctx, 25)
	require.NoError(t, err)
	require.True(t, unfunded.AmountReceived.IsZero())
	require.Equal(t, uint64(4000*unit), unfunded.Residue.Uint64())

	var rewards, refunds int
	for _, ins := range res.Instructions {
		switch ins.Reason {
		case ReasonReward:
			rewards++
			require.True(t, ins.Asset.Equal(f.cfg.Distribution))
		case ReasonRefund:
			refunds++
			require.True(t, ins.Asset.Equal(f.cfg.Underlying))
		}
	}
	require.Equal(t, 24, rewards)
	require.Equal(t, 2, refunds)

	info, err := f.engine.Round(f.ctx, round.ID)
	require.NoError(t, err)
	require.Equal(t, StatusSettled, info.Status)
	require.Equal(t, uint64(25), info.Distribution.NumBidsDistributed)
}

func TestDistributeIsIdempotentAcrossPages(t *testing.T) {
	f := newFixture(t)
	round := f.createRound(1_055_200_000)
	f.fillSlots(round.ID, 25)
	f.clock = int64(round.End) + 1
	_, err := f.engine.FinalizeRound(f.ctx, owner, round.ID, decimal.MustParse("0.01"))
	require.NoError(t, err)

	var settled []uint32
	cursor := uint64(0)
	for i := 0; i < 3; i++ {
		res, err := f.engine.Distribute(f.ctx, round.ID, PageRequest{StartAfter: cursor, Limit: 10})
		require.NoError(t, err)
		settled = append(settled, res.Settled)
		cursor = res.LastID
		require.Equal(t, i == 2, res.FullySettled)
	}
	require.Equal(t, []uint32{10, 10, 5}, settled)

	before, err := f.engine.BidsByUser(f.ctx, round.ID, testAddr(124))
	require.NoError(t, err)
	f.events = nil

	again, err := f.engine.Distribute(f.ctx, round.ID, PageRequest{Limit: 100})
	require.NoError(t, err)
	require.Zero(t, again.Settled)
	require.Equal(t, uint32(25), again.Skipped)
	require.Empty(t, again.Instructions)
	require.Empty(t, f.events)

	after, err := f.engine.BidsByUser(f.ctx, round.ID, testAddr(124))
	require.NoError(t, err)
	require.Equal(t, before, after)

	info, err := f.engine.Round(f.ctx, round.ID)
	require.NoError(t, err)
	require.Equal(t, uint64(25), info.Distribution.NumBidsDistributed)
}

func TestUpdateConfigProducesNewSnapshot(t *testing.T) {
	f := newFixture(t)
	maxSlot := uint8(10)
	_, err := f.engine.UpdateConfig(f.ctx, stranger, ConfigUpdate{MaxSlot: &maxSlot})
	require.ErrorIs(t, err, ErrUnauthorized)

	before, err := f.engine.Config(f.ctx)
	require.NoError(t, err)
	next, err := f.engine.UpdateConfig(f.ctx, owner, ConfigUpdate{MaxSlot: &maxSlot, MinDeposit: amt(5)})
	require.NoError(t, err)
	require.Equal(t, uint64(2), next.Version)
	require.Equal(t, uint8(10), next.MaxSlot)
	require.NotEqual(t, before.Fingerprint(), next.Fingerprint())

	zero := uint8(0)
	_, err = f.engine.UpdateConfig(f.ctx, owner, ConfigUpdate{MaxSlot: &zero})
	require.ErrorIs(t, err, ErrInvalidConfig)

	round := f.createRound(1)
	require.Equal(t, uint64(2), round.ConfigVersion)
	_, err = f.engine.SubmitBid(f.ctx, BidRequest{Round: round.ID, Slot: 11, Bidder: testAddr(3), Asset: f.cfg.Underlying, Amount: amt(5)})
	require.ErrorIs(t, err, ErrInvalidSlot)
	require.Contains(t, f.eventTypes(), events.TypeBidPoolConfigUpdated)
}

func TestCreateRoundFromTreasury(t *testing.T) {
	f := newFixture(t)
	_, err := f.engine.CreateRoundFromTreasury(f.ctx, owner, f.cfg.Distribution, amt(500))
	require.ErrorIs(t, err, ErrUnauthorized)

	_, err = f.engine.CreateRoundFromTreasury(f.ctx, treasury, f.cfg.Underlying, amt(500))
	require.ErrorIs(t, err, ErrInvalidAsset)

	round, err := f.engine.CreateRoundFromTreasury(f.ctx, treasury, f.cfg.Distribution, amt(500))
	require.NoError(t, err)
	require.Equal(t, uint64(f.clock), round.Start)
	require.Equal(t, uint64(f.clock)+3_600, round.End)

	info, err := f.engine.Round(f.ctx, round.ID)
	require.NoError(t, err)
	require.Equal(t, uint64(500), info.Distribution.TotalDistribution.Uint64())
}

func TestUpdateRound(t *testing.T) {
	f := newFixture(t)
	round, err := f.engine.CreateRound(f.ctx, owner, amt(100), 2_000, 3_000)
	require.NoError(t, err)
	require.Equal(t, StatusCreated, mustStatus(t, f, round.ID))

	start, end := uint64(2_500), uint64(4_000)
	info, err := f.engine.UpdateRound(f.ctx, owner, round.ID, RoundUpdate{Start: &start, End: &end, TotalDistribution: amt(300)})
	require.NoError(t, err)
	require.Equal(t, start, info.Round.Start)
	require.Equal(t, uint64(300), info.Distribution.TotalDistribution.Uint64())

	_, err = f.engine.UpdateRound(f.ctx, owner, round.ID, RoundUpdate{TotalDistribution: amt(0)})
	require.ErrorIs(t, err, ErrInvalidAmount)
	require.Equal(t, uint64(300), mustRound(t, f, round.ID).Distribution.TotalDistribution.Uint64())

	bad := uint64(1_500)
	_, err = f.engine.UpdateRound(f.ctx, owner, round.ID, RoundUpdate{End: &bad})
	require.ErrorIs(t, err, ErrInvalidTimeRange)

	f.clock = 2_600
	_, err = f.engine.UpdateRound(f.ctx, owner, round.ID, RoundUpdate{End: &end})
	require.ErrorIs(t, err, ErrRoundStarted)
	_, err = f.engine.UpdateRound(f.ctx, owner, round.ID, RoundUpdate{TotalDistribution: amt(400)})
	require.NoError(t, err)

	f.clock = 4_001
	_, err = f.engine.FinalizeRound(f.ctx, owner, round.ID, decimal.MustParse("0.01"))
	require.NoError(t, err)
	_, err = f.engine.UpdateRound(f.ctx, owner, round.ID, RoundUpdate{TotalDistribution: amt(1)})
	require.ErrorIs(t, err, ErrRoundReleased)
}

func mustStatus(t *testing.T, f *fixture, id uint64) RoundStatus {
	t.Helper()
	return mustRound(t, f, id).Status
}

func mustRound(t *testing.T, f *fixture, id uint64) *RoundInfo {
	t.Helper()
	info, err := f.engine.Round(f.ctx, id)
	require.NoError(t, err)
	return info
}

func TestEstimatesDoNotMutate(t *testing.T) {
	f := newFixture(t)
	round := f.createRound(1_055_200_000)
	f.fillSlots(round.ID, 25)

	est, err := f.engine.EstimateForBid(f.ctx, 24, decimal.MustParse("0.01"))
	require.NoError(t, err)
	require.Equal(t, uint64(24_800_000), est.Received.Uint64())
	require.Equal(t, uint64(2000*unit), est.Residue.Uint64())
	require.Equal(t, "0.5", est.FillRatio.String())

	// An extra 4000 in slot 1 consumes 40.4 more of the budget, which pushes
	// the boundary down to slot 23.
	extra, err := f.engine.EstimateForAmount(f.ctx, round.ID, 1, amt(4000*unit), decimal.MustParse("0.01"))
	require.NoError(t, err)
	require.Equal(t, uint64(40_400_000), extra.Received.Uint64())
	require.True(t, extra.Residue.IsZero())

	_, err = f.engine.EstimateForAmount(f.ctx, round.ID, 0, amt(1), decimal.MustParse("0.01"))
	require.ErrorIs(t, err, ErrInvalidSlot)

	pool, err := f.engine.Pool(f.ctx, round.ID, 1)
	require.NoError(t, err)
	require.Equal(t, uint64(4000*unit), pool.TotalBidAmount.Uint64())
	require.True(t, pool.IndexSnapshot.IsZero())
	info, err := f.engine.Round(f.ctx, round.ID)
	require.NoError(t, err)
	require.False(t, info.Distribution.Released)
}

func TestEventsFollowCommits(t *testing.T) {
	f := newFixture(t)
	round := f.createRound(20 * unit)
	f.bid(round.ID, 10, testAddr(3), 1000*unit)
	f.bid(round.ID, 20, testAddr(4), 1000*unit)
	f.clock = int64(round.End) + 1
	_, err := f.engine.FinalizeRound(f.ctx, owner, round.ID, decimal.MustParse("0.01"))
	require.NoError(t, err)
	_, err = f.engine.Distribute(f.ctx, round.ID, PageRequest{})
	require.NoError(t, err)

	require.Equal(t, []string{
		events.TypeBidPoolConfigUpdated,
		events.TypeBidPoolRoundCreated,
		events.TypeBidPoolBidSubmitted,
		events.TypeBidPoolBidSubmitted,
		events.TypeBidPoolRoundFinalized,
		events.TypeBidPoolBidsDistributed,
	}, f.eventTypes())

	finalized := f.events[4].(events.BidPoolRoundFinalized)
	require.Equal(t, uint8(20), finalized.BoundarySlot)
	require.Equal(t, uint64(1750*unit), finalized.TotalMatched.Uint64())
}

func TestRoundKeepsItsConfigSnapshot(t *testing.T) {
	f := newFixture(t)
	round := f.createRound(1000 * unit)
	f.bid(round.ID, 1, testAddr(3), 4000*unit)

	rate := decimal.MustParse("0.5")
	maxSlot := uint8(3)
	underlying, distribution := TokenAsset(testContract(17)), TokenAsset(testContract(18))
	next, err := f.engine.UpdateConfig(f.ctx, owner, ConfigUpdate{
		PremiumRatePerSlot: &rate,
		MaxSlot:            &maxSlot,
		Underlying:         &underlying,
		Distribution:       &distribution,
		MinDeposit:         amt(20_000),
	})
	require.NoError(t, err)
	require.Equal(t, uint64(2), next.Version)

	f.bid(round.ID, 2, testAddr(4), 15_000)
	f.bid(round.ID, 20, testAddr(5), 10_000)
	_, err = f.engine.SubmitBid(f.ctx, BidRequest{Round: round.ID, Slot: 1, Bidder: testAddr(6), Asset: underlying, Amount: amt(20_000)})
	require.ErrorIs(t, err, ErrInvalidAsset)

	pool, err := f.engine.Pool(f.ctx, round.ID, 2)
	require.NoError(t, err)
	require.True(t, pool.PremiumRate.Equal(decimal.MustParse("0.02")), pool.PremiumRate.String())
	pools, err := f.engine.Pools(f.ctx, round.ID)
	require.NoError(t, err)
	require.Len(t, pools, 25)

	later := f.createRound(1)
	require.Equal(t, uint64(2), later.ConfigVersion)
	pool, err = f.engine.Pool(f.ctx, later.ID, 2)
	require.NoError(t, err)
	require.True(t, pool.PremiumRate.Equal(decimal.MustParse("1")), pool.PremiumRate.String())
	_, err = f.engine.SubmitBid(f.ctx, BidRequest{Round: later.ID, Slot: 1, Bidder: testAddr(6), Asset: f.cfg.Underlying, Amount: amt(20_000)})
	require.ErrorIs(t, err, ErrInvalidAsset)
	_, err = f.engine.SubmitBid(f.ctx, BidRequest{Round: later.ID, Slot: 4, Bidder: testAddr(6), Asset: underlying, Amount: amt(20_000)})
	require.ErrorIs(t, err, ErrInvalidSlot)

	f.clock = int64(round.End) + 1
	fin, err := f.engine.FinalizeRound(f.ctx, owner, round.ID, decimal.MustParse("0.01"))
	require.NoError(t, err)
	require.Len(t, fin.Instructions, 2)
	require.Equal(t, ReasonBurn, fin.Instructions[0].Reason)
	require.True(t, fin.Instructions[0].Asset.Equal(f.cfg.Underlying))
	require.Equal(t, ReasonLeftover, fin.Instructions[1].Reason)
	require.True(t, fin.Instructions[1].Asset.Equal(f.cfg.Distribution))
	require.Equal(t, treasury.String(), fin.Instructions[1].Recipient)

	another := TokenAsset(testContract(19))
	_, err = f.engine.UpdateConfig(f.ctx, owner, ConfigUpdate{Distribution: &another})
	require.NoError(t, err)

	res, err := f.engine.Distribute(f.ctx, round.ID, PageRequest{})
	require.NoError(t, err)
	require.Equal(t, uint32(3), res.Settled)
	require.Len(t, res.Instructions, 3)
	for _, ins := range res.Instructions {
		require.Equal(t, ReasonReward, ins.Reason)
		require.True(t, ins.Asset.Equal(f.cfg.Distribution))
	}
	top, err := f.engine.BidsByUser(f.ctx, round.ID, testAddr(5))
	require.NoError(t, err)
	require.Len(t, top, 1)
	require.Equal(t, uint64(120), top[0].AmountReceived.Uint64())
}

func stagedKeys(instructions []Instruction) []string {
	out := make([]string, 0, len(instructions))
	for _, ins := range instructions {
		out = append(out, ins.Key())
	}
	return out
}

func TestInstructionsAreStagedWithLedgerWrites(t *testing.T) {
	f := newFixture(t)
	round := f.createRound(20 * unit)
	f.bid(round.ID, 10, testAddr(3), 1000*unit)
	f.bid(round.ID, 20, testAddr(4), 1000*unit)

	staged, err := f.engine.StagedInstructions(f.ctx, 0)
	require.NoError(t, err)
	require.Empty(t, staged)

	f.clock = int64(round.End) + 1
	fin, err := f.engine.FinalizeRound(f.ctx, owner, round.ID, decimal.MustParse("0.01"))
	require.NoError(t, err)
	staged, err = f.engine.StagedInstructions(f.ctx, 0)
	require.NoError(t, err)
	require.ElementsMatch(t, stagedKeys(fin.Instructions), stagedKeys(staged))
	require.Equal(t, fin.Instructions[0].Amount.Uint64(), staged[0].Amount.Uint64())
	require.True(t, staged[0].Asset.Equal(f.cfg.Underlying))

	dist, err := f.engine.Distribute(f.ctx, round.ID, PageRequest{})
	require.NoError(t, err)
	_, err = f.engine.Distribute(f.ctx, round.ID, PageRequest{})
	require.NoError(t, err)
	staged, err = f.engine.StagedInstructions(f.ctx, 0)
	require.NoError(t, err)
	require.ElementsMatch(t, append(stagedKeys(fin.Instructions), stagedKeys(dist.Instructions)...), stagedKeys(staged))

	page, err := f.engine.StagedInstructions(f.ctx, 1)
	require.NoError(t, err)
	require.Len(t, page, 1)

	released, err := f.engine.ReleaseInstructions(f.ctx, fin.Instructions)
	require.NoError(t, err)
	require.Equal(t, len(fin.Instructions), released)
	released, err = f.engine.ReleaseInstructions(f.ctx, fin.Instructions)
	require.NoError(t, err)
	require.Zero(t, released)

	unknown := f.cfg.Distribution.Transfer(testAddr(3).String(), amt(1)).tagged(ReasonReward, 99, 1)
	released, err = f.engine.ReleaseInstructions(f.ctx, []Instruction{unknown})
	require.NoError(t, err)
	require.Zero(t, released)

	staged, err = f.engine.StagedInstructions(f.ctx, 0)
	require.NoError(t, err)
	require.ElementsMatch(t, stagedKeys(dist.Instructions), stagedKeys(staged))
}

func TestDistributePageIsAllOrNothing(t *testing.T) {
	f := newFixture(t)
	round := f.createRound(1000 * unit)
	f.bid(round.ID, 1, testAddr(3), 4000*unit)
	second := f.bid(round.ID, 2, testAddr(4), 4000*unit)
	f.clock = int64(round.End) + 1
	fin, err := f.engine.FinalizeRound(f.ctx, owner, round.ID, decimal.MustParse("0.01"))
	require.NoError(t, err)

	// Point the later bid at a slot the round never had.
	broken := *second
	broken.Slot = 30
	require.NoError(t, f.store.Update(func(kv storage.KVStore) error {
		return newWriter(kv).putBid(&broken)
	}))
	f.events = nil

	_, err = f.engine.Distribute(f.ctx, round.ID, PageRequest{})
	require.ErrorContains(t, err, "bid 2 references unknown slot 30")
	require.Empty(t, f.events)

	first, err := f.engine.Bid(f.ctx, 1)
	require.NoError(t, err)
	require.False(t, first.Distributed)
	require.Zero(t, mustRound(t, f, round.ID).Distribution.NumBidsDistributed)
	staged, err := f.engine.StagedInstructions(f.ctx, 0)
	require.NoError(t, err)
	require.ElementsMatch(t, stagedKeys(fin.Instructions), stagedKeys(staged))

	require.NoError(t, f.store.Update(func(kv storage.KVStore) error {
		return newWriter(kv).putBid(second)
	}))
	res, err := f.engine.Distribute(f.ctx, round.ID, PageRequest{})
	require.NoError(t, err)
	require.Equal(t, uint32(2), res.Settled)
	require.True(t, res.FullySettled)
}
