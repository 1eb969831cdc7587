package server

import (
	"encoding/json"

	"github.com/holiman/uint256"

	"coharvest/native/bidpool"
	"coharvest/services/bidpoold/outbox"
)

func amountString(v *uint256.Int) string {
	if v == nil {
		return "0"
	}
	return v.Dec()
}

type configResponse struct {
	Version            uint64 `json:"version"`
	Owner              string `json:"owner"`
	Treasury           string `json:"treasury,omitempty"`
	Underlying         string `json:"underlying"`
	Distribution       string `json:"distribution"`
	MaxSlot            uint8  `json:"max_slot"`
	PremiumRatePerSlot string `json:"premium_rate_per_slot"`
	MinDeposit         string `json:"min_deposit"`
	BiddingDuration    uint64 `json:"bidding_duration"`
	Fingerprint        string `json:"fingerprint"`
}

func configView(cfg *bidpool.Config) configResponse {
	return configResponse{
		Version:            cfg.Version,
		Owner:              cfg.Owner.String(),
		Treasury:           cfg.Treasury.String(),
		Underlying:         cfg.Underlying.String(),
		Distribution:       cfg.Distribution.String(),
		MaxSlot:            cfg.MaxSlot,
		PremiumRatePerSlot: cfg.PremiumRatePerSlot.String(),
		MinDeposit:         amountString(cfg.MinDeposit),
		BiddingDuration:    cfg.BiddingDuration,
		Fingerprint:        cfg.Fingerprint(),
	}
}

type distributionResponse struct {
	TotalDistribution  string `json:"total_distribution"`
	ExchangeRate       string `json:"exchange_rate"`
	Released           bool   `json:"released"`
	ActualDistributed  string `json:"actual_distributed"`
	NumBidsDistributed uint64 `json:"num_bids_distributed"`
}

type roundResponse struct {
	ID              uint64                `json:"id"`
	Start           uint64                `json:"start"`
	End             uint64                `json:"end"`
	TotalBidAmount  string                `json:"total_bid_amount"`
	TotalBidMatched string                `json:"total_bid_matched"`
	BidCount        uint64                `json:"bid_count"`
	ConfigVersion   uint64                `json:"config_version"`
	Status          string                `json:"status,omitempty"`
	Distribution    *distributionResponse `json:"distribution,omitempty"`
}

func roundView(round *bidpool.Round) roundResponse {
	return roundResponse{
		ID:              round.ID,
		Start:           round.Start,
		End:             round.End,
		TotalBidAmount:  amountString(round.TotalBidAmount),
		TotalBidMatched: amountString(round.TotalBidMatched),
		BidCount:        round.BidCount,
		ConfigVersion:   round.ConfigVersion,
	}
}

func roundInfoView(info *bidpool.RoundInfo) roundResponse {
	view := roundView(info.Round)
	view.Status = info.Status.String()
	if dist := info.Distribution; dist != nil {
		view.Distribution = &distributionResponse{
			TotalDistribution:  amountString(dist.TotalDistribution),
			ExchangeRate:       dist.ExchangeRate.String(),
			Released:           dist.Released,
			ActualDistributed:  amountString(dist.ActualDistributed),
			NumBidsDistributed: dist.NumBidsDistributed,
		}
	}
	return view
}

type poolResponse struct {
	Slot             uint8  `json:"slot"`
	TotalBidAmount   string `json:"total_bid_amount"`
	PremiumRate      string `json:"premium_rate"`
	IndexSnapshot    string `json:"index_snapshot"`
	ReceivedPerToken string `json:"received_per_token"`
}

func poolView(pool *bidpool.SlotPool) poolResponse {
	return poolResponse{
		Slot:             pool.Slot,
		TotalBidAmount:   amountString(pool.TotalBidAmount),
		PremiumRate:      pool.PremiumRate.String(),
		IndexSnapshot:    pool.IndexSnapshot.String(),
		ReceivedPerToken: pool.ReceivedPerToken.String(),
	}
}

func poolViews(pools []*bidpool.SlotPool) []poolResponse {
	out := make([]poolResponse, 0, len(pools))
	for _, pool := range pools {
		out = append(out, poolView(pool))
	}
	return out
}

type bidResponse struct {
	ID             uint64 `json:"id"`
	Round          uint64 `json:"round"`
	Slot           uint8  `json:"slot"`
	Bidder         string `json:"bidder"`
	Timestamp      uint64 `json:"timestamp"`
	Amount         string `json:"amount"`
	AmountReceived string `json:"amount_received"`
	Residue        string `json:"residue"`
	Distributed    bool   `json:"distributed"`
}

func bidView(bid *bidpool.Bid) bidResponse {
	return bidResponse{
		ID:             bid.ID,
		Round:          bid.Round,
		Slot:           bid.Slot,
		Bidder:         bid.Bidder.String(),
		Timestamp:      bid.Timestamp,
		Amount:         amountString(bid.Amount),
		AmountReceived: amountString(bid.AmountReceived),
		Residue:        amountString(bid.Residue),
		Distributed:    bid.Distributed,
	}
}

type estimateResponse struct {
	Received   string `json:"received"`
	Residue    string `json:"residue"`
	FillRatio  string `json:"fill_ratio"`
	PayoutRate string `json:"payout_rate"`
}

func estimateView(est *bidpool.Estimate) estimateResponse {
	return estimateResponse{
		Received:   amountString(est.Received),
		Residue:    amountString(est.Residue),
		FillRatio:  est.FillRatio.String(),
		PayoutRate: est.PayoutRate.String(),
	}
}

type instructionResponse struct {
	Key       string          `json:"key"`
	Action    string          `json:"action"`
	Reason    string          `json:"reason"`
	Asset     string          `json:"asset"`
	Recipient string          `json:"recipient,omitempty"`
	Amount    string          `json:"amount"`
	Round     uint64          `json:"round"`
	BidID     uint64          `json:"bid_id,omitempty"`
	Payload   json.RawMessage `json:"payload,omitempty"`
}

func instructionViews(instructions []bidpool.Instruction) []instructionResponse {
	out := make([]instructionResponse, 0, len(instructions))
	for _, ins := range instructions {
		view := instructionResponse{
			Key:       ins.Key(),
			Action:    ins.Action.String(),
			Reason:    string(ins.Reason),
			Asset:     ins.Asset.String(),
			Recipient: ins.Recipient,
			Amount:    amountString(ins.Amount),
			Round:     ins.Round,
			BidID:     ins.BidID,
		}
		if payload, err := ins.Payload(); err == nil {
			view.Payload = payload
		}
		out = append(out, view)
	}
	return out
}

type outboxEntryResponse struct {
	Key          string          `json:"key"`
	Round        uint64          `json:"round"`
	BidID        uint64          `json:"bid_id,omitempty"`
	Reason       string          `json:"reason"`
	Action       string          `json:"action"`
	Asset        string          `json:"asset"`
	Recipient    string          `json:"recipient,omitempty"`
	Amount       string          `json:"amount"`
	Status       string          `json:"status"`
	Payload      json.RawMessage `json:"payload"`
	CreatedAt    int64           `json:"created_at"`
	DispatchedAt int64           `json:"dispatched_at,omitempty"`
}

func outboxView(entry outbox.Entry) outboxEntryResponse {
	view := outboxEntryResponse{
		Key:       entry.Key,
		Round:     entry.RoundID,
		BidID:     entry.BidID,
		Reason:    entry.Reason,
		Action:    entry.Action,
		Asset:     entry.Asset,
		Recipient: entry.Recipient,
		Amount:    entry.Amount,
		Status:    string(entry.Status),
		Payload:   json.RawMessage(entry.Payload),
		CreatedAt: entry.CreatedAt.Unix(),
	}
	if entry.DispatchedAt != nil {
		view.DispatchedAt = entry.DispatchedAt.Unix()
	}
	return view
}
