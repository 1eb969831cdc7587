package server

import (
	"context"
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"coharvest/core/decimal"
	"coharvest/crypto"
	"coharvest/native/bidpool"
	telemetry "coharvest/observability/otel"
)

type configUpdateRequest struct {
	Owner              *string `json:"owner"`
	Treasury           *string `json:"treasury"`
	Underlying         *string `json:"underlying"`
	Distribution       *string `json:"distribution"`
	MaxSlot            *uint8  `json:"max_slot"`
	PremiumRatePerSlot *string `json:"premium_rate_per_slot"`
	MinDeposit         *string `json:"min_deposit"`
	BiddingDuration    *uint64 `json:"bidding_duration"`
}

func (req configUpdateRequest) toUpdate() (bidpool.ConfigUpdate, error) {
	var update bidpool.ConfigUpdate
	if req.Owner != nil {
		addr, err := crypto.DecodeAddress(*req.Owner)
		if err != nil {
			return update, fmt.Errorf("owner: %w", err)
		}
		update.Owner = &addr
	}
	if req.Treasury != nil {
		var addr crypto.Address
		if *req.Treasury != "" {
			decoded, err := crypto.DecodeAddress(*req.Treasury)
			if err != nil {
				return update, fmt.Errorf("treasury: %w", err)
			}
			addr = decoded
		}
		update.Treasury = &addr
	}
	if req.Underlying != nil {
		asset, err := bidpool.ParseAsset(*req.Underlying)
		if err != nil {
			return update, fmt.Errorf("underlying: %w", err)
		}
		update.Underlying = &asset
	}
	if req.Distribution != nil {
		asset, err := bidpool.ParseAsset(*req.Distribution)
		if err != nil {
			return update, fmt.Errorf("distribution: %w", err)
		}
		update.Distribution = &asset
	}
	update.MaxSlot = req.MaxSlot
	if req.PremiumRatePerSlot != nil {
		rate, err := decimal.Parse(*req.PremiumRatePerSlot)
		if err != nil {
			return update, fmt.Errorf("premium_rate_per_slot: %w", err)
		}
		update.PremiumRatePerSlot = &rate
	}
	if req.MinDeposit != nil {
		amount, err := decimal.ParseAmount(*req.MinDeposit)
		if err != nil {
			return update, fmt.Errorf("min_deposit: %w", err)
		}
		update.MinDeposit = amount
	}
	update.BiddingDuration = req.BiddingDuration
	return update, nil
}

func (s *Server) handleUpdateConfig(w http.ResponseWriter, r *http.Request) {
	id, ok := s.identity(w, r)
	if !ok {
		return
	}
	var req configUpdateRequest
	if err := decodeBody(r, &req, false); err != nil {
		badRequest(w, fmt.Errorf("invalid body: %w", err))
		return
	}
	update, err := req.toUpdate()
	if err != nil {
		badRequest(w, err)
		return
	}
	cfg, err := s.engine.UpdateConfig(r.Context(), id.Caller, update)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.logger.Info("config updated", "version", cfg.Version, "caller", id.Caller.String())
	writeJSON(w, http.StatusOK, configView(cfg))
}

type createRoundRequest struct {
	Budget string `json:"budget"`
	Start  uint64 `json:"start"`
	End    uint64 `json:"end"`
}

func (s *Server) handleCreateRound(w http.ResponseWriter, r *http.Request) {
	id, ok := s.identity(w, r)
	if !ok {
		return
	}
	var req createRoundRequest
	if err := decodeBody(r, &req, false); err != nil {
		badRequest(w, fmt.Errorf("invalid body: %w", err))
		return
	}
	budget, err := decimal.ParseAmount(req.Budget)
	if err != nil {
		badRequest(w, fmt.Errorf("budget: %w", err))
		return
	}
	round, err := s.engine.CreateRound(r.Context(), id.Caller, budget, req.Start, req.End)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.logger.Info("round created", "round", round.ID, "start", round.Start, "end", round.End)
	writeJSON(w, http.StatusCreated, roundView(round))
}

type updateRoundRequest struct {
	Start  *uint64 `json:"start"`
	End    *uint64 `json:"end"`
	Budget *string `json:"budget"`
}

func (s *Server) handleUpdateRound(w http.ResponseWriter, r *http.Request) {
	id, ok := s.identity(w, r)
	if !ok {
		return
	}
	roundID, err := uintParam(r, "round")
	if err != nil {
		badRequest(w, fmt.Errorf("invalid round id"))
		return
	}
	var req updateRoundRequest
	if err := decodeBody(r, &req, false); err != nil {
		badRequest(w, fmt.Errorf("invalid body: %w", err))
		return
	}
	update := bidpool.RoundUpdate{Start: req.Start, End: req.End}
	if req.Budget != nil {
		budget, err := decimal.ParseAmount(*req.Budget)
		if err != nil {
			badRequest(w, fmt.Errorf("budget: %w", err))
			return
		}
		update.TotalDistribution = budget
	}
	info, err := s.engine.UpdateRound(r.Context(), id.Caller, roundID, update)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, roundInfoView(info))
}

type submitBidRequest struct {
	Slot   uint8  `json:"slot"`
	Asset  string `json:"asset"`
	Amount string `json:"amount"`
}

func (s *Server) handleSubmitBid(w http.ResponseWriter, r *http.Request) {
	id, ok := s.identity(w, r)
	if !ok {
		return
	}
	roundID, err := uintParam(r, "round")
	if err != nil {
		badRequest(w, fmt.Errorf("invalid round id"))
		return
	}
	var req submitBidRequest
	if err := decodeBody(r, &req, false); err != nil {
		badRequest(w, fmt.Errorf("invalid body: %w", err))
		return
	}
	asset, err := bidpool.ParseAsset(req.Asset)
	if err != nil {
		badRequest(w, err)
		return
	}
	amount, err := decimal.ParseAmount(req.Amount)
	if err != nil {
		badRequest(w, fmt.Errorf("amount: %w", err))
		return
	}
	bid, err := s.engine.SubmitBid(r.Context(), bidpool.BidRequest{
		Round:  roundID,
		Slot:   req.Slot,
		Bidder: id.Caller,
		Asset:  asset,
		Amount: amount,
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, bidView(bid))
}

type finalizeRequest struct {
	ExchangeRate string `json:"exchange_rate"`
}

type finalizeResponse struct {
	Round        roundResponse         `json:"round"`
	TotalMatched string                `json:"total_matched"`
	Consumed     string                `json:"consumed"`
	Remaining    string                `json:"remaining"`
	BoundarySlot uint8                 `json:"boundary_slot"`
	Pools        []poolResponse        `json:"pools"`
	Instructions []instructionResponse `json:"instructions"`
	Enqueued     int                   `json:"enqueued"`
	OutboxError  string                `json:"outbox_error,omitempty"`
}

func (s *Server) handleFinalize(w http.ResponseWriter, r *http.Request) {
	id, ok := s.identity(w, r)
	if !ok {
		return
	}
	roundID, err := uintParam(r, "round")
	if err != nil {
		badRequest(w, fmt.Errorf("invalid round id"))
		return
	}
	var req finalizeRequest
	if err := decodeBody(r, &req, false); err != nil {
		badRequest(w, fmt.Errorf("invalid body: %w", err))
		return
	}
	rate, err := decimal.Parse(req.ExchangeRate)
	if err != nil {
		badRequest(w, fmt.Errorf("exchange_rate: %w", err))
		return
	}
	result, err := s.engine.FinalizeRound(r.Context(), id.Caller, roundID, rate)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	for _, pool := range result.Pools {
		if pool.TotalBidAmount == nil || pool.TotalBidAmount.IsZero() {
			continue
		}
		if ratio, err := strconv.ParseFloat(pool.IndexSnapshot.String(), 64); err == nil {
			s.bidM.ObserveFill(ratio)
		}
	}
	status := bidpool.StatusReleased
	if result.Distribution.NumBidsDistributed >= result.Round.BidCount {
		status = bidpool.StatusSettled
	}
	enqueued, outboxErr := s.enqueue(r.Context(), result.Instructions)
	resp := finalizeResponse{
		Round:        roundInfoView(&bidpool.RoundInfo{Round: result.Round, Distribution: result.Distribution, Status: status}),
		TotalMatched: amountString(result.Allocation.TotalMatched),
		Consumed:     amountString(result.Allocation.Consumed),
		Remaining:    amountString(result.Allocation.Remaining),
		BoundarySlot: result.Allocation.BoundarySlot,
		Pools:        poolViews(result.Pools),
		Instructions: instructionViews(result.Instructions),
		Enqueued:     enqueued,
	}
	if outboxErr != nil {
		resp.OutboxError = outboxErr.Error()
	}
	s.logger.Info("round finalized",
		"round", roundID,
		"exchange_rate", rate.String(),
		"total_matched", resp.TotalMatched,
		"boundary_slot", resp.BoundarySlot)
	writeJSON(w, http.StatusOK, resp)
}

type distributeRequest struct {
	StartAfter uint64 `json:"start_after"`
	Limit      uint32 `json:"limit"`
}

type distributeResponse struct {
	Round        uint64                `json:"round"`
	Settled      uint32                `json:"settled"`
	Skipped      uint32                `json:"skipped"`
	LastID       uint64                `json:"last_id"`
	TotalSettled uint64                `json:"total_settled"`
	FullySettled bool                  `json:"fully_settled"`
	Instructions []instructionResponse `json:"instructions"`
	Enqueued     int                   `json:"enqueued"`
	OutboxError  string                `json:"outbox_error,omitempty"`
}

func (s *Server) handleDistribute(w http.ResponseWriter, r *http.Request) {
	if _, ok := s.identity(w, r); !ok {
		return
	}
	roundID, err := uintParam(r, "round")
	if err != nil {
		badRequest(w, fmt.Errorf("invalid round id"))
		return
	}
	var req distributeRequest
	if err := decodeBody(r, &req, true); err != nil {
		badRequest(w, fmt.Errorf("invalid body: %w", err))
		return
	}
	result, err := s.engine.Distribute(r.Context(), roundID, bidpool.PageRequest{StartAfter: req.StartAfter, Limit: req.Limit})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	enqueued, outboxErr := s.enqueue(r.Context(), result.Instructions)
	resp := distributeResponse{
		Round:        roundID,
		Settled:      result.Settled,
		Skipped:      result.Skipped,
		LastID:       result.LastID,
		TotalSettled: result.TotalSettled,
		FullySettled: result.FullySettled,
		Instructions: instructionViews(result.Instructions),
		Enqueued:     enqueued,
	}
	if outboxErr != nil {
		resp.OutboxError = outboxErr.Error()
	}
	writeJSON(w, http.StatusOK, resp)
}

type treasuryRoundRequest struct {
	Asset  string `json:"asset"`
	Amount string `json:"amount"`
}

func (s *Server) handleTreasuryRound(w http.ResponseWriter, r *http.Request) {
	id, ok := s.identity(w, r)
	if !ok {
		return
	}
	var req treasuryRoundRequest
	if err := decodeBody(r, &req, false); err != nil {
		badRequest(w, fmt.Errorf("invalid body: %w", err))
		return
	}
	asset, err := bidpool.ParseAsset(req.Asset)
	if err != nil {
		badRequest(w, err)
		return
	}
	amount, err := decimal.ParseAmount(req.Amount)
	if err != nil {
		badRequest(w, fmt.Errorf("amount: %w", err))
		return
	}
	round, err := s.engine.CreateRoundFromTreasury(r.Context(), id.Caller, asset, amount)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, roundView(round))
}

func (s *Server) handleExport(w http.ResponseWriter, r *http.Request) {
	if _, ok := s.requireOwner(w, r, ""); !ok {
		return
	}
	if s.exporter == nil {
		writeProblem(w, http.StatusNotImplemented, "unavailable", "export not configured")
		return
	}
	roundID, err := uintParam(r, "round")
	if err != nil {
		badRequest(w, fmt.Errorf("invalid round id"))
		return
	}
	result, err := s.exporter.ExportRound(r.Context(), roundID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleOutbox(w http.ResponseWriter, r *http.Request) {
	if _, ok := s.requireOwner(w, r, RoleDispatcher); !ok {
		return
	}
	if s.outbox == nil {
		writeProblem(w, http.StatusNotImplemented, "unavailable", "outbox not configured")
		return
	}
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		v, err := strconv.Atoi(raw)
		if err != nil {
			badRequest(w, fmt.Errorf("invalid limit"))
			return
		}
		limit = v
	}
	entries, err := s.outbox.Pending(r.Context(), limit)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	views := make([]outboxEntryResponse, 0, len(entries))
	for _, entry := range entries {
		views = append(views, outboxView(entry))
	}
	writeJSON(w, http.StatusOK, map[string]any{"entries": views})
}

func (s *Server) handleOutboxAck(w http.ResponseWriter, r *http.Request) {
	if _, ok := s.requireOwner(w, r, RoleDispatcher); !ok {
		return
	}
	if s.outbox == nil {
		writeProblem(w, http.StatusNotImplemented, "unavailable", "outbox not configured")
		return
	}
	entry, err := s.outbox.MarkDispatched(r.Context(), chi.URLParam(r, "key"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, outboxView(*entry))
}

func (s *Server) handleOutboxRelay(w http.ResponseWriter, r *http.Request) {
	if _, ok := s.requireOwner(w, r, RoleDispatcher); !ok {
		return
	}
	if s.relay == nil {
		writeProblem(w, http.StatusNotImplemented, "unavailable", "outbox not configured")
		return
	}
	relayed, err := s.relay.Drain(r.Context())
	if err != nil {
		s.logger.Error("outbox relay failed", "relayed", relayed, "error", err)
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"relayed": relayed})
}

// enqueue copies instructions staged by a committed engine call into the
// outbox. A failure leaves them staged for the relay and never undoes the
// engine call.
func (s *Server) enqueue(ctx context.Context, instructions []bidpool.Instruction) (int, error) {
	for _, ins := range instructions {
		s.bidM.ObserveInstruction(string(ins.Reason))
	}
	if s.relay == nil || len(instructions) == 0 {
		return 0, nil
	}
	ctx, span := telemetry.Tracer("bidpoold/server").Start(ctx, "outbox.enqueue")
	defer span.End()
	span.SetAttributes(attribute.Int("instructions", len(instructions)))
	n, err := s.relay.Forward(ctx, instructions)
	span.SetAttributes(attribute.Int("enqueued", n))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "enqueue failed")
		s.logger.Error("outbox enqueue failed", "instructions", len(instructions), "error", err)
		return n, err
	}
	return n, nil
}
