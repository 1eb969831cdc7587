package server

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"coharvest/core/decimal"
	"coharvest/crypto"
	"coharvest/native/bidpool"
)

func (s *Server) handleGetConfig(w http.ResponseWriter, r *http.Request) {
	cfg, err := s.engine.Config(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, configView(cfg))
}

func (s *Server) handleLastRound(w http.ResponseWriter, r *http.Request) {
	id, err := s.engine.LastRoundID(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]uint64{"round_id": id})
}

func (s *Server) handleGetRound(w http.ResponseWriter, r *http.Request) {
	id, err := uintParam(r, "round")
	if err != nil {
		badRequest(w, fmt.Errorf("invalid round id"))
		return
	}
	info, err := s.engine.Round(r.Context(), id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, roundInfoView(info))
}

func (s *Server) handleGetPools(w http.ResponseWriter, r *http.Request) {
	id, err := uintParam(r, "round")
	if err != nil {
		badRequest(w, fmt.Errorf("invalid round id"))
		return
	}
	pools, err := s.engine.Pools(r.Context(), id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"round": id, "pools": poolViews(pools)})
}

func (s *Server) handleGetPool(w http.ResponseWriter, r *http.Request) {
	id, err := uintParam(r, "round")
	if err != nil {
		badRequest(w, fmt.Errorf("invalid round id"))
		return
	}
	slot, err := strconv.ParseUint(chi.URLParam(r, "slot"), 10, 8)
	if err != nil {
		badRequest(w, fmt.Errorf("invalid slot"))
		return
	}
	pool, err := s.engine.Pool(r.Context(), id, uint8(slot))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, poolView(pool))
}

func parsePage(r *http.Request) (bidpool.PageRequest, error) {
	q := r.URL.Query()
	page := bidpool.PageRequest{Order: bidpool.OrderAscending}
	if raw := q.Get("start_after"); raw != "" {
		v, err := strconv.ParseUint(raw, 10, 64)
		if err != nil {
			return page, fmt.Errorf("invalid start_after")
		}
		page.StartAfter = v
	}
	if raw := q.Get("limit"); raw != "" {
		v, err := strconv.ParseUint(raw, 10, 32)
		if err != nil {
			return page, fmt.Errorf("invalid limit")
		}
		page.Limit = uint32(v)
	}
	switch strings.ToLower(q.Get("order")) {
	case "", "asc", "ascending":
	case "desc", "descending":
		page.Order = bidpool.OrderDescending
	default:
		return page, fmt.Errorf("order must be asc or desc")
	}
	return page, nil
}

func (s *Server) handleListBids(w http.ResponseWriter, r *http.Request) {
	id, err := uintParam(r, "round")
	if err != nil {
		badRequest(w, fmt.Errorf("invalid round id"))
		return
	}
	page, err := parsePage(r)
	if err != nil {
		badRequest(w, err)
		return
	}
	ids, err := s.engine.BidsByRound(r.Context(), id, page)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if ids == nil {
		ids = []uint64{}
	}
	resp := map[string]any{"round": id, "bid_ids": ids}
	if len(ids) > 0 {
		resp["next_start_after"] = ids[len(ids)-1]
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleCountBids(w http.ResponseWriter, r *http.Request) {
	id, err := uintParam(r, "round")
	if err != nil {
		badRequest(w, fmt.Errorf("invalid round id"))
		return
	}
	count, err := s.engine.CountBids(r.Context(), id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]uint64{"round": id, "count": count})
}

func userParams(r *http.Request) (uint64, crypto.Address, error) {
	id, err := uintParam(r, "round")
	if err != nil {
		return 0, crypto.Address{}, fmt.Errorf("invalid round id")
	}
	addr, err := crypto.DecodeAddress(chi.URLParam(r, "address"))
	if err != nil {
		return 0, crypto.Address{}, err
	}
	return id, addr, nil
}

func (s *Server) handleUserBids(w http.ResponseWriter, r *http.Request) {
	id, addr, err := userParams(r)
	if err != nil {
		badRequest(w, err)
		return
	}
	bids, err := s.engine.BidsByUser(r.Context(), id, addr)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	views := make([]bidResponse, 0, len(bids))
	for _, bid := range bids {
		views = append(views, bidView(bid))
	}
	writeJSON(w, http.StatusOK, map[string]any{"round": id, "bidder": addr.String(), "bids": views})
}

func (s *Server) handleUserBidIDs(w http.ResponseWriter, r *http.Request) {
	id, addr, err := userParams(r)
	if err != nil {
		badRequest(w, err)
		return
	}
	ids, err := s.engine.BidIDsByUser(r.Context(), id, addr)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if ids == nil {
		ids = []uint64{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"round": id, "bidder": addr.String(), "bid_ids": ids})
}

func (s *Server) handleGetBid(w http.ResponseWriter, r *http.Request) {
	id, err := uintParam(r, "id")
	if err != nil {
		badRequest(w, fmt.Errorf("invalid bid id"))
		return
	}
	bid, err := s.engine.Bid(r.Context(), id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, bidView(bid))
}

func exchangeRate(r *http.Request) (decimal.Decimal, error) {
	raw := r.URL.Query().Get("exchange_rate")
	if raw == "" {
		return decimal.Decimal{}, fmt.Errorf("exchange_rate is required")
	}
	return decimal.Parse(raw)
}

func (s *Server) handleEstimateBid(w http.ResponseWriter, r *http.Request) {
	id, err := uintParam(r, "id")
	if err != nil {
		badRequest(w, fmt.Errorf("invalid bid id"))
		return
	}
	rate, err := exchangeRate(r)
	if err != nil {
		badRequest(w, err)
		return
	}
	est, err := s.engine.EstimateForBid(r.Context(), id, rate)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, estimateView(est))
}

func (s *Server) handleEstimateAmount(w http.ResponseWriter, r *http.Request) {
	id, err := uintParam(r, "round")
	if err != nil {
		badRequest(w, fmt.Errorf("invalid round id"))
		return
	}
	q := r.URL.Query()
	slot, err := strconv.ParseUint(q.Get("slot"), 10, 8)
	if err != nil {
		badRequest(w, fmt.Errorf("invalid slot"))
		return
	}
	amount, err := decimal.ParseAmount(q.Get("amount"))
	if err != nil {
		badRequest(w, err)
		return
	}
	rate, err := exchangeRate(r)
	if err != nil {
		badRequest(w, err)
		return
	}
	est, err := s.engine.EstimateForAmount(r.Context(), id, uint8(slot), amount, rate)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, estimateView(est))
}
