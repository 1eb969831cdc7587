package bidpool

import (
	"fmt"

	"coharvest/crypto"
)

const (
	// DefaultLimit is the page size used when callers do not supply one.
	DefaultLimit = 30
	// MaxLimit caps every page regardless of the requested limit.
	MaxLimit = 1000
)

// PageRequest selects a window of bid ids. StartAfter is exclusive and zero
// means "from the beginning" in the chosen order.
type PageRequest struct {
	StartAfter uint64
	Limit      uint32
	Order      Order
}

func (p PageRequest) limit() int {
	switch {
	case p.Limit == 0:
		return DefaultLimit
	case p.Limit > MaxLimit:
		return MaxLimit
	default:
		return int(p.Limit)
	}
}

// nextBidID hands out sequential ids starting at 1.
func (w writer) nextBidID() (uint64, error) {
	next := uint64(1)
	if _, err := w.kv.KVGet(keyNextBid, &next); err != nil {
		return 0, err
	}
	if err := w.kv.KVPut(keyNextBid, next+1); err != nil {
		return 0, err
	}
	return next, nil
}

// appendBid assigns an id, stores the bid and writes both indexes.
func appendBid(w writer, bid *Bid) (uint64, error) {
	id, err := w.nextBidID()
	if err != nil {
		return 0, fmt.Errorf("bidpool: allocate bid id: %w", err)
	}
	bid.ID = id
	if err := w.putBid(bid); err != nil {
		return 0, err
	}
	if err := w.kv.KVPut(roundBidKey(bid.Round, id), true); err != nil {
		return 0, err
	}
	if err := w.kv.KVPut(userBidKey(bid.Round, bid.Bidder, id), true); err != nil {
		return 0, err
	}
	return id, nil
}

func collectIDs(r reader, prefix []byte, page PageRequest) ([]uint64, error) {
	var cursor []byte
	if page.StartAfter != 0 {
		cursor = be64(page.StartAfter)
	}
	limit := page.limit()
	ids := make([]uint64, 0, limit)
	err := r.kv.KVScan(prefix, cursor, page.Order == OrderDescending, func(suffix []byte) (bool, error) {
		id, ok := decodeID(suffix)
		if !ok {
			return false, fmt.Errorf("bidpool: malformed index key %x", suffix)
		}
		ids = append(ids, id)
		return len(ids) < limit, nil
	})
	if err != nil {
		return nil, err
	}
	return ids, nil
}

// listBidIDsByRound pages through the round index.
func listBidIDsByRound(r reader, round uint64, page PageRequest) ([]uint64, error) {
	return collectIDs(r, roundBidsPrefix(round), page)
}

// listBidIDsByUser returns every bid id the bidder placed in the round, in
// ascending order.
func listBidIDsByUser(r reader, round uint64, bidder crypto.Address) ([]uint64, error) {
	var ids []uint64
	err := r.kv.KVScan(userBidsPrefix(round, bidder), nil, false, func(suffix []byte) (bool, error) {
		id, ok := decodeID(suffix)
		if !ok {
			return false, fmt.Errorf("bidpool: malformed index key %x", suffix)
		}
		ids = append(ids, id)
		return true, nil
	})
	return ids, err
}
