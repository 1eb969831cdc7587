package bidpool

import (
	"encoding/binary"

	"coharvest/crypto"
)

var (
	keyConfig       = []byte("bidpool/config")
	prefixConfigVer = []byte("bidpool/config-version/")
	keyLastRound    = []byte("bidpool/round-seq")
	keyNextBid      = []byte("bidpool/bid-seq")
	prefixRound     = []byte("bidpool/round/")
	prefixDist      = []byte("bidpool/distribution/")
	prefixPool      = []byte("bidpool/pool/")
	prefixBid       = []byte("bidpool/bid/")
	prefixRoundBids = []byte("bidpool/index/round/")
	prefixUserBids  = []byte("bidpool/index/user/")
	prefixOutbox    = []byte("bidpool/outbox/")
)

func be64(v uint64) []byte {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], v)
	return buf[:]
}

func concat(parts ...[]byte) []byte {
	size := 0
	for _, p := range parts {
		size += len(p)
	}
	out := make([]byte, 0, size)
	for _, p := range parts {
		out = append(out, p...)
	}
	return out
}

func configVersionKey(version uint64) []byte { return concat(prefixConfigVer, be64(version)) }

func roundKey(round uint64) []byte        { return concat(prefixRound, be64(round)) }
func distributionKey(round uint64) []byte { return concat(prefixDist, be64(round)) }
func poolPrefix(round uint64) []byte      { return concat(prefixPool, be64(round)) }
func poolKey(round uint64, slot uint8) []byte {
	return concat(poolPrefix(round), []byte{slot})
}
func bidKey(id uint64) []byte { return concat(prefixBid, be64(id)) }

func roundBidsPrefix(round uint64) []byte { return concat(prefixRoundBids, be64(round)) }
func roundBidKey(round, id uint64) []byte { return concat(roundBidsPrefix(round), be64(id)) }

func userBidsPrefix(round uint64, bidder crypto.Address) []byte {
	return concat(prefixUserBids, be64(round), []byte(bidder.String()), []byte{'/'})
}
func userBidKey(round uint64, bidder crypto.Address, id uint64) []byte {
	return concat(userBidsPrefix(round, bidder), be64(id))
}

func decodeID(suffix []byte) (uint64, bool) {
	if len(suffix) != 8 {
		return 0, false
	}
	return binary.BigEndian.Uint64(suffix), true
}
