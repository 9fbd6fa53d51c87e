package exchange

import (
	"encoding/binary"

	"github.com/ethereum/go-ethereum/common/math"
)

// AuctionElementSize is the width of one encoded order record:
// owner (20), sell token balance (32), buy token (2), sell token (2),
// valid from (4), valid until (4), sell order flag (1), price
// numerator (16), price denominator (16), remaining amount (16).
const AuctionElementSize = 113

// EncodedAuctionElements renders every order of every user as a
// fixed-width binary record, concatenated in user insertion order and
// then order index order. Reclaimed orders appear as all-zero records
// rather than being omitted, so off-chain indexers can rely on stable
// positions.
func (ex *Exchange) EncodedAuctionElements() []byte {
	ex.mu.Lock()
	defer ex.mu.Unlock()

	st := ex.state
	epoch := st.CurrentEpoch()

	var out []byte
	for _, user := range st.users() {
		for _, order := range st.orders(user) {
			if order.reclaimed() {
				out = append(out, make([]byte, AuctionElementSize)...)
				continue
			}

			rec := st.balance(user, order.SellToken)
			rec.materialize(epoch)

			out = append(out, user[:]...)
			out = append(out, math.PaddedBigBytes(rec.Settled, 32)...)
			out = appendUint16(out, uint16(order.BuyToken))
			out = appendUint16(out, uint16(order.SellToken))
			out = appendUint32(out, order.ValidFrom)
			out = appendUint32(out, order.ValidUntil)
			if order.SellOrder {
				out = append(out, 1)
			} else {
				out = append(out, 0)
			}
			out = append(out, math.PaddedBigBytes(order.PriceNumerator, 16)...)
			out = append(out, math.PaddedBigBytes(order.PriceDenominator, 16)...)
			out = append(out, math.PaddedBigBytes(order.RemainingAmount, 16)...)
		}
	}
	return out
}

func appendUint16(b []byte, v uint16) []byte {
	var buf [2]byte
	binary.BigEndian.PutUint16(buf[:], v)
	return append(b, buf[:]...)
}

func appendUint32(b []byte, v uint32) []byte {
	var buf [4]byte
	binary.BigEndian.PutUint32(buf[:], v)
	return append(b, buf[:]...)
}
