// Package commit implements the canonical leaf encoding and the
// domain-separated commitment accumulators. The off-line verifier re-runs
// this encoder, so field order and integer widths are part of the wire
// contract: any divergence silently forks the state roots.
package commit

import (
	"encoding/binary"

	"github.com/holiman/uint256"

	"github.com/single-instruction/Sequencer-zkvm/pkg/engine"
)

func le16(v []byte, x uint16) []byte {
	var b [2]byte
	binary.LittleEndian.PutUint16(b[:], x)
	return append(v, b[:]...)
}

func le32(v []byte, x uint32) []byte {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], x)
	return append(v, b[:]...)
}

func le64(v []byte, x uint64) []byte {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], x)
	return append(v, b[:]...)
}

// le128 appends the low 128 bits little-endian. Notional bounds are
// range-checked at load time, so the high limbs are zero.
func le128(v []byte, x *uint256.Int) []byte {
	var b [16]byte
	binary.LittleEndian.PutUint64(b[0:8], x[0])
	binary.LittleEndian.PutUint64(b[8:16], x[1])
	return append(v, b[:]...)
}

// EncodeOrder emits the canonical order leaf:
// order_id(8) order_hash(32) pair_id(8) side(8) price_tick(8) amount(8)
// remaining(8) time_bucket(4) nonce(8) ingest_seq(8).
func EncodeOrder(o *engine.Order) []byte {
	v := make([]byte, 0, 8*8+4+32)
	v = le64(v, o.OrderID)
	v = append(v, o.OrderHash[:]...)
	v = le64(v, uint64(o.PairID))
	v = le64(v, uint64(o.Side))
	v = le64(v, o.PriceTick)
	v = le64(v, o.Amount)
	v = le64(v, o.Remaining)
	v = le32(v, o.TimeBucket)
	v = le64(v, o.Nonce)
	v = le64(v, o.IngestSeq)
	return v
}

// EncodeFill emits the canonical fill leaf. The salt is appended only when
// present; its presence is uniform across a batch.
func EncodeFill(f *engine.FillDraft) []byte {
	v := make([]byte, 0, 8*7+4+2+32*7)
	v = le64(v, f.BatchID)
	v = le64(v, f.MatchID)
	v = le64(v, uint64(f.PairID))
	v = le64(v, f.PriceTick)
	v = le64(v, f.FillQty)
	v = le32(v, f.TimeBucket)
	v = le64(v, f.BuyerOrderID)
	v = le64(v, f.SellerOrderID)
	v = append(v, f.BuyerOrderHash[:]...)
	v = append(v, f.SellerOrderHash[:]...)
	v = append(v, f.BuyerPID[:]...)
	v = append(v, f.SellerPID[:]...)
	v = le16(v, f.FeeBps)
	if f.FillSalt != nil {
		v = append(v, f.FillSalt[:]...)
	}
	return v
}

// EncodeMarket emits the canonical market leaf.
func EncodeMarket(m *engine.MarketParams) []byte {
	v := make([]byte, 0, 8*3+16*2+2*3)
	v = le64(v, uint64(m.PairID))
	v = le64(v, m.PriceTick)
	v = le64(v, m.SizeStep)
	v = le128(v, m.NotionalMin)
	v = le128(v, m.NotionalMax)
	v = le16(v, m.MakerBps)
	v = le16(v, m.TakerBps)
	v = le16(v, uint16(m.Status))
	return v
}
