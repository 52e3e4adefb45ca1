package commit

import (
	"github.com/single-instruction/Sequencer-zkvm/pkg/engine"
)

// The accumulators are a pure left fold, not a Merkle tree:
//
//	acc0 = 0^32
//	acc_i = H2(ACC_TAG, acc_{i-1}, HBytes(LEAF_TAG, encode(elem_i)))
//
// Input order is part of the wire contract: orders come in snapshot order
// (pair, side, price, ingest_seq ascending), fills in production order,
// markets ascending by pair.

// Orders folds the canonical order leaves.
func Orders(h Hasher, orders []engine.Order) [32]byte {
	var acc [32]byte
	for i := range orders {
		leaf := h.HBytes(DomainOrderLeaf, EncodeOrder(&orders[i]))
		acc = h.H2(DomainOrdersAcc, acc, leaf)
	}
	return acc
}

// Fills folds the canonical fill leaves.
func Fills(h Hasher, fills []engine.FillDraft) [32]byte {
	var acc [32]byte
	for i := range fills {
		leaf := h.HBytes(DomainFillLeaf, EncodeFill(&fills[i]))
		acc = h.H2(DomainFillsAcc, acc, leaf)
	}
	return acc
}

// Markets folds the canonical market leaves.
func Markets(h Hasher, markets []engine.MarketParams) [32]byte {
	var acc [32]byte
	for i := range markets {
		leaf := h.HBytes(DomainMarketLeaf, EncodeMarket(&markets[i]))
		acc = h.H2(DomainMarketsAcc, acc, leaf)
	}
	return acc
}
