package engine

import (
	"errors"
	"fmt"
	"sort"
)

var (
	// ErrMissingOwner means the owner map did not cover an order in the
	// snapshot. The snapshot is inconsistent; the block build must abort.
	ErrMissingOwner = errors.New("missing pk_hash for order")

	// ErrPairMismatch means the market handed to the matcher does not belong
	// to the pair being matched.
	ErrPairMismatch = errors.New("market/pair mismatch")
)

// SaltFunc produces the per-fill salt for (batch_id, match_id).
type SaltFunc func(batchID, matchID uint64) [32]byte

// ExecutionPlan is the result of matching one market within a batch.
// Residuals are sorted by order id.
type ExecutionPlan struct {
	PairID    PairID
	BatchID   uint64
	Fills     []FillDraft
	Residuals []OrderResidual
}

// MatchMarket runs the price-time continuous cross for a single market.
// MatchID numbering restarts at 1 on every call; fills carry the resting
// ask's price and the market's taker fee at snapshot.
func MatchMarket(
	pairID PairID,
	batchID uint64,
	market MarketParams,
	orders []Order,
	owners map[uint64]PkHash,
	hasher Hasher32,
	useFillSalt bool,
	saltFn SaltFunc,
) (ExecutionPlan, error) {
	if market.PairID != pairID {
		return ExecutionPlan{}, fmt.Errorf("pair %d: %w", pairID, ErrPairMismatch)
	}

	book := NewBook(orders)
	var fills []FillDraft
	residuals := make(map[uint64]*OrderResidual)
	var matchSeq uint64
	takerFee := market.TakerBps

	for {
		bi, okB := book.BestBidIdx()
		ai, okA := book.BestAskIdx()
		if !okB || !okA {
			break
		}
		bid := &book.Orders[bi]
		ask := &book.Orders[ai]
		if bid.PriceTick < ask.PriceTick {
			break
		}

		qty := bid.Remaining
		if ask.Remaining < qty {
			qty = ask.Remaining
		}
		price := ask.PriceTick // maker = resting ask

		matchSeq++
		matchID := matchSeq

		bBefore, aBefore := bid.Remaining, ask.Remaining
		bid.Remaining = bBefore - qty
		ask.Remaining = aBefore - qty

		buyerPk, ok := owners[bid.OrderID]
		if !ok {
			return ExecutionPlan{}, fmt.Errorf("buyer order %d: %w", bid.OrderID, ErrMissingOwner)
		}
		sellerPk, ok := owners[ask.OrderID]
		if !ok {
			return ExecutionPlan{}, fmt.Errorf("seller order %d: %w", ask.OrderID, ErrMissingOwner)
		}

		var salt *[32]byte
		if useFillSalt {
			s := saltFn(batchID, matchID)
			salt = &s
		}

		tb := bid.TimeBucket
		if ask.TimeBucket > tb {
			tb = ask.TimeBucket
		}

		fills = append(fills, FillDraft{
			BatchID:         batchID,
			MatchID:         matchID,
			PairID:          pairID,
			PriceTick:       price,
			FillQty:         qty,
			TimeBucket:      tb,
			BuyerOrderID:    bid.OrderID,
			SellerOrderID:   ask.OrderID,
			BuyerOrderHash:  bid.OrderHash,
			SellerOrderHash: ask.OrderHash,
			BuyerPID:        DerivePID(hasher, buyerPk, batchID, matchID, salt),
			SellerPID:       DerivePID(hasher, sellerPk, batchID, matchID, salt),
			FeeBps:          takerFee,
			FillSalt:        salt,
		})

		upsertResidual(residuals, bid.OrderID, bBefore, bid.Remaining)
		upsertResidual(residuals, ask.OrderID, aBefore, ask.Remaining)

		book.OnFill(Bid)
		book.OnFill(Ask)
	}

	out := make([]OrderResidual, 0, len(residuals))
	for _, r := range residuals {
		out = append(out, *r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].OrderID < out[j].OrderID })

	return ExecutionPlan{PairID: pairID, BatchID: batchID, Fills: fills, Residuals: out}, nil
}

// upsertResidual records RemainingBefore on first touch only; subsequent
// touches just advance RemainingAfter.
func upsertResidual(m map[uint64]*OrderResidual, orderID, before, after uint64) {
	if r, ok := m[orderID]; ok {
		r.RemainingAfter = after
		r.NowFilled = after == 0
		return
	}
	m[orderID] = &OrderResidual{
		OrderID:         orderID,
		RemainingBefore: before,
		RemainingAfter:  after,
		NowFilled:       after == 0,
	}
}
