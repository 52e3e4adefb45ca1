package engine

import (
	"github.com/holiman/uint256"
)

// PairID identifies a market.
type PairID uint32

// Side of an order. The numeric values are part of the wire contract:
// Bid encodes as 0, Ask as 1.
type Side uint8

const (
	Bid Side = 0
	Ask Side = 1
)

func (s Side) String() string {
	switch s {
	case Bid:
		return "Bid"
	case Ask:
		return "Ask"
	default:
		return "Unknown"
	}
}

// MarketStatus defines the trading status of a market. Delisted markets are
// excluded from block snapshots; the other three participate.
type MarketStatus uint16

const (
	Active MarketStatus = iota
	Paused
	CancelOnly
	Delisted
)

func (ms MarketStatus) String() string {
	switch ms {
	case Active:
		return "Active"
	case Paused:
		return "Paused"
	case CancelOnly:
		return "CancelOnly"
	case Delisted:
		return "Delisted"
	default:
		return "Unknown"
	}
}

// MarketParams holds the per-market trading parameters. Immutable within a
// single block build.
type MarketParams struct {
	PairID      PairID
	PriceTick   uint64       // min price increment
	SizeStep    uint64       // min size increment
	NotionalMin *uint256.Int // price * size bounds, fit in 128 bits
	NotionalMax *uint256.Int
	MakerBps    uint16
	TakerBps    uint16
	Status      MarketStatus
}

// PkHash is the private owner identity digest. It never leaves the trusted
// path except through PID derivation.
type PkHash [32]byte

// Order is an open limit order as seen by the matcher. OrderHash is an opaque
// authentication digest produced upstream; IngestSeq is the strictly
// monotonic per-pair arrival counter and the sole tie-breaker at equal price.
type Order struct {
	OrderID    uint64
	OrderHash  [32]byte
	PairID     PairID
	Side       Side
	PriceTick  uint64
	Amount     uint64
	Remaining  uint64
	TimeBucket uint32
	Nonce      uint64
	IngestSeq  uint64
}

// IsOpen reports whether the order still has unmatched quantity.
func (o *Order) IsOpen() bool { return o.Remaining > 0 }

// FillDraft is a single match produced by the engine. PriceTick is the
// resting ask's price at the time of match; FeeBps is the market's taker rate
// at snapshot; MatchID starts at 1 and is strictly increasing per matcher
// invocation.
type FillDraft struct {
	BatchID    uint64
	MatchID    uint64
	PairID     PairID
	PriceTick  uint64
	FillQty    uint64
	TimeBucket uint32

	BuyerOrderID  uint64
	SellerOrderID uint64

	BuyerOrderHash  [32]byte
	SellerOrderHash [32]byte

	BuyerPID  [32]byte
	SellerPID [32]byte

	FeeBps   uint16
	FillSalt *[32]byte
}

// OrderResidual records the net effect of a batch on one order. If an order
// is hit several times, RemainingBefore reflects the state at batch entry and
// RemainingAfter the final state.
type OrderResidual struct {
	OrderID         uint64
	RemainingBefore uint64
	RemainingAfter  uint64
	NowFilled       bool
}

// OrderKey is the heap ordering key. Bids rank higher price first, asks lower
// price first; ties on either side break toward the lower IngestSeq.
type OrderKey struct {
	Side      Side
	PriceTick uint64
	IngestSeq uint64
}

// Before reports whether a outranks b on the same side.
func (a OrderKey) Before(b OrderKey) bool {
	if a.PriceTick != b.PriceTick {
		if a.Side == Bid {
			return a.PriceTick > b.PriceTick
		}
		return a.PriceTick < b.PriceTick
	}
	return a.IngestSeq < b.IngestSeq
}

// BlockHeader is the batch header persisted with every block. NewStateRoot is
// written as all-zeros here and overwritten later by the proving subsystem.
type BlockHeader struct {
	BlockNumber      uint64
	BatchID          uint64
	ParentStateRoot  [32]byte
	NewStateRoot     [32]byte
	MarketsRoot      [32]byte
	OrdersCommitment [32]byte
	FillsCommitment  [32]byte
	TimestampMS      uint64
}

// Block is the in-memory artifact the block builder returns.
type Block struct {
	Header         BlockHeader
	MarketsUsed    []MarketParams
	OrdersSnapshot []Order
	Fills          []FillDraft
}
