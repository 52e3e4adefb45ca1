// Package storage persists the sequencing state: markets, orders, private
// owner mappings, fills, and batch headers. The batch builder consumes the
// Snapshot contract; ingress and the read surfaces use the Store directly.
package storage

import (
	"context"
	"errors"

	"github.com/single-instruction/Sequencer-zkvm/pkg/engine"
)

// ErrNotFound marks lookups for rows that do not exist.
var ErrNotFound = errors.New("not found")

// ErrUnknownMarket is returned on order submission for a pair without a
// counter row.
var ErrUnknownMarket = errors.New("unknown market")

// NewOrder is a validated order submission. Ingress assigns order_id and
// ingest_seq atomically and writes orders and order_owners_private in one
// transaction.
type NewOrder struct {
	PairID     engine.PairID
	Side       engine.Side
	PriceTick  uint64
	Amount     uint64
	TimeBucket uint32
	Nonce      uint64
	OrderHash  [32]byte
	PkHash     engine.PkHash
}

// Level is one aggregated price level.
type Level struct {
	PriceTick uint64 `json:"price_tick"`
	Qty       uint64 `json:"qty"`
}

// TopOfBook is the best bid and ask for a pair, aggregated from live open
// orders.
type TopOfBook struct {
	BestBid *Level `json:"best_bid"`
	BestAsk *Level `json:"best_ask"`
}

// FillFilter narrows a fills page. Limit defaults to 200, capped at 1000.
type FillFilter struct {
	PairID  *engine.PairID
	BatchID *uint64
	Limit   int
}

// FillRow is the public projection of a persisted fill. Order hashes and
// salts stay in the fills table; they are not part of the read surface.
type FillRow struct {
	BatchID    uint64
	MatchID    uint64
	PairID     engine.PairID
	PriceTick  uint64
	FillQty    uint64
	TimeBucket uint32
	BuyerPID   [32]byte
	SellerPID  [32]byte
}

// Store is the transactional store contract.
type Store interface {
	// Begin opens a repeatable-read snapshot for one block build.
	Begin(ctx context.Context) (Snapshot, error)

	// SubmitOrder allocates (order_id, ingest_seq) and inserts the order and
	// its private owner row in one short transaction.
	SubmitOrder(ctx context.Context, o NewOrder) (orderID, ingestSeq uint64, err error)

	// PendingOrders counts open orders awaiting the next batch.
	PendingOrders(ctx context.Context) (int64, error)

	// LatestBlockNumber returns the highest persisted block number; ok is
	// false when no batch has ever been committed.
	LatestBlockNumber(ctx context.Context) (n uint64, ok bool, err error)

	// BatchHeader loads a persisted header by block number.
	BatchHeader(ctx context.Context, blockNumber uint64) (engine.BlockHeader, error)

	// ActiveMarkets lists markets with status Active, Paused, or CancelOnly,
	// ascending by pair.
	ActiveMarkets(ctx context.Context) ([]engine.MarketParams, error)

	// TopOfBook aggregates live open orders for one pair.
	TopOfBook(ctx context.Context, pair engine.PairID) (TopOfBook, error)

	// Fills returns a page of persisted fills, newest batch first, then
	// pair_id ascending and match_id ascending within a pair.
	Fills(ctx context.Context, f FillFilter) ([]FillRow, error)

	Close() error
}

// Snapshot is one repeatable-read transaction driving a block build. All
// writes land atomically on Commit; any failure rolls the whole build back.
type Snapshot interface {
	LoadActiveMarkets(ctx context.Context) ([]engine.MarketParams, error)

	// LoadOpenOrders returns remaining>0 orders sorted by
	// (pair_id, side, price_tick, ingest_seq) ascending. The sort order is
	// part of the orders-commitment wire contract.
	LoadOpenOrders(ctx context.Context) ([]engine.Order, error)

	// LoadOwnerMap resolves pk_hash for exactly the given orders.
	LoadOwnerMap(ctx context.Context, orders []engine.Order) (map[uint64]engine.PkHash, error)

	InsertFills(ctx context.Context, fills []engine.FillDraft) error
	ApplyResiduals(ctx context.Context, residuals []engine.OrderResidual) error
	InsertBatchHeader(ctx context.Context, h *engine.BlockHeader) error
	LinkFillsToBatch(ctx context.Context, blockNumber uint64, fills []engine.FillDraft) error

	Commit() error
	Rollback() error
}
