package storage

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/single-instruction/Sequencer-zkvm/pkg/engine"
)

// Memory is an in-process Store used by tests and local development. Begin
// copies the open state so the build sees a stable snapshot while ingress
// keeps appending; writes stage inside the snapshot and land atomically on
// Commit.
type Memory struct {
	mu sync.Mutex

	markets  []engine.MarketParams
	orders   map[uint64]*engine.Order
	owners   map[uint64]engine.PkHash
	fills    []engine.FillDraft
	links    map[uint64][][2]uint64 // block -> (pair, match)
	headers  map[uint64]engine.BlockHeader
	counters map[engine.PairID]uint64

	nextOrderID uint64

	// FailNextInsertFills injects a one-shot storage fault into the next
	// snapshot InsertFills call.
	FailNextInsertFills error
}

// NewMemory returns an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		orders:      make(map[uint64]*engine.Order),
		owners:      make(map[uint64]engine.PkHash),
		links:       make(map[uint64][][2]uint64),
		headers:     make(map[uint64]engine.BlockHeader),
		counters:    make(map[engine.PairID]uint64),
		nextOrderID: 1,
	}
}

// AddMarket registers a market and its ingest counter.
func (m *Memory) AddMarket(p engine.MarketParams) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.markets = append(m.markets, p)
	sort.Slice(m.markets, func(i, j int) bool { return m.markets[i].PairID < m.markets[j].PairID })
	if _, ok := m.counters[p.PairID]; !ok {
		m.counters[p.PairID] = 0
	}
}

// DropOwner removes the private owner row for an order, leaving the snapshot
// inconsistent. Test hook for invariant-violation scenarios.
func (m *Memory) DropOwner(orderID uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.owners, orderID)
}

func (m *Memory) Close() error { return nil }

func (m *Memory) SubmitOrder(ctx context.Context, o NewOrder) (uint64, uint64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	seq, ok := m.counters[o.PairID]
	if !ok {
		return 0, 0, fmt.Errorf("pair %d: %w", o.PairID, ErrUnknownMarket)
	}
	m.counters[o.PairID] = seq + 1

	id := m.nextOrderID
	m.nextOrderID++

	m.orders[id] = &engine.Order{
		OrderID:    id,
		OrderHash:  o.OrderHash,
		PairID:     o.PairID,
		Side:       o.Side,
		PriceTick:  o.PriceTick,
		Amount:     o.Amount,
		Remaining:  o.Amount,
		TimeBucket: o.TimeBucket,
		Nonce:      o.Nonce,
		IngestSeq:  seq,
	}
	m.owners[id] = o.PkHash
	return id, seq, nil
}

func (m *Memory) PendingOrders(ctx context.Context) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for _, o := range m.orders {
		if o.IsOpen() {
			n++
		}
	}
	return n, nil
}

func (m *Memory) LatestBlockNumber(ctx context.Context) (uint64, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var max uint64
	var ok bool
	for n := range m.headers {
		if !ok || n > max {
			max, ok = n, true
		}
	}
	return max, ok, nil
}

func (m *Memory) BatchHeader(ctx context.Context, blockNumber uint64) (engine.BlockHeader, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	h, ok := m.headers[blockNumber]
	if !ok {
		return engine.BlockHeader{}, fmt.Errorf("block %d: %w", blockNumber, ErrNotFound)
	}
	return h, nil
}

func (m *Memory) ActiveMarkets(ctx context.Context) ([]engine.MarketParams, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.activeMarketsLocked(), nil
}

func (m *Memory) activeMarketsLocked() []engine.MarketParams {
	out := make([]engine.MarketParams, 0, len(m.markets))
	for _, mk := range m.markets {
		if mk.Status != engine.Delisted {
			out = append(out, mk)
		}
	}
	return out
}

func (m *Memory) TopOfBook(ctx context.Context, pair engine.PairID) (TopOfBook, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	agg := make(map[engine.Side]map[uint64]uint64)
	agg[engine.Bid] = make(map[uint64]uint64)
	agg[engine.Ask] = make(map[uint64]uint64)
	for _, o := range m.orders {
		if o.PairID != pair || o.Remaining == 0 {
			continue
		}
		agg[o.Side][o.PriceTick] += o.Remaining
	}

	var tob TopOfBook
	for px, qty := range agg[engine.Bid] {
		if tob.BestBid == nil || px > tob.BestBid.PriceTick {
			tob.BestBid = &Level{PriceTick: px, Qty: qty}
		}
	}
	for px, qty := range agg[engine.Ask] {
		if tob.BestAsk == nil || px < tob.BestAsk.PriceTick {
			tob.BestAsk = &Level{PriceTick: px, Qty: qty}
		}
	}
	return tob, nil
}

func (m *Memory) Fills(ctx context.Context, f FillFilter) ([]FillRow, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	limit := f.Limit
	if limit <= 0 {
		limit = 200
	}
	if limit > 1000 {
		limit = 1000
	}

	matched := make([]engine.FillDraft, 0, len(m.fills))
	for i := range m.fills {
		fl := m.fills[i]
		if f.PairID != nil && fl.PairID != *f.PairID {
			continue
		}
		if f.BatchID != nil && fl.BatchID != *f.BatchID {
			continue
		}
		matched = append(matched, fl)
	}
	sort.Slice(matched, func(i, j int) bool {
		if matched[i].BatchID != matched[j].BatchID {
			return matched[i].BatchID > matched[j].BatchID
		}
		if matched[i].PairID != matched[j].PairID {
			return matched[i].PairID < matched[j].PairID
		}
		return matched[i].MatchID < matched[j].MatchID
	})
	if len(matched) > limit {
		matched = matched[:limit]
	}

	out := make([]FillRow, 0, len(matched))
	for _, fl := range matched {
		out = append(out, FillRow{
			BatchID:    fl.BatchID,
			MatchID:    fl.MatchID,
			PairID:     fl.PairID,
			PriceTick:  fl.PriceTick,
			FillQty:    fl.FillQty,
			TimeBucket: fl.TimeBucket,
			BuyerPID:   fl.BuyerPID,
			SellerPID:  fl.SellerPID,
		})
	}
	return out, nil
}

// Begin snapshots the open state. The copy gives the build repeatable reads;
// concurrent submissions only become visible to the next batch.
func (m *Memory) Begin(ctx context.Context) (Snapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	orders := make([]engine.Order, 0, len(m.orders))
	for _, o := range m.orders {
		if o.Remaining > 0 {
			orders = append(orders, *o)
		}
	}
	sort.Slice(orders, func(i, j int) bool {
		a, b := orders[i], orders[j]
		if a.PairID != b.PairID {
			return a.PairID < b.PairID
		}
		if a.Side != b.Side {
			return a.Side < b.Side
		}
		if a.PriceTick != b.PriceTick {
			return a.PriceTick < b.PriceTick
		}
		return a.IngestSeq < b.IngestSeq
	})

	owners := make(map[uint64]engine.PkHash, len(m.owners))
	for k, v := range m.owners {
		owners[k] = v
	}

	return &memSnapshot{
		store:   m,
		markets: m.activeMarketsLocked(),
		orders:  orders,
		owners:  owners,
	}, nil
}

type memSnapshot struct {
	store   *Memory
	markets []engine.MarketParams
	orders  []engine.Order
	owners  map[uint64]engine.PkHash

	stagedFills     []engine.FillDraft
	stagedResiduals []engine.OrderResidual
	stagedHeader    *engine.BlockHeader
	stagedLinks     map[uint64][][2]uint64
	done            bool
}

func (s *memSnapshot) LoadActiveMarkets(ctx context.Context) ([]engine.MarketParams, error) {
	return s.markets, nil
}

func (s *memSnapshot) LoadOpenOrders(ctx context.Context) ([]engine.Order, error) {
	return s.orders, nil
}

func (s *memSnapshot) LoadOwnerMap(ctx context.Context, orders []engine.Order) (map[uint64]engine.PkHash, error) {
	out := make(map[uint64]engine.PkHash, len(orders))
	for i := range orders {
		if pk, ok := s.owners[orders[i].OrderID]; ok {
			out[orders[i].OrderID] = pk
		}
	}
	return out, nil
}

func (s *memSnapshot) InsertFills(ctx context.Context, fills []engine.FillDraft) error {
	s.store.mu.Lock()
	fail := s.store.FailNextInsertFills
	s.store.FailNextInsertFills = nil
	s.store.mu.Unlock()
	if fail != nil {
		return fail
	}
	s.stagedFills = append(s.stagedFills, fills...)
	return nil
}

func (s *memSnapshot) ApplyResiduals(ctx context.Context, residuals []engine.OrderResidual) error {
	s.stagedResiduals = append(s.stagedResiduals, residuals...)
	return nil
}

func (s *memSnapshot) InsertBatchHeader(ctx context.Context, h *engine.BlockHeader) error {
	cp := *h
	s.stagedHeader = &cp
	return nil
}

func (s *memSnapshot) LinkFillsToBatch(ctx context.Context, blockNumber uint64, fills []engine.FillDraft) error {
	if s.stagedLinks == nil {
		s.stagedLinks = make(map[uint64][][2]uint64)
	}
	for i := range fills {
		s.stagedLinks[blockNumber] = append(s.stagedLinks[blockNumber],
			[2]uint64{uint64(fills[i].PairID), fills[i].MatchID})
	}
	return nil
}

func (s *memSnapshot) Commit() error {
	if s.done {
		return fmt.Errorf("snapshot already finished")
	}
	s.done = true

	m := s.store
	m.mu.Lock()
	defer m.mu.Unlock()

	m.fills = append(m.fills, s.stagedFills...)
	for _, r := range s.stagedResiduals {
		if o, ok := m.orders[r.OrderID]; ok {
			o.Remaining = r.RemainingAfter
		}
	}
	if s.stagedHeader != nil {
		m.headers[s.stagedHeader.BlockNumber] = *s.stagedHeader
	}
	for n, links := range s.stagedLinks {
		m.links[n] = append(m.links[n], links...)
	}
	return nil
}

func (s *memSnapshot) Rollback() error {
	s.done = true
	return nil
}

var _ Store = (*Memory)(nil)
