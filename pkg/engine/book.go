package engine

import (
	"container/heap"
)

// bookItem references an order in the book's dense Orders slice. The key
// fields never change after insertion, so mutating Remaining through the
// index is safe while the item sits in a heap.
type bookItem struct {
	key OrderKey
	idx int
}

// sideHeap implements heap.Interface for one side of the book.
// Use the container/heap package to manipulate it (Init, Push, Pop).
type sideHeap struct {
	items []bookItem
}

func (h sideHeap) Len() int           { return len(h.items) }
func (h sideHeap) Less(i, j int) bool { return h.items[i].key.Before(h.items[j].key) }
func (h sideHeap) Swap(i, j int)      { h.items[i], h.items[j] = h.items[j], h.items[i] }

func (h *sideHeap) Push(x interface{}) {
	h.items = append(h.items, x.(bookItem))
}

func (h *sideHeap) Pop() interface{} {
	old := h.items
	n := len(old)
	x := old[n-1]
	h.items = old[:n-1]
	return x
}

// Book holds the two priority queues over a single dense order slice. Both
// heaps store indices into Orders so a match mutates Remaining in place while
// either heap still references the record.
type Book struct {
	bids   sideHeap
	asks   sideHeap
	Orders []Order
}

// NewBook builds a book from a snapshot, dropping orders with no remaining
// quantity.
func NewBook(orders []Order) *Book {
	open := make([]Order, 0, len(orders))
	for _, o := range orders {
		if o.Remaining > 0 {
			open = append(open, o)
		}
	}

	b := &Book{Orders: open}
	for idx, o := range open {
		item := bookItem{
			key: OrderKey{Side: o.Side, PriceTick: o.PriceTick, IngestSeq: o.IngestSeq},
			idx: idx,
		}
		switch o.Side {
		case Bid:
			b.bids.items = append(b.bids.items, item)
		case Ask:
			b.asks.items = append(b.asks.items, item)
		}
	}
	heap.Init(&b.bids)
	heap.Init(&b.asks)
	return b
}

// BestBidIdx returns the index of the best resting bid.
func (b *Book) BestBidIdx() (int, bool) {
	if b.bids.Len() == 0 {
		return 0, false
	}
	return b.bids.items[0].idx, true
}

// BestAskIdx returns the index of the best resting ask.
func (b *Book) BestAskIdx() (int, bool) {
	if b.asks.Len() == 0 {
		return 0, false
	}
	return b.asks.items[0].idx, true
}

// OnFill lazily evicts exhausted orders from the top of one side, uncovering
// the next viable resting order. An order may have been fully consumed by an
// earlier match in the same batch; it must not be left on top after a fill.
func (b *Book) OnFill(side Side) {
	h := &b.bids
	if side == Ask {
		h = &b.asks
	}
	for h.Len() > 0 {
		top := h.items[0]
		if b.Orders[top.idx].Remaining > 0 {
			break
		}
		heap.Pop(h)
	}
}
