package engine

import (
	"testing"
)

func mkOrder(id uint64, side Side, px, amt, rem, seq uint64, tb uint32) Order {
	var h [32]byte
	h[31] = byte(id)
	return Order{
		OrderID:    id,
		OrderHash:  h,
		PairID:     1,
		Side:       side,
		PriceTick:  px,
		Amount:     amt,
		Remaining:  rem,
		TimeBucket: tb,
		Nonce:      id,
		IngestSeq:  seq,
	}
}

func TestBookFiltersClosedOrders(t *testing.T) {
	b := NewBook([]Order{
		mkOrder(1, Bid, 100, 10, 0, 1, 0), // fully consumed, must not enter
		mkOrder(2, Bid, 99, 10, 10, 2, 0),
	})

	idx, ok := b.BestBidIdx()
	if !ok {
		t.Fatal("expected a bid")
	}
	if got := b.Orders[idx].OrderID; got != 2 {
		t.Errorf("best bid = order %d, want 2", got)
	}
	if _, ok := b.BestAskIdx(); ok {
		t.Error("expected no asks")
	}
}

func TestBookPriceThenFIFOOrdering(t *testing.T) {
	tests := []struct {
		name   string
		orders []Order
		side   Side
		want   uint64 // expected order id on top
	}{
		{
			name: "bids prefer higher price",
			orders: []Order{
				mkOrder(1, Bid, 100, 5, 5, 10, 0),
				mkOrder(2, Bid, 105, 5, 5, 11, 0),
			},
			side: Bid,
			want: 2,
		},
		{
			name: "asks prefer lower price",
			orders: []Order{
				mkOrder(1, Ask, 100, 5, 5, 10, 0),
				mkOrder(2, Ask, 95, 5, 5, 11, 0),
			},
			side: Ask,
			want: 2,
		},
		{
			name: "equal price breaks ties by earlier ingest_seq (bids)",
			orders: []Order{
				mkOrder(1, Bid, 100, 5, 5, 11, 0),
				mkOrder(2, Bid, 100, 5, 5, 10, 0),
			},
			side: Bid,
			want: 2,
		},
		{
			name: "equal price breaks ties by earlier ingest_seq (asks)",
			orders: []Order{
				mkOrder(1, Ask, 100, 5, 5, 12, 0),
				mkOrder(2, Ask, 100, 5, 5, 11, 0),
			},
			side: Ask,
			want: 2,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := NewBook(tt.orders)
			var idx int
			var ok bool
			if tt.side == Bid {
				idx, ok = b.BestBidIdx()
			} else {
				idx, ok = b.BestAskIdx()
			}
			if !ok {
				t.Fatal("expected a top order")
			}
			if got := b.Orders[idx].OrderID; got != tt.want {
				t.Errorf("top = order %d, want %d", got, tt.want)
			}
		})
	}
}

func TestOnFillEvictsExhaustedTops(t *testing.T) {
	b := NewBook([]Order{
		mkOrder(1, Ask, 100, 3, 3, 10, 0),
		mkOrder(2, Ask, 100, 5, 5, 11, 0),
	})

	idx, _ := b.BestAskIdx()
	b.Orders[idx].Remaining = 0
	b.OnFill(Ask)

	idx, ok := b.BestAskIdx()
	if !ok {
		t.Fatal("expected next ask uncovered")
	}
	if got := b.Orders[idx].OrderID; got != 2 {
		t.Errorf("top after eviction = order %d, want 2", got)
	}

	// Consuming the second one empties the side.
	b.Orders[idx].Remaining = 0
	b.OnFill(Ask)
	if _, ok := b.BestAskIdx(); ok {
		t.Error("expected empty ask side")
	}
}
