package sequencer

import (
	"testing"
	"time"

	"github.com/single-instruction/Sequencer-zkvm/pkg/engine"
)

func TestPIDCacheRecordsBothSides(t *testing.T) {
	c := NewPIDCache(time.Minute)

	var buyer, seller [32]byte
	buyer[0], seller[0] = 0x01, 0x02
	block := &engine.Block{
		Header: engine.BlockHeader{BlockNumber: 5},
		Fills: []engine.FillDraft{{
			BatchID:       5,
			MatchID:       1,
			PairID:        2,
			BuyerOrderID:  10,
			SellerOrderID: 11,
			BuyerPID:      buyer,
			SellerPID:     seller,
		}},
	}
	c.Record(block)

	ref, ok := c.Lookup(buyer)
	if !ok {
		t.Fatal("buyer pid not indexed")
	}
	if ref.BlockNumber != 5 || ref.PairID != 2 || ref.MatchID != 1 || ref.BuyerOrderID != 10 {
		t.Errorf("ref = %+v", ref)
	}
	if _, ok := c.Lookup(seller); !ok {
		t.Error("seller pid not indexed")
	}

	var unknown [32]byte
	unknown[0] = 0xFF
	if _, ok := c.Lookup(unknown); ok {
		t.Error("unknown pid resolved")
	}
}

func TestPIDCacheExpires(t *testing.T) {
	c := NewPIDCache(10 * time.Millisecond)
	var pid [32]byte
	pid[0] = 0x07
	c.Record(&engine.Block{Fills: []engine.FillDraft{{BuyerPID: pid}}})

	time.Sleep(30 * time.Millisecond)
	if _, ok := c.Lookup(pid); ok {
		t.Error("pid survived past the ttl")
	}
}
