package sequencer

import (
	"context"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/single-instruction/Sequencer-zkvm/pkg/engine"
	"github.com/single-instruction/Sequencer-zkvm/pkg/storage"
)

func TestLoopBuildsAndPublishes(t *testing.T) {
	m := seedCrossedStore(t)
	events := NewEvents()
	headers := events.SubscribeHeaders()
	fills := events.SubscribeFills()

	pids := NewPIDCache(time.Minute)
	loop := NewLoop(m, newTestBuilder(m), events, nil, pids, zap.NewNop(), LoopConfig{
		Tick: 5 * time.Millisecond,
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		loop.Run(ctx)
	}()

	var header engine.BlockHeader
	select {
	case header = <-headers:
	case <-time.After(2 * time.Second):
		t.Fatal("no block published")
	}
	if header.BlockNumber != 1 || header.BatchID != 1 {
		t.Errorf("first block = (%d,%d), want (1,1)", header.BlockNumber, header.BatchID)
	}

	// Fills for the block arrive before cancellation, in commitment order.
	var got []engine.FillDraft
	deadline := time.After(2 * time.Second)
	for len(got) < 2 {
		select {
		case f := <-fills:
			got = append(got, f)
		case <-deadline:
			t.Fatalf("only %d fills published", len(got))
		}
	}
	if got[0].PairID > got[1].PairID {
		t.Error("fills published out of pair order")
	}

	// PIDs of the finalized block are resolvable on the trusted path.
	if _, ok := pids.Lookup(got[0].BuyerPID); !ok {
		t.Error("finalized pid missing from cache")
	}

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("loop did not stop on cancellation")
	}

	// The committed block survives; the counter advanced past it.
	if _, err := m.BatchHeader(context.Background(), 1); err != nil {
		t.Errorf("block 1 not persisted: %v", err)
	}
}

func TestLoopIdlesWithoutPendingOrders(t *testing.T) {
	m := storage.NewMemory()
	m.AddMarket(testMarket(1, engine.Active))

	events := NewEvents()
	headers := events.SubscribeHeaders()
	loop := NewLoop(m, newTestBuilder(m), events, nil, nil, zap.NewNop(), LoopConfig{
		Tick: 5 * time.Millisecond,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Millisecond)
	defer cancel()
	loop.Run(ctx)

	if len(headers) != 0 {
		t.Errorf("published %d blocks with no pending orders", len(headers))
	}
	if _, ok, _ := m.LatestBlockNumber(context.Background()); ok {
		t.Error("persisted a block with no pending orders")
	}
}

func TestLoopRecoversNextBlockNumber(t *testing.T) {
	m := seedCrossedStore(t)
	builder := newTestBuilder(m)

	// Block 1 committed by a previous process lifetime.
	if _, err := builder.BuildBlock(context.Background(), 1, 1, [32]byte{}, 0, false, nil); err != nil {
		t.Fatal(err)
	}
	// New open orders for the next block.
	submit(t, m, 1, engine.Bid, 100, 3)
	submit(t, m, 1, engine.Ask, 99, 3)

	events := NewEvents()
	headers := events.SubscribeHeaders()
	loop := NewLoop(m, builder, events, nil, nil, zap.NewNop(), LoopConfig{
		Tick: 5 * time.Millisecond,
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go loop.Run(ctx)

	select {
	case h := <-headers:
		if h.BlockNumber != 2 {
			t.Errorf("resumed at block %d, want 2", h.BlockNumber)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no block published after recovery")
	}
}
