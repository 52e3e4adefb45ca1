package sequencer

import (
	"context"
	"errors"
	"testing"

	"github.com/holiman/uint256"
	"go.uber.org/zap"

	"github.com/single-instruction/Sequencer-zkvm/pkg/commit"
	"github.com/single-instruction/Sequencer-zkvm/pkg/engine"
	"github.com/single-instruction/Sequencer-zkvm/pkg/storage"
)

func testMarket(pair engine.PairID, status engine.MarketStatus) engine.MarketParams {
	return engine.MarketParams{
		PairID:      pair,
		PriceTick:   1,
		SizeStep:    1,
		NotionalMin: uint256.NewInt(0),
		NotionalMax: uint256.NewInt(1_000_000_000),
		MakerBps:    2,
		TakerBps:    5,
		Status:      status,
	}
}

func submit(t *testing.T, m *storage.Memory, pair engine.PairID, side engine.Side, px, amt uint64) uint64 {
	t.Helper()
	var oh [32]byte
	var pk engine.PkHash
	oh[0] = byte(pair)
	id, _, err := m.SubmitOrder(context.Background(), storage.NewOrder{
		PairID:    pair,
		Side:      side,
		PriceTick: px,
		Amount:    amt,
		OrderHash: oh,
		PkHash:    pk,
	})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	return id
}

func newTestBuilder(m *storage.Memory) *Builder {
	h := commit.Blake2Hasher{}
	return NewBuilder(m, h, h, zap.NewNop())
}

func seedCrossedStore(t *testing.T) *storage.Memory {
	t.Helper()
	m := storage.NewMemory()
	m.AddMarket(testMarket(2, engine.Active))
	m.AddMarket(testMarket(1, engine.Active))
	m.AddMarket(testMarket(3, engine.Paused)) // no orders, still in markets_root

	// Pair 1 crosses, pair 2 crosses, pair 3 stays empty.
	submit(t, m, 1, engine.Bid, 100, 10)
	submit(t, m, 1, engine.Ask, 95, 7)
	submit(t, m, 2, engine.Bid, 50, 4)
	submit(t, m, 2, engine.Ask, 50, 4)
	return m
}

func TestBuildBlockMatchesPersistsAndCommits(t *testing.T) {
	m := seedCrossedStore(t)
	b := newTestBuilder(m)
	ctx := context.Background()

	var parent [32]byte
	parent[0] = 0xEE
	block, err := b.BuildBlock(ctx, 1, 1, parent, 1_700_000_000_000, false, nil)
	if err != nil {
		t.Fatalf("BuildBlock: %v", err)
	}

	if block.Header.ParentStateRoot != parent {
		t.Error("parent_state_root not propagated")
	}
	if block.Header.NewStateRoot != ([32]byte{}) {
		t.Error("new_state_root must start all-zeros")
	}
	if len(block.MarketsUsed) != 3 {
		t.Errorf("markets_used = %d, want 3 (paused market included)", len(block.MarketsUsed))
	}

	// Fills are produced ascending by pair; match_id restarts per market.
	if len(block.Fills) != 2 {
		t.Fatalf("fills = %d, want 2", len(block.Fills))
	}
	if block.Fills[0].PairID != 1 || block.Fills[1].PairID != 2 {
		t.Errorf("fill pair order = %d,%d, want 1,2", block.Fills[0].PairID, block.Fills[1].PairID)
	}
	if block.Fills[0].MatchID != 1 || block.Fills[1].MatchID != 1 {
		t.Errorf("match_ids = %d,%d, want 1,1 (per-market reset)", block.Fills[0].MatchID, block.Fills[1].MatchID)
	}
	if block.Fills[0].FeeBps != 5 {
		t.Errorf("fee_bps = %d, want taker rate 5", block.Fills[0].FeeBps)
	}

	// Residuals were applied: pair 1 ask fully consumed, bid partially.
	header, err := m.BatchHeader(ctx, 1)
	if err != nil {
		t.Fatalf("header not persisted: %v", err)
	}
	if header != block.Header {
		t.Error("persisted header differs from returned header")
	}
	pending, _ := m.PendingOrders(ctx)
	if pending != 1 {
		t.Errorf("open orders after build = %d, want 1 (partial bid on pair 1)", pending)
	}

	rows, err := m.Fills(ctx, storage.FillFilter{})
	if err != nil {
		t.Fatal(err)
	}
	if len(rows) != 2 {
		t.Errorf("persisted fills = %d, want 2", len(rows))
	}
}

func TestCommitmentRoundTrip(t *testing.T) {
	m := seedCrossedStore(t)
	b := newTestBuilder(m)
	h := commit.Blake2Hasher{}

	block, err := b.BuildBlock(context.Background(), 1, 1, [32]byte{}, 0, false, nil)
	if err != nil {
		t.Fatal(err)
	}

	// Re-encoding the snapshot and fills and re-folding must reproduce the
	// stored commitments bit for bit.
	if got := commit.Orders(h, block.OrdersSnapshot); got != block.Header.OrdersCommitment {
		t.Error("orders commitment does not round-trip")
	}
	if got := commit.Fills(h, block.Fills); got != block.Header.FillsCommitment {
		t.Error("fills commitment does not round-trip")
	}
	if got := commit.Markets(h, block.MarketsUsed); got != block.Header.MarketsRoot {
		t.Error("markets root does not round-trip")
	}
}

func TestBuildBlockIsDeterministic(t *testing.T) {
	b1 := newTestBuilder(seedCrossedStore(t))
	b2 := newTestBuilder(seedCrossedStore(t))

	blk1, err := b1.BuildBlock(context.Background(), 1, 1, [32]byte{}, 42, false, nil)
	if err != nil {
		t.Fatal(err)
	}
	blk2, err := b2.BuildBlock(context.Background(), 1, 1, [32]byte{}, 42, false, nil)
	if err != nil {
		t.Fatal(err)
	}

	if blk1.Header != blk2.Header {
		t.Error("identical inputs produced different headers")
	}
	if len(blk1.Fills) != len(blk2.Fills) {
		t.Fatal("fill counts differ")
	}
	for i := range blk1.Fills {
		if blk1.Fills[i].BuyerPID != blk2.Fills[i].BuyerPID ||
			blk1.Fills[i].SellerPID != blk2.Fills[i].SellerPID {
			t.Errorf("fill[%d] pids differ between identical runs", i)
		}
	}
}

func TestBatchAtomicityOnInsertFault(t *testing.T) {
	m := seedCrossedStore(t)
	b := newTestBuilder(m)
	ctx := context.Background()

	m.FailNextInsertFills = errors.New("injected storage fault")
	if _, err := b.BuildBlock(ctx, 1, 1, [32]byte{}, 0, false, nil); err == nil {
		t.Fatal("expected build to fail")
	}

	// Post-conditions: no batch row, no fills, order state untouched.
	if _, err := m.BatchHeader(ctx, 1); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("batch row leaked past the aborted build: %v", err)
	}
	rows, _ := m.Fills(ctx, storage.FillFilter{})
	if len(rows) != 0 {
		t.Errorf("fills leaked past the aborted build: %d", len(rows))
	}
	pending, _ := m.PendingOrders(ctx)
	if pending != 4 {
		t.Errorf("order remaining changed by aborted build: %d open, want 4", pending)
	}

	// The next tick retries the same block number and succeeds.
	if _, err := b.BuildBlock(ctx, 1, 1, [32]byte{}, 0, false, nil); err != nil {
		t.Fatalf("retry failed: %v", err)
	}
}

func TestSaltRotatesPIDsAcrossRuns(t *testing.T) {
	var seedA, seedB [32]byte
	seedA[0], seedB[0] = 0x01, 0x02

	run := func(useSalt bool, seed [32]byte) *engine.Block {
		m := seedCrossedStore(t)
		b := newTestBuilder(m)
		blk, err := b.BuildBlock(context.Background(), 1, 1, [32]byte{}, 0, useSalt, NewRotatingSalt(seed))
		if err != nil {
			t.Fatal(err)
		}
		return blk
	}

	plain := run(false, seedA)
	salted := run(true, seedA)
	rotated := run(true, seedB)

	for i := range plain.Fills {
		if plain.Fills[i].MatchID != salted.Fills[i].MatchID ||
			plain.Fills[i].FillQty != salted.Fills[i].FillQty {
			t.Errorf("fill[%d]: salt changed match identity or quantity", i)
		}
		if plain.Fills[i].BuyerPID == salted.Fills[i].BuyerPID {
			t.Errorf("fill[%d]: salt did not rotate buyer pid", i)
		}
		if salted.Fills[i].BuyerPID == rotated.Fills[i].BuyerPID {
			t.Errorf("fill[%d]: fresh seed did not rotate buyer pid", i)
		}
	}
}

func TestMissingOwnerAbortsBuild(t *testing.T) {
	m := storage.NewMemory()
	m.AddMarket(testMarket(1, engine.Active))
	submit(t, m, 1, engine.Bid, 100, 5)
	submit(t, m, 1, engine.Ask, 100, 5)
	m.DropOwner(1)

	b := newTestBuilder(m)
	_, err := b.BuildBlock(context.Background(), 1, 1, [32]byte{}, 0, false, nil)
	if !errors.Is(err, engine.ErrMissingOwner) {
		t.Fatalf("err = %v, want ErrMissingOwner", err)
	}
	if _, err := m.BatchHeader(context.Background(), 1); !errors.Is(err, storage.ErrNotFound) {
		t.Error("aborted build must not persist a batch row")
	}
}
