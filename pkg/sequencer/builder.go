// Package sequencer drives batch production: the block builder snapshots the
// book, matches every market, commits the result, and the batch loop ticks it
// forward while fanning out events.
package sequencer

import (
	"context"
	"fmt"
	"sort"

	"go.uber.org/zap"

	"github.com/single-instruction/Sequencer-zkvm/pkg/commit"
	"github.com/single-instruction/Sequencer-zkvm/pkg/engine"
	"github.com/single-instruction/Sequencer-zkvm/pkg/storage"
)

// Builder assembles one block per invocation. All reads and writes happen in
// a single repeatable-read transaction; a failure anywhere aborts the build
// with no fills, no residual updates, and no batch row.
type Builder struct {
	store     storage.Store
	hasher    commit.Hasher
	pidHasher engine.Hasher32
	logger    *zap.Logger
}

func NewBuilder(store storage.Store, hasher commit.Hasher, pidHasher engine.Hasher32, logger *zap.Logger) *Builder {
	return &Builder{store: store, hasher: hasher, pidHasher: pidHasher, logger: logger}
}

// BuildBlock runs one sequencing step and returns the assembled block after
// the transaction commits. NewStateRoot is left all-zeros for the proving
// subsystem.
func (b *Builder) BuildBlock(
	ctx context.Context,
	blockNumber, batchID uint64,
	parentStateRoot [32]byte,
	timestampMS uint64,
	useFillSalt bool,
	saltFn engine.SaltFunc,
) (*engine.Block, error) {
	log := b.logger.With(zap.Uint64("block_number", blockNumber), zap.Uint64("batch_id", batchID))
	log.Debug("begin_block_build")

	snap, err := b.store.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin snapshot: %w", err)
	}
	committed := false
	defer func() {
		if !committed {
			snap.Rollback()
		}
	}()

	markets, err := snap.LoadActiveMarkets(ctx)
	if err != nil {
		return nil, err
	}
	log.Debug("loaded_markets", zap.Int("count", len(markets)))
	marketsRoot := commit.Markets(b.hasher, markets)

	orders, err := snap.LoadOpenOrders(ctx)
	if err != nil {
		return nil, err
	}
	ownerMap, err := snap.LoadOwnerMap(ctx, orders)
	if err != nil {
		return nil, err
	}
	log.Debug("loaded_snapshot", zap.Int("orders", len(orders)), zap.Int("owners", len(ownerMap)))

	// Group orders by market; markets with no open orders still contribute
	// to markets_root but produce no fills.
	byPair := make(map[engine.PairID][]engine.Order, len(markets))
	params := make(map[engine.PairID]engine.MarketParams, len(markets))
	for _, m := range markets {
		params[m.PairID] = m
		byPair[m.PairID] = nil
	}
	for _, o := range orders {
		if _, ok := params[o.PairID]; ok {
			byPair[o.PairID] = append(byPair[o.PairID], o)
		}
	}

	// Market traversal ascending by pair is part of the fills-commitment
	// wire contract.
	pairs := make([]engine.PairID, 0, len(byPair))
	for p := range byPair {
		pairs = append(pairs, p)
	}
	sort.Slice(pairs, func(i, j int) bool { return pairs[i] < pairs[j] })

	var allFills []engine.FillDraft
	var allResiduals []engine.OrderResidual
	for _, pair := range pairs {
		plan, err := engine.MatchMarket(
			pair, batchID, params[pair], byPair[pair], ownerMap,
			b.pidHasher, useFillSalt, saltFn,
		)
		if err != nil {
			return nil, fmt.Errorf("match pair %d: %w", pair, err)
		}
		log.Debug("matched_market",
			zap.Uint32("pair_id", uint32(pair)),
			zap.Int("fills", len(plan.Fills)),
			zap.Int("residuals", len(plan.Residuals)),
		)
		allFills = append(allFills, plan.Fills...)
		allResiduals = append(allResiduals, plan.Residuals...)
	}
	log.Info("matching_complete",
		zap.Int("total_fills", len(allFills)),
		zap.Int("total_residuals", len(allResiduals)),
	)

	// Commitments cover the pre-matching snapshot and the fills in
	// production order.
	ordersCommitment := commit.Orders(b.hasher, orders)
	fillsCommitment := commit.Fills(b.hasher, allFills)

	if err := snap.InsertFills(ctx, allFills); err != nil {
		return nil, fmt.Errorf("insert fills: %w", err)
	}
	if err := snap.ApplyResiduals(ctx, allResiduals); err != nil {
		return nil, fmt.Errorf("apply residuals: %w", err)
	}

	header := engine.BlockHeader{
		BlockNumber:      blockNumber,
		BatchID:          batchID,
		ParentStateRoot:  parentStateRoot,
		NewStateRoot:     [32]byte{}, // written by the prover
		MarketsRoot:      marketsRoot,
		OrdersCommitment: ordersCommitment,
		FillsCommitment:  fillsCommitment,
		TimestampMS:      timestampMS,
	}
	if err := snap.InsertBatchHeader(ctx, &header); err != nil {
		return nil, fmt.Errorf("insert batch header: %w", err)
	}
	if err := snap.LinkFillsToBatch(ctx, blockNumber, allFills); err != nil {
		return nil, fmt.Errorf("link fills: %w", err)
	}
	if err := snap.Commit(); err != nil {
		return nil, fmt.Errorf("commit block: %w", err)
	}
	committed = true
	log.Info("block_persisted")

	return &engine.Block{
		Header:         header,
		MarketsUsed:    markets,
		OrdersSnapshot: orders,
		Fills:          allFills,
	}, nil
}
