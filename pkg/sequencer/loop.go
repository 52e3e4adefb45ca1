package sequencer

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/single-instruction/Sequencer-zkvm/pkg/engine"
	"github.com/single-instruction/Sequencer-zkvm/pkg/storage"
)

// LoopConfig tunes one batch loop.
type LoopConfig struct {
	Tick        time.Duration
	UseFillSalt bool
	SaltFn      engine.SaltFunc
}

// Loop ticks the block builder. At most one build runs at a time; a failed
// build is logged and retried at the next tick without advancing the block
// counter, so a block number is either fully committed or never existed.
type Loop struct {
	store   storage.Store
	builder *Builder
	events  *Events
	archive *storage.Archive // optional
	pids    *PIDCache        // optional
	logger  *zap.Logger
	cfg     LoopConfig
}

func NewLoop(
	store storage.Store,
	builder *Builder,
	events *Events,
	archive *storage.Archive,
	pids *PIDCache,
	logger *zap.Logger,
	cfg LoopConfig,
) *Loop {
	if cfg.Tick <= 0 {
		cfg.Tick = 100 * time.Millisecond
	}
	if cfg.SaltFn == nil {
		cfg.SaltFn = func(uint64, uint64) [32]byte { return [32]byte{} }
	}
	return &Loop{
		store:   store,
		builder: builder,
		events:  events,
		archive: archive,
		pids:    pids,
		logger:  logger,
		cfg:     cfg,
	}
}

// Run drives the loop until the context is cancelled. Cancellation is clean
// at tick boundaries; a build interrupted mid-transaction rolls back.
func (l *Loop) Run(ctx context.Context) error {
	nextBlock, parentRoot := l.recover(ctx)
	l.logger.Info("batch_loop_started",
		zap.Uint64("next_block", nextBlock),
		zap.Duration("tick", l.cfg.Tick),
	)

	ticker := time.NewTicker(l.cfg.Tick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			l.logger.Info("batch_loop_stopped")
			return ctx.Err()
		case <-ticker.C:
		}

		pending, err := l.store.PendingOrders(ctx)
		if err != nil {
			l.logger.Error("fetch_pending_failed", zap.Error(err))
			continue
		}
		if pending == 0 {
			continue
		}

		block, err := l.builder.BuildBlock(
			ctx, nextBlock, nextBlock, parentRoot,
			uint64(time.Now().UnixMilli()),
			l.cfg.UseFillSalt, l.cfg.SaltFn,
		)
		if err != nil {
			// Transient storage faults and invariant violations both land
			// here; the counter does not advance.
			l.logger.Error("block_build_failed",
				zap.Uint64("block_number", nextBlock), zap.Error(err))
			continue
		}

		l.finalize(ctx, block)
		parentRoot = block.Header.NewStateRoot
		nextBlock++
	}
}

// recover picks the next block number from the SQL store, falling back to the
// local archive, and chains the parent root from the latest header.
func (l *Loop) recover(ctx context.Context) (uint64, [32]byte) {
	var parent [32]byte
	latest, ok, err := l.store.LatestBlockNumber(ctx)
	if err != nil {
		l.logger.Warn("latest_block_lookup_failed", zap.Error(err))
		if l.archive != nil {
			if n, archived, aerr := l.archive.LatestBlockNumber(); aerr == nil && archived {
				if h, herr := l.archive.Header(n); herr == nil {
					return n + 1, h.NewStateRoot
				}
				return n + 1, parent
			}
		}
		return 1, parent
	}
	if !ok {
		return 1, parent
	}
	if h, err := l.store.BatchHeader(ctx, latest); err == nil {
		parent = h.NewStateRoot
	}
	return latest + 1, parent
}

// finalize publishes the committed block. Persistence has already happened;
// publish and archive failures are logged, never fatal.
func (l *Loop) finalize(ctx context.Context, block *engine.Block) {
	if l.archive != nil {
		if err := l.archive.SaveBlock(block); err != nil {
			l.logger.Error("archive_save_failed",
				zap.Uint64("block_number", block.Header.BlockNumber), zap.Error(err))
		}
	}
	if l.pids != nil {
		l.pids.Record(block)
	}

	l.events.PublishHeader(block.Header)
	for i := range block.Fills {
		l.events.PublishFill(block.Fills[i])
	}

	for _, pair := range touchedPairs(block.Fills) {
		tob, err := l.store.TopOfBook(ctx, pair)
		if err != nil {
			l.logger.Warn("top_of_book_failed",
				zap.Uint32("pair_id", uint32(pair)), zap.Error(err))
			continue
		}
		l.events.PublishBook(BookUpdate{PairID: pair, Book: tob})
	}
}

// touchedPairs returns the distinct pairs of a fill list in fill order.
func touchedPairs(fills []engine.FillDraft) []engine.PairID {
	seen := make(map[engine.PairID]struct{})
	var out []engine.PairID
	for i := range fills {
		if _, ok := seen[fills[i].PairID]; ok {
			continue
		}
		seen[fills[i].PairID] = struct{}{}
		out = append(out, fills[i].PairID)
	}
	return out
}
