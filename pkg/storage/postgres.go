package storage

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/binary"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/holiman/uint256"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"github.com/single-instruction/Sequencer-zkvm/pkg/engine"
)

//go:embed schema.sql
var schemaSQL string

// Postgres implements Store over sqlx with the pgx stdlib driver.
type Postgres struct {
	db     *sqlx.DB
	logger *zap.Logger
}

// OpenPostgres connects, configures the pool, and ensures the schema exists.
func OpenPostgres(ctx context.Context, dsn string, logger *zap.Logger) (*Postgres, error) {
	db, err := sqlx.ConnectContext(ctx, "pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(5 * time.Minute)

	if _, err := db.ExecContext(ctx, schemaSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("ensure schema: %w", err)
	}

	logger.Info("postgres_connected",
		zap.Int("max_open_conns", 25),
		zap.Int("max_idle_conns", 10),
	)
	return &Postgres{db: db, logger: logger}, nil
}

func (p *Postgres) Close() error { return p.db.Close() }

// marketRow mirrors the markets table for sqlx scanning.
type marketRow struct {
	PairID      int64  `db:"pair_id"`
	PriceTick   int64  `db:"price_tick"`
	SizeStep    int64  `db:"size_step"`
	NotionalMin string `db:"notional_min"`
	NotionalMax string `db:"notional_max"`
	MakerBps    int32  `db:"maker_bps"`
	TakerBps    int32  `db:"taker_bps"`
	Status      int32  `db:"status"`
}

func (r *marketRow) toParams() (engine.MarketParams, error) {
	nmin, err := uint256.FromDecimal(r.NotionalMin)
	if err != nil {
		return engine.MarketParams{}, fmt.Errorf("pair %d notional_min: %w", r.PairID, err)
	}
	nmax, err := uint256.FromDecimal(r.NotionalMax)
	if err != nil {
		return engine.MarketParams{}, fmt.Errorf("pair %d notional_max: %w", r.PairID, err)
	}
	// 16-byte canonical encoding requires the bounds to fit in 128 bits.
	if nmin.BitLen() > 128 || nmax.BitLen() > 128 {
		return engine.MarketParams{}, fmt.Errorf("pair %d: notional bound exceeds 128 bits", r.PairID)
	}
	return engine.MarketParams{
		PairID:      engine.PairID(r.PairID),
		PriceTick:   uint64(r.PriceTick),
		SizeStep:    uint64(r.SizeStep),
		NotionalMin: nmin,
		NotionalMax: nmax,
		MakerBps:    uint16(r.MakerBps),
		TakerBps:    uint16(r.TakerBps),
		Status:      engine.MarketStatus(r.Status),
	}, nil
}

const selectMarkets = `
	SELECT pair_id, price_tick, size_step, notional_min, notional_max,
	       maker_bps, taker_bps, status
	FROM markets
	WHERE status IN (0, 1, 2)
	ORDER BY pair_id`

// orderRow mirrors the orders table.
type orderRow struct {
	OrderID    int64  `db:"order_id"`
	OrderHash  []byte `db:"order_hash"`
	PairID     int64  `db:"pair_id"`
	Side       int32  `db:"side"`
	PriceTick  int64  `db:"price_tick"`
	Amount     int64  `db:"amount"`
	Remaining  int64  `db:"remaining"`
	TimeBucket int32  `db:"time_bucket"`
	Nonce      int64  `db:"nonce"`
	IngestSeq  int64  `db:"ingest_seq"`
}

func (r *orderRow) toOrder() (engine.Order, error) {
	o := engine.Order{
		OrderID:    uint64(r.OrderID),
		PairID:     engine.PairID(r.PairID),
		Side:       engine.Side(r.Side),
		PriceTick:  uint64(r.PriceTick),
		Amount:     uint64(r.Amount),
		Remaining:  uint64(r.Remaining),
		TimeBucket: uint32(r.TimeBucket),
		Nonce:      uint64(r.Nonce),
		IngestSeq:  uint64(r.IngestSeq),
	}
	if len(r.OrderHash) != 32 {
		return o, fmt.Errorf("order %d: order_hash is %d bytes", r.OrderID, len(r.OrderHash))
	}
	copy(o.OrderHash[:], r.OrderHash)
	return o, nil
}

const selectOpenOrders = `
	SELECT order_id, order_hash, pair_id, side, price_tick, amount, remaining,
	       time_bucket, nonce, ingest_seq
	FROM orders
	WHERE remaining > 0
	ORDER BY pair_id, side, price_tick, ingest_seq`

// SubmitOrder bumps the per-market ingest counter under its row lock, then
// writes the order and its private owner row in the same transaction.
func (p *Postgres) SubmitOrder(ctx context.Context, o NewOrder) (uint64, uint64, error) {
	tx, err := p.db.BeginTxx(ctx, nil)
	if err != nil {
		return 0, 0, fmt.Errorf("begin submit tx: %w", err)
	}
	defer tx.Rollback()

	var ingestSeq int64
	err = tx.GetContext(ctx, &ingestSeq, `
		UPDATE market_counters
		SET next_ingest_seq = next_ingest_seq + 1
		WHERE pair_id = $1
		RETURNING next_ingest_seq - 1`, int64(o.PairID))
	if errors.Is(err, sql.ErrNoRows) {
		return 0, 0, fmt.Errorf("pair %d: %w", o.PairID, ErrUnknownMarket)
	}
	if err != nil {
		return 0, 0, fmt.Errorf("allocate ingest_seq: %w", err)
	}

	orderID := newOrderID()

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO orders
		    (order_id, order_hash, pair_id, side, price_tick, amount, remaining,
		     time_bucket, nonce, ingest_seq, status)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,0)`,
		int64(orderID), o.OrderHash[:], int64(o.PairID), int32(o.Side),
		int64(o.PriceTick), int64(o.Amount), int64(o.Amount),
		int32(o.TimeBucket), int64(o.Nonce), ingestSeq,
	); err != nil {
		return 0, 0, fmt.Errorf("insert order: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO order_owners_private (order_id, pk_hash) VALUES ($1,$2)`,
		int64(orderID), o.PkHash[:],
	); err != nil {
		return 0, 0, fmt.Errorf("insert owner mapping: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return 0, 0, fmt.Errorf("commit submit tx: %w", err)
	}
	return orderID, uint64(ingestSeq), nil
}

// newOrderID folds a random UUID into a positive 63-bit id so it survives the
// BIGINT round trip.
func newOrderID() uint64 {
	u := uuid.New()
	return binary.LittleEndian.Uint64(u[:8]) >> 1
}

func (p *Postgres) PendingOrders(ctx context.Context) (int64, error) {
	var n int64
	if err := p.db.GetContext(ctx, &n,
		`SELECT COUNT(*) FROM orders WHERE remaining > 0`); err != nil {
		return 0, fmt.Errorf("count pending orders: %w", err)
	}
	return n, nil
}

func (p *Postgres) LatestBlockNumber(ctx context.Context) (uint64, bool, error) {
	var n sql.NullInt64
	if err := p.db.GetContext(ctx, &n,
		`SELECT MAX(block_number) FROM batches`); err != nil {
		return 0, false, fmt.Errorf("latest block number: %w", err)
	}
	if !n.Valid {
		return 0, false, nil
	}
	return uint64(n.Int64), true, nil
}

type batchRow struct {
	BlockNumber      int64  `db:"block_number"`
	BatchID          int64  `db:"batch_id"`
	ParentStateRoot  []byte `db:"parent_state_root"`
	NewStateRoot     []byte `db:"new_state_root"`
	MarketsRoot      []byte `db:"markets_root"`
	OrdersCommitment []byte `db:"orders_commitment"`
	FillsCommitment  []byte `db:"fills_commitment"`
	TimestampMS      int64  `db:"timestamp_ms"`
}

func (p *Postgres) BatchHeader(ctx context.Context, blockNumber uint64) (engine.BlockHeader, error) {
	var r batchRow
	err := p.db.GetContext(ctx, &r, `
		SELECT block_number, batch_id, parent_state_root, new_state_root,
		       markets_root, orders_commitment, fills_commitment, timestamp_ms
		FROM batches WHERE block_number = $1`, int64(blockNumber))
	if errors.Is(err, sql.ErrNoRows) {
		return engine.BlockHeader{}, fmt.Errorf("block %d: %w", blockNumber, ErrNotFound)
	}
	if err != nil {
		return engine.BlockHeader{}, fmt.Errorf("load batch header: %w", err)
	}
	h := engine.BlockHeader{
		BlockNumber: uint64(r.BlockNumber),
		BatchID:     uint64(r.BatchID),
		TimestampMS: uint64(r.TimestampMS),
	}
	copy(h.ParentStateRoot[:], r.ParentStateRoot)
	copy(h.NewStateRoot[:], r.NewStateRoot)
	copy(h.MarketsRoot[:], r.MarketsRoot)
	copy(h.OrdersCommitment[:], r.OrdersCommitment)
	copy(h.FillsCommitment[:], r.FillsCommitment)
	return h, nil
}

func (p *Postgres) ActiveMarkets(ctx context.Context) ([]engine.MarketParams, error) {
	var rows []marketRow
	if err := p.db.SelectContext(ctx, &rows, selectMarkets); err != nil {
		return nil, fmt.Errorf("load markets: %w", err)
	}
	out := make([]engine.MarketParams, 0, len(rows))
	for i := range rows {
		m, err := rows[i].toParams()
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, nil
}

// TopOfBook aggregates live open orders grouped by (side, price_tick).
func (p *Postgres) TopOfBook(ctx context.Context, pair engine.PairID) (TopOfBook, error) {
	var rows []struct {
		Side      int32 `db:"side"`
		PriceTick int64 `db:"price_tick"`
		Qty       int64 `db:"qty"`
	}
	err := p.db.SelectContext(ctx, &rows, `
		SELECT side, price_tick, SUM(remaining) AS qty
		FROM orders
		WHERE pair_id = $1 AND remaining > 0
		GROUP BY side, price_tick`, int64(pair))
	if err != nil {
		return TopOfBook{}, fmt.Errorf("top of book: %w", err)
	}

	var tob TopOfBook
	for _, r := range rows {
		lvl := Level{PriceTick: uint64(r.PriceTick), Qty: uint64(r.Qty)}
		if engine.Side(r.Side) == engine.Bid {
			if tob.BestBid == nil || lvl.PriceTick > tob.BestBid.PriceTick {
				l := lvl
				tob.BestBid = &l
			}
		} else {
			if tob.BestAsk == nil || lvl.PriceTick < tob.BestAsk.PriceTick {
				l := lvl
				tob.BestAsk = &l
			}
		}
	}
	return tob, nil
}

func (p *Postgres) Fills(ctx context.Context, f FillFilter) ([]FillRow, error) {
	limit := f.Limit
	if limit <= 0 {
		limit = 200
	}
	if limit > 1000 {
		limit = 1000
	}

	query := `
		SELECT batch_id, match_id, pair_id, price_tick, fill_qty, time_bucket,
		       buyer_pid, seller_pid
		FROM fills`
	var args []interface{}
	where := ""
	appendCond := func(cond string, v interface{}) {
		if where == "" {
			where = " WHERE "
		} else {
			where += " AND "
		}
		args = append(args, v)
		where += fmt.Sprintf(cond, len(args))
	}
	if f.PairID != nil {
		appendCond("pair_id = $%d", int64(*f.PairID))
	}
	if f.BatchID != nil {
		appendCond("batch_id = $%d", int64(*f.BatchID))
	}
	args = append(args, limit)
	query += where + fmt.Sprintf(" ORDER BY batch_id DESC, pair_id ASC, match_id ASC LIMIT $%d", len(args))

	var rows []struct {
		BatchID    int64  `db:"batch_id"`
		MatchID    int64  `db:"match_id"`
		PairID     int64  `db:"pair_id"`
		PriceTick  int64  `db:"price_tick"`
		FillQty    int64  `db:"fill_qty"`
		TimeBucket int32  `db:"time_bucket"`
		BuyerPID   []byte `db:"buyer_pid"`
		SellerPID  []byte `db:"seller_pid"`
	}
	if err := p.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("list fills: %w", err)
	}

	out := make([]FillRow, 0, len(rows))
	for _, r := range rows {
		fr := FillRow{
			BatchID:    uint64(r.BatchID),
			MatchID:    uint64(r.MatchID),
			PairID:     engine.PairID(r.PairID),
			PriceTick:  uint64(r.PriceTick),
			FillQty:    uint64(r.FillQty),
			TimeBucket: uint32(r.TimeBucket),
		}
		copy(fr.BuyerPID[:], r.BuyerPID)
		copy(fr.SellerPID[:], r.SellerPID)
		out = append(out, fr)
	}
	return out, nil
}

// Begin opens the repeatable-read transaction a block build runs in.
func (p *Postgres) Begin(ctx context.Context) (Snapshot, error) {
	tx, err := p.db.BeginTxx(ctx, &sql.TxOptions{Isolation: sql.LevelRepeatableRead})
	if err != nil {
		return nil, fmt.Errorf("begin repeatable read: %w", err)
	}
	return &pgSnapshot{tx: tx}, nil
}

type pgSnapshot struct {
	tx *sqlx.Tx
}

func (s *pgSnapshot) LoadActiveMarkets(ctx context.Context) ([]engine.MarketParams, error) {
	var rows []marketRow
	if err := s.tx.SelectContext(ctx, &rows, selectMarkets); err != nil {
		return nil, fmt.Errorf("snapshot markets: %w", err)
	}
	out := make([]engine.MarketParams, 0, len(rows))
	for i := range rows {
		m, err := rows[i].toParams()
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, nil
}

func (s *pgSnapshot) LoadOpenOrders(ctx context.Context) ([]engine.Order, error) {
	var rows []orderRow
	if err := s.tx.SelectContext(ctx, &rows, selectOpenOrders); err != nil {
		return nil, fmt.Errorf("snapshot orders: %w", err)
	}
	out := make([]engine.Order, 0, len(rows))
	for i := range rows {
		o, err := rows[i].toOrder()
		if err != nil {
			return nil, err
		}
		out = append(out, o)
	}
	return out, nil
}

func (s *pgSnapshot) LoadOwnerMap(ctx context.Context, orders []engine.Order) (map[uint64]engine.PkHash, error) {
	out := make(map[uint64]engine.PkHash, len(orders))
	if len(orders) == 0 {
		return out, nil
	}
	ids := make([]int64, 0, len(orders))
	for i := range orders {
		ids = append(ids, int64(orders[i].OrderID))
	}
	query, args, err := sqlx.In(
		`SELECT order_id, pk_hash FROM order_owners_private WHERE order_id IN (?)`, ids)
	if err != nil {
		return nil, fmt.Errorf("owner map query: %w", err)
	}
	var rows []struct {
		OrderID int64  `db:"order_id"`
		PkHash  []byte `db:"pk_hash"`
	}
	if err := s.tx.SelectContext(ctx, &rows, s.tx.Rebind(query), args...); err != nil {
		return nil, fmt.Errorf("load owner map: %w", err)
	}
	for _, r := range rows {
		var pk engine.PkHash
		copy(pk[:], r.PkHash)
		out[uint64(r.OrderID)] = pk
	}
	return out, nil
}

func (s *pgSnapshot) InsertFills(ctx context.Context, fills []engine.FillDraft) error {
	for i := range fills {
		f := &fills[i]
		var salt []byte
		if f.FillSalt != nil {
			salt = f.FillSalt[:]
		}
		if _, err := s.tx.ExecContext(ctx, `
			INSERT INTO fills
			    (batch_id, match_id, pair_id, price_tick, fill_qty, time_bucket,
			     buyer_order_id, seller_order_id, buyer_order_hash, seller_order_hash,
			     buyer_pid, seller_pid, fee_bps, fill_salt)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14)`,
			int64(f.BatchID), int64(f.MatchID), int64(f.PairID),
			int64(f.PriceTick), int64(f.FillQty), int32(f.TimeBucket),
			int64(f.BuyerOrderID), int64(f.SellerOrderID),
			f.BuyerOrderHash[:], f.SellerOrderHash[:],
			f.BuyerPID[:], f.SellerPID[:], int32(f.FeeBps), salt,
		); err != nil {
			return fmt.Errorf("insert fill (%d,%d,%d): %w", f.BatchID, f.PairID, f.MatchID, err)
		}
	}
	return nil
}

func (s *pgSnapshot) ApplyResiduals(ctx context.Context, residuals []engine.OrderResidual) error {
	for _, r := range residuals {
		status := 0
		if r.NowFilled {
			status = 1
		}
		if _, err := s.tx.ExecContext(ctx, `
			UPDATE orders
			SET remaining = $1, status = $2, updated_at = now()
			WHERE order_id = $3`,
			int64(r.RemainingAfter), status, int64(r.OrderID),
		); err != nil {
			return fmt.Errorf("apply residual for order %d: %w", r.OrderID, err)
		}
	}
	return nil
}

func (s *pgSnapshot) InsertBatchHeader(ctx context.Context, h *engine.BlockHeader) error {
	if _, err := s.tx.ExecContext(ctx, `
		INSERT INTO batches
		    (block_number, batch_id, parent_state_root, new_state_root,
		     markets_root, orders_commitment, fills_commitment, timestamp_ms)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)`,
		int64(h.BlockNumber), int64(h.BatchID),
		h.ParentStateRoot[:], h.NewStateRoot[:], h.MarketsRoot[:],
		h.OrdersCommitment[:], h.FillsCommitment[:], int64(h.TimestampMS),
	); err != nil {
		return fmt.Errorf("insert batch header: %w", err)
	}
	return nil
}

func (s *pgSnapshot) LinkFillsToBatch(ctx context.Context, blockNumber uint64, fills []engine.FillDraft) error {
	for i := range fills {
		f := &fills[i]
		if _, err := s.tx.ExecContext(ctx, `
			INSERT INTO batch_fills (block_number, pair_id, match_id) VALUES ($1,$2,$3)`,
			int64(blockNumber), int64(f.PairID), int64(f.MatchID),
		); err != nil {
			return fmt.Errorf("link fill (%d,%d): %w", f.PairID, f.MatchID, err)
		}
	}
	return nil
}

func (s *pgSnapshot) Commit() error   { return s.tx.Commit() }
func (s *pgSnapshot) Rollback() error { return s.tx.Rollback() }

var _ Store = (*Postgres)(nil)
