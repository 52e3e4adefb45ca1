package api

import (
	"github.com/single-instruction/Sequencer-zkvm/pkg/storage"
)

// MarketInfo is the public market listing entry.
type MarketInfo struct {
	PairID    uint32 `json:"pair_id"`
	PriceTick uint64 `json:"price_tick"`
	SizeStep  uint64 `json:"size_step"`
	MakerBps  uint16 `json:"maker_bps"`
	TakerBps  uint16 `json:"taker_bps"`
	Status    string `json:"status"`
}

// FillInfo is the public fill projection; PIDs are hex, order hashes and
// salts never leave the store.
type FillInfo struct {
	BatchID    uint64 `json:"batch_id"`
	MatchID    uint64 `json:"match_id"`
	PairID     uint32 `json:"pair_id"`
	PriceTick  uint64 `json:"price_tick"`
	FillQty    uint64 `json:"fill_qty"`
	TimeBucket uint32 `json:"time_bucket"`
	BuyerPID   string `json:"buyer_pid"`
	SellerPID  string `json:"seller_pid"`
}

// BlockHeaderInfo is the public batch header projection, digests hex encoded.
type BlockHeaderInfo struct {
	BlockNumber      uint64 `json:"block_number"`
	BatchID          uint64 `json:"batch_id"`
	ParentStateRoot  string `json:"parent_state_root"`
	NewStateRoot     string `json:"new_state_root"`
	MarketsRoot      string `json:"markets_root"`
	OrdersCommitment string `json:"orders_commitment"`
	FillsCommitment  string `json:"fills_commitment"`
	TimestampMS      uint64 `json:"timestamp_ms"`
}

// OrderbookInfo is the top-of-book response for one pair.
type OrderbookInfo struct {
	PairID  uint32         `json:"pair_id"`
	BestBid *storage.Level `json:"best_bid"`
	BestAsk *storage.Level `json:"best_ask"`
}

// SubmitOrderRequest is the ingress payload. order_hash is the upstream
// authentication digest and is stored opaque; signature verification happens
// before this surface. pk_hash goes straight to the private owner table.
type SubmitOrderRequest struct {
	PairID     uint32 `json:"pair_id"`
	Side       uint8  `json:"side"`
	PriceTick  uint64 `json:"price_tick"`
	Amount     uint64 `json:"amount"`
	TimeBucket uint32 `json:"time_bucket"`
	Nonce      uint64 `json:"nonce"`
	OrderHash  string `json:"order_hash"`
	PkHash     string `json:"pk_hash"`
}

// SubmitOrderResponse returns the atomically assigned identifiers.
type SubmitOrderResponse struct {
	OrderID   uint64 `json:"order_id"`
	IngestSeq uint64 `json:"ingest_seq"`
}

// ErrorResponse is the REST error envelope.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}

// WSSubscribeRequest is the websocket control message.
type WSSubscribeRequest struct {
	Op       string   `json:"op"` // "subscribe" | "unsubscribe"
	Channels []string `json:"channels"`
}

// WSEnvelope wraps every outbound stream message with its channel type.
type WSEnvelope struct {
	Type string      `json:"type"` // "block" | "fill" | "book"
	Data interface{} `json:"data"`
}
