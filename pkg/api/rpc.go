package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/ethereum/go-ethereum/common/hexutil"

	"github.com/single-instruction/Sequencer-zkvm/pkg/engine"
	"github.com/single-instruction/Sequencer-zkvm/pkg/storage"
)

// JSON-RPC error codes surfaced by this endpoint.
const (
	rpcMethodNotFound = -32601
	rpcInvalidParams  = -32602
)

type rpcRequest struct {
	JSONRPC string          `json:"jsonrpc"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params"`
	ID      json.RawMessage `json:"id"`
}

type rpcResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	Result  interface{}     `json:"result,omitempty"`
	Error   *rpcError       `json:"error,omitempty"`
	ID      json.RawMessage `json:"id"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// handleRPC dispatches the JSON-RPC methods: book_getTopOfBook,
// batch_getHeader, fills_getSince. Unknown methods return -32601, not-found
// and bad params -32602.
func (s *Server) handleRPC(w http.ResponseWriter, r *http.Request) {
	var req rpcRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondJSON(w, rpcResponse{
			JSONRPC: "2.0",
			Error:   &rpcError{Code: rpcInvalidParams, Message: "invalid request"},
			ID:      json.RawMessage("null"),
		})
		return
	}

	ok := func(v interface{}) rpcResponse {
		return rpcResponse{JSONRPC: "2.0", Result: v, ID: req.ID}
	}
	fail := func(code int, msg string) rpcResponse {
		return rpcResponse{JSONRPC: "2.0", Error: &rpcError{Code: code, Message: msg}, ID: req.ID}
	}

	switch req.Method {
	case "book_getTopOfBook":
		var p struct {
			PairID uint32 `json:"pair_id"`
		}
		if err := json.Unmarshal(req.Params, &p); err != nil {
			respondJSON(w, fail(rpcInvalidParams, "invalid params"))
			return
		}
		tob, err := s.store.TopOfBook(r.Context(), engine.PairID(p.PairID))
		if err != nil {
			respondJSON(w, fail(rpcInvalidParams, err.Error()))
			return
		}
		respondJSON(w, ok(OrderbookInfo{PairID: p.PairID, BestBid: tob.BestBid, BestAsk: tob.BestAsk}))

	case "batch_getHeader":
		var p struct {
			BlockNumber uint64 `json:"block_number"`
		}
		if err := json.Unmarshal(req.Params, &p); err != nil {
			respondJSON(w, fail(rpcInvalidParams, "invalid params"))
			return
		}
		h, err := s.lookupHeader(r, p.BlockNumber)
		if errors.Is(err, storage.ErrNotFound) {
			respondJSON(w, fail(rpcInvalidParams, "not found"))
			return
		}
		if err != nil {
			respondJSON(w, fail(rpcInvalidParams, err.Error()))
			return
		}
		respondJSON(w, ok(headerInfo(h)))

	case "fills_getSince":
		var p struct {
			BatchID *uint64 `json:"batch_id"`
			PairID  *uint32 `json:"pair_id"`
			Limit   int     `json:"limit"`
		}
		if len(req.Params) > 0 {
			if err := json.Unmarshal(req.Params, &p); err != nil {
				respondJSON(w, fail(rpcInvalidParams, "invalid params"))
				return
			}
		}
		filter := storage.FillFilter{BatchID: p.BatchID, Limit: p.Limit}
		if p.PairID != nil {
			pid := engine.PairID(*p.PairID)
			filter.PairID = &pid
		}
		rows, err := s.store.Fills(r.Context(), filter)
		if err != nil {
			respondJSON(w, fail(rpcInvalidParams, err.Error()))
			return
		}
		out := make([]FillInfo, len(rows))
		for i, f := range rows {
			out[i] = FillInfo{
				BatchID:    f.BatchID,
				MatchID:    f.MatchID,
				PairID:     uint32(f.PairID),
				PriceTick:  f.PriceTick,
				FillQty:    f.FillQty,
				TimeBucket: f.TimeBucket,
				BuyerPID:   hexutil.Encode(f.BuyerPID[:]),
				SellerPID:  hexutil.Encode(f.SellerPID[:]),
			}
		}
		respondJSON(w, ok(out))

	default:
		respondJSON(w, fail(rpcMethodNotFound, "method not found"))
	}
}
