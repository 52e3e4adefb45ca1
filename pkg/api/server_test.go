package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/holiman/uint256"

	"github.com/single-instruction/Sequencer-zkvm/pkg/engine"
	"github.com/single-instruction/Sequencer-zkvm/pkg/sequencer"
	"github.com/single-instruction/Sequencer-zkvm/pkg/storage"
)

func testServer(t *testing.T) (*Server, *storage.Memory) {
	t.Helper()
	m := storage.NewMemory()
	m.AddMarket(engine.MarketParams{
		PairID:      1,
		PriceTick:   1,
		SizeStep:    1,
		NotionalMin: uint256.NewInt(0),
		NotionalMax: uint256.NewInt(1_000_000),
		TakerBps:    5,
		Status:      engine.Active,
	})
	return NewServer(m, nil, sequencer.NewEvents()), m
}

func doJSON(t *testing.T, s *Server, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var rd *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			t.Fatal(err)
		}
		rd = bytes.NewReader(raw)
	} else {
		rd = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, rd)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	return w
}

func validSubmit() SubmitOrderRequest {
	return SubmitOrderRequest{
		PairID:    1,
		Side:      0,
		PriceTick: 100,
		Amount:    10,
		Nonce:     1,
		OrderHash: "0x" + strings.Repeat("ab", 32),
		PkHash:    strings.Repeat("cd", 32), // bare hex accepted too
	}
}

func TestSubmitOrderValidation(t *testing.T) {
	s, _ := testServer(t)

	tests := []struct {
		name   string
		mutate func(*SubmitOrderRequest)
		want   int
	}{
		{"valid", func(r *SubmitOrderRequest) {}, http.StatusOK},
		{"bad side", func(r *SubmitOrderRequest) { r.Side = 2 }, http.StatusBadRequest},
		{"zero amount", func(r *SubmitOrderRequest) { r.Amount = 0 }, http.StatusBadRequest},
		{"zero price", func(r *SubmitOrderRequest) { r.PriceTick = 0 }, http.StatusBadRequest},
		{"short hash", func(r *SubmitOrderRequest) { r.OrderHash = "0xabcd" }, http.StatusBadRequest},
		{"malformed hex", func(r *SubmitOrderRequest) { r.PkHash = strings.Repeat("zz", 32) }, http.StatusBadRequest},
		{"unknown market", func(r *SubmitOrderRequest) { r.PairID = 99 }, http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := validSubmit()
			tt.mutate(&req)
			w := doJSON(t, s, "POST", "/v1/orders", req)
			if w.Code != tt.want {
				t.Errorf("status = %d, want %d (body: %s)", w.Code, tt.want, w.Body.String())
			}
		})
	}
}

func TestSubmitOrderAssignsSequence(t *testing.T) {
	s, _ := testServer(t)

	var first, second SubmitOrderResponse
	if w := doJSON(t, s, "POST", "/v1/orders", validSubmit()); w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	} else if err := json.Unmarshal(w.Body.Bytes(), &first); err != nil {
		t.Fatal(err)
	}
	if w := doJSON(t, s, "POST", "/v1/orders", validSubmit()); w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	} else if err := json.Unmarshal(w.Body.Bytes(), &second); err != nil {
		t.Fatal(err)
	}

	if second.IngestSeq != first.IngestSeq+1 {
		t.Errorf("ingest_seq %d then %d, want strictly monotonic", first.IngestSeq, second.IngestSeq)
	}
	if first.OrderID == second.OrderID {
		t.Error("order ids must be unique")
	}
}

func TestGetMarketsAndOrderbook(t *testing.T) {
	s, m := testServer(t)
	m.SubmitOrder(context.Background(), storage.NewOrder{PairID: 1, Side: engine.Bid, PriceTick: 100, Amount: 4})

	w := doJSON(t, s, "GET", "/v1/markets", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("markets status = %d", w.Code)
	}
	var markets []MarketInfo
	json.Unmarshal(w.Body.Bytes(), &markets)
	if len(markets) != 1 || markets[0].Status != "Active" {
		t.Errorf("markets = %+v", markets)
	}

	w = doJSON(t, s, "GET", "/v1/orderbook/1", nil)
	var ob OrderbookInfo
	json.Unmarshal(w.Body.Bytes(), &ob)
	if ob.BestBid == nil || ob.BestBid.PriceTick != 100 || ob.BestBid.Qty != 4 {
		t.Errorf("orderbook = %+v", ob)
	}
}

func TestGetBlockNotFound(t *testing.T) {
	s, _ := testServer(t)
	if w := doJSON(t, s, "GET", "/v1/blocks/42", nil); w.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", w.Code)
	}
}

func TestRPCDispatch(t *testing.T) {
	s, _ := testServer(t)

	rpc := func(method string, params interface{}) rpcResponse {
		raw, _ := json.Marshal(params)
		w := doJSON(t, s, "POST", "/rpc", map[string]interface{}{
			"jsonrpc": "2.0",
			"method":  method,
			"params":  json.RawMessage(raw),
			"id":      1,
		})
		var res rpcResponse
		if err := json.Unmarshal(w.Body.Bytes(), &res); err != nil {
			t.Fatalf("bad rpc response: %v", err)
		}
		return res
	}

	if res := rpc("no_suchMethod", nil); res.Error == nil || res.Error.Code != -32601 {
		t.Errorf("unknown method error = %+v, want -32601", res.Error)
	}
	if res := rpc("batch_getHeader", map[string]uint64{"block_number": 9}); res.Error == nil || res.Error.Code != -32602 {
		t.Errorf("missing block error = %+v, want -32602", res.Error)
	}
	if res := rpc("book_getTopOfBook", map[string]uint32{"pair_id": 1}); res.Error != nil {
		t.Errorf("top of book error = %+v", res.Error)
	}
	if res := rpc("fills_getSince", map[string]interface{}{"limit": 10}); res.Error != nil {
		t.Errorf("fills error = %+v", res.Error)
	}
}
