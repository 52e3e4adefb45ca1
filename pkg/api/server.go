package api

import (
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strconv"
	"strings"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/gorilla/mux"
	"github.com/rs/cors"

	"github.com/single-instruction/Sequencer-zkvm/pkg/engine"
	"github.com/single-instruction/Sequencer-zkvm/pkg/sequencer"
	"github.com/single-instruction/Sequencer-zkvm/pkg/storage"
)

// Server exposes the REST, JSON-RPC, and WebSocket surfaces of the
// sequencing core.
type Server struct {
	store   storage.Store
	archive *storage.Archive // optional header fallback
	router  *mux.Router
	hub     *Hub
	events  *sequencer.Events
}

// NewServer wires the read surfaces against the store and the event streams
// against the fan-out.
func NewServer(store storage.Store, archive *storage.Archive, events *sequencer.Events) *Server {
	s := &Server{
		store:   store,
		archive: archive,
		router:  mux.NewRouter(),
		hub:     NewHub(),
		events:  events,
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.router.HandleFunc("/healthz", s.handleHealth).Methods("GET")

	v1 := s.router.PathPrefix("/v1").Subrouter()
	v1.HandleFunc("/markets", s.handleGetMarkets).Methods("GET")
	v1.HandleFunc("/orderbook/{pair_id}", s.handleGetOrderbook).Methods("GET")
	v1.HandleFunc("/fills", s.handleGetFills).Methods("GET")
	v1.HandleFunc("/blocks/{block_number}", s.handleGetBlock).Methods("GET")
	v1.HandleFunc("/orders", s.handleSubmitOrder).Methods("POST")

	s.router.HandleFunc("/rpc", s.handleRPC).Methods("POST")
	s.router.HandleFunc("/ws", s.handleWebSocket)
}

// Start runs the stream pump and the HTTP listener. Blocks until the
// listener fails.
func (s *Server) Start(addr string) error {
	go s.pumpEvents()

	c := cors.New(cors.Options{
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Content-Type"},
	})
	handler := c.Handler(s.router)

	log.Printf("[api] sequencer api listening on %s", addr)
	return http.ListenAndServe(addr, handler)
}

// pumpEvents forwards the fan-out streams into websocket channels.
func (s *Server) pumpEvents() {
	headers := s.events.SubscribeHeaders()
	fills := s.events.SubscribeFills()
	books := s.events.SubscribeBooks()

	for {
		select {
		case h := <-headers:
			s.hub.BroadcastToChannel("blocks", WSEnvelope{Type: "block", Data: headerInfo(h)})
		case f := <-fills:
			s.hub.BroadcastToChannel("fills", WSEnvelope{Type: "fill", Data: fillInfo(f)})
		case b := <-books:
			s.hub.BroadcastToChannel(fmt.Sprintf("book:%d", b.PairID), WSEnvelope{
				Type: "book",
				Data: OrderbookInfo{PairID: uint32(b.PairID), BestBid: b.Book.BestBid, BestAsk: b.Book.BestAsk},
			})
		}
	}
}

// ==============================
// REST Handlers
// ==============================

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, map[string]string{"status": "ok"})
}

func (s *Server) handleGetMarkets(w http.ResponseWriter, r *http.Request) {
	markets, err := s.store.ActiveMarkets(r.Context())
	if err != nil {
		respondError(w, http.StatusInternalServerError, "storage error", err.Error())
		return
	}
	out := make([]MarketInfo, len(markets))
	for i, m := range markets {
		out[i] = MarketInfo{
			PairID:    uint32(m.PairID),
			PriceTick: m.PriceTick,
			SizeStep:  m.SizeStep,
			MakerBps:  m.MakerBps,
			TakerBps:  m.TakerBps,
			Status:    m.Status.String(),
		}
	}
	respondJSON(w, out)
}

func (s *Server) handleGetOrderbook(w http.ResponseWriter, r *http.Request) {
	pair, err := strconv.ParseUint(mux.Vars(r)["pair_id"], 10, 32)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid pair_id", err.Error())
		return
	}
	tob, err := s.store.TopOfBook(r.Context(), engine.PairID(pair))
	if err != nil {
		respondError(w, http.StatusInternalServerError, "storage error", err.Error())
		return
	}
	respondJSON(w, OrderbookInfo{PairID: uint32(pair), BestBid: tob.BestBid, BestAsk: tob.BestAsk})
}

func (s *Server) handleGetFills(w http.ResponseWriter, r *http.Request) {
	var filter storage.FillFilter
	q := r.URL.Query()
	if v := q.Get("pair_id"); v != "" {
		p, err := strconv.ParseUint(v, 10, 32)
		if err != nil {
			respondError(w, http.StatusBadRequest, "invalid pair_id", err.Error())
			return
		}
		pid := engine.PairID(p)
		filter.PairID = &pid
	}
	if v := q.Get("batch_id"); v != "" {
		b, err := strconv.ParseUint(v, 10, 64)
		if err != nil {
			respondError(w, http.StatusBadRequest, "invalid batch_id", err.Error())
			return
		}
		filter.BatchID = &b
	}
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			respondError(w, http.StatusBadRequest, "invalid limit", "")
			return
		}
		filter.Limit = n
	}

	rows, err := s.store.Fills(r.Context(), filter)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "storage error", err.Error())
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
	respondJSON(w, out)
}

func (s *Server) handleGetBlock(w http.ResponseWriter, r *http.Request) {
	n, err := strconv.ParseUint(mux.Vars(r)["block_number"], 10, 64)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid block_number", err.Error())
		return
	}
	h, err := s.lookupHeader(r, n)
	if errors.Is(err, storage.ErrNotFound) {
		respondError(w, http.StatusNotFound, "block not found", "")
		return
	}
	if err != nil {
		respondError(w, http.StatusInternalServerError, "storage error", err.Error())
		return
	}
	respondJSON(w, headerInfo(h))
}

func (s *Server) lookupHeader(r *http.Request, n uint64) (engine.BlockHeader, error) {
	h, err := s.store.BatchHeader(r.Context(), n)
	if err == nil || errors.Is(err, storage.ErrNotFound) || s.archive == nil {
		return h, err
	}
	// SQL store unavailable; serve from the local archive.
	return s.archive.Header(n)
}

func (s *Server) handleSubmitOrder(w http.ResponseWriter, r *http.Request) {
	var req SubmitOrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body", err.Error())
		return
	}
	if req.Side > 1 {
		respondError(w, http.StatusBadRequest, "invalid order", "side must be 0 or 1")
		return
	}
	if req.Amount == 0 || req.PriceTick == 0 {
		respondError(w, http.StatusBadRequest, "invalid order", "amount and price_tick must be positive")
		return
	}
	orderHash, err := parseHash32(req.OrderHash)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid order_hash", err.Error())
		return
	}
	pkHash, err := parseHash32(req.PkHash)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid pk_hash", err.Error())
		return
	}

	orderID, ingestSeq, err := s.store.SubmitOrder(r.Context(), storage.NewOrder{
		PairID:     engine.PairID(req.PairID),
		Side:       engine.Side(req.Side),
		PriceTick:  req.PriceTick,
		Amount:     req.Amount,
		TimeBucket: req.TimeBucket,
		Nonce:      req.Nonce,
		OrderHash:  orderHash,
		PkHash:     engine.PkHash(pkHash),
	})
	if errors.Is(err, storage.ErrUnknownMarket) {
		respondError(w, http.StatusBadRequest, "unknown market", "")
		return
	}
	if err != nil {
		respondError(w, http.StatusInternalServerError, "storage error", err.Error())
		return
	}

	log.Printf("[api] order accepted: id=%d pair=%d seq=%d", orderID, req.PairID, ingestSeq)
	respondJSON(w, SubmitOrderResponse{OrderID: orderID, IngestSeq: ingestSeq})
}

// ==============================
// Helper Functions
// ==============================

// parseHash32 accepts a 32-byte hex digest with or without the 0x prefix.
func parseHash32(s string) ([32]byte, error) {
	var out [32]byte
	var raw []byte
	var err error
	if strings.HasPrefix(s, "0x") || strings.HasPrefix(s, "0X") {
		raw, err = hexutil.Decode(s)
	} else {
		raw, err = hex.DecodeString(s)
	}
	if err != nil {
		return out, err
	}
	if len(raw) != 32 {
		return out, fmt.Errorf("hash must be 32 bytes, got %d", len(raw))
	}
	copy(out[:], raw)
	return out, nil
}

func headerInfo(h engine.BlockHeader) BlockHeaderInfo {
	return BlockHeaderInfo{
		BlockNumber:      h.BlockNumber,
		BatchID:          h.BatchID,
		ParentStateRoot:  hexutil.Encode(h.ParentStateRoot[:]),
		NewStateRoot:     hexutil.Encode(h.NewStateRoot[:]),
		MarketsRoot:      hexutil.Encode(h.MarketsRoot[:]),
		OrdersCommitment: hexutil.Encode(h.OrdersCommitment[:]),
		FillsCommitment:  hexutil.Encode(h.FillsCommitment[:]),
		TimestampMS:      h.TimestampMS,
	}
}

func fillInfo(f engine.FillDraft) FillInfo {
	return FillInfo{
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

func respondJSON(w http.ResponseWriter, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, errMsg string, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(ErrorResponse{Error: errMsg, Message: message})
}
