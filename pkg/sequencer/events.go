package sequencer

import (
	"sync"

	"github.com/single-instruction/Sequencer-zkvm/pkg/engine"
	"github.com/single-instruction/Sequencer-zkvm/pkg/storage"
)

// Broadcast buffer sizes. Subscribers that fall behind lose messages
// silently; the streams are a notification surface, not a source of truth,
// and clients reconcile through the read endpoints.
const (
	HeaderBuffer = 1024
	FillBuffer   = 4096
	BookBuffer   = 2048
)

// BookUpdate is a recomputed top-of-book for one pair.
type BookUpdate struct {
	PairID engine.PairID
	Book   storage.TopOfBook
}

// Events fans finalized headers, fills, and top-of-book updates out to
// subscribers over bounded channels. Publishing never blocks: fills for block
// N are handed to every live subscriber before the loop starts block N+1, in
// commitment order.
type Events struct {
	mu      sync.RWMutex
	headers []chan engine.BlockHeader
	fills   []chan engine.FillDraft
	books   []chan BookUpdate
}

func NewEvents() *Events { return &Events{} }

// SubscribeHeaders returns a channel of finalized block headers.
func (e *Events) SubscribeHeaders() <-chan engine.BlockHeader {
	ch := make(chan engine.BlockHeader, HeaderBuffer)
	e.mu.Lock()
	e.headers = append(e.headers, ch)
	e.mu.Unlock()
	return ch
}

// SubscribeFills returns a channel of finalized fills in publish order.
func (e *Events) SubscribeFills() <-chan engine.FillDraft {
	ch := make(chan engine.FillDraft, FillBuffer)
	e.mu.Lock()
	e.fills = append(e.fills, ch)
	e.mu.Unlock()
	return ch
}

// SubscribeBooks returns a channel of top-of-book updates.
func (e *Events) SubscribeBooks() <-chan BookUpdate {
	ch := make(chan BookUpdate, BookBuffer)
	e.mu.Lock()
	e.books = append(e.books, ch)
	e.mu.Unlock()
	return ch
}

func (e *Events) PublishHeader(h engine.BlockHeader) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	for _, ch := range e.headers {
		select {
		case ch <- h:
		default:
			// Subscriber buffer full, drop.
		}
	}
}

func (e *Events) PublishFill(f engine.FillDraft) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	for _, ch := range e.fills {
		select {
		case ch <- f:
		default:
		}
	}
}

func (e *Events) PublishBook(u BookUpdate) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	for _, ch := range e.books {
		select {
		case ch <- u:
		default:
		}
	}
}
