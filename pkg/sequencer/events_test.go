package sequencer

import (
	"testing"

	"github.com/single-instruction/Sequencer-zkvm/pkg/engine"
)

func TestEventsDeliverInOrder(t *testing.T) {
	e := NewEvents()
	fills := e.SubscribeFills()

	for i := uint64(1); i <= 3; i++ {
		e.PublishFill(engine.FillDraft{BatchID: 1, MatchID: i})
	}

	for want := uint64(1); want <= 3; want++ {
		select {
		case f := <-fills:
			if f.MatchID != want {
				t.Errorf("got match_id %d, want %d", f.MatchID, want)
			}
		default:
			t.Fatal("fill missing from subscriber buffer")
		}
	}
}

func TestPublishNeverBlocksOnSlowSubscriber(t *testing.T) {
	e := NewEvents()
	headers := e.SubscribeHeaders() // never drained

	// Overflow the buffer; every publish must return immediately.
	for i := uint64(0); i < HeaderBuffer+10; i++ {
		e.PublishHeader(engine.BlockHeader{BlockNumber: i})
	}

	if got := len(headers); got != HeaderBuffer {
		t.Errorf("buffered headers = %d, want %d (overflow dropped)", got, HeaderBuffer)
	}
	// The oldest messages survive; overflow drops the newest.
	h := <-headers
	if h.BlockNumber != 0 {
		t.Errorf("first buffered header = %d, want 0", h.BlockNumber)
	}
}

func TestIndependentSubscribers(t *testing.T) {
	e := NewEvents()
	a := e.SubscribeBooks()
	b := e.SubscribeBooks()

	e.PublishBook(BookUpdate{PairID: 7})

	if len(a) != 1 || len(b) != 1 {
		t.Errorf("subscriber buffers = %d,%d, want 1,1", len(a), len(b))
	}
}
