package sequencer

import (
	"encoding/hex"
	"time"

	cache "github.com/patrickmn/go-cache"

	"github.com/single-instruction/Sequencer-zkvm/pkg/engine"
)

// FillRef locates the fill a PID was derived for. Trusted-path only: the
// reverse mapping re-links pseudonyms to orders and must never reach the
// public read surface.
type FillRef struct {
	BlockNumber   uint64
	BatchID       uint64
	PairID        engine.PairID
	MatchID       uint64
	BuyerOrderID  uint64
	SellerOrderID uint64
}

// PIDCache keeps a TTL-bounded reverse index from recently issued PIDs to
// their fill coordinates for the privacy operator's audit tooling.
type PIDCache struct {
	c *cache.Cache
}

func NewPIDCache(ttl time.Duration) *PIDCache {
	return &PIDCache{c: cache.New(ttl, 2*ttl)}
}

// Record indexes both PIDs of every fill in a finalized block.
func (p *PIDCache) Record(b *engine.Block) {
	for i := range b.Fills {
		f := &b.Fills[i]
		ref := FillRef{
			BlockNumber:   b.Header.BlockNumber,
			BatchID:       f.BatchID,
			PairID:        f.PairID,
			MatchID:       f.MatchID,
			BuyerOrderID:  f.BuyerOrderID,
			SellerOrderID: f.SellerOrderID,
		}
		p.c.SetDefault(hex.EncodeToString(f.BuyerPID[:]), ref)
		p.c.SetDefault(hex.EncodeToString(f.SellerPID[:]), ref)
	}
}

// Lookup resolves a PID issued within the TTL window.
func (p *PIDCache) Lookup(pid [32]byte) (FillRef, bool) {
	v, ok := p.c.Get(hex.EncodeToString(pid[:]))
	if !ok {
		return FillRef{}, false
	}
	return v.(FillRef), true
}

// Len reports the number of cached entries, including expired ones the
// janitor has not purged yet.
func (p *PIDCache) Len() int { return p.c.ItemCount() }
