package storage

import (
	"bytes"
	"encoding/binary"
	"encoding/gob"
	"fmt"

	"github.com/cockroachdb/pebble"

	"github.com/single-instruction/Sequencer-zkvm/pkg/engine"
)

// Archive is a local pebble copy of finalized headers and fills. It is a
// read-side convenience, not a source of truth: the batch loop writes each
// finalized block after the SQL commit, and the API falls back to it for
// recent headers. On restart the loop recovers the next block number from it
// when the SQL store is unreachable.
type Archive struct {
	db *pebble.DB
}

func OpenArchive(path string) (*Archive, error) {
	db, err := pebble.Open(path, &pebble.Options{})
	if err != nil {
		return nil, fmt.Errorf("open archive: %w", err)
	}
	return &Archive{db: db}, nil
}

func (a *Archive) Close() error { return a.db.Close() }

func blockKey(n uint64) []byte {
	var k [8]byte
	binary.BigEndian.PutUint64(k[:], n)
	return k[:]
}

// keys: h:<8-byte-block>, f:<8-byte-block>, latest
func kHeader(n uint64) []byte { return append([]byte("h:"), blockKey(n)...) }
func kFills(n uint64) []byte  { return append([]byte("f:"), blockKey(n)...) }
func kLatest() []byte         { return []byte("latest") }

// SaveBlock records a finalized block. Called after the SQL commit; a failure
// here is logged by the caller and never un-finalizes the block.
func (a *Archive) SaveBlock(b *engine.Block) error {
	// Each value gets its own gob stream so the decoders below can read
	// them independently.
	var hbuf, fbuf bytes.Buffer
	if err := gob.NewEncoder(&hbuf).Encode(b.Header); err != nil {
		return fmt.Errorf("encode header: %w", err)
	}
	if err := gob.NewEncoder(&fbuf).Encode(b.Fills); err != nil {
		return fmt.Errorf("encode fills: %w", err)
	}
	hv, fv := hbuf.Bytes(), fbuf.Bytes()

	batch := a.db.NewBatch()
	defer batch.Close()
	if err := batch.Set(kHeader(b.Header.BlockNumber), hv, nil); err != nil {
		return err
	}
	if err := batch.Set(kFills(b.Header.BlockNumber), fv, nil); err != nil {
		return err
	}
	if err := batch.Set(kLatest(), blockKey(b.Header.BlockNumber), nil); err != nil {
		return err
	}
	if err := batch.Commit(pebble.Sync); err != nil {
		return fmt.Errorf("commit archive batch: %w", err)
	}
	return nil
}

// Header loads an archived header.
func (a *Archive) Header(blockNumber uint64) (engine.BlockHeader, error) {
	val, closer, err := a.db.Get(kHeader(blockNumber))
	if err == pebble.ErrNotFound {
		return engine.BlockHeader{}, fmt.Errorf("archived block %d: %w", blockNumber, ErrNotFound)
	}
	if err != nil {
		return engine.BlockHeader{}, err
	}
	defer closer.Close()
	var out engine.BlockHeader
	if err := gob.NewDecoder(bytes.NewReader(val)).Decode(&out); err != nil {
		return engine.BlockHeader{}, fmt.Errorf("decode header: %w", err)
	}
	return out, nil
}

// Fills loads the archived fills of one block.
func (a *Archive) Fills(blockNumber uint64) ([]engine.FillDraft, error) {
	val, closer, err := a.db.Get(kFills(blockNumber))
	if err == pebble.ErrNotFound {
		return nil, fmt.Errorf("archived fills %d: %w", blockNumber, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	defer closer.Close()
	var out []engine.FillDraft
	if err := gob.NewDecoder(bytes.NewReader(val)).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode fills: %w", err)
	}
	return out, nil
}

// LatestBlockNumber returns the highest archived block, ok=false when empty.
func (a *Archive) LatestBlockNumber() (uint64, bool, error) {
	val, closer, err := a.db.Get(kLatest())
	if err == pebble.ErrNotFound {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	defer closer.Close()
	return binary.BigEndian.Uint64(val), true, nil
}
