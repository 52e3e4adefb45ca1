package sequencer

import (
	"encoding/binary"

	"golang.org/x/crypto/blake2b"

	"github.com/single-instruction/Sequencer-zkvm/pkg/engine"
)

// NewRotatingSalt builds the per-fill salt function for a privacy operator.
// The salt is deterministic in (seed, batch_id, match_id), so one run is
// reproducible for the verifier while a re-run under a fresh seed rotates
// every PID.
func NewRotatingSalt(seed [32]byte) engine.SaltFunc {
	return func(batchID, matchID uint64) [32]byte {
		h, _ := blake2b.New256(nil)
		h.Write(seed[:])
		var buf [8]byte
		binary.LittleEndian.PutUint64(buf[:], batchID)
		h.Write(buf[:])
		binary.LittleEndian.PutUint64(buf[:], matchID)
		h.Write(buf[:])
		var out [32]byte
		copy(out[:], h.Sum(nil))
		return out
	}
}
