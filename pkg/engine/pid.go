package engine

import (
	"encoding/binary"

	"golang.org/x/crypto/blake2b"
)

// DSPid is the domain separator for PID derivation, shared with the proving
// circuit.
const DSPid uint64 = 0x7069645f00000001

// Hasher32 hashes a variable number of 32-byte field elements under a domain
// tag. The production implementation is a SNARK-friendly sponge; the
// reference below is blake2b.
type Hasher32 interface {
	HashMany32(domainTag uint64, elems [][32]byte) [32]byte
}

// Blake2Many32 is the reference Hasher32 over blake2b-256 with the domain
// tag mixed in as an 8-byte little-endian prefix.
type Blake2Many32 struct{}

func (Blake2Many32) HashMany32(domainTag uint64, elems [][32]byte) [32]byte {
	h, _ := blake2b.New256(nil)
	var tag [8]byte
	binary.LittleEndian.PutUint64(tag[:], domainTag)
	h.Write(tag[:])
	for _, e := range elems {
		h.Write(e[:])
	}
	var out [32]byte
	copy(out[:], h.Sum(nil))
	return out
}

// be32 writes x big-endian into the last 8 bytes of a 32-byte field element,
// zero-padded on the left.
func be32(x uint64) [32]byte {
	var b [32]byte
	binary.BigEndian.PutUint64(b[24:], x)
	return b
}

// DerivePID maps (pk_hash, batch_id, match_id, optional salt) to an opaque
// per-fill identifier. Identical inputs produce identical PIDs; the salt,
// when enabled, rotates PIDs for the same triple across re-runs.
func DerivePID(h Hasher32, pk PkHash, batchID, matchID uint64, salt *[32]byte) [32]byte {
	elems := [][32]byte{pk, be32(batchID), be32(matchID)}
	if salt != nil {
		elems = append(elems, *salt)
	}
	return h.HashMany32(DSPid, elems)
}
