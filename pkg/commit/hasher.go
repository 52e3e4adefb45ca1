package commit

import (
	"encoding/binary"

	"golang.org/x/crypto/blake2b"
)

// Hasher is the two-capability commitment hash. A production build
// substitutes a SNARK-friendly sponge; Blake2Hasher is the host reference.
type Hasher interface {
	// HBytes hashes arbitrary bytes with the domain tag mixed in as an
	// 8-byte little-endian prefix.
	HBytes(domainTag uint64, data []byte) [32]byte
	// H2 hashes two 32-byte accumulators under a domain tag.
	H2(domainTag uint64, a, b [32]byte) [32]byte
}

// Domain tags, one constant per use site. Shared with the circuit.
const (
	DomainOrderLeaf  uint64 = 0x76C6
	DomainOrdersAcc  uint64 = 0x72646
	DomainFillLeaf   uint64 = 0x66C66
	DomainFillsAcc   uint64 = 0x66663
	DomainMarketLeaf uint64 = 0x6D61726
	DomainMarketsAcc uint64 = 0x6D61723
)

// Blake2Hasher is the reference implementation over blake2b-256. It also
// satisfies engine.Hasher32, so one value drives both the commitment fold and
// PID derivation.
type Blake2Hasher struct{}

func tagged(domainTag uint64) [8]byte {
	var tag [8]byte
	binary.LittleEndian.PutUint64(tag[:], domainTag)
	return tag
}

func (Blake2Hasher) HBytes(domainTag uint64, data []byte) [32]byte {
	h, _ := blake2b.New256(nil)
	tag := tagged(domainTag)
	h.Write(tag[:])
	h.Write(data)
	var out [32]byte
	copy(out[:], h.Sum(nil))
	return out
}

func (Blake2Hasher) H2(domainTag uint64, a, b [32]byte) [32]byte {
	h, _ := blake2b.New256(nil)
	tag := tagged(domainTag)
	h.Write(tag[:])
	h.Write(a[:])
	h.Write(b[:])
	var out [32]byte
	copy(out[:], h.Sum(nil))
	return out
}

func (Blake2Hasher) HashMany32(domainTag uint64, elems [][32]byte) [32]byte {
	h, _ := blake2b.New256(nil)
	tag := tagged(domainTag)
	h.Write(tag[:])
	for _, e := range elems {
		h.Write(e[:])
	}
	var out [32]byte
	copy(out[:], h.Sum(nil))
	return out
}
