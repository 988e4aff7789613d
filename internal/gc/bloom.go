package gc

import (
	"encoding/binary"
	"math"

	"github.com/bits-and-blooms/bitset"

	"dagback/internal/core"
)

// numHashes is k in the standard Bloom filter false-positive formula,
// chosen for a target false-positive rate of 5% (spec's mandated rate).
const numHashes = 4

// bloomFilter is a fixed-size Bloom filter over core.OID values. Unlike a
// generic Bloom filter package, its hash derivation exploits that an OID
// is already the uniformly random output of a keyed MAC: each of the k
// hash "functions" XORs a fixed random 32-byte mask into the OID and
// folds the result down to a bit index, rather than re-hashing the OID k
// times with an independent hash family.
type bloomFilter struct {
	bits  *bitset.BitSet
	size  uint
	masks [numHashes]core.OID
}

// newBloomFilter sizes the filter for n expected elements at a 5%
// false-positive rate, using the standard optimal-size formula
// m = -n*ln(p) / (ln(2)^2).
func newBloomFilter(n int, masks [numHashes]core.OID) *bloomFilter {
	const falsePositiveRate = 0.05
	size := uint(1)
	if n > 0 {
		m := -float64(n) * math.Log(falsePositiveRate) / (math.Ln2 * math.Ln2)
		size = uint(math.Ceil(m))
		if size == 0 {
			size = 1
		}
	}
	return &bloomFilter{
		bits:  bitset.New(size),
		size:  size,
		masks: masks,
	}
}

func (f *bloomFilter) indices(oid core.OID) [numHashes]uint {
	var out [numHashes]uint
	for i, mask := range f.masks {
		var xored core.OID
		for b := range oid {
			xored[b] = oid[b] ^ mask[b]
		}
		low := binary.BigEndian.Uint64(xored[len(xored)-8:])
		out[i] = uint(low % uint64(f.size))
	}
	return out
}

// Add inserts oid into the filter.
func (f *bloomFilter) Add(oid core.OID) {
	for _, idx := range f.indices(oid) {
		f.bits.Set(idx)
	}
}

// MightContain reports whether oid may have been added. False means
// definitely not added; true means possibly added (subject to the
// filter's false-positive rate).
func (f *bloomFilter) MightContain(oid core.OID) bool {
	for _, idx := range f.indices(oid) {
		if !f.bits.Test(idx) {
			return false
		}
	}
	return true
}
