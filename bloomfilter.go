package lsmkv

import (
	"encoding/binary"
	"math"

	"github.com/cespare/xxhash/v2"
)

// bloomFilter is a probabilistic set-membership sidecar for a sorted
// run's keys (SPEC_FULL.md §3). False positives are possible; false
// negatives are not — if MayContain reports false, the key is definitely
// absent from the run and the binary search can be skipped entirely.
//
// Grounded on pkg/lsm/bloom.go, with the hash family swapped from
// double-FNV to a single xxhash.Sum64 split into two 32-bit halves for
// the double-hashing scheme (SPEC_FULL.md §3).
type bloomFilter struct {
	bits      []byte
	size      uint64 // in bits
	hashCount int
}

func newBloomFilter(expectedItems int, falsePositiveRate float64) *bloomFilter {
	if expectedItems <= 0 {
		expectedItems = 1
	}
	if falsePositiveRate <= 0 || falsePositiveRate >= 1 {
		falsePositiveRate = 0.01
	}

	size := uint64(math.Ceil(-float64(expectedItems) * math.Log(falsePositiveRate) / (math.Ln2 * math.Ln2)))
	if size < 8 {
		size = 8
	}
	const maxBits = 1 << 30 // ~134MB, generous cap against pathological inputs
	if size > maxBits {
		size = maxBits
	}

	hashCount := int(math.Ceil((float64(size) / float64(expectedItems)) * math.Ln2))
	if hashCount < 1 {
		hashCount = 1
	}
	if hashCount > 30 {
		hashCount = 30
	}

	return &bloomFilter{
		bits:      make([]byte, (size+7)/8),
		size:      size,
		hashCount: hashCount,
	}
}

// halves returns the two 32-bit hash halves used for double hashing.
func (bf *bloomFilter) halves(key []byte) (uint64, uint64) {
	h := xxhash.Sum64(key)
	h1 := h & 0xffffffff
	h2 := h >> 32
	if h2%2 == 0 {
		h2++ // keep h2 odd so it stays coprime with power-of-two-ish sizes
	}
	return h1, h2
}

func (bf *bloomFilter) indexAt(h1, h2 uint64, i int) uint64 {
	return (h1 + uint64(i)*h2) % bf.size
}

func (bf *bloomFilter) setBit(idx uint64) {
	bf.bits[idx/8] |= 1 << (idx % 8)
}

func (bf *bloomFilter) getBit(idx uint64) bool {
	return bf.bits[idx/8]&(1<<(idx%8)) != 0
}

func (bf *bloomFilter) Add(key []byte) {
	h1, h2 := bf.halves(key)
	for i := 0; i < bf.hashCount; i++ {
		bf.setBit(bf.indexAt(h1, h2, i))
	}
}

// MayContain returns false only when key is definitely not in the run.
func (bf *bloomFilter) MayContain(key []byte) bool {
	h1, h2 := bf.halves(key)
	for i := 0; i < bf.hashCount; i++ {
		if !bf.getBit(bf.indexAt(h1, h2, i)) {
			return false
		}
	}
	return true
}

// marshalBinary serializes the filter as: hashCount(u32) | size(u64) | bits.
func (bf *bloomFilter) marshalBinary() []byte {
	out := make([]byte, 4+8+len(bf.bits))
	binary.LittleEndian.PutUint32(out[0:4], uint32(bf.hashCount))
	binary.LittleEndian.PutUint64(out[4:12], bf.size)
	copy(out[12:], bf.bits)
	return out
}

func unmarshalBloomFilter(data []byte) (*bloomFilter, error) {
	if len(data) < 12 {
		return nil, ErrCorruptRun
	}
	hashCount := int(binary.LittleEndian.Uint32(data[0:4]))
	size := binary.LittleEndian.Uint64(data[4:12])
	bits := data[12:]
	if uint64(len(bits)) < (size+7)/8 {
		return nil, ErrCorruptRun
	}
	return &bloomFilter{bits: bits, size: size, hashCount: hashCount}, nil
}
