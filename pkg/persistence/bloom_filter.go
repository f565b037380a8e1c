package persistence

import (
	"encoding/binary"
	"errors"
	"math"

	"github.com/cespare/xxhash/v2"
)

var (
	errBadBloom = errors.New("malformed bloom filter")
)

// BloomFilter answers "definitely absent" for keys that were never added.
type BloomFilter interface {
	Add(key []byte)
	MayContain(key []byte) bool
}

// bloomFilter uses double hashing over one xxhash sum.
type bloomFilter struct {
	words  []uint64
	nbits  uint64
	hashes uint32
}

// newBloomFilter sizes a filter for expectedItems keys at the given false
// positive rate.
func newBloomFilter(expectedItems uint32, falsePositiveRate float64) *bloomFilter {
	nbits := calculateOptimalSize(expectedItems, falsePositiveRate)
	return &bloomFilter{
		words:  make([]uint64, (nbits+63)/64),
		nbits:  nbits,
		hashes: calculateHashCount(expectedItems, nbits),
	}
}

func (bf *bloomFilter) Add(key []byte) {
	h1, h2 := bloomHashes(key)
	for i := uint32(0); i < bf.hashes; i++ {
		bit := (h1 + uint64(i)*h2) % bf.nbits
		bf.words[bit/64] |= 1 << (bit % 64)
	}
}

func (bf *bloomFilter) MayContain(key []byte) bool {
	h1, h2 := bloomHashes(key)
	for i := uint32(0); i < bf.hashes; i++ {
		bit := (h1 + uint64(i)*h2) % bf.nbits
		if bf.words[bit/64]&(1<<(bit%64)) == 0 {
			return false
		}
	}
	return true
}

// layout: hashes(4) nbits(8) words(8 each), little endian
func (bf *bloomFilter) marshal() []byte {
	buf := make([]byte, 0, 12+8*len(bf.words))
	buf = binary.LittleEndian.AppendUint32(buf, bf.hashes)
	buf = binary.LittleEndian.AppendUint64(buf, bf.nbits)
	for _, w := range bf.words {
		buf = binary.LittleEndian.AppendUint64(buf, w)
	}
	return buf
}

func unmarshalBloom(data []byte) (*bloomFilter, error) {
	if len(data) < 12 {
		return nil, errBadBloom
	}
	bf := &bloomFilter{
		hashes: binary.LittleEndian.Uint32(data[0:4]),
		nbits:  binary.LittleEndian.Uint64(data[4:12]),
	}
	data = data[12:]
	if bf.nbits == 0 || bf.hashes == 0 || uint64(len(data)) != 8*((bf.nbits+63)/64) {
		return nil, errBadBloom
	}
	bf.words = make([]uint64, len(data)/8)
	for i := range bf.words {
		bf.words[i] = binary.LittleEndian.Uint64(data[8*i:])
	}
	return bf, nil
}

func bloomHashes(key []byte) (uint64, uint64) {
	sum := xxhash.Sum64(key)
	return sum & math.MaxUint32, sum>>32 | 1
}

// m = -(n * ln(p)) / (ln(2)^2)
func calculateOptimalSize(expectedItems uint32, falsePositiveRate float64) uint64 {
	n := math.Max(float64(expectedItems), 1)
	if falsePositiveRate <= 0 || falsePositiveRate >= 1 {
		falsePositiveRate = 0.01
	}
	m := math.Ceil(-n * math.Log(falsePositiveRate) / (math.Ln2 * math.Ln2))
	return uint64(math.Max(m, 64))
}

// k = (m/n) * ln(2)
func calculateHashCount(expectedItems uint32, nbits uint64) uint32 {
	n := math.Max(float64(expectedItems), 1)
	k := math.Round(float64(nbits) / n * math.Ln2)
	return uint32(min(max(k, 1), 16))
}
