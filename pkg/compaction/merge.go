package compaction

import (
	"encoding/binary"

	"cfkv/pkg/cellkey"
)

// accumulator folds a run of atomic records, newest first, into one record.
// The kind of the newest record decides how older payloads are combined.
type accumulator struct {
	key     []byte
	kind    cellkey.RecordType
	counter int64
	buf     []byte
}

func newAccumulator(key, value []byte, kind cellkey.RecordType) *accumulator {
	acc := &accumulator{
		key:  append([]byte(nil), key...),
		kind: kind,
	}
	switch kind {
	case cellkey.AtomicAdd, cellkey.AtomicAddInt64:
		acc.counter = acc.decodeCounter(value)
	default:
		acc.buf = append([]byte(nil), value...)
	}
	return acc
}

// fold applies an older record underneath what has been accumulated so far.
func (a *accumulator) fold(value []byte) {
	switch a.kind {
	case cellkey.AtomicAdd, cellkey.AtomicAddInt64:
		a.counter += a.decodeCounter(value)
	case cellkey.AtomicAppend:
		merged := make([]byte, 0, len(value)+len(a.buf))
		merged = append(merged, value...)
		a.buf = append(merged, a.buf...)
	case cellkey.AtomicPutIfAbsent:
		// an older value existed, so the newer put never took effect
		a.buf = append(a.buf[:0], value...)
	}
}

func (a *accumulator) finish() (key, value []byte) {
	switch a.kind {
	case cellkey.AtomicAdd:
		value = binary.BigEndian.AppendUint64(nil, uint64(a.counter))
	case cellkey.AtomicAddInt64:
		value = binary.LittleEndian.AppendUint64(nil, uint64(a.counter))
	default:
		value = a.buf
	}
	return a.key, value
}

// Payloads that are not eight bytes long count as zero.
func (a *accumulator) decodeCounter(value []byte) int64 {
	if len(value) != 8 {
		return 0
	}
	if a.kind == cellkey.AtomicAddInt64 {
		return int64(binary.LittleEndian.Uint64(value))
	}
	return int64(binary.BigEndian.Uint64(value))
}

// Resolve applies an atomic delta of kind t on top of base and returns the
// resulting value, the same way a merge run would fold them.
func Resolve(t cellkey.RecordType, delta, base []byte) []byte {
	acc := newAccumulator(nil, delta, t)
	acc.fold(base)
	_, value := acc.finish()
	return value
}

// EncodeCounter returns the payload format used by AtomicAdd and Value
// records holding a counter.
func EncodeCounter(v int64) []byte {
	return binary.BigEndian.AppendUint64(nil, uint64(v))
}

// DecodeCounter is the inverse of EncodeCounter.
func DecodeCounter(b []byte) int64 {
	return (&accumulator{kind: cellkey.AtomicAdd}).decodeCounter(b)
}

// EncodeInt64Counter returns the little-endian payload of AtomicAddInt64.
func EncodeInt64Counter(v int64) []byte {
	return binary.LittleEndian.AppendUint64(nil, uint64(v))
}

// DecodeInt64Counter is the inverse of EncodeInt64Counter.
func DecodeInt64Counter(b []byte) int64 {
	return (&accumulator{kind: cellkey.AtomicAddInt64}).decodeCounter(b)
}
