package cellkey

import (
	"encoding/binary"
	"math"
)

// trailer appended by the storage layer to every raw key
const seqTrailerSize = 8

// MakeInternal wraps a raw key with the write sequence number. For equal raw
// keys the most recent write sorts first.
func MakeInternal(raw []byte, seq uint64) []byte {
	buf := make([]byte, 0, len(raw)+seqTrailerSize)
	buf = append(buf, raw...)
	return binary.BigEndian.AppendUint64(buf, math.MaxUint64-seq)
}

// SplitInternal is the inverse of MakeInternal.
func SplitInternal(ikey []byte) (raw []byte, seq uint64, err error) {
	if len(ikey) < seqTrailerSize {
		return nil, 0, &DecodeError{Key: ikey, Reason: "internal key shorter than trailer", Err: ErrMalformedKey}
	}
	n := len(ikey) - seqTrailerSize
	return ikey[:n], math.MaxUint64 - binary.BigEndian.Uint64(ikey[n:]), nil
}

// InternalDecoder decodes internal keys by peeling off the sequence trailer
// and handing the raw key to Raw.
type InternalDecoder struct {
	Raw Decoder
}

// Decode implements Decoder.
func (d InternalDecoder) Decode(ikey []byte) (Parts, error) {
	raw, _, err := SplitInternal(ikey)
	if err != nil {
		return Parts{}, err
	}
	dec := d.Raw
	if dec == nil {
		dec = Codec{}
	}
	return dec.Decode(raw)
}
