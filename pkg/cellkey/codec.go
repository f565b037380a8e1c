package cellkey

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"math"
)

const (
	escapeByte    byte = 0x00
	escapedZero   byte = 0xff
	terminatorEnd byte = 0x01

	timestampSize = 8
	typeSize      = 1
)

var (
	ErrMalformedKey = errors.New("cellkey: malformed key")
	ErrUnknownType  = errors.New("cellkey: unknown record type")
)

// DecodeError describes why a raw key could not be decoded.
type DecodeError struct {
	Key    []byte
	Reason string
	Err    error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("%v: %s (key=%q)", e.Err, e.Reason, e.Key)
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}

// Parts are the decoded components of a cell key.
type Parts struct {
	Row       []byte
	Family    string
	Qualifier []byte
	Timestamp int64
	Type      RecordType
}

// SameCell reports whether p and o address the same (row, family, qualifier).
func (p Parts) SameCell(o Parts) bool {
	return p.Family == o.Family &&
		bytes.Equal(p.Row, o.Row) &&
		bytes.Equal(p.Qualifier, o.Qualifier)
}

// Decoder turns a stored key into its components.
type Decoder interface {
	Decode(raw []byte) (Parts, error)
}

// Codec is the raw key format. Keys sort bytewise in ascending
// (row, family, qualifier), descending timestamp, ascending type.
//
// Layout: esc(row) esc(family) esc(qualifier) ^ts(8, big endian) type(1),
// where esc writes 0x00 as 0x00 0xff and terminates with 0x00 0x01.
type Codec struct{}

// Encode builds the raw key for p.
func (Codec) Encode(p Parts) []byte {
	size := len(p.Row) + len(p.Family) + len(p.Qualifier) + 6 + timestampSize + typeSize
	buf := make([]byte, 0, size)
	buf = appendEscaped(buf, p.Row)
	buf = appendEscaped(buf, []byte(p.Family))
	buf = appendEscaped(buf, p.Qualifier)
	buf = binary.BigEndian.AppendUint64(buf, encodeTimestamp(p.Timestamp))
	return append(buf, byte(p.Type))
}

// Decode implements Decoder.
func (Codec) Decode(raw []byte) (Parts, error) {
	var (
		p    Parts
		rest = raw
		err  error
		fam  []byte
	)

	if p.Row, rest, err = readEscaped(rest); err != nil {
		return Parts{}, &DecodeError{Key: raw, Reason: "row: " + err.Error(), Err: ErrMalformedKey}
	}
	if fam, rest, err = readEscaped(rest); err != nil {
		return Parts{}, &DecodeError{Key: raw, Reason: "family: " + err.Error(), Err: ErrMalformedKey}
	}
	p.Family = string(fam)
	if p.Qualifier, rest, err = readEscaped(rest); err != nil {
		return Parts{}, &DecodeError{Key: raw, Reason: "qualifier: " + err.Error(), Err: ErrMalformedKey}
	}

	if len(rest) != timestampSize+typeSize {
		return Parts{}, &DecodeError{
			Key:    raw,
			Reason: fmt.Sprintf("want %d trailing bytes, got %d", timestampSize+typeSize, len(rest)),
			Err:    ErrMalformedKey,
		}
	}
	p.Timestamp = decodeTimestamp(binary.BigEndian.Uint64(rest[:timestampSize]))
	p.Type = RecordType(rest[timestampSize])
	if !p.Type.Valid() {
		return Parts{}, &DecodeError{Key: raw, Reason: p.Type.String(), Err: ErrUnknownType}
	}

	return p, nil
}

// Encode is a shorthand for Codec{}.Encode.
func Encode(row []byte, family string, qualifier []byte, ts int64, t RecordType) []byte {
	return Codec{}.Encode(Parts{Row: row, Family: family, Qualifier: qualifier, Timestamp: ts, Type: t})
}

// RowPrefix returns the prefix shared by every raw key of row.
func RowPrefix(row []byte) []byte {
	return appendEscaped(make([]byte, 0, len(row)+2), row)
}

func appendEscaped(dst, src []byte) []byte {
	for _, b := range src {
		if b == escapeByte {
			dst = append(dst, escapeByte, escapedZero)
			continue
		}
		dst = append(dst, b)
	}
	return append(dst, escapeByte, terminatorEnd)
}

func readEscaped(src []byte) (out, rest []byte, err error) {
	out = make([]byte, 0, 16)
	for i := 0; i < len(src); i++ {
		if src[i] != escapeByte {
			out = append(out, src[i])
			continue
		}
		if i+1 >= len(src) {
			return nil, nil, errors.New("truncated escape")
		}
		switch src[i+1] {
		case escapedZero:
			out = append(out, escapeByte)
			i++
		case terminatorEnd:
			return out, src[i+2:], nil
		default:
			return nil, nil, fmt.Errorf("bad escape 0x%02x", src[i+1])
		}
	}
	return nil, nil, errors.New("missing terminator")
}

// newer timestamps must sort first
func encodeTimestamp(ts int64) uint64 {
	return math.MaxUint64 - (uint64(ts) ^ (1 << 63))
}

func decodeTimestamp(v uint64) int64 {
	return int64((math.MaxUint64 - v) ^ (1 << 63))
}
