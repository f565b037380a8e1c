package cellkey

import (
	"bytes"
	"errors"
	"math"
	"sort"
	"testing"
)

func TestCodec_Decode(t *testing.T) {
	cases := []Parts{
		{Row: []byte("r1"), Family: "cf", Qualifier: []byte("q"), Timestamp: 10, Type: Value},
		{Row: []byte("r\x00x"), Family: "", Qualifier: nil, Timestamp: 0, Type: DeleteRow},
		{Row: []byte(""), Family: "f", Qualifier: []byte("\x00\x00"), Timestamp: -5, Type: AtomicAdd},
		{Row: []byte("row"), Family: "family", Qualifier: []byte("q"), Timestamp: math.MaxInt64, Type: AtomicAddInt64},
		{Row: []byte("row"), Family: "family", Qualifier: []byte("q"), Timestamp: math.MinInt64, Type: DeleteQualifierLatest},
	}

	for _, want := range cases {
		raw := Codec{}.Encode(want)
		got, err := Codec{}.Decode(raw)
		if err != nil {
			t.Fatalf("Decode(%v) failed: %v", want, err)
		}
		if !got.SameCell(want) || got.Timestamp != want.Timestamp || got.Type != want.Type {
			t.Fatalf("expected %+v, got %+v", want, got)
		}
	}
}

func TestCodec_SortOrder(t *testing.T) {
	// expected stream order
	ordered := [][]byte{
		Encode([]byte("a"), "", nil, 9, DeleteRow),
		Encode([]byte("a"), "cf", nil, 20, DeleteColumnFamily),
		Encode([]byte("a"), "cf", []byte("q"), 20, DeleteQualifierAll),
		Encode([]byte("a"), "cf", []byte("q"), 20, Value),
		Encode([]byte("a"), "cf", []byte("q"), 7, AtomicAdd),
		Encode([]byte("a"), "cf", []byte("q"), -1, Value),
		Encode([]byte("a"), "cf", []byte("q\x00"), 100, Value),
		Encode([]byte("a"), "cf", []byte("qq"), 100, Value),
		Encode([]byte("a"), "cf2", nil, 1, Value),
		Encode([]byte("a\x00"), "", nil, 1, DeleteRow),
		Encode([]byte("ab"), "cf", []byte("q"), 1, Value),
	}

	shuffled := make([][]byte, len(ordered))
	copy(shuffled, ordered)
	for i, j := 0, len(shuffled)-1; i < j; i, j = i+1, j-1 {
		shuffled[i], shuffled[j] = shuffled[j], shuffled[i]
	}
	sort.Slice(shuffled, func(i, j int) bool { return bytes.Compare(shuffled[i], shuffled[j]) < 0 })

	for i := range ordered {
		if !bytes.Equal(ordered[i], shuffled[i]) {
			a, _ := Codec{}.Decode(ordered[i])
			b, _ := Codec{}.Decode(shuffled[i])
			t.Fatalf("position %d: expected %+v, got %+v", i, a, b)
		}
	}
}

func TestCodec_DecodeMalformed(t *testing.T) {
	good := Encode([]byte("r"), "cf", []byte("q"), 1, Value)
	badType := append([]byte{}, good...)
	badType[len(badType)-1] = 0x7f

	cases := map[string]struct {
		raw  []byte
		want error
	}{
		"empty":          {raw: nil, want: ErrMalformedKey},
		"no terminator":  {raw: []byte("row"), want: ErrMalformedKey},
		"bad escape":     {raw: []byte{'r', 0x00, 0x05}, want: ErrMalformedKey},
		"short trailer":  {raw: good[:len(good)-2], want: ErrMalformedKey},
		"long trailer":   {raw: append(append([]byte{}, good...), 0x01), want: ErrMalformedKey},
		"unknown type":   {raw: badType, want: ErrUnknownType},
		"truncated zero": {raw: []byte{'r', 0x00}, want: ErrMalformedKey},
	}

	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Codec{}.Decode(tc.raw)
			if !errors.Is(err, tc.want) {
				t.Fatalf("expected %v, got %v", tc.want, err)
			}
			var de *DecodeError
			if !errors.As(err, &de) {
				t.Fatalf("expected *DecodeError, got %T", err)
			}
		})
	}
}

func TestInternalDecoder(t *testing.T) {
	raw := Encode([]byte("r"), "cf", []byte("q"), 42, AtomicAppend)
	older := MakeInternal(raw, 5)
	newer := MakeInternal(raw, 6)

	if bytes.Compare(newer, older) >= 0 {
		t.Fatal("newer sequence must sort before older one")
	}

	p, err := InternalDecoder{}.Decode(newer)
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if p.Timestamp != 42 || p.Type != AtomicAppend || string(p.Row) != "r" {
		t.Fatalf("unexpected parts %+v", p)
	}

	_, seq, err := SplitInternal(newer)
	if err != nil || seq != 6 {
		t.Fatalf("expected seq 6, got %d (%v)", seq, err)
	}

	if _, err := (InternalDecoder{}).Decode([]byte{1, 2}); !errors.Is(err, ErrMalformedKey) {
		t.Fatalf("expected ErrMalformedKey, got %v", err)
	}
}

func TestRecordTypeClassification(t *testing.T) {
	for _, tt := range []RecordType{AtomicAdd, AtomicAppend, AtomicPutIfAbsent, AtomicAddInt64} {
		if !IsAtomic(tt) || IsDelete(tt) {
			t.Fatalf("%v must be atomic", tt)
		}
	}
	for _, tt := range []RecordType{DeleteRow, DeleteColumnFamily, DeleteQualifierAll, DeleteQualifierLatest} {
		if IsAtomic(tt) || !IsDelete(tt) {
			t.Fatalf("%v must be a delete marker", tt)
		}
	}
	if IsAtomic(Value) || IsDelete(Value) {
		t.Fatal("Value is neither atomic nor a delete marker")
	}
	if RecordType(0).Valid() || RecordType(200).Valid() {
		t.Fatal("out of range types must be invalid")
	}
}

func TestRowPrefix(t *testing.T) {
	key := Encode([]byte("row\x00"), "cf", []byte("q"), 1, Value)
	if !bytes.HasPrefix(key, RowPrefix([]byte("row\x00"))) {
		t.Fatal("key must start with its row prefix")
	}
	if bytes.HasPrefix(key, RowPrefix([]byte("row"))) {
		t.Fatal("row prefix must not match a longer row")
	}
}
