package compaction

import (
	"io"
	"log/slog"
	"testing"

	"cfkv/pkg/cellkey"
	"cfkv/pkg/iterator"
	"cfkv/pkg/schema"
)

type rec struct {
	row, family, qualifier string
	ts                     int64
	typ                    cellkey.RecordType
	value                  []byte
}

func (r rec) key() []byte {
	return cellkey.Encode([]byte(r.row), r.family, []byte(r.qualifier), r.ts, r.typ)
}

func (r rec) entry() iterator.Entry {
	return iterator.Entry{Key: r.key(), Value: r.value}
}

func value(row, family, qualifier string, ts int64) rec {
	return rec{row: row, family: family, qualifier: qualifier, ts: ts, typ: cellkey.Value}
}

func marker(row, family, qualifier string, ts int64, t cellkey.RecordType) rec {
	return rec{row: row, family: family, qualifier: qualifier, ts: ts, typ: t}
}

func counter(r rec, v int64) rec {
	r.value = EncodeCounter(v)
	return r
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testIndex() *schema.Index {
	return schema.MustIndex(
		schema.Family{Name: "cf", MaxVersions: 2},
		schema.Family{Name: "one", MaxVersions: 1},
		schema.Family{Name: "many", MaxVersions: 10},
	)
}

func newTestStrategy(opts ...Option) *Strategy {
	return New(testIndex(), append([]Option{WithLogger(quietLogger())}, opts...)...)
}

// verdicts feeds records through drop and returns true for each dropped one.
func verdicts(drop func([]byte) bool, recs []rec) []bool {
	out := make([]bool, len(recs))
	for i, r := range recs {
		out[i] = drop(r.key())
	}
	return out
}

func assertVerdicts(t *testing.T, recs []rec, got, want []bool) {
	t.Helper()
	if len(got) != len(want) {
		t.Fatalf("expected %d verdicts, got %d", len(want), len(got))
	}
	for i := range want {
		if got[i] != want[i] {
			r := recs[i]
			t.Errorf("record #%d %s/%s/%s@%d %v: expected drop=%v, got %v",
				i, r.row, r.family, r.qualifier, r.ts, r.typ, want[i], got[i])
		}
	}
}

// drive runs a filter over entries the way the compaction driver does.
func drive(f Filter, entries []iterator.Entry) []iterator.Entry {
	it := iterator.NewSlice(entries)
	var out []iterator.Entry
	for it.Valid() {
		if f.Drop(it.Key()) {
			it.Next()
			continue
		}
		if k, v, ok := f.Merge(it); ok {
			out = append(out, iterator.Entry{Key: k, Value: v})
			continue
		}
		out = append(out, iterator.Entry{Key: it.Key(), Value: it.Value()})
		it.Next()
	}
	return out
}

func entries(recs ...rec) []iterator.Entry {
	out := make([]iterator.Entry, len(recs))
	for i, r := range recs {
		out[i] = r.entry()
	}
	return out
}
