package compaction

import (
	"testing"

	"cfkv/pkg/cellkey"
	"cfkv/pkg/schema"
)

func TestDrop(t *testing.T) {
	cases := []struct {
		name string
		recs []rec
		want []bool
	}{
		{
			name: "version cap keeps most recent",
			recs: []rec{value("r", "cf", "q", 10), value("r", "cf", "q", 9), value("r", "cf", "q", 8)},
			want: []bool{false, false, true},
		},
		{
			name: "qualifier boundary resets versions",
			recs: []rec{
				value("r", "one", "q1", 3),
				value("r", "one", "q1", 2),
				value("r", "one", "q2", 1),
			},
			want: []bool{false, true, false},
		},
		{
			name: "qualifier delete hides older versions",
			recs: []rec{
				marker("r", "cf", "q", 5, cellkey.DeleteQualifierAll),
				value("r", "cf", "q", 4),
				value("r", "cf", "q", 3),
				value("r", "cf", "q2", 3),
			},
			want: []bool{false, true, true, false},
		},
		{
			name: "row delete cascades over families",
			recs: []rec{
				marker("r", "", "", 5, cellkey.DeleteRow),
				marker("r", "", "", 4, cellkey.DeleteRow),
				value("r", "cf", "q1", 6),
				value("r", "cf", "q1", 5),
				value("r", "cf", "q1", 4),
				value("r", "many", "q", 3),
				value("r2", "cf", "q1", 1),
			},
			want: []bool{false, true, false, true, true, true, false},
		},
		{
			name: "family delete is scoped to its family",
			recs: []rec{
				marker("r", "cf", "", 5, cellkey.DeleteColumnFamily),
				value("r", "cf", "a", 6),
				value("r", "cf", "a", 4),
				value("r", "cf", "b", 1),
				value("r", "many", "a", 1),
			},
			want: []bool{false, false, true, true, false},
		},
		{
			name: "family delete is strict on equal timestamps",
			recs: []rec{
				marker("r", "cf", "", 5, cellkey.DeleteColumnFamily),
				value("r", "cf", "a", 5),
			},
			want: []bool{false, false},
		},
		{
			name: "unknown family is dropped except row deletes",
			recs: []rec{
				marker("r", "", "", 5, cellkey.DeleteRow),
				value("r", "cf", "q", 9),
				marker("r", "nope", "", 9, cellkey.DeleteColumnFamily),
				value("r", "nope", "q", 9),
				rec{row: "r", family: "nope", qualifier: "q", ts: 9, typ: cellkey.AtomicAdd},
			},
			want: []bool{false, false, true, true, true},
		},
		{
			name: "atomic deltas below a value are dropped",
			recs: []rec{
				rec{row: "r", family: "cf", qualifier: "q", ts: 9, typ: cellkey.AtomicAdd},
				value("r", "cf", "q", 8),
				rec{row: "r", family: "cf", qualifier: "q", ts: 7, typ: cellkey.AtomicAdd},
				rec{row: "r", family: "cf", qualifier: "q", ts: 6, typ: cellkey.AtomicAppend},
				rec{row: "r", family: "cf", qualifier: "q2", ts: 6, typ: cellkey.AtomicAppend},
			},
			want: []bool{false, false, true, true, false},
		},
		{
			name: "latest-version marker has no effect on compaction",
			recs: []rec{
				marker("r", "cf", "q", 10, cellkey.DeleteQualifierLatest),
				value("r", "cf", "q", 10),
				value("r", "cf", "q", 9),
			},
			want: []bool{false, false, false},
		},
		{
			name: "mid-cell qualifier delete is not reseeded",
			recs: []rec{
				value("r", "many", "q", 9),
				marker("r", "many", "q", 8, cellkey.DeleteQualifierAll),
				value("r", "many", "q", 8),
				value("r", "many", "q", 7),
			},
			want: []bool{false, false, false, false},
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			s := newTestStrategy()
			assertVerdicts(t, tc.recs, verdicts(s.Drop, tc.recs), tc.want)
		})
	}
}

func TestDrop_MalformedKey(t *testing.T) {
	s := newTestStrategy()

	if s.Drop(value("r", "cf", "q", 3).key()) {
		t.Fatal("first version must be kept")
	}
	if !s.Drop([]byte("garbage")) {
		t.Fatal("malformed key must be dropped")
	}
	// the malformed key must not disturb version accounting
	if s.Drop(value("r", "cf", "q", 2).key()) {
		t.Fatal("second version must be kept")
	}
	if !s.Drop(value("r", "cf", "q", 1).key()) {
		t.Fatal("third version must be dropped")
	}
}

func TestDrop_VersionCapProperty(t *testing.T) {
	for _, family := range []schema.Family{{Name: "cf", MaxVersions: 2}, {Name: "one", MaxVersions: 1}, {Name: "many", MaxVersions: 10}} {
		for count := 1; count <= 12; count++ {
			s := newTestStrategy()
			kept := 0
			for ts := int64(count); ts > 0; ts-- {
				dropped := s.Drop(value("row", family.Name, "q", ts).key())
				if !dropped {
					kept++
					if ts <= int64(count-family.MaxVersions) {
						t.Fatalf("%s: kept stale version %d of %d", family.Name, ts, count)
					}
				}
			}
			if want := min(count, family.MaxVersions); kept != want {
				t.Fatalf("%s with %d versions: expected %d kept, got %d", family.Name, count, want, kept)
			}
		}
	}
}

func TestDrop_Expiry(t *testing.T) {
	var seen []string
	s := newTestStrategy(WithExpiry(func(f schema.Family, ts int64) bool {
		seen = append(seen, f.Name)
		return ts < 5
	}))

	recs := []rec{
		marker("r", "", "", 3, cellkey.DeleteRow),
		value("r", "cf", "q", 6),
		value("r", "cf", "q2", 4),
		rec{row: "r", family: "many", qualifier: "q", ts: 4, typ: cellkey.AtomicAdd},
	}
	assertVerdicts(t, recs, verdicts(s.Drop, recs), []bool{false, false, true, true})

	if len(seen) != 3 || seen[0] != "cf" || seen[2] != "many" {
		t.Fatalf("unexpected expiry calls: %v", seen)
	}
}

func TestDrop_DefaultNeverExpires(t *testing.T) {
	s := newTestStrategy()
	if s.Drop(value("r", "cf", "q", -1000).key()) {
		t.Fatal("default policy must not expire anything")
	}
	if s.Name() == "" {
		t.Fatal("strategy must be named")
	}
}
