package iterator

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"cfkv/pkg/types"
)

func slice(keys ...string) *Slice {
	entries := make([]Entry, len(keys))
	for i, k := range keys {
		entries[i] = Entry{Key: []byte(k), Value: []byte("v" + k)}
	}
	return NewSlice(entries)
}

func keys(it Forward) []string {
	var out []string
	for ; it.Valid(); it.Next() {
		out = append(out, string(it.Key()))
	}
	return out
}

func TestSlice_Seek(t *testing.T) {
	s := slice("a", "c", "e")
	s.Seek([]byte("b"))
	require.Equal(t, []string{"c", "e"}, keys(s))

	s.Seek([]byte("z"))
	require.False(t, s.Valid())

	s.First()
	require.Equal(t, "a", string(s.Key()))
}

func TestMerging(t *testing.T) {
	m := NewMerging(slice("a", "d", "f"), slice("b", "c", "g"), slice())
	require.Equal(t, []string{"a", "b", "c", "d", "f", "g"}, keys(m))

	m.Seek([]byte("cc"))
	require.Equal(t, "d", string(m.Key()))
	require.Equal(t, "vd", string(m.Value()))

	m.First()
	require.Equal(t, "a", string(m.Key()))
	require.NoError(t, m.Err())
	require.NoError(t, m.Close())
}

func TestMerging_TieGoesToFirstSource(t *testing.T) {
	first := NewSlice([]Entry{{Key: []byte("k"), Value: []byte("new")}})
	second := NewSlice([]Entry{{Key: []byte("k"), Value: []byte("old")}})

	third := NewSlice([]Entry{{Key: []byte("k"), Value: []byte("older")}, {Key: []byte("l")}})

	m := NewMerging(first, second, third)
	require.Equal(t, "new", string(m.Value()))
	m.Next()
	require.Equal(t, "l", string(m.Key()), "duplicates of k are skipped")
	m.Next()
	require.False(t, m.Valid())
}

type failing struct {
	*Slice
}

func (failing) Err() error { return errors.New("broken source") }

func TestMerging_Err(t *testing.T) {
	m := NewMerging(slice("a"), failing{slice()})
	require.EqualError(t, m.Err(), "broken source")
}

func TestPrefix(t *testing.T) {
	p := NewPrefix(slice("a1", "b1", "b2", "c1"), []byte("b"))
	require.Equal(t, []string{"b1", "b2"}, keys(p))

	p.Seek([]byte("a"))
	require.Equal(t, "b1", string(p.Key()))
	p.Seek([]byte("b2"))
	require.Equal(t, "b2", string(p.Key()))
}

func TestVisible(t *testing.T) {
	odd := func(k types.Key) bool { return k[len(k)-1]%2 == 1 }

	v := NewVisible(slice("a0", "a1", "a2", "a3", "b4"), odd)
	require.Equal(t, []string{"a1", "a3"}, keys(v))

	v.Seek([]byte("a2"))
	require.Equal(t, "a3", string(v.Key()))
	v.First()
	require.Equal(t, "a1", string(v.Key()))

	require.EqualError(t, NewVisible(failing{slice("x1")}, odd).Err(), "broken source")
	require.NoError(t, v.Err())
}
