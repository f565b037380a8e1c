package persistence

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"cfkv/pkg/compression"
)

func writeTable(t *testing.T, path string, opts WriterOptions, n int) TableMeta {
	t.Helper()
	w, err := NewWriter(path, opts)
	require.NoError(t, err)
	for i := 0; i < n; i++ {
		require.NoError(t, w.Add(testKey(i), testValue(i)))
	}
	meta, err := w.Finish()
	require.NoError(t, err)
	return meta
}

func testKey(i int) []byte {
	return []byte(fmt.Sprintf("row-%04d/cf", i))
}

func testValue(i int) []byte {
	if i%3 == 0 {
		return bytes.Repeat([]byte{byte('a' + i%26)}, 300)
	}
	return []byte(fmt.Sprintf("value-%d", i))
}

// rows are the first eight bytes of a test key
func rowOf(key []byte) []byte {
	return key[:8]
}

func TestSSTable_WriteIterate(t *testing.T) {
	path := filepath.Join(t.TempDir(), "t.sst")
	opts := WriterOptions{Compressor: compression.Zstd{Threshold: 128}, FPRate: 0.01, BloomKey: rowOf}
	meta := writeTable(t, path, opts, 100)

	require.Equal(t, uint32(100), meta.Count)
	require.Equal(t, testKey(0), meta.Smallest)
	require.Equal(t, testKey(99), meta.Largest)

	table, err := OpenSSTable(1, path, NewBlockCache(8))
	require.NoError(t, err)
	defer table.Unref()

	require.Equal(t, meta.Size, table.Size())

	it := table.NewIterator()
	i := 0
	for ; it.Valid(); it.Next() {
		require.Equal(t, testKey(i), []byte(it.Key()))
		require.Equal(t, testValue(i), []byte(it.Value()))
		i++
	}
	require.NoError(t, it.Err())
	require.Equal(t, 100, i)

	// every third value is 300 bytes and only fits compressed
	require.Less(t, meta.Size, int64(34*300))
}

func TestSSTable_Seek(t *testing.T) {
	path := filepath.Join(t.TempDir(), "t.sst")
	writeTable(t, path, WriterOptions{FPRate: 0.01}, 50)

	table, err := OpenSSTable(1, path, nil)
	require.NoError(t, err)
	defer table.Unref()

	it := table.NewIterator()
	it.Seek(testKey(37))
	require.True(t, it.Valid())
	require.Equal(t, testKey(37), []byte(it.Key()))

	it.Seek([]byte("row-0017/"))
	require.Equal(t, testKey(17), []byte(it.Key()))

	it.Seek([]byte("zzz"))
	require.False(t, it.Valid())

	it.Seek(nil)
	require.Equal(t, testKey(0), []byte(it.Key()))
}

func TestSSTable_Bloom(t *testing.T) {
	path := filepath.Join(t.TempDir(), "t.sst")
	writeTable(t, path, WriterOptions{FPRate: 0.001, BloomKey: rowOf}, 64)

	table, err := OpenSSTable(1, path, nil)
	require.NoError(t, err)
	defer table.Unref()

	for i := 0; i < 64; i++ {
		require.True(t, table.MayContain(rowOf(testKey(i))))
	}

	misses := 0
	for i := 1000; i < 2000; i++ {
		if !table.MayContain(rowOf(testKey(i))) {
			misses++
		}
	}
	require.Greater(t, misses, 950)
}

func TestWriter_RejectsUnsortedKeys(t *testing.T) {
	w, err := NewWriter(filepath.Join(t.TempDir(), "t.sst"), WriterOptions{})
	require.NoError(t, err)
	defer w.Abort()

	require.NoError(t, w.Add([]byte("b"), nil))
	require.ErrorIs(t, w.Add([]byte("a"), nil), ErrUnsortedKeys)
	require.ErrorIs(t, w.Add([]byte("b"), nil), ErrUnsortedKeys)
}

func TestWriter_AbortLeavesNothing(t *testing.T) {
	dir := t.TempDir()
	w, err := NewWriter(filepath.Join(dir, "t.sst"), WriterOptions{})
	require.NoError(t, err)
	require.NoError(t, w.Add([]byte("a"), []byte("1")))
	w.Abort()

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Empty(t, entries)
}

func TestSSTable_Corrupted(t *testing.T) {
	path := filepath.Join(t.TempDir(), "t.sst")
	writeTable(t, path, WriterOptions{}, 10)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	data[len(data)-1] ^= 0xff
	require.NoError(t, os.WriteFile(path, data, 0600))

	_, err = OpenSSTable(1, path, nil)
	require.ErrorIs(t, err, ErrCorruptedTable)
}

func TestSSTable_ObsoleteRemovedOnLastUnref(t *testing.T) {
	path := filepath.Join(t.TempDir(), "t.sst")
	writeTable(t, path, WriterOptions{}, 5)

	table, err := OpenSSTable(1, path, nil)
	require.NoError(t, err)

	table.Ref()
	table.MarkObsolete()
	require.FileExists(t, path, "a reader still holds the table")

	table.Unref()
	require.NoFileExists(t, path)
}

func TestBlockCache_Evicts(t *testing.T) {
	c := NewBlockCache(2)
	c.Set("a", []byte("1"))
	c.Set("b", []byte("2"))
	_, _ = c.Get("a")
	c.Set("c", []byte("3"))

	_, ok := c.Get("b")
	require.False(t, ok, "least recently used entry is evicted")
	v, ok := c.Get("a")
	require.True(t, ok)
	require.Equal(t, []byte("1"), v)
}
