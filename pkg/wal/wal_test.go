package wal

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func appendSync(t *testing.T, w *WAL, e Entry) {
	t.Helper()
	w.Append(e)
	ack := <-w.Done()
	require.NoError(t, ack.Err)
	require.Equal(t, e.SeqNum, ack.SeqNum)
}

func collect(t *testing.T, w *WAL, start uint64) []Entry {
	t.Helper()
	var out []Entry
	require.NoError(t, w.Replay(start, func(e Entry) error {
		out = append(out, e)
		return nil
	}))
	return out
}

func TestWAL_AppendReplay(t *testing.T) {
	dir := t.TempDir()
	w, err := New(dir)
	require.NoError(t, err)
	w.Start(context.Background())

	for i := uint64(1); i <= 3; i++ {
		appendSync(t, w, Entry{SeqNum: i, Key: []byte{byte(i), 0}, Value: []byte("v")})
	}
	w.Stop()

	reopened, err := New(dir)
	require.NoError(t, err)
	defer reopened.Close()

	all := collect(t, reopened, 0)
	require.Len(t, all, 3)
	require.Equal(t, []byte{2, 0}, all[1].Key)

	tail := collect(t, reopened, 3)
	require.Len(t, tail, 1)
	require.Equal(t, uint64(3), tail[0].SeqNum)
}

func TestWAL_TornTailIsIgnored(t *testing.T) {
	dir := t.TempDir()
	w, err := New(dir)
	require.NoError(t, err)
	w.Start(context.Background())
	appendSync(t, w, Entry{SeqNum: 1, Key: []byte("k1"), Value: []byte("v1")})
	appendSync(t, w, Entry{SeqNum: 2, Key: []byte("k2"), Value: []byte("v2")})
	w.Stop()

	path := filepath.Join(dir, fileName)
	info, err := os.Stat(path)
	require.NoError(t, err)
	require.NoError(t, os.Truncate(path, info.Size()-1))

	reopened, err := New(dir)
	require.NoError(t, err)
	defer reopened.Close()

	entries := collect(t, reopened, 0)
	require.Len(t, entries, 1)
	require.Equal(t, []byte("k1"), entries[0].Key)
}

func TestWAL_Corruption(t *testing.T) {
	dir := t.TempDir()
	w, err := New(dir)
	require.NoError(t, err)
	w.Start(context.Background())
	appendSync(t, w, Entry{SeqNum: 1, Key: []byte("key"), Value: []byte("value")})
	w.Stop()

	path := filepath.Join(dir, fileName)
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	data[len(data)-1] ^= 0xff
	require.NoError(t, os.WriteFile(path, data, 0600))

	reopened, err := New(dir)
	require.NoError(t, err)
	defer reopened.Close()

	err = reopened.Replay(0, func(Entry) error { return nil })
	require.ErrorIs(t, err, ErrCorrupted)
}

func TestWAL_Reset(t *testing.T) {
	w, err := New(t.TempDir())
	require.NoError(t, err)
	w.Start(context.Background())
	defer w.Stop()

	appendSync(t, w, Entry{SeqNum: 1, Key: []byte("a")})
	require.NoError(t, w.Reset())
	require.Empty(t, collect(t, w, 0))

	appendSync(t, w, Entry{SeqNum: 2, Key: []byte("b")})
	entries := collect(t, w, 0)
	require.Len(t, entries, 1)
	require.Equal(t, uint64(2), entries[0].SeqNum)
}

func TestWAL_EmptyDir(t *testing.T) {
	_, err := New("")
	require.Error(t, err)
}
