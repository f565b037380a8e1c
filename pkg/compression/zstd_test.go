package compression

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestZstd_RoundTrip(t *testing.T) {
	z := Zstd{Threshold: 64}
	src := bytes.Repeat([]byte("column family "), 100)

	packed, ok := z.Compress(src)
	require.True(t, ok)
	require.Less(t, len(packed), len(src))

	unpacked, err := z.Decompress(packed)
	require.NoError(t, err)
	require.Equal(t, src, unpacked)
}

func TestZstd_SkipsSmallAndDisabled(t *testing.T) {
	z := Zstd{Threshold: 64}

	small := []byte("tiny")
	out, ok := z.Compress(small)
	require.False(t, ok)
	require.Equal(t, small, out)

	disabled := Zstd{}
	_, ok = disabled.Compress(bytes.Repeat([]byte("a"), 1024))
	require.False(t, ok)
}

func TestZstd_DecompressGarbage(t *testing.T) {
	_, err := Zstd{}.Decompress([]byte("definitely not zstd"))
	require.Error(t, err)
}
