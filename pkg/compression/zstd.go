package compression

import (
	"fmt"
	"sync"

	"github.com/klauspost/compress/zstd"
)

var (
	encOnce sync.Once
	encoder *zstd.Encoder

	decOnce sync.Once
	decoder *zstd.Decoder
	decErr  error
)

// Zstd compresses single values. Both directions are safe for concurrent use.
type Zstd struct {
	// values shorter than this are left alone
	Threshold int
}

// Compress returns the compressed form of src and true, or src and false when
// src is below the threshold or does not shrink.
func (z Zstd) Compress(src []byte) ([]byte, bool) {
	if z.Threshold <= 0 || len(src) < z.Threshold {
		return src, false
	}

	out := zstdEncoder().EncodeAll(src, make([]byte, 0, len(src)))
	if len(out) >= len(src) {
		return src, false
	}
	return out, true
}

func (z Zstd) Decompress(src []byte) ([]byte, error) {
	dec, err := zstdDecoder()
	if err != nil {
		return nil, err
	}
	out, err := dec.DecodeAll(src, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to decompress value: %w", err)
	}
	return out, nil
}

func zstdEncoder() *zstd.Encoder {
	encOnce.Do(func() {
		// a nil writer and default options never fail
		encoder, _ = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	})
	return encoder
}

func zstdDecoder() (*zstd.Decoder, error) {
	decOnce.Do(func() {
		decoder, decErr = zstd.NewReader(nil, zstd.WithDecoderConcurrency(0))
		if decErr != nil {
			decErr = fmt.Errorf("failed to create zstd decoder: %w", decErr)
		}
	})
	return decoder, decErr
}
