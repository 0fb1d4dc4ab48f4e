package codec

import (
	"fmt"
	"sync"

	"github.com/klauspost/compress/zstd"
)

// DefaultCompressThreshold is the smallest payload worth compressing.
const DefaultCompressThreshold = 256

const encodingZstd = "zstd"

// maxDecodedPayload bounds decompression of untrusted blobs.
const maxDecodedPayload = 64 << 20

var (
	zstdOnce    sync.Once
	zstdEncoder *zstd.Encoder
	zstdDecoder *zstd.Decoder
	zstdErr     error
)

func initZstd() {
	zstdOnce.Do(func() {
		zstdEncoder, zstdErr = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedBetterCompression))
		if zstdErr != nil {
			return
		}
		zstdDecoder, zstdErr = zstd.NewReader(nil, zstd.WithDecoderMaxMemory(maxDecodedPayload))
	})
}

// compressPayload returns the zstd frame of src, or src itself if the
// encoder could not be created.
func compressPayload(src []byte) []byte {
	initZstd()
	if zstdErr != nil {
		return src
	}
	return zstdEncoder.EncodeAll(src, make([]byte, 0, len(src)))
}

func decompressPayload(src []byte) ([]byte, error) {
	initZstd()
	if zstdErr != nil {
		return nil, fmt.Errorf("zstd: %w", zstdErr)
	}
	out, err := zstdDecoder.DecodeAll(src, nil)
	if err != nil {
		return nil, fmt.Errorf("zstd decode: %w", err)
	}
	return out, nil
}
