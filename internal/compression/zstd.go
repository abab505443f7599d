// Package compression wraps zstd for mirror layers.
package compression

import (
	"fmt"

	"github.com/klauspost/compress/zstd"
)

// Codec holds a reusable zstd encoder and decoder pair. EncodeAll and
// DecodeAll are safe for concurrent use, so one Codec serves a whole
// push or pull.
type Codec struct {
	encoder *zstd.Encoder
	decoder *zstd.Decoder
}

// Level maps 1 (fastest) through 3 (better compression) to a zstd
// encoder level. Anything else is the zstd default.
func Level(n int) zstd.EncoderLevel {
	switch n {
	case 1:
		return zstd.SpeedFastest
	case 3:
		return zstd.SpeedBetterCompression
	default:
		return zstd.SpeedDefault
	}
}

// New returns a Codec encoding at the given level.
func New(level int) (*Codec, error) {
	encoder, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(Level(level)))
	if err != nil {
		return nil, fmt.Errorf("zstd encoder: %w", err)
	}
	decoder, err := zstd.NewReader(nil)
	if err != nil {
		encoder.Close()
		return nil, fmt.Errorf("zstd decoder: %w", err)
	}
	return &Codec{encoder: encoder, decoder: decoder}, nil
}

// Compress returns a zstd frame holding data.
func (c *Codec) Compress(data []byte) []byte {
	return c.encoder.EncodeAll(data, make([]byte, 0, len(data)/2))
}

// Decompress reverses Compress. Corrupt input is an error.
func (c *Codec) Decompress(data []byte) ([]byte, error) {
	out, err := c.decoder.DecodeAll(data, nil)
	if err != nil {
		return nil, fmt.Errorf("zstd decode: %w", err)
	}
	return out, nil
}

func (c *Codec) Close() error {
	c.encoder.Close()
	c.decoder.Close()
	return nil
}
