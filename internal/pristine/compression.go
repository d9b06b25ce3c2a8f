package pristine

import (
	"fmt"

	"github.com/klauspost/compress/zstd"
)

// CompressionOptions configures the blob codec.
type CompressionOptions struct {
	// MinSize is the minimum content size, in bytes, before compression
	// is attempted; small text bases compress poorly enough to not be
	// worth the CPU.
	MinSize int
	// Level is a zstd compression level, mapped onto the encoder's speed
	// presets by zstd.EncoderLevelFromZstd: below 3 is fastest, 3-5 is
	// default, 6-9 is better compression, 10 and above is best.
	Level int
}

func DefaultCompressionOptions() CompressionOptions {
	return CompressionOptions{
		MinSize: 256,
		Level:   2,
	}
}

// codec compresses pristine blobs on their way to disk. A blob is only
// ever handled whole — content addressing has to hash the full text, so
// by the time the codec sees it the bytes are already in memory and a
// single EncodeAll/DecodeAll pair covers every case. Which form a blob
// was stored in is recorded in its Meta, never sniffed from the bytes.
type codec struct {
	opts CompressionOptions
	enc  *zstd.Encoder
	dec  *zstd.Decoder
}

func newCodec(opts CompressionOptions) (*codec, error) {
	if opts.Level <= 0 {
		opts.Level = DefaultCompressionOptions().Level
	}

	enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.EncoderLevelFromZstd(opts.Level)))
	if err != nil {
		return nil, fmt.Errorf("creating encoder: %w", err)
	}
	dec, err := zstd.NewReader(nil)
	if err != nil {
		enc.Close()
		return nil, fmt.Errorf("creating decoder: %w", err)
	}

	return &codec{opts: opts, enc: enc, dec: dec}, nil
}

// encode returns the bytes to write for content and whether they are the
// compressed form. Blobs below MinSize, and blobs zstd cannot actually
// shrink, are stored raw.
func (c *codec) encode(content []byte) ([]byte, bool) {
	if len(content) < c.opts.MinSize {
		return content, false
	}

	compressed := c.enc.EncodeAll(content, make([]byte, 0, len(content)/2))
	if len(compressed) >= len(content) {
		return content, false
	}
	return compressed, true
}

// decode reverses encode, trusting the stored Meta's record of which
// form the blob is in.
func (c *codec) decode(raw []byte, compressed bool) ([]byte, error) {
	if !compressed {
		return raw, nil
	}
	content, err := c.dec.DecodeAll(raw, nil)
	if err != nil {
		return nil, fmt.Errorf("decompressing blob: %w", err)
	}
	return content, nil
}

func (c *codec) close() {
	c.enc.Close()
	c.dec.Close()
}
