// Package compress implements the entropy pipeline's optional
// lossless-compression stage (spec.md §4.2), with a pluggable codec: LZ4
// by default, zstd as an alternate, and gzip (via the parallel pgzip
// implementation) kept for diagnostics only — never the deposit path
// itself.
package compress

import (
	"bytes"
	"fmt"
	"io"

	"github.com/klauspost/compress/zstd"
	"github.com/klauspost/pgzip"
	"github.com/pierrec/lz4/v4"
)

// Algorithm names a compression codec.
type Algorithm string

const (
	// LZ4 is the spec-mandated default (spec.md §4.2).
	LZ4 Algorithm = "lz4"
	// Zstd is an alternate codec, selectable through the daemon-wide
	// compress_algorithm setting.
	Zstd Algorithm = "zstd"
	// Gzip is kept for diagnostics only; compress_algorithm does not accept
	// it, so it is never used on the deposit path.
	Gzip Algorithm = "gzip"
)

// Codec compresses and decompresses byte buffers. Compress(Decompress(x))
// == x is NOT required; Decompress(Compress(x)) == x IS required.
type Codec interface {
	Compress(data []byte) ([]byte, error)
	Decompress(data []byte) ([]byte, error)
}

// New returns the Codec for the given algorithm. An empty or unknown
// algorithm name defaults to LZ4.
func New(alg Algorithm) Codec {
	switch alg {
	case Zstd:
		return zstdCodec{}
	case Gzip:
		return gzipCodec{}
	default:
		return lz4Codec{}
	}
}

type lz4Codec struct{}

func (lz4Codec) Compress(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	w := lz4.NewWriter(&buf)
	if _, err := w.Write(data); err != nil {
		return nil, fmt.Errorf("lz4 compress: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("lz4 compress: closing: %w", err)
	}
	return buf.Bytes(), nil
}

func (lz4Codec) Decompress(data []byte) ([]byte, error) {
	r := lz4.NewReader(bytes.NewReader(data))
	out, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("lz4 decompress: %w", err)
	}
	return out, nil
}

type zstdCodec struct{}

func (zstdCodec) Compress(data []byte) ([]byte, error) {
	enc, err := zstd.NewWriter(nil)
	if err != nil {
		return nil, fmt.Errorf("zstd compress: %w", err)
	}
	defer enc.Close()
	return enc.EncodeAll(data, nil), nil
}

func (zstdCodec) Decompress(data []byte) ([]byte, error) {
	dec, err := zstd.NewReader(nil)
	if err != nil {
		return nil, fmt.Errorf("zstd decompress: %w", err)
	}
	defer dec.Close()
	out, err := dec.DecodeAll(data, nil)
	if err != nil {
		return nil, fmt.Errorf("zstd decompress: %w", err)
	}
	return out, nil
}

// gzipCodec is parallel gzip via pgzip, never invoked on the deposit path.
// The debug dumper (internal/source) writes its gzip files with pgzip
// directly, not through this codec.
type gzipCodec struct{}

func (gzipCodec) Compress(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	w := pgzip.NewWriter(&buf)
	if _, err := w.Write(data); err != nil {
		return nil, fmt.Errorf("gzip compress: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("gzip compress: closing: %w", err)
	}
	return buf.Bytes(), nil
}

func (gzipCodec) Decompress(data []byte) ([]byte, error) {
	r, err := pgzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("gzip decompress: %w", err)
	}
	defer r.Close()
	out, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("gzip decompress: %w", err)
	}
	return out, nil
}
