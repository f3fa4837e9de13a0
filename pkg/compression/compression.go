// Package compression implements the pluggable batch-payload codecs used
// when a collector's CompressLogs option is enabled: gzip (default),
// snappy and lz4, selected by Algorithm.
package compression

import (
	"bytes"
	"fmt"
	"io"

	"github.com/golang/snappy"
	"github.com/klauspost/compress/gzip"
	"github.com/pierrec/lz4/v4"
)

// Algorithm names a batch-payload compression codec.
type Algorithm string

const (
	Gzip   Algorithm = "gzip"
	Snappy Algorithm = "snappy"
	LZ4    Algorithm = "lz4"
	None   Algorithm = "none"
)

// Codec compresses and decompresses batch payloads for handoff to a sink.
type Codec interface {
	Algorithm() Algorithm
	Compress(payload []byte) ([]byte, error)
	Decompress(payload []byte) ([]byte, error)
}

// New returns the Codec for the named algorithm. An unrecognized name
// falls back to the gzip codec rather than erroring, since CompressLogs
// is a boolean at the control-protocol layer and the algorithm choice is
// a collector-config detail with a safe default.
func New(alg Algorithm) Codec {
	switch alg {
	case Snappy:
		return snappyCodec{}
	case LZ4:
		return lz4Codec{}
	case None:
		return noopCodec{}
	default:
		return gzipCodec{}
	}
}

type noopCodec struct{}

func (noopCodec) Algorithm() Algorithm                      { return None }
func (noopCodec) Compress(p []byte) ([]byte, error)         { return p, nil }
func (noopCodec) Decompress(p []byte) ([]byte, error)       { return p, nil }

type gzipCodec struct{}

func (gzipCodec) Algorithm() Algorithm { return Gzip }

func (gzipCodec) Compress(payload []byte) ([]byte, error) {
	var buf bytes.Buffer
	w := gzip.NewWriter(&buf)
	if _, err := w.Write(payload); err != nil {
		return nil, fmt.Errorf("gzip compress: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("gzip compress: %w", err)
	}
	return buf.Bytes(), nil
}

func (gzipCodec) Decompress(payload []byte) ([]byte, error) {
	r, err := gzip.NewReader(bytes.NewReader(payload))
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

type snappyCodec struct{}

func (snappyCodec) Algorithm() Algorithm { return Snappy }

func (snappyCodec) Compress(payload []byte) ([]byte, error) {
	return snappy.Encode(nil, payload), nil
}

func (snappyCodec) Decompress(payload []byte) ([]byte, error) {
	out, err := snappy.Decode(nil, payload)
	if err != nil {
		return nil, fmt.Errorf("snappy decompress: %w", err)
	}
	return out, nil
}

type lz4Codec struct{}

func (lz4Codec) Algorithm() Algorithm { return LZ4 }

func (lz4Codec) Compress(payload []byte) ([]byte, error) {
	var buf bytes.Buffer
	w := lz4.NewWriter(&buf)
	if _, err := w.Write(payload); err != nil {
		return nil, fmt.Errorf("lz4 compress: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("lz4 compress: %w", err)
	}
	return buf.Bytes(), nil
}

func (lz4Codec) Decompress(payload []byte) ([]byte, error) {
	r := lz4.NewReader(bytes.NewReader(payload))
	out, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("lz4 decompress: %w", err)
	}
	return out, nil
}
