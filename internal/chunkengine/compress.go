package chunkengine

import (
	"bytes"
	"compress/gzip"
	"fmt"
	"io"

	"github.com/klauspost/compress/lz4"

	"github.com/quantarax/meshxfer/internal/codec"
)

// Compress applies the requested algorithm to payload. CompressionNone
// returns payload unchanged.
func Compress(kind codec.CompressionType, payload []byte) ([]byte, error) {
	switch kind {
	case codec.CompressionNone:
		return payload, nil
	case codec.CompressionLZ4:
		var buf bytes.Buffer
		w := lz4.NewWriter(&buf)
		if _, err := w.Write(payload); err != nil {
			return nil, fmt.Errorf("lz4 compress: %w", err)
		}
		if err := w.Close(); err != nil {
			return nil, fmt.Errorf("lz4 compress: %w", err)
		}
		return buf.Bytes(), nil
	case codec.CompressionGzip:
		var buf bytes.Buffer
		w := gzip.NewWriter(&buf)
		if _, err := w.Write(payload); err != nil {
			return nil, fmt.Errorf("gzip compress: %w", err)
		}
		if err := w.Close(); err != nil {
			return nil, fmt.Errorf("gzip compress: %w", err)
		}
		return buf.Bytes(), nil
	default:
		return nil, fmt.Errorf("unknown compression type %d", kind)
	}
}

// Decompress reverses Compress.
func Decompress(kind codec.CompressionType, payload []byte) ([]byte, error) {
	switch kind {
	case codec.CompressionNone:
		return payload, nil
	case codec.CompressionLZ4:
		r := lz4.NewReader(bytes.NewReader(payload))
		out, err := io.ReadAll(r)
		if err != nil {
			return nil, fmt.Errorf("lz4 decompress: %w", err)
		}
		return out, nil
	case codec.CompressionGzip:
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
	default:
		return nil, fmt.Errorf("unknown compression type %d", kind)
	}
}

// ShouldCompress decides whether a chunk payload is worth compressing:
// at or below the size threshold it never is, and above it the engine
// tries the algorithm and only keeps the result if it saves at least
// minSavingsPct percent.
func ShouldCompress(payload []byte, threshold int, minSavingsPct int, kind codec.CompressionType) (compressed []byte, applied bool, err error) {
	if len(payload) <= threshold || kind == codec.CompressionNone {
		return payload, false, nil
	}
	out, err := Compress(kind, payload)
	if err != nil {
		return payload, false, err
	}
	savingsPct := 0
	if len(payload) > 0 {
		savingsPct = int((1.0 - float64(len(out))/float64(len(payload))) * 100)
	}
	if savingsPct < minSavingsPct {
		return payload, false, nil
	}
	return out, true, nil
}
