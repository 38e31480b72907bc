package cache

import (
	"bytes"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
)

// Codec compresses cached payloads.
type Codec string

const (
	// CodecNone stores payloads as plain JSON.
	CodecNone Codec = "none"
	// CodecGzip uses gzip.
	CodecGzip Codec = "gzip"
	// CodecZstd uses zstd. This is the default.
	CodecZstd Codec = "zstd"
)

// ParseCodec parses a codec name. The empty string selects zstd.
func ParseCodec(s string) (Codec, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "zstd":
		return CodecZstd, nil
	case "gzip":
		return CodecGzip, nil
	case "none":
		return CodecNone, nil
	default:
		return "", fmt.Errorf("unsupported cache codec: %s", s)
	}
}

// Extension is the file name suffix for payloads in this codec.
func (c Codec) Extension() string {
	switch c {
	case CodecZstd:
		return ".zst"
	case CodecGzip:
		return ".gz"
	default:
		return ""
	}
}

// Encode compresses data.
func (c Codec) Encode(data []byte) ([]byte, error) {
	switch c {
	case CodecNone, "":
		return data, nil
	case CodecZstd:
		enc, err := zstdEncoder()
		if err != nil {
			return nil, err
		}
		return enc.EncodeAll(data, make([]byte, 0, len(data)/2)), nil
	case CodecGzip:
		return encodeGzip(data)
	default:
		return nil, fmt.Errorf("unsupported cache codec: %s", c)
	}
}

// Decode reverses Encode.
func (c Codec) Decode(data []byte) ([]byte, error) {
	switch c {
	case CodecNone, "":
		return data, nil
	case CodecZstd:
		dec, err := zstdDecoder()
		if err != nil {
			return nil, err
		}
		out, err := dec.DecodeAll(data, nil)
		if err != nil {
			return nil, fmt.Errorf("failed to decode zstd payload: %w", err)
		}
		return out, nil
	case CodecGzip:
		gr, err := gzip.NewReader(bytes.NewReader(data))
		if err != nil {
			return nil, fmt.Errorf("failed to create gzip reader: %w", err)
		}
		defer gr.Close()
		return io.ReadAll(gr)
	default:
		return nil, fmt.Errorf("unsupported cache codec: %s", c)
	}
}

// EncodeAll and DecodeAll are safe for concurrent use, so one of each is shared.
var (
	zstdOnce sync.Once
	zstdEnc  *zstd.Encoder
	zstdDec  *zstd.Decoder
	zstdErr  error
)

func initZstd() {
	zstdEnc, zstdErr = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if zstdErr != nil {
		zstdErr = fmt.Errorf("failed to create zstd encoder: %w", zstdErr)
		return
	}
	zstdDec, zstdErr = zstd.NewReader(nil)
	if zstdErr != nil {
		zstdErr = fmt.Errorf("failed to create zstd decoder: %w", zstdErr)
	}
}

func zstdEncoder() (*zstd.Encoder, error) {
	zstdOnce.Do(initZstd)
	return zstdEnc, zstdErr
}

func zstdDecoder() (*zstd.Decoder, error) {
	zstdOnce.Do(initZstd)
	return zstdDec, zstdErr
}

var gzipWriters = sync.Pool{
	New: func() any { return gzip.NewWriter(io.Discard) },
}

func encodeGzip(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	gw := gzipWriters.Get().(*gzip.Writer)
	defer gzipWriters.Put(gw)
	gw.Reset(&buf)
	if _, err := gw.Write(data); err != nil {
		return nil, fmt.Errorf("failed to write gzip data: %w", err)
	}
	if err := gw.Close(); err != nil {
		return nil, fmt.Errorf("failed to close gzip writer: %w", err)
	}
	return buf.Bytes(), nil
}
