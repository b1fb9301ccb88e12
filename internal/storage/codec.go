package storage

import (
	"bytes"
	"compress/gzip"
	"fmt"
	"io"

	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"

	apperrors "site-guardian/internal/errors"
)

// Codec compresses stored objects. The extension is appended to object keys
// so a store written with one codec is never misread by another.
type Codec interface {
	Algorithm() CompressionType
	Extension() string
	Encode(data []byte) ([]byte, error)
	Decode(data []byte) ([]byte, error)
}

// NewCodec returns the codec for the configured algorithm. Levels outside the
// algorithm's range fall back to its default.
func NewCodec(config CompressionConfig) (Codec, error) {
	switch config.Algorithm {
	case CompressionGzip, "":
		level := config.Level
		if level < gzip.BestSpeed || level > gzip.BestCompression {
			level = 6
		}
		return &gzipCodec{level: level}, nil
	case CompressionLZ4:
		return &lz4Codec{high: config.Level > 6}, nil
	case CompressionZstd:
		return &zstdCodec{level: zstdLevel(config.Level)}, nil
	case CompressionNone:
		return noneCodec{}, nil
	default:
		return nil, apperrors.NewConfigurationError(fmt.Sprintf("unsupported compression algorithm: %s", config.Algorithm), nil)
	}
}

type gzipCodec struct {
	level int
}

func (c *gzipCodec) Algorithm() CompressionType { return CompressionGzip }
func (c *gzipCodec) Extension() string          { return ".gz" }

func (c *gzipCodec) Encode(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	writer, err := gzip.NewWriterLevel(&buf, c.level)
	if err != nil {
		return nil, fmt.Errorf("failed to create gzip writer: %w", err)
	}
	if _, err := writer.Write(data); err != nil {
		writer.Close()
		return nil, fmt.Errorf("failed to write gzip data: %w", err)
	}
	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("failed to close gzip writer: %w", err)
	}
	return buf.Bytes(), nil
}

func (c *gzipCodec) Decode(data []byte) ([]byte, error) {
	reader, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("failed to create gzip reader: %w", err)
	}
	defer reader.Close()

	decoded, err := io.ReadAll(reader)
	if err != nil {
		return nil, fmt.Errorf("failed to decompress gzip data: %w", err)
	}
	return decoded, nil
}

type lz4Codec struct {
	high bool
}

func (c *lz4Codec) Algorithm() CompressionType { return CompressionLZ4 }
func (c *lz4Codec) Extension() string          { return ".lz4" }

func (c *lz4Codec) Encode(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	writer := lz4.NewWriter(&buf)
	if c.high {
		if err := writer.Apply(lz4.CompressionLevelOption(lz4.Level9)); err != nil {
			return nil, fmt.Errorf("failed to set LZ4 compression level: %w", err)
		}
	}
	if _, err := writer.Write(data); err != nil {
		writer.Close()
		return nil, fmt.Errorf("failed to write LZ4 data: %w", err)
	}
	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("failed to close LZ4 writer: %w", err)
	}
	return buf.Bytes(), nil
}

func (c *lz4Codec) Decode(data []byte) ([]byte, error) {
	decoded, err := io.ReadAll(lz4.NewReader(bytes.NewReader(data)))
	if err != nil {
		return nil, fmt.Errorf("failed to decompress LZ4 data: %w", err)
	}
	return decoded, nil
}

type zstdCodec struct {
	level zstd.EncoderLevel
}

func zstdLevel(level int) zstd.EncoderLevel {
	switch {
	case level <= 1:
		return zstd.SpeedFastest
	case level <= 3:
		return zstd.SpeedDefault
	case level <= 6:
		return zstd.SpeedBetterCompression
	default:
		return zstd.SpeedBestCompression
	}
}

func (c *zstdCodec) Algorithm() CompressionType { return CompressionZstd }
func (c *zstdCodec) Extension() string          { return ".zst" }

func (c *zstdCodec) Encode(data []byte) ([]byte, error) {
	encoder, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(c.level))
	if err != nil {
		return nil, fmt.Errorf("failed to create zstd encoder: %w", err)
	}
	defer encoder.Close()
	return encoder.EncodeAll(data, make([]byte, 0, len(data))), nil
}

func (c *zstdCodec) Decode(data []byte) ([]byte, error) {
	decoder, err := zstd.NewReader(nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create zstd decoder: %w", err)
	}
	defer decoder.Close()

	decoded, err := decoder.DecodeAll(data, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to decompress zstd data: %w", err)
	}
	return decoded, nil
}

type noneCodec struct{}

func (noneCodec) Algorithm() CompressionType         { return CompressionNone }
func (noneCodec) Extension() string                  { return "" }
func (noneCodec) Encode(data []byte) ([]byte, error) { return data, nil }
func (noneCodec) Decode(data []byte) ([]byte, error) { return data, nil }
