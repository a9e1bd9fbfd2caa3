package storage

import (
	"context"
	"fmt"
	"io"

	"github.com/klauspost/compress/zstd"
)

// ZstdStorage wraps an ObjectStorage and transparently compresses objects
// at rest. Keys and bucket layout are unchanged; only the stored bytes are
// zstd frames. Readers returned by GetObject yield the original bytes.
type ZstdStorage struct {
	inner ObjectStorage
	level zstd.EncoderLevel
}

// NewZstdStorage wraps inner with zstd compression at the default level.
func NewZstdStorage(inner ObjectStorage) (*ZstdStorage, error) {
	if inner == nil {
		return nil, fmt.Errorf("inner storage is required")
	}
	return &ZstdStorage{inner: inner, level: zstd.SpeedDefault}, nil
}

// PutObject compresses the stream and stores it. The stored size differs
// from sizeBytes, so the inner store is always called with size -1.
func (s *ZstdStorage) PutObject(ctx context.Context, bucket, objectKey string, reader ObjectReader, sizeBytes int64, contentType string) error {
	if reader == nil {
		return fmt.Errorf("reader is required")
	}

	pr, pw := io.Pipe()
	go func() {
		enc, err := zstd.NewWriter(pw, zstd.WithEncoderLevel(s.level))
		if err != nil {
			_ = pw.CloseWithError(fmt.Errorf("create zstd writer failed: %w", err))
			return
		}
		if _, err := io.Copy(enc, reader); err != nil {
			_ = enc.Close()
			_ = pw.CloseWithError(fmt.Errorf("compress object failed: %w", err))
			return
		}
		if err := enc.Close(); err != nil {
			_ = pw.CloseWithError(fmt.Errorf("flush zstd writer failed: %w", err))
			return
		}
		_ = pw.Close()
	}()

	err := s.inner.PutObject(ctx, bucket, objectKey, pr, -1, contentType)
	// A store that stops reading before EOF would leave the compressor
	// blocked on the pipe; closing the read side unblocks it.
	_ = pr.CloseWithError(err)
	return err
}

// GetObject opens the stored object and returns a decompressing reader.
func (s *ZstdStorage) GetObject(ctx context.Context, bucket, objectKey string) (ObjectReader, error) {
	raw, err := s.inner.GetObject(ctx, bucket, objectKey)
	if err != nil {
		return nil, err
	}
	dec, err := zstd.NewReader(raw)
	if err != nil {
		_ = raw.Close()
		return nil, fmt.Errorf("create zstd reader failed: %w", err)
	}
	return &zstdReader{dec: dec, raw: raw}, nil
}

// StatObject returns metadata of the stored (compressed) object.
// SizeBytes reflects the at-rest size, not the original payload size.
func (s *ZstdStorage) StatObject(ctx context.Context, bucket, objectKey string) (ObjectStat, error) {
	return s.inner.StatObject(ctx, bucket, objectKey)
}

type zstdReader struct {
	dec *zstd.Decoder
	raw ObjectReader
}

func (r *zstdReader) Read(p []byte) (int, error) {
	return r.dec.Read(p)
}

func (r *zstdReader) Close() error {
	r.dec.Close()
	return r.raw.Close()
}
