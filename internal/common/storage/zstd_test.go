package storage

import (
	"bytes"
	"context"
	"errors"
	"io"
	"runtime"
	"strings"
	"testing"
	"time"
)

type memoryStorage struct {
	objects map[string][]byte
}

func newMemoryStorage() *memoryStorage {
	return &memoryStorage{objects: make(map[string][]byte)}
}

func (m *memoryStorage) PutObject(_ context.Context, bucket, key string, reader ObjectReader, _ int64, _ string) error {
	data, err := io.ReadAll(reader)
	if err != nil {
		return err
	}
	m.objects[bucket+"/"+key] = data
	return nil
}

func (m *memoryStorage) GetObject(_ context.Context, bucket, key string) (ObjectReader, error) {
	data, ok := m.objects[bucket+"/"+key]
	if !ok {
		return nil, io.ErrUnexpectedEOF
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

func (m *memoryStorage) StatObject(_ context.Context, bucket, key string) (ObjectStat, error) {
	data, ok := m.objects[bucket+"/"+key]
	if !ok {
		return ObjectStat{}, io.ErrUnexpectedEOF
	}
	return ObjectStat{SizeBytes: int64(len(data))}, nil
}

func TestZstdStorageRoundTrip(t *testing.T) {
	inner := newMemoryStorage()
	store, err := NewZstdStorage(inner)
	if err != nil {
		t.Fatalf("NewZstdStorage() error = %v", err)
	}
	ctx := context.Background()

	payload := strings.Repeat("marble blast recording frame data ", 1000)
	err = store.PutObject(ctx, "recordings", "abc.rec", io.NopCloser(strings.NewReader(payload)), int64(len(payload)), "application/octet-stream")
	if err != nil {
		t.Fatalf("PutObject() error = %v", err)
	}

	stored := inner.objects["recordings/abc.rec"]
	if len(stored) == 0 {
		t.Fatal("nothing stored")
	}
	if len(stored) >= len(payload) {
		t.Errorf("repetitive payload stored at %d bytes, original %d; expected compression", len(stored), len(payload))
	}
	if bytes.Contains(stored, []byte("marble blast recording")) {
		t.Error("stored bytes look uncompressed")
	}

	reader, err := store.GetObject(ctx, "recordings", "abc.rec")
	if err != nil {
		t.Fatalf("GetObject() error = %v", err)
	}
	got, err := io.ReadAll(reader)
	if err != nil {
		t.Fatalf("read object: %v", err)
	}
	if err := reader.Close(); err != nil {
		t.Errorf("Close() error = %v", err)
	}
	if string(got) != payload {
		t.Error("round trip does not reproduce the original bytes")
	}
}

type brokenStorage struct{}

func (b *brokenStorage) PutObject(context.Context, string, string, ObjectReader, int64, string) error {
	return errors.New("bucket does not exist")
}

func (b *brokenStorage) GetObject(context.Context, string, string) (ObjectReader, error) {
	return nil, errors.New("bucket does not exist")
}

func (b *brokenStorage) StatObject(context.Context, string, string) (ObjectStat, error) {
	return ObjectStat{}, errors.New("bucket does not exist")
}

func TestZstdStoragePutFailureUnblocksCompressor(t *testing.T) {
	store, err := NewZstdStorage(&brokenStorage{})
	if err != nil {
		t.Fatalf("NewZstdStorage() error = %v", err)
	}
	ctx := context.Background()

	payload := strings.Repeat("frame data ", 1<<14)
	before := runtime.NumGoroutine()
	err = store.PutObject(ctx, "b", "k", io.NopCloser(strings.NewReader(payload)), int64(len(payload)), "")
	if err == nil {
		t.Fatal("PutObject() should surface the store error")
	}

	deadline := time.Now().Add(2 * time.Second)
	for runtime.NumGoroutine() > before && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if got := runtime.NumGoroutine(); got > before {
		t.Errorf("%d goroutines still running, started with %d; compressor left blocked on the pipe", got, before)
	}
}

func TestZstdStorageEmptyObject(t *testing.T) {
	inner := newMemoryStorage()
	store, _ := NewZstdStorage(inner)
	ctx := context.Background()

	if err := store.PutObject(ctx, "b", "empty", io.NopCloser(strings.NewReader("")), 0, ""); err != nil {
		t.Fatalf("PutObject() error = %v", err)
	}
	reader, err := store.GetObject(ctx, "b", "empty")
	if err != nil {
		t.Fatalf("GetObject() error = %v", err)
	}
	defer reader.Close()
	got, err := io.ReadAll(reader)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if len(got) != 0 {
		t.Errorf("empty object read back %d bytes", len(got))
	}
}
