package blobstore

import (
	"bytes"
	"context"
	"io"
	"maps"
	"slices"
	"strings"
	"sync"
)

// MemoryStore keeps blobs in a map. It backs tests and runs whose archive
// does not need to outlive the process.
type MemoryStore struct {
	mu    sync.RWMutex
	blobs map[string][]byte
	size  int64
}

// NewMemoryStore returns an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{blobs: make(map[string][]byte)}
}

// Open returns a read handle sharing the stored bytes. Stored slices are
// replaced on write, never modified.
func (m *MemoryStore) Open(ctx context.Context, name string) (Blob, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.RLock()
	data, ok := m.blobs[name]
	m.mu.RUnlock()

	if !ok {
		return nil, ErrNotFound
	}
	return NewBytesBlob(data), nil
}

// Create buffers writes and stores them on Close.
func (m *MemoryStore) Create(ctx context.Context, name string) (WritableBlob, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return &memoryWriter{store: m, name: name}, nil
}

// Put stores a copy of data.
func (m *MemoryStore) Put(ctx context.Context, name string, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.store(name, bytes.Clone(data))
	return nil
}

func (m *MemoryStore) store(name string, data []byte) {
	if data == nil {
		data = []byte{}
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.size += int64(len(data)) - int64(len(m.blobs[name]))
	m.blobs[name] = data
}

// Delete removes name if present.
func (m *MemoryStore) Delete(_ context.Context, name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.size -= int64(len(m.blobs[name]))
	delete(m.blobs, name)
	return nil
}

// List returns the sorted names starting with prefix.
func (m *MemoryStore) List(ctx context.Context, prefix string) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	names := slices.Sorted(maps.Keys(m.blobs))
	return slices.DeleteFunc(names, func(n string) bool { return !strings.HasPrefix(n, prefix) }), nil
}

// Usage returns the number of stored blobs and their total size in bytes.
func (m *MemoryStore) Usage() (blobs int, size int64) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.blobs), m.size
}

// NewBytesBlob returns a Blob reading from data. data must not be modified
// while the blob is in use.
func NewBytesBlob(data []byte) Blob {
	return bytesBlob(data)
}

type bytesBlob []byte

func (b bytesBlob) ReadAt(ctx context.Context, p []byte, off int64) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	if off < 0 || off >= int64(len(b)) {
		return 0, io.EOF
	}
	n := copy(p, b[off:])
	if n < len(p) {
		return n, io.EOF
	}
	return n, nil
}

func (b bytesBlob) Size() int64 { return int64(len(b)) }

func (bytesBlob) Close() error { return nil }

type memoryWriter struct {
	store  *MemoryStore
	name   string
	buf    bytes.Buffer
	closed bool
}

func (w *memoryWriter) Write(p []byte) (int, error) {
	if w.closed {
		return 0, io.ErrClosedPipe
	}
	return w.buf.Write(p)
}

// Close publishes the buffered bytes. The buffer is handed over without a
// copy since the writer is done with it.
func (w *memoryWriter) Close() error {
	if w.closed {
		return io.ErrClosedPipe
	}
	w.closed = true
	w.store.store(w.name, w.buf.Bytes())
	return nil
}

// Abort drops the buffer without storing it.
func (w *memoryWriter) Abort() error {
	w.closed = true
	w.buf.Reset()
	return nil
}

func (w *memoryWriter) Sync() error { return nil }
