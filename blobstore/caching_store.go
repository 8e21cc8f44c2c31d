package blobstore

import (
	"context"
	"errors"
	"io"

	"github.com/hupe1980/geofuse/internal/cache"
	"github.com/hupe1980/geofuse/resource"
	"golang.org/x/sync/errgroup"
)

// DefaultBlockSize is the cache granularity of a CachingStore.
const DefaultBlockSize = 64 << 10

// CachingStore wraps a BlobStore and caches read blocks in memory.
//
// It suits remote stores read repeatedly, such as a source cloud fused
// against many target granules. Put and Delete through the CachingStore
// invalidate the blob's blocks; writes that bypass it are not seen until the
// blocks are evicted.
type CachingStore struct {
	inner     BlobStore
	cache     *cache.LRU
	blockSize int64
}

// NewCachingStore creates a CachingStore holding up to capacity bytes.
// blockSize defaults to DefaultBlockSize if <= 0. Cached bytes are reserved
// with rc, which may be nil.
func NewCachingStore(inner BlobStore, capacity, blockSize int64, rc *resource.Controller) *CachingStore {
	if blockSize <= 0 {
		blockSize = DefaultBlockSize
	}
	return &CachingStore{
		inner:     inner,
		cache:     cache.NewLRU(capacity, rc),
		blockSize: blockSize,
	}
}

// Stats returns the cache hit and miss counters.
func (s *CachingStore) Stats() (hits, misses int64) {
	return s.cache.Stats()
}

// Open implements BlobStore.
func (s *CachingStore) Open(ctx context.Context, name string) (Blob, error) {
	b, err := s.inner.Open(ctx, name)
	if err != nil {
		return nil, err
	}
	return &cachingBlob{
		inner:     b,
		cache:     s.cache,
		name:      name,
		blockSize: s.blockSize,
	}, nil
}

// Create implements BlobStore. The blob's cached blocks are dropped when
// the writer is closed.
func (s *CachingStore) Create(ctx context.Context, name string) (WritableBlob, error) {
	s.cache.Invalidate(name)
	w, err := s.inner.Create(ctx, name)
	if err != nil {
		return nil, err
	}
	return &invalidatingWriter{WritableBlob: w, cache: s.cache, name: name}, nil
}

// Put implements BlobStore.
func (s *CachingStore) Put(ctx context.Context, name string, data []byte) error {
	defer s.cache.Invalidate(name)
	return s.inner.Put(ctx, name, data)
}

// Delete implements BlobStore.
func (s *CachingStore) Delete(ctx context.Context, name string) error {
	defer s.cache.Invalidate(name)
	return s.inner.Delete(ctx, name)
}

// List implements BlobStore.
func (s *CachingStore) List(ctx context.Context, prefix string) ([]string, error) {
	return s.inner.List(ctx, prefix)
}

type invalidatingWriter struct {
	WritableBlob
	cache *cache.LRU
	name  string
}

func (w *invalidatingWriter) Close() error {
	defer w.cache.Invalidate(w.name)
	return w.WritableBlob.Close()
}

// Abort leaves the cache alone: the stored blob does not change.
func (w *invalidatingWriter) Abort() error {
	return Abort(w.WritableBlob)
}

type cachingBlob struct {
	inner     Blob
	cache     *cache.LRU
	name      string
	blockSize int64
}

func (b *cachingBlob) Close() error {
	return b.inner.Close()
}

func (b *cachingBlob) Size() int64 {
	return b.inner.Size()
}

func (b *cachingBlob) ReadAt(ctx context.Context, p []byte, off int64) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	if off >= b.Size() {
		return 0, io.EOF
	}

	end := min(off+int64(len(p)), b.Size())
	startBlock := off / b.blockSize
	endBlock := (end - 1) / b.blockSize

	blocks, err := b.blocks(ctx, startBlock, endBlock)
	if err != nil {
		return 0, err
	}

	total := 0
	for i, data := range blocks {
		blkStart := (startBlock + int64(i)) * b.blockSize
		from := max(blkStart, off)
		to := min(blkStart+int64(len(data)), end)
		if to <= from {
			break
		}
		total += copy(p[from-off:to-off], data[from-blkStart:to-blkStart])
	}

	if total < len(p) {
		return total, io.EOF
	}
	return total, nil
}

// blocks returns the blocks [start, end], reading contiguous runs of missing
// blocks with one backend request each.
func (b *cachingBlob) blocks(ctx context.Context, start, end int64) ([][]byte, error) {
	out := make([][]byte, end-start+1)

	type run struct{ first, count int64 }
	var missing []run
	for blk := start; blk <= end; blk++ {
		if data, ok := b.cache.Get(cache.Key{Name: b.name, Block: blk}); ok {
			out[blk-start] = data
			continue
		}
		if n := len(missing); n > 0 && missing[n-1].first+missing[n-1].count == blk {
			missing[n-1].count++
		} else {
			missing = append(missing, run{first: blk, count: 1})
		}
	}

	g, gctx := errgroup.WithContext(ctx)
	// Limit concurrency to avoid FD exhaustion or rate limits
	g.SetLimit(16)
	for _, r := range missing {
		g.Go(func() error {
			byteStart := r.first * b.blockSize
			byteSize := min(r.count*b.blockSize, b.Size()-byteStart)

			buf := make([]byte, byteSize)
			n, err := b.inner.ReadAt(gctx, buf, byteStart)
			if err != nil && !errors.Is(err, io.EOF) {
				return err
			}
			buf = buf[:n]

			for i := range r.count {
				lo := i * b.blockSize
				if lo >= int64(len(buf)) {
					break
				}
				hi := min(lo+b.blockSize, int64(len(buf)))

				// Copy so a cached block does not pin the whole run.
				blk := make([]byte, hi-lo)
				copy(blk, buf[lo:hi])

				out[r.first-start+i] = blk
				b.cache.Set(cache.Key{Name: b.name, Block: r.first + i}, blk)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}
