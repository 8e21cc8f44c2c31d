// Package band partitions a point cloud into latitude bands.
//
// The index is a counting sort: every point is assigned the band
// floor((lat + π/2) / width), bands are counted, prefix sums give the
// offset table, and points are scattered into a band-sorted view. Band k
// then spans sorted positions [Offsets[k], Offsets[k+1]).
//
// Points whose band falls outside [0, n) are excluded from the view. They
// are never silently lost: the count and the original IDs are reported on
// the Index.
package band

import (
	"errors"
	"fmt"
	"math"

	"github.com/RoaringBitmap/roaring/v2"
	"github.com/hupe1980/geofuse/geo"
	"github.com/hupe1980/geofuse/internal/conv"
	"golang.org/x/sync/errgroup"
)

// MaxBands caps the number of bands. A smaller count only widens the bands,
// which keeps neighbour search correct.
const MaxBands = 1 << 20

var (
	// ErrInvalidBandCount is returned when the band count is not in [1, MaxBands].
	ErrInvalidBandCount = errors.New("band count must be in [1, MaxBands]")

	// ErrTooManyPoints is returned when a cloud has more points than an
	// int32 point ID can address.
	ErrTooManyPoints = errors.New("too many points for int32 ids")
)

// Options configures Build.
type Options struct {
	// Workers is the number of goroutines used for the count and scatter
	// phases. Values <= 1 run serially. The result does not depend on it.
	Workers int

	// ClampPoles places a point whose band rounds one past either end
	// (latitude exactly π/2, or -π/2 after a rounding step below it) into
	// the nearest edge band instead of excluding it.
	ClampPoles bool
}

// Index is a band-sorted view of a point cloud.
type Index struct {
	// Offsets has n+1 entries; band k spans [Offsets[k], Offsets[k+1]).
	Offsets []int

	// Lat, Lon and IDs are the retained points in band order. IDs holds
	// each point's index in the cloud that was indexed.
	Lat []float64
	Lon []float64
	IDs []int32

	// Width is the band width in radians (π / n).
	Width float64

	// Excluded is the number of points left out of the view because their
	// band was out of range.
	Excluded int

	// ExcludedIDs holds the original IDs of the excluded points.
	ExcludedIDs *roaring.Bitmap
}

// NumBands returns the number of bands n.
func (x *Index) NumBands() int { return len(x.Offsets) - 1 }

// Len returns the number of retained points.
func (x *Index) Len() int { return len(x.IDs) }

// Span returns the sorted positions [start, end) of band k.
func (x *Index) Span(k int) (start, end int) {
	return x.Offsets[k], x.Offsets[k+1]
}

// Of returns the band of a latitude for this index. The result may lie
// outside [0, NumBands()).
func (x *Index) Of(lat float64) int {
	return Of(lat, x.Width)
}

// Count derives the band count from an angular search radius so that the
// band width is never smaller than the radius.
func Count(angularRadius float64) int {
	if !(angularRadius > 0) {
		return MaxBands
	}
	n := math.Floor(math.Pi / angularRadius)
	switch {
	case n < 1:
		return 1
	case n > MaxBands:
		return MaxBands
	default:
		return int(n)
	}
}

// Width returns the band width in radians for n bands.
func Width(n int) float64 {
	return math.Pi / float64(n)
}

// Of returns floor((lat + π/2) / width), saturated to
// [-MaxBands-1, MaxBands+1]. NaN latitudes map to math.MinInt.
func Of(lat, width float64) int {
	f := math.Floor((lat + math.Pi/2) / width)
	switch {
	case math.IsNaN(f):
		return math.MinInt
	case f < -MaxBands-1:
		return -MaxBands - 1
	case f > MaxBands+1:
		return MaxBands + 1
	default:
		return int(f)
	}
}

// EstimateBytes returns the heap Build allocates for a cloud of the given
// size: band tags, per-chunk counters, the offset table and the sorted view.
func EstimateBytes(points, n, workers int) int64 {
	chunks := int64(min(max(workers, 1), max(points, 1)))
	p, k := int64(points), int64(n)
	return p*4 + chunks*k*8 + (k+1)*8 + p*(8+8+4)
}

// Build indexes cloud into n latitude bands.
//
// Build consumes cloud: its arrays are taken and the cloud is left empty, so
// the unsorted coordinates cannot be used after indexing.
func Build(cloud *geo.RadianCloud, n int, optFns ...func(*Options)) (*Index, error) {
	opts := Options{Workers: 1}
	for _, fn := range optFns {
		if fn != nil {
			fn(&opts)
		}
	}

	if n < 1 || n > MaxBands {
		return nil, fmt.Errorf("%w: %d", ErrInvalidBandCount, n)
	}

	lat, lon := cloud.Take()
	if _, err := conv.IntToInt32(len(lat)); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrTooManyPoints, err)
	}

	b := newBuilder(lat, lon, n, opts)
	b.count()
	offsets := b.prefix()
	return b.scatter(offsets), nil
}

// builder holds the per-chunk state of one Build call.
//
// Points are split into contiguous chunks. Each chunk counts its own bands,
// and a (band, chunk) prefix sum gives every chunk a private write cursor per
// band. Chunks therefore write disjoint ranges and, because chunk c's points
// precede chunk c+1's within every band, the view keeps the original order
// inside each band whatever the number of workers.
type builder struct {
	lat, lon []float64
	n        int
	width    float64
	opts     Options

	chunk    int
	nChunks  int
	bands    []int32    // band per point, -1 if excluded
	counts   [][]int    // counts[c][k]
	excluded [][]uint32 // excluded ids per chunk
}

func newBuilder(lat, lon []float64, n int, opts Options) *builder {
	workers := max(opts.Workers, 1)
	chunk := max((len(lat)+workers-1)/workers, 1)
	nChunks := (len(lat) + chunk - 1) / chunk

	return &builder{
		lat:      lat,
		lon:      lon,
		n:        n,
		width:    Width(n),
		opts:     opts,
		chunk:    chunk,
		nChunks:  nChunks,
		bands:    make([]int32, len(lat)),
		counts:   make([][]int, nChunks),
		excluded: make([][]uint32, nChunks),
	}
}

func (b *builder) bounds(c int) (lo, hi int) {
	lo = c * b.chunk
	return lo, min(lo+b.chunk, len(b.lat))
}

func (b *builder) each(fn func(c int)) {
	if b.nChunks <= 1 {
		for c := range b.nChunks {
			fn(c)
		}
		return
	}
	var g errgroup.Group
	g.SetLimit(max(b.opts.Workers, 1))
	for c := range b.nChunks {
		g.Go(func() error {
			fn(c)
			return nil
		})
	}
	_ = g.Wait()
}

func (b *builder) count() {
	b.each(func(c int) {
		counts := make([]int, b.n)
		var excluded []uint32
		lo, hi := b.bounds(c)
		for i := lo; i < hi; i++ {
			k := Of(b.lat[i], b.width)
			if b.opts.ClampPoles {
				if k == b.n {
					k = b.n - 1
				} else if k == -1 {
					k = 0
				}
			}
			if k < 0 || k >= b.n {
				b.bands[i] = -1
				excluded = append(excluded, uint32(i))
				continue
			}
			b.bands[i] = int32(k)
			counts[k]++
		}
		b.counts[c] = counts
		b.excluded[c] = excluded
	})
}

// prefix computes the offset table and turns counts into write cursors.
func (b *builder) prefix() []int {
	offsets := make([]int, b.n+1)
	pos := 0
	for k := range b.n {
		offsets[k] = pos
		for c := range b.nChunks {
			cnt := b.counts[c][k]
			b.counts[c][k] = pos
			pos += cnt
		}
	}
	offsets[b.n] = pos
	return offsets
}

func (b *builder) scatter(offsets []int) *Index {
	retained := offsets[b.n]
	x := &Index{
		Offsets:     offsets,
		Lat:         make([]float64, retained),
		Lon:         make([]float64, retained),
		IDs:         make([]int32, retained),
		Width:       b.width,
		ExcludedIDs: roaring.New(),
	}

	b.each(func(c int) {
		cursor := b.counts[c]
		lo, hi := b.bounds(c)
		for i := lo; i < hi; i++ {
			k := b.bands[i]
			if k < 0 {
				continue
			}
			p := cursor[k]
			x.Lat[p] = b.lat[i]
			x.Lon[p] = b.lon[i]
			x.IDs[p] = int32(i)
			cursor[k]++
		}
	})

	for _, ids := range b.excluded {
		x.ExcludedIDs.AddMany(ids)
		x.Excluded += len(ids)
	}
	return x
}
