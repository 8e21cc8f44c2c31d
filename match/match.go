// Package match finds, for every point of a target cloud, the nearest point
// of a band-indexed source cloud within a maximum angular radius.
//
// Only the target's own band and the bands within one search radius of it
// are scanned, so the work per target is bounded by the occupancy of a few
// bands rather than by the size of the source cloud.
package match

import (
	"errors"
	"fmt"
	"math"

	"github.com/RoaringBitmap/roaring/v2"
	"github.com/hupe1980/geofuse/band"
	"github.com/hupe1980/geofuse/geo"
	"golang.org/x/sync/errgroup"
)

// NoMatch marks a target without a source point within the radius.
const NoMatch int32 = -1

// DefaultChunkSize is the number of targets handed to one worker at a time.
const DefaultChunkSize = 4096

var (
	// ErrInvalidRadius is returned for a negative or NaN radius.
	ErrInvalidRadius = errors.New("radius must be a non-negative number")

	// ErrNilIndex is returned when no source index is given.
	ErrNilIndex = errors.New("source index is nil")
)

// Table holds one entry per target: the original index of the matched source
// point, or NoMatch.
type Table []int32

// Matched returns the number of targets with a match.
func (t Table) Matched() int {
	n := 0
	for _, id := range t {
		if id != NoMatch {
			n++
		}
	}
	return n
}

// Unmatched returns the set of target indexes without a match.
func (t Table) Unmatched() *roaring.Bitmap {
	bm := roaring.New()
	for i, id := range t {
		if id == NoMatch {
			bm.Add(uint32(i))
		}
	}
	return bm
}

// Options configures Nearest.
type Options struct {
	// Workers is the number of goroutines scanning targets. Values <= 1 run
	// serially. The table does not depend on it.
	Workers int

	// ChunkSize is the number of consecutive targets per work item.
	// Defaults to DefaultChunkSize.
	ChunkSize int
}

// Nearest matches every target point against the source index.
//
// radius is the maximum great-circle distance in radians. Among sources
// within the radius the closest wins; equal distances keep the first
// candidate in scan order (bands from low to high, points in index order),
// so results are reproducible. The target cloud is only read.
func Nearest(idx *band.Index, target geo.RadianCloud, radius float64, optFns ...func(*Options)) (Table, error) {
	opts := Options{
		Workers:   1,
		ChunkSize: DefaultChunkSize,
	}
	for _, fn := range optFns {
		if fn != nil {
			fn(&opts)
		}
	}

	if idx == nil {
		return nil, ErrNilIndex
	}
	if math.IsNaN(radius) || radius < 0 {
		return nil, fmt.Errorf("%w: %v", ErrInvalidRadius, radius)
	}

	s := newScanner(idx, radius)
	table := make(Table, target.Len())

	nTar := target.Len()
	chunk := max(opts.ChunkSize, 1)
	if opts.Workers <= 1 || nTar <= chunk {
		s.run(target, table, 0, nTar)
		return table, nil
	}

	var g errgroup.Group
	g.SetLimit(opts.Workers)
	for lo := 0; lo < nTar; lo += chunk {
		hi := min(lo+chunk, nTar)
		g.Go(func() error {
			s.run(target, table, lo, hi)
			return nil
		})
	}
	_ = g.Wait()

	return table, nil
}

// scanner is the read-only search state shared by all workers.
type scanner struct {
	idx    *band.Index
	radius float64
	n      int
	window int
}

func newScanner(idx *band.Index, radius float64) *scanner {
	n := idx.NumBands()

	// Sources within radius lie at most ceil(radius/width) bands away. With
	// a band count derived from the radius this is 1.
	window := 1
	if w := math.Ceil(radius / idx.Width); w > 1 {
		window = int(math.Min(w, float64(n)))
	}

	return &scanner{
		idx:    idx,
		radius: radius,
		n:      n,
		window: window,
	}
}

func (s *scanner) run(target geo.RadianCloud, table Table, lo, hi int) {
	for t := lo; t < hi; t++ {
		lat, lon := target.At(t)
		table[t] = s.nearest(lat, lon)
	}
}

func (s *scanner) nearest(lat, lon float64) int32 {
	b := s.idx.Of(lat)
	if b == math.MinInt {
		return NoMatch
	}

	first := max(b-s.window, 0)
	last := min(b+s.window, s.n-1)
	if first > last {
		return NoMatch
	}

	x := s.idx
	best := NoMatch
	bestD := 0.0
	for p := x.Offsets[first]; p < x.Offsets[last+1]; p++ {
		d := geo.GreatCircle(lat, lon, x.Lat[p], x.Lon[p])
		if d <= s.radius && (best == NoMatch || d < bestD) {
			best = x.IDs[p]
			bestD = d
		}
	}
	return best
}
