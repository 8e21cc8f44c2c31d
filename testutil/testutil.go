package testutil

import (
	"math"
	"math/rand"
	"sync"

	"github.com/hupe1980/geofuse/geo"
)

// RNG struct encapsulates the random number generator and seed.
// It is thread-safe.
type RNG struct {
	rand *rand.Rand
	seed int64
	mu   sync.Mutex
}

// NewRNG creates a new RNG instance with the specified seed.
func NewRNG(seed int64) *RNG {
	return &RNG{
		rand: rand.New(rand.NewSource(seed)), // nolint gosec
		seed: seed,
	}
}

// Reset resets the RNG to its initial seed.
func (r *RNG) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rand.Seed(r.seed)
}

// Seed returns the initial seed.
func (r *RNG) Seed() int64 {
	return r.seed
}

// Intn returns a non-negative pseudo-random number in [0,n).
func (r *RNG) Intn(n int) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.rand.Intn(n)
}

// Float64 returns a pseudo-random number in [0.0,1.0).
func (r *RNG) Float64() float64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.rand.Float64()
}

// Cloud generates n points with latitudes uniform in [latMin, latMax) and
// longitudes uniform in [lonMin, lonMax), all in degrees.
func (r *RNG) Cloud(n int, latMin, latMax, lonMin, lonMax float64) (lat, lon []float64) {
	r.mu.Lock()
	defer r.mu.Unlock()

	lat = make([]float64, n)
	lon = make([]float64, n)
	for i := range n {
		lat[i] = latMin + r.rand.Float64()*(latMax-latMin)
		lon[i] = lonMin + r.rand.Float64()*(lonMax-lonMin)
	}
	return lat, lon
}

// Jitter returns a copy of the degree cloud with every coordinate moved by
// up to ±spread degrees. Useful for building a target cloud that lies close
// to a source cloud.
func (r *RNG) Jitter(lat, lon []float64, spread float64) (jlat, jlon []float64) {
	r.mu.Lock()
	defer r.mu.Unlock()

	jlat = make([]float64, len(lat))
	jlon = make([]float64, len(lon))
	for i := range lat {
		jlat[i] = math.Max(-90, math.Min(90, lat[i]+(r.rand.Float64()*2-1)*spread))
		jlon[i] = lon[i] + (r.rand.Float64()*2-1)*spread
	}
	return jlat, jlon
}

// Values generates n values uniform in [minVal, maxVal).
func (r *RNG) Values(n int, minVal, maxVal float64) []float64 {
	r.mu.Lock()
	defer r.mu.Unlock()

	vals := make([]float64, n)
	for i := range vals {
		vals[i] = minVal + r.rand.Float64()*(maxVal-minVal)
	}
	return vals
}

// Radians returns a radian copy of a degree cloud, leaving the input
// untouched.
func Radians(lat, lon []float64) geo.RadianCloud {
	c, err := geo.NewCloud(append([]float64(nil), lat...), append([]float64(nil), lon...))
	if err != nil {
		panic(err)
	}
	rc, err := geo.ToRadians(&c)
	if err != nil {
		panic(err)
	}
	return rc
}

// ExactNearest computes, for every target, the nearest source within radius
// by scanning all sources. Ties keep the lowest source index. Targets
// without a source in range get -1 and distance +Inf.
func ExactNearest(src, tar geo.RadianCloud, radius float64) ([]int32, []float64) {
	ids := make([]int32, tar.Len())
	dists := make([]float64, tar.Len())

	for t := range tar.Len() {
		tLat, tLon := tar.At(t)
		best := int32(-1)
		bestD := math.Inf(1)
		for s := range src.Len() {
			sLat, sLon := src.At(s)
			d := geo.GreatCircle(tLat, tLon, sLat, sLon)
			if d <= radius && d < bestD {
				best = int32(s)
				bestD = d
			}
		}
		ids[t] = best
		dists[t] = bestD
	}

	return ids, dists
}
