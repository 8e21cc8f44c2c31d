package band

import (
	"math"
	"testing"

	"github.com/hupe1980/geofuse/geo"
	"github.com/hupe1980/geofuse/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func radians(t *testing.T, lat, lon []float64) geo.RadianCloud {
	t.Helper()
	c, err := geo.NewCloud(lat, lon)
	require.NoError(t, err)
	rc, err := geo.ToRadians(&c)
	require.NoError(t, err)
	return rc
}

func TestCount(t *testing.T) {
	tests := []struct {
		name     string
		radius   float64
		expected int
	}{
		{"500km", 500000 / geo.EarthRadius, int(math.Floor(math.Pi / (500000 / geo.EarthRadius)))},
		{"HalfPi", math.Pi / 2, 2},
		{"LargerThanPi", 4, 1},
		{"Zero", 0, MaxBands},
		{"Negative", -1, MaxBands},
		{"Tiny", 1e-12, MaxBands},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			n := Count(tt.radius)
			assert.Equal(t, tt.expected, n)
			if tt.radius > 0 {
				assert.GreaterOrEqual(t, Width(n), tt.radius)
			}
		})
	}
}

func TestOf(t *testing.T) {
	n := 18
	w := Width(n)

	assert.Equal(t, 0, Of(-math.Pi/2, w))
	assert.Equal(t, n, Of(math.Pi/2, w))
	assert.Equal(t, n/2, Of(0, w))
	assert.Equal(t, -1, Of(-math.Pi/2-w/2, w))
	assert.Equal(t, math.MinInt, Of(math.NaN(), w))
	assert.Equal(t, -MaxBands-1, Of(math.Inf(-1), w))
	assert.Equal(t, MaxBands+1, Of(math.Inf(1), w))
}

func TestBuild_Partition(t *testing.T) {
	rng := testutil.NewRNG(4711)
	lat, lon := rng.Cloud(5000, -90, 90, -180, 180)
	cloud := radians(t, lat, lon)

	n := 37
	x, err := Build(&cloud, n)
	require.NoError(t, err)

	require.Len(t, x.Offsets, n+1)
	assert.Equal(t, 0, x.Offsets[0])
	assert.Equal(t, x.Len(), x.Offsets[n])
	assert.Equal(t, 5000, x.Len()+x.Excluded)

	for k := range n {
		start, end := x.Span(k)
		require.LessOrEqual(t, start, end)
		for p := start; p < end; p++ {
			assert.Equal(t, k, x.Of(x.Lat[p]), "position %d", p)
		}
	}

	seen := make(map[int32]bool, x.Len())
	for _, id := range x.IDs {
		assert.False(t, seen[id], "id %d appears twice", id)
		seen[id] = true
	}
}

func TestBuild_PreservesOrderWithinBand(t *testing.T) {
	cloud := radians(t,
		[]float64{1, 50, 2, 51, 3},
		[]float64{10, 20, 30, 40, 50},
	)

	x, err := Build(&cloud, 4)
	require.NoError(t, err)

	assert.Equal(t, []int{0, 0, 0, 3, 5}, x.Offsets)
	assert.Equal(t, []int32{0, 2, 4, 1, 3}, x.IDs)
	assert.InDelta(t, 30*math.Pi/180, x.Lon[1], 1e-12)
}

func TestBuild_ConsumesCloud(t *testing.T) {
	cloud := radians(t, []float64{1, 2}, []float64{3, 4})

	_, err := Build(&cloud, 10)
	require.NoError(t, err)

	assert.Equal(t, 0, cloud.Len())
}

func TestBuild_Poles(t *testing.T) {
	lat := []float64{-math.Pi / 2, 0, math.Pi / 2}
	lon := []float64{0, 0, 0}

	t.Run("exclude", func(t *testing.T) {
		cloud := rawCloud(lat, lon)
		x, err := Build(&cloud, 6)
		require.NoError(t, err)

		assert.Equal(t, 1, x.Excluded)
		assert.True(t, x.ExcludedIDs.Contains(2))
		assert.Equal(t, []int32{0, 1}, x.IDs)

		// The south pole lands in band 0.
		start, end := x.Span(0)
		assert.Equal(t, 1, end-start)
		assert.Equal(t, int32(0), x.IDs[start])
	})

	t.Run("clamp", func(t *testing.T) {
		cloud := rawCloud(lat, lon)
		x, err := Build(&cloud, 6, func(o *Options) { o.ClampPoles = true })
		require.NoError(t, err)

		assert.Equal(t, 0, x.Excluded)
		assert.Equal(t, uint64(0), x.ExcludedIDs.GetCardinality())
		start, end := x.Span(5)
		assert.Equal(t, 1, end-start)
		assert.Equal(t, int32(2), x.IDs[start])
	})
}

func TestBuild_ExcludesNaN(t *testing.T) {
	cloud := rawCloud([]float64{math.NaN(), 0.1}, []float64{0, 0})

	x, err := Build(&cloud, 8, func(o *Options) { o.ClampPoles = true })
	require.NoError(t, err)

	assert.Equal(t, 1, x.Excluded)
	assert.True(t, x.ExcludedIDs.Contains(0))
	assert.Equal(t, []int32{1}, x.IDs)
}

func TestBuild_ParallelMatchesSerial(t *testing.T) {
	rng := testutil.NewRNG(42)
	lat, lon := rng.Cloud(10007, -90, 90, -180, 180)

	serialCloud := testutil.Radians(lat, lon)
	serial, err := Build(&serialCloud, 101)
	require.NoError(t, err)

	for _, workers := range []int{2, 3, 8, 64} {
		cloud := testutil.Radians(lat, lon)
		par, err := Build(&cloud, 101, func(o *Options) { o.Workers = workers })
		require.NoError(t, err)

		assert.Equal(t, serial.Offsets, par.Offsets, "workers=%d", workers)
		assert.Equal(t, serial.IDs, par.IDs, "workers=%d", workers)
		assert.Equal(t, serial.Lat, par.Lat, "workers=%d", workers)
		assert.Equal(t, serial.Lon, par.Lon, "workers=%d", workers)
	}
}

func TestBuild_Empty(t *testing.T) {
	cloud := radians(t, nil, nil)

	x, err := Build(&cloud, 5, func(o *Options) { o.Workers = 4 })
	require.NoError(t, err)

	assert.Equal(t, []int{0, 0, 0, 0, 0, 0}, x.Offsets)
	assert.Equal(t, 0, x.Len())
	assert.Equal(t, 0, x.Excluded)
}

func TestBuild_InvalidBandCount(t *testing.T) {
	cloud := radians(t, nil, nil)

	_, err := Build(&cloud, 0)
	assert.ErrorIs(t, err, ErrInvalidBandCount)

	_, err = Build(&cloud, MaxBands+1)
	assert.ErrorIs(t, err, ErrInvalidBandCount)
}

// rawCloud builds a cloud from values that are already radians.
func rawCloud(lat, lon []float64) geo.RadianCloud {
	rc, err := geo.FromRadians(append([]float64(nil), lat...), append([]float64(nil), lon...))
	if err != nil {
		panic(err)
	}
	return rc
}

func TestEstimateBytes(t *testing.T) {
	assert.Equal(t, int64(8*1+8*2), EstimateBytes(0, 1, 4))
	assert.Equal(t, int64(10*4+2*5*8+6*8+10*20), EstimateBytes(10, 5, 2))
}
