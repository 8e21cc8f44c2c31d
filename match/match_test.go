package match

import (
	"math"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/hupe1980/geofuse/band"
	"github.com/hupe1980/geofuse/geo"
	"github.com/hupe1980/geofuse/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func index(t *testing.T, lat, lon []float64, radius float64) *band.Index {
	t.Helper()
	src := testutil.Radians(lat, lon)
	x, err := band.Build(&src, band.Count(radius))
	require.NoError(t, err)
	return x
}

func TestNearest_PicksClosest(t *testing.T) {
	radius := 500000 / geo.EarthRadius
	x := index(t, []float64{0, 10}, []float64{0, 0}, radius)

	table, err := Nearest(x, testutil.Radians([]float64{1}, []float64{0}), radius)
	require.NoError(t, err)

	assert.Equal(t, Table{0}, table)
}

func TestNearest_NoMatch(t *testing.T) {
	radius := 1000 / geo.EarthRadius
	x := index(t, []float64{0}, []float64{0}, radius)

	table, err := Nearest(x, testutil.Radians([]float64{45}, []float64{0}), radius)
	require.NoError(t, err)

	assert.Equal(t, Table{NoMatch}, table)
	assert.Equal(t, 0, table.Matched())
	assert.True(t, table.Unmatched().Contains(0))
}

func TestNearest_RadiusIsInclusive(t *testing.T) {
	src := testutil.Radians([]float64{0}, []float64{0})
	tar := testutil.Radians([]float64{0}, []float64{1})
	sLat, sLon := src.At(0)
	tLat, tLon := tar.At(0)
	radius := geo.GreatCircle(tLat, tLon, sLat, sLon)

	x, err := band.Build(&src, band.Count(radius))
	require.NoError(t, err)

	table, err := Nearest(x, tar, radius)
	require.NoError(t, err)
	assert.Equal(t, Table{0}, table)
}

func TestNearest_TieKeepsFirstInScanOrder(t *testing.T) {
	// Two sources at the same distance east and west of the target, in the
	// same band: the lower original index is scanned first.
	radius := 200000 / geo.EarthRadius
	x := index(t, []float64{10, 10}, []float64{1, -1}, radius)

	table, err := Nearest(x, testutil.Radians([]float64{10}, []float64{0}), radius)
	require.NoError(t, err)
	assert.Equal(t, Table{0}, table)

	// Same geometry with the indexes swapped.
	x = index(t, []float64{10, 10}, []float64{-1, 1}, radius)
	table, err = Nearest(x, testutil.Radians([]float64{10}, []float64{0}), radius)
	require.NoError(t, err)
	assert.Equal(t, Table{0}, table)
}

func TestNearest_AcrossBandBoundary(t *testing.T) {
	radius := 300000 / geo.EarthRadius
	n := band.Count(radius)
	w := band.Width(n)

	// Source just below a band boundary, target just above it.
	boundary := -math.Pi/2 + 10*w
	src, err := geo.FromRadians([]float64{boundary - 1e-6}, []float64{0})
	require.NoError(t, err)
	tar, err := geo.FromRadians([]float64{boundary + 1e-6}, []float64{0})
	require.NoError(t, err)

	x, err := band.Build(&src, n)
	require.NoError(t, err)
	require.NotEqual(t, x.Of(boundary-1e-6), x.Of(boundary+1e-6))

	table, err := Nearest(x, tar, radius)
	require.NoError(t, err)
	assert.Equal(t, Table{0}, table)
}

func TestNearest_OverThePole(t *testing.T) {
	radius := 100000 / geo.EarthRadius
	x := index(t, []float64{89.7}, []float64{180}, radius)

	table, err := Nearest(x, testutil.Radians([]float64{89.7}, []float64{0}), radius)
	require.NoError(t, err)

	// 0.6 degrees over the pole is about 67 km.
	assert.Equal(t, Table{0}, table)
}

func TestNearest_MinimalAgainstBruteForce(t *testing.T) {
	rng := testutil.NewRNG(4711)
	srcLat, srcLon := rng.Cloud(3000, -90, 90, -180, 180)
	tarLat, tarLon := rng.Jitter(srcLat[:1500], srcLon[:1500], 2)
	farLat, farLon := rng.Cloud(500, -90, 90, -180, 180)
	tarLat = append(tarLat, farLat...)
	tarLon = append(tarLon, farLon...)

	radius := 150000 / geo.EarthRadius

	x := index(t, srcLat, srcLon, radius)
	tar := testutil.Radians(tarLat, tarLon)

	table, err := Nearest(x, tar, radius)
	require.NoError(t, err)

	src := testutil.Radians(srcLat, srcLon)
	wantIDs, wantDists := testutil.ExactNearest(src, tar, radius)

	for i, id := range table {
		if wantIDs[i] == NoMatch {
			assert.Equal(t, NoMatch, id, "target %d", i)
			continue
		}
		require.NotEqual(t, NoMatch, id, "target %d", i)
		tLat, tLon := tar.At(i)
		sLat, sLon := src.At(int(id))
		d := geo.GreatCircle(tLat, tLon, sLat, sLon)
		assert.LessOrEqual(t, d, radius)
		assert.Equal(t, wantDists[i], d, "target %d", i)
	}
	assert.Greater(t, table.Matched(), 0)
}

func TestNearest_Deterministic(t *testing.T) {
	rng := testutil.NewRNG(7)
	srcLat, srcLon := rng.Cloud(20000, -80, 80, -180, 180)
	tarLat, tarLon := rng.Cloud(20000, -80, 80, -180, 180)
	radius := 50000 / geo.EarthRadius

	x := index(t, srcLat, srcLon, radius)
	tar := testutil.Radians(tarLat, tarLon)

	first, err := Nearest(x, tar, radius)
	require.NoError(t, err)
	second, err := Nearest(x, tar, radius)
	require.NoError(t, err)
	if diff := cmp.Diff(first, second); diff != "" {
		t.Fatalf("repeated run differs (-first +second):\n%s", diff)
	}

	par, err := Nearest(x, tar, radius, func(o *Options) {
		o.Workers = 8
		o.ChunkSize = 333
	})
	require.NoError(t, err)
	if diff := cmp.Diff(first, par); diff != "" {
		t.Fatalf("parallel run differs (-serial +parallel):\n%s", diff)
	}
}

func TestNearest_WideRadiusScansMoreBands(t *testing.T) {
	// A band count chosen independently of the radius: the window widens
	// to ceil(radius/width) bands on each side.
	src := testutil.Radians([]float64{0}, []float64{0})
	x, err := band.Build(&src, 180)
	require.NoError(t, err)

	radius := 5 * math.Pi / 180
	table, err := Nearest(x, testutil.Radians([]float64{4}, []float64{0}), radius)
	require.NoError(t, err)
	assert.Equal(t, Table{0}, table)
}

func TestNearest_DegenerateTargets(t *testing.T) {
	radius := 100000 / geo.EarthRadius
	x := index(t, []float64{0}, []float64{0}, radius)

	tar, err := geo.FromRadians(
		[]float64{math.NaN(), 0, -math.Pi, math.Pi},
		[]float64{0, math.NaN(), 0, 0},
	)
	require.NoError(t, err)

	table, err := Nearest(x, tar, radius)
	require.NoError(t, err)
	assert.Equal(t, Table{NoMatch, NoMatch, NoMatch, NoMatch}, table)
}

func TestNearest_Errors(t *testing.T) {
	_, err := Nearest(nil, geo.RadianCloud{}, 1)
	assert.ErrorIs(t, err, ErrNilIndex)

	x := index(t, []float64{0}, []float64{0}, 0.1)
	_, err = Nearest(x, geo.RadianCloud{}, -1)
	assert.ErrorIs(t, err, ErrInvalidRadius)

	_, err = Nearest(x, geo.RadianCloud{}, math.NaN())
	assert.ErrorIs(t, err, ErrInvalidRadius)
}

func TestNearest_EmptyInputs(t *testing.T) {
	x := index(t, nil, nil, 0.1)

	table, err := Nearest(x, testutil.Radians([]float64{1, 2}, []float64{3, 4}), 0.1)
	require.NoError(t, err)
	assert.Equal(t, Table{NoMatch, NoMatch}, table)

	table, err = Nearest(x, geo.RadianCloud{}, 0.1)
	require.NoError(t, err)
	assert.Empty(t, table)
}
