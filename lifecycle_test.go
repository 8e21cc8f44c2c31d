package geofuse_test

import (
	"context"
	"runtime"
	"sync"
	"testing"
	"time"

	"github.com/hupe1980/geofuse"
	"github.com/hupe1980/geofuse/archive"
	"github.com/hupe1980/geofuse/blobstore"
	"github.com/hupe1980/geofuse/geo"
	"github.com/hupe1980/geofuse/resource"
	"github.com/hupe1980/geofuse/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func randomSource(t *testing.T, rng *testutil.RNG, n int) (*geofuse.Source, *geo.Cloud) {
	t.Helper()
	lat, lon := rng.Cloud(n, -80, 80, -180, 180)
	src, err := geo.NewCloud(lat, lon)
	require.NoError(t, err)

	tlat, tlon := rng.Jitter(lat[:n/2], lon[:n/2], 0.01)
	tar, err := geo.NewCloud(tlat, tlon)
	require.NoError(t, err)

	return &geofuse.Source{Cloud: src, Values: rng.Values(n, 0, 10)}, &tar
}

// TestNoGoroutineLeaks verifies that the worker pools used for indexing,
// matching and archiving are gone once a run returns.
func TestNoGoroutineLeaks(t *testing.T) {
	tests := []struct {
		name     string
		opts     []geofuse.Option
		maxLeaks int // Allow small variance (runtime background goroutines)
	}{
		{
			name:     "serial",
			opts:     []geofuse.Option{geofuse.WithWorkers(1)},
			maxLeaks: 2,
		},
		{
			name:     "parallel",
			opts:     []geofuse.Option{geofuse.WithWorkers(8)},
			maxLeaks: 2,
		},
		{
			name: "parallel with archive",
			opts: []geofuse.Option{
				geofuse.WithWorkers(8),
				geofuse.WithArchive(archive.New(blobstore.NewMemoryStore())),
			},
			maxLeaks: 2,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			runtime.GC()
			initial := runtime.NumGoroutine()

			f, err := geofuse.New(tt.opts...)
			require.NoError(t, err)

			rng := testutil.NewRNG(3)
			ctx := context.Background()
			for range 3 {
				src, tar := randomSource(t, rng, 20_000)
				_, err := f.Interpolate(ctx, src, tar, 5_000)
				require.NoError(t, err)

				src, tar = randomSource(t, rng, 20_000)
				_, err = f.Summarize(ctx, src, tar, 5_000)
				require.NoError(t, err)
			}

			deadline := time.Now().Add(2 * time.Second)
			var final, leaked int
			for {
				runtime.GC()
				time.Sleep(50 * time.Millisecond)

				final = runtime.NumGoroutine()
				leaked = final - initial
				if leaked <= tt.maxLeaks || time.Now().After(deadline) {
					break
				}
			}

			if leaked > tt.maxLeaks {
				buf := make([]byte, 1<<20)
				n := runtime.Stack(buf, true)
				t.Fatalf("goroutine leak: started with %d, ended with %d\n%s", initial, final, buf[:n])
			}
		})
	}
}

// TestConcurrentRuns shares one Fuser and one resource controller between
// goroutines. Slots and memory must be fully returned afterwards.
func TestConcurrentRuns(t *testing.T) {
	rc := resource.NewController(resource.Config{
		MemoryLimitBytes: 64 << 20,
		MaxWorkers:       2,
	})
	metrics := &geofuse.BasicMetricsCollector{}
	f, err := geofuse.New(
		geofuse.WithResourceController(rc),
		geofuse.WithMetricsCollector(metrics),
		geofuse.WithWorkers(2),
	)
	require.NoError(t, err)

	const runs = 8
	ctx := context.Background()

	var wg sync.WaitGroup
	errs := make([]error, runs)
	matched := make([]int, runs)
	for i := range runs {
		rng := testutil.NewRNG(int64(i))
		src, tar := randomSource(t, rng, 4000)
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := f.Interpolate(ctx, src, tar, 10_000)
			errs[i] = err
			if err == nil {
				matched[i] = res.Matched
			}
		}()
	}
	wg.Wait()

	for i := range runs {
		require.NoError(t, errs[i], "run %d", i)
		// Every target is a jittered copy of a source point.
		assert.Equal(t, 2000, matched[i], "run %d", i)
	}

	assert.Equal(t, int64(0), rc.MemoryUsage())
	assert.Equal(t, int64(runs), metrics.GetStats().RunCount)
	assert.Equal(t, int64(runs), metrics.GetStats().MatchCount)
}
