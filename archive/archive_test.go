package archive

import (
	"context"
	"slices"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/hupe1980/geofuse/blobstore"
	"github.com/hupe1980/geofuse/codec"
	"github.com/hupe1980/geofuse/geo"
	"github.com/hupe1980/geofuse/internal/fs"
	"github.com/hupe1980/geofuse/internal/hash"
	"github.com/hupe1980/geofuse/resource"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func interpolateRun() *Run {
	return &Run{
		Mode:         ModeInterpolate,
		RadiusMeters: 5000,
		Fill:         -999,
		Matched:      2,
		Values:       []float64{1.5, -999, 3},
		Matches:      []int32{4, -1, 0},
	}
}

func TestCloudRoundTrip(t *testing.T) {
	ctx := context.Background()
	a := New(blobstore.NewMemoryStore())

	c, err := geo.NewCloud([]float64{10, -20.5, 89.9}, []float64{0, 179, -180})
	require.NoError(t, err)
	require.NoError(t, a.SaveCloud(ctx, "misr", c, []float64{1, 2, 3}))

	got, values, err := a.LoadCloud(ctx, "misr")
	require.NoError(t, err)
	assert.Equal(t, c, got)
	assert.Equal(t, []float64{1, 2, 3}, values)
}

func TestCloud_WithoutValues(t *testing.T) {
	ctx := context.Background()
	a := New(blobstore.NewMemoryStore(), func(o *Options) { o.Compression = CompressionZSTD })

	c, err := geo.NewCloud([]float64{1}, []float64{2})
	require.NoError(t, err)
	require.NoError(t, a.SaveCloud(ctx, "modis", c, nil))

	got, values, err := a.LoadCloud(ctx, "modis")
	require.NoError(t, err)
	assert.Equal(t, c, got)
	assert.Nil(t, values)
}

func TestCloud_Errors(t *testing.T) {
	ctx := context.Background()
	a := New(blobstore.NewMemoryStore())

	c, err := geo.NewCloud([]float64{1, 2}, []float64{3, 4})
	require.NoError(t, err)
	assert.ErrorIs(t, a.SaveCloud(ctx, "x", c, []float64{1}), geo.ErrLengthMismatch)

	_, _, err = a.LoadCloud(ctx, "missing")
	assert.ErrorIs(t, err, blobstore.ErrNotFound)
}

func TestSaveRun_AssignsIDAndCommits(t *testing.T) {
	ctx := context.Background()
	store := blobstore.NewMemoryStore()
	a := New(store)

	r := interpolateRun()
	m, err := a.SaveRun(ctx, r)
	require.NoError(t, err)

	_, err = uuid.Parse(r.ID)
	require.NoError(t, err)
	assert.False(t, r.CreatedAt.IsZero())
	assert.Equal(t, r.ID, m.ID)
	assert.Equal(t, "go-json", m.Codec)
	assert.Equal(t, 3, m.Targets)
	assert.Contains(t, m.Columns, "matches")
	assert.NotContains(t, m.Columns, "counts")

	ptr, err := blobstore.ReadAll(ctx, store, CurrentName)
	require.NoError(t, err)
	assert.Equal(t, "runs/"+r.ID+"/manifest.go-json.json", string(ptr))

	latest, err := a.Latest(ctx)
	require.NoError(t, err)
	assert.Equal(t, r.ID, latest.ID)
	assert.Equal(t, ModeInterpolate, latest.Mode)
	assert.Equal(t, r.Values, latest.Values)
	assert.Equal(t, r.Matches, latest.Matches)
	assert.Nil(t, latest.Counts)
	assert.True(t, r.CreatedAt.Equal(latest.CreatedAt))
}

func TestSaveRun_Summarize(t *testing.T) {
	ctx := context.Background()
	a := New(blobstore.NewMemoryStore(), func(o *Options) { o.Codec = codec.JSON{} })

	r := &Run{
		ID:        "summary-1",
		Mode:      ModeSummarize,
		CreatedAt: time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
		Fill:      -999,
		Values:    []float64{2, -999},
		Counts:    []int32{2, 0},
	}
	_, err := a.SaveRun(ctx, r)
	require.NoError(t, err)

	got, err := a.LoadRun(ctx, "summary-1")
	require.NoError(t, err)
	assert.Equal(t, r.Values, got.Values)
	assert.Equal(t, r.Counts, got.Counts)
	assert.Nil(t, got.Matches)
	assert.True(t, r.CreatedAt.Equal(got.CreatedAt))
}

func TestLatest_FollowsLastCommit(t *testing.T) {
	ctx := context.Background()
	a := New(blobstore.NewMemoryStore())

	_, err := a.Latest(ctx)
	require.ErrorIs(t, err, ErrNoRuns)

	first := interpolateRun()
	first.ID = "a"
	_, err = a.SaveRun(ctx, first)
	require.NoError(t, err)

	second := interpolateRun()
	second.ID = "b"
	second.Values = []float64{7, 8, 9}
	_, err = a.SaveRun(ctx, second)
	require.NoError(t, err)

	latest, err := a.Latest(ctx)
	require.NoError(t, err)
	assert.Equal(t, "b", latest.ID)

	old, err := a.LoadRun(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, first.Values, old.Values)

	ids, err := a.Runs(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, ids)
}

func TestSaveRun_Invalid(t *testing.T) {
	ctx := context.Background()
	a := New(blobstore.NewMemoryStore())

	_, err := a.SaveRun(ctx, nil)
	assert.ErrorIs(t, err, ErrInvalidRun)

	r := interpolateRun()
	r.Matches = r.Matches[:1]
	_, err = a.SaveRun(ctx, r)
	assert.ErrorIs(t, err, ErrInvalidRun)

	r = interpolateRun()
	r.Mode = "average"
	_, err = a.SaveRun(ctx, r)
	assert.ErrorIs(t, err, ErrInvalidRun)

	r = interpolateRun()
	r.ID = "../escape"
	_, err = a.SaveRun(ctx, r)
	assert.ErrorIs(t, err, ErrInvalidRun)

	_, err = a.Latest(ctx)
	assert.ErrorIs(t, err, ErrNoRuns, "invalid runs must not be committed")
}

func TestLoadRun_Missing(t *testing.T) {
	a := New(blobstore.NewMemoryStore())
	_, err := a.LoadRun(context.Background(), "nope")
	assert.ErrorIs(t, err, blobstore.ErrNotFound)
}

func TestLoadRun_CorruptColumn(t *testing.T) {
	ctx := context.Background()
	store := blobstore.NewMemoryStore()
	a := New(store)

	r := interpolateRun()
	r.ID = "c"
	_, err := a.SaveRun(ctx, r)
	require.NoError(t, err)

	data, err := blobstore.ReadAll(ctx, store, "runs/c/values.col")
	require.NoError(t, err)
	data[len(data)-1] ^= 0x01
	require.NoError(t, store.Put(ctx, "runs/c/values.col", data))

	_, err = a.LoadRun(ctx, "c")
	assert.ErrorIs(t, err, ErrChecksum)
}

func TestLatest_UnknownCodec(t *testing.T) {
	ctx := context.Background()
	store := blobstore.NewMemoryStore()
	require.NoError(t, store.Put(ctx, CurrentName, []byte("runs/x/manifest.msgpack.json")))

	_, err := New(store).Latest(ctx)
	assert.ErrorIs(t, err, ErrUnknownCodec)
}

func TestArchive_LocalStore(t *testing.T) {
	ctx := context.Background()
	a := New(blobstore.NewLocalStore(t.TempDir()))

	r := interpolateRun()
	_, err := a.SaveRun(ctx, r)
	require.NoError(t, err)

	latest, err := a.Latest(ctx)
	require.NoError(t, err)
	assert.Equal(t, r.Values, latest.Values)
}

func TestArchive_IOLimit(t *testing.T) {
	ctx := context.Background()
	rc := resource.NewController(resource.Config{IOLimitBytesPerSec: 1 << 20})
	a := New(blobstore.NewMemoryStore(), func(o *Options) { o.Resources = rc })

	r := interpolateRun()
	_, err := a.SaveRun(ctx, r)
	require.NoError(t, err)

	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	_, err = a.LoadRun(cancelled, r.ID)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestSaveRun_RecordsColumnChecksums(t *testing.T) {
	ctx := context.Background()
	store := blobstore.NewMemoryStore()
	a := New(store)

	m, err := a.SaveRun(ctx, interpolateRun())
	require.NoError(t, err)

	for name, ref := range m.Columns {
		data, err := blobstore.ReadAll(ctx, store, ref.Path)
		require.NoError(t, err, name)
		assert.Equal(t, int64(len(data)), ref.Size, name)
		assert.Equal(t, hash.CRC32C(data), ref.CRC32C, name)
	}
}

func TestLoadRun_SwappedColumn(t *testing.T) {
	ctx := context.Background()
	store := blobstore.NewMemoryStore()
	a := New(store)

	r := interpolateRun()
	r.ID = "s"
	_, err := a.SaveRun(ctx, r)
	require.NoError(t, err)

	// A well-formed column of the right length, but not the one the
	// manifest recorded.
	other, err := EncodeFloat64([]float64{9, 9, 9}, CompressionLZ4)
	require.NoError(t, err)
	require.NoError(t, store.Put(ctx, "runs/s/values.col", other))

	_, err = a.LoadRun(ctx, "s")
	assert.ErrorIs(t, err, ErrChecksum)
}

func TestSaveRun_DiskFullKeepsPreviousRun(t *testing.T) {
	ctx := context.Background()
	ffs := fs.NewFaultyFS(nil)
	a := New(blobstore.NewLocalStore(t.TempDir(), func(o *blobstore.LocalOptions) { o.FS = ffs }))

	first := interpolateRun()
	first.ID = "first"
	_, err := a.SaveRun(ctx, first)
	require.NoError(t, err)

	ffs.AddRule("matches.col", fs.Fault{FailAfterBytes: 0})
	second := interpolateRun()
	second.ID = "second"
	_, err = a.SaveRun(ctx, second)
	require.ErrorIs(t, err, fs.ErrInjected)

	latest, err := a.Latest(ctx)
	require.NoError(t, err)
	assert.Equal(t, "first", latest.ID)

	ids, err := a.Runs(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"first"}, ids, "no manifest for the failed run")
}

// unorderedStore lists names in reverse.
type unorderedStore struct {
	*blobstore.MemoryStore
}

func (s unorderedStore) List(ctx context.Context, prefix string) ([]string, error) {
	names, err := s.MemoryStore.List(ctx, prefix)
	slices.Reverse(names)
	return names, err
}

func TestRuns_Sorted(t *testing.T) {
	ctx := context.Background()
	a := New(unorderedStore{blobstore.NewMemoryStore()})

	for _, id := range []string{"b", "c", "a"} {
		r := interpolateRun()
		r.ID = id
		_, err := a.SaveRun(ctx, r)
		require.NoError(t, err)
	}

	ids, err := a.Runs(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b", "c"}, ids)
}

func TestSaveRun_FailedCommit(t *testing.T) {
	ctx := context.Background()
	ffs := fs.NewFaultyFS(nil)
	ffs.AddRule(CurrentName, fs.Fault{FailAfterBytes: -1, FailOnRename: true})
	a := New(blobstore.NewLocalStore(t.TempDir(), func(o *blobstore.LocalOptions) { o.FS = ffs }))

	r := interpolateRun()
	_, err := a.SaveRun(ctx, r)
	require.ErrorIs(t, err, fs.ErrInjected)
	assert.ErrorContains(t, err, "commit run")

	_, err = a.Latest(ctx)
	assert.ErrorIs(t, err, ErrNoRuns)

	// The run itself is complete and can be read by ID.
	got, err := a.LoadRun(ctx, r.ID)
	require.NoError(t, err)
	assert.Equal(t, r.Values, got.Values)
}
