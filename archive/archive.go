// Package archive stores point clouds and fusion runs in a BlobStore.
//
// Every array is written as its own column blob (see EncodeFloat64). A run
// is a set of columns plus a manifest; saving a run ends by pointing the
// CURRENT blob at the run's manifest, so readers see either the previous or
// the new run and never a partial one.
//
//	clouds/<name>/lat.col
//	clouds/<name>/lon.col
//	clouds/<name>/values.col   (optional)
//	runs/<id>/values.col
//	runs/<id>/matches.col      (interpolate)
//	runs/<id>/counts.col       (summarize)
//	runs/<id>/manifest.<codec>.json
//	CURRENT
package archive

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/hupe1980/geofuse/blobstore"
	"github.com/hupe1980/geofuse/codec"
	"github.com/hupe1980/geofuse/geo"
	"github.com/hupe1980/geofuse/internal/hash"
	"github.com/hupe1980/geofuse/resource"
	"golang.org/x/sync/errgroup"
)

// CurrentName is the blob holding the manifest path of the latest run.
const CurrentName = "CURRENT"

var (
	// ErrNoRuns is returned by Latest when no run has been committed.
	ErrNoRuns = errors.New("no committed runs")

	// ErrUnknownCodec is returned when a manifest names a codec that is not
	// built in.
	ErrUnknownCodec = errors.New("unknown manifest codec")

	// ErrInvalidRun is returned for a run whose arrays do not fit together.
	ErrInvalidRun = errors.New("invalid run")
)

// Mode is the kind of fusion a run holds.
type Mode string

const (
	// ModeInterpolate runs hold one nearest source value per target.
	ModeInterpolate Mode = "interpolate"
	// ModeSummarize runs hold per-target means and counts.
	ModeSummarize Mode = "summarize"
)

// Run is one fusion result.
type Run struct {
	ID           string
	Mode         Mode
	CreatedAt    time.Time
	RadiusMeters float64
	Fill         float64
	Excluded     int
	Matched      int

	// Values has one entry per target.
	Values []float64

	// Matches holds the matched source index per target (interpolate).
	Matches []int32

	// Counts holds the contributing source count per target (summarize).
	Counts []int32
}

// ColumnRef describes one column of a manifest. Size and CRC32C cover the
// whole column blob, header included, and are checked on load when set.
type ColumnRef struct {
	Path   string `json:"path"`
	Count  int    `json:"count"`
	Size   int64  `json:"size,omitempty"`
	CRC32C uint32 `json:"crc32c,omitempty"`
}

// Manifest is the persisted description of a run.
type Manifest struct {
	ID           string               `json:"id"`
	Mode         Mode                 `json:"mode"`
	CreatedAt    time.Time            `json:"created_at"`
	RadiusMeters float64              `json:"radius_m"`
	Fill         float64              `json:"fill"`
	Excluded     int                  `json:"excluded"`
	Matched      int                  `json:"matched"`
	Targets      int                  `json:"targets"`
	Compression  string               `json:"compression"`
	Codec        string               `json:"codec"`
	Columns      map[string]ColumnRef `json:"columns"`
}

// Options configures an Archive.
type Options struct {
	// Compression is used for new columns. Defaults to CompressionLZ4.
	Compression Compression

	// Codec encodes new manifests. Defaults to codec.Default.
	Codec codec.Codec

	// Resources throttles column IO. Nil means unlimited.
	Resources *resource.Controller
}

// Archive reads and writes clouds and runs.
// It is safe for concurrent use if the store is.
type Archive struct {
	store blobstore.BlobStore
	opts  Options
}

// New creates an archive on top of store.
func New(store blobstore.BlobStore, optFns ...func(*Options)) *Archive {
	opts := Options{
		Compression: CompressionLZ4,
		Codec:       codec.Default,
	}
	for _, fn := range optFns {
		if fn != nil {
			fn(&opts)
		}
	}
	if opts.Codec == nil {
		opts.Codec = codec.Default
	}
	return &Archive{store: store, opts: opts}
}

// SaveCloud writes a degree cloud and, if non-nil, its values under name.
func (a *Archive) SaveCloud(ctx context.Context, name string, c geo.Cloud, values []float64) error {
	if values != nil && len(values) != c.Len() {
		return fmt.Errorf("%w: %d values for %d points", geo.ErrLengthMismatch, len(values), c.Len())
	}

	dir := path.Join("clouds", name)
	g, gctx := errgroup.WithContext(ctx)
	save := func(file string, vals []float64) {
		g.Go(func() error {
			_, err := a.writeFloat64(gctx, path.Join(dir, file), vals)
			return err
		})
	}
	save("lat.col", c.Lat)
	save("lon.col", c.Lon)
	if values != nil {
		save("values.col", values)
	}
	return g.Wait()
}

// LoadCloud reads a cloud written by SaveCloud. values is nil when none
// were saved.
func (a *Archive) LoadCloud(ctx context.Context, name string) (geo.Cloud, []float64, error) {
	dir := path.Join("clouds", name)

	lat, err := a.readFloat64(ctx, path.Join(dir, "lat.col"))
	if err != nil {
		return geo.Cloud{}, nil, err
	}
	lon, err := a.readFloat64(ctx, path.Join(dir, "lon.col"))
	if err != nil {
		return geo.Cloud{}, nil, err
	}
	c, err := geo.NewCloud(lat, lon)
	if err != nil {
		return geo.Cloud{}, nil, err
	}

	values, err := a.readFloat64(ctx, path.Join(dir, "values.col"))
	switch {
	case errors.Is(err, blobstore.ErrNotFound):
		return c, nil, nil
	case err != nil:
		return geo.Cloud{}, nil, err
	case len(values) != c.Len():
		return geo.Cloud{}, nil, fmt.Errorf("%w: %d values for %d points", geo.ErrLengthMismatch, len(values), c.Len())
	}
	return c, values, nil
}

// SaveRun writes the run's columns and manifest, then commits it as the
// latest run. An empty ID is replaced by a new UUID and a zero CreatedAt by
// the current time; both are written back to r.
func (a *Archive) SaveRun(ctx context.Context, r *Run) (*Manifest, error) {
	if err := validateRun(r); err != nil {
		return nil, err
	}
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	if r.CreatedAt.IsZero() {
		r.CreatedAt = time.Now().UTC()
	}

	dir := path.Join("runs", r.ID)
	m := &Manifest{
		ID:           r.ID,
		Mode:         r.Mode,
		CreatedAt:    r.CreatedAt,
		RadiusMeters: r.RadiusMeters,
		Fill:         r.Fill,
		Excluded:     r.Excluded,
		Matched:      r.Matched,
		Targets:      len(r.Values),
		Compression:  a.opts.Compression.String(),
		Codec:        a.opts.Codec.Name(),
	}

	// The second column depends on the mode: source indices or counts.
	second, ints := "matches", r.Matches
	if r.Mode == ModeSummarize {
		second, ints = "counts", r.Counts
	}

	var valuesRef, intsRef ColumnRef
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() (err error) {
		valuesRef, err = a.writeFloat64(gctx, path.Join(dir, "values.col"), r.Values)
		return err
	})
	g.Go(func() (err error) {
		intsRef, err = a.writeInt32(gctx, path.Join(dir, second+".col"), ints)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}
	m.Columns = map[string]ColumnRef{"values": valuesRef, second: intsRef}

	data, err := a.opts.Codec.Marshal(m)
	if err != nil {
		return nil, err
	}
	manifestPath := path.Join(dir, codec.FileName(manifestStem, a.opts.Codec))
	if err := a.store.Put(ctx, manifestPath, data); err != nil {
		return nil, err
	}

	if err := a.store.Put(ctx, CurrentName, []byte(manifestPath)); err != nil {
		return nil, fmt.Errorf("commit run %s: %w", r.ID, err)
	}
	return m, nil
}

// LoadRun reads the run with the given ID.
func (a *Archive) LoadRun(ctx context.Context, id string) (*Run, error) {
	names, err := a.store.List(ctx, path.Join("runs", id)+"/")
	if err != nil {
		return nil, err
	}
	for _, name := range names {
		if isManifest(name) {
			return a.loadManifest(ctx, name)
		}
	}
	return nil, fmt.Errorf("run %s: %w", id, blobstore.ErrNotFound)
}

// Latest reads the run CURRENT points at.
func (a *Archive) Latest(ctx context.Context) (*Run, error) {
	ptr, err := blobstore.ReadAll(ctx, a.store, CurrentName)
	if errors.Is(err, blobstore.ErrNotFound) {
		return nil, ErrNoRuns
	}
	if err != nil {
		return nil, err
	}
	return a.loadManifest(ctx, strings.TrimSpace(string(ptr)))
}

// Runs returns the sorted IDs of all stored runs, committed or not.
func (a *Archive) Runs(ctx context.Context) ([]string, error) {
	names, err := a.store.List(ctx, "runs/")
	if err != nil {
		return nil, err
	}
	var ids []string
	for _, name := range names {
		if isManifest(name) {
			ids = append(ids, path.Base(path.Dir(name)))
		}
	}
	// Stores are not required to list in order.
	slices.Sort(ids)
	return slices.Compact(ids), nil
}

func (a *Archive) loadManifest(ctx context.Context, manifestPath string) (*Run, error) {
	_, c, ok := codec.ParseFileName(manifestPath)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownCodec, manifestPath)
	}

	data, err := a.read(ctx, manifestPath)
	if err != nil {
		return nil, err
	}
	var m Manifest
	if err := c.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("%w: manifest %s: %w", ErrCorrupt, manifestPath, err)
	}

	r := &Run{
		ID:           m.ID,
		Mode:         m.Mode,
		CreatedAt:    m.CreatedAt,
		RadiusMeters: m.RadiusMeters,
		Fill:         m.Fill,
		Excluded:     m.Excluded,
		Matched:      m.Matched,
	}

	ref, ok := m.Columns["values"]
	if !ok {
		return nil, fmt.Errorf("%w: manifest %s has no values column", ErrCorrupt, manifestPath)
	}
	if r.Values, err = a.readFloat64Ref(ctx, ref); err != nil {
		return nil, err
	}
	if ref, ok := m.Columns["matches"]; ok {
		if r.Matches, err = a.readInt32Ref(ctx, ref); err != nil {
			return nil, err
		}
	}
	if ref, ok := m.Columns["counts"]; ok {
		if r.Counts, err = a.readInt32Ref(ctx, ref); err != nil {
			return nil, err
		}
	}
	return r, nil
}

func validateRun(r *Run) error {
	if r == nil {
		return fmt.Errorf("%w: nil run", ErrInvalidRun)
	}
	switch r.Mode {
	case ModeInterpolate:
		if len(r.Matches) != len(r.Values) {
			return fmt.Errorf("%w: %d matches for %d values", ErrInvalidRun, len(r.Matches), len(r.Values))
		}
	case ModeSummarize:
		if len(r.Counts) != len(r.Values) {
			return fmt.Errorf("%w: %d counts for %d values", ErrInvalidRun, len(r.Counts), len(r.Values))
		}
	default:
		return fmt.Errorf("%w: unknown mode %q", ErrInvalidRun, r.Mode)
	}
	if strings.ContainsAny(r.ID, "/\\") {
		return fmt.Errorf("%w: id %q contains a path separator", ErrInvalidRun, r.ID)
	}
	return nil
}

const manifestStem = "manifest"

func isManifest(name string) bool {
	stem, _, _ := codec.ParseFileName(name)
	return stem == manifestStem
}

func (a *Archive) writeFloat64(ctx context.Context, name string, vals []float64) (ColumnRef, error) {
	data, err := EncodeFloat64(vals, a.opts.Compression)
	if err != nil {
		return ColumnRef{}, err
	}
	return a.write(ctx, name, len(vals), data)
}

func (a *Archive) writeInt32(ctx context.Context, name string, vals []int32) (ColumnRef, error) {
	data, err := EncodeInt32(vals, a.opts.Compression)
	if err != nil {
		return ColumnRef{}, err
	}
	return a.write(ctx, name, len(vals), data)
}

// write streams data into a new blob through the IO limiter and returns the
// column's reference with the checksum of what was actually written.
func (a *Archive) write(ctx context.Context, name string, count int, data []byte) (ColumnRef, error) {
	w, err := a.store.Create(ctx, name)
	if err != nil {
		return ColumnRef{}, err
	}
	cw := hash.NewWriter(resource.NewRateLimitedWriter(ctx, w, a.opts.Resources))
	if _, err := io.Copy(cw, bytes.NewReader(data)); err != nil {
		_ = blobstore.Abort(w)
		return ColumnRef{}, fmt.Errorf("write %s: %w", name, err)
	}
	if err := w.Close(); err != nil {
		return ColumnRef{}, fmt.Errorf("write %s: %w", name, err)
	}
	return ColumnRef{Path: name, Count: count, Size: cw.Size(), CRC32C: cw.Sum32()}, nil
}

func (a *Archive) read(ctx context.Context, name string) ([]byte, error) {
	data, err := blobstore.ReadAll(ctx, a.store, name)
	if err != nil {
		return nil, err
	}
	if err := a.opts.Resources.AcquireIO(ctx, len(data)); err != nil {
		return nil, err
	}
	return data, nil
}

func (a *Archive) readFloat64(ctx context.Context, name string) ([]float64, error) {
	data, err := a.read(ctx, name)
	if err != nil {
		return nil, err
	}
	vals, err := DecodeFloat64(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", name, err)
	}
	return vals, nil
}

// readRef reads a manifest column and checks it against the recorded size
// and checksum. Manifests without them are read unchecked.
func (a *Archive) readRef(ctx context.Context, ref ColumnRef) ([]byte, error) {
	data, err := a.read(ctx, ref.Path)
	if err != nil {
		return nil, err
	}
	if ref.Size == 0 {
		return data, nil
	}
	if int64(len(data)) != ref.Size {
		return nil, fmt.Errorf("%w: %s is %d bytes, manifest says %d", ErrCorrupt, ref.Path, len(data), ref.Size)
	}
	if err := hash.Verify(data, ref.CRC32C); err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrChecksum, ref.Path, err)
	}
	return data, nil
}

func (a *Archive) readFloat64Ref(ctx context.Context, ref ColumnRef) ([]float64, error) {
	data, err := a.readRef(ctx, ref)
	if err != nil {
		return nil, err
	}
	vals, err := DecodeFloat64(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", ref.Path, err)
	}
	if len(vals) != ref.Count {
		return nil, fmt.Errorf("%w: %s has %d elements, manifest says %d", ErrCorrupt, ref.Path, len(vals), ref.Count)
	}
	return vals, nil
}

func (a *Archive) readInt32Ref(ctx context.Context, ref ColumnRef) ([]int32, error) {
	data, err := a.readRef(ctx, ref)
	if err != nil {
		return nil, err
	}
	vals, err := DecodeInt32(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", ref.Path, err)
	}
	if len(vals) != ref.Count {
		return nil, fmt.Errorf("%w: %s has %d elements, manifest says %d", ErrCorrupt, ref.Path, len(vals), ref.Count)
	}
	return vals, nil
}
