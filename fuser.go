package geofuse

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/RoaringBitmap/roaring/v2"
	"github.com/google/uuid"
	"github.com/hupe1980/geofuse/archive"
	"github.com/hupe1980/geofuse/band"
	"github.com/hupe1980/geofuse/geo"
	"github.com/hupe1980/geofuse/match"
	"github.com/hupe1980/geofuse/resolve"
)

// Source is a point cloud carrying one value per point.
type Source struct {
	Cloud  geo.Cloud
	Values []float64
}

// Result is the outcome of Interpolate.
type Result struct {
	// RunID identifies the run in logs and, if configured, in the archive.
	RunID string

	// Values has one entry per target: the nearest source value or the fill
	// value.
	Values []float64

	// Matches has one entry per target: the matched source index or
	// match.NoMatch.
	Matches match.Table

	// Matched is the number of targets with a match.
	Matched int

	// Excluded is the number of source points that could not be indexed.
	// ExcludedIDs holds their indices in the source cloud.
	Excluded    int
	ExcludedIDs *roaring.Bitmap
}

// SummaryResult is the outcome of Summarize.
type SummaryResult struct {
	// RunID identifies the run in logs and, if configured, in the archive.
	RunID string

	// Values has one entry per target: the mean of the valid source values
	// assigned to it, or the fill value.
	Values []float64

	// Counts has one entry per target: the number of valid source values
	// that went into its mean.
	Counts []int32

	// Reverse has one entry per source: the target it was assigned to, or
	// match.NoMatch.
	Reverse match.Table

	// Matched is the number of sources assigned to a target.
	Matched int

	// Excluded is the number of target points that could not be indexed and
	// therefore received no sources. ExcludedIDs holds their indices.
	Excluded    int
	ExcludedIDs *roaring.Bitmap
}

// Fuser runs fusion pipelines. It is safe for concurrent use.
type Fuser struct {
	opts options
}

// New creates a Fuser.
func New(optFns ...Option) (*Fuser, error) {
	o := applyOptions(optFns)

	if !(o.earthRadius > 0) || math.IsInf(o.earthRadius, 1) {
		return nil, fmt.Errorf("%w: earth radius %v", ErrInvalidConfig, o.earthRadius)
	}
	if o.workers < 1 {
		o.workers = 1
	}

	return &Fuser{opts: o}, nil
}

// Interpolate assigns every target point the value of its nearest source
// point within maxRadius metres.
//
// Both clouds are consumed: they are converted to radians in place and left
// empty, see geo.ToRadians. A call that fails before conversion leaves both
// untouched; passing a consumed cloud fails with ErrCloudConsumed.
// src.Values is only read.
func (f *Fuser) Interpolate(ctx context.Context, src *Source, target *geo.Cloud, maxRadius float64) (res *Result, err error) {
	start := time.Now()
	runID := uuid.NewString()
	logger := f.opts.logger.WithRun(runID).WithMode(string(archive.ModeInterpolate)).WithRadius(maxRadius)

	defer func() {
		outputs := 0
		if res != nil {
			outputs = len(res.Values)
		}
		logger.LogResolve(ctx, outputs, err)
		f.opts.metricsCollector.RecordResolve(string(archive.ModeInterpolate), outputs, time.Since(start), err)
	}()

	if err := validateInputs(src, target, maxRadius); err != nil {
		return nil, err
	}

	nSrc, nTar := src.Cloud.Len(), target.Len()
	angular := geo.AngularRadius(maxRadius, f.opts.earthRadius)
	n := band.Count(angular)

	estimate := band.EstimateBytes(nSrc, n, f.opts.workers) +
		int64(nTar)*4 + // match table
		int64(nTar)*8 // values
	release, err := f.admit(ctx, estimate)
	if err != nil {
		return nil, err
	}
	defer release()

	srcRad, tarRad, err := convert(ctx, &src.Cloud, target)
	if err != nil {
		return nil, err
	}

	idx, err := f.index(ctx, logger, &srcRad, n)
	if err != nil {
		return nil, err
	}

	table, err := f.match(ctx, logger, idx, tarRad, angular)
	if err != nil {
		return nil, err
	}

	values, err := resolve.Nearest(src.Values, table, resolve.WithFill(f.opts.fill))
	if err != nil {
		return nil, translateError(err)
	}

	res = &Result{
		RunID:       runID,
		Values:      values,
		Matches:     table,
		Matched:     table.Matched(),
		Excluded:    idx.Excluded,
		ExcludedIDs: idx.ExcludedIDs,
	}

	if err := f.save(ctx, &archive.Run{
		ID:           runID,
		Mode:         archive.ModeInterpolate,
		CreatedAt:    start.UTC(),
		RadiusMeters: maxRadius,
		Fill:         f.opts.fill,
		Excluded:     res.Excluded,
		Matched:      res.Matched,
		Values:       res.Values,
		Matches:      res.Matches,
	}); err != nil {
		return nil, err
	}

	return res, nil
}

// Summarize assigns every source point to its nearest target point within
// maxRadius metres and gives each target the mean of the valid values
// assigned to it. A target without valid values gets the fill value and a
// count of 0.
//
// The roles of the clouds are swapped relative to Interpolate: the target
// cloud is indexed and the sources are matched against it. Both clouds are
// consumed as in Interpolate.
func (f *Fuser) Summarize(ctx context.Context, src *Source, target *geo.Cloud, maxRadius float64) (res *SummaryResult, err error) {
	start := time.Now()
	runID := uuid.NewString()
	logger := f.opts.logger.WithRun(runID).WithMode(string(archive.ModeSummarize)).WithRadius(maxRadius)

	defer func() {
		outputs := 0
		if res != nil {
			outputs = len(res.Values)
		}
		logger.LogResolve(ctx, outputs, err)
		f.opts.metricsCollector.RecordResolve(string(archive.ModeSummarize), outputs, time.Since(start), err)
	}()

	if err := validateInputs(src, target, maxRadius); err != nil {
		return nil, err
	}

	nSrc, nTar := src.Cloud.Len(), target.Len()
	angular := geo.AngularRadius(maxRadius, f.opts.earthRadius)
	n := band.Count(angular)

	estimate := band.EstimateBytes(nTar, n, f.opts.workers) +
		int64(nSrc)*4 + // reverse table
		int64(nTar)*(8+4) // sums and counts
	release, err := f.admit(ctx, estimate)
	if err != nil {
		return nil, err
	}
	defer release()

	srcRad, tarRad, err := convert(ctx, &src.Cloud, target)
	if err != nil {
		return nil, err
	}

	idx, err := f.index(ctx, logger, &tarRad, n)
	if err != nil {
		return nil, err
	}

	reverse, err := f.match(ctx, logger, idx, srcRad, angular)
	if err != nil {
		return nil, err
	}

	agg, err := resolve.Summary(src.Values, reverse, nTar,
		resolve.WithFill(f.opts.fill),
		resolve.WithValid(f.opts.valid),
	)
	if err != nil {
		return nil, translateError(err)
	}

	res = &SummaryResult{
		RunID:       runID,
		Values:      agg.Values,
		Counts:      agg.Counts,
		Reverse:     reverse,
		Matched:     reverse.Matched(),
		Excluded:    idx.Excluded,
		ExcludedIDs: idx.ExcludedIDs,
	}

	if err := f.save(ctx, &archive.Run{
		ID:           runID,
		Mode:         archive.ModeSummarize,
		CreatedAt:    start.UTC(),
		RadiusMeters: maxRadius,
		Fill:         f.opts.fill,
		Excluded:     res.Excluded,
		Matched:      res.Matched,
		Values:       res.Values,
		Counts:       res.Counts,
	}); err != nil {
		return nil, err
	}

	return res, nil
}

func validateInputs(src *Source, target *geo.Cloud, maxRadius float64) error {
	if src == nil || target == nil {
		return ErrNilCloud
	}
	if math.IsNaN(maxRadius) || maxRadius < 0 {
		return fmt.Errorf("%w: %v", ErrInvalidRadius, maxRadius)
	}
	if src.Cloud.Consumed() {
		return fmt.Errorf("%w: source: %w", ErrCloudConsumed, geo.ErrConsumed)
	}
	if target.Consumed() {
		return fmt.Errorf("%w: target: %w", ErrCloudConsumed, geo.ErrConsumed)
	}
	if len(src.Cloud.Lat) != len(src.Cloud.Lon) {
		return &ErrLengthMismatch{Field: "source longitude", Expected: len(src.Cloud.Lat), Actual: len(src.Cloud.Lon)}
	}
	if len(src.Values) != src.Cloud.Len() {
		return &ErrLengthMismatch{Field: "source values", Expected: src.Cloud.Len(), Actual: len(src.Values)}
	}
	if len(target.Lat) != len(target.Lon) {
		return &ErrLengthMismatch{Field: "target longitude", Expected: len(target.Lat), Actual: len(target.Lon)}
	}
	if shareArrays(src.Cloud.Lat, src.Cloud.Lon, target.Lat, target.Lon) {
		return ErrSharedCoordinates
	}
	return nil
}

// shareArrays reports whether two of the coordinate slices start at the
// same element. Converting such clouds would scale that array twice.
func shareArrays(arrays ...[]float64) bool {
	for i, a := range arrays {
		if len(a) == 0 {
			continue
		}
		for _, b := range arrays[i+1:] {
			if len(b) > 0 && &a[0] == &b[0] {
				return true
			}
		}
	}
	return false
}

// convert consumes both clouds, or neither when ctx is already done.
// validateInputs has ruled out every other conversion failure.
func convert(ctx context.Context, src, target *geo.Cloud) (geo.RadianCloud, geo.RadianCloud, error) {
	if err := ctx.Err(); err != nil {
		return geo.RadianCloud{}, geo.RadianCloud{}, err
	}

	srcRad, err := geo.ToRadians(src)
	if err != nil {
		return geo.RadianCloud{}, geo.RadianCloud{}, translateError(err)
	}
	tarRad, err := geo.ToRadians(target)
	if err != nil {
		return geo.RadianCloud{}, geo.RadianCloud{}, translateError(err)
	}
	return srcRad, tarRad, nil
}

// admit takes a worker slot and reserves estimate bytes. The returned
// function gives both back.
func (f *Fuser) admit(ctx context.Context, estimate int64) (func(), error) {
	rc := f.opts.resources

	if err := rc.AcquireWorker(ctx); err != nil {
		return nil, err
	}
	if err := rc.TryAcquireMemory(estimate); err != nil {
		rc.ReleaseWorker()
		return nil, translateError(err)
	}

	return func() {
		rc.ReleaseMemory(estimate)
		rc.ReleaseWorker()
	}, nil
}

// index builds the band index of c, consuming c.
func (f *Fuser) index(ctx context.Context, logger *Logger, c *geo.RadianCloud, n int) (*band.Index, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	start := time.Now()
	points := c.Len()

	idx, err := band.Build(c, n, func(o *band.Options) {
		o.Workers = f.opts.workers
		o.ClampPoles = f.opts.clampPoles
	})
	if err != nil {
		return nil, translateError(err)
	}

	elapsed := time.Since(start)
	logger.LogIndex(ctx, points, idx.NumBands(), idx.Excluded, elapsed)
	f.opts.metricsCollector.RecordIndex(points, idx.Excluded, elapsed)
	return idx, nil
}

func (f *Fuser) match(ctx context.Context, logger *Logger, idx *band.Index, target geo.RadianCloud, radius float64) (match.Table, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	start := time.Now()
	table, err := match.Nearest(idx, target, radius, func(o *match.Options) {
		o.Workers = f.opts.workers
	})
	err = translateError(err)

	elapsed := time.Since(start)
	logger.LogMatch(ctx, target.Len(), table.Matched(), elapsed, err)
	f.opts.metricsCollector.RecordMatch(target.Len(), table.Matched(), elapsed, err)
	return table, err
}

func (f *Fuser) save(ctx context.Context, run *archive.Run) error {
	if f.opts.archive == nil {
		return nil
	}
	if _, err := f.opts.archive.SaveRun(ctx, run); err != nil {
		return fmt.Errorf("save run %s: %w", run.ID, err)
	}
	return nil
}
