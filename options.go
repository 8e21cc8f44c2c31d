package geofuse

import (
	"log/slog"
	"runtime"

	"github.com/hupe1980/geofuse/archive"
	"github.com/hupe1980/geofuse/geo"
	"github.com/hupe1980/geofuse/resolve"
	"github.com/hupe1980/geofuse/resource"
)

type options struct {
	logger           *Logger
	metricsCollector MetricsCollector
	resources        *resource.Controller
	archive          *archive.Archive
	earthRadius      float64
	fill             float64
	valid            func(float64) bool
	workers          int
	clampPoles       bool
}

// Option configures a Fuser.
type Option func(*options)

// WithMetricsCollector configures a metrics collector for monitoring runs.
// Pass nil to disable metrics collection.
//
// Example with BasicMetricsCollector:
//
//	metrics := &geofuse.BasicMetricsCollector{}
//	f, _ := geofuse.New(geofuse.WithMetricsCollector(metrics))
//	// ... run fusions ...
//	stats := metrics.GetStats()
//	fmt.Printf("Runs: %d, excluded points: %d\n", stats.RunCount, stats.IndexExcluded)
func WithMetricsCollector(mc MetricsCollector) Option {
	return func(o *options) {
		if mc == nil {
			mc = NoopMetricsCollector{}
		}
		o.metricsCollector = mc
	}
}

// WithLogger configures structured logging for runs.
// Pass nil to disable logging.
//
// Example with JSON logging:
//
//	logger := geofuse.NewJSONLogger(slog.LevelInfo)
//	f, _ := geofuse.New(geofuse.WithLogger(logger))
func WithLogger(logger *Logger) Option {
	return func(o *options) {
		if logger == nil {
			logger = NoopLogger()
		}
		o.logger = logger
	}
}

// WithLogLevel creates a text logger with the specified level and sets it.
// Convenience wrapper for WithLogger(NewTextLogger(level)).
func WithLogLevel(level slog.Level) Option {
	return func(o *options) {
		o.logger = NewTextLogger(level)
	}
}

// WithResourceController shares a resource controller between Fusers.
//
// Every run holds one worker slot for its duration and reserves an estimate
// of its buffers against the memory budget before allocating them. A run
// that does not fit fails with ErrMemoryLimit; other runs are unaffected.
func WithResourceController(rc *resource.Controller) Option {
	return func(o *options) {
		o.resources = rc
	}
}

// WithArchive stores every successful run in a. The run's ID is reported in
// the result.
func WithArchive(a *archive.Archive) Option {
	return func(o *options) {
		o.archive = a
	}
}

// WithEarthRadius sets the sphere radius in metres used to turn the search
// radius into an angle. Defaults to geo.EarthRadius.
func WithEarthRadius(metres float64) Option {
	return func(o *options) {
		o.earthRadius = metres
	}
}

// WithFillValue sets the value written for targets without data.
// Defaults to resolve.DefaultFill (-999).
func WithFillValue(fill float64) Option {
	return func(o *options) {
		o.fill = fill
	}
}

// WithValidValue sets the predicate deciding which source values take part
// in summaries. Defaults to v >= 0. A nil predicate accepts every value.
func WithValidValue(valid func(float64) bool) Option {
	return func(o *options) {
		if valid == nil {
			valid = func(float64) bool { return true }
		}
		o.valid = valid
	}
}

// WithWorkers sets the number of goroutines used to index and match a single
// run. Results do not depend on it. Defaults to GOMAXPROCS.
func WithWorkers(n int) Option {
	return func(o *options) {
		o.workers = n
	}
}

// WithClampPoles places points whose latitude rounds one band past either
// pole into the edge band instead of excluding them.
func WithClampPoles(clamp bool) Option {
	return func(o *options) {
		o.clampPoles = clamp
	}
}

func applyOptions(optFns []Option) options {
	o := options{
		logger:           NoopLogger(),
		metricsCollector: NoopMetricsCollector{},
		earthRadius:      geo.EarthRadius,
		fill:             resolve.DefaultFill,
		valid:            resolve.NonNegative,
		workers:          runtime.GOMAXPROCS(0),
	}
	for _, fn := range optFns {
		if fn != nil {
			fn(&o)
		}
	}
	return o
}
