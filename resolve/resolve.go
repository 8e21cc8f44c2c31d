// Package resolve turns match tables into value arrays.
//
// Nearest copies the value of each target's matched source. Summary runs the
// other way round: every source names the target it belongs to, and each
// target receives the mean of the valid source values mapped to it.
// BlockAverage down-samples a gridded field by averaging square windows.
package resolve

import (
	"errors"
	"fmt"

	"github.com/hupe1980/geofuse/match"
)

// DefaultFill is the value written where no data exists.
const DefaultFill = -999.0

var (
	// ErrLengthMismatch is returned when a value array and its table differ
	// in length.
	ErrLengthMismatch = errors.New("values and table length mismatch")

	// ErrIndexOutOfRange is returned when a table entry does not address a
	// value.
	ErrIndexOutOfRange = errors.New("table entry out of range")

	// ErrInvalidTarget is returned when a reverse table entry is not a valid
	// target index.
	ErrInvalidTarget = errors.New("reverse table entry is not a valid target")

	// ErrInvalidGrid is returned when a grid does not fit its dimensions or
	// the down-sampling factor is not positive.
	ErrInvalidGrid = errors.New("invalid grid")
)

// Options configures the resolvers.
type Options struct {
	// Fill is written for targets without data. Defaults to DefaultFill.
	Fill float64

	// Valid reports whether a source value carries data. Defaults to
	// v >= 0: negative values are fill data in the instrument products.
	Valid func(v float64) bool
}

// WithFill sets the fill value.
func WithFill(fill float64) func(*Options) {
	return func(o *Options) { o.Fill = fill }
}

// WithValid sets the validity predicate. A nil predicate accepts every value.
func WithValid(valid func(float64) bool) func(*Options) {
	return func(o *Options) {
		if valid == nil {
			valid = func(float64) bool { return true }
		}
		o.Valid = valid
	}
}

// NonNegative is the default validity predicate.
func NonNegative(v float64) bool { return v >= 0 }

func newOptions(optFns []func(*Options)) Options {
	opts := Options{
		Fill:  DefaultFill,
		Valid: NonNegative,
	}
	for _, fn := range optFns {
		if fn != nil {
			fn(&opts)
		}
	}
	return opts
}

// Nearest returns one value per target: the value of its matched source, or
// Fill for targets without a match. values is indexed by original source
// index.
func Nearest(values []float64, table match.Table, optFns ...func(*Options)) ([]float64, error) {
	opts := newOptions(optFns)

	out := make([]float64, len(table))
	for i, id := range table {
		switch {
		case id == match.NoMatch:
			out[i] = opts.Fill
		case id < 0 || int(id) >= len(values):
			return nil, fmt.Errorf("%w: target %d matched source %d, have %d values", ErrIndexOutOfRange, i, id, len(values))
		default:
			out[i] = values[id]
		}
	}
	return out, nil
}

// Aggregate is the per-target summary of source values.
type Aggregate struct {
	// Values holds the mean of the valid contributing values, or Fill.
	Values []float64

	// Counts holds the number of valid contributing values.
	Counts []int32
}

// Summary aggregates source values onto targets.
//
// reverse has one entry per source: the target index the source was
// matched to, or match.NoMatch. Values rejected by Options.Valid do not
// contribute. A target with no contributions gets Fill and count 0.
func Summary(values []float64, reverse match.Table, nTar int, optFns ...func(*Options)) (*Aggregate, error) {
	opts := newOptions(optFns)

	if len(values) != len(reverse) {
		return nil, fmt.Errorf("%w: %d values, %d table entries", ErrLengthMismatch, len(values), len(reverse))
	}
	if nTar < 0 {
		return nil, fmt.Errorf("%w: negative target count %d", ErrInvalidTarget, nTar)
	}

	sums := make([]float64, nTar)
	counts := make([]int32, nTar)

	for s, t := range reverse {
		if t == match.NoMatch {
			continue
		}
		if t < 0 || int(t) >= nTar {
			return nil, fmt.Errorf("%w: source %d maps to %d, have %d targets", ErrInvalidTarget, s, t, nTar)
		}
		v := values[s]
		if !opts.Valid(v) {
			continue
		}
		sums[t] += v
		counts[t]++
	}

	// Reuse the sums as the result.
	for t, c := range counts {
		if c == 0 {
			sums[t] = opts.Fill
			continue
		}
		sums[t] /= float64(c)
	}

	return &Aggregate{Values: sums, Counts: counts}, nil
}
