package geofuse

import (
	"errors"
	"fmt"

	"github.com/hupe1980/geofuse/band"
	"github.com/hupe1980/geofuse/geo"
	"github.com/hupe1980/geofuse/match"
	"github.com/hupe1980/geofuse/resolve"
	"github.com/hupe1980/geofuse/resource"
)

var (
	// ErrInvalidRadius is returned when the search radius is negative or NaN.
	ErrInvalidRadius = errors.New("invalid search radius")

	// ErrMemoryLimit is returned when a run's buffers would exceed the
	// resource controller's memory budget. Only that run fails.
	ErrMemoryLimit = errors.New("memory limit exceeded")

	// ErrTooManyPoints is returned when a cloud cannot be addressed with
	// int32 point IDs.
	ErrTooManyPoints = errors.New("too many points")

	// ErrInvalidTable is returned when a match table does not fit the values
	// it is resolved against.
	ErrInvalidTable = errors.New("invalid match table")

	// ErrInvalidConfig is returned by New for options that cannot work.
	ErrInvalidConfig = errors.New("invalid configuration")

	// ErrCloudConsumed is returned when a cloud passed to a run was already
	// converted by an earlier run. Build a new cloud from the degree data.
	ErrCloudConsumed = errors.New("cloud already consumed")

	// ErrSharedCoordinates is returned when the source and target clouds
	// share a coordinate array.
	ErrSharedCoordinates = errors.New("source and target share coordinate arrays")

	// ErrNilCloud is returned when a run is given a nil source or target.
	ErrNilCloud = errors.New("nil cloud")
)

// ErrLengthMismatch indicates that two arrays that must be parallel differ
// in length.
//
// The original underlying error (if any) can be accessed via errors.Unwrap.
type ErrLengthMismatch struct {
	Field    string
	Expected int
	Actual   int
	cause    error
}

func (e *ErrLengthMismatch) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("length mismatch: %v", e.cause)
	}
	return fmt.Sprintf("length mismatch: %s: expected %d, got %d", e.Field, e.Expected, e.Actual)
}

func (e *ErrLengthMismatch) Unwrap() error { return e.cause }

func translateError(err error) error {
	if err == nil {
		return nil
	}

	if errors.Is(err, resource.ErrMemoryLimitExceeded) {
		return fmt.Errorf("%w: %w", ErrMemoryLimit, err)
	}
	if errors.Is(err, geo.ErrConsumed) {
		return fmt.Errorf("%w: %w", ErrCloudConsumed, err)
	}
	if errors.Is(err, match.ErrInvalidRadius) {
		return fmt.Errorf("%w: %w", ErrInvalidRadius, err)
	}
	if errors.Is(err, band.ErrTooManyPoints) {
		return fmt.Errorf("%w: %w", ErrTooManyPoints, err)
	}
	if errors.Is(err, geo.ErrLengthMismatch) || errors.Is(err, resolve.ErrLengthMismatch) {
		return &ErrLengthMismatch{cause: err}
	}
	if errors.Is(err, resolve.ErrIndexOutOfRange) || errors.Is(err, resolve.ErrInvalidTarget) {
		return fmt.Errorf("%w: %w", ErrInvalidTable, err)
	}

	return err
}
