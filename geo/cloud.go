package geo

import (
	"errors"
	"fmt"
	"math"
)

// EarthRadius is the mean Earth radius in metres used to turn a search
// radius into an angle.
const EarthRadius = 6367444.0

var (
	// ErrLengthMismatch is returned when the latitude and longitude arrays of
	// a cloud differ in length.
	ErrLengthMismatch = errors.New("latitude and longitude length mismatch")

	// ErrConsumed is returned when a cloud that was already converted to
	// radians is converted again.
	ErrConsumed = errors.New("cloud already converted to radians")
)

// Cloud is a point cloud with coordinates in degrees.
//
// Point i is (Lat[i], Lon[i]); i is the point's original index. A Cloud is
// consumed by ToRadians, which empties it. Copies of a Cloud share its
// arrays, so only one of them may be converted.
type Cloud struct {
	Lat []float64
	Lon []float64

	consumed bool
}

// NewCloud wraps parallel degree arrays into a Cloud.
// The slices are not copied; the cloud takes ownership of them.
func NewCloud(lat, lon []float64) (Cloud, error) {
	if len(lat) != len(lon) {
		return Cloud{}, fmt.Errorf("%w: %d latitudes, %d longitudes", ErrLengthMismatch, len(lat), len(lon))
	}
	return Cloud{Lat: lat, Lon: lon}, nil
}

// Len returns the number of points.
func (c Cloud) Len() int { return len(c.Lat) }

// Consumed reports whether c was handed to ToRadians.
func (c Cloud) Consumed() bool { return c.consumed }

// RadianCloud is a point cloud with coordinates in radians.
//
// Values of this type are only produced by ToRadians or FromRadians, which
// makes the unit of a cloud a property of its type rather than of the
// caller's discipline.
type RadianCloud struct {
	lat []float64
	lon []float64
}

// ToRadians converts c to radians in place and moves its arrays into the
// returned cloud.
//
// No memory is allocated. c is left empty and marked consumed, so a second
// conversion fails with ErrConsumed instead of scaling the arrays twice.
func ToRadians(c *Cloud) (RadianCloud, error) {
	if c.consumed {
		return RadianCloud{}, ErrConsumed
	}
	if len(c.Lat) != len(c.Lon) {
		return RadianCloud{}, fmt.Errorf("%w: %d latitudes, %d longitudes", ErrLengthMismatch, len(c.Lat), len(c.Lon))
	}

	const k = math.Pi / 180
	for i := range c.Lat {
		c.Lat[i] *= k
		c.Lon[i] *= k
	}

	rc := RadianCloud{lat: c.Lat, lon: c.Lon}
	c.Lat, c.Lon, c.consumed = nil, nil, true
	return rc, nil
}

// FromRadians wraps arrays that are already in radians, for data layers
// that deliver radians. Like NewCloud it takes ownership of the slices.
func FromRadians(lat, lon []float64) (RadianCloud, error) {
	if len(lat) != len(lon) {
		return RadianCloud{}, fmt.Errorf("%w: %d latitudes, %d longitudes", ErrLengthMismatch, len(lat), len(lon))
	}
	return RadianCloud{lat: lat, lon: lon}, nil
}

// Len returns the number of points.
func (c RadianCloud) Len() int { return len(c.lat) }

// At returns the latitude and longitude of point i in radians.
func (c RadianCloud) At(i int) (lat, lon float64) {
	return c.lat[i], c.lon[i]
}

// Lat returns the latitude of point i in radians.
func (c RadianCloud) Lat(i int) float64 { return c.lat[i] }

// Take hands the backing arrays to the caller and empties c.
//
// It is the consuming half of an ownership transfer: after Take, c reports
// Len() == 0 and the arrays belong exclusively to the caller.
func (c *RadianCloud) Take() (lat, lon []float64) {
	lat, lon = c.lat, c.lon
	c.lat, c.lon = nil, nil
	return lat, lon
}
