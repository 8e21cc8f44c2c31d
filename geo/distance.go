package geo

import "math"

// GreatCircle returns the angular distance in radians between two points
// given in radians, using the spherical law of cosines.
//
// The cosine is clamped to [-1, 1] so that rounding on (nearly) identical or
// antipodal points never produces NaN.
func GreatCircle(lat1, lon1, lat2, lon2 float64) float64 {
	if lat1 == lat2 && lon1 == lon2 {
		// sin²+cos² may round below 1, which acos turns into ~1e-8.
		return 0
	}
	c := math.Sin(lat1)*math.Sin(lat2) + math.Cos(lat1)*math.Cos(lat2)*math.Cos(lon1-lon2)
	if c > 1 {
		c = 1
	} else if c < -1 {
		c = -1
	}
	return math.Acos(c)
}

// AngularRadius converts a surface distance into an angle in radians on a
// sphere of the given radius (same unit as maxRadius).
func AngularRadius(maxRadius, earthRadius float64) float64 {
	return maxRadius / earthRadius
}
