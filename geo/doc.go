// Package geo provides point clouds on the sphere and the great-circle
// distance used by the matcher.
//
// Coordinates enter the engine in degrees as a [Cloud] and are converted
// exactly once, in place, into a [RadianCloud]:
//
//	c, _ := geo.NewCloud(lat, lon)
//	rc, _ := geo.ToRadians(&c) // c is now empty
//
// Converting the same cloud twice fails with [ErrConsumed].
//
// Only [RadianCloud] values are accepted by the band indexer and the
// matcher, so degree inputs cannot reach a distance computation.
package geo
