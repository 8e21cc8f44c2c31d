// Package geofuse fuses measurements from two independently sampled point
// clouds on the sphere.
//
// A typical use is combining the readings of two satellite instruments with
// different footprints: every point of a target cloud receives the value of
// the nearest point of a source cloud, or the mean of all source points that
// are nearest to it.
//
// # Quick Start
//
//	f, _ := geofuse.New()
//
//	misr, _ := geo.NewCloud(misrLat, misrLon)
//	modis, _ := geo.NewCloud(modisLat, modisLon)
//	src := geofuse.Source{Cloud: misr, Values: radiance}
//	res, _ := f.Interpolate(ctx, &src, &modis, 500) // metres
//
// A run consumes both clouds: their coordinates are converted to radians in
// place and the clouds are left empty. Build new clouds for the next run; a
// consumed cloud is rejected with ErrCloudConsumed. Copying a Cloud struct
// does not copy its arrays.
//
// Interpolate indexes the source cloud and looks up one source per target.
// Summarize swaps the roles: it indexes the target cloud, assigns every
// source to its nearest target and averages per target. Targets without data
// receive the fill value (-999 unless configured with WithFillValue).
//
// # Pipeline
//
// Both modes run the same stages, each available as its own package:
//
//	geo.ToRadians   degrees to radians, in place, consuming the cloud
//	band.Build      counting sort into latitude bands sized to the radius
//	match.Nearest   bounded nearest-neighbour scan over neighbouring bands
//	resolve.*       value lookup or aggregation
//
// Points whose latitude falls outside the band range are excluded from the
// index. They are counted, reported in the result and logged at WARN.
//
// # Resources
//
// A resource.Controller shared through WithResourceController limits the
// number of concurrent runs and the memory they may reserve. A run whose
// buffers do not fit fails with ErrMemoryLimit before allocating them.
//
// # Persistence
//
// With WithArchive, every run is written to an archive.Archive backed by a
// blobstore.BlobStore (memory, local directory, S3 or MinIO) and committed as
// the latest run.
package geofuse
