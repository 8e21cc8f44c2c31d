// Package testutil provides testing utilities for geofuse.
//
// This package is intended for use in tests and benchmarks only.
// It provides helpers for generating random point clouds and for computing
// exact nearest neighbours by brute force.
//
// # Random Clouds
//
//	rng := testutil.NewRNG(seed)
//	lat, lon := rng.Cloud(1000, -60, 60, -180, 180) // degrees
//	vals := rng.Values(1000, 0, 100)
//
// # Exact Search (Ground Truth)
//
//	ids, dists := testutil.ExactNearest(src, tar, radius)
package testutil
