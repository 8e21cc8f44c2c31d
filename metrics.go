package geofuse

import (
	"sync/atomic"
	"time"
)

// MetricsCollector defines an interface for collecting operational metrics.
// Implement this interface to integrate with monitoring systems like Prometheus.
//
// Example Prometheus integration:
//
//	type PrometheusCollector struct {
//	    excluded prometheus.Counter
//	    matchHistogram prometheus.Histogram
//	}
//
//	func (p *PrometheusCollector) RecordIndex(points, excluded int, duration time.Duration) {
//	    p.excluded.Add(float64(excluded))
//	}
type MetricsCollector interface {
	// RecordIndex is called after a band index is built. excluded is the
	// number of points left out because their band was out of range.
	RecordIndex(points, excluded int, duration time.Duration)

	// RecordMatch is called after each nearest-neighbour pass.
	RecordMatch(targets, matched int, duration time.Duration, err error)

	// RecordResolve is called at the end of each fusion run with the total
	// time taken. mode is "interpolate" or "summarize".
	RecordResolve(mode string, outputs int, duration time.Duration, err error)
}

// NoopMetricsCollector is a no-op implementation of MetricsCollector.
// Use this when metrics collection is not needed.
type NoopMetricsCollector struct{}

func (NoopMetricsCollector) RecordIndex(int, int, time.Duration)             {}
func (NoopMetricsCollector) RecordMatch(int, int, time.Duration, error)      {}
func (NoopMetricsCollector) RecordResolve(string, int, time.Duration, error) {}

// BasicMetricsCollector provides simple in-memory metrics collection.
// Useful for debugging and basic monitoring without external dependencies.
type BasicMetricsCollector struct {
	IndexCount      atomic.Int64
	IndexPoints     atomic.Int64
	IndexExcluded   atomic.Int64
	MatchCount      atomic.Int64
	MatchErrors     atomic.Int64
	MatchTargets    atomic.Int64
	MatchMatched    atomic.Int64
	MatchTotalNanos atomic.Int64
	RunCount        atomic.Int64
	RunErrors       atomic.Int64
	RunTotalNanos   atomic.Int64
}

// RecordIndex implements MetricsCollector.
func (b *BasicMetricsCollector) RecordIndex(points, excluded int, _ time.Duration) {
	b.IndexCount.Add(1)
	b.IndexPoints.Add(int64(points))
	b.IndexExcluded.Add(int64(excluded))
}

// RecordMatch implements MetricsCollector.
func (b *BasicMetricsCollector) RecordMatch(targets, matched int, duration time.Duration, err error) {
	b.MatchCount.Add(1)
	b.MatchTotalNanos.Add(duration.Nanoseconds())
	if err != nil {
		b.MatchErrors.Add(1)
		return
	}
	b.MatchTargets.Add(int64(targets))
	b.MatchMatched.Add(int64(matched))
}

// RecordResolve implements MetricsCollector.
func (b *BasicMetricsCollector) RecordResolve(_ string, _ int, duration time.Duration, err error) {
	b.RunCount.Add(1)
	b.RunTotalNanos.Add(duration.Nanoseconds())
	if err != nil {
		b.RunErrors.Add(1)
	}
}

// GetStats returns a snapshot of current metrics.
func (b *BasicMetricsCollector) GetStats() BasicMetricsStats {
	return BasicMetricsStats{
		IndexCount:    b.IndexCount.Load(),
		IndexPoints:   b.IndexPoints.Load(),
		IndexExcluded: b.IndexExcluded.Load(),
		MatchCount:    b.MatchCount.Load(),
		MatchErrors:   b.MatchErrors.Load(),
		MatchTargets:  b.MatchTargets.Load(),
		MatchMatched:  b.MatchMatched.Load(),
		MatchAvgNanos: avg(b.MatchTotalNanos.Load(), b.MatchCount.Load()),
		RunCount:      b.RunCount.Load(),
		RunErrors:     b.RunErrors.Load(),
		RunAvgNanos:   avg(b.RunTotalNanos.Load(), b.RunCount.Load()),
	}
}

func avg(total, count int64) int64 {
	if count == 0 {
		return 0
	}
	return total / count
}

// BasicMetricsStats is a snapshot of BasicMetricsCollector state.
type BasicMetricsStats struct {
	IndexCount    int64
	IndexPoints   int64
	IndexExcluded int64
	MatchCount    int64
	MatchErrors   int64
	MatchTargets  int64
	MatchMatched  int64
	MatchAvgNanos int64
	RunCount      int64
	RunErrors     int64
	RunAvgNanos   int64
}
