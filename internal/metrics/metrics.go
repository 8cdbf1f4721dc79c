// Package metrics implements C3: a bounded ring buffer of operation
// records plus percentile, hit-rate, and average-duration reporting
// derived from it, in the structured-stats idiom the teacher uses for its
// own request/token/compression metrics.
package metrics

import (
	"math"
	"sort"
	"sync"
	"time"
)

// OperationRecord is one row written per tool invocation (spec §3).
type OperationRecord struct {
	Timestamp    time.Time
	Operation    string
	Duration     time.Duration
	Success      bool
	CacheHit     bool
	InputTokens  int
	OutputTokens int
	CachedTokens int
	SavedTokens  int
	Metadata     map[string]string
}

// Percentiles holds p50/p95/p99 operation latency.
type Percentiles struct {
	P50 time.Duration
	P95 time.Duration
	P99 time.Duration
}

// CacheStats is the approximate aggregate view spec §4.3 returns from
// getCacheStats(sinceTimestamp?): counters are derived from a ring snapshot
// taken once, so concurrent writers landing mid-read are simply excluded or
// included whole, which is the source of the spec's documented ±20%
// tolerance rather than true atomicity.
type CacheStats struct {
	TotalOperations int
	Hits            int64
	Misses          int64
	CacheHitRate    float64
	AverageDuration time.Duration
}

// HitRate returns Hits / (Hits+Misses), or 0 if there have been no samples.
func (c CacheStats) HitRate() float64 {
	return c.CacheHitRate
}

// Collector is a fixed-capacity ring buffer of OperationRecords, safe for
// concurrent use. Aggregates (cache stats, percentiles) are derived from
// the ring on read rather than kept as separate running counters, so a
// sinceTimestamp filter can be applied consistently to every aggregate.
type Collector struct {
	mu       sync.Mutex
	ring     []OperationRecord
	capacity int
	next     int
	filled   bool
}

// NewCollector constructs a Collector with the given ring capacity.
func NewCollector(capacity int) *Collector {
	if capacity <= 0 {
		capacity = 100_000
	}
	return &Collector{ring: make([]OperationRecord, capacity), capacity: capacity}
}

// Record appends an operation record, overwriting the oldest entry once the
// ring is full.
func (c *Collector) Record(r OperationRecord) {
	if r.Timestamp.IsZero() {
		r.Timestamp = time.Now()
	}

	c.mu.Lock()
	c.ring[c.next] = r
	c.next = (c.next + 1) % c.capacity
	if c.next == 0 {
		c.filled = true
	}
	c.mu.Unlock()
}

// GetOperations returns a snapshot of every recorded operation still in the
// ring, oldest first, restricted to records at or after sinceTimestamp. A
// zero sinceTimestamp returns every record still held.
func (c *Collector) GetOperations(sinceTimestamp time.Time) []OperationRecord {
	c.mu.Lock()
	var all []OperationRecord
	if !c.filled {
		all = make([]OperationRecord, c.next)
		copy(all, c.ring[:c.next])
	} else {
		all = make([]OperationRecord, c.capacity)
		copy(all, c.ring[c.next:])
		copy(all[c.capacity-c.next:], c.ring[:c.next])
	}
	c.mu.Unlock()

	if sinceTimestamp.IsZero() {
		return all
	}
	out := make([]OperationRecord, 0, len(all))
	for _, r := range all {
		if !r.Timestamp.Before(sinceTimestamp) {
			out = append(out, r)
		}
	}
	return out
}

// GetCacheStats aggregates totalOperations, cacheHitRate, and
// averageDuration across every operation recorded at or after
// sinceTimestamp (spec §4.3).
func (c *Collector) GetCacheStats(sinceTimestamp time.Time) CacheStats {
	ops := c.GetOperations(sinceTimestamp)

	var hits, misses int64
	var totalDuration time.Duration
	for _, o := range ops {
		if o.CacheHit {
			hits++
		} else {
			misses++
		}
		totalDuration += o.Duration
	}

	stats := CacheStats{TotalOperations: len(ops), Hits: hits, Misses: misses}
	if len(ops) > 0 {
		stats.AverageDuration = totalDuration / time.Duration(len(ops))
	}
	if total := hits + misses; total > 0 {
		stats.CacheHitRate = float64(hits) / float64(total)
	}
	return stats
}

// GetPerformancePercentiles computes p50/p95/p99 latency across every
// operation recorded at or after sinceTimestamp (spec §4.3).
func (c *Collector) GetPerformancePercentiles(sinceTimestamp time.Time) Percentiles {
	ops := c.GetOperations(sinceTimestamp)

	durations := make([]time.Duration, 0, len(ops))
	for _, o := range ops {
		durations = append(durations, o.Duration)
	}
	if len(durations) == 0 {
		return Percentiles{}
	}

	sort.Slice(durations, func(i, j int) bool { return durations[i] < durations[j] })

	return Percentiles{
		P50: percentile(durations, 0.50),
		P95: percentile(durations, 0.95),
		P99: percentile(durations, 0.99),
	}
}

// percentile expects a sorted slice; nearest-rank method.
func percentile(sorted []time.Duration, p float64) time.Duration {
	if len(sorted) == 0 {
		return 0
	}
	idx := int(math.Ceil(p*float64(len(sorted)))) - 1
	if idx < 0 {
		idx = 0
	}
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}
	return sorted[idx]
}
