package metrics

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecordAndGetOperations_BeforeWrap(t *testing.T) {
	c := NewCollector(5)
	c.Record(OperationRecord{Operation: "get", Duration: 10 * time.Millisecond, CacheHit: true})
	c.Record(OperationRecord{Operation: "set", Duration: 20 * time.Millisecond, CacheHit: false})

	ops := c.GetOperations(time.Time{})
	require.Len(t, ops, 2)
	assert.Equal(t, "get", ops[0].Operation)
	assert.Equal(t, "set", ops[1].Operation)
}

func TestRecord_RingWrapsAtCapacity(t *testing.T) {
	c := NewCollector(3)
	for i := 0; i < 5; i++ {
		c.Record(OperationRecord{Operation: "op", Duration: time.Duration(i) * time.Millisecond})
	}

	ops := c.GetOperations(time.Time{})
	require.Len(t, ops, 3)
	// Oldest two (0ms, 1ms) were overwritten; remaining are 2ms,3ms,4ms in order.
	assert.Equal(t, 2*time.Millisecond, ops[0].Duration)
	assert.Equal(t, 3*time.Millisecond, ops[1].Duration)
	assert.Equal(t, 4*time.Millisecond, ops[2].Duration)
}

func TestGetOperations_FiltersBySinceTimestamp(t *testing.T) {
	c := NewCollector(100)
	older := time.Now().Add(-time.Hour)
	newer := time.Now()
	c.Record(OperationRecord{Operation: "old", Timestamp: older})
	c.Record(OperationRecord{Operation: "new", Timestamp: newer})

	ops := c.GetOperations(newer)
	require.Len(t, ops, 1)
	assert.Equal(t, "new", ops[0].Operation)
}

func TestGetCacheStats_ApproximateCounters(t *testing.T) {
	c := NewCollector(100)
	c.Record(OperationRecord{CacheHit: true, Duration: 10 * time.Millisecond})
	c.Record(OperationRecord{CacheHit: true, Duration: 20 * time.Millisecond})
	c.Record(OperationRecord{CacheHit: false, Duration: 30 * time.Millisecond})

	stats := c.GetCacheStats(time.Time{})
	assert.Equal(t, 3, stats.TotalOperations)
	assert.Equal(t, int64(2), stats.Hits)
	assert.Equal(t, int64(1), stats.Misses)
	assert.InDelta(t, 2.0/3.0, stats.HitRate(), 0.01)
	assert.Equal(t, 20*time.Millisecond, stats.AverageDuration)
}

func TestGetCacheStats_FiltersBySinceTimestamp(t *testing.T) {
	c := NewCollector(100)
	older := time.Now().Add(-time.Hour)
	cutoff := time.Now()
	c.Record(OperationRecord{CacheHit: false, Timestamp: older})
	c.Record(OperationRecord{CacheHit: true, Timestamp: cutoff})

	stats := c.GetCacheStats(cutoff)
	assert.Equal(t, 1, stats.TotalOperations)
	assert.Equal(t, int64(1), stats.Hits)
	assert.Equal(t, int64(0), stats.Misses)
}

func TestGetPerformancePercentiles(t *testing.T) {
	c := NewCollector(100)
	for i := 1; i <= 100; i++ {
		c.Record(OperationRecord{Operation: "x", Duration: time.Duration(i) * time.Millisecond})
	}

	p := c.GetPerformancePercentiles(time.Time{})
	assert.Equal(t, 50*time.Millisecond, p.P50)
	assert.Equal(t, 95*time.Millisecond, p.P95)
	assert.Equal(t, 99*time.Millisecond, p.P99)
}

func TestGetPerformancePercentiles_FiltersBySinceTimestamp(t *testing.T) {
	c := NewCollector(100)
	older := time.Now().Add(-time.Hour)
	cutoff := time.Now()
	c.Record(OperationRecord{Duration: 1 * time.Millisecond, Timestamp: older})
	c.Record(OperationRecord{Duration: 100 * time.Millisecond, Timestamp: cutoff})

	p := c.GetPerformancePercentiles(cutoff)
	assert.Equal(t, 100*time.Millisecond, p.P50)
}

func TestGetPerformancePercentiles_EmptyReturnsZero(t *testing.T) {
	c := NewCollector(10)
	p := c.GetPerformancePercentiles(time.Time{})
	assert.Equal(t, Percentiles{}, p)
}

func TestSavingsSummary_String(t *testing.T) {
	s := SavingsSummary{OriginalBytes: 1000, StoredBytes: 300, OperationsCount: 4}
	assert.Equal(t, int64(700), s.BytesSaved())
	assert.InDelta(t, 70.0, s.PercentSaved(), 0.01)
	assert.Contains(t, s.String(), "4 operations")
}
