package handlers

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/compresr/token-optimizer/internal/admission"
	"github.com/compresr/token-optimizer/internal/cache"
	"github.com/compresr/token-optimizer/internal/compression"
	"github.com/compresr/token-optimizer/internal/invalidation"
	"github.com/compresr/token-optimizer/internal/metrics"
	"github.com/compresr/token-optimizer/internal/partition"
	"github.com/compresr/token-optimizer/internal/predictive"
	"github.com/compresr/token-optimizer/internal/registry"
	"github.com/compresr/token-optimizer/internal/tokencounter"
)

func newTestDeps(t *testing.T) (*registry.Registry, Deps) {
	t.Helper()
	store, err := cache.Open(t.TempDir(), 1<<20, 1<<20)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	tokens := tokencounter.New("cl100k_base", 100, time.Minute)
	codec := compression.New(11)
	adm := admission.New(tokens, codec, store, 500)

	invalidator := invalidation.New(store, 1000)
	router := partition.New(50)
	_, err = router.CreatePartition("p1", "consistent-hash")
	require.NoError(t, err)

	deps := Deps{
		Admission:   adm,
		Cache:       store,
		Invalidator: invalidator,
		Predictive:  predictive.New(1000),
		Router:      router,
		Collector:   metrics.NewCollector(1000),
	}
	reg := registry.New(adm, 5*time.Minute)
	Register(reg, deps)
	return reg, deps
}

func TestOptimizeText_ThenGetCached_RoundTrips(t *testing.T) {
	reg, _ := newTestDeps(t)

	_, err := reg.Invoke(context.Background(), "optimize_text", map[string]any{
		"key":     "k1",
		"content": "hello world",
	}, nil)
	require.NoError(t, err)

	result, err := reg.Invoke(context.Background(), "get_cached", map[string]any{"key": "k1"}, nil)
	require.NoError(t, err)
	m := result.Value.(map[string]any)
	assert.Equal(t, "hello world", m["content"])
}

func TestGetCached_MissingKeyIsNotFound(t *testing.T) {
	reg, _ := newTestDeps(t)
	_, err := reg.Invoke(context.Background(), "get_cached", map[string]any{"key": "nope"}, nil)
	require.Error(t, err)
}

func TestCacheStats_ReportsZeroEntriesInitially(t *testing.T) {
	reg, _ := newTestDeps(t)
	result, err := reg.Invoke(context.Background(), "cache_stats", map[string]any{}, nil)
	require.NoError(t, err)
	stats := result.Value.(cache.Stats)
	assert.Equal(t, 0, stats.HotTierEntries)
}

func TestInvalidateKeys_ReportsAffectedKeys(t *testing.T) {
	reg, _ := newTestDeps(t)

	_, err := reg.Invoke(context.Background(), "optimize_text", map[string]any{"key": "k1", "content": "data"}, nil)
	require.NoError(t, err)

	result, err := reg.Invoke(context.Background(), "invalidate_keys", map[string]any{"keys": []any{"k1"}}, nil)
	require.NoError(t, err)
	record := result.Value.(invalidation.InvalidationRecord)
	assert.Contains(t, record.AffectedKeys, "k1")
}

func TestRouteQuery_ReturnsOwningPartition(t *testing.T) {
	reg, _ := newTestDeps(t)
	result, err := reg.Invoke(context.Background(), "route_query", map[string]any{"key": "k1", "replicationFactor": 1.0}, nil)
	require.NoError(t, err)
	m := result.Value.(map[string]any)
	assert.Equal(t, []string{"p1"}, m["partitions"])
}

func TestSetDependency_ThenInvalidateDependency_CascadesToChild(t *testing.T) {
	reg, _ := newTestDeps(t)

	_, err := reg.Invoke(context.Background(), "optimize_text", map[string]any{"key": "parent", "content": "p"}, nil)
	require.NoError(t, err)
	_, err = reg.Invoke(context.Background(), "optimize_text", map[string]any{"key": "child", "content": "c"}, nil)
	require.NoError(t, err)

	_, err = reg.Invoke(context.Background(), "set_dependency", map[string]any{
		"parent":   "parent",
		"children": []any{"child"},
	}, nil)
	require.NoError(t, err)

	result, err := reg.Invoke(context.Background(), "invalidate_dependency", map[string]any{"rootKey": "parent"}, nil)
	require.NoError(t, err)
	record := result.Value.(invalidation.InvalidationRecord)
	assert.Contains(t, record.AffectedKeys, "parent")
	assert.Contains(t, record.AffectedKeys, "child")
}

func TestScheduleInvalidation_ThenCancel(t *testing.T) {
	reg, _ := newTestDeps(t)

	result, err := reg.Invoke(context.Background(), "schedule_invalidation", map[string]any{
		"executeAt": time.Now().Add(time.Hour).Format(time.RFC3339),
		"keys":      []any{"k1"},
	}, nil)
	require.NoError(t, err)
	m := result.Value.(map[string]any)
	id, ok := m["scheduleId"].(string)
	require.True(t, ok)
	require.NotEmpty(t, id)

	_, err = reg.Invoke(context.Background(), "cancel_scheduled", map[string]any{"id": id}, nil)
	require.NoError(t, err)
}

func TestCreatePartition_ThenDeletePartition(t *testing.T) {
	reg, _ := newTestDeps(t)

	_, err := reg.Invoke(context.Background(), "create_partition", map[string]any{
		"id": "p2", "strategy": "consistent-hash",
	}, nil)
	require.NoError(t, err)

	_, err = reg.Invoke(context.Background(), "delete_partition", map[string]any{"id": "p2"}, nil)
	require.NoError(t, err)
}

func TestInvalidationConfigure_ThenStats_ReflectsNewSettings(t *testing.T) {
	reg, _ := newTestDeps(t)

	_, err := reg.Invoke(context.Background(), "invalidation_configure", map[string]any{
		"strategy":    "ttl-based",
		"mode":        "scheduled",
		"enableAudit": true,
	}, nil)
	require.NoError(t, err)

	result, err := reg.Invoke(context.Background(), "invalidation_stats", map[string]any{}, nil)
	require.NoError(t, err)
	stats := result.Value.(invalidation.Stats)
	assert.Equal(t, invalidation.StrategyTTLBased, stats.Strategy)
	assert.Equal(t, invalidation.ModeScheduled, stats.Mode)
}

func TestGetOperations_ThenHitRate_ReflectRecordedCalls(t *testing.T) {
	reg, deps := newTestDeps(t)

	deps.Collector.Record(metrics.OperationRecord{Operation: "optimize_text", CacheHit: false})
	deps.Collector.Record(metrics.OperationRecord{Operation: "get_cached", CacheHit: true})

	result, err := reg.Invoke(context.Background(), "get_operations", map[string]any{}, nil)
	require.NoError(t, err)
	m := result.Value.(map[string]any)
	ops := m["operations"].([]metrics.OperationRecord)
	assert.Len(t, ops, 2)

	result, err = reg.Invoke(context.Background(), "get_cache_hit_rate", map[string]any{}, nil)
	require.NoError(t, err)
	m = result.Value.(map[string]any)
	assert.Equal(t, int64(1), m["hits"])
	assert.Equal(t, int64(1), m["misses"])
}

func TestRebalancePartitions_ReportsMigrationCount(t *testing.T) {
	reg, deps := newTestDeps(t)

	_, err := reg.Invoke(context.Background(), "create_partition", map[string]any{
		"id": "p2", "strategy": "consistent-hash",
	}, nil)
	require.NoError(t, err)

	for i := 0; i < 20; i++ {
		_, err := deps.Router.PlaceKey(fmt.Sprintf("k%d", i), 10)
		require.NoError(t, err)
	}

	result, err := reg.Invoke(context.Background(), "rebalance_partitions", map[string]any{
		"target":        "even",
		"maxMigrations": 100.0,
	}, nil)
	require.NoError(t, err)
	m := result.Value.(map[string]any)
	assert.GreaterOrEqual(t, m["migrations"], 0)
}

func TestValidateKeys_ReportsPresentAndMissing(t *testing.T) {
	reg, _ := newTestDeps(t)

	_, err := reg.Invoke(context.Background(), "optimize_text", map[string]any{"key": "k1", "content": "data"}, nil)
	require.NoError(t, err)

	result, err := reg.Invoke(context.Background(), "validate_keys", map[string]any{
		"keys": []any{"k1", "missing"},
	}, nil)
	require.NoError(t, err)
	m := result.Value.(map[string]any)
	assert.Len(t, m["validity"], 2)
}
