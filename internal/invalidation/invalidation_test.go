package invalidation

import (
	"sort"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/compresr/token-optimizer/internal/cache"
)

// fakeStore is an in-memory CacheStore for testing invalidation logic in
// isolation from the real SQLite-backed engine.
type fakeStore struct {
	entries map[string]cache.Entry
}

func newFakeStore(keys ...string) *fakeStore {
	s := &fakeStore{entries: make(map[string]cache.Entry)}
	for _, k := range keys {
		s.entries[k] = cache.Entry{Key: k}
	}
	return s
}

func (s *fakeStore) Delete(key string) (bool, error) {
	if _, ok := s.entries[key]; !ok {
		return false, nil
	}
	delete(s.entries, key)
	return true, nil
}

func (s *fakeStore) GetAllEntries() ([]cache.Entry, error) {
	out := make([]cache.Entry, 0, len(s.entries))
	for _, e := range s.entries {
		out = append(out, e)
	}
	return out, nil
}

func TestInvalidate_NonExistentKeyIsNoOp(t *testing.T) {
	store := newFakeStore("a")
	e := New(store, 100)

	rec, err := e.Invalidate("does-not-exist")
	require.NoError(t, err)
	assert.Empty(t, rec.AffectedKeys)
}

func TestInvalidatePattern_Wildcard(t *testing.T) {
	store := newFakeStore("user:1", "user:2", "order:1")
	e := New(store, 100)

	rec, err := e.InvalidatePattern("user:*")
	require.NoError(t, err)
	sort.Strings(rec.AffectedKeys)
	assert.Equal(t, []string{"user:1", "user:2"}, rec.AffectedKeys)

	remaining, _ := store.GetAllEntries()
	assert.Len(t, remaining, 1)
}

func TestInvalidatePattern_EmptyPatternIsInvalidArgument(t *testing.T) {
	store := newFakeStore("a")
	e := New(store, 100)
	_, err := e.InvalidatePattern("")
	require.Error(t, err)
}

func TestInvalidateTag(t *testing.T) {
	store := newFakeStore("a", "b", "c")
	e := New(store, 100)
	e.SetDependency("a", nil, "v1")
	e.SetDependency("b", nil, "v1")
	e.SetDependency("c", nil, "v2")

	rec, err := e.InvalidateTag("v1")
	require.NoError(t, err)
	sort.Strings(rec.AffectedKeys)
	assert.Equal(t, []string{"a", "b"}, rec.AffectedKeys)
}

// TestInvalidateDependency_CycleTerminates is scenario E from the spec:
// A->B, A->C, B->D, D->A (cycle). invalidateDependency(A, 10) must
// invalidate exactly {A,B,C,D}, visiting each node once.
func TestInvalidateDependency_CycleTerminates(t *testing.T) {
	store := newFakeStore("A", "B", "C", "D")
	e := New(store, 100)

	e.SetDependency("A", []string{"B", "C"}, "")
	e.SetDependency("B", []string{"D"}, "")
	e.SetDependency("D", []string{"A"}, "")

	rec, err := e.InvalidateDependency("A", 10)
	require.NoError(t, err)

	sort.Strings(rec.AffectedKeys)
	assert.Equal(t, []string{"A", "B", "C", "D"}, rec.AffectedKeys)
}

func TestInvalidateDependency_DepthZeroOnlyRoot(t *testing.T) {
	store := newFakeStore("A", "B")
	e := New(store, 100)
	e.SetDependency("A", []string{"B"}, "")

	rec, err := e.InvalidateDependency("A", 0)
	require.NoError(t, err)
	assert.Equal(t, []string{"A"}, rec.AffectedKeys)
}

func TestScheduleInvalidation_ProcessedByTicker(t *testing.T) {
	store := newFakeStore("a")
	e := New(store, 100)
	e.Start(50*time.Millisecond, 20*time.Millisecond)
	defer e.Stop()

	_, err := e.ScheduleInvalidation(time.Now(), nil, []string{"a"}, "", nil)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		remaining, _ := store.GetAllEntries()
		return len(remaining) == 0
	}, time.Second, 10*time.Millisecond)
}

func TestCancelScheduled_PreventsExecution(t *testing.T) {
	store := newFakeStore("a")
	e := New(store, 100)

	id, err := e.ScheduleInvalidation(time.Now().Add(time.Hour), nil, []string{"a"}, "", nil)
	require.NoError(t, err)
	e.CancelScheduled(id)

	assert.Empty(t, e.ListScheduled())
}

func TestLazyMode_EnqueuesUntilFlushed(t *testing.T) {
	store := newFakeStore("a")
	e := New(store, 100)
	e.Configure(StrategyLazy, ModeLazy, true, 100)
	e.Start(20*time.Millisecond, time.Hour)
	defer e.Stop()

	_, err := e.Invalidate("a")
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		remaining, _ := store.GetAllEntries()
		return len(remaining) == 0
	}, time.Second, 5*time.Millisecond)
}

func TestValidate_ReportsPerKeyExistence(t *testing.T) {
	store := newFakeStore("a")
	e := New(store, 100)

	results, err := e.Validate([]string{"a", "missing"}, false)
	require.NoError(t, err)

	byKey := map[string]bool{}
	for _, r := range results {
		byKey[r.Key] = r.Exists
	}
	assert.True(t, byKey["a"])
	assert.False(t, byKey["missing"])
}

func TestAudit_RecordedAndClearable(t *testing.T) {
	store := newFakeStore("a")
	e := New(store, 100)

	_, err := e.Invalidate("a")
	require.NoError(t, err)
	assert.NotEmpty(t, e.Audit())

	e.ClearAudit()
	assert.Empty(t, e.Audit())
}

func TestAudit_RingBufferBoundedAtMax(t *testing.T) {
	store := newFakeStore()
	e := New(store, 3)

	for i := 0; i < 10; i++ {
		_, err := e.Invalidate("missing")
		require.NoError(t, err)
	}
	assert.LessOrEqual(t, len(e.Audit()), 3)
}
