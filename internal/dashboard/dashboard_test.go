package dashboard

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/compresr/token-optimizer/internal/cache"
	"github.com/compresr/token-optimizer/internal/invalidation"
	"github.com/compresr/token-optimizer/internal/metrics"
	"github.com/compresr/token-optimizer/internal/partition"
)

func newTestHandler(t *testing.T) *Handler {
	t.Helper()
	store, err := cache.Open(t.TempDir(), 1<<20, 1<<20)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	inv := invalidation.New(store, 100)
	return New(store, metrics.NewCollector(100), inv, partition.New(10))
}

func TestServeHTTP_RejectsNonLoopbackCaller(t *testing.T) {
	h := newTestHandler(t)
	req := httptest.NewRequest(http.MethodGet, "/stats", nil)
	req.RemoteAddr = "203.0.113.5:51234"
	rec := httptest.NewRecorder()

	h.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestServeHTTP_ReturnsJSONSnapshotForLoopbackCaller(t *testing.T) {
	h := newTestHandler(t)
	req := httptest.NewRequest(http.MethodGet, "/stats", nil)
	req.RemoteAddr = "127.0.0.1:51234"
	rec := httptest.NewRecorder()

	h.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var body snapshot
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.NotNil(t, body.Cache)
	assert.Equal(t, 0, body.Cache.HotTierEntries)
	require.NotNil(t, body.Invalidation)
	assert.Equal(t, 0, body.Invalidation.ScheduledJobs)
}

func TestIsLoopback(t *testing.T) {
	assert.True(t, isLoopback("127.0.0.1:1234"))
	assert.True(t, isLoopback("[::1]:1234"))
	assert.True(t, isLoopback("localhost:1234"))
	assert.False(t, isLoopback("203.0.113.5:1234"))
}
