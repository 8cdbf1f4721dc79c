package admission

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/compresr/token-optimizer/internal/cache"
	"github.com/compresr/token-optimizer/internal/compression"
	"github.com/compresr/token-optimizer/internal/tokencounter"
)

func newTestAdmission(t *testing.T) *Admission {
	t.Helper()
	dir := t.TempDir()
	store, err := cache.Open(dir, 1<<20, 1<<20)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	tokens := tokencounter.New("cl100k_base", 100, time.Minute)
	codec := compression.New(11)
	return New(tokens, codec, store, 500)
}

func TestOptimize_SmallPayloadNeverCompressed(t *testing.T) {
	a := newTestAdmission(t)
	ctx := context.Background()

	r, err := a.Optimize(ctx, "k1", []byte("small"))
	require.NoError(t, err)
	assert.False(t, r.Compressed)
	assert.True(t, r.CompressionSkipped)
	assert.Equal(t, "below threshold", r.Reason)
	assert.Zero(t, r.TokensSaved)
	assert.Equal(t, len(r.Key), len("k1"))

	fetched, ok, err := a.Fetch(ctx, "k1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, []byte("small"), fetched)
}

func TestOptimize_TokenInvariantComparesBase64CompressedForm(t *testing.T) {
	a := newTestAdmission(t)
	ctx := context.Background()

	// A letter sequence that repeats every 26 bytes. Whichever branch
	// admission takes, it must follow from comparing tokens over the base64
	// form of the compressed bytes (which adds ~33% over the raw byte count),
	// not from the byte sizes alone.
	var b strings.Builder
	for i := 0; i < 800; i++ {
		b.WriteByte(byte('a' + (i*37+i*i*13)%26))
	}
	content := []byte(b.String())

	r, err := a.Optimize(ctx, "invariant", content)
	require.NoError(t, err)
	if r.Compressed {
		assert.Greater(t, r.TokensSaved, 0)
		assert.Empty(t, r.Reason)
	} else {
		assert.True(t, r.CompressionSkipped)
		assert.Equal(t, "compression would increase tokens", r.Reason)
	}
}

func TestOptimize_CompressibleLargePayloadIsCompressed(t *testing.T) {
	a := newTestAdmission(t)
	ctx := context.Background()
	content := []byte(strings.Repeat("the quick brown fox jumps over the lazy dog ", 200))

	r, err := a.Optimize(ctx, "big", content)
	require.NoError(t, err)
	assert.True(t, r.Compressed)
	assert.Less(t, r.StoredBytes, r.OriginalBytes)

	fetched, ok, err := a.Fetch(ctx, "big")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, content, fetched)
}

func TestOptimize_LargePayloadNeverStoresMoreThanOriginal(t *testing.T) {
	a := newTestAdmission(t)
	ctx := context.Background()

	// A 600-byte letter sequence that repeats every 26 bytes.
	var b strings.Builder
	for i := 0; i < 600; i++ {
		b.WriteByte(byte('a' + (i*37+i*i)%26))
	}
	content := []byte(b.String())

	r, err := a.Optimize(ctx, "weird", content)
	require.NoError(t, err)
	// Whether or not it is stored compressed, StoredBytes must never exceed
	// OriginalBytes.
	assert.LessOrEqual(t, r.StoredBytes, r.OriginalBytes)

	fetched, ok, err := a.Fetch(ctx, "weird")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, content, fetched)
}

func TestFetch_MissingKey(t *testing.T) {
	a := newTestAdmission(t)
	_, ok, err := a.Fetch(context.Background(), "missing")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestOptimize_ConcurrentCallsDeduped(t *testing.T) {
	a := newTestAdmission(t)
	ctx := context.Background()
	content := []byte(strings.Repeat("dedup me please ", 100))

	results := make(chan Result, 8)
	for i := 0; i < 8; i++ {
		go func() {
			r, err := a.Optimize(ctx, "shared", content)
			require.NoError(t, err)
			results <- r
		}()
	}
	for i := 0; i < 8; i++ {
		r := <-results
		assert.Equal(t, "shared", r.Key)
	}
}
