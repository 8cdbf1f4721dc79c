package compression

import (
	"math/rand"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCompressDecompress_RoundTrip(t *testing.T) {
	c := New(11)
	original := []byte(strings.Repeat("the quick brown fox jumps over the lazy dog ", 200))

	compressed, err := c.Compress(original)
	require.NoError(t, err)
	assert.Less(t, len(compressed), len(original))

	decompressed, err := c.Decompress(compressed)
	require.NoError(t, err)
	assert.Equal(t, original, decompressed)
}

func TestCompressToBase64_RoundTrip(t *testing.T) {
	c := New(11)
	original := []byte(strings.Repeat("compressible payload ", 100))

	encoded, err := c.CompressToBase64(original)
	require.NoError(t, err)

	decoded, err := c.DecompressFromBase64(encoded)
	require.NoError(t, err)
	assert.Equal(t, original, decoded)
}

func TestDecompressFromBase64_InvalidInput(t *testing.T) {
	c := New(11)
	_, err := c.DecompressFromBase64("not-valid-base64!!")
	require.Error(t, err)
}

func TestQualityClamp(t *testing.T) {
	assert.Equal(t, 0, New(-5).Quality())
	assert.Equal(t, 11, New(99).Quality())
	assert.Equal(t, 5, New(5).Quality())
}

func TestAnalyze_RecommendsHighlyCompressible(t *testing.T) {
	c := New(11)
	data := []byte(strings.Repeat("a", 5000))

	r, err := c.Analyze(data)
	require.NoError(t, err)
	assert.True(t, r.Recommended)
	assert.Greater(t, r.PercentSaved, 10.0)
}

func TestAnalyze_DoesNotRecommendTinyPayload(t *testing.T) {
	c := New(11)
	data := []byte("aaaaaaaaaa")

	r, err := c.Analyze(data)
	require.NoError(t, err)
	assert.False(t, r.Recommended)
}

func TestAnalyze_DoesNotRecommendIncompressibleData(t *testing.T) {
	c := New(11)
	// Seeded pseudo-random bytes have no redundancy for brotli to remove, so
	// they fall short of the 10% percentSaved floor despite clearing 500 bytes.
	data := make([]byte, 1000)
	rand.New(rand.NewSource(1)).Read(data)

	r, err := c.Analyze(data)
	require.NoError(t, err)
	assert.False(t, r.Recommended)
}

func TestAnalyze_RecommendedGatesOnOriginalSizeNotBytesSaved(t *testing.T) {
	c := New(11)
	// Recommended is gated on the original size (600, which clears
	// config.RecommendedMinBytes of 500) together with the percentSaved
	// floor; the absolute number of bytes saved plays no part in the rule.
	data := []byte(strings.Repeat("ab", 300))

	r, err := c.Analyze(data)
	require.NoError(t, err)
	require.Equal(t, 600, r.OriginalBytes)
	if r.PercentSaved >= 10.0 {
		assert.True(t, r.Recommended)
	}
}
