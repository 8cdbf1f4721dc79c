package predictive

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/compresr/token-optimizer/internal/compression"
)

func seededSeries(base time.Time, n int, interval time.Duration) []time.Time {
	out := make([]time.Time, n)
	for i := 0; i < n; i++ {
		out[i] = base.Add(time.Duration(i) * interval)
	}
	return out
}

func TestTrain_InsufficientDataFails(t *testing.T) {
	c := New(100)
	_, err := c.Train(map[string][]time.Time{"k": seededSeries(time.Now(), 3, time.Minute)}, ModelARIMA, 10, 0.01)
	require.Error(t, err)
}

func TestTrain_PredictReturnsHighProbabilityForFrequentKey(t *testing.T) {
	c := New(100)
	base := time.Now().Add(-time.Hour)
	data := map[string][]time.Time{
		"hot": seededSeries(base, 20, 30*time.Second),
	}
	metrics, err := c.Train(data, ModelExponential, 10, 0.01)
	require.NoError(t, err)
	assert.Equal(t, 1, metrics.KeysTrained)

	preds := c.Predict(60, 0, 10)
	require.Len(t, preds, 1)
	assert.Equal(t, "hot", preds[0].Key)
	assert.Greater(t, preds[0].Probability, 0.5)
}

func TestPredict_EnsemblesAcrossMultipleModelsForSameKey(t *testing.T) {
	c := New(100)
	base := time.Now().Add(-time.Hour)
	data := map[string][]time.Time{"k": seededSeries(base, 15, 20*time.Second)}

	_, err := c.Train(data, ModelARIMA, 10, 0.01)
	require.NoError(t, err)
	_, err = c.Train(data, ModelExponential, 10, 0.01)
	require.NoError(t, err)

	preds := c.Predict(60, 0, 10)
	require.Len(t, preds, 1)
	// Ensemble is the mean across the two trained models, not either one alone.
	assert.Greater(t, preds[0].Probability, 0.0)
	assert.LessOrEqual(t, preds[0].Probability, 1.0)
}

func TestPredict_FiltersByMinConfidenceAndTruncates(t *testing.T) {
	c := New(100)
	base := time.Now().Add(-time.Hour)
	for _, key := range []string{"a", "b", "c"} {
		data := map[string][]time.Time{key: seededSeries(base, 12, time.Minute)}
		_, err := c.Train(data, ModelHybrid, 5, 0.01)
		require.NoError(t, err)
	}

	preds := c.Predict(120, 0, 2)
	assert.LessOrEqual(t, len(preds), 2)
}

func TestRecordAccess_BoundsGlobalLog(t *testing.T) {
	c := New(10)
	for i := 0; i < 25; i++ {
		c.RecordAccess("k", time.Now())
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	assert.LessOrEqual(t, len(c.log), 10)
}

func TestAutoWarm_WarmsUncachedPredictedKeys(t *testing.T) {
	c := New(100)
	base := time.Now().Add(-time.Hour)
	_, err := c.Train(map[string][]time.Time{"warm-me": seededSeries(base, 15, 15*time.Second)}, ModelARIMA, 5, 0.01)
	require.NoError(t, err)

	var warmed []string
	n := c.AutoWarm(WarmAggressive, 5, 120, func(string) bool { return false }, func(key string) error {
		warmed = append(warmed, key)
		return nil
	})
	assert.Equal(t, 1, n)
	assert.Contains(t, warmed, "warm-me")
}

func TestExportImportModel_JSONRoundTrip(t *testing.T) {
	c := New(100)
	base := time.Now().Add(-time.Hour)
	_, err := c.Train(map[string][]time.Time{"k": seededSeries(base, 12, time.Minute)}, ModelLSTM, 5, 0.01)
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "model.json")
	require.NoError(t, c.ExportModel(path, FormatJSON, false, nil))

	c2 := New(100)
	require.NoError(t, c2.ImportModel(path, FormatJSON, false, nil))

	preds1 := c.Predict(60, 0, 10)
	preds2 := c2.Predict(60, 0, 10)
	require.Len(t, preds1, 1)
	require.Len(t, preds2, 1)
	assert.InDelta(t, preds1[0].Probability, preds2[0].Probability, 1e-9)
}

func TestExportImportModel_CompressedBinaryRoundTrip(t *testing.T) {
	c := New(100)
	base := time.Now().Add(-time.Hour)
	_, err := c.Train(map[string][]time.Time{"k": seededSeries(base, 12, time.Minute)}, ModelARIMA, 5, 0.01)
	require.NoError(t, err)

	codec := compression.New(5)
	path := filepath.Join(t.TempDir(), "model.bin")
	require.NoError(t, c.ExportModel(path, FormatBinary, true, codec))

	c2 := New(100)
	require.NoError(t, c2.ImportModel(path, FormatBinary, true, codec))

	preds2 := c2.Predict(60, 0, 10)
	require.Len(t, preds2, 1)
}

func TestImportModel_MissingFileIsNotFound(t *testing.T) {
	c := New(100)
	err := c.ImportModel(filepath.Join(t.TempDir(), "nope.json"), FormatJSON, false, nil)
	require.Error(t, err)
}
