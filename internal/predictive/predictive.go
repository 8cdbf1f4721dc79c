// Package predictive implements C8: the advisory predictive cache. It
// records per-key accesses, fits lightweight per-key forecasters, and
// predicts which keys are likely to be accessed again within a horizon so a
// caller can pre-warm them. Nothing here ever blocks or gates a real cache
// read — every Record/Predict call is advisory bookkeeping only.
//
// DESIGN: the bookkeeping shape (per-key maps guarded by a sync.RWMutex,
// with the global access log halved inline when it passes its cap rather
// than trimmed by a background ticker) follows the map-plus-mutex idiom the
// deleted teacher cost tracker used for its own per-key accounting map (see
// DESIGN.md).
package predictive

import (
	"math"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/compresr/token-optimizer/internal/apperrors"
)

// ModelType enumerates the forecaster families Train can fit.
type ModelType string

const (
	ModelARIMA        ModelType = "arima"
	ModelExponential  ModelType = "exponential"
	ModelLSTM         ModelType = "lstm"
	ModelHybrid       ModelType = "hybrid"
)

// AccessPattern is one recorded access (spec §3).
type AccessPattern struct {
	Key       string
	Timestamp time.Time
	HitCount  int64
	Metadata  map[string]string
}

// Prediction is one forecast entry returned by Predict.
type Prediction struct {
	Key         string
	Probability float64
	Confidence  float64
}

// TrainMetrics summarizes a Train call.
type TrainMetrics struct {
	KeysTrained int
	ModelType   ModelType
	Epochs      int
}

// forecaster is the fitted per-key, per-model state.
type forecaster struct {
	modelType     ModelType
	samples       int
	meanInterval  float64 // seconds between accesses
	variance      float64
	lastAccess    time.Time
	trainedAt     time.Time
}

// Cache is the predictive layer: process-wide, safe for concurrent use.
type Cache struct {
	mu sync.RWMutex

	history map[string][]time.Time // per-key time series
	log     []AccessPattern        // bounded global log
	logCap  int

	models map[string]map[ModelType]forecaster // key -> modelType -> fitted model
}

// New constructs a Cache with the given global-log capacity (halved when
// exceeded, per spec §4.8).
func New(logCap int) *Cache {
	if logCap <= 0 {
		logCap = 100_000
	}
	return &Cache{
		history: make(map[string][]time.Time),
		logCap:  logCap,
		models:  make(map[string]map[ModelType]forecaster),
	}
}

// RecordAccess appends an access for key at ts (or now if ts is zero) to
// both the per-key series and the bounded global log.
func (c *Cache) RecordAccess(key string, ts time.Time) {
	if ts.IsZero() {
		ts = time.Now().UTC()
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.history[key] = append(c.history[key], ts)
	c.log = append(c.log, AccessPattern{Key: key, Timestamp: ts, HitCount: int64(len(c.history[key]))})

	if len(c.log) > c.logCap {
		c.log = halveGlobalLog(c.log)
	}
}

// halveGlobalLog drops the oldest half of the global log, keeping it bounded
// without discarding all history at once.
func halveGlobalLog(log []AccessPattern) []AccessPattern {
	keepFrom := len(log) / 2
	out := make([]AccessPattern, len(log)-keepFrom)
	copy(out, log[keepFrom:])
	return out
}

// History returns a copy of the recorded timestamps for key, oldest first.
func (c *Cache) History(key string) []time.Time {
	c.mu.RLock()
	defer c.mu.RUnlock()
	src := c.history[key]
	out := make([]time.Time, len(src))
	copy(out, src)
	return out
}

// Keys returns every key with at least one recorded access.
func (c *Cache) Keys() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	keys := make([]string, 0, len(c.history))
	for k := range c.history {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Train fits a forecaster of modelType for every key with at least
// DefaultMinTrainingSamples recorded accesses. trainData, when non-nil,
// supplies (key -> timestamps) series to train on instead of the internally
// recorded history, letting a caller replay a fixed dataset for
// reproducible tests. epochs and learningRate are accepted for interface
// fidelity with the spec's stochastic-looking training knobs but the fit
// itself is a deterministic closed-form estimate (mean/variance of
// inter-access intervals), per this spec's explicit requirement that the
// estimator be made deterministic for a given input (spec §9).
func (c *Cache) Train(trainData map[string][]time.Time, modelType ModelType, epochs int, learningRate float64) (TrainMetrics, error) {
	if trainData == nil {
		c.mu.RLock()
		trainData = make(map[string][]time.Time, len(c.history))
		for k, v := range c.history {
			cp := make([]time.Time, len(v))
			copy(cp, v)
			trainData[k] = cp
		}
		c.mu.RUnlock()
	}

	type fit struct {
		key string
		fc  forecaster
	}
	fits := make([]fit, 0, len(trainData))
	var fitsMu sync.Mutex

	var g errgroup.Group
	for key, series := range trainData {
		key, series := key, series
		if len(series) < minTrainingSamples {
			continue
		}
		g.Go(func() error {
			sorted := append([]time.Time(nil), series...)
			sort.Slice(sorted, func(i, j int) bool { return sorted[i].Before(sorted[j]) })
			fc := fitForecaster(modelType, sorted)

			fitsMu.Lock()
			fits = append(fits, fit{key: key, fc: fc})
			fitsMu.Unlock()
			return nil
		})
	}
	_ = g.Wait() // fitForecaster never errors; Wait just joins the fan-out

	trained := len(fits)
	c.mu.Lock()
	for _, f := range fits {
		if c.models[f.key] == nil {
			c.models[f.key] = make(map[ModelType]forecaster)
		}
		c.models[f.key][modelType] = f.fc
	}
	c.mu.Unlock()

	if trained == 0 {
		return TrainMetrics{}, apperrors.InvalidArgument("insufficient data: no key has >= %d samples", minTrainingSamples)
	}

	log.Info().Str("model_type", string(modelType)).Int("keys_trained", trained).Msg("predictive: training complete")
	return TrainMetrics{KeysTrained: trained, ModelType: modelType, Epochs: epochs}, nil
}

const minTrainingSamples = 10

// fitForecaster computes mean and variance of inter-access intervals,
// optionally reweighted by modelType:
//   - arima: plain mean/variance of first differences (a simplified ARIMA(1,1,1) proxy)
//   - exponential: double-exponential smoothing of the interval series
//   - lstm: a short trailing window average standing in for the reference's shallow LSTM
//   - hybrid: arithmetic mean of the above three, per the spec's fixed ensemble rule
func fitForecaster(modelType ModelType, sorted []time.Time) forecaster {
	intervals := make([]float64, 0, len(sorted)-1)
	for i := 1; i < len(sorted); i++ {
		intervals = append(intervals, sorted[i].Sub(sorted[i-1]).Seconds())
	}

	fc := forecaster{modelType: modelType, samples: len(sorted), lastAccess: sorted[len(sorted)-1], trainedAt: time.Now().UTC()}

	switch modelType {
	case ModelExponential:
		fc.meanInterval, fc.variance = doubleExponentialSmoothing(intervals)
	case ModelLSTM:
		fc.meanInterval, fc.variance = trailingWindowMean(intervals, 5)
	case ModelHybrid:
		aMean, aVar := meanVariance(intervals)
		eMean, eVar := doubleExponentialSmoothing(intervals)
		lMean, lVar := trailingWindowMean(intervals, 5)
		fc.meanInterval = (aMean + eMean + lMean) / 3
		fc.variance = (aVar + eVar + lVar) / 3
	default: // ModelARIMA and anything unrecognized
		fc.meanInterval, fc.variance = meanVariance(intervals)
	}
	return fc
}

func meanVariance(xs []float64) (mean, variance float64) {
	if len(xs) == 0 {
		return 0, 0
	}
	sum := 0.0
	for _, x := range xs {
		sum += x
	}
	mean = sum / float64(len(xs))

	if len(xs) < 2 {
		return mean, 0
	}
	var sq float64
	for _, x := range xs {
		d := x - mean
		sq += d * d
	}
	variance = sq / float64(len(xs)-1)
	return mean, variance
}

// doubleExponentialSmoothing applies Holt's linear trend method with fixed
// smoothing constants, deterministic for a given input series.
func doubleExponentialSmoothing(xs []float64) (mean, variance float64) {
	if len(xs) == 0 {
		return 0, 0
	}
	const alpha, beta = 0.3, 0.1

	level := xs[0]
	trend := 0.0
	if len(xs) > 1 {
		trend = xs[1] - xs[0]
	}
	for i := 1; i < len(xs); i++ {
		prevLevel := level
		level = alpha*xs[i] + (1-alpha)*(level+trend)
		trend = beta*(level-prevLevel) + (1-beta)*trend
	}

	_, variance = meanVariance(xs)
	mean = math.Max(level, 0)
	return mean, variance
}

// trailingWindowMean averages the last `window` intervals, a cheap
// deterministic stand-in for a recurrent forecaster's short-term memory.
func trailingWindowMean(xs []float64, window int) (mean, variance float64) {
	if len(xs) == 0 {
		return 0, 0
	}
	start := 0
	if len(xs) > window {
		start = len(xs) - window
	}
	return meanVariance(xs[start:])
}

// Predict returns keys with a predicted probability of access within
// horizonSeconds, subject to minConfidence, sorted by probability
// descending and truncated to maxPredictions. When a key has predictions
// from more than one trained model, the output is the arithmetic mean of
// their probabilities and confidences (spec §4.8's one fixed rule).
func (c *Cache) Predict(horizonSeconds float64, minConfidence float64, maxPredictions int) []Prediction {
	now := time.Now().UTC()

	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make([]Prediction, 0, len(c.models))
	for key, byModel := range c.models {
		var probSum, confSum float64
		var n int
		for _, fc := range byModel {
			prob, conf := predictOne(fc, now, horizonSeconds)
			probSum += prob
			confSum += conf
			n++
		}
		if n == 0 {
			continue
		}
		p := Prediction{Key: key, Probability: probSum / float64(n), Confidence: confSum / float64(n)}
		if p.Confidence >= minConfidence {
			out = append(out, p)
		}
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].Probability != out[j].Probability {
			return out[i].Probability > out[j].Probability
		}
		return out[i].Key < out[j].Key
	})

	if maxPredictions > 0 && len(out) > maxPredictions {
		out = out[:maxPredictions]
	}
	return out
}

// predictOne derives a probability/confidence pair from one fitted
// forecaster: probability uses a memoryless (exponential) arrival-process
// approximation over the fitted mean interval; confidence grows with
// sample count and shrinks with interval variance, both deterministic
// functions of the fit (spec §9: no stochastic component).
func predictOne(fc forecaster, now time.Time, horizonSeconds float64) (probability, confidence float64) {
	if fc.meanInterval <= 0 {
		return 0, 0
	}

	sinceLast := now.Sub(fc.lastAccess).Seconds()
	if sinceLast < 0 {
		sinceLast = 0
	}

	rate := 1.0 / fc.meanInterval
	probability = 1 - math.Exp(-rate*horizonSeconds)

	sampleConfidence := math.Min(1.0, float64(fc.samples)/20.0)
	stability := 1.0
	if fc.meanInterval > 0 {
		cv := math.Sqrt(fc.variance) / fc.meanInterval // coefficient of variation
		stability = 1.0 / (1.0 + cv)
	}
	confidence = sampleConfidence * stability
	if confidence > 1 {
		confidence = 1
	}
	return probability, confidence
}

// WarmMode selects AutoWarm's aggressiveness.
type WarmMode string

const (
	WarmAggressive   WarmMode = "aggressive"
	WarmConservative WarmMode = "conservative"
	WarmAdaptive     WarmMode = "adaptive"
)

// AutoWarm runs Predict under mode-specific thresholds and invokes warm for
// every predicted key not already reported present by isCached. It never
// blocks on warm's own work failing; a warm error is logged and the next
// key is tried.
func (c *Cache) AutoWarm(mode WarmMode, batchSize int, horizonSeconds float64, isCached func(key string) bool, warm func(key string) error) int {
	minConfidence := thresholdForMode(mode)
	predictions := c.Predict(horizonSeconds, minConfidence, batchSize*4)

	warmed := 0
	for _, p := range predictions {
		if warmed >= batchSize {
			break
		}
		if isCached != nil && isCached(p.Key) {
			continue
		}
		if err := warm(p.Key); err != nil {
			log.Warn().Err(err).Str("key", p.Key).Msg("predictive: auto-warm failed for key")
			continue
		}
		warmed++
	}
	return warmed
}

func thresholdForMode(mode WarmMode) float64 {
	switch mode {
	case WarmAggressive:
		return 0.3
	case WarmAdaptive:
		return 0.5
	default: // conservative
		return 0.75
	}
}
