package predictive

import (
	"bytes"
	"encoding/gob"
	"encoding/json"
	"os"
	"time"

	"github.com/compresr/token-optimizer/internal/apperrors"
	"github.com/compresr/token-optimizer/internal/compression"
)

// ModelFormat selects the on-disk encoding for ExportModel/ImportModel.
type ModelFormat string

const (
	FormatJSON   ModelFormat = "json"
	FormatBinary ModelFormat = "binary"
)

// snapshot is the full round-trippable state: access history plus fitted
// models, so ImportModel can resume predicting without retraining.
type snapshot struct {
	History map[string][]time.Time          `json:"history"`
	Models  map[string]map[ModelType]forecaster `json:"models"`
}

// forecasterGob mirrors forecaster for gob encoding, since gob cannot encode
// unexported struct fields directly across package boundaries but can
// within the same package via a parallel exported-field type.
type forecasterGob struct {
	ModelType    ModelType
	Samples      int
	MeanInterval float64
	Variance     float64
	LastAccess   time.Time
	TrainedAt    time.Time
}

func toGob(fc forecaster) forecasterGob {
	return forecasterGob{fc.modelType, fc.samples, fc.meanInterval, fc.variance, fc.lastAccess, fc.trainedAt}
}

func fromGob(g forecasterGob) forecaster {
	return forecaster{modelType: g.ModelType, samples: g.Samples, meanInterval: g.MeanInterval, variance: g.Variance, lastAccess: g.LastAccess, trainedAt: g.TrainedAt}
}

// ExportModel serializes the current access history and fitted models to
// path in the given format, optionally brotli-compressing the encoded
// bytes (reusing C2's codec rather than introducing a second compression
// dependency).
func (c *Cache) ExportModel(path string, format ModelFormat, compress bool, codec *compression.Codec) error {
	c.mu.RLock()
	snap := snapshot{History: copyHistory(c.history), Models: copyModels(c.models)}
	c.mu.RUnlock()

	var encoded []byte
	var err error
	switch format {
	case FormatBinary:
		encoded, err = encodeGob(snap)
	default:
		encoded, err = json.Marshal(exportableJSON(snap))
	}
	if err != nil {
		return apperrors.Internal(err, "encoding predictive model")
	}

	if compress {
		if codec == nil {
			return apperrors.InvalidArgument("compress requested but no codec supplied")
		}
		encoded, err = codec.Compress(encoded)
		if err != nil {
			return err
		}
	}

	if err := os.WriteFile(path, encoded, 0o644); err != nil {
		return apperrors.Internal(err, "writing predictive model to %s", path)
	}
	return nil
}

// ImportModel reverses ExportModel, replacing this Cache's in-memory state
// with the file's contents.
func (c *Cache) ImportModel(path string, format ModelFormat, compressed bool, codec *compression.Codec) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return apperrors.NotFound("predictive model file %s not found: %v", path, err)
	}

	if compressed {
		if codec == nil {
			return apperrors.InvalidArgument("compressed import requested but no codec supplied")
		}
		raw, err = codec.Decompress(raw)
		if err != nil {
			return err
		}
	}

	var snap snapshot
	switch format {
	case FormatBinary:
		snap, err = decodeGob(raw)
	default:
		var j jsonSnapshot
		err = json.Unmarshal(raw, &j)
		snap = j.toSnapshot()
	}
	if err != nil {
		return apperrors.InvalidArgument("decoding predictive model: %v", err)
	}

	c.mu.Lock()
	c.history = snap.History
	c.models = snap.Models
	c.mu.Unlock()
	return nil
}

func copyHistory(h map[string][]time.Time) map[string][]time.Time {
	out := make(map[string][]time.Time, len(h))
	for k, v := range h {
		cp := make([]time.Time, len(v))
		copy(cp, v)
		out[k] = cp
	}
	return out
}

func copyModels(m map[string]map[ModelType]forecaster) map[string]map[ModelType]forecaster {
	out := make(map[string]map[ModelType]forecaster, len(m))
	for k, byModel := range m {
		cp := make(map[ModelType]forecaster, len(byModel))
		for mt, fc := range byModel {
			cp[mt] = fc
		}
		out[k] = cp
	}
	return out
}

// jsonSnapshot / exportableJSON exist because forecaster's fields are
// unexported and json.Marshal cannot see them directly; this wrapper routes
// through the exported forecasterGob shape for both formats.
type jsonSnapshot struct {
	History map[string][]time.Time                  `json:"history"`
	Models  map[string]map[ModelType]forecasterGob `json:"models"`
}

func exportableJSON(s snapshot) jsonSnapshot {
	out := jsonSnapshot{History: s.History, Models: make(map[string]map[ModelType]forecasterGob, len(s.Models))}
	for k, byModel := range s.Models {
		cp := make(map[ModelType]forecasterGob, len(byModel))
		for mt, fc := range byModel {
			cp[mt] = toGob(fc)
		}
		out.Models[k] = cp
	}
	return out
}

func (j jsonSnapshot) toSnapshot() snapshot {
	out := snapshot{History: j.History, Models: make(map[string]map[ModelType]forecaster, len(j.Models))}
	for k, byModel := range j.Models {
		cp := make(map[ModelType]forecaster, len(byModel))
		for mt, fc := range byModel {
			cp[mt] = fromGob(fc)
		}
		out.Models[k] = cp
	}
	return out
}

func encodeGob(s snapshot) ([]byte, error) {
	var buf bytes.Buffer
	gobModels := make(map[string]map[ModelType]forecasterGob, len(s.Models))
	for k, byModel := range s.Models {
		cp := make(map[ModelType]forecasterGob, len(byModel))
		for mt, fc := range byModel {
			cp[mt] = toGob(fc)
		}
		gobModels[k] = cp
	}
	if err := gob.NewEncoder(&buf).Encode(struct {
		History map[string][]time.Time
		Models  map[string]map[ModelType]forecasterGob
	}{s.History, gobModels}); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func decodeGob(raw []byte) (snapshot, error) {
	var payload struct {
		History map[string][]time.Time
		Models  map[string]map[ModelType]forecasterGob
	}
	if err := gob.NewDecoder(bytes.NewReader(raw)).Decode(&payload); err != nil {
		return snapshot{}, err
	}
	models := make(map[string]map[ModelType]forecaster, len(payload.Models))
	for k, byModel := range payload.Models {
		cp := make(map[ModelType]forecaster, len(byModel))
		for mt, fc := range byModel {
			cp[mt] = fromGob(fc)
		}
		models[k] = cp
	}
	return snapshot{History: payload.History, Models: models}, nil
}
