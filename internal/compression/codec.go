// Package compression implements C2: the Brotli compression codec used to
// decide whether a cached representation is worth storing compressed.
package compression

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"io"

	"github.com/andybalholm/brotli"

	"github.com/compresr/token-optimizer/internal/apperrors"
	"github.com/compresr/token-optimizer/internal/config"
)

// AnalysisResult is the outcome of Analyze: whether compressing a payload is
// worth it, and by how much.
type AnalysisResult struct {
	OriginalBytes   int
	CompressedBytes int
	PercentSaved    float64
	Recommended     bool
}

// Codec wraps Brotli compress/decompress at a fixed quality level.
type Codec struct {
	quality int
}

// New constructs a Codec. quality is clamped into [MinCompressQuality,
// MaxCompressQuality].
func New(quality int) *Codec {
	if quality < config.MinCompressQuality {
		quality = config.MinCompressQuality
	}
	if quality > config.MaxCompressQuality {
		quality = config.MaxCompressQuality
	}
	return &Codec{quality: quality}
}

// Quality reports the configured compression quality.
func (c *Codec) Quality() int { return c.quality }

// Compress brotli-compresses data at the codec's configured quality.
func (c *Codec) Compress(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	w := brotli.NewWriterLevel(&buf, c.quality)
	if _, err := w.Write(data); err != nil {
		_ = w.Close()
		return nil, apperrors.Internal(err, "brotli compress write failed")
	}
	if err := w.Close(); err != nil {
		return nil, apperrors.Internal(err, "brotli compress close failed")
	}
	return buf.Bytes(), nil
}

// Decompress reverses Compress.
func (c *Codec) Decompress(data []byte) ([]byte, error) {
	r := brotli.NewReader(bytes.NewReader(data))
	out, err := io.ReadAll(r)
	if err != nil {
		return nil, apperrors.Internal(err, "brotli decompress failed")
	}
	return out, nil
}

// CompressToBase64 compresses then base64-encodes, for transports (JSON
// envelopes) that cannot carry raw binary.
func (c *Codec) CompressToBase64(data []byte) (string, error) {
	compressed, err := c.Compress(data)
	if err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(compressed), nil
}

// DecompressFromBase64 reverses CompressToBase64.
func (c *Codec) DecompressFromBase64(encoded string) ([]byte, error) {
	raw, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, apperrors.InvalidArgument("invalid base64 payload: %v", err)
	}
	return c.Decompress(raw)
}

// Analyze compresses data and reports whether doing so is worth it: at
// least RecommendedMinPercentSaved saved AND the original payload itself at
// least RecommendedMinBytes (spec §4.2). The second condition gates on the
// original size, not bytes saved — a payload too small to meet the
// compression floor elsewhere in the pipeline shouldn't be recommended here
// either, regardless of how favorable its percentage looks.
func (c *Codec) Analyze(data []byte) (AnalysisResult, error) {
	compressed, err := c.Compress(data)
	if err != nil {
		return AnalysisResult{}, err
	}

	original := len(data)
	result := AnalysisResult{
		OriginalBytes:   original,
		CompressedBytes: len(compressed),
	}
	if original > 0 {
		saved := original - len(compressed)
		result.PercentSaved = (float64(saved) / float64(original)) * 100
		result.Recommended = result.PercentSaved >= config.RecommendedMinPercentSaved &&
			original >= config.RecommendedMinBytes
	}
	return result, nil
}

// Savings is a convenience summary for logging/dashboard use.
func (c *Codec) Savings(r AnalysisResult) string {
	return fmt.Sprintf("%d -> %d bytes (%.1f%% saved)", r.OriginalBytes, r.CompressedBytes, r.PercentSaved)
}
