// Package admission implements C5: the layer that decides whether a value
// is worth caching compressed, enforces the token-aware admission
// invariant, and deduplicates concurrent identical work via singleflight.
package admission

import (
	"context"
	"encoding/base64"

	"golang.org/x/sync/singleflight"

	"github.com/compresr/token-optimizer/internal/apperrors"
	"github.com/compresr/token-optimizer/internal/cache"
	"github.com/compresr/token-optimizer/internal/compression"
	"github.com/compresr/token-optimizer/internal/tokencounter"
)

// Result is what Optimize returns: the decision made plus enough
// information for a caller to log or report savings.
type Result struct {
	Key                string  `json:"key"`
	Tokens             int     `json:"tokens"`
	Characters         int     `json:"characters"`
	OriginalBytes      int     `json:"originalBytes"`
	StoredBytes        int     `json:"storedBytes"`
	Compressed         bool    `json:"compressionUsed"`
	CompressionSkipped bool    `json:"compressionSkipped"`
	PercentSaved       float64 `json:"percentSaved"`
	TokensSaved        int     `json:"tokensSaved"`
	Reason             string  `json:"reason,omitempty"`
}

// Admission wires the token counter, compression codec and cache engine
// together behind Optimize/Fetch.
type Admission struct {
	tokens           *tokencounter.Counter
	codec            *compression.Codec
	store            *cache.Engine
	minCompressBytes int

	sf singleflight.Group
}

// New constructs an Admission layer. minCompressBytes is the byte floor
// below which content is always stored as plaintext (spec §4.5): brotli's
// framing overhead makes compression counterproductive for small payloads.
func New(tokens *tokencounter.Counter, codec *compression.Codec, store *cache.Engine, minCompressBytes int) *Admission {
	return &Admission{tokens: tokens, codec: codec, store: store, minCompressBytes: minCompressBytes}
}

// Optimize decides how to store content under key, applies that decision to
// the cache engine, and returns the resulting accounting. Concurrent calls
// for the same key are deduplicated: only one does the compression and
// token-counting work, and every caller receives the same Result.
//
// The core admission invariant (spec §4.5): the cache never holds a
// representation whose token count exceeds the plaintext's. Compression is
// never admitted on byte size alone — compressedTokens is computed over the
// base64-encoded compressed form (the representation a caller would
// actually transmit/re-tokenize) and compared against originalTokens
// directly, per spec §4.5 steps 3-4.
func (a *Admission) Optimize(ctx context.Context, key string, content []byte) (Result, error) {
	v, err, _ := a.sf.Do(key, func() (any, error) {
		return a.optimize(key, content)
	})
	if err != nil {
		return Result{}, err
	}
	return v.(Result), nil
}

func (a *Admission) optimize(key string, content []byte) (Result, error) {
	originalCount, err := a.tokens.Count(string(content))
	if err != nil {
		return Result{}, err
	}

	result := Result{
		Key:           key,
		Tokens:        originalCount.Tokens,
		Characters:    originalCount.Characters,
		OriginalBytes: len(content),
		StoredBytes:   len(content),
	}

	if len(content) < a.minCompressBytes {
		if err := a.store.Set(key, content, false, len(content)); err != nil {
			return Result{}, err
		}
		result.CompressionSkipped = true
		result.Reason = "below threshold"
		return result, nil
	}

	compressed, err := a.codec.Compress(content)
	if err != nil {
		return Result{}, err
	}

	compressedCount, err := a.tokens.Count(base64.StdEncoding.EncodeToString(compressed))
	if err != nil {
		return Result{}, err
	}

	if compressedCount.Tokens >= originalCount.Tokens {
		if err := a.store.Set(key, content, false, len(content)); err != nil {
			return Result{}, err
		}
		result.CompressionSkipped = true
		result.Reason = "compression would increase tokens"
		return result, nil
	}

	if err := a.store.Set(key, compressed, true, len(content)); err != nil {
		return Result{}, err
	}
	result.Compressed = true
	result.StoredBytes = len(compressed)
	result.TokensSaved = originalCount.Tokens - compressedCount.Tokens
	if originalCount.Tokens > 0 {
		result.PercentSaved = float64(result.TokensSaved) / float64(originalCount.Tokens) * 100
	}
	return result, nil
}

// Fetch retrieves key from the cache, transparently decompressing if the
// stored representation is compressed, so every caller always sees
// plaintext bytes regardless of the admission decision made at write time.
func (a *Admission) Fetch(ctx context.Context, key string) ([]byte, bool, error) {
	entry, ok, err := a.store.GetWithMetadata(key)
	if err != nil {
		return nil, false, err
	}
	if !ok {
		return nil, false, nil
	}
	if !entry.Compressed {
		return entry.Value, true, nil
	}

	plain, err := a.codec.Decompress(entry.Value)
	if err != nil {
		return nil, false, apperrors.Internal(err, "decompressing cache entry %q", key)
	}
	return plain, true, nil
}
