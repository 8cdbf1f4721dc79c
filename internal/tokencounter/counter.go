// Package tokencounter implements C1: a deterministic token counter backed by
// a fixed, documented tokenizer model, wrapped in a bounded LRU result cache.
//
// DESIGN: Same input always yields the same {tokens, characters} regardless
// of process state (spec §4.1). Swapping the tokenizer model is a
// breaking-change event, so the model name is fixed at construction and
// logged once at startup, in the teacher's style of stamping config values
// into the log at init time.
package tokencounter

import (
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/pkoukk/tiktoken-go"
	"github.com/rs/zerolog/log"

	"github.com/compresr/token-optimizer/internal/apperrors"
)

// Result is the outcome of Count: token count and character (rune) count.
type Result struct {
	Tokens     int
	Characters int
}

// Counter exposes Count(text) -> {tokens, characters}, LRU-cached.
type Counter struct {
	enc *tiktoken.Tiktoken

	mu        sync.Mutex
	cache     *lru.Cache[string, cacheEntry]
	cacheTTL  time.Duration
	available bool
}

type cacheEntry struct {
	result    Result
	expiresAt time.Time
}

// New constructs a Counter for the given tiktoken encoding name (e.g.
// "cl100k_base"). If the tokenizer fails to initialize, Counter.Count will
// always return Unavailable (spec §4.1 failure mode) rather than panicking
// at construction time, so dependents can surface a clean error per call.
func New(modelEncoding string, cacheSize int, cacheTTL time.Duration) *Counter {
	c := &Counter{cacheTTL: cacheTTL}

	enc, err := tiktoken.GetEncoding(modelEncoding)
	if err != nil {
		log.Error().Err(err).Str("encoding", modelEncoding).Msg("tokencounter: failed to initialize tokenizer")
		c.available = false
	} else {
		c.enc = enc
		c.available = true
	}

	if cacheSize <= 0 {
		cacheSize = 1000
	}
	cache, err := lru.New[string, cacheEntry](cacheSize)
	if err != nil {
		// Capacity is always > 0 here, so this cannot happen; treat as internal.
		log.Error().Err(err).Msg("tokencounter: failed to allocate result cache")
	}
	c.cache = cache

	log.Info().Str("encoding", modelEncoding).Bool("available", c.available).Int("cache_size", cacheSize).Msg("tokencounter: initialized")
	return c
}

// Available reports whether the tokenizer initialized successfully.
func (c *Counter) Available() bool { return c.available }

// Count returns the token and character count for text. Deterministic: same
// bytes in, same Result out. Results are cached by input bytes in a bounded
// LRU with a TTL; the cache is purely local state and is never persisted.
func (c *Counter) Count(text string) (Result, error) {
	if !c.available {
		return Result{}, apperrors.Unavailable("tokenizer not initialized")
	}

	c.mu.Lock()
	if entry, ok := c.cache.Get(text); ok {
		if time.Now().Before(entry.expiresAt) {
			c.mu.Unlock()
			return entry.result, nil
		}
		c.cache.Remove(text)
	}
	c.mu.Unlock()

	tokens := c.enc.Encode(text, nil, nil)
	result := Result{
		Tokens:     len(tokens),
		Characters: len([]rune(text)),
	}

	c.mu.Lock()
	c.cache.Add(text, cacheEntry{result: result, expiresAt: time.Now().Add(c.cacheTTL)})
	c.mu.Unlock()

	return result, nil
}

// CountTokens is a convenience wrapper returning just the token count, used
// pervasively by the admission and metrics layers where characters aren't
// needed.
func (c *Counter) CountTokens(text string) (int, error) {
	r, err := c.Count(text)
	if err != nil {
		return 0, err
	}
	return r.Tokens, nil
}
