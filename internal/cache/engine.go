package cache

import (
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/compresr/token-optimizer/internal/apperrors"
)

// Engine is the two-tier cache: a bounded in-memory hot tier in front of a
// persistent SQLite-backed tier that is the source of truth. Every write
// lands in both tiers; the hot tier may evict independently of the
// persistent tier, but the persistent tier always remains a superset.
type Engine struct {
	hot   *hotTier
	store *persistentStore

	mu sync.Mutex // serializes insert-or-update across tiers for one key at a time

	hits   atomic.Int64
	misses atomic.Int64

	hotMaxBytes        int64
	persistentMaxBytes int64
}

// Open constructs the engine, creating dataDir and the persistent database
// file inside it if they don't already exist.
func Open(dataDir string, hotMaxBytes, persistentMaxBytes int64) (*Engine, error) {
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, apperrors.Internal(err, "creating cache data dir %s", dataDir)
	}

	hot, err := newHotTier(hotMaxBytes)
	if err != nil {
		return nil, apperrors.Internal(err, "constructing hot tier")
	}

	dbPath := filepath.Join(dataDir, "cache.db")
	store, err := openPersistentStore(dbPath, persistentMaxBytes)
	if err != nil {
		return nil, err
	}

	log.Info().Str("db_path", dbPath).Int64("hot_max_bytes", hotMaxBytes).Int64("persistent_max_bytes", persistentMaxBytes).Msg("cache: engine opened")

	return &Engine{
		hot:                hot,
		store:              store,
		hotMaxBytes:        hotMaxBytes,
		persistentMaxBytes: persistentMaxBytes,
	}, nil
}

// Close releases the persistent tier's database handle.
func (e *Engine) Close() error {
	return e.store.close()
}

// Set performs an atomic insert-or-update for key: createdAt and hitCount
// carry forward from any existing entry rather than resetting (spec §4.3).
func (e *Engine) Set(key string, value []byte, compressed bool, originalBytes int) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	now := time.Now().UTC()
	existing, found, err := e.store.get(key)
	if err != nil {
		return err
	}

	entry := Entry{
		Key:            key,
		Value:          value,
		Compressed:     compressed,
		OriginalBytes:  originalBytes,
		StoredBytes:    len(value),
		CreatedAt:      now,
		UpdatedAt:      now,
		LastAccessedAt: now,
		HitCount:       0,
	}
	if found {
		entry.CreatedAt = existing.CreatedAt
		entry.HitCount = existing.HitCount
		entry.LastAccessedAt = existing.LastAccessedAt
	}

	if err := e.store.put(entry); err != nil {
		return err
	}
	e.hot.put(entry)

	if err := e.evictPersistentIfOverBudget(); err != nil {
		return err
	}
	return nil
}

// Get returns the cached value for key, promoting it in the hot tier and
// recording a hit, or records a miss and returns ok=false.
func (e *Engine) Get(key string) ([]byte, bool, error) {
	entry, found, err := e.GetWithMetadata(key)
	if err != nil || !found {
		return nil, false, err
	}
	return entry.Value, true, nil
}

// GetWithMetadata is Get but returns the full Entry, including hit count and
// timestamps, for callers (metrics, dashboard) that need bookkeeping data.
func (e *Engine) GetWithMetadata(key string) (Entry, bool, error) {
	now := time.Now().UTC()

	if entry, ok := e.hot.get(key); ok {
		e.hits.Add(1)
		entry.HitCount++
		entry.LastAccessedAt = now
		e.hot.put(entry)
		if err := e.store.touch(key, now); err != nil {
			log.Warn().Err(err).Str("key", key).Msg("cache: failed to persist hit bookkeeping")
		}
		return entry, true, nil
	}

	entry, found, err := e.store.get(key)
	if err != nil {
		return Entry{}, false, err
	}
	if !found {
		e.misses.Add(1)
		return Entry{}, false, nil
	}

	e.hits.Add(1)
	if err := e.store.touch(key, now); err != nil {
		log.Warn().Err(err).Str("key", key).Msg("cache: failed to persist hit bookkeeping")
	}
	entry.HitCount++
	entry.LastAccessedAt = now
	e.hot.put(entry)
	return entry, true, nil
}

// Delete removes key from both tiers. Returns whether it was present.
func (e *Engine) Delete(key string) (bool, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.hot.remove(key)
	return e.store.delete(key)
}

// Clear empties both tiers. Lifetime hit/miss counters are left untouched,
// matching the teacher's convention that cumulative stats survive a cache
// flush and only reset on process restart.
func (e *Engine) Clear() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.hot.clear()
	return e.store.clear()
}

// GetAllEntries returns every entry in the cache. The persistent tier is
// always a superset of the hot tier, so it is the single source of truth.
func (e *Engine) GetAllEntries() ([]Entry, error) {
	return e.store.all()
}

// GetStats reports tier occupancy and lifetime hit/miss counters (spec
// §4.3 getStats).
func (e *Engine) GetStats() (Stats, error) {
	hotCount, hotBytes := e.hot.stats()
	persistentCount, err := e.store.count()
	if err != nil {
		return Stats{}, err
	}
	persistentBytes, err := e.store.totalBytes()
	if err != nil {
		return Stats{}, err
	}

	return Stats{
		HotTierEntries:         hotCount,
		HotTierBytes:           hotBytes,
		HotTierMaxBytes:        e.hotMaxBytes,
		PersistentTierEntries:  persistentCount,
		PersistentTierBytes:    persistentBytes,
		PersistentTierMaxBytes: e.persistentMaxBytes,
		TotalHits:              e.hits.Load(),
		TotalMisses:            e.misses.Load(),
	}, nil
}

// EvictLRU walks the persistent tier by lastAccessedAt descending (ties by
// key ascending) and keeps each entry while the stored size of the entries
// already kept is below maxBytes, so the last kept entry can take the total
// past maxBytes; maxBytes <= 0 evicts everything. The rest are deleted as a
// single atomic operation, returning the evicted keys. Exposed for operational tooling;
// Set() calls the configured-budget variant internally after every write.
func (e *Engine) EvictLRU(maxBytes int64) ([]string, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	evicted, err := e.store.evictLRUUntil(maxBytes)
	if err != nil {
		return evicted, err
	}
	for _, key := range evicted {
		e.hot.remove(key)
	}
	if len(evicted) > 0 {
		log.Debug().Int("count", len(evicted)).Msg("cache: evicted persistent entries over budget")
	}
	return evicted, nil
}

func (e *Engine) evictPersistentIfOverBudget() error {
	_, err := e.evictPersistentIfOverBudgetLocked()
	return err
}

func (e *Engine) evictPersistentIfOverBudgetLocked() ([]string, error) {
	evicted, err := e.store.evictLRUUntil(e.persistentMaxBytes)
	if err != nil {
		return evicted, err
	}
	for _, key := range evicted {
		e.hot.remove(key)
	}
	if len(evicted) > 0 {
		log.Debug().Int("count", len(evicted)).Msg("cache: evicted persistent entries over budget")
	}
	return evicted, nil
}
