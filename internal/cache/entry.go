// Package cache implements C4: the two-tier content-addressed cache engine.
// A bounded in-memory hot tier backs a persistent, on-disk tier; inserts and
// updates are atomic per key, and eviction is LRU-by-size against a
// configured byte budget per tier.
package cache

import "time"

// Entry is a single cached value plus its bookkeeping metadata. Value holds
// either the plaintext bytes or, when Compressed is true, the Brotli
// representation; the admission layer (internal/admission) is responsible
// for enforcing that a compressed representation is never stored unless it
// is smaller than the plaintext.
type Entry struct {
	Key             string
	Value           []byte
	Compressed      bool
	OriginalBytes   int
	StoredBytes     int
	CreatedAt       time.Time
	UpdatedAt       time.Time
	LastAccessedAt  time.Time
	HitCount        int64
}

// Size is the number of bytes this entry occupies against a tier's budget.
func (e Entry) Size() int64 {
	return int64(e.StoredBytes)
}

// Stats summarizes the cache engine's current state (spec §4.3 getStats).
type Stats struct {
	HotTierEntries        int
	HotTierBytes          int64
	HotTierMaxBytes        int64
	PersistentTierEntries int
	PersistentTierBytes   int64
	PersistentTierMaxBytes int64
	TotalHits             int64
	TotalMisses           int64
}
