// Package config - defaults.go centralizes magic numbers and default values.
//
// DESIGN: All default values that appear in multiple places should be defined
// here. This makes configuration more maintainable and auditable.
package config

import "time"

// =============================================================================
// TOKEN COUNTER (C1)
// =============================================================================

// DefaultTokenizerModel is the tiktoken encoding used for deterministic counts.
const DefaultTokenizerModel = "cl100k_base"

// DefaultTokenCacheSize is the LRU capacity for cached token counts.
const DefaultTokenCacheSize = 1000

// DefaultTokenCacheTTL is how long a cached count stays valid.
const DefaultTokenCacheTTL = 5 * time.Minute

// =============================================================================
// COMPRESSION (C2) / ADMISSION (C5)
// =============================================================================

// DefaultCompressionQuality is the default Brotli quality level.
// The reference library defaults to 11 but notes 7 as performance-optimal.
const DefaultCompressionQuality = 11

// MinCompressQuality and MaxCompressQuality bound the clamp range.
const (
	MinCompressQuality = 0
	MaxCompressQuality = 11
)

// MinCompressBytes is the admission threshold below which content is always
// stored uncompressed (spec §4.5).
const MinCompressBytes = 500

// RecommendedMinPercentSaved and RecommendedMinBytes gate Codec.Analyze's
// "recommended" verdict.
const (
	RecommendedMinPercentSaved = 10.0
	RecommendedMinBytes        = 500
)

// =============================================================================
// CACHE ENGINE (C4)
// =============================================================================

// DefaultMaxKeyBytes is the maximum allowed cache key length.
const DefaultMaxKeyBytes = 512

// DefaultHotTierMaxBytes is the default in-memory hot-tier budget.
const DefaultHotTierMaxBytes = 64 * 1024 * 1024

// DefaultPersistentMaxBytes is the default on-disk budget before eviction.
const DefaultPersistentMaxBytes = 1 * 1024 * 1024 * 1024

// DefaultCacheDir is the subdirectory (under the process's data dir) holding
// the persistent cache database.
const DefaultCacheDir = "cache"

// =============================================================================
// METRICS (C3)
// =============================================================================

// DefaultMetricsRingSize bounds the operation-record ring buffer.
const DefaultMetricsRingSize = 100_000

// =============================================================================
// SESSION LOG / OPTIMIZER (C6, C7)
// =============================================================================

// DefaultMinTokenThreshold is the minimum token count a file-tool operation
// must have to be considered for post-hoc compression.
const DefaultMinTokenThreshold = 30

// DefaultHooksDataDir is the subdirectory holding per-session CSV/JSONL logs.
const DefaultHooksDataDir = "hooks"

// =============================================================================
// PREDICTIVE CACHE (C8)
// =============================================================================

// DefaultAccessLogCap bounds the global access-pattern log; halved when hit.
const DefaultAccessLogCap = 100_000

// DefaultMinTrainingSamples is the minimum samples required to fit a forecaster.
const DefaultMinTrainingSamples = 10

// =============================================================================
// INVALIDATION (C9)
// =============================================================================

// DefaultCascadeDepth bounds dependency-cascade traversal.
const DefaultCascadeDepth = 10

// DefaultMaxAuditEntries bounds the invalidation audit ring buffer.
const DefaultMaxAuditEntries = 10_000

// DefaultLazyFlushInterval is the lazy-mode processing tick.
const DefaultLazyFlushInterval = 5 * time.Second

// DefaultScheduleTickInterval is the scheduled-invalidation processor tick.
const DefaultScheduleTickInterval = 10 * time.Second

// =============================================================================
// PARTITION ROUTER (C10)
// =============================================================================

// DefaultVirtualNodesPerPartition smooths load across the hash ring.
const DefaultVirtualNodesPerPartition = 150

// =============================================================================
// TOOL HANDLER REGISTRY / DISPATCHER (C11, C12)
// =============================================================================

// DefaultResultCacheTTL is the per-call default for cacheable handler results.
const DefaultResultCacheTTL = 5 * time.Minute

// DefaultCallDeadline bounds a single handler invocation.
const DefaultCallDeadline = 30 * time.Second

// =============================================================================
// LIFECYCLE (C14)
// =============================================================================

// DefaultShutdownGrace bounds how long shutdown waits for in-flight work.
const DefaultShutdownGrace = 5 * time.Second

// =============================================================================
// DASHBOARD (operator introspection surface)
// =============================================================================

// DefaultDashboardAddr is the loopback address the stats HTTP surface binds
// to. Empty Addr in config disables the dashboard entirely.
const DefaultDashboardAddr = "127.0.0.1:9090"
