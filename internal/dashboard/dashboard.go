// Package dashboard exposes cache, metrics, and invalidation state as a
// small local-only JSON debug surface, in the style of the teacher's
// gateway.handleStats (internal/gateway/stats.go): a single GET endpoint,
// restricted to loopback callers, encoding a flat snapshot struct. This is
// not part of the JSON-RPC wire protocol — operators curl it directly.
package dashboard

import (
	"encoding/json"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/compresr/token-optimizer/internal/cache"
	"github.com/compresr/token-optimizer/internal/invalidation"
	"github.com/compresr/token-optimizer/internal/metrics"
	"github.com/compresr/token-optimizer/internal/partition"
)

// Handler serves GET /stats with a snapshot of cache, metrics, invalidation,
// and partition state. Any field whose backing collaborator is nil is
// omitted from the response rather than reported as zero.
type Handler struct {
	Cache       *cache.Engine
	Collector   *metrics.Collector
	Invalidator *invalidation.Engine
	Router      *partition.Router
	startedAt   time.Time
}

// New constructs a Handler. Collaborators left nil are simply skipped when
// the snapshot is built.
func New(c *cache.Engine, coll *metrics.Collector, inv *invalidation.Engine, r *partition.Router) *Handler {
	return &Handler{Cache: c, Collector: coll, Invalidator: inv, Router: r, startedAt: time.Now()}
}

// snapshot is the JSON response shape for GET /stats.
type snapshot struct {
	Uptime string `json:"uptime"`

	Cache *struct {
		HotTierEntries        int    `json:"hot_tier_entries"`
		HotTierUsage          string `json:"hot_tier_usage"`
		PersistentTierEntries int    `json:"persistent_tier_entries"`
		PersistentTierUsage   string `json:"persistent_tier_usage"`
		TotalHits             int64  `json:"total_hits"`
		TotalMisses           int64  `json:"total_misses"`
	} `json:"cache,omitempty"`

	Operations *struct {
		P50Ms      float64 `json:"p50_ms"`
		P95Ms      float64 `json:"p95_ms"`
		P99Ms      float64 `json:"p99_ms"`
		HitRatePct float64 `json:"hit_rate_pct"`
	} `json:"operations,omitempty"`

	Invalidation *struct {
		RecentAuditEntries int `json:"recent_audit_entries"`
		ScheduledJobs      int `json:"scheduled_jobs"`
	} `json:"invalidation,omitempty"`

	Partitions *struct {
		Count          int      `json:"count"`
		MeanKeyCount   float64  `json:"mean_key_count"`
		HotPartitions  []string `json:"hot_partitions"`
	} `json:"partitions,omitempty"`
}

// ServeHTTP implements http.Handler. Only loopback callers are served; every
// other remote address gets 403, matching the teacher's handleStats guard.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if !isLoopback(r.RemoteAddr) {
		http.Error(w, "forbidden", http.StatusForbidden)
		return
	}

	var snap snapshot
	snap.Uptime = time.Since(h.startedAt).Truncate(time.Second).String()

	if h.Cache != nil {
		if stats, err := h.Cache.GetStats(); err == nil {
			snap.Cache = &struct {
				HotTierEntries        int    `json:"hot_tier_entries"`
				HotTierUsage          string `json:"hot_tier_usage"`
				PersistentTierEntries int    `json:"persistent_tier_entries"`
				PersistentTierUsage   string `json:"persistent_tier_usage"`
				TotalHits             int64  `json:"total_hits"`
				TotalMisses           int64  `json:"total_misses"`
			}{
				HotTierEntries:        stats.HotTierEntries,
				HotTierUsage:          humanize.Bytes(uint64(stats.HotTierBytes)) + " / " + humanize.Bytes(uint64(stats.HotTierMaxBytes)),
				PersistentTierEntries: stats.PersistentTierEntries,
				PersistentTierUsage:   humanize.Bytes(uint64(stats.PersistentTierBytes)) + " / " + humanize.Bytes(uint64(stats.PersistentTierMaxBytes)),
				TotalHits:             stats.TotalHits,
				TotalMisses:           stats.TotalMisses,
			}
		}
	}

	if h.Collector != nil {
		pct := h.Collector.GetPerformancePercentiles(time.Time{})
		cs := h.Collector.GetCacheStats(time.Time{})
		snap.Operations = &struct {
			P50Ms      float64 `json:"p50_ms"`
			P95Ms      float64 `json:"p95_ms"`
			P99Ms      float64 `json:"p99_ms"`
			HitRatePct float64 `json:"hit_rate_pct"`
		}{
			P50Ms:      float64(pct.P50.Microseconds()) / 1000,
			P95Ms:      float64(pct.P95.Microseconds()) / 1000,
			P99Ms:      float64(pct.P99.Microseconds()) / 1000,
			HitRatePct: cs.HitRate() * 100,
		}
	}

	if h.Invalidator != nil {
		snap.Invalidation = &struct {
			RecentAuditEntries int `json:"recent_audit_entries"`
			ScheduledJobs      int `json:"scheduled_jobs"`
		}{
			RecentAuditEntries: len(h.Invalidator.Audit()),
			ScheduledJobs:      len(h.Invalidator.ListScheduled()),
		}
	}

	if h.Router != nil {
		stats := h.Router.Stats()
		snap.Partitions = &struct {
			Count         int      `json:"count"`
			MeanKeyCount  float64  `json:"mean_key_count"`
			HotPartitions []string `json:"hot_partitions"`
		}{
			Count:         len(stats.Partitions),
			MeanKeyCount:  stats.MeanKeyCount,
			HotPartitions: stats.HotPartitions,
		}
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(snap)
}

// isLoopback reports whether remoteAddr (as seen on an *http.Request) names
// a loopback address, tolerating the "host:port" form net/http always uses.
func isLoopback(remoteAddr string) bool {
	host := remoteAddr
	if h, _, err := net.SplitHostPort(remoteAddr); err == nil {
		host = h
	}
	if host == "" {
		return false
	}
	if ip := net.ParseIP(host); ip != nil {
		return ip.IsLoopback()
	}
	return strings.EqualFold(host, "localhost")
}
