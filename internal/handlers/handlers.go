// Package handlers wires the tool operations named throughout spec §4 up
// to the C11 registry: optimize_text and get_cached (scenarios A/B/C),
// session optimization (C7), cache introspection (C4), invalidation (C9),
// predictive cache control (C8), partition routing (C10), and read-only
// metrics introspection (C3). No schema-only stub handlers are registered.
// A handler whose collaborator in Deps is nil is still registered, and its
// Load returns Unavailable, so list_tools still advertises its schema.
package handlers

import (
	"context"
	"time"

	"github.com/compresr/token-optimizer/internal/admission"
	"github.com/compresr/token-optimizer/internal/apperrors"
	"github.com/compresr/token-optimizer/internal/cache"
	"github.com/compresr/token-optimizer/internal/invalidation"
	"github.com/compresr/token-optimizer/internal/metrics"
	"github.com/compresr/token-optimizer/internal/partition"
	"github.com/compresr/token-optimizer/internal/predictive"
	"github.com/compresr/token-optimizer/internal/registry"
	"github.com/compresr/token-optimizer/internal/sessionopt"
)

func stringsArg(args map[string]any, name string) []string {
	raw, _ := args[name].([]any)
	out := make([]string, 0, len(raw))
	for _, v := range raw {
		if s, ok := v.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

// Deps bundles every collaborator a handler might need. Handlers close
// over the fields they require; the rest stay nil in tests that only
// exercise one handler family.
type Deps struct {
	Admission   *admission.Admission
	Cache       *cache.Engine
	SessionOpt  *sessionopt.Optimizer
	Invalidator *invalidation.Engine
	Predictive  *predictive.Cache
	Router      *partition.Router
	Collector   *metrics.Collector
}

// Register adds every built-in tool handler to reg.
func Register(reg *registry.Registry, d Deps) {
	registerOptimize(reg, d)
	registerSession(reg, d)
	registerCache(reg, d)
	registerInvalidation(reg, d)
	registerPredictive(reg, d)
	registerPartition(reg, d)
	registerMetrics(reg, d)
}

// sinceTimestampArg parses the optional "sinceTimestamp" argument (RFC3339,
// per spec §4.3's getOperations(sinceTimestamp?) family) into a time.Time. A
// missing or empty argument means "all time" and yields the zero Time.
func sinceTimestampArg(args map[string]any) (time.Time, error) {
	raw, _ := args["sinceTimestamp"].(string)
	if raw == "" {
		return time.Time{}, nil
	}
	ts, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return time.Time{}, apperrors.InvalidArgument("sinceTimestamp must be RFC3339: %v", err)
	}
	return ts, nil
}

func registerMetrics(reg *registry.Registry, d Deps) {
	sinceTimestampSchema := registry.Schema{
		Type: "object",
		Properties: map[string]registry.Property{
			"sinceTimestamp": {Type: "string"},
		},
	}

	reg.Register(registry.Definition{
		Name:        "get_operations",
		Description: "Return every operation record recorded at or after sinceTimestamp (all time if omitted).",
		Schema:      sinceTimestampSchema,
		Load: func() (registry.HandlerFunc, error) {
			if d.Collector == nil {
				return nil, apperrors.Unavailable("metrics collector not configured")
			}
			return func(ctx context.Context, args map[string]any) (any, error) {
				since, err := sinceTimestampArg(args)
				if err != nil {
					return nil, err
				}
				return map[string]any{"operations": d.Collector.GetOperations(since)}, nil
			}, nil
		},
	})

	reg.Register(registry.Definition{
		Name:        "get_cache_hit_rate",
		Description: "Report cache hit/miss counts, hit rate, total operations, and average duration at or after sinceTimestamp.",
		Schema:      sinceTimestampSchema,
		Cacheable:   true,
		CacheTTL:    5 * time.Second,
		Load: func() (registry.HandlerFunc, error) {
			if d.Collector == nil {
				return nil, apperrors.Unavailable("metrics collector not configured")
			}
			return func(ctx context.Context, args map[string]any) (any, error) {
				since, err := sinceTimestampArg(args)
				if err != nil {
					return nil, err
				}
				stats := d.Collector.GetCacheStats(since)
				return map[string]any{
					"totalOperations": stats.TotalOperations,
					"hits":            stats.Hits,
					"misses":          stats.Misses,
					"hitRate":         stats.HitRate(),
					"averageDuration": stats.AverageDuration,
				}, nil
			}, nil
		},
	})

	reg.Register(registry.Definition{
		Name:        "get_performance_percentiles",
		Description: "Compute p50/p95/p99 operation latency at or after sinceTimestamp.",
		Schema:      sinceTimestampSchema,
		Load: func() (registry.HandlerFunc, error) {
			if d.Collector == nil {
				return nil, apperrors.Unavailable("metrics collector not configured")
			}
			return func(ctx context.Context, args map[string]any) (any, error) {
				since, err := sinceTimestampArg(args)
				if err != nil {
					return nil, err
				}
				return d.Collector.GetPerformancePercentiles(since), nil
			}, nil
		},
	})
}

func registerOptimize(reg *registry.Registry, d Deps) {
	reg.Register(registry.Definition{
		Name:        "optimize_text",
		Description: "Store content under key, compressing it when the admission invariant allows, and report the decision.",
		Schema: registry.Schema{
			Type:     "object",
			Required: []string{"key", "content"},
			Properties: map[string]registry.Property{
				"key":     {Type: "string", Description: "cache key"},
				"content": {Type: "string", Description: "plaintext content to optimize"},
			},
		},
		Load: func() (registry.HandlerFunc, error) {
			if d.Admission == nil {
				return nil, apperrors.Unavailable("admission layer not configured")
			}
			return func(ctx context.Context, args map[string]any) (any, error) {
				key, _ := args["key"].(string)
				content, _ := args["content"].(string)
				result, err := d.Admission.Optimize(ctx, key, []byte(content))
				if err != nil {
					return nil, err
				}
				return result, nil
			}, nil
		},
	})

	reg.Register(registry.Definition{
		Name:        "get_cached",
		Description: "Fetch a previously optimized value by key, transparently decompressing it.",
		Schema: registry.Schema{
			Type:     "object",
			Required: []string{"key"},
			Properties: map[string]registry.Property{
				"key": {Type: "string"},
			},
		},
		Load: func() (registry.HandlerFunc, error) {
			if d.Admission == nil {
				return nil, apperrors.Unavailable("admission layer not configured")
			}
			return func(ctx context.Context, args map[string]any) (any, error) {
				key, _ := args["key"].(string)
				raw, ok, err := d.Admission.Fetch(ctx, key)
				if err != nil {
					return nil, err
				}
				if !ok {
					return nil, apperrors.NotFound("no cached value for key %q", key)
				}
				return map[string]any{"content": string(raw)}, nil
			}, nil
		},
	})
}

func registerSession(reg *registry.Registry, d Deps) {
	reg.Register(registry.Definition{
		Name:        "optimize_session",
		Description: "Scan a session's recorded tool operations and compress the file contents that qualify.",
		Schema: registry.Schema{
			Type: "object",
			Properties: map[string]registry.Property{
				"sessionId":         {Type: "string", Description: "defaults to the current session pointer when omitted"},
				"minTokenThreshold": {Type: "number"},
			},
		},
		Load: func() (registry.HandlerFunc, error) {
			if d.SessionOpt == nil {
				return nil, apperrors.Unavailable("session optimizer not configured")
			}
			return func(ctx context.Context, args map[string]any) (any, error) {
				sessionID, _ := args["sessionId"].(string)
				threshold := 30
				if n, ok := args["minTokenThreshold"].(float64); ok {
					threshold = int(n)
				}
				return d.SessionOpt.OptimizeSession(ctx, sessionID, threshold)
			}, nil
		},
	})
}

func registerCache(reg *registry.Registry, d Deps) {
	reg.Register(registry.Definition{
		Name:        "cache_stats",
		Description: "Report hot/persistent tier occupancy and hit/miss counters.",
		Schema:      registry.Schema{Type: "object"},
		Cacheable:   true,
		CacheTTL:    10 * time.Second,
		Load: func() (registry.HandlerFunc, error) {
			if d.Cache == nil {
				return nil, apperrors.Unavailable("cache engine not configured")
			}
			return func(ctx context.Context, args map[string]any) (any, error) {
				return d.Cache.GetStats()
			}, nil
		},
	})

	reg.Register(registry.Definition{
		Name:        "cache_clear",
		Description: "Delete every cache entry across both tiers.",
		Schema:      registry.Schema{Type: "object"},
		Load: func() (registry.HandlerFunc, error) {
			if d.Cache == nil {
				return nil, apperrors.Unavailable("cache engine not configured")
			}
			return func(ctx context.Context, args map[string]any) (any, error) {
				if err := d.Cache.Clear(); err != nil {
					return nil, err
				}
				return map[string]any{"cleared": true}, nil
			}, nil
		},
	})
}

func registerInvalidation(reg *registry.Registry, d Deps) {
	reg.Register(registry.Definition{
		Name:        "invalidate_keys",
		Description: "Invalidate one or more cache keys directly.",
		Schema: registry.Schema{
			Type:     "object",
			Required: []string{"keys"},
			Properties: map[string]registry.Property{
				"keys": {Type: "array"},
			},
		},
		Load: func() (registry.HandlerFunc, error) {
			if d.Invalidator == nil {
				return nil, apperrors.Unavailable("invalidation engine not configured")
			}
			return func(ctx context.Context, args map[string]any) (any, error) {
				record, err := d.Invalidator.Invalidate(stringsArg(args, "keys")...)
				if err != nil {
					return nil, err
				}
				return record, nil
			}, nil
		},
	})

	reg.Register(registry.Definition{
		Name:        "invalidate_pattern",
		Description: "Invalidate every key matching a glob pattern.",
		Schema: registry.Schema{
			Type:     "object",
			Required: []string{"pattern"},
			Properties: map[string]registry.Property{
				"pattern": {Type: "string"},
			},
		},
		Load: func() (registry.HandlerFunc, error) {
			if d.Invalidator == nil {
				return nil, apperrors.Unavailable("invalidation engine not configured")
			}
			return func(ctx context.Context, args map[string]any) (any, error) {
				pattern, _ := args["pattern"].(string)
				record, err := d.Invalidator.InvalidatePattern(pattern)
				if err != nil {
					return nil, err
				}
				return record, nil
			}, nil
		},
	})

	reg.Register(registry.Definition{
		Name:        "invalidate_dependency",
		Description: "Cascade-invalidate a key and its dependents, bounded by depth.",
		Schema: registry.Schema{
			Type:     "object",
			Required: []string{"rootKey"},
			Properties: map[string]registry.Property{
				"rootKey": {Type: "string"},
				"depth":   {Type: "number"},
			},
		},
		Load: func() (registry.HandlerFunc, error) {
			if d.Invalidator == nil {
				return nil, apperrors.Unavailable("invalidation engine not configured")
			}
			return func(ctx context.Context, args map[string]any) (any, error) {
				rootKey, _ := args["rootKey"].(string)
				depth := 10
				if n, ok := args["depth"].(float64); ok {
					depth = int(n)
				}
				record, err := d.Invalidator.InvalidateDependency(rootKey, depth)
				if err != nil {
					return nil, err
				}
				return record, nil
			}, nil
		},
	})

	reg.Register(registry.Definition{
		Name:        "invalidate_tag",
		Description: "Invalidate every key carrying one or more dependency tags.",
		Schema: registry.Schema{
			Type:     "object",
			Required: []string{"tags"},
			Properties: map[string]registry.Property{
				"tags": {Type: "array"},
			},
		},
		Load: func() (registry.HandlerFunc, error) {
			if d.Invalidator == nil {
				return nil, apperrors.Unavailable("invalidation engine not configured")
			}
			return func(ctx context.Context, args map[string]any) (any, error) {
				record, err := d.Invalidator.InvalidateTag(stringsArg(args, "tags")...)
				if err != nil {
					return nil, err
				}
				return record, nil
			}, nil
		},
	})

	reg.Register(registry.Definition{
		Name:        "set_dependency",
		Description: "Register parent->children dependency edges, optionally tagged.",
		Schema: registry.Schema{
			Type:     "object",
			Required: []string{"parent", "children"},
			Properties: map[string]registry.Property{
				"parent":   {Type: "string"},
				"children": {Type: "array"},
				"tag":      {Type: "string"},
			},
		},
		Load: func() (registry.HandlerFunc, error) {
			if d.Invalidator == nil {
				return nil, apperrors.Unavailable("invalidation engine not configured")
			}
			return func(ctx context.Context, args map[string]any) (any, error) {
				parent, _ := args["parent"].(string)
				tag, _ := args["tag"].(string)
				d.Invalidator.SetDependency(parent, stringsArg(args, "children"), tag)
				return map[string]any{"ok": true}, nil
			}, nil
		},
	})

	reg.Register(registry.Definition{
		Name:        "remove_dependency",
		Description: "Remove parent->children dependency edges.",
		Schema: registry.Schema{
			Type:     "object",
			Required: []string{"parent", "children"},
			Properties: map[string]registry.Property{
				"parent":   {Type: "string"},
				"children": {Type: "array"},
			},
		},
		Load: func() (registry.HandlerFunc, error) {
			if d.Invalidator == nil {
				return nil, apperrors.Unavailable("invalidation engine not configured")
			}
			return func(ctx context.Context, args map[string]any) (any, error) {
				parent, _ := args["parent"].(string)
				d.Invalidator.RemoveDependency(parent, stringsArg(args, "children"))
				return map[string]any{"ok": true}, nil
			}, nil
		},
	})

	reg.Register(registry.Definition{
		Name:        "schedule_invalidation",
		Description: "Schedule a one-shot or recurring invalidation job.",
		Schema: registry.Schema{
			Type:     "object",
			Required: []string{"executeAt"},
			Properties: map[string]registry.Property{
				"executeAt":             {Type: "string", Description: "RFC3339 timestamp"},
				"repeatIntervalSeconds": {Type: "number"},
				"keys":                  {Type: "array"},
				"pattern":               {Type: "string"},
				"tags":                  {Type: "array"},
			},
		},
		Load: func() (registry.HandlerFunc, error) {
			if d.Invalidator == nil {
				return nil, apperrors.Unavailable("invalidation engine not configured")
			}
			return func(ctx context.Context, args map[string]any) (any, error) {
				ts, _ := args["executeAt"].(string)
				executeAt, err := time.Parse(time.RFC3339, ts)
				if err != nil {
					return nil, apperrors.InvalidArgument("invalid executeAt: %v", err)
				}
				var repeat *time.Duration
				if n, ok := args["repeatIntervalSeconds"].(float64); ok && n > 0 {
					rp := time.Duration(n) * time.Second
					repeat = &rp
				}
				pattern, _ := args["pattern"].(string)
				id, err := d.Invalidator.ScheduleInvalidation(executeAt, repeat, stringsArg(args, "keys"), pattern, stringsArg(args, "tags"))
				if err != nil {
					return nil, err
				}
				return map[string]any{"scheduleId": id}, nil
			}, nil
		},
	})

	reg.Register(registry.Definition{
		Name:        "cancel_scheduled",
		Description: "Cancel a pending scheduled invalidation job by id.",
		Schema: registry.Schema{
			Type:     "object",
			Required: []string{"id"},
			Properties: map[string]registry.Property{
				"id": {Type: "string"},
			},
		},
		Load: func() (registry.HandlerFunc, error) {
			if d.Invalidator == nil {
				return nil, apperrors.Unavailable("invalidation engine not configured")
			}
			return func(ctx context.Context, args map[string]any) (any, error) {
				id, _ := args["id"].(string)
				d.Invalidator.CancelScheduled(id)
				return map[string]any{"ok": true}, nil
			}, nil
		},
	})

	reg.Register(registry.Definition{
		Name:        "validate_keys",
		Description: "Report per-key cache validity, optionally skipping already-expired entries.",
		Schema: registry.Schema{
			Type: "object",
			Properties: map[string]registry.Property{
				"keys":        {Type: "array"},
				"skipExpired": {Type: "boolean"},
			},
		},
		Load: func() (registry.HandlerFunc, error) {
			if d.Invalidator == nil {
				return nil, apperrors.Unavailable("invalidation engine not configured")
			}
			return func(ctx context.Context, args map[string]any) (any, error) {
				skipExpired, _ := args["skipExpired"].(bool)
				validity, err := d.Invalidator.Validate(stringsArg(args, "keys"), skipExpired)
				if err != nil {
					return nil, err
				}
				return map[string]any{"validity": validity}, nil
			}, nil
		},
	})

	reg.Register(registry.Definition{
		Name:        "clear_audit",
		Description: "Clear the invalidation audit log.",
		Schema:      registry.Schema{Type: "object"},
		Load: func() (registry.HandlerFunc, error) {
			if d.Invalidator == nil {
				return nil, apperrors.Unavailable("invalidation engine not configured")
			}
			return func(ctx context.Context, args map[string]any) (any, error) {
				d.Invalidator.ClearAudit()
				return map[string]any{"ok": true}, nil
			}, nil
		},
	})

	reg.Register(registry.Definition{
		Name:        "invalidation_stats",
		Description: "Report invalidation audit size, scheduled-job count, and the active strategy/mode.",
		Schema:      registry.Schema{Type: "object"},
		Cacheable:   true,
		CacheTTL:    10 * time.Second,
		Load: func() (registry.HandlerFunc, error) {
			if d.Invalidator == nil {
				return nil, apperrors.Unavailable("invalidation engine not configured")
			}
			return func(ctx context.Context, args map[string]any) (any, error) {
				return d.Invalidator.Stats(), nil
			}, nil
		},
	})

	reg.Register(registry.Definition{
		Name:        "invalidation_configure",
		Description: "Change the invalidation engine's active strategy, mode, and audit settings.",
		Schema: registry.Schema{
			Type:     "object",
			Required: []string{"strategy", "mode"},
			Properties: map[string]registry.Property{
				"strategy": {Type: "string", Enum: []string{
					"immediate", "lazy", "write-through", "ttl-based", "event-driven", "dependency-cascade",
				}},
				"mode":            {Type: "string", Enum: []string{"eager", "lazy", "scheduled"}},
				"enableAudit":     {Type: "boolean"},
				"maxAuditEntries": {Type: "number"},
			},
		},
		Load: func() (registry.HandlerFunc, error) {
			if d.Invalidator == nil {
				return nil, apperrors.Unavailable("invalidation engine not configured")
			}
			return func(ctx context.Context, args map[string]any) (any, error) {
				strategy, _ := args["strategy"].(string)
				mode, _ := args["mode"].(string)
				enableAudit, _ := args["enableAudit"].(bool)
				maxAuditEntries := 1000
				if n, ok := args["maxAuditEntries"].(float64); ok {
					maxAuditEntries = int(n)
				}
				d.Invalidator.Configure(invalidation.Strategy(strategy), invalidation.Mode(mode), enableAudit, maxAuditEntries)
				return map[string]any{"ok": true}, nil
			}, nil
		},
	})
}

func registerPredictive(reg *registry.Registry, d Deps) {
	reg.Register(registry.Definition{
		Name:        "predict_next_access",
		Description: "Return the predictive cache's forecast of keys likely to be accessed within a time horizon.",
		Schema: registry.Schema{
			Type: "object",
			Properties: map[string]registry.Property{
				"horizonSeconds": {Type: "number"},
				"minConfidence":  {Type: "number"},
				"maxResults":     {Type: "number"},
			},
		},
		Load: func() (registry.HandlerFunc, error) {
			if d.Predictive == nil {
				return nil, apperrors.Unavailable("predictive cache not configured")
			}
			return func(ctx context.Context, args map[string]any) (any, error) {
				horizon := 300.0
				if n, ok := args["horizonSeconds"].(float64); ok {
					horizon = n
				}
				minConfidence := 0.5
				if n, ok := args["minConfidence"].(float64); ok {
					minConfidence = n
				}
				maxResults := 10
				if n, ok := args["maxResults"].(float64); ok {
					maxResults = int(n)
				}
				return d.Predictive.Predict(horizon, minConfidence, maxResults), nil
			}, nil
		},
	})
}

func registerPartition(reg *registry.Registry, d Deps) {
	reg.Register(registry.Definition{
		Name:        "route_query",
		Description: "Return the ordered set of partitions owning a key, for replicationFactor replicas.",
		Schema: registry.Schema{
			Type:     "object",
			Required: []string{"key"},
			Properties: map[string]registry.Property{
				"key":               {Type: "string"},
				"replicationFactor": {Type: "number"},
			},
		},
		Load: func() (registry.HandlerFunc, error) {
			if d.Router == nil {
				return nil, apperrors.Unavailable("partition router not configured")
			}
			return func(ctx context.Context, args map[string]any) (any, error) {
				key, _ := args["key"].(string)
				replicas := 1
				if n, ok := args["replicationFactor"].(float64); ok {
					replicas = int(n)
				}
				owners, err := d.Router.RouteQuery(key, replicas)
				if err != nil {
					return nil, err
				}
				return map[string]any{"partitions": owners}, nil
			}, nil
		},
	})

	reg.Register(registry.Definition{
		Name:        "partition_stats",
		Description: "Report per-partition load and flag hot partitions.",
		Schema:      registry.Schema{Type: "object"},
		Cacheable:   true,
		CacheTTL:    10 * time.Second,
		Load: func() (registry.HandlerFunc, error) {
			if d.Router == nil {
				return nil, apperrors.Unavailable("partition router not configured")
			}
			return func(ctx context.Context, args map[string]any) (any, error) {
				return d.Router.Stats(), nil
			}, nil
		},
	})

	reg.Register(registry.Definition{
		Name:        "create_partition",
		Description: "Register a new partition and add its virtual nodes to the hash ring.",
		Schema: registry.Schema{
			Type:     "object",
			Required: []string{"id", "strategy"},
			Properties: map[string]registry.Property{
				"id":       {Type: "string"},
				"strategy": {Type: "string"},
			},
		},
		Load: func() (registry.HandlerFunc, error) {
			if d.Router == nil {
				return nil, apperrors.Unavailable("partition router not configured")
			}
			return func(ctx context.Context, args map[string]any) (any, error) {
				id, _ := args["id"].(string)
				strategy, _ := args["strategy"].(string)
				return d.Router.CreatePartition(id, strategy)
			}, nil
		},
	})

	reg.Register(registry.Definition{
		Name:        "delete_partition",
		Description: "Remove a partition and its virtual nodes from the hash ring.",
		Schema: registry.Schema{
			Type:     "object",
			Required: []string{"id"},
			Properties: map[string]registry.Property{
				"id": {Type: "string"},
			},
		},
		Load: func() (registry.HandlerFunc, error) {
			if d.Router == nil {
				return nil, apperrors.Unavailable("partition router not configured")
			}
			return func(ctx context.Context, args map[string]any) (any, error) {
				id, _ := args["id"].(string)
				if err := d.Router.DeletePartition(id); err != nil {
					return nil, err
				}
				return map[string]any{"ok": true}, nil
			}, nil
		},
	})

	reg.Register(registry.Definition{
		Name:        "migrate_keys",
		Description: "Move keys matching a pattern from one partition to another.",
		Schema: registry.Schema{
			Type:     "object",
			Required: []string{"source", "target"},
			Properties: map[string]registry.Property{
				"source":     {Type: "string"},
				"target":     {Type: "string"},
				"keyPattern": {Type: "string"},
			},
		},
		Load: func() (registry.HandlerFunc, error) {
			if d.Router == nil {
				return nil, apperrors.Unavailable("partition router not configured")
			}
			return func(ctx context.Context, args map[string]any) (any, error) {
				source, _ := args["source"].(string)
				target, _ := args["target"].(string)
				keyPattern, _ := args["keyPattern"].(string)
				n, err := d.Router.Migrate(source, target, keyPattern)
				if err != nil {
					return nil, err
				}
				return map[string]any{"migrated": n}, nil
			}, nil
		},
	})

	reg.Register(registry.Definition{
		Name:        "split_partition",
		Description: "Split a hot partition into targetCount new partitions, redistributing its keys.",
		Schema: registry.Schema{
			Type:     "object",
			Required: []string{"hotId", "targetCount"},
			Properties: map[string]registry.Property{
				"hotId":       {Type: "string"},
				"targetCount": {Type: "number"},
			},
		},
		Load: func() (registry.HandlerFunc, error) {
			if d.Router == nil {
				return nil, apperrors.Unavailable("partition router not configured")
			}
			return func(ctx context.Context, args map[string]any) (any, error) {
				hotID, _ := args["hotId"].(string)
				targetCount := 2
				if n, ok := args["targetCount"].(float64); ok {
					targetCount = int(n)
				}
				ids, err := d.Router.SplitPartition(hotID, targetCount)
				if err != nil {
					return nil, err
				}
				return map[string]any{"partitionIds": ids}, nil
			}, nil
		},
	})

	reg.Register(registry.Definition{
		Name:        "rebalance_partitions",
		Description: "Plan and execute greedy migrations from overloaded to underloaded partitions toward a target distribution.",
		Schema: registry.Schema{
			Type:     "object",
			Required: []string{"target"},
			Properties: map[string]registry.Property{
				"target":        {Type: "string", Enum: []string{"even", "weighted", "capacity-based"}},
				"maxMigrations": {Type: "number"},
			},
		},
		Load: func() (registry.HandlerFunc, error) {
			if d.Router == nil {
				return nil, apperrors.Unavailable("partition router not configured")
			}
			return func(ctx context.Context, args map[string]any) (any, error) {
				target, _ := args["target"].(string)
				maxMigrations := 100
				if n, ok := args["maxMigrations"].(float64); ok {
					maxMigrations = int(n)
				}
				plans, err := d.Router.Rebalance(partition.DistributionTarget(target), maxMigrations)
				if err != nil {
					return nil, err
				}
				return map[string]any{"migrations": len(plans), "plans": plans}, nil
			}, nil
		},
	})

	reg.Register(registry.Definition{
		Name:        "merge_partitions",
		Description: "Merge several partitions' keys into a single target partition.",
		Schema: registry.Schema{
			Type:     "object",
			Required: []string{"ids", "targetId"},
			Properties: map[string]registry.Property{
				"ids":      {Type: "array"},
				"targetId": {Type: "string"},
			},
		},
		Load: func() (registry.HandlerFunc, error) {
			if d.Router == nil {
				return nil, apperrors.Unavailable("partition router not configured")
			}
			return func(ctx context.Context, args map[string]any) (any, error) {
				targetID, _ := args["targetId"].(string)
				if err := d.Router.MergePartitions(stringsArg(args, "ids"), targetID); err != nil {
					return nil, err
				}
				return map[string]any{"ok": true}, nil
			}, nil
		},
	})
}
