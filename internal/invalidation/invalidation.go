// Package invalidation implements C9: key/pattern/tag/dependency-cascade
// cache invalidation, a scheduled-job processor, a lazy-mode flush queue,
// and an append-only audit ring buffer.
//
// DESIGN: dependency edges are stored twice (parent-owned children, child-
// owned parents) and traversed with a visited set so cyclic graphs
// terminate; no node is ever shared by reference, only by key string (spec
// §9). The bookkeeping maps and the invalidation counter are guarded by one
// sync.RWMutex, the same concurrency idiom C8 uses (see DESIGN.md).
package invalidation

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/compresr/token-optimizer/internal/apperrors"
	"github.com/compresr/token-optimizer/internal/cache"
	"github.com/compresr/token-optimizer/internal/utils"
)

// Strategy names the invalidation strategy in effect (advisory; Configure
// records it for Stats/audit, actual behavior is driven by which operation
// is called).
type Strategy string

const (
	StrategyImmediate          Strategy = "immediate"
	StrategyLazy               Strategy = "lazy"
	StrategyWriteThrough       Strategy = "write-through"
	StrategyTTLBased           Strategy = "ttl-based"
	StrategyEventDriven        Strategy = "event-driven"
	StrategyDependencyCascade  Strategy = "dependency-cascade"
)

// Mode controls when enqueued invalidations are actually applied.
type Mode string

const (
	ModeEager     Mode = "eager"
	ModeLazy      Mode = "lazy"
	ModeScheduled Mode = "scheduled"
)

// DependencyNode is one node in the invalidation dependency DAG (spec §3).
type DependencyNode struct {
	Key             string
	Parents         map[string]bool
	Children        map[string]bool
	Tags            map[string]bool
	CreatedAt       time.Time
	LastInvalidated time.Time
}

// InvalidationRecord is one append-only audit row (spec §3).
type InvalidationRecord struct {
	ID              string
	Timestamp       time.Time
	Strategy        Strategy
	AffectedKeys    []string
	Reason          string
	Metadata        map[string]string
	ExecutionTimeMs int64
}

// ScheduledInvalidation is one pending/recurring scheduled job (spec §3).
type ScheduledInvalidation struct {
	ID             string
	Keys           []string
	Pattern        string
	Tags           []string
	ExecuteAt      time.Time
	RepeatInterval *time.Duration
	ExecutionCount int
	LastExecuted   time.Time
}

// CacheStore is the subset of cache.Engine the invalidation engine needs:
// delete keys it decides to invalidate, and enumerate keys for pattern/tag
// matching.
type CacheStore interface {
	Delete(key string) (bool, error)
	GetAllEntries() ([]cache.Entry, error)
}

// Stats summarizes the engine's current state.
type Stats struct {
	Strategy           Strategy
	Mode               Mode
	DependencyNodes    int
	ScheduledJobs      int
	AuditEntries       int
	LazyQueueDepth     int
	TotalInvalidations int64
}

// Engine is the invalidation engine: process-wide, safe for concurrent use.
type Engine struct {
	store CacheStore

	mu       sync.RWMutex
	strategy Strategy
	mode     Mode

	nodes map[string]*DependencyNode

	scheduled map[string]*ScheduledInvalidation

	enableAudit     bool
	maxAuditEntries int
	audit           []InvalidationRecord

	lazyQueue map[string]bool

	total int64

	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// New constructs an Engine against store, defaulting to immediate strategy
// and eager mode with audit enabled.
func New(store CacheStore, maxAuditEntries int) *Engine {
	if maxAuditEntries <= 0 {
		maxAuditEntries = 10_000
	}
	return &Engine{
		store:           store,
		strategy:        StrategyImmediate,
		mode:            ModeEager,
		nodes:           make(map[string]*DependencyNode),
		scheduled:       make(map[string]*ScheduledInvalidation),
		enableAudit:     true,
		maxAuditEntries: maxAuditEntries,
		lazyQueue:       make(map[string]bool),
		stopCh:          make(chan struct{}),
	}
}

// Configure updates the active strategy/mode and audit settings.
func (e *Engine) Configure(strategy Strategy, mode Mode, enableAudit bool, maxAuditEntries int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.strategy = strategy
	e.mode = mode
	e.enableAudit = enableAudit
	if maxAuditEntries > 0 {
		e.maxAuditEntries = maxAuditEntries
		if len(e.audit) > maxAuditEntries {
			e.audit = e.audit[len(e.audit)-maxAuditEntries:]
		}
	}
}

// Start launches the lazy-flush and scheduled-job background ticks. Safe to
// call once; the Lifecycle Manager calls Stop on shutdown.
func (e *Engine) Start(lazyInterval, scheduleInterval time.Duration) {
	e.wg.Add(2)
	go e.runLazyFlush(lazyInterval)
	go e.runScheduleProcessor(scheduleInterval)
}

// Stop signals both background loops and waits for them to exit. Idempotent.
func (e *Engine) Stop() {
	e.stopOnce.Do(func() { close(e.stopCh) })
	e.wg.Wait()
}

func (e *Engine) runLazyFlush(interval time.Duration) {
	defer e.wg.Done()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-e.stopCh:
			return
		case <-ticker.C:
			e.flushLazyQueue()
		}
	}
}

func (e *Engine) flushLazyQueue() {
	e.mu.Lock()
	if len(e.lazyQueue) == 0 {
		e.mu.Unlock()
		return
	}
	keys := make([]string, 0, len(e.lazyQueue))
	for k := range e.lazyQueue {
		keys = append(keys, k)
	}
	e.lazyQueue = make(map[string]bool)
	e.mu.Unlock()

	if _, err := e.applyDelete(keys, StrategyLazy, "lazy queue flush", nil); err != nil {
		log.Warn().Err(err).Msg("invalidation: lazy flush failed")
	}
}

func (e *Engine) runScheduleProcessor(interval time.Duration) {
	defer e.wg.Done()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-e.stopCh:
			return
		case <-ticker.C:
			e.processScheduled()
		}
	}
}

func (e *Engine) processScheduled() {
	now := time.Now().UTC()

	e.mu.Lock()
	var due []*ScheduledInvalidation
	for _, job := range e.scheduled {
		if !job.ExecuteAt.After(now) {
			due = append(due, job)
		}
	}
	e.mu.Unlock()

	for _, job := range due {
		if err := e.runScheduledJob(job); err != nil {
			log.Warn().Err(err).Str("schedule_id", job.ID).Msg("scheduled-invalidation-failed")
			continue
		}

		e.mu.Lock()
		job.ExecutionCount++
		job.LastExecuted = now
		if job.RepeatInterval != nil {
			job.ExecuteAt = now.Add(*job.RepeatInterval)
		} else {
			delete(e.scheduled, job.ID)
		}
		e.mu.Unlock()
	}
}

func (e *Engine) runScheduledJob(job *ScheduledInvalidation) error {
	switch {
	case job.Pattern != "":
		_, err := e.InvalidatePattern(job.Pattern)
		return err
	case len(job.Tags) > 0:
		_, err := e.InvalidateTag(job.Tags...)
		return err
	default:
		_, err := e.Invalidate(job.Keys...)
		return err
	}
}

// Invalidate deletes the given keys immediately (or enqueues them if in lazy
// mode) and records an audit entry. A key that doesn't exist is a no-op,
// not an error (spec §4.9 failure semantics).
func (e *Engine) Invalidate(keys ...string) (InvalidationRecord, error) {
	if e.currentMode() == ModeLazy {
		e.mu.Lock()
		for _, k := range keys {
			e.lazyQueue[k] = true
		}
		e.mu.Unlock()
		return e.recordAudit(keys, e.currentStrategy(), "enqueued for lazy invalidation", nil, 0), nil
	}
	return e.applyDelete(keys, e.currentStrategy(), "explicit key invalidation", nil)
}

// InvalidatePattern deletes every cache key matching the restricted glob
// pattern ('*' any run, '?' one char).
func (e *Engine) InvalidatePattern(pattern string) (InvalidationRecord, error) {
	if pattern == "" {
		return InvalidationRecord{}, apperrors.InvalidArgument("pattern must not be empty")
	}
	entries, err := e.store.GetAllEntries()
	if err != nil {
		return InvalidationRecord{}, err
	}

	var matched []string
	for _, entry := range entries {
		if utils.MatchGlob(pattern, entry.Key) {
			matched = append(matched, entry.Key)
		}
	}
	return e.applyDelete(matched, e.currentStrategy(), "pattern invalidation: "+pattern, nil)
}

// InvalidateTag deletes every cache key whose dependency node carries any of
// the given tags.
func (e *Engine) InvalidateTag(tags ...string) (InvalidationRecord, error) {
	tagSet := make(map[string]bool, len(tags))
	for _, t := range tags {
		tagSet[t] = true
	}

	e.mu.RLock()
	var matched []string
	for key, node := range e.nodes {
		for t := range node.Tags {
			if tagSet[t] {
				matched = append(matched, key)
				break
			}
		}
	}
	e.mu.RUnlock()

	return e.applyDelete(matched, e.currentStrategy(), "tag invalidation", nil)
}

// InvalidateDependency invalidates rootKey plus every descendant reachable
// through the children relation, BFS-bounded at cascadeDepth hops and
// protected against cycles by a visited set (spec §8 property 6): it
// terminates within cascadeDepth+1 steps and visits each node at most once.
func (e *Engine) InvalidateDependency(rootKey string, cascadeDepth int) (InvalidationRecord, error) {
	if cascadeDepth < 0 {
		cascadeDepth = 0
	}

	visited := map[string]bool{rootKey: true}
	frontier := []string{rootKey}
	order := []string{rootKey}

	e.mu.RLock()
	for depth := 0; depth < cascadeDepth && len(frontier) > 0; depth++ {
		var next []string
		for _, key := range frontier {
			node, ok := e.nodes[key]
			if !ok {
				continue
			}
			for child := range node.Children {
				if !visited[child] {
					visited[child] = true
					next = append(next, child)
					order = append(order, child)
				}
			}
		}
		frontier = next
	}
	e.mu.RUnlock()

	return e.applyDelete(order, StrategyDependencyCascade, "dependency cascade", map[string]string{"root": rootKey})
}

// ScheduleInvalidation registers a one-shot or recurring job, returning its
// generated id.
func (e *Engine) ScheduleInvalidation(executeAt time.Time, repeatInterval *time.Duration, keys []string, pattern string, tags []string) (string, error) {
	if len(keys) == 0 && pattern == "" && len(tags) == 0 {
		return "", apperrors.InvalidArgument("scheduled invalidation needs keys, pattern, or tags")
	}

	id := newID()
	job := &ScheduledInvalidation{
		ID: id, Keys: keys, Pattern: pattern, Tags: tags,
		ExecuteAt: executeAt, RepeatInterval: repeatInterval,
	}

	e.mu.Lock()
	e.scheduled[id] = job
	e.mu.Unlock()
	return id, nil
}

// CancelScheduled removes a pending scheduled job. Cancelling an unknown id
// is a no-op (consistent with the spec's "non-existent target is a no-op"
// failure semantics for invalidation targets).
func (e *Engine) CancelScheduled(id string) {
	e.mu.Lock()
	delete(e.scheduled, id)
	e.mu.Unlock()
}

// ListScheduled returns every pending scheduled job.
func (e *Engine) ListScheduled() []ScheduledInvalidation {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]ScheduledInvalidation, 0, len(e.scheduled))
	for _, j := range e.scheduled {
		out = append(out, *j)
	}
	return out
}

// SetDependency records parent -> children edges, optionally tagging the
// parent node. Nodes are created on first reference.
func (e *Engine) SetDependency(parent string, children []string, tag string) {
	e.mu.Lock()
	defer e.mu.Unlock()

	p := e.nodeLocked(parent)
	if tag != "" {
		p.Tags[tag] = true
	}
	for _, child := range children {
		p.Children[child] = true
		c := e.nodeLocked(child)
		c.Parents[parent] = true
	}
}

// RemoveDependency deletes parent -> children edges (leaving both nodes in
// place, since a node may still be referenced by other edges or own tags).
func (e *Engine) RemoveDependency(parent string, children []string) {
	e.mu.Lock()
	defer e.mu.Unlock()

	p, ok := e.nodes[parent]
	if !ok {
		return
	}
	for _, child := range children {
		delete(p.Children, child)
		if c, ok := e.nodes[child]; ok {
			delete(c.Parents, parent)
		}
	}
}

func (e *Engine) nodeLocked(key string) *DependencyNode {
	n, ok := e.nodes[key]
	if !ok {
		n = &DependencyNode{
			Key: key, Parents: map[string]bool{}, Children: map[string]bool{}, Tags: map[string]bool{},
			CreatedAt: time.Now().UTC(),
		}
		e.nodes[key] = n
	}
	return n
}

// Validity is the per-key result of Validate.
type Validity struct {
	Key    string
	Exists bool
}

// Validate reports, for each of keys (or every key with a dependency node
// if keys is empty), whether it currently exists in the cache store.
// skipExpired is accepted for interface fidelity; this engine has no
// separate TTL clock beyond the cache store itself, so it has no effect
// here.
func (e *Engine) Validate(keys []string, skipExpired bool) ([]Validity, error) {
	if len(keys) == 0 {
		e.mu.RLock()
		for k := range e.nodes {
			keys = append(keys, k)
		}
		e.mu.RUnlock()
	}

	entries, err := e.store.GetAllEntries()
	if err != nil {
		return nil, err
	}
	present := make(map[string]bool, len(entries))
	for _, entry := range entries {
		present[entry.Key] = true
	}

	out := make([]Validity, 0, len(keys))
	for _, k := range keys {
		out = append(out, Validity{Key: k, Exists: present[k]})
	}
	return out, nil
}

// Stats reports the engine's current bookkeeping sizes.
func (e *Engine) Stats() Stats {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return Stats{
		Strategy:           e.strategy,
		Mode:               e.mode,
		DependencyNodes:    len(e.nodes),
		ScheduledJobs:      len(e.scheduled),
		AuditEntries:       len(e.audit),
		LazyQueueDepth:     len(e.lazyQueue),
		TotalInvalidations: e.total,
	}
}

// Audit returns a copy of the current audit ring buffer, oldest first.
func (e *Engine) Audit() []InvalidationRecord {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]InvalidationRecord, len(e.audit))
	copy(out, e.audit)
	return out
}

// ClearAudit empties the audit ring buffer without affecting cached data.
func (e *Engine) ClearAudit() {
	e.mu.Lock()
	e.audit = nil
	e.mu.Unlock()
}

func (e *Engine) currentStrategy() Strategy {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.strategy
}

func (e *Engine) currentMode() Mode {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.mode
}

func (e *Engine) applyDelete(keys []string, strategy Strategy, reason string, metadata map[string]string) (InvalidationRecord, error) {
	start := time.Now()
	var affected []string
	for _, key := range keys {
		ok, err := e.store.Delete(key)
		if err != nil {
			return InvalidationRecord{}, err
		}
		if ok {
			affected = append(affected, key)
		}
	}

	e.mu.Lock()
	for _, key := range affected {
		if node, ok := e.nodes[key]; ok {
			node.LastInvalidated = time.Now().UTC()
		}
	}
	e.total += int64(len(affected))
	e.mu.Unlock()

	elapsed := time.Since(start).Milliseconds()
	return e.recordAudit(affected, strategy, reason, metadata, elapsed), nil
}

func (e *Engine) recordAudit(affectedKeys []string, strategy Strategy, reason string, metadata map[string]string, elapsedMs int64) InvalidationRecord {
	rec := InvalidationRecord{
		ID: newID(), Timestamp: time.Now().UTC(), Strategy: strategy,
		AffectedKeys: affectedKeys, Reason: reason, Metadata: metadata, ExecutionTimeMs: elapsedMs,
	}

	e.mu.Lock()
	if e.enableAudit {
		e.audit = append(e.audit, rec)
		if len(e.audit) > e.maxAuditEntries {
			e.audit = e.audit[len(e.audit)-e.maxAuditEntries:]
		}
	}
	e.mu.Unlock()

	return rec
}

func newID() string {
	return uuid.NewString()
}
