package registry

import (
	"context"
	"encoding/json"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/compresr/token-optimizer/internal/admission"
	"github.com/compresr/token-optimizer/internal/apperrors"
	"github.com/compresr/token-optimizer/internal/utils"
)

// HandlerFunc is the operation a handler performs once arguments have
// passed schema validation.
type HandlerFunc func(ctx context.Context, args map[string]any) (any, error)

// CacheKeyFunc derives a stable cache key from args. The recommended
// implementation (spec §4.11) is a canonical JSON serialization; Definition
// defaults to exactly that when CacheKey is nil.
type CacheKeyFunc func(args map[string]any) string

// Definition is one registered handler's declaration. Load is resolved
// lazily on first invocation (spec §4.11): construction never runs
// arbitrary handler init code.
type Definition struct {
	Name        string
	Description string
	Schema      Schema
	Cacheable   bool
	CacheTTL    time.Duration
	CacheKey    CacheKeyFunc
	Load        func() (HandlerFunc, error)
}

// ToolDescription is the list_tools wire shape for one handler.
type ToolDescription struct {
	Name        string
	Description string
	InputSchema Schema
}

// InvokeResult carries the handler's return value and enough bookkeeping for
// the dispatcher to build a metrics record.
type InvokeResult struct {
	Value    any
	CacheHit bool
}

type loadedHandler struct {
	fn  HandlerFunc
	err error
}

type ttlEntry struct {
	expiresAt time.Time
}

// Registry is the name -> handler table, process-wide and safe for
// concurrent use.
type Registry struct {
	mu    sync.RWMutex
	defs  map[string]*Definition
	ready map[string]*loadedHandler

	admission    *admission.Admission
	defaultTTL   time.Duration
	ttlMu        sync.Mutex
	resultExpiry map[string]ttlEntry
}

// New constructs a Registry. adm, when non-nil, backs per-handler result
// caching through the admission layer so cached tool results are still
// subject to the token-aware admission invariant (spec §4.11: "Result
// cache entries pass through C5").
func New(adm *admission.Admission, defaultTTL time.Duration) *Registry {
	if defaultTTL <= 0 {
		defaultTTL = 5 * time.Minute
	}
	return &Registry{
		defs:         make(map[string]*Definition),
		ready:        make(map[string]*loadedHandler),
		admission:    adm,
		defaultTTL:   defaultTTL,
		resultExpiry: make(map[string]ttlEntry),
	}
}

// Register adds a handler definition. Registering the same name twice
// replaces the earlier definition and clears any cached load state for it.
func (r *Registry) Register(def Definition) {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := def
	r.defs[def.Name] = &cp
	delete(r.ready, def.Name)
}

// List returns every registered handler's public description, sorted by
// name for deterministic list_tools output.
func (r *Registry) List() []ToolDescription {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]ToolDescription, 0, len(r.defs))
	for _, def := range r.defs {
		out = append(out, ToolDescription{Name: def.Name, Description: def.Description, InputSchema: def.Schema})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Has reports whether name is a registered handler.
func (r *Registry) Has(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.defs[name]
	return ok
}

// resolve lazily loads name's implementation, caching success and failure
// alike so a broken handler doesn't retry its (possibly expensive) init
// path on every call.
func (r *Registry) resolve(name string) (*Definition, HandlerFunc, error) {
	r.mu.Lock()
	def, ok := r.defs[name]
	if !ok {
		r.mu.Unlock()
		return nil, nil, apperrors.NotFound("no handler registered for %q", name)
	}
	if loaded, ok := r.ready[name]; ok {
		r.mu.Unlock()
		return def, loaded.fn, loaded.err
	}
	r.mu.Unlock()

	fn, err := def.Load()
	if err != nil {
		err = apperrors.Unavailable("handler %q failed to load: %v", name, err)
		log.Error().Err(err).Str("handler", name).Msg("registry: handler load failed")
	}

	r.mu.Lock()
	r.ready[name] = &loadedHandler{fn: fn, err: err}
	r.mu.Unlock()

	return def, fn, err
}

// Invoke validates args against name's schema, resolves its implementation,
// and runs it, transparently serving and populating the per-handler result
// cache when the handler is marked cacheable. ttlOverride, when non-nil,
// replaces the handler's configured TTL for this call only (spec §4.11:
// "Cache TTLs default to 5 minutes and are per-call overridable").
func (r *Registry) Invoke(ctx context.Context, name string, args map[string]any, ttlOverride *time.Duration) (InvokeResult, error) {
	def, fn, err := r.resolve(name)
	if err != nil {
		return InvokeResult{}, err
	}

	if err := ValidateArgs(def.Schema, args); err != nil {
		return InvokeResult{}, err
	}

	if def.Cacheable && r.admission != nil {
		return r.invokeCached(ctx, def, fn, args, ttlOverride)
	}

	value, err := fn(ctx, args)
	if err != nil {
		return InvokeResult{}, err
	}
	return InvokeResult{Value: value}, nil
}

func (r *Registry) invokeCached(ctx context.Context, def *Definition, fn HandlerFunc, args map[string]any, ttlOverride *time.Duration) (InvokeResult, error) {
	key := def.Name + ":" + r.cacheKey(def, args)
	ttl := def.CacheTTL
	if ttlOverride != nil {
		ttl = *ttlOverride
	}
	if ttl <= 0 {
		ttl = r.defaultTTL
	}

	if r.ttlValid(key) {
		if raw, ok, err := r.admission.Fetch(ctx, key); err == nil && ok {
			var value any
			if err := json.Unmarshal(raw, &value); err == nil {
				return InvokeResult{Value: value, CacheHit: true}, nil
			}
		}
	}

	value, err := fn(ctx, args)
	if err != nil {
		return InvokeResult{}, err
	}

	raw, err := utils.MarshalNoEscape(value)
	if err == nil {
		if _, err := r.admission.Optimize(ctx, key, raw); err != nil {
			log.Warn().Err(err).Str("handler", def.Name).Msg("registry: failed to populate result cache")
		} else {
			r.setTTL(key, ttl)
		}
	}

	return InvokeResult{Value: value}, nil
}

func (r *Registry) cacheKey(def *Definition, args map[string]any) string {
	if def.CacheKey != nil {
		return def.CacheKey(args)
	}
	return CanonicalKey(args)
}

func (r *Registry) ttlValid(key string) bool {
	r.ttlMu.Lock()
	defer r.ttlMu.Unlock()
	entry, ok := r.resultExpiry[key]
	if !ok {
		return false
	}
	if time.Now().After(entry.expiresAt) {
		delete(r.resultExpiry, key)
		return false
	}
	return true
}

func (r *Registry) setTTL(key string, ttl time.Duration) {
	r.ttlMu.Lock()
	r.resultExpiry[key] = ttlEntry{expiresAt: time.Now().Add(ttl)}
	r.ttlMu.Unlock()
}

// CanonicalKey produces a stable digest of args via JSON serialization.
// encoding/json already sorts map[string]any keys alphabetically at every
// nesting level, which is exactly the "stable JSON canonicalization" the
// spec recommends for cache-key derivation (spec §4.11, §9); no separate
// sort pass is needed.
func CanonicalKey(args map[string]any) string {
	raw, err := utils.MarshalNoEscape(args)
	if err != nil {
		return ""
	}
	return string(raw)
}
