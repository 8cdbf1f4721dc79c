package cache

import (
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
)

// hotTier is the in-memory tier: an LRU ordering from golang-lru/v2 gives us
// O(1) recency tracking and O(1) "remove oldest", and we layer a byte budget
// on top of it since golang-lru's own capacity is a count, not a size.
type hotTier struct {
	mu        sync.Mutex
	entries   *lru.Cache[string, Entry]
	maxBytes  int64
	curBytes  int64
}

func newHotTier(maxBytes int64) (*hotTier, error) {
	// Capacity is effectively unbounded by count; the byte budget is what
	// actually governs eviction below.
	c, err := lru.New[string, Entry](1 << 20)
	if err != nil {
		return nil, err
	}
	return &hotTier{entries: c, maxBytes: maxBytes}, nil
}

// put inserts or atomically updates an entry, then evicts oldest entries
// until curBytes is within maxBytes.
func (h *hotTier) put(e Entry) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if old, ok := h.entries.Get(e.Key); ok {
		h.curBytes -= old.Size()
	}
	h.entries.Add(e.Key, e)
	h.curBytes += e.Size()

	for h.curBytes > h.maxBytes {
		_, old, ok := h.entries.RemoveOldest()
		if !ok {
			break
		}
		h.curBytes -= old.Size()
	}
}

func (h *hotTier) get(key string) (Entry, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	e, ok := h.entries.Get(key)
	return e, ok
}

// peek reads without promoting recency, so inspection doesn't perturb
// eviction order. Nothing in the package calls it at present.
func (h *hotTier) peek(key string) (Entry, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	e, ok := h.entries.Peek(key)
	return e, ok
}

func (h *hotTier) remove(key string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	e, ok := h.entries.Peek(key)
	if !ok {
		return false
	}
	h.entries.Remove(key)
	h.curBytes -= e.Size()
	return true
}

func (h *hotTier) clear() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.entries.Purge()
	h.curBytes = 0
}

func (h *hotTier) all() []Entry {
	h.mu.Lock()
	defer h.mu.Unlock()
	keys := h.entries.Keys()
	out := make([]Entry, 0, len(keys))
	for _, k := range keys {
		if e, ok := h.entries.Peek(k); ok {
			out = append(out, e)
		}
	}
	return out
}

func (h *hotTier) stats() (count int, bytes int64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.entries.Len(), h.curBytes
}
