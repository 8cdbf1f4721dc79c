package registry

import (
	"regexp"
	"sync"
)

// patternCache avoids recompiling the same schema pattern on every
// validation call; schemas are static per handler so the set of distinct
// patterns is small and bounded by the number of registered handlers.
type patternCache struct {
	mu    sync.Mutex
	cache map[string]*regexp.Regexp
}

var compileCache = &patternCache{cache: make(map[string]*regexp.Regexp)}

func (p *patternCache) get(pattern string) (*regexp.Regexp, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if re, ok := p.cache[pattern]; ok {
		return re, nil
	}
	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, err
	}
	p.cache[pattern] = re
	return re, nil
}
