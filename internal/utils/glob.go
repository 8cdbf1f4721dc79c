package utils

import "strings"

// MatchGlob reports whether s matches the restricted glob pattern used by the
// invalidation engine's invalidatePattern: '*' matches any run of characters
// (including none), '?' matches exactly one character. No other metacharacters
// are special.
func MatchGlob(pattern, s string) bool {
	return matchGlob([]rune(pattern), []rune(s))
}

// matchGlob is a classic two-pointer glob matcher with backtracking on '*',
// O(len(pattern)*len(s)) worst case, which is fine for cache-key-length
// strings.
func matchGlob(pattern, s []rune) bool {
	var pIdx, sIdx int
	var starIdx = -1
	var matchIdx int

	for sIdx < len(s) {
		if pIdx < len(pattern) && (pattern[pIdx] == '?' || pattern[pIdx] == s[sIdx]) {
			pIdx++
			sIdx++
		} else if pIdx < len(pattern) && pattern[pIdx] == '*' {
			starIdx = pIdx
			matchIdx = sIdx
			pIdx++
		} else if starIdx != -1 {
			pIdx = starIdx + 1
			matchIdx++
			sIdx = matchIdx
		} else {
			return false
		}
	}

	for pIdx < len(pattern) && pattern[pIdx] == '*' {
		pIdx++
	}

	return pIdx == len(pattern)
}

// HasGlobMeta reports whether pattern contains '*' or '?'.
func HasGlobMeta(pattern string) bool {
	return strings.ContainsAny(pattern, "*?")
}
