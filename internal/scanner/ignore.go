package scanner

import (
	"path"
	"strings"
)

// IgnorePattern represents a single gitignore-style pattern.
type IgnorePattern struct {
	pattern    string   // Original pattern
	isNegation bool     // True if pattern starts with !
	dirOnly    bool     // True if pattern ends with /
	anchored   bool     // True if pattern is relative to the root
	segments   []string // Pattern split on /
}

// ParseIgnorePattern parses a gitignore-style pattern string.
func ParseIgnorePattern(pattern string) IgnorePattern {
	p := IgnorePattern{pattern: pattern}

	if strings.HasPrefix(pattern, "!") {
		p.isNegation = true
		pattern = pattern[1:]
	}

	if strings.HasSuffix(pattern, "/") {
		p.dirOnly = true
		pattern = strings.TrimSuffix(pattern, "/")
	}

	// A leading or inner slash ties the pattern to the root
	if strings.HasPrefix(pattern, "/") {
		p.anchored = true
		pattern = pattern[1:]
	} else if strings.Contains(pattern, "/") {
		p.anchored = true
	}

	p.segments = strings.Split(pattern, "/")
	return p
}

// Match reports whether the slash-separated relative path is matched by the
// pattern, either directly or through one of its parent directories.
// Negation patterns match too; the caller decides what a match means.
func (p IgnorePattern) Match(relPath string, isDir bool) bool {
	segs := strings.Split(relPath, "/")

	last := len(segs)
	if p.dirOnly && !isDir {
		last--
	}

	for end := 1; end <= last; end++ {
		prefix := segs[:end]
		if p.anchored {
			if matchSegments(p.segments, prefix) {
				return true
			}
			continue
		}
		for start := 0; start < end; start++ {
			if matchSegments(p.segments, prefix[start:]) {
				return true
			}
		}
	}
	return false
}

// IsNegation returns true if this pattern is a negation pattern.
func (p IgnorePattern) IsNegation() bool {
	return p.isNegation
}

// String returns the pattern as written.
func (p IgnorePattern) String() string {
	return p.pattern
}

// matchSegments matches pattern segments against path segments, with **
// standing for any number of directories.
func matchSegments(pattern, segs []string) bool {
	if len(pattern) == 0 {
		return len(segs) == 0
	}

	if pattern[0] == "**" {
		for i := 0; i <= len(segs); i++ {
			if matchSegments(pattern[1:], segs[i:]) {
				return true
			}
		}
		return false
	}

	if len(segs) == 0 {
		return false
	}
	ok, err := path.Match(pattern[0], segs[0])
	if err != nil || !ok {
		return false
	}
	return matchSegments(pattern[1:], segs[1:])
}
