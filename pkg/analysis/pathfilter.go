package analysis

import (
	"path/filepath"
	"strings"

	"github.com/gobwas/glob"
)

// PathFilter decides whether a path inside a context root is ignored by the
// context's exclude globs. Patterns are matched against the path relative to
// the root, with forward-slash separators. Matching is case-insensitive when
// the filesystem is.
type PathFilter struct {
	root          string
	caseSensitive bool
	patterns      []string
	globs         []glob.Glob
}

// NewPathFilter creates a filter rooted at root with no patterns.
func NewPathFilter(root string, caseSensitive bool) *PathFilter {
	return &PathFilter{root: root, caseSensitive: caseSensitive}
}

// SetPatterns replaces the filter's glob patterns. Patterns that fail to
// compile are skipped; a bad exclude in an options file must not take the
// whole context down.
func (f *PathFilter) SetPatterns(patterns []string) {
	f.patterns = patterns
	f.globs = f.globs[:0]
	for _, pattern := range patterns {
		normalized := filepath.ToSlash(pattern)
		if !f.caseSensitive {
			normalized = strings.ToLower(normalized)
		}
		g, err := glob.Compile(normalized, '/')
		if err != nil {
			continue
		}
		f.globs = append(f.globs, g)
	}
}

// Patterns returns the currently configured patterns.
func (f *PathFilter) Patterns() []string {
	return f.patterns
}

// Ignored reports whether path is matched by any of the filter's patterns.
// Paths outside the root are never ignored.
func (f *PathFilter) Ignored(path string) bool {
	if len(f.globs) == 0 {
		return false
	}

	rel, err := filepath.Rel(f.root, path)
	if err != nil || strings.HasPrefix(rel, "..") {
		return false
	}
	rel = filepath.ToSlash(rel)
	if !f.caseSensitive {
		rel = strings.ToLower(rel)
	}

	for _, g := range f.globs {
		if g.Match(rel) {
			return true
		}
	}
	return false
}
