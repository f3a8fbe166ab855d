package analysis

import (
	"path/filepath"
	"testing"
)

func TestPathFilter_Ignored(t *testing.T) {
	root := filepath.FromSlash("/work/project")

	tests := []struct {
		name          string
		patterns      []string
		caseSensitive bool
		path          string
		ignored       bool
	}{
		{
			name:     "no patterns ignores nothing",
			patterns: nil,
			path:     "/work/project/lib/a.dart",
			ignored:  false,
		},
		{
			name:     "double star matches nested files",
			patterns: []string{"generated/**"},
			path:     "/work/project/generated/deep/a.dart",
			ignored:  true,
		},
		{
			name:     "pattern is relative to the root",
			patterns: []string{"generated/**"},
			path:     "/work/project/lib/generated.dart",
			ignored:  false,
		},
		{
			name:     "single star stays within a segment",
			patterns: []string{"lib/*.g.dart"},
			path:     "/work/project/lib/a.g.dart",
			ignored:  true,
		},
		{
			name:     "single star does not cross separators",
			patterns: []string{"lib/*.g.dart"},
			path:     "/work/project/lib/sub/a.g.dart",
			ignored:  false,
		},
		{
			name:          "exact case when sensitive",
			patterns:      []string{"Generated/**"},
			caseSensitive: true,
			path:          "/work/project/generated/a.dart",
			ignored:       false,
		},
		{
			name:     "case folding when insensitive",
			patterns: []string{"Generated/**"},
			path:     "/work/project/generated/a.dart",
			ignored:  true,
		},
		{
			name:     "paths outside the root are never ignored",
			patterns: []string{"**"},
			path:     "/work/elsewhere/a.dart",
			ignored:  false,
		},
		{
			name:     "invalid pattern is skipped",
			patterns: []string{"[", "generated/**"},
			path:     "/work/project/generated/a.dart",
			ignored:  true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			filter := NewPathFilter(root, tt.caseSensitive)
			filter.SetPatterns(tt.patterns)
			if got := filter.Ignored(filepath.FromSlash(tt.path)); got != tt.ignored {
				t.Errorf("Ignored(%s) = %v, want %v", tt.path, got, tt.ignored)
			}
		})
	}
}

func TestPathFilter_SetPatternsReplaces(t *testing.T) {
	filter := NewPathFilter(filepath.FromSlash("/work/project"), true)
	filter.SetPatterns([]string{"generated/**"})

	path := filepath.FromSlash("/work/project/generated/a.dart")
	if !filter.Ignored(path) {
		t.Fatalf("Expected %s to be ignored", path)
	}

	filter.SetPatterns(nil)
	if filter.Ignored(path) {
		t.Errorf("Patterns must be fully replaced, not accumulated")
	}
}
