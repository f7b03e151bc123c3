package watcher

import (
	"fmt"
	"path/filepath"
	"strings"
)

// Filter decides which paths are excluded from watching.
type Filter struct {
	patterns []string
}

// NewFilter compiles exclude patterns. Patterns use filepath.Match syntax.
func NewFilter(patterns []string) (*Filter, error) {
	f := &Filter{}
	for _, p := range patterns {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		if _, err := filepath.Match(p, ""); err != nil {
			return nil, fmt.Errorf("invalid exclude pattern %q: %w", p, err)
		}
		f.patterns = append(f.patterns, p)
	}
	return f, nil
}

// Excluded reports whether rel, a path relative to a watched root, matches
// any pattern. Segments of the root itself are never considered.
func (f *Filter) Excluded(rel string) bool {
	if f == nil || len(f.patterns) == 0 {
		return false
	}
	path := filepath.Clean(rel)
	if path == "." {
		return false
	}
	segments := strings.Split(path, string(filepath.Separator))
	for _, p := range f.patterns {
		if ok, _ := filepath.Match(p, path); ok {
			return true
		}
		for _, seg := range segments {
			if seg == "" {
				continue
			}
			if ok, _ := filepath.Match(p, seg); ok {
				return true
			}
		}
	}
	return false
}

// Patterns returns the compiled patterns.
func (f *Filter) Patterns() []string {
	if f == nil {
		return nil
	}
	return append([]string(nil), f.patterns...)
}
