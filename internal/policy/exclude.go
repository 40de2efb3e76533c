package policy

import (
	"fmt"
	"path"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
)

// Exclusions is a compiled set of path patterns identifying entries to
// skip entirely. Patterns follow doublestar syntax (`*`, `?`, `**`) and
// are matched against slash-separated paths relative to the source root.
// An excluded directory prunes its whole subtree.
type Exclusions struct {
	patterns []string
}

// CompileExclusions validates the given patterns and returns a matcher.
// Invalid patterns and patterns that are absolute or escape the root are
// rejected up front, before any filesystem work starts.
func CompileExclusions(patterns []string) (*Exclusions, error) {
	compiled := make([]string, 0, len(patterns))
	for _, raw := range patterns {
		p := strings.TrimSpace(raw)
		if p == "" {
			continue
		}
		p = strings.TrimSuffix(path.Clean(strings.TrimPrefix(p, "./")), "/")
		if strings.HasPrefix(p, "/") || p == ".." || strings.HasPrefix(p, "../") {
			return nil, fmt.Errorf("exclude pattern %q must be relative to the source root", raw)
		}
		if !doublestar.ValidatePattern(p) {
			return nil, fmt.Errorf("invalid exclude pattern %q", raw)
		}
		compiled = append(compiled, p)
	}
	return &Exclusions{patterns: compiled}, nil
}

// Match reports whether the relative path is excluded. relPath must be
// slash-separated, as produced by the walker.
func (e *Exclusions) Match(relPath string) bool {
	if e == nil || len(e.patterns) == 0 {
		return false
	}
	for _, p := range e.patterns {
		if ok, _ := doublestar.Match(p, relPath); ok {
			return true
		}
	}
	return false
}

// Empty reports whether no patterns are configured.
func (e *Exclusions) Empty() bool {
	return e == nil || len(e.patterns) == 0
}

// Patterns returns the compiled pattern list, for display.
func (e *Exclusions) Patterns() []string {
	if e == nil {
		return nil
	}
	out := make([]string, len(e.patterns))
	copy(out, e.patterns)
	return out
}
