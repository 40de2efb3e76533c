// Package policy decides, per file, whether full content is preserved in
// the image or only metadata with a sparse apparent size.
package policy

import (
	"fmt"
	"strings"
)

// Rule is one configured inclusion criterion: a set of file extensions
// paired with the maximum size (in bytes) a matching file may have while
// still keeping its full content. An empty extension set matches any
// extension.
type Rule struct {
	Extensions []string
	MaxSize    int64
}

// Policy evaluates the configured rule set. It is immutable after New and
// safe for concurrent use.
type Policy struct {
	rules       []Rule
	globalLimit int64
}

// New builds a Policy from the given rules and global size limit.
// Malformed rules (negative thresholds) are rejected here so that
// evaluation never has to deal with them. The global limit applies only
// when no rules are configured; a global limit of 0 then means "never
// include content by size".
func New(rules []Rule, globalLimit int64) (*Policy, error) {
	if globalLimit < 0 {
		return nil, fmt.Errorf("global size limit must not be negative: %d", globalLimit)
	}

	normalized := make([]Rule, 0, len(rules))
	for i, r := range rules {
		if r.MaxSize < 0 {
			return nil, fmt.Errorf("rule %d: max size must not be negative: %d", i+1, r.MaxSize)
		}
		nr := Rule{MaxSize: r.MaxSize}
		for _, ext := range r.Extensions {
			nr.Extensions = append(nr.Extensions, normalizeExt(ext))
		}
		normalized = append(normalized, nr)
	}

	return &Policy{rules: normalized, globalLimit: globalLimit}, nil
}

// IncludeContent reports whether a file's full content should be preserved.
// It is a pure function of its arguments and the configured rules.
//
// A file is included when at least one rule matches its extension and its
// size is at or below that rule's threshold (the boundary is inclusive:
// a file exactly at the threshold keeps its content). With no rules
// configured, the global limit decides instead. Zero-byte files need no
// special case: whichever verdict falls out, the staged file is empty
// either way.
func (p *Policy) IncludeContent(relPath, ext string, size int64) bool {
	ext = normalizeExt(ext)

	for _, r := range p.rules {
		if !r.matchesExt(ext) {
			continue
		}
		if size <= r.MaxSize {
			return true
		}
	}

	if len(p.rules) == 0 && size <= p.globalLimit {
		return true
	}
	return false
}

// Rules returns a copy of the normalized rule set, for display.
func (p *Policy) Rules() []Rule {
	out := make([]Rule, len(p.rules))
	copy(out, p.rules)
	return out
}

// GlobalLimit returns the configured global size limit in bytes.
func (p *Policy) GlobalLimit() int64 { return p.globalLimit }

func (r Rule) matchesExt(ext string) bool {
	if len(r.Extensions) == 0 {
		return true
	}
	for _, e := range r.Extensions {
		if e == ext {
			return true
		}
	}
	return false
}

// normalizeExt lowercases an extension and guarantees a leading dot, so
// "TXT", ".txt" and "txt" all compare equal. The empty string stays empty
// (files without an extension).
func normalizeExt(ext string) string {
	ext = strings.ToLower(strings.TrimSpace(ext))
	if ext == "" {
		return ""
	}
	if !strings.HasPrefix(ext, ".") {
		ext = "." + ext
	}
	return ext
}

// ParseRuleArg parses the command-line rule form "EXT=SIZE", e.g.
// ".log=1M" or ".txt,.md=64k". An empty extension part ("=64k") yields a
// rule that applies to every extension.
func ParseRuleArg(arg string) (Rule, error) {
	extPart, sizePart, found := strings.Cut(arg, "=")
	if !found {
		return Rule{}, fmt.Errorf("invalid rule %q: expected EXT=SIZE", arg)
	}

	maxSize, err := ParseSize(sizePart)
	if err != nil {
		return Rule{}, fmt.Errorf("invalid rule %q: %w", arg, err)
	}

	rule := Rule{MaxSize: maxSize}
	for _, ext := range strings.Split(extPart, ",") {
		ext = strings.TrimSpace(ext)
		if ext == "" {
			continue
		}
		rule.Extensions = append(rule.Extensions, ext)
	}
	return rule, nil
}
