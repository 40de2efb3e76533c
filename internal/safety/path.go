// Package safety contains path validation helpers shared by the walker
// and the CLI. Staging paths are always derived from source-relative keys;
// these checks keep a hostile or mangled key from escaping the staging root.
package safety

import (
	"fmt"
	"path/filepath"
	"strings"
)

// CleanRelativePath validates and normalizes a relative path key.
// It rejects empty paths, absolute paths, and parent traversal segments.
func CleanRelativePath(p string) (string, error) {
	if p == "" {
		return "", fmt.Errorf("path is empty")
	}

	clean := filepath.Clean(filepath.FromSlash(p))
	if clean == "." {
		return "", fmt.Errorf("path resolves to current directory")
	}
	if filepath.IsAbs(clean) {
		return "", fmt.Errorf("absolute paths are not allowed: %q", p)
	}
	if clean == ".." || strings.HasPrefix(clean, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("parent traversal is not allowed: %q", p)
	}
	return clean, nil
}

// JoinUnderRoot joins a relative path key under root and verifies the
// result stays inside root, returning an absolute normalized path.
func JoinUnderRoot(root, rel string) (string, error) {
	cleanRel, err := CleanRelativePath(rel)
	if err != nil {
		return "", err
	}

	rootAbs, err := filepath.Abs(root)
	if err != nil {
		return "", fmt.Errorf("resolve root: %w", err)
	}
	joined := filepath.Join(rootAbs, cleanRel)

	escaped, err := filepath.Rel(rootAbs, joined)
	if err != nil {
		return "", fmt.Errorf("compare paths: %w", err)
	}
	if escaped == ".." || strings.HasPrefix(escaped, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("path escapes root: %q", rel)
	}
	return joined, nil
}
