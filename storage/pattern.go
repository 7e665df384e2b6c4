package storage

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/gobwas/glob"
)

// maxPatternLength bounds glob patterns accepted from the wire.
const maxPatternLength = 256

// Matcher matches host-local paths against a glob pattern anchored at a
// root directory.
type Matcher struct {
	root string
	g    glob.Glob
}

// CompilePattern compiles a slash-separated glob. '*' does not cross
// directory boundaries, '**' does.
func CompilePattern(pattern string) (glob.Glob, error) {
	if pattern == "" {
		return nil, fmt.Errorf("empty pattern")
	}
	if len(pattern) > maxPatternLength {
		return nil, fmt.Errorf("pattern longer than %d characters", maxPatternLength)
	}
	g, err := glob.Compile(pattern, '/')
	if err != nil {
		return nil, fmt.Errorf("invalid pattern %q: %w", pattern, err)
	}
	return g, nil
}

// NewMatcher returns a Matcher for paths under root.
func NewMatcher(root, pattern string) (*Matcher, error) {
	g, err := CompilePattern(pattern)
	if err != nil {
		return nil, err
	}
	return &Matcher{root: filepath.Clean(root), g: g}, nil
}

// Match reports whether p lies under the root and its relative path
// matches the pattern. The root itself never matches.
func (m *Matcher) Match(p string) bool {
	rel, ok := RelativeTo(m.root, p)
	if !ok || rel == "." {
		return false
	}
	return m.g.Match(rel)
}

// RelativeTo returns p relative to root using forward slashes, and whether
// p lies within root.
func RelativeTo(root, p string) (string, bool) {
	rel, err := filepath.Rel(filepath.Clean(root), filepath.Clean(p))
	if err != nil {
		return "", false
	}
	rel = filepath.ToSlash(rel)
	if rel == ".." || strings.HasPrefix(rel, "../") {
		return "", false
	}
	return rel, true
}
