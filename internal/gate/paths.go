// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package gate

import (
	"strings"

	"github.com/gobwas/glob"
	"github.com/samber/oops"
)

// wildcard marks a prefix pattern when it ends a pattern.
const wildcard = "*"

// rule is one compiled exempt pattern.
type rule struct {
	pattern string
	prefix  glob.Glob // nil for exact patterns
}

// Matcher decides whether a path needs authentication given an ordered list
// of exempt patterns. A pattern is either an exact path or a prefix ending
// in "*". It is immutable and safe for concurrent use.
type Matcher struct {
	rules []rule
}

// NewMatcher compiles patterns. Empty patterns are skipped.
func NewMatcher(patterns []string) (*Matcher, error) {
	m := &Matcher{rules: make([]rule, 0, len(patterns))}
	for _, p := range patterns {
		if p == "" {
			continue
		}
		r := rule{pattern: p}
		if prefix, ok := strings.CutSuffix(p, wildcard); ok {
			g, err := glob.Compile(glob.QuoteMeta(prefix) + "*")
			if err != nil {
				return nil, oops.Code("GATE_INVALID_PATTERN").With("pattern", p).Wrap(err)
			}
			r.prefix = g
		}
		m.rules = append(m.rules, r)
	}
	return m, nil
}

// Patterns returns the compiled patterns in order.
func (m *Matcher) Patterns() []string {
	out := make([]string, len(m.rules))
	for i, r := range m.rules {
		out[i] = r.pattern
	}
	return out
}

// RequiresAuth reports whether path needs authentication. The path is
// normalized to end in "/" before matching. With no patterns every path
// requires authentication.
func (m *Matcher) RequiresAuth(path string) bool {
	if path == "" || m == nil || len(m.rules) == 0 {
		return true
	}
	path = normalizePath(path)

	for _, r := range m.rules {
		if r.prefix != nil {
			if r.prefix.Match(path) {
				return false
			}
			continue
		}
		if path == r.pattern {
			return false
		}
	}
	return true
}

// RequiresAuth compiles patterns and checks path in one call. It fails
// closed: if a pattern cannot be compiled, authentication is required.
func RequiresAuth(path string, patterns []string) bool {
	m, err := NewMatcher(patterns)
	if err != nil {
		return true
	}
	return m.RequiresAuth(path)
}

func normalizePath(path string) string {
	if strings.HasSuffix(path, "/") {
		return path
	}
	return path + "/"
}
