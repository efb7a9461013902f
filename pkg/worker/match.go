package worker

import (
	"strings"

	"github.com/screa/vanity-miner/pkg/types"
)

// Matcher is a SearchSpec with its patterns normalized once, for use on the hot path
type Matcher struct {
	prefix        string
	suffix        string
	contains      string
	caseSensitive bool
}

// NewMatcher precomputes the comparison form of spec
func NewMatcher(spec types.SearchSpec) *Matcher {
	m := &Matcher{
		prefix:        spec.Prefix,
		suffix:        spec.Suffix,
		contains:      spec.Contains,
		caseSensitive: spec.CaseSensitive,
	}
	if !m.caseSensitive {
		m.prefix = strings.ToLower(m.prefix)
		m.suffix = strings.ToLower(m.suffix)
		m.contains = strings.ToLower(m.contains)
	}
	return m
}

// Match reports whether address satisfies every configured constraint.
// Unset constraints always pass.
func (m *Matcher) Match(address string) bool {
	if !m.caseSensitive {
		address = strings.ToLower(address)
	}
	if m.prefix != "" && !strings.HasPrefix(address, m.prefix) {
		return false
	}
	if m.suffix != "" && !strings.HasSuffix(address, m.suffix) {
		return false
	}
	if m.contains != "" && !strings.Contains(address, m.contains) {
		return false
	}
	return true
}

// Matches reports whether address satisfies spec
func Matches(address string, spec types.SearchSpec) bool {
	return NewMatcher(spec).Match(address)
}
