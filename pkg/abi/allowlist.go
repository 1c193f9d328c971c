package abi

import (
	"sort"
	"strings"
)

// AllowList decides which symbol names are in scope.
// It is built once and never mutated.
type AllowList struct {
	exact    map[string]struct{}
	prefixes []string
}

// NewAllowList copies exact and prefixes. Empty strings are ignored.
func NewAllowList(exact, prefixes []string) *AllowList {
	a := &AllowList{exact: make(map[string]struct{}, len(exact))}
	for _, name := range exact {
		if name != "" {
			a.exact[name] = struct{}{}
		}
	}
	for _, p := range prefixes {
		if p != "" {
			a.prefixes = append(a.prefixes, p)
		}
	}
	return a
}

// IsWanted reports whether name is listed exactly or starts with a listed prefix.
func (a *AllowList) IsWanted(name string) bool {
	if a == nil || name == "" {
		return false
	}
	if _, ok := a.exact[name]; ok {
		return true
	}
	for _, p := range a.prefixes {
		if strings.HasPrefix(name, p) {
			return true
		}
	}
	return false
}

// Exact returns the exactly listed names in sorted order.
func (a *AllowList) Exact() []string {
	names := make([]string, 0, len(a.exact))
	for name := range a.exact {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Prefixes returns a copy of the prefix list in configured order.
func (a *AllowList) Prefixes() []string {
	return append([]string(nil), a.prefixes...)
}
