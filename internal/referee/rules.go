// Package referee implements the referee: it
// consumes metadata-change notifications, derives owners from routing
// rules, and schedules transfers between drivers over the fabric.
package referee

import (
	"path/filepath"
	"sort"

	"github.com/MontBlanc-69/onitu/internal/store"
)

// Rules resolves a file's owning drivers from the routing rule table:
// which drivers sync a given path at all, evaluated by glob match.
type Rules struct {
	rules []store.RoutingRule
}

// NewRules wraps a loaded routing rule table. Rules are evaluated in
// order; the first match wins, mirroring typical glob-routing
// semantics in filter package.
func NewRules(rules []store.RoutingRule) *Rules {
	return &Rules{rules: rules}
}

// Owners returns the sorted, deduplicated set of drivers that should
// hold a copy of the file at path, per the first matching rule. An
// unmatched path has no owners.
func (r *Rules) Owners(path string) []string {
	for _, rule := range r.rules {
		matched, err := filepath.Match(rule.Match, path)
		if err != nil || !matched {
			// A glob that also needs to match across path separators
			// (the "**") isn't expressible by filepath.Match
			// alone, so a bare "**" (or "*") pattern is treated here as
			// matching every path.
			if rule.Match == "**" || rule.Match == "*" {
				matched = true
			}
		}

		if matched {
			return dedupeSorted(rule.Sync)
		}
	}

	return nil
}

func dedupeSorted(ss []string) []string {
	seen := make(map[string]struct{}, len(ss))

	out := make([]string, 0, len(ss))

	for _, s := range ss {
		if _, ok := seen[s]; ok {
			continue
		}

		seen[s] = struct{}{}
		out = append(out, s)
	}

	sort.Strings(out)

	return out
}
