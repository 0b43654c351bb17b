// Package matcher evaluates patents against configured search criteria.
// Matching is pure: no I/O, no state beyond the rule list given at
// construction.
package matcher

import (
	"fmt"
	"strings"

	"github.com/joelkehle/designwatch/internal/patent"
)

type Matcher struct {
	criteria []patent.SearchCriteria
}

func New(criteria []patent.SearchCriteria) *Matcher {
	return &Matcher{criteria: criteria}
}

// Match returns the union of match descriptions across all rules, in rule
// order. An empty slice means no interest.
func (m *Matcher) Match(p patent.Patent) []string {
	var all []string
	for _, c := range m.criteria {
		all = append(all, matchSingle(p, c)...)
	}
	return all
}

// matchSingle evaluates one rule. An assignee exclusion hit silences the
// whole rule; other rules are unaffected.
func matchSingle(p patent.Patent, c patent.SearchCriteria) []string {
	if isExcluded(p, c) {
		return nil
	}

	var matches []string
	for _, usClass := range c.USClasses {
		if classMatches(p.ClassificationUS, usClass) {
			matches = append(matches, fmt.Sprintf("US class: %s (criteria: %s)", usClass, c.Name))
		}
	}
	for _, cpcClass := range c.CPCClasses {
		if classMatches(p.ClassificationCPC, cpcClass) {
			matches = append(matches, fmt.Sprintf("CPC class: %s (criteria: %s)", cpcClass, c.Name))
		}
	}
	for _, keyword := range c.Keywords {
		if keywordMatches(p, keyword) {
			matches = append(matches, fmt.Sprintf("Keyword: %q (criteria: %s)", keyword, c.Name))
		}
	}
	return matches
}

// classMatches tests a classification field against a target prefix.
// Fields may carry multiple semicolon-separated values; both sides are
// uppercased and stripped of spaces before the prefix test. Both sides
// must be non-empty: an empty field matches nothing, and an empty prefix
// matches nothing.
func classMatches(classification, target string) bool {
	if classification == "" || target == "" {
		return false
	}
	normalizedTarget := normalizeClass(target)
	if normalizedTarget == "" {
		return false
	}
	for _, value := range strings.Split(classification, ";") {
		value = normalizeClass(value)
		if value != "" && strings.HasPrefix(value, normalizedTarget) {
			return true
		}
	}
	return false
}

func normalizeClass(s string) string {
	return strings.ReplaceAll(strings.ToUpper(strings.TrimSpace(s)), " ", "")
}

// keywordMatches does a case-insensitive substring search over the title
// and, when present, the abstract. Not whole-word.
func keywordMatches(p patent.Patent, keyword string) bool {
	kw := strings.ToLower(keyword)
	if p.Title != "" && strings.Contains(strings.ToLower(p.Title), kw) {
		return true
	}
	if p.Abstract != "" && strings.Contains(strings.ToLower(p.Abstract), kw) {
		return true
	}
	return false
}

func isExcluded(p patent.Patent, c patent.SearchCriteria) bool {
	if len(c.AssigneeExclude) == 0 || p.Assignee == "" {
		return false
	}
	assignee := strings.ToLower(p.Assignee)
	for _, excluded := range c.AssigneeExclude {
		if strings.Contains(assignee, strings.ToLower(excluded)) {
			return true
		}
	}
	return false
}
