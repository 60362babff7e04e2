// Package match decides whether a message body qualifies under the
// configured keyword rule set. Matching is pure string work: no I/O, no
// side effects.
package match

import (
	"regexp"
	"strings"

	"github.com/nhle/incident-reporter/internal/model"
)

// Result names the rule that qualified a message.
type Result struct {
	// Category is the matched rule's category.
	Category string

	// Pattern is the pattern that occurred in the body.
	Pattern string
}

// Match evaluates rules in declaration order and returns the first rule
// any of whose patterns occurs as a substring of body. Case-insensitive
// rules are compared over normalized text; case-sensitive rules over the
// raw body. The second return is false when no rule matches.
//
// Earliest-declared rule wins on ties, which lets operators order
// categories by priority.
func Match(body string, rules []model.KeywordRule) (Result, bool) {
	normalized := Normalize(body)

	for _, rule := range rules {
		for _, pattern := range rule.Patterns {
			if rule.CaseSensitive {
				if strings.Contains(body, pattern) {
					return Result{Category: rule.Category, Pattern: pattern}, true
				}
				continue
			}
			if strings.Contains(normalized, Normalize(pattern)) {
				return Result{Category: rule.Category, Pattern: pattern}, true
			}
		}
	}

	return Result{}, false
}

var (
	separators = regexp.MustCompile(`[_\-:;,.\n\r\t]`)
	whitespace = regexp.MustCompile(`\s+`)
)

// Normalize case-folds text and collapses common separators to single
// spaces so keyword matching is robust to punctuation and line breaks.
func Normalize(s string) string {
	out := strings.ToLower(s)
	out = separators.ReplaceAllString(out, " ")
	out = whitespace.ReplaceAllString(out, " ")
	return strings.TrimSpace(out)
}
