package gateway

import (
	"regexp"
	"strings"
)

// singularRefPattern matches the third-person references a follow-up may
// use for the active entity. Plural references (they, them, those) are
// deliberately not rewritable: they rarely map to a single prior entity.
var singularRefPattern = regexp.MustCompile(`(?i)\b(it|this|that|its)\b`)

const followUpMaxTokens = 7

// IsFollowUp reports whether the query likely depends on conversation
// state: it carries a singular reference or is short enough to be
// elliptical.
func IsFollowUp(query string) bool {
	if singularRefPattern.MatchString(query) {
		return true
	}
	return len(strings.Fields(query)) <= followUpMaxTokens
}

// RewriteQuery substitutes every singular reference token with the active
// entity name. Queries without singular references pass through unchanged.
func RewriteQuery(query, activeEntityName string) string {
	if activeEntityName == "" {
		return query
	}
	return singularRefPattern.ReplaceAllString(query, activeEntityName)
}
