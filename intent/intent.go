package intent

import (
	"regexp"
	"strings"
)

// Intent labels drive routing: deterministic relational lookup, semantic
// retrieval, or both.
type Intent string

const (
	Greeting Intent = "GREETING"
	Factual  Intent = "FACTUAL"
	Semantic Intent = "SEMANTIC"
	Mixed    Intent = "MIXED"
)

var (
	greetingPattern = regexp.MustCompile(`(?i)^\s*(hi|hello|hey|good\s+(morning|afternoon|evening)|howdy|yo)\s*[.!?]*\s*$`)

	factualPattern = regexp.MustCompile(`(?i)\b(list|count|how\s+many|what\s+are\s+the|which|show\s+me\s+all)\b`)

	semanticPattern = regexp.MustCompile(`(?i)\b(describe|explain|summari[sz]e|tell\s+me\s+about|what\s+is|overview)\b`)

	temporalPattern = regexp.MustCompile(`(?i)\bwhen\b`)

	// entity tokens that make a temporal question answerable from metadata
	entityPattern = regexp.MustCompile(`(?i)\b(c\d+-t\d+|course|topic|class|assignment)\b`)
)

// Classify maps a query to an intent with ordered pattern tests. Queries
// with both factual and semantic cues, or a temporal cue over a recognized
// entity alongside semantic phrasing, classify as Mixed; Mixed is also the
// fallback.
func Classify(query string) Intent {
	q := strings.TrimSpace(query)
	if q == "" {
		return Mixed
	}

	if greetingPattern.MatchString(q) {
		return Greeting
	}

	factual := factualPattern.MatchString(q)
	semantic := semanticPattern.MatchString(q)
	temporal := temporalPattern.MatchString(q) && entityPattern.MatchString(q)

	switch {
	case factual && semantic:
		return Mixed
	case temporal && semantic:
		return Mixed
	case factual || temporal:
		return Factual
	case semantic:
		return Semantic
	default:
		return Mixed
	}
}
