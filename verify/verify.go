package verify

import (
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"

	"github.com/edurag/edurag/database"
)

// RefusalString is the exact canonical sentence for unsupported questions.
// The strict prompt demands it verbatim and the verifier matches it exactly.
const RefusalString = "I don't have that information in your database."

var (
	sourcePattern = regexp.MustCompile(`\[source:\s*([A-Za-z0-9_\-:, ]+)\]`)
	calcPattern   = regexp.MustCompile(`\[calc:([^\]]+)\]`)
	datePattern   = regexp.MustCompile(`\d{4}-\d{2}-\d{2}`)
	numberPattern = regexp.MustCompile(`\b\d+\b`)
)

// Result reports the structural and factual checks on a generated answer.
type Result struct {
	OK            bool
	IsRefusal     bool
	CitedChunkIDs []string
	Errors        []string
}

// Verifier checks generated text against the evidence set it was supposed
// to be grounded in.
type Verifier struct {
	evidenceIDs map[string]struct{}
	chunkText   map[string]string // normalized id -> lowercased text
}

// NewVerifier indexes the evidence chunks. Ids are normalized (trim +
// lowercase) for tolerant citation matching.
func NewVerifier(evidence []database.Chunk) *Verifier {
	v := &Verifier{
		evidenceIDs: make(map[string]struct{}, len(evidence)),
		chunkText:   make(map[string]string, len(evidence)),
	}
	for _, c := range evidence {
		id := strings.ToLower(strings.TrimSpace(c.ChunkID))
		v.evidenceIDs[id] = struct{}{}
		v.chunkText[id] = strings.ToLower(c.Text)
	}
	return v
}

// Verify runs the refusal, citation, numeric/date, and calc checks in
// order, stopping at the first failing stage.
func (v *Verifier) Verify(modelOutput string) Result {
	res := Result{OK: true}
	out := strings.TrimSpace(modelOutput)
	if out == "" {
		res.OK = false
		res.Errors = append(res.Errors, "No output from model")
		return res
	}

	if out == RefusalString {
		res.IsRefusal = true
		return res
	}

	cited := extractCitations(out)
	res.CitedChunkIDs = cited
	if len(cited) == 0 {
		res.OK = false
		res.Errors = append(res.Errors, "No source citation found in output. Every factual sentence must end with [source: CHUNK_ID].")
		return res
	}

	for _, id := range cited {
		norm := strings.ToLower(strings.TrimSpace(id))
		if _, ok := v.evidenceIDs[norm]; !ok {
			res.OK = false
			res.Errors = append(res.Errors, "Cited chunk id not present in evidence: "+id)
		}
	}
	if !res.OK {
		return res
	}

	// every integer and ISO date in the answer must appear in a cited chunk
	tokens := numberPattern.FindAllString(out, -1)
	tokens = append(tokens, datePattern.FindAllString(out, -1)...)
	for _, token := range tokens {
		if !v.tokenInCited(token, cited) {
			res.OK = false
			res.Errors = append(res.Errors, "Claim token '"+token+"' not found in cited chunks.")
		}
	}
	if !res.OK {
		return res
	}

	for _, m := range calcPattern.FindAllStringSubmatch(out, -1) {
		if err := checkCalc(m[1]); err != nil {
			res.OK = false
			res.Errors = append(res.Errors, err.Error())
			break
		}
	}
	return res
}

func (v *Verifier) tokenInCited(token string, cited []string) bool {
	needle := strings.ToLower(token)
	for _, id := range cited {
		norm := strings.ToLower(strings.TrimSpace(id))
		if strings.Contains(v.chunkText[norm], needle) {
			return true
		}
	}
	return false
}

func extractCitations(out string) []string {
	seen := make(map[string]struct{})
	var cited []string
	for _, m := range sourcePattern.FindAllStringSubmatch(out, -1) {
		for _, part := range strings.Split(m[1], ",") {
			id := strings.TrimSpace(part)
			if id == "" {
				continue
			}
			if _, ok := seen[id]; ok {
				continue
			}
			seen[id] = struct{}{}
			cited = append(cited, id)
		}
	}
	return cited
}

func checkCalc(expr string) error {
	expr = strings.TrimSpace(expr)
	sides := strings.Split(expr, "=")
	if len(sides) != 2 {
		return fmt.Errorf("Invalid calc format: %s", expr)
	}

	left, err := Eval(strings.TrimSpace(sides[0]))
	if err != nil {
		return fmt.Errorf("Calc parse error: %s -> %v", expr, err)
	}
	right, err := strconv.ParseFloat(strings.TrimSpace(sides[1]), 64)
	if err != nil {
		return fmt.Errorf("Calc parse error: %s -> %v", expr, err)
	}
	if math.Abs(left-right) > 1e-6 {
		return fmt.Errorf("Calc mismatch: %s evaluated to %v but expected %v", expr, left, right)
	}
	return nil
}
