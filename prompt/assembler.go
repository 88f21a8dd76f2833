package prompt

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/edurag/edurag/database"
	"github.com/edurag/edurag/verify"
)

const (
	// fallback character budget when not even one chunk fits the window
	minimalFallbackChars = 512

	defaultHistoryTurns   = 6
	defaultTurnCharLimit  = 800
)

// Turn is a prior conversation exchange included in the prompt.
type Turn struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Assembler builds token-budgeted prompts from reranked context chunks.
// The evidence window is MaxTokens − ReservedAnswer − Overhead.
type Assembler struct {
	MaxTokens      int
	ReservedAnswer int
	Overhead       int

	HistoryTurns  int
	TurnCharLimit int
}

func NewAssembler(maxTokens, reservedAnswer, overhead int) *Assembler {
	return &Assembler{
		MaxTokens:      maxTokens,
		ReservedAnswer: reservedAnswer,
		Overhead:       overhead,
		HistoryTurns:   defaultHistoryTurns,
		TurnCharLimit:  defaultTurnCharLimit,
	}
}

// BuildStrict renders the citation-enforcing prompt variant.
func (a *Assembler) BuildStrict(contextChunks []database.Chunk, userQuestion string, contextK int, history []Turn) string {
	return a.build(contextChunks, userQuestion, contextK, history, true)
}

// BuildLenient renders the best-effort variant used under low confidence.
// The low-confidence disclaimer is applied by the caller, outside the
// prompt.
func (a *Assembler) BuildLenient(contextChunks []database.Chunk, userQuestion string, contextK int, history []Turn) string {
	return a.build(contextChunks, userQuestion, contextK, history, false)
}

func (a *Assembler) build(contextChunks []database.Chunk, userQuestion string, contextK int, history []Turn, strict bool) string {
	available := a.MaxTokens - a.ReservedAnswer - a.Overhead
	used := 0
	included := 0
	var evidence strings.Builder

	for _, c := range contextChunks {
		if included >= contextK {
			break
		}
		header := fmt.Sprintf("[CHUNK id=%s type=%s]\n", c.ChunkID, safeType(c.ChunkType))
		headerTok := CountTokens(header)
		bodyTok := CountTokens(c.Text)

		if used+headerTok+bodyTok <= available {
			evidence.WriteString(header)
			evidence.WriteString(c.Text)
			evidence.WriteString("\n[/CHUNK]\n\n")
			used += headerTok + bodyTok
			included++
			continue
		}

		// trim the body to fit; roughly 4 chars per token
		remainingTokens := max(0, available-used-headerTok)
		charBudget := max(80, remainingTokens*4)
		trimmed := TruncateHeadTailPreserveFacts(c.Text, charBudget)
		trimmedTok := CountTokens(trimmed)
		if trimmed != "" && trimmedTok+headerTok <= available-used {
			evidence.WriteString(header)
			evidence.WriteString(trimmed)
			evidence.WriteString("\n[/CHUNK]\n\n")
			used += headerTok + trimmedTok
			included++
			continue
		}
		break
	}

	if included == 0 && len(contextChunks) > 0 {
		c := contextChunks[0]
		header := fmt.Sprintf("[CHUNK id=%s type=%s]\n", c.ChunkID, safeType(c.ChunkType))
		trimmed := TruncateHeadTailPreserveFacts(c.Text, minimalFallbackChars)
		evidence.WriteString(header)
		evidence.WriteString(trimmed)
		evidence.WriteString("\n[/CHUNK]\n\n")
	}

	var p strings.Builder
	p.WriteString("[SYSTEM]\n")
	if strict {
		p.WriteString("You are a factual assistant. You may only use the evidence excerpts provided below to answer the user's question. If the evidence does not support the question, say exactly: \"" + verify.RefusalString + "\"\n\n")
	} else {
		p.WriteString("You are a helpful assistant. Use the evidence excerpts below where possible; when the evidence is thin, answer best-effort from what is available and keep factual claims tentative.\n\n")
	}

	if h := a.renderHistory(history); h != "" {
		p.WriteString("[HISTORY]\n")
		p.WriteString(h)
		p.WriteString("\n")
	}

	p.WriteString("[EVIDENCE]\n")
	p.WriteString(evidence.String())
	p.WriteString("[USER QUESTION]\n")
	p.WriteString(userQuestion)
	p.WriteString("\n\n[INSTRUCTIONS]\n")
	p.WriteString("1. Answer concisely (1-3 sentences).\n")
	if strict {
		p.WriteString("2. Base every factual claim only on the evidence above.\n")
		p.WriteString("3. If you state a fact present in the evidence, append the source bracket(s) for that fact: [source: <CHUNK_ID>].\n")
		p.WriteString("4. Never invent dates, numbers or facts. If a fact is not present, respond: \"" + verify.RefusalString + "\"\n")
		p.WriteString("5. If you compute a numeric aggregation, use only numbers explicitly present in the evidence and show the short calculation in square brackets, e.g., \"[calc: 2+3=5]\".\n")
		p.WriteString("6. If the question asks for explanation + fact, put the fact first (with source), then one short explanation sentence that does not include new factual claims.\n")
	} else {
		p.WriteString("2. Prefer facts from the evidence above and cite them as [source: <CHUNK_ID>].\n")
		p.WriteString("3. When the evidence does not cover the question, give your best answer and say what is uncertain.\n")
	}
	p.WriteString("\n[OUTPUT FORMAT]\n")
	p.WriteString("Answer: <one paragraph (1-3 sentences)>\n")
	p.WriteString("Sources: <comma-separated CHUNK_IDs used>\n")
	p.WriteString("Optional SQL: <SQL snippet or \"N/A\">\n\n")
	p.WriteString("[END]\n")

	return p.String()
}

// renderHistory includes up to the last HistoryTurns turns, keeping the
// tail of turns longer than TurnCharLimit.
func (a *Assembler) renderHistory(history []Turn) string {
	if len(history) == 0 {
		return ""
	}
	turns := a.HistoryTurns
	if turns <= 0 {
		turns = defaultHistoryTurns
	}
	if len(history) > turns {
		history = history[len(history)-turns:]
	}

	limit := a.TurnCharLimit
	if limit <= 0 {
		limit = defaultTurnCharLimit
	}

	var sb strings.Builder
	for _, t := range history {
		content := t.Content
		if len(content) > limit {
			content = "..." + content[len(content)-limit:]
		}
		fmt.Fprintf(&sb, "%s: %s\n", t.Role, content)
	}
	return sb.String()
}

var whitespaceRun = regexp.MustCompile(`\s+`)

func safeType(t string) string {
	if t == "" {
		return "unknown"
	}
	return whitespaceRun.ReplaceAllString(t, "_")
}
