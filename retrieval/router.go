package retrieval

import (
	"context"
	"fmt"
	"strings"

	"github.com/edurag/edurag/database"
	"github.com/edurag/edurag/intent"
	"github.com/edurag/edurag/prompt"
	"github.com/edurag/edurag/verify"
)

const (
	ConfidenceHigh   = "high"
	ConfidenceMedium = "medium"
	ConfidenceLow    = "low"

	// GreetingAnswer is returned for social openers without retrieval.
	GreetingAnswer = "Hello! How can I help you with your learning topics today?"

	// LowConfidencePrefix is prepended outside the prompt when the lenient
	// path runs.
	LowConfidencePrefix = "I couldn't find a matching authoritative record in your database. Based on semantic evidence (low confidence), "
)

// Result is the routed answer with its provenance.
type Result struct {
	Answer     string
	Sources    []string
	Intent     intent.Intent
	Confidence string
	SQL        string
	Chain      []ChainEntry
}

// Ask routes a query by intent and produces the final answer.
func (o *Orchestrator) Ask(ctx context.Context, query string, history []prompt.Turn) (Result, error) {
	label := intent.Classify(query)

	switch label {
	case intent.Greeting:
		return Result{
			Answer:     GreetingAnswer,
			Intent:     intent.Greeting,
			Confidence: ConfidenceHigh,
		}, nil

	case intent.Factual:
		if res, ok, err := o.tryFactual(ctx, query); err != nil {
			return Result{}, err
		} else if ok {
			return res, nil
		}
		// no relational match: fall back to the semantic path
		return o.askSemantic(ctx, query, history, intent.Factual)

	case intent.Semantic:
		return o.askSemantic(ctx, query, history, intent.Semantic)

	default:
		return o.askMixed(ctx, query, history)
	}
}

// askSemantic runs the pure RAG path. Below the fallback threshold (or
// with empty retrieval) the lenient prompt is used and the answer gets the
// low-confidence disclaimer.
func (o *Orchestrator) askSemantic(ctx context.Context, query string, history []prompt.Turn, label intent.Intent) (Result, error) {
	contextChunks, chain, denseTop1, err := o.Retrieve(ctx, query)
	if err != nil {
		return Result{}, err
	}

	lowConfidence := len(contextChunks) == 0 || denseTop1 < o.cfg.RAGScoreFallbackThreshold
	return o.generate(ctx, query, history, contextChunks, chain, label, denseTop1, lowConfidence)
}

// askMixed runs RAG and, when a deterministic relational query also
// matches, injects its SQL chunk at the top, cross-encoder reranks the
// merged set, and generates from that context.
func (o *Orchestrator) askMixed(ctx context.Context, query string, history []prompt.Turn) (Result, error) {
	contextChunks, chain, denseTop1, err := o.Retrieve(ctx, query)
	if err != nil {
		return Result{}, err
	}

	sqlChunk, sqlText, haveSQL, err := o.factualChunk(ctx, query)
	if err != nil {
		return Result{}, err
	}

	if haveSQL {
		merged := append([]database.Chunk{sqlChunk}, contextChunks...)
		reranked, rerankedChain, err := o.crossRerank(ctx, query, merged)
		if err != nil {
			return Result{}, err
		}
		// the authoritative chunk is always kept in context
		contextChunks = pinFirst(reranked, sqlChunk.ChunkID)
		if len(contextChunks) > o.cfg.ContextK {
			contextChunks = contextChunks[:o.cfg.ContextK]
		}
		chain = rerankedChain
	}

	lowConfidence := !haveSQL && (len(contextChunks) == 0 || denseTop1 < o.cfg.RAGScoreFallbackThreshold)
	res, err := o.generate(ctx, query, history, contextChunks, chain, intent.Mixed, denseTop1, lowConfidence)
	if err != nil {
		return Result{}, err
	}
	if haveSQL {
		res.SQL = sqlText
	}
	return res, nil
}

// generate assembles the prompt, invokes the provider, verifies the
// answer, and fills confidence and sources.
func (o *Orchestrator) generate(
	ctx context.Context,
	query string,
	history []prompt.Turn,
	contextChunks []database.Chunk,
	chain []ChainEntry,
	label intent.Intent,
	denseTop1 float64,
	lowConfidence bool,
) (Result, error) {
	var p string
	if lowConfidence {
		p = o.assembler.BuildLenient(contextChunks, query, o.cfg.ContextK, history)
	} else {
		p = o.assembler.BuildStrict(contextChunks, query, o.cfg.ContextK, history)
	}

	answer, err := withRetry(retryAttempts, func() (string, error) {
		return o.generator.Generate(ctx, p, o.cfg.LLM.MaxTokens)
	})
	if err != nil {
		return Result{}, fmt.Errorf("generate answer: %w", err)
	}
	answer = strings.TrimSpace(answer)

	verifier := verify.NewVerifier(contextChunks)
	check := verifier.Verify(answer)

	confidence := ConfidenceHigh
	switch {
	case lowConfidence:
		confidence = ConfidenceLow
		answer = LowConfidencePrefix + answer
	case !check.OK:
		confidence = ConfidenceMedium
	}

	sources := check.CitedChunkIDs
	if len(sources) == 0 {
		for _, c := range contextChunks {
			sources = append(sources, c.ChunkID)
		}
	}

	return Result{
		Answer:     answer,
		Sources:    sources,
		Intent:     label,
		Confidence: confidence,
		Chain:      chain,
	}, nil
}

func pinFirst(chunks []database.Chunk, id string) []database.Chunk {
	for i, c := range chunks {
		if c.ChunkID == id {
			if i == 0 {
				return chunks
			}
			out := make([]database.Chunk, 0, len(chunks))
			out = append(out, c)
			out = append(out, chunks[:i]...)
			out = append(out, chunks[i+1:]...)
			return out
		}
	}
	return append([]database.Chunk{}, chunks...)
}
