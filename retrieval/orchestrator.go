package retrieval

import (
	"context"
	"fmt"
	"log"
	"sort"
	"strings"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/edurag/edurag/config"
	"github.com/edurag/edurag/database"
	"github.com/edurag/edurag/embeddings"
	"github.com/edurag/edurag/llm"
	"github.com/edurag/edurag/prompt"
	"github.com/edurag/edurag/vectorstore"
)

const (
	embedCacheSize = 1000
	retrCacheSize  = 500

	retryAttempts = 3
	retryBase     = 200 * time.Millisecond
)

// DenseIndex is the vector-store surface the pipeline needs.
type DenseIndex interface {
	Search(ctx context.Context, vector []float32, topK, ef int) ([]vectorstore.Candidate, error)
	GetPointsByChunkIDs(ctx context.Context, chunkIDs []string) (map[string]vectorstore.Candidate, error)
}

// LexicalSearcher is the BM25 surface; an absent index returns no ids.
type LexicalSearcher interface {
	Search(query string, topK int) ([]string, error)
}

// CrossScorer scores (query, doc) pairs for the final rerank.
type CrossScorer interface {
	Score(ctx context.Context, query string, docs []database.Chunk) (map[string]float64, error)
}

// FactStore is the relational surface: chunk hydration plus the closed
// set of deterministic queries the router may run.
type FactStore interface {
	FetchChunks(ctx context.Context, chunkIDs []string) (map[string]database.Chunk, error)
	ListCourses(ctx context.Context) ([]database.Course, error)
	ListTopics(ctx context.Context) ([]database.Topic, error)
	ListInstructors(ctx context.Context) ([]map[string]string, error)
	LearnedAtRange(ctx context.Context, topicCode string) (database.DateRange, bool, error)
	CountClassesForTopic(ctx context.Context, topicCode string) (int, bool, error)
	TopicsOnDate(ctx context.Context, isoDate string) ([]map[string]string, error)
	ClassesOnDate(ctx context.Context, isoDate string) ([]map[string]string, error)
	ClassesByInstructor(ctx context.Context, instructorName string) ([]map[string]string, error)
	AssignmentsForClass(ctx context.Context, classID, limit int) ([]map[string]string, error)
	AssignmentsDueOnDate(ctx context.Context, isoDate string) ([]map[string]string, error)
	TopicsWithMostAssignments(ctx context.Context, limit int) ([]map[string]string, error)
	CountAssignmentsPerTopic(ctx context.Context) ([]map[string]string, error)
	TopicsNeverTaught(ctx context.Context) ([]map[string]string, error)
	ClassesWithNoAssignments(ctx context.Context) ([]map[string]string, error)
}

// ChainEntry is one ranked candidate in the diagnostic retrieval chain.
type ChainEntry struct {
	ID    string  `json:"id"`
	Score float64 `json:"score"`
}

type retrieved struct {
	context   []database.Chunk
	chain     []ChainEntry
	denseTop1 float64
}

// Orchestrator composes the hybrid retrieval pipeline and the intent
// router. It is safe for concurrent use as long as the injected embedder
// and cross-encoder are; the caches are themselves thread-safe.
type Orchestrator struct {
	embedder  embeddings.Embedder
	dense     DenseIndex
	lexical   LexicalSearcher
	cross     CrossScorer
	store     FactStore
	generator llm.Provider
	assembler *prompt.Assembler
	cfg       config.Config
	logger    *log.Logger

	embedCache *lru.Cache[string, []float32]
	retrCache  *lru.Cache[string, retrieved]
}

func NewOrchestrator(
	embedder embeddings.Embedder,
	dense DenseIndex,
	lexical LexicalSearcher,
	cross CrossScorer,
	store FactStore,
	generator llm.Provider,
	assembler *prompt.Assembler,
	cfg config.Config,
	logger *log.Logger,
) *Orchestrator {
	if logger == nil {
		logger = log.Default()
	}
	embedCache, _ := lru.New[string, []float32](embedCacheSize)
	retrCache, _ := lru.New[string, retrieved](retrCacheSize)

	return &Orchestrator{
		embedder:   embedder,
		dense:      dense,
		lexical:    lexical,
		cross:      cross,
		store:      store,
		generator:  generator,
		assembler:  assembler,
		cfg:        cfg,
		logger:     logger,
		embedCache: embedCache,
		retrCache:  retrCache,
	}
}

// Retrieve runs the semantic pipeline: embed, dense search, lexical
// search, merge+hydrate, MMR, row fetch, cross-encoder rerank, and the
// final context cut. Results are cached per normalized query.
func (o *Orchestrator) Retrieve(ctx context.Context, query string) ([]database.Chunk, []ChainEntry, float64, error) {
	key := normalizeQuery(query)
	if hit, ok := o.retrCache.Get(key); ok {
		return hit.context, hit.chain, hit.denseTop1, nil
	}

	qvec, err := o.embedQuery(ctx, key, query)
	if err != nil {
		return nil, nil, 0, err
	}

	t0 := time.Now()
	dense, err := withRetry(retryAttempts, func() ([]vectorstore.Candidate, error) {
		return o.dense.Search(ctx, qvec, o.cfg.TopKDense, o.cfg.QdrantEF)
	})
	if err != nil {
		return nil, nil, 0, fmt.Errorf("dense search: %w", err)
	}
	o.logger.Printf("[timing] dense search ms=%d", time.Since(t0).Milliseconds())

	denseTop1 := 0.0
	if len(dense) > 0 {
		denseTop1 = dense[0].Score
	}

	t0 = time.Now()
	lexIDs, err := o.lexical.Search(query, o.cfg.TopKLex)
	if err != nil {
		// lexical degradation is a valid state, not a pipeline failure
		o.logger.Printf("lexical search unavailable: %v", err)
		lexIDs = nil
	}
	o.logger.Printf("[timing] bm25 search ms=%d", time.Since(t0).Milliseconds())

	t0 = time.Now()
	merged, err := MergeAndDedupe(ctx, dense, lexIDs, o.dense)
	if err != nil {
		return nil, nil, 0, fmt.Errorf("merge candidates: %w", err)
	}
	o.logger.Printf("[timing] merge+dedupe ms=%d", time.Since(t0).Milliseconds())

	t0 = time.Now()
	mmrSelected := MMR(merged, qvec, o.cfg.MMRFinalSize, o.cfg.MMRLambda)
	o.logger.Printf("[timing] mmr ms=%d", time.Since(t0).Milliseconds())

	chunkIDs := make([]string, 0, len(mmrSelected))
	for _, c := range mmrSelected {
		chunkIDs = append(chunkIDs, c.ChunkID())
	}

	t0 = time.Now()
	rows, err := withRetry(retryAttempts, func() (map[string]database.Chunk, error) {
		return o.store.FetchChunks(ctx, chunkIDs)
	})
	if err != nil {
		return nil, nil, 0, fmt.Errorf("fetch chunk rows: %w", err)
	}
	o.logger.Printf("[timing] db fetch ms=%d", time.Since(t0).Milliseconds())

	ordered := make([]database.Chunk, 0, len(mmrSelected))
	for _, id := range chunkIDs {
		if row, ok := rows[id]; ok {
			ordered = append(ordered, row)
		}
	}

	t0 = time.Now()
	reranked, chain, err := o.crossRerank(ctx, query, ordered)
	if err != nil {
		return nil, nil, 0, err
	}
	o.logger.Printf("[timing] cross-encoder ms=%d", time.Since(t0).Milliseconds())

	if len(reranked) > o.cfg.RerankFinalN {
		reranked = reranked[:o.cfg.RerankFinalN]
	}
	contextChunks := reranked
	if len(contextChunks) > o.cfg.ContextK {
		contextChunks = contextChunks[:o.cfg.ContextK]
	}

	o.retrCache.Add(key, retrieved{context: contextChunks, chain: chain, denseTop1: denseTop1})
	return contextChunks, chain, denseTop1, nil
}

// crossRerank scores the first RerankTopN chunks and sorts them by score
// descending; unscored chunks keep their tail position.
func (o *Orchestrator) crossRerank(ctx context.Context, query string, ordered []database.Chunk) ([]database.Chunk, []ChainEntry, error) {
	toRerank := ordered
	if len(toRerank) > o.cfg.RerankTopN {
		toRerank = toRerank[:o.cfg.RerankTopN]
	}

	scores, err := o.cross.Score(ctx, query, toRerank)
	if err != nil {
		return nil, nil, fmt.Errorf("cross-encoder rerank: %w", err)
	}

	reranked := make([]database.Chunk, len(toRerank))
	copy(reranked, toRerank)
	sort.SliceStable(reranked, func(i, j int) bool {
		return scores[reranked[i].ChunkID] > scores[reranked[j].ChunkID]
	})

	chain := make([]ChainEntry, 0, len(reranked))
	for _, c := range reranked {
		chain = append(chain, ChainEntry{ID: c.ChunkID, Score: scores[c.ChunkID]})
	}
	reranked = append(reranked, ordered[len(toRerank):]...)
	return reranked, chain, nil
}

func (o *Orchestrator) embedQuery(ctx context.Context, key, query string) ([]float32, error) {
	if vec, ok := o.embedCache.Get(key); ok {
		return vec, nil
	}
	t0 := time.Now()
	vec, err := o.embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}
	o.logger.Printf("[timing] embed ms=%d", time.Since(t0).Milliseconds())
	o.embedCache.Add(key, vec)
	return vec, nil
}

func normalizeQuery(q string) string {
	return strings.ToLower(strings.TrimSpace(q))
}

// withRetry retries transient failures with exponential backoff
// (base, 2*base, 4*base, ...), returning the last error when attempts
// run out.
func withRetry[T any](attempts int, fn func() (T, error)) (T, error) {
	var zero T
	var err error
	for attempt := 1; attempt <= attempts; attempt++ {
		var v T
		v, err = fn()
		if err == nil {
			return v, nil
		}
		if attempt < attempts {
			time.Sleep(retryBase * time.Duration(1<<(attempt-1)))
		}
	}
	return zero, err
}
