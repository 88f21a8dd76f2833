package retrieval

import (
	"context"
	"io"
	"log"
	"strings"
	"testing"

	"github.com/edurag/edurag/config"
	"github.com/edurag/edurag/database"
	"github.com/edurag/edurag/embeddings"
	"github.com/edurag/edurag/intent"
	"github.com/edurag/edurag/llm"
	"github.com/edurag/edurag/prompt"
	"github.com/edurag/edurag/vectorstore"
)

type stubEmbedder struct {
	vector []float32
}

func (s *stubEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	return s.vector, nil
}

func (s *stubEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = s.vector
	}
	return out, nil
}

var _ embeddings.Embedder = (*stubEmbedder)(nil)

type stubLexical struct {
	ids []string
}

func (s *stubLexical) Search(query string, topK int) ([]string, error) {
	return s.ids, nil
}

var _ LexicalSearcher = (*stubLexical)(nil)

type stubCross struct{}

func (s *stubCross) Score(ctx context.Context, query string, docs []database.Chunk) (map[string]float64, error) {
	out := make(map[string]float64, len(docs))
	// descending by input position keeps the upstream order stable
	for i, d := range docs {
		out[d.ChunkID] = float64(len(docs) - i)
	}
	return out, nil
}

var _ CrossScorer = (*stubCross)(nil)

type stubFactStore struct {
	chunks       map[string]database.Chunk
	courses      []database.Course
	topics       []database.Topic
	learnedRange map[string]database.DateRange
	classCounts  map[string]int

	instructors         []map[string]string
	topicsOnDate        map[string][]map[string]string
	classesOnDate       map[string][]map[string]string
	classesByInstructor map[string][]map[string]string
	assignmentsForClass map[int][]map[string]string
	assignmentsDue      map[string][]map[string]string
	mostAssignments     []map[string]string
	assignmentsPerTopic []map[string]string
	neverTaught         []map[string]string
	noAssignments       []map[string]string
}

func (s *stubFactStore) FetchChunks(ctx context.Context, chunkIDs []string) (map[string]database.Chunk, error) {
	out := map[string]database.Chunk{}
	for _, id := range chunkIDs {
		if c, ok := s.chunks[id]; ok {
			out[id] = c
		}
	}
	return out, nil
}

func (s *stubFactStore) ListCourses(ctx context.Context) ([]database.Course, error) {
	return s.courses, nil
}

func (s *stubFactStore) ListTopics(ctx context.Context) ([]database.Topic, error) {
	return s.topics, nil
}

func (s *stubFactStore) LearnedAtRange(ctx context.Context, topicCode string) (database.DateRange, bool, error) {
	r, ok := s.learnedRange[topicCode]
	return r, ok, nil
}

func (s *stubFactStore) CountClassesForTopic(ctx context.Context, topicCode string) (int, bool, error) {
	cnt, ok := s.classCounts[topicCode]
	return cnt, ok, nil
}

func (s *stubFactStore) ListInstructors(ctx context.Context) ([]map[string]string, error) {
	return s.instructors, nil
}

func (s *stubFactStore) TopicsOnDate(ctx context.Context, isoDate string) ([]map[string]string, error) {
	return s.topicsOnDate[isoDate], nil
}

func (s *stubFactStore) ClassesOnDate(ctx context.Context, isoDate string) ([]map[string]string, error) {
	return s.classesOnDate[isoDate], nil
}

func (s *stubFactStore) ClassesByInstructor(ctx context.Context, instructorName string) ([]map[string]string, error) {
	return s.classesByInstructor[instructorName], nil
}

func (s *stubFactStore) AssignmentsForClass(ctx context.Context, classID, limit int) ([]map[string]string, error) {
	return s.assignmentsForClass[classID], nil
}

func (s *stubFactStore) AssignmentsDueOnDate(ctx context.Context, isoDate string) ([]map[string]string, error) {
	return s.assignmentsDue[isoDate], nil
}

func (s *stubFactStore) TopicsWithMostAssignments(ctx context.Context, limit int) ([]map[string]string, error) {
	return s.mostAssignments, nil
}

func (s *stubFactStore) CountAssignmentsPerTopic(ctx context.Context) ([]map[string]string, error) {
	return s.assignmentsPerTopic, nil
}

func (s *stubFactStore) TopicsNeverTaught(ctx context.Context) ([]map[string]string, error) {
	return s.neverTaught, nil
}

func (s *stubFactStore) ClassesWithNoAssignments(ctx context.Context) ([]map[string]string, error) {
	return s.noAssignments, nil
}

var _ FactStore = (*stubFactStore)(nil)

type stubProvider struct {
	answer  string
	prompts []string
}

func (s *stubProvider) Generate(ctx context.Context, p string, maxTokens int) (string, error) {
	s.prompts = append(s.prompts, p)
	return s.answer, nil
}

func (s *stubProvider) Name() string { return "stub" }

var _ llm.Provider = (*stubProvider)(nil)

func testConfig() config.Config {
	return config.Config{
		TopKDense:                 100,
		TopKLex:                   50,
		MMRFinalSize:              20,
		MMRLambda:                 0.7,
		RerankTopN:                20,
		RerankFinalN:              6,
		ContextK:                  4,
		QdrantEF:                  200,
		RAGScoreFallbackThreshold: 0.3,
		PromptMaxTokens:           4096,
		PromptReservedAnswer:      400,
		PromptOverhead:            200,
		LLM:                       config.LLMConfig{MaxTokens: 300},
	}
}

func newTestOrchestrator(dense *stubDenseIndex, store *stubFactStore, provider *stubProvider) *Orchestrator {
	assembler := prompt.NewAssembler(4096, 400, 200)
	logger := log.New(io.Discard, "", 0)
	return NewOrchestrator(
		&stubEmbedder{vector: []float32{1, 0}},
		dense,
		&stubLexical{},
		&stubCross{},
		store,
		provider,
		assembler,
		testConfig(),
		logger,
	)
}

func TestAskGreeting(t *testing.T) {
	orch := newTestOrchestrator(&stubDenseIndex{}, &stubFactStore{}, &stubProvider{})

	res, err := orch.Ask(context.Background(), "hello", nil)
	if err != nil {
		t.Fatalf("ask failed: %v", err)
	}
	if res.Intent != intent.Greeting {
		t.Fatalf("intent = %s, want GREETING", res.Intent)
	}
	if res.Answer != GreetingAnswer {
		t.Fatalf("answer = %q", res.Answer)
	}
	if res.Confidence != ConfidenceHigh {
		t.Fatalf("confidence = %s, want high", res.Confidence)
	}
}

func TestAskFactualCountClasses(t *testing.T) {
	store := &stubFactStore{classCounts: map[string]int{"C1-T1": 5}}
	orch := newTestOrchestrator(&stubDenseIndex{}, store, &stubProvider{})

	res, err := orch.Ask(context.Background(), "How many classes for C1-T1?", nil)
	if err != nil {
		t.Fatalf("ask failed: %v", err)
	}
	if res.Intent != intent.Factual {
		t.Fatalf("intent = %s, want FACTUAL", res.Intent)
	}
	if !strings.Contains(res.Answer, "You have 5 classes for C1-T1.") {
		t.Fatalf("answer = %q", res.Answer)
	}
	if len(res.Sources) != 1 || res.Sources[0] != "SQL-count_classes_C1-T1" {
		t.Fatalf("sources = %v", res.Sources)
	}
	if res.Confidence != ConfidenceHigh {
		t.Fatalf("confidence = %s, want high", res.Confidence)
	}
	if res.SQL == "" {
		t.Fatal("expected the deterministic query text for display")
	}
}

func TestAskFactualLearnedAtSingleDay(t *testing.T) {
	store := &stubFactStore{learnedRange: map[string]database.DateRange{
		"C2-T3": {Earliest: "2025-06-21T00:00", Latest: "2025-06-21T00:00"},
	}}
	orch := newTestOrchestrator(&stubDenseIndex{}, store, &stubProvider{})

	res, err := orch.Ask(context.Background(), "When did I learn C2-T3?", nil)
	if err != nil {
		t.Fatalf("ask failed: %v", err)
	}
	if res.Intent != intent.Factual {
		t.Fatalf("intent = %s, want FACTUAL", res.Intent)
	}
	if res.Answer != "You learned C2-T3 on June 21, 2025." {
		t.Fatalf("answer = %q", res.Answer)
	}
}

func TestAskSemanticHighConfidence(t *testing.T) {
	courseChunk := database.Chunk{
		ChunkID:   "COURSE-1",
		ChunkType: database.ChunkTypeCourse,
		Title:     "Databases",
		Text:      "Course 1 is an introductory course covering relational databases and SQL.",
	}
	dense := &stubDenseIndex{
		searchResults: []vectorstore.Candidate{
			{ID: "p1", Score: 0.82, Vector: []float32{1, 0}, Payload: map[string]any{"chunk_id": "COURSE-1"}},
		},
	}
	store := &stubFactStore{chunks: map[string]database.Chunk{"COURSE-1": courseChunk}}
	provider := &stubProvider{answer: "The Databases course covers relational databases and SQL. [source: COURSE-1]"}
	orch := newTestOrchestrator(dense, store, provider)

	res, err := orch.Ask(context.Background(), "Describe each course", nil)
	if err != nil {
		t.Fatalf("ask failed: %v", err)
	}
	if res.Intent != intent.Semantic {
		t.Fatalf("intent = %s, want SEMANTIC", res.Intent)
	}
	if res.Confidence != ConfidenceHigh {
		t.Fatalf("confidence = %s, want high", res.Confidence)
	}
	if len(res.Sources) == 0 || res.Sources[0] != "COURSE-1" {
		t.Fatalf("sources = %v", res.Sources)
	}
	if !strings.Contains(res.Answer, "[source: COURSE-1]") {
		t.Fatalf("answer missing citation: %q", res.Answer)
	}
	if len(provider.prompts) != 1 || !strings.Contains(provider.prompts[0], "[CHUNK id=COURSE-1") {
		t.Fatal("strict prompt should embed the course chunk")
	}
}

func TestAskFactualFallsBackLowConfidence(t *testing.T) {
	offTopic := database.Chunk{
		ChunkID:   "TOPIC-9",
		ChunkType: database.ChunkTypeTopic,
		Title:     "Sorting",
		Text:      "Sorting algorithms ordered by complexity.",
	}
	dense := &stubDenseIndex{
		searchResults: []vectorstore.Candidate{
			{ID: "p1", Score: 0.12, Vector: []float32{1, 0}, Payload: map[string]any{"chunk_id": "TOPIC-9"}},
		},
	}
	store := &stubFactStore{chunks: map[string]database.Chunk{"TOPIC-9": offTopic}}
	provider := &stubProvider{answer: "there is no moon data in the syllabus."}
	orch := newTestOrchestrator(dense, store, provider)

	res, err := orch.Ask(context.Background(), "How many moons in our syllabus?", nil)
	if err != nil {
		t.Fatalf("ask failed: %v", err)
	}
	if res.Confidence != ConfidenceLow {
		t.Fatalf("confidence = %s, want low", res.Confidence)
	}
	if !strings.HasPrefix(res.Answer, LowConfidencePrefix) {
		t.Fatalf("answer missing low-confidence disclaimer: %q", res.Answer)
	}
}

func TestAskMixedInjectsSQLChunk(t *testing.T) {
	topicChunk := database.Chunk{
		ChunkID:   "TOPIC-2",
		ChunkType: database.ChunkTypeTopic,
		Title:     "Joins",
		Text:      "Inner and outer joins across tables.",
	}
	dense := &stubDenseIndex{
		searchResults: []vectorstore.Candidate{
			{ID: "p1", Score: 0.7, Vector: []float32{1, 0}, Payload: map[string]any{"chunk_id": "TOPIC-2"}},
		},
	}
	store := &stubFactStore{
		chunks:      map[string]database.Chunk{"TOPIC-2": topicChunk},
		classCounts: map[string]int{"C1-T2": 3},
	}
	provider := &stubProvider{answer: "You have 3 classes on joins. [source: SQL-count_classes_C1-T2]"}
	orch := newTestOrchestrator(dense, store, provider)

	// count cue plus explain cue classifies as mixed
	res, err := orch.Ask(context.Background(), "How many classes for C1-T2, and explain the topic", nil)
	if err != nil {
		t.Fatalf("ask failed: %v", err)
	}
	if res.Intent != intent.Mixed {
		t.Fatalf("intent = %s, want MIXED", res.Intent)
	}
	if res.SQL == "" {
		t.Fatal("expected SQL text when a relational query matched")
	}
	if len(provider.prompts) != 1 || !strings.Contains(provider.prompts[0], "SQL-count_classes_C1-T2") {
		t.Fatal("prompt should contain the injected SQL chunk")
	}
	if res.Confidence != ConfidenceHigh {
		t.Fatalf("confidence = %s, want high", res.Confidence)
	}
}

func TestAskFactualListInstructors(t *testing.T) {
	store := &stubFactStore{instructors: []map[string]string{
		{"id": "1", "name": "Ada Lovelace"},
		{"id": "2", "name": "Edgar Codd"},
	}}
	orch := newTestOrchestrator(&stubDenseIndex{}, store, &stubProvider{})

	res, err := orch.Ask(context.Background(), "List the instructors", nil)
	if err != nil {
		t.Fatalf("ask failed: %v", err)
	}
	if res.Intent != intent.Factual || res.Confidence != ConfidenceHigh {
		t.Fatalf("intent=%s confidence=%s", res.Intent, res.Confidence)
	}
	if !strings.Contains(res.Answer, "You have 2 instructors:") || !strings.Contains(res.Answer, "Ada Lovelace") {
		t.Fatalf("answer = %q", res.Answer)
	}
	if len(res.Sources) != 1 || res.Sources[0] != "SQL-list_instructors" {
		t.Fatalf("sources = %v", res.Sources)
	}
}

func TestAskFactualTopicsNeverTaught(t *testing.T) {
	store := &stubFactStore{neverTaught: []map[string]string{
		{"code": "C2-T9", "title": "Query Planning"},
	}}
	orch := newTestOrchestrator(&stubDenseIndex{}, store, &stubProvider{})

	res, err := orch.Ask(context.Background(), "Which topics were never taught?", nil)
	if err != nil {
		t.Fatalf("ask failed: %v", err)
	}
	if !strings.Contains(res.Answer, "C2-T9: Query Planning") {
		t.Fatalf("answer = %q", res.Answer)
	}
	if res.Sources[0] != "SQL-topics_never_taught" {
		t.Fatalf("sources = %v", res.Sources)
	}
}

func TestAskFactualMostAssignmentsBeatsGenericListing(t *testing.T) {
	store := &stubFactStore{
		topics: []database.Topic{{Code: "C1-T1", Title: "SQL Basics"}},
		mostAssignments: []map[string]string{
			{"code": "C1-T1", "title": "SQL Basics", "assignments_count": "4"},
		},
	}
	orch := newTestOrchestrator(&stubDenseIndex{}, store, &stubProvider{})

	res, err := orch.Ask(context.Background(), "Which topics have the most assignments?", nil)
	if err != nil {
		t.Fatalf("ask failed: %v", err)
	}
	if res.Sources[0] != "SQL-topics_most_assignments" {
		t.Fatalf("sources = %v", res.Sources)
	}
	if !strings.Contains(res.Answer, "C1-T1: SQL Basics (4 assignments)") {
		t.Fatalf("answer = %q", res.Answer)
	}
}

func TestAskFactualAssignmentsDueOnDate(t *testing.T) {
	store := &stubFactStore{assignmentsDue: map[string][]map[string]string{
		"2025-07-01": {{"assignment_id": "3", "title": "Joins worksheet", "due_date": "2025-07-01"}},
	}}
	orch := newTestOrchestrator(&stubDenseIndex{}, store, &stubProvider{})

	res, err := orch.Ask(context.Background(), "Which assignments are due on 2025-07-01?", nil)
	if err != nil {
		t.Fatalf("ask failed: %v", err)
	}
	if res.Sources[0] != "SQL-assignments_due_2025-07-01" {
		t.Fatalf("sources = %v", res.Sources)
	}
	if !strings.Contains(res.Answer, "Joins worksheet (due 2025-07-01)") {
		t.Fatalf("answer = %q", res.Answer)
	}
}

func TestAskFactualTopicsOnDate(t *testing.T) {
	store := &stubFactStore{topicsOnDate: map[string][]map[string]string{
		"2025-06-21": {{"class_id": "7", "learned_at": "2025-06-21T09:00", "topic_code": "C1-T1", "topic_title": "SQL Basics"}},
	}}
	orch := newTestOrchestrator(&stubDenseIndex{}, store, &stubProvider{})

	res, err := orch.Ask(context.Background(), "Which topics did I cover on 2025-06-21?", nil)
	if err != nil {
		t.Fatalf("ask failed: %v", err)
	}
	if res.Sources[0] != "SQL-topics_on_2025-06-21" {
		t.Fatalf("sources = %v", res.Sources)
	}
	if !strings.Contains(res.Answer, "C1-T1: SQL Basics") {
		t.Fatalf("answer = %q", res.Answer)
	}
}

func TestAskFactualClassesByInstructor(t *testing.T) {
	store := &stubFactStore{classesByInstructor: map[string][]map[string]string{
		"Ada Lovelace": {{"class_id": "1", "learned_at": "2025-06-01T09:00", "topic_code": "C1-T1", "topic_title": "SQL Basics"}},
	}}
	orch := newTestOrchestrator(&stubDenseIndex{}, store, &stubProvider{})

	res, err := orch.Ask(context.Background(), "List the classes taught by Ada Lovelace", nil)
	if err != nil {
		t.Fatalf("ask failed: %v", err)
	}
	if res.Sources[0] != "SQL-classes_by_ada_lovelace" {
		t.Fatalf("sources = %v", res.Sources)
	}
	if !strings.Contains(res.Answer, "Ada Lovelace taught 1 classes:") {
		t.Fatalf("answer = %q", res.Answer)
	}
}

func TestAskFactualAssignmentsForClass(t *testing.T) {
	store := &stubFactStore{assignmentsForClass: map[int][]map[string]string{
		12: {{"assignment_id": "5", "title": "Normalization drill", "due_date": "2025-07-10"}},
	}}
	orch := newTestOrchestrator(&stubDenseIndex{}, store, &stubProvider{})

	res, err := orch.Ask(context.Background(), "List the assignments for class 12", nil)
	if err != nil {
		t.Fatalf("ask failed: %v", err)
	}
	if res.Sources[0] != "SQL-assignments_for_class_12" {
		t.Fatalf("sources = %v", res.Sources)
	}
	if !strings.Contains(res.Answer, "Class 12 has 1 assignments:") {
		t.Fatalf("answer = %q", res.Answer)
	}
}

func TestAskFactualClassesWithNoAssignments(t *testing.T) {
	store := &stubFactStore{noAssignments: []map[string]string{
		{"class_id": "9", "topic_code": "C2-T2", "topic_title": "Indexing"},
	}}
	orch := newTestOrchestrator(&stubDenseIndex{}, store, &stubProvider{})

	res, err := orch.Ask(context.Background(), "Which classes have no assignments?", nil)
	if err != nil {
		t.Fatalf("ask failed: %v", err)
	}
	if res.Sources[0] != "SQL-classes_no_assignments" {
		t.Fatalf("sources = %v", res.Sources)
	}
}

func TestAskFactualUnmatchedDateFallsThrough(t *testing.T) {
	offTopic := database.Chunk{ChunkID: "TOPIC-9", ChunkType: database.ChunkTypeTopic, Text: "filler"}
	dense := &stubDenseIndex{
		searchResults: []vectorstore.Candidate{
			{ID: "p1", Score: 0.6, Vector: []float32{1, 0}, Payload: map[string]any{"chunk_id": "TOPIC-9"}},
		},
	}
	store := &stubFactStore{chunks: map[string]database.Chunk{"TOPIC-9": offTopic}}
	provider := &stubProvider{answer: "nothing scheduled that day."}
	orch := newTestOrchestrator(dense, store, provider)

	// date matcher fires but the store has no rows for the day
	res, err := orch.Ask(context.Background(), "Which classes were on 2025-12-25?", nil)
	if err != nil {
		t.Fatalf("ask failed: %v", err)
	}
	if res.SQL != "" {
		t.Fatalf("empty relational result must not claim a SQL match, got %q", res.SQL)
	}
	if len(provider.prompts) != 1 {
		t.Fatal("empty relational result should fall back to the semantic path")
	}
}

func TestAskMixedInjectsDateChunk(t *testing.T) {
	topicChunk := database.Chunk{ChunkID: "TOPIC-2", ChunkType: database.ChunkTypeTopic, Title: "Joins", Text: "join types"}
	dense := &stubDenseIndex{
		searchResults: []vectorstore.Candidate{
			{ID: "p1", Score: 0.7, Vector: []float32{1, 0}, Payload: map[string]any{"chunk_id": "TOPIC-2"}},
		},
	}
	store := &stubFactStore{
		chunks: map[string]database.Chunk{"TOPIC-2": topicChunk},
		classesOnDate: map[string][]map[string]string{
			"2025-06-21": {{"class_id": "7", "learned_at": "2025-06-21T09:00", "topic_code": "C1-T2", "topic_title": "Joins"}},
		},
	}
	provider := &stubProvider{answer: "One class on joins that day. [source: SQL-classes_on_2025-06-21]"}
	orch := newTestOrchestrator(dense, store, provider)

	res, err := orch.Ask(context.Background(), "Which classes were on 2025-06-21, and describe them", nil)
	if err != nil {
		t.Fatalf("ask failed: %v", err)
	}
	if res.Intent != intent.Mixed {
		t.Fatalf("intent = %s, want MIXED", res.Intent)
	}
	if res.SQL == "" {
		t.Fatal("expected SQL text when the date query matched")
	}
	if len(provider.prompts) != 1 || !strings.Contains(provider.prompts[0], "SQL-classes_on_2025-06-21") {
		t.Fatal("prompt should contain the injected date chunk")
	}
}

func TestExtractTopicCode(t *testing.T) {
	cases := map[string]string{
		"When did I learn C2-T3?":   "C2-T3",
		"tell me about c10-t4 now":  "C10-T4",
		"no code in this question":  "",
		"C1-T1 and C2-T2 both here": "C1-T1",
	}
	for in, want := range cases {
		if got := ExtractTopicCode(in); got != want {
			t.Fatalf("ExtractTopicCode(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestRetrieveUsesCache(t *testing.T) {
	chunk := database.Chunk{ChunkID: "TOPIC-1", ChunkType: database.ChunkTypeTopic, Text: "text"}
	dense := &stubDenseIndex{
		searchResults: []vectorstore.Candidate{
			{ID: "p1", Score: 0.9, Vector: []float32{1, 0}, Payload: map[string]any{"chunk_id": "TOPIC-1"}},
		},
	}
	store := &stubFactStore{chunks: map[string]database.Chunk{"TOPIC-1": chunk}}
	orch := newTestOrchestrator(dense, store, &stubProvider{})

	first, _, _, err := orch.Retrieve(context.Background(), "Sorting Basics")
	if err != nil {
		t.Fatalf("retrieve failed: %v", err)
	}

	// a second call with different casing must hit the cache, not the index
	dense.searchErr = io.ErrUnexpectedEOF
	second, _, _, err := orch.Retrieve(context.Background(), "  sorting basics ")
	if err != nil {
		t.Fatalf("cached retrieve failed: %v", err)
	}
	if len(first) != len(second) || first[0].ChunkID != second[0].ChunkID {
		t.Fatal("cache returned a different context")
	}
}
