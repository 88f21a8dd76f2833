package ingestion

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"

	"github.com/edurag/edurag/embeddings"
	"github.com/edurag/edurag/vectorstore"
)

const defaultBatchSize = 8

// RawChunk is one line of the ingestion file.
type RawChunk struct {
	ChunkID   string         `json:"chunk_id"`
	ChunkType string         `json:"chunk_type"`
	Title     string         `json:"title"`
	Text      string         `json:"text"`
	Metadata  map[string]any `json:"metadata"`
}

// Service embeds corpus chunks and upserts them into the dense index with
// deterministic point ids, so re-running ingestion is idempotent.
type Service struct {
	embedder  embeddings.Embedder
	store     *vectorstore.QdrantStore
	dimension int
	batchSize int
	logger    *log.Logger
}

func NewService(embedder embeddings.Embedder, store *vectorstore.QdrantStore, dimension int, logger *log.Logger) *Service {
	if logger == nil {
		logger = log.Default()
	}
	return &Service{
		embedder:  embedder,
		store:     store,
		dimension: dimension,
		batchSize: defaultBatchSize,
		logger:    logger,
	}
}

// IngestFile reads a line-delimited JSON file of chunks, embeds them in
// batches, and upserts the resulting points.
func (s *Service) IngestFile(ctx context.Context, path string) error {
	chunks, err := ReadChunksJSONL(path)
	if err != nil {
		return err
	}
	s.logger.Printf("loaded %d chunks from %s", len(chunks), path)

	if err := s.store.EnsureCollection(ctx, s.dimension); err != nil {
		return fmt.Errorf("ensure collection: %w", err)
	}

	for start := 0; start < len(chunks); start += s.batchSize {
		end := start + s.batchSize
		if end > len(chunks) {
			end = len(chunks)
		}
		if err := s.ingestBatch(ctx, chunks[start:end]); err != nil {
			return err
		}
		s.logger.Printf("upserted %d/%d chunks", end, len(chunks))
	}
	return nil
}

func (s *Service) ingestBatch(ctx context.Context, batch []RawChunk) error {
	texts := make([]string, len(batch))
	for i, c := range batch {
		texts[i] = embedText(c)
	}

	vectors, err := s.embedder.EmbedBatch(ctx, texts)
	if err != nil {
		return fmt.Errorf("embed batch: %w", err)
	}
	if len(vectors) != len(batch) {
		return fmt.Errorf("embedder returned %d vectors for %d chunks", len(vectors), len(batch))
	}

	points := make([]vectorstore.Point, len(batch))
	for i, c := range batch {
		vec := vectors[i]
		embeddings.L2Normalize(vec)
		points[i] = vectorstore.Point{
			ID:     vectorstore.PointID(c.ChunkID),
			Vector: vec,
			Payload: map[string]any{
				"chunk_id":   c.ChunkID,
				"title":      c.Title,
				"chunk_type": c.ChunkType,
				"metadata":   c.Metadata,
			},
		}
	}
	if err := s.store.Upsert(ctx, points); err != nil {
		return fmt.Errorf("upsert points: %w", err)
	}
	return nil
}

// embedText prefers the body text, falling back to the title for chunks
// whose body is empty.
func embedText(c RawChunk) string {
	if c.Text != "" {
		return c.Text
	}
	return c.Title
}

// ReadChunksJSONL parses a line-delimited JSON chunk file, skipping blank
// lines.
func ReadChunksJSONL(path string) ([]RawChunk, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open chunk file: %w", err)
	}
	defer f.Close()

	var chunks []RawChunk
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 1024*1024), 1024*1024)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var c RawChunk
		if err := json.Unmarshal(line, &c); err != nil {
			return nil, fmt.Errorf("parse chunk line %d: %w", lineNo, err)
		}
		if c.ChunkID == "" {
			return nil, fmt.Errorf("chunk line %d has no chunk_id", lineNo)
		}
		chunks = append(chunks, c)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read chunk file: %w", err)
	}
	return chunks, nil
}
