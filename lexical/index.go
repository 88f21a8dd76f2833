package lexical

import (
	"fmt"
	"os"

	"github.com/blevesearch/bleve/v2"

	"github.com/edurag/edurag/database"
)

// Index is a bleve-backed inverted index over chunk title and text. The
// index directory is opened per search so concurrent rebuilds only race on
// the filesystem rename, and a missing or unopenable directory degrades to
// empty results rather than an error.
type Index struct {
	dir string
}

func NewIndex(dir string) *Index {
	return &Index{dir: dir}
}

type indexedChunk struct {
	Title string `json:"title"`
	Text  string `json:"text"`
}

// Rebuild writes a fresh index next to the live one, then removes the live
// directory and renames the fresh one into its place. The swap is two steps,
// not one atomic operation: a Search that runs between them finds no index
// and returns no hits.
func (ix *Index) Rebuild(chunks []database.Chunk) error {
	tmp := ix.dir + ".rebuild"
	if err := os.RemoveAll(tmp); err != nil {
		return fmt.Errorf("clear rebuild dir: %w", err)
	}

	mapping := bleve.NewIndexMapping()
	idx, err := bleve.New(tmp, mapping)
	if err != nil {
		return fmt.Errorf("create lexical index: %w", err)
	}

	batch := idx.NewBatch()
	for _, c := range chunks {
		doc := indexedChunk{Title: c.Title, Text: c.Text}
		if err := batch.Index(c.ChunkID, doc); err != nil {
			idx.Close()
			return fmt.Errorf("index chunk %s: %w", c.ChunkID, err)
		}
	}
	if err := idx.Batch(batch); err != nil {
		idx.Close()
		return fmt.Errorf("commit lexical batch: %w", err)
	}
	if err := idx.Close(); err != nil {
		return fmt.Errorf("close rebuilt index: %w", err)
	}

	if err := os.RemoveAll(ix.dir); err != nil {
		return fmt.Errorf("remove old index: %w", err)
	}
	if err := os.Rename(tmp, ix.dir); err != nil {
		return fmt.Errorf("swap in rebuilt index: %w", err)
	}
	return nil
}

// Search returns up to topK chunk ids ranked by lexical relevance across
// title and text. The query is matched with analyzed term queries, so
// there is no operator syntax to escape. An absent index yields no hits.
func (ix *Index) Search(query string, topK int) ([]string, error) {
	idx, err := bleve.Open(ix.dir)
	if err != nil {
		// degraded but valid state: dense-only retrieval
		return nil, nil
	}
	defer idx.Close()

	title := bleve.NewMatchQuery(query)
	title.SetField("title")
	text := bleve.NewMatchQuery(query)
	text.SetField("text")

	req := bleve.NewSearchRequest(bleve.NewDisjunctionQuery(title, text))
	req.Size = topK

	res, err := idx.Search(req)
	if err != nil {
		return nil, fmt.Errorf("lexical search: %w", err)
	}

	ids := make([]string, 0, len(res.Hits))
	for _, hit := range res.Hits {
		ids = append(ids, hit.ID)
	}
	return ids, nil
}
