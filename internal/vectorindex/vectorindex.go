// Package vectorindex wraps the embedded chromem-go vector database used as
// the secondary semantic index over knowledge records.
//
// chromem-go is pure Go with persistence to gob files, so the index lives
// next to the SQLite store under the same storage root. Documents are stored
// with precomputed embeddings; the index never calls the embedder itself.
package vectorindex

import (
	"context"
	"fmt"
	"os"
	"strconv"

	chromem "github.com/philippgille/chromem-go"
	"go.uber.org/zap"

	"github.com/vbcherepanov/claude-total-memory/internal/logging"
)

const collectionName = "knowledge"

// Index is the persistent vector index.
type Index struct {
	db         *chromem.DB
	collection *chromem.Collection
	logger     *logging.Logger
}

// Document is one entry in the index.
type Document struct {
	ID        int64
	Content   string
	Project   string
	Embedding []float32
}

// Result is one semantic search hit.
type Result struct {
	ID         int64
	Similarity float64
}

// noEmbed rejects any implicit embedding; all vectors are precomputed.
func noEmbed(_ context.Context, _ string) ([]float32, error) {
	return nil, fmt.Errorf("vectorindex: implicit embedding not supported")
}

// Open creates or loads the persistent index at path.
func Open(path string, logger *logging.Logger) (*Index, error) {
	if logger == nil {
		logger = logging.NewNop()
	}
	if err := os.MkdirAll(path, 0o700); err != nil {
		return nil, fmt.Errorf("creating vector index directory %s: %w", path, err)
	}
	db, err := chromem.NewPersistentDB(path, false)
	if err != nil {
		return nil, fmt.Errorf("opening chromem DB: %w", err)
	}
	collection, err := db.GetOrCreateCollection(collectionName, nil, noEmbed)
	if err != nil {
		return nil, fmt.Errorf("opening collection %s: %w", collectionName, err)
	}
	logger.Info("vector index opened",
		zap.String("path", path),
		zap.Int("documents", collection.Count()),
	)
	return &Index{db: db, collection: collection, logger: logger}, nil
}

// Upsert adds or replaces one document.
func (ix *Index) Upsert(ctx context.Context, doc Document) error {
	if len(doc.Embedding) == 0 {
		return fmt.Errorf("vectorindex: document %d has no embedding", doc.ID)
	}
	err := ix.collection.AddDocuments(ctx, []chromem.Document{{
		ID:        formatID(doc.ID),
		Content:   doc.Content,
		Embedding: doc.Embedding,
		Metadata:  map[string]string{"project": doc.Project},
	}}, 1)
	if err != nil {
		return fmt.Errorf("upserting document %d: %w", doc.ID, err)
	}
	return nil
}

// Delete removes documents by id. Missing ids are not an error.
func (ix *Index) Delete(ctx context.Context, ids ...int64) error {
	if len(ids) == 0 {
		return nil
	}
	strIDs := make([]string, len(ids))
	for i, id := range ids {
		strIDs[i] = formatID(id)
	}
	if err := ix.collection.Delete(ctx, nil, nil, strIDs...); err != nil {
		return fmt.Errorf("deleting %d documents: %w", len(ids), err)
	}
	return nil
}

// Query returns up to k nearest documents by cosine similarity, optionally
// restricted to one project.
func (ix *Index) Query(ctx context.Context, embedding []float32, k int, project string) ([]Result, error) {
	if k <= 0 {
		return nil, fmt.Errorf("vectorindex: k must be positive, got %d", k)
	}
	count := ix.collection.Count()
	if count == 0 {
		return nil, nil
	}
	if k > count {
		k = count
	}
	var where map[string]string
	if project != "" {
		where = map[string]string{"project": project}
	}
	hits, err := ix.collection.QueryEmbedding(ctx, embedding, k, where, nil)
	if err != nil {
		return nil, fmt.Errorf("querying vector index: %w", err)
	}
	results := make([]Result, 0, len(hits))
	for _, h := range hits {
		id, err := strconv.ParseInt(h.ID, 10, 64)
		if err != nil {
			ix.logger.Warn("skipping vector hit with malformed id", zap.String("id", h.ID))
			continue
		}
		results = append(results, Result{ID: id, Similarity: float64(h.Similarity)})
	}
	return results, nil
}

// Count returns the number of indexed documents.
func (ix *Index) Count() int { return ix.collection.Count() }

func formatID(id int64) string { return strconv.FormatInt(id, 10) }
