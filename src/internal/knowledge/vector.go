package knowledge

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/philippgille/chromem-go"

	"aria-core/src/internal/config"
	"aria-core/src/internal/store"
)

// VectorIndex wraps a persistent chromem-go collection of synced records.
type VectorIndex struct {
	db         *chromem.DB
	collection *chromem.Collection
}

// NewVectorIndex opens (or creates) the vector database under storageDir.
func NewVectorIndex(cfg *config.Config) (*VectorIndex, error) {
	dbPath := filepath.Join(cfg.StorageDir, "vector_db")
	if err := os.MkdirAll(dbPath, 0755); err != nil {
		return nil, fmt.Errorf("failed to create vector db directory: %w", err)
	}
	db, err := chromem.NewPersistentDB(dbPath, false)
	if err != nil {
		return nil, fmt.Errorf("failed to create persistent db: %w", err)
	}

	embedFunc := embeddingFunc(cfg.Embeddings)
	col, err := db.GetOrCreateCollection("records", nil, embedFunc)
	if err != nil {
		return nil, fmt.Errorf("failed to get or create collection: %w", err)
	}
	slog.Info("initialized vector index", "path", dbPath, "count", col.Count())

	return &VectorIndex{db: db, collection: col}, nil
}

func embeddingFunc(cfg config.EmbeddingsConfig) chromem.EmbeddingFunc {
	switch strings.ToLower(cfg.Type) {
	case "openai":
		return chromem.NewEmbeddingFuncOpenAI(cfg.APIKey, chromem.EmbeddingModelOpenAI3Small)
	case "openai-compatible":
		return chromem.NewEmbeddingFuncOpenAICompat(cfg.APIKey, cfg.URL, cfg.Model, nil)
	default:
		// Deterministic offline embedding; keeps semantic search working
		// without credentials, with obviously weaker ranking.
		return LocalEmbedding
	}
}

// Index upserts one record into the collection.
func (v *VectorIndex) Index(ctx context.Context, rec *store.Record) error {
	doc := chromem.Document{
		ID:      rec.ID,
		Content: rec.Title + "\n" + rec.Body,
		Metadata: map[string]string{
			"user_id":     rec.UserID,
			"source":      rec.Source,
			"kind":        rec.Kind,
			"title":       rec.Title,
			"occurred_at": rec.OccurredAt.UTC().Format(time.RFC3339),
		},
	}
	if err := v.collection.AddDocument(ctx, doc); err != nil {
		return fmt.Errorf("failed to index record %s: %w", rec.ID, err)
	}
	return nil
}

// Query returns the k most similar records for a user.
func (v *VectorIndex) Query(ctx context.Context, userID, query string, k int) ([]Snippet, error) {
	// chromem fails when asked for more results than documents exist.
	if count := v.collection.Count(); k > count {
		k = count
	}
	if k == 0 || strings.TrimSpace(query) == "" {
		return nil, nil
	}

	results, err := v.collection.Query(ctx, query, k, map[string]string{"user_id": userID}, nil)
	if err != nil {
		return nil, fmt.Errorf("vector query failed: %w", err)
	}

	out := make([]Snippet, 0, len(results))
	for _, res := range results {
		occurred, _ := time.Parse(time.RFC3339, res.Metadata["occurred_at"])
		body := res.Content
		if title := res.Metadata["title"]; title != "" {
			body = strings.TrimPrefix(body, title+"\n")
		}
		out = append(out, Snippet{
			ID:         res.ID,
			Source:     res.Metadata["source"],
			Kind:       res.Metadata["kind"],
			Title:      res.Metadata["title"],
			Body:       body,
			OccurredAt: occurred,
			Score:      res.Similarity,
		})
	}
	return out, nil
}

// LocalEmbedding is a deterministic bag-of-tokens embedding used when no
// embedding API is configured. Each token hashes to a bucket; the vector
// is L2-normalized.
func LocalEmbedding(ctx context.Context, text string) ([]float32, error) {
	const dim = 128
	vec := make([]float32, dim)
	for _, token := range strings.Fields(strings.ToLower(text)) {
		sum := sha256.Sum256([]byte(token))
		bucket := binary.BigEndian.Uint32(sum[:4]) % dim
		vec[bucket]++
	}
	var norm float64
	for _, x := range vec {
		norm += float64(x) * float64(x)
	}
	if norm == 0 {
		vec[0] = 1
		return vec, nil
	}
	scale := float32(1 / math.Sqrt(norm))
	for i := range vec {
		vec[i] *= scale
	}
	return vec, nil
}
