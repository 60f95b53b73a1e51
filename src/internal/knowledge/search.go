// Package knowledge retrieves grounding snippets from the user's synced
// records: substring and date-window search against the record store, and
// semantic search against a persistent vector collection.
package knowledge

import (
	"context"
	"fmt"
	"time"

	"aria-core/src/internal/store"
)

// Query describes one retrieval request.
type Query struct {
	UserID string
	Text   string
	Mode   string // exact | semantic | date
	From   *time.Time
	To     *time.Time
	Limit  int
}

// Snippet is one retrieved piece of grounding context.
type Snippet struct {
	ID         string    `json:"id"`
	Source     string    `json:"source"`
	Kind       string    `json:"kind"`
	Title      string    `json:"title"`
	Body       string    `json:"body"`
	OccurredAt time.Time `json:"occurredAt"`
	Score      float32   `json:"score,omitempty"`
}

type Searcher struct {
	store   *store.Store
	vectors *VectorIndex // nil when semantic search is disabled
}

func NewSearcher(st *store.Store, vectors *VectorIndex) *Searcher {
	return &Searcher{store: st, vectors: vectors}
}

func (s *Searcher) Search(ctx context.Context, q Query) ([]Snippet, error) {
	if q.Limit <= 0 {
		q.Limit = 10
	}
	switch q.Mode {
	case "semantic":
		if s.vectors == nil {
			return s.exact(ctx, q)
		}
		return s.vectors.Query(ctx, q.UserID, q.Text, q.Limit)
	case "date":
		from := time.Unix(0, 0)
		to := time.Now().UTC()
		if q.From != nil {
			from = *q.From
		}
		if q.To != nil {
			to = *q.To
		}
		records, err := s.store.RecordsInRange(ctx, q.UserID, from, to, q.Limit)
		if err != nil {
			return nil, err
		}
		return toSnippets(records), nil
	case "exact", "":
		return s.exact(ctx, q)
	default:
		return nil, fmt.Errorf("unknown search mode %q", q.Mode)
	}
}

func (s *Searcher) exact(ctx context.Context, q Query) ([]Snippet, error) {
	records, err := s.store.SearchRecords(ctx, q.UserID, q.Text, q.Limit)
	if err != nil {
		return nil, err
	}
	return toSnippets(records), nil
}

// TopK returns grounding snippets for a task prompt: semantic when a
// vector index is available, substring otherwise. Retrieval failures
// degrade to no snippets rather than failing the task.
func (s *Searcher) TopK(ctx context.Context, userID, query string, k int) []Snippet {
	mode := "exact"
	if s.vectors != nil {
		mode = "semantic"
	}
	snippets, err := s.Search(ctx, Query{UserID: userID, Text: query, Mode: mode, Limit: k})
	if err != nil {
		return nil
	}
	return snippets
}

// Index adds a record to the vector collection, if one is configured.
func (s *Searcher) Index(ctx context.Context, rec *store.Record) error {
	if s.vectors == nil {
		return nil
	}
	return s.vectors.Index(ctx, rec)
}

func toSnippets(records []*store.Record) []Snippet {
	out := make([]Snippet, 0, len(records))
	for _, r := range records {
		out = append(out, Snippet{
			ID:         r.ID,
			Source:     r.Source,
			Kind:       r.Kind,
			Title:      r.Title,
			Body:       r.Body,
			OccurredAt: r.OccurredAt,
		})
	}
	return out
}
