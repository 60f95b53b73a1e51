package knowledge

import (
	"context"
	"math"
	"path/filepath"
	"testing"
	"time"

	"aria-core/src/internal/store"
)

func testSearcher(t *testing.T) (*store.Store, *Searcher) {
	t.Helper()
	s, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { s.Close() })
	return s, NewSearcher(s, nil)
}

func seedRecords(t *testing.T, s *store.Store) {
	t.Helper()
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	records := []*store.Record{
		{ID: "gmail:1", UserID: "user-1", Source: "gmail", Kind: "message", Title: "Quarterly report", Body: "Numbers attached", OccurredAt: base},
		{ID: "gmail:2", UserID: "user-1", Source: "gmail", Kind: "message", Title: "Lunch plans", Body: "Pizza on Friday", OccurredAt: base.AddDate(0, 0, 5)},
		{ID: "hubspot:1", UserID: "user-1", Source: "hubspot", Kind: "contact", Title: "Jane Doe", Body: "jane@example.com", OccurredAt: base.AddDate(0, 0, 10)},
		{ID: "gmail:3", UserID: "user-2", Source: "gmail", Kind: "message", Title: "Quarterly report", Body: "Other user", OccurredAt: base},
	}
	for _, r := range records {
		if err := s.SaveRecord(ctx, r); err != nil {
			t.Fatal(err)
		}
	}
}

func TestSearchExact(t *testing.T) {
	s, search := testSearcher(t)
	seedRecords(t, s)

	snippets, err := search.Search(context.Background(), Query{UserID: "user-1", Text: "quarterly"})
	if err != nil {
		t.Fatal(err)
	}
	if len(snippets) != 1 {
		t.Fatalf("expected 1 snippet, got %d", len(snippets))
	}
	if snippets[0].ID != "gmail:1" {
		t.Errorf("unexpected snippet %s; other users' records must not leak", snippets[0].ID)
	}
}

func TestSearchDateWindow(t *testing.T) {
	s, search := testSearcher(t)
	seedRecords(t, s)

	from := time.Date(2026, 3, 4, 0, 0, 0, 0, time.UTC)
	to := time.Date(2026, 3, 8, 0, 0, 0, 0, time.UTC)
	snippets, err := search.Search(context.Background(), Query{UserID: "user-1", Mode: "date", From: &from, To: &to})
	if err != nil {
		t.Fatal(err)
	}
	if len(snippets) != 1 || snippets[0].ID != "gmail:2" {
		t.Errorf("expected only the in-window record, got %v", snippets)
	}
}

func TestSearchSemanticFallsBackWithoutVectors(t *testing.T) {
	s, search := testSearcher(t)
	seedRecords(t, s)

	snippets, err := search.Search(context.Background(), Query{UserID: "user-1", Text: "jane", Mode: "semantic"})
	if err != nil {
		t.Fatal(err)
	}
	if len(snippets) != 1 || snippets[0].ID != "hubspot:1" {
		t.Errorf("expected substring fallback, got %v", snippets)
	}
}

func TestSearchUnknownMode(t *testing.T) {
	_, search := testSearcher(t)
	if _, err := search.Search(context.Background(), Query{UserID: "user-1", Mode: "fuzzy"}); err == nil {
		t.Fatal("expected error for unknown mode")
	}
}

func TestTopKDegradesToNil(t *testing.T) {
	s, search := testSearcher(t)
	s.Close() // force retrieval failure

	if got := search.TopK(context.Background(), "user-1", "anything", 5); got != nil {
		t.Errorf("expected nil on retrieval failure, got %v", got)
	}
}

func TestLocalEmbeddingDeterministicAndNormalized(t *testing.T) {
	a, err := LocalEmbedding(context.Background(), "quarterly report numbers")
	if err != nil {
		t.Fatal(err)
	}
	b, err := LocalEmbedding(context.Background(), "quarterly report numbers")
	if err != nil {
		t.Fatal(err)
	}
	if len(a) != len(b) {
		t.Fatalf("dimension mismatch %d vs %d", len(a), len(b))
	}
	var norm float64
	for i := range a {
		if a[i] != b[i] {
			t.Fatal("embedding is not deterministic")
		}
		norm += float64(a[i]) * float64(a[i])
	}
	if math.Abs(norm-1) > 1e-5 {
		t.Errorf("expected unit norm, got %f", norm)
	}
}
