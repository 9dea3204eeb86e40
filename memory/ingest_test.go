package memory_test

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/mindfold/mind/memory"
	"github.com/mindfold/mind/memory/embedder/mock"
	"github.com/mindfold/mind/memory/index/chromem"
	"github.com/mindfold/mind/memory/store/sqlite"
)

const testDims = 64

// newTestPipeline wires a real SQLite store, chromem index, and mock
// embedder with a matching-dimension config.
func newTestPipeline(t *testing.T) (*sqlite.Store, *chromem.Index, *mock.Embedder, *memory.Config) {
	t.Helper()

	store, err := sqlite.Open(filepath.Join(t.TempDir(), "memory.db"))
	if err != nil {
		t.Fatalf("Failed to open store: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	cfg := *memory.DefaultConfig
	cfg.Dim = testDims
	return store, chromem.New(), mock.NewWithDimensions(testDims), &cfg
}

func TestIngestStoresBothSides(t *testing.T) {
	ctx := context.Background()
	store, index, embedder, cfg := newTestPipeline(t)
	ingestor := memory.NewIngestor(store, index, embedder, cfg)

	turn := memory.Turn{
		ChatID:           "chat1",
		UserID:           "user1",
		UserMessage:      "My name is Dana and I live in Lisbon",
		AssistantMessage: "Nice to meet you Dana, Lisbon is a wonderful city",
		Timestamp:        time.Now(),
	}
	if err := ingestor.Ingest(ctx, "p1", turn, false); err != nil {
		t.Fatalf("Failed to ingest: %v", err)
	}

	n, err := store.Count(ctx, "p1")
	if err != nil {
		t.Fatalf("Failed to count: %v", err)
	}
	if n != 2 {
		t.Errorf("count = %d, want 2 (user + assistant)", n)
	}

	mems, err := store.RecentForChat(ctx, "p1", "chat1", 10)
	if err != nil {
		t.Fatalf("Failed to fetch chat memories: %v", err)
	}
	if len(mems) != 2 {
		t.Fatalf("got %d chat memories, want 2", len(mems))
	}
	if mems[0].Role != memory.RoleUser || mems[1].Role != memory.RoleModel {
		t.Errorf("roles = %s, %s; want user then model", mems[0].Role, mems[1].Role)
	}
	if mems[0].Kind != memory.KindFact {
		t.Errorf("user memory kind = %s, want %s", mems[0].Kind, memory.KindFact)
	}
	if mems[0].Importance <= 0 || mems[0].Importance > 1 {
		t.Errorf("importance = %v, out of (0,1]", mems[0].Importance)
	}
}

func TestIngestSkipsBlankSides(t *testing.T) {
	ctx := context.Background()
	store, index, embedder, cfg := newTestPipeline(t)
	ingestor := memory.NewIngestor(store, index, embedder, cfg)

	turn := memory.Turn{
		ChatID:      "chat1",
		UserMessage: "I am working on a garden redesign this spring",
		// Assistant side intentionally blank.
	}
	if err := ingestor.Ingest(ctx, "p1", turn, false); err != nil {
		t.Fatalf("Failed to ingest: %v", err)
	}

	n, err := store.Count(ctx, "p1")
	if err != nil {
		t.Fatalf("Failed to count: %v", err)
	}
	if n != 1 {
		t.Errorf("count = %d, want 1", n)
	}

	// Whitespace-only counts as blank too.
	if err := ingestor.Ingest(ctx, "p1", memory.Turn{UserMessage: "   \n\t "}, false); err != nil {
		t.Fatalf("Failed to ingest whitespace turn: %v", err)
	}
	n, _ = store.Count(ctx, "p1")
	if n != 1 {
		t.Errorf("count after blank turn = %d, want still 1", n)
	}
}

func TestIngestSkipsNearDuplicates(t *testing.T) {
	ctx := context.Background()
	store, index, embedder, cfg := newTestPipeline(t)
	ingestor := memory.NewIngestor(store, index, embedder, cfg)

	turn := memory.Turn{UserMessage: "I really like strong black coffee in the morning"}
	if err := ingestor.Ingest(ctx, "p1", turn, false); err != nil {
		t.Fatalf("Failed to ingest: %v", err)
	}
	// Identical text embeds identically, cosine 1.0 >= the dedupe bar.
	if err := ingestor.Ingest(ctx, "p1", turn, false); err != nil {
		t.Fatalf("Failed to ingest duplicate: %v", err)
	}

	n, err := store.Count(ctx, "p1")
	if err != nil {
		t.Fatalf("Failed to count: %v", err)
	}
	if n != 1 {
		t.Errorf("count = %d, want 1 (duplicate skipped)", n)
	}
}

func TestIngestDuplicateAllowedAcrossPersonas(t *testing.T) {
	ctx := context.Background()
	store, index, embedder, cfg := newTestPipeline(t)
	ingestor := memory.NewIngestor(store, index, embedder, cfg)

	turn := memory.Turn{UserMessage: "I really like strong black coffee in the morning"}
	if err := ingestor.Ingest(ctx, "p1", turn, false); err != nil {
		t.Fatalf("Failed to ingest for p1: %v", err)
	}
	if err := ingestor.Ingest(ctx, "p2", turn, false); err != nil {
		t.Fatalf("Failed to ingest for p2: %v", err)
	}

	for _, persona := range []string{"p1", "p2"} {
		n, err := store.Count(ctx, persona)
		if err != nil {
			t.Fatalf("Failed to count %s: %v", persona, err)
		}
		if n != 1 {
			t.Errorf("count for %s = %d, want 1", persona, n)
		}
	}
}

// failingEmbedder simulates a model backend that is down.
type failingEmbedder struct {
	dims int
}

func (f *failingEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	return nil, errors.New("model offline")
}

func (f *failingEmbedder) Dimensions() int {
	return f.dims
}

func TestIngestEmbedFailureWritesNothing(t *testing.T) {
	ctx := context.Background()
	store, index, _, cfg := newTestPipeline(t)
	ingestor := memory.NewIngestor(store, index, &failingEmbedder{dims: testDims}, cfg)

	turn := memory.Turn{ChatID: "c1", UserMessage: "I like jazz music on vinyl"}
	if err := ingestor.Ingest(ctx, "p1", turn, false); err == nil {
		t.Fatal("ingest succeeded despite embed failure")
	}

	// The failure must abort before any write: no relational row, no
	// vector row, no full-text row.
	n, err := store.Count(ctx, "p1")
	if err != nil {
		t.Fatalf("Failed to count: %v", err)
	}
	if n != 0 {
		t.Errorf("count = %d, want 0 after embed failure", n)
	}
	vecs, err := store.RecentVectors(ctx, "p1", 10)
	if err != nil {
		t.Fatalf("Failed to list vectors: %v", err)
	}
	if len(vecs) != 0 {
		t.Errorf("got %d vector rows, want 0", len(vecs))
	}
	hits, err := store.SearchText(ctx, "p1", "jazz", 10)
	if err != nil {
		t.Fatalf("Failed to search: %v", err)
	}
	if len(hits) != 0 {
		t.Errorf("got %d full-text rows, want 0", len(hits))
	}
}

func TestIngestDimensionMismatchWritesNothing(t *testing.T) {
	ctx := context.Background()
	store, index, _, cfg := newTestPipeline(t)
	// Embedder emits vectors twice as wide as the configuration expects.
	ingestor := memory.NewIngestor(store, index, mock.NewWithDimensions(testDims*2), cfg)

	turn := memory.Turn{UserMessage: "I like jazz music on vinyl"}
	if err := ingestor.Ingest(ctx, "p1", turn, false); err == nil {
		t.Fatal("ingest succeeded despite dimension mismatch")
	}

	n, err := store.Count(ctx, "p1")
	if err != nil {
		t.Fatalf("Failed to count: %v", err)
	}
	if n != 0 {
		t.Errorf("count = %d, want 0 after dimension mismatch", n)
	}
}

func TestConcurrentIngest(t *testing.T) {
	ctx := context.Background()
	store, index, embedder, cfg := newTestPipeline(t)
	ingestor := memory.NewIngestor(store, index, embedder, cfg)

	// Distinct topic words keep the turns clear of the dedupe bar.
	topics := []string{
		"astronomy", "pottery", "cycling", "chess", "gardening",
		"woodworking", "sailing", "photography",
	}

	var wg sync.WaitGroup
	errs := make(chan error, len(topics))
	for i, topic := range topics {
		wg.Add(1)
		go func(i int, topic string) {
			defer wg.Done()
			turn := memory.Turn{
				ChatID:      "chat1",
				UserMessage: fmt.Sprintf("I spend my weekend number %d on %s mostly", i, topic),
			}
			errs <- ingestor.Ingest(ctx, "p1", turn, false)
		}(i, topic)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		if err != nil {
			t.Fatalf("Concurrent ingest failed: %v", err)
		}
	}

	n, err := store.Count(ctx, "p1")
	if err != nil {
		t.Fatalf("Failed to count: %v", err)
	}
	if n != len(topics) {
		t.Errorf("count = %d, want %d (none lost, none duplicated)", n, len(topics))
	}
}

func TestIngestNormalizesText(t *testing.T) {
	ctx := context.Background()
	store, index, embedder, cfg := newTestPipeline(t)
	ingestor := memory.NewIngestor(store, index, embedder, cfg)

	turn := memory.Turn{ChatID: "c1", UserMessage: "  my   name\tis\nDana  "}
	if err := ingestor.Ingest(ctx, "p1", turn, false); err != nil {
		t.Fatalf("Failed to ingest: %v", err)
	}

	mems, err := store.RecentForChat(ctx, "p1", "c1", 1)
	if err != nil {
		t.Fatalf("Failed to fetch: %v", err)
	}
	if len(mems) != 1 {
		t.Fatalf("got %d memories, want 1", len(mems))
	}
	if mems[0].Text != "my name is Dana" {
		t.Errorf("stored text = %q, want normalized form", mems[0].Text)
	}
}
