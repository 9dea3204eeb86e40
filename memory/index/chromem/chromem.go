// Package chromem implements memory.VectorIndex on chromem-go, a pure Go
// embedded vector database. Each persona gets its own collection for
// namespace isolation. The index holds dequantized vectors only; the
// durable quantized copies live in the SQLite store, and the engine
// rebuilds this index from them at startup.
package chromem

import (
	"context"
	"fmt"
	"sync"

	chromem "github.com/philippgille/chromem-go"

	"github.com/mindfold/mind/memory"
)

// Index is the chromem-backed approximate vector index.
type Index struct {
	db          *chromem.DB
	collections map[string]*chromem.Collection
	mu          sync.RWMutex
}

// New creates an empty in-memory index.
func New() *Index {
	return &Index{
		db:          chromem.NewDB(),
		collections: make(map[string]*chromem.Collection),
	}
}

// collection returns the persona's collection, creating it on first use.
func (x *Index) collection(personaID string) (*chromem.Collection, error) {
	x.mu.RLock()
	col, exists := x.collections[personaID]
	x.mu.RUnlock()
	if exists {
		return col, nil
	}

	x.mu.Lock()
	defer x.mu.Unlock()

	// Double-check after acquiring write lock.
	if col, exists := x.collections[personaID]; exists {
		return col, nil
	}

	col, err := x.db.CreateCollection(
		collectionName(personaID),
		nil, // no collection metadata
		nil, // embeddings are always supplied, never computed here
	)
	if err != nil {
		return nil, fmt.Errorf("create collection: %w", err)
	}
	x.collections[personaID] = col
	return col, nil
}

// Add registers a memory's vector under its persona.
func (x *Index) Add(ctx context.Context, personaID, memoryID string, vec []float32) error {
	col, err := x.collection(personaID)
	if err != nil {
		return err
	}

	doc := chromem.Document{
		ID:        memoryID,
		Content:   memoryID, // payload lives in the store, keyed by this id
		Embedding: vec,
		Metadata:  map[string]string{"persona_id": personaID},
	}
	if err := col.AddDocument(ctx, doc); err != nil {
		return fmt.Errorf("add document: %w", err)
	}
	return nil
}

// Search returns up to k candidates by cosine similarity. chromem rejects
// nResults larger than the collection, so k is clamped to its size; an
// empty collection yields no hits and no error.
func (x *Index) Search(ctx context.Context, personaID string, vec []float32, k int) ([]memory.VectorHit, error) {
	col, err := x.collection(personaID)
	if err != nil {
		return nil, err
	}

	if n := col.Count(); n < k {
		k = n
	}
	if k <= 0 {
		return nil, nil
	}

	results, err := col.QueryEmbedding(ctx, vec, k, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("query embedding: %w", err)
	}

	hits := make([]memory.VectorHit, 0, len(results))
	for _, res := range results {
		hits = append(hits, memory.VectorHit{
			MemoryID:   res.ID,
			Similarity: float64(res.Similarity),
		})
	}
	return hits, nil
}

// Remove drops the given memory ids from a persona's collection.
func (x *Index) Remove(ctx context.Context, personaID string, ids ...string) error {
	if len(ids) == 0 {
		return nil
	}
	col, err := x.collection(personaID)
	if err != nil {
		return err
	}
	if err := col.Delete(ctx, nil, nil, ids...); err != nil {
		return fmt.Errorf("delete documents: %w", err)
	}
	return nil
}

// RemovePersona drops the persona's whole collection.
func (x *Index) RemovePersona(ctx context.Context, personaID string) error {
	x.mu.Lock()
	defer x.mu.Unlock()

	if _, exists := x.collections[personaID]; !exists {
		return nil
	}
	if err := x.db.DeleteCollection(collectionName(personaID)); err != nil {
		return fmt.Errorf("delete collection: %w", err)
	}
	delete(x.collections, personaID)
	return nil
}

func collectionName(personaID string) string {
	if personaID == "" {
		return "persona_default"
	}
	return "persona_" + personaID
}

// Compile-time interface satisfaction check.
var _ memory.VectorIndex = (*Index)(nil)
