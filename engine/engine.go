// Package engine exposes the per-persona memory facade: enable/disable,
// turn ingestion, context assembly, live observation streams, and
// management operations. Store, vector index, and embedder are injected
// at construction and the vector index is rebuilt from the durable
// store; there are no lazily-constructed globals.
package engine

import (
	"context"
	"fmt"
	"log"
	"sync"

	"github.com/mindfold/mind/memory"
)

// Engine is the memory subsystem's single entry point for the
// surrounding application. All methods are safe for concurrent use.
type Engine struct {
	store    memory.Store
	index    memory.VectorIndex
	embedder memory.Embedder
	config   *memory.Config

	ingestor  *memory.Ingestor
	retriever *memory.Retriever
	builder   *memory.ContextBuilder

	mu      sync.RWMutex
	enabled map[string]bool
	subs    map[int]*subscriber
	nextSub int
	closed  bool
}

// Option configures the engine.
type Option func(*Engine)

// WithConfig overrides the default memory configuration.
func WithConfig(cfg *memory.Config) Option {
	return func(e *Engine) {
		e.config = cfg
	}
}

// New constructs the engine and rebuilds the vector index from the
// store's durable vectors. Stored vectors whose dimension does not match
// the configuration are treated as corrupt: skipped with a warning,
// never scored.
func New(ctx context.Context, store memory.Store, index memory.VectorIndex, embedder memory.Embedder, opts ...Option) (*Engine, error) {
	e := &Engine{
		store:    store,
		index:    index,
		embedder: embedder,
		enabled:  make(map[string]bool),
		subs:     make(map[int]*subscriber),
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.config == nil {
		e.config = memory.DefaultConfig
	}

	e.ingestor = memory.NewIngestor(store, index, embedder, e.config)
	e.retriever = memory.NewRetriever(store, index, embedder, e.config)
	e.builder = memory.NewContextBuilder(store, e.retriever, e.config)

	if err := e.rebuildIndex(ctx); err != nil {
		return nil, fmt.Errorf("engine: rebuild vector index: %w", err)
	}
	return e, nil
}

// rebuildIndex loads every durable vector into the in-process index.
func (e *Engine) rebuildIndex(ctx context.Context) error {
	vecs, err := e.store.ListVectors(ctx)
	if err != nil {
		return err
	}

	loaded, skipped := 0, 0
	for _, pv := range vecs {
		if pv.Vector.Dim != e.config.Dim {
			skipped++
			continue
		}
		if err := e.index.Add(ctx, pv.PersonaID, pv.Vector.MemoryID, pv.Vector.Float32()); err != nil {
			return err
		}
		loaded++
	}
	if skipped > 0 {
		log.Printf("[ENGINE] Skipped %d stored vectors with dim != %d", skipped, e.config.Dim)
	}
	log.Printf("[ENGINE] Vector index rebuilt: %d vectors", loaded)
	return nil
}

// Enable switches the memory system on or off for one persona.
func (e *Engine) Enable(personaID string, on bool) {
	e.mu.Lock()
	e.enabled[personaID] = on
	e.mu.Unlock()
	log.Printf("[ENGINE] Memory %s for persona=%s", onOff(on), personaID)
}

// IsEnabled reports the persona's toggle, falling back to the configured
// default for personas never explicitly switched.
func (e *Engine) IsEnabled(personaID string) bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if on, ok := e.enabled[personaID]; ok {
		return on
	}
	return e.config.EnabledByDefault
}

// Ingest captures a conversation turn as memories. A no-op when the
// persona's memory is disabled.
func (e *Engine) Ingest(ctx context.Context, personaID string, turn memory.Turn, incognito bool) error {
	if !e.IsEnabled(personaID) {
		log.Printf("[ENGINE] Ingest skipped, memory disabled for persona=%s", personaID)
		return nil
	}
	if err := e.ingestor.Ingest(ctx, personaID, turn, incognito); err != nil {
		return err
	}
	e.notify(personaID)
	return nil
}

// ContextFor assembles the context bundle for the next model call.
// Returns an empty bundle when the persona's memory is disabled.
func (e *Engine) ContextFor(ctx context.Context, personaID, chatID, message string, maxTokens int) (*memory.ContextBundle, error) {
	if !e.IsEnabled(personaID) {
		return &memory.ContextBundle{MaxTokens: maxTokens}, nil
	}
	return e.builder.BuildContext(ctx, personaID, chatID, message, maxTokens)
}

// Recall exposes hybrid retrieval directly, mainly for tooling and
// tests. k <= 0 falls back to the configured default truncation.
func (e *Engine) Recall(ctx context.Context, personaID, query string, k int) ([]memory.Hit, error) {
	if k <= 0 {
		k = e.config.KReturn
	}
	return e.retriever.Recall(ctx, personaID, query, k)
}

// Count returns the persona's stored memory count.
func (e *Engine) Count(ctx context.Context, personaID string) (int, error) {
	return e.store.Count(ctx, personaID)
}

// Delete removes a single memory and its vector from both the store and
// the index. The memory must belong to personaID; deleting across
// personas is an error.
func (e *Engine) Delete(ctx context.Context, personaID, memoryID string) error {
	mem, err := e.store.Get(ctx, memoryID)
	if err != nil {
		return err
	}
	if mem.PersonaID != personaID {
		return fmt.Errorf("memory %s does not belong to persona %s", memoryID, personaID)
	}
	if err := e.store.Delete(ctx, memoryID); err != nil {
		return err
	}
	if err := e.index.Remove(ctx, personaID, memoryID); err != nil {
		log.Printf("[ENGINE] Index removal failed for id=%s: %v", memoryID, err)
	}
	e.notify(personaID)
	return nil
}

// DeleteAll wipes every memory for a persona, cascading vectors and the
// persona's index collection.
func (e *Engine) DeleteAll(ctx context.Context, personaID string) (int, error) {
	n, err := e.store.DeleteAllForPersona(ctx, personaID)
	if err != nil {
		return 0, err
	}
	if err := e.index.RemovePersona(ctx, personaID); err != nil {
		log.Printf("[ENGINE] Index persona removal failed for persona=%s: %v", personaID, err)
	}
	e.notify(personaID)
	log.Printf("[ENGINE] Deleted %d memories for persona=%s", n, personaID)
	return n, nil
}

// SetChatTitle records a conversation title so retrieval hits can name
// their origin.
func (e *Engine) SetChatTitle(ctx context.Context, personaID, chatID, title string) error {
	return e.store.SetChatTitle(ctx, personaID, chatID, title)
}

// Close ends all observation streams. The store's lifecycle belongs to
// whoever opened it.
func (e *Engine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return nil
	}
	e.closed = true
	for id, sub := range e.subs {
		close(sub.stop)
		delete(e.subs, id)
	}
	return nil
}

func onOff(on bool) string {
	if on {
		return "enabled"
	}
	return "disabled"
}
