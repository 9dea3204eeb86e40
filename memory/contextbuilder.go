package memory

import (
	"context"
	"fmt"
	"log"
)

// ContextBuilder assembles the context bundle for one model call:
// short-term memories from the current conversation plus long-term hits
// from hybrid recall. The lists stay separate so the caller decides
// prompt placement.
type ContextBuilder struct {
	store     Store
	retriever *Retriever
	config    *Config
}

// NewContextBuilder creates a ContextBuilder. A nil config falls back to
// DefaultConfig.
func NewContextBuilder(store Store, retriever *Retriever, config *Config) *ContextBuilder {
	if config == nil {
		config = DefaultConfig
	}
	return &ContextBuilder{
		store:     store,
		retriever: retriever,
		config:    config,
	}
}

// BuildContext returns the bundle for message. Short-term memories are
// chronological (oldest first); long-term hits keep recall order.
// EstimatedTokens is the coarse chars/4 heuristic. Enforcing maxTokens
// precisely is the caller's job, so the limit is recorded on the bundle
// rather than applied. Either source may fail alone; only both failing is
// an error.
func (b *ContextBuilder) BuildContext(ctx context.Context, personaID, chatID, message string, maxTokens int) (*ContextBundle, error) {
	var shortTerm []Memory
	var shortErr error
	if chatID != "" {
		shortTerm, shortErr = b.store.RecentForChat(ctx, personaID, chatID, b.config.ShortTermLimit)
		if shortErr != nil {
			log.Printf("[CONTEXT] Short-term fetch failed for chat=%s: %v", chatID, shortErr)
		}
	}

	longTerm, longErr := b.retriever.Recall(ctx, personaID, message, b.config.RecallK)
	if longErr != nil {
		log.Printf("[CONTEXT] Recall failed for persona=%s: %v", personaID, longErr)
	}

	if shortErr != nil && longErr != nil {
		return nil, fmt.Errorf("build context: %w", longErr)
	}

	chars := 0
	for _, m := range shortTerm {
		chars += len(m.Text)
	}
	for _, h := range longTerm {
		chars += len(h.Text)
	}

	return &ContextBundle{
		ShortTerm:       shortTerm,
		LongTerm:        longTerm,
		EstimatedTokens: chars / 4,
		MaxTokens:       maxTokens,
	}, nil
}
