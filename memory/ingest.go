package memory

import (
	"context"
	"fmt"
	"log"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// Ingestor turns conversation messages into persisted memories. Each
// non-blank message side is processed independently: normalize, classify,
// score, embed, dedupe-check, quantize, store (one transaction across the
// three indices), then register in the vector index.
type Ingestor struct {
	store    Store
	index    VectorIndex
	embedder Embedder
	config   *Config

	ingests atomic.Uint64 // drives the opportunistic prune cadence
}

// NewIngestor creates an Ingestor. A nil config falls back to DefaultConfig.
func NewIngestor(store Store, index VectorIndex, embedder Embedder, config *Config) *Ingestor {
	if config == nil {
		config = DefaultConfig
	}
	return &Ingestor{
		store:    store,
		index:    index,
		embedder: embedder,
		config:   config,
	}
}

// Ingest persists the user side of a turn and, when present and
// non-blank, the assistant side. The two sides become independent,
// independently retrievable memories. Blank sides are silently skipped.
//
// incognito is a pass-through hint for the surrounding system's policy;
// it does not alter persistence here. Deployments that must exclude
// incognito chats branch before calling Ingest.
func (in *Ingestor) Ingest(ctx context.Context, personaID string, turn Turn, incognito bool) error {
	if incognito {
		log.Printf("[MEMORY] Ingesting incognito turn for persona=%s (hint only, persisting)", personaID)
	}

	if err := in.ingestMessage(ctx, personaID, turn, RoleUser, turn.UserMessage); err != nil {
		return fmt.Errorf("ingest user message: %w", err)
	}
	if err := in.ingestMessage(ctx, personaID, turn, RoleModel, turn.AssistantMessage); err != nil {
		return fmt.Errorf("ingest assistant message: %w", err)
	}

	in.maybePrune(ctx, personaID)
	return nil
}

// ingestMessage runs the full pipeline for one message side. An embedding
// failure aborts before any write, so there is never a partial record.
func (in *Ingestor) ingestMessage(ctx context.Context, personaID string, turn Turn, role Role, raw string) error {
	text := Normalize(raw)
	if text == "" {
		log.Printf("[MEMORY] Skipping blank %s message for persona=%s", role, personaID)
		return nil
	}

	kind := ClassifyKind(text)
	emotion := DetectEmotion(text)
	importance := ScoreImportance(text, kind, emotion)

	vec, err := in.embedder.Embed(ctx, text)
	if err != nil {
		return fmt.Errorf("embed: %w", err)
	}
	if len(vec) != in.config.Dim {
		return fmt.Errorf("embed: got %d dimensions, configured %d", len(vec), in.config.Dim)
	}

	dup, err := in.isNearDuplicate(ctx, personaID, vec)
	if err != nil {
		// The dedupe scan is an optimization, not a correctness gate.
		log.Printf("[MEMORY] Dedupe check failed, storing anyway: %v", err)
	} else if dup {
		log.Printf("[MEMORY] Skipping near-duplicate %s memory for persona=%s", role, personaID)
		return nil
	}

	createdAt := turn.Timestamp
	if createdAt.IsZero() {
		createdAt = time.Now()
	}

	mem := Memory{
		ID:           uuid.New().String(),
		PersonaID:    personaID,
		UserID:       turn.UserID,
		ChatID:       turn.ChatID,
		Role:         role,
		Text:         text,
		Kind:         kind,
		Emotion:      emotion,
		Importance:   importance,
		CreatedAt:    createdAt,
		LastAccessed: createdAt,
	}

	if err := in.store.Insert(ctx, mem, NewVector(mem.ID, vec)); err != nil {
		return fmt.Errorf("store insert: %w", err)
	}

	// The index is derived state: the durable vector row committed above,
	// so an index failure is recoverable by rebuild, not a lost write.
	if err := in.index.Add(ctx, personaID, mem.ID, vec); err != nil {
		log.Printf("[MEMORY] Vector index add failed for id=%s: %v", mem.ID, err)
	}

	in.ingests.Add(1)
	log.Printf("[MEMORY] Stored %s memory id=%s kind=%s emotion=%s importance=%.2f",
		role, mem.ID, kind, emotion, importance)
	return nil
}

// isNearDuplicate compares the new embedding against the most recent
// per-persona vectors, a bounded window rather than a full scan.
// Stored vectors with a mismatched dimension are skipped.
func (in *Ingestor) isNearDuplicate(ctx context.Context, personaID string, vec []float32) (bool, error) {
	if in.config.DedupeWindow <= 0 {
		return false, nil
	}

	recent, err := in.store.RecentVectors(ctx, personaID, in.config.DedupeWindow)
	if err != nil {
		return false, err
	}

	for _, stored := range recent {
		if stored.Dim != len(vec) {
			continue
		}
		if Cosine(vec, stored.Float32()) >= in.config.DedupeCosine {
			return true, nil
		}
	}
	return false, nil
}

// maybePrune runs the best-effort prune pass every PruneEvery ingests:
// low-importance memories past the age horizon are removed from the store
// and dropped from the vector index. Failures are logged, never surfaced.
func (in *Ingestor) maybePrune(ctx context.Context, personaID string) {
	every := uint64(in.config.PruneEvery)
	if every == 0 || in.ingests.Load()%every != 0 {
		return
	}

	cutoff := time.Now().AddDate(0, 0, -in.config.PruneHorizonDays)
	ids, err := in.store.Prune(ctx, personaID, in.config.ImportanceFloor, cutoff)
	if err != nil {
		log.Printf("[MEMORY] Prune failed for persona=%s: %v", personaID, err)
		return
	}
	if len(ids) == 0 {
		return
	}

	if err := in.index.Remove(ctx, personaID, ids...); err != nil {
		log.Printf("[MEMORY] Prune index cleanup failed for persona=%s: %v", personaID, err)
	}
	log.Printf("[MEMORY] Pruned %d memories for persona=%s", len(ids), personaID)
}
