package memory

import (
	"context"
	"fmt"
	"log"
	"math"
	"sort"
	"time"
)

// Retriever implements hybrid recall: lexical and vector candidates are
// fetched independently, united by memory id, fused with the configured
// weights, ranked, and truncated. If one index is unavailable the other
// still answers; only a double failure is an error.
type Retriever struct {
	store    Store
	index    VectorIndex
	embedder Embedder
	config   *Config

	now func() time.Time
}

// NewRetriever creates a Retriever. A nil config falls back to DefaultConfig.
func NewRetriever(store Store, index VectorIndex, embedder Embedder, config *Config) *Retriever {
	if config == nil {
		config = DefaultConfig
	}
	return &Retriever{
		store:    store,
		index:    index,
		embedder: embedder,
		config:   config,
		now:      time.Now,
	}
}

// fusedCandidate accumulates the per-index score components for one id.
type fusedCandidate struct {
	lexical  float64
	semantic float64
}

// Recall returns up to k hits for query, scoped to personaID, ordered by
// descending fused score (ties broken by newest CreatedAt). Every
// returned memory gets its LastAccessed timestamp refreshed.
func (r *Retriever) Recall(ctx context.Context, personaID, query string, k int) ([]Hit, error) {
	q := Normalize(query)
	if q == "" || k <= 0 {
		return nil, nil
	}

	candidates := make(map[string]*fusedCandidate)
	memories := make(map[string]Memory)

	ftsHits, ftsErr := r.store.SearchText(ctx, personaID, q, r.config.KFts)
	if ftsErr != nil {
		log.Printf("[RECALL] Text index unavailable, degrading to vector only: %v", ftsErr)
	}
	for _, h := range ftsHits {
		candidates[h.Memory.ID] = &fusedCandidate{lexical: h.Score}
		memories[h.Memory.ID] = h.Memory
	}

	vecErr := r.collectVectorCandidates(ctx, personaID, q, candidates)
	if vecErr != nil {
		log.Printf("[RECALL] Vector index unavailable, degrading to text only: %v", vecErr)
	}

	if ftsErr != nil && vecErr != nil {
		return nil, fmt.Errorf("recall: both indices unavailable: text: %v; vector: %w", ftsErr, vecErr)
	}

	if err := r.loadMissing(ctx, candidates, memories); err != nil {
		if ftsErr != nil {
			// Vector hits cannot be materialized and the text index already
			// failed: nothing left to answer with.
			return nil, fmt.Errorf("recall: load candidates: %w", err)
		}
		log.Printf("[RECALL] Dropping vector-only candidates: %v", err)
	}

	hits := r.fuse(candidates, memories)
	sort.Slice(hits, func(i, j int) bool {
		if hits[i].Score != hits[j].Score {
			return hits[i].Score > hits[j].Score
		}
		return hits[i].CreatedAt.After(hits[j].CreatedAt)
	})
	if len(hits) > k {
		hits = hits[:k]
	}

	r.attachChatTitles(ctx, hits)
	r.touch(ctx, hits)

	return hits, nil
}

// collectVectorCandidates embeds the query and merges the vector index's
// top candidates into the fusion map. An embedding failure counts as the
// vector side being unavailable.
func (r *Retriever) collectVectorCandidates(ctx context.Context, personaID, query string, candidates map[string]*fusedCandidate) error {
	qvec, err := r.embedder.Embed(ctx, query)
	if err != nil {
		return fmt.Errorf("embed query: %w", err)
	}

	vecHits, err := r.index.Search(ctx, personaID, qvec, r.config.KVec)
	if err != nil {
		return fmt.Errorf("vector search: %w", err)
	}

	for _, vh := range vecHits {
		c, ok := candidates[vh.MemoryID]
		if !ok {
			c = &fusedCandidate{}
			candidates[vh.MemoryID] = c
		}
		c.semantic = vh.Similarity
	}
	return nil
}

// loadMissing fetches relational rows for candidates that only the vector
// index produced. Ids the store no longer knows are dropped in fuse.
func (r *Retriever) loadMissing(ctx context.Context, candidates map[string]*fusedCandidate, memories map[string]Memory) error {
	var missing []string
	for id := range candidates {
		if _, ok := memories[id]; !ok {
			missing = append(missing, id)
		}
	}
	if len(missing) == 0 {
		return nil
	}

	mems, err := r.store.GetMany(ctx, missing)
	if err != nil {
		return err
	}
	for _, m := range mems {
		memories[m.ID] = m
	}
	return nil
}

// fuse computes the weighted score for every materialized candidate.
// Candidates without a relational row (stale index entries) are skipped.
func (r *Retriever) fuse(candidates map[string]*fusedCandidate, memories map[string]Memory) []Hit {
	now := r.now()
	hits := make([]Hit, 0, len(candidates))
	for id, c := range candidates {
		m, ok := memories[id]
		if !ok {
			continue
		}
		recency := recencyScore(now.Sub(m.CreatedAt), r.config.RecencyHalfLifeDays)
		score := r.config.WeightLexical*c.lexical +
			r.config.WeightSemantic*c.semantic +
			r.config.WeightRecency*recency +
			r.config.WeightImportance*m.Importance
		hits = append(hits, Hit{
			Memory:   m,
			Score:    score,
			Lexical:  c.lexical,
			Semantic: c.semantic,
			Recency:  recency,
		})
	}
	return hits
}

// attachChatTitles fills the originating conversation title on each hit,
// best-effort.
func (r *Retriever) attachChatTitles(ctx context.Context, hits []Hit) {
	var chatIDs []string
	seen := make(map[string]struct{})
	for _, h := range hits {
		if h.ChatID == "" {
			continue
		}
		if _, ok := seen[h.ChatID]; ok {
			continue
		}
		seen[h.ChatID] = struct{}{}
		chatIDs = append(chatIDs, h.ChatID)
	}
	if len(chatIDs) == 0 {
		return
	}

	titles, err := r.store.ChatTitles(ctx, chatIDs)
	if err != nil {
		log.Printf("[RECALL] Chat title lookup failed: %v", err)
		return
	}
	for i := range hits {
		hits[i].ChatTitle = titles[hits[i].ChatID]
	}
}

// touch refreshes LastAccessed for every returned memory, best-effort.
func (r *Retriever) touch(ctx context.Context, hits []Hit) {
	if len(hits) == 0 {
		return
	}
	ids := make([]string, len(hits))
	for i, h := range hits {
		ids[i] = h.ID
	}
	if err := r.store.TouchAccessed(ctx, ids, r.now()); err != nil {
		log.Printf("[RECALL] TouchAccessed failed: %v", err)
	}
}

// recencyScore maps age onto (0,1] with exponential half-life decay:
// a memory halfLifeDays old scores 0.5, a brand-new one 1.0.
func recencyScore(age time.Duration, halfLifeDays float64) float64 {
	if halfLifeDays <= 0 {
		return 0
	}
	days := age.Hours() / 24
	if days < 0 {
		days = 0
	}
	return math.Exp(-math.Ln2 * days / halfLifeDays)
}
