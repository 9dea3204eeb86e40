package memory

import (
	"context"
	"time"
)

// Role identifies which side of a turn a memory was captured from.
type Role string

const (
	RoleUser  Role = "user"
	RoleModel Role = "model"
)

// Kind is the semantic category assigned by the heuristic classifier.
type Kind string

const (
	KindFact       Kind = "FACT"
	KindEvent      Kind = "EVENT"
	KindPreference Kind = "PREFERENCE"
	KindProject    Kind = "PROJECT"
	KindKnowledge  Kind = "KNOWLEDGE"
	KindEmotion    Kind = "EMOTION"
	KindOther      Kind = "OTHER"
)

// Emotion is the detected emotional tone of a memory. Neutral is an
// explicit category, not the absence of a detection.
type Emotion string

const (
	EmotionHappy      Emotion = "HAPPY"
	EmotionExcited    Emotion = "EXCITED"
	EmotionSad        Emotion = "SAD"
	EmotionFrustrated Emotion = "FRUSTRATED"
	EmotionAnxious    Emotion = "ANXIOUS"
	EmotionCurious    Emotion = "CURIOUS"
	EmotionConfident  Emotion = "CONFIDENT"
	EmotionNeutral    Emotion = "NEUTRAL"
)

// Memory is one classified, scored, embedded unit of conversational text.
// Text is always normalized and bounded by MaxTextLen; Importance is
// always clamped to [0,1].
type Memory struct {
	ID           string    `json:"id"`
	PersonaID    string    `json:"persona_id"`
	UserID       string    `json:"user_id"`
	ChatID       string    `json:"chat_id,omitempty"`
	Role         Role      `json:"role"`
	Text         string    `json:"text"`
	Kind         Kind      `json:"kind"`
	Emotion      Emotion   `json:"emotion,omitempty"`
	Importance   float64   `json:"importance"`
	CreatedAt    time.Time `json:"created_at"`
	LastAccessed time.Time `json:"last_accessed"`
}

// Turn is the upstream caller's unit of conversation: the user message
// and, when the model has already replied, the assistant message. The two
// sides become independent memories.
type Turn struct {
	ChatID           string    `json:"chat_id"`
	UserID           string    `json:"user_id"`
	UserMessage      string    `json:"user_message"`
	AssistantMessage string    `json:"assistant_message,omitempty"`
	Timestamp        time.Time `json:"timestamp"`
}

// Hit is a retrieval result: a memory plus its fused relevance score and
// the individual score components. Hits are transient and never persisted.
type Hit struct {
	Memory
	Score     float64 `json:"score"`
	Lexical   float64 `json:"lexical"`
	Semantic  float64 `json:"semantic"`
	Recency   float64 `json:"recency"`
	ChatTitle string  `json:"chat_title,omitempty"`
}

// ContextBundle is the assembled context for one model call. ShortTerm is
// chronological (oldest first); LongTerm is ordered by descending fused
// score. The two lists stay separate so the caller controls placement.
// EstimatedTokens is a chars/4 heuristic; enforcing MaxTokens is the
// caller's responsibility.
type ContextBundle struct {
	ShortTerm       []Memory `json:"short_term"`
	LongTerm        []Hit    `json:"long_term"`
	EstimatedTokens int      `json:"estimated_tokens"`
	MaxTokens       int      `json:"max_tokens"`
}

// TextHit is a lexical candidate from the full-text index.
type TextHit struct {
	Memory Memory
	Score  float64
}

// VectorHit is a semantic candidate from the vector index.
type VectorHit struct {
	MemoryID   string
	Similarity float64
}

// FeedFilter restricts a live memory feed. Zero values mean "no filter";
// Limit <= 0 falls back to a store default.
type FeedFilter struct {
	Kind  Kind   `json:"kind,omitempty"`
	Query string `json:"query,omitempty"`
	Limit int    `json:"limit,omitempty"`
}

// PersonaVector pairs a stored vector with its owning persona, used when
// rebuilding the in-process vector index from the durable store.
type PersonaVector struct {
	PersonaID string
	Vector    Vector
}

// Store is the durable tri-index backend. Insert spans the relational,
// full-text, and vector rows in one transaction: all three persist or
// none do. Deletion cascades to the vector and full-text rows.
type Store interface {
	Insert(ctx context.Context, mem Memory, vec Vector) error
	Get(ctx context.Context, id string) (Memory, error)
	GetMany(ctx context.Context, ids []string) ([]Memory, error)
	Delete(ctx context.Context, id string) error
	DeleteAllForPersona(ctx context.Context, personaID string) (int, error)

	// RecentForChat returns up to limit memories for one conversation,
	// fetched newest-first and returned in chronological order.
	RecentForChat(ctx context.Context, personaID, chatID string, limit int) ([]Memory, error)

	// RecentVectors returns the newest vectors for a persona, bounding the
	// write-time dedupe comparison window.
	RecentVectors(ctx context.Context, personaID string, limit int) ([]Vector, error)

	// SearchText returns lexical candidates ranked by the index's native
	// relevance score, scoped to one persona.
	SearchText(ctx context.Context, personaID, query string, limit int) ([]TextHit, error)

	List(ctx context.Context, personaID string, filter FeedFilter) ([]Memory, error)
	Count(ctx context.Context, personaID string) (int, error)
	CountByKind(ctx context.Context, personaID string) (map[Kind]int, error)
	TouchAccessed(ctx context.Context, ids []string, at time.Time) error

	// Prune removes memories below the importance floor that are older
	// than the cutoff and returns the removed ids.
	Prune(ctx context.Context, personaID string, floor float64, olderThan time.Time) ([]string, error)

	// ListVectors scans every stored vector, used to rebuild the vector
	// index at startup.
	ListVectors(ctx context.Context) ([]PersonaVector, error)

	SetChatTitle(ctx context.Context, personaID, chatID, title string) error
	ChatTitles(ctx context.Context, chatIDs []string) (map[string]string, error)

	Close() error
}

// VectorIndex is the in-process approximate search index over dequantized
// vectors, scoped by persona. The durable copy of every vector lives in
// the Store; the index can always be rebuilt from it.
type VectorIndex interface {
	Add(ctx context.Context, personaID, memoryID string, vec []float32) error
	Search(ctx context.Context, personaID string, vec []float32, k int) ([]VectorHit, error)
	Remove(ctx context.Context, personaID string, ids ...string) error
	RemovePersona(ctx context.Context, personaID string) error
}

// Embedder converts text to vector embeddings.
// Implementations: mock (testing), ONNX (local), API-backed (production).
type Embedder interface {
	// Embed converts a single normalized text to an embedding vector.
	Embed(ctx context.Context, text string) ([]float32, error)

	// Dimensions returns the embedding vector size.
	Dimensions() int
}
