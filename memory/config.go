package memory

// Config holds the process-wide memory tuning knobs. It is read once at
// construction and never mutated afterwards; runtime reconfiguration is
// out of scope for this core.
type Config struct {
	// Dim is the embedding dimensionality. Every stored vector must match
	// it; mismatched rows are excluded from scoring.
	Dim int

	// KFts and KVec bound the candidate fetches from the full-text and
	// vector indices. KReturn is the default recall truncation.
	KFts    int
	KVec    int
	KReturn int

	// RecallK is the long-term candidate count used by the context builder.
	RecallK int

	// ShortTermLimit caps the same-conversation memories in a bundle.
	ShortTermLimit int

	// ImportanceFloor and PruneHorizonDays drive opportunistic pruning:
	// memories below the floor and older than the horizon are removed.
	// PruneEvery is the ingest cadence of the prune pass (0 disables it).
	ImportanceFloor  float64
	PruneHorizonDays int
	PruneEvery       int

	// DedupeCosine marks a new embedding as a near-duplicate of an
	// existing one; DedupeWindow bounds how many recent per-persona
	// vectors the comparison scans.
	DedupeCosine float64
	DedupeWindow int

	// Fusion weights for the four score components. They are not required
	// to sum to 1.
	WeightLexical    float64
	WeightSemantic   float64
	WeightRecency    float64
	WeightImportance float64

	// RecencyHalfLifeDays parameterizes the exponential recency decay:
	// a memory this many days old scores 0.5.
	RecencyHalfLifeDays float64

	// EnabledByDefault is the memory toggle for personas that were never
	// explicitly enabled or disabled.
	EnabledByDefault bool
}

// DefaultConfig holds sensible defaults for local use.
var DefaultConfig = &Config{
	Dim:                 768,
	KFts:                24,
	KVec:                24,
	KReturn:             8,
	RecallK:             50,
	ShortTermLimit:      100,
	ImportanceFloor:     0.3,
	PruneHorizonDays:    90,
	PruneEvery:          64,
	DedupeCosine:        0.97,
	DedupeWindow:        200,
	WeightLexical:       0.4,
	WeightSemantic:      0.3,
	WeightRecency:       0.2,
	WeightImportance:    0.1,
	RecencyHalfLifeDays: 30,
	EnabledByDefault:    true,
}
