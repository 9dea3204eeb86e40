// Package memory implements the persona-scoped long-term memory core.
//
// Every conversation turn is captured as one or two memories (user and
// assistant side), each normalized, classified, importance-scored,
// embedded, quantized, and written to three coordinated indices keyed by
// memory id:
//   - a relational row (the canonical record)
//   - a full-text row (lexical retrieval)
//   - a quantized vector row (semantic retrieval)
//
// Retrieval is hybrid: lexical and vector candidates are fetched
// independently, fused with a weighted score (lexical, semantic, recency,
// importance), ranked, and truncated. The context builder merges
// short-term memories (same conversation) with the retrieval output into
// a bundle the caller injects into the next model call.
//
// Architecture:
//   - Store: durable tri-index backend (SQLite implementation in store/sqlite)
//   - VectorIndex: in-process approximate search (chromem implementation in index/chromem)
//   - Embedder: text-to-vector conversion (mock for tests, ONNX for local, API for production)
//   - Ingestor / Retriever / ContextBuilder: the per-turn and per-query pipelines
//
// All dependencies are injected at construction; the package keeps no
// global state.
package memory
