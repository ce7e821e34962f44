// Package index provides the per-document hybrid retrieval index.
//
// Each ingested document gets exactly one Index over its chunks. An Index is
// immutable once built: rebuilds construct a fresh Index and the owner swaps
// the pointer, so concurrent readers always observe a complete chunk set.
// Only the status flag is mutable, and it is updated atomically.
//
// # Retrieval Model
//
// Search blends two signals over the same chunk set:
//
//	query
//	  |-- embedding --> cosine similarity per chunk --> semantic ranking
//	  |-- tokens ----> BM25 score per chunk ---------> lexical ranking
//	                        |
//	                        v
//	       weighted reciprocal-rank fusion (0.5 / 0.5, c = 60)
//	                        |
//	                        v
//	                 top-K hits, deterministic order
//
// A chunk surfaced by either leg is eligible; the top-K cut happens only
// after fusion. Ties break by ascending chunk sequence, so results are fully
// deterministic for a fixed index and query.
//
// # Serialization
//
// Snapshot/Load round-trip an Index as JSON. Lexical statistics are
// recomputed on load from the chunk texts, which keeps the snapshot format
// small and guarantees the in-memory statistics always match the chunks.
// A snapshot that fails to decode or violates internal invariants returns
// ErrCorruptSnapshot; the owner is expected to rebuild that one document
// from source.
package index
