// Package knowledge manages the document collection behind recall's
// question answering: one hybrid index per document, rebuilt only when the
// document's content actually changes.
//
// # Overview
//
// The Manager is the single source of truth for which documents exist and
// whether each one's index reflects its current content. Documents are
// identified by the MD5 of their bytes, so change detection is a hash
// comparison and idempotent re-uploads are free.
//
// # Index lifecycle
//
//	Upload(name, content)
//	     |
//	     v
//	content hash ----------- unchanged? ----> return existing key
//	     |
//	     v
//	split into chunks (internal/chunk)
//	     |
//	     v
//	embed chunk texts (genai collaborator)
//	     |
//	     v
//	build staging index (internal/index)     <- never visible to readers
//	     |
//	     v
//	write snapshot to <data_dir>/indexes/
//	     |
//	     v
//	swap pointer under lock, mark ACTIVE     <- the only mutation readers see
//	     |
//	     v
//	persist manifest, reclaim old snapshot
//
// Readers always observe either the fully-old or the fully-new index, never
// a partial rebuild. No lock is held across embedding calls.
//
// # Concurrency
//
// At most one rebuild lands per document name: each build takes a ticket,
// and a build whose ticket has been superseded discards its result
// (last-writer-wins). Rebuilds of different documents share no state and
// proceed fully in parallel.
//
// # Deletion
//
// Delete removes the document from retrieval immediately and marks its
// index PENDING_DELETE. The snapshot file is reclaimed after a grace delay;
// if removal fails the key is recorded in a pending-deletions file that the
// next startup retries.
//
// # Persistence
//
// Everything lives under the configured data directory:
//
//	manifest.json           filename -> content hash, generation, metadata
//	pending_deletions.json  snapshot keys awaiting reclamation
//	indexes/<key>.json      one serialized index per content hash
//
// All writes go through a temp-file-plus-rename so a crash never leaves a
// half-written file, guarded by a flock file lock against a second recall
// process sharing the directory. A corrupt snapshot disables only that one
// document; the next upload of its content rebuilds it from scratch.
package knowledge
