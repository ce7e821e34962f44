package knowledge

import (
	"crypto/md5"
	"encoding/hex"
	"time"
)

// ContentKey returns the hex MD5 digest of content. The digest is a content
// identity for change detection, not a security boundary; MD5 keeps keys
// short and cheap to compute on every upload.
func ContentKey(content []byte) string {
	sum := md5.Sum(content)
	return hex.EncodeToString(sum[:])
}

// Document describes one managed document as reported to callers and as
// persisted in the manifest. Status reflects the live index at read time and
// is not authoritative in the manifest.
type Document struct {
	Name       string    `json:"name"`
	Key        string    `json:"key"` // content hash, also the snapshot filename
	Size       int       `json:"size"`
	ChunkCount int       `json:"chunk_count"`
	Generation uint64    `json:"generation"`
	IndexedAt  time.Time `json:"indexed_at"`
	Status     string    `json:"status,omitempty"`
}

// Outcome tells an updater what happened to its upload.
type Outcome int

const (
	// OutcomeUnchanged means the content hash matched the existing index;
	// nothing was rebuilt.
	OutcomeUnchanged Outcome = iota
	// OutcomeRebuilt means a new index was built and swapped in.
	OutcomeRebuilt
	// OutcomeSuperseded means a newer upload for the same name landed first
	// and this build's result was discarded.
	OutcomeSuperseded
)

// String implements Stringer for log output.
func (o Outcome) String() string {
	switch o {
	case OutcomeUnchanged:
		return "unchanged"
	case OutcomeRebuilt:
		return "rebuilt"
	case OutcomeSuperseded:
		return "superseded"
	default:
		return "unknown"
	}
}

// UpdateResult reports the effect of an Upload or Update call.
type UpdateResult struct {
	Document Document
	Outcome  Outcome
}
