package index

import (
	"encoding/json"
	"errors"
	"fmt"
)

// ErrCorruptSnapshot indicates a persisted index could not be restored.
// The condition is scoped to one document: the owner should rebuild that
// document from source and must not let the failure affect other indexes.
var ErrCorruptSnapshot = errors.New("corrupt index snapshot")

// snapshotVersion guards against loading snapshots written by an
// incompatible layout. Bump when the serialized shape changes.
const snapshotVersion = 1

// snapshot is the serialized form of an Index. Lexical statistics are
// derived data and deliberately not persisted; Load recomputes them.
type snapshot struct {
	Version    int     `json:"version"`
	Key        string  `json:"key"`
	Name       string  `json:"name"`
	Generation uint64  `json:"generation"`
	Chunks     []Chunk `json:"chunks"`
}

// Snapshot serializes the index for durable storage.
func (ix *Index) Snapshot() ([]byte, error) {
	data, err := json.Marshal(snapshot{
		Version:    snapshotVersion,
		Key:        ix.key,
		Name:       ix.name,
		Generation: ix.generation,
		Chunks:     ix.chunks,
	})
	if err != nil {
		return nil, fmt.Errorf("encoding index snapshot for %q: %w", ix.name, err)
	}
	return data, nil
}

// Load restores an Index from Snapshot output. Any decode failure or
// invariant violation (bad version, missing key, duplicate sequences,
// inconsistent embedding dimensions) reports ErrCorruptSnapshot.
func Load(data []byte) (*Index, error) {
	var snap snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorruptSnapshot, err)
	}
	if snap.Version != snapshotVersion {
		return nil, fmt.Errorf("%w: version %d, want %d", ErrCorruptSnapshot, snap.Version, snapshotVersion)
	}
	if snap.Generation == 0 {
		return nil, fmt.Errorf("%w: zero generation", ErrCorruptSnapshot)
	}

	ix, err := New(snap.Key, snap.Name, snap.Chunks, snap.Generation)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorruptSnapshot, err)
	}
	return ix, nil
}
