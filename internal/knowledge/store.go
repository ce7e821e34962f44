package knowledge

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/gofrs/flock"
)

const (
	manifestFile = "manifest.json"
	pendingFile  = "pending_deletions.json"
	indexesDir   = "indexes"
	lockFile     = ".lock"

	// manifestVersion guards against loading a manifest written by an
	// incompatible layout.
	manifestVersion = 1
)

// store owns the on-disk layout under the data directory. Snapshot files are
// content-addressed (named by document key), so concurrent writers of the
// same key write identical bytes and need no coordination. The manifest and
// pending-deletions files are read-modify-write and go through withLock,
// which combines an in-process mutex with a flock against other recall
// processes sharing the directory.
type store struct {
	dir  string
	mu   sync.Mutex
	lock *flock.Flock
}

func newStore(dir string) (*store, error) {
	if dir == "" {
		return nil, fmt.Errorf("knowledge: empty data directory")
	}
	if err := os.MkdirAll(filepath.Join(dir, indexesDir), 0o750); err != nil {
		return nil, fmt.Errorf("creating data directory: %w", err)
	}
	return &store{
		dir:  dir,
		lock: flock.New(filepath.Join(dir, lockFile)),
	}, nil
}

// withLock runs fn while holding both the process mutex and the file lock.
func (s *store) withLock(fn func() error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.lock.Lock(); err != nil {
		return fmt.Errorf("locking data directory: %w", err)
	}
	defer s.lock.Unlock() //nolint:errcheck // nothing to do about an unlock failure
	return fn()
}

// manifest is the serialized document catalog.
type manifest struct {
	Version   int        `json:"version"`
	Documents []Document `json:"documents"`
}

// loadManifest reads the document catalog. A missing file is an empty
// catalog; a corrupt file is an error, because silently dropping the catalog
// would orphan every snapshot.
func (s *store) loadManifest() ([]Document, error) {
	var docs []Document
	err := s.withLock(func() error {
		data, err := os.ReadFile(filepath.Join(s.dir, manifestFile))
		if err != nil {
			if os.IsNotExist(err) {
				return nil
			}
			return fmt.Errorf("reading manifest: %w", err)
		}
		var m manifest
		if err := json.Unmarshal(data, &m); err != nil {
			return fmt.Errorf("parsing manifest: %w", err)
		}
		if m.Version != manifestVersion {
			return fmt.Errorf("manifest version %d, want %d", m.Version, manifestVersion)
		}
		docs = m.Documents
		return nil
	})
	return docs, err
}

// writeManifest replaces the document catalog.
func (s *store) writeManifest(docs []Document) error {
	data, err := json.MarshalIndent(manifest{Version: manifestVersion, Documents: docs}, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding manifest: %w", err)
	}
	return s.withLock(func() error {
		return writeFileAtomic(filepath.Join(s.dir, manifestFile), data)
	})
}

// pendingList records snapshot keys whose removal failed and must be retried
// at the next startup.
type pendingList struct {
	Version int      `json:"version"`
	Keys    []string `json:"keys"`
}

// appendPending adds a key to the pending-deletions file, deduplicating.
func (s *store) appendPending(key string) error {
	return s.withLock(func() error {
		pending, err := s.readPending()
		if err != nil {
			return err
		}
		for _, k := range pending {
			if k == key {
				return nil
			}
		}
		return s.storePending(append(pending, key))
	})
}

// takePending atomically drains the pending-deletions file and returns the
// keys it held. Keys whose removal fails again should be re-appended.
func (s *store) takePending() ([]string, error) {
	var keys []string
	err := s.withLock(func() error {
		pending, err := s.readPending()
		if err != nil {
			return err
		}
		if len(pending) == 0 {
			return nil
		}
		keys = pending
		return s.storePending(nil)
	})
	return keys, err
}

// readPending loads the pending list without locking; callers hold withLock.
// A corrupt pending file only delays reclamation, so it is dropped with the
// error rather than blocking startup.
func (s *store) readPending() ([]string, error) {
	data, err := os.ReadFile(filepath.Join(s.dir, pendingFile))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("reading pending deletions: %w", err)
	}
	var p pendingList
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("parsing pending deletions: %w", err)
	}
	return p.Keys, nil
}

// storePending writes the pending list without locking; callers hold withLock.
func (s *store) storePending(keys []string) error {
	if len(keys) == 0 {
		if err := os.Remove(filepath.Join(s.dir, pendingFile)); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("removing pending deletions: %w", err)
		}
		return nil
	}
	data, err := json.MarshalIndent(pendingList{Version: manifestVersion, Keys: keys}, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding pending deletions: %w", err)
	}
	return writeFileAtomic(filepath.Join(s.dir, pendingFile), data)
}

func (s *store) snapshotPath(key string) string {
	return filepath.Join(s.dir, indexesDir, key+".json")
}

// writeSnapshot persists one serialized index under its content key.
func (s *store) writeSnapshot(key string, data []byte) error {
	if err := writeFileAtomic(s.snapshotPath(key), data); err != nil {
		return fmt.Errorf("writing snapshot %s: %w", key, err)
	}
	return nil
}

// loadSnapshot reads one serialized index. Missing and unreadable files are
// both errors; the caller decides whether that disables the document.
func (s *store) loadSnapshot(key string) ([]byte, error) {
	data, err := os.ReadFile(s.snapshotPath(key))
	if err != nil {
		return nil, fmt.Errorf("reading snapshot %s: %w", key, err)
	}
	return data, nil
}

// removeSnapshot deletes one snapshot file. A missing file counts as
// removed.
func (s *store) removeSnapshot(key string) error {
	if err := os.Remove(s.snapshotPath(key)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("removing snapshot %s: %w", key, err)
	}
	return nil
}

// listSnapshotKeys returns the keys of every snapshot file on disk,
// including orphans the manifest no longer references.
func (s *store) listSnapshotKeys() ([]string, error) {
	entries, err := os.ReadDir(filepath.Join(s.dir, indexesDir))
	if err != nil {
		return nil, fmt.Errorf("listing snapshots: %w", err)
	}
	var keys []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		if key, ok := strings.CutSuffix(name, ".json"); ok && key != "" {
			keys = append(keys, key)
		}
	}
	return keys, nil
}

// writeFileAtomic writes data to path through a temp file and rename, so a
// crash mid-write never leaves a truncated file at path.
func writeFileAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName) //nolint:errcheck // no-op after successful rename

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("writing temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("syncing temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("closing temp file: %w", err)
	}
	if err := os.Chmod(tmpName, 0o640); err != nil {
		return fmt.Errorf("setting file mode: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("replacing %s: %w", filepath.Base(path), err)
	}
	return nil
}
