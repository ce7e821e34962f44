package knowledge

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/recallhq/recall/internal/chunk"
	"github.com/recallhq/recall/internal/config"
	"github.com/recallhq/recall/internal/index"
	"github.com/recallhq/recall/internal/log"
)

// Embedder turns chunk texts into fixed-dimension vectors.
// *genai.Client satisfies it.
type Embedder interface {
	EmbedTexts(ctx context.Context, texts []string) ([][]float32, error)
}

// entry is one live document: its index plus metadata the index itself does
// not carry.
type entry struct {
	idx       *index.Index
	size      int
	indexedAt time.Time
}

// Manager owns the document collection: one index per document name, a
// manifest on disk, and the rebuild/delete lifecycle. All methods are safe
// for concurrent use.
//
// Note: The zero value is NOT useful - use NewManager().
type Manager struct {
	embedder Embedder
	splitter *chunk.Splitter
	store    *store
	logger   log.Logger
	grace    time.Duration

	mu       sync.RWMutex
	byName   map[string]*entry // live documents
	builds   map[string]uint64 // per-name build ticket, doubles as the generation
	building map[string]int    // content keys with a snapshot written but not yet swapped in

	wg        sync.WaitGroup // reclamation timers in flight
	closed    chan struct{}
	closeOnce sync.Once
}

// NewManager creates a Manager over the data directory in cfg and restores
// any previously persisted documents. A corrupt manifest fails construction;
// a corrupt individual snapshot only drops that one document, with a
// warning.
func NewManager(embedder Embedder, cfg *config.Config, logger log.Logger) (*Manager, error) {
	if embedder == nil {
		return nil, fmt.Errorf("knowledge: embedder is required")
	}
	if cfg == nil {
		return nil, fmt.Errorf("knowledge: config is required")
	}
	if logger == nil {
		logger = log.NewNop()
	}

	splitter, err := chunk.NewSplitter(cfg.ChunkSize, cfg.ChunkOverlap)
	if err != nil {
		return nil, fmt.Errorf("knowledge: %w", err)
	}
	st, err := newStore(cfg.DataDir)
	if err != nil {
		return nil, fmt.Errorf("knowledge: %w", err)
	}

	m := &Manager{
		embedder: embedder,
		splitter: splitter,
		store:    st,
		logger:   logger,
		grace:    time.Duration(cfg.DeleteGraceMs) * time.Millisecond,
		byName:   make(map[string]*entry),
		builds:   make(map[string]uint64),
		building: make(map[string]int),
		closed:   make(chan struct{}),
	}
	if err := m.restore(); err != nil {
		return nil, fmt.Errorf("knowledge: %w", err)
	}
	return m, nil
}

// Close stops background reclamation work and waits for it to finish.
// Pending grace delays are cut short; the affected snapshots are reclaimed
// immediately. Callers must not start new operations after Close.
func (m *Manager) Close() {
	m.closeOnce.Do(func() { close(m.closed) })
	m.wg.Wait()
}

// ingestPolicy selects which preconditions an ingest enforces.
type ingestPolicy int

const (
	policyUpsert          ingestPolicy = iota // create or replace
	policyRequireExisting                     // replace only, ErrNotFound otherwise
	policyForce                               // replace only, rebuild even on identical content
)

// Upload adds a document or replaces an existing one with the same name,
// returning its content key. Re-uploading identical bytes under the same
// name is a no-op. The build never publishes partial state: the new index
// and its snapshot are completed before the atomic swap, and on any failure
// the previously active index stays in place.
//
// If the swap succeeds but persisting the manifest fails, the document is
// live in memory and the error reports the durability failure; the manifest
// is rewritten by the next successful mutation.
func (m *Manager) Upload(ctx context.Context, name string, content []byte) (string, error) {
	res, err := m.ingest(ctx, name, content, policyUpsert)
	if err != nil {
		return "", err
	}
	return res.Document.Key, nil
}

// Update replaces the named document's content. It returns ErrNotFound when
// the name is unknown and reports OutcomeUnchanged, without any rebuild,
// when the content hash matches the current index. The cost of an unchanged
// update does not depend on how many documents exist.
func (m *Manager) Update(ctx context.Context, name string, content []byte) (UpdateResult, error) {
	return m.ingest(ctx, name, content, policyRequireExisting)
}

// UpdateForce is Update without the unchanged short-circuit: the document is
// re-split and re-embedded even when its bytes are identical. Useful after
// changing the embedding model.
func (m *Manager) UpdateForce(ctx context.Context, name string, content []byte) (UpdateResult, error) {
	return m.ingest(ctx, name, content, policyForce)
}

func (m *Manager) ingest(ctx context.Context, name string, content []byte, policy ingestPolicy) (UpdateResult, error) {
	if err := validateUpload(name, content); err != nil {
		return UpdateResult{}, err
	}
	key := ContentKey(content)
	start := time.Now()

	m.mu.Lock()
	cur, exists := m.byName[name]
	if !exists && policy != policyUpsert {
		m.mu.Unlock()
		return UpdateResult{}, fmt.Errorf("updating %q: %w", name, ErrNotFound)
	}
	if exists && cur.idx.Key() == key && policy != policyForce {
		doc := m.documentLocked(name, cur, true)
		m.mu.Unlock()
		m.logger.Debug("document unchanged", "name", name, "key", key)
		return UpdateResult{Document: doc, Outcome: OutcomeUnchanged}, nil
	}

	// Take the build ticket. A later ingest or delete for this name bumps
	// the counter, which tells this build it has been superseded.
	ticket := m.builds[name] + 1
	m.builds[name] = ticket
	if exists {
		cur.idx.SetStatus(index.StatusRebuilding)
	}

	// When another live document already carries this exact content, reuse
	// its embedded chunks instead of calling the embedder again. Force
	// rebuilds skip the shortcut: their point is fresh embeddings.
	var donor []index.Chunk
	if policy != policyForce {
		if d := m.anyByKeyLocked(key); d != nil {
			donor = d.idx.Chunks()
		}
	}
	m.building[key]++
	m.mu.Unlock()

	idx, err := m.buildIndex(ctx, name, key, content, ticket, donor)
	if err != nil {
		m.abortBuild(name, key, ticket)
		return UpdateResult{}, err
	}

	// Persist before publishing: an index that readers can see must survive
	// a restart.
	snap, err := idx.Snapshot()
	if err != nil {
		m.abortBuild(name, key, ticket)
		return UpdateResult{}, err
	}
	if err := m.store.writeSnapshot(key, snap); err != nil {
		m.abortBuild(name, key, ticket)
		return UpdateResult{}, err
	}

	// Swap. Everything readers can observe changes inside this critical
	// section or not at all.
	m.mu.Lock()
	m.building[key]--
	if m.building[key] == 0 {
		delete(m.building, key)
	}
	if m.builds[name] != ticket {
		m.mu.Unlock()
		m.logger.Debug("build superseded", "name", name, "key", key, "generation", ticket)
		m.scheduleReclaim(key)
		return UpdateResult{
			Document: Document{Name: name, Key: key, Size: len(content), ChunkCount: idx.ChunkCount(), Generation: ticket},
			Outcome:  OutcomeSuperseded,
		}, nil
	}
	var oldKey string
	if old := m.byName[name]; old != nil {
		oldKey = old.idx.Key()
		old.idx.SetStatus(index.StatusPendingDelete)
	}
	e := &entry{idx: idx, size: len(content), indexedAt: time.Now()}
	m.byName[name] = e
	doc := m.documentLocked(name, e, true)
	rows := m.manifestRowsLocked()
	m.mu.Unlock()

	m.logger.Info("document indexed",
		"name", name,
		"key", key,
		"chunks", idx.ChunkCount(),
		"generation", ticket,
		"reused_embeddings", donor != nil,
		"duration", time.Since(start))

	if oldKey != "" && oldKey != key {
		m.scheduleReclaim(oldKey)
	}
	if err := m.store.writeManifest(rows); err != nil {
		return UpdateResult{Document: doc, Outcome: OutcomeRebuilt}, fmt.Errorf("document %q indexed but not durable: %w", name, err)
	}
	return UpdateResult{Document: doc, Outcome: OutcomeRebuilt}, nil
}

// buildIndex produces the staging index for one document, outside any lock.
// donor chunks, when present, already carry embeddings for this exact
// content.
func (m *Manager) buildIndex(ctx context.Context, name, key string, content []byte, generation uint64, donor []index.Chunk) (*index.Index, error) {
	if donor != nil {
		return index.New(key, name, donor, generation)
	}

	pieces := m.splitter.Split(string(content))
	if len(pieces) == 0 {
		return nil, &IngestError{Name: name, Reason: "no indexable text"}
	}
	texts := make([]string, len(pieces))
	for i, p := range pieces {
		texts[i] = p.Text
	}
	vectors, err := m.embedder.EmbedTexts(ctx, texts)
	if err != nil {
		return nil, &IngestError{Name: name, Reason: "embedding failed", Err: err}
	}

	chunks := make([]index.Chunk, len(pieces))
	for i, p := range pieces {
		chunks[i] = index.Chunk{Seq: i, Text: p.Text, Start: p.Start, End: p.End, Vector: vectors[i]}
	}
	return index.New(key, name, chunks, generation)
}

// abortBuild undoes the bookkeeping of a failed build. The previously
// active index, if any, goes back to serving unless a newer build has
// already taken over the name.
func (m *Manager) abortBuild(name, key string, ticket uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.building[key]--
	if m.building[key] == 0 {
		delete(m.building, key)
	}
	if m.builds[name] == ticket {
		if cur, ok := m.byName[name]; ok {
			cur.idx.SetStatus(index.StatusActive)
		}
	}
}

// Delete removes every document whose content key matches key: the key
// identifies content, and deleting content deletes it under all names
// carrying it. The documents disappear from retrieval immediately; the
// snapshot file is reclaimed after the grace delay, falling back to the
// persisted pending-deletions list when removal fails.
func (m *Manager) Delete(ctx context.Context, key string) error {
	m.mu.Lock()
	var names []string
	for name, e := range m.byName {
		if e.idx.Key() == key {
			names = append(names, name)
		}
	}
	if len(names) == 0 {
		m.mu.Unlock()
		return fmt.Errorf("deleting %s: %w", key, ErrNotFound)
	}
	for _, name := range names {
		m.byName[name].idx.SetStatus(index.StatusPendingDelete)
		delete(m.byName, name)
		// Invalidate any in-flight rebuild of this name; the delete is the
		// last writer.
		m.builds[name]++
	}
	rows := m.manifestRowsLocked()
	m.mu.Unlock()

	sort.Strings(names)
	m.logger.Info("document deleted", "key", key, "names", names)
	m.scheduleReclaim(key)

	if err := m.store.writeManifest(rows); err != nil {
		return fmt.Errorf("document %s deleted but not durable: %w", key, err)
	}
	return nil
}

// List returns metadata for every live document, ordered by name.
func (m *Manager) List(ctx context.Context) ([]Document, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	docs := make([]Document, 0, len(m.byName))
	for _, name := range m.sortedNamesLocked() {
		docs = append(docs, m.documentLocked(name, m.byName[name], true))
	}
	return docs, nil
}

// Info returns metadata for one document by name.
func (m *Manager) Info(ctx context.Context, name string) (Document, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.byName[name]
	if !ok {
		return Document{}, fmt.Errorf("document %q: %w", name, ErrNotFound)
	}
	return m.documentLocked(name, e, true), nil
}

// GetIndex returns the live index for a content key. With several names
// sharing the same content, the first by name order wins; their indexes
// differ only in the document name.
func (m *Manager) GetIndex(key string) (*index.Index, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, name := range m.sortedNamesLocked() {
		if e := m.byName[name]; e.idx.Key() == key {
			return e.idx, nil
		}
	}
	return nil, fmt.Errorf("index %s: %w", key, ErrNotFound)
}

// ByName returns the live index for a document name.
func (m *Manager) ByName(name string) (*index.Index, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.byName[name]
	if !ok {
		return nil, fmt.Errorf("document %q: %w", name, ErrNotFound)
	}
	return e.idx, nil
}

// Indexes returns every live index, ordered by document name. The slice is
// a snapshot: a concurrent swap or delete does not affect it, and each
// index keeps serving searches even after being replaced.
func (m *Manager) Indexes() []*index.Index {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*index.Index, 0, len(m.byName))
	for _, name := range m.sortedNamesLocked() {
		out = append(out, m.byName[name].idx)
	}
	return out
}

// Len returns the number of live documents.
func (m *Manager) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.byName)
}

// scheduleReclaim removes a snapshot file after the grace delay, unless the
// key has become live again in the meantime. Failures are recorded in the
// pending-deletions file for the next startup.
func (m *Manager) scheduleReclaim(key string) {
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		timer := time.NewTimer(m.grace)
		defer timer.Stop()
		select {
		case <-timer.C:
		case <-m.closed:
		}

		// The read lock is held across the unlink: a concurrent build
		// registers itself in building under the write lock before touching
		// the file, so it either is visible here or writes strictly after
		// the unlink.
		m.mu.RLock()
		defer m.mu.RUnlock()
		if m.keyInUseLocked(key) {
			return
		}
		if err := m.store.removeSnapshot(key); err != nil {
			m.logger.Warn("snapshot reclamation failed, deferring to next startup", "key", key, "error", err)
			if perr := m.store.appendPending(key); perr != nil {
				m.logger.Error("recording pending deletion failed", "key", key, "error", perr)
			}
		}
	}()
}

// keyInUseLocked reports whether any live document or in-flight build
// references the content key. Callers hold mu.
func (m *Manager) keyInUseLocked(key string) bool {
	if m.building[key] > 0 {
		return true
	}
	for _, e := range m.byName {
		if e.idx.Key() == key {
			return true
		}
	}
	return false
}

// anyByKeyLocked returns some live entry with the given content key, or
// nil. Callers hold mu.
func (m *Manager) anyByKeyLocked(key string) *entry {
	for _, e := range m.byName {
		if e.idx.Key() == key {
			return e
		}
	}
	return nil
}

// sortedNamesLocked returns live document names in order. Callers hold mu.
func (m *Manager) sortedNamesLocked() []string {
	names := make([]string, 0, len(m.byName))
	for name := range m.byName {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// documentLocked builds the caller-facing metadata row for one entry.
// withStatus is false for manifest rows, where a stored status would be
// stale by the time it is read back. Callers hold mu.
func (m *Manager) documentLocked(name string, e *entry, withStatus bool) Document {
	doc := Document{
		Name:       name,
		Key:        e.idx.Key(),
		Size:       e.size,
		ChunkCount: e.idx.ChunkCount(),
		Generation: e.idx.Generation(),
		IndexedAt:  e.indexedAt,
	}
	if withStatus {
		doc.Status = e.idx.Status().String()
	}
	return doc
}

// manifestRowsLocked captures the persistent view of the live table.
// Callers hold mu.
func (m *Manager) manifestRowsLocked() []Document {
	rows := make([]Document, 0, len(m.byName))
	for _, name := range m.sortedNamesLocked() {
		rows = append(rows, m.documentLocked(name, m.byName[name], false))
	}
	return rows
}

// restore loads the persisted state at construction time. It runs before
// the Manager escapes, so it accesses the maps directly.
//
// A snapshot that fails to load drops only its own document; the name's
// generation is still seeded from the manifest so a re-upload continues the
// counter. When names share content, the shared snapshot holds one of the
// names; the manifest row is authoritative and the index is rebuilt around
// it without re-embedding.
func (m *Manager) restore() error {
	rows, err := m.store.loadManifest()
	if err != nil {
		return err
	}

	dropped := 0
	for _, row := range rows {
		m.builds[row.Name] = row.Generation
		idx, err := m.loadIndex(row)
		if err != nil {
			m.logger.Warn("dropping document with unusable snapshot; re-upload to restore it",
				"name", row.Name, "key", row.Key, "error", err)
			dropped++
			continue
		}
		m.byName[row.Name] = &entry{idx: idx, size: row.Size, indexedAt: row.IndexedAt}
	}
	if len(rows) > 0 {
		m.logger.Info("knowledge base restored", "documents", len(m.byName), "dropped", dropped)
	}
	if dropped > 0 {
		if err := m.store.writeManifest(m.manifestRowsLocked()); err != nil {
			m.logger.Warn("rewriting manifest after drops failed", "error", err)
		}
	}

	m.retryPendingDeletions()
	m.sweepOrphans()
	return nil
}

// loadIndex restores one document's index from its snapshot, reconciling
// the index identity with the manifest row.
func (m *Manager) loadIndex(row Document) (*index.Index, error) {
	data, err := m.store.loadSnapshot(row.Key)
	if err != nil {
		return nil, err
	}
	idx, err := index.Load(data)
	if err != nil {
		return nil, err
	}
	if idx.Key() != row.Key {
		return nil, fmt.Errorf("%w: snapshot key %s under %s", index.ErrCorruptSnapshot, idx.Key(), row.Key)
	}
	if idx.Name() != row.Name || idx.Generation() != row.Generation {
		return index.New(row.Key, row.Name, idx.Chunks(), row.Generation)
	}
	return idx, nil
}

// retryPendingDeletions drains the pending-deletions file and retries each
// removal. Keys that have become live again are simply dropped from the
// list.
func (m *Manager) retryPendingDeletions() {
	keys, err := m.store.takePending()
	if err != nil {
		m.logger.Warn("reading pending deletions failed", "error", err)
		return
	}
	for _, key := range keys {
		if m.keyInUseLocked(key) {
			continue
		}
		if err := m.store.removeSnapshot(key); err != nil {
			m.logger.Warn("pending deletion failed again", "key", key, "error", err)
			if perr := m.store.appendPending(key); perr != nil {
				m.logger.Error("re-recording pending deletion failed", "key", key, "error", perr)
			}
			continue
		}
		m.logger.Debug("reclaimed pending snapshot", "key", key)
	}
}

// sweepOrphans removes snapshot files no live document references, left
// behind by crashes between a swap and its reclamation.
func (m *Manager) sweepOrphans() {
	keys, err := m.store.listSnapshotKeys()
	if err != nil {
		m.logger.Warn("listing snapshots for orphan sweep failed", "error", err)
		return
	}
	for _, key := range keys {
		if m.keyInUseLocked(key) {
			continue
		}
		if err := m.store.removeSnapshot(key); err != nil {
			m.logger.Warn("removing orphan snapshot failed", "key", key, "error", err)
			continue
		}
		m.logger.Debug("removed orphan snapshot", "key", key)
	}
}

// validateUpload rejects documents that can never index successfully.
func validateUpload(name string, content []byte) error {
	if name == "" {
		return &IngestError{Name: name, Reason: "empty document name"}
	}
	if len(content) == 0 {
		return &IngestError{Name: name, Reason: "empty content"}
	}
	if !utf8.Valid(content) {
		return &IngestError{Name: name, Reason: "content is not valid UTF-8"}
	}
	return nil
}
