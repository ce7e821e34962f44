package index

import (
	"encoding/json"
	"errors"
	"testing"
)

func buildTestIndex(t *testing.T) *Index {
	t.Helper()
	vectors := [][]float32{
		{1, 0, 0},
		{0, 1, 0},
		{0, 0, 1},
	}
	texts := []string{
		"first section about apples",
		"second section about oranges",
		"third section about pears",
	}
	ix, err := New("abc123", "fruit.txt", testChunks(vectors, texts), 3)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return ix
}

func TestSnapshotRoundTrip(t *testing.T) {
	ix := buildTestIndex(t)

	data, err := ix.Snapshot()
	if err != nil {
		t.Fatalf("Snapshot: %v", err)
	}

	restored, err := Load(data)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if restored.Key() != ix.Key() {
		t.Errorf("restored key = %q, want %q", restored.Key(), ix.Key())
	}
	if restored.Name() != ix.Name() {
		t.Errorf("restored name = %q, want %q", restored.Name(), ix.Name())
	}
	if restored.Generation() != ix.Generation() {
		t.Errorf("restored generation = %d, want %d", restored.Generation(), ix.Generation())
	}
	if restored.ChunkCount() != ix.ChunkCount() {
		t.Fatalf("restored chunk count = %d, want %d", restored.ChunkCount(), ix.ChunkCount())
	}

	// Search behavior must be identical on the restored index.
	query := []float32{0.5, 0.5, 0}
	before, err := ix.Search(query, "section about oranges", 3)
	if err != nil {
		t.Fatalf("Search before: %v", err)
	}
	after, err := restored.Search(query, "section about oranges", 3)
	if err != nil {
		t.Fatalf("Search after: %v", err)
	}
	if len(before) != len(after) {
		t.Fatalf("hit counts differ: %d vs %d", len(before), len(after))
	}
	for i := range before {
		if before[i].Chunk.Seq != after[i].Chunk.Seq || before[i].Score != after[i].Score {
			t.Errorf("hit %d differs: (%d, %f) vs (%d, %f)",
				i, before[i].Chunk.Seq, before[i].Score, after[i].Chunk.Seq, after[i].Score)
		}
	}
}

func TestLoadCorruption(t *testing.T) {
	valid, err := buildTestIndex(t).Snapshot()
	if err != nil {
		t.Fatalf("Snapshot: %v", err)
	}

	corruptVersion := func(t *testing.T) []byte {
		var snap map[string]any
		if err := json.Unmarshal(valid, &snap); err != nil {
			t.Fatalf("unmarshal: %v", err)
		}
		snap["version"] = 99
		out, err := json.Marshal(snap)
		if err != nil {
			t.Fatalf("marshal: %v", err)
		}
		return out
	}

	corruptChunks := func(t *testing.T) []byte {
		var snap map[string]any
		if err := json.Unmarshal(valid, &snap); err != nil {
			t.Fatalf("unmarshal: %v", err)
		}
		chunks := snap["chunks"].([]any)
		// Duplicate the first chunk's seq onto the second.
		chunks[1].(map[string]any)["seq"] = chunks[0].(map[string]any)["seq"]
		out, err := json.Marshal(snap)
		if err != nil {
			t.Fatalf("marshal: %v", err)
		}
		return out
	}

	tests := []struct {
		name string
		data func(*testing.T) []byte
	}{
		{name: "not json", data: func(*testing.T) []byte { return []byte("{{{garbage") }},
		{name: "empty", data: func(*testing.T) []byte { return nil }},
		{name: "wrong version", data: corruptVersion},
		{name: "duplicate seq", data: corruptChunks},
		{name: "zero generation", data: func(t *testing.T) []byte {
			var snap map[string]any
			if err := json.Unmarshal(valid, &snap); err != nil {
				t.Fatalf("unmarshal: %v", err)
			}
			snap["generation"] = 0
			out, err := json.Marshal(snap)
			if err != nil {
				t.Fatalf("marshal: %v", err)
			}
			return out
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(tt.data(t))
			if err == nil {
				t.Fatal("expected error, got nil")
			}
			if !errors.Is(err, ErrCorruptSnapshot) {
				t.Errorf("Load error = %v, want ErrCorruptSnapshot", err)
			}
		})
	}
}
