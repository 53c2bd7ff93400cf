package ann

import (
	"math"
	"math/rand"
	"os"
	"path/filepath"
	"sort"
	"testing"
)

func TestCosineDistance(t *testing.T) {
	tests := []struct {
		name string
		a, b []float32
		want float32
	}{
		{"identical", []float32{1, 0, 0}, []float32{1, 0, 0}, 0},
		{"orthogonal", []float32{1, 0}, []float32{0, 1}, 1},
		{"opposite", []float32{1, 0}, []float32{-1, 0}, 2},
		{"mismatched dims", []float32{1, 0}, []float32{1, 0, 0}, 2},
		{"zero vector", []float32{0, 0}, []float32{1, 0}, 2},
		{"empty", nil, nil, 2},
	}
	for _, tt := range tests {
		got := CosineDistance(tt.a, tt.b)
		if math.Abs(float64(got-tt.want)) > 1e-5 {
			t.Errorf("%s: CosineDistance = %v, want %v", tt.name, got, tt.want)
		}
	}
}

func TestInsertAndSearch(t *testing.T) {
	idx := New(3)
	idx.Insert(1, []float32{1, 0, 0})
	idx.Insert(2, []float32{0, 1, 0})
	idx.Insert(3, []float32{0.9, 0.1, 0})

	if idx.Len() != 3 {
		t.Fatalf("Len = %d, want 3", idx.Len())
	}
	if !idx.Has(2) || idx.Has(99) {
		t.Error("Has gave wrong answers")
	}

	results := idx.Search([]float32{1, 0, 0}, 2)
	if len(results) != 2 {
		t.Fatalf("got %d results, want 2", len(results))
	}
	if results[0].ID != 1 {
		t.Errorf("closest = %d, want 1", results[0].ID)
	}
	if results[1].ID != 3 {
		t.Errorf("second = %d, want 3", results[1].ID)
	}
	if results[0].Distance > results[1].Distance {
		t.Error("results not sorted by distance")
	}
}

func TestInsertDuplicateID(t *testing.T) {
	idx := New(2)
	idx.Insert(7, []float32{1, 0})
	idx.Insert(7, []float32{0, 1})
	if idx.Len() != 1 {
		t.Errorf("Len = %d after duplicate insert, want 1", idx.Len())
	}
	results := idx.Search([]float32{1, 0}, 1)
	if len(results) != 1 || results[0].Distance > 0.01 {
		t.Errorf("duplicate insert replaced the vector: %+v", results)
	}
}

func TestSearchEmptyIndex(t *testing.T) {
	idx := New(4)
	if results := idx.Search([]float32{1, 0, 0, 0}, 5); results != nil {
		t.Errorf("empty index returned %v", results)
	}
}

// Recall against brute force on a few hundred random vectors. HNSW is
// approximate; at this scale with default params recall should be near
// perfect.
func TestSearchRecall(t *testing.T) {
	const (
		n    = 300
		dims = 16
		k    = 10
	)
	rng := rand.New(rand.NewSource(7))
	vectors := make([][]float32, n)
	idx := New(dims)
	for i := 0; i < n; i++ {
		v := make([]float32, dims)
		for d := range v {
			v[d] = rng.Float32()*2 - 1
		}
		vectors[i] = v
		idx.Insert(int64(i), v)
	}

	query := make([]float32, dims)
	for d := range query {
		query[d] = rng.Float32()*2 - 1
	}

	type pair struct {
		id   int64
		dist float32
	}
	exact := make([]pair, n)
	for i, v := range vectors {
		exact[i] = pair{id: int64(i), dist: CosineDistance(query, v)}
	}
	sort.Slice(exact, func(i, j int) bool { return exact[i].dist < exact[j].dist })

	truth := make(map[int64]bool, k)
	for _, p := range exact[:k] {
		truth[p.id] = true
	}

	got := idx.SearchEf(query, k, 100)
	hits := 0
	for _, r := range got {
		if truth[r.ID] {
			hits++
		}
	}
	if hits < k-1 {
		t.Errorf("recall %d/%d, want at least %d", hits, k, k-1)
	}
}

func TestSaveLoadRoundTrip(t *testing.T) {
	idx := New(3)
	idx.Insert(1, []float32{1, 0, 0})
	idx.Insert(2, []float32{0, 1, 0})
	idx.Insert(3, []float32{0, 0, 1})

	path := filepath.Join(t.TempDir(), "clusters.hnsw")
	if err := idx.Save(path); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if loaded.Len() != 3 || loaded.Dims() != 3 {
		t.Errorf("loaded index: Len=%d Dims=%d", loaded.Len(), loaded.Dims())
	}

	results := loaded.Search([]float32{0, 1, 0}, 1)
	if len(results) != 1 || results[0].ID != 2 {
		t.Errorf("search after load = %+v, want cluster 2", results)
	}

	// The loaded index must accept further inserts.
	loaded.Insert(4, []float32{0.5, 0.5, 0})
	if loaded.Len() != 4 {
		t.Errorf("Len after post-load insert = %d, want 4", loaded.Len())
	}
}

func TestLoadRejectsWrongMagic(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bogus.hnsw")
	if err := os.WriteFile(path, []byte("NOTMAGIC and some trailing bytes"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(path); err == nil {
		t.Error("expected error for wrong magic")
	}
}
