package simsearch

import (
	"testing"

	"github.com/hurttlocker/reverie/internal/ann"
	"github.com/hurttlocker/reverie/internal/embed"
)

func testClusters() []ClusterInfo {
	return []ClusterInfo{
		{ID: 1, Representative: "to become a doctor", Size: 12},
		{ID: 2, Representative: "to become a physician", Size: 4},
		{ID: 3, Representative: "to buy a house", Size: 9},
		{ID: 4, Representative: "to become a dancer", Size: 4},
	}
}

func testArtifact() *embed.Artifact {
	return &embed.Artifact{
		Model:      "test",
		Dims:       3,
		ClusterIDs: []int64{1, 2, 3, 4},
		Phrases:    []string{"to become a doctor", "to become a physician", "to buy a house", "to become a dancer"},
		Vectors: [][]float32{
			{1, 0, 0},
			{0.95, 0.05, 0},
			{0, 1, 0},
			{0.5, 0.5, 0},
		},
	}
}

func testIndex(a *embed.Artifact) *ann.Index {
	idx := ann.New(a.Dims)
	for i, id := range a.ClusterIDs {
		idx.Insert(id, a.Vectors[i])
	}
	return idx
}

func TestSearchVectorTier(t *testing.T) {
	a := testArtifact()
	s := New(testClusters(), a, testIndex(a))

	results, err := s.Search(1, 3, 50)
	if err != nil {
		t.Fatalf("Search failed: %v", err)
	}
	if len(results) == 0 {
		t.Fatal("no results")
	}
	if results[0].ClusterID != 2 {
		t.Errorf("closest = %d, want 2 (physician)", results[0].ClusterID)
	}
	if results[0].Source != "vector" {
		t.Errorf("source = %q, want vector", results[0].Source)
	}
	if results[0].Similarity < 99 {
		t.Errorf("near-identical vectors scored %f", results[0].Similarity)
	}
	for _, r := range results {
		if r.ClusterID == 1 {
			t.Error("query cluster leaked into results")
		}
		if r.ClusterID == 3 {
			t.Error("orthogonal cluster passed the 50-point floor")
		}
	}
}

func TestSearchLexicalOnly(t *testing.T) {
	s := New(testClusters(), nil, nil)

	results, err := s.Search(1, 5, 30)
	if err != nil {
		t.Fatalf("Search failed: %v", err)
	}
	if len(results) == 0 {
		t.Fatal("lexical tier returned nothing")
	}
	for _, r := range results {
		if r.Source != "lexical" {
			t.Errorf("source = %q, want lexical", r.Source)
		}
		if r.ClusterID == 1 {
			t.Error("query cluster leaked into results")
		}
	}
	// "to become a physician" and "to become a dancer" share three of
	// four tokens with the query and pass the floor; "to buy a house"
	// shares only two and should be filtered out.
	seen := map[int64]bool{}
	for _, r := range results {
		seen[r.ClusterID] = true
	}
	if !seen[2] || !seen[4] {
		t.Errorf("expected clusters 2 and 4 above the floor, got %+v", results)
	}
	if seen[3] {
		t.Errorf("weak match passed the 30-point floor: %+v", results)
	}
}

func TestSearchVectorBeatsLexicalForSameCluster(t *testing.T) {
	a := testArtifact()
	s := New(testClusters(), a, testIndex(a))

	results, err := s.Search(1, 5, 10)
	if err != nil {
		t.Fatalf("Search failed: %v", err)
	}
	for _, r := range results {
		if r.ClusterID == 2 && r.Source != "vector" {
			t.Errorf("cluster 2 reported by %q tier, vector should win", r.Source)
		}
	}
}

func TestSearchExcludesDeadClusters(t *testing.T) {
	a := testArtifact()
	idx := testIndex(a)
	// Cluster 4 is in the index and artifact but no longer live.
	live := testClusters()[:3]
	s := New(live, a, idx)

	results, err := s.Search(1, 10, 0)
	if err != nil {
		t.Fatalf("Search failed: %v", err)
	}
	for _, r := range results {
		if r.ClusterID == 4 {
			t.Error("dead cluster surfaced in results")
		}
	}
}

func TestSearchUnknownCluster(t *testing.T) {
	s := New(testClusters(), nil, nil)
	if _, err := s.Search(99, 5, 0); err == nil {
		t.Error("expected error for unknown cluster")
	}
}

func TestSearchTieBreaksBySize(t *testing.T) {
	clusters := []ClusterInfo{
		{ID: 1, Representative: "to sing opera", Size: 1},
		{ID: 2, Representative: "to sing jazz", Size: 2},
		{ID: 3, Representative: "to sing jazz", Size: 8},
	}
	s := New(clusters, nil, nil)

	results, err := s.Search(1, 5, 0)
	if err != nil {
		t.Fatalf("Search failed: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("got %d results, want 2", len(results))
	}
	if results[0].ClusterID != 3 {
		t.Errorf("equal-similarity results not ordered by size: %+v", results)
	}
}

func TestLexicalSimilarity(t *testing.T) {
	tests := []struct {
		a, b string
		lo   float64
		hi   float64
	}{
		{"to become a doctor", "to become a doctor", 100, 100},
		{"to become a doctor", "to become a physician", 40, 90},
		{"to become a doctor", "to buy a house", 5, 50},
		{"to fly", "completely unrelated words here", 0, 10},
		{"", "", 0, 0},
	}
	for _, tt := range tests {
		got := LexicalSimilarity(tt.a, tt.b)
		if got < tt.lo || got > tt.hi {
			t.Errorf("LexicalSimilarity(%q, %q) = %f, want in [%f, %f]", tt.a, tt.b, got, tt.lo, tt.hi)
		}
	}
}
