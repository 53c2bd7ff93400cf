// Package simsearch finds clusters similar to a given cluster.
//
// Two tiers. The vector tier queries the HNSW index over representative
// embeddings and scores by cosine similarity. The lexical tier scores
// every live cluster by a blend of token overlap and character bigram
// overlap, and needs no embeddings at all. When both tiers surface the
// same cluster the vector score wins; the lexical tier mostly matters
// when no embedding artifact has been built yet.
package simsearch

import (
	"fmt"
	"sort"
	"strings"

	"github.com/hurttlocker/reverie/internal/ann"
	"github.com/hurttlocker/reverie/internal/embed"
)

const (
	// DefaultK is how many similar clusters a search returns.
	DefaultK = 10

	// DefaultMinScore is the similarity floor, on the 0-100 scale.
	DefaultMinScore = 30.0

	tokenWeight  = 0.6
	bigramWeight = 0.4
)

// ClusterInfo is the live-cluster view the searcher works over. Clusters
// emptied by merges never appear here.
type ClusterInfo struct {
	ID             int64
	Representative string
	Size           int
}

// Candidate is one similar cluster with its score and which tier found it.
type Candidate struct {
	ClusterID      int64   `json:"cluster_id"`
	Representative string  `json:"representative"`
	Size           int     `json:"size"`
	Similarity     float64 `json:"similarity"` // 0-100
	Source         string  `json:"source"`     // "vector" or "lexical"
}

// Searcher answers similar-cluster queries over a fixed snapshot.
type Searcher struct {
	clusters map[int64]ClusterInfo
	vectors  map[int64][]float32
	index    *ann.Index
}

// New builds a searcher. The artifact and index are optional; without
// them the searcher is lexical-only.
func New(clusters []ClusterInfo, artifact *embed.Artifact, index *ann.Index) *Searcher {
	s := &Searcher{
		clusters: make(map[int64]ClusterInfo, len(clusters)),
		index:    index,
	}
	for _, c := range clusters {
		s.clusters[c.ID] = c
	}
	if artifact != nil {
		s.vectors = make(map[int64][]float32, artifact.Len())
		for i, id := range artifact.ClusterIDs {
			s.vectors[id] = artifact.Vectors[i]
		}
	}
	return s
}

// Search returns up to k clusters similar to the query cluster, scored
// 0-100, sorted by similarity then size (both descending). The query
// cluster itself is never in the results.
func (s *Searcher) Search(queryID int64, k int, minScore float64) ([]Candidate, error) {
	query, ok := s.clusters[queryID]
	if !ok {
		return nil, fmt.Errorf("cluster %d not found", queryID)
	}
	if k <= 0 {
		k = DefaultK
	}
	if minScore < 0 {
		minScore = DefaultMinScore
	}

	best := make(map[int64]Candidate)
	for _, c := range s.vectorTier(query, k, minScore) {
		best[c.ClusterID] = c
	}
	// The lexical tier only fills in when embeddings could not produce
	// enough candidates, and never displaces a vector score.
	if len(best) < k {
		for _, c := range s.lexicalTier(query, minScore) {
			if _, ok := best[c.ClusterID]; !ok {
				best[c.ClusterID] = c
			}
		}
	}

	out := make([]Candidate, 0, len(best))
	for _, c := range best {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Similarity != out[j].Similarity {
			return out[i].Similarity > out[j].Similarity
		}
		if out[i].Size != out[j].Size {
			return out[i].Size > out[j].Size
		}
		return out[i].ClusterID < out[j].ClusterID
	})
	if len(out) > k {
		out = out[:k]
	}
	return out, nil
}

func (s *Searcher) vectorTier(query ClusterInfo, k int, minScore float64) []Candidate {
	if s.index == nil || s.vectors == nil {
		return nil
	}
	queryVec, ok := s.vectors[query.ID]
	if !ok {
		return nil
	}

	// Ask for extras: the query itself and dead clusters get filtered.
	results := s.index.Search(queryVec, k*2+1)
	var out []Candidate
	for _, r := range results {
		if r.ID == query.ID {
			continue
		}
		info, live := s.clusters[r.ID]
		if !live {
			continue
		}
		score := float64(1-r.Distance) * 100
		if score < 0 {
			score = 0
		}
		if score > 100 {
			score = 100
		}
		if score < minScore {
			continue
		}
		out = append(out, Candidate{
			ClusterID:      info.ID,
			Representative: info.Representative,
			Size:           info.Size,
			Similarity:     score,
			Source:         "vector",
		})
	}
	return out
}

func (s *Searcher) lexicalTier(query ClusterInfo, minScore float64) []Candidate {
	var out []Candidate
	for id, info := range s.clusters {
		if id == query.ID {
			continue
		}
		score := LexicalSimilarity(query.Representative, info.Representative)
		if score < minScore {
			continue
		}
		out = append(out, Candidate{
			ClusterID:      info.ID,
			Representative: info.Representative,
			Size:           info.Size,
			Similarity:     score,
			Source:         "lexical",
		})
	}
	return out
}

// LexicalSimilarity scores two phrases 0-100 by blending token Jaccard
// overlap with character bigram overlap. Bigrams catch near-miss spellings
// that whole-token comparison misses.
func LexicalSimilarity(a, b string) float64 {
	tok := jaccard(tokenSet(a), tokenSet(b))
	big := jaccard(bigramSet(a), bigramSet(b))
	return (tokenWeight*tok + bigramWeight*big) * 100
}

func tokenSet(phrase string) map[string]bool {
	set := make(map[string]bool)
	for _, f := range strings.Fields(strings.ToLower(phrase)) {
		set[f] = true
	}
	return set
}

func bigramSet(phrase string) map[string]bool {
	compact := strings.ReplaceAll(strings.ToLower(phrase), " ", "")
	runes := []rune(compact)
	set := make(map[string]bool)
	for i := 0; i+1 < len(runes); i++ {
		set[string(runes[i:i+2])] = true
	}
	return set
}

func jaccard(a, b map[string]bool) float64 {
	if len(a) == 0 && len(b) == 0 {
		return 0
	}
	inter := 0
	for k := range a {
		if b[k] {
			inter++
		}
	}
	union := len(a) + len(b) - inter
	if union == 0 {
		return 0
	}
	return float64(inter) / float64(union)
}
