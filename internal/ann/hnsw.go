// Package ann provides approximate nearest neighbor search over cluster
// representative vectors using HNSW (Malkov & Yashunin 2018,
// https://arxiv.org/abs/1603.09320). Pure Go, no CGO.
//
// The corpus tops out in the tens of thousands of clusters, where brute
// force is already borderline; HNSW keeps similar-cluster queries fast and
// lets the index persist to disk between runs.
package ann

import (
	"math"
	"math/rand"
	"sort"
	"sync"
)

// Default tuning parameters. M is the per-layer connectivity; ef values
// are beam widths for build and query.
const (
	DefaultM              = 16
	DefaultEfConstruction = 200
	DefaultEfSearch       = 50
)

// Index is an in-memory HNSW graph keyed by cluster ID.
type Index struct {
	mu         sync.RWMutex
	nodes      []node
	byID       map[int64]int // cluster ID to node slot
	entryPoint int           // -1 when empty
	maxLevel   int
	dims       int

	M              int
	Mmax0          int
	EfConstruction int
	EfSearch       int
	levelMult      float64

	rng *rand.Rand
}

type node struct {
	id     int64
	vector []float32
	links  [][]int // links[layer] = neighbor slots
	level  int
}

// Result is one neighbor with its cosine distance (lower is closer).
type Result struct {
	ID       int64
	Distance float32
}

type scored struct {
	slot int
	dist float32
}

// New creates an index for vectors of the given dimensionality.
func New(dims int) *Index {
	return NewWithParams(dims, DefaultM, DefaultEfConstruction, DefaultEfSearch)
}

// NewWithParams creates an index with explicit tuning parameters.
func NewWithParams(dims, m, efConstruction, efSearch int) *Index {
	if m < 2 {
		m = 2
	}
	return &Index{
		dims:           dims,
		M:              m,
		Mmax0:          2 * m,
		EfConstruction: efConstruction,
		EfSearch:       efSearch,
		levelMult:      1.0 / math.Log(float64(m)),
		entryPoint:     -1,
		maxLevel:       -1,
		byID:           make(map[int64]int),
		// Seeded for reproducible graphs; level choice is the only
		// randomness in the structure.
		rng: rand.New(rand.NewSource(42)),
	}
}

// Len returns the number of indexed clusters.
func (idx *Index) Len() int {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return len(idx.nodes)
}

// Dims returns the vector dimensionality.
func (idx *Index) Dims() int { return idx.dims }

// Has reports whether a cluster ID is already indexed.
func (idx *Index) Has(id int64) bool {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	_, ok := idx.byID[id]
	return ok
}

// Insert adds a cluster vector. Inserting an existing ID is a no-op.
func (idx *Index) Insert(id int64, vector []float32) {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	if _, exists := idx.byID[id]; exists {
		return
	}

	slot := len(idx.nodes)
	level := idx.randomLevel()
	idx.nodes = append(idx.nodes, node{
		id:     id,
		vector: vector,
		links:  make([][]int, level+1),
		level:  level,
	})
	idx.byID[id] = slot

	if idx.entryPoint == -1 {
		idx.entryPoint = slot
		idx.maxLevel = level
		return
	}

	ep := idx.entryPoint
	for l := idx.maxLevel; l > level; l-- {
		ep = idx.descend(vector, ep, l)
	}

	top := level
	if top > idx.maxLevel {
		top = idx.maxLevel
	}
	for l := top; l >= 0; l-- {
		found := idx.beamSearch(vector, ep, idx.EfConstruction, l)

		maxConn := idx.M
		if l == 0 {
			maxConn = idx.Mmax0
		}
		neighbors := slots(found, maxConn)
		idx.nodes[slot].links[l] = neighbors

		for _, n := range neighbors {
			idx.nodes[n].links[l] = append(idx.nodes[n].links[l], slot)
			if len(idx.nodes[n].links[l]) > maxConn {
				idx.nodes[n].links[l] = idx.pruneLinks(n, idx.nodes[n].links[l], maxConn)
			}
		}

		if len(found) > 0 {
			ep = found[0].slot
		}
	}

	if level > idx.maxLevel {
		idx.entryPoint = slot
		idx.maxLevel = level
	}
}

// Search returns the k nearest clusters, closest first.
func (idx *Index) Search(query []float32, k int) []Result {
	return idx.SearchEf(query, k, idx.EfSearch)
}

// SearchEf searches with an explicit beam width; ef is raised to k when
// smaller.
func (idx *Index) SearchEf(query []float32, k, ef int) []Result {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	if idx.entryPoint == -1 {
		return nil
	}
	if ef < k {
		ef = k
	}

	ep := idx.entryPoint
	for l := idx.maxLevel; l > 0; l-- {
		ep = idx.descend(query, ep, l)
	}

	found := idx.beamSearch(query, ep, ef, 0)
	if len(found) > k {
		found = found[:k]
	}

	results := make([]Result, len(found))
	for i, c := range found {
		results[i] = Result{ID: idx.nodes[c.slot].id, Distance: c.dist}
	}
	return results
}

// randomLevel draws from the geometric distribution HNSW prescribes.
func (idx *Index) randomLevel() int {
	r := idx.rng.Float64()
	if r == 0 {
		r = 1e-10
	}
	return int(math.Floor(-math.Log(r) * idx.levelMult))
}

// descend greedily walks one layer toward the query.
func (idx *Index) descend(query []float32, ep, layer int) int {
	dist := CosineDistance(query, idx.nodes[ep].vector)
	for {
		improved := false
		if layer < len(idx.nodes[ep].links) {
			for _, n := range idx.nodes[ep].links[layer] {
				if d := CosineDistance(query, idx.nodes[n].vector); d < dist {
					ep, dist = n, d
					improved = true
				}
			}
		}
		if !improved {
			return ep
		}
	}
}

// beamSearch runs bounded best-first search at one layer and returns up
// to ef candidates sorted ascending by distance.
func (idx *Index) beamSearch(query []float32, ep, ef, layer int) []scored {
	visited := map[int]bool{ep: true}
	epDist := CosineDistance(query, idx.nodes[ep].vector)
	frontier := []scored{{slot: ep, dist: epDist}}
	results := []scored{{slot: ep, dist: epDist}}

	for len(frontier) > 0 {
		closest := frontier[0]
		frontier = frontier[1:]

		if closest.dist > results[len(results)-1].dist && len(results) >= ef {
			break
		}

		if layer >= len(idx.nodes[closest.slot].links) {
			continue
		}
		for _, n := range idx.nodes[closest.slot].links[layer] {
			if visited[n] {
				continue
			}
			visited[n] = true

			d := CosineDistance(query, idx.nodes[n].vector)
			if d < results[len(results)-1].dist || len(results) < ef {
				frontier = insertSorted(frontier, scored{slot: n, dist: d})
				results = insertSorted(results, scored{slot: n, dist: d})
				if len(results) > ef {
					results = results[:ef]
				}
			}
		}
	}
	return results
}

// pruneLinks keeps the maxConn closest neighbors of a node.
func (idx *Index) pruneLinks(slot int, links []int, maxConn int) []int {
	if len(links) <= maxConn {
		return links
	}
	vec := idx.nodes[slot].vector
	ranked := make([]scored, len(links))
	for i, n := range links {
		ranked[i] = scored{slot: n, dist: CosineDistance(vec, idx.nodes[n].vector)}
	}
	sort.Slice(ranked, func(i, j int) bool { return ranked[i].dist < ranked[j].dist })
	return slots(ranked, maxConn)
}

func slots(ranked []scored, n int) []int {
	if len(ranked) < n {
		n = len(ranked)
	}
	out := make([]int, n)
	for i := 0; i < n; i++ {
		out[i] = ranked[i].slot
	}
	return out
}

func insertSorted(s []scored, c scored) []scored {
	i := sort.Search(len(s), func(i int) bool { return s[i].dist >= c.dist })
	s = append(s, scored{})
	copy(s[i+1:], s[i:])
	s[i] = c
	return s
}

// CosineDistance returns 1 - cosine similarity, in [0, 2]. Mismatched or
// zero vectors get the maximum distance.
func CosineDistance(a, b []float32) float32 {
	if len(a) != len(b) || len(a) == 0 {
		return 2.0
	}
	var dot, normA, normB float32
	for i := range a {
		dot += a[i] * b[i]
		normA += a[i] * a[i]
		normB += b[i] * b[i]
	}
	if normA == 0 || normB == 0 {
		return 2.0
	}
	sim := dot / (float32(math.Sqrt(float64(normA))) * float32(math.Sqrt(float64(normB))))
	return 1.0 - sim
}
