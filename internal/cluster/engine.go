// Package cluster partitions normalized dreams into equivalence classes.
//
// Two passes:
//  1. Exact pass: O(n) grouping of byte-identical normalized phrases.
//  2. Merge pass: clusters sorted lexically by representative so near
//     duplicates land adjacent, then each cluster is compared against a
//     bounded window of following clusters, with a cheap prefilter before
//     any oracle call.
//
// The windowed design trades transitive completeness for bounded oracle
// cost: if A~B and B~C but A and C never share a window, A and C stay
// separate. That approximation is intentional and covered by tests.
package cluster

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/hurttlocker/reverie/internal/corpus"
	"github.com/hurttlocker/reverie/internal/taxonomy"
)

const (
	// DefaultWindow is how many following clusters each cluster is
	// compared against during the merge pass.
	DefaultWindow = 30

	// DefaultPrefilterLen is how many leading characters of the first
	// word must match before a pair is worth an oracle call.
	DefaultPrefilterLen = 3
)

// Cluster is one equivalence class of dreams. The representative is the
// first-discovered canonical phrase among its members and never changes;
// merges always fold the later cluster into the earlier one.
type Cluster struct {
	ID             int64         `json:"id"`
	Representative string        `json:"representative"`
	MemberIDs      []string      `json:"member_ids"`
	Taxonomy       taxonomy.Path `json:"taxonomy,omitempty"`
	Classified     bool          `json:"classified,omitempty"`
}

// Size returns the member count.
func (c *Cluster) Size() int { return len(c.MemberIDs) }

// Equivalencer judges whether two canonical phrases express the same goal.
type Equivalencer interface {
	Equivalent(ctx context.Context, a, b string) (bool, error)
}

// Options tunes the merge pass. Window and prefilter length are explicit
// knobs because they control both oracle cost and recall.
type Options struct {
	Window       int // 0 = DefaultWindow
	PrefilterLen int // 0 = DefaultPrefilterLen, negative disables
}

// Stats reports what a clustering run did.
type Stats struct {
	ExactClusters int // clusters after the exact pass
	Comparisons   int // oracle-eligible pairs examined
	Prefiltered   int // pairs skipped by the prefilter
	Merges        int
	OracleErrors  int // pairs skipped because the oracle failed
}

// Engine runs the two-pass clustering algorithm.
type Engine struct {
	judge Equivalencer
	opts  Options
}

// NewEngine creates a clustering engine.
func NewEngine(judge Equivalencer, opts Options) *Engine {
	if opts.Window <= 0 {
		opts.Window = DefaultWindow
	}
	if opts.PrefilterLen == 0 {
		opts.PrefilterLen = DefaultPrefilterLen
	}
	return &Engine{judge: judge, opts: opts}
}

// Run partitions dreams into clusters and points each dream at its
// cluster. Every dream must already carry a normalized phrase.
func (e *Engine) Run(ctx context.Context, dreams []*corpus.Dream) ([]*Cluster, *Stats, error) {
	clusters := ExactPass(dreams)
	stats := &Stats{ExactClusters: len(clusters)}

	merged, err := e.MergePass(ctx, clusters, dreams, stats)
	if err != nil {
		return nil, stats, err
	}
	return merged, stats, nil
}

// ExactPass groups dreams sharing a byte-identical normalized phrase.
// Cluster IDs are assigned in first-discovery order, which is also the
// merge tie-break: the earliest cluster always survives.
func ExactPass(dreams []*corpus.Dream) []*Cluster {
	byPhrase := make(map[string]*Cluster)
	clusters := make([]*Cluster, 0)

	var nextID int64 = 1
	for _, d := range dreams {
		c, ok := byPhrase[d.NormalizedPhrase]
		if !ok {
			c = &Cluster{
				ID:             nextID,
				Representative: d.NormalizedPhrase,
			}
			nextID++
			byPhrase[d.NormalizedPhrase] = c
			clusters = append(clusters, c)
		}
		c.MemberIDs = append(c.MemberIDs, d.ID)
		d.ClusterID = c.ID
	}
	return clusters
}

// MergePass folds equivalent clusters together. Clusters are sorted
// lexically by representative; each is compared against at most
// opts.Window following clusters. The list shrinks as merges happen;
// bounds are re-validated after every merge so no cluster is skipped or
// processed twice.
func (e *Engine) MergePass(ctx context.Context, clusters []*Cluster, dreams []*corpus.Dream, stats *Stats) ([]*Cluster, error) {
	if stats == nil {
		stats = &Stats{}
	}

	byID := make(map[string]*corpus.Dream, len(dreams))
	for _, d := range dreams {
		byID[d.ID] = d
	}

	sort.Slice(clusters, func(i, j int) bool {
		if clusters[i].Representative != clusters[j].Representative {
			return clusters[i].Representative < clusters[j].Representative
		}
		return clusters[i].ID < clusters[j].ID
	})

	for i := 0; i < len(clusters); i++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		j := i + 1
		for j < len(clusters) && j <= i+e.opts.Window {
			a, b := clusters[i], clusters[j]

			if !e.worthAsking(a.Representative, b.Representative) {
				stats.Prefiltered++
				j++
				continue
			}

			stats.Comparisons++
			same, err := e.judge.Equivalent(ctx, a.Representative, b.Representative)
			if err != nil {
				// A failed verdict means "keep them separate", never a
				// dead pipeline. The pair stays unmerged this run.
				if ctxErr := ctx.Err(); ctxErr != nil {
					return nil, ctxErr
				}
				stats.OracleErrors++
				j++
				continue
			}

			if !same {
				j++
				continue
			}

			// Merge b into a: the earlier cluster in iteration order
			// keeps its ID and representative.
			mergeInto(a, b, byID)
			clusters = append(clusters[:j], clusters[j+1:]...)
			stats.Merges++
			// j now points at the element that slid into b's slot;
			// loop re-checks bounds before touching it.
		}
	}
	return clusters, nil
}

// worthAsking is the cheap prefilter: the first words of both phrases
// must agree on their leading characters, otherwise the pair is clearly
// unrelated and the oracle call is skipped.
func (e *Engine) worthAsking(a, b string) bool {
	if e.opts.PrefilterLen < 0 {
		return true
	}
	return leadingKey(a, e.opts.PrefilterLen) == leadingKey(b, e.opts.PrefilterLen)
}

func leadingKey(phrase string, n int) string {
	word := firstContentWord(phrase)
	runes := []rune(word)
	if len(runes) > n {
		runes = runes[:n]
	}
	return string(runes)
}

// firstContentWord skips the "to" prefix every canonical phrase carries;
// comparing on it would make the prefilter pass everything.
func firstContentWord(phrase string) string {
	fields := strings.Fields(phrase)
	for _, f := range fields {
		if f != "to" {
			return f
		}
	}
	if len(fields) > 0 {
		return fields[0]
	}
	return ""
}

func mergeInto(dst, src *Cluster, byID map[string]*corpus.Dream) {
	dst.MemberIDs = append(dst.MemberIDs, src.MemberIDs...)
	for _, id := range src.MemberIDs {
		if d, ok := byID[id]; ok {
			d.ClusterID = dst.ID
		}
	}
	src.MemberIDs = nil
}

// ValidatePartition checks that every dream belongs to exactly one
// cluster and that the union of all member sets equals the input set.
func ValidatePartition(dreams []*corpus.Dream, clusters []*Cluster) error {
	seen := make(map[string]int64, len(dreams))
	for _, c := range clusters {
		for _, id := range c.MemberIDs {
			if prev, dup := seen[id]; dup {
				return fmt.Errorf("dream %s in clusters %d and %d", id, prev, c.ID)
			}
			seen[id] = c.ID
		}
	}
	for _, d := range dreams {
		cid, ok := seen[d.ID]
		if !ok {
			return fmt.Errorf("dream %s lost: not in any cluster", d.ID)
		}
		if cid != d.ClusterID {
			return fmt.Errorf("dream %s points at cluster %d but lives in %d", d.ID, d.ClusterID, cid)
		}
	}
	if len(seen) != len(dreams) {
		return fmt.Errorf("partition has %d members, corpus has %d", len(seen), len(dreams))
	}
	return nil
}
