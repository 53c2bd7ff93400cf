// Package report renders pipeline results: tab-delimited exports that
// mirror the input corpus format, and a human-readable run summary.
package report

import (
	"encoding/csv"
	"fmt"
	"io"
	"sort"

	"github.com/hurttlocker/reverie/internal/store"
)

// WriteClusterTSV writes one row per cluster: id, representative, size
// and the three taxonomy levels.
func WriteClusterTSV(w io.Writer, clusters []*store.ClusterRow) error {
	cw := csv.NewWriter(w)
	cw.Comma = '\t'

	if err := cw.Write([]string{"cluster_id", "representative", "size", "level1", "level2", "level3"}); err != nil {
		return fmt.Errorf("writing header: %w", err)
	}
	for _, c := range clusters {
		row := []string{
			fmt.Sprintf("%d", c.ID),
			c.Representative,
			fmt.Sprintf("%d", c.Size),
			c.Level1, c.Level2, c.Level3,
		}
		if err := cw.Write(row); err != nil {
			return fmt.Errorf("writing cluster %d: %w", c.ID, err)
		}
	}
	cw.Flush()
	return cw.Error()
}

// WriteAssignmentTSV writes one row per dream: the original record plus
// its normalized phrase and cluster.
func WriteAssignmentTSV(w io.Writer, dreams []*store.DreamRow) error {
	cw := csv.NewWriter(w)
	cw.Comma = '\t'

	if err := cw.Write([]string{"post_id", "post_title", "username", "normalized", "cluster_id"}); err != nil {
		return fmt.Errorf("writing header: %w", err)
	}
	for _, d := range dreams {
		row := []string{d.ID, d.RawTitle, d.Author, d.Normalized, fmt.Sprintf("%d", d.ClusterID)}
		if err := cw.Write(row); err != nil {
			return fmt.Errorf("writing dream %s: %w", d.ID, err)
		}
	}
	cw.Flush()
	return cw.Error()
}

// WriteSummary prints totals, the biggest clusters and the top-level
// category distribution.
func WriteSummary(w io.Writer, stats *store.Stats, clusters []*store.ClusterRow, topN int) error {
	if topN <= 0 {
		topN = 10
	}

	fmt.Fprintf(w, "Dreams:     %d\n", stats.DreamCount)
	fmt.Fprintf(w, "Clusters:   %d\n", stats.ClusterCount)
	fmt.Fprintf(w, "Classified: %d\n\n", stats.Classified)

	sorted := make([]*store.ClusterRow, len(clusters))
	copy(sorted, clusters)
	sort.Slice(sorted, func(i, j int) bool {
		if sorted[i].Size != sorted[j].Size {
			return sorted[i].Size > sorted[j].Size
		}
		return sorted[i].ID < sorted[j].ID
	})

	fmt.Fprintf(w, "Top clusters:\n")
	for i, c := range sorted {
		if i >= topN {
			break
		}
		label := ""
		if c.Level1 != "" {
			label = fmt.Sprintf("  [%s > %s > %s]", c.Level1, c.Level2, c.Level3)
		}
		fmt.Fprintf(w, "  %4d  %s%s\n", c.Size, c.Representative, label)
	}

	counts := map[string]int{}
	for _, c := range clusters {
		level := c.Level1
		if level == "" {
			level = "(unclassified)"
		}
		counts[level] += c.Size
	}
	levels := make([]string, 0, len(counts))
	for l := range counts {
		levels = append(levels, l)
	}
	sort.Slice(levels, func(i, j int) bool {
		if counts[levels[i]] != counts[levels[j]] {
			return counts[levels[i]] > counts[levels[j]]
		}
		return levels[i] < levels[j]
	})

	fmt.Fprintf(w, "\nCategories:\n")
	for _, l := range levels {
		fmt.Fprintf(w, "  %4d  %s\n", counts[l], l)
	}
	return nil
}
