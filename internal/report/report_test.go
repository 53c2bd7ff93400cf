package report

import (
	"strings"
	"testing"

	"github.com/hurttlocker/reverie/internal/store"
)

func sampleClusters() []*store.ClusterRow {
	return []*store.ClusterRow{
		{ID: 1, Representative: "to get married", Size: 20, Level1: "Relationships", Level2: "Romance", Level3: "Marriage", Classified: true},
		{ID: 2, Representative: "to become a doctor", Size: 5, Level1: "Career", Level2: "Professional", Level3: "Traditional", Classified: true},
		{ID: 3, Representative: "to hum quietly", Size: 1},
	}
}

func TestWriteClusterTSV(t *testing.T) {
	var buf strings.Builder
	if err := WriteClusterTSV(&buf, sampleClusters()); err != nil {
		t.Fatalf("WriteClusterTSV failed: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 4 {
		t.Fatalf("got %d lines, want header + 3", len(lines))
	}
	if lines[0] != "cluster_id\trepresentative\tsize\tlevel1\tlevel2\tlevel3" {
		t.Errorf("header = %q", lines[0])
	}
	if lines[1] != "1\tto get married\t20\tRelationships\tRomance\tMarriage" {
		t.Errorf("row = %q", lines[1])
	}
}

func TestWriteAssignmentTSV(t *testing.T) {
	dreams := []*store.DreamRow{
		{ID: "1", RawTitle: "להתחתן", Author: "dana", Normalized: "to get married", ClusterID: 1},
	}
	var buf strings.Builder
	if err := WriteAssignmentTSV(&buf, dreams); err != nil {
		t.Fatalf("WriteAssignmentTSV failed: %v", err)
	}
	out := buf.String()
	if !strings.Contains(out, "1\tלהתחתן\tdana\tto get married\t1") {
		t.Errorf("output = %q", out)
	}
}

func TestWriteSummary(t *testing.T) {
	stats := &store.Stats{DreamCount: 26, ClusterCount: 3, Classified: 2}
	var buf strings.Builder
	if err := WriteSummary(&buf, stats, sampleClusters(), 2); err != nil {
		t.Fatalf("WriteSummary failed: %v", err)
	}
	out := buf.String()

	if !strings.Contains(out, "Dreams:     26") {
		t.Errorf("missing dream count:\n%s", out)
	}
	if !strings.Contains(out, "to get married") || !strings.Contains(out, "to become a doctor") {
		t.Errorf("top clusters missing:\n%s", out)
	}
	// topN of 2 cuts the singleton from the top list, but it still counts
	// in the category distribution.
	if strings.Contains(strings.SplitN(out, "Categories:", 2)[0], "to hum quietly") {
		t.Errorf("singleton leaked into top list:\n%s", out)
	}
	if !strings.Contains(out, "(unclassified)") {
		t.Errorf("unclassified bucket missing:\n%s", out)
	}
	if !strings.Contains(out, "Relationships") {
		t.Errorf("category distribution missing:\n%s", out)
	}
}
