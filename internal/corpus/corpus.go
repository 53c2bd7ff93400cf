// Package corpus loads the raw dream corpus from tab-delimited exports.
// Expected header columns: post_id, post_title, plus optional username and
// birth_date. Rows with empty or whitespace-only titles are skipped, not
// fatal; the export contains deleted and placeholder posts.
package corpus

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strings"
	"time"
)

// Dream is one raw record. RawTitle is immutable; NormalizedPhrase and
// ClusterID are the only derived fields, each populated exactly once by
// the pipeline.
type Dream struct {
	ID               string     `json:"post_id"`
	RawTitle         string     `json:"title"`
	Author           string     `json:"username,omitempty"`
	BirthDate        *time.Time `json:"birth_date,omitempty"`
	NormalizedPhrase string     `json:"normalized,omitempty"`
	ClusterID        int64      `json:"cluster_id,omitempty"`
}

// LoadResult reports what a corpus load found.
type LoadResult struct {
	Dreams  []*Dream
	Skipped int // rows dropped for empty titles
}

// birthDateLayouts are tried in order when parsing the optional birth_date
// column; unparseable values are ignored rather than failing the row.
var birthDateLayouts = []string{"2006-01-02", "02/01/2006", time.RFC3339}

// LoadTSV reads dreams from a tab-delimited file.
func LoadTSV(path string) (*LoadResult, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening corpus %s: %w", path, err)
	}
	defer f.Close()
	return Load(f)
}

// Load reads dreams from tab-delimited data with a header row.
func Load(r io.Reader) (*LoadResult, error) {
	reader := csv.NewReader(r)
	reader.Comma = '\t'
	reader.LazyQuotes = true
	reader.TrimLeadingSpace = true
	reader.FieldsPerRecord = -1

	rows, err := reader.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("parsing corpus: %w", err)
	}
	if len(rows) == 0 {
		return &LoadResult{}, nil
	}

	col := headerIndex(rows[0])
	idIdx, ok := col["post_id"]
	if !ok {
		return nil, fmt.Errorf("corpus header missing post_id column")
	}
	titleIdx, ok := col["post_title"]
	if !ok {
		return nil, fmt.Errorf("corpus header missing post_title column")
	}

	result := &LoadResult{Dreams: make([]*Dream, 0, len(rows)-1)}
	for _, row := range rows[1:] {
		title := field(row, titleIdx)
		if strings.TrimSpace(title) == "" {
			result.Skipped++
			continue
		}

		d := &Dream{
			ID:       field(row, idIdx),
			RawTitle: title,
		}
		if idx, ok := col["username"]; ok {
			d.Author = field(row, idx)
		}
		if idx, ok := col["birth_date"]; ok {
			d.BirthDate = parseBirthDate(field(row, idx))
		}
		result.Dreams = append(result.Dreams, d)
	}
	return result, nil
}

func headerIndex(header []string) map[string]int {
	col := make(map[string]int, len(header))
	for i, name := range header {
		col[strings.ToLower(strings.TrimSpace(name))] = i
	}
	return col
}

func field(row []string, idx int) string {
	if idx < 0 || idx >= len(row) {
		return ""
	}
	return strings.TrimSpace(row[idx])
}

func parseBirthDate(raw string) *time.Time {
	if raw == "" {
		return nil
	}
	for _, layout := range birthDateLayouts {
		if t, err := time.Parse(layout, raw); err == nil {
			return &t
		}
	}
	return nil
}
