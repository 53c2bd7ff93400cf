package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/hurttlocker/reverie/internal/checkpoint"
	"github.com/hurttlocker/reverie/internal/corpus"
	"github.com/hurttlocker/reverie/internal/llm"
	"github.com/hurttlocker/reverie/internal/oracle"
	"github.com/hurttlocker/reverie/internal/store"
)

var pairRe = regexp.MustCompile(`'([^']+)' and '([^']+)'`)

// routeProvider answers by prompt kind: normalization prompts look up the
// raw title, equivalence prompts look up the unordered pair, classify
// prompts get one canned path.
type routeProvider struct {
	phrases    map[string]string
	equivalent map[string]bool
	classify   string
	prompts    []string
}

func (p *routeProvider) Complete(ctx context.Context, prompt string, opts llm.CompletionOpts) (string, error) {
	p.prompts = append(p.prompts, prompt)

	if strings.Contains(prompt, "Are these two dreams") {
		m := pairRe.FindStringSubmatch(prompt)
		if m == nil {
			return "n", nil
		}
		a, b := m[1], m[2]
		if a > b {
			a, b = b, a
		}
		if p.equivalent[a+"||"+b] {
			return "y", nil
		}
		return "n", nil
	}
	if strings.Contains(prompt, "Categorize") {
		return p.classify, nil
	}
	for raw, phrase := range p.phrases {
		if strings.Contains(prompt, raw) {
			return phrase, nil
		}
	}
	return "", fmt.Errorf("no scripted answer for prompt %q", prompt)
}

func (p *routeProvider) Name() string { return "route/test" }

func writeCorpus(t *testing.T, rows string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "dreams.tsv")
	content := "post_id\tpost_title\n" + rows
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func newTestRunner(t *testing.T, provider llm.Provider, corpusPath, cpPath string, db *store.Store) *Runner {
	t.Helper()
	oc := oracle.NewClient(provider, oracle.NewCache(), time.Nanosecond)
	return NewRunner(oc, db, Options{
		CorpusPath:      corpusPath,
		CheckpointPath:  cpPath,
		CheckpointEvery: 2,
		Logger:          zerolog.Nop(),
	})
}

func TestRunEndToEnd(t *testing.T) {
	corpusPath := writeCorpus(t,
		"1\tלהתחתן השנה\n"+
			"2\tget married soon\n"+
			"3\tbecome a doctor\n"+
			"4\tbecome a physician one day\n")
	provider := &routeProvider{
		phrases: map[string]string{
			"להתחתן השנה":              "to get married",
			"get married soon":         "to get married",
			"become a doctor":          "to become a doctor",
			"become a physician one day": "to become a physician",
		},
		equivalent: map[string]bool{
			"to become a doctor||to become a physician": true,
		},
		classify: "Career|Professional|Traditional",
	}

	db, err := store.Open(":memory:")
	if err != nil {
		t.Fatalf("opening store: %v", err)
	}
	defer db.Close()

	cpPath := filepath.Join(t.TempDir(), "checkpoint.json")
	runner := newTestRunner(t, provider, corpusPath, cpPath, db)

	result, err := runner.Run(context.Background())
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	if len(result.Clusters) != 2 {
		t.Fatalf("got %d clusters, want 2", len(result.Clusters))
	}
	sizes := map[string]int{}
	for _, c := range result.Clusters {
		sizes[c.Representative] = c.Size()
	}
	if sizes["to get married"] != 2 {
		t.Errorf("married cluster size = %d, want 2", sizes["to get married"])
	}
	if sizes["to become a doctor"] != 2 {
		t.Errorf("doctor cluster size = %d after merge, want 2", sizes["to become a doctor"])
	}
	for _, c := range result.Clusters {
		if !c.Classified || c.Taxonomy.Level1 != "Career" {
			t.Errorf("cluster %q not classified: %+v", c.Representative, c.Taxonomy)
		}
	}

	status := runner.Status()
	if status.Phase != PhaseDone {
		t.Errorf("phase = %s, want done", status.Phase)
	}
	if status.Processed != 4 || status.Total != 4 {
		t.Errorf("status = %+v, want 4/4 processed", status)
	}

	dbStats, err := db.Stats(context.Background())
	if err != nil {
		t.Fatalf("store stats: %v", err)
	}
	if dbStats.DreamCount != 4 || dbStats.ClusterCount != 2 {
		t.Errorf("store holds %d dreams, %d clusters", dbStats.DreamCount, dbStats.ClusterCount)
	}

	st, err := checkpoint.Load(cpPath)
	if err != nil || st == nil {
		t.Fatalf("final checkpoint missing: %v", err)
	}
	if st.Processed() != 4 || len(st.Clusters) != 2 {
		t.Errorf("checkpoint = %d dreams, %d clusters", st.Processed(), len(st.Clusters))
	}
}

func TestRunResumesFromCheckpoint(t *testing.T) {
	corpusPath := writeCorpus(t,
		"1\talready done\n"+
			"2\tbecome a doctor\n")
	cpPath := filepath.Join(t.TempDir(), "checkpoint.json")

	st := &checkpoint.State{
		Total: 2,
		Dreams: []*corpus.Dream{
			{ID: "1", RawTitle: "already done", NormalizedPhrase: "to finish things"},
		},
	}
	if err := checkpoint.Save(cpPath, st); err != nil {
		t.Fatalf("seeding checkpoint: %v", err)
	}

	// No scripted answer for "already done": reaching the oracle with it
	// would produce an error and a fallback phrase.
	provider := &routeProvider{
		phrases:  map[string]string{"become a doctor": "to become a doctor"},
		classify: "Career|Professional|Traditional",
	}
	runner := newTestRunner(t, provider, corpusPath, cpPath, nil)

	result, err := runner.Run(context.Background())
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if runner.Status().Resumed != 1 {
		t.Errorf("Resumed = %d, want 1", runner.Status().Resumed)
	}
	if result.Fallbacks != 0 {
		t.Errorf("Fallbacks = %d, want 0 (resumed record must skip the oracle)", result.Fallbacks)
	}
	for _, prompt := range provider.prompts {
		if strings.Contains(prompt, "already done") {
			t.Errorf("resumed record was re-normalized: %q", prompt)
		}
	}
	phrases := map[string]string{}
	for _, d := range result.Dreams {
		phrases[d.ID] = d.NormalizedPhrase
	}
	if phrases["1"] != "to finish things" {
		t.Errorf("resumed phrase = %q", phrases["1"])
	}
}

func TestRunMirrorsStatusToFile(t *testing.T) {
	corpusPath := writeCorpus(t, "1\tbecome a doctor\n")
	provider := &routeProvider{
		phrases:  map[string]string{"become a doctor": "to become a doctor"},
		classify: "Career|Professional|Traditional",
	}

	statusPath := filepath.Join(t.TempDir(), "status.json")
	oc := oracle.NewClient(provider, oracle.NewCache(), time.Nanosecond)
	runner := NewRunner(oc, nil, Options{
		CorpusPath: corpusPath,
		StatusPath: statusPath,
		Logger:     zerolog.Nop(),
	})

	if _, err := runner.Run(context.Background()); err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	data, err := os.ReadFile(statusPath)
	if err != nil {
		t.Fatalf("status file missing: %v", err)
	}
	var st Status
	if err := json.Unmarshal(data, &st); err != nil {
		t.Fatalf("status file unparseable: %v", err)
	}
	if st.Phase != PhaseDone || st.Processed != 1 {
		t.Errorf("mirrored status = %+v", st)
	}
}

func TestRunFailsOnMissingCorpus(t *testing.T) {
	provider := &routeProvider{}
	runner := newTestRunner(t, provider, filepath.Join(t.TempDir(), "absent.tsv"), "", nil)

	if _, err := runner.Run(context.Background()); err == nil {
		t.Fatal("expected error for missing corpus")
	}
	status := runner.Status()
	if status.Phase != PhaseFailed || status.Error == "" {
		t.Errorf("status after failure = %+v", status)
	}
}

func TestRunHonorsCancellation(t *testing.T) {
	corpusPath := writeCorpus(t, "1\tbecome a doctor\n")
	provider := &routeProvider{
		phrases: map[string]string{"become a doctor": "to become a doctor"},
	}
	runner := newTestRunner(t, provider, corpusPath, "", nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := runner.Run(ctx); err == nil {
		t.Fatal("expected error from canceled context")
	}
	if runner.Status().Phase != PhaseFailed {
		t.Errorf("phase = %s, want failed", runner.Status().Phase)
	}
}
