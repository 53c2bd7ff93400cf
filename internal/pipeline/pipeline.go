// Package pipeline runs the full dream analysis flow: load the corpus,
// normalize every title to a canonical English goal phrase, cluster the
// phrases, classify each cluster into the taxonomy, and persist results.
//
// The runner is a single goroutine. Progress is published as an immutable
// Status snapshot behind an atomic pointer, so any number of readers (the
// CLI status command, the MCP server) can poll without locks and without
// ever seeing a half-updated view.
package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/hurttlocker/reverie/internal/checkpoint"
	"github.com/hurttlocker/reverie/internal/cluster"
	"github.com/hurttlocker/reverie/internal/corpus"
	"github.com/hurttlocker/reverie/internal/normalize"
	"github.com/hurttlocker/reverie/internal/oracle"
	"github.com/hurttlocker/reverie/internal/store"
	"github.com/hurttlocker/reverie/internal/taxonomy"
)

// Phase names the pipeline stage a run is in.
type Phase string

const (
	PhaseIdle        Phase = "idle"
	PhaseLoading     Phase = "loading"
	PhaseNormalizing Phase = "normalizing"
	PhaseClustering  Phase = "clustering"
	PhaseClassifying Phase = "classifying"
	PhasePersisting  Phase = "persisting"
	PhaseDone        Phase = "done"
	PhaseFailed      Phase = "failed"
)

// Status is one consistent progress snapshot.
type Status struct {
	Phase       Phase     `json:"phase"`
	Total       int       `json:"total"`
	Processed   int       `json:"processed"`
	Resumed     int       `json:"resumed"`
	Fallbacks   int       `json:"fallbacks"`
	Clusters    int       `json:"clusters"`
	Merges      int       `json:"merges"`
	Classified  int       `json:"classified"`
	OracleCalls int64     `json:"oracle_calls"`
	CacheHits   int64     `json:"cache_hits"`
	CacheMisses int64     `json:"cache_misses"`
	StartedAt   time.Time `json:"started_at,omitempty"`
	UpdatedAt   time.Time `json:"updated_at,omitempty"`
	Error       string    `json:"error,omitempty"`
}

// Options tunes a run. Zero values fall back to package defaults.
type Options struct {
	CorpusPath      string
	CheckpointPath  string
	StatusPath      string // mirror status snapshots here for other processes
	Window          int
	PrefilterLen    int
	CheckpointEvery int
	Logger          zerolog.Logger
}

// Result is what a completed run produced.
type Result struct {
	Dreams       []*corpus.Dream
	Clusters     []*cluster.Cluster
	ClusterStats *cluster.Stats
	Skipped      int
	Fallbacks    int
	Classified   int
}

// Runner executes the pipeline and publishes progress.
type Runner struct {
	normalizer *normalize.Normalizer
	classifier *taxonomy.Classifier
	oracle     *oracle.Client
	db         *store.Store
	opts       Options
	log        zerolog.Logger

	status atomic.Pointer[Status]
}

// NewRunner wires a runner. The store may be nil, in which case results
// are checkpointed but not written to SQLite.
func NewRunner(oc *oracle.Client, db *store.Store, opts Options) *Runner {
	if opts.CheckpointEvery <= 0 {
		opts.CheckpointEvery = checkpoint.DefaultEvery
	}
	r := &Runner{
		normalizer: normalize.New(oc),
		classifier: taxonomy.New(oc),
		oracle:     oc,
		db:         db,
		opts:       opts,
		log:        opts.Logger,
	}
	r.status.Store(&Status{Phase: PhaseIdle})
	return r
}

// Status returns the latest progress snapshot.
func (r *Runner) Status() Status {
	return *r.status.Load()
}

// update publishes a new snapshot. Run is the only caller, so a plain
// copy-mutate-store is race-free.
func (r *Runner) update(mut func(*Status)) {
	next := *r.status.Load()
	mut(&next)
	next.UpdatedAt = time.Now().UTC()
	r.status.Store(&next)
}

// writeStatus mirrors the latest snapshot to disk so a separate process
// (the status command) can poll a background run. Failures are advisory.
func (r *Runner) writeStatus() {
	if r.opts.StatusPath == "" {
		return
	}
	s := r.Status()
	data, err := json.MarshalIndent(&s, "", "  ")
	if err != nil {
		return
	}
	dir := filepath.Dir(r.opts.StatusPath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		r.log.Warn().Err(err).Msg("status file dir")
		return
	}
	tmp, err := os.CreateTemp(dir, filepath.Base(r.opts.StatusPath)+".tmp-*")
	if err != nil {
		r.log.Warn().Err(err).Msg("status file write")
		return
	}
	name := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(name)
		return
	}
	if err := tmp.Close(); err != nil {
		os.Remove(name)
		return
	}
	if err := os.Rename(name, r.opts.StatusPath); err != nil {
		os.Remove(name)
		r.log.Warn().Err(err).Msg("status file install")
	}
}

// Run executes the full pipeline. Normalization resumes from the last
// checkpoint; records the checkpoint already covers are never sent back
// to the oracle.
func (r *Runner) Run(ctx context.Context) (*Result, error) {
	r.update(func(s *Status) {
		*s = Status{Phase: PhaseLoading, StartedAt: time.Now().UTC()}
	})

	loaded, err := corpus.LoadTSV(r.opts.CorpusPath)
	if err != nil {
		return nil, r.fail(fmt.Errorf("loading corpus: %w", err))
	}
	dreams := loaded.Dreams
	r.log.Info().Int("dreams", len(dreams)).Int("skipped", loaded.Skipped).
		Str("path", r.opts.CorpusPath).Msg("corpus loaded")

	resumed, err := r.resume(dreams)
	if err != nil {
		return nil, r.fail(err)
	}
	r.update(func(s *Status) {
		s.Total = len(dreams)
		s.Resumed = resumed
		s.Processed = resumed
	})
	if resumed > 0 {
		r.log.Info().Int("resumed", resumed).Msg("checkpoint restored")
	}

	result := &Result{Dreams: dreams, Skipped: loaded.Skipped}
	if err := r.normalizeAll(ctx, dreams, result); err != nil {
		return nil, r.fail(err)
	}

	if err := r.clusterAll(ctx, dreams, result); err != nil {
		return nil, r.fail(err)
	}

	if err := r.classifyAll(ctx, result); err != nil {
		return nil, r.fail(err)
	}

	if err := r.persist(ctx, result); err != nil {
		return nil, r.fail(err)
	}

	r.update(func(s *Status) { s.Phase = PhaseDone })
	r.writeStatus()
	r.log.Info().Int("clusters", len(result.Clusters)).
		Int64("oracle_calls", r.oracle.Calls()).Msg("pipeline complete")
	return result, nil
}

func (r *Runner) fail(err error) error {
	r.update(func(s *Status) {
		s.Phase = PhaseFailed
		s.Error = err.Error()
	})
	r.writeStatus()
	r.log.Error().Err(err).Msg("pipeline failed")
	return err
}

// resume restores normalized phrases from the last checkpoint. Returns
// how many records were already covered.
func (r *Runner) resume(dreams []*corpus.Dream) (int, error) {
	if r.opts.CheckpointPath == "" {
		return 0, nil
	}
	st, err := checkpoint.Load(r.opts.CheckpointPath)
	if err != nil {
		return 0, fmt.Errorf("loading checkpoint: %w", err)
	}
	if st == nil {
		return 0, nil
	}

	phrases := make(map[string]string, len(st.Dreams))
	for _, d := range st.Dreams {
		if d.NormalizedPhrase != "" {
			phrases[d.ID] = d.NormalizedPhrase
		}
	}
	resumed := 0
	for _, d := range dreams {
		if p, ok := phrases[d.ID]; ok {
			d.NormalizedPhrase = p
			resumed++
		}
	}
	return resumed, nil
}

func (r *Runner) normalizeAll(ctx context.Context, dreams []*corpus.Dream, result *Result) error {
	r.update(func(s *Status) { s.Phase = PhaseNormalizing })
	r.writeStatus()

	processed := 0
	for _, d := range dreams {
		if err := ctx.Err(); err != nil {
			return err
		}
		if d.NormalizedPhrase != "" {
			continue // covered by the checkpoint
		}

		phrase, err := r.normalizer.Normalize(ctx, d.RawTitle)
		if err != nil {
			// Advisory: the fallback phrase is still usable.
			result.Fallbacks++
			r.log.Debug().Err(err).Str("title", d.RawTitle).Msg("normalize fell back")
		}
		d.NormalizedPhrase = phrase
		processed++

		hits, misses := r.oracle.CacheStats()
		r.update(func(s *Status) {
			s.Processed++
			s.Fallbacks = result.Fallbacks
			s.OracleCalls = r.oracle.Calls()
			s.CacheHits = hits
			s.CacheMisses = misses
		})

		if checkpoint.Due(processed, r.opts.CheckpointEvery) {
			if err := r.saveCheckpoint(dreams, nil); err != nil {
				return err
			}
			r.writeStatus()
			r.log.Info().Int("processed", r.Status().Processed).Int("total", len(dreams)).
				Msg("checkpoint saved")
		}
	}
	return nil
}

func (r *Runner) clusterAll(ctx context.Context, dreams []*corpus.Dream, result *Result) error {
	r.update(func(s *Status) { s.Phase = PhaseClustering })
	r.writeStatus()

	engine := cluster.NewEngine(r.oracle, cluster.Options{
		Window:       r.opts.Window,
		PrefilterLen: r.opts.PrefilterLen,
	})
	clusters, stats, err := engine.Run(ctx, dreams)
	if err != nil {
		return fmt.Errorf("clustering: %w", err)
	}
	if err := cluster.ValidatePartition(dreams, clusters); err != nil {
		return fmt.Errorf("cluster partition check: %w", err)
	}

	result.Clusters = clusters
	result.ClusterStats = stats
	r.update(func(s *Status) {
		s.Clusters = len(clusters)
		s.Merges = stats.Merges
		s.OracleCalls = r.oracle.Calls()
	})
	r.log.Info().Int("exact", stats.ExactClusters).Int("merged", len(clusters)).
		Int("merges", stats.Merges).Int("prefiltered", stats.Prefiltered).
		Int("oracle_errors", stats.OracleErrors).Msg("clustering complete")
	return nil
}

func (r *Runner) classifyAll(ctx context.Context, result *Result) error {
	r.update(func(s *Status) { s.Phase = PhaseClassifying })
	r.writeStatus()

	for _, c := range result.Clusters {
		if err := ctx.Err(); err != nil {
			return err
		}
		path, err := r.classifier.Classify(ctx, c.Representative)
		c.Taxonomy = path
		c.Classified = err == nil
		if err == nil {
			result.Classified++
		} else {
			r.log.Debug().Err(err).Str("phrase", c.Representative).Msg("classification fell back")
		}
		r.update(func(s *Status) {
			s.Classified = result.Classified
			s.OracleCalls = r.oracle.Calls()
		})
	}
	r.log.Info().Int("classified", result.Classified).Int("clusters", len(result.Clusters)).
		Msg("classification complete")
	return nil
}

func (r *Runner) persist(ctx context.Context, result *Result) error {
	r.update(func(s *Status) { s.Phase = PhasePersisting })

	if err := r.saveCheckpoint(result.Dreams, result.Clusters); err != nil {
		return err
	}
	if r.db != nil {
		if err := r.db.ReplaceSnapshot(ctx, result.Dreams, result.Clusters); err != nil {
			return fmt.Errorf("persisting snapshot: %w", err)
		}
	}
	return nil
}

// saveCheckpoint snapshots every record that has a normalized phrase.
func (r *Runner) saveCheckpoint(dreams []*corpus.Dream, clusters []*cluster.Cluster) error {
	if r.opts.CheckpointPath == "" {
		return nil
	}
	covered := make([]*corpus.Dream, 0, len(dreams))
	for _, d := range dreams {
		if d.NormalizedPhrase != "" {
			covered = append(covered, d)
		}
	}
	st := &checkpoint.State{
		Total:    len(dreams),
		Dreams:   covered,
		Clusters: clusters,
	}
	if err := checkpoint.Save(r.opts.CheckpointPath, st); err != nil {
		return fmt.Errorf("saving checkpoint: %w", err)
	}
	return nil
}
