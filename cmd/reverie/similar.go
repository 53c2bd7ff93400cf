package main

import (
	"context"
	"fmt"
	"os"
	"strconv"

	"github.com/hurttlocker/reverie/internal/ann"
	"github.com/hurttlocker/reverie/internal/config"
	"github.com/hurttlocker/reverie/internal/embed"
	"github.com/hurttlocker/reverie/internal/simsearch"
	"github.com/hurttlocker/reverie/internal/store"
)

func runSimilar(args []string) error {
	fl, positional, err := parseArgs(args)
	if err != nil {
		return err
	}
	if len(positional) != 1 {
		return fmt.Errorf("usage: reverie similar <cluster_id> [--limit n] [--min-score s]")
	}
	queryID, err := strconv.ParseInt(positional[0], 10, 64)
	if err != nil {
		return fmt.Errorf("invalid cluster ID %q", positional[0])
	}

	cfg, err := resolveConfig(fl)
	if err != nil {
		return err
	}
	db, err := store.Open(cfg.DBPath.Value)
	if err != nil {
		return err
	}
	defer db.Close()

	searcher, err := loadSearcher(cfg, db)
	if err != nil {
		return err
	}

	minScore := fl.minScore
	if minScore < 0 {
		minScore = simsearch.DefaultMinScore
	}
	results, err := searcher.Search(queryID, fl.limit, minScore)
	if err != nil {
		return err
	}

	if len(results) == 0 {
		fmt.Println("No similar clusters found.")
		return nil
	}
	for _, r := range results {
		fmt.Printf("%6.1f  #%-5d %-40s size=%d (%s)\n",
			r.Similarity, r.ClusterID, r.Representative, r.Size, r.Source)
	}
	return nil
}

// loadSearcher builds a similarity searcher over the stored clusters.
// The embedding artifact and index are loaded when present; without them
// the searcher runs lexical-only.
func loadSearcher(cfg config.ResolvedConfig, db *store.Store) (*simsearch.Searcher, error) {
	rows, err := db.ListClusters(context.Background(), store.ListOpts{Limit: listAll})
	if err != nil {
		return nil, err
	}
	infos := make([]simsearch.ClusterInfo, 0, len(rows))
	for _, r := range rows {
		infos = append(infos, simsearch.ClusterInfo{
			ID:             r.ID,
			Representative: r.Representative,
			Size:           r.Size,
		})
	}

	artifact, err := embed.LoadArtifact(pathOr(cfg.ArtifactPath, "embeddings.json"))
	if err != nil {
		return simsearch.New(infos, nil, nil), nil
	}
	index, err := ann.Load(pathOr(cfg.IndexPath, "index.hnsw"))
	if err != nil {
		return simsearch.New(infos, nil, nil), nil
	}
	return simsearch.New(infos, artifact, index), nil
}

func runEmbed(args []string) error {
	fl, _, err := parseArgs(args)
	if err != nil {
		return err
	}
	cfg, err := resolveConfig(fl)
	if err != nil {
		return err
	}
	if cfg.EmbedProvider.Value == "" {
		return fmt.Errorf("no embed provider configured (use --embed provider/model)")
	}

	embedCfg, err := embed.ParseFlag(cfg.EmbedProvider.Value)
	if err != nil {
		return err
	}
	client, err := embed.NewClient(embedCfg)
	if err != nil {
		return err
	}

	db, err := store.Open(cfg.DBPath.Value)
	if err != nil {
		return err
	}
	defer db.Close()

	ctx := context.Background()
	rows, err := db.ListClusters(ctx, store.ListOpts{Limit: listAll})
	if err != nil {
		return err
	}
	if len(rows) == 0 {
		return fmt.Errorf("no clusters in the database; run the pipeline first")
	}

	phrases := make([]string, len(rows))
	ids := make([]int64, len(rows))
	for i, r := range rows {
		phrases[i] = r.Representative
		ids[i] = r.ID
	}

	fmt.Fprintf(os.Stderr, "Embedding %d cluster representatives with %s/%s...\n",
		len(phrases), embedCfg.Provider, embedCfg.Model)
	vectors, err := client.EmbedBatch(ctx, phrases)
	if err != nil {
		return fmt.Errorf("embedding clusters: %w", err)
	}

	artifact := &embed.Artifact{
		Model:      embedCfg.Model,
		Dims:       len(vectors[0]),
		ClusterIDs: ids,
		Phrases:    phrases,
		Vectors:    vectors,
	}
	artifactPath := pathOr(cfg.ArtifactPath, "embeddings.json")
	if err := embed.SaveArtifact(artifactPath, artifact); err != nil {
		return err
	}

	index := ann.New(artifact.Dims)
	for i, id := range ids {
		index.Insert(id, vectors[i])
	}
	indexPath := pathOr(cfg.IndexPath, "index.hnsw")
	if err := index.Save(indexPath); err != nil {
		return fmt.Errorf("saving index: %w", err)
	}

	fmt.Printf("Embedded %d clusters (%d dims)\n  artifact: %s\n  index:    %s\n",
		len(ids), artifact.Dims, artifactPath, indexPath)
	return nil
}
