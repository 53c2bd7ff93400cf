package main

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/hurttlocker/reverie/internal/report"
	"github.com/hurttlocker/reverie/internal/store"
)

// listAll is a big-enough limit to fetch every cluster in one query.
const listAll = 1 << 30

func runExport(args []string) error {
	fl, _, err := parseArgs(args)
	if err != nil {
		return err
	}
	format := fl.format
	if format == "" {
		format = "clusters"
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

	out, closeOut, err := openOutput(fl.out)
	if err != nil {
		return err
	}
	defer closeOut()

	ctx := context.Background()
	switch format {
	case "clusters":
		clusters, err := db.ListClusters(ctx, store.ListOpts{Limit: listAll})
		if err != nil {
			return err
		}
		return report.WriteClusterTSV(out, clusters)
	case "assignments":
		dreams, err := db.ListDreams(ctx)
		if err != nil {
			return err
		}
		return report.WriteAssignmentTSV(out, dreams)
	default:
		return fmt.Errorf("unknown export format %q (supported: clusters, assignments)", format)
	}
}

func runSummary(args []string) error {
	fl, _, err := parseArgs(args)
	if err != nil {
		return err
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

	ctx := context.Background()
	stats, err := db.Stats(ctx)
	if err != nil {
		return err
	}
	clusters, err := db.ListClusters(ctx, store.ListOpts{Limit: listAll})
	if err != nil {
		return err
	}

	topN := fl.limit
	if topN < 0 {
		topN = 10
	}
	return report.WriteSummary(os.Stdout, stats, clusters, topN)
}

func openOutput(path string) (io.Writer, func(), error) {
	if path == "" {
		return os.Stdout, func() {}, nil
	}
	f, err := os.Create(path)
	if err != nil {
		return nil, nil, fmt.Errorf("creating %s: %w", path, err)
	}
	return f, func() { f.Close() }, nil
}
