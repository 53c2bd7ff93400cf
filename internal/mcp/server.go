// Package mcp exposes analysis results over the Model Context Protocol.
//
// Tools cover run status, cluster listing and detail, and similar-cluster
// search; a summary resource gives agents a cheap overview. Stdio
// transport only; the server is meant to sit next to a local database.
package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/hurttlocker/reverie/internal/pipeline"
	"github.com/hurttlocker/reverie/internal/simsearch"
	"github.com/hurttlocker/reverie/internal/store"
)

// ServerConfig wires the MCP server's dependencies. Runner and Searcher
// are optional; the matching tools report a clear error when absent.
type ServerConfig struct {
	Store    *store.Store
	Runner   *pipeline.Runner
	Searcher *simsearch.Searcher
	Version  string
}

// dbMu serializes tool calls that touch SQLite. The mcp-go library
// dispatches handlers on separate goroutines and the store shares one
// connection.
var dbMu sync.Mutex

// NewServer builds the configured MCP server.
func NewServer(cfg ServerConfig) *server.MCPServer {
	ver := cfg.Version
	if ver == "" {
		ver = "dev"
	}

	s := server.NewMCPServer(
		"Reverie",
		ver,
		server.WithToolCapabilities(false),
		server.WithResourceCapabilities(true, false),
	)

	registerStatusTool(s, cfg.Runner, cfg.Store)
	registerClustersTool(s, cfg.Store)
	registerClusterTool(s, cfg.Store)
	registerSimilarTool(s, cfg.Searcher)
	registerSummaryResource(s, cfg.Store)

	return s
}

func registerStatusTool(s *server.MCPServer, runner *pipeline.Runner, st *store.Store) {
	tool := mcp.NewTool("reverie_status",
		mcp.WithDescription("Get pipeline progress (phase, processed/total, oracle call counts) and database totals."),
		mcp.WithReadOnlyHintAnnotation(true),
		mcp.WithDestructiveHintAnnotation(false),
	)

	s.AddTool(tool, func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		out := map[string]any{}
		if runner != nil {
			out["pipeline"] = runner.Status()
		}
		if st != nil {
			dbMu.Lock()
			stats, err := st.Stats(ctx)
			dbMu.Unlock()
			if err != nil {
				return mcp.NewToolResultError(fmt.Sprintf("stats error: %v", err)), nil
			}
			out["store"] = stats
		}
		data, _ := json.MarshalIndent(out, "", "  ")
		return mcp.NewToolResultText(string(data)), nil
	})
}

func registerClustersTool(s *server.MCPServer, st *store.Store) {
	tool := mcp.NewTool("reverie_clusters",
		mcp.WithDescription("List dream clusters ordered by size, with representative phrase and taxonomy path."),
		mcp.WithReadOnlyHintAnnotation(true),
		mcp.WithDestructiveHintAnnotation(false),
		mcp.WithNumber("limit",
			mcp.Description("Maximum clusters to return (default: 20, max: 100)"),
		),
		mcp.WithNumber("min_size",
			mcp.Description("Only clusters with at least this many members (default: 1)"),
		),
	)

	s.AddTool(tool, func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		if st == nil {
			return mcp.NewToolResultError("no database configured"), nil
		}

		opts := store.ListOpts{Limit: 20}
		if l, err := req.RequireFloat("limit"); err == nil && l > 0 {
			opts.Limit = int(l)
			if opts.Limit > 100 {
				opts.Limit = 100
			}
		}
		if m, err := req.RequireFloat("min_size"); err == nil && m > 0 {
			opts.MinSize = int(m)
		}

		dbMu.Lock()
		rows, err := st.ListClusters(ctx, opts)
		dbMu.Unlock()
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("list error: %v", err)), nil
		}
		data, _ := json.MarshalIndent(rows, "", "  ")
		return mcp.NewToolResultText(string(data)), nil
	})
}

func registerClusterTool(s *server.MCPServer, st *store.Store) {
	tool := mcp.NewTool("reverie_cluster",
		mcp.WithDescription("Get one cluster with all its member dreams (original titles and normalized phrases)."),
		mcp.WithReadOnlyHintAnnotation(true),
		mcp.WithDestructiveHintAnnotation(false),
		mcp.WithNumber("cluster_id",
			mcp.Required(),
			mcp.Description("Cluster ID"),
		),
	)

	s.AddTool(tool, func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		if st == nil {
			return mcp.NewToolResultError("no database configured"), nil
		}
		id, err := req.RequireFloat("cluster_id")
		if err != nil {
			return mcp.NewToolResultError("cluster_id is required"), nil
		}

		dbMu.Lock()
		c, members, err := st.GetCluster(ctx, int64(id))
		dbMu.Unlock()
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("cluster error: %v", err)), nil
		}

		out := map[string]any{"cluster": c, "members": members}
		data, _ := json.MarshalIndent(out, "", "  ")
		return mcp.NewToolResultText(string(data)), nil
	})
}

func registerSimilarTool(s *server.MCPServer, searcher *simsearch.Searcher) {
	tool := mcp.NewTool("reverie_similar",
		mcp.WithDescription("Find clusters similar to a given cluster, scored 0-100 by embedding similarity with a lexical fallback."),
		mcp.WithReadOnlyHintAnnotation(true),
		mcp.WithDestructiveHintAnnotation(false),
		mcp.WithNumber("cluster_id",
			mcp.Required(),
			mcp.Description("Query cluster ID"),
		),
		mcp.WithNumber("limit",
			mcp.Description("Maximum results (default: 10)"),
		),
		mcp.WithNumber("min_score",
			mcp.Description("Similarity floor on the 0-100 scale (default: 30)"),
		),
	)

	s.AddTool(tool, func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		if searcher == nil {
			return mcp.NewToolResultError("similarity search unavailable: no cluster snapshot loaded"), nil
		}
		id, err := req.RequireFloat("cluster_id")
		if err != nil {
			return mcp.NewToolResultError("cluster_id is required"), nil
		}

		k := simsearch.DefaultK
		if l, err := req.RequireFloat("limit"); err == nil && l > 0 {
			k = int(l)
		}
		minScore := simsearch.DefaultMinScore
		if m, err := req.RequireFloat("min_score"); err == nil && m >= 0 {
			minScore = m
		}

		results, err := searcher.Search(int64(id), k, minScore)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("search error: %v", err)), nil
		}
		data, _ := json.MarshalIndent(results, "", "  ")
		return mcp.NewToolResultText(string(data)), nil
	})
}

func registerSummaryResource(s *server.MCPServer, st *store.Store) {
	resource := mcp.NewResource(
		"reverie://summary",
		"Analysis Summary",
		mcp.WithResourceDescription("Corpus and cluster totals plus the 20 largest clusters."),
		mcp.WithMIMEType("application/json"),
	)

	s.AddResource(resource, func(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
		if st == nil {
			return nil, fmt.Errorf("no database configured")
		}

		dbMu.Lock()
		stats, err := st.Stats(ctx)
		if err == nil {
			var top []*store.ClusterRow
			top, err = st.ListClusters(ctx, store.ListOpts{Limit: 20})
			if err == nil {
				dbMu.Unlock()
				data, _ := json.MarshalIndent(map[string]any{
					"stats": stats,
					"top":   top,
				}, "", "  ")
				return []mcp.ResourceContents{
					mcp.TextResourceContents{
						URI:      req.Params.URI,
						MIMEType: "application/json",
						Text:     string(data),
					},
				}, nil
			}
		}
		dbMu.Unlock()
		return nil, fmt.Errorf("building summary: %w", err)
	})
}
