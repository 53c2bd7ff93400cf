package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/mark3labs/mcp-go/server"
	"github.com/rs/zerolog"

	"github.com/hurttlocker/reverie/internal/checkpoint"
	"github.com/hurttlocker/reverie/internal/config"
	"github.com/hurttlocker/reverie/internal/llm"
	"github.com/hurttlocker/reverie/internal/mcp"
	"github.com/hurttlocker/reverie/internal/oracle"
	"github.com/hurttlocker/reverie/internal/pipeline"
	"github.com/hurttlocker/reverie/internal/store"
)

const version = "0.1.0"

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(0)
	}

	var err error
	switch os.Args[1] {
	case "run":
		err = runPipeline(os.Args[2:])
	case "status":
		err = runStatus(os.Args[2:])
	case "export":
		err = runExport(os.Args[2:])
	case "summary":
		err = runSummary(os.Args[2:])
	case "similar":
		err = runSimilar(os.Args[2:])
	case "embed":
		err = runEmbed(os.Args[2:])
	case "mcp":
		err = runMCP(os.Args[2:])
	case "version", "--version", "-v":
		fmt.Printf("reverie %s\n", version)
	case "help", "--help", "-h":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// cliFlags holds every flag any command accepts. Commands ignore the
// flags they have no use for.
type cliFlags struct {
	configPath string
	llm        string
	embed      string
	db         string
	checkpoint string
	window     string
	every      string
	interval   string
	format     string
	out        string
	limit      int
	minScore   float64
	verbose    bool
	background bool
}

// parseArgs splits args into flags and positionals. Flags take their
// value from the next argument ("--db path") or after an equals sign
// ("--db=path").
func parseArgs(args []string) (cliFlags, []string, error) {
	fl := cliFlags{limit: -1, minScore: -1}
	var positional []string

	next := func(i *int, name string) (string, error) {
		if eq := strings.IndexByte(args[*i], '='); eq >= 0 {
			return args[*i][eq+1:], nil
		}
		*i++
		if *i >= len(args) {
			return "", fmt.Errorf("flag %s needs a value", name)
		}
		return args[*i], nil
	}

	for i := 0; i < len(args); i++ {
		arg := args[i]
		name := arg
		if eq := strings.IndexByte(arg, '='); eq >= 0 {
			name = arg[:eq]
		}
		var err error
		switch name {
		case "--config":
			fl.configPath, err = next(&i, name)
		case "--llm":
			fl.llm, err = next(&i, name)
		case "--embed":
			fl.embed, err = next(&i, name)
		case "--db":
			fl.db, err = next(&i, name)
		case "--checkpoint":
			fl.checkpoint, err = next(&i, name)
		case "--window":
			fl.window, err = next(&i, name)
		case "--checkpoint-every":
			fl.every, err = next(&i, name)
		case "--call-interval-ms":
			fl.interval, err = next(&i, name)
		case "--format":
			fl.format, err = next(&i, name)
		case "--out", "-o":
			fl.out, err = next(&i, name)
		case "--limit":
			var v string
			if v, err = next(&i, name); err == nil {
				if _, perr := fmt.Sscanf(v, "%d", &fl.limit); perr != nil {
					err = fmt.Errorf("invalid --limit %q", v)
				}
			}
		case "--min-score":
			var v string
			if v, err = next(&i, name); err == nil {
				if _, perr := fmt.Sscanf(v, "%g", &fl.minScore); perr != nil {
					err = fmt.Errorf("invalid --min-score %q", v)
				}
			}
		case "--verbose":
			fl.verbose = true
		case "--background":
			fl.background = true
		default:
			if strings.HasPrefix(arg, "-") {
				return fl, nil, fmt.Errorf("unknown flag: %s", arg)
			}
			positional = append(positional, arg)
		}
		if err != nil {
			return fl, nil, err
		}
	}
	return fl, positional, nil
}

func resolveConfig(fl cliFlags) (config.ResolvedConfig, error) {
	return config.Resolve(config.ResolveOptions{
		ConfigPath:    fl.configPath,
		CLILLM:        fl.llm,
		CLIEmbed:      fl.embed,
		CLIDBPath:     fl.db,
		CLICheckpoint: fl.checkpoint,
		CLIWindow:     fl.window,
		CLIEvery:      fl.every,
		CLIInterval:   fl.interval,
	})
}

// pathOr falls back to a file under ~/.reverie when no value resolved.
func pathOr(v config.ResolvedValue, name string) string {
	if v.Value != "" {
		return v.Value
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return name
	}
	return filepath.Join(home, ".reverie", name)
}

func statusPath() string {
	return pathOr(config.ResolvedValue{}, "status.json")
}

// spawnBackground re-execs the run command detached, logging to
// ~/.reverie/run.log. Progress is visible through `reverie status`.
func spawnBackground(args []string) error {
	exe, err := os.Executable()
	if err != nil {
		return fmt.Errorf("locating executable: %w", err)
	}

	filtered := make([]string, 0, len(args)+1)
	filtered = append(filtered, "run")
	for _, a := range args {
		if a == "--background" {
			continue
		}
		filtered = append(filtered, a)
	}

	logPath := pathOr(config.ResolvedValue{}, "run.log")
	if err := os.MkdirAll(filepath.Dir(logPath), 0o755); err != nil {
		return fmt.Errorf("creating log dir: %w", err)
	}
	logFile, err := os.OpenFile(logPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("opening log file: %w", err)
	}
	defer logFile.Close()

	cmd := exec.Command(exe, filtered...)
	cmd.Stdout = logFile
	cmd.Stderr = logFile
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("starting background run: %w", err)
	}
	fmt.Printf("Started background run (pid %d)\n  log:    %s\n  status: reverie status\n",
		cmd.Process.Pid, logPath)
	return cmd.Process.Release()
}

func newLogger(verbose bool) zerolog.Logger {
	level := zerolog.InfoLevel
	if verbose {
		level = zerolog.DebugLevel
	}
	return zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: "15:04:05"}).
		Level(level).With().Timestamp().Logger()
}

func runPipeline(args []string) error {
	fl, positional, err := parseArgs(args)
	if err != nil {
		return err
	}
	if len(positional) != 1 {
		return fmt.Errorf("usage: reverie run <corpus.tsv> [flags]")
	}
	corpusPath := positional[0]

	if fl.background {
		return spawnBackground(args)
	}

	cfg, err := resolveConfig(fl)
	if err != nil {
		return err
	}

	llmCfg, err := llm.ParseLLMFlag(cfg.LLMProvider.Value)
	if err != nil {
		return err
	}
	provider, err := llm.NewProvider(llmCfg)
	if err != nil {
		return err
	}

	db, err := store.Open(cfg.DBPath.Value)
	if err != nil {
		return err
	}
	defer db.Close()

	log := newLogger(fl.verbose)
	interval := time.Duration(cfg.CallIntervalMS.IntOr(0)) * time.Millisecond
	oc := oracle.NewClient(provider, oracle.NewCache(), interval)

	runner := pipeline.NewRunner(oc, db, pipeline.Options{
		CorpusPath:      corpusPath,
		CheckpointPath:  pathOr(cfg.CheckpointPath, "checkpoint.json"),
		StatusPath:      statusPath(),
		Window:          cfg.Window.IntOr(0),
		CheckpointEvery: cfg.CheckpointEvery.IntOr(0),
		Logger:          log,
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	log.Info().Str("provider", oc.Name()).Str("corpus", corpusPath).Msg("starting run")
	result, err := runner.Run(ctx)
	if err != nil {
		return err
	}

	fmt.Printf("Processed %d dreams into %d clusters (%d classified, %d fallbacks, %d oracle calls)\n",
		len(result.Dreams), len(result.Clusters), result.Classified, result.Fallbacks, oc.Calls())
	return nil
}

func runStatus(args []string) error {
	fl, _, err := parseArgs(args)
	if err != nil {
		return err
	}
	cfg, err := resolveConfig(fl)
	if err != nil {
		return err
	}

	fmt.Printf("reverie %s\n\n", version)
	fmt.Printf("Config:     %s\n", cfg.ConfigPath)
	printValue("Database", cfg.DBPath)
	printValue("Checkpoint", cfg.CheckpointPath)
	printValue("LLM", cfg.LLMProvider)
	printValue("Embeddings", cfg.EmbedProvider)

	if ps := readPipelineStatus(); ps != nil {
		fmt.Printf("\nRun:        %s  %d/%d processed", ps.Phase, ps.Processed, ps.Total)
		if ps.Error != "" {
			fmt.Printf("  (%s)", ps.Error)
		}
		fmt.Printf("\n            %d clusters, %d merges, %d oracle calls (updated %s)\n",
			ps.Clusters, ps.Merges, ps.OracleCalls, ps.UpdatedAt.Format(time.RFC3339))
	}

	cpPath := pathOr(cfg.CheckpointPath, "checkpoint.json")
	st, err := checkpoint.Load(cpPath)
	if err != nil {
		fmt.Printf("\nCheckpoint: unreadable (%v)\n", err)
	} else if st == nil {
		fmt.Printf("\nCheckpoint: none\n")
	} else {
		fmt.Printf("\nCheckpoint: %d/%d normalized, %d clusters (saved %s)\n",
			st.Processed(), st.Total, len(st.Clusters), st.SavedAt.Format(time.RFC3339))
	}

	db, err := store.Open(cfg.DBPath.Value)
	if err != nil {
		return err
	}
	defer db.Close()
	stats, err := db.Stats(context.Background())
	if err != nil {
		return err
	}
	fmt.Printf("Database:   %d dreams, %d clusters (%d classified)\n",
		stats.DreamCount, stats.ClusterCount, stats.Classified)
	return nil
}

// readPipelineStatus loads the snapshot a running (or finished) pipeline
// mirrored to disk. Nil when no run has happened yet.
func readPipelineStatus() *pipeline.Status {
	data, err := os.ReadFile(statusPath())
	if err != nil {
		return nil
	}
	var s pipeline.Status
	if err := json.Unmarshal(data, &s); err != nil {
		return nil
	}
	return &s
}

func printValue(label string, v config.ResolvedValue) {
	if v.Value == "" {
		fmt.Printf("%-11s (default)\n", label+":")
		return
	}
	from := string(v.Source)
	if v.From != "" {
		from = v.From
	}
	fmt.Printf("%-11s %s  [%s]\n", label+":", v.Value, from)
}

func runMCP(args []string) error {
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

	searcher, err := loadSearcher(cfg, db)
	if err != nil {
		// Similarity is optional for the MCP server; run without it.
		fmt.Fprintf(os.Stderr, "similarity search disabled: %v\n", err)
	}

	srv := mcp.NewServer(mcp.ServerConfig{
		Store:    db,
		Searcher: searcher,
		Version:  version,
	})
	return server.ServeStdio(srv)
}

func printUsage() {
	fmt.Printf(`reverie %s - dream corpus analysis pipeline

Usage:
  reverie <command> [arguments]

Commands:
  run <corpus.tsv>    Normalize, cluster and classify a dream corpus
  status              Show resolved config, checkpoint and database state
  export              Export clusters or assignments as TSV
  summary             Print corpus totals and the largest clusters
  similar <id>        Find clusters similar to a cluster
  embed               Build the embedding artifact and vector index
  mcp                 Serve results over MCP (stdio)
  version             Print version

Run Flags:
  --background               Detach and run in the background
  --llm provider/model       LLM oracle (default groq/llama-3.3-70b-versatile)
  --db path                  SQLite database path
  --checkpoint path          Checkpoint file path
  --window n                 Merge-pass comparison window (default 30)
  --checkpoint-every n       Save a checkpoint every n records (default 100)
  --call-interval-ms n       Minimum gap between oracle calls
  --verbose                  Debug logging

Export Flags:
  --format clusters|assignments
  --out path                 Output file (default stdout)

Similar Flags:
  --limit n                  Max results (default 10)
  --min-score s              Similarity floor, 0-100 (default 30)

Flags:
  --config path              Config file (default ~/.reverie/config.yaml)
  -h, --help                 Show this help message
  -v, --version              Print version
`, version)
}
