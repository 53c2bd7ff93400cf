// Package config resolves settings from YAML file, environment and CLI
// flags, in that order of increasing precedence. Every resolved value
// remembers where it came from so `reverie status` can show provenance.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

type ValueSource string

const (
	SourceUnknown ValueSource = "unknown"
	SourceConfig  ValueSource = "config"
	SourceEnv     ValueSource = "env"
	SourceCLI     ValueSource = "cli"
	SourceDefault ValueSource = "default"
)

type ResolvedValue struct {
	Value  string      `json:"value"`
	Source ValueSource `json:"source"`
	From   string      `json:"from,omitempty"`
}

// IntOr parses the value as an integer, falling back when unset or
// malformed.
func (v ResolvedValue) IntOr(fallback int) int {
	s := strings.TrimSpace(v.Value)
	if s == "" {
		return fallback
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return fallback
	}
	return n
}

// ResolveOptions carries CLI flag values into resolution.
type ResolveOptions struct {
	ConfigPath    string
	CLILLM        string
	CLIEmbed      string
	CLIDBPath     string
	CLICheckpoint string
	CLIWindow     string
	CLIEvery      string
	CLIInterval   string
}

// ResolvedConfig is the full resolved settings set.
type ResolvedConfig struct {
	ConfigPath string `json:"config_path"`

	DBPath         ResolvedValue `json:"db_path"`
	CheckpointPath ResolvedValue `json:"checkpoint_path"`
	ArtifactPath   ResolvedValue `json:"artifact_path"`
	IndexPath      ResolvedValue `json:"index_path"`

	LLMProvider   ResolvedValue `json:"llm_provider"`
	EmbedProvider ResolvedValue `json:"embed_provider"`

	// Pipeline tunables: merge window, checkpoint cadence, and the
	// minimum interval between oracle calls in milliseconds.
	Window          ResolvedValue `json:"window"`
	CheckpointEvery ResolvedValue `json:"checkpoint_every"`
	CallIntervalMS  ResolvedValue `json:"call_interval_ms"`
}

type fileConfig struct {
	DBPath         string `yaml:"db_path"`
	CheckpointPath string `yaml:"checkpoint_path"`
	ArtifactPath   string `yaml:"artifact_path"`
	IndexPath      string `yaml:"index_path"`
	LLM            struct {
		Provider string `yaml:"provider"`
	} `yaml:"llm"`
	Embed struct {
		Provider string `yaml:"provider"`
	} `yaml:"embed"`
	Pipeline struct {
		Window          int `yaml:"window"`
		CheckpointEvery int `yaml:"checkpoint_every"`
		CallIntervalMS  int `yaml:"call_interval_ms"`
	} `yaml:"pipeline"`
}

// DefaultConfigPath is ~/.reverie/config.yaml.
func DefaultConfigPath() string {
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".reverie", "config.yaml")
}

// Resolve merges config file, environment and CLI flags.
func Resolve(opts ResolveOptions) (ResolvedConfig, error) {
	path := strings.TrimSpace(opts.ConfigPath)
	if path == "" {
		path = DefaultConfigPath()
	}

	out := ResolvedConfig{ConfigPath: path}

	cfg, err := loadFile(path)
	if err != nil {
		return out, err
	}
	if cfg != nil {
		apply(&out.DBPath, cfg.DBPath, SourceConfig, path)
		apply(&out.CheckpointPath, cfg.CheckpointPath, SourceConfig, path)
		apply(&out.ArtifactPath, cfg.ArtifactPath, SourceConfig, path)
		apply(&out.IndexPath, cfg.IndexPath, SourceConfig, path)
		apply(&out.LLMProvider, cfg.LLM.Provider, SourceConfig, path)
		apply(&out.EmbedProvider, cfg.Embed.Provider, SourceConfig, path)
		applyInt(&out.Window, cfg.Pipeline.Window, SourceConfig, path)
		applyInt(&out.CheckpointEvery, cfg.Pipeline.CheckpointEvery, SourceConfig, path)
		applyInt(&out.CallIntervalMS, cfg.Pipeline.CallIntervalMS, SourceConfig, path)
	}

	applyEnv(&out.DBPath, "REVERIE_DB")
	applyEnv(&out.CheckpointPath, "REVERIE_CHECKPOINT")
	applyEnv(&out.ArtifactPath, "REVERIE_ARTIFACT")
	applyEnv(&out.IndexPath, "REVERIE_INDEX")
	applyEnv(&out.LLMProvider, "REVERIE_LLM")
	applyEnv(&out.EmbedProvider, "REVERIE_EMBED")
	applyEnv(&out.Window, "REVERIE_WINDOW")
	applyEnv(&out.CheckpointEvery, "REVERIE_CHECKPOINT_EVERY")
	applyEnv(&out.CallIntervalMS, "REVERIE_CALL_INTERVAL_MS")

	apply(&out.LLMProvider, opts.CLILLM, SourceCLI, "--llm")
	apply(&out.EmbedProvider, opts.CLIEmbed, SourceCLI, "--embed")
	apply(&out.DBPath, opts.CLIDBPath, SourceCLI, "--db")
	apply(&out.CheckpointPath, opts.CLICheckpoint, SourceCLI, "--checkpoint")
	apply(&out.Window, opts.CLIWindow, SourceCLI, "--window")
	apply(&out.CheckpointEvery, opts.CLIEvery, SourceCLI, "--checkpoint-every")
	apply(&out.CallIntervalMS, opts.CLIInterval, SourceCLI, "--call-interval-ms")

	for _, p := range []*ResolvedValue{&out.DBPath, &out.CheckpointPath, &out.ArtifactPath, &out.IndexPath} {
		if p.Value != "" {
			p.Value = expandUserPath(p.Value)
		}
	}
	return out, nil
}

func apply(dst *ResolvedValue, raw string, source ValueSource, from string) {
	v := strings.TrimSpace(raw)
	if v == "" {
		return
	}
	*dst = ResolvedValue{Value: v, Source: source, From: from}
}

func applyInt(dst *ResolvedValue, raw int, source ValueSource, from string) {
	if raw <= 0 {
		return
	}
	*dst = ResolvedValue{Value: strconv.Itoa(raw), Source: source, From: from}
}

func applyEnv(dst *ResolvedValue, envKey string) {
	if v := strings.TrimSpace(os.Getenv(envKey)); v != "" {
		*dst = ResolvedValue{Value: v, Source: SourceEnv, From: envKey}
	}
}

func loadFile(path string) (*fileConfig, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}
	var cfg fileConfig
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}
	return &cfg, nil
}

func expandUserPath(path string) string {
	if strings.HasPrefix(path, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, path[2:])
		}
	}
	return path
}
