// Package llm provides a provider-agnostic text-generation adapter for Reverie.
// The pipeline treats the model as an oracle: it asks for translations,
// equivalence verdicts, and category paths, and tolerates every failure mode.
// Uses net/http directly.
package llm

import (
	"context"
	"fmt"
	"os"
	"strings"
)

// Provider is the interface for text completions.
type Provider interface {
	// Complete sends a prompt and returns the response text.
	Complete(ctx context.Context, prompt string, opts CompletionOpts) (string, error)
	// Name returns a human-readable provider name (e.g., "groq/llama-3.3-70b-versatile").
	Name() string
}

// CompletionOpts configures a single completion request.
type CompletionOpts struct {
	MaxTokens   int     // Max tokens to generate (0 = provider default)
	Temperature float64 // 0.0-2.0 (0 = deterministic)
	Model       string  // Override model for this request (empty = use provider default)
	System      string  // System prompt (optional)
}

// Config holds provider configuration.
type Config struct {
	Provider string // "groq", "openrouter"
	Model    string // e.g., "llama-3.3-70b-versatile", "openai/gpt-4o-mini"
	APIKey   string // API key (empty = read from env)
	BaseURL  string // Optional URL override
}

// NewProvider creates an LLM provider from the given config.
func NewProvider(cfg Config) (Provider, error) {
	switch strings.ToLower(cfg.Provider) {
	case "groq":
		key := cfg.APIKey
		if key == "" {
			key = os.Getenv("GROQ_API_KEY")
		}
		if key == "" {
			return nil, fmt.Errorf("groq provider requires GROQ_API_KEY env var")
		}
		model := cfg.Model
		if model == "" {
			model = "llama-3.3-70b-versatile"
		}
		baseURL := cfg.BaseURL
		if baseURL == "" {
			baseURL = "https://api.groq.com/openai/v1"
		}
		return &chatProvider{
			name:    "groq",
			apiKey:  key,
			model:   model,
			baseURL: baseURL,
		}, nil

	case "openrouter":
		key := cfg.APIKey
		if key == "" {
			key = os.Getenv("OPENROUTER_API_KEY")
		}
		if key == "" {
			return nil, fmt.Errorf("openrouter provider requires OPENROUTER_API_KEY env var")
		}
		model := cfg.Model
		if model == "" {
			model = "openai/gpt-4o-mini"
		}
		baseURL := cfg.BaseURL
		if baseURL == "" {
			baseURL = "https://openrouter.ai/api/v1"
		}
		return &chatProvider{
			name:    "openrouter",
			apiKey:  key,
			model:   model,
			baseURL: baseURL,
		}, nil

	default:
		return nil, fmt.Errorf("unknown LLM provider: %q (supported: groq, openrouter)", cfg.Provider)
	}
}

// ParseLLMFlag parses a --llm flag value into a Config.
// Format: "provider/model" e.g., "groq/llama-3.3-70b-versatile",
// "openrouter/openai/gpt-4o-mini".
func ParseLLMFlag(flag string) (Config, error) {
	if flag == "" {
		return Config{Provider: "groq", Model: "llama-3.3-70b-versatile"}, nil
	}

	parts := strings.SplitN(flag, "/", 2)
	if len(parts) < 2 {
		return Config{}, fmt.Errorf("invalid --llm format %q: expected provider/model (e.g., groq/llama-3.3-70b-versatile)", flag)
	}

	provider := strings.ToLower(parts[0])
	model := parts[1]

	switch provider {
	case "groq", "openrouter":
		return Config{Provider: provider, Model: model}, nil
	default:
		return Config{}, fmt.Errorf("unknown provider %q in --llm flag (supported: groq, openrouter)", provider)
	}
}
