// Package embed turns cluster representatives into vectors.
//
// Vectors come from an OpenAI-compatible /v1/embeddings endpoint (ollama
// locally, openai or openrouter hosted). The pipeline embeds once into an
// artifact file; search loads that artifact instead of calling the API.
package embed

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"
)

// Embedder generates embedding vectors from text.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
}

// Config holds embedding provider configuration.
type Config struct {
	Provider    string
	Model       string
	Endpoint    string
	APIKey      string
	MaxRetries  int // default 3
	TimeoutSecs int // default 60
}

// ParseFlag parses "provider/model". Model names may themselves contain
// slashes, so only the first slash splits.
func ParseFlag(flag string) (*Config, error) {
	provider, model, ok := strings.Cut(flag, "/")
	if !ok || provider == "" || model == "" {
		return nil, fmt.Errorf("invalid --embed format: expected 'provider/model', got %q", flag)
	}

	cfg := &Config{
		Provider:    provider,
		Model:       model,
		MaxRetries:  3,
		TimeoutSecs: 60,
	}

	switch provider {
	case "ollama":
		cfg.Endpoint = "http://localhost:11434/v1/embeddings"
	case "openai":
		cfg.Endpoint = "https://api.openai.com/v1/embeddings"
		cfg.APIKey = os.Getenv("OPENAI_API_KEY")
	case "openrouter":
		cfg.Endpoint = "https://openrouter.ai/api/v1/embeddings"
		cfg.APIKey = os.Getenv("OPENROUTER_API_KEY")
	case "custom":
		cfg.Endpoint = os.Getenv("REVERIE_EMBED_ENDPOINT")
		cfg.APIKey = os.Getenv("REVERIE_EMBED_API_KEY")
	default:
		return nil, fmt.Errorf("unknown embed provider %q (supported: ollama, openai, openrouter, custom)", provider)
	}

	if endpoint := os.Getenv("REVERIE_EMBED_ENDPOINT"); endpoint != "" {
		cfg.Endpoint = endpoint
	}
	if key := os.Getenv("REVERIE_EMBED_API_KEY"); key != "" {
		cfg.APIKey = key
	}
	return cfg, nil
}

// Validate checks the configuration is complete enough to call out.
func (c *Config) Validate() error {
	if c.Provider == "" || c.Model == "" || c.Endpoint == "" {
		return fmt.Errorf("embed config needs provider, model and endpoint")
	}
	if c.Provider != "ollama" && c.Provider != "custom" && c.APIKey == "" {
		return fmt.Errorf("API key required for embed provider %q", c.Provider)
	}
	return nil
}

// HTTPError carries the status and Retry-After hint from a failed call.
type HTTPError struct {
	StatusCode int
	Message    string
	RetryAfter time.Duration
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("HTTP %d: %s", e.StatusCode, e.Message)
}

// Client implements Embedder over an OpenAI-compatible embeddings API.
type Client struct {
	cfg  Config
	http *http.Client
}

// NewClient validates the config and builds a client.
func NewClient(cfg *Config) (*Client, error) {
	if cfg == nil {
		return nil, fmt.Errorf("embed config is required")
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid embed config: %w", err)
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	if cfg.TimeoutSecs <= 0 {
		cfg.TimeoutSecs = 60
	}
	return &Client{
		cfg:  *cfg,
		http: &http.Client{Timeout: time.Duration(cfg.TimeoutSecs) * time.Second},
	}, nil
}

// Embed generates a vector for a single phrase.
func (c *Client) Embed(ctx context.Context, text string) ([]float32, error) {
	if strings.TrimSpace(text) == "" {
		return nil, fmt.Errorf("empty text")
	}
	vecs, err := c.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	if len(vecs) != 1 {
		return nil, fmt.Errorf("expected 1 embedding, got %d", len(vecs))
	}
	return vecs[0], nil
}

// EmbedBatch generates vectors for multiple phrases in one API call,
// retrying with exponential backoff and honoring Retry-After on 429s.
func (c *Client) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	var lastErr error
	for attempt := 0; attempt <= c.cfg.MaxRetries; attempt++ {
		vecs, err := c.call(ctx, texts)
		if err == nil {
			return vecs, nil
		}
		lastErr = err
		if attempt == c.cfg.MaxRetries {
			break
		}

		backoff := time.Duration(1<<attempt) * time.Second
		if httpErr, ok := err.(*HTTPError); ok && httpErr.StatusCode == 429 && httpErr.RetryAfter > 0 {
			backoff = httpErr.RetryAfter
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(backoff):
		}
	}
	return nil, fmt.Errorf("embedding failed after %d attempts: %w", c.cfg.MaxRetries+1, lastErr)
}

type embedRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

type embedResponse struct {
	Data []struct {
		Embedding []float32 `json:"embedding"`
		Index     int       `json:"index"`
	} `json:"data"`
}

func (c *Client) call(ctx context.Context, texts []string) ([][]float32, error) {
	body, err := json.Marshal(embedRequest{Model: c.cfg.Model, Input: texts})
	if err != nil {
		return nil, fmt.Errorf("marshaling request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.Endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	}
	if c.cfg.Provider == "openrouter" {
		req.Header.Set("HTTP-Referer", "https://github.com/hurttlocker/reverie")
		req.Header.Set("X-Title", "Reverie")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("sending request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		var retryAfter time.Duration
		if header := resp.Header.Get("Retry-After"); header != "" {
			if seconds, err := strconv.Atoi(header); err == nil {
				retryAfter = time.Duration(seconds) * time.Second
			}
		}
		return nil, &HTTPError{StatusCode: resp.StatusCode, Message: string(respBody), RetryAfter: retryAfter}
	}

	var parsed embedResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return nil, fmt.Errorf("parsing response JSON: %w", err)
	}
	if len(parsed.Data) != len(texts) {
		return nil, fmt.Errorf("expected %d embeddings, got %d", len(texts), len(parsed.Data))
	}

	vecs := make([][]float32, len(texts))
	for _, d := range parsed.Data {
		if d.Index < 0 || d.Index >= len(vecs) {
			return nil, fmt.Errorf("invalid embedding index: %d", d.Index)
		}
		vecs[d.Index] = d.Embedding
	}
	return vecs, nil
}
