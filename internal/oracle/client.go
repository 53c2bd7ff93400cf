package oracle

import (
	"context"
	"fmt"
	"strings"
	"time"
	"unicode"

	"golang.org/x/time/rate"

	"github.com/hurttlocker/reverie/internal/llm"
)

// DefaultCallInterval is the fixed pause between oracle calls. The provider
// rate limits aggressively at free tiers; a small constant gap keeps a full
// corpus run under the limit without adaptive backoff.
const DefaultCallInterval = 100 * time.Millisecond

// equivalencePrompt forces a one-token verdict. Anything that does not
// start with "y" is treated as "no", the conservative reading, since a
// false merge is worse than a missed one.
const equivalencePrompt = "Are these two dreams essentially the same? '%s' and '%s'\nReply with ONLY 'y' for yes or 'n' for no."

// Client is the paced, cached oracle façade used by all pipeline stages.
type Client struct {
	provider llm.Provider
	cache    *Cache
	limiter  *rate.Limiter
	calls    int64
}

// NewClient wraps provider with the shared cache and a fixed-interval pacer.
// interval <= 0 selects DefaultCallInterval.
func NewClient(provider llm.Provider, cache *Cache, interval time.Duration) *Client {
	if cache == nil {
		cache = NewCache()
	}
	if interval <= 0 {
		interval = DefaultCallInterval
	}
	return &Client{
		provider: provider,
		cache:    cache,
		limiter:  rate.NewLimiter(rate.Every(interval), 1),
	}
}

// Cache returns the client's cache, shared with callers that build their
// own keys (the normalizer caches raw-input → phrase through it).
func (c *Client) Cache() *Cache {
	return c.cache
}

// Name reports the underlying provider name.
func (c *Client) Name() string {
	if c.provider == nil {
		return "none"
	}
	return c.provider.Name()
}

// Calls returns how many completions actually reached the provider.
func (c *Client) Calls() int64 {
	return c.calls
}

// CacheStats reports cache hit and miss counts.
func (c *Client) CacheStats() (hits, misses int64) {
	return c.cache.Stats()
}

// Complete issues a paced completion against the provider.
func (c *Client) Complete(ctx context.Context, prompt string, opts llm.CompletionOpts) (string, error) {
	if c.provider == nil {
		return "", fmt.Errorf("no oracle provider configured")
	}
	if err := c.limiter.Wait(ctx); err != nil {
		return "", err
	}
	c.calls++
	return c.provider.Complete(ctx, prompt, opts)
}

// Equivalent reports whether two canonical phrases express the same goal.
// Exact equality short-circuits without a call; every distinct unordered
// pair is asked at most once per run. Oracle failures come back as
// (false, err): the caller keeps the clusters separate and moves on.
func (c *Client) Equivalent(ctx context.Context, a, b string) (bool, error) {
	if a == b {
		return true, nil
	}

	key := PairKey(OpEquivalent, a, b)
	if v, ok := c.cache.Get(key); ok {
		return v == "y", nil
	}

	prompt := fmt.Sprintf(equivalencePrompt, a, b)
	answer, err := c.Complete(ctx, prompt, llm.CompletionOpts{
		Temperature: 0,
		MaxTokens:   2,
	})
	if err != nil {
		return false, fmt.Errorf("equivalence check %q vs %q: %w", a, b, err)
	}

	verdict := parseYes(answer)
	if verdict {
		c.cache.Put(key, "y")
	} else {
		c.cache.Put(key, "n")
	}
	return verdict, nil
}

// parseYes reads only the first meaningful token of an oracle answer.
// Unparseable output counts as "no".
func parseYes(answer string) bool {
	trimmed := strings.TrimLeftFunc(answer, func(r rune) bool {
		return !unicode.IsLetter(r)
	})
	return strings.HasPrefix(strings.ToLower(trimmed), "y")
}
