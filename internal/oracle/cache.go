// Package oracle wraps the text-generation provider behind the three
// judgments the pipeline needs: phrase normalization, pairwise equivalence,
// and taxonomy classification. Every judgment is memoized so the provider
// is asked each distinct question at most once per run.
package oracle

import (
	"strings"
	"sync"
)

// Op identifies the kind of oracle operation a cache entry belongs to.
type Op string

const (
	OpNormalize  Op = "normalize"
	OpEquivalent Op = "equivalent"
	OpClassify   Op = "classify"
)

// Cache memoizes oracle results keyed by (operation kind, canonicalized key).
// Entries are never evicted: the cache lives for a single pipeline run and
// the key space is bounded by the corpus size.
type Cache struct {
	mu      sync.RWMutex
	entries map[string]string
	hits    int64
	misses  int64
}

// NewCache creates an empty cache.
func NewCache() *Cache {
	return &Cache{entries: make(map[string]string)}
}

// Key builds a cache key from an operation kind and its input.
// Inputs are canonicalized (trimmed, lower-cased) so trivially different
// spellings of the same question share one entry.
func Key(op Op, input string) string {
	return string(op) + "\x00" + canonicalize(input)
}

// PairKey builds an order-independent key for a pair of phrases, so
// (a, b) and (b, a) resolve to the same entry.
func PairKey(op Op, a, b string) string {
	ca, cb := canonicalize(a), canonicalize(b)
	if ca > cb {
		ca, cb = cb, ca
	}
	return string(op) + "\x00" + ca + "\x00" + cb
}

// Get returns the cached value for key, if present.
func (c *Cache) Get(key string) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.entries[key]
	if ok {
		c.hits++
	} else {
		c.misses++
	}
	return v, ok
}

// Put stores a value under key, overwriting any previous entry.
func (c *Cache) Put(key, value string) {
	c.mu.Lock()
	c.entries[key] = value
	c.mu.Unlock()
}

// Len returns the number of cached entries.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// Stats returns hit/miss counters for observability.
func (c *Cache) Stats() (hits, misses int64) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.hits, c.misses
}

func canonicalize(s string) string {
	return strings.Join(strings.Fields(strings.ToLower(strings.TrimSpace(s))), " ")
}
