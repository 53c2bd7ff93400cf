// Package normalize reduces raw dream titles to canonical, detail-stripped
// English phrases of the form "to <verb> <object>".
//
// The oracle does the heavy lifting (translation and detail removal); this
// package owns script detection, prompt construction, answer repair, and
// the deterministic fallback that guarantees every record ends up with a
// non-empty phrase no matter what the oracle does.
package normalize

import (
	"context"
	"fmt"
	"strings"

	"github.com/hurttlocker/reverie/internal/llm"
	"github.com/hurttlocker/reverie/internal/oracle"
)

const (
	normalizeTemperature = 0.1
	normalizeMaxTokens   = 100
)

// Normalizer turns raw titles into canonical phrases via the oracle.
type Normalizer struct {
	oracle *oracle.Client
}

// New creates a Normalizer on top of the shared oracle client.
func New(client *oracle.Client) *Normalizer {
	return &Normalizer{oracle: client}
}

// Normalize returns the canonical phrase for raw. The result is never
// empty: any oracle failure, empty answer, or answer still carrying
// source-script characters is replaced by Fallback(raw). The returned
// error is advisory; it reports why the oracle path was abandoned while
// the phrase itself is already usable.
//
// Identical raw input is normalized once per run; later duplicates are
// served from the cache without an oracle call.
func (n *Normalizer) Normalize(ctx context.Context, raw string) (string, error) {
	key := oracle.Key(oracle.OpNormalize, raw)
	if cached, ok := n.oracle.Cache().Get(key); ok {
		return cached, nil
	}

	script := DetectScript(raw)
	prompt := BuildPrompt(raw, script)

	answer, err := n.oracle.Complete(ctx, prompt, llm.CompletionOpts{
		Temperature: normalizeTemperature,
		MaxTokens:   normalizeMaxTokens,
	})
	if err != nil {
		phrase := Fallback(raw)
		n.oracle.Cache().Put(key, phrase)
		return phrase, fmt.Errorf("normalizing %q: %w", raw, err)
	}

	phrase := ParseResponse(answer)
	if !usable(phrase) {
		fallback := Fallback(raw)
		n.oracle.Cache().Put(key, fallback)
		return fallback, fmt.Errorf("normalizing %q: unusable oracle answer %q", raw, answer)
	}

	n.oracle.Cache().Put(key, phrase)
	return phrase, nil
}

// Fallback is the deterministic normalization used when the oracle cannot
// be trusted: the original title, lower-cased, with a "to " prefix.
func Fallback(raw string) string {
	phrase := strings.ToLower(strings.TrimSpace(raw))
	if phrase == "" {
		// Unreachable through the pipeline (the corpus loader skips
		// empty titles) but the contract is total.
		return "to"
	}
	if !strings.HasPrefix(phrase, "to ") {
		phrase = "to " + phrase
	}
	return phrase
}

// usable rejects phrases the repair rules could not salvage: empty or
// near-empty output, or text still in the source script (translation
// failed and the model echoed the input).
func usable(phrase string) bool {
	if len(phrase) <= 2 {
		return false
	}
	return !containsHebrew(phrase)
}
