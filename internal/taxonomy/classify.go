// Package taxonomy assigns a fixed 3-level category path to a cluster's
// representative phrase. Classification is total: the oracle is asked
// first, and a keyword rule table guarantees a non-empty path for any
// input, including empty and adversarial strings, when the oracle
// fails or answers in the wrong shape.
package taxonomy

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/hurttlocker/reverie/internal/llm"
	"github.com/hurttlocker/reverie/internal/oracle"
)

const (
	classifyTemperature = 0.1
	classifyMaxTokens   = 30
)

const classifyPromptFormat = "Categorize '%s' into 3 levels. Reply ONLY with format: Category|Subcategory|Specific"

// Path is a 3-level taxonomy path. All three levels are non-empty after
// classification.
type Path struct {
	Level1 string `json:"level1"`
	Level2 string `json:"level2"`
	Level3 string `json:"level3"`
}

func (p Path) String() string {
	return p.Level1 + " > " + p.Level2 + " > " + p.Level3
}

// pipePathRe accepts exactly the "Category|Subcategory|Specific" shape,
// letters and spaces only, anywhere in the answer. Anything else is
// treated as malformed and routed to the fallback rules.
var pipePathRe = regexp.MustCompile(`([A-Za-z ]+)\|([A-Za-z ]+)\|([A-Za-z ]+)`)

// keywordRule maps trigger words to a fixed path. Rules are ordered;
// the first match wins.
type keywordRule struct {
	keywords []string
	path     Path
}

var fallbackRules = []keywordRule{
	{[]string{"youtube", "tiktok", "instagram", "influencer", "content creator", "streamer"},
		Path{"Career", "Digital Creator", "Social Media"}},
	{[]string{"doctor", "lawyer", "engineer", "teacher", "nurse", "pilot"},
		Path{"Career", "Professional", "Traditional"}},
	{[]string{"rich", "money", "millionaire", "wealth"},
		Path{"Financial", "Wealth", "Personal"}},
	{[]string{"travel", "visit", "trip"},
		Path{"Travel", "Adventure", "Exploration"}},
	{[]string{"marry", "married", "wedding", "love", "family", "children"},
		Path{"Relationships", "Romance", "Marriage"}},
	{[]string{"fit", "gym", "weight", "muscle"},
		Path{"Health", "Fitness", "Physical"}},
}

// defaultPath is the terminal bucket that makes classification total.
var defaultPath = Path{"Personal", "Goals", "General"}

// Classifier classifies representative phrases through the oracle with a
// deterministic keyword fallback.
type Classifier struct {
	oracle *oracle.Client
}

// New creates a Classifier on top of the shared oracle client.
func New(client *oracle.Client) *Classifier {
	return &Classifier{oracle: client}
}

// Classify returns a complete 3-level path for phrase. The returned error
// is advisory: it reports why the oracle path was abandoned while the
// path itself is already valid. Results are cached per phrase.
func (c *Classifier) Classify(ctx context.Context, phrase string) (Path, error) {
	key := oracle.Key(oracle.OpClassify, phrase)
	if cached, ok := c.oracle.Cache().Get(key); ok {
		if p, ok := decodePath(cached); ok {
			return p, nil
		}
	}

	answer, err := c.oracle.Complete(ctx, fmt.Sprintf(classifyPromptFormat, phrase), llm.CompletionOpts{
		Temperature: classifyTemperature,
		MaxTokens:   classifyMaxTokens,
	})
	if err != nil {
		p := FallbackPath(phrase)
		c.oracle.Cache().Put(key, encodePath(p))
		return p, fmt.Errorf("classifying %q: %w", phrase, err)
	}

	if p, ok := ParsePipePath(answer); ok {
		c.oracle.Cache().Put(key, encodePath(p))
		return p, nil
	}

	p := FallbackPath(phrase)
	c.oracle.Cache().Put(key, encodePath(p))
	return p, fmt.Errorf("classifying %q: malformed oracle answer %q", phrase, answer)
}

// ParsePipePath extracts a 3-level path from a pipe-delimited oracle
// answer. It accepts only three letter/space segments; everything else
// reports ok=false.
func ParsePipePath(answer string) (Path, bool) {
	m := pipePathRe.FindStringSubmatch(answer)
	if m == nil {
		return Path{}, false
	}
	p := Path{
		Level1: strings.TrimSpace(m[1]),
		Level2: strings.TrimSpace(m[2]),
		Level3: strings.TrimSpace(m[3]),
	}
	if p.Level1 == "" || p.Level2 == "" || p.Level3 == "" {
		return Path{}, false
	}
	return p, true
}

// FallbackPath classifies by keyword rules alone. The first matching rule
// wins; the default bucket guarantees totality.
func FallbackPath(phrase string) Path {
	lower := strings.ToLower(phrase)
	for _, rule := range fallbackRules {
		for _, kw := range rule.keywords {
			if strings.Contains(lower, kw) {
				return rule.path
			}
		}
	}
	return defaultPath
}

func encodePath(p Path) string {
	return p.Level1 + "|" + p.Level2 + "|" + p.Level3
}

func decodePath(s string) (Path, bool) {
	parts := strings.Split(s, "|")
	if len(parts) != 3 {
		return Path{}, false
	}
	p := Path{Level1: parts[0], Level2: parts[1], Level3: parts[2]}
	return p, p.Level1 != "" && p.Level2 != "" && p.Level3 != ""
}
