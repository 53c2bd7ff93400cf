package taxonomy

import (
	"context"
	"errors"
	"testing"

	"github.com/hurttlocker/reverie/internal/llm"
	"github.com/hurttlocker/reverie/internal/oracle"
)

type cannedProvider struct {
	answer string
	err    error
	calls  int
}

func (c *cannedProvider) Complete(ctx context.Context, prompt string, opts llm.CompletionOpts) (string, error) {
	c.calls++
	return c.answer, c.err
}

func (c *cannedProvider) Name() string { return "canned/test" }

func newClassifier(p llm.Provider) *Classifier {
	return New(oracle.NewClient(p, oracle.NewCache(), 1))
}

func TestClassifyParsesPipeAnswer(t *testing.T) {
	p := &cannedProvider{answer: "Career|Professional|Traditional"}
	c := newClassifier(p)

	path, err := c.Classify(context.Background(), "to become a doctor")
	if err != nil {
		t.Fatalf("Classify failed: %v", err)
	}
	want := Path{"Career", "Professional", "Traditional"}
	if path != want {
		t.Errorf("Classify = %+v, want %+v", path, want)
	}
}

func TestClassifyAcceptsDecoratedAnswer(t *testing.T) {
	p := &cannedProvider{answer: "Sure! The categories are: Travel|Adventure|Exploration."}
	c := newClassifier(p)

	path, err := c.Classify(context.Background(), "to travel the world")
	if err != nil {
		t.Fatalf("Classify failed: %v", err)
	}
	if path.Level1 != "Travel" || path.Level2 != "Adventure" || path.Level3 != "Exploration" {
		t.Errorf("Classify = %+v", path)
	}
}

func TestClassifyFallbackOnMalformedAnswer(t *testing.T) {
	tests := []string{
		"Career, Professional, Traditional", // wrong delimiter
		"Career|Professional",               // two segments
		"",                                  // empty
		"I cannot categorize this.",         // refusal
	}
	for _, answer := range tests {
		p := &cannedProvider{answer: answer}
		c := newClassifier(p)
		path, err := c.Classify(context.Background(), "to become a youtuber")
		if err == nil {
			t.Errorf("answer %q: expected advisory error", answer)
		}
		want := Path{"Career", "Digital Creator", "Social Media"}
		if path != want {
			t.Errorf("answer %q: fallback = %+v, want %+v", answer, path, want)
		}
	}
}

func TestClassifyFallbackDeterminism(t *testing.T) {
	p := &cannedProvider{err: errors.New("oracle down")}
	c := newClassifier(p)

	path, _ := c.Classify(context.Background(), "become a youtuber")
	want := Path{"Career", "Digital Creator", "Social Media"}
	if path != want {
		t.Errorf("Classify with raising oracle = %+v, want %+v", path, want)
	}
}

func TestClassifyTotality(t *testing.T) {
	inputs := []string{
		"",
		"   ",
		"to become a doctor",
		"קשה לסווג",
		"||||",
		"a|b|c|d|e",
		"\x00\x01garbage",
	}
	p := &cannedProvider{err: errors.New("always down")}
	c := newClassifier(p)

	for _, in := range inputs {
		path, _ := c.Classify(context.Background(), in)
		if path.Level1 == "" || path.Level2 == "" || path.Level3 == "" {
			t.Errorf("Classify(%q) returned incomplete path %+v", in, path)
		}
	}
}

func TestFallbackPathOrderedRules(t *testing.T) {
	tests := []struct {
		phrase string
		want   Path
	}{
		{"to become a youtube star", Path{"Career", "Digital Creator", "Social Media"}},
		{"to become a doctor", Path{"Career", "Professional", "Traditional"}},
		{"to be a millionaire", Path{"Financial", "Wealth", "Personal"}},
		{"to travel the world", Path{"Travel", "Adventure", "Exploration"}},
		{"to get married", Path{"Relationships", "Romance", "Marriage"}},
		{"to get fit", Path{"Health", "Fitness", "Physical"}},
		{"to learn piano", Path{"Personal", "Goals", "General"}},
		// Earlier rule wins when several match: a rich doctor is a career dream.
		{"to be a rich doctor", Path{"Career", "Professional", "Traditional"}},
	}
	for _, tt := range tests {
		if got := FallbackPath(tt.phrase); got != tt.want {
			t.Errorf("FallbackPath(%q) = %+v, want %+v", tt.phrase, got, tt.want)
		}
	}
}

func TestClassifyCachesPerPhrase(t *testing.T) {
	p := &cannedProvider{answer: "Financial|Wealth|Personal"}
	c := newClassifier(p)
	ctx := context.Background()

	if _, err := c.Classify(ctx, "to be rich"); err != nil {
		t.Fatalf("Classify failed: %v", err)
	}
	if _, err := c.Classify(ctx, "to be rich"); err != nil {
		t.Fatalf("Classify (cached) failed: %v", err)
	}
	if p.calls != 1 {
		t.Errorf("oracle called %d times for identical phrase, want 1", p.calls)
	}
}
