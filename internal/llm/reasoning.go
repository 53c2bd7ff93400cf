package llm

import (
	"regexp"
	"strings"
)

// Answer patterns seen in reasoning traces, tried in order. The last one
// grabs a trailing quoted span as a final resort.
var reasoningPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)answer:\s*"([^"]+)"`),
	regexp.MustCompile(`(?i)means\s+"([^"]+)"`),
	regexp.MustCompile(`(?i)translation:\s*"([^"]+)"`),
	regexp.MustCompile(`"([^"]+)"\s*$`),
}

// extractFromReasoning pulls an explicit answer out of a model reasoning
// trace when the content field came back empty.
func extractFromReasoning(reasoning string) string {
	reasoning = strings.TrimSpace(reasoning)
	if reasoning == "" {
		return ""
	}
	for _, pattern := range reasoningPatterns {
		if m := pattern.FindStringSubmatch(reasoning); m != nil {
			return strings.TrimSpace(m[1])
		}
	}
	return ""
}
