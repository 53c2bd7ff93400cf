package normalize

import (
	"regexp"
	"strings"
)

// The oracle rarely returns a bare phrase. It labels ("translation: ..."),
// quotes, emphasizes, restates the input with an arrow, or appends
// alternatives in parentheses. Rather than one tangle of chained string
// surgery, parsing is an ordered list of named repair rules, each a pure
// string → string step that can be tested on its own. Rules run in order;
// later rules see the output of earlier ones.

type repairRule struct {
	name  string
	apply func(string) string
}

var (
	emphasisRe      = regexp.MustCompile(`\*([^*]+)\*`)
	quotedRe        = regexp.MustCompile(`"([^"]+)"`)
	parentheticalRe = regexp.MustCompile(`\([^)]*\)`)
)

var labelPrefixes = []string{
	"to normalized:", "normalized:", "english:", "translation:", "simplified:",
}

var repairRules = []repairRule{
	{"lowercase", strings.ToLower},
	{"strip-label-prefix", stripLabelPrefix},
	{"after-arrow", afterArrow},
	{"prefer-emphasized-span", preferEmphasizedSpan},
	{"prefer-quoted-span", preferQuotedSpan},
	{"after-equals", afterEquals},
	{"strip-parenthetical", stripParenthetical},
	{"strip-markers", stripMarkers},
	{"collapse-double-to", collapseDoubleTo},
	{"ensure-to-prefix", ensureToPrefix},
	{"strip-trailing-period", stripTrailingPeriod},
}

// ParseResponse repairs a raw oracle answer into a canonical phrase.
// An empty result or one still carrying source-script characters means
// the repair failed; the caller falls back to the deterministic rule.
func ParseResponse(answer string) string {
	phrase := strings.TrimSpace(answer)
	for _, rule := range repairRules {
		phrase = strings.TrimSpace(rule.apply(phrase))
	}
	return phrase
}

// stripLabelPrefix drops leading model labels, keeping whatever follows
// the last occurrence (models sometimes stack them).
func stripLabelPrefix(s string) string {
	for _, prefix := range labelPrefixes {
		if idx := strings.LastIndex(s, prefix); idx >= 0 {
			s = s[idx+len(prefix):]
		}
	}
	return s
}

// afterArrow keeps the right-hand side of "input → output" restatements.
func afterArrow(s string) string {
	for _, sep := range []string{"→", "–"} {
		if idx := strings.LastIndex(s, sep); idx >= 0 {
			s = s[idx+len(sep):]
		}
	}
	return s
}

// preferEmphasizedSpan picks the first *emphasized* span that is free of
// source-script characters; translations often arrive italicized.
func preferEmphasizedSpan(s string) string {
	return preferSpan(s, emphasisRe)
}

// preferQuotedSpan picks the first "quoted" span free of source-script
// characters.
func preferQuotedSpan(s string) string {
	return preferSpan(s, quotedRe)
}

func preferSpan(s string, re *regexp.Regexp) string {
	for _, m := range re.FindAllStringSubmatch(s, -1) {
		span := strings.TrimSpace(m[1])
		if span != "" && !containsHebrew(span) {
			return span
		}
	}
	return s
}

// afterEquals keeps the right-hand side of "hebrew = english" glosses.
func afterEquals(s string) string {
	if idx := strings.LastIndex(s, "="); idx >= 0 {
		return s[idx+1:]
	}
	return s
}

// stripParenthetical removes "(or: alternative phrasings)".
func stripParenthetical(s string) string {
	return parentheticalRe.ReplaceAllString(s, "")
}

// stripMarkers trims residual quote and emphasis decoration.
func stripMarkers(s string) string {
	return strings.Trim(s, `"'*`)
}

// collapseDoubleTo fixes "to to <verb>" produced when the model echoes the
// requested format on a phrase that already had the prefix.
func collapseDoubleTo(s string) string {
	for strings.HasPrefix(s, "to to ") {
		s = s[3:]
	}
	return strings.ReplaceAll(s, " to to ", " to ")
}

// ensureToPrefix inserts "to " when the phrase starts with a bare verb.
// Noun phrases ("a house of my own") are left alone.
func ensureToPrefix(s string) string {
	if s == "" || strings.HasPrefix(s, "to ") || s == "to" {
		return s
	}
	if strings.HasPrefix(s, "a ") || strings.HasPrefix(s, "the ") {
		return s
	}
	return "to " + s
}

func stripTrailingPeriod(s string) string {
	return strings.TrimRight(s, ".")
}
