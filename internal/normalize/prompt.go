package normalize

import "fmt"

// Prompts instruct the oracle to strip identifying detail (names, places,
// numbers, brands, years) and keep only the core intent in "to <verb>
// <object>" form. Few-shot examples anchor the output shape; the parser
// still assumes the model will decorate its answer anyway.

const hebrewPromptFormat = `Translate this Hebrew dream to a simple, generic English phrase.
Remove specific details like: locations, numbers, names, years, specific brands.
Keep only the core dream concept.
Format: "to [verb] [object]"

Examples:
"להתחתן ושיהיו לי ילדים השנה" → "to get married"
"לקנות 3 נכסי נדלן" → "to buy property"
"לפתוח עסק מצליח כמו שיין" → "to open a business"

Hebrew: %s
Reply with ONLY the simplified English phrase:`

const englishPromptFormat = `Simplify this dream to its core concept.
Remove: locations, numbers, names, specific details, brands.
Format: "to [verb] [object]"

Examples:
"build an animal rescue farm in Belgium" → "to build an animal rescue farm"
"buy 3 houses in Tel Aviv" → "to buy property"
"become a YouTube star with 1M subscribers" → "to become a content creator"

Input: %s
Reply with ONLY the simplified phrase:`

// BuildPrompt returns the script-appropriate normalization prompt.
func BuildPrompt(raw string, script Script) string {
	if script == ScriptHebrew {
		return fmt.Sprintf(hebrewPromptFormat, raw)
	}
	return fmt.Sprintf(englishPromptFormat, raw)
}
