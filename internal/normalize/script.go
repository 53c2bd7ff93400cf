package normalize

// Script identifies the writing system of a raw dream title.
type Script string

const (
	ScriptHebrew  Script = "hebrew"
	ScriptEnglish Script = "english"
)

// Hebrew letter block (alef..tav). Points and cantillation marks are
// irrelevant here: a single letter is enough to flag the script.
const (
	hebrewLo = 0x05D0
	hebrewHi = 0x05EA
)

// DetectScript classifies text as Hebrew if it contains any Hebrew letter,
// English otherwise. The corpus is almost entirely Hebrew or English; other
// scripts fall through to the English path and rely on the fallback rules.
func DetectScript(text string) Script {
	if containsHebrew(text) {
		return ScriptHebrew
	}
	return ScriptEnglish
}

func containsHebrew(text string) bool {
	for _, r := range text {
		if r >= hebrewLo && r <= hebrewHi {
			return true
		}
	}
	return false
}
