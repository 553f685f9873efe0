package simplify

import "strings"

// DefaultMaxWords is the longest caption line shown to the viewer.
const DefaultMaxWords = 15

// sentence terminators, including the Devanagari danda used by several of the
// supported languages.
var terminators = map[rune]bool{
	'.': true,
	'!': true,
	'?': true,
	'।': true,
}

// Lines rewrites raw transcript text into short caption lines of at most
// maxWords words each, breaking on sentence boundaries first. The result
// joins lines with newlines so the display layer can render them directly.
func Lines(text string, maxWords int) string {
	if maxWords <= 0 {
		maxWords = DefaultMaxWords
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return ""
	}

	var lines []string
	for _, sentence := range splitSentences(text) {
		words := strings.Fields(sentence)
		for i := 0; i < len(words); i += maxWords {
			end := i + maxWords
			if end > len(words) {
				end = len(words)
			}
			lines = append(lines, strings.Join(words[i:end], " "))
		}
	}
	return strings.Join(lines, "\n")
}

func splitSentences(text string) []string {
	var sentences []string
	var current strings.Builder

	for _, r := range text {
		current.WriteRune(r)
		if terminators[r] {
			if s := strings.TrimSpace(current.String()); s != "" {
				sentences = append(sentences, s)
			}
			current.Reset()
		}
	}
	if s := strings.TrimSpace(current.String()); s != "" {
		sentences = append(sentences, s)
	}
	return sentences
}
