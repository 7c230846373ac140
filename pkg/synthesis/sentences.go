package synthesis

import "strings"

// splitSentences cuts text at terminal punctuation followed by whitespace.
// Text without terminal punctuation is a single sentence.
func splitSentences(text string) []string {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}
	var out []string
	start := 0
	runes := []rune(text)
	for i := 0; i < len(runes); i++ {
		if !isTerminal(runes[i]) {
			continue
		}
		// swallow runs like "?!" or "..."
		j := i
		for j+1 < len(runes) && isTerminal(runes[j+1]) {
			j++
		}
		if j+1 < len(runes) && !isSpace(runes[j+1]) {
			i = j
			continue
		}
		sentence := strings.TrimSpace(string(runes[start : j+1]))
		if sentence != "" {
			out = append(out, sentence)
		}
		i = j
		start = j + 1
	}
	if start < len(runes) {
		rest := strings.TrimSpace(string(runes[start:]))
		if rest != "" {
			out = append(out, rest)
		}
	}
	return out
}

func isTerminal(r rune) bool {
	return r == '.' || r == '!' || r == '?'
}

func isSpace(r rune) bool {
	return r == ' ' || r == '\t' || r == '\n' || r == '\r'
}
