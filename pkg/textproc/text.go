// Package textproc extracts speech patterns from collected text and provides
// rune-aware helpers for cleaning and truncating it.
package textproc

import (
	"strings"
	"unicode/utf8"
)

// RuneLen returns the number of characters in s
func RuneLen(s string) int {
	return utf8.RuneCountInString(s)
}

// Truncate returns at most n runes of s. A non-positive n leaves s unchanged.
func Truncate(s string, n int) string {
	if n <= 0 || utf8.RuneCountInString(s) <= n {
		return s
	}
	runes := []rune(s)
	return string(runes[:n])
}

// TruncateWithEllipsis truncates s to n runes and appends "..." when anything was cut
func TruncateWithEllipsis(s string, n int) string {
	t := Truncate(s, n)
	if t != s {
		return t + "..."
	}
	return t
}

// CleanText trims every line, splits on runs of double spaces and joins the
// non-empty chunks with a single space. maxLen caps the result in runes when positive.
func CleanText(text string, maxLen int) string {
	if text == "" {
		return ""
	}

	var chunks []string
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		for _, phrase := range strings.Split(line, "  ") {
			if phrase = strings.TrimSpace(phrase); phrase != "" {
				chunks = append(chunks, phrase)
			}
		}
	}

	return Truncate(strings.Join(chunks, " "), maxLen)
}
