package textproc

import (
	"fmt"
	"regexp"
	"strings"
)

// DefaultMaxPatterns caps every extraction result
const DefaultMaxPatterns = 10

const maxQuoteExamples = 5

var (
	labeledPatterns = []struct {
		label string
		re    *regexp.Regexp
	}{
		{"一人称", regexp.MustCompile(`一人称[：:]\s*[「『"]?([^」』"\n。、]+)[」』"]?`)},
		{"語尾", regexp.MustCompile(`語尾[：:]\s*[「『"]?([^」』"\n。、]+)[」』"]?`)},
		{"口癖", regexp.MustCompile(`口癖[：:]\s*[「『"]?([^」』"\n。、]+)[」』"]?`)},
	}
	quotePattern = regexp.MustCompile(`[「『"]([^」』"]+)[」』"]`)
)

// ExtractLabeledPatterns pulls labelled fields (一人称, 語尾, 口癖) and quoted
// lines out of free text such as an LLM answer. At most max entries are returned.
func ExtractLabeledPatterns(text, name string, max int) []string {
	patterns := []string{}
	if text == "" {
		return patterns
	}
	if max <= 0 {
		max = DefaultMaxPatterns
	}

	for _, lp := range labeledPatterns {
		for _, m := range lp.re.FindAllStringSubmatch(text, -1) {
			patterns = append(patterns, fmt.Sprintf("%s: %s", lp.label, strings.TrimSpace(m[1])))
		}
	}

	lowerName := strings.ToLower(name)
	quotes := quotePattern.FindAllStringSubmatch(text, -1)
	if len(quotes) > maxQuoteExamples {
		quotes = quotes[:maxQuoteExamples]
	}
	for _, m := range quotes {
		quote := m[1]
		if RuneLen(quote) > 3 && (lowerName == "" || !strings.Contains(strings.ToLower(quote), lowerName)) {
			patterns = append(patterns, fmt.Sprintf("セリフ例: %s", quote))
		}
	}

	if strings.Contains(text, "特徴") || strings.Contains(text, "表現") {
		patterns = append(patterns, "表現: 特徴的な話し方に関する情報")
	}

	if len(patterns) > max {
		patterns = patterns[:max]
	}
	return patterns
}

// ExtractBasicPatterns produces coarse hints for snippet-only search results
func ExtractBasicPatterns(text, name string) []string {
	patterns := []string{}
	if text == "" {
		return patterns
	}

	if name != "" && strings.Contains(strings.ToLower(text), strings.ToLower(name)) {
		patterns = append(patterns, fmt.Sprintf("呼び方: %s", name))
	}
	if strings.Contains(text, "口調") || strings.Contains(text, "語尾") {
		patterns = append(patterns, "表現: 口調・語尾に関する情報")
	}
	if strings.Contains(text, "一人称") || strings.Contains(text, "話し方") {
		patterns = append(patterns, "表現: 話し方に関する情報")
	}
	return patterns
}

// ParseColonLines keeps the trimmed lines that contain ":" up to max entries
func ParseColonLines(text string, max int) []string {
	lines := []string{}
	if max <= 0 {
		max = DefaultMaxPatterns
	}
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || !strings.Contains(line, ":") {
			continue
		}
		lines = append(lines, line)
		if len(lines) == max {
			break
		}
	}
	return lines
}
