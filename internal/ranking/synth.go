package ranking

import (
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/xkilldash9x/surveyfill/internal/browser/dom"
)

const (
	surroundingDepth   = 3
	surroundingMaxText = 100
)

var (
	genericPlaceholderWords = []string{"enter", "type", "input", "value", "text", "click", "select"}

	wordThenAlnum   = regexp.MustCompile(`^[a-zA-Z]+[_-]?[a-zA-Z0-9]+`)
	wordThenDigits  = regexp.MustCompile(`^[a-zA-Z]{2,}[0-9]+`)
	lettersDigits   = regexp.MustCompile(`^[a-zA-Z]+\d+$`)
	digitRun        = regexp.MustCompile(`[0-9]+`)
	questionKeyword = regexp.MustCompile(`(?i)\b(how|what|when|where|why|which|rate|select|choose)\b`)
)

// escapeRegex backslash-escapes the characters that are special in an ECMAScript pattern.
func escapeRegex(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		if strings.ContainsRune(`.*+?^${}()|[]\`, r) {
			b.WriteByte('\\')
		}
		b.WriteRune(r)
	}
	return b.String()
}

// CreateRegexPattern turns visible text into a tolerant pattern: punctuation escaped, whitespace
// runs loosened to \s*, digit runs generalized to \d+, wrapped in word boundaries. Text shorter
// than 3 characters yields "".
func CreateRegexPattern(text string) string {
	if utf8.RuneCountInString(text) < 3 {
		return ""
	}
	words := strings.Fields(text)
	for i, w := range words {
		words[i] = digitRun.ReplaceAllLiteralString(escapeRegex(w), `\d+`)
	}
	if len(words) == 0 {
		return ""
	}
	return `\b` + strings.Join(words, `\s*`) + `\b`
}

func isGenericPlaceholder(placeholder string) bool {
	lower := strings.ToLower(placeholder)
	for _, w := range genericPlaceholderWords {
		if strings.Contains(lower, w) {
			return true
		}
	}
	return false
}

// hasPattern reports whether an id or name looks structured rather than random.
func hasPattern(s string) bool {
	return wordThenAlnum.MatchString(s) || wordThenDigits.MatchString(s) ||
		strings.ContainsAny(s, "_-")
}

// ExtractIDPattern generalizes the digit runs of a structured id or name. Only ids mentioning
// "question" or "field", or made of letters followed by digits, qualify; others yield "".
func ExtractIDPattern(id string) string {
	if !strings.Contains(id, "question") && !strings.Contains(id, "field") && !lettersDigits.MatchString(id) {
		return ""
	}
	return digitRun.ReplaceAllLiteralString(escapeRegex(id), `\d+`)
}

// SurroundingText looks up to three ancestors above el for question-like text: between 10 and
// 200 characters, containing "?" or a question keyword. The element's own value is removed and the
// result is cut to 100 characters.
func SurroundingText(el *dom.Element) string {
	value := el.Value()
	current := el.Parent()
	for depth := 0; current != nil && depth < surroundingDepth; depth++ {
		text := current.Text()
		n := utf8.RuneCountInString(text)
		if n > 10 && n < 200 {
			clean := strings.TrimSpace(strings.Replace(text, value, "", 1))
			if utf8.RuneCountInString(clean) > 10 &&
				(strings.Contains(clean, "?") || questionKeyword.MatchString(clean)) {
				return truncateRunes(clean, surroundingMaxText)
			}
		}
		current = current.Parent()
	}
	return ""
}

func truncateRunes(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	return string([]rune(s)[:n])
}
