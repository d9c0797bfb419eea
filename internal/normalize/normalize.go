// Package normalize turns raw post content into a title/description pair.
package normalize

import (
	"html"
	"regexp"
	"strings"
	"unicode"

	"svoi_ingest/internal/model"
)

// TitleMaxLen is the title length limit in runes.
const TitleMaxLen = 120

var (
	reLineBreak = regexp.MustCompile(`(?i)<br\s*/?>|</p>`)
	reTag       = regexp.MustCompile(`<[^>]+>`)
	reBlank     = regexp.MustCompile(`\n{3,}`)
)

// StripHTML converts an HTML fragment to plain text: line breaks and
// paragraph closes become newlines, all other tags are removed, entities
// are decoded, and runs of three or more newlines collapse to two.
func StripHTML(s string) string {
	s = reLineBreak.ReplaceAllString(s, "\n")
	s = reTag.ReplaceAllString(s, "")
	s = html.UnescapeString(s)
	s = reBlank.ReplaceAllString(s, "\n\n")
	return strings.TrimSpace(s)
}

// Split derives a title and description from plain post text.
// The title is the first non-empty line with its leading punctuation and
// emoji run stripped, truncated to TitleMaxLen runes; the description is
// the remaining lines rejoined. Empty input yields the default placeholder
// title and an empty description.
func Split(text string) (title, description string) {
	var lines []string
	for _, l := range strings.Split(text, "\n") {
		if l = strings.TrimSpace(l); l != "" {
			lines = append(lines, l)
		}
	}
	if len(lines) == 0 {
		return model.DefaultTitle, ""
	}

	title = strings.TrimLeftFunc(lines[0], isTitleNoise)
	if title == "" {
		// The whole line was punctuation/emoji; keep it rather than lose it.
		title = lines[0]
	}
	title = truncateRunes(strings.TrimSpace(title), TitleMaxLen)
	if title == "" {
		title = model.DefaultTitle
	}

	return title, strings.Join(lines[1:], "\n")
}

// isTitleNoise matches the leading characters stripped from titles:
// whitespace, punctuation, and symbol classes (emoji live in So/Sk).
func isTitleNoise(r rune) bool {
	return unicode.IsSpace(r) || unicode.IsPunct(r) || unicode.IsSymbol(r) ||
		r == 0xFE0F || (r >= 0x1F3FB && r <= 0x1F3FF) // variation selector, skin tones
}

func truncateRunes(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return strings.TrimSpace(string(r[:n]))
}
