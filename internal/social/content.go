package social

import (
	"regexp"
	"strings"

	htmltomarkdown "github.com/JohannesKaufmann/html-to-markdown/v2"
)

var (
	markdownLinkRe   = regexp.MustCompile(`\[([^\]]*)\]\([^)]*\)`)
	markdownEscapeRe = regexp.MustCompile("\\\\([\\\\`*_{}\\[\\]()#+\\-.!|~<>])")
	whitespaceRe     = regexp.MustCompile(`\s+`)
)

// NormalizeContent turns a status' HTML into plain prompt text. Links are
// reduced to their visible text and every mention of self (with or without
// an instance suffix) is dropped. An empty self keeps all mentions.
func NormalizeContent(html, self string) string {
	text, err := htmltomarkdown.ConvertString(html)
	if err != nil {
		// Fall back to the raw markup with paragraph tags stripped.
		text = strings.NewReplacer("<p>", " ", "</p>", " ", "<br>", " ", "<br />", " ").Replace(html)
	}

	text = markdownLinkRe.ReplaceAllString(text, "$1")
	text = markdownEscapeRe.ReplaceAllString(text, "$1")

	if self = strings.TrimPrefix(strings.TrimSpace(self), "@"); self != "" {
		mentionRe := regexp.MustCompile(`(?i)@` + regexp.QuoteMeta(self) + `(@[\w.\-]+)?\b`)
		text = mentionRe.ReplaceAllString(text, "")
	}

	return strings.TrimSpace(whitespaceRe.ReplaceAllString(text, " "))
}
