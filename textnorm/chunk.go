package textnorm

import (
	"strings"

	htmltomarkdown "github.com/JohannesKaufmann/html-to-markdown/v2"
	"golang.org/x/net/html"
)

// PlainChunk turns a retrieved reference chunk into plain text suitable for
// grounding comparisons. HTML chunks are converted to markdown first, then
// everything goes through StripMarkdown.
func PlainChunk(raw string) string {
	if looksLikeHTML(raw) {
		if md, err := htmltomarkdown.ConvertString(raw); err == nil {
			raw = md
		}
		// Conversion failure falls through to stripping the raw chunk.
	}
	return StripMarkdown(raw)
}

// looksLikeHTML reports whether raw contains at least one real element tag.
// Stray angle brackets in prose do not count.
func looksLikeHTML(raw string) bool {
	if !strings.ContainsRune(raw, '<') {
		return false
	}
	z := html.NewTokenizer(strings.NewReader(raw))
	for {
		switch z.Next() {
		case html.ErrorToken:
			return false
		case html.StartTagToken, html.SelfClosingTagToken, html.EndTagToken:
			return true
		}
	}
}
