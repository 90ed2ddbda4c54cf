// Package textnorm strips presentation markup from model output and turns
// retrieved reference chunks into plain text for grounding checks.
package textnorm

import (
	"html"
	"regexp"
	"strings"

	"github.com/microcosm-cc/bluemonday"
)

// maxPasses caps the removal loop so pathological or malformed input cannot
// make stripping unbounded. Nested constructs (bold containing italic)
// resolve in well under this many passes.
const maxPasses = 10

var (
	escapedPunct = regexp.MustCompile("\\\\([\\\\`*_{}\\[\\]()#+\\-.!>~|])")

	reImage     = regexp.MustCompile(`!\[([^\]]*)\]\([^)]*\)`)
	reLink      = regexp.MustCompile(`\[([^\]]*)\]\([^)]*\)`)
	reBoldStar  = regexp.MustCompile(`\*\*([^*]+)\*\*`)
	reBoldUnder = regexp.MustCompile(`__([^_]+)__`)
	reItalStar  = regexp.MustCompile(`\*([^*\n]+)\*`)
	reItalUnder = regexp.MustCompile(`_([^_\n]+)_`)
	reStrike    = regexp.MustCompile(`~~([^~]+)~~`)
	reFence     = regexp.MustCompile("(?m)^```[a-zA-Z0-9]*[ \t]*$\n?")
	reInline    = regexp.MustCompile("`([^`]*)`")
	reHeading   = regexp.MustCompile(`(?m)^#{1,6}[ \t]+`)
	reQuote     = regexp.MustCompile(`(?m)^>[ \t]?`)
	reHRule     = regexp.MustCompile(`(?m)^[ \t]*(-{3,}|\*{3,}|_{3,})[ \t]*$`)
	reBullet    = regexp.MustCompile(`(?m)^[ \t]*[-*+][ \t]+`)
	reOrdered   = regexp.MustCompile(`(?m)^[ \t]*\d+\.[ \t]+`)
	reSpaces    = regexp.MustCompile(`[ \t]+`)
	reBlank     = regexp.MustCompile(`\n{3,}`)

	tagStripper = bluemonday.StrictPolicy()
)

// StripMarkdown removes formatting markup from free text. It is idempotent:
// stripping already-stripped text returns it unchanged. The removal battery
// is applied repeatedly until a pass produces no change or maxPasses is hit.
func StripMarkdown(s string) string {
	s = escapedPunct.ReplaceAllString(s, "$1")

	for range maxPasses {
		next := stripPass(s)
		if next == s {
			break
		}
		s = next
	}

	s = strings.Trim(s, "*_~`#>| \t\n")
	return s
}

// stripPass applies the fixed removal battery once.
func stripPass(s string) string {
	s = reImage.ReplaceAllString(s, "$1")
	s = reLink.ReplaceAllString(s, "$1")
	s = reBoldStar.ReplaceAllString(s, "$1")
	s = reBoldUnder.ReplaceAllString(s, "$1")
	s = reItalStar.ReplaceAllString(s, "$1")
	s = reItalUnder.ReplaceAllString(s, "$1")
	s = reStrike.ReplaceAllString(s, "$1")
	s = reFence.ReplaceAllString(s, "")
	s = reInline.ReplaceAllString(s, "$1")
	s = reHeading.ReplaceAllString(s, "")
	s = reQuote.ReplaceAllString(s, "")
	s = reHRule.ReplaceAllString(s, "")
	s = reBullet.ReplaceAllString(s, "")
	s = reOrdered.ReplaceAllString(s, "")

	// Embedded HTML tags. StrictPolicy drops every tag; its entity escaping
	// is reversed so plain text survives the pass untouched.
	if strings.ContainsRune(s, '<') {
		s = html.UnescapeString(tagStripper.Sanitize(s))
	}

	s = reSpaces.ReplaceAllString(s, " ")
	s = reBlank.ReplaceAllString(s, "\n\n")
	return s
}
