package segment

import (
	"regexp"
	"strings"
)

var (
	fencedCodeRe  = regexp.MustCompile("(?s)(```|~~~).*?(```|~~~)")
	imageRe       = regexp.MustCompile(`!\[([^\]]*)\]\([^)]*\)`)
	linkRe        = regexp.MustCompile(`\[([^\]]+)\]\([^)]*\)`)
	refLinkRe     = regexp.MustCompile(`\[([^\]]+)\]\[[^\]]*\]`)
	inlineCodeRe  = regexp.MustCompile("`[^`\n]*`")
	headingRe     = regexp.MustCompile(`(?m)^[ \t]*#{1,6}[ \t]*`)
	ruleRe        = regexp.MustCompile(`(?m)^[ \t]*([-*_][ \t]*){3,}$`)
	blockquoteRe  = regexp.MustCompile(`(?m)^[ \t]*(>[ \t]?)+`)
	boldStarRe    = regexp.MustCompile(`\*\*([^*\n]+?)\*\*`)
	boldUnderRe   = regexp.MustCompile(`__([^_\n]+?)__`)
	italicStarRe  = regexp.MustCompile(`\*([^*\n]+?)\*`)
	italicUnderRe = regexp.MustCompile(`\b_([^_\n]+?)_\b`)
	strikeRe      = regexp.MustCompile(`~~([^~\n]+?)~~`)
	trailingWSRe  = regexp.MustCompile(`(?m)[ \t]+$`)
	blankLinesRe  = regexp.MustCompile(`\n{3,}`)
)

// Normalize strips markdown structure from raw and returns the visible text.
//
// Headings, emphasis and links are replaced by their text and images by their
// alt text. Fenced and inline code, horizontal rules and blockquote markers
// are removed. Paragraph boundaries survive as a single blank line and the
// result is trimmed.
func Normalize(raw string) string {
	text := strings.ReplaceAll(raw, "\r\n", "\n")

	text = fencedCodeRe.ReplaceAllString(text, "")
	text = imageRe.ReplaceAllString(text, "$1")
	text = linkRe.ReplaceAllString(text, "$1")
	text = refLinkRe.ReplaceAllString(text, "$1")
	text = inlineCodeRe.ReplaceAllString(text, "")

	// Rules go before emphasis so "***" is not read as bold markers.
	text = ruleRe.ReplaceAllString(text, "")
	text = headingRe.ReplaceAllString(text, "")
	text = blockquoteRe.ReplaceAllString(text, "")

	text = boldStarRe.ReplaceAllString(text, "$1")
	text = boldUnderRe.ReplaceAllString(text, "$1")
	text = italicStarRe.ReplaceAllString(text, "$1")
	text = italicUnderRe.ReplaceAllString(text, "$1")
	text = strikeRe.ReplaceAllString(text, "$1")

	return collapseBlankLines(text)
}

func collapseBlankLines(text string) string {
	text = trailingWSRe.ReplaceAllString(text, "")
	text = blankLinesRe.ReplaceAllString(text, "\n\n")
	return strings.TrimSpace(text)
}
