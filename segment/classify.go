package segment

import (
	"regexp"
	"strings"

	"github.com/poiesic/folio/core"
)

var (
	mathRe  = regexp.MustCompile(`\$\$[^$]+\$\$|\$[^$\n]+\$`)
	tableRe = regexp.MustCompile(`\|[^|\n]*\|`)
)

// DetectContentType classifies raw markup as code, math, table or paragraph.
// Checks run in that order and the first match wins.
func DetectContentType(text string) core.ContentType {
	if strings.Contains(text, "```") {
		return core.ContentTypeCode
	}
	return classifyNormalized(text)
}

// classifyNormalized classifies chunk text after Normalize, which has already
// removed fenced code. Indented blocks survive normalization and still mark code.
func classifyNormalized(text string) core.ContentType {
	if strings.Contains(text, "\n    ") || strings.Contains(text, "\n\t") {
		return core.ContentTypeCode
	}
	if mathRe.MatchString(text) {
		return core.ContentTypeMath
	}
	if tableRe.MatchString(text) {
		return core.ContentTypeTable
	}
	return core.ContentTypeParagraph
}
