package segment

import (
	"errors"
	"io"
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// elements whose text is never visible content
var skippedElements = map[atom.Atom]bool{
	atom.Script:   true,
	atom.Style:    true,
	atom.Noscript: true,
	atom.Nav:      true,
	atom.Header:   true,
	atom.Footer:   true,
	atom.Template: true,
	atom.Svg:      true,
}

// elements that start or end a paragraph
var blockElements = map[atom.Atom]bool{
	atom.P: true, atom.Div: true, atom.Section: true, atom.Article: true, atom.Main: true,
	atom.H1: true, atom.H2: true, atom.H3: true, atom.H4: true, atom.H5: true, atom.H6: true,
	atom.Li: true, atom.Ul: true, atom.Ol: true, atom.Table: true, atom.Tr: true,
	atom.Blockquote: true, atom.Pre: true, atom.Br: true, atom.Hr: true,
	atom.Dd: true, atom.Dt: true, atom.Figcaption: true, atom.Aside: true,
}

const paragraphBreak = "\x00"

// NormalizeHTML extracts the visible text of an HTML document. Block-level
// elements become paragraph boundaries and images their alt text. Text inside
// inline elements is kept as written, so words split by markup stay whole.
// Whitespace inside a paragraph is collapsed. Navigation, scripts and styles
// are dropped.
func NormalizeHTML(raw string) (string, error) {
	z := html.NewTokenizer(strings.NewReader(raw))
	var b strings.Builder
	skipDepth := 0

	for {
		tt := z.Next()
		switch tt {
		case html.ErrorToken:
			if err := z.Err(); !errors.Is(err, io.EOF) {
				return "", err
			}
			return joinParagraphs(b.String()), nil

		case html.StartTagToken, html.SelfClosingTagToken:
			name, _ := z.TagName()
			a := atom.Lookup(name)
			if skippedElements[a] {
				if tt == html.StartTagToken {
					skipDepth++
				}
				continue
			}
			if blockElements[a] {
				b.WriteString(paragraphBreak)
			}
			if a == atom.Img && skipDepth == 0 {
				if alt := imageAlt(z); alt != "" {
					b.WriteString(" " + alt + " ")
				}
			}

		case html.EndTagToken:
			name, _ := z.TagName()
			a := atom.Lookup(name)
			if skippedElements[a] {
				if skipDepth > 0 {
					skipDepth--
				}
				continue
			}
			if blockElements[a] {
				b.WriteString(paragraphBreak)
			}

		case html.TextToken:
			if skipDepth == 0 {
				b.Write(z.Text())
			}
		}
	}
}

func imageAlt(z *html.Tokenizer) string {
	for {
		key, val, more := z.TagAttr()
		if string(key) == "alt" {
			return strings.TrimSpace(string(val))
		}
		if !more {
			return ""
		}
	}
}

func joinParagraphs(text string) string {
	parts := strings.Split(text, paragraphBreak)
	paragraphs := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.Join(strings.Fields(p), " "); p != "" {
			paragraphs = append(paragraphs, p)
		}
	}
	return strings.Join(paragraphs, "\n\n")
}

// LooksLikeHTML reports whether raw appears to be an HTML document rather than markdown.
func LooksLikeHTML(raw string) bool {
	head := strings.ToLower(strings.TrimSpace(raw))
	if len(head) > 512 {
		head = head[:512]
	}
	return strings.HasPrefix(head, "<!doctype html") ||
		strings.HasPrefix(head, "<html") ||
		(strings.HasPrefix(head, "<") && strings.Contains(head, "</"))
}
