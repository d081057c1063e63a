package export

import (
	"strings"
	"unicode"

	"golang.org/x/net/html"
)

// end tags that finish a line of text
var blockEnds = map[string]bool{
	"p": true, "div": true, "li": true, "tr": true,
	"h1": true, "h2": true, "h3": true, "h4": true, "h5": true, "h6": true,
	"blockquote": true, "pre": true,
	// WordprocessingML paragraph
	"w:p": true,
}

// PlainText drops the markup and keeps the text, one line per block.
// Entities are decoded and whitespace is collapsed the way a browser shows it.
// It reads WordprocessingML bodies as well as HTML.
func PlainText(markup string) string {
	z := html.NewTokenizer(strings.NewReader(markup))
	var b strings.Builder
	skip := false

	for {
		switch z.Next() {
		case html.ErrorToken:
			return tidy(b.String())
		case html.TextToken:
			if !skip {
				writeText(&b, string(z.Text()))
			}
		case html.StartTagToken, html.SelfClosingTagToken:
			name, _ := z.TagName()
			switch string(name) {
			case "script", "style", "title":
				skip = true
			case "br", "w:br", "w:cr":
				b.WriteByte('\n')
			case "w:tab":
				b.WriteByte('\t')
			}
		case html.EndTagToken:
			name, _ := z.TagName()
			switch tag := string(name); {
			case tag == "script" || tag == "style" || tag == "title":
				skip = false
			case blockEnds[tag]:
				b.WriteByte('\n')
			}
		}
	}
}

// writeText appends text with runs of whitespace collapsed to one space.
func writeText(b *strings.Builder, text string) {
	words := strings.Fields(text)
	if len(words) == 0 {
		if text != "" {
			spaceAfter(b)
		}
		return
	}
	if strings.TrimLeftFunc(text, unicode.IsSpace) != text {
		spaceAfter(b)
	}
	b.WriteString(strings.Join(words, " "))
	if strings.TrimRightFunc(text, unicode.IsSpace) != text {
		b.WriteByte(' ')
	}
}

func spaceAfter(b *strings.Builder) {
	s := b.String()
	if s != "" && !strings.HasSuffix(s, " ") && !strings.HasSuffix(s, "\n") {
		b.WriteByte(' ')
	}
}

func tidy(s string) string {
	lines := strings.Split(s, "\n")
	for i, line := range lines {
		lines[i] = strings.Trim(line, " ")
	}
	return strings.TrimSpace(strings.Join(lines, "\n"))
}
