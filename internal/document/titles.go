package document

import (
	"fmt"
	"slices"
	"strings"
)

// UniqueTitle returns base, or "base (n)" with the smallest n not in existing.
func UniqueTitle(base string, existing []string) string {
	if !slices.Contains(existing, base) {
		return base
	}
	for n := 1; ; n++ {
		title := fmt.Sprintf("%s (%d)", base, n)
		if !slices.Contains(existing, title) {
			return title
		}
	}
}

func normalizeTitle(title string) string {
	title = strings.TrimSpace(title)
	if title == "" {
		return DefaultTitle
	}
	return title
}

type Template struct {
	Title   string
	Content string
}

var templates = map[string]Template{
	"blank": {Title: DefaultTitle},
	"letter": {
		Title: "Letter",
		Content: `<p>[Your Name]<br>
[Your Address]<br>
[City, State, ZIP Code]<br>
[Email Address]<br>
[Phone Number]<br>
[Date]</p>

<p>[Recipient's Name]<br>
[Recipient's Title]<br>
[Company Name]<br>
[Company Address]<br>
[City, State, ZIP Code]</p>

<p>Dear [Recipient's Name],</p>

<p>Introduction paragraph stating the purpose of the letter.</p>

<p>Body paragraphs providing details and supporting information.</p>

<p>Conclusion paragraph summarizing the main points and stating next steps.</p>

<p>Sincerely,<br>
[Your Name]</p>`,
	},
}
