package application

import (
	"bytes"
	"html"
	"strings"

	"github.com/microcosm-cc/bluemonday"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
)

var (
	mdRenderer  goldmark.Markdown
	tagStripper *bluemonday.Policy
)

func init() {
	mdRenderer = goldmark.New(
		goldmark.WithExtensions(extension.GFM),
	)

	// StrictPolicy removes every tag; what remains is the text content.
	tagStripper = bluemonday.StrictPolicy()
}

// plainText converts forum markdown to the plain text the network expects:
// markdown is rendered to HTML, all tags are stripped, entities are decoded,
// and runs of whitespace collapse to single spaces so the fitter sees clean
// word boundaries. Bare URLs survive verbatim.
func plainText(markdown string) string {
	if markdown == "" {
		return ""
	}

	var buf bytes.Buffer
	src := markdown
	if err := mdRenderer.Convert([]byte(markdown), &buf); err == nil {
		src = buf.String()
	}

	stripped := html.UnescapeString(tagStripper.Sanitize(src))
	return strings.Join(strings.Fields(stripped), " ")
}
