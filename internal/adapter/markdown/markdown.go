// Package markdown converts model-written markdown into HTML with
// syntax-highlighted code blocks.
package markdown

import (
	"bytes"
	"fmt"

	"github.com/yuin/goldmark"
	highlighting "github.com/yuin/goldmark-highlighting/v2"
	"github.com/yuin/goldmark/extension"
)

// DefaultStyle is the chroma style applied to fenced code.
const DefaultStyle = "solarized-dark"

// Converter renders markdown to HTML.
type Converter struct {
	md goldmark.Markdown
}

// NewConverter returns a converter using the given highlighting style.
func NewConverter(style string) *Converter {
	if style == "" {
		style = DefaultStyle
	}
	return &Converter{
		md: goldmark.New(
			goldmark.WithExtensions(
				extension.GFM,
				highlighting.NewHighlighting(highlighting.WithStyle(style)),
			),
		),
	}
}

// ToHTML converts src. Raw HTML in src is omitted from the output.
func (c *Converter) ToHTML(src string) (string, error) {
	var buf bytes.Buffer
	if err := c.md.Convert([]byte(src), &buf); err != nil {
		return "", fmt.Errorf("convert markdown: %w", err)
	}
	return buf.String(), nil
}
