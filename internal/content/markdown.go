package content

import (
	"bytes"
	"fmt"

	"github.com/yuin/goldmark"
)

// MarkdownConverter renders Markdown passages to HTML using goldmark.
type MarkdownConverter struct{}

func (c *MarkdownConverter) Output() Mode { return ModeHTML }

func (c *MarkdownConverter) Convert(raw []byte, title string) (string, error) {
	var buf bytes.Buffer
	if err := goldmark.Convert(raw, &buf); err != nil {
		return "", fmt.Errorf("convert markdown: %w", err)
	}
	return wrapBody(buf.String(), title), nil
}
