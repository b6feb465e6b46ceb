package content

import (
	"strings"
	"unicode/utf8"
)

// TextConverter handles plain string passages.
type TextConverter struct{}

func (c *TextConverter) Output() Mode { return ModeString }

func (c *TextConverter) Convert(raw []byte, title string) (string, error) {
	return decodeText(raw), nil
}

// FormatText re-expands paragraph breaks: every newline becomes
// floor(spacing) extra blank lines followed by indent tabs.
func FormatText(text string, indent int, spacing float64) string {
	var sep strings.Builder
	sep.WriteByte('\n')
	for range max(int(spacing), 0) {
		sep.WriteByte('\n')
	}
	for range max(indent, 0) {
		sep.WriteByte('\t')
	}
	return strings.ReplaceAll(text, "\n", sep.String())
}

// decodeText converts bytes to a string, replacing invalid UTF-8 sequences.
func decodeText(raw []byte) string {
	if utf8.Valid(raw) {
		return string(raw)
	}
	return strings.ToValidUTF8(string(raw), "�")
}
