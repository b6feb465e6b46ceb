package content

import (
	"bytes"
	"fmt"
	"strings"

	pdflib "github.com/ledongthuc/pdf"
)

// PDFConverter extracts the plain text of PDF passages. The text then takes
// the string rendering path.
type PDFConverter struct{}

func (c *PDFConverter) Output() Mode { return ModeString }

func (c *PDFConverter) Convert(raw []byte, title string) (string, error) {
	reader, err := pdflib.NewReader(bytes.NewReader(raw), int64(len(raw)))
	if err != nil {
		return "", fmt.Errorf("open pdf: %w", err)
	}

	var pages []string
	for i := 1; i <= reader.NumPage(); i++ {
		page := reader.Page(i)
		if page.V.IsNull() {
			continue
		}
		text, err := page.GetPlainText(nil)
		if err != nil {
			continue
		}
		if text = strings.TrimSpace(text); text != "" {
			pages = append(pages, text)
		}
	}
	if len(pages) == 0 {
		return "", fmt.Errorf("pdf has no extractable text")
	}
	return strings.Join(pages, "\n"), nil
}
