package content

import (
	"bytes"
	"fmt"
	"io"
	"strings"

	"github.com/taylorskalyo/goreader/epub"
	"golang.org/x/net/html"
)

// EPUBConverter flattens the spine of an EPUB passage into one HTML document.
type EPUBConverter struct{}

func (c *EPUBConverter) Output() Mode { return ModeHTML }

func (c *EPUBConverter) Convert(raw []byte, title string) (string, error) {
	rc, err := epub.NewReader(bytes.NewReader(raw), int64(len(raw)))
	if err != nil {
		return "", fmt.Errorf("open epub: %w", err)
	}
	if len(rc.Rootfiles) == 0 {
		return "", fmt.Errorf("no rootfiles found in epub")
	}

	book := rc.Rootfiles[0]
	var body strings.Builder
	for _, ref := range book.Spine.Itemrefs {
		if ref.Item == nil {
			continue
		}
		r, err := ref.Item.Open()
		if err != nil {
			continue
		}
		data, err := io.ReadAll(r)
		r.Close()
		if err != nil {
			continue
		}
		if err := appendBody(&body, data); err != nil {
			return "", err
		}
	}

	return wrapBody(body.String(), title), nil
}

// appendBody renders the children of a spine document's <body>.
func appendBody(w io.Writer, data []byte) error {
	doc, err := html.Parse(bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("parse spine item: %w", err)
	}
	body := findElement(doc, "body")
	if body == nil {
		return nil
	}
	for c := body.FirstChild; c != nil; c = c.NextSibling {
		if err := html.Render(w, c); err != nil {
			return fmt.Errorf("render spine item: %w", err)
		}
	}
	return nil
}

func findElement(n *html.Node, tag string) *html.Node {
	if n.Type == html.ElementNode && n.Data == tag {
		return n
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if found := findElement(c, tag); found != nil {
			return found
		}
	}
	return nil
}
