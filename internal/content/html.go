package content

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/dgallion1/readerd/internal/style"
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// HTMLConverter handles HTML passages, which pass through unchanged.
type HTMLConverter struct{}

func (c *HTMLConverter) Output() Mode { return ModeHTML }

func (c *HTMLConverter) Convert(raw []byte, title string) (string, error) {
	return decodeText(raw), nil
}

// AsHTML wraps plain text into a minimal HTML document, one paragraph per
// non-empty line.
func AsHTML(text, title string) (string, error) {
	doc := &html.Node{Type: html.DocumentNode}
	doc.AppendChild(&html.Node{Type: html.DoctypeNode, Data: "html"})

	root := element(atom.Html)
	head := element(atom.Head)
	body := element(atom.Body)
	doc.AppendChild(root)
	root.AppendChild(head)
	root.AppendChild(body)

	meta := element(atom.Meta)
	meta.Attr = []html.Attribute{{Key: "charset", Val: "utf-8"}}
	head.AppendChild(meta)
	if title != "" {
		t := element(atom.Title)
		t.AppendChild(&html.Node{Type: html.TextNode, Data: title})
		head.AppendChild(t)
	}

	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		p := element(atom.P)
		p.AppendChild(&html.Node{Type: html.TextNode, Data: line})
		body.AppendChild(p)
	}

	var buf bytes.Buffer
	if err := html.Render(&buf, doc); err != nil {
		return "", fmt.Errorf("render html: %w", err)
	}
	return buf.String(), nil
}

func element(a atom.Atom) *html.Node {
	return &html.Node{Type: html.ElementNode, DataAtom: a, Data: a.String()}
}

// wrapBody places an HTML fragment inside a complete document.
func wrapBody(fragment, title string) string {
	var sb strings.Builder
	sb.WriteString("<!DOCTYPE html><html><head><meta charset=\"utf-8\">")
	if title != "" {
		sb.WriteString("<title>")
		sb.WriteString(html.EscapeString(title))
		sb.WriteString("</title>")
	}
	sb.WriteString("</head><body>")
	sb.WriteString(fragment)
	sb.WriteString("</body></html>")
	return sb.String()
}

func injectStyles(document string, opts Options) (string, error) {
	return style.Inject(document, opts.ReaderCSS, opts.UserCSS)
}
