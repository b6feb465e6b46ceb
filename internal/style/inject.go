package style

import (
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"
)

// Style element ids used inside rendered documents.
const (
	ReaderStyleID = "shosetsu-style"
	UserStyleID   = "user-style"
)

// Inject places the reader and user stylesheets into document. Existing
// style elements with the same ids are reused, never duplicated.
func Inject(document, readerCSS, userCSS string) (string, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(document))
	if err != nil {
		return "", fmt.Errorf("parse document: %w", err)
	}

	setStyle(doc, ReaderStyleID, readerCSS)
	setStyle(doc, UserStyleID, userCSS)

	out, err := doc.Html()
	if err != nil {
		return "", fmt.Errorf("render document: %w", err)
	}
	return out, nil
}

func setStyle(doc *goquery.Document, id, css string) {
	sel := doc.Find("style#" + id)
	if sel.Length() > 1 {
		sel.Slice(1, sel.Length()).Remove()
		sel = sel.First()
	}
	if sel.Length() == 0 {
		doc.Find("head").AppendHtml(`<style id="` + id + `" type="text/css"></style>`)
		sel = doc.Find("style#" + id)
	}
	setRawText(sel.Get(0), css)
}

// setRawText replaces the children of a raw-text element. goquery's SetText
// escapes its input, which would corrupt selectors such as "a > b".
func setRawText(n *html.Node, text string) {
	for c := n.FirstChild; c != nil; c = n.FirstChild {
		n.RemoveChild(c)
	}
	n.AppendChild(&html.Node{Type: html.TextNode, Data: text})
}
