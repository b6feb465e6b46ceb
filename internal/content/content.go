// Package content turns fetched passage bytes into what the reader displays.
package content

import (
	"fmt"

	"github.com/dgallion1/readerd/internal/chapter"
)

// Mode is the rendering path a novel's passages take.
type Mode string

const (
	ModeString Mode = "string"
	ModeHTML   Mode = "html"
)

// Converter turns raw passage bytes into either plain text or an HTML
// document, depending on Output.
type Converter interface {
	Convert(raw []byte, title string) (string, error)
	Output() Mode
}

// ForType returns the converter for a chapter type.
func ForType(t chapter.Type) (Converter, error) {
	switch t {
	case chapter.TypeString:
		return &TextConverter{}, nil
	case chapter.TypeHTML:
		return &HTMLConverter{}, nil
	case chapter.TypeMarkdown:
		return &MarkdownConverter{}, nil
	case chapter.TypePDF:
		return &PDFConverter{}, nil
	case chapter.TypeEPUB:
		return &EPUBConverter{}, nil
	default:
		return nil, fmt.Errorf("unsupported chapter type: %q", t)
	}
}

// ResolveMode decides once per novel how its passages are displayed.
// Text output is promoted to HTML when stringToHTML is set.
func ResolveMode(t chapter.Type, stringToHTML bool) (Mode, error) {
	c, err := ForType(t)
	if err != nil {
		return "", err
	}
	if c.Output() == ModeString && stringToHTML {
		return ModeHTML, nil
	}
	return c.Output(), nil
}

// Options are the reader settings that shape rendered output.
type Options struct {
	IndentSize       int
	ParagraphSpacing float64
	ReaderCSS        string
	UserCSS          string
}

// Renderer renders passages of one novel.
type Renderer struct {
	conv Converter
	mode Mode
}

func NewRenderer(t chapter.Type, stringToHTML bool) (*Renderer, error) {
	conv, err := ForType(t)
	if err != nil {
		return nil, err
	}
	mode, err := ResolveMode(t, stringToHTML)
	if err != nil {
		return nil, err
	}
	return &Renderer{conv: conv, mode: mode}, nil
}

// Mode is the resolved display mode.
func (r *Renderer) Mode() Mode {
	return r.mode
}

// Render converts raw and applies the display rules of the resolved mode.
func (r *Renderer) Render(raw []byte, title string, opts Options) (string, error) {
	out, err := r.conv.Convert(raw, title)
	if err != nil {
		return "", err
	}

	if r.mode == ModeString {
		return FormatText(out, opts.IndentSize, opts.ParagraphSpacing), nil
	}
	if r.conv.Output() == ModeString {
		out, err = AsHTML(out, title)
		if err != nil {
			return "", err
		}
	}
	return injectStyles(out, opts)
}
