// Package style builds the stylesheet injected into HTML passages.
package style

import (
	"fmt"
	"strconv"
	"strings"
)

// HTMLSizeDivision converts the reader text size into points for the HTML renderer.
const HTMLSizeDivision = 1.25

// Default colors, ARGB.
const (
	ColorBlack = 0xFF000000
	ColorWhite = 0xFFFFFFFF
)

// Theme is everything the generated stylesheet depends on.
type Theme struct {
	ContainerColor   uint32
	ForegroundColor  uint32
	TextSize         float64
	IndentSize       int
	ParagraphSpacing float64
	TableHack        bool
}

// DefaultTheme mirrors the reader defaults.
func DefaultTheme() Theme {
	return Theme{
		ContainerColor:   ColorWhite,
		ForegroundColor:  ColorBlack,
		TextSize:         14,
		IndentSize:       1,
		ParagraphSpacing: 1,
	}
}

type rule struct {
	selector string
	decls    [][2]string
}

func (r rule) String() string {
	var sb strings.Builder
	sb.WriteString(r.selector)
	sb.WriteString(" {")
	for _, d := range r.decls {
		sb.WriteString(d[0])
		sb.WriteByte(':')
		sb.WriteString(d[1])
		sb.WriteByte(';')
	}
	sb.WriteByte('}')
	return sb.String()
}

// Build renders the reader stylesheet for theme.
func Build(theme Theme) string {
	rules := []rule{
		{"body", [][2]string{
			{"background-color", cssColor(theme.ContainerColor)},
			{"color", cssColor(theme.ForegroundColor)},
			{"font-size", formatFloat(theme.TextSize/HTMLSizeDivision) + "pt"},
			{"scroll-behavior", "smooth"},
			{"text-indent", strconv.Itoa(theme.IndentSize) + "em"},
			{"overflow-wrap", "break-word"},
			{"margin", "1em"},
		}},
		{"p", [][2]string{
			{"margin-top", formatFloat(theme.ParagraphSpacing) + "em"},
		}},
		{"img", [][2]string{
			{"max-width", "100%"},
			{"height", "initial !important"},
		}},
	}
	if theme.TableHack {
		rules = append(rules, rule{"table", [][2]string{
			{"overflow-x", "auto"},
			{"display", "block"},
			{"white-space", "nowrap"},
		}})
	}

	var sb strings.Builder
	for _, r := range rules {
		sb.WriteString(r.String())
	}
	return sb.String()
}

// cssColor drops the alpha channel of an ARGB color.
func cssColor(argb uint32) string {
	return fmt.Sprintf("rgb(%d,%d,%d)", (argb>>16)&0xFF, (argb>>8)&0xFF, argb&0xFF)
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
