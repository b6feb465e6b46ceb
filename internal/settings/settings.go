// Package settings holds the reader preferences: typography, theme colors,
// progress marking policy and user CSS. They are kept in a YAML file that can
// be edited while the server runs.
package settings

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/dgallion1/readerd/internal/style"
)

// MarkingType decides which reader event moves a chapter into Reading.
type MarkingType string

const (
	MarkOnView   MarkingType = "onview"
	MarkOnScroll MarkingType = "onscroll"
)

// Settings is the full set of reader preferences.
type Settings struct {
	TextSize           float64     `yaml:"text_size" json:"text_size"`
	IndentSize         int         `yaml:"indent_size" json:"indent_size"`
	ParagraphSpacing   float64     `yaml:"paragraph_spacing" json:"paragraph_spacing"`
	ShowChapterDivider bool        `yaml:"show_chapter_divider" json:"show_chapter_divider"`
	MarkReadAsReading  bool        `yaml:"mark_read_as_reading" json:"mark_read_as_reading"`
	MarkingType        MarkingType `yaml:"marking_type" json:"marking_type"`
	StringToHTML       bool        `yaml:"string_to_html" json:"string_to_html"`
	TableHack          bool        `yaml:"table_hack" json:"table_hack"`
	ResumeFirstUnread  bool        `yaml:"resume_first_unread" json:"resume_first_unread"`
	ForegroundColor    string      `yaml:"foreground_color" json:"foreground_color"`
	ContainerColor     string      `yaml:"container_color" json:"container_color"`
	UserCSS            string      `yaml:"user_css" json:"user_css"`
}

// Defaults returns the settings a fresh install starts with.
func Defaults() Settings {
	return Settings{
		TextSize:           14,
		IndentSize:         1,
		ParagraphSpacing:   1,
		ShowChapterDivider: true,
		MarkingType:        MarkOnView,
		ForegroundColor:    "#000000",
		ContainerColor:     "#FFFFFF",
	}
}

// Validate checks ranges, the marking type and the theme colors.
func (s Settings) Validate() error {
	if s.TextSize <= 0 {
		return fmt.Errorf("text_size must be positive, got %v", s.TextSize)
	}
	if s.IndentSize < 0 {
		return fmt.Errorf("indent_size must not be negative, got %d", s.IndentSize)
	}
	if s.ParagraphSpacing < 0 {
		return fmt.Errorf("paragraph_spacing must not be negative, got %v", s.ParagraphSpacing)
	}
	switch s.MarkingType {
	case MarkOnView, MarkOnScroll:
	default:
		return fmt.Errorf("unknown marking_type %q", s.MarkingType)
	}
	if _, err := ParseColor(s.ForegroundColor); err != nil {
		return fmt.Errorf("foreground_color: %w", err)
	}
	if _, err := ParseColor(s.ContainerColor); err != nil {
		return fmt.Errorf("container_color: %w", err)
	}
	return nil
}

// Theme converts the settings into the stylesheet inputs. Colors that fail to
// parse fall back to the defaults.
func (s Settings) Theme() style.Theme {
	t := style.Theme{
		ContainerColor:   style.ColorWhite,
		ForegroundColor:  style.ColorBlack,
		TextSize:         s.TextSize,
		IndentSize:       s.IndentSize,
		ParagraphSpacing: s.ParagraphSpacing,
		TableHack:        s.TableHack,
	}
	if c, err := ParseColor(s.ContainerColor); err == nil {
		t.ContainerColor = c
	}
	if c, err := ParseColor(s.ForegroundColor); err == nil {
		t.ForegroundColor = c
	}
	return t
}

// ReaderCSS is the generated stylesheet for the current settings.
func (s Settings) ReaderCSS() string {
	return style.Build(s.Theme())
}

// ParseColor reads "#RRGGBB" or "#AARRGGBB" into an ARGB value. Six digit
// colors are opaque.
func ParseColor(v string) (uint32, error) {
	hex := strings.TrimPrefix(strings.TrimSpace(v), "#")
	switch len(hex) {
	case 6:
		hex = "FF" + hex
	case 8:
	default:
		return 0, fmt.Errorf("invalid color %q", v)
	}
	n, err := strconv.ParseUint(hex, 16, 32)
	if err != nil {
		return 0, fmt.Errorf("invalid color %q", v)
	}
	return uint32(n), nil
}
