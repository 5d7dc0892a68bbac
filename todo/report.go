package todo

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"
)

// Style decorates report descriptions.
type Style interface {
	// Done wraps the description of a completed item.
	Done(s string) string
	// Attention wraps a description that mentions code validation.
	Attention(s string) string
}

// Style names accepted by StyleByName.
const (
	StyleMarkup = "markup"
	StyleANSI   = "ansi"
	StylePlain  = "plain"
)

// MarkupStyle emits bracketed console markup tags.
type MarkupStyle struct{}

func (MarkupStyle) Done(s string) string      { return "[strike][green]" + s + "[/strike][/green]" }
func (MarkupStyle) Attention(s string) string { return "[red]" + s + "[/red]" }

// PlainStyle leaves descriptions untouched.
type PlainStyle struct{}

func (PlainStyle) Done(s string) string      { return s }
func (PlainStyle) Attention(s string) string { return s }

var (
	doneStyle      = lipgloss.NewStyle().Strikethrough(true).Foreground(lipgloss.Color("42"))
	attentionStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("9"))
)

// ANSIStyle renders terminal escape sequences. Colors are dropped when the
// output is not a terminal.
type ANSIStyle struct{}

func (ANSIStyle) Done(s string) string      { return doneStyle.Render(s) }
func (ANSIStyle) Attention(s string) string { return attentionStyle.Render(s) }

// StyleByName resolves a configured style name. Empty means markup.
func StyleByName(name string) (Style, error) {
	switch strings.ToLower(name) {
	case "", StyleMarkup:
		return MarkupStyle{}, nil
	case StyleANSI:
		return ANSIStyle{}, nil
	case StylePlain:
		return PlainStyle{}, nil
	default:
		return nil, fmt.Errorf("unknown report style %q", name)
	}
}

// Renderer projects a Store into a status report.
type Renderer struct {
	Style Style
}

// NewRenderer creates a renderer; a nil style means MarkupStyle.
func NewRenderer(style Style) *Renderer {
	if style == nil {
		style = MarkupStyle{}
	}
	return &Renderer{Style: style}
}

// Render returns one newline-terminated line per item:
//
//	Todo #1: [X] <decorated description>
//
// An empty store renders as "".
func (r *Renderer) Render(s *Store) string {
	return r.RenderItems(s.List())
}

// RenderItems renders an already-captured item list.
func (r *Renderer) RenderItems(items []Item) string {
	var b strings.Builder
	for i, it := range items {
		marker := " "
		if it.Completed {
			marker = "X"
		}
		desc := it.Description
		if mentionsPython(desc) {
			desc = r.Style.Attention(desc)
		}
		if it.Completed {
			desc = r.Style.Done(desc)
		}
		fmt.Fprintf(&b, "Todo #%d: [%s] %s\n", i+1, marker, desc)
	}
	return b.String()
}

// Render renders s with the default markup style.
func Render(s *Store) string {
	return NewRenderer(nil).Render(s)
}

func mentionsPython(desc string) bool {
	return strings.Contains(strings.ToLower(desc), "python")
}
