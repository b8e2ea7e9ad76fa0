package cli

import (
	"io"
	"os"

	"github.com/charmbracelet/lipgloss"
	"golang.org/x/term"
)

// Theme holds the color scheme for command output.
type Theme struct {
	Title    lipgloss.Color
	Category lipgloss.Color
	Score    lipgloss.Color
	Success  lipgloss.Color
	Hint     lipgloss.Color

	// Plain disables all styling.
	Plain bool
}

var defaultTheme = Theme{
	Title:    lipgloss.Color("#5FAFD7"), // light blue
	Category: lipgloss.Color("#D7AF5F"), // amber
	Score:    lipgloss.Color("#AF87D7"), // lavender
	Success:  lipgloss.Color("#00D787"), // green
	Hint:     lipgloss.Color("#6C6C6C"), // dim gray
}

// themeFor returns the default theme when w is a terminal and a plain one
// when output is piped, redirected or NO_COLOR is set.
func themeFor(w io.Writer) Theme {
	t := defaultTheme
	f, ok := w.(*os.File)
	if !ok || !term.IsTerminal(int(f.Fd())) || os.Getenv("NO_COLOR") != "" {
		t.Plain = true
	}
	return t
}

func (t Theme) style(fg lipgloss.Color) lipgloss.Style {
	if t.Plain {
		return lipgloss.NewStyle()
	}
	return lipgloss.NewStyle().Foreground(fg)
}

func (t Theme) titleStyle() lipgloss.Style {
	return t.style(t.Title).Bold(!t.Plain)
}

func (t Theme) categoryStyle() lipgloss.Style {
	return t.style(t.Category)
}

func (t Theme) scoreStyle() lipgloss.Style {
	return t.style(t.Score)
}

func (t Theme) successStyle() lipgloss.Style {
	return t.style(t.Success).Bold(!t.Plain)
}

func (t Theme) hintStyle() lipgloss.Style {
	return t.style(t.Hint).Italic(!t.Plain)
}
