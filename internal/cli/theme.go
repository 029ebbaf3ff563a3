package cli

import (
	"io"
	"os"

	"github.com/charmbracelet/lipgloss"
	"golang.org/x/term"
)

// Theme holds the color scheme for command output.
type Theme struct {
	Title   lipgloss.Color
	Success lipgloss.Color
	Warn    lipgloss.Color
	Error   lipgloss.Color
	Hint    lipgloss.Color
}

// defaultTheme provides default colors.
var defaultTheme = Theme{
	Title:   lipgloss.Color("#5FAFD7"), // light blue
	Success: lipgloss.Color("#00D787"), // green
	Warn:    lipgloss.Color("#FFAF00"), // amber
	Error:   lipgloss.Color("#FF005F"), // red
	Hint:    lipgloss.Color("#6C6C6C"), // dim gray
}

// painter renders styled text, or plain text when w is not a terminal.
type painter struct {
	theme Theme
	color bool
}

func newPainter(w io.Writer) painter {
	f, ok := w.(*os.File)
	return painter{theme: defaultTheme, color: ok && term.IsTerminal(int(f.Fd()))}
}

func (p painter) render(style lipgloss.Style, s string) string {
	if !p.color {
		return s
	}
	return style.Render(s)
}

func (p painter) title(s string) string {
	return p.render(lipgloss.NewStyle().Foreground(p.theme.Title).Bold(true), s)
}

func (p painter) ok(s string) string {
	return p.render(lipgloss.NewStyle().Foreground(p.theme.Success).Bold(true), s)
}

func (p painter) warn(s string) string {
	return p.render(lipgloss.NewStyle().Foreground(p.theme.Warn), s)
}

func (p painter) fail(s string) string {
	return p.render(lipgloss.NewStyle().Foreground(p.theme.Error).Bold(true), s)
}

func (p painter) hint(s string) string {
	return p.render(lipgloss.NewStyle().Foreground(p.theme.Hint).Italic(true), s)
}
