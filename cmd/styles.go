package cmd

import (
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/charmbracelet/glamour"
	"github.com/charmbracelet/lipgloss"
	"golang.org/x/term"
)

const (
	defaultMarkdownWidth = 80
	minMarkdownWidth     = 20
)

var (
	titleStyle   = lipgloss.NewStyle().Bold(true)
	subtleStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
	successStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("42"))
	errorStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
	warningStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("214"))
	kindStyles   = map[string]lipgloss.Style{
		"plugin":  lipgloss.NewStyle().Foreground(lipgloss.Color("45")),
		"snippet": lipgloss.NewStyle().Foreground(lipgloss.Color("141")),
	}
)

func printSuccess(w io.Writer, format string, args ...interface{}) {
	fmt.Fprintln(w, successStyle.Render(fmt.Sprintf(format, args...)))
}

func printError(w io.Writer, format string, args ...interface{}) {
	fmt.Fprintln(w, errorStyle.Render("ERROR: "+fmt.Sprintf(format, args...)))
}

func printWarning(w io.Writer, format string, args ...interface{}) {
	fmt.Fprintln(w, warningStyle.Render("Warning: "+fmt.Sprintf(format, args...)))
}

func kindLabel(kind string) string {
	style, ok := kindStyles[kind]
	if !ok {
		return kind
	}
	return style.Render(kind)
}

// terminalWidth returns the current terminal width or a fallback when unavailable.
func terminalWidth(fallback int) int {
	if fallback <= 0 {
		fallback = defaultMarkdownWidth
	}
	if width, _, err := term.GetSize(int(os.Stdout.Fd())); err == nil && width > 0 {
		return width
	}
	if cols := os.Getenv("COLUMNS"); cols != "" {
		if parsed, err := strconv.Atoi(cols); err == nil && parsed > 0 {
			return parsed
		}
	}
	return fallback
}

// renderMarkdown renders markdown for the terminal.
func renderMarkdown(text string, width int) (string, error) {
	if strings.TrimSpace(text) == "" {
		return "", nil
	}
	if width < minMarkdownWidth {
		width = minMarkdownWidth
	}
	renderer, err := glamour.NewTermRenderer(
		glamour.WithAutoStyle(),
		glamour.WithWordWrap(width),
	)
	if err != nil {
		return "", err
	}
	rendered, err := renderer.Render(text)
	if err != nil {
		return "", err
	}
	return strings.TrimRight(rendered, "\n"), nil
}
