// Package console renders human-facing CLI output. Styling is applied only
// when stdout is a terminal.
package console

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/mattn/go-isatty"
	"github.com/olekukonko/tablewriter"
)

var (
	successStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#50FA7B"))

	infoStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#8BE9FD"))

	warningStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#FFB86C"))

	errorStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#FF5555"))

	locationStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#BD93F9"))
)

// styled forces styling on or off; nil means detect from stdout.
var styled *bool

// IsTTY reports whether f is a terminal.
func IsTTY(f *os.File) bool {
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}

// SetStyled overrides terminal detection.
func SetStyled(on bool) {
	styled = &on
}

func applyStyle(style lipgloss.Style, text string) string {
	on := IsTTY(os.Stdout)
	if styled != nil {
		on = *styled
	}
	if on {
		return style.Render(text)
	}
	return text
}

// FormatSuccess renders a completed step.
func FormatSuccess(msg string) string {
	return applyStyle(successStyle, "✓ ") + msg
}

// FormatInfo renders a neutral status line.
func FormatInfo(msg string) string {
	return applyStyle(infoStyle, msg)
}

// FormatWarning renders a recoverable problem.
func FormatWarning(msg string) string {
	return applyStyle(warningStyle, "warning: ") + msg
}

// FormatError renders a failure.
func FormatError(msg string) string {
	return applyStyle(errorStyle, "error: ") + msg
}

// FormatLocation renders path relative to the working directory, with the
// line and column when they are known.
func FormatLocation(path string, line, column int) string {
	loc := ToRelativePath(path)
	if line > 0 {
		loc = fmt.Sprintf("%s:%d:%d", loc, line, column)
	}
	return applyStyle(locationStyle, loc)
}

// ToRelativePath converts an absolute path to one relative to the working
// directory, returning path unchanged when that is not possible.
func ToRelativePath(path string) string {
	if !filepath.IsAbs(path) {
		return path
	}
	wd, err := os.Getwd()
	if err != nil {
		return path
	}
	rel, err := filepath.Rel(wd, path)
	if err != nil || strings.HasPrefix(rel, "..") {
		return path
	}
	return rel
}

// Table writes a borderless table with an optional footer.
func Table(w io.Writer, header []string, rows [][]string, footer []string) {
	table := tablewriter.NewWriter(w)
	table.SetHeader(header)
	table.SetBorder(false)
	table.SetCenterSeparator("")
	table.SetAutoWrapText(false)

	align := make([]int, len(header))
	for i := range align {
		align[i] = tablewriter.ALIGN_RIGHT
	}
	if len(align) > 0 {
		align[0] = tablewriter.ALIGN_LEFT
	}
	table.SetColumnAlignment(align)

	table.AppendBulk(rows)
	if len(footer) > 0 {
		table.SetFooter(footer)
	}
	table.Render()
}
