// Package output provides consistent CLI output formatting with colors and
// progress indicators.
package output

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/mattn/go-isatty"
)

// ANSI escape codes for the few colors the CLI uses.
const (
	ansiReset  = "\033[0m"
	ansiGreen  = "\033[32m"
	ansiYellow = "\033[33m"
	ansiRed    = "\033[31m"
)

const progressBarWidth = 30

// Writer prints CLI status lines, code blocks and progress bars.
type Writer struct {
	out      io.Writer
	useColor bool
}

// New creates a new output Writer. Color is enabled only when writing to a
// terminal, and never when NO_COLOR is set or in CI.
func New(out io.Writer) *Writer {
	return &Writer{
		out:      out,
		useColor: IsTTY(out) && !DetectNoColor() && !DetectCI(),
	}
}

// NewPlain creates an output Writer with color disabled regardless of the
// destination. Used for output that gets captured or parsed.
func NewPlain(out io.Writer) *Writer {
	return &Writer{out: out}
}

// IsTTY checks if the writer is a terminal.
func IsTTY(w io.Writer) bool {
	if w == nil {
		return false
	}

	if f, ok := w.(*os.File); ok {
		return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
	}

	return false
}

// DetectNoColor checks if the NO_COLOR environment variable is set.
func DetectNoColor() bool {
	_, exists := os.LookupEnv("NO_COLOR")
	return exists
}

// DetectCI checks if running in a CI environment.
func DetectCI() bool {
	ciVars := []string{"CI", "GITHUB_ACTIONS", "GITLAB_CI", "JENKINS_URL", "TRAVIS"}
	for _, v := range ciVars {
		if _, exists := os.LookupEnv(v); exists {
			return true
		}
	}
	return false
}

// colorize wraps s in the given ANSI code when color is enabled.
func (w *Writer) colorize(code, s string) string {
	if !w.useColor {
		return s
	}
	return code + s + ansiReset
}

// Status prints one line with an icon prefix. An empty icon indents the
// line so it aligns under iconed ones. Write errors are ignored; this is
// console output.
func (w *Writer) Status(icon, msg string) {
	if icon == "" {
		icon = "  "
	}
	_, _ = fmt.Fprintf(w.out, "%s %s\n", icon, msg)
}

// Statusf is Status with a format string.
func (w *Writer) Statusf(icon, format string, args ...any) {
	w.Status(icon, fmt.Sprintf(format, args...))
}

// Success prints a green checkmarked line.
func (w *Writer) Success(msg string) {
	w.Status("✅", w.colorize(ansiGreen, msg))
}

// Successf is Success with a format string.
func (w *Writer) Successf(format string, args ...any) {
	w.Success(fmt.Sprintf(format, args...))
}

// Warning prints a yellow warning line.
func (w *Writer) Warning(msg string) {
	w.Status("⚠️ ", w.colorize(ansiYellow, msg))
}

// Warningf is Warning with a format string.
func (w *Writer) Warningf(format string, args ...any) {
	w.Warning(fmt.Sprintf(format, args...))
}

// Error prints a red error line.
func (w *Writer) Error(msg string) {
	w.Status("❌", w.colorize(ansiRed, msg))
}

// Errorf is Error with a format string.
func (w *Writer) Errorf(format string, args ...any) {
	w.Error(fmt.Sprintf(format, args...))
}

// Code prints content as an indented block with a blank line around it.
func (w *Writer) Code(content string) {
	_, _ = fmt.Fprintln(w.out)
	for _, line := range strings.Split(content, "\n") {
		_, _ = fmt.Fprintf(w.out, "  %s\n", line)
	}
	_, _ = fmt.Fprintln(w.out)
}

// Newline prints an empty line.
func (w *Writer) Newline() {
	_, _ = fmt.Fprintln(w.out)
}

// Progress redraws an in-place progress bar via carriage return, ending
// the line once current reaches total. A non-positive total prints nothing.
func (w *Writer) Progress(current, total int, msg string) {
	if total <= 0 {
		return
	}

	done := float64(current) / float64(total)
	_, _ = fmt.Fprintf(w.out, "\r[%s] %.0f%% %s", renderBar(done, progressBarWidth), done*100, msg)

	if current >= total {
		_, _ = fmt.Fprintln(w.out)
	}
}

// ProgressDone ends an in-progress bar line early.
func (w *Writer) ProgressDone() {
	_, _ = fmt.Fprintln(w.out)
}

// renderBar draws a completion fraction as filled and empty cells.
func renderBar(fraction float64, width int) string {
	filled := int(fraction * float64(width))
	if filled < 0 {
		filled = 0
	}
	if filled > width {
		filled = width
	}
	return strings.Repeat("█", filled) + strings.Repeat("░", width-filled)
}
