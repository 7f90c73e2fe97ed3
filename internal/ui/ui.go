// Package ui formats CLI output: colour when attached to a terminal,
// prefixed warnings and errors on stderr, and aligned tables on stdout.
package ui

import (
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/mattn/go-isatty"
)

var (
	writer io.Writer = os.Stderr
	out    io.Writer = os.Stdout
)

// SetWriter overrides the stderr writer. nil restores os.Stderr.
func SetWriter(w io.Writer) {
	if w == nil {
		w = os.Stderr
	}
	writer = w
}

// SetOutput overrides the stdout writer. nil restores os.Stdout.
func SetOutput(w io.Writer) {
	if w == nil {
		w = os.Stdout
	}
	out = w
}

// Output is the stdout writer command output goes to.
func Output() io.Writer { return out }

var stdoutColor = detectColor(os.Stdout)
var stderrColor = detectColor(os.Stderr)

func detectColor(f *os.File) bool {
	if os.Getenv("NO_COLOR") != "" {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}

// SetColorEnabled overrides color detection (for testing).
func SetColorEnabled(enabled bool) {
	stdoutColor = enabled
	stderrColor = enabled
}

func ansi(enabled bool, code, s string) string {
	if !enabled {
		return s
	}
	return "\033[" + code + "m" + s + "\033[0m"
}

// Bold wraps s in bold (stdout).
func Bold(s string) string { return ansi(stdoutColor, "1", s) }

// Dim wraps s in dim (stdout).
func Dim(s string) string { return ansi(stdoutColor, "2", s) }

// Green wraps s in green (stdout).
func Green(s string) string { return ansi(stdoutColor, "32", s) }

// Red wraps s in red (stdout).
func Red(s string) string { return ansi(stdoutColor, "31", s) }

// Yellow wraps s in yellow (stdout).
func Yellow(s string) string { return ansi(stdoutColor, "33", s) }

// Cyan wraps s in cyan (stdout).
func Cyan(s string) string { return ansi(stdoutColor, "36", s) }

// State colours an execution state name.
func State(state string) string {
	switch strings.ToLower(state) {
	case "completed":
		return Green(state)
	case "failed":
		return Red(state)
	case "running":
		return Cyan(state)
	case "starting", "stopping":
		return Yellow(state)
	}
	return state
}

// Table writes tab-separated rows aligned into columns.
type Table struct {
	tw *tabwriter.Writer
}

// NewTable starts a table on the stdout writer with the given header.
func NewTable(header ...string) *Table {
	t := &Table{tw: tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)}
	if len(header) > 0 {
		t.Row(header...)
	}
	return t
}

// Row appends one row.
func (t *Table) Row(cells ...string) {
	fmt.Fprintln(t.tw, strings.Join(cells, "\t"))
}

// Flush writes the aligned table.
func (t *Table) Flush() error { return t.tw.Flush() }

// Println writes a line to the stdout writer.
func Println(a ...any) { fmt.Fprintln(out, a...) }

// Printf writes formatted text to the stdout writer.
func Printf(format string, args ...any) { fmt.Fprintf(out, format, args...) }

// Warn prints a user-facing warning to stderr.
func Warn(msg string) {
	fmt.Fprintf(writer, "%s %s\n", ansi(stderrColor, "33", "Warning:"), msg)
}

// Warnf prints a formatted user-facing warning to stderr.
func Warnf(format string, args ...any) { Warn(fmt.Sprintf(format, args...)) }

// Error prints a user-facing error to stderr.
func Error(msg string) {
	fmt.Fprintf(writer, "%s %s\n", ansi(stderrColor, "31", "Error:"), msg)
}

// Errorf prints a formatted user-facing error to stderr.
func Errorf(format string, args ...any) { Error(fmt.Sprintf(format, args...)) }

// Info prints a user-facing message to stderr with no prefix.
func Info(msg string) {
	fmt.Fprintln(writer, msg)
}

// Infof prints a formatted user-facing message to stderr with no prefix.
func Infof(format string, args ...any) { Info(fmt.Sprintf(format, args...)) }
