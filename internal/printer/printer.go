// Package printer writes the brain CLI's human-facing output.
package printer

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/fatih/color"
)

var (
	green  = color.New(color.FgGreen)
	yellow = color.New(color.FgYellow)
	red    = color.New(color.FgRed, color.Bold)
	cyan   = color.New(color.FgCyan)
	faint  = color.New(color.Faint)
)

// Printer writes status lines to Out and errors to Err.
type Printer struct {
	Out io.Writer
	Err io.Writer
}

// New returns a Printer on out and errOut. Color follows fatih/color's
// terminal detection and honours NO_COLOR.
func New(out, errOut io.Writer) *Printer {
	return &Printer{Out: out, Err: errOut}
}

var std = New(os.Stdout, os.Stderr)

// Default returns the Printer on stdout and stderr.
func Default() *Printer { return std }

// Success prints a green line with a checkmark prefix
func (p *Printer) Success(format string, a ...any) {
	msg := fmt.Sprintf(format, a...)
	if !strings.HasPrefix(msg, "✓") {
		msg = "✓ " + msg
	}
	green.Fprint(p.Out, msg)
}

// Info prints a plain line
func (p *Printer) Info(format string, a ...any) {
	fmt.Fprintf(p.Out, format, a...)
}

// Warning prints a yellow line with a warning prefix
func (p *Printer) Warning(format string, a ...any) {
	msg := fmt.Sprintf(format, a...)
	if !strings.HasPrefix(msg, "⚠") {
		msg = "⚠️  " + msg
	}
	yellow.Fprint(p.Out, msg)
}

// Step prints a step in a multi-step operation
func (p *Printer) Step(format string, a ...any) {
	cyan.Fprintf(p.Out, "→ %s", fmt.Sprintf(format, a...))
}

// List prints a title followed by one indented item per line, or empty
// when there are none.
func (p *Printer) List(title string, items []string, empty string) {
	fmt.Fprintf(p.Out, "%s\n", title)
	if len(items) == 0 {
		faint.Fprintf(p.Out, "  %s\n", empty)
		return
	}
	for _, item := range items {
		fmt.Fprintf(p.Out, "  %s\n", item)
	}
}

// Error prints a formatted error with title, explanation and suggestions to
// Err and returns an error carrying only the title, for cobra with
// SilenceErrors set.
func (p *Printer) Error(title string, explanation string, suggestions []string) error {
	red.Fprintf(p.Err, "%s\n\n", title)

	if explanation != "" {
		fmt.Fprintf(p.Err, "%s\n", explanation)
	}

	if len(suggestions) > 0 {
		fmt.Fprintf(p.Err, "\n")
		if len(suggestions) == 1 {
			fmt.Fprintf(p.Err, "%s\n", suggestions[0])
		} else {
			fmt.Fprintf(p.Err, "Either:\n")
			for i, suggestion := range suggestions {
				fmt.Fprintf(p.Err, "  %d. %s\n", i+1, suggestion)
			}
		}
	}

	return fmt.Errorf("%s", title)
}

// Success prints to stdout. See Printer.Success.
func Success(format string, a ...any) { std.Success(format, a...) }

// Info prints to stdout. See Printer.Info.
func Info(format string, a ...any) { std.Info(format, a...) }

// Warning prints to stdout. See Printer.Warning.
func Warning(format string, a ...any) { std.Warning(format, a...) }

// Step prints to stdout. See Printer.Step.
func Step(format string, a ...any) { std.Step(format, a...) }

// Error prints to stderr. See Printer.Error.
func Error(title string, explanation string, suggestions []string) error {
	return std.Error(title, explanation, suggestions)
}
