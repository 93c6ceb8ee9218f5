// Package printer renders human-facing CLI output: coloured status lines on stdout and
// structured error explanations on stderr. Machine-readable output bypasses it.
package printer

import (
	"fmt"
	"io"
	"os"
	"sort"
	"strings"

	"github.com/fatih/color"
)

func init() {
	// Colour stays on when piped unless NO_COLOR is set
	if os.Getenv("NO_COLOR") == "" {
		color.NoColor = false
	}
}

var (
	green  = color.New(color.FgGreen)
	yellow = color.New(color.FgYellow)
	red    = color.New(color.FgRed, color.Bold)
	cyan   = color.New(color.FgCyan)
)

// Printer writes CLI output to a pair of streams.
type Printer struct {
	out    io.Writer
	errOut io.Writer
}

// New creates a printer. Nil writers default to stdout and stderr.
func New(out, errOut io.Writer) *Printer {
	if out == nil {
		out = os.Stdout
	}
	if errOut == nil {
		errOut = os.Stderr
	}
	return &Printer{out: out, errOut: errOut}
}

var std = New(nil, nil)

// Out returns the stdout writer, for tables and JSON lines.
func (p *Printer) Out() io.Writer {
	return p.out
}

// Success prints a green line prefixed with a checkmark.
func (p *Printer) Success(format string, a ...any) {
	msg := fmt.Sprintf(format, a...)
	if !strings.HasPrefix(msg, "✓") {
		msg = "✓ " + msg
	}
	green.Fprint(p.out, msg)
}

// Info prints an uncoloured line.
func (p *Printer) Info(format string, a ...any) {
	fmt.Fprintf(p.out, format, a...)
}

// Warning prints a yellow line prefixed with a warning sign.
func (p *Printer) Warning(format string, a ...any) {
	msg := fmt.Sprintf(format, a...)
	if !strings.HasPrefix(msg, "⚠️") {
		msg = "⚠️  " + msg
	}
	yellow.Fprint(p.out, msg)
}

// Step prints a cyan progress line.
func (p *Printer) Step(format string, a ...any) {
	cyan.Fprintf(p.out, "→ %s", fmt.Sprintf(format, a...))
}

// Error prints a titled explanation with optional context and suggestions to stderr and
// returns an error carrying only the title, for Cobra's SilenceErrors mode.
// Context keys are printed in sorted order.
func (p *Printer) Error(title, explanation string, context map[string]string, suggestions []string) error {
	red.Fprintf(p.errOut, "%s\n\n", title)

	if explanation != "" {
		fmt.Fprintf(p.errOut, "%s\n", explanation)
	}

	if len(context) > 0 {
		keys := make([]string, 0, len(context))
		for k := range context {
			keys = append(keys, k)
		}
		sort.Strings(keys)

		fmt.Fprintln(p.errOut)
		for _, k := range keys {
			fmt.Fprintf(p.errOut, "  %s: %s\n", k, context[k])
		}
	}

	switch len(suggestions) {
	case 0:
	case 1:
		fmt.Fprintf(p.errOut, "\n%s\n", suggestions[0])
	default:
		fmt.Fprintf(p.errOut, "\nEither:\n")
		for i, s := range suggestions {
			fmt.Fprintf(p.errOut, "  %d. %s\n", i+1, s)
		}
	}

	return fmt.Errorf("%s", title)
}

// Success prints to stdout via the default printer.
func Success(format string, a ...any) { std.Success(format, a...) }

// Info prints to stdout via the default printer.
func Info(format string, a ...any) { std.Info(format, a...) }

// Warning prints to stdout via the default printer.
func Warning(format string, a ...any) { std.Warning(format, a...) }

// Step prints to stdout via the default printer.
func Step(format string, a ...any) { std.Step(format, a...) }

// Error prints to stderr via the default printer.
func Error(title, explanation string, suggestions []string) error {
	return std.Error(title, explanation, nil, suggestions)
}

// ErrorWithContext prints to stderr via the default printer.
func ErrorWithContext(title, explanation string, context map[string]string, suggestions []string) error {
	return std.Error(title, explanation, context, suggestions)
}
