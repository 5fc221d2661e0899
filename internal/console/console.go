// Package console prints human-facing notices, colored when the writer is a terminal.
package console

import (
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/muesli/termenv"
)

// ANSI color indexes matching the CLI's notice levels.
const (
	colorSuccess = "2"
	colorNotice  = "3"
	colorError   = "1"
)

// Printer writes one line per notice. Safe for concurrent use.
type Printer struct {
	mu    sync.Mutex
	w     io.Writer
	out   *termenv.Output
	color bool
}

// New creates a printer for w. Color support is detected from w.
func New(w io.Writer) *Printer {
	out := termenv.NewOutput(w)
	return &Printer{w: w, out: out, color: out.Profile != termenv.Ascii}
}

// Stdout returns a printer for the process standard output.
func Stdout() *Printer {
	return New(os.Stdout)
}

// Discard returns a printer that drops everything.
func Discard() *Printer {
	return New(io.Discard)
}

func (p *Printer) line(color, format string, args ...any) {
	if p == nil {
		return
	}
	msg := fmt.Sprintf(format, args...)
	if color != "" && p.color {
		msg = p.out.String(msg).Foreground(p.out.Color(color)).String()
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	fmt.Fprintln(p.w, msg)
}

// Info prints an uncolored line.
func (p *Printer) Info(format string, args ...any) {
	p.line("", format, args...)
}

// Notice prints a warning-level line (yellow).
func (p *Printer) Notice(format string, args ...any) {
	p.line(colorNotice, format, args...)
}

// Success prints a success line (green).
func (p *Printer) Success(format string, args ...any) {
	p.line(colorSuccess, format, args...)
}

// Error prints an error line (red).
func (p *Printer) Error(format string, args ...any) {
	p.line(colorError, format, args...)
}
