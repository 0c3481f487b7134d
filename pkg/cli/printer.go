// Package cli holds terminal output helpers shared by the keytrail commands.
package cli

import (
	"fmt"
	"io"
	"os"

	"github.com/fatih/color"
	"github.com/mattn/go-isatty"
)

type Printer struct {
	out io.Writer

	bold    *color.Color
	success *color.Color
	failure *color.Color
	faint   *color.Color
}

// NewPrinter writes to out. Colors are only used when out is a terminal.
func NewPrinter(out io.Writer) *Printer {
	p := &Printer{
		out:     out,
		bold:    color.New(color.Bold),
		success: color.New(color.FgGreen),
		failure: color.New(color.FgRed, color.Bold),
		faint:   color.New(color.Faint),
	}
	if !isTerminal(out) {
		for _, c := range []*color.Color{p.bold, p.success, p.failure, p.faint} {
			c.DisableColor()
		}
	}
	return p
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}

func (p *Printer) Println(a ...any) {
	fmt.Fprintln(p.out, a...)
}

func (p *Printer) Print(a ...any) {
	fmt.Fprint(p.out, a...)
}

func (p *Printer) Printf(format string, a ...any) {
	fmt.Fprintf(p.out, format, a...)
}

// PrintError prints an error message
func (p *Printer) PrintError(err error) {
	p.Println(p.failure.Sprint("error: ") + err.Error())
}

// Bold, Success, Failure and Faint style a string for this printer's output.
func (p *Printer) Bold(s string) string    { return p.bold.Sprint(s) }
func (p *Printer) Success(s string) string { return p.success.Sprint(s) }
func (p *Printer) Failure(s string) string { return p.failure.Sprint(s) }
func (p *Printer) Faint(s string) string   { return p.faint.Sprint(s) }
