package main

import (
	"fmt"
	"io"
	"math"
	"os"
	"sync"

	"github.com/mattn/go-isatty"
)

// plainProgressStep is the percentage between lines when output is not a terminal
const plainProgressStep = 10

// progressPrinter renders export progress. On a terminal it redraws one line;
// elsewhere it prints a line every plainProgressStep percent.
type progressPrinter struct {
	mu   sync.Mutex
	w    io.Writer
	tty  bool
	last int
}

func newProgressPrinter(w io.Writer) *progressPrinter {
	return &progressPrinter{w: w, tty: isTerminal(w), last: -1}
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	fd := f.Fd()
	return isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
}

func (p *progressPrinter) update(pct float64) {
	whole := int(math.Floor(pct))
	p.mu.Lock()
	defer p.mu.Unlock()
	if whole <= p.last {
		return
	}
	if p.tty {
		p.last = whole
		fmt.Fprintf(p.w, "\rexporting %3d%%", whole)
		return
	}
	if p.last >= 0 && whole/plainProgressStep == p.last/plainProgressStep && whole < 100 {
		return
	}
	p.last = whole
	fmt.Fprintf(p.w, "exporting %d%%\n", whole)
}

func (p *progressPrinter) finish() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.tty && p.last >= 0 {
		fmt.Fprintln(p.w)
	}
}
