package cli

import (
	"fmt"
	"io"
)

// IO is the output side of one command run.
//
// Results go to stdout. Problems that did not stop the command, such as a
// cancel of a reservation that was already cancelled, are queued with
// [IO.Warn] and written to stderr twice: before the first line of stdout
// and again from [IO.Finish], so they survive both head and tail. A run
// with any warning exits 1.
type IO struct {
	out      io.Writer
	errOut   io.Writer
	warnings []string
	shown    bool
}

// NewIO returns an IO writing results to out and diagnostics to errOut.
func NewIO(out, errOut io.Writer) *IO {
	return &IO{out: out, errOut: errOut}
}

// Warn queues "issue: action". action tells the operator what to do next.
func (o *IO) Warn(issue, action string) {
	o.warnings = append(o.warnings, issue+": "+action)
}

// Println writes a result line.
func (o *IO) Println(a ...any) {
	o.showWarningsOnce()
	_, _ = fmt.Fprintln(o.out, a...)
}

// Printf writes formatted result output.
func (o *IO) Printf(format string, a ...any) {
	o.showWarningsOnce()
	_, _ = fmt.Fprintf(o.out, format, a...)
}

// ErrPrintln writes a diagnostic line to stderr.
func (o *IO) ErrPrintln(a ...any) {
	_, _ = fmt.Fprintln(o.errOut, a...)
}

// Finish repeats the queued warnings and returns the exit code.
func (o *IO) Finish() int {
	o.showWarningsOnce()
	o.writeWarnings()

	if len(o.warnings) == 0 {
		return 0
	}

	return 1
}

func (o *IO) showWarningsOnce() {
	if o.shown || len(o.warnings) == 0 {
		return
	}

	o.shown = true
	o.writeWarnings()
}

func (o *IO) writeWarnings() {
	for _, w := range o.warnings {
		_, _ = fmt.Fprintln(o.errOut, "warning:", w)
	}
}
