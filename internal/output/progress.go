package output

import (
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"sync"

	"github.com/mattn/go-isatty"
)

// writerIsTTY reports whether w is a file attached to a terminal.
func writerIsTTY(w io.Writer) bool {
	f, ok := w.(interface{ Fd() uintptr })
	return ok && isatty.IsTerminal(f.Fd())
}

var progressFrames = []string{"|", "/", "-", "\\"}

// RestoreProgress reports modules as a session restores them.
//
// On a terminal each step redraws a single status line:
//
//	/ [2/3] Restoring Dep.dll
//
// Elsewhere every step is printed on its own line so logs stay readable.
type RestoreProgress struct {
	mu    sync.Mutex
	w     io.Writer
	tty   bool
	total int
	step  int
	width int // length of the status line currently drawn
}

// NewRestoreProgress creates a reporter for total modules writing to w.
func NewRestoreProgress(w io.Writer, total int) *RestoreProgress {
	return &RestoreProgress{w: w, tty: writerIsTTY(w), total: total}
}

// Restoring reports that module is about to be restored. Safe for
// concurrent use.
func (p *RestoreProgress) Restoring(module string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.step++
	msg := "Restoring " + filepath.Base(module)
	if p.total > 0 && p.step <= p.total {
		msg = fmt.Sprintf("[%d/%d] %s", p.step, p.total, msg)
	}

	if !p.tty {
		fmt.Fprintln(p.w, msg)
		return
	}

	line := progressFrames[(p.step-1)%len(progressFrames)] + " " + msg
	pad := ""
	if p.width > len(line) {
		pad = strings.Repeat(" ", p.width-len(line))
	}
	fmt.Fprintf(p.w, "\r%s%s", line, pad)
	p.width = len(line)
}

// Done clears the status line, if any, and prints summary.
func (p *RestoreProgress) Done(summary string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.tty && p.width > 0 {
		fmt.Fprintf(p.w, "\r%s\r", strings.Repeat(" ", p.width))
		p.width = 0
	}
	fmt.Fprintln(p.w, summary)
}

// Restored returns the number of modules reported so far.
func (p *RestoreProgress) Restored() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.step
}
