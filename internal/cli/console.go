package cli

import (
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/moffa90/go-blefota/updater"
)

const barWidth = 30

// console renders updater status messages and progress on one stream. On a
// terminal the burn progress is a single redrawn bar; otherwise one line is
// printed per page attempt.
type console struct {
	mu      sync.Mutex
	out     io.Writer
	tty     bool
	quiet   bool
	drawn   bool
	phase   string
	page    int
	attempt int
}

func newConsole(out io.Writer, quiet bool) *console {
	return &console{
		out:   out,
		tty:   isTerminalWriter(out),
		quiet: quiet,
	}
}

// Status implements updater.StatusCallback.
func (c *console) Status(msg string) {
	if c.quiet {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.clearLine()
	_, _ = fmt.Fprintln(c.out, msg)
}

// Progress implements updater.ProgressCallback.
func (c *console) Progress(p updater.Progress) {
	if c.quiet {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	if p.Phase != updater.PhaseBurning {
		c.clearLine()
		c.phase = p.Phase
		return
	}

	if c.tty {
		_, _ = fmt.Fprintf(c.out, "\r%s %5.1f%% %s page %d/%d", bar(p.Percentage), p.Percentage, p.Item, p.CurrentPage, p.TotalPages)
		c.drawn = true
		return
	}

	// one line per page attempt, printed when it starts
	if c.phase != p.Phase || c.page != p.CurrentPage || c.attempt != p.Attempt {
		_, _ = fmt.Fprintf(c.out, "%5.1f%% %s page %d/%d\n", p.Percentage, p.Item, p.CurrentPage, p.TotalPages)
	}
	c.phase = p.Phase
	c.page = p.CurrentPage
	c.attempt = p.Attempt
}

// Done ends the progress bar line.
func (c *console) Done() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.clearLine()
}

func (c *console) clearLine() {
	if c.drawn {
		_, _ = fmt.Fprintln(c.out)
		c.drawn = false
	}
}

func bar(pct float64) string {
	n := int(pct / 100 * barWidth)
	if n < 0 {
		n = 0
	}
	if n > barWidth {
		n = barWidth
	}
	return "[" + strings.Repeat("#", n) + strings.Repeat(" ", barWidth-n) + "]"
}
