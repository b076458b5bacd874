package report

import (
	"fmt"
	"io"

	"github.com/fatih/color"
)

// Progress prints a single updating line of committed tests
type Progress struct {
	w     io.Writer
	label *color.Color
	count *color.Color
	last  int
}

// NewProgress creates a Progress writing to w
func NewProgress(w io.Writer) *Progress {
	return &Progress{
		w:     w,
		label: color.New(color.FgCyan),
		count: color.New(color.Bold),
		last:  -1,
	}
}

// Update redraws the line; it matches correlate.Hooks.OnProgress
func (p *Progress) Update(done, total int) {
	if done == p.last {
		return
	}
	p.last = done
	if total > 0 {
		fmt.Fprintf(p.w, "\r%s %s/%d", p.label.Sprint("committed"), p.count.Sprint(done), total)
		return
	}
	fmt.Fprintf(p.w, "\r%s %s", p.label.Sprint("committed"), p.count.Sprint(done))
}

// Done ends the progress line
func (p *Progress) Done() {
	if p.last >= 0 {
		fmt.Fprintln(p.w)
	}
}
