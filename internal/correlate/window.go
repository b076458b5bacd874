package correlate

import (
	"slices"
	"strings"
)

// window accumulates everything seen between two markers of one key
type window struct {
	key      string
	open     bool
	request  strings.Builder
	response strings.Builder
	lines    []string
}

func (w *window) begin(key string) {
	w.reset()
	w.key = key
	w.open = true
}

func (w *window) reset() {
	w.key = ""
	w.open = false
	w.request.Reset()
	w.response.Reset()
	w.lines = w.lines[:0]
}

// text joins the collected log lines, newest first for Reverse
func (w *window) text(order Order) string {
	lines := w.lines
	if order == Reverse {
		lines = slices.Clone(lines)
		slices.Reverse(lines)
	}
	return strings.TrimSpace(strings.Join(lines, "\n"))
}
