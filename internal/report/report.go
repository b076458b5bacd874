// Package report renders evaluation results for people and for tools.
package report

import (
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/goccy/go-json"

	"github.com/studiowebux/ftwbench/internal/evaluate"
	"github.com/studiowebux/ftwbench/internal/types"
)

// DefaultWidth is used when the terminal width is unknown
const DefaultWidth = 100

// Report is the result of evaluating a run
type Report struct {
	Run     *types.Run         `json:"run,omitempty"`
	Summary evaluate.Summary   `json:"summary"`
	Results []evaluate.Verdict `json:"results"`
}

// New assembles a report
func New(run *types.Run, verdicts []evaluate.Verdict, summary evaluate.Summary) Report {
	return Report{Run: run, Summary: summary, Results: verdicts}
}

// Options controls rendering
type Options struct {
	// Width of the table in columns; 0 uses DefaultWidth
	Width int
	// FailedOnly hides passed tests
	FailedOnly bool
}

func (r Report) visible(opts Options) []evaluate.Verdict {
	if !opts.FailedOnly {
		return r.Results
	}
	var out []evaluate.Verdict
	for _, v := range r.Results {
		if !v.Passed {
			out = append(out, v)
		}
	}
	return out
}

// WriteJSON writes the report as indented JSON
func WriteJSON(w io.Writer, r Report, opts Options) error {
	r.Results = r.visible(opts)
	if r.Results == nil {
		r.Results = []evaluate.Verdict{}
	}
	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal report: %w", err)
	}
	data = append(data, '\n')
	_, err = w.Write(data)
	return err
}

// WriteTable writes one row per test and a summary line
func WriteTable(w io.Writer, r Report, opts Options) error {
	width := opts.Width
	if width <= 0 {
		width = DefaultWidth
	}

	re := lipgloss.NewRenderer(w)
	var (
		stylePass    = re.NewStyle().Foreground(lipgloss.AdaptiveColor{Light: "#006400", Dark: "#00ff00"}).Bold(true)
		styleFail    = re.NewStyle().Foreground(lipgloss.AdaptiveColor{Light: "#8b0000", Dark: "#ff0000"}).Bold(true)
		styleMissing = re.NewStyle().Foreground(lipgloss.AdaptiveColor{Light: "#b8860b", Dark: "#ffff00"}).Bold(true)
		styleSubtle  = re.NewStyle().Foreground(lipgloss.AdaptiveColor{Light: "#555555", Dark: "#888888"})
		styleHeader  = re.NewStyle().Bold(true).Underline(true)
	)

	const resultWidth = 6
	titleWidth := min(32, max(12, width/4))
	detailWidth := max(10, width-resultWidth-titleWidth-2)

	cell := func(s string, n int) string {
		return re.NewStyle().Width(n).MaxWidth(n).Render(truncate(s, n))
	}

	var b strings.Builder
	b.WriteString(lipgloss.JoinHorizontal(lipgloss.Top,
		styleHeader.Render(cell("RESULT", resultWidth)), " ",
		styleHeader.Render(cell("TEST", titleWidth)), " ",
		styleHeader.Render(cell("DETAILS", detailWidth)),
	))
	b.WriteString("\n")

	for _, v := range r.visible(opts) {
		var result, details string
		switch {
		case v.Missing:
			result = styleMissing.Render(cell("MISS", resultWidth))
			details = styleSubtle.Render(cell("nothing captured for "+v.ID, detailWidth))
		case v.Passed:
			result = stylePass.Render(cell("PASS", resultWidth))
			details = styleSubtle.Render(cell(checkKinds(v.Checks), detailWidth))
		default:
			result = styleFail.Render(cell("FAIL", resultWidth))
			details = cell(failureText(v), detailWidth)
		}
		b.WriteString(lipgloss.JoinHorizontal(lipgloss.Top, result, " ", cell(v.Title, titleWidth), " ", details))
		b.WriteString("\n")
	}

	s := r.Summary
	summary := fmt.Sprintf("%d tests: %s passed, %s failed, %s missing",
		s.Total,
		stylePass.Render(fmt.Sprint(s.Passed)),
		styleFail.Render(fmt.Sprint(s.Failed)),
		styleMissing.Render(fmt.Sprint(s.Missing)),
	)
	b.WriteString("\n" + summary + "\n")

	_, err := io.WriteString(w, b.String())
	return err
}

func checkKinds(checks []evaluate.Check) string {
	kinds := make([]string, 0, len(checks))
	for _, c := range checks {
		kinds = append(kinds, string(c.Kind))
	}
	return strings.Join(kinds, ", ")
}

func failureText(v evaluate.Verdict) string {
	var parts []string
	for _, c := range v.Failed() {
		parts = append(parts, string(c.Kind)+": "+c.Message)
	}
	return strings.Join(parts, "; ")
}

// truncate shortens s to n runes, marking the cut with an ellipsis
func truncate(s string, n int) string {
	s = strings.ReplaceAll(s, "\n", " ")
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	if n <= 1 {
		return string(r[:n])
	}
	return string(r[:n-1]) + "…"
}
