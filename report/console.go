package report

import (
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/plcheck/plcheck"
)

// Semantic colors for the console renderer.
var (
	colorError    = lipgloss.Color("#ef4444") // red-500
	colorWarning  = lipgloss.Color("#eab308") // yellow-500
	colorPerf     = lipgloss.Color("#f59e0b") // amber-500
	colorSecurity = lipgloss.Color("#d946ef") // fuchsia-500
	colorNotice   = lipgloss.Color("#06b6d4") // cyan-500
	colorDim      = lipgloss.Color("#6b7280") // gray-500
	colorAccent   = lipgloss.Color("#3b82f6") // blue-500
)

// Styles holds the lipgloss styles for console reports.
type Styles struct {
	Error    lipgloss.Style
	Warning  lipgloss.Style
	Perf     lipgloss.Style
	Security lipgloss.Style
	Notice   lipgloss.Style
	Routine  lipgloss.Style
	Location lipgloss.Style
	Dim      lipgloss.Style
}

// DefaultStyles returns the default console styles.
func DefaultStyles() *Styles {
	return &Styles{
		Error:    lipgloss.NewStyle().Foreground(colorError).Bold(true),
		Warning:  lipgloss.NewStyle().Foreground(colorWarning).Bold(true),
		Perf:     lipgloss.NewStyle().Foreground(colorPerf).Bold(true),
		Security: lipgloss.NewStyle().Foreground(colorSecurity).Bold(true),
		Notice:   lipgloss.NewStyle().Foreground(colorNotice),
		Routine:  lipgloss.NewStyle().Foreground(colorAccent).Bold(true),
		Location: lipgloss.NewStyle().Foreground(colorDim),
		Dim:      lipgloss.NewStyle().Foreground(colorDim),
	}
}

// PlainStyles returns styles with no color, for --no-color output.
func PlainStyles() *Styles {
	plain := lipgloss.NewStyle()

	return &Styles{
		Error: plain, Warning: plain, Perf: plain, Security: plain,
		Notice: plain, Routine: plain, Location: plain, Dim: plain,
	}
}

func (s *Styles) levelStyle(d *plcheck.Diagnostic) lipgloss.Style {
	if d.Severity == plcheck.SeverityWarning {
		switch d.Category {
		case plcheck.CategoryPerformance:
			return s.Perf
		case plcheck.CategorySecurity:
			return s.Security
		default:
			return s.Warning
		}
	}

	if d.Severity == plcheck.SeverityNotice {
		return s.Notice
	}

	return s.Error
}

// WriteConsole renders a human-oriented styled report.
func WriteConsole(w io.Writer, r *Report, styles *Styles) error {
	cw := &textWriter{w: w}

	cw.line("%s", styles.Routine.Render(r.Signature))

	if len(r.Diagnostics) == 0 {
		cw.line("  %s", styles.Dim.Render("no issues found"))

		return cw.err
	}

	errs, warns := 0, 0

	for i := range r.Diagnostics {
		d := &r.Diagnostics[i]

		if d.IsError() {
			errs++
		} else if d.Severity == plcheck.SeverityWarning {
			warns++
		}

		loc := ""
		if d.Line > 0 {
			loc = fmt.Sprintf("line %d", d.Line)
			if d.StmtType != "" {
				loc += " (" + d.StmtType + ")"
			}
		}

		cw.line("  %s %s %s",
			styles.levelStyle(d).Render(levelString(d)+":"),
			d.Message,
			styles.Location.Render(loc))

		if d.Query != "" {
			for _, qline := range strings.Split(d.Query, "\n") {
				cw.line("      %s", styles.Dim.Render(qline))
			}
		}

		if d.Detail != "" {
			cw.line("      %s", styles.Dim.Render("detail: "+d.Detail))
		}

		if d.Hint != "" {
			cw.line("      %s", styles.Dim.Render("hint: "+d.Hint))
		}
	}

	summary := fmt.Sprintf("%d error(s), %d warning(s)", errs, warns)

	if r.Stopped {
		summary += ", scan stopped at first error"
	}

	cw.line("  %s", styles.Dim.Render(summary))

	return cw.err
}
