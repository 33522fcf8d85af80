// Package report collects diagnostics and renders them as text rows, XML,
// JSON or styled console output. Collection order is discovery order; the
// renderers only change serialization.
package report

import "github.com/plcheck/plcheck"

// Report is the outcome of checking one routine.
type Report struct {
	Routine     string
	Signature   string
	Diagnostics []plcheck.Diagnostic

	// Stopped is set when fatal-errors aborted the scan before the walk
	// finished.
	Stopped bool
}

// HasErrors reports whether any collected diagnostic is an error.
func (r *Report) HasErrors() bool {
	for i := range r.Diagnostics {
		if r.Diagnostics[i].IsError() {
			return true
		}
	}

	return false
}

// Collector accumulates diagnostics for one routine, applying the category
// enable flags and the fatal-errors stop policy.
type Collector struct {
	opts    plcheck.Options
	report  Report
	stopped bool

	// Muted is consulted before every add; the checker points it at the
	// pragma controller so disable:check regions emit nothing.
	Muted func() bool
}

// NewCollector builds a collector for the named routine.
func NewCollector(routine, signature string, opts plcheck.Options) *Collector {
	return &Collector{
		opts:   opts,
		report: Report{Routine: routine, Signature: signature},
	}
}

// Add records one diagnostic, unless muted, disabled by category flags, or
// collected after a fatal stop. Reports whether the scan should continue.
func (c *Collector) Add(d plcheck.Diagnostic) bool {
	if c.stopped {
		return false
	}

	if c.Muted != nil && c.Muted() {
		return true
	}

	switch d.Severity {
	case plcheck.SeverityError:
		// always reported
	case plcheck.SeverityWarning:
		if !c.opts.WarningEnabled(d.Category) {
			return true
		}
	case plcheck.SeverityNotice:
		if !c.opts.OtherWarnings && !c.opts.AllWarnings {
			return true
		}
	}

	c.report.Diagnostics = append(c.report.Diagnostics, d)

	if d.IsError() && c.opts.FatalErrors {
		c.stopped = true
		c.report.Stopped = true

		return false
	}

	return true
}

// Stopped reports whether a fatal error ended the scan.
func (c *Collector) Stopped() bool { return c.stopped }

// Report returns the collected report.
func (c *Collector) Report() *Report { return &c.report }

// levelString renders the severity+category label used by the text and
// structured formats: error, warning, warning extra, performance, security,
// notice.
func levelString(d *plcheck.Diagnostic) string {
	if d.Severity == plcheck.SeverityWarning {
		switch d.Category {
		case plcheck.CategoryExtra:
			return "warning extra"
		case plcheck.CategoryPerformance:
			return "performance"
		case plcheck.CategorySecurity:
			return "security"
		default:
			return "warning"
		}
	}

	return d.Severity.String()
}
