package profiler

import "time"

// SetClock replaces the profiler's clock in tests.
func (p *Profiler) SetClock(now func() time.Time) { p.now = now }

// SetClock replaces the tracer's clock in tests.
func (t *Tracer) SetClock(now func() time.Time) { t.now = now }
