package profiler

import (
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/plcheck/plcheck"
)

// TraceLevel selects how much the tracer writes.
type TraceLevel int

// Trace levels.
const (
	// TraceTerse writes routine enter/exit lines and parameter bindings.
	TraceTerse TraceLevel = iota

	// TraceVerbose additionally writes every statement start/end with its
	// elapsed time.
	TraceVerbose
)

// Tracer writes nested execution trace lines. Output is ephemeral per call;
// nothing is stored. Safe for concurrent callers, though interleaved calls
// interleave their lines.
type Tracer struct {
	mu      sync.Mutex
	w       io.Writer
	level   TraceLevel
	enabled bool
	seq     int
	depth   int

	now func() time.Time
}

// NewTracer builds an enabled tracer writing to w.
func NewTracer(w io.Writer, level TraceLevel) *Tracer {
	return &Tracer{w: w, level: level, enabled: true, now: time.Now}
}

// SetEnabled toggles output. The pragma controller flips this around
// disable:tracer regions.
func (t *Tracer) SetEnabled(on bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.enabled = on
}

// TraceFrame identifies one traced routine invocation.
type TraceFrame struct {
	seq   int
	label string
	depth int
	start time.Time
}

// RoutineEnter writes the entry line and parameter bindings. args pairs
// parameter names with rendered values; nil means no bindings line.
func (t *Tracer) RoutineEnter(r *plcheck.Routine, args [][2]string) *TraceFrame {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.seq++
	f := &TraceFrame{seq: t.seq, label: r.Signature(), depth: t.depth, start: t.now()}
	t.depth++

	if !t.enabled {
		return f
	}

	t.linef(f, "->> entry of %s (call depth %d)", f.label, f.depth+1)

	if len(args) > 0 {
		bound := make([]string, len(args))
		for i, a := range args {
			bound[i] = fmt.Sprintf("%q => '%s'", a[0], a[1])
		}

		t.linef(f, "    %s", strings.Join(bound, ", "))
	}

	return f
}

// CalledFrom writes the attribution line for a nested invocation, naming the
// calling routine and the call-site line.
func (t *Tracer) CalledFrom(f *TraceFrame, caller string, line int) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if !t.enabled {
		return
	}

	t.linef(f, "    call by %s (line %d)", caller, line)
}

// RoutineExit writes the exit line with the frame's elapsed time.
func (t *Tracer) RoutineExit(f *TraceFrame) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.depth > 0 {
		t.depth--
	}

	if !t.enabled {
		return
	}

	t.linef(f, "<<- exit of %s (elapsed %s)", f.label, fmtElapsed(t.now().Sub(f.start)))
}

// StmtEnter writes a statement start line at verbose level and returns the
// start time for the matching StmtExit.
func (t *Tracer) StmtEnter(f *TraceFrame, s plcheck.Stmt) time.Time {
	t.mu.Lock()
	defer t.mu.Unlock()

	start := t.now()

	if t.enabled && t.level >= TraceVerbose {
		t.stmtLinef(f, s, "--> start of %s (line %d)", s.TypeName(), s.StmtPos().Line)
	}

	return start
}

// StmtExit writes the statement end line at verbose level.
func (t *Tracer) StmtExit(f *TraceFrame, s plcheck.Stmt, start time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.enabled && t.level >= TraceVerbose {
		t.stmtLinef(f, s, "<-- end of %s (elapsed %s)", s.TypeName(), fmtElapsed(t.now().Sub(start)))
	}
}

func (t *Tracer) linef(f *TraceFrame, format string, args ...any) {
	indent := strings.Repeat("  ", f.depth)
	fmt.Fprintf(t.w, "#%d %s%s\n", f.seq, indent, fmt.Sprintf(format, args...))
}

func (t *Tracer) stmtLinef(f *TraceFrame, s plcheck.Stmt, format string, args ...any) {
	indent := strings.Repeat("  ", f.depth+1)
	fmt.Fprintf(t.w, "#%d.%d %s%s\n", f.seq, s.StmtID(), indent, fmt.Sprintf(format, args...))
}

func fmtElapsed(d time.Duration) string {
	return fmt.Sprintf("%.3f ms", float64(d.Microseconds())/1000)
}
