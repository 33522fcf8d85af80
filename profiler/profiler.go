// Package profiler accumulates per-statement execution counters for checked
// routines and renders them as per-line coverage reports. Counters are keyed
// by (routine identity, statement id) and live in an injected Store; callers
// choose the store's scope and lifetime. Increment semantics under concurrent
// executions are at-least-once, adequate for a sampling profiler.
package profiler

import (
	"time"

	"github.com/plcheck/plcheck"
)

// StmtStats are the accumulated counters for one statement.
type StmtStats struct {
	ExecCount int64
	TotalTime time.Duration
	MaxTime   time.Duration
}

// Store persists statement counters. Implementations must be safe for
// concurrent use.
type Store interface {
	// Record adds one execution of the statement with its elapsed time.
	Record(routine string, stmtID int, elapsed time.Duration) error

	// Snapshot returns the routine's counters keyed by statement id.
	Snapshot(routine string) (map[int]StmtStats, error)

	// Reset clears one routine's counters.
	Reset(routine string) error

	// ResetAll clears every counter.
	ResetAll() error
}

// Profiler turns execution callbacks into store records. One Profiler may
// serve any number of concurrent invocations; per-call state lives in the
// Invocation handle.
type Profiler struct {
	store Store

	// now is the clock, replaceable in tests.
	now func() time.Time
}

// New builds a profiler writing to the given store.
func New(store Store) *Profiler {
	return &Profiler{store: store, now: time.Now}
}

// Invocation is the per-call profiling state: a stack of open statement
// frames mirroring the live statement nesting.
type Invocation struct {
	p       *Profiler
	routine string
	frames  []stmtFrame
	err     error
}

type stmtFrame struct {
	id    int
	start time.Time
}

// OnRoutineEnter opens an invocation.
func (p *Profiler) OnRoutineEnter(r *plcheck.Routine) *Invocation {
	return &Invocation{p: p, routine: r.Signature()}
}

// OnRoutineExit closes the invocation, flushing any statement frames still
// open (abnormal exits unwind through here). It returns the first store
// error encountered during the call.
func (p *Profiler) OnRoutineExit(inv *Invocation) error {
	for len(inv.frames) > 0 {
		inv.pop(inv.frames[len(inv.frames)-1].id)
	}

	return inv.err
}

// OnStmtEnter marks the start of one statement execution.
func (inv *Invocation) OnStmtEnter(s plcheck.Stmt) {
	inv.frames = append(inv.frames, stmtFrame{id: s.StmtID(), start: inv.p.now()})
}

// OnStmtExit records the statement's execution. Frames opened by nested
// statements that never saw an exit (exception unwind) are flushed along the
// way.
func (inv *Invocation) OnStmtExit(s plcheck.Stmt) {
	inv.pop(s.StmtID())
}

func (inv *Invocation) pop(id int) {
	for len(inv.frames) > 0 {
		top := inv.frames[len(inv.frames)-1]
		inv.frames = inv.frames[:len(inv.frames)-1]

		elapsed := inv.p.now().Sub(top.start)
		if err := inv.p.store.Record(inv.routine, top.id, elapsed); err != nil && inv.err == nil {
			inv.err = err
		}

		if top.id == id {
			return
		}
	}
}

// LineStats aggregates the counters of every statement starting on one
// source line.
type LineStats struct {
	Line      int
	StmtIDs   []int
	ExecCount int64
	TotalTime time.Duration
	MaxTime   time.Duration
}

// AvgTime is the mean execution time across the line's recorded executions.
func (l *LineStats) AvgTime() time.Duration {
	if l.ExecCount == 0 {
		return 0
	}

	return time.Duration(int64(l.TotalTime) / l.ExecCount)
}

// Coverage is the per-routine profiling report.
type Coverage struct {
	Routine string
	Lines   []LineStats

	ExecutedStmts int
	TotalStmts    int

	Branches        int
	CoveredBranches int
}

// StmtRatio is the fraction of statements executed at least once.
func (c *Coverage) StmtRatio() float64 {
	if c.TotalStmts == 0 {
		return 0
	}

	return float64(c.ExecutedStmts) / float64(c.TotalStmts)
}

// BranchRatio is the fraction of conditional arms entered at least once.
// A routine with no conditional statements has full branch coverage.
func (c *Coverage) BranchRatio() float64 {
	if c.Branches == 0 {
		return 1
	}

	return float64(c.CoveredBranches) / float64(c.Branches)
}

// Report builds the coverage view of one routine from the store's counters.
func Report(r *plcheck.Routine, store Store) (*Coverage, error) {
	snap, err := store.Snapshot(r.Signature())
	if err != nil {
		return nil, err
	}

	cov := &Coverage{Routine: r.Signature(), TotalStmts: r.NumStmts}

	byLine := map[int]*LineStats{}

	var lineOrder []int

	plcheck.WalkStmts([]plcheck.Stmt{r.Body}, func(s plcheck.Stmt) bool {
		stats := snap[s.StmtID()]
		if stats.ExecCount > 0 {
			cov.ExecutedStmts++
		}

		line := s.StmtPos().Line

		ls, ok := byLine[line]
		if !ok {
			ls = &LineStats{Line: line}
			byLine[line] = ls
			lineOrder = append(lineOrder, line)
		}

		ls.StmtIDs = append(ls.StmtIDs, s.StmtID())
		ls.TotalTime += stats.TotalTime

		if stats.ExecCount > ls.ExecCount {
			ls.ExecCount = stats.ExecCount
		}

		if stats.MaxTime > ls.MaxTime {
			ls.MaxTime = stats.MaxTime
		}

		countBranches(s, snap, cov)

		return true
	})

	for _, line := range lineOrder {
		cov.Lines = append(cov.Lines, *byLine[line])
	}

	return cov, nil
}

// countBranches counts the non-empty arms of conditional statements and how
// many were entered, judged by their first statement's counter.
func countBranches(s plcheck.Stmt, snap map[int]StmtStats, cov *Coverage) {
	arm := func(body []plcheck.Stmt) {
		if len(body) == 0 {
			return
		}

		cov.Branches++

		if snap[body[0].StmtID()].ExecCount > 0 {
			cov.CoveredBranches++
		}
	}

	switch st := s.(type) {
	case *plcheck.StmtIf:
		arm(st.Then)

		for _, e := range st.Elsifs {
			arm(e.Then)
		}

		arm(st.Else)
	case *plcheck.StmtCase:
		for _, w := range st.Whens {
			arm(w.Body)
		}

		arm(st.Else)
	}
}
