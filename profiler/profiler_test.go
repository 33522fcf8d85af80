package profiler_test

import (
	"bytes"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/plcheck/plcheck"
	"github.com/plcheck/plcheck/profiler"
)

const sampleRoutine = `
CREATE FUNCTION fx(a integer) RETURNS integer AS $$
BEGIN
  IF a > 0 THEN
    RETURN a;
  END IF;
  RETURN 0;
END;
$$;`

func parseSample(t *testing.T) *plcheck.Routine {
	t.Helper()

	r, err := plcheck.ParseRoutine("test.sql", sampleRoutine)
	require.NoError(t, err)
	require.Equal(t, 4, r.NumStmts)

	return r
}

// stepClock returns a clock advancing one millisecond per reading.
func stepClock() func() time.Time {
	base := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	n := 0

	return func() time.Time {
		ts := base.Add(time.Duration(n) * time.Millisecond)
		n++

		return ts
	}
}

func TestMemStore(t *testing.T) {
	t.Parallel()

	store := profiler.NewMemStore()

	require.NoError(t, store.Record("fx(integer)", 1, 2*time.Millisecond))
	require.NoError(t, store.Record("fx(integer)", 1, 4*time.Millisecond))
	require.NoError(t, store.Record("fx(integer)", 2, time.Millisecond))
	require.NoError(t, store.Record("gx()", 1, time.Millisecond))

	snap, err := store.Snapshot("fx(integer)")
	require.NoError(t, err)
	assert.Equal(t, map[int]profiler.StmtStats{
		1: {ExecCount: 2, TotalTime: 6 * time.Millisecond, MaxTime: 4 * time.Millisecond},
		2: {ExecCount: 1, TotalTime: time.Millisecond, MaxTime: time.Millisecond},
	}, snap)

	require.NoError(t, store.Reset("fx(integer)"))

	snap, err = store.Snapshot("fx(integer)")
	require.NoError(t, err)
	assert.Empty(t, snap)

	snap, err = store.Snapshot("gx()")
	require.NoError(t, err)
	assert.Len(t, snap, 1)

	require.NoError(t, store.ResetAll())

	snap, err = store.Snapshot("gx()")
	require.NoError(t, err)
	assert.Empty(t, snap)
}

func TestProfiler_RecordsNestedStatements(t *testing.T) {
	t.Parallel()

	r := parseSample(t)

	block := r.Body
	ifStmt := block.Body[0].(*plcheck.StmtIf)
	ret := ifStmt.Then[0]

	store := profiler.NewMemStore()
	p := profiler.New(store)
	p.SetClock(stepClock())

	inv := p.OnRoutineEnter(r)
	inv.OnStmtEnter(block)
	inv.OnStmtEnter(ifStmt)
	inv.OnStmtEnter(ret)
	inv.OnStmtExit(ret)
	inv.OnStmtExit(ifStmt)
	inv.OnStmtExit(block)
	require.NoError(t, p.OnRoutineExit(inv))

	snap, err := store.Snapshot(r.Signature())
	require.NoError(t, err)

	assert.Equal(t, int64(1), snap[ret.StmtID()].ExecCount)
	assert.Equal(t, time.Millisecond, snap[ret.StmtID()].TotalTime)
	assert.Equal(t, 3*time.Millisecond, snap[ifStmt.StmtID()].TotalTime)
	assert.Equal(t, 5*time.Millisecond, snap[block.StmtID()].TotalTime)
}

func TestProfiler_AbnormalExitFlushesOpenFrames(t *testing.T) {
	t.Parallel()

	r := parseSample(t)

	block := r.Body
	ifStmt := block.Body[0].(*plcheck.StmtIf)
	ret := ifStmt.Then[0]

	store := profiler.NewMemStore()
	p := profiler.New(store)
	p.SetClock(stepClock())

	// Simulate an exception unwinding through three open statements.
	inv := p.OnRoutineEnter(r)
	inv.OnStmtEnter(block)
	inv.OnStmtEnter(ifStmt)
	inv.OnStmtEnter(ret)
	require.NoError(t, p.OnRoutineExit(inv))

	snap, err := store.Snapshot(r.Signature())
	require.NoError(t, err)
	require.Len(t, snap, 3)
	assert.Equal(t, int64(1), snap[block.StmtID()].ExecCount)
	assert.Equal(t, int64(1), snap[ifStmt.StmtID()].ExecCount)
	assert.Equal(t, int64(1), snap[ret.StmtID()].ExecCount)
}

func TestReport_Coverage(t *testing.T) {
	t.Parallel()

	r := parseSample(t)

	block := r.Body
	ifStmt := block.Body[0].(*plcheck.StmtIf)
	thenRet := ifStmt.Then[0]
	finalRet := block.Body[1]

	store := profiler.NewMemStore()
	sig := r.Signature()

	// Two calls, both taking the THEN branch. The final RETURN never runs.
	require.NoError(t, store.Record(sig, block.StmtID(), 5*time.Millisecond))
	require.NoError(t, store.Record(sig, block.StmtID(), 7*time.Millisecond))
	require.NoError(t, store.Record(sig, ifStmt.StmtID(), 3*time.Millisecond))
	require.NoError(t, store.Record(sig, ifStmt.StmtID(), 3*time.Millisecond))
	require.NoError(t, store.Record(sig, thenRet.StmtID(), time.Millisecond))
	require.NoError(t, store.Record(sig, thenRet.StmtID(), 3*time.Millisecond))

	cov, err := profiler.Report(r, store)
	require.NoError(t, err)

	assert.Equal(t, sig, cov.Routine)
	assert.Equal(t, 4, cov.TotalStmts)
	assert.Equal(t, 3, cov.ExecutedStmts)
	assert.InDelta(t, 0.75, cov.StmtRatio(), 1e-9)

	// The IF has one non-empty arm and it was entered.
	assert.Equal(t, 1, cov.Branches)
	assert.Equal(t, 1, cov.CoveredBranches)
	assert.InDelta(t, 1.0, cov.BranchRatio(), 1e-9)

	retLine := lineFor(t, cov, thenRet.StmtPos().Line)
	assert.Equal(t, int64(2), retLine.ExecCount)
	assert.Equal(t, 4*time.Millisecond, retLine.TotalTime)
	assert.Equal(t, 3*time.Millisecond, retLine.MaxTime)
	assert.Equal(t, 2*time.Millisecond, retLine.AvgTime())

	deadLine := lineFor(t, cov, finalRet.StmtPos().Line)
	assert.Equal(t, int64(0), deadLine.ExecCount)

	// Lines come out in statement order.
	for i := 1; i < len(cov.Lines); i++ {
		assert.Greater(t, cov.Lines[i].Line, cov.Lines[i-1].Line)
	}
}

func TestReport_UncoveredBranch(t *testing.T) {
	t.Parallel()

	r := parseSample(t)

	block := r.Body
	sig := r.Signature()

	store := profiler.NewMemStore()
	require.NoError(t, store.Record(sig, block.StmtID(), time.Millisecond))

	cov, err := profiler.Report(r, store)
	require.NoError(t, err)

	assert.Equal(t, 1, cov.Branches)
	assert.Equal(t, 0, cov.CoveredBranches)
	assert.InDelta(t, 0, cov.BranchRatio(), 1e-9)
}

func lineFor(t *testing.T, cov *profiler.Coverage, line int) profiler.LineStats {
	t.Helper()

	for _, ls := range cov.Lines {
		if ls.Line == line {
			return ls
		}
	}

	t.Fatalf("no stats for line %d", line)

	return profiler.LineStats{}
}

func TestSQLiteStore(t *testing.T) {
	t.Parallel()

	store, err := profiler.OpenSQLite(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	require.NoError(t, store.Record("fx(integer)", 1, 2*time.Millisecond))
	require.NoError(t, store.Record("fx(integer)", 1, 4*time.Millisecond))
	require.NoError(t, store.Record("fx(integer)", 3, time.Millisecond))
	require.NoError(t, store.Record("gx()", 1, time.Millisecond))

	snap, err := store.Snapshot("fx(integer)")
	require.NoError(t, err)
	assert.Equal(t, map[int]profiler.StmtStats{
		1: {ExecCount: 2, TotalTime: 6 * time.Millisecond, MaxTime: 4 * time.Millisecond},
		3: {ExecCount: 1, TotalTime: time.Millisecond, MaxTime: time.Millisecond},
	}, snap)

	names, err := store.Routines()
	require.NoError(t, err)
	assert.Equal(t, []string{"fx(integer)", "gx()"}, names)

	require.NoError(t, store.Reset("fx(integer)"))

	names, err = store.Routines()
	require.NoError(t, err)
	assert.Equal(t, []string{"gx()"}, names)

	require.NoError(t, store.ResetAll())

	names, err = store.Routines()
	require.NoError(t, err)
	assert.Empty(t, names)
}

func TestTracer_Verbose(t *testing.T) {
	t.Parallel()

	r := parseSample(t)
	ifStmt := r.Body.Body[0]

	var buf bytes.Buffer

	tr := profiler.NewTracer(&buf, profiler.TraceVerbose)
	tr.SetClock(stepClock())

	f := tr.RoutineEnter(r, [][2]string{{"a", "10"}})
	start := tr.StmtEnter(f, ifStmt)
	tr.StmtExit(f, ifStmt, start)
	tr.RoutineExit(f)

	want := fmt.Sprintf(`#1 ->> entry of fx(integer) (call depth 1)
#1     "a" => '10'
#1.%[1]d   --> start of IF (line %[2]d)
#1.%[1]d   <-- end of IF (elapsed 1.000 ms)
#1 <<- exit of fx(integer) (elapsed 3.000 ms)
`, ifStmt.StmtID(), ifStmt.StmtPos().Line)
	assert.Equal(t, want, buf.String())
}

func TestTracer_Terse(t *testing.T) {
	t.Parallel()

	r := parseSample(t)
	ifStmt := r.Body.Body[0]

	var buf bytes.Buffer

	tr := profiler.NewTracer(&buf, profiler.TraceTerse)
	tr.SetClock(stepClock())

	f := tr.RoutineEnter(r, nil)
	start := tr.StmtEnter(f, ifStmt)
	tr.StmtExit(f, ifStmt, start)
	tr.RoutineExit(f)

	want := `#1 ->> entry of fx(integer) (call depth 1)
#1 <<- exit of fx(integer) (elapsed 3.000 ms)
`
	assert.Equal(t, want, buf.String())
}

func TestTracer_NestedCalls(t *testing.T) {
	t.Parallel()

	r := parseSample(t)

	var buf bytes.Buffer

	tr := profiler.NewTracer(&buf, profiler.TraceTerse)
	tr.SetClock(stepClock())

	outer := tr.RoutineEnter(r, nil)
	inner := tr.RoutineEnter(r, nil)
	tr.CalledFrom(inner, r.Signature(), 3)
	tr.RoutineExit(inner)
	tr.RoutineExit(outer)

	want := `#1 ->> entry of fx(integer) (call depth 1)
#2   ->> entry of fx(integer) (call depth 2)
#2       call by fx(integer) (line 3)
#2   <<- exit of fx(integer) (elapsed 1.000 ms)
#1 <<- exit of fx(integer) (elapsed 3.000 ms)
`
	assert.Equal(t, want, buf.String())
}

func TestTracer_Disabled(t *testing.T) {
	t.Parallel()

	r := parseSample(t)

	var buf bytes.Buffer

	tr := profiler.NewTracer(&buf, profiler.TraceVerbose)
	tr.SetClock(stepClock())
	tr.SetEnabled(false)

	f := tr.RoutineEnter(r, [][2]string{{"a", "10"}})
	tr.RoutineExit(f)

	assert.Empty(t, buf.String())
}
