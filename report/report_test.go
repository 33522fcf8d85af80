package report_test

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/plcheck/plcheck"
	"github.com/plcheck/plcheck/report"
)

func errorDiag(line int, msg string) plcheck.Diagnostic {
	return plcheck.Diagnostic{
		Severity: plcheck.SeverityError,
		Code:     plcheck.CodeUndefinedColumn,
		Line:     line,
		StmtType: "SQL statement",
		Message:  msg,
	}
}

func extraWarning(msg string) plcheck.Diagnostic {
	return plcheck.Diagnostic{
		Severity: plcheck.SeverityWarning,
		Category: plcheck.CategoryExtra,
		Code:     plcheck.CodeSuccess,
		Line:     3,
		Message:  msg,
	}
}

func TestCollector_CategoryFiltering(t *testing.T) {
	t.Parallel()

	opts := plcheck.DefaultOptions()

	c := report.NewCollector("f", "f()", opts)
	c.Add(extraWarning("unused variable \"v\""))

	assert.Empty(t, c.Report().Diagnostics, "extra warnings are off by default")

	opts.ExtraWarnings = true
	c = report.NewCollector("f", "f()", opts)
	c.Add(extraWarning("unused variable \"v\""))

	assert.Len(t, c.Report().Diagnostics, 1)

	opts = plcheck.Options{AllWarnings: true}
	c = report.NewCollector("f", "f()", opts)
	c.Add(extraWarning("unused variable \"v\""))

	assert.Len(t, c.Report().Diagnostics, 1, "all-warnings implies extra")
}

func TestCollector_FatalStop(t *testing.T) {
	t.Parallel()

	c := report.NewCollector("f", "f()", plcheck.DefaultOptions())

	assert.False(t, c.Add(errorDiag(2, "column \"x\" does not exist")))
	assert.True(t, c.Stopped())

	c.Add(errorDiag(5, "later error"))

	r := c.Report()
	require.Len(t, r.Diagnostics, 1)
	assert.True(t, r.Stopped)

	// Without fatal errors the scan keeps going.
	c = report.NewCollector("f", "f()", plcheck.Options{OtherWarnings: true})

	assert.True(t, c.Add(errorDiag(2, "first")))
	assert.True(t, c.Add(errorDiag(5, "second")))
	assert.Len(t, c.Report().Diagnostics, 2)
}

func TestCollector_Muted(t *testing.T) {
	t.Parallel()

	muted := true

	c := report.NewCollector("f", "f()", plcheck.DefaultOptions())
	c.Muted = func() bool { return muted }

	assert.True(t, c.Add(errorDiag(2, "suppressed")))

	muted = false

	c.Add(errorDiag(4, "visible"))

	r := c.Report()
	require.Len(t, r.Diagnostics, 1)
	assert.Equal(t, "visible", r.Diagnostics[0].Message)
}

func TestWriteText(t *testing.T) {
	t.Parallel()

	r := &report.Report{Signature: "fx(integer)"}
	r.Diagnostics = append(r.Diagnostics, plcheck.Diagnostic{
		Severity: plcheck.SeverityError,
		Code:     plcheck.CodeUndefinedColumn,
		Line:     4,
		StmtType: "SQL statement",
		Message:  `column "c" of relation "t1" does not exist`,
		Query:    "insert into t1(a,b,c) values(10,20,30)",
		Position: 20,
		Hint:     "check the column list",
	}, plcheck.Diagnostic{
		Severity: plcheck.SeverityWarning,
		Category: plcheck.CategoryExtra,
		Code:     plcheck.CodeSuccess,
		Line:     2,
		Message:  `unused variable "v"`,
	})

	var sb strings.Builder

	require.NoError(t, report.WriteText(&sb, r))

	out := sb.String()
	lines := strings.Split(strings.TrimRight(out, "\n"), "\n")

	assert.Equal(t, "function:fx(integer)", lines[0])
	assert.Equal(t,
		`error:42703:4:SQL statement:column "c" of relation "t1" does not exist`,
		lines[1])
	assert.Equal(t, "Query: insert into t1(a,b,c) values(10,20,30)", lines[2])
	assert.Equal(t, "--     "+strings.Repeat(" ", 19)+"^", lines[3])
	assert.Equal(t, "Hint: check the column list", lines[4])

	// Declaration-scoped findings have no statement type.
	assert.Equal(t, `warning extra:00000:2:DECLARE:unused variable "v"`, lines[5])
}

func TestWriteJSONAndXML(t *testing.T) {
	t.Parallel()

	r := &report.Report{Signature: "fx()"}
	r.Diagnostics = append(r.Diagnostics, errorDiag(4, "boom"))

	var jsonOut strings.Builder

	require.NoError(t, report.WriteJSON(&jsonOut, r))
	assert.Contains(t, jsonOut.String(), `"level": "error"`)
	assert.Contains(t, jsonOut.String(), `"sqlState": "42703"`)
	assert.Contains(t, jsonOut.String(), `"lineNumber": 4`)

	var xmlOut strings.Builder

	require.NoError(t, report.WriteXML(&xmlOut, r))
	assert.Contains(t, xmlOut.String(), "<Level>error</Level>")
	assert.Contains(t, xmlOut.String(), `<Stmt lineno="4">SQL statement</Stmt>`)
}

func TestWriteConsole_Plain(t *testing.T) {
	t.Parallel()

	r := &report.Report{Signature: "fx()"}
	r.Diagnostics = append(r.Diagnostics, errorDiag(4, "boom"))

	var sb strings.Builder

	require.NoError(t, report.WriteConsole(&sb, r, report.PlainStyles()))
	assert.Contains(t, sb.String(), "error: boom")
	assert.Contains(t, sb.String(), "1 error(s), 0 warning(s)")
}

func TestPolicy(t *testing.T) {
	t.Parallel()

	p, err := report.LoadPolicy([]byte(`
rules:
  - name: ignore unused
    when: category == "extra" && message startsWith "unused"
    action: suppress
  - name: security is fatal
    when: category == "security"
    action: promote
`))
	require.NoError(t, err)

	r := &report.Report{}
	r.Diagnostics = append(r.Diagnostics,
		extraWarning(`unused variable "v"`),
		plcheck.Diagnostic{
			Severity: plcheck.SeverityWarning,
			Category: plcheck.CategorySecurity,
			Code:     plcheck.CodeSuccess,
			Message:  "unsafe dynamic SQL",
		},
		errorDiag(2, "kept"),
	)

	p.Apply(r)

	require.Len(t, r.Diagnostics, 2)
	assert.Equal(t, plcheck.SeverityError, r.Diagnostics[0].Severity, "security promoted")
	assert.Equal(t, "kept", r.Diagnostics[1].Message)
}

func TestPolicy_BadAction(t *testing.T) {
	t.Parallel()

	_, err := report.LoadPolicy([]byte(`
rules:
  - when: "true"
    action: explode
`))
	require.ErrorIs(t, err, report.ErrBadPolicyAction)
}
