package report

import (
	"fmt"
	"io"
	"strings"

	"github.com/plcheck/plcheck"
)

// WriteText renders the report as flat text rows:
//
//	level:SQLSTATE:line:statement type:message
//
// followed by optional Query (with caret), Detail, Hint and Context
// continuation lines.
func WriteText(w io.Writer, r *Report) error {
	tw := &textWriter{w: w}

	tw.line("function:%s", r.Signature)

	for i := range r.Diagnostics {
		tw.diagnostic(&r.Diagnostics[i])
	}

	return tw.err
}

type textWriter struct {
	w   io.Writer
	err error
}

func (t *textWriter) line(format string, args ...any) {
	if t.err != nil {
		return
	}

	_, t.err = fmt.Fprintf(t.w, format+"\n", args...)
}

func (t *textWriter) diagnostic(d *plcheck.Diagnostic) {
	if d.Line > 0 && d.StmtType != "" {
		t.line("%s:%s:%d:%s:%s", levelString(d), d.Code, d.Line, d.StmtType, d.Message)
	} else if d.Line > 0 {
		t.line("%s:%s:%d:%s:%s", levelString(d), d.Code, d.Line, "DECLARE", d.Message)
	} else {
		t.line("%s:%s:%s", levelString(d), d.Code, d.Message)
	}

	if d.Query != "" {
		t.query(d.Query, d.Position)
	}

	if d.Detail != "" {
		t.line("Detail: %s", d.Detail)
	}

	if d.Hint != "" {
		t.line("Hint: %s", d.Hint)
	}

	if d.Context != "" {
		t.line("Context: %s", d.Context)
	}
}

// query writes the embedded statement, continuation lines indented to align
// under the first, with a caret line after the line holding position (a
// 1-based rune offset into the whole query).
func (t *textWriter) query(query string, position int) {
	remaining := position

	for i, line := range strings.Split(query, "\n") {
		if i == 0 {
			t.line("Query: %s", line)
		} else {
			t.line("       %s", line)
		}

		runes := len([]rune(line)) + 1 // the split newline

		if remaining > 0 && remaining <= runes {
			t.line("--     %*s", remaining, "^")

			remaining = 0

			continue
		}

		if remaining > 0 {
			remaining -= runes
		}
	}
}
