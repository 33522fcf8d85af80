package checker

import (
	"errors"
	"fmt"

	"github.com/plcheck/plcheck"
	"github.com/plcheck/plcheck/catalog"
	"github.com/plcheck/plcheck/report"
)

// ErrTransitionTables is returned when old/new transition table names are
// given for a routine that is not a trigger.
var ErrTransitionTables = errors.New("old table or new table parameters are allowed only for trigger routines")

// ErrMissingTriggerTable is returned when a trigger routine is checked
// without naming the relation it fires on.
var ErrMissingTriggerTable = errors.New("missing description of trigger relation")

// checkContext is the state of one check invocation. One context per call;
// the routine and catalog it reads are never mutated.
type checkContext struct {
	routine   *plcheck.Routine
	scope     *scope
	cat       *overlayCatalog
	prober    routineProber
	pragmas   *pragmas
	collector *report.Collector

	cur     plcheck.Stmt
	stopped bool

	// subxact counts enclosing blocks with exception handlers; COMMIT and
	// ROLLBACK are illegal while it is positive.
	subxact int

	// quiet suppresses emission while re-typing expressions a pass has
	// already reported on.
	quiet int

	// declLine pins diagnostics to a DECLARE section entry while its
	// default expression and cursor query are checked.
	declLine int

	returnType *plcheck.Type
}

// emit records one diagnostic, filling statement context from the walk
// position when the caller left it blank.
func (c *checkContext) emit(d plcheck.Diagnostic) {
	if c.quiet > 0 {
		return
	}

	switch {
	case c.declLine > 0:
		d.Line = c.declLine
		d.StmtType = "DECLARE"
	case d.Line == 0 && c.cur != nil:
		d.Line = c.cur.StmtPos().Line
		d.StmtID = c.cur.StmtID()
		d.StmtType = c.cur.TypeName()
	}

	if !c.collector.Add(d) {
		c.stopped = true
	}
}

// emitAt records one diagnostic attributed to a specific statement rather
// than the one currently being walked.
func (c *checkContext) emitAt(s plcheck.Stmt, d plcheck.Diagnostic) {
	d.Line = s.StmtPos().Line
	d.StmtID = s.StmtID()
	d.StmtType = s.TypeName()

	c.emit(d)
}

// Check runs the static analysis of one parsed routine against a catalog and
// returns the collected report. The error return covers invocation mistakes
// only; findings about the routine itself are diagnostics in the report.
func Check(r *plcheck.Routine, cat catalog.Catalog, opts plcheck.Options) (*report.Report, error) {
	if (opts.OldTable != "" || opts.NewTable != "") && !r.IsTrigger() {
		return nil, ErrTransitionTables
	}

	if (r.Kind == plcheck.KindRowTrigger || r.Kind == plcheck.KindStatementTrigger) && opts.TriggerTable == "" {
		return nil, ErrMissingTriggerTable
	}

	c := &checkContext{
		routine:   r,
		scope:     newScope(),
		cat:       newOverlay(cat),
		pragmas:   newPragmas(),
		collector: report.NewCollector(r.Name, r.Signature(), opts),
	}

	if p, ok := cat.(routineProber); ok {
		c.prober = p
	}

	c.collector.Muted = func() bool { return !c.pragmas.checkEnabled() }

	if err := c.setupTrigger(opts); err != nil {
		return nil, err
	}

	c.setupParams()
	c.returnType = c.declaredReturnType()

	cs := c.walkStmt(r.Body)

	if !c.stopped {
		c.checkMissingReturn(cs)
		c.usageWarnings()
	}

	return c.collector.Report(), nil
}

// CheckSource parses and checks a routine in one call. Syntax errors become
// a report with a single diagnostic, matching how findings are consumed.
func CheckSource(filename, src string, cat catalog.Catalog, opts plcheck.Options) (*report.Report, error) {
	r, err := plcheck.ParseRoutine(filename, src)
	if err != nil {
		var perr *plcheck.ParseError
		if !errors.As(err, &perr) {
			return nil, err
		}

		rep := &report.Report{}
		rep.Diagnostics = append(rep.Diagnostics, plcheck.Diagnostic{
			Severity: plcheck.SeverityError,
			Code:     plcheck.CodeSyntaxError,
			Line:     perr.Pos.Line,
			Message:  "syntax error: " + perr.Message,
		})
		rep.Stopped = true

		return rep, nil
	}

	return Check(r, cat, opts)
}

// setupParams enters the routine's named parameters, the RETURNS TABLE
// columns and the FOUND pseudo variable into the root frame.
func (c *checkContext) setupParams() {
	for _, p := range c.routine.Params {
		if p.Name == "" {
			continue
		}

		c.scope.declare(&Variable{
			Name: p.Name,
			Kind: VarParam,
			Mode: p.Mode,
			Type: c.resolveTypeRef(p.Type),
		})
	}

	if c.routine.Returns != nil {
		for _, col := range c.routine.Returns.Cols {
			// RETURNS TABLE columns behave as OUT parameters
			c.scope.declare(&Variable{
				Name: col.Name,
				Kind: VarPseudo,
				Mode: plcheck.ModeOut,
				Type: c.resolveTypeRef(col.Type),
			})
		}
	}

	c.scope.declare(&Variable{
		Name: "found",
		Kind: VarPseudo,
		Type: c.namedType("boolean"),
	})
}

// triggerPseudoVars are the TG_* variables visible in trigger bodies, with
// their builtin type names.
var triggerPseudoVars = map[string]string{
	"tg_name":         "text",
	"tg_when":         "text",
	"tg_level":        "text",
	"tg_op":           "text",
	"tg_relname":      "text",
	"tg_table_name":   "text",
	"tg_table_schema": "text",
	"tg_nargs":        "integer",
}

// setupTrigger declares NEW, OLD and the TG_* pseudo variables and registers
// transition tables in the catalog overlay.
func (c *checkContext) setupTrigger(opts plcheck.Options) error {
	if !c.routine.IsTrigger() {
		return nil
	}

	if c.routine.Kind == plcheck.KindEventTrigger {
		c.scope.declare(&Variable{Name: "tg_event", Kind: VarPseudo, Type: c.namedType("text")})
		c.scope.declare(&Variable{Name: "tg_tag", Kind: VarPseudo, Type: c.namedType("text")})

		return nil
	}

	table, ok := c.cat.LookupTable(opts.TriggerTable)
	if !ok {
		return fmt.Errorf("trigger relation %q does not exist", opts.TriggerTable)
	}

	rowType := table.RowType()

	if c.routine.Kind == plcheck.KindRowTrigger {
		c.scope.declare(&Variable{Name: "new", Kind: VarPseudo, Type: rowType})
		c.scope.declare(&Variable{Name: "old", Kind: VarPseudo, Type: rowType})
	}

	for name, typ := range triggerPseudoVars {
		c.scope.declare(&Variable{Name: name, Kind: VarPseudo, Type: c.namedType(typ)})
	}

	argv := c.namedType("text")
	if argv.Kind == plcheck.KindConcrete {
		arr := *argv
		arr.Array = true
		argv = &arr
	}

	c.scope.declare(&Variable{Name: "tg_argv", Kind: VarPseudo, Type: argv})

	if opts.OldTable != "" {
		c.cat.addTable(&catalog.Table{Name: opts.OldTable, Columns: table.Columns})
	}

	if opts.NewTable != "" {
		c.cat.addTable(&catalog.Table{Name: opts.NewTable, Columns: table.Columns})
	}

	return nil
}

// declaredReturnType resolves the routine's declared scalar or element
// result type, used to check RETURN and RETURN NEXT values.
func (c *checkContext) declaredReturnType() *plcheck.Type {
	ret := c.routine.Returns
	if ret == nil {
		return plcheck.Unknown
	}

	switch ret.Kind {
	case plcheck.ReturnsScalar, plcheck.ReturnsSetOf:
		return c.resolveTypeRef(ret.Type)
	case plcheck.ReturnsTable:
		fields := make([]plcheck.RowField, len(ret.Cols))
		for i, col := range ret.Cols {
			fields[i] = plcheck.RowField{Name: col.Name, Type: c.resolveTypeRef(col.Type)}
		}

		return plcheck.Row("", fields)
	default:
		return plcheck.Unknown
	}
}

// checkMissingReturn reports control reaching the end of a function that
// must produce a value. A definite fall-through is an error; a fall-through
// on only some paths is an extra warning.
func (c *checkContext) checkMissingReturn(cs closing) {
	if cs.terminates() {
		return
	}

	r := c.routine

	switch {
	case r.Kind == plcheck.KindProcedure:
		return
	case r.Kind == plcheck.KindStatementTrigger || r.Kind == plcheck.KindEventTrigger:
		return
	case r.Kind == plcheck.KindFunction:
		if r.Returns == nil || r.Returns.Kind == plcheck.ReturnsVoid {
			return
		}

		// OUT parameters make a bare fall-through return them implicitly
		if c.hasOutParams() {
			return
		}
	}

	d := plcheck.Diagnostic{
		Severity: plcheck.SeverityError,
		Code:     plcheck.CodeNoReturn,
		Message:  "control reached end of function without RETURN",
	}
	if cs == closingPossibly {
		d.Severity = plcheck.SeverityWarning
		d.Category = plcheck.CategoryExtra
		d.Code = plcheck.CodeSuccess
	}

	c.emit(d)
}

// usageWarnings is the end-of-walk pass over every declared variable and
// parameter, in declaration order.
func (c *checkContext) usageWarnings() {
	for _, v := range c.scope.all {
		if c.stopped {
			return
		}

		switch v.Kind {
		case VarLoop, VarPseudo:
		case VarParam:
			c.paramUsage(v)
		default:
			c.variableUsage(v)
		}
	}
}

func (c *checkContext) paramUsage(v *Variable) {
	if !v.Read && !v.Written {
		c.emit(plcheck.Diagnostic{
			Severity: plcheck.SeverityWarning,
			Category: plcheck.CategoryExtra,
			Code:     plcheck.CodeSuccess,
			Message:  fmt.Sprintf("unused parameter %q", v.Name),
		})
	} else if !v.Read {
		// an INOUT procedure parameter is the procedure's result; writing
		// without reading is its normal use
		inoutResult := v.Mode == plcheck.ModeInOut && c.routine.Kind == plcheck.KindProcedure
		if !inoutResult {
			c.emit(plcheck.Diagnostic{
				Severity: plcheck.SeverityWarning,
				Category: plcheck.CategoryExtra,
				Code:     plcheck.CodeSuccess,
				Message:  fmt.Sprintf("parameter %q is never read", v.Name),
			})
		}
	}

	if (v.Mode == plcheck.ModeOut || v.Mode == plcheck.ModeInOut) && !v.Written {
		c.emit(plcheck.Diagnostic{
			Severity: plcheck.SeverityWarning,
			Category: plcheck.CategoryExtra,
			Code:     plcheck.CodeSuccess,
			Message:  fmt.Sprintf("unmodified OUT variable %q", v.Name),
		})
	}
}

func (c *checkContext) variableUsage(v *Variable) {
	switch {
	case !v.Read && !v.Written:
		c.emit(plcheck.Diagnostic{
			Severity: plcheck.SeverityWarning,
			Category: plcheck.CategoryOthers,
			Code:     plcheck.CodeSuccess,
			Line:     v.DeclLine,
			StmtType: "DECLARE",
			Message:  fmt.Sprintf("unused variable %q", v.Name),
		})
	case !v.Read:
		c.emit(plcheck.Diagnostic{
			Severity: plcheck.SeverityWarning,
			Category: plcheck.CategoryExtra,
			Code:     plcheck.CodeSuccess,
			Line:     v.DeclLine,
			StmtType: "DECLARE",
			Message:  fmt.Sprintf("never read variable %q", v.Name),
		})
	}
}
