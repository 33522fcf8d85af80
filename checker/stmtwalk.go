package checker

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/plcheck/plcheck"
	"github.com/plcheck/plcheck/catalog"
	"github.com/plcheck/plcheck/sqlscan"
)

// closing is the reachability state a statement or statement list leaves
// behind: whether every path through it ends routine execution.
type closing int

const (
	closingUnclosed closing = iota
	closingPossibly         // some paths terminate
	closingClosed
	closingByExceptions // terminates by raising
)

func (cl closing) terminates() bool {
	return cl == closingClosed || cl == closingByExceptions
}

// walkList checks a statement list, threading reachability between siblings.
// Statements after a terminator are still checked but flagged once per
// maximal dead region.
func (c *checkContext) walkList(stmts []plcheck.Stmt) closing {
	result := closingUnclosed
	dead := false
	alerted := false

	for _, s := range stmts {
		if c.stopped {
			return result
		}

		if dead && !alerted && s.StmtPos().Line > 0 {
			c.emitAt(s, plcheck.Diagnostic{
				Severity: plcheck.SeverityWarning,
				Category: plcheck.CategoryExtra,
				Code:     plcheck.CodeSuccess,
				Message:  "unreachable code",
			})

			alerted = true
		}

		cs := c.walkStmt(s)

		if !dead {
			switch {
			case cs.terminates():
				result = cs
				dead = true
				alerted = false
			case cs == closingPossibly && result == closingUnclosed:
				result = closingPossibly
			}
		}
	}

	return result
}

// walkStmt dispatches over the closed statement kind set.
//
//nolint:cyclop,funlen // exhaustive dispatch, one arm per statement kind
func (c *checkContext) walkStmt(s plcheck.Stmt) closing {
	prev := c.cur
	c.cur = s

	defer func() { c.cur = prev }()

	switch st := s.(type) {
	case *plcheck.Block:
		return c.walkBlock(st)
	case *plcheck.StmtAssign:
		return c.walkAssign(st)
	case *plcheck.StmtIf:
		return c.walkIf(st)
	case *plcheck.StmtCase:
		return c.walkCase(st)
	case *plcheck.StmtLoop:
		return c.walkLoop(st)
	case *plcheck.StmtWhile:
		c.checkCond(st.Cond, "WHILE")
		c.walkLoopBody(st.Label, st.Body)

		return closingUnclosed
	case *plcheck.StmtForI:
		return c.walkForI(st)
	case *plcheck.StmtForQuery:
		return c.walkForQuery(st)
	case *plcheck.StmtForCursor:
		return c.walkForCursor(st)
	case *plcheck.StmtForeach:
		return c.walkForeach(st)
	case *plcheck.StmtExit:
		return c.walkExit(st)
	case *plcheck.StmtReturn:
		return c.walkReturn(st)
	case *plcheck.StmtReturnNext:
		c.requireSetReturning("RETURN NEXT")
		c.checkAssign(c.returnType, c.typeOf(st.Value))

		return closingUnclosed
	case *plcheck.StmtReturnQuery:
		c.requireSetReturning("RETURN QUERY")

		if st.Dynamic != nil {
			c.checkDynamicSQL(st.Dynamic, st.Using, nil)
		} else {
			c.scanEmbedded(st.Query, embeddedOpts{})
		}

		return closingUnclosed
	case *plcheck.StmtRaise:
		return c.walkRaise(st)
	case *plcheck.StmtAssert:
		c.checkCond(st.Cond, "ASSERT")
		c.typeOf(st.Message)

		return closingUnclosed
	case *plcheck.StmtSQL:
		c.scanEmbedded(st.SQL, embeddedOpts{into: st.Into, topLevel: true})

		return closingUnclosed
	case *plcheck.StmtPerform:
		return c.walkPerform(st)
	case *plcheck.StmtExecute:
		c.checkDynamicSQL(st.Query, st.Using, st.Into)

		return closingUnclosed
	case *plcheck.StmtGetDiag:
		return c.walkGetDiag(st)
	case *plcheck.StmtOpen:
		return c.walkOpen(st)
	case *plcheck.StmtFetch:
		return c.walkFetch(st)
	case *plcheck.StmtClose:
		if v := c.resolveCursor(st.Cursor); v != nil {
			v.markRead()
		}

		return closingUnclosed
	case *plcheck.StmtCommit:
		return c.walkTxn("COMMIT")
	case *plcheck.StmtRollback:
		return c.walkTxn("ROLLBACK")
	case *plcheck.StmtCall:
		c.typeOf(st.Call)

		return closingUnclosed
	case *plcheck.StmtNull:
		return closingUnclosed
	default:
		return closingUnclosed
	}
}

func (c *checkContext) walkBlock(b *plcheck.Block) closing {
	c.scope.push(b.Label, false, false)
	c.pragmas.push()

	defer func() {
		c.pragmas.pop()
		c.scope.pop()
	}()

	for _, d := range b.Decls {
		c.declare(d)
	}

	hasHandlers := len(b.Handlers) > 0

	if hasHandlers {
		c.subxact++
	}

	body := c.walkList(b.Body)

	if !hasHandlers {
		return body
	}

	// The subtransaction stays open for the handlers too; COMMIT/ROLLBACK is
	// illegal anywhere inside a block with an exception clause.
	defer func() { c.subxact-- }()

	allHandlersClose := true

	for _, h := range b.Handlers {
		c.scope.push("", false, true)
		c.pragmas.push()

		hc := c.walkList(h.Body)

		c.pragmas.pop()
		c.scope.pop()

		if !hc.terminates() {
			allHandlersClose = false
		}
	}

	switch {
	case body.terminates() && allHandlersClose:
		return closingClosed
	case body.terminates() || body == closingPossibly:
		return closingPossibly
	default:
		return closingUnclosed
	}
}

// declare enters one DECLARE section entry into the innermost frame.
func (c *checkContext) declare(d *plcheck.Declaration) {
	c.declLine = d.Pos.Line
	defer func() { c.declLine = 0 }()

	v := &Variable{
		Name:     d.Name,
		DeclLine: d.Pos.Line,
		Constant: d.Constant,
		NotNull:  d.NotNull,
	}

	if d.IsCursor {
		v.IsCursor = true
		v.Bound = d.CursorQuery != nil
		v.CursorQuery = d.CursorQuery
		v.CursorParams = d.CursorParams
		v.Type = c.namedType("refcursor")
	} else {
		v.Type = c.resolveTypeRef(d.Type)
	}

	shadowed, duplicate := c.scope.declare(v)
	if duplicate {
		c.emit(plcheck.Diagnostic{
			Severity: plcheck.SeverityError,
			Code:     plcheck.CodeDuplicateObject,
			Message:  fmt.Sprintf("duplicate declaration of %q", d.Name),
		})

		return
	}

	if shadowed != nil {
		c.emit(plcheck.Diagnostic{
			Severity: plcheck.SeverityWarning,
			Category: plcheck.CategoryExtra,
			Code:     plcheck.CodeSuccess,
			Message:  fmt.Sprintf("variable %q shadows a previously defined variable", d.Name),
		})
	}

	if d.Default != nil {
		c.checkAssign(v.Type, c.typeOf(d.Default))
	}

	if v.Bound {
		c.checkCursorQuery(v)
	}
}

// checkCursorQuery validates a bound cursor's query once, with the cursor's
// parameters in scope, and remembers its result row for FOR-over-cursor and
// FETCH targets.
func (c *checkContext) checkCursorQuery(v *Variable) {
	c.scope.push("", false, false)

	for _, p := range v.CursorParams {
		pv := &Variable{
			Name:     p.Name,
			Kind:     VarPseudo,
			Type:     c.resolveTypeRef(p.Type),
			DeclLine: p.Pos.Line,
		}
		c.scope.declare(pv)
	}

	scanned := c.scanEmbedded(v.CursorQuery, embeddedOpts{})

	c.scope.pop()

	if scanned != nil {
		v.CursorRow = scanned.ResultType(c.cat)
	}
}

func (c *checkContext) walkAssign(st *plcheck.StmtAssign) closing {
	v, toType := c.resolveTarget(st.Target, true)

	if v != nil && v.Constant {
		c.emit(plcheck.Diagnostic{
			Severity: plcheck.SeverityError,
			Code:     "22005",
			Message:  fmt.Sprintf("variable %q is declared CONSTANT", v.Name),
		})
	}

	valType := c.typeOf(st.Value)

	// a record variable adopts the shape of the first row assigned to it
	if v != nil && len(st.Target.Parts) == 1 &&
		v.Type != nil && v.Type.Kind == plcheck.KindRecord &&
		valType != nil && valType.Kind == plcheck.KindRow {
		v.Type = valType

		return closingUnclosed
	}

	c.checkAssign(toType, valType)

	return closingUnclosed
}

// resolveTarget resolves an assignment or INTO target, marking usage and
// returning the slot type (after field path and subscripts).
func (c *checkContext) resolveTarget(t *plcheck.Target, write bool) (*Variable, *plcheck.Type) {
	for _, sub := range t.Subscripts {
		c.typeOf(sub)
	}

	v, ok := c.scope.resolve(t.Parts[0])
	path := t.Parts[1:]

	if !ok && len(t.Parts) >= 2 {
		if lv, lok := c.scope.resolveIn(t.Parts[0], t.Parts[1]); lok {
			v, ok = lv, true
			path = t.Parts[2:]
		}
	}

	if !ok {
		c.emit(plcheck.Diagnostic{
			Severity: plcheck.SeverityError,
			Code:     plcheck.CodeSyntaxError,
			Message:  fmt.Sprintf("%q is not a known variable", t.String()),
		})

		return nil, plcheck.Unknown
	}

	c.markVar(v, write)

	typ := c.fieldType(v, path, t.String())
	if len(t.Subscripts) > 0 {
		typ = typ.Elem()
	}

	return v, typ
}

func (c *checkContext) walkIf(st *plcheck.StmtIf) closing {
	c.checkCond(st.Cond, "IF")

	branches := []closing{c.walkList(st.Then)}

	for _, e := range st.Elsifs {
		c.checkCond(e.Cond, "IF")
		branches = append(branches, c.walkList(e.Then))
	}

	if st.HasElse {
		branches = append(branches, c.walkList(st.Else))
	} else {
		branches = append(branches, closingUnclosed)
	}

	return mergeBranches(branches)
}

func (c *checkContext) walkCase(st *plcheck.StmtCase) closing {
	c.typeOf(st.Operand)

	var branches []closing

	for _, w := range st.Whens {
		for _, e := range w.Exprs {
			c.typeOf(e)
		}

		if w.Cond != nil {
			c.checkCond(w.Cond, "CASE")
		}

		branches = append(branches, c.walkList(w.Body))
	}

	if st.HasElse {
		branches = append(branches, c.walkList(st.Else))
	} else {
		// a CASE with no matching arm and no ELSE raises CASE_NOT_FOUND
		branches = append(branches, closingByExceptions)
	}

	return mergeBranches(branches)
}

// mergeBranches combines the closings of an exhaustive branch set.
func mergeBranches(list []closing) closing {
	allTerminate := true
	allByExceptions := true
	anyTerminates := false

	for _, cs := range list {
		switch cs {
		case closingClosed:
			allByExceptions = false
			anyTerminates = true
		case closingByExceptions:
			anyTerminates = true
		case closingPossibly:
			allTerminate = false
			allByExceptions = false
			anyTerminates = true
		default:
			allTerminate = false
			allByExceptions = false
		}
	}

	switch {
	case allTerminate && allByExceptions:
		return closingByExceptions
	case allTerminate:
		return closingClosed
	case anyTerminates:
		return closingPossibly
	default:
		return closingUnclosed
	}
}

func (c *checkContext) walkLoopBody(label string, body []plcheck.Stmt) closing {
	c.scope.push(label, true, false)
	c.pragmas.push()

	cs := c.walkList(body)

	c.pragmas.pop()
	c.scope.pop()

	return cs
}

// walkLoop handles the unconditional LOOP: with no reachable EXIT it either
// runs forever or terminates the routine from inside, so everything after it
// is unreachable.
func (c *checkContext) walkLoop(st *plcheck.StmtLoop) closing {
	cs := c.walkLoopBody(st.Label, st.Body)
	if cs.terminates() {
		return cs
	}

	if !loopHasExit(st.Body, st.Label, 0) {
		return closingClosed
	}

	return closingUnclosed
}

// loopHasExit reports whether the loop body contains an EXIT that leaves this
// loop: a bare EXIT not captured by a nested loop, or a labeled EXIT naming
// this loop's label.
//
//nolint:cyclop // structural recursion over the nesting statement kinds
func loopHasExit(stmts []plcheck.Stmt, label string, depth int) bool {
	for _, s := range stmts {
		switch st := s.(type) {
		case *plcheck.StmtExit:
			if !st.IsExit {
				continue
			}

			if st.Label == "" && depth == 0 {
				return true
			}

			if label != "" && st.Label == label {
				return true
			}
		case *plcheck.Block:
			if loopHasExit(st.Body, label, depth) {
				return true
			}

			for _, h := range st.Handlers {
				if loopHasExit(h.Body, label, depth) {
					return true
				}
			}
		case *plcheck.StmtIf:
			if loopHasExit(st.Then, label, depth) || loopHasExit(st.Else, label, depth) {
				return true
			}

			for _, e := range st.Elsifs {
				if loopHasExit(e.Then, label, depth) {
					return true
				}
			}
		case *plcheck.StmtCase:
			for _, w := range st.Whens {
				if loopHasExit(w.Body, label, depth) {
					return true
				}
			}

			if loopHasExit(st.Else, label, depth) {
				return true
			}
		case *plcheck.StmtLoop:
			if loopHasExit(st.Body, label, depth+1) {
				return true
			}
		case *plcheck.StmtWhile:
			if loopHasExit(st.Body, label, depth+1) {
				return true
			}
		case *plcheck.StmtForI:
			if loopHasExit(st.Body, label, depth+1) {
				return true
			}
		case *plcheck.StmtForQuery:
			if loopHasExit(st.Body, label, depth+1) {
				return true
			}
		case *plcheck.StmtForCursor:
			if loopHasExit(st.Body, label, depth+1) {
				return true
			}
		case *plcheck.StmtForeach:
			if loopHasExit(st.Body, label, depth+1) {
				return true
			}
		}
	}

	return false
}

func (c *checkContext) walkForI(st *plcheck.StmtForI) closing {
	c.typeOf(st.Lower)
	c.typeOf(st.Upper)
	c.typeOf(st.Step)

	c.scope.push(st.Label, true, false)
	c.pragmas.push()

	c.scope.declare(&Variable{
		Name:     st.Var,
		Kind:     VarLoop,
		Type:     c.namedType("integer"),
		DeclLine: st.VarPos.Line,
	})

	c.walkList(st.Body)

	c.pragmas.pop()
	c.scope.pop()

	return closingUnclosed
}

func (c *checkContext) walkForQuery(st *plcheck.StmtForQuery) closing {
	var row *plcheck.Type

	if st.Dynamic != nil {
		c.checkDynamicSQL(st.Dynamic, st.Using, nil)
	} else if scanned := c.scanEmbedded(st.Query, embeddedOpts{}); scanned != nil {
		row = scanned.ResultType(c.cat)
	}

	for _, t := range st.Targets {
		v, _ := c.resolveTarget(t, true)

		// a single record target takes the query's row shape
		if v != nil && len(st.Targets) == 1 && len(t.Parts) == 1 &&
			v.Type != nil && v.Type.Kind == plcheck.KindRecord &&
			row != nil && row.Kind == plcheck.KindRow {
			v.Type = row
		}
	}

	c.walkLoopBody(st.Label, st.Body)

	return closingUnclosed
}

func (c *checkContext) walkForCursor(st *plcheck.StmtForCursor) closing {
	v, ok := c.scope.resolve(st.Cursor)
	if !ok || !v.IsCursor || !v.Bound {
		c.emit(plcheck.Diagnostic{
			Severity: plcheck.SeverityError,
			Code:     plcheck.CodeSyntaxError,
			Message:  "cursor FOR loop must use a bound cursor variable",
		})
	}

	if ok {
		v.markRead()
		c.checkCursorArgs(v, st.Args, nil)
	}

	c.scope.push(st.Label, true, false)
	c.pragmas.push()

	loopVar := &Variable{
		Name:     st.Var,
		Kind:     VarLoop,
		Type:     plcheck.RecordType(),
		DeclLine: st.VarPos.Line,
	}
	if ok && v.CursorRow != nil && v.CursorRow.Kind == plcheck.KindRow {
		loopVar.Type = v.CursorRow
	}

	c.scope.declare(loopVar)

	c.walkList(st.Body)

	c.pragmas.pop()
	c.scope.pop()

	return closingUnclosed
}

func (c *checkContext) walkForeach(st *plcheck.StmtForeach) closing {
	c.resolveTarget(st.Var, true)

	t := c.typeOf(st.Array)
	if !t.IsUnknown() && !t.Array {
		c.emit(plcheck.Diagnostic{
			Severity: plcheck.SeverityError,
			Code:     plcheck.CodeDatatypeMismatch,
			Message:  fmt.Sprintf("FOREACH expression must yield an array, not type %s", t),
		})
	}

	c.walkLoopBody(st.Label, st.Body)

	return closingUnclosed
}

func (c *checkContext) walkExit(st *plcheck.StmtExit) closing {
	if st.When != nil {
		c.checkCond(st.When, st.TypeName())
	}

	if st.Label != "" {
		switch c.scope.findLabel(st.Label) {
		case labelNotFound:
			c.emit(plcheck.Diagnostic{
				Severity: plcheck.SeverityError,
				Code:     plcheck.CodeSyntaxError,
				Message:  fmt.Sprintf("label %q does not exist", st.Label),
			})
		case labelIsBlock:
			if !st.IsExit {
				c.emit(plcheck.Diagnostic{
					Severity: plcheck.SeverityError,
					Code:     plcheck.CodeSyntaxError,
					Message:  fmt.Sprintf("block label %q cannot be used in CONTINUE", st.Label),
				})
			}
		case labelIsLoop:
		}

		return closingUnclosed
	}

	if !c.scope.inLoop() {
		c.emit(plcheck.Diagnostic{
			Severity: plcheck.SeverityError,
			Code:     plcheck.CodeSyntaxError,
			Message:  fmt.Sprintf("%s cannot be used outside a loop", st.TypeName()),
		})
	}

	return closingUnclosed
}

func (c *checkContext) walkReturn(st *plcheck.StmtReturn) closing {
	r := c.routine

	switch {
	case r.IsTrigger():
		c.typeOf(st.Value)
	case r.Kind == plcheck.KindProcedure:
		if st.Value != nil {
			c.typeOf(st.Value)
			c.emit(plcheck.Diagnostic{
				Severity: plcheck.SeverityError,
				Code:     plcheck.CodeSyntaxError,
				Message:  "RETURN cannot have a parameter in a procedure",
			})
		}
	case r.Returns == nil || r.Returns.Kind == plcheck.ReturnsVoid:
		if st.Value != nil {
			c.typeOf(st.Value)
			c.emit(plcheck.Diagnostic{
				Severity: plcheck.SeverityError,
				Code:     plcheck.CodeDatatypeMismatch,
				Message:  "RETURN cannot have a parameter in function returning void",
			})
		}
	case r.Returns.IsSet():
		if st.Value != nil {
			c.typeOf(st.Value)
			c.emit(plcheck.Diagnostic{
				Severity: plcheck.SeverityError,
				Code:     plcheck.CodeDatatypeMismatch,
				Message:  "RETURN cannot have a parameter in function returning set",
				Hint:     "Use RETURN NEXT or RETURN QUERY.",
			})
		}
	default:
		if st.Value == nil {
			if !c.hasOutParams() {
				c.emit(plcheck.Diagnostic{
					Severity: plcheck.SeverityError,
					Code:     plcheck.CodeSyntaxError,
					Message:  "RETURN must specify a return value",
				})
			}
		} else {
			c.checkAssign(c.returnType, c.typeOf(st.Value))
		}
	}

	return closingClosed
}

func (c *checkContext) hasOutParams() bool {
	for _, p := range c.routine.Params {
		if p.Mode == plcheck.ModeOut || p.Mode == plcheck.ModeInOut {
			return true
		}
	}

	return false
}

func (c *checkContext) requireSetReturning(what string) {
	if !c.routine.Returns.IsSet() {
		c.emit(plcheck.Diagnostic{
			Severity: plcheck.SeverityError,
			Code:     plcheck.CodeFeatureNotSupported,
			Message:  fmt.Sprintf("cannot use %s in a non-SETOF function", what),
		})
	}
}

func (c *checkContext) walkRaise(st *plcheck.StmtRaise) closing {
	if st.HasFormat {
		required := countFormatPlaceholders(st.Format)

		if len(st.Params) < required {
			c.emit(plcheck.Diagnostic{
				Severity: plcheck.SeverityError,
				Code:     plcheck.CodeSyntaxError,
				Message:  "too few parameters specified for RAISE",
			})
		} else if len(st.Params) > required {
			c.emit(plcheck.Diagnostic{
				Severity: plcheck.SeverityError,
				Code:     plcheck.CodeSyntaxError,
				Message:  "too many parameters specified for RAISE",
			})
		}
	}

	for _, p := range st.Params {
		c.typeOf(p)
	}

	for _, opt := range st.Options {
		c.typeOf(opt.Value)
	}

	bare := !st.HasFormat && st.CondName == "" && st.SQLState == "" &&
		len(st.Options) == 0 && st.Level == "EXCEPTION"
	if bare {
		if !c.scope.inHandler() {
			c.emit(plcheck.Diagnostic{
				Severity: plcheck.SeverityError,
				Code:     plcheck.CodeSyntaxError,
				Message:  "RAISE without parameters cannot be used outside an exception handler",
			})
		}

		return closingByExceptions
	}

	if st.Level == "EXCEPTION" {
		return closingByExceptions
	}

	return closingUnclosed
}

func (c *checkContext) walkPerform(st *plcheck.StmtPerform) closing {
	if call, ok := st.Expr.(*plcheck.CallExpr); ok {
		if directive, isPragma := pragmaDirective(call); isPragma {
			c.applyPragma(directive)

			return closingUnclosed
		}
	}

	if st.Expr != nil {
		c.typeOf(st.Expr)

		return closingUnclosed
	}

	c.scanEmbedded(st.SQL, embeddedOpts{})

	return closingUnclosed
}

// diagItems maps GET DIAGNOSTICS item names to whether they require the
// STACKED form.
var diagItems = map[string]bool{
	"row_count":      false,
	"result_oid":     false,
	"pg_context":     false,
	"pg_routine_oid": false,

	"returned_sqlstate":    true,
	"column_name":          true,
	"constraint_name":      true,
	"pg_datatype_name":     true,
	"message_text":         true,
	"table_name":           true,
	"schema_name":          true,
	"pg_exception_detail":  true,
	"pg_exception_hint":    true,
	"pg_exception_context": true,
}

func (c *checkContext) walkGetDiag(st *plcheck.StmtGetDiag) closing {
	if st.Stacked && !c.scope.inHandler() {
		c.emit(plcheck.Diagnostic{
			Severity: plcheck.SeverityError,
			Code:     "0Z002",
			Message:  "GET STACKED DIAGNOSTICS cannot be used outside an exception handler",
		})
	}

	for _, item := range st.Items {
		c.resolveTarget(item.Target, true)

		stackedOnly, known := diagItems[strings.ToLower(item.Item)]
		if !known {
			c.emit(plcheck.Diagnostic{
				Severity: plcheck.SeverityError,
				Code:     plcheck.CodeSyntaxError,
				Message:  fmt.Sprintf("unrecognized GET DIAGNOSTICS item %q", item.Item),
			})

			continue
		}

		if stackedOnly && !st.Stacked {
			c.emit(plcheck.Diagnostic{
				Severity: plcheck.SeverityError,
				Code:     plcheck.CodeSyntaxError,
				Message:  fmt.Sprintf("diagnostics item %s is not allowed in GET DIAGNOSTICS", item.Item),
			})
		}
	}

	return closingUnclosed
}

func (c *checkContext) walkOpen(st *plcheck.StmtOpen) closing {
	v, ok := c.scope.resolve(st.Cursor)
	if !ok {
		c.emit(plcheck.Diagnostic{
			Severity: plcheck.SeverityError,
			Code:     plcheck.CodeSyntaxError,
			Message:  fmt.Sprintf("%q is not a known variable", st.Cursor),
		})

		return closingUnclosed
	}

	v.markWritten()

	if !v.IsCursor {
		if v.Type == nil || v.Type.Name != "refcursor" {
			c.emit(plcheck.Diagnostic{
				Severity: plcheck.SeverityError,
				Code:     plcheck.CodeDatatypeMismatch,
				Message:  fmt.Sprintf("variable %q must be of type cursor or refcursor", st.Cursor),
			})

			return closingUnclosed
		}
	}

	switch {
	case v.Bound && (st.Query != nil || st.Dynamic != nil):
		c.emit(plcheck.Diagnostic{
			Severity: plcheck.SeverityError,
			Code:     plcheck.CodeSyntaxError,
			Message:  fmt.Sprintf("cursor %q is bound to a query", st.Cursor),
		})
	case v.Bound:
		c.checkCursorArgs(v, st.Args, st.ArgNames)
	case st.Dynamic != nil:
		c.checkDynamicSQL(st.Dynamic, st.Using, nil)
	case st.Query != nil:
		if scanned := c.scanEmbedded(st.Query, embeddedOpts{}); scanned != nil {
			v.CursorRow = scanned.ResultType(c.cat)
		}
	}

	return closingUnclosed
}

// checkCursorArgs validates explicit cursor argument arity and types at OPEN
// and FOR-over-cursor sites.
func (c *checkContext) checkCursorArgs(v *Variable, args []plcheck.Expr, names []string) {
	nparams := len(v.CursorParams)

	switch {
	case nparams == 0 && len(args) > 0:
		c.emit(plcheck.Diagnostic{
			Severity: plcheck.SeverityError,
			Code:     plcheck.CodeSyntaxError,
			Message:  fmt.Sprintf("cursor %q has no arguments", v.Name),
		})
	case nparams > 0 && len(args) == 0:
		c.emit(plcheck.Diagnostic{
			Severity: plcheck.SeverityError,
			Code:     plcheck.CodeSyntaxError,
			Message:  fmt.Sprintf("cursor %q has arguments", v.Name),
		})
	case len(args) < nparams:
		c.emit(plcheck.Diagnostic{
			Severity: plcheck.SeverityError,
			Code:     plcheck.CodeSyntaxError,
			Message:  fmt.Sprintf("not enough arguments for cursor %q", v.Name),
		})
	case len(args) > nparams:
		c.emit(plcheck.Diagnostic{
			Severity: plcheck.SeverityError,
			Code:     plcheck.CodeSyntaxError,
			Message:  fmt.Sprintf("too many arguments for cursor %q", v.Name),
		})
	}

	for i, arg := range args {
		argType := c.typeOf(arg)

		param := c.cursorParamFor(v, i, names)
		if param == nil {
			continue
		}

		c.quiet++
		paramType := c.resolveTypeRef(param.Type)
		c.quiet--

		c.checkAssign(paramType, argType)
	}
}

// cursorParamFor matches an argument to its declared cursor parameter,
// positionally or by name.
func (c *checkContext) cursorParamFor(v *Variable, i int, names []string) *plcheck.CursorParam {
	if names != nil && i < len(names) && names[i] != "" {
		for _, p := range v.CursorParams {
			if p.Name == names[i] {
				return p
			}
		}

		c.emit(plcheck.Diagnostic{
			Severity: plcheck.SeverityError,
			Code:     plcheck.CodeSyntaxError,
			Message:  fmt.Sprintf("cursor %q has no argument named %q", v.Name, names[i]),
		})

		return nil
	}

	if i < len(v.CursorParams) {
		return v.CursorParams[i]
	}

	return nil
}

func (c *checkContext) resolveCursor(name string) *Variable {
	v, ok := c.scope.resolve(name)
	if !ok {
		c.emit(plcheck.Diagnostic{
			Severity: plcheck.SeverityError,
			Code:     plcheck.CodeSyntaxError,
			Message:  fmt.Sprintf("%q is not a known variable", name),
		})

		return nil
	}

	if !v.IsCursor && (v.Type == nil || v.Type.Name != "refcursor") {
		c.emit(plcheck.Diagnostic{
			Severity: plcheck.SeverityError,
			Code:     plcheck.CodeDatatypeMismatch,
			Message:  fmt.Sprintf("variable %q must be of type cursor or refcursor", name),
		})

		return nil
	}

	return v
}

func (c *checkContext) walkFetch(st *plcheck.StmtFetch) closing {
	v := c.resolveCursor(st.Cursor)
	if v != nil {
		v.markRead()
	}

	c.typeOf(st.Count)

	for _, t := range st.Into {
		tv, _ := c.resolveTarget(t, true)

		if tv != nil && len(st.Into) == 1 && len(t.Parts) == 1 &&
			tv.Type != nil && tv.Type.Kind == plcheck.KindRecord &&
			v != nil && v.CursorRow != nil && v.CursorRow.Kind == plcheck.KindRow {
			tv.Type = v.CursorRow
		}
	}

	return closingUnclosed
}

func (c *checkContext) walkTxn(verb string) closing {
	switch {
	case c.routine.Kind != plcheck.KindProcedure:
		c.emit(plcheck.Diagnostic{
			Severity: plcheck.SeverityError,
			Code:     plcheck.CodeInvalidTransaction,
			Message:  "invalid transaction termination",
		})
	case c.subxact > 0:
		msg := "cannot commit while a subtransaction is active"
		if verb == "ROLLBACK" {
			msg = "cannot roll back while a subtransaction is active"
		}

		c.emit(plcheck.Diagnostic{
			Severity: plcheck.SeverityError,
			Code:     plcheck.CodeInvalidTransaction,
			Message:  msg,
		})
	}

	return closingUnclosed
}

// checkCond validates a boolean context expression.
func (c *checkContext) checkCond(e plcheck.Expr, what string) {
	t := c.typeOf(e)
	if t.IsUnknown() {
		return
	}

	if !c.cat.CanCoerce(t, c.namedType("boolean")) {
		c.emit(plcheck.Diagnostic{
			Severity: plcheck.SeverityError,
			Code:     plcheck.CodeDatatypeMismatch,
			Message:  fmt.Sprintf("argument of %s must be type boolean, not type %s", what, t),
		})
	}
}

// embeddedOpts adjusts embedded SQL handling per call site.
type embeddedOpts struct {
	into     *plcheck.IntoClause
	topLevel bool // a bare SQL statement: a SELECT here needs a destination
}

// scanEmbedded inspects one embedded SQL statement: relation existence,
// qualified column existence, variable reference marking, variable/column
// ambiguity advisories and INTO target checking. Everything degrades to
// silence when the scan cannot make sense of the text.
//
//nolint:cyclop // flat sequence of independent best-effort checks
func (c *checkContext) scanEmbedded(sql *plcheck.SQLText, opts embeddedOpts) *sqlscan.Stmt {
	if sql == nil {
		return nil
	}

	scanned, err := sqlscan.Scan(sql.Text)
	if err != nil {
		return nil
	}

	// CTE names look like relations to the scanner; skip relation-level
	// checks for WITH queries rather than risk false alarms.
	hasCTE := strings.HasPrefix(strings.ToLower(strings.TrimSpace(sql.Text)), "with")

	if !hasCTE {
		for _, tr := range scanned.Tables {
			if _, ok := c.cat.LookupTable(tr.Name); !ok {
				c.emit(plcheck.Diagnostic{
					Severity: plcheck.SeverityError,
					Code:     plcheck.CodeUndefinedTable,
					Message:  fmt.Sprintf("relation %q does not exist", tr.Name),
					Query:    sql.Text,
					Position: runePosition(sql.Text, tr.Pos.Offset),
				})
			}
		}
	}

	for _, ref := range scanned.Refs {
		c.checkSQLRef(sql, scanned, ref, hasCTE)
	}

	switch {
	case opts.into != nil:
		c.checkInto(opts.into, scanned)
	case opts.topLevel && scanned.Kind == sqlscan.KindSelect:
		c.emit(plcheck.Diagnostic{
			Severity: plcheck.SeverityError,
			Code:     plcheck.CodeSyntaxError,
			Message:  "query has no destination for result data",
			Hint:     "If you want to discard the results of a SELECT, use PERFORM instead.",
			Query:    sql.Text,
		})
	}

	return scanned
}

// checkSQLRef handles one identifier chain found inside embedded SQL: a
// routine variable read, a qualified column reference, or both (the
// ambiguity advisory).
func (c *checkContext) checkSQLRef(sql *plcheck.SQLText, scanned *sqlscan.Stmt, ref sqlscan.Ref, hasCTE bool) {
	head := ref.Parts[0]

	// alias.column / table.column: provable against the catalog
	if len(ref.Parts) >= 2 && !hasCTE {
		if table, ok := refTable(c, scanned, head); ok {
			if table != nil && table.Column(ref.Parts[1]) == nil {
				c.emit(plcheck.Diagnostic{
					Severity: plcheck.SeverityError,
					Code:     plcheck.CodeUndefinedColumn,
					Message:  fmt.Sprintf("column %s.%s does not exist", head, ref.Parts[1]),
					Query:    sql.Text,
					Position: runePosition(sql.Text, ref.Pos.Offset),
				})
			}

			return
		}
	}

	v, ok := c.scope.resolve(head)
	if !ok {
		return
	}

	v.markRead()

	if !hasCTE && columnInTables(c, scanned, head) {
		c.emit(plcheck.Diagnostic{
			Severity: plcheck.SeverityNotice,
			Code:     plcheck.CodeAmbiguousColumn,
			Message:  fmt.Sprintf("column reference %q is ambiguous", head),
			Detail:   "It could refer to either a PL/pgSQL variable or a table column.",
			Query:    sql.Text,
			Position: runePosition(sql.Text, ref.Pos.Offset),
		})
	}
}

// refTable resolves a reference qualifier to one of the statement's tables,
// by alias or relation name. The bool result reports whether the qualifier
// names a table at all; the table is nil when the relation is unknown to the
// catalog.
func refTable(c *checkContext, scanned *sqlscan.Stmt, qualifier string) (*catalog.Table, bool) {
	for _, tr := range scanned.Tables {
		if tr.Alias != qualifier && tr.Name != qualifier {
			continue
		}

		table, ok := c.cat.LookupTable(tr.Name)
		if !ok {
			return nil, true
		}

		return table, true
	}

	return nil, false
}

func columnInTables(c *checkContext, scanned *sqlscan.Stmt, name string) bool {
	for _, tr := range scanned.Tables {
		table, ok := c.cat.LookupTable(tr.Name)
		if !ok {
			continue
		}

		if table.Column(name) != nil {
			return true
		}
	}

	return false
}

// checkInto validates INTO targets against the scanned result shape.
func (c *checkContext) checkInto(into *plcheck.IntoClause, scanned *sqlscan.Stmt) {
	row := scanned.ResultType(c.cat)

	type resolved struct {
		v *Variable
		t *plcheck.Type
		p *plcheck.Target
	}

	targets := make([]resolved, 0, len(into.Targets))

	for _, t := range into.Targets {
		v, vt := c.resolveTarget(t, true)
		targets = append(targets, resolved{v: v, t: vt, p: t})
	}

	if len(targets) == 1 {
		only := targets[0]

		if only.v != nil && len(only.p.Parts) == 1 && only.v.Type != nil &&
			only.v.Type.Kind == plcheck.KindRecord && row.Kind == plcheck.KindRow {
			only.v.Type = row

			return
		}

		if only.t != nil && !only.t.IsRowLike() &&
			row.Kind == plcheck.KindRow && len(row.Fields) == 1 {
			c.checkAssign(only.t, row.Fields[0].Type)
		}

		return
	}

	if row.Kind == plcheck.KindRow && len(row.Fields) == len(targets) {
		for i, tgt := range targets {
			c.checkAssign(tgt.t, row.Fields[i].Type)
		}
	}
}

// checkDynamicSQL analyzes an EXECUTE-style statement. Constant-foldable
// query expressions get the full static treatment; everything else gets the
// injection-safety and result-shape heuristics.
func (c *checkContext) checkDynamicSQL(q plcheck.Expr, using []plcheck.Expr, into *plcheck.IntoClause) {
	c.typeOf(q)

	for _, u := range using {
		c.typeOf(u)
	}

	if folded, ok := foldConstant(q); ok {
		c.checkFoldedSQL(q, folded, using, into)

		return
	}

	c.checkSQLInjection(q)

	if into == nil {
		return
	}

	for _, t := range into.Targets {
		v, _ := c.resolveTarget(t, true)

		if v != nil && v.Type != nil && v.Type.Kind == plcheck.KindRecord {
			c.emit(plcheck.Diagnostic{
				Severity: plcheck.SeverityWarning,
				Category: plcheck.CategoryOthers,
				Code:     plcheck.CodeSuccess,
				Message:  "cannot determinate a result of dynamic SQL",
				Detail:   "There is a risk of related false alarms.",
			})
		}
	}
}

func (c *checkContext) checkFoldedSQL(q plcheck.Expr, folded string, using []plcheck.Expr, into *plcheck.IntoClause) {
	fake := &plcheck.SQLText{Pos: q.ExprPos(), Text: folded}

	scanned := c.scanEmbedded(fake, embeddedOpts{into: into})
	if scanned == nil {
		return
	}

	if scanned.MaxParam > len(using) {
		c.emit(plcheck.Diagnostic{
			Severity: plcheck.SeverityError,
			Code:     plcheck.CodeUndefinedParameter,
			Message:  fmt.Sprintf("there is no parameter $%d", scanned.MaxParam),
			Query:    folded,
		})
	}

	if scanned.MaxParam == 0 && len(using) > 0 {
		c.emit(plcheck.Diagnostic{
			Severity: plcheck.SeverityWarning,
			Category: plcheck.CategoryOthers,
			Code:     plcheck.CodeSuccess,
			Message:  "values passed to EXECUTE statement by USING clause was not used",
		})
	}

	if scanned.MaxParam == 0 && len(using) == 0 {
		c.emit(plcheck.Diagnostic{
			Severity: plcheck.SeverityWarning,
			Category: plcheck.CategoryPerformance,
			Code:     plcheck.CodeSuccess,
			Message:  "immutable expression without parameters found",
			Detail:   "the EXECUTE command is not necessary probably",
			Hint:     "Don't use dynamic SQL when you can use static SQL.",
		})
	}
}

// foldConstant evaluates a query expression built only from literals,
// concatenation and constant format() calls.
func foldConstant(e plcheck.Expr) (string, bool) {
	switch x := e.(type) {
	case *plcheck.StringLit:
		return x.Value, true
	case *plcheck.NumberLit:
		return x.Value, true
	case *plcheck.BinaryExpr:
		if x.Op != "||" {
			return "", false
		}

		l, ok := foldConstant(x.L)
		if !ok {
			return "", false
		}

		r, ok := foldConstant(x.R)
		if !ok {
			return "", false
		}

		return l + r, true
	case *plcheck.CastExpr:
		return foldConstant(x.Operand)
	case *plcheck.CallExpr:
		if x.FuncName() == "format" {
			return foldFormat(x)
		}

		return "", false
	default:
		return "", false
	}
}

func foldFormat(call *plcheck.CallExpr) (string, bool) {
	if len(call.Args) == 0 {
		return "", false
	}

	lit, ok := call.Args[0].(*plcheck.StringLit)
	if !ok {
		return "", false
	}

	values := make([]string, 0, len(call.Args)-1)

	for _, a := range call.Args[1:] {
		v, ok := foldConstant(a)
		if !ok {
			return "", false
		}

		values = append(values, v)
	}

	var sb strings.Builder

	next := 0
	runes := []rune(lit.Value)

	for i := 0; i < len(runes); i++ {
		if runes[i] != '%' {
			sb.WriteRune(runes[i])

			continue
		}

		if i+1 >= len(runes) {
			return "", false
		}

		i++

		switch runes[i] {
		case '%':
			sb.WriteRune('%')
		case 's':
			if next >= len(values) {
				return "", false
			}

			sb.WriteString(values[next])
			next++
		case 'I':
			if next >= len(values) {
				return "", false
			}

			sb.WriteString(`"` + strings.ReplaceAll(values[next], `"`, `""`) + `"`)
			next++
		case 'L':
			if next >= len(values) {
				return "", false
			}

			sb.WriteString("'" + strings.ReplaceAll(values[next], "'", "''") + "'")
			next++
		default:
			return "", false
		}
	}

	return sb.String(), true
}

// checkSQLInjection flags string pieces concatenated into dynamic SQL
// without quote_ident/quote_literal/format protection. Parameter-driven
// EXECUTE ... USING is the safe idiom and is never flagged.
func (c *checkContext) checkSQLInjection(e plcheck.Expr) {
	switch x := e.(type) {
	case *plcheck.BinaryExpr:
		if x.Op == "||" {
			c.injectionOperand(x.L)
			c.injectionOperand(x.R)
		}
	case *plcheck.CallExpr:
		c.injectionFormatArgs(x)
	case *plcheck.CastExpr:
		c.checkSQLInjection(x.Operand)
	}
}

//nolint:cyclop // one arm per safe operand shape
func (c *checkContext) injectionOperand(e plcheck.Expr) {
	switch x := e.(type) {
	case *plcheck.StringLit, *plcheck.NumberLit, *plcheck.BoolLit, *plcheck.NullLit:
		return
	case *plcheck.BinaryExpr:
		if x.Op == "||" {
			c.injectionOperand(x.L)
			c.injectionOperand(x.R)

			return
		}
	case *plcheck.CastExpr:
		c.injectionOperand(x.Operand)

		return
	case *plcheck.CallExpr:
		switch x.FuncName() {
		case "quote_ident", "quote_literal", "quote_nullable":
			return
		case "format":
			c.injectionFormatArgs(x)

			return
		}
	}

	c.quiet++
	t := c.typeOf(e)
	c.quiet--

	if !isStringType(t) {
		return
	}

	msg := "the expression is not SQL injection safe"
	if _, isVar := e.(*plcheck.Ident); isVar {
		msg = "text type variable is not sanitized"
	}

	c.emit(plcheck.Diagnostic{
		Severity: plcheck.SeverityWarning,
		Category: plcheck.CategorySecurity,
		Code:     plcheck.CodeSuccess,
		Message:  msg,
		Hint:     "Use quote_ident, quote_literal or format function to secure variable.",
	})
}

// injectionFormatArgs flags unsafe arguments substituted through %s; %I and
// %L quote their values and are safe.
func (c *checkContext) injectionFormatArgs(call *plcheck.CallExpr) {
	if call.FuncName() != "format" || len(call.Args) == 0 {
		return
	}

	lit, ok := call.Args[0].(*plcheck.StringLit)
	if !ok {
		return
	}

	argIdx := 1
	runes := []rune(lit.Value)

	for i := 0; i < len(runes); i++ {
		if runes[i] != '%' || i+1 >= len(runes) {
			continue
		}

		i++

		switch runes[i] {
		case '%':
		case 's':
			if argIdx < len(call.Args) {
				c.injectionOperand(call.Args[argIdx])
			}

			argIdx++
		default:
			argIdx++
		}
	}
}

func isStringType(t *plcheck.Type) bool {
	if t == nil || t.Kind != plcheck.KindConcrete || t.Array {
		return false
	}

	switch t.Name {
	case "text", "varchar", "char", "bpchar", "name":
		return true
	default:
		return false
	}
}

// runePosition converts a byte offset into the 1-based rune offset the
// report caret uses.
func runePosition(text string, byteOffset int) int {
	if byteOffset < 0 || byteOffset > len(text) {
		return 0
	}

	return utf8.RuneCountInString(text[:byteOffset]) + 1
}
