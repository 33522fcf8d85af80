package checker

import (
	"fmt"
	"math"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/plcheck/plcheck"
)

// typeOf computes the result type of an expression. It never fails:
// unresolvable sub-expressions degrade to Unknown, and Unknown absorbs every
// operation it participates in. Diagnostics are emitted as side effects.
//
//nolint:cyclop,funlen // closed dispatch over the expression node set
func (c *checkContext) typeOf(e plcheck.Expr) *plcheck.Type {
	switch x := e.(type) {
	case nil:
		return plcheck.Unknown
	case *plcheck.Ident:
		return c.typeOfIdent(x, false)
	case *plcheck.NumberLit:
		return numberType(x.Value)
	case *plcheck.StringLit:
		// string literals carry the "unknown" literal type until context
		// forces one
		return plcheck.Unknown
	case *plcheck.BoolLit:
		return c.namedType("boolean")
	case *plcheck.NullLit:
		return plcheck.Unknown
	case *plcheck.ParamRef:
		return c.typeOfParam(x)
	case *plcheck.BinaryExpr:
		return c.typeOfBinary(x)
	case *plcheck.UnaryExpr:
		if x.Op == "NOT" {
			c.typeOf(x.Operand)

			return c.namedType("boolean")
		}

		return c.typeOf(x.Operand)
	case *plcheck.IsTest:
		c.typeOf(x.Operand)

		return c.namedType("boolean")
	case *plcheck.BetweenExpr:
		c.typeOf(x.Operand)
		c.typeOf(x.Lo)
		c.typeOf(x.Hi)

		return c.namedType("boolean")
	case *plcheck.InExpr:
		c.typeOf(x.Operand)

		for _, item := range x.List {
			c.typeOf(item)
		}

		return c.namedType("boolean")
	case *plcheck.CallExpr:
		return c.typeOfCall(x)
	case *plcheck.CastExpr:
		c.typeOf(x.Operand)

		return c.resolveTypeRef(x.Type)
	case *plcheck.IndexExpr:
		c.typeOf(x.Index)

		return c.typeOf(x.Base).Elem()
	case *plcheck.ArrayExpr:
		return c.typeOfArray(x)
	case *plcheck.SubqueryExpr:
		return c.typeOfSubquery(x)
	case *plcheck.CaseExpr:
		return c.typeOfCase(x)
	default:
		return plcheck.Unknown
	}
}

// typeOfIdent resolves a possibly qualified name against the scope: bare
// variable, record.field, label.variable, then the handler-only specials.
func (c *checkContext) typeOfIdent(e *plcheck.Ident, write bool) *plcheck.Type {
	name := e.Parts[0]

	if v, ok := c.scope.resolve(name); ok {
		c.markVar(v, write)

		return c.fieldType(v, e.Parts[1:], e.String())
	}

	if len(e.Parts) >= 2 {
		if v, ok := c.scope.resolveIn(name, e.Parts[1]); ok {
			c.markVar(v, write)

			return c.fieldType(v, e.Parts[2:], e.String())
		}
	}

	if len(e.Parts) == 1 && (name == "sqlstate" || name == "sqlerrm") {
		if c.scope.inHandler() {
			return c.namedType("text")
		}
	}

	c.emit(plcheck.Diagnostic{
		Severity: plcheck.SeverityError,
		Code:     plcheck.CodeUndefinedColumn,
		Message:  fmt.Sprintf("column %q does not exist", e.String()),
	})

	return plcheck.Unknown
}

func (c *checkContext) markVar(v *Variable, write bool) {
	if write {
		v.markWritten()
	} else {
		v.markRead()
	}
}

// fieldType follows a dotted field path from a variable's type. Record
// placeholders absorb any path; concrete rows must have the field.
func (c *checkContext) fieldType(v *Variable, path []string, full string) *plcheck.Type {
	t := v.Type

	for _, part := range path {
		if t.IsUnknown() || t.Kind == plcheck.KindRecord {
			return plcheck.Unknown
		}

		if t.Kind != plcheck.KindRow {
			c.emit(plcheck.Diagnostic{
				Severity: plcheck.SeverityError,
				Code:     plcheck.CodeUndefinedColumn,
				Message:  fmt.Sprintf("column %q does not exist", full),
			})

			return plcheck.Unknown
		}

		ft, ok := t.Field(part)
		if !ok {
			c.emit(plcheck.Diagnostic{
				Severity: plcheck.SeverityError,
				Code:     plcheck.CodeUndefinedColumn,
				Message:  fmt.Sprintf("record %q has no field %q", v.Name, part),
			})

			return plcheck.Unknown
		}

		t = ft
	}

	return t
}

func (c *checkContext) typeOfParam(e *plcheck.ParamRef) *plcheck.Type {
	inParams := 0

	for _, p := range c.routine.Params {
		if p.Mode == plcheck.ModeOut {
			continue
		}

		inParams++
		if inParams == e.N {
			return c.resolveTypeRef(p.Type)
		}
	}

	c.emit(plcheck.Diagnostic{
		Severity: plcheck.SeverityError,
		Code:     plcheck.CodeUndefinedParameter,
		Message:  fmt.Sprintf("there is no parameter $%d", e.N),
	})

	return plcheck.Unknown
}

func (c *checkContext) typeOfBinary(e *plcheck.BinaryExpr) *plcheck.Type {
	l := c.typeOf(e.L)
	r := c.typeOf(e.R)

	t, ok := c.cat.ResolveOperator(e.Op, l, r)
	if !ok {
		c.emit(plcheck.Diagnostic{
			Severity: plcheck.SeverityError,
			Code:     plcheck.CodeUndefinedFunction,
			Message:  fmt.Sprintf("operator does not exist: %s %s %s", l, e.Op, r),
			Hint:     "No operator matches the given name and argument types. You might need to add explicit type casts.",
		})

		return plcheck.Unknown
	}

	return t
}

// routineProber is the optional catalog capability used to tell a wrong-arity
// call apart from a name absent from the (possibly partial) catalog. Only the
// former is provably an error.
type routineProber interface {
	HasRoutine(name string) bool
}

func (c *checkContext) typeOfCall(e *plcheck.CallExpr) *plcheck.Type {
	if e.FuncName() == PragmaMarker {
		return c.namedType("boolean")
	}

	argTypes := make([]*plcheck.Type, len(e.Args))
	for i, a := range e.Args {
		argTypes[i] = c.typeOf(a)
	}

	nargs := len(e.Args)
	if e.Star {
		nargs = 1
	}

	name := strings.Join(e.Name, ".")

	f, ok := c.cat.LookupRoutine(name, nargs)
	if ok {
		if f.Name == "format" {
			c.checkFormatCall(e)
		}

		return resolvePoly(f.Result, argTypes)
	}

	if c.prober != nil && c.prober.HasRoutine(name) {
		c.emit(plcheck.Diagnostic{
			Severity: plcheck.SeverityError,
			Code:     plcheck.CodeUndefinedFunction,
			Message:  fmt.Sprintf("function %s(%s) does not exist", name, typeList(argTypes)),
			Hint:     "No function matches the given name and argument types. You might need to add explicit type casts.",
		})
	}

	return plcheck.Unknown
}

func typeList(types []*plcheck.Type) string {
	parts := make([]string, len(types))
	for i, t := range types {
		parts[i] = t.String()
	}

	return strings.Join(parts, ", ")
}

// resolvePoly binds a polymorphic result slot to the first informative
// argument type.
func resolvePoly(result *plcheck.Type, args []*plcheck.Type) *plcheck.Type {
	if result == nil || result.Kind != plcheck.KindPoly {
		if result == nil {
			return plcheck.Unknown
		}

		return result
	}

	for _, a := range args {
		if a.IsUnknown() {
			continue
		}

		if result.Slot == "anyelement" && a.Array {
			return a.Elem()
		}

		return a
	}

	return plcheck.Unknown
}

// checkFormatCall verifies placeholder arity when the format string is a
// compile-time constant.
func (c *checkContext) checkFormatCall(e *plcheck.CallExpr) {
	if len(e.Args) == 0 {
		return
	}

	lit, ok := e.Args[0].(*plcheck.StringLit)
	if !ok {
		return
	}

	required := countFormatPlaceholders(lit.Value)
	provided := len(e.Args) - 1

	if provided < required {
		c.emit(plcheck.Diagnostic{
			Severity: plcheck.SeverityError,
			Code:     plcheck.CodeInvalidParameterValue,
			Message:  `too few parameters specified for function "format"`,
		})

		return
	}

	if provided > required {
		c.emit(plcheck.Diagnostic{
			Severity: plcheck.SeverityWarning,
			Category: plcheck.CategoryOthers,
			Code:     plcheck.CodeSuccess,
			Message:  `unused parameters of function "format"`,
		})
	}
}

// countFormatPlaceholders counts % specifiers, skipping the %% escape.
func countFormatPlaceholders(s string) int {
	count := 0
	runes := []rune(s)

	for i := 0; i < len(runes); i++ {
		if runes[i] != '%' {
			continue
		}

		if i+1 < len(runes) && runes[i+1] == '%' {
			i++

			continue
		}

		count++
	}

	return count
}

func (c *checkContext) typeOfArray(e *plcheck.ArrayExpr) *plcheck.Type {
	var elem *plcheck.Type

	for _, item := range e.Elems {
		t := c.typeOf(item)
		if elem == nil && t.Kind == plcheck.KindConcrete {
			elem = t
		}
	}

	if elem == nil {
		return plcheck.Unknown
	}

	arr := *elem
	arr.Array = true

	return &arr
}

func (c *checkContext) typeOfSubquery(e *plcheck.SubqueryExpr) *plcheck.Type {
	scanned := c.scanEmbedded(e.SQL, embeddedOpts{})
	if scanned == nil {
		return plcheck.Unknown
	}

	row := scanned.ResultType(c.cat)
	if row.Kind == plcheck.KindRow && len(row.Fields) == 1 {
		return row.Fields[0].Type
	}

	return plcheck.Unknown
}

func (c *checkContext) typeOfCase(e *plcheck.CaseExpr) *plcheck.Type {
	c.typeOf(e.Operand)

	var result *plcheck.Type

	for _, w := range e.Whens {
		c.typeOf(w.Cond)

		t := c.typeOf(w.Result)
		if result.IsUnknown() {
			result = t
		}
	}

	t := c.typeOf(e.Else)
	if result.IsUnknown() {
		result = t
	}

	return result
}

// resolveTypeRef turns a syntactic type reference into a descriptor,
// reporting unknown names.
func (c *checkContext) resolveTypeRef(tr *plcheck.TypeRef) *plcheck.Type {
	if tr == nil {
		return plcheck.Unknown
	}

	var t *plcheck.Type

	switch {
	case tr.RowType:
		rt, ok := c.cat.ExpandRowType(tr.Name)
		if !ok {
			c.emit(plcheck.Diagnostic{
				Severity: plcheck.SeverityError,
				Code:     plcheck.CodeUndefinedTable,
				Message:  fmt.Sprintf("relation %q does not exist", tr.Name),
			})

			return plcheck.Unknown
		}

		t = rt
	case tr.TypeOf:
		t = c.resolveTypeOf(tr)
	default:
		lt, ok := c.cat.LookupType(tr.Name)
		if !ok {
			c.emit(plcheck.Diagnostic{
				Severity: plcheck.SeverityError,
				Code:     plcheck.CodeUndefinedObject,
				Message:  fmt.Sprintf("type %q does not exist", tr.Name),
			})

			return plcheck.Unknown
		}

		t = lt
	}

	if tr.Array && t.Kind == plcheck.KindConcrete {
		arr := *t
		arr.Array = true

		return &arr
	}

	return t
}

// resolveTypeOf handles name%TYPE: a routine variable or a table.column.
func (c *checkContext) resolveTypeOf(tr *plcheck.TypeRef) *plcheck.Type {
	parts := strings.Split(tr.Name, ".")

	if len(parts) == 1 {
		if v, ok := c.scope.resolve(parts[0]); ok {
			return v.Type
		}
	} else {
		tableName := strings.Join(parts[:len(parts)-1], ".")
		if table, ok := c.cat.LookupTable(tableName); ok {
			if col := table.Column(parts[len(parts)-1]); col != nil {
				return col.Type
			}
		}
	}

	c.emit(plcheck.Diagnostic{
		Severity: plcheck.SeverityError,
		Code:     plcheck.CodeUndefinedObject,
		Message:  fmt.Sprintf("type %s%%TYPE does not exist", tr.Name),
	})

	return plcheck.Unknown
}

// numberType classifies a numeric literal: integer when it fits int4,
// bigint when it fits int8, numeric otherwise.
func numberType(value string) *plcheck.Type {
	d, err := decimal.NewFromString(value)
	if err != nil {
		return plcheck.Unknown
	}

	if d.IsInteger() {
		bi := d.BigInt()
		if bi.IsInt64() {
			n := bi.Int64()
			if n >= math.MinInt32 && n <= math.MaxInt32 {
				return plcheck.Concrete("integer")
			}

			return plcheck.Concrete("bigint")
		}

		return plcheck.Concrete("numeric")
	}

	return plcheck.Concrete("numeric")
}

// checkAssign validates storing a value of type from into a slot of type to.
// Same type and unknown sources pass silently; coercible but different types
// get a performance warning for the hidden cast; incompatible types error.
func (c *checkContext) checkAssign(to, from *plcheck.Type) {
	if to.IsUnknown() || from.IsUnknown() {
		return
	}

	if from.IsRowLike() && !to.IsRowLike() {
		c.emit(plcheck.Diagnostic{
			Severity: plcheck.SeverityError,
			Code:     plcheck.CodeDatatypeMismatch,
			Message:  "cannot cast composite value to a scalar type",
		})

		return
	}

	if to.IsRowLike() {
		// field lists are reconciled at execution; record targets absorb
		return
	}

	if to.Name == from.Name && to.Array == from.Array {
		return
	}

	detail := fmt.Sprintf("cast %q value to %q type", from.String(), to.String())

	if !c.cat.CanCoerce(from, to) {
		c.emit(plcheck.Diagnostic{
			Severity: plcheck.SeverityError,
			Code:     plcheck.CodeDatatypeMismatch,
			Message:  "target type is different type than source type",
			Detail:   detail,
		})

		return
	}

	c.emit(plcheck.Diagnostic{
		Severity: plcheck.SeverityWarning,
		Category: plcheck.CategoryPerformance,
		Code:     plcheck.CodeSuccess,
		Message:  "target type is different type than source type",
		Detail:   detail,
		Hint:     "Hidden casting can be a performance issue.",
	})
}

// namedType fetches a builtin type from the catalog; missing builtins
// degrade to Unknown rather than failing the walk.
func (c *checkContext) namedType(name string) *plcheck.Type {
	t, ok := c.cat.LookupType(name)
	if !ok {
		return plcheck.Unknown
	}

	return t
}
