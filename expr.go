package plcheck

import (
	"strconv"
	"strings"

	"github.com/alecthomas/participle/v2/lexer"
)

// Expr is implemented by every expression node.
type Expr interface {
	ExprPos() lexer.Position

	// String renders the expression roughly as written; used in messages.
	String() string
}

// Ident is a possibly qualified name: a, a.b or a.b.c.
type Ident struct {
	Pos   lexer.Position
	Parts []string
}

// ExprPos implements Expr.
func (e *Ident) ExprPos() lexer.Position { return e.Pos }

func (e *Ident) String() string { return strings.Join(e.Parts, ".") }

// NumberLit is an integer or decimal literal, kept as source text.
type NumberLit struct {
	Pos   lexer.Position
	Value string
}

// ExprPos implements Expr.
func (e *NumberLit) ExprPos() lexer.Position { return e.Pos }

func (e *NumberLit) String() string { return e.Value }

// StringLit is a '...' or dollar-quoted literal, unescaped.
type StringLit struct {
	Pos   lexer.Position
	Value string
}

// ExprPos implements Expr.
func (e *StringLit) ExprPos() lexer.Position { return e.Pos }

func (e *StringLit) String() string { return "'" + strings.ReplaceAll(e.Value, "'", "''") + "'" }

// BoolLit is TRUE or FALSE.
type BoolLit struct {
	Pos   lexer.Position
	Value bool
}

// ExprPos implements Expr.
func (e *BoolLit) ExprPos() lexer.Position { return e.Pos }

func (e *BoolLit) String() string {
	if e.Value {
		return "true"
	}

	return "false"
}

// NullLit is the NULL literal.
type NullLit struct {
	Pos lexer.Position
}

// ExprPos implements Expr.
func (e *NullLit) ExprPos() lexer.Position { return e.Pos }

func (e *NullLit) String() string { return "null" }

// ParamRef is a $n parameter reference.
type ParamRef struct {
	Pos lexer.Position
	N   int
}

// ExprPos implements Expr.
func (e *ParamRef) ExprPos() lexer.Position { return e.Pos }

func (e *ParamRef) String() string { return "$" + strconv.Itoa(e.N) }

// BinaryExpr is a binary operator application. Op is the operator as
// written, keywords upper-cased: +, ||, AND, LIKE, ...
type BinaryExpr struct {
	Pos  lexer.Position
	Op   string
	L, R Expr
}

// ExprPos implements Expr.
func (e *BinaryExpr) ExprPos() lexer.Position { return e.Pos }

func (e *BinaryExpr) String() string { return e.L.String() + " " + e.Op + " " + e.R.String() }

// UnaryExpr is NOT x, -x or +x.
type UnaryExpr struct {
	Pos     lexer.Position
	Op      string
	Operand Expr
}

// ExprPos implements Expr.
func (e *UnaryExpr) ExprPos() lexer.Position { return e.Pos }

func (e *UnaryExpr) String() string { return e.Op + " " + e.Operand.String() }

// IsTest is x IS [NOT] NULL / TRUE / FALSE.
type IsTest struct {
	Pos     lexer.Position
	Operand Expr
	Not     bool
	What    string // NULL, TRUE, FALSE
}

// ExprPos implements Expr.
func (e *IsTest) ExprPos() lexer.Position { return e.Pos }

func (e *IsTest) String() string {
	s := e.Operand.String() + " IS "
	if e.Not {
		s += "NOT "
	}

	return s + e.What
}

// BetweenExpr is x [NOT] BETWEEN lo AND hi.
type BetweenExpr struct {
	Pos     lexer.Position
	Operand Expr
	Not     bool
	Lo, Hi  Expr
}

// ExprPos implements Expr.
func (e *BetweenExpr) ExprPos() lexer.Position { return e.Pos }

func (e *BetweenExpr) String() string {
	s := e.Operand.String()
	if e.Not {
		s += " NOT"
	}

	return s + " BETWEEN " + e.Lo.String() + " AND " + e.Hi.String()
}

// InExpr is x [NOT] IN (list).
type InExpr struct {
	Pos     lexer.Position
	Operand Expr
	Not     bool
	List    []Expr
}

// ExprPos implements Expr.
func (e *InExpr) ExprPos() lexer.Position { return e.Pos }

func (e *InExpr) String() string {
	s := e.Operand.String()
	if e.Not {
		s += " NOT"
	}

	parts := make([]string, len(e.List))
	for i, x := range e.List {
		parts[i] = x.String()
	}

	return s + " IN (" + strings.Join(parts, ", ") + ")"
}

// CallExpr is name(args). Name keeps qualification parts.
type CallExpr struct {
	Pos  lexer.Position
	Name []string
	Args []Expr
	Star bool // count(*)
}

// ExprPos implements Expr.
func (e *CallExpr) ExprPos() lexer.Position { return e.Pos }

// FuncName returns the unqualified, lower-cased function name.
func (e *CallExpr) FuncName() string { return e.Name[len(e.Name)-1] }

func (e *CallExpr) String() string {
	if e.Star {
		return strings.Join(e.Name, ".") + "(*)"
	}

	parts := make([]string, len(e.Args))
	for i, a := range e.Args {
		parts[i] = a.String()
	}

	return strings.Join(e.Name, ".") + "(" + strings.Join(parts, ", ") + ")"
}

// CastExpr is expr::type or CAST(expr AS type).
type CastExpr struct {
	Pos     lexer.Position
	Operand Expr
	Type    *TypeRef
}

// ExprPos implements Expr.
func (e *CastExpr) ExprPos() lexer.Position { return e.Pos }

func (e *CastExpr) String() string { return e.Operand.String() + "::" + e.Type.String() }

// IndexExpr is base[index].
type IndexExpr struct {
	Pos   lexer.Position
	Base  Expr
	Index Expr
}

// ExprPos implements Expr.
func (e *IndexExpr) ExprPos() lexer.Position { return e.Pos }

func (e *IndexExpr) String() string { return e.Base.String() + "[" + e.Index.String() + "]" }

// ArrayExpr is ARRAY[...].
type ArrayExpr struct {
	Pos   lexer.Position
	Elems []Expr
}

// ExprPos implements Expr.
func (e *ArrayExpr) ExprPos() lexer.Position { return e.Pos }

func (e *ArrayExpr) String() string {
	parts := make([]string, len(e.Elems))
	for i, x := range e.Elems {
		parts[i] = x.String()
	}

	return "ARRAY[" + strings.Join(parts, ", ") + "]"
}

// SubqueryExpr is a parenthesized subquery inside an expression, kept as
// raw text the same way statement-level SQL is.
type SubqueryExpr struct {
	Pos lexer.Position
	SQL *SQLText
}

// ExprPos implements Expr.
func (e *SubqueryExpr) ExprPos() lexer.Position { return e.Pos }

func (e *SubqueryExpr) String() string { return "(" + e.SQL.Text + ")" }

// CaseExprWhen is one WHEN arm of a CASE expression.
type CaseExprWhen struct {
	Cond   Expr
	Result Expr
}

// CaseExpr is a simple or searched CASE expression.
type CaseExpr struct {
	Pos     lexer.Position
	Operand Expr // nil for searched CASE
	Whens   []*CaseExprWhen
	Else    Expr
}

// ExprPos implements Expr.
func (e *CaseExpr) ExprPos() lexer.Position { return e.Pos }

func (e *CaseExpr) String() string {
	var sb strings.Builder

	sb.WriteString("CASE")

	if e.Operand != nil {
		sb.WriteString(" " + e.Operand.String())
	}

	for _, w := range e.Whens {
		sb.WriteString(" WHEN " + w.Cond.String() + " THEN " + w.Result.String())
	}

	if e.Else != nil {
		sb.WriteString(" ELSE " + e.Else.String())
	}

	sb.WriteString(" END")

	return sb.String()
}

// WalkExpr calls fn for every node of the expression tree, parents first.
func WalkExpr(e Expr, fn func(Expr)) {
	if e == nil {
		return
	}

	fn(e)

	switch x := e.(type) {
	case *BinaryExpr:
		WalkExpr(x.L, fn)
		WalkExpr(x.R, fn)
	case *UnaryExpr:
		WalkExpr(x.Operand, fn)
	case *IsTest:
		WalkExpr(x.Operand, fn)
	case *BetweenExpr:
		WalkExpr(x.Operand, fn)
		WalkExpr(x.Lo, fn)
		WalkExpr(x.Hi, fn)
	case *InExpr:
		WalkExpr(x.Operand, fn)

		for _, it := range x.List {
			WalkExpr(it, fn)
		}
	case *CallExpr:
		for _, a := range x.Args {
			WalkExpr(a, fn)
		}
	case *CastExpr:
		WalkExpr(x.Operand, fn)
	case *IndexExpr:
		WalkExpr(x.Base, fn)
		WalkExpr(x.Index, fn)
	case *ArrayExpr:
		for _, it := range x.Elems {
			WalkExpr(it, fn)
		}
	case *CaseExpr:
		WalkExpr(x.Operand, fn)

		for _, w := range x.Whens {
			WalkExpr(w.Cond, fn)
			WalkExpr(w.Result, fn)
		}

		WalkExpr(x.Else, fn)
	}
}
