// Package plcheck provides the front end and core data model for a static
// analyzer of PL/pgSQL-style routine bodies: lexer, statement tree, type
// descriptors and the diagnostic model shared by the checker, the reporters
// and the runtime profiler.
package plcheck

import (
	"strings"

	"github.com/alecthomas/participle/v2/lexer"
)

// Stmt is implemented by every statement node. The statement kind set is
// closed: the walker dispatches over it exhaustively.
type Stmt interface {
	// StmtID returns the stable small-integer id assigned at parse time.
	// Ids are deterministic per compiled routine: depth-first, source order,
	// the outermost block is 1. Recompiling renumbers.
	StmtID() int

	// StmtPos returns the statement's source position.
	StmtPos() lexer.Position

	// TypeName returns the human-readable statement kind used in reports,
	// e.g. "assignment" or "FOR over SELECT rows".
	TypeName() string

	setID(id int)
}

// StmtBase carries the identity every statement shares.
type StmtBase struct {
	ID  int
	Pos lexer.Position
}

// StmtID returns the stable statement id.
func (b *StmtBase) StmtID() int { return b.ID }

// StmtPos returns the statement's source position.
func (b *StmtBase) StmtPos() lexer.Position { return b.Pos }

func (b *StmtBase) setID(id int) { b.ID = id }

// TypeRef is a syntactic reference to a type: a plain name, an array of a
// name, table%ROWTYPE, or variable%TYPE.
type TypeRef struct {
	Pos     lexer.Position
	Name    string // lower-cased type or relation or variable name
	Array   bool
	RowType bool // name%ROWTYPE
	TypeOf  bool // name%TYPE
}

func (t *TypeRef) String() string {
	s := t.Name
	switch {
	case t.RowType:
		s += "%ROWTYPE"
	case t.TypeOf:
		s += "%TYPE"
	}

	if t.Array {
		s += "[]"
	}

	return s
}

// Declaration is one entry of a block's DECLARE section.
type Declaration struct {
	Pos      lexer.Position
	Name     string
	Constant bool
	NotNull  bool
	Type     *TypeRef
	Default  Expr

	// Cursor declarations: name [SCROLL] CURSOR [(params)] FOR query.
	IsCursor     bool
	CursorParams []*CursorParam
	CursorQuery  *SQLText
}

// CursorParam is a named argument of an explicit cursor declaration.
type CursorParam struct {
	Pos  lexer.Position
	Name string
	Type *TypeRef
}

// ExceptionHandler is one WHEN ... THEN arm of an EXCEPTION section.
type ExceptionHandler struct {
	Pos        lexer.Position
	Conditions []string // condition names or "SQLSTATE 'xxxxx'" forms
	Body       []Stmt
}

// SQLText is an embedded SQL statement captured as raw text. The checker
// hands it to sqlscan for best-effort inspection; any INTO clause has
// already been split off by the parser.
type SQLText struct {
	Pos  lexer.Position
	Text string
}

// Target is an assignment or INTO target: a dotted name with optional
// trailing subscripts.
type Target struct {
	Pos        lexer.Position
	Parts      []string
	Subscripts []Expr
}

func (t *Target) String() string { return strings.Join(t.Parts, ".") }

// IntoClause is the INTO [STRICT] part split off an embedded SQL statement
// or an EXECUTE.
type IntoClause struct {
	Strict  bool
	Targets []*Target
}

// Block is BEGIN ... [EXCEPTION ...] END, with an optional DECLARE section
// and label.
type Block struct {
	StmtBase

	Label    string
	Decls    []*Declaration
	Body     []Stmt
	Handlers []*ExceptionHandler
}

// TypeName implements Stmt.
func (*Block) TypeName() string { return "statement block" }

// StmtAssign is target := expr (also accepts plain '=').
type StmtAssign struct {
	StmtBase

	Target *Target
	Value  Expr
}

// TypeName implements Stmt.
func (*StmtAssign) TypeName() string { return "assignment" }

// ElsIf is one ELSIF arm of an IF statement.
type ElsIf struct {
	Pos  lexer.Position
	Cond Expr
	Then []Stmt
}

// StmtIf is IF ... THEN ... [ELSIF ...]* [ELSE ...] END IF.
type StmtIf struct {
	StmtBase

	Cond    Expr
	Then    []Stmt
	Elsifs  []*ElsIf
	Else    []Stmt
	HasElse bool
}

// TypeName implements Stmt.
func (*StmtIf) TypeName() string { return "IF" }

// CaseWhen is one WHEN arm of a CASE statement.
type CaseWhen struct {
	Pos   lexer.Position
	Exprs []Expr // simple CASE: comparison values
	Cond  Expr   // searched CASE: boolean condition
	Body  []Stmt
}

// StmtCase is a simple or searched CASE statement.
type StmtCase struct {
	StmtBase

	Operand Expr // nil for searched CASE
	Whens   []*CaseWhen
	Else    []Stmt
	HasElse bool
}

// TypeName implements Stmt.
func (*StmtCase) TypeName() string { return "CASE" }

// StmtLoop is an unconditional LOOP.
type StmtLoop struct {
	StmtBase

	Label string
	Body  []Stmt
}

// TypeName implements Stmt.
func (*StmtLoop) TypeName() string { return "LOOP" }

// StmtWhile is WHILE cond LOOP.
type StmtWhile struct {
	StmtBase

	Label string
	Cond  Expr
	Body  []Stmt
}

// TypeName implements Stmt.
func (*StmtWhile) TypeName() string { return "WHILE" }

// StmtForI is FOR i IN [REVERSE] lo .. hi [BY step] LOOP.
type StmtForI struct {
	StmtBase

	Label   string
	Var     string
	VarPos  lexer.Position
	Reverse bool
	Lower   Expr
	Upper   Expr
	Step    Expr
	Body    []Stmt
}

// TypeName implements Stmt.
func (*StmtForI) TypeName() string { return "FOR over integer range" }

// StmtForQuery is FOR target IN query LOOP, or the dynamic
// FOR target IN EXECUTE expr [USING ...] LOOP form.
type StmtForQuery struct {
	StmtBase

	Label   string
	Targets []*Target
	Query   *SQLText // static form
	Dynamic Expr     // EXECUTE form
	Using   []Expr
	Body    []Stmt
}

// TypeName implements Stmt.
func (s *StmtForQuery) TypeName() string {
	if s.Dynamic != nil {
		return "FOR over EXECUTE statement"
	}

	return "FOR over SELECT rows"
}

// StmtForCursor is FOR target IN cursor [(args)] LOOP.
type StmtForCursor struct {
	StmtBase

	Label     string
	Var       string
	VarPos    lexer.Position
	Cursor    string
	CursorPos lexer.Position
	Args      []Expr
	Body      []Stmt
}

// TypeName implements Stmt.
func (*StmtForCursor) TypeName() string { return "FOR over cursor" }

// StmtForeach is FOREACH target [SLICE n] IN ARRAY expr LOOP.
type StmtForeach struct {
	StmtBase

	Label string
	Var   *Target
	Slice int
	Array Expr
	Body  []Stmt
}

// TypeName implements Stmt.
func (*StmtForeach) TypeName() string { return "FOREACH over array" }

// StmtExit covers both EXIT and CONTINUE, with optional label and WHEN.
type StmtExit struct {
	StmtBase

	IsExit bool
	Label  string
	When   Expr
}

// TypeName implements Stmt.
func (s *StmtExit) TypeName() string {
	if s.IsExit {
		return "EXIT"
	}

	return "CONTINUE"
}

// StmtReturn is RETURN [expr].
type StmtReturn struct {
	StmtBase

	Value Expr // nil for a bare RETURN
}

// TypeName implements Stmt.
func (*StmtReturn) TypeName() string { return "RETURN" }

// StmtReturnNext is RETURN NEXT expr.
type StmtReturnNext struct {
	StmtBase

	Value Expr
}

// TypeName implements Stmt.
func (*StmtReturnNext) TypeName() string { return "RETURN NEXT" }

// StmtReturnQuery is RETURN QUERY query or RETURN QUERY EXECUTE expr.
type StmtReturnQuery struct {
	StmtBase

	Query   *SQLText
	Dynamic Expr
	Using   []Expr
}

// TypeName implements Stmt.
func (*StmtReturnQuery) TypeName() string { return "RETURN QUERY" }

// RaiseOption is one item of a RAISE ... USING clause.
type RaiseOption struct {
	Name  string // message, detail, hint, errcode, ...
	Value Expr
}

// StmtRaise is RAISE [level] [format, args] [USING options].
type StmtRaise struct {
	StmtBase

	Level     string // EXCEPTION, NOTICE, WARNING, INFO, DEBUG, LOG
	HasFormat bool
	Format    string
	Params    []Expr
	CondName  string // RAISE division_by_zero form
	SQLState  string // RAISE SQLSTATE '22012' form
	Options   []*RaiseOption
}

// TypeName implements Stmt.
func (*StmtRaise) TypeName() string { return "RAISE" }

// StmtAssert is ASSERT cond [, message].
type StmtAssert struct {
	StmtBase

	Cond    Expr
	Message Expr
}

// TypeName implements Stmt.
func (*StmtAssert) TypeName() string { return "ASSERT" }

// StmtSQL is an embedded SQL statement, with any INTO clause split out.
type StmtSQL struct {
	StmtBase

	SQL  *SQLText
	Into *IntoClause
}

// TypeName implements Stmt.
func (*StmtSQL) TypeName() string { return "SQL statement" }

// StmtPerform is PERFORM <select tail>. SQL always holds the raw tail; when
// the tail is a single expression (the common function-call usage, which is
// also how checker pragmas are written) Expr holds its parsed form too.
type StmtPerform struct {
	StmtBase

	Expr Expr
	SQL  *SQLText
}

// TypeName implements Stmt.
func (*StmtPerform) TypeName() string { return "PERFORM" }

// StmtExecute is dynamic SQL: EXECUTE expr [INTO [STRICT] ...] [USING ...].
type StmtExecute struct {
	StmtBase

	Query Expr
	Into  *IntoClause
	Using []Expr
}

// TypeName implements Stmt.
func (*StmtExecute) TypeName() string { return "EXECUTE" }

// GetDiagItem is one target = item pair of GET DIAGNOSTICS.
type GetDiagItem struct {
	Target *Target
	Item   string // row_count, pg_context, ...
}

// StmtGetDiag is GET [STACKED] DIAGNOSTICS target = item, ... .
type StmtGetDiag struct {
	StmtBase

	Stacked bool
	Items   []*GetDiagItem
}

// TypeName implements Stmt.
func (*StmtGetDiag) TypeName() string { return "GET DIAGNOSTICS" }

// StmtOpen is OPEN cursor [(args)], OPEN cursor FOR query, or
// OPEN cursor FOR EXECUTE expr [USING ...].
type StmtOpen struct {
	StmtBase

	Cursor    string
	CursorPos lexer.Position
	Args      []Expr
	ArgNames  []string // non-empty entries for name := value arguments
	Query     *SQLText
	Dynamic   Expr
	Using     []Expr
}

// TypeName implements Stmt.
func (*StmtOpen) TypeName() string { return "OPEN" }

// StmtFetch covers FETCH and MOVE.
type StmtFetch struct {
	StmtBase

	IsMove    bool
	Direction string // NEXT, PRIOR, FIRST, LAST, ABSOLUTE n, ...
	Count     Expr
	Cursor    string
	CursorPos lexer.Position
	Into      []*Target
}

// TypeName implements Stmt.
func (s *StmtFetch) TypeName() string {
	if s.IsMove {
		return "MOVE"
	}

	return "FETCH"
}

// StmtClose is CLOSE cursor.
type StmtClose struct {
	StmtBase

	Cursor    string
	CursorPos lexer.Position
}

// TypeName implements Stmt.
func (*StmtClose) TypeName() string { return "CLOSE" }

// StmtCommit is COMMIT.
type StmtCommit struct {
	StmtBase
}

// TypeName implements Stmt.
func (*StmtCommit) TypeName() string { return "COMMIT" }

// StmtRollback is ROLLBACK.
type StmtRollback struct {
	StmtBase
}

// TypeName implements Stmt.
func (*StmtRollback) TypeName() string { return "ROLLBACK" }

// StmtCall is CALL procedure(args).
type StmtCall struct {
	StmtBase

	Call *CallExpr
}

// TypeName implements Stmt.
func (*StmtCall) TypeName() string { return "CALL" }

// StmtNull is the no-op NULL statement.
type StmtNull struct {
	StmtBase
}

// TypeName implements Stmt.
func (*StmtNull) TypeName() string { return "NULL" }

// WalkStmts calls fn for every statement in the tree in id order
// (depth-first, source order). If fn returns false the walk stops.
func WalkStmts(stmts []Stmt, fn func(Stmt) bool) bool {
	for _, s := range stmts {
		if !walkStmt(s, fn) {
			return false
		}
	}

	return true
}

func walkStmt(s Stmt, fn func(Stmt) bool) bool {
	if !fn(s) {
		return false
	}

	switch st := s.(type) {
	case *Block:
		if !WalkStmts(st.Body, fn) {
			return false
		}

		for _, h := range st.Handlers {
			if !WalkStmts(h.Body, fn) {
				return false
			}
		}
	case *StmtIf:
		if !WalkStmts(st.Then, fn) {
			return false
		}

		for _, e := range st.Elsifs {
			if !WalkStmts(e.Then, fn) {
				return false
			}
		}

		if !WalkStmts(st.Else, fn) {
			return false
		}
	case *StmtCase:
		for _, w := range st.Whens {
			if !WalkStmts(w.Body, fn) {
				return false
			}
		}

		if !WalkStmts(st.Else, fn) {
			return false
		}
	case *StmtLoop:
		return WalkStmts(st.Body, fn)
	case *StmtWhile:
		return WalkStmts(st.Body, fn)
	case *StmtForI:
		return WalkStmts(st.Body, fn)
	case *StmtForQuery:
		return WalkStmts(st.Body, fn)
	case *StmtForCursor:
		return WalkStmts(st.Body, fn)
	case *StmtForeach:
		return WalkStmts(st.Body, fn)
	}

	return true
}

// numberStmts assigns depth-first pre-order ids starting at next and
// returns the next unassigned id.
func numberStmts(stmts []Stmt, next int) int {
	WalkStmts(stmts, func(s Stmt) bool {
		s.setID(next)
		next++

		return true
	})

	return next
}
