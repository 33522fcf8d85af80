package plcheck_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/plcheck/plcheck"
)

func parseBody(t *testing.T, body string) *plcheck.Routine {
	t.Helper()

	r, err := plcheck.ParseRoutine("test.sql", body)
	require.NoError(t, err)

	return r
}

func TestParseRoutine_Header(t *testing.T) {
	t.Parallel()

	src := `
CREATE OR REPLACE FUNCTION public.add_counts(a int, b int DEFAULT 0, OUT total bigint)
RETURNS bigint
LANGUAGE plpgsql
AS $$
BEGIN
  total := a + b;
END;
$$;`

	r, err := plcheck.ParseRoutine("test.sql", src)
	require.NoError(t, err)

	assert.Equal(t, "add_counts", r.Name)
	assert.Equal(t, plcheck.KindFunction, r.Kind)
	require.Len(t, r.Params, 3)

	assert.Equal(t, "a", r.Params[0].Name)
	assert.Equal(t, plcheck.ModeIn, r.Params[0].Mode)
	assert.Equal(t, "int", r.Params[0].Type.Name)

	assert.True(t, r.Params[1].HasDefault)

	assert.Equal(t, "total", r.Params[2].Name)
	assert.Equal(t, plcheck.ModeOut, r.Params[2].Mode)

	require.NotNil(t, r.Returns)
	assert.Equal(t, plcheck.ReturnsScalar, r.Returns.Kind)
	assert.Equal(t, "bigint", r.Returns.Type.Name)

	require.Len(t, r.Body.Body, 1)

	// Line numbers are body-relative: BEGIN is line 2 of the dollar-quoted
	// string, the assignment line 3.
	assert.Equal(t, 3, r.Body.Body[0].StmtPos().Line)
}

func TestParseRoutine_ReturnShapes(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		src  string
		kind plcheck.ReturnKind
	}{
		{
			"void",
			`CREATE FUNCTION f() RETURNS void AS $$ BEGIN END; $$;`,
			plcheck.ReturnsVoid,
		},
		{
			"setof",
			`CREATE FUNCTION f() RETURNS SETOF int AS $$ BEGIN END; $$;`,
			plcheck.ReturnsSetOf,
		},
		{
			"table",
			`CREATE FUNCTION f() RETURNS TABLE(id int, name text) AS $$ BEGIN END; $$;`,
			plcheck.ReturnsTable,
		},
		{
			"trigger",
			`CREATE FUNCTION f() RETURNS trigger AS $$ BEGIN RETURN NEW; END; $$;`,
			plcheck.ReturnsTrigger,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			r, err := plcheck.ParseRoutine("test.sql", tt.src)
			require.NoError(t, err)
			assert.Equal(t, tt.kind, r.Returns.Kind)

			if tt.kind == plcheck.ReturnsTrigger {
				assert.Equal(t, plcheck.KindRowTrigger, r.Kind)
			}

			if tt.kind == plcheck.ReturnsTable {
				require.Len(t, r.Returns.Cols, 2)
				assert.Equal(t, "id", r.Returns.Cols[0].Name)
			}
		})
	}
}

func TestParse_Declarations(t *testing.T) {
	t.Parallel()

	r := parseBody(t, `
DECLARE
  n integer := 10;
  msg constant text NOT NULL DEFAULT 'hi';
  rec record;
  r orders%ROWTYPE;
  v orders.total%TYPE;
  items int[];
  cur CURSOR (lim int) FOR SELECT * FROM orders LIMIT lim;
BEGIN
  NULL;
END;`)

	decls := r.Body.Decls
	require.Len(t, decls, 7)

	assert.Equal(t, "n", decls[0].Name)
	assert.NotNil(t, decls[0].Default)

	assert.True(t, decls[1].Constant)
	assert.True(t, decls[1].NotNull)

	assert.Equal(t, "record", decls[2].Type.Name)

	assert.True(t, decls[3].Type.RowType)
	assert.True(t, decls[4].Type.TypeOf)
	assert.True(t, decls[5].Type.Array)

	cur := decls[6]
	assert.True(t, cur.IsCursor)
	require.Len(t, cur.CursorParams, 1)
	assert.Equal(t, "lim", cur.CursorParams[0].Name)
	require.NotNil(t, cur.CursorQuery)
	assert.Equal(t, "SELECT * FROM orders LIMIT lim", cur.CursorQuery.Text)
}

func TestParse_SQLWithInto(t *testing.T) {
	t.Parallel()

	r := parseBody(t, `
BEGIN
  SELECT total INTO STRICT v FROM orders WHERE id = oid;
  INSERT INTO audit (who) VALUES (current_user);
END;`)

	require.Len(t, r.Body.Body, 2)

	sel, ok := r.Body.Body[0].(*plcheck.StmtSQL)
	require.True(t, ok)
	require.NotNil(t, sel.Into)
	assert.True(t, sel.Into.Strict)
	require.Len(t, sel.Into.Targets, 1)
	assert.Equal(t, []string{"v"}, sel.Into.Targets[0].Parts)
	// The INTO clause is excised from the captured query text.
	assert.Equal(t, "SELECT total FROM orders WHERE id = oid", sel.SQL.Text)

	ins, ok := r.Body.Body[1].(*plcheck.StmtSQL)
	require.True(t, ok)
	assert.Nil(t, ins.Into, "INSERT INTO must not be treated as a target clause")
	assert.Contains(t, ins.SQL.Text, "INSERT INTO audit")
}

func TestParse_ControlFlow(t *testing.T) {
	t.Parallel()

	r := parseBody(t, `
BEGIN
  IF a > 1 THEN
    x := 1;
  ELSIF a > 0 THEN
    x := 2;
  ELSE
    x := 3;
  END IF;

  CASE a
  WHEN 1, 2 THEN x := 1;
  ELSE x := 9;
  END CASE;

  <<outer>>
  LOOP
    EXIT outer WHEN x > 10;
    CONTINUE WHEN x < 0;
  END LOOP;

  WHILE x > 0 LOOP
    x := x - 1;
  END LOOP;
END;`)

	body := r.Body.Body
	require.Len(t, body, 4)

	ifStmt, ok := body[0].(*plcheck.StmtIf)
	require.True(t, ok)
	require.Len(t, ifStmt.Elsifs, 1)
	assert.True(t, ifStmt.HasElse)

	caseStmt, ok := body[1].(*plcheck.StmtCase)
	require.True(t, ok)
	require.NotNil(t, caseStmt.Operand)
	require.Len(t, caseStmt.Whens, 1)
	assert.Len(t, caseStmt.Whens[0].Exprs, 2)
	assert.True(t, caseStmt.HasElse)

	loop, ok := body[2].(*plcheck.StmtLoop)
	require.True(t, ok)
	assert.Equal(t, "outer", loop.Label)
	require.Len(t, loop.Body, 2)

	exit, ok := loop.Body[0].(*plcheck.StmtExit)
	require.True(t, ok)
	assert.True(t, exit.IsExit)
	assert.Equal(t, "outer", exit.Label)
	require.NotNil(t, exit.When)

	cont, ok := loop.Body[1].(*plcheck.StmtExit)
	require.True(t, ok)
	assert.False(t, cont.IsExit)

	_, ok = body[3].(*plcheck.StmtWhile)
	require.True(t, ok)
}

func TestParse_ForVariants(t *testing.T) {
	t.Parallel()

	r := parseBody(t, `
BEGIN
  FOR i IN 1 .. 10 LOOP
    NULL;
  END LOOP;

  FOR i IN REVERSE 10 .. 1 BY 2 LOOP
    NULL;
  END LOOP;

  FOR rec IN SELECT id, total FROM orders LOOP
    NULL;
  END LOOP;

  FOR rec IN EXECUTE 'select 1' USING a LOOP
    NULL;
  END LOOP;

  FOR rec IN cur(5) LOOP
    NULL;
  END LOOP;

  FOREACH x SLICE 1 IN ARRAY arr LOOP
    NULL;
  END LOOP;
END;`)

	body := r.Body.Body
	require.Len(t, body, 6)

	fi, ok := body[0].(*plcheck.StmtForI)
	require.True(t, ok)
	assert.Equal(t, "i", fi.Var)
	assert.False(t, fi.Reverse)
	assert.Nil(t, fi.Step)

	rev, ok := body[1].(*plcheck.StmtForI)
	require.True(t, ok)
	assert.True(t, rev.Reverse)
	require.NotNil(t, rev.Step)

	fq, ok := body[2].(*plcheck.StmtForQuery)
	require.True(t, ok)
	require.NotNil(t, fq.Query)
	assert.Equal(t, "SELECT id, total FROM orders", fq.Query.Text)
	require.Len(t, fq.Targets, 1)

	fe, ok := body[3].(*plcheck.StmtForQuery)
	require.True(t, ok)
	require.NotNil(t, fe.Dynamic)
	require.Len(t, fe.Using, 1)

	fc, ok := body[4].(*plcheck.StmtForCursor)
	require.True(t, ok)
	assert.Equal(t, "cur", fc.Cursor)
	require.Len(t, fc.Args, 1)

	fa, ok := body[5].(*plcheck.StmtForeach)
	require.True(t, ok)
	assert.Equal(t, 1, fa.Slice)
}

func TestParse_RaiseForms(t *testing.T) {
	t.Parallel()

	r := parseBody(t, `
BEGIN
  RAISE NOTICE 'value is %', v;
  RAISE EXCEPTION 'bad %', v USING HINT = 'try again', ERRCODE = 'P0001';
  RAISE division_by_zero;
  RAISE SQLSTATE '22012';
  RAISE;
END;`)

	body := r.Body.Body
	require.Len(t, body, 5)

	n := body[0].(*plcheck.StmtRaise)
	assert.Equal(t, "NOTICE", n.Level)
	assert.True(t, n.HasFormat)
	assert.Equal(t, "value is %", n.Format)
	require.Len(t, n.Params, 1)

	e := body[1].(*plcheck.StmtRaise)
	assert.Equal(t, "EXCEPTION", e.Level)
	require.Len(t, e.Options, 2)
	assert.Equal(t, "hint", e.Options[0].Name)
	assert.Equal(t, "errcode", e.Options[1].Name)

	cond := body[2].(*plcheck.StmtRaise)
	assert.Equal(t, "division_by_zero", cond.CondName)

	st := body[3].(*plcheck.StmtRaise)
	assert.Equal(t, "22012", st.SQLState)

	bare := body[4].(*plcheck.StmtRaise)
	assert.False(t, bare.HasFormat)
	assert.Empty(t, bare.CondName)
}

func TestParse_CursorStatements(t *testing.T) {
	t.Parallel()

	r := parseBody(t, `
BEGIN
  OPEN cur (lim := 10);
  OPEN c2 FOR SELECT * FROM t;
  OPEN c3 FOR EXECUTE 'select 1' USING x;
  FETCH NEXT FROM cur INTO v;
  MOVE FORWARD 2 FROM cur;
  CLOSE cur;
END;`)

	body := r.Body.Body
	require.Len(t, body, 6)

	open := body[0].(*plcheck.StmtOpen)
	assert.Equal(t, "cur", open.Cursor)
	require.Len(t, open.Args, 1)
	assert.Equal(t, []string{"lim"}, open.ArgNames)

	forQuery := body[1].(*plcheck.StmtOpen)
	require.NotNil(t, forQuery.Query)

	dyn := body[2].(*plcheck.StmtOpen)
	require.NotNil(t, dyn.Dynamic)
	require.Len(t, dyn.Using, 1)

	fetch := body[3].(*plcheck.StmtFetch)
	assert.False(t, fetch.IsMove)
	assert.Equal(t, "NEXT", fetch.Direction)
	require.Len(t, fetch.Into, 1)

	move := body[4].(*plcheck.StmtFetch)
	assert.True(t, move.IsMove)
	assert.Equal(t, "FORWARD", move.Direction)
	require.NotNil(t, move.Count)

	cl := body[5].(*plcheck.StmtClose)
	assert.Equal(t, "cur", cl.Cursor)
}

func TestParse_ExceptionHandlers(t *testing.T) {
	t.Parallel()

	r := parseBody(t, `
BEGIN
  x := 1;
EXCEPTION
  WHEN division_by_zero OR SQLSTATE '22012' THEN
    x := 0;
  WHEN OTHERS THEN
    RAISE;
END;`)

	require.Len(t, r.Body.Handlers, 2)

	h := r.Body.Handlers[0]
	assert.Equal(t, []string{"division_by_zero", "sqlstate 22012"}, h.Conditions)
	require.Len(t, h.Body, 1)

	assert.Equal(t, []string{"others"}, r.Body.Handlers[1].Conditions)
}

func TestParse_DynamicSQL(t *testing.T) {
	t.Parallel()

	r := parseBody(t, `
BEGIN
  EXECUTE 'update t set x = $1' USING v;
  EXECUTE format('select * from %I', tbl) INTO rec;
  GET DIAGNOSTICS n = ROW_COUNT;
  GET STACKED DIAGNOSTICS msg = MESSAGE_TEXT, code = RETURNED_SQLSTATE;
END;`)

	body := r.Body.Body
	require.Len(t, body, 4)

	ex := body[0].(*plcheck.StmtExecute)
	require.Len(t, ex.Using, 1)
	assert.Nil(t, ex.Into)

	ex2 := body[1].(*plcheck.StmtExecute)
	require.NotNil(t, ex2.Into)

	call, ok := ex2.Query.(*plcheck.CallExpr)
	require.True(t, ok)
	assert.Equal(t, "format", call.FuncName())

	gd := body[2].(*plcheck.StmtGetDiag)
	assert.False(t, gd.Stacked)
	require.Len(t, gd.Items, 1)
	assert.Equal(t, "row_count", gd.Items[0].Item)

	gd2 := body[3].(*plcheck.StmtGetDiag)
	assert.True(t, gd2.Stacked)
	require.Len(t, gd2.Items, 2)
}

func TestParse_ReturnForms(t *testing.T) {
	t.Parallel()

	r := parseBody(t, `
BEGIN
  RETURN NEXT v;
  RETURN QUERY SELECT * FROM t;
  RETURN QUERY EXECUTE 'select 1';
  RETURN v + 1;
  RETURN;
END;`)

	body := r.Body.Body
	require.Len(t, body, 5)

	_, ok := body[0].(*plcheck.StmtReturnNext)
	require.True(t, ok)

	rq := body[1].(*plcheck.StmtReturnQuery)
	require.NotNil(t, rq.Query)

	rqe := body[2].(*plcheck.StmtReturnQuery)
	require.NotNil(t, rqe.Dynamic)

	ret := body[3].(*plcheck.StmtReturn)
	require.NotNil(t, ret.Value)

	bare := body[4].(*plcheck.StmtReturn)
	assert.Nil(t, bare.Value)
}

func TestParse_Perform(t *testing.T) {
	t.Parallel()

	r := parseBody(t, `
BEGIN
  PERFORM pg_notify('chan', payload);
  PERFORM id FROM t WHERE x > 0;
END;`)

	body := r.Body.Body
	require.Len(t, body, 2)

	p1 := body[0].(*plcheck.StmtPerform)
	require.NotNil(t, p1.Expr, "single-expression tail keeps its parsed form")

	call, ok := p1.Expr.(*plcheck.CallExpr)
	require.True(t, ok)
	assert.Equal(t, "pg_notify", call.FuncName())

	p2 := body[1].(*plcheck.StmtPerform)
	assert.Nil(t, p2.Expr)
	assert.Equal(t, "id FROM t WHERE x > 0", p2.SQL.Text)
}

func TestParse_ExpressionPrecedence(t *testing.T) {
	t.Parallel()

	r := parseBody(t, `
BEGIN
  RETURN 1 + 2 * 3;
END;`)

	ret := r.Body.Body[0].(*plcheck.StmtReturn)

	sum, ok := ret.Value.(*plcheck.BinaryExpr)
	require.True(t, ok)
	assert.Equal(t, "+", sum.Op)

	prod, ok := sum.R.(*plcheck.BinaryExpr)
	require.True(t, ok)
	assert.Equal(t, "*", prod.Op)
}

func TestParse_Expressions(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		expr string
		want string
	}{
		{"cast postfix", "v::numeric", "v::numeric"},
		{"cast call", "cast(v AS numeric)", "v::numeric"},
		{"is null", "v IS NOT NULL", "v IS NOT NULL"},
		{"between", "v BETWEEN 1 AND 10", "v BETWEEN 1 AND 10"},
		{"in list", "v IN (1, 2, 3)", "v IN (1, 2, 3)"},
		{"array", "ARRAY[1, 2]", "ARRAY[1, 2]"},
		{"subscript", "arr[i]", "arr[i]"},
		{"case", "CASE WHEN a THEN 1 ELSE 2 END", "CASE WHEN a THEN 1 ELSE 2 END"},
		{"concat", "a || b", "a || b"},
		{"qualified", "rec.total", "rec.total"},
		{"param", "$1 + $2", "$1 + $2"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			r := parseBody(t, "BEGIN\n  RETURN "+tt.expr+";\nEND;")
			ret := r.Body.Body[0].(*plcheck.StmtReturn)
			assert.Equal(t, tt.want, ret.Value.String())
		})
	}
}

func TestParse_StatementNumbering(t *testing.T) {
	t.Parallel()

	r := parseBody(t, `
BEGIN
  x := 1;
  IF a THEN
    y := 2;
  END IF;
END;`)

	// Depth-first pre-order: block, assignment, IF, nested assignment.
	assert.Equal(t, 4, r.NumStmts)
	assert.Equal(t, 1, r.Body.StmtID())
	assert.Equal(t, 2, r.Body.Body[0].StmtID())
	assert.Equal(t, 3, r.Body.Body[1].StmtID())

	ifStmt := r.Body.Body[1].(*plcheck.StmtIf)
	assert.Equal(t, 4, ifStmt.Then[0].StmtID())
}

func TestParse_NestedBlocks(t *testing.T) {
	t.Parallel()

	r := parseBody(t, `
<<outer>>
DECLARE
  x int;
BEGIN
  DECLARE
    y int;
  BEGIN
    y := x;
  END;
END outer;`)

	assert.Equal(t, "outer", r.Body.Label)
	require.Len(t, r.Body.Body, 1)

	inner, ok := r.Body.Body[0].(*plcheck.Block)
	require.True(t, ok)
	require.Len(t, inner.Decls, 1)
}

func TestParseFile_MultipleRoutines(t *testing.T) {
	t.Parallel()

	src := `
CREATE FUNCTION f() RETURNS int AS $$ BEGIN RETURN 1; END; $$ LANGUAGE plpgsql;

CREATE PROCEDURE p() AS $$ BEGIN COMMIT; END; $$ LANGUAGE plpgsql;
`

	routines, err := plcheck.ParseFile("test.sql", src)
	require.NoError(t, err)
	require.Len(t, routines, 2)

	assert.Equal(t, "f", routines[0].Name)
	assert.Equal(t, plcheck.KindFunction, routines[0].Kind)
	assert.Equal(t, "p", routines[1].Name)
	assert.Equal(t, plcheck.KindProcedure, routines[1].Kind)
}

func TestParse_Errors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		src  string
	}{
		{"missing semicolon", "BEGIN x := 1 END;"},
		{"label mismatch", "<<a>>\nBEGIN\n  NULL;\nEND b;"},
		{"reverse outside range", "BEGIN\n  FOR i IN REVERSE cur LOOP NULL; END LOOP;\nEND;"},
		{"unterminated if", "BEGIN\n  IF a THEN x := 1;\nEND;"},
		{"garbage", "BEGIN\n  ???;\nEND;"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			_, err := plcheck.ParseRoutine("test.sql", tt.src)
			require.Error(t, err)
		})
	}
}

func TestParseFile_SyntaxErrorReturnsError(t *testing.T) {
	t.Parallel()

	routines, err := plcheck.ParseFile("test.sql", "BEGIN x := 1 END;")
	require.Error(t, err)
	assert.Nil(t, routines)

	var perr *plcheck.ParseError
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, 1, perr.Pos.Line)
}

func TestParseRoutine_SyntaxErrorReturnsError(t *testing.T) {
	t.Parallel()

	r, err := plcheck.ParseRoutine("test.sql",
		"CREATE FUNCTION f() RETURNS int AS $$ BEGIN RETURN 1 END; $$;")
	require.Error(t, err)
	assert.Nil(t, r)

	var perr *plcheck.ParseError
	require.ErrorAs(t, err, &perr)
}
