package sqlscan_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/plcheck/plcheck"
	"github.com/plcheck/plcheck/catalog"
	"github.com/plcheck/plcheck/sqlscan"
)

func scan(t *testing.T, sql string) *sqlscan.Stmt {
	t.Helper()

	s, err := sqlscan.Scan(sql)
	require.NoError(t, err)

	return s
}

func TestScan_Kinds(t *testing.T) {
	t.Parallel()

	tests := []struct {
		sql  string
		kind sqlscan.Kind
	}{
		{"SELECT 1", sqlscan.KindSelect},
		{"INSERT INTO t (a) VALUES (1)", sqlscan.KindInsert},
		{"UPDATE t SET a = 1", sqlscan.KindUpdate},
		{"DELETE FROM t WHERE a = 1", sqlscan.KindDelete},
		{"TRUNCATE t", sqlscan.KindOther},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.kind, scan(t, tt.sql).Kind, tt.sql)
	}
}

func TestScan_Tables(t *testing.T) {
	t.Parallel()

	s := scan(t, "SELECT o.id FROM public.orders o")
	require.Len(t, s.Tables, 1)
	assert.Equal(t, "public.orders", s.Tables[0].Name)
	assert.Equal(t, "o", s.Tables[0].Alias)

	s = scan(t, "DELETE FROM audit_log WHERE at < now()")
	require.Len(t, s.Tables, 1)
	assert.Equal(t, "audit_log", s.Tables[0].Name)

	s = scan(t, "INSERT INTO orders (id) VALUES ($1)")
	require.Len(t, s.Tables, 1)
	assert.Equal(t, "orders", s.Tables[0].Name)
	assert.Equal(t, 1, s.MaxParam)
}

func TestScan_Columns(t *testing.T) {
	t.Parallel()

	s := scan(t, "SELECT id, o.total, count(*) AS n, 1 + 2 FROM orders o")
	require.Len(t, s.Columns, 4)

	assert.Equal(t, "id", s.Columns[0].Name)
	assert.Equal(t, "total", s.Columns[1].Name)
	assert.Equal(t, "n", s.Columns[2].Name)
	assert.Empty(t, s.Columns[3].Name, "arithmetic item has no derivable name")

	star := scan(t, "SELECT * FROM orders")
	require.Len(t, star.Columns, 1)
	assert.True(t, star.HasStar())
}

func TestScan_Refs(t *testing.T) {
	t.Parallel()

	s := scan(t, "SELECT total FROM orders WHERE id = oid AND status = v_status")

	names := make(map[string]bool)
	for _, r := range s.Refs {
		names[r.Parts[len(r.Parts)-1]] = true
	}

	assert.True(t, names["total"])
	assert.True(t, names["oid"])
	assert.True(t, names["v_status"])
	assert.False(t, names["orders"], "relation names are not references")
}

func TestScan_Params(t *testing.T) {
	t.Parallel()

	s := scan(t, "SELECT $1, $3 WHERE $2 > 0")
	assert.Equal(t, 3, s.MaxParam)
}

func TestResultType(t *testing.T) {
	t.Parallel()

	m, err := catalog.LoadSchema([]byte(`
tables:
  - name: orders
    columns:
      - {name: id, type: bigint}
      - {name: total, type: numeric}
`))
	require.NoError(t, err)

	s := scan(t, "SELECT id, total FROM orders")
	row := s.ResultType(m)
	require.Equal(t, plcheck.KindRow, row.Kind)
	require.Len(t, row.Fields, 2)
	assert.Equal(t, "bigint", row.Fields[0].Type.Name)
	assert.Equal(t, "numeric", row.Fields[1].Type.Name)

	star := scan(t, "SELECT * FROM orders")
	row = star.ResultType(m)
	require.Len(t, row.Fields, 2)
	assert.Equal(t, "id", row.Fields[0].Name)

	unknown := scan(t, "SELECT mystery FROM not_in_catalog")
	row = unknown.ResultType(m)
	require.Len(t, row.Fields, 1)
	assert.True(t, row.Fields[0].Type.IsUnknown())
}
