package catalog_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/plcheck/plcheck"
	"github.com/plcheck/plcheck/catalog"
)

func TestMemory_LookupType(t *testing.T) {
	t.Parallel()

	m := catalog.NewMemory()

	tests := []struct {
		name string
		want string
	}{
		{"integer", "integer"},
		{"int", "integer"},
		{"int4", "integer"},
		{"int8", "bigint"},
		{"bool", "boolean"},
		{"float8", "double precision"},
		{"decimal", "numeric"},
		{"text", "text"},
		{"refcursor", "refcursor"},
	}

	for _, tt := range tests {
		got, ok := m.LookupType(tt.name)
		require.True(t, ok, "type %q", tt.name)
		assert.Equal(t, tt.want, got.Name)
	}

	_, ok := m.LookupType("no_such_type")
	assert.False(t, ok)
}

func TestMemory_CanCoerce(t *testing.T) {
	t.Parallel()

	m := catalog.NewMemory()

	typ := func(name string) *plcheck.Type {
		tt, ok := m.LookupType(name)
		require.True(t, ok)

		return tt
	}

	tests := []struct {
		from, to string
		want     bool
	}{
		{"integer", "integer", true},
		{"integer", "bigint", true},
		{"numeric", "integer", true},
		{"integer", "text", true},
		{"text", "timestamp", true},
		{"text", "uuid", true},
		{"boolean", "integer", false},
		{"date", "integer", false},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, m.CanCoerce(typ(tt.from), typ(tt.to)),
			"%s -> %s", tt.from, tt.to)
	}

	assert.True(t, m.CanCoerce(plcheck.Unknown, typ("integer")))
	assert.True(t, m.CanCoerce(typ("integer"), plcheck.Unknown))
	assert.True(t, m.CanCoerce(plcheck.RecordType(), plcheck.Row("t", nil)))
	assert.False(t, m.CanCoerce(plcheck.RecordType(), typ("integer")))
}

func TestMemory_ResolveOperator(t *testing.T) {
	t.Parallel()

	m := catalog.NewMemory()

	typ := func(name string) *plcheck.Type {
		tt, ok := m.LookupType(name)
		require.True(t, ok)

		return tt
	}

	res, ok := m.ResolveOperator("+", typ("integer"), typ("numeric"))
	require.True(t, ok)
	assert.Equal(t, "numeric", res.Name)

	res, ok = m.ResolveOperator("=", typ("integer"), typ("bigint"))
	require.True(t, ok)
	assert.Equal(t, "boolean", res.Name)

	res, ok = m.ResolveOperator("||", typ("text"), typ("integer"))
	require.True(t, ok)
	assert.Equal(t, "text", res.Name)

	res, ok = m.ResolveOperator("-", typ("date"), typ("integer"))
	require.True(t, ok)
	assert.Equal(t, "date", res.Name)

	_, ok = m.ResolveOperator("+", typ("boolean"), typ("integer"))
	assert.False(t, ok)

	res, ok = m.ResolveOperator("+", plcheck.Unknown, typ("integer"))
	require.True(t, ok)
	assert.True(t, res.IsUnknown())
}

func TestMemory_Routines(t *testing.T) {
	t.Parallel()

	m := catalog.NewMemory()

	f, ok := m.LookupRoutine("format", 3)
	require.True(t, ok)
	assert.True(t, f.Variadic)
	assert.Equal(t, "text", f.Result.Name)

	_, ok = m.LookupRoutine("format", 0)
	assert.False(t, ok, "format needs at least the format string")

	f, ok = m.LookupRoutine("length", 1)
	require.True(t, ok)
	assert.Equal(t, "integer", f.Result.Name)

	_, ok = m.LookupRoutine("no_such_function", 1)
	assert.False(t, ok)
}

const schemaYAML = `
types:
  - name: money_pair
    fields:
      - {name: gross, type: numeric}
      - {name: net, type: numeric}

tables:
  - name: orders
    columns:
      - {name: id, type: bigint, notnull: true}
      - {name: customer, type: text}
      - {name: total, type: numeric}
      - {name: tags, type: "text[]"}
  - schema: audit
    name: events
    columns:
      - {name: at, type: timestamptz}

functions:
  - name: order_total
    args: [bigint]
    returns: numeric
`

func TestLoadSchema(t *testing.T) {
	t.Parallel()

	m, err := catalog.LoadSchema([]byte(schemaYAML))
	require.NoError(t, err)

	orders, ok := m.LookupTable("orders")
	require.True(t, ok)
	require.Len(t, orders.Columns, 4)
	assert.Equal(t, "bigint", orders.Columns[0].Type.Name)
	assert.True(t, orders.Columns[0].NotNull)
	assert.True(t, orders.Columns[3].Type.Array)

	_, ok = m.LookupTable("audit.events")
	assert.True(t, ok)

	row, ok := m.ExpandRowType("orders")
	require.True(t, ok)
	assert.Equal(t, plcheck.KindRow, row.Kind)

	total, ok := row.Field("total")
	require.True(t, ok)
	assert.Equal(t, "numeric", total.Name)

	pair, ok := m.LookupType("money_pair")
	require.True(t, ok)
	assert.Equal(t, plcheck.KindRow, pair.Kind)

	f, ok := m.LookupRoutine("order_total", 1)
	require.True(t, ok)
	assert.Equal(t, "numeric", f.Result.Name)
}

func TestLoadSchema_UnknownType(t *testing.T) {
	t.Parallel()

	_, err := catalog.LoadSchema([]byte(`
tables:
  - name: t
    columns:
      - {name: c, type: made_up}
`))
	require.ErrorIs(t, err, catalog.ErrUnknownColumnType)
}
