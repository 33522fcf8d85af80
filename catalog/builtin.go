package catalog

import "github.com/plcheck/plcheck"

// typeAliases maps alternate spellings to canonical type names.
var typeAliases = map[string]string{
	"int":     "integer",
	"int2":    "smallint",
	"int4":    "integer",
	"int8":    "bigint",
	"serial":  "integer",
	"float4":  "real",
	"float8":  "double precision",
	"float":   "double precision",
	"decimal": "numeric",
	"bool":    "boolean",
	"character": "char",
	"character varying": "varchar",
	"timestamp without time zone": "timestamp",
	"timestamp with time zone":    "timestamptz",
	"time without time zone":      "time",
	"time with time zone":         "timetz",
}

var builtinTypeNames = []string{
	"smallint", "integer", "bigint", "numeric", "real", "double precision",
	"money", "oid", "regclass",
	"text", "varchar", "char", "bpchar", "name",
	"boolean",
	"date", "timestamp", "timestamptz", "time", "timetz", "interval",
	"uuid", "bytea", "json", "jsonb", "xml",
	"inet", "cidr", "macaddr",
	"refcursor", "tsvector", "tsquery", "void",
}

func (m *Memory) seedTypes() {
	for _, name := range builtinTypeNames {
		m.types[name] = plcheck.Concrete(name)
	}

	m.types["record"] = plcheck.RecordType()

	for _, poly := range []string{"anyelement", "anyarray", "anycompatible"} {
		m.types[poly] = plcheck.Poly(poly)
	}
}

// seedFunctions registers the builtin function surface the checker cares
// about. This is deliberately a small slice of the real catalog: enough for
// common routine bodies, with unlisted functions typed as Unknown by the
// expression checker rather than reported missing.
func (m *Memory) seedFunctions() {
	text := m.types["text"]
	integer := m.types["integer"]
	bigint := m.types["bigint"]
	numeric := m.types["numeric"]
	boolean := m.types["boolean"]
	timestamptz := m.types["timestamptz"]
	double := m.types["double precision"]
	anyT := m.types["anyelement"]
	anyArr := m.types["anyarray"]

	add := func(name string, result *plcheck.Type, args ...*plcheck.Type) {
		m.AddFunction(&Function{Name: name, Args: args, Result: result})
	}

	// format has a required format string plus any number of values.
	m.AddFunction(&Function{
		Name: "format", Args: []*plcheck.Type{text, nil}, Variadic: true, Result: text,
	})
	m.AddFunction(&Function{
		Name: "concat", Args: []*plcheck.Type{nil}, Variadic: true, Result: text,
	})
	m.AddFunction(&Function{
		Name: "concat_ws", Args: []*plcheck.Type{text, nil}, Variadic: true, Result: text,
	})
	m.AddFunction(&Function{
		Name: "coalesce", Args: []*plcheck.Type{anyT}, Variadic: true, Result: anyT,
	})
	m.AddFunction(&Function{
		Name: "nullif", Args: []*plcheck.Type{anyT, anyT}, Result: anyT,
	})
	m.AddFunction(&Function{
		Name: "greatest", Args: []*plcheck.Type{anyT}, Variadic: true, Result: anyT,
	})
	m.AddFunction(&Function{
		Name: "least", Args: []*plcheck.Type{anyT}, Variadic: true, Result: anyT,
	})

	add("length", integer, text)
	add("char_length", integer, text)
	add("lower", text, text)
	add("upper", text, text)
	add("trim", text, text)
	add("btrim", text, text)
	add("ltrim", text, text)
	add("rtrim", text, text)
	add("substring", text, text)
	add("substr", text, text, integer)
	add("replace", text, text, text, text)
	add("split_part", text, text, text, integer)
	add("position", integer, text, text)
	add("strpos", integer, text, text)
	add("left", text, text, integer)
	add("right", text, text, integer)
	add("repeat", text, text, integer)
	add("md5", text, text)
	add("quote_ident", text, text)
	add("quote_literal", text, nil)
	add("quote_nullable", text, nil)
	add("to_char", text, nil, text)
	add("to_number", numeric, text, text)
	add("to_date", m.types["date"], text, text)
	add("to_timestamp", timestamptz, nil)

	add("abs", numeric, numeric)
	add("ceil", numeric, numeric)
	add("ceiling", numeric, numeric)
	add("floor", numeric, numeric)
	add("round", numeric, numeric)
	add("trunc", numeric, numeric)
	add("sign", numeric, numeric)
	add("sqrt", double, double)
	add("power", double, double, double)
	add("mod", numeric, numeric, numeric)
	add("random", double)
	add("exp", double, double)
	add("ln", double, double)
	add("log", double, double)

	add("now", timestamptz)
	add("clock_timestamp", timestamptz)
	add("statement_timestamp", timestamptz)
	add("transaction_timestamp", timestamptz)
	add("current_timestamp", timestamptz)
	add("age", m.types["interval"], timestamptz, timestamptz)
	add("date_trunc", timestamptz, text, timestamptz)
	add("date_part", double, text, nil)
	add("extract", double, text, nil)
	add("make_interval", m.types["interval"])

	add("array_length", integer, anyArr, integer)
	add("array_upper", integer, anyArr, integer)
	add("array_lower", integer, anyArr, integer)
	add("cardinality", integer, anyArr)
	add("array_append", anyArr, anyArr, anyT)
	add("array_prepend", anyArr, anyT, anyArr)
	add("array_cat", anyArr, anyArr, anyArr)
	add("array_to_string", text, anyArr, text)
	add("string_to_array", Array(text), text, text)
	add("unnest", anyT, anyArr)

	add("count", bigint, nil)
	add("sum", numeric, nil)
	add("avg", numeric, nil)
	add("min", anyT, anyT)
	add("max", anyT, anyT)
	add("string_agg", text, text, text)
	add("array_agg", anyArr, anyT)

	add("exists", boolean, nil)
	add("pg_notify", m.types["void"], text, text)
	add("pg_sleep", m.types["void"], double)
	add("pg_advisory_lock", m.types["void"], bigint)
	add("pg_advisory_unlock", boolean, bigint)
	add("pg_typeof", m.types["regclass"], nil)
	add("pg_backend_pid", integer)
	add("txid_current", bigint)
	add("gen_random_uuid", m.types["uuid"])
	add("current_setting", text, text)
	add("set_config", text, text, text, boolean)

	add("jsonb_build_object", m.types["jsonb"])
	add("json_build_object", m.types["json"])
	add("to_jsonb", m.types["jsonb"], anyT)
	add("to_json", m.types["json"], anyT)
	add("jsonb_array_length", integer, m.types["jsonb"])
	add("row_to_json", m.types["json"], nil)
}

// Array derives the array type of a scalar element type.
func Array(elem *plcheck.Type) *plcheck.Type {
	if elem == nil || elem.Kind != plcheck.KindConcrete {
		return plcheck.Unknown
	}

	return plcheck.ConcreteArray(elem.Name)
}
