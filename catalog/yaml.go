package catalog

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/plcheck/plcheck"
)

// ErrUnknownColumnType marks a schema file referencing a type the catalog
// cannot resolve.
var ErrUnknownColumnType = errors.New("unknown type in schema")

// SchemaFile is the on-disk schema description. It feeds a Memory catalog
// with the relations, composite types and routines the checked code may
// reference.
type SchemaFile struct {
	Tables    []SchemaTable    `yaml:"tables,omitempty"`
	Types     []SchemaType     `yaml:"types,omitempty"`
	Functions []SchemaFunction `yaml:"functions,omitempty"`
}

// SchemaTable describes one relation.
type SchemaTable struct {
	Schema  string         `yaml:"schema,omitempty"`
	Name    string         `yaml:"name"`
	Columns []SchemaColumn `yaml:"columns"`
}

// SchemaColumn describes one column; Type uses SQL names (integer, text,
// numeric, timestamptz, ...). A trailing "[]" makes it an array column.
type SchemaColumn struct {
	Name    string `yaml:"name"`
	Type    string `yaml:"type"`
	NotNull bool   `yaml:"notnull,omitempty"`
}

// SchemaType describes a composite type.
type SchemaType struct {
	Name   string         `yaml:"name"`
	Fields []SchemaColumn `yaml:"fields"`
}

// SchemaFunction describes a routine signature.
type SchemaFunction struct {
	Name     string   `yaml:"name"`
	Args     []string `yaml:"args,omitempty"`
	Variadic bool     `yaml:"variadic,omitempty"`
	Returns  string   `yaml:"returns,omitempty"`
	SetOf    bool     `yaml:"setof,omitempty"`
}

// LoadSchemaFile reads a YAML schema file into a fresh Memory catalog.
func LoadSchemaFile(path string) (*Memory, error) {
	data, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return nil, err
	}

	return LoadSchema(data)
}

// LoadSchema builds a Memory catalog from YAML schema bytes.
func LoadSchema(data []byte) (*Memory, error) {
	var file SchemaFile

	err := yaml.Unmarshal(data, &file)
	if err != nil {
		return nil, err
	}

	m := NewMemory()

	err = m.ApplySchema(&file)
	if err != nil {
		return nil, err
	}

	return m, nil
}

// ApplySchema adds the schema file's contents to the catalog. Composite
// types load before tables so table columns may use them.
func (m *Memory) ApplySchema(file *SchemaFile) error {
	for _, st := range file.Types {
		fields, err := m.resolveColumns(st.Name, st.Fields)
		if err != nil {
			return err
		}

		rowFields := make([]plcheck.RowField, len(fields))
		for i, c := range fields {
			rowFields[i] = plcheck.RowField{Name: c.Name, Type: c.Type}
		}

		m.AddCompositeType(st.Name, rowFields)
	}

	for _, st := range file.Tables {
		cols, err := m.resolveColumns(st.Name, st.Columns)
		if err != nil {
			return err
		}

		m.AddTable(&Table{Schema: st.Schema, Name: st.Name, Columns: cols})
	}

	for _, sf := range file.Functions {
		f := &Function{Name: sf.Name, Variadic: sf.Variadic, SetOf: sf.SetOf}

		for _, arg := range sf.Args {
			t, err := m.schemaType(sf.Name, arg)
			if err != nil {
				return err
			}

			f.Args = append(f.Args, t)
		}

		if sf.Returns == "" {
			f.Result = plcheck.Unknown
		} else {
			t, err := m.schemaType(sf.Name, sf.Returns)
			if err != nil {
				return err
			}

			f.Result = t
		}

		m.AddFunction(f)
	}

	return nil
}

func (m *Memory) resolveColumns(owner string, cols []SchemaColumn) ([]*Column, error) {
	out := make([]*Column, len(cols))

	for i, c := range cols {
		t, err := m.schemaType(owner, c.Type)
		if err != nil {
			return nil, err
		}

		out[i] = &Column{Name: c.Name, Type: t, NotNull: c.NotNull}
	}

	return out, nil
}

func (m *Memory) schemaType(owner, name string) (*plcheck.Type, error) {
	array := false

	if len(name) > 2 && name[len(name)-2:] == "[]" {
		array = true
		name = name[:len(name)-2]
	}

	t, ok := m.LookupType(name)
	if !ok {
		return nil, fmt.Errorf("%w: %q (in %q)", ErrUnknownColumnType, name, owner)
	}

	if array {
		return Array(t), nil
	}

	return t, nil
}
